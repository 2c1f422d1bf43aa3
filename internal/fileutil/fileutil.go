package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Checksum returns the hex SHA-256 digest of a file, or of every regular file
// beneath it when path is a directory (vendor formats such as Agilent .d are
// written as bundles).
func Checksum(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	hasher := sha256.New()
	if !info.IsDir() {
		if err := hashFile(hasher, path); err != nil {
			return "", err
		}
		return hex.EncodeToString(hasher.Sum(nil)), nil
	}

	err = filepath.WalkDir(path, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		_, _ = io.WriteString(hasher, filepath.ToSlash(rel))
		return hashFile(hasher, p)
	})
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func hashFile(w io.Writer, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	return nil
}

// CopyFile streams src to dst (mode 0o644), creating dst's parent directory.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// StripExtension returns the basename of path without directories or extension.
func StripExtension(path string) string {
	base := filepath.Base(strings.TrimRight(path, `/\`))
	return strings.TrimSuffix(base, filepath.Ext(base))
}
