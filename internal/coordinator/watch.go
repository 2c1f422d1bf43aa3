package coordinator

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"autoqc/internal/fileutil"
	"autoqc/internal/logging"
	"autoqc/internal/services"
)

// dirWatch is the recursive fsnotify watch on the acquisition tree.
type dirWatch struct {
	fs   *fsnotify.Watcher
	done chan struct{}
	once sync.Once
}

// Close stops the watch and waits for its goroutine.
func (d *dirWatch) Close() {
	d.once.Do(func() {
		_ = d.fs.Close()
		<-d.done
	})
}

func (c *Coordinator) startWatch(ctx context.Context) (*dirWatch, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "coordinator", "create directory watch", "", err)
	}
	// Files created before the watch was registered are picked up by the scan.
	if err := c.scan(fw, c.opts.AcquisitionPath, true); err != nil {
		_ = fw.Close()
		return nil, err
	}
	d := &dirWatch{fs: fw, done: make(chan struct{})}
	go c.watchLoop(ctx, d)
	logging.WithContext(ctx, c.logger).Info("watching acquisition directory",
		logging.String("acquisition_path", c.opts.AcquisitionPath),
		logging.Int("watched_dirs", len(fw.WatchList())),
		logging.String(logging.FieldEventType, "directory_watch_started"),
	)
	return d, nil
}

func (c *Coordinator) watchLoop(ctx context.Context, d *dirWatch) {
	defer close(d.done)
	logger := logging.WithContext(ctx, c.logger)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-d.fs.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			c.handleCreate(d.fs, event.Name)
		case err, ok := <-d.fs.Errors:
			if !ok {
				return
			}
			logging.WarnWithContext(logger, "directory watch error", "directory_watch_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "raise fs.inotify.max_user_watches if events overflow"),
				logging.String(logging.FieldImpact, "a sample file may be missed until the run is restarted"),
			)
		}
	}
}

func (c *Coordinator) handleCreate(fw *fsnotify.Watcher, path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if id, ok := c.match(filepath.Base(path)); ok {
		c.observe(id, path, true)
		return
	}
	if info.IsDir() {
		if err := c.scan(fw, path, true); err != nil {
			c.logger.Warn("failed to watch new directory",
				logging.String("path", path),
				logging.Error(err),
				logging.String(logging.FieldEventType, "directory_watch_add_failed"),
			)
		}
	}
}

// scan walks root, registering directories with fw when non-nil and
// recording every expected sample file found. Sample bundles (directories
// named like a sample) are not descended into.
func (c *Coordinator) scan(fw *fsnotify.Watcher, root string, enqueue bool) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if path != root {
			if id, ok := c.match(d.Name()); ok {
				c.observe(id, path, enqueue)
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		if d.IsDir() && fw != nil {
			if err := fw.Add(path); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrConfiguration, "coordinator", "scan acquisition directory", root, err)
	}
	if errors.Is(err, fs.ErrNotExist) && fw != nil {
		return services.Wrap(services.ErrNotFound, "coordinator", "watch acquisition directory", root, err)
	}
	return nil
}

// match maps a file name to an expected sample id.
func (c *Coordinator) match(name string) (string, bool) {
	if len(c.opts.Extensions) > 0 {
		ext := strings.ToLower(filepath.Ext(name))
		allowed := false
		for _, want := range c.opts.Extensions {
			if strings.EqualFold(want, ext) {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", false
		}
	}
	id := fileutil.StripExtension(name)
	if _, ok := c.index[id]; !ok {
		return "", false
	}
	return id, true
}

// observe records a sample file location and queues a watch cycle for it
// when it is still unprocessed and not already queued.
func (c *Coordinator) observe(sampleID, path string, enqueue bool) {
	c.mu.Lock()
	c.paths[sampleID] = path
	c.mu.Unlock()
	if enqueue {
		c.enqueue(sampleID, path)
	}
}

func (c *Coordinator) enqueue(sampleID, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[sampleID]; !ok || c.queued[sampleID] {
		return
	}
	c.queued[sampleID] = true
	c.queue <- queuedSample{sampleID: sampleID, path: path}
}
