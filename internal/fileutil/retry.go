package fileutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"
)

// RetryPolicy bounds how hard RetryTransient tries before giving up.
type RetryPolicy struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
}

// DefaultRetryPolicy suits a file held open briefly by the acquisition software.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     5 * time.Second,
	}
}

// IsTransient reports whether err looks like a momentary lock or I/O hiccup.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return false
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.EAGAIN, syscall.EBUSY, syscall.EIO, syscall.ETIMEDOUT, syscall.EMFILE:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"resource temporarily unavailable",
		"being used by another process",
		"device or resource busy",
		"i/o error",
		"timed out",
		"too many open files",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// RetryTransient runs op until it succeeds, fails permanently, or the policy
// is exhausted. Waits double between attempts and honour ctx cancellation.
func RetryTransient[T any](ctx context.Context, policy RetryPolicy, op func() (T, error)) (T, error) {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	wait := policy.InitialWait

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err = op()
		if err == nil || !IsTransient(err) {
			return result, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
		wait *= 2
		if policy.MaxWait > 0 && wait > policy.MaxWait {
			wait = policy.MaxWait
		}
	}
	return result, fmt.Errorf("max retries exceeded (%d attempts): %w", policy.MaxAttempts, err)
}
