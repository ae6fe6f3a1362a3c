package store

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// lockConfig controls how long acquireLock waits for a sibling ".lock" file.
type lockConfig struct {
	attempts   int
	delay      time.Duration
	staleAfter time.Duration
}

var defaultLockConfig = lockConfig{
	attempts:   50,
	delay:      100 * time.Millisecond,
	staleAfter: 30 * time.Second,
}

// fileLock is an exclusive, cross-process lock on a store file, held as a
// sibling file created with O_EXCL.
type fileLock struct {
	f    *os.File
	path string
}

// acquireLock locks target by creating target+".lock". A lock file older
// than cfg.staleAfter is assumed abandoned and removed.
func acquireLock(target string, cfg lockConfig) (*fileLock, error) {
	lockPath := target + ".lock"

	for i := 0; i < cfg.attempts; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// PID for whoever has to debug a stuck lock
			fmt.Fprintf(f, "%d", os.Getpid())
			return &fileLock{f: f, path: lockPath}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to acquire file lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil &&
			time.Since(info.ModTime()) > cfg.staleAfter {
			if remErr := os.Remove(lockPath); remErr != nil && !errors.Is(remErr, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to remove stale lock file %s: %w", lockPath, remErr)
			}
			continue
		}

		time.Sleep(cfg.delay)
	}

	return nil, fmt.Errorf(
		"timeout waiting for file lock after %v",
		time.Duration(cfg.attempts)*cfg.delay,
	)
}

// release closes and removes the lock file. Releasing twice returns the
// os.Remove error of the second call.
func (l *fileLock) release() error {
	if l.f != nil {
		l.f.Close()
		l.f = nil
	}
	return os.Remove(l.path)
}
