package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
)

// ErrLocked reports a writer lock held by another process.
var ErrLocked = errors.New("file is locked by another writer")

// Lock takes the single-writer lock for path by exclusively creating
// path+".lock". The returned function releases it.
func Lock(path string) (func() error, error) {
	lockPath := path + ".lock"
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, lockPath)
		}
		return nil, fmt.Errorf("create lock %s: %w", lockPath, err)
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()))
	if err := f.Close(); err != nil {
		_ = os.Remove(lockPath)
		return nil, fmt.Errorf("close lock %s: %w", lockPath, err)
	}
	return func() error {
		if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("release lock %s: %w", lockPath, err)
		}
		return nil
	}, nil
}
