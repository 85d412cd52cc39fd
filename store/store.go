// Package store persists byte payloads atomically.
package store

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	activityindex "github.com/lucasjlepore/activity-index"
)

// SaveOptions controls Save.
type SaveOptions struct {
	// Overwrite allows replacing an existing destination.
	Overwrite bool
	// Verify rereads the written bytes and compares them to the payload
	// before the destination is replaced.
	Verify bool
}

// readBack is swapped in tests to simulate a corrupted write.
var readBack = os.ReadFile

// Save writes payload to a temporary sibling of path and publishes it with a
// rename, so readers never see a partial file. With Overwrite unset an
// existing destination yields *FileExistsError before anything is written.
// Verification runs on the temporary file; on mismatch the temporary file is
// removed and the destination keeps its previous content.
func Save(payload []byte, path string, opts SaveOptions) error {
	if !opts.Overwrite {
		if _, err := os.Stat(path); err == nil {
			return &activityindex.FileExistsError{Path: path}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", path, err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	published := false
	defer func() {
		if !published {
			_ = os.Remove(tmpPath)
		}
	}()

	// CreateTemp opens the file owner-only.
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}

	if opts.Verify {
		got, err := readBack(tmpPath)
		if err != nil {
			return fmt.Errorf("verify %s: %w", path, err)
		}
		if !bytes.Equal(got, payload) {
			return &activityindex.VerificationError{Path: path, Expected: len(payload), Got: len(got)}
		}
	}

	if opts.Overwrite {
		if err := os.Rename(tmpPath, path); err != nil {
			return fmt.Errorf("rename into %s: %w", path, err)
		}
	} else {
		// A hard link fails if the destination appeared since the check.
		if err := os.Link(tmpPath, path); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return &activityindex.FileExistsError{Path: path}
			}
			return fmt.Errorf("link into %s: %w", path, err)
		}
	}
	published = true
	_ = os.Remove(tmpPath) // no-op after rename; drops the link source otherwise

	if opts.Verify {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("verify %s: %w", path, err)
		}
		if info.Size() != int64(len(payload)) {
			return &activityindex.VerificationError{Path: path, Expected: len(payload), Got: int(info.Size())}
		}
	}
	return nil
}

// Load reads a file written by Save.
func Load(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return data, nil
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
