package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
)

// tmpPrefix marks in-flight writes. Listing hides these files and keys may
// not use the prefix for any path segment.
const tmpPrefix = ".s3gw-tmp-"

// SyncDir best-effort fsyncs a directory so that recently renamed files become durable.
// On platforms where directory fsync is unsupported, the error is ignored.
func SyncDir(dir string) error {
	if dir == "" {
		return nil
	}
	if runtime.GOOS == "windows" {
		return nil
	}
	df, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer df.Close()
	if err := df.Sync(); err != nil {
		// tmpfs and some FUSE mounts return EINVAL for directory sync.
		if errors.Is(err, syscall.EINVAL) {
			return nil
		}
		return err
	}
	return nil
}

// EnsureParentDirs creates any missing directories above path. It is idempotent.
func EnsureParentDirs(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		if errors.Is(err, syscall.ENOTDIR) || errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("%w: path component is an existing object", ErrInvalidKey)
		}
		return err
	}
	return nil
}

// AtomicWrite replaces path with data. Readers see either the old or the new
// content; the temporary file is removed on any failure.
func AtomicWrite(path string, data []byte) error {
	if err := EnsureParentDirs(path); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tmpPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return SyncDir(dir)
}

// ReadAll returns the content of path, or ErrNotFound when it does not exist.
func ReadAll(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// DeleteIfExists removes path; absence is not an error.
func DeleteIfExists(path string) error {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return nil
		}
		return err
	}
	return nil
}

// removeEmptyParents walks upward from dir removing empty directories until stop.
func removeEmptyParents(dir, stop string) {
	for {
		if dir == stop || dir == "/" || dir == "." || dir == "" {
			return
		}
		if len(dir) <= len(stop) {
			return
		}
		e, err := os.ReadDir(dir)
		if err != nil || len(e) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
