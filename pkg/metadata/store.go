package metadata

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"
)

// Bucket represents a bucket entry in metadata storage.
type Bucket struct {
	Name         string
	CreationDate time.Time
}

// Store defines the metadata operations needed by the S3 API for buckets.
type Store interface {
	ListBuckets(ctx context.Context) ([]Bucket, error)
	CreateBucket(ctx context.Context, name string) error
	BucketExists(ctx context.Context, name string) (bool, error)
	DeleteBucket(ctx context.Context, name string) error
}

// Errors
var (
	ErrBucketExists   = errors.New("bucket already exists")
	ErrBucketNotFound = errors.New("bucket not found")
	ErrBucketNotEmpty = errors.New("bucket not empty")
)

// Resolver maps a bucket name to its directory, rejecting unsafe names.
type Resolver interface {
	Root() string
	BucketPath(name string) (string, error)
}

// DirStore keeps no state of its own: a bucket exists exactly when its
// directory exists under the storage root. Creation dates are synthesized
// from the directory mtime and never persisted.
type DirStore struct {
	paths Resolver
}

// NewDirStore returns a Store backed by the directories under paths.Root().
func NewDirStore(paths Resolver) *DirStore {
	return &DirStore{paths: paths}
}

// ListBuckets returns all bucket directories sorted by name.
func (d *DirStore) ListBuckets(ctx context.Context) ([]Bucket, error) {
	entries, err := os.ReadDir(d.paths.Root())
	if err != nil {
		return nil, err
	}
	out := make([]Bucket, 0, len(entries))
	for _, e := range entries {
		// hidden entries hold gateway state such as the readiness probe
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		created := time.Now().UTC()
		if info, err := e.Info(); err == nil {
			created = info.ModTime().UTC()
		}
		out = append(out, Bucket{Name: e.Name(), CreationDate: created})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CreateBucket creates the bucket directory, failing if it already exists.
func (d *DirStore) CreateBucket(ctx context.Context, name string) error {
	p, err := d.paths.BucketPath(name)
	if err != nil {
		return err
	}
	if err := os.Mkdir(p, 0o700); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrBucketExists
		}
		return err
	}
	return nil
}

// BucketExists reports whether the bucket directory exists.
func (d *DirStore) BucketExists(ctx context.Context, name string) (bool, error) {
	p, err := d.paths.BucketPath(name)
	if err != nil {
		return false, nil
	}
	st, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return st.IsDir(), nil
}

// DeleteBucket removes a bucket that holds no files. Empty subdirectories
// do not count as content and are removed with it. Directories are removed
// one at a time with rmdir, so a file committed concurrently makes the call
// fail with ErrBucketNotEmpty instead of being deleted.
func (d *DirStore) DeleteBucket(ctx context.Context, name string) error {
	ok, err := d.BucketExists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBucketNotFound
	}
	p, _ := d.paths.BucketPath(name)
	empty, err := isEmptyTree(p)
	if err != nil {
		return err
	}
	if !empty {
		return ErrBucketNotEmpty
	}
	if err := removeEmptyTree(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrBucketNotFound
		}
		return err
	}
	return nil
}

func isEmptyTree(dir string) (bool, error) {
	empty := true
	err := filepath.WalkDir(dir, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !de.IsDir() {
			empty = false
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return empty, nil
}

// removeEmptyTree removes dir and its subdirectories bottom-up. It never
// unlinks a file: any file found, or an rmdir that fails with ENOTEMPTY,
// yields ErrBucketNotEmpty.
func removeEmptyTree(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, de := range entries {
		if !de.IsDir() {
			return ErrBucketNotEmpty
		}
	}
	for _, de := range entries {
		err := removeEmptyTree(filepath.Join(dir, de.Name()))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := os.Remove(dir); err != nil {
		if errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST) {
			return ErrBucketNotEmpty
		}
		return err
	}
	return nil
}
