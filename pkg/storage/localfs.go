package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// maxKeyLength matches the S3 limit on UTF-8 key bytes.
const maxKeyLength = 1024

// LocalFS implements Backend on a POSIX directory tree: one directory per
// bucket, one regular file per object, plus a JSON sidecar per object.
type LocalFS struct {
	root string // absolute storage root
	obs  Observer
}

// NewLocalFS roots a LocalFS at dir, creating it if needed.
func NewLocalFS(dir string) (*LocalFS, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("no storage root configured")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, err
	}
	return &LocalFS{root: abs}, nil
}

// Root returns the absolute storage root.
func (l *LocalFS) Root() string { return l.root }

// SetObserver wires a metrics observer; nil disables observation.
func (l *LocalFS) SetObserver(o Observer) { l.obs = o }

func (l *LocalFS) observe(op string, n int64, err error, start time.Time) {
	if l.obs != nil {
		l.obs.Observe(op, n, err, time.Since(start))
	}
}

// BucketPath maps a bucket name to its directory. It only validates the name.
func (l *LocalFS) BucketPath(bucket string) (string, error) {
	if bucket == "" || bucket == "." || bucket == ".." || strings.HasPrefix(bucket, ".") ||
		strings.ContainsAny(bucket, "/\\\x00") {
		return "", ErrInvalidBucketName
	}
	return filepath.Join(l.root, bucket), nil
}

// ObjectPaths maps (bucket, key) to the data file and its sidecar.
func (l *LocalFS) ObjectPaths(bucket, key string) (string, string, error) {
	bdir, err := l.BucketPath(bucket)
	if err != nil {
		return "", "", err
	}
	if err := validateKey(key); err != nil {
		return "", "", err
	}
	data := filepath.Join(bdir, filepath.FromSlash(key))
	// prevent escape: the joined path must stay under the bucket directory
	if !strings.HasPrefix(data, bdir+string(os.PathSeparator)) {
		return "", "", ErrInvalidKey
	}
	return data, data + MetaSuffix, nil
}

func validateKey(key string) error {
	if key == "" || len(key) > maxKeyLength || strings.ContainsRune(key, 0) {
		return ErrInvalidKey
	}
	if strings.HasSuffix(key, MetaSuffix) {
		return fmt.Errorf("%w: keys may not end in %s", ErrInvalidKey, MetaSuffix)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == "" || seg == "." || seg == ".." || strings.HasPrefix(seg, tmpPrefix) {
			return ErrInvalidKey
		}
	}
	return nil
}

// bucketDir resolves a bucket directory and requires that it exists.
func (l *LocalFS) bucketDir(bucket string) (string, error) {
	bdir, err := l.BucketPath(bucket)
	if err != nil {
		return "", err
	}
	st, err := os.Stat(bdir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNoSuchBucket
		}
		return "", err
	}
	if !st.IsDir() {
		return "", ErrNoSuchBucket
	}
	return bdir, nil
}

func (l *LocalFS) resolve(bucket, key string) (string, string, error) {
	if _, err := l.bucketDir(bucket); err != nil {
		return "", "", err
	}
	return l.ObjectPaths(bucket, key)
}

// statData returns file info for a data path, mapping absence and
// directories to ErrNoSuchKey.
func statData(path string) (os.FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return nil, ErrNoSuchKey
		}
		return nil, err
	}
	if !st.Mode().IsRegular() {
		return nil, ErrNoSuchKey
	}
	return st, nil
}

func (l *LocalFS) info(key, metaPath string, st os.FileInfo) ObjectInfo {
	oi := ObjectInfo{Key: key, Size: st.Size(), LastModified: st.ModTime().UTC()}
	if b, err := ReadAll(metaPath); err == nil {
		if m, err := decodeMeta(b); err == nil {
			oi.ETag = m.ETag
			oi.ContentType = m.ContentType
		}
	}
	return oi
}

// Open returns a seekable reader over the object's data file.
func (l *LocalFS) Open(ctx context.Context, bucket, key string) (rc io.ReadSeekCloser, oi ObjectInfo, err error) {
	start := time.Now()
	defer func() { l.observe("open", oi.Size, err, start) }()
	data, meta, err := l.resolve(bucket, key)
	if err != nil {
		return nil, ObjectInfo{}, err
	}
	if _, err := statData(data); err != nil {
		return nil, ObjectInfo{}, err
	}
	f, err := os.Open(data)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ObjectInfo{}, ErrNoSuchKey
		}
		return nil, ObjectInfo{}, err
	}
	// stat the open handle so size and content agree if the key is replaced concurrently
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, ObjectInfo{}, err
	}
	return f, l.info(key, meta, st), nil
}

// Stat reports size, modification time and sidecar attributes.
func (l *LocalFS) Stat(ctx context.Context, bucket, key string) (oi ObjectInfo, err error) {
	start := time.Now()
	defer func() { l.observe("stat", 0, err, start) }()
	data, meta, err := l.resolve(bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	st, err := statData(data)
	if err != nil {
		return ObjectInfo{}, err
	}
	return l.info(key, meta, st), nil
}

// ReadMeta decodes the sidecar of an object. It returns ErrNotFound when
// the sidecar is absent, which does not imply the object is absent.
func (l *LocalFS) ReadMeta(ctx context.Context, bucket, key string) (Meta, error) {
	_, meta, err := l.ObjectPaths(bucket, key)
	if err != nil {
		return Meta{}, err
	}
	b, err := ReadAll(meta)
	if err != nil {
		return Meta{}, err
	}
	return decodeMeta(b)
}

// Delete removes the data file and sidecar. Missing files are not an error.
// Directories left empty below the bucket are pruned.
func (l *LocalFS) Delete(ctx context.Context, bucket, key string) (err error) {
	start := time.Now()
	defer func() { l.observe("delete", 0, err, start) }()
	bdir, err := l.bucketDir(bucket)
	if err != nil {
		return err
	}
	data, meta, err := l.ObjectPaths(bucket, key)
	if err != nil {
		return err
	}
	if st, serr := os.Stat(data); serr == nil && st.IsDir() {
		// a "directory" key is never an object
		return nil
	}
	if err := DeleteIfExists(data); err != nil {
		return err
	}
	if err := DeleteIfExists(meta); err != nil {
		return err
	}
	removeEmptyParents(filepath.Dir(data), bdir)
	return nil
}

// CreateAtomic opens a Sink that stages the object in a temporary file next
// to its destination.
func (l *LocalFS) CreateAtomic(ctx context.Context, bucket, key string) (Sink, error) {
	data, meta, err := l.resolve(bucket, key)
	if err != nil {
		return nil, err
	}
	if st, serr := os.Stat(data); serr == nil && st.IsDir() {
		return nil, fmt.Errorf("%w: key names an existing prefix", ErrInvalidKey)
	}
	if err := EnsureParentDirs(data); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(filepath.Dir(data), tmpPrefix+"*")
	if err != nil {
		return nil, err
	}
	h := md5.New()
	return &fileSink{
		fs:       l,
		key:      key,
		f:        f,
		dataPath: data,
		metaPath: meta,
		h:        h,
		w:        io.MultiWriter(f, h),
		start:    time.Now(),
	}, nil
}

type fileSink struct {
	fs       *LocalFS
	key      string
	f        *os.File
	dataPath string
	metaPath string
	h        hash.Hash
	w        io.Writer
	n        int64
	start    time.Time
	done     bool
}

func (s *fileSink) Write(p []byte) (int, error) {
	if s.done {
		return 0, ErrSinkClosed
	}
	n, err := s.w.Write(p)
	s.n += int64(n)
	return n, err
}

// Commit makes the staged bytes visible at the destination, then records the
// sidecar. The sidecar is advisory, so a failure there is reported but the
// data file stays committed.
func (s *fileSink) Commit(contentType string) (oi ObjectInfo, err error) {
	if s.done {
		return ObjectInfo{}, ErrSinkClosed
	}
	s.done = true
	defer func() { s.fs.observe("put", s.n, err, s.start) }()
	tmpName := s.f.Name()
	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		_ = os.Remove(tmpName)
		return ObjectInfo{}, err
	}
	if err := s.f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return ObjectInfo{}, err
	}
	if err := os.Rename(tmpName, s.dataPath); err != nil {
		_ = os.Remove(tmpName)
		return ObjectInfo{}, err
	}
	if err := SyncDir(filepath.Dir(s.dataPath)); err != nil {
		return ObjectInfo{}, err
	}
	if contentType == "" {
		contentType = DefaultContentType
	}
	etag := "\"" + hex.EncodeToString(s.h.Sum(nil)) + "\""
	oi = ObjectInfo{Key: s.key, Size: s.n, ETag: etag, ContentType: contentType, LastModified: time.Now().UTC()}
	if st, err := os.Stat(s.dataPath); err == nil {
		oi.LastModified = st.ModTime().UTC()
	}
	b, err := encodeMeta(Meta{ETag: etag, ContentType: contentType})
	if err != nil {
		return oi, err
	}
	if err := AtomicWrite(s.metaPath, b); err != nil {
		return oi, fmt.Errorf("write sidecar: %w", err)
	}
	return oi, nil
}

// Abort discards the staged bytes. It is safe to call after Commit.
func (s *fileSink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	_ = s.f.Close()
	err := os.Remove(s.f.Name())
	s.fs.observe("put", s.n, errAborted, s.start)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

var errAborted = errors.New("storage: write aborted")
