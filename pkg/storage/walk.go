package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/karrick/godirwalk"
)

// List enumerates every data file in the bucket whose key starts with
// prefix, sorted lexicographically by key. Sidecars and in-flight temporary
// files are never reported. The walk is a full scan of the matching subtree.
func (l *LocalFS) List(ctx context.Context, bucket, prefix string) (out []ObjectInfo, err error) {
	start := time.Now()
	defer func() { l.observe("list", 0, err, start) }()
	bdir, err := l.bucketDir(bucket)
	if err != nil {
		return nil, err
	}
	w := &lister{ctx: ctx, root: bdir, prefix: prefix}
	err = godirwalk.Walk(bdir, &godirwalk.Options{
		Unsorted:      true,
		Callback:      w.callback,
		ErrorCallback: w.errorCallback,
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(w.out, func(i, j int) bool { return w.out[i].Key < w.out[j].Key })
	return w.out, nil
}

type lister struct {
	ctx    context.Context
	root   string
	prefix string
	out    []ObjectInfo
}

func (w *lister) callback(pathname string, de *godirwalk.Dirent) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	if pathname == w.root {
		return nil
	}
	rel, err := filepath.Rel(w.root, pathname)
	if err != nil {
		return err
	}
	rel = filepath.ToSlash(rel)
	if de.IsDir() {
		// descend only where the subtree can still hold matching keys
		dir := rel + "/"
		if !strings.HasPrefix(dir, w.prefix) && !strings.HasPrefix(w.prefix, dir) {
			return filepath.SkipDir
		}
		return nil
	}
	if !de.IsRegular() {
		return nil
	}
	name := de.Name()
	if strings.HasSuffix(name, MetaSuffix) || strings.HasPrefix(name, tmpPrefix) {
		return nil
	}
	if !strings.HasPrefix(rel, w.prefix) {
		return nil
	}
	st, err := os.Lstat(pathname)
	if err != nil {
		// removed between readdir and stat
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	w.out = append(w.out, ObjectInfo{Key: rel, Size: st.Size(), LastModified: st.ModTime().UTC()})
	return nil
}

func (w *lister) errorCallback(pathname string, err error) godirwalk.ErrorAction {
	if pathname != w.root && errors.Is(err, fs.ErrNotExist) {
		return godirwalk.SkipNode
	}
	return godirwalk.Halt
}
