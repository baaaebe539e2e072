package storage

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/karrick/godirwalk"
)

// SweepStats summarizes a temp-file sweep.
type SweepStats struct {
	Scanned int
	Removed int
}

// SweepTemp removes staging files older than olderThan anywhere under the
// root. Such files are only left behind when the process dies between
// creating a sink and committing or aborting it.
func (l *LocalFS) SweepTemp(ctx context.Context, olderThan time.Duration) (SweepStats, error) {
	var res SweepStats
	cutoff := time.Now().Add(-olderThan)
	err := godirwalk.Walk(l.root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(pathname string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if de.IsDir() || !strings.HasPrefix(de.Name(), tmpPrefix) {
				return nil
			}
			res.Scanned++
			st, err := os.Lstat(pathname)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if st.ModTime().After(cutoff) {
				return nil
			}
			if err := os.Remove(pathname); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			res.Removed++
			return nil
		},
		ErrorCallback: func(pathname string, err error) godirwalk.ErrorAction {
			if pathname != l.root && errors.Is(err, fs.ErrNotExist) {
				return godirwalk.SkipNode
			}
			return godirwalk.Halt
		},
	})
	return res, err
}

// StartSweeper runs SweepTemp every interval until ctx is done. Invalid
// durations fall back to 15m and 24h.
func (l *LocalFS) StartSweeper(ctx context.Context, interval, olderThan time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if olderThan <= 0 {
		olderThan = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := l.SweepTemp(ctx, olderThan)
			if err != nil {
				if ctx.Err() == nil {
					logger.Error("storage: temp sweep failed", slog.String("error", err.Error()))
				}
				continue
			}
			if res.Removed > 0 {
				logger.Info("storage: temp sweep",
					slog.Int("scanned", res.Scanned),
					slog.Int("removed", res.Removed),
				)
			}
		}
	}
}
