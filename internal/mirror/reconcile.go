package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/mirrorkit/mirrorkit/internal/utils"
)

var ErrPassAlreadyRunning = errors.New("reconcile pass already running")

// PassStats summarizes one reconcile pass.
type PassStats struct {
	PassID   string
	Scanned  int
	Copied   int
	Skipped  int
	Failed   int
	Bytes    int64
	Duration time.Duration
}

// Reconciler periodically re-walks the whole source tree and copies
// anything missing or diverged in the mirror, independent of the realtime
// watcher. Divergence is judged by file size alone unless checksum mode is
// on: a stat is O(1) where hashing is O(n), at the cost of missing a
// same-size in-place rewrite outside the realtime path.
type Reconciler struct {
	ws       *Workspace
	ops      *Ops
	meta     *MetadataWriter
	ignore   *IgnoreList
	checksum bool
	interval time.Duration

	muPass sync.Mutex
}

func NewReconciler(ws *Workspace, ops *Ops, meta *MetadataWriter, ignore *IgnoreList, interval time.Duration, checksum bool) *Reconciler {
	return &Reconciler{
		ws:       ws,
		ops:      ops,
		meta:     meta,
		ignore:   ignore,
		checksum: checksum,
		interval: interval,
	}
}

// RunPass walks every file under the source root and copies divergent
// entries. Directories are not diffed; they materialize as a side effect of
// parent creation. Metadata is written at the end of every pass, partial
// failures included.
func (r *Reconciler) RunPass(ctx context.Context) (*PassStats, error) {
	if !r.muPass.TryLock() {
		return nil, ErrPassAlreadyRunning
	}
	defer r.muPass.Unlock()

	stats := &PassStats{PassID: uuid.NewString()}
	tStart := time.Now()

	err := filepath.WalkDir(r.ws.SourceRoot, func(path string, d fs.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if walkErr != nil {
			slog.Warn("reconcile walk error", "path", path, "error", walkErr)
			stats.Failed++
			return nil
		}

		rel, err := r.ws.RelPath(path)
		if err != nil || rel == "" || rel == "." {
			return nil
		}

		if r.ignore.ShouldIgnore(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("reconcile stat failed", "path", rel, "error", err)
			stats.Failed++
			return nil
		}

		stats.Scanned++

		needsCopy, err := r.diverged(rel, info.Size())
		if err != nil {
			stats.Failed++
			return nil
		}
		if !needsCopy {
			stats.Skipped++
			return nil
		}

		if err := r.ops.CopyFile(rel, stats.PassID); err != nil {
			stats.Failed++
			return nil
		}
		stats.Copied++
		stats.Bytes += info.Size()
		return nil
	})

	stats.Duration = time.Since(tStart)
	r.meta.Write(SyncedByFullSync)

	slog.Info("reconcile pass complete",
		"pass", stats.PassID,
		"scanned", stats.Scanned,
		"copied", stats.Copied,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"bytes", humanize.Bytes(uint64(stats.Bytes)),
		"took", stats.Duration.Round(time.Millisecond),
	)

	if err != nil {
		return stats, fmt.Errorf("reconcile walk: %w", err)
	}
	return stats, nil
}

// diverged reports whether the mirror counterpart is missing or differs
// from the source file. A type mismatch counts as divergence: a stale file
// where a parent directory belongs (ENOTDIR) or a stale directory at rel
// itself both resolve through CopyFile, which quarantines the offender.
func (r *Reconciler) diverged(rel string, srcSize int64) (bool, error) {
	dstInfo, err := os.Stat(r.ws.MirrorPath(rel))
	if err != nil {
		if os.IsNotExist(err) || errors.Is(err, syscall.ENOTDIR) {
			return true, nil
		}
		slog.Warn("reconcile mirror stat failed", "path", rel, "error", err)
		return false, err
	}

	if dstInfo.IsDir() {
		return true, nil
	}

	if dstInfo.Size() != srcSize {
		return true, nil
	}

	if r.checksum {
		srcHash, err := utils.FileHash(r.ws.SourcePath(rel))
		if err != nil {
			return false, err
		}
		dstHash, err := utils.FileHash(r.ws.MirrorPath(rel))
		if err != nil {
			return false, err
		}
		return srcHash != dstHash, nil
	}

	return false, nil
}

// Loop runs RunPass on a fixed interval until the context is cancelled.
// Uses a timer instead of a ticker so a slow pass never queues up ticks.
func (r *Reconciler) Loop(ctx context.Context) {
	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if _, err := r.RunPass(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("reconcile pass failed", "error", err)
			}
			timer.Reset(r.interval)
		}
	}
}
