package mirror

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mirrorkit/mirrorkit/internal/utils"
)

// quarantineTimeFormat qualifies quarantine entry names so two deletions of
// the same path never collide.
const quarantineTimeFormat = "20060102-150405.000000000"

// Ops implements the primitive mirror operations shared by the realtime
// dispatch path and the reconciler. Every mutation of a mirror entry takes
// the per-path lock first. Failures are logged and returned; callers skip
// and move on — the next reconcile pass retries naturally.
type Ops struct {
	ws      *Workspace
	locks   *PathLocker
	journal *Journal
}

func NewOps(ws *Workspace, locks *PathLocker, journal *Journal) *Ops {
	return &Ops{ws: ws, locks: locks, journal: journal}
}

// CopyFile copies the source entry at rel into the mirror, creating parent
// directories as needed and preserving size and modification time.
// passID tags the journal entry; empty for watcher-driven copies.
func (o *Ops) CopyFile(rel, passID string) error {
	if err := o.clearTypeConflicts(rel, false); err != nil {
		return err
	}

	unlock := o.locks.Lock(rel)
	defer unlock()

	src := o.ws.SourcePath(rel)
	dst := o.ws.MirrorPath(rel)

	if err := utils.CopyFile(src, dst); err != nil {
		slog.Error("copy failed", "path", rel, "error", err)
		return err
	}

	var size int64
	if info, err := os.Stat(dst); err == nil {
		size = info.Size()
	}
	o.record(passID, OpCopy, rel, size)
	slog.Info("copied", "path", rel, "bytes", size)
	return nil
}

// MakeDir creates the mirrored directory at rel, parents included.
// Idempotent.
func (o *Ops) MakeDir(rel string) error {
	if err := o.clearTypeConflicts(rel, true); err != nil {
		return err
	}

	unlock := o.locks.Lock(rel)
	defer unlock()

	dst := o.ws.MirrorPath(rel)
	if utils.DirExists(dst) {
		return nil
	}

	if err := utils.EnsureDir(dst); err != nil {
		slog.Error("mkdir failed", "path", rel, "error", err)
		return err
	}

	o.record("", OpMkdir, rel, 0)
	slog.Info("created dir", "path", rel)
	return nil
}

// Quarantine relocates the mirror file at rel into the quarantine store
// under a timestamped name. If the move fails the original entry is left
// untouched: a stale copy beats silent loss.
func (o *Ops) Quarantine(rel string) error {
	return o.quarantine(rel, OpQuarantine)
}

// QuarantineDir relocates the entire mirrored subtree at rel into a
// timestamped quarantine folder.
func (o *Ops) QuarantineDir(rel string) error {
	return o.quarantine(rel, OpQuarantineDir)
}

func (o *Ops) quarantine(rel, op string) error {
	unlock := o.locks.Lock(rel)
	defer unlock()

	src := o.ws.MirrorPath(rel)
	info, err := os.Stat(src)
	if err != nil {
		// nothing mirrored for this path, nothing to protect
		slog.Debug("quarantine skipped, no mirror entry", "path", rel)
		return nil
	}

	if err := utils.EnsureDir(o.ws.QuarantineDir); err != nil {
		slog.Error("quarantine dir unavailable", "error", err)
		return err
	}

	dst := o.quarantineTarget(filepath.Base(src))
	if err := os.Rename(src, dst); err != nil {
		slog.Error("quarantine move failed, keeping mirror entry", "path", rel, "error", err)
		return err
	}

	var size int64
	if !info.IsDir() {
		size = info.Size()
	}
	o.record("", op, rel, size)
	slog.Info("quarantined", "path", rel, "to", filepath.Base(dst))
	return nil
}

// clearTypeConflicts quarantines mirror entries whose type blocks writing
// rel: a file sitting where a parent directory is needed, or an entry at rel
// itself of the opposite kind. Happens when a Remove event was missed and
// the source path came back as the other type; left alone, every copy of
// rel keeps failing with ENOTDIR.
func (o *Ops) clearTypeConflicts(rel string, wantDir bool) error {
	for _, ancestor := range ancestors(rel) {
		if info, err := os.Lstat(o.ws.MirrorPath(ancestor)); err == nil && !info.IsDir() {
			if err := o.Quarantine(ancestor); err != nil {
				return err
			}
		}
	}

	info, err := os.Lstat(o.ws.MirrorPath(rel))
	if err != nil {
		return nil
	}
	if wantDir && !info.IsDir() {
		return o.Quarantine(rel)
	}
	if !wantDir && info.IsDir() {
		return o.QuarantineDir(rel)
	}
	return nil
}

// ancestors returns rel's parent chain, shallowest first.
func ancestors(rel string) []string {
	var chain []string
	for dir := filepath.Dir(rel); dir != "." && dir != string(filepath.Separator); dir = filepath.Dir(dir) {
		chain = append([]string{dir}, chain...)
	}
	return chain
}

// quarantineTarget returns a unique destination path for a quarantined
// entry named {timestamp}_{basename}.
func (o *Ops) quarantineTarget(base string) string {
	ts := time.Now().UTC().Format(quarantineTimeFormat)
	dst := filepath.Join(o.ws.QuarantineDir, ts+"_"+base)
	for i := 1; pathExists(dst); i++ {
		dst = filepath.Join(o.ws.QuarantineDir, fmt.Sprintf("%s-%d_%s", ts, i, base))
	}
	return dst
}

// Rename moves the mirror entry from oldRel to newRel, creating parent
// directories for the new location. A missing old entry is a no-op: there
// is nothing to move and the next copy or reconcile pass fills the gap.
func (o *Ops) Rename(oldRel, newRel string) error {
	// lock in stable order so concurrent renames cannot deadlock
	first, second := oldRel, newRel
	if second < first {
		first, second = second, first
	}
	unlockFirst := o.locks.Lock(first)
	defer unlockFirst()
	unlockSecond := o.locks.Lock(second)
	defer unlockSecond()

	src := o.ws.MirrorPath(oldRel)
	if !pathExists(src) {
		slog.Debug("rename skipped, no mirror entry", "from", oldRel, "to", newRel)
		return nil
	}

	dst := o.ws.MirrorPath(newRel)
	if err := utils.EnsureParent(dst); err != nil {
		slog.Error("rename failed", "from", oldRel, "to", newRel, "error", err)
		return err
	}
	if err := os.Rename(src, dst); err != nil {
		slog.Error("rename failed", "from", oldRel, "to", newRel, "error", err)
		return err
	}

	o.record("", OpRename, newRel, 0)
	slog.Info("renamed", "from", oldRel, "to", newRel)
	return nil
}

func (o *Ops) record(passID, op, rel string, size int64) {
	if o.journal == nil {
		return
	}
	if err := o.journal.Record(passID, op, rel, size); err != nil {
		slog.Warn("journal record failed", "op", op, "path", rel, "error", err)
	}
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
