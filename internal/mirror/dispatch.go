package mirror

import (
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rjeczalik/notify"

	"github.com/mirrorkit/mirrorkit/internal/utils"
)

// renamePairWindow is how long a moved-from event waits for its moved-to
// counterpart before the entry is quarantined instead.
const renamePairWindow = 500 * time.Millisecond

// Dispatcher maps filesystem events to mirror operations. Events arrive
// serially from the watcher; only the rename-pairing timer runs off that
// goroutine, guarded by mu.
//
// Rename events are delivered unpaired by the OS: one for the old path
// (source gone) and one for the new (source present). The dispatcher pairs
// them within renamePairWindow. An unpaired moved-from falls back to
// quarantine so the entry is never lost; an unpaired moved-to falls back to
// a plain copy.
type Dispatcher struct {
	ws     *Workspace
	ops    *Ops
	meta   *MetadataWriter
	ignore *IgnoreList

	mu           sync.Mutex
	pendingFrom  string
	pendingTimer *time.Timer
}

func NewDispatcher(ws *Workspace, ops *Ops, meta *MetadataWriter, ignore *IgnoreList) *Dispatcher {
	return &Dispatcher{
		ws:     ws,
		ops:    ops,
		meta:   meta,
		ignore: ignore,
	}
}

// HandleEvent applies one filesystem event to the mirror. Errors are
// returned for logging only; a failed event never affects later ones.
func (d *Dispatcher) HandleEvent(event notify.Event, absPath string) error {
	rel, err := d.ws.RelPath(absPath)
	if err != nil || rel == "" || rel == "." || strings.HasPrefix(rel, "..") {
		return nil
	}
	if d.ignore.ShouldIgnore(rel) {
		return nil
	}

	var changed bool
	var opErr error
	switch event {
	case notify.Create:
		changed, opErr = d.upsert(rel)
	case notify.Write:
		changed, opErr = d.modify(rel)
	case notify.Remove:
		changed, opErr = d.remove(rel)
	case notify.Rename:
		changed, opErr = d.rename(rel)
	default:
		return nil
	}

	// last_sync only advances when an operation actually ran
	if opErr == nil && changed {
		d.meta.Write(SyncedByWatcher)
	}
	return opErr
}

// upsert mirrors a created or changed source entry. Reports whether the
// mirror was touched.
func (d *Dispatcher) upsert(rel string) (bool, error) {
	info, err := os.Stat(d.ws.SourcePath(rel))
	if err != nil {
		// created then removed before we got here; the Remove event follows
		return false, nil
	}
	if info.IsDir() {
		if utils.DirExists(d.ws.MirrorPath(rel)) {
			return false, nil
		}
		return true, d.ops.MakeDir(rel)
	}
	return true, d.ops.CopyFile(rel, "")
}

func (d *Dispatcher) modify(rel string) (bool, error) {
	info, err := os.Stat(d.ws.SourcePath(rel))
	if err != nil || info.IsDir() {
		return false, nil
	}
	return true, d.ops.CopyFile(rel, "")
}

// remove quarantines whatever the mirror holds for rel. A path that was
// never mirrored is a no-op.
func (d *Dispatcher) remove(rel string) (bool, error) {
	if utils.DirExists(d.ws.MirrorPath(rel)) {
		return true, d.ops.QuarantineDir(rel)
	}
	if !pathExists(d.ws.MirrorPath(rel)) {
		return false, nil
	}
	return true, d.ops.Quarantine(rel)
}

func (d *Dispatcher) rename(rel string) (bool, error) {
	if pathExists(d.ws.SourcePath(rel)) {
		return d.renamedTo(rel)
	}
	d.renamedFrom(rel)
	return false, nil
}

// renamedTo handles the destination side of a rename.
func (d *Dispatcher) renamedTo(rel string) (bool, error) {
	d.mu.Lock()
	from := d.pendingFrom
	d.clearPendingLocked()
	d.mu.Unlock()

	if from != "" && from != rel && pathExists(d.ws.MirrorPath(from)) {
		return true, d.ops.Rename(from, rel)
	}
	// no pending counterpart (moved in from outside the watched tree) or
	// nothing mirrored at the old path; copy fresh instead
	return d.upsert(rel)
}

// renamedFrom records the origin side of a rename and arms the fallback
// timer.
func (d *Dispatcher) renamedFrom(rel string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// a previous moved-from never found its pair; protect it now
	if d.pendingFrom != "" && d.pendingFrom != rel {
		stale := d.pendingFrom
		go d.quarantineUnpaired(stale)
	}
	d.clearPendingLocked()

	d.pendingFrom = rel
	d.pendingTimer = time.AfterFunc(renamePairWindow, func() {
		d.mu.Lock()
		if d.pendingFrom != rel {
			d.mu.Unlock()
			return
		}
		d.clearPendingLocked()
		d.mu.Unlock()
		d.quarantineUnpaired(rel)
	})
}

func (d *Dispatcher) clearPendingLocked() {
	if d.pendingTimer != nil {
		d.pendingTimer.Stop()
		d.pendingTimer = nil
	}
	d.pendingFrom = ""
}

func (d *Dispatcher) quarantineUnpaired(rel string) {
	slog.Debug("unpaired rename, quarantining", "path", rel)
	if changed, err := d.remove(rel); err == nil && changed {
		d.meta.Write(SyncedByWatcher)
	}
}
