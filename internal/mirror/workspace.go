package mirror

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/mirrorkit/mirrorkit/internal/utils"
)

const (
	// QuarantineDirName is the subdirectory of the mirror root that receives
	// soft-deleted entries.
	QuarantineDirName = "quarantine"

	// MetadataFileName is the sync metadata document written at the root of
	// both trees.
	MetadataFileName = "_sync_metadata.json"

	// DataDirName holds daemon-internal state (journal, lock file) under the
	// mirror root.
	DataDirName = ".mirrorkit"

	lockFileName    = "mirrorkit.lock"
	journalFileName = "journal.db"
)

var ErrMirrorLocked = errors.New("mirror locked by another process")

// Workspace owns the mirror tree layout: the mirror root itself, the
// quarantine store and the internal data directory. It also holds a file
// lock so only one daemon writes a given mirror at a time.
type Workspace struct {
	SourceRoot    string
	Root          string
	QuarantineDir string
	DataDir       string

	flock *flock.Flock
}

func NewWorkspace(sourceRoot, mirrorRoot string) *Workspace {
	return &Workspace{
		SourceRoot:    sourceRoot,
		Root:          mirrorRoot,
		QuarantineDir: filepath.Join(mirrorRoot, QuarantineDirName),
		DataDir:       filepath.Join(mirrorRoot, DataDirName),
	}
}

// Setup creates the mirror directory layout and acquires the process lock.
func (w *Workspace) Setup() error {
	for _, dir := range []string{w.Root, w.DataDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("ensure dir %s: %w", dir, err)
		}
	}

	w.flock = flock.New(filepath.Join(w.DataDir, lockFileName))
	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire mirror lock: %w", err)
	}
	if !locked {
		return ErrMirrorLocked
	}

	slog.Debug("workspace ready", "mirror", w.Root)
	return nil
}

// Close releases the process lock.
func (w *Workspace) Close() error {
	if w.flock == nil {
		return nil
	}
	return w.flock.Unlock()
}

// JournalPath is where the operation journal database lives.
func (w *Workspace) JournalPath() string {
	return filepath.Join(w.DataDir, journalFileName)
}

// SourcePath converts a relative entry path to its absolute source path.
func (w *Workspace) SourcePath(rel string) string {
	return filepath.Join(w.SourceRoot, filepath.FromSlash(rel))
}

// MirrorPath converts a relative entry path to its absolute mirror path.
func (w *Workspace) MirrorPath(rel string) string {
	return filepath.Join(w.Root, filepath.FromSlash(rel))
}

// RelPath converts an absolute path under the source root to the relative
// form mirror entries are keyed by.
func (w *Workspace) RelPath(absSource string) (string, error) {
	rel, err := filepath.Rel(w.SourceRoot, absSource)
	if err != nil {
		return "", err
	}
	return utils.NormPath(rel), nil
}
