package mirror

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mirrorkit/mirrorkit/internal/utils"
)

// Actors stamped into the metadata document.
const (
	SyncedByWatcher  = "watcher"
	SyncedByFullSync = "full_sync"
)

// SyncMetadata describes the last successful sync action. It is written at
// the root of both trees and is the only state the daemon overwrites in
// place.
type SyncMetadata struct {
	LastSync time.Time `json:"last_sync"`
	SyncedBy string    `json:"synced_by"`
	Source   string    `json:"source"`
	Mirror   string    `json:"mirror"`
	Platform string    `json:"platform"`
}

// MetadataWriter persists SyncMetadata into the source and mirror roots.
// last_sync is monotonic: a write stamped earlier than the previous one is
// skipped.
type MetadataWriter struct {
	sourceRoot string
	mirrorRoot string

	mu       sync.Mutex
	lastSync time.Time
}

func NewMetadataWriter(sourceRoot, mirrorRoot string) *MetadataWriter {
	return &MetadataWriter{
		sourceRoot: sourceRoot,
		mirrorRoot: mirrorRoot,
	}
}

// Write stamps the current time and persists the document into both trees.
// Failures are logged, not propagated; metadata is advisory state.
func (m *MetadataWriter) Write(syncedBy string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if !now.After(m.lastSync) {
		return
	}
	m.lastSync = now

	meta := &SyncMetadata{
		LastSync: now,
		SyncedBy: syncedBy,
		Source:   m.sourceRoot,
		Mirror:   m.mirrorRoot,
		Platform: utils.Platform(),
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		slog.Error("marshal sync metadata", "error", err)
		return
	}

	for _, root := range []string{m.sourceRoot, m.mirrorRoot} {
		path := filepath.Join(root, MetadataFileName)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			slog.Error("write sync metadata", "path", path, "error", err)
		}
	}
}

// ReadMetadata loads a metadata document from the given tree root.
func ReadMetadata(root string) (*SyncMetadata, error) {
	data, err := os.ReadFile(filepath.Join(root, MetadataFileName))
	if err != nil {
		return nil, err
	}
	var meta SyncMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
