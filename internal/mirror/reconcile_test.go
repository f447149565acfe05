package mirror

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReconciler(t *testing.T, checksum bool) (*Workspace, *Reconciler, *MetadataWriter) {
	t.Helper()
	ws := NewWorkspace(t.TempDir(), filepath.Join(t.TempDir(), "mirror"))
	require.NoError(t, ws.Setup())
	t.Cleanup(func() { ws.Close() })

	ignore := NewIgnoreList(ws.SourceRoot)
	ignore.Load()
	meta := NewMetadataWriter(ws.SourceRoot, ws.Root)
	ops := NewOps(ws, NewPathLocker(), nil)
	rec := NewReconciler(ws, ops, meta, ignore, time.Minute, checksum)
	return ws, rec, meta
}

func TestReconcileCopiesMissingFiles(t *testing.T) {
	ws, rec, _ := newTestReconciler(t, false)
	writeSource(t, ws, "a.txt", "aa")
	writeSource(t, ws, "docs/deep/b.txt", "bbb")

	stats, err := rec.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Copied)
	assert.Equal(t, 0, stats.Failed)

	data, err := os.ReadFile(ws.MirrorPath("docs/deep/b.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bbb", string(data))
}

func TestReconcileIsIdempotent(t *testing.T) {
	ws, rec, _ := newTestReconciler(t, false)
	writeSource(t, ws, "a.txt", "aa")
	writeSource(t, ws, "b.txt", "bb")

	first, err := rec.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, first.Copied)

	second, err := rec.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Copied, "no source changes means zero copies")
	assert.Equal(t, 2, second.Skipped)
}

func TestReconcileRecopiesSizeDivergence(t *testing.T) {
	ws, rec, _ := newTestReconciler(t, false)
	writeSource(t, ws, "a.txt", "hello world")
	writeMirror(t, ws, "a.txt", "hello")

	stats, err := rec.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Copied)

	data, err := os.ReadFile(ws.MirrorPath("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestReconcileSizeOnlyMissesSameSizeRewrite(t *testing.T) {
	// Documented contract: equal size means equal, unless checksum mode is on.
	ws, rec, _ := newTestReconciler(t, false)
	writeSource(t, ws, "a.txt", "AAAA")
	writeMirror(t, ws, "a.txt", "BBBB")

	stats, err := rec.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Copied)

	data, err := os.ReadFile(ws.MirrorPath("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "BBBB", string(data))
}

func TestReconcileChecksumCatchesSameSizeRewrite(t *testing.T) {
	ws, rec, _ := newTestReconciler(t, true)
	writeSource(t, ws, "a.txt", "AAAA")
	writeMirror(t, ws, "a.txt", "BBBB")

	stats, err := rec.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Copied)

	data, err := os.ReadFile(ws.MirrorPath("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "AAAA", string(data))
}

func TestReconcileConvergesAfterFileBecameDir(t *testing.T) {
	ws, rec, _ := newTestReconciler(t, false)
	// a missed Remove left a stale mirror file where the source now has a
	// directory; the pass must still converge
	writeSource(t, ws, "a/inner.txt", "fresh")
	writeMirror(t, ws, "a", "stale")

	stats, err := rec.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Copied)
	assert.Equal(t, 0, stats.Failed)

	data, err := os.ReadFile(ws.MirrorPath("a/inner.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))

	// the stale entry was quarantined, not erased
	matches, err := filepath.Glob(filepath.Join(ws.QuarantineDir, "*_a"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	// and the next pass has nothing left to repair
	second, err := rec.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.Copied)
	assert.Equal(t, 0, second.Failed)
	assert.Equal(t, 1, second.Skipped)
}

func TestReconcileConvergesAfterDirBecameFile(t *testing.T) {
	ws, rec, _ := newTestReconciler(t, false)
	writeSource(t, ws, "a", "now a file")
	writeMirror(t, ws, "a/old.txt", "old")

	stats, err := rec.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Copied)
	assert.Equal(t, 0, stats.Failed)

	data, err := os.ReadFile(ws.MirrorPath("a"))
	require.NoError(t, err)
	assert.Equal(t, "now a file", string(data))

	matches, err := filepath.Glob(filepath.Join(ws.QuarantineDir, "*_a"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	old, err := os.ReadFile(filepath.Join(matches[0], "old.txt"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))
}

func TestReconcileSkipsIgnoredPaths(t *testing.T) {
	ws, rec, _ := newTestReconciler(t, false)
	writeSource(t, ws, "keep.txt", "k")
	writeSource(t, ws, "scratch.tmp", "t")
	writeSource(t, ws, MetadataFileName, "{}")

	stats, err := rec.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Copied)
	assert.NoFileExists(t, ws.MirrorPath("scratch.tmp"))
}

func TestReconcileWritesFullSyncMetadata(t *testing.T) {
	ws, rec, _ := newTestReconciler(t, false)
	writeSource(t, ws, "a.txt", "aa")

	_, err := rec.RunPass(context.Background())
	require.NoError(t, err)

	for _, root := range []string{ws.SourceRoot, ws.Root} {
		meta, err := ReadMetadata(root)
		require.NoError(t, err)
		assert.Equal(t, SyncedByFullSync, meta.SyncedBy)
	}
}

func TestReconcileManyFiles(t *testing.T) {
	ws, rec, _ := newTestReconciler(t, false)
	for i := 0; i < 100; i++ {
		writeSource(t, ws, fmt.Sprintf("dir%d/file%d.txt", i%10, i), fmt.Sprintf("content-%d", i))
	}

	stats, err := rec.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100, stats.Copied)

	for i := 0; i < 100; i++ {
		rel := fmt.Sprintf("dir%d/file%d.txt", i%10, i)
		srcInfo, err := os.Stat(ws.SourcePath(rel))
		require.NoError(t, err)
		dstInfo, err := os.Stat(ws.MirrorPath(rel))
		require.NoError(t, err)
		assert.Equal(t, srcInfo.Size(), dstInfo.Size())
	}
}

func TestReconcileRejectsOverlappingPass(t *testing.T) {
	_, rec, _ := newTestReconciler(t, false)
	rec.muPass.Lock()
	defer rec.muPass.Unlock()

	_, err := rec.RunPass(context.Background())
	assert.ErrorIs(t, err, ErrPassAlreadyRunning)
}

func TestReconcileHonorsCancellation(t *testing.T) {
	ws, rec, _ := newTestReconciler(t, false)
	writeSource(t, ws, "a.txt", "aa")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rec.RunPass(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
