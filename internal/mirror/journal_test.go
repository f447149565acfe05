package mirror

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	j := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, j.Open())
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRecordAndRecent(t *testing.T) {
	j := newTestJournal(t)

	require.NoError(t, j.Record("", OpCopy, "a.txt", 5))
	require.NoError(t, j.Record("pass-1", OpCopy, "b.txt", 11))
	require.NoError(t, j.Record("", OpQuarantine, "a.txt", 5))

	entries, err := j.Recent(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// most recent first
	assert.Equal(t, OpQuarantine, entries[0].Op)
	assert.Equal(t, "a.txt", entries[0].Path)
	assert.Equal(t, "pass-1", entries[1].PassID)
}

func TestJournalCountByOp(t *testing.T) {
	j := newTestJournal(t)

	require.NoError(t, j.Record("", OpCopy, "a.txt", 1))
	require.NoError(t, j.Record("", OpCopy, "b.txt", 2))
	require.NoError(t, j.Record("", OpRename, "c.txt", 0))

	counts, err := j.CountByOp()
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[OpCopy])
	assert.Equal(t, int64(1), counts[OpRename])
}

func TestJournalRecordWhenClosedIsNoop(t *testing.T) {
	j := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	// never opened; sync must not fail because the journal is down
	assert.NoError(t, j.Record("", OpCopy, "a.txt", 1))
}

func TestJournalDoubleOpen(t *testing.T) {
	j := newTestJournal(t)
	assert.Error(t, j.Open())
}
