package notify

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRecordAndDelete(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordMarkRead(ctx, "r1"))
	require.NoError(t, j.RecordMarkRead(ctx, "r2"))

	pending, err := j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	targets := []string{pending[0].TargetID, pending[1].TargetID}
	assert.ElementsMatch(t, []string{"r1", "r2"}, targets)
	for _, w := range pending {
		assert.Equal(t, WriteMarkRead, w.Kind)
		assert.NotEmpty(t, w.ID)
		assert.False(t, w.CreatedAt.IsZero())
	}

	require.NoError(t, j.Delete(ctx, pending[0].ID))

	pending, err = j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestJournalMarkAllIsDeduplicated(t *testing.T) {
	j := newJournal(t)
	ctx := context.Background()

	require.NoError(t, j.RecordMarkAll(ctx))
	require.NoError(t, j.RecordMarkAll(ctx))
	require.NoError(t, j.RecordMarkAll(ctx))

	pending, err := j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, WriteMarkAll, pending[0].Kind)
	assert.Empty(t, pending[0].TargetID)
}

func TestJournalSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.db")
	ctx := context.Background()

	j, err := OpenJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.RecordMarkRead(ctx, "r1"))
	require.NoError(t, j.Close())

	j, err = OpenJournal(path)
	require.NoError(t, err)
	defer j.Close()

	pending, err := j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "r1", pending[0].TargetID)
}
