package durable

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore(t *testing.T) {
	t.Parallel()

	t.Run("missing file reads as empty", func(t *testing.T) {
		t.Parallel()

		store := NewFileStore(t.TempDir())
		_, ok := store.Get("anything")
		assert.False(t, ok)
	})

	t.Run("set then get survives new store instance", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		store := NewFileStore(dir)
		require.NoError(t, store.Set("k", "v"))

		reloaded := NewFileStore(dir)
		value, ok := reloaded.Get("k")
		require.True(t, ok)
		assert.Equal(t, "v", value)
	})

	t.Run("delete removes key", func(t *testing.T) {
		t.Parallel()

		store := NewFileStore(t.TempDir())
		require.NoError(t, store.Set("k", "v"))
		require.NoError(t, store.Delete("k"))
		_, ok := store.Get("k")
		assert.False(t, ok)

		// Deleting again is not an error.
		require.NoError(t, store.Delete("k"))
	})

	t.Run("corrupt file treated as empty", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "state.json"), []byte("{broken"), 0o644))

		store := NewFileStore(dir)
		_, ok := store.Get("k")
		assert.False(t, ok)

		require.NoError(t, store.Set("k", "v"))
		value, ok := store.Get("k")
		require.True(t, ok)
		assert.Equal(t, "v", value)
	})
}

func TestOperationMark(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("fresh mark loads", func(t *testing.T) {
		t.Parallel()

		store := NewMemStore()
		require.NoError(t, SaveOperationMark(store, OperationMark{
			StartedAt: now.Add(-10 * time.Minute),
			SessionID: "s1",
		}))

		mark, ok := LoadOperationMark(store, now, 6*time.Hour)
		require.True(t, ok)
		assert.Equal(t, "s1", mark.SessionID)
	})

	t.Run("stale mark is deleted and not returned", func(t *testing.T) {
		t.Parallel()

		store := NewMemStore()
		require.NoError(t, SaveOperationMark(store, OperationMark{
			StartedAt: now.Add(-7 * time.Hour),
			SessionID: "s1",
		}))

		_, ok := LoadOperationMark(store, now, 6*time.Hour)
		assert.False(t, ok)

		// The orphaned record is gone entirely.
		_, present := store.Get("prefill.operation")
		assert.False(t, present)
	})

	t.Run("clear removes mark", func(t *testing.T) {
		t.Parallel()

		store := NewMemStore()
		require.NoError(t, SaveOperationMark(store, OperationMark{StartedAt: now}))
		require.NoError(t, ClearOperationMark(store))

		_, ok := LoadOperationMark(store, now, 6*time.Hour)
		assert.False(t, ok)
	})

	t.Run("corrupt mark is deleted", func(t *testing.T) {
		t.Parallel()

		store := NewMemStore()
		require.NoError(t, store.Set("prefill.operation", "{broken"))

		_, ok := LoadOperationMark(store, now, 6*time.Hour)
		assert.False(t, ok)
		_, present := store.Get("prefill.operation")
		assert.False(t, present)
	})
}

func TestCompletionSet(t *testing.T) {
	t.Parallel()

	completedAt := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	t.Run("unseen then seen", func(t *testing.T) {
		t.Parallel()

		store := NewMemStore()
		assert.False(t, CompletionSeen(store, completedAt))

		require.NoError(t, MarkCompletionSeen(store, completedAt))
		assert.True(t, CompletionSeen(store, completedAt))

		// Marking twice stays a single entry and stays seen.
		require.NoError(t, MarkCompletionSeen(store, completedAt))
		assert.True(t, CompletionSeen(store, completedAt))
	})

	t.Run("prunes beyond cap", func(t *testing.T) {
		t.Parallel()

		store := NewMemStore()
		for i := 0; i < completionSetCap+10; i++ {
			require.NoError(t, MarkCompletionSeen(store, completedAt.Add(time.Duration(i)*time.Minute)))
		}

		// Oldest entries fell off; newest are retained.
		assert.False(t, CompletionSeen(store, completedAt))
		assert.True(t, CompletionSeen(store, completedAt.Add(time.Duration(completionSetCap+9)*time.Minute)))
	})

	t.Run("clear forgets everything", func(t *testing.T) {
		t.Parallel()

		store := NewMemStore()
		require.NoError(t, MarkCompletionSeen(store, completedAt))
		require.NoError(t, ClearCompletions(store))
		assert.False(t, CompletionSeen(store, completedAt))
	})
}
