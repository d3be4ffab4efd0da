package cli

import (
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachebay/prefill/internal/durable"
)

func TestValidateStartSelection(t *testing.T) {
	t.Parallel()

	t.Run("explicit items", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, validateStartSelection([]string{"game-1", "game-2"}, false))
	})

	t.Run("all", func(t *testing.T) {
		t.Parallel()
		require.NoError(t, validateStartSelection(nil, true))
	})

	t.Run("nothing selected", func(t *testing.T) {
		t.Parallel()
		err := validateStartSelection(nil, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--all")
	})

	t.Run("all with items", func(t *testing.T) {
		t.Parallel()
		err := validateStartSelection([]string{"game-1"}, true)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot combine")
	})

	t.Run("blank item id", func(t *testing.T) {
		t.Parallel()
		err := validateStartSelection([]string{"game-1", "  "}, false)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})
}

func TestRecordJobStartWritesWatermark(t *testing.T) {
	t.Parallel()

	store := durable.NewMemStore()
	recordJobStart(store, hclog.NewNullLogger(), "sess-started")

	mark, ok := durable.LoadOperationMark(store, time.Now(), time.Hour)
	require.True(t, ok)
	assert.Equal(t, "sess-started", mark.SessionID)
}
