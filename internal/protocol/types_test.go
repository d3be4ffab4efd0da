package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseTerminal(t *testing.T) {
	t.Parallel()

	terminal := []Phase{PhaseCompleted, PhaseFailed, PhaseCancelled, PhaseIdle}
	for _, p := range terminal {
		assert.True(t, p.Terminal(), "%s should be terminal", p)
	}

	nonTerminal := []Phase{
		PhaseLoadingMetadata, PhaseMetadataLoaded, PhaseStarting,
		PhasePreparing, PhaseDownloading, PhaseAlreadySatisfied,
		PhaseItemCompleted, PhaseReconnecting,
	}
	for _, p := range nonTerminal {
		assert.False(t, p.Terminal(), "%s should not be terminal", p)
	}
}

func TestPhasePreparatory(t *testing.T) {
	t.Parallel()

	assert.True(t, PhaseLoadingMetadata.Preparatory())
	assert.True(t, PhasePreparing.Preparatory())
	assert.False(t, PhaseDownloading.Preparatory())
	assert.False(t, PhaseCompleted.Preparatory())
}

func TestEventTypedAccessors(t *testing.T) {
	t.Parallel()

	t.Run("progress roundtrip", func(t *testing.T) {
		t.Parallel()

		ev, err := NewEvent(EventPrefillProgress, &ProgressEvent{
			Phase:           PhaseDownloading,
			CurrentItemID:   "730",
			CurrentItemName: "Counter-Strike 2",
			PercentComplete: 42.5,
			TotalBytes:      30 << 30,
		})
		require.NoError(t, err)

		data, err := ev.Marshal()
		require.NoError(t, err)

		decoded, err := UnmarshalEvent(data)
		require.NoError(t, err)

		progress, err := decoded.ProgressData()
		require.NoError(t, err)
		assert.Equal(t, PhaseDownloading, progress.Phase)
		assert.Equal(t, "Counter-Strike 2", progress.ItemLabel())
		assert.Equal(t, 42.5, progress.PercentComplete)
	})

	t.Run("accessor rejects wrong type", func(t *testing.T) {
		t.Parallel()

		ev, err := NewEvent(EventSessionEnded, &SessionInfo{ID: "s1"})
		require.NoError(t, err)

		_, err = ev.ProgressData()
		assert.Error(t, err)

		session, err := ev.SessionData()
		require.NoError(t, err)
		assert.Equal(t, "s1", session.ID)
	})
}

func TestProgressDefensiveDecode(t *testing.T) {
	t.Parallel()

	// A controller that omits every numeric field must still decode.
	ev := &Event{
		Type: EventPrefillProgress,
		Data: []byte(`{"phase":"downloading","current_item_id":"440"}`),
	}

	progress, err := ev.ProgressData()
	require.NoError(t, err)
	assert.Equal(t, PhaseDownloading, progress.Phase)
	assert.Zero(t, progress.PercentComplete)
	assert.Zero(t, progress.BytesTransferred)
	assert.Zero(t, progress.TotalBytes)
	assert.Equal(t, "440", progress.ItemLabel())
}

func TestUnmarshalEventMalformed(t *testing.T) {
	t.Parallel()

	_, err := UnmarshalEvent([]byte(`{not json`))
	assert.Error(t, err)
}

func TestFormatBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   int64
		want string
	}{
		{"bytes", 512, "512 B"},
		{"kibibytes", 2048, "2.0 KiB"},
		{"mebibytes", 5 << 20, "5.0 MiB"},
		{"gibibytes", 3<<30 + 256<<20, "3.2 GiB"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FormatBytes(tt.in))
		})
	}
}

func TestFormatRate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2.0 KiB/s", FormatRate(2048))
	assert.Equal(t, "0 B/s", FormatRate(-5))
}
