package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachebay/prefill/internal/protocol"
)

func TestContextWithTestDeadline(t *testing.T) {
	t.Parallel()

	ctx, cancel := ContextWithTestDeadline(t, time.Minute)
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.True(t, deadline.After(time.Now()))
}

func TestSampleSatisfiedBurst(t *testing.T) {
	t.Parallel()

	events := SampleSatisfiedBurst("game-1", "game-2", "game-3")
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, protocol.PhaseAlreadySatisfied, ev.Phase, "event %d", i)
		assert.Equal(t, float64(100), ev.PercentComplete, "event %d", i)
	}
	assert.Equal(t, "game-2", events[1].CurrentItemID)
}

func TestSampleSessionInfoIsActive(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	info := SampleSessionInfo(now)
	assert.Equal(t, protocol.SessionActive, info.Status)
	assert.True(t, info.ExpiresAt.After(now))
}
