package cli

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachebay/prefill/internal/controller"
	"github.com/cachebay/prefill/internal/durable"
	"github.com/cachebay/prefill/internal/engine"
	"github.com/cachebay/prefill/internal/protocol"
	"github.com/cachebay/prefill/internal/testutil"
)

func TestRenderProgress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ev   protocol.ProgressEvent
		want string
	}{
		{
			name: "downloading with byte detail",
			ev: protocol.ProgressEvent{
				Phase:            protocol.PhaseDownloading,
				CurrentItemName:  "Hollow Depths",
				PercentComplete:  42,
				BytesTransferred: 450 * 1024 * 1024,
				TotalBytes:       1024 * 1024 * 1024,
				BytesPerSecond:   12 * 1024 * 1024,
			},
			want: "downloading Hollow Depths: 42% (450.0 MiB / 1.0 GiB, 12.0 MiB/s)",
		},
		{
			name: "downloading without totals",
			ev: protocol.ProgressEvent{
				Phase:           protocol.PhaseDownloading,
				CurrentItemID:   "game-9",
				PercentComplete: 10,
			},
			want: "downloading game-9: 10%",
		},
		{
			name: "synthetic verification",
			ev: protocol.ProgressEvent{
				Phase:           protocol.PhaseAlreadySatisfied,
				CurrentItemName: "Skyforge",
				PercentComplete: 65,
			},
			want: "verifying Skyforge: 65%",
		},
		{
			name: "item completed",
			ev: protocol.ProgressEvent{
				Phase:           protocol.PhaseItemCompleted,
				CurrentItemName: "Skyforge",
				PercentComplete: 100,
			},
			want: "completed Skyforge",
		},
		{
			name: "reconnecting",
			ev:   protocol.ProgressEvent{Phase: protocol.PhaseReconnecting},
			want: "reconnecting: waiting for controller",
		},
		{
			name: "preparatory with message",
			ev: protocol.ProgressEvent{
				Phase:   protocol.PhaseLoadingMetadata,
				Message: "fetching library manifest",
			},
			want: "loading-metadata: fetching library manifest",
		},
		{
			name: "preparatory without message",
			ev:   protocol.ProgressEvent{Phase: protocol.PhaseStarting},
			want: "starting",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, renderProgress(&tt.ev))
		})
	}
}

func TestRenderProgressFixture(t *testing.T) {
	t.Parallel()

	ev := testutil.SampleDownloadProgress("game-7", 30)
	line := renderProgress(&ev)
	assert.Contains(t, line, "downloading game-7: 30%")
	assert.Contains(t, line, "MiB/s")
}

func TestProgressPrinterSuppressesDuplicates(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := &progressPrinter{out: &buf}

	ev := &protocol.ProgressEvent{Phase: protocol.PhaseDownloading, CurrentItemID: "game-1", PercentComplete: 10}
	p.update(ev, nil)
	p.update(ev, nil)
	assert.Equal(t, "downloading game-1: 10%\n", buf.String())

	ev.PercentComplete = 11
	p.update(ev, nil)
	assert.Contains(t, buf.String(), "downloading game-1: 11%\n")
}

func TestProgressPrinterNotificationWinsOverProjection(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := &progressPrinter{out: &buf}

	p.update(&protocol.ProgressEvent{Phase: protocol.PhaseIdle}, &engine.BackgroundCompletion{
		Message: "3 games updated",
	})
	assert.Equal(t, "Prefill finished while away: 3 games updated\n", buf.String())

	// The same notification repeated does not print twice.
	p.update(nil, &engine.BackgroundCompletion{Message: "3 games updated"})
	assert.Equal(t, "Prefill finished while away: 3 games updated\n", buf.String())
}

func TestProgressPrinterActivityResetsDedupe(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := &progressPrinter{out: &buf}

	ev := &protocol.ProgressEvent{Phase: protocol.PhaseDownloading, CurrentItemID: "game-1", PercentComplete: 50}
	p.update(ev, nil)
	p.activity("connection lost, reconnecting")
	p.update(ev, nil)

	want := "downloading game-1: 50%\nconnection lost, reconnecting\ndownloading game-1: 50%\n"
	assert.Equal(t, want, buf.String())
}

func TestProgressPrinterNilProjection(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := &progressPrinter{out: &buf}

	p.update(nil, nil)
	assert.Empty(t, buf.String())
}

func TestSessionExpiryKeepsWatching(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printer := &progressPrinter{out: &buf}
	eng := engine.New(durable.NewMemStore(), engine.Config{})

	finished := false
	onEnded, onExpired := sessionHooks(eng, printer, func() { finished = true })

	onExpired()
	assert.False(t, finished, "expiry must not stop the watcher")
	assert.Equal(t, "session expired; commands disabled until it renews\n", buf.String())

	onEnded()
	assert.True(t, finished)
	assert.Contains(t, buf.String(), "session ended by controller\n")
}

func TestRequestCancelFlipsEngineFirst(t *testing.T) {
	t.Parallel()

	eng := engine.New(durable.NewMemStore(), engine.Config{})
	mock := controller.NewMockClient()

	require.NoError(t, requestCancel(context.Background(), eng, mock, "sess-1"))
	assert.True(t, eng.CancelRequested())
	assert.Equal(t, []string{"sess-1"}, mock.CancelCalls())
}

func TestRequestCancelPropagatesControllerError(t *testing.T) {
	t.Parallel()

	eng := engine.New(durable.NewMemStore(), engine.Config{})
	mock := controller.NewMockClient()
	mock.SetCancelError(errors.New("no running job"))

	err := requestCancel(context.Background(), eng, mock, "sess-1")
	require.Error(t, err)
	// Suppression stays on even when the controller refuses; stale progress
	// from the doomed job must not repaint the display.
	assert.True(t, eng.CancelRequested())
}
