package controller

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachebay/prefill/internal/protocol"
)

// scriptedInvoker replies per method and records every call.
type scriptedInvoker struct {
	replies map[string]json.RawMessage
	errs    map[string]error
	calls   []invokedCall
}

type invokedCall struct {
	method  string
	payload any
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{
		replies: make(map[string]json.RawMessage),
		errs:    make(map[string]error),
	}
}

func (s *scriptedInvoker) Invoke(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	s.calls = append(s.calls, invokedCall{method: method, payload: payload})
	if err := s.errs[method]; err != nil {
		return nil, err
	}
	if raw, ok := s.replies[method]; ok {
		return raw, nil
	}
	return json.RawMessage(`{"success":true}`), nil
}

func TestStartPrefill(t *testing.T) {
	t.Parallel()

	t.Run("sends selection and succeeds", func(t *testing.T) {
		t.Parallel()

		inv := newScriptedInvoker()
		client := NewChannelClient(inv)

		err := client.StartPrefill(context.Background(), "sess-1", StartOptions{
			ItemIDs: []string{"item-a", "item-b"},
		})
		require.NoError(t, err)

		require.Len(t, inv.calls, 1)
		assert.Equal(t, protocol.MethodStartPrefill, inv.calls[0].method)
		req, ok := inv.calls[0].payload.(*protocol.StartPrefillRequest)
		require.True(t, ok)
		assert.Equal(t, "sess-1", req.SessionID)
		assert.Equal(t, []string{"item-a", "item-b"}, req.ItemIDs)
		assert.False(t, req.All)
	})

	t.Run("surfaces rejection message", func(t *testing.T) {
		t.Parallel()

		inv := newScriptedInvoker()
		inv.replies[protocol.MethodStartPrefill] = json.RawMessage(`{"success":false,"error":"job already running"}`)
		client := NewChannelClient(inv)

		err := client.StartPrefill(context.Background(), "sess-1", StartOptions{All: true})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "job already running")
	})

	t.Run("wraps transport error", func(t *testing.T) {
		t.Parallel()

		transportErr := errors.New("connection lost")
		inv := newScriptedInvoker()
		inv.errs[protocol.MethodStartPrefill] = transportErr
		client := NewChannelClient(inv)

		err := client.StartPrefill(context.Background(), "sess-1", StartOptions{All: true})
		require.Error(t, err)
		assert.ErrorIs(t, err, transportErr)
	})
}

func TestCancel(t *testing.T) {
	t.Parallel()

	t.Run("succeeds", func(t *testing.T) {
		t.Parallel()

		inv := newScriptedInvoker()
		client := NewChannelClient(inv)

		err := client.Cancel(context.Background(), "sess-1")
		require.NoError(t, err)

		require.Len(t, inv.calls, 1)
		assert.Equal(t, protocol.MethodCancelPrefill, inv.calls[0].method)
	})

	t.Run("rejection without message", func(t *testing.T) {
		t.Parallel()

		inv := newScriptedInvoker()
		inv.replies[protocol.MethodCancelPrefill] = json.RawMessage(`{"success":false}`)
		client := NewChannelClient(inv)

		err := client.Cancel(context.Background(), "sess-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rejected")
	})
}

func TestLastResult(t *testing.T) {
	t.Parallel()

	t.Run("decodes completed result", func(t *testing.T) {
		t.Parallel()

		completedAt := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
		inv := newScriptedInvoker()
		raw, err := json.Marshal(&protocol.LastResult{
			Status:          protocol.ResultCompleted,
			Message:         "12 items updated",
			CompletedAt:     completedAt,
			DurationSeconds: 84,
		})
		require.NoError(t, err)
		inv.replies[protocol.MethodGetLastResult] = raw

		client := NewChannelClient(inv)
		result, err := client.LastResult(context.Background(), "sess-1")
		require.NoError(t, err)
		assert.Equal(t, protocol.ResultCompleted, result.Status)
		assert.Equal(t, "12 items updated", result.Message)
		assert.True(t, result.CompletedAt.Equal(completedAt))
	})

	t.Run("malformed reply", func(t *testing.T) {
		t.Parallel()

		inv := newScriptedInvoker()
		inv.replies[protocol.MethodGetLastResult] = json.RawMessage(`"not an object"`)
		client := NewChannelClient(inv)

		_, err := client.LastResult(context.Background(), "sess-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to decode last result")
	})
}
