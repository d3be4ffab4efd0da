package engine

import (
	"context"
	"encoding/json"

	"github.com/cachebay/prefill/internal/durable"
	"github.com/cachebay/prefill/internal/protocol"
)

// Invoker issues request/response calls on the event channel.
// *transport.Channel satisfies it; tests use a scripted fake.
type Invoker interface {
	Invoke(ctx context.Context, method string, payload any) (json.RawMessage, error)
}

// Recover reconciles engine state with the controller after any period of
// missed push events: a transport reconnect or the application becoming
// visible again. Push events emitted while disconnected are lost by
// definition, so recovery pulls the last known job result instead of
// trusting resumed push delivery.
//
// Recover is idempotent: the same completion pulled twice produces at most
// one background completion. Query failures are logged and skipped; the
// next push event or recovery attempt self-corrects.
func (e *Engine) Recover(ctx context.Context, inv Invoker) {
	e.mu.Lock()
	sessionID := e.sessionID
	e.mu.Unlock()

	raw, err := inv.Invoke(ctx, protocol.MethodGetLastResult, &protocol.SubscribeRequest{SessionID: sessionID})
	if err != nil {
		e.logger.Warn("recovery query failed, skipping", "error", err)
		return
	}

	var result protocol.LastResult
	if err := json.Unmarshal(raw, &result); err != nil {
		e.logger.Warn("recovery query returned malformed result, skipping", "error", err)
		return
	}

	e.mu.Lock()
	switch result.Status {
	case protocol.ResultRunning:
		// The job is still going; push events will resume normal flow.
		e.mu.Unlock()
		return

	case protocol.ResultCompleted:
		e.applyRecoveredCompletionLocked(result)

	case protocol.ResultFailed, protocol.ResultCancelled, protocol.ResultNone:
		// Terminal without fanfare: drop any stale reconnecting
		// placeholder, no notification.
		e.cancelRequested = false
		e.runActive = false
		e.resetPacingLocked()
		if e.projection != nil && e.projection.Phase == protocol.PhaseReconnecting {
			e.projection = nil
		}
		if err := durable.ClearOperationMark(e.store); err != nil {
			e.logger.Warn("failed to clear operation watermark", "error", err)
		}

	default:
		e.logger.Warn("recovery query returned unknown status", "status", result.Status)
		e.mu.Unlock()
		return
	}

	cb := e.onUpdate
	e.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (e *Engine) applyRecoveredCompletionLocked(result protocol.LastResult) {
	e.cancelRequested = false
	e.runActive = false
	e.resetPacingLocked()
	e.projection = nil
	if err := durable.ClearOperationMark(e.store); err != nil {
		e.logger.Warn("failed to clear operation watermark", "error", err)
	}

	if result.CompletedAt.IsZero() {
		return
	}
	if e.clock.Now().Sub(result.CompletedAt) > e.cfg.RecencyWindow {
		// Old news; the user has long moved on.
		return
	}
	if e.notification != nil {
		// At most one live instance; a duplicate pull must not stack.
		return
	}
	if durable.CompletionSeen(e.store, result.CompletedAt) {
		return
	}

	e.logger.Info("surfacing completion that happened while disconnected",
		"completed_at", result.CompletedAt)
	e.surfaceCompletionLocked(BackgroundCompletion{
		CompletedAt:     result.CompletedAt,
		Message:         result.Message,
		DurationSeconds: result.DurationSeconds,
	})
}
