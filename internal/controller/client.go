// Package controller provides the job control client: the thin
// request/response surface used to start, cancel, and query prefill jobs.
// It carries no policy of its own; it forwards user intent to the
// controller and reports the synchronous outcome.
package controller

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cachebay/prefill/internal/protocol"
)

// Invoker issues request/response calls on the event channel.
type Invoker interface {
	Invoke(ctx context.Context, method string, payload any) (json.RawMessage, error)
}

// StartOptions selects what a prefill run covers.
type StartOptions struct {
	// ItemIDs selects specific items. Ignored when All is set.
	ItemIDs []string

	// All prefills every item in the library.
	All bool

	// ForceRefresh re-downloads items even when already cached.
	ForceRefresh bool
}

// Client defines the job control operations.
type Client interface {
	// StartPrefill submits a prefill run for the session.
	StartPrefill(ctx context.Context, sessionID string, opts StartOptions) error

	// Cancel requests cancellation of the running job.
	Cancel(ctx context.Context, sessionID string) error

	// LastResult pulls the last known job result for the session.
	LastResult(ctx context.Context, sessionID string) (*protocol.LastResult, error)
}

// ChannelClient implements Client over the event channel.
type ChannelClient struct {
	inv Invoker
}

// NewChannelClient creates a ChannelClient invoking through inv.
func NewChannelClient(inv Invoker) *ChannelClient {
	return &ChannelClient{inv: inv}
}

// StartPrefill submits a prefill run for the session.
func (c *ChannelClient) StartPrefill(ctx context.Context, sessionID string, opts StartOptions) error {
	raw, err := c.inv.Invoke(ctx, protocol.MethodStartPrefill, &protocol.StartPrefillRequest{
		SessionID:    sessionID,
		ItemIDs:      opts.ItemIDs,
		All:          opts.All,
		ForceRefresh: opts.ForceRefresh,
	})
	if err != nil {
		return fmt.Errorf("failed to start prefill: %w", err)
	}
	return decodeCommandResult(raw, "start prefill")
}

// Cancel requests cancellation of the running job.
func (c *ChannelClient) Cancel(ctx context.Context, sessionID string) error {
	raw, err := c.inv.Invoke(ctx, protocol.MethodCancelPrefill, &protocol.SubscribeRequest{
		SessionID: sessionID,
	})
	if err != nil {
		return fmt.Errorf("failed to cancel prefill: %w", err)
	}
	return decodeCommandResult(raw, "cancel prefill")
}

// LastResult pulls the last known job result for the session.
func (c *ChannelClient) LastResult(ctx context.Context, sessionID string) (*protocol.LastResult, error) {
	raw, err := c.inv.Invoke(ctx, protocol.MethodGetLastResult, &protocol.SubscribeRequest{
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query last result: %w", err)
	}

	var result protocol.LastResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode last result: %w", err)
	}
	return &result, nil
}

func decodeCommandResult(raw json.RawMessage, op string) error {
	var result protocol.CommandResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", op, err)
	}
	if !result.Success {
		if result.Error != "" {
			return fmt.Errorf("%s rejected: %s", op, result.Error)
		}
		return fmt.Errorf("%s rejected", op)
	}
	return nil
}
