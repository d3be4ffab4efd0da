package controller

import (
	"context"
	"sync"

	"github.com/cachebay/prefill/internal/protocol"
)

// MockClient implements Client for tests. It records calls and returns
// configured results. Exported so other packages' tests can use it.
type MockClient struct {
	mu sync.Mutex

	// Configured responses
	startErr   error
	cancelErr  error
	lastResult *protocol.LastResult
	lastErr    error

	// Tracking
	startCalls  []MockStartCall
	cancelCalls []string
	lastCalls   []string
}

// MockStartCall records a StartPrefill call.
type MockStartCall struct {
	SessionID string
	Opts      StartOptions
}

// NewMockClient creates a MockClient that succeeds on every call and
// reports no last result.
func NewMockClient() *MockClient {
	return &MockClient{
		lastResult: &protocol.LastResult{Status: protocol.ResultNone},
	}
}

// SetStartError configures the StartPrefill result.
func (m *MockClient) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// SetCancelError configures the Cancel result.
func (m *MockClient) SetCancelError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelErr = err
}

// SetLastResult configures the LastResult reply.
func (m *MockClient) SetLastResult(result *protocol.LastResult, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastResult = result
	m.lastErr = err
}

// StartPrefill records the call and returns the configured error.
func (m *MockClient) StartPrefill(ctx context.Context, sessionID string, opts StartOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startCalls = append(m.startCalls, MockStartCall{SessionID: sessionID, Opts: opts})
	return m.startErr
}

// Cancel records the call and returns the configured error.
func (m *MockClient) Cancel(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCalls = append(m.cancelCalls, sessionID)
	return m.cancelErr
}

// LastResult records the call and returns the configured result.
func (m *MockClient) LastResult(ctx context.Context, sessionID string) (*protocol.LastResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCalls = append(m.lastCalls, sessionID)
	return m.lastResult, m.lastErr
}

// StartCalls returns the recorded StartPrefill calls.
func (m *MockClient) StartCalls() []MockStartCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockStartCall(nil), m.startCalls...)
}

// CancelCalls returns the recorded Cancel calls.
func (m *MockClient) CancelCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelCalls...)
}
