// Package conn owns the single logical connection to the prefill
// controller. It deduplicates concurrent connect requests, re-runs the
// session subscription handshake after every reconnect, and triggers the
// recovery protocol before declaring the session synchronized again.
package conn

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/cachebay/prefill/internal/protocol"
	"github.com/cachebay/prefill/internal/transport"
)

// Channel is the slice of the transport surface the manager needs. It is an
// interface so tests substitute a fake for *transport.Channel.
type Channel interface {
	Invoke(ctx context.Context, method string, payload any) (json.RawMessage, error)
	On(eventType protocol.EventType, handler transport.Handler)
	Off(eventType protocol.EventType)
	OnReconnecting(fn func())
	OnReconnected(fn func())
	State() transport.State
	Close() error
}

// Status is the manager's client-visible connection state.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
)

// resyncTimeout bounds the post-reconnect handshake plus recovery pull.
const resyncTimeout = 30 * time.Second

// DialFunc establishes one connection to the controller.
type DialFunc func(ctx context.Context) (Channel, error)

// RecoveryFunc reconciles engine state over a freshly usable channel.
type RecoveryFunc func(ctx context.Context, ch Channel)

type attempt struct {
	done    chan struct{}
	channel Channel
	err     error
}

// Manager holds at most one live channel and serializes connect requests.
type Manager struct {
	dial   DialFunc
	logger hclog.Logger

	mu            sync.Mutex
	channel       Channel
	inflight      *attempt
	sessionID     string
	recovery      RecoveryFunc
	onStateChange func(Status)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger hclog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager that connects through dial.
func NewManager(dial DialFunc, opts ...Option) *Manager {
	m := &Manager{
		dial:   dial,
		logger: hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnStateChange registers a callback for connected/reconnecting transitions
// so the UI can show a degraded state.
func (m *Manager) OnStateChange(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// SetRecovery registers the recovery protocol run after every reconnect and
// on Resume.
func (m *Manager) SetRecovery(fn RecoveryFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recovery = fn
}

// Connect returns the live channel, establishing it if necessary. A second
// caller while a connect is in flight receives the same in-flight result
// rather than starting a second connection.
func (m *Manager) Connect(ctx context.Context) (Channel, error) {
	m.mu.Lock()
	if m.channel != nil && m.channel.State() != transport.StateClosed {
		ch := m.channel
		m.mu.Unlock()
		return ch, nil
	}

	if m.inflight != nil {
		pending := m.inflight
		m.mu.Unlock()
		select {
		case <-pending.done:
			return pending.channel, pending.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	pending := &attempt{done: make(chan struct{})}
	m.inflight = pending
	m.mu.Unlock()

	ch, err := m.dial(ctx)

	m.mu.Lock()
	m.inflight = nil
	if err == nil {
		m.channel = ch
		m.wireLocked(ch)
	}
	m.mu.Unlock()

	pending.channel = ch
	pending.err = err
	close(pending.done)
	return ch, err
}

func (m *Manager) wireLocked(ch Channel) {
	ch.OnReconnecting(func() {
		m.emit(StatusReconnecting)
	})
	ch.OnReconnected(func() {
		m.resync(ch)
	})
}

// resync re-runs the subscription handshake and the recovery protocol, then
// declares the connection synchronized. Subscriptions are not assumed to
// survive a reconnect server-side.
func (m *Manager) resync(ch Channel) {
	ctx, cancel := context.WithTimeout(context.Background(), resyncTimeout)
	defer cancel()

	m.mu.Lock()
	sessionID := m.sessionID
	rec := m.recovery
	m.mu.Unlock()

	if sessionID != "" {
		if err := m.subscribe(ctx, ch, sessionID); err != nil {
			m.logger.Warn("failed to resubscribe after reconnect", "error", err)
		}
	}

	if rec != nil {
		rec(ctx, ch)
	}

	m.emit(StatusConnected)
}

// Subscribe runs the subscription handshake for sessionID and remembers it
// for post-reconnect resubscription.
func (m *Manager) Subscribe(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	ch := m.channel
	m.sessionID = sessionID
	m.mu.Unlock()

	if ch == nil {
		return transport.ErrConnectionLost
	}
	return m.subscribe(ctx, ch, sessionID)
}

func (m *Manager) subscribe(ctx context.Context, ch Channel, sessionID string) error {
	_, err := ch.Invoke(ctx, protocol.MethodSubscribeToSession,
		&protocol.SubscribeRequest{SessionID: sessionID})
	return err
}

// Resume runs the recovery protocol on the live channel. Intended to be
// called when the application becomes visible again after being hidden;
// events pushed while hidden may have been dropped by a suspended runtime.
func (m *Manager) Resume(ctx context.Context) {
	m.mu.Lock()
	ch := m.channel
	rec := m.recovery
	m.mu.Unlock()

	if ch == nil || ch.State() != transport.StateConnected || rec == nil {
		return
	}
	rec(ctx, ch)
}

// Channel returns the current channel, or nil when not connected.
func (m *Manager) Channel() Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.channel
}

// Close shuts down the live channel, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	ch := m.channel
	m.channel = nil
	m.sessionID = ""
	m.mu.Unlock()

	if ch == nil {
		return nil
	}
	err := ch.Close()
	m.emit(StatusDisconnected)
	return err
}

func (m *Manager) emit(status Status) {
	m.mu.Lock()
	fn := m.onStateChange
	m.mu.Unlock()
	if fn != nil {
		fn(status)
	}
}
