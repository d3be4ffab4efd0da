// Package session holds the authoritative local copy of the controller
// session: identity, expiry countdown, and authentication sub-state. Expiry
// is detected locally from the countdown rather than waiting for the server,
// so the user is never offered commands a dying session would reject.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/cachebay/prefill/internal/protocol"
)

// Phase is the lifecycle state of the local session record.
type Phase string

const (
	PhaseNone         Phase = "none"
	PhaseInitializing Phase = "initializing"
	PhaseActive       Phase = "active"
	PhaseExpired      Phase = "expired"
	PhaseEnded        Phase = "ended"
)

// Clock supplies the current time; injectable for countdown tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Invoker issues request/response calls on the event channel.
type Invoker interface {
	Invoke(ctx context.Context, method string, payload any) (json.RawMessage, error)
}

// Snapshot is a read-only copy of the session state for the presentation
// layer.
type Snapshot struct {
	Phase     Phase
	Info      protocol.SessionInfo
	Remaining time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the store clock.
func WithClock(clock Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// WithLogger sets the store logger.
func WithLogger(logger hclog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// Store is the local session record and its countdown.
type Store struct {
	clock  Clock
	logger hclog.Logger

	mu        sync.Mutex
	phase     Phase
	info      protocol.SessionInfo
	remaining time.Duration

	onChange  func(Snapshot)
	onExpired func()
	onEnded   func()
}

// NewStore creates an empty Store in the None phase.
func NewStore(opts ...Option) *Store {
	s := &Store{
		clock:  systemClock{},
		logger: hclog.NewNullLogger(),
		phase:  PhaseNone,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers a callback fired on every state transition and
// countdown tick. It runs outside the store lock.
func (s *Store) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// OnExpired registers a callback fired once when the countdown hits zero.
func (s *Store) OnExpired(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExpired = fn
}

// OnEnded registers a callback fired when the server terminates the
// session. Per-session durable state is expected to be cleared there.
func (s *Store) OnEnded(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = fn
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Phase: s.phase, Info: s.info, Remaining: s.remaining}
}

// CanIssueCommands reports whether new commands may be sent against the
// session. Only an Active session accepts commands.
func (s *Store) CanIssueCommands() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase == PhaseActive
}

// Attach discovers an already-live session before offering to create a new
// one, so a running job behind a forgotten tab is adopted instead of
// orphaned. On success the store is Active.
func (s *Store) Attach(ctx context.Context, inv Invoker) (Snapshot, error) {
	s.setPhase(PhaseInitializing)

	info, err := s.fetchSession(ctx, inv, protocol.MethodGetSession)
	if err != nil || info == nil || info.Status != protocol.SessionActive {
		info, err = s.fetchSession(ctx, inv, protocol.MethodCreateSession)
		if err != nil {
			s.setPhase(PhaseNone)
			return s.Snapshot(), fmt.Errorf("failed to attach session: %w", err)
		}
	}

	s.mu.Lock()
	s.phase = PhaseActive
	s.info = *info
	s.remaining = s.info.ExpiresAt.Sub(s.clock.Now())
	s.mu.Unlock()

	s.emitChange()
	return s.Snapshot(), nil
}

func (s *Store) fetchSession(ctx context.Context, inv Invoker, method string) (*protocol.SessionInfo, error) {
	raw, err := inv.Invoke(ctx, method, nil)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var info protocol.SessionInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	if info.ID == "" {
		return nil, nil
	}
	return &info, nil
}

// Run drives the expiry countdown at one tick per second until ctx is
// canceled or the session leaves the Active phase.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.tick() {
				return
			}
		}
	}
}

// tick recomputes the remaining lifetime and transitions to Expired at
// zero. Returns false once the session is no longer Active.
func (s *Store) tick() bool {
	s.mu.Lock()
	if s.phase != PhaseActive {
		s.mu.Unlock()
		return false
	}

	s.remaining = s.info.ExpiresAt.Sub(s.clock.Now())
	expired := s.remaining <= 0
	var onExpired func()
	if expired {
		// The server will imminently reject commands anyway; do not wait
		// for it to confirm.
		s.remaining = 0
		s.phase = PhaseExpired
		s.info.Status = protocol.SessionExpired
		onExpired = s.onExpired
	}
	s.mu.Unlock()

	s.emitChange()
	if onExpired != nil {
		onExpired()
	}
	return !expired
}

// HandleSessionEnded applies a server-pushed termination: ended by owner,
// by admin, or by a server-confirmed timeout.
func (s *Store) HandleSessionEnded(info *protocol.SessionInfo) {
	s.mu.Lock()
	if s.phase == PhaseEnded {
		s.mu.Unlock()
		return
	}
	s.phase = PhaseEnded
	if info != nil {
		s.info = *info
	}
	s.info.Status = protocol.SessionEnded
	s.remaining = 0
	onEnded := s.onEnded
	s.mu.Unlock()

	s.logger.Info("session ended by server", "session_id", s.ID())
	s.emitChange()
	if onEnded != nil {
		onEnded()
	}
}

// HandleExpiryUpdate applies a server-pushed expiry extension.
func (s *Store) HandleExpiryUpdate(info *protocol.SessionInfo) {
	if info == nil {
		return
	}
	s.mu.Lock()
	if s.phase == PhaseActive && info.ID == s.info.ID {
		s.info.ExpiresAt = info.ExpiresAt
		s.remaining = s.info.ExpiresAt.Sub(s.clock.Now())
	}
	s.mu.Unlock()
	s.emitChange()
}

// HandleAuthChallenge applies a server-pushed authentication challenge.
func (s *Store) HandleAuthChallenge(challenge *protocol.AuthChallenge) {
	if challenge == nil {
		return
	}
	s.mu.Lock()
	if challenge.SessionID == s.info.ID {
		s.info.AuthState = challenge.Required
	}
	s.mu.Unlock()
	s.emitChange()
}

// End asks the controller to terminate the session, then applies the
// termination locally without waiting for the push event.
func (s *Store) End(ctx context.Context, inv Invoker) error {
	if !s.CanIssueCommands() {
		return fmt.Errorf("session is not active")
	}

	if _, err := inv.Invoke(ctx, protocol.MethodEndSession, nil); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}

	s.HandleSessionEnded(nil)
	return nil
}

// ID returns the session id, or "" before attach.
func (s *Store) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.ID
}

func (s *Store) setPhase(phase Phase) {
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
	s.emitChange()
}

func (s *Store) emitChange() {
	s.mu.Lock()
	fn := s.onChange
	snap := Snapshot{Phase: s.phase, Info: s.info, Remaining: s.remaining}
	s.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}
