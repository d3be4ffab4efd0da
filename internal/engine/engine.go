// Package engine implements the progress state machine at the heart of the
// prefill client: it classifies inbound job-status events into a single
// projected view, paces bursts of already-satisfied items into a perceivable
// animated sequence, reconciles state after missed events, and suppresses
// stale events after a user cancellation.
package engine

import (
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/cachebay/prefill/internal/durable"
	"github.com/cachebay/prefill/internal/protocol"
)

// Config holds the tunable windows and pacing durations.
type Config struct {
	// AnimationDuration is how long one already-satisfied item animates
	// from 0 to 100 percent.
	AnimationDuration time.Duration

	// AnimationTick is the interval between synthetic progress steps.
	AnimationTick time.Duration

	// SettleDelay is the pause at 100% before the next queued item starts.
	SettleDelay time.Duration

	// RecencyWindow bounds how old a pulled completion may be and still be
	// surfaced as a background completion.
	RecencyWindow time.Duration

	// StalenessBound bounds how old the durable operation watermark may be
	// and still produce a synthetic reconnecting projection on startup.
	StalenessBound time.Duration

	// NotificationTimeout clears an undismissed background completion.
	NotificationTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.AnimationDuration <= 0 {
		c.AnimationDuration = 2 * time.Second
	}
	if c.AnimationTick <= 0 {
		c.AnimationTick = 100 * time.Millisecond
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 300 * time.Millisecond
	}
	if c.RecencyWindow <= 0 {
		c.RecencyWindow = 5 * time.Minute
	}
	if c.StalenessBound <= 0 {
		c.StalenessBound = 6 * time.Hour
	}
	if c.NotificationTimeout <= 0 {
		c.NotificationTimeout = 30 * time.Second
	}
	return c
}

// AnimationItem is a queued already-satisfied event, stripped to what the
// synthetic animation needs.
type AnimationItem struct {
	ItemID     string
	ItemName   string
	TotalBytes int64
}

// BackgroundCompletion is the one-shot notification for a job that finished
// while the user was not watching live progress.
type BackgroundCompletion struct {
	CompletedAt     time.Time
	Message         string
	DurationSeconds float64
}

// Totals accumulates what the current run has actually transferred.
type Totals struct {
	ItemsDownloaded  int
	BytesTransferred int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the engine clock.
func WithClock(clock Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithScheduler sets the pacing scheduler.
func WithScheduler(sched Scheduler) Option {
	return func(e *Engine) { e.sched = sched }
}

// WithLogger sets the engine logger.
func WithLogger(logger hclog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithActivitySink sets the sink for human-readable activity lines.
func WithActivitySink(sink func(string)) Option {
	return func(e *Engine) { e.activity = sink }
}

// Engine is the progress synchronization state machine. All state lives
// behind one mutex; handlers and scheduler ticks interleave, they never run
// state transitions in parallel.
type Engine struct {
	cfg    Config
	clock  Clock
	sched  Scheduler
	store  durable.Store
	logger hclog.Logger

	activity func(string)

	mu              sync.Mutex
	projection      *protocol.ProgressEvent
	cancelRequested bool
	watching        bool
	sessionID       string
	totals          Totals

	// runActive tracks whether a job run is in flight. It flips on via
	// JobStarted or the first observed event of a run, and off on any
	// terminal outcome, so totals restart at run boundaries even when the
	// run was started by another process.
	runActive bool

	// Pacing queue state. animating is empty when no synthetic animation
	// is in flight; generation invalidates scheduled ticks after a reset.
	queue      []AnimationItem
	animating  string
	generation uint64

	notification *BackgroundCompletion
	cancelNotify func()

	onUpdate func()
}

// New creates an Engine persisting through store.
func New(store durable.Store, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:      cfg.withDefaults(),
		clock:    SystemClock(),
		sched:    SystemScheduler(),
		store:    store,
		logger:   hclog.NewNullLogger(),
		watching: true,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnUpdate registers a callback fired after the projection, totals, or
// notification change. It runs outside the engine lock and may read state.
func (e *Engine) OnUpdate(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onUpdate = fn
}

// Projection returns a copy of the current projected progress, or nil when
// nothing should be displayed.
func (e *Engine) Projection() *protocol.ProgressEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.projection == nil {
		return nil
	}
	p := *e.projection
	return &p
}

// Totals returns the downloaded-items and bytes counters for this run.
func (e *Engine) Totals() Totals {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totals
}

// CancelRequested reports whether cancellation suppression is active.
func (e *Engine) CancelRequested() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelRequested
}

// SetWatching records whether the user is actively watching live progress.
// A completion that arrives while not watching is surfaced as a
// BackgroundCompletion instead of passing silently.
func (e *Engine) SetWatching(watching bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watching = watching
}

// SessionID returns the session the engine is tracking.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// SetSessionID records the session the engine is tracking.
func (e *Engine) SetSessionID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessionID = id
}

// emptyRunPattern matches preparatory messages that announce zero eligible
// items, e.g. "Queued 0 games for prefill" or "No items need updating".
var emptyRunPattern = regexp.MustCompile(`(?i)\b(0|no)\s+(games?|items?)\b`)

// HandleProgress applies one inbound job-status event to the projection.
func (e *Engine) HandleProgress(ev protocol.ProgressEvent) {
	e.mu.Lock()
	lines := e.handleProgressLocked(ev)
	cb := e.onUpdate
	sink := e.activity
	e.mu.Unlock()

	if sink != nil {
		for _, line := range lines {
			sink(line)
		}
	}
	if cb != nil {
		cb()
	}
}

func (e *Engine) handleProgressLocked(ev protocol.ProgressEvent) []string {
	// Once cancellation is requested every event is ignored until a
	// terminal phase; a stale downloading event already in flight must not
	// resurrect the progress bar the user just dismissed.
	if e.cancelRequested && !ev.Phase.Terminal() {
		e.logger.Debug("suppressing event during cancellation", "phase", ev.Phase)
		return nil
	}

	// A non-terminal event with no run in flight means a new run began,
	// possibly started by another process.
	if !e.runActive && !ev.Phase.Terminal() {
		e.beginRunLocked()
	}

	switch {
	case ev.Phase.Preparatory():
		if emptyRunPattern.MatchString(ev.Message) {
			// No eligible work means no progress bar at all.
			e.projection = nil
			return nil
		}
		e.projection = &protocol.ProgressEvent{Phase: ev.Phase, Message: ev.Message}
		return nil

	case ev.Phase == protocol.PhaseDownloading:
		if e.animating != "" && e.animating != ev.CurrentItemID {
			// A synthetic animation is playing for another item; the next
			// real event will land once it finishes.
			return nil
		}
		copied := ev
		e.projection = &copied
		return nil

	case ev.Phase == protocol.PhaseAlreadySatisfied:
		e.enqueueLocked(AnimationItem{
			ItemID:     ev.CurrentItemID,
			ItemName:   ev.CurrentItemName,
			TotalBytes: ev.TotalBytes,
		})
		return nil

	case ev.Phase == protocol.PhaseItemCompleted:
		e.animating = ""
		e.totals.ItemsDownloaded++
		e.totals.BytesTransferred += ev.BytesTransferred

		done := ev
		done.PercentComplete = 100
		e.projection = &done

		line := done.ItemLabel() + " downloaded (" + protocol.FormatBytes(ev.BytesTransferred) + ")"

		if len(e.queue) > 0 {
			// Let the 100% state render before the next queued animation
			// replaces it.
			gen := e.generation
			e.sched.AfterFunc(e.cfg.SettleDelay, func() {
				e.resumeQueueAfterSettle(gen)
			})
		}
		return []string{line}

	case ev.Phase.Terminal():
		return e.handleTerminalLocked(ev)
	}

	e.logger.Debug("ignoring unknown phase", "phase", ev.Phase)
	return nil
}

func (e *Engine) handleTerminalLocked(ev protocol.ProgressEvent) []string {
	e.cancelRequested = false
	e.runActive = false
	e.resetPacingLocked()
	e.projection = nil

	if err := durable.ClearOperationMark(e.store); err != nil {
		e.logger.Warn("failed to clear operation watermark", "error", err)
	}

	var lines []string
	switch ev.Phase {
	case protocol.PhaseCompleted:
		lines = append(lines, "prefill completed: "+
			protocol.FormatBytes(e.totals.BytesTransferred)+" across "+
			itemCount(e.totals.ItemsDownloaded))
		if !e.watching {
			e.surfaceCompletionLocked(BackgroundCompletion{
				CompletedAt:     e.clock.Now(),
				Message:         ev.Message,
				DurationSeconds: ev.ElapsedSeconds,
			})
		}
	case protocol.PhaseFailed:
		if ev.Message != "" {
			lines = append(lines, "prefill failed: "+ev.Message)
		} else {
			lines = append(lines, "prefill failed")
		}
	case protocol.PhaseCancelled:
		lines = append(lines, "prefill cancelled")
	}
	return lines
}

// JobStarted resets the engine for a fresh run and writes the durable
// watermark so a reload mid-job still knows work is in progress.
func (e *Engine) JobStarted(sessionID string) {
	e.mu.Lock()
	e.sessionID = sessionID
	e.cancelRequested = false
	e.resetPacingLocked()
	e.beginRunLocked()
	e.projection = &protocol.ProgressEvent{Phase: protocol.PhaseStarting}
	e.clearNotificationLocked()
	cb := e.onUpdate
	e.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// beginRunLocked marks a run in flight: totals restart and the durable
// watermark records that work is in progress.
func (e *Engine) beginRunLocked() {
	e.runActive = true
	e.totals = Totals{}
	if err := durable.SaveOperationMark(e.store, durable.OperationMark{
		StartedAt: e.clock.Now(),
		SessionID: e.sessionID,
	}); err != nil {
		e.logger.Warn("failed to write operation watermark", "error", err)
	}
}

// RequestCancel flips the cancellation guard and dismisses the progress
// display. The caller is responsible for forwarding the cancel to the
// controller; the flag stays set until a terminal phase is observed.
func (e *Engine) RequestCancel() {
	e.mu.Lock()
	e.cancelRequested = true
	e.resetPacingLocked()
	e.projection = nil
	cb := e.onUpdate
	e.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// InitFromWatermark projects a synthetic reconnecting placeholder when a
// fresh durable watermark shows a job was running before this process
// started. Returns the recorded session id, or "" when no fresh watermark
// exists. Stale watermarks are deleted, never projected.
func (e *Engine) InitFromWatermark() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	mark, ok := durable.LoadOperationMark(e.store, e.clock.Now(), e.cfg.StalenessBound)
	if !ok {
		return ""
	}

	e.sessionID = mark.SessionID
	e.runActive = true
	e.projection = &protocol.ProgressEvent{
		Phase:   protocol.PhaseReconnecting,
		Message: "Reconnecting to prefill in progress",
	}
	return mark.SessionID
}

// SessionClosed clears every per-session durable record and resets the
// engine. Called when the server reports the session ended.
func (e *Engine) SessionClosed() {
	e.mu.Lock()
	e.sessionID = ""
	e.cancelRequested = false
	e.runActive = false
	e.resetPacingLocked()
	e.projection = nil
	e.clearNotificationLocked()
	if err := durable.ClearOperationMark(e.store); err != nil {
		e.logger.Warn("failed to clear operation watermark", "error", err)
	}
	if err := durable.ClearCompletions(e.store); err != nil {
		e.logger.Warn("failed to clear completion set", "error", err)
	}
	cb := e.onUpdate
	e.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Notification returns a copy of the live background completion, if any.
func (e *Engine) Notification() *BackgroundCompletion {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.notification == nil {
		return nil
	}
	n := *e.notification
	return &n
}

// DismissNotification clears the live background completion and records it
// as surfaced so a later recovery pull cannot bring it back.
func (e *Engine) DismissNotification() {
	e.mu.Lock()
	if e.notification != nil {
		if err := durable.MarkCompletionSeen(e.store, e.notification.CompletedAt); err != nil {
			e.logger.Warn("failed to record dismissed completion", "error", err)
		}
	}
	e.clearNotificationLocked()
	cb := e.onUpdate
	e.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// surfaceCompletionLocked installs the one live BackgroundCompletion,
// superseding any previous one, and arms its timeout.
func (e *Engine) surfaceCompletionLocked(n BackgroundCompletion) {
	e.clearNotificationLocked()
	e.notification = &n

	if err := durable.MarkCompletionSeen(e.store, n.CompletedAt); err != nil {
		e.logger.Warn("failed to record surfaced completion", "error", err)
	}

	completedAt := n.CompletedAt
	e.cancelNotify = e.sched.AfterFunc(e.cfg.NotificationTimeout, func() {
		e.mu.Lock()
		if e.notification != nil && e.notification.CompletedAt.Equal(completedAt) {
			e.notification = nil
			e.cancelNotify = nil
		}
		cb := e.onUpdate
		e.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
}

func (e *Engine) clearNotificationLocked() {
	if e.cancelNotify != nil {
		e.cancelNotify()
		e.cancelNotify = nil
	}
	e.notification = nil
}

func itemCount(n int) string {
	if n == 1 {
		return "1 item"
	}
	return strconv.Itoa(n) + " items"
}
