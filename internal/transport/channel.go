// Package transport provides the bidirectional event channel to the prefill
// controller. A Channel multiplexes ordered push events and request/response
// invokes over a single websocket connection, and redials automatically when
// the connection drops.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/cachebay/prefill/internal/protocol"
)

// State describes the connection state of a Channel.
type State string

const (
	// StateConnected means the websocket is up and events are flowing.
	StateConnected State = "connected"
	// StateReconnecting means the websocket dropped and redialing is underway.
	StateReconnecting State = "reconnecting"
	// StateClosed means the channel was closed and will not redial.
	StateClosed State = "closed"
)

var (
	// ErrConnectionLost is returned by Invoke when the connection drops
	// before a reply arrives. Replies are not buffered server-side, so the
	// call must be reissued after reconnection.
	ErrConnectionLost = errors.New("connection lost before reply")

	// ErrChannelClosed is returned by Invoke on a closed channel.
	ErrChannelClosed = errors.New("channel is closed")
)

// Handler processes one push event. Handlers run on the read loop goroutine,
// one at a time, in server-emission order.
type Handler func(*protocol.Event)

// Channel is one logical websocket connection to the controller.
type Channel struct {
	url               string
	authToken         string
	reconnectInterval time.Duration
	dialer            *websocket.Dialer
	logger            hclog.Logger

	// writeMu serializes websocket writes; gorilla permits one writer.
	writeMu sync.Mutex

	mu             sync.Mutex
	conn           *websocket.Conn
	state          State
	handlers       map[protocol.EventType]Handler
	pending        map[string]chan invokeReply
	onReconnecting func()
	onReconnected  func()
	closed         chan struct{}
	done           chan struct{}
}

type invokeReply struct {
	result json.RawMessage
	err    error
}

// frame is the single wire envelope. A frame with a non-empty ID is an
// invoke request or reply; otherwise it is a push event.
type frame struct {
	ID     string          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	Type      protocol.EventType `json:"type,omitempty"`
	Timestamp time.Time          `json:"timestamp,omitempty"`
	Data      json.RawMessage    `json:"data,omitempty"`
}

// Option configures a Channel.
type Option func(*Channel)

// WithAuthToken sets the bearer token sent on the dial handshake.
func WithAuthToken(token string) Option {
	return func(c *Channel) {
		c.authToken = token
	}
}

// WithReconnectInterval sets the interval between redial attempts.
func WithReconnectInterval(interval time.Duration) Option {
	return func(c *Channel) {
		c.reconnectInterval = interval
	}
}

// WithDialer sets a custom websocket dialer.
func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Channel) {
		c.dialer = dialer
	}
}

// WithLogger sets the channel logger.
func WithLogger(logger hclog.Logger) Option {
	return func(c *Channel) {
		c.logger = logger
	}
}

// Dial connects to the controller at url and returns a live Channel. The
// initial dial is synchronous; after it succeeds the channel maintains the
// connection itself until Close is called or ctx is canceled.
func Dial(ctx context.Context, url string, opts ...Option) (*Channel, error) {
	c := &Channel{
		url:               url,
		reconnectInterval: 5 * time.Second,
		dialer:            websocket.DefaultDialer,
		logger:            hclog.NewNullLogger(),
		handlers:          make(map[protocol.EventType]Handler),
		pending:           make(map[string]chan invokeReply),
		closed:            make(chan struct{}),
		done:              make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to controller: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	go c.run(ctx)

	return c, nil
}

func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.authToken != "" {
		header.Set("Authorization", "Bearer "+c.authToken)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// run owns the connection lifecycle: read until failure, then redial at a
// fixed interval until Close or context cancellation.
func (c *Channel) run(ctx context.Context) {
	defer close(c.done)

	for {
		c.readLoop()

		if c.isClosed() || ctx.Err() != nil {
			return
		}

		c.enterReconnecting()

		if !c.redial(ctx) {
			return
		}

		c.mu.Lock()
		cb := c.onReconnected
		c.mu.Unlock()
		if cb != nil {
			// Run concurrently: the callback is expected to Invoke the
			// subscription handshake, and replies can only be read once
			// the read loop resumes below.
			go cb()
		}
	}
}

// readLoop reads frames until the connection fails or the channel closes.
func (c *Channel) readLoop() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.logger.Debug("read failed", "error", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		if f.ID != "" {
			c.deliverReply(f)
			continue
		}

		c.dispatch(f)
	}
}

func (c *Channel) deliverReply(f frame) {
	c.mu.Lock()
	ch, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("reply for unknown invoke", "id", f.ID)
		return
	}

	reply := invokeReply{result: f.Result}
	if f.Error != "" {
		reply.err = errors.New(f.Error)
	}
	ch <- reply
}

func (c *Channel) dispatch(f frame) {
	c.mu.Lock()
	handler := c.handlers[f.Type]
	c.mu.Unlock()

	if handler == nil {
		return
	}

	handler(&protocol.Event{
		Type:      f.Type,
		Timestamp: f.Timestamp,
		Data:      f.Data,
	})
}

// enterReconnecting flips the channel into the reconnecting state and fails
// every pending invoke; replies for them are gone with the old connection.
func (c *Channel) enterReconnecting() {
	c.mu.Lock()
	c.state = StateReconnecting
	c.conn = nil
	pending := c.pending
	c.pending = make(map[string]chan invokeReply)
	cb := c.onReconnecting
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- invokeReply{err: ErrConnectionLost}
	}

	if cb != nil {
		cb()
	}
}

// redial attempts to re-establish the connection. Returns false when the
// channel was closed or the context canceled.
func (c *Channel) redial(ctx context.Context) bool {
	for attempt := 1; ; attempt++ {
		select {
		case <-c.closed:
			return false
		case <-ctx.Done():
			return false
		case <-time.After(c.reconnectInterval):
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Debug("redial failed", "attempt", attempt, "error", err)
			continue
		}

		c.mu.Lock()
		if c.state == StateClosed {
			c.mu.Unlock()
			conn.Close()
			return false
		}
		c.conn = conn
		c.state = StateConnected
		c.mu.Unlock()

		c.logger.Info("reconnected to controller", "attempts", attempt)
		return true
	}
}

// On registers the handler for a push event type, replacing any previous one.
func (c *Channel) On(eventType protocol.EventType, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = handler
}

// Off removes the handler for a push event type.
func (c *Channel) Off(eventType protocol.EventType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, eventType)
}

// OnReconnecting registers a callback fired when the connection drops.
func (c *Channel) OnReconnecting(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnecting = fn
}

// OnReconnected registers a callback fired after every successful redial.
// Used to re-run subscription handshakes, which do not survive a reconnect
// server-side. The callback runs on its own goroutine and may Invoke.
func (c *Channel) OnReconnected(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnected = fn
}

// Invoke sends a request/response call and waits for the reply. The payload
// may be nil. Returns ErrConnectionLost if the connection drops before the
// reply arrives.
func (c *Channel) Invoke(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal invoke payload: %w", err)
		}
		data = b
	}

	id := uuid.NewString()
	replyCh := make(chan invokeReply, 1)

	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil, ErrChannelClosed
	}
	if c.state != StateConnected || c.conn == nil {
		c.mu.Unlock()
		return nil, ErrConnectionLost
	}
	conn := c.conn
	c.pending[id] = replyCh
	c.mu.Unlock()

	if err := c.writeFrame(conn, frame{ID: id, Method: method, Data: data}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to send invoke %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrChannelClosed
	case reply := <-replyCh:
		if reply.err != nil {
			return nil, fmt.Errorf("invoke %s failed: %w", method, reply.err)
		}
		return reply.result, nil
	}
}

func (c *Channel) writeFrame(conn *websocket.Conn, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close shuts the channel down. Idempotent. Pending invokes fail with
// ErrChannelClosed and no redial is attempted.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = StateClosed
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	close(c.closed)
	if conn != nil {
		conn.Close()
	}

	// Wait for the run loop to drain so callbacks stop firing.
	<-c.done
	return nil
}

func (c *Channel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
