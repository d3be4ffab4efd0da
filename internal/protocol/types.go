// Package protocol defines the wire types exchanged with the prefill
// controller over the event channel: push events, invoke methods, and the
// payload shapes they carry. Events are serialized to JSON for transmission.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType identifies a push event delivered by the controller.
type EventType string

const (
	// EventPrefillProgress carries a ProgressEvent for the running job.
	EventPrefillProgress EventType = "prefill-progress"
	// EventSessionEnded signals the session was terminated server-side.
	EventSessionEnded EventType = "session-ended"
	// EventSessionExpiry carries an updated session expiry timestamp.
	EventSessionExpiry EventType = "session-expiry"
	// EventAuthChallenge signals the session needs an authentication step.
	EventAuthChallenge EventType = "auth-challenge"
)

// Invoke method names for request/response calls on the event channel.
const (
	MethodSubscribeToSession = "subscribe-to-session"
	MethodGetLastResult      = "get-last-result"
	MethodGetSession         = "get-session"
	MethodCreateSession      = "create-session"
	MethodEndSession         = "end-session"
	MethodStartPrefill       = "start-prefill"
	MethodCancelPrefill      = "cancel-prefill"
)

// Event is the envelope for a push event on the channel.
type Event struct {
	// Type identifies what kind of event this is.
	Type EventType `json:"type"`

	// Timestamp is when the controller emitted the event.
	Timestamp time.Time `json:"timestamp"`

	// Data contains the type-specific payload.
	// Use the typed accessor methods to get the concrete type.
	Data json.RawMessage `json:"data"`
}

// NewEvent creates a new Event with the given type and data.
func NewEvent(eventType EventType, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event data: %w", err)
	}

	return &Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      dataBytes,
	}, nil
}

// Marshal serializes the event to JSON bytes.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent deserializes an Event from JSON bytes.
func UnmarshalEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return &e, nil
}

// ProgressData returns the progress payload if this is a prefill-progress
// event. Missing numeric fields decode to zero rather than failing; a single
// malformed event must never take the engine down.
func (e *Event) ProgressData() (*ProgressEvent, error) {
	if e.Type != EventPrefillProgress {
		return nil, fmt.Errorf("event is not prefill-progress: %s", e.Type)
	}
	var data ProgressEvent
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal progress data: %w", err)
	}
	return &data, nil
}

// SessionData returns the session payload if this is a session-ended or
// session-expiry event.
func (e *Event) SessionData() (*SessionInfo, error) {
	if e.Type != EventSessionEnded && e.Type != EventSessionExpiry {
		return nil, fmt.Errorf("event is not a session event: %s", e.Type)
	}
	var data SessionInfo
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session data: %w", err)
	}
	return &data, nil
}

// AuthChallengeData returns the auth challenge payload if this is an
// auth-challenge event.
func (e *Event) AuthChallengeData() (*AuthChallenge, error) {
	if e.Type != EventAuthChallenge {
		return nil, fmt.Errorf("event is not auth-challenge: %s", e.Type)
	}
	var data AuthChallenge
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal auth challenge: %w", err)
	}
	return &data, nil
}

// SessionStatus represents the server-side status of a session.
type SessionStatus string

const (
	SessionActive  SessionStatus = "active"
	SessionExpired SessionStatus = "expired"
	SessionEnded   SessionStatus = "ended"
)

// AuthState represents the authentication sub-state of a session.
type AuthState string

const (
	AuthNotAuthenticated    AuthState = "not_authenticated"
	AuthCredentialsRequired AuthState = "credentials_required"
	AuthTwoFactorRequired   AuthState = "two_factor_required"
	AuthEmailCodeRequired   AuthState = "email_code_required"
	AuthAuthenticated       AuthState = "authenticated"
)

// SessionInfo describes a controller-side session.
type SessionInfo struct {
	ID        string        `json:"id"`
	OwnerID   string        `json:"owner_id"`
	Status    SessionStatus `json:"status"`
	AuthState AuthState     `json:"auth_state"`
	CreatedAt time.Time     `json:"created_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// AuthChallenge asks the client to complete an authentication step.
type AuthChallenge struct {
	SessionID string    `json:"session_id"`
	Required  AuthState `json:"required"`
	Message   string    `json:"message,omitempty"`
}

// ResultStatus is the status of a finished (or still-running) job as
// reported by the get-last-result pull query.
type ResultStatus string

const (
	ResultRunning   ResultStatus = "running"
	ResultCompleted ResultStatus = "completed"
	ResultFailed    ResultStatus = "failed"
	ResultCancelled ResultStatus = "cancelled"
	ResultNone      ResultStatus = "none"
)

// LastResult is the response payload of the get-last-result invoke. It is
// the pull-based reconciliation record used after missed push events.
type LastResult struct {
	Status          ResultStatus `json:"status"`
	Message         string       `json:"message,omitempty"`
	CompletedAt     time.Time    `json:"completed_at,omitempty"`
	DurationSeconds float64      `json:"duration_seconds,omitempty"`
}

// SubscribeRequest is the payload of the subscribe-to-session invoke.
type SubscribeRequest struct {
	SessionID string `json:"session_id"`
}

// StartPrefillRequest is the payload of the start-prefill invoke.
type StartPrefillRequest struct {
	SessionID    string   `json:"session_id"`
	ItemIDs      []string `json:"item_ids,omitempty"`
	All          bool     `json:"all,omitempty"`
	ForceRefresh bool     `json:"force_refresh,omitempty"`
}

// CommandResult is the synchronous response to job control invokes
// (start-prefill, cancel-prefill, end-session).
type CommandResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
