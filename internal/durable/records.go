package durable

import (
	"encoding/json"
	"fmt"
	"time"
)

// Store keys for the typed records layered on the KV capability.
const (
	keyOperationMark  = "prefill.operation"
	keyCompletionSeen = "prefill.completions_seen"
)

// completionSetCap bounds the surfaced-completion set; older entries are
// pruned first.
const completionSetCap = 50

// OperationMark records that a prefill operation was in progress, so a page
// reload during a long job does not lose the fact that work is running.
type OperationMark struct {
	StartedAt time.Time `json:"started_at"`
	SessionID string    `json:"session_id"`
}

// SaveOperationMark writes the watermark for a newly started operation.
func SaveOperationMark(store Store, mark OperationMark) error {
	data, err := json.Marshal(mark)
	if err != nil {
		return fmt.Errorf("failed to marshal operation mark: %w", err)
	}
	return store.Set(keyOperationMark, string(data))
}

// LoadOperationMark returns the stored watermark, if any. A record older
// than maxAge is treated as orphaned: it is deleted and not returned.
func LoadOperationMark(store Store, now time.Time, maxAge time.Duration) (*OperationMark, bool) {
	raw, ok := store.Get(keyOperationMark)
	if !ok {
		return nil, false
	}

	var mark OperationMark
	if err := json.Unmarshal([]byte(raw), &mark); err != nil {
		store.Delete(keyOperationMark)
		return nil, false
	}

	if now.Sub(mark.StartedAt) > maxAge {
		store.Delete(keyOperationMark)
		return nil, false
	}

	return &mark, true
}

// ClearOperationMark removes the watermark. Called on every terminal phase.
func ClearOperationMark(store Store) error {
	return store.Delete(keyOperationMark)
}

// CompletionSeen reports whether a completion with the given timestamp has
// already been surfaced to the user.
func CompletionSeen(store Store, completedAt time.Time) bool {
	for _, ts := range loadCompletions(store) {
		if ts.Equal(completedAt) {
			return true
		}
	}
	return false
}

// MarkCompletionSeen records a completion timestamp as surfaced, pruning the
// oldest entries beyond the cap.
func MarkCompletionSeen(store Store, completedAt time.Time) error {
	seen := loadCompletions(store)
	for _, ts := range seen {
		if ts.Equal(completedAt) {
			return nil
		}
	}

	seen = append(seen, completedAt)
	if len(seen) > completionSetCap {
		seen = seen[len(seen)-completionSetCap:]
	}

	data, err := json.Marshal(seen)
	if err != nil {
		return fmt.Errorf("failed to marshal completion set: %w", err)
	}
	return store.Set(keyCompletionSeen, string(data))
}

// ClearCompletions removes the surfaced-completion set. Called when the
// session ends, since the timestamps are scoped to it.
func ClearCompletions(store Store) error {
	return store.Delete(keyCompletionSeen)
}

func loadCompletions(store Store) []time.Time {
	raw, ok := store.Get(keyCompletionSeen)
	if !ok {
		return nil
	}

	var seen []time.Time
	if err := json.Unmarshal([]byte(raw), &seen); err != nil {
		return nil
	}
	return seen
}
