package testutil

import (
	"time"

	"github.com/cachebay/prefill/internal/protocol"
)

// SampleSessionID is the session used by the sample fixtures.
const SampleSessionID = "sess-fixture-1"

// SampleSessionInfo returns an active session expiring one hour from now.
func SampleSessionInfo(now time.Time) *protocol.SessionInfo {
	return &protocol.SessionInfo{
		ID:        SampleSessionID,
		OwnerID:   "owner-1",
		Status:    protocol.SessionActive,
		ExpiresAt: now.Add(time.Hour),
	}
}

// SampleDownloadProgress returns a mid-download progress event.
func SampleDownloadProgress(itemID string, percent float64) protocol.ProgressEvent {
	return protocol.ProgressEvent{
		Phase:            protocol.PhaseDownloading,
		CurrentItemID:    itemID,
		CurrentItemName:  itemID,
		PercentComplete:  percent,
		BytesTransferred: int64(percent * 10 * 1024 * 1024),
		TotalBytes:       1024 * 1024 * 1024,
		BytesPerSecond:   8 * 1024 * 1024,
	}
}

// SampleSatisfiedBurst returns a burst of already-satisfied events, the
// shape a warm library produces when a job starts.
func SampleSatisfiedBurst(itemIDs ...string) []protocol.ProgressEvent {
	events := make([]protocol.ProgressEvent, 0, len(itemIDs))
	for _, id := range itemIDs {
		events = append(events, protocol.ProgressEvent{
			Phase:           protocol.PhaseAlreadySatisfied,
			CurrentItemID:   id,
			CurrentItemName: id,
			PercentComplete: 100,
			TotalBytes:      256 * 1024 * 1024,
		})
	}
	return events
}

// SampleCompletedResult returns a completed last-result finished at the
// given time.
func SampleCompletedResult(completedAt time.Time) *protocol.LastResult {
	return &protocol.LastResult{
		Status:          protocol.ResultCompleted,
		Message:         "2 games updated",
		CompletedAt:     completedAt,
		DurationSeconds: 90,
	}
}
