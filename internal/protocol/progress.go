package protocol

import "fmt"

// Phase classifies a point in the lifecycle of a prefill job.
type Phase string

const (
	PhaseLoadingMetadata  Phase = "loading-metadata"
	PhaseMetadataLoaded   Phase = "metadata-loaded"
	PhaseStarting         Phase = "starting"
	PhasePreparing        Phase = "preparing"
	PhaseDownloading      Phase = "downloading"
	PhaseAlreadySatisfied Phase = "already-satisfied"
	PhaseItemCompleted    Phase = "item-completed"
	PhaseCompleted        Phase = "completed"
	PhaseFailed           Phase = "failed"
	PhaseCancelled        Phase = "cancelled"
	PhaseIdle             Phase = "idle"

	// PhaseReconnecting is client-synthesized, never sent by the controller.
	// It is projected while the channel is down or while a reload-survived
	// watermark is waiting for its first real event.
	PhaseReconnecting Phase = "reconnecting"
)

// Terminal reports whether the phase ends a job run. No further progress is
// expected after a terminal phase until a new job starts.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseCancelled, PhaseIdle:
		return true
	}
	return false
}

// Preparatory reports whether the phase precedes any per-item work.
func (p Phase) Preparatory() bool {
	switch p {
	case PhaseLoadingMetadata, PhaseMetadataLoaded, PhaseStarting, PhasePreparing:
		return true
	}
	return false
}

// ProgressEvent is one job-status update from the controller. The engine
// keeps only the latest relevant ProgressEvent as projected state, never a
// history. All numeric fields default to zero when absent on the wire.
type ProgressEvent struct {
	Phase            Phase   `json:"phase"`
	CurrentItemID    string  `json:"current_item_id,omitempty"`
	CurrentItemName  string  `json:"current_item_name,omitempty"`
	PercentComplete  float64 `json:"percent_complete"`
	BytesTransferred int64   `json:"bytes_transferred"`
	TotalBytes       int64   `json:"total_bytes"`
	BytesPerSecond   float64 `json:"bytes_per_second"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	Message          string  `json:"message,omitempty"`
}

// ItemLabel returns the best human-readable name for the current item.
func (p *ProgressEvent) ItemLabel() string {
	if p.CurrentItemName != "" {
		return p.CurrentItemName
	}
	return p.CurrentItemID
}

// FormatBytes renders a byte count in a human-readable unit.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatRate renders a bytes-per-second rate in a human-readable unit.
func FormatRate(bps float64) string {
	if bps < 0 {
		bps = 0
	}
	return FormatBytes(int64(bps)) + "/s"
}
