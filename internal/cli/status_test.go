package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cachebay/prefill/internal/protocol"
)

func TestFormatResultStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "completed", formatResultStatus(protocol.ResultCompleted))
	assert.Equal(t, "no jobs yet", formatResultStatus(protocol.ResultNone))
	assert.Equal(t, "mystery", formatResultStatus(protocol.ResultStatus("mystery")))
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		d    time.Duration
		want string
	}{
		{d: 45 * time.Second, want: "45s"},
		{d: 2*time.Minute + 3*time.Second, want: "2m 3s"},
		{d: time.Hour + 4*time.Minute + 5*time.Second, want: "1h 4m 5s"},
		{d: 1499 * time.Millisecond, want: "1s"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}
