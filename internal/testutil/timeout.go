package testutil

import (
	"context"
	"testing"
	"time"
)

// Default timeouts for channel operations in tests.
const (
	// DefaultChannelTimeout bounds dial and invoke round trips against a
	// local fake controller.
	DefaultChannelTimeout = 30 * time.Second

	// DefaultTestBuffer is the buffer time subtracted from the test
	// deadline to allow for cleanup before the test times out.
	DefaultTestBuffer = 5 * time.Second
)

// ContextWithTestDeadline creates a context that respects the test's deadline.
// It subtracts a buffer from the test deadline to allow time for cleanup.
// If the test has no deadline, it falls back to the provided fallback duration.
func ContextWithTestDeadline(t *testing.T, fallback time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()

	if deadline, ok := t.Deadline(); ok {
		adjusted := deadline.Add(-DefaultTestBuffer)
		if time.Until(adjusted) > 0 {
			return context.WithDeadline(context.Background(), adjusted)
		}
	}

	return context.WithTimeout(context.Background(), fallback)
}

// ChannelContext creates a context with a standard timeout for channel
// operations against a fake controller. It respects the test deadline if
// one is set, otherwise uses DefaultChannelTimeout.
func ChannelContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return ContextWithTestDeadline(t, DefaultChannelTimeout)
}
