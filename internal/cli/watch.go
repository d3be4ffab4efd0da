package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cachebay/prefill/internal/conn"
	"github.com/cachebay/prefill/internal/controller"
	"github.com/cachebay/prefill/internal/engine"
	"github.com/cachebay/prefill/internal/protocol"
	"github.com/cachebay/prefill/internal/session"
)

var watchCancel bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch live prefill progress",
	Long: `Connect to the controller and stream job progress until the session
ends or the command is interrupted.

Jobs keep running on the controller after watch exits. The next watch
reconciles with whatever finished in between and reports it as a
background completion.

With --cancel, request cancellation of the running job first, then
watch it wind down to a terminal state.

Example:
  prefill watch
  prefill watch --cancel`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchCancel, "cancel", false, "Cancel the running job, then watch it wind down")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := loadApp()
	if err != nil {
		return err
	}

	printer := &progressPrinter{out: os.Stdout}

	eng := engine.New(a.store, engine.Config{
		AnimationDuration:   a.cfg.AnimationDuration(),
		AnimationTick:       a.cfg.TickInterval(),
		SettleDelay:         a.cfg.SettleDelay(),
		RecencyWindow:       a.cfg.RecencyWindow(),
		StalenessBound:      a.cfg.StalenessBound(),
		NotificationTimeout: a.cfg.NotificationTimeout(),
	},
		engine.WithLogger(a.logger.Named("engine")),
		engine.WithActivitySink(printer.activity),
	)
	eng.OnUpdate(func() {
		printer.update(eng.Projection(), eng.Notification())
	})
	eng.SetWatching(true)

	// A watermark from a previous run projects a reconnecting state until
	// the first recovery pull or push event resolves it.
	if sessionID := eng.InitFromWatermark(); sessionID != "" {
		printer.activity("resuming: checking for progress made while away")
	}

	mgr, ch, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()

	mgr.SetRecovery(func(ctx context.Context, ch conn.Channel) {
		eng.Recover(ctx, ch)
	})
	mgr.OnStateChange(func(status conn.Status) {
		switch status {
		case conn.StatusReconnecting:
			printer.activity("connection lost, reconnecting")
		case conn.StatusConnected:
			printer.activity("connection restored")
		}
	})

	sess, err := a.attachSession(ctx, mgr, ch)
	if err != nil {
		return err
	}
	eng.SetSessionID(sess.ID())

	done := make(chan struct{})
	var doneOnce sync.Once
	finish := func() { doneOnce.Do(func() { close(done) }) }

	onEnded, onExpired := sessionHooks(eng, printer, finish)
	sess.OnEnded(onEnded)
	sess.OnExpired(onExpired)
	sess.OnChange(func(snap session.Snapshot) {
		a.logger.Debug("session changed", "phase", snap.Phase, "remaining", snap.Remaining)
	})

	ch.On(protocol.EventPrefillProgress, func(ev *protocol.Event) {
		progress, err := ev.ProgressData()
		if err != nil {
			a.logger.Warn("dropping malformed progress event", "error", err)
			return
		}
		eng.HandleProgress(*progress)
	})
	ch.On(protocol.EventSessionEnded, func(ev *protocol.Event) {
		info, err := ev.SessionData()
		if err != nil {
			a.logger.Warn("dropping malformed session event", "error", err)
			return
		}
		sess.HandleSessionEnded(info)
	})
	ch.On(protocol.EventSessionExpiry, func(ev *protocol.Event) {
		info, err := ev.SessionData()
		if err != nil {
			a.logger.Warn("dropping malformed expiry event", "error", err)
			return
		}
		sess.HandleExpiryUpdate(info)
	})
	ch.On(protocol.EventAuthChallenge, func(ev *protocol.Event) {
		challenge, err := ev.AuthChallengeData()
		if err != nil {
			a.logger.Warn("dropping malformed auth challenge", "error", err)
			return
		}
		sess.HandleAuthChallenge(challenge)
		printer.activity("controller requires re-authentication")
	})

	go sess.Run(ctx)

	// Reconcile immediately: push events sent before the subscription
	// took effect, or while this client was away, are gone.
	mgr.Resume(ctx)

	if watchCancel {
		printer.activity("cancellation requested")
		if err := requestCancel(ctx, eng, controller.NewChannelClient(ch), sess.ID()); err != nil {
			return err
		}
	}

	fmt.Println("Watching prefill progress (Ctrl+C to stop; jobs keep running)")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
	case <-sigCh:
		fmt.Println("\nStopped watching. Jobs continue on the controller.")
	case <-done:
	}

	return nil
}

// sessionHooks builds the session lifecycle callbacks for watch. An ended
// session stops the watcher; expiry only means new commands will be
// refused, the push subscription is still live and the terminal event for
// a running job must still land. Only finish on ended.
func sessionHooks(eng *engine.Engine, printer *progressPrinter, finish func()) (onEnded, onExpired func()) {
	onEnded = func() {
		eng.SessionClosed()
		printer.activity("session ended by controller")
		finish()
	}
	onExpired = func() {
		printer.activity("session expired; commands disabled until it renews")
	}
	return onEnded, onExpired
}

// requestCancel flips the engine's suppression flag before the controller
// round trip so stale in-flight progress cannot resurrect the display,
// then forwards the cancellation.
func requestCancel(ctx context.Context, eng *engine.Engine, client controller.Client, sessionID string) error {
	eng.RequestCancel()
	return client.Cancel(ctx, sessionID)
}

// progressPrinter renders engine updates as log-style lines. Updates
// arrive from the event loop and from animation timers, so it serializes
// writes and suppresses consecutive duplicate lines.
type progressPrinter struct {
	mu       sync.Mutex
	out      io.Writer
	lastLine string
}

func (p *progressPrinter) activity(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, line)
	p.lastLine = ""
}

func (p *progressPrinter) update(projection *protocol.ProgressEvent, notification *engine.BackgroundCompletion) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if notification != nil {
		line := "Prefill finished while away: " + notification.Message
		if line != p.lastLine {
			fmt.Fprintln(p.out, line)
			p.lastLine = line
		}
		return
	}

	if projection == nil {
		return
	}
	line := renderProgress(projection)
	if line == p.lastLine {
		return
	}
	fmt.Fprintln(p.out, line)
	p.lastLine = line
}

// renderProgress formats one projection as a single status line.
func renderProgress(p *protocol.ProgressEvent) string {
	switch p.Phase {
	case protocol.PhaseReconnecting:
		return "reconnecting: waiting for controller"
	case protocol.PhaseDownloading:
		label := p.ItemLabel()
		line := fmt.Sprintf("downloading %s: %.0f%%", label, p.PercentComplete)
		if p.TotalBytes > 0 {
			line += fmt.Sprintf(" (%s / %s", protocol.FormatBytes(p.BytesTransferred), protocol.FormatBytes(p.TotalBytes))
			if p.BytesPerSecond > 0 {
				line += ", " + protocol.FormatRate(p.BytesPerSecond)
			}
			line += ")"
		}
		return line
	case protocol.PhaseAlreadySatisfied:
		return fmt.Sprintf("verifying %s: %.0f%%", p.ItemLabel(), p.PercentComplete)
	case protocol.PhaseItemCompleted:
		return fmt.Sprintf("completed %s", p.ItemLabel())
	default:
		if p.Message != "" {
			return fmt.Sprintf("%s: %s", p.Phase, p.Message)
		}
		return string(p.Phase)
	}
}
