package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cachebay/prefill/internal/controller"
	"github.com/cachebay/prefill/internal/protocol"
	"github.com/cachebay/prefill/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session and last job status",
	Long: `Show the current session state and the result of the most recent
prefill job, as known by the controller.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := loadApp()
	if err != nil {
		return err
	}

	mgr, ch, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()

	sess, err := a.attachSession(ctx, mgr, ch)
	if err != nil {
		return err
	}

	client := controller.NewChannelClient(ch)
	result, err := client.LastResult(ctx, sess.ID())
	if err != nil {
		return err
	}

	printStatus(sess.Snapshot(), result)
	return nil
}

func printStatus(snap session.Snapshot, result *protocol.LastResult) {
	fmt.Println("Session")
	fmt.Println("-------")
	printField("ID", snap.Info.ID)
	printField("Phase", string(snap.Phase))
	if snap.Phase == session.PhaseActive {
		printField("Expires in", formatDuration(snap.Remaining))
	}
	fmt.Println()

	fmt.Println("Last job")
	fmt.Println("--------")
	printField("Status", formatResultStatus(result.Status))
	if result.Message != "" {
		printField("Detail", result.Message)
	}
	if !result.CompletedAt.IsZero() {
		printField("Finished", result.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	}
	if result.DurationSeconds > 0 {
		printField("Duration", formatDuration(time.Duration(result.DurationSeconds*float64(time.Second))))
	}
}

func formatResultStatus(status protocol.ResultStatus) string {
	switch status {
	case protocol.ResultRunning:
		return "running"
	case protocol.ResultCompleted:
		return "completed"
	case protocol.ResultFailed:
		return "failed"
	case protocol.ResultCancelled:
		return "cancelled"
	case protocol.ResultNone:
		return "no jobs yet"
	default:
		return string(status)
	}
}

func printField(label, value string) {
	fmt.Printf("  %-12s %s\n", label+":", value)
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)

	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
