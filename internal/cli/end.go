package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cachebay/prefill/internal/durable"
)

var endCmd = &cobra.Command{
	Use:   "end",
	Short: "End the controller session",
	Long: `End the active controller session and clear local state tied to it.

A new session is created automatically the next time any command
connects.`,
	Args: cobra.NoArgs,
	RunE: runEnd,
}

func init() {
	rootCmd.AddCommand(endCmd)
}

func runEnd(cmd *cobra.Command, args []string) error {
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

	if err := sess.End(ctx, ch); err != nil {
		return err
	}

	// Local durables are scoped to the session that just ended.
	if err := durable.ClearOperationMark(a.store); err != nil {
		a.logger.Warn("failed to clear operation watermark", "error", err)
	}
	if err := durable.ClearCompletions(a.store); err != nil {
		a.logger.Warn("failed to clear completion records", "error", err)
	}

	fmt.Println("Session ended.")
	return nil
}
