package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cachebay/prefill/internal/controller"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the running prefill job",
	Long: `Ask the controller to cancel the running prefill job.

Cancellation is asynchronous: the controller winds the job down and the
session returns to idle. Progress updates that were already in flight
are discarded.`,
	Args: cobra.NoArgs,
	RunE: runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) error {
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
	if err := client.Cancel(ctx, sess.ID()); err != nil {
		return err
	}

	fmt.Println("Cancellation requested.")
	return nil
}
