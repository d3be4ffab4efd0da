package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/cachebay/prefill/internal/controller"
	"github.com/cachebay/prefill/internal/durable"
	"github.com/cachebay/prefill/internal/engine"
)

var (
	startAll   bool
	startForce bool
)

var startCmd = &cobra.Command{
	Use:   "start [item-id...]",
	Short: "Start a prefill job",
	Long: `Submit a prefill job to the controller for the given items, or for
the whole library with --all.

The job runs on the controller and keeps running if this client
disconnects. Use 'prefill watch' to follow progress.

Example:
  prefill start game-1234 game-5678
  prefill start --all
  prefill start --all --force`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&startAll, "all", false, "Prefill every item in the library")
	startCmd.Flags().BoolVar(&startForce, "force", false, "Re-download items even when already cached")
	rootCmd.AddCommand(startCmd)
}

func validateStartSelection(itemIDs []string, all bool) error {
	if all && len(itemIDs) > 0 {
		return errors.New("cannot combine --all with explicit item ids")
	}
	if !all && len(itemIDs) == 0 {
		return errors.New("specify item ids or --all")
	}
	for _, id := range itemIDs {
		if strings.TrimSpace(id) == "" {
			return errors.New("item ids must not be empty")
		}
	}
	return nil
}

// recordJobStart resets run state through the engine so the durable
// watermark is written the same way a live watch writes it.
func recordJobStart(store durable.Store, logger hclog.Logger, sessionID string) {
	eng := engine.New(store, engine.Config{}, engine.WithLogger(logger.Named("engine")))
	eng.JobStarted(sessionID)
}

func runStart(cmd *cobra.Command, args []string) error {
	if err := validateStartSelection(args, startAll); err != nil {
		return err
	}

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
	if !sess.CanIssueCommands() {
		return fmt.Errorf("session is %s, cannot start a job", sess.Snapshot().Phase)
	}

	client := controller.NewChannelClient(ch)
	err = client.StartPrefill(ctx, sess.ID(), controller.StartOptions{
		ItemIDs:      args,
		All:          startAll,
		ForceRefresh: startForce,
	})
	if err != nil {
		return err
	}

	// The watermark lets a later watch detect a job that finished while
	// no client was connected.
	recordJobStart(a.store, a.logger, sess.ID())

	if startAll {
		fmt.Println("Prefill started for the whole library.")
	} else {
		fmt.Printf("Prefill started for %d item(s).\n", len(args))
	}
	fmt.Println("Run 'prefill watch' to follow progress.")
	return nil
}
