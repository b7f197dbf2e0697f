package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashureev/followups/internal/dispatch"
)

var runContactID string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one dispatch pass and print its report",
	Long: `Runs a single pass immediately, as the scheduler would, and prints
the JSON report to stdout. Use --contact to limit the pass to one contact.`,
	RunE: runOnce,
}

func init() {
	runCmd.Flags().StringVar(&runContactID, "contact", "", "Only process this contact id")
}

func runOnce(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.cfg.Dispatch.PassTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Dispatch.PassTimeout)
		defer cancel()
	}

	report, err := a.dispatcher().Run(ctx, dispatch.RunRequest{ContactID: runContactID})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
