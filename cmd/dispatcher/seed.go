package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ashureev/followups/internal/sequence"
)

var seedCmd = &cobra.Command{
	Use:   "seed <file.yaml>",
	Short: "Load steps, agents and contacts from a YAML seed file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seed, err := sequence.LoadSeedFile(args[0])
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := seed.Apply(cmd.Context(), a.repo); err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
		slog.Info("Seed applied",
			"file", args[0],
			"steps", len(seed.Steps),
			"agents", len(seed.Agents),
			"contacts", len(seed.Contacts))
		return nil
	},
}
