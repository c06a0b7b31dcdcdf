package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/minewatch/minewatch/internal/config"
)

// rootCommand builds the minewatch CLI. Every subcommand receives the
// environment configuration loaded in PersistentPreRunE.
func rootCommand() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "minewatch",
		Short:         "Satellite detection of illegal gold mining",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			cfg = loaded
			return nil
		},
	}

	current := func() *config.Config { return cfg }
	root.AddCommand(
		serveCommand(current),
		migrateCommand(current),
		scanCommand(current),
		analyzeCommand(current),
		repairCommand(current),
	)
	return root
}
