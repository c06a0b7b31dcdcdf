package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/minewatch/minewatch/internal/config"
	"github.com/minewatch/minewatch/internal/services"
)

func migrateCommand(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and default records",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase(cfg())
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				sqlDB.Close()
			}
			log.Println("Database migrated")
			return nil
		},
	}
}

// scanCommand registers recent imagery and processes it before exiting.
func scanCommand(cfg func() *config.Config) *cobra.Command {
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Register and process the recent imagery of the region",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg())
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.startWorkers(cmd.Context()); err != nil {
				return err
			}

			summary, err := a.scanJob().Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), summary.String())

			ctx := cmd.Context()
			if wait > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, wait)
				defer cancel()
			}
			return a.queue.WaitIdle(ctx)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 30*time.Minute, "maximum time to wait for processing (0 waits forever)")
	return cmd
}

func analyzeCommand(cfg func() *config.Config) *cobra.Command {
	var monthsBack int
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run one detection analysis over recent imagery",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg())
			if err != nil {
				return err
			}
			defer a.close()
			if err := a.startWorkers(cmd.Context()); err != nil {
				return err
			}

			result, err := a.orchestrator.Run(cmd.Context(), services.RunRequest{MonthsBack: monthsBack})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "images=%d detections=%d alerts=%d investigations=%d\n",
				result.ImagesProcessed, result.DetectionsFound, result.AlertsGenerated, result.InvestigationsCreated)
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  error: %s\n", e)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&monthsBack, "months", 3, "look-back window in months (1-12)")
	return cmd
}

func repairCommand(cfg func() *config.Config) *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Complete the downstream records of incomplete detections",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cfg())
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.detections.RepairIncomplete(cmd.Context(), grace, 1000)
			fmt.Fprintf(cmd.OutOrStdout(), "repaired %d detection(s)\n", n)
			return err
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 5*time.Minute, "skip detections younger than this")
	return cmd
}
