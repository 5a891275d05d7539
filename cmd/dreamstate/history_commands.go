package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"dreamstate/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	historyCmd := &cobra.Command{
		Use:         "history",
		Short:       "Show recently processed tasks",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withHistory(func(ledger *history.Store) error {
				entries, err := ledger.Recent(cmd.Context(), limit)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(stdout, "No tasks processed yet")
					return nil
				}
				fmt.Fprint(stdout, renderHistoryTable(entries))
				return nil
			})
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show (0 for all)")

	statsCmd := &cobra.Command{
		Use:         "stats",
		Short:       "Summarize processed tasks by type",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return ctx.withHistory(func(ledger *history.Store) error {
				stats, err := ledger.Stats(cmd.Context())
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if stats.Total == 0 {
					fmt.Fprintln(stdout, "No tasks processed yet")
					return nil
				}
				fmt.Fprint(stdout, renderStatsTable(stats))
				fmt.Fprintf(stdout, "Succeeded: %d  Failed: %d  Last: %s\n", stats.Succeeded, stats.Failed, formatTimestamp(stats.Last))
				return nil
			})
		},
	}

	var olderThan time.Duration
	pruneCmd := &cobra.Command{
		Use:         "prune",
		Short:       "Delete history entries older than a cutoff",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			return ctx.withHistory(func(ledger *history.Store) error {
				removed, err := ledger.Prune(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries\n", removed)
				return nil
			})
		},
	}
	pruneCmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Remove entries completed longer ago than this")

	historyCmd.AddCommand(statsCmd, pruneCmd)
	return historyCmd
}

func (c *commandContext) withHistory(fn func(*history.Store) error) error {
	store, err := c.store()
	if err != nil {
		return err
	}
	ledger, err := history.Open(store.HistoryPath())
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer ledger.Close()
	return fn(ledger)
}
