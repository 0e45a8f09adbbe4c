package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatsCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the canonical ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := newEnv(ctx, dir)
			if err != nil {
				return err
			}
			defer e.Close()
			store := e.store()

			stats, err := store.StatsBySource(ctx)
			if err != nil {
				return err
			}
			fmt.Println("By source system:")
			for _, s := range stats {
				fmt.Printf("  %-12s %6d rows, %s to %s, total %s\n",
					s.System, s.Count,
					s.Earliest.Format("2006-01-02"), s.Latest.Format("2006-01-02"),
					s.Total.StringFixed(2))
			}

			byType, err := store.AggregateByType(ctx, time.Time{}, time.Time{})
			if err != nil {
				return err
			}
			fmt.Println("By transaction type:")
			for _, agg := range byType {
				fmt.Printf("  %-24s %6d rows, total %s\n", agg.Type, agg.Count, agg.Total.StringFixed(2))
			}

			byFeed, err := store.AggregateByFeed(ctx)
			if err != nil {
				return err
			}
			if len(byFeed) > 0 {
				fmt.Println("By processor feed:")
				for _, agg := range byFeed {
					fmt.Printf("  %-24s %6d rows, total %s\n", agg.Feed, agg.Count, agg.Total.StringFixed(2))
				}
			}

			batches, err := store.BatchIDs(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Batches present: %v\n", batches)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "project directory")

	return cmd
}
