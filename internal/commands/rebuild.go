package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/unibook-dev/unibook/internal/logger"
	"github.com/unibook-dev/unibook/internal/rebuild"
	"github.com/unibook-dev/unibook/internal/runlog"
)

func newRebuildCommand() *cobra.Command {
	var dir string
	var batchID string
	var since string

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the canonical ledger from the source tables",
		Long: `Rebuild streams both source tables through classification, linking,
and exclusion, then atomically replaces the canonical ledger. With
--since only records updated after the given time are rebuilt in place.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var sinceTime time.Time
			if since != "" {
				var err error
				sinceTime, err = time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("parsing --since: %w", err)
				}
			}

			e, err := newEnv(ctx, dir)
			if err != nil {
				return err
			}
			defer e.Close()
			ctx = logger.WithContext(ctx, e.log)

			o, err := e.orchestrator(ctx, batchID)
			if err != nil {
				return err
			}

			var report *rebuild.Report
			if since != "" {
				report, err = o.RunIncremental(ctx, sinceTime)
			} else {
				report, err = o.Run(ctx)
			}
			writeRunLog(e.root, report)
			if err != nil {
				return err
			}

			printReport(report)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "project directory")
	cmd.Flags().StringVar(&batchID, "batch-id", "", "override the generated batch ID")
	cmd.Flags().StringVar(&since, "since", "", "incremental rebuild of records updated after this RFC3339 time")

	return cmd
}

// writeRunLog appends the audit row. Failed runs are logged too; a
// logging failure must not mask the run's own outcome.
func writeRunLog(root string, report *rebuild.Report) {
	if report == nil {
		return
	}
	if err := runlog.Append(root, []runlog.Entry{runlog.FromReport(report)}); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write run log: %v\n", err)
	}
}

func printReport(r *rebuild.Report) {
	mode := "full"
	if r.Incremental {
		mode = "incremental"
	}
	fmt.Printf("Rebuild %s (%s) finished in %s\n", r.BatchID, mode, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Printf("  historical: read %d, skipped %d, excluded %d, written %d\n",
		r.Historical.Read, r.Historical.Skipped, r.Historical.ExcludedTotal(), r.Historical.Written)
	fmt.Printf("  processor:  read %d, skipped %d, excluded %d, written %d\n",
		r.Processor.Read, r.Processor.Skipped, r.Processor.ExcludedTotal(), r.Processor.Written)

	if r.Unclassified > 0 {
		fmt.Printf("  unclassified: %d record(s) written as \"other\"\n", r.Unclassified)
		for _, key := range r.UnclassifiedSample {
			fmt.Printf("    %s %s #%d\n", key.System, key.Table, key.RecordID)
		}
	}

	if r.Verification != nil {
		printVerification(r.Verification)
	}
}

func printVerification(v *rebuild.VerifyResult) {
	if v.OK() {
		fmt.Println("  verification: OK")
		return
	}
	fmt.Printf("  verification: %d mismatch(es)\n", len(v.Mismatches))
	for _, m := range v.Mismatches {
		fmt.Printf("    %s\n", m)
	}
}
