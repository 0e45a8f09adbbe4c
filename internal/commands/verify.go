package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unibook-dev/unibook/internal/logger"
)

func newVerifyCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the canonical ledger against the source tables",
		Long: `Verify recomputes what the source tables imply and compares it
against the live canonical ledger without writing anything. A non-zero
exit means the ledger has drifted and a rebuild is due.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := newEnv(ctx, dir)
			if err != nil {
				return err
			}
			defer e.Close()
			ctx = logger.WithContext(ctx, e.log)

			o, err := e.orchestrator(ctx, "")
			if err != nil {
				return err
			}

			report, err := o.Verify(ctx)
			if err != nil {
				return err
			}

			printVerification(report.Verification)
			if !report.Verification.OK() {
				return fmt.Errorf("ledger does not match sources: %d mismatch(es)", len(report.Verification.Mismatches))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "project directory")

	return cmd
}
