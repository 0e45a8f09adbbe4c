// Package commands defines the unibook CLI.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/unibook-dev/unibook/internal/buildinfo"
)

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "unibook",
		Short:   "Canonical transaction ledger rebuilder",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", buildinfo.Version, buildinfo.Commit, buildinfo.Date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newRebuildCommand())
	rootCmd.AddCommand(newVerifyCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newQueryCommand())
	rootCmd.AddCommand(newImportCommand())

	return rootCmd
}
