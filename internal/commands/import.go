package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/unibook-dev/unibook/internal/importer"
)

func newImportCommand() *cobra.Command {
	var dir string
	var format string

	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Load a historical statement CSV into the source table",
		Long: `Import parses a statement export and appends its rows to the
historical source table. Without a file argument every CSV in the
project's import/ directory is loaded and moved to import/processed/.
The canonical ledger is untouched until the next rebuild.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			e, err := newEnv(ctx, dir)
			if err != nil {
				return err
			}
			defer e.Close()

			registry := importer.DefaultRegistry()
			parser := registry.Get(format)
			if parser == nil {
				return fmt.Errorf("unknown format %q, available: %s",
					format, strings.Join(registry.Formats(), ", "))
			}
			loader := importer.NewLoader(e.conn)

			if len(args) == 1 {
				n, err := importFile(cmd, loader, parser, args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Imported %d row(s) from %s\n", n, args[0])
				return nil
			}

			files, err := importer.Scan(e.root)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				fmt.Println("Nothing to import.")
				return nil
			}
			for _, f := range files {
				n, err := importFile(cmd, loader, parser, f.Path)
				if err != nil {
					return fmt.Errorf("%s: %w", f.Name, err)
				}
				if err := importer.MarkProcessed(e.root, f.Name); err != nil {
					return err
				}
				fmt.Printf("Imported %d row(s) from %s\n", n, f.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "project directory")
	cmd.Flags().StringVar(&format, "format", "statement", "statement CSV format")

	return cmd
}

func importFile(cmd *cobra.Command, loader *importer.Loader, parser importer.Parser, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	rows, err := parser.Parse(f)
	if err != nil {
		return 0, err
	}
	return loader.Load(cmd.Context(), rows)
}
