package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/unibook-dev/unibook/internal/model"
)

func newQueryCommand() *cobra.Command {
	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Read the canonical ledger",
	}
	queryCmd.AddCommand(newQueryLeaseCommand())
	queryCmd.AddCommand(newQueryPropertyCommand())
	return queryCmd
}

const dateFormat = "2006-01-02"

func newQueryLeaseCommand() *cobra.Command {
	var dir string
	var from string
	var to string

	cmd := &cobra.Command{
		Use:   "lease <invoice-id>",
		Short: "List a lease's transactions, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			invoiceID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("parsing invoice id %q: %w", args[0], err)
			}
			fromTime, err := parseDateFlag("from", from)
			if err != nil {
				return err
			}
			toTime, err := parseDateFlag("to", to)
			if err != nil {
				return err
			}

			e, err := newEnv(ctx, dir)
			if err != nil {
				return err
			}
			defer e.Close()

			txns, err := e.store().ForLease(ctx, invoiceID, fromTime, toTime)
			if err != nil {
				return err
			}
			printTransactions(txns)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "project directory")
	cmd.Flags().StringVar(&from, "from", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "end date (YYYY-MM-DD)")

	return cmd
}

func newQueryPropertyCommand() *cobra.Command {
	var dir string
	var direction string

	cmd := &cobra.Command{
		Use:   "property <property-id>",
		Short: "List a property's transactions by flow direction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			propertyID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("parsing property id %q: %w", args[0], err)
			}
			flow, err := parseDirection(direction)
			if err != nil {
				return err
			}

			e, err := newEnv(ctx, dir)
			if err != nil {
				return err
			}
			defer e.Close()

			txns, err := e.store().ForProperty(ctx, propertyID, flow)
			if err != nil {
				return err
			}
			printTransactions(txns)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", ".", "project directory")
	cmd.Flags().StringVar(&direction, "direction", "INCOMING", "flow direction: INCOMING or OUTGOING")

	return cmd
}

func parseDateFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateFormat, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing --%s: %w", name, err)
	}
	return t, nil
}

func parseDirection(s string) (model.FlowDirection, error) {
	switch model.FlowDirection(s) {
	case model.DirectionIncoming, model.DirectionOutgoing:
		return model.FlowDirection(s), nil
	}
	return "", fmt.Errorf("invalid direction %q, want INCOMING or OUTGOING", s)
}

func printTransactions(txns []model.CanonicalTransaction) {
	if len(txns) == 0 {
		fmt.Println("No transactions found.")
		return
	}
	for _, t := range txns {
		sign := "+"
		if t.Direction == model.DirectionOutgoing {
			sign = "-"
		}
		fmt.Printf("%s  %s%10s  %-24s  %s\n",
			t.Date.Format(dateFormat), sign, t.Amount.StringFixed(2), t.Type, t.Description)
	}
	fmt.Printf("%d transaction(s)\n", len(txns))
}
