package importer

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// StatementParser parses the agency's historical statement CSV export:
// date, amount, description, category, invoice_id, property_id.
// The two ID columns may be blank.
type StatementParser struct{}

const (
	statementDateFormat  = "2006-01-02"
	statementNumFields   = 6
	statementColDate     = 0
	statementColAmount   = 1
	statementColDesc     = 2
	statementColCategory = 3
	statementColInvoice  = 4
	statementColProperty = 5
)

// Format returns the parser name.
func (p *StatementParser) Format() string { return "statement" }

// Parse reads a statement CSV and returns Rows.
func (p *StatementParser) Parse(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = statementNumFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading statement CSV: %w", err)
	}

	if len(records) <= 1 {
		return nil, nil
	}

	var rows []Row
	for i, rec := range records[1:] {
		row, err := parseStatementRow(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseStatementRow(rec []string) (Row, error) {
	date, err := time.Parse(statementDateFormat, rec[statementColDate])
	if err != nil {
		return Row{}, fmt.Errorf("parsing date %q: %w", rec[statementColDate], err)
	}

	amount, err := decimal.NewFromString(rec[statementColAmount])
	if err != nil {
		return Row{}, fmt.Errorf("parsing amount %q: %w", rec[statementColAmount], err)
	}

	row := Row{
		Date:        date,
		Amount:      amount,
		Description: rec[statementColDesc],
		Category:    strings.ToLower(strings.TrimSpace(rec[statementColCategory])),
	}
	if row.InvoiceID, err = parseOptionalID(rec[statementColInvoice]); err != nil {
		return Row{}, fmt.Errorf("parsing invoice_id: %w", err)
	}
	if row.PropertyID, err = parseOptionalID(rec[statementColProperty]); err != nil {
		return Row{}, fmt.Errorf("parsing property_id: %w", err)
	}
	return row, nil
}

func parseOptionalID(s string) (*int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
