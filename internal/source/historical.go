package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/unibook-dev/unibook/internal/logger"
	"github.com/unibook-dev/unibook/internal/model"
)

// HistoricalTable is the locally-maintained historical ledger table.
const HistoricalTable = "historical_transactions"

// HistoricalAdapter reads the historical ledger.
type HistoricalAdapter struct {
	db *sql.DB
}

// NewHistoricalAdapter creates an adapter over db.
func NewHistoricalAdapter(db *sql.DB) *HistoricalAdapter {
	return &HistoricalAdapter{db: db}
}

// System implements Adapter.
func (a *HistoricalAdapter) System() model.SourceSystem { return model.SourceHistorical }

// Table implements Adapter.
func (a *HistoricalAdapter) Table() string { return HistoricalTable }

const historicalSelect = `
	SELECT id, transaction_date, amount,
	       COALESCE(description, ''), COALESCE(category, ''),
	       invoice_id, property_id, customer_id,
	       COALESCE(updated_at, transaction_date)
	FROM historical_transactions`

// Each implements Adapter.
func (a *HistoricalAdapter) Each(ctx context.Context, fn func(model.SourceRecord) error) (int, error) {
	return a.each(ctx, historicalSelect, nil, fn)
}

// EachUpdatedSince implements Adapter.
func (a *HistoricalAdapter) EachUpdatedSince(ctx context.Context, since time.Time, fn func(model.SourceRecord) error) (int, error) {
	return a.each(ctx, historicalSelect+" WHERE updated_at > ?", []any{since}, fn)
}

func (a *HistoricalAdapter) each(ctx context.Context, query string, args []any, fn func(model.SourceRecord) error) (int, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("querying %s: %w", HistoricalTable, err)
	}
	defer rows.Close()

	skipped := 0
	for rows.Next() {
		var row historicalRow
		if err := rows.Scan(&row.ID, &row.Date, &row.Amount, &row.Description,
			&row.Category, &row.InvoiceID, &row.PropertyID, &row.CustomerID,
			&row.UpdatedAt); err != nil {
			return skipped, fmt.Errorf("scanning %s row: %w", HistoricalTable, err)
		}

		rec, err := normalizeHistorical(row)
		if err != nil {
			var mfe *MissingFieldError
			if errors.As(err, &mfe) {
				skipped++
				log := logger.FromContext(ctx)
				log.Warn().
					Str("table", mfe.Table).
					Int64("record_id", mfe.RecordID).
					Str("missing", mfe.Field).
					Msg("skipping source record")
				continue
			}
			return skipped, err
		}
		if err := fn(rec); err != nil {
			return skipped, err
		}
	}
	return skipped, rows.Err()
}

// historicalRow is one raw row, nullable fields intact.
type historicalRow struct {
	ID          int64
	Date        sql.NullTime
	Amount      sql.NullString
	Description string
	Category    string
	InvoiceID   sql.NullInt64
	PropertyID  sql.NullInt64
	CustomerID  sql.NullInt64
	UpdatedAt   time.Time
}

// normalizeHistorical maps a raw row to the common record shape.
func normalizeHistorical(row historicalRow) (model.SourceRecord, error) {
	if !row.Date.Valid {
		return model.SourceRecord{}, &MissingFieldError{Table: HistoricalTable, RecordID: row.ID, Field: "transaction_date"}
	}
	if !row.Amount.Valid {
		return model.SourceRecord{}, &MissingFieldError{Table: HistoricalTable, RecordID: row.ID, Field: "amount"}
	}
	amount, err := decimal.NewFromString(row.Amount.String)
	if err != nil {
		return model.SourceRecord{}, fmt.Errorf("%s record %d: parsing amount %q: %w",
			HistoricalTable, row.ID, row.Amount.String, err)
	}

	rec := model.SourceRecord{
		Source:      model.SourceHistorical,
		Table:       HistoricalTable,
		ID:          row.ID,
		Date:        row.Date.Time,
		Amount:      amount,
		Description: row.Description,
		Category:    row.Category,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.InvoiceID.Valid {
		v := row.InvoiceID.Int64
		rec.InvoiceID = &v
	}
	if row.PropertyID.Valid {
		v := row.PropertyID.Int64
		rec.PropertyID = &v
	}
	if row.CustomerID.Valid {
		v := row.CustomerID.Int64
		rec.CustomerID = &v
	}
	return rec, nil
}
