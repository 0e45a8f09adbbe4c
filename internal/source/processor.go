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

// ProcessorTable is the ledger synchronized from the payment
// processor. A separate sync process owns writes to it.
const ProcessorTable = "financial_transactions"

// ProcessorAdapter reads the processor-synchronized ledger.
type ProcessorAdapter struct {
	db *sql.DB
}

// NewProcessorAdapter creates an adapter over db.
func NewProcessorAdapter(db *sql.DB) *ProcessorAdapter {
	return &ProcessorAdapter{db: db}
}

// System implements Adapter.
func (a *ProcessorAdapter) System() model.SourceSystem { return model.SourceProcessor }

// Table implements Adapter.
func (a *ProcessorAdapter) Table() string { return ProcessorTable }

const processorSelect = `
	SELECT id, transaction_date, amount,
	       COALESCE(description, ''), COALESCE(category_name, ''),
	       COALESCE(transaction_type, ''), COALESCE(data_source, ''),
	       invoice_id,
	       COALESCE(property_id, ''), COALESCE(tenant_id, ''),
	       COALESCE(processor_transaction_id, ''), COALESCE(property_name, ''),
	       COALESCE(updated_at, transaction_date)
	FROM financial_transactions`

// Each implements Adapter.
func (a *ProcessorAdapter) Each(ctx context.Context, fn func(model.SourceRecord) error) (int, error) {
	return a.each(ctx, processorSelect, nil, fn)
}

// EachUpdatedSince implements Adapter.
func (a *ProcessorAdapter) EachUpdatedSince(ctx context.Context, since time.Time, fn func(model.SourceRecord) error) (int, error) {
	return a.each(ctx, processorSelect+" WHERE updated_at > ?", []any{since}, fn)
}

func (a *ProcessorAdapter) each(ctx context.Context, query string, args []any, fn func(model.SourceRecord) error) (int, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("querying %s: %w", ProcessorTable, err)
	}
	defer rows.Close()

	skipped := 0
	for rows.Next() {
		var row processorRow
		if err := rows.Scan(&row.ID, &row.Date, &row.Amount, &row.Description,
			&row.CategoryName, &row.TransactionType, &row.DataSource,
			&row.InvoiceID, &row.ExtPropertyID, &row.ExtTenantID,
			&row.ProcessorTxnID, &row.PropertyName, &row.UpdatedAt); err != nil {
			return skipped, fmt.Errorf("scanning %s row: %w", ProcessorTable, err)
		}

		rec, err := normalizeProcessor(row)
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

// processorRow is one raw row, nullable fields intact.
type processorRow struct {
	ID              int64
	Date            sql.NullTime
	Amount          sql.NullString
	Description     string
	CategoryName    string
	TransactionType string
	DataSource      string
	InvoiceID       sql.NullInt64
	ExtPropertyID   string
	ExtTenantID     string
	ProcessorTxnID  string
	PropertyName    string
	UpdatedAt       time.Time
}

// normalizeProcessor maps a raw row to the common record shape.
func normalizeProcessor(row processorRow) (model.SourceRecord, error) {
	if !row.Date.Valid {
		return model.SourceRecord{}, &MissingFieldError{Table: ProcessorTable, RecordID: row.ID, Field: "transaction_date"}
	}
	if !row.Amount.Valid {
		return model.SourceRecord{}, &MissingFieldError{Table: ProcessorTable, RecordID: row.ID, Field: "amount"}
	}
	amount, err := decimal.NewFromString(row.Amount.String)
	if err != nil {
		return model.SourceRecord{}, fmt.Errorf("%s record %d: parsing amount %q: %w",
			ProcessorTable, row.ID, row.Amount.String, err)
	}

	rec := model.SourceRecord{
		Source:         model.SourceProcessor,
		Table:          ProcessorTable,
		ID:             row.ID,
		Date:           row.Date.Time,
		Amount:         amount,
		Description:    row.Description,
		Category:       row.CategoryName,
		Feed:           model.FeedTag(row.DataSource),
		ProcessorType:  row.TransactionType,
		ProcessorTxnID: row.ProcessorTxnID,
		PropertyName:   row.PropertyName,
		ExtPropertyID:  row.ExtPropertyID,
		ExtTenantID:    row.ExtTenantID,
		UpdatedAt:      row.UpdatedAt,
	}
	if row.InvoiceID.Valid {
		v := row.InvoiceID.Int64
		rec.InvoiceID = &v
	}
	return rec, nil
}
