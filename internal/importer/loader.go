package importer

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Loader writes parsed rows into the historical source table.
type Loader struct {
	db  *sql.DB
	now func() time.Time
}

// NewLoader creates a Loader over db.
func NewLoader(db *sql.DB) *Loader {
	return &Loader{db: db, now: time.Now}
}

const insertHistorical = `
	INSERT INTO historical_transactions
		(transaction_date, amount, description, category, invoice_id, property_id, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

// Load inserts rows in a single transaction and returns the count
// written. A failure writes nothing.
func (l *Loader) Load(ctx context.Context, rows []Row) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning import transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertHistorical)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	loadedAt := l.now()
	for i, row := range rows {
		_, err := stmt.ExecContext(ctx, row.Date, row.Amount.StringFixed(2),
			row.Description, row.Category,
			nullableID(row.InvoiceID), nullableID(row.PropertyID), loadedAt)
		if err != nil {
			return 0, fmt.Errorf("inserting row %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing import: %w", err)
	}
	return len(rows), nil
}

func nullableID(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
