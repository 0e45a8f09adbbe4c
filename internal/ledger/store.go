// Package ledger owns the canonical transaction table: its schema,
// the staged write path used by rebuilds, and the read surface that
// statement generation consumes.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/unibook-dev/unibook/internal/model"
)

// Store reads and writes the canonical ledger table.
type Store struct {
	db    *sql.DB
	table string
}

// NewStore creates a Store over db for the given canonical table name.
// Pass CanonicalTable unless configuration overrides it.
func NewStore(db *sql.DB, table string) *Store {
	return &Store{db: db, table: table}
}

// Table returns the canonical table name.
func (s *Store) Table() string { return s.table }

func (s *Store) staging() string { return s.table + stagingSuffix }
func (s *Store) retired() string { return s.table + retiredSuffix }

// EnsureSchema creates the canonical table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, ddl(s.table)); err != nil {
		return fmt.Errorf("creating %s: %w", s.table, err)
	}
	return nil
}

// BeginStaging creates an empty staging table. Any staging table left
// over from a crashed run is discarded first.
func (s *Store) BeginStaging(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.staging()); err != nil {
		return fmt.Errorf("dropping stale staging table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, ddl(s.staging())); err != nil {
		return fmt.Errorf("creating staging table: %w", err)
	}
	return nil
}

// InsertStaged writes a batch of canonical rows into the staging table.
func (s *Store) InsertStaged(ctx context.Context, txns []model.CanonicalTransaction) error {
	return s.insert(ctx, s.staging(), txns)
}

// insertColumns is the column list for canonical inserts, matching
// placeholdersPerRow values per row.
const insertColumns = `source_system, source_table, source_record_id,
	transaction_date, amount, description, category,
	invoice_id, property_id, customer_id,
	lease_reference, property_name,
	processor_transaction_id, processor_data_source,
	transaction_type, flow_direction,
	rebuilt_at, rebuild_batch_id`

const placeholdersPerRow = 18

func (s *Store) insert(ctx context.Context, table string, txns []model.CanonicalTransaction) error {
	if len(txns) == 0 {
		return nil
	}
	query, args := buildInsert(table, txns)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting %d rows into %s: %w", len(txns), table, err)
	}
	return nil
}

// buildInsert renders a multi-row INSERT for the given transactions.
func buildInsert(table string, txns []model.CanonicalTransaction) (string, []any) {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", placeholdersPerRow), ", ") + ")"
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		table, insertColumns, strings.TrimSuffix(strings.Repeat(row+", ", len(txns)), ", "))

	args := make([]any, 0, len(txns)*placeholdersPerRow)
	for _, t := range txns {
		args = append(args,
			string(t.SourceSystem), t.SourceTable, t.SourceRecordID,
			t.Date, t.Amount.StringFixed(2), t.Description, t.Category,
			nullableInt(t.InvoiceID), nullableInt(t.PropertyID), nullableInt(t.CustomerID),
			t.LeaseReference, t.PropertyName,
			nullableStr(t.ProcessorTxnID), nullableStr(string(t.Feed)),
			string(t.Type), string(t.Direction),
			t.RebuiltAt, t.BatchID,
		)
	}
	return query, args
}

// Swap atomically replaces the canonical table with the staging table.
// MySQL's multi-table RENAME is a single atomic statement, so readers
// never observe an empty or half-loaded canonical ledger.
func (s *Store) Swap(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.retired()); err != nil {
		return fmt.Errorf("dropping retired table: %w", err)
	}
	rename := fmt.Sprintf("RENAME TABLE %s TO %s, %s TO %s",
		s.table, s.retired(), s.staging(), s.table)
	if _, err := s.db.ExecContext(ctx, rename); err != nil {
		return fmt.Errorf("swapping staging into place: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.retired()); err != nil {
		return fmt.Errorf("dropping retired table after swap: %w", err)
	}
	return nil
}

// DiscardStaging drops the staging table after a failed run.
func (s *Store) DiscardStaging(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+s.staging()); err != nil {
		return fmt.Errorf("discarding staging table: %w", err)
	}
	return nil
}

// ReplaceForSource transactionally deletes the canonical rows derived
// from the given source records and inserts their replacements.
// Incremental rebuilds use this instead of the staging swap.
func (s *Store) ReplaceForSource(ctx context.Context, system model.SourceSystem, table string, recordIDs []int64, txns []model.CanonicalTransaction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning incremental transaction: %w", err)
	}
	defer tx.Rollback()

	if len(recordIDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(recordIDs)), ", ")
		query := fmt.Sprintf(
			"DELETE FROM %s WHERE source_system = ? AND source_table = ? AND source_record_id IN (%s)",
			s.table, placeholders)
		args := make([]any, 0, len(recordIDs)+2)
		args = append(args, string(system), table)
		for _, id := range recordIDs {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("deleting superseded rows: %w", err)
		}
	}

	for start := 0; start < len(txns); start += insertChunk {
		end := min(start+insertChunk, len(txns))
		if err := insertTx(ctx, tx, s.table, txns[start:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing incremental replace: %w", err)
	}
	return nil
}

// insertChunk bounds multi-row INSERT size.
const insertChunk = 500

func insertTx(ctx context.Context, tx *sql.Tx, table string, txns []model.CanonicalTransaction) error {
	if len(txns) == 0 {
		return nil
	}
	query, args := buildInsert(table, txns)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting %d rows into %s: %w", len(txns), table, err)
	}
	return nil
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableStr(v string) any {
	if v == "" {
		return nil
	}
	return v
}
