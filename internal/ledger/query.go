package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/unibook-dev/unibook/internal/model"
)

// selectColumns mirrors insertColumns plus the row id.
const selectColumns = `id, source_system, source_table, source_record_id,
	transaction_date, amount, COALESCE(description, ''), COALESCE(category, ''),
	invoice_id, property_id, customer_id,
	COALESCE(lease_reference, ''), COALESCE(property_name, ''),
	COALESCE(processor_transaction_id, ''), COALESCE(processor_data_source, ''),
	transaction_type, flow_direction,
	rebuilt_at, rebuild_batch_id`

// ForLease returns transactions linked to a lease within a date range,
// ordered by transaction date. A zero bound leaves that side open.
func (s *Store) ForLease(ctx context.Context, invoiceID int64, from, to time.Time) ([]model.CanonicalTransaction, error) {
	from, to = dateRange(from, to)
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE invoice_id = ? AND transaction_date BETWEEN ? AND ?
		ORDER BY transaction_date, id`, selectColumns, s.table)
	return s.query(ctx, query, invoiceID, from, to)
}

// dateRange widens zero bounds to MySQL's DATE limits.
func dateRange(from, to time.Time) (time.Time, time.Time) {
	if from.IsZero() {
		from = time.Date(1000, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	if to.IsZero() {
		to = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)
	}
	return from, to
}

// ForProperty returns a property's transactions with the given flow
// direction, ordered by transaction date.
func (s *Store) ForProperty(ctx context.Context, propertyID int64, direction model.FlowDirection) ([]model.CanonicalTransaction, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s
		WHERE property_id = ? AND flow_direction = ?
		ORDER BY transaction_date, id`, selectColumns, s.table)
	return s.query(ctx, query, propertyID, string(direction))
}

// TypeAggregate is one row of an aggregate-by-transaction-type query.
type TypeAggregate struct {
	Type  model.TransactionType
	Count int64
	Total decimal.Decimal
}

// AggregateByType sums canonical amounts per transaction type for a
// date range.
func (s *Store) AggregateByType(ctx context.Context, from, to time.Time) ([]TypeAggregate, error) {
	from, to = dateRange(from, to)
	query := fmt.Sprintf(`
		SELECT transaction_type, COUNT(*), COALESCE(SUM(amount), 0)
		FROM %s
		WHERE transaction_date BETWEEN ? AND ?
		GROUP BY transaction_type
		ORDER BY transaction_type`, s.table)
	rows, err := s.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("aggregating by type: %w", err)
	}
	defer rows.Close()

	var aggs []TypeAggregate
	for rows.Next() {
		var a TypeAggregate
		var total string
		if err := rows.Scan(&a.Type, &a.Count, &total); err != nil {
			return nil, fmt.Errorf("scanning type aggregate: %w", err)
		}
		if a.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("parsing aggregate total %q: %w", total, err)
		}
		aggs = append(aggs, a)
	}
	return aggs, rows.Err()
}

// FeedAggregate is one row of an aggregate-by-processor-feed query.
type FeedAggregate struct {
	Feed  model.FeedTag
	Count int64
	Total decimal.Decimal
}

// AggregateByFeed sums canonical amounts per processor feed tag.
// Historical-origin rows, which carry no feed, are not included.
func (s *Store) AggregateByFeed(ctx context.Context) ([]FeedAggregate, error) {
	query := fmt.Sprintf(`
		SELECT processor_data_source, COUNT(*), COALESCE(SUM(amount), 0)
		FROM %s
		WHERE processor_data_source IS NOT NULL
		GROUP BY processor_data_source
		ORDER BY processor_data_source`, s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("aggregating by feed: %w", err)
	}
	defer rows.Close()

	var aggs []FeedAggregate
	for rows.Next() {
		var a FeedAggregate
		var total string
		if err := rows.Scan(&a.Feed, &a.Count, &total); err != nil {
			return nil, fmt.Errorf("scanning feed aggregate: %w", err)
		}
		if a.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("parsing aggregate total %q: %w", total, err)
		}
		aggs = append(aggs, a)
	}
	return aggs, rows.Err()
}

// SourceStats summarizes the ledger per originating source system.
type SourceStats struct {
	System   model.SourceSystem
	Count    int64
	Earliest time.Time
	Latest   time.Time
	Total    decimal.Decimal
}

// StatsBySource returns per-source-system row counts, date coverage,
// and amount totals.
func (s *Store) StatsBySource(ctx context.Context) ([]SourceStats, error) {
	query := fmt.Sprintf(`
		SELECT source_system, COUNT(*),
		       MIN(transaction_date), MAX(transaction_date),
		       COALESCE(SUM(amount), 0)
		FROM %s
		GROUP BY source_system
		ORDER BY source_system`, s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying source stats: %w", err)
	}
	defer rows.Close()

	var stats []SourceStats
	for rows.Next() {
		var st SourceStats
		var total string
		if err := rows.Scan(&st.System, &st.Count, &st.Earliest, &st.Latest, &total); err != nil {
			return nil, fmt.Errorf("scanning source stats: %w", err)
		}
		if st.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("parsing stats total %q: %w", total, err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// BatchIDs returns the distinct rebuild batch IDs present in the
// ledger. After a successful full rebuild there is exactly one.
func (s *Store) BatchIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT DISTINCT rebuild_batch_id FROM %s ORDER BY rebuild_batch_id", s.table))
	if err != nil {
		return nil, fmt.Errorf("querying batch ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning batch id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]model.CanonicalTransaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", s.table, err)
	}
	defer rows.Close()

	var txns []model.CanonicalTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func scanTransaction(rows *sql.Rows) (model.CanonicalTransaction, error) {
	var t model.CanonicalTransaction
	var amount string
	var invoiceID, propertyID, customerID sql.NullInt64
	var feed string

	err := rows.Scan(&t.ID, &t.SourceSystem, &t.SourceTable, &t.SourceRecordID,
		&t.Date, &amount, &t.Description, &t.Category,
		&invoiceID, &propertyID, &customerID,
		&t.LeaseReference, &t.PropertyName,
		&t.ProcessorTxnID, &feed,
		&t.Type, &t.Direction,
		&t.RebuiltAt, &t.BatchID)
	if err != nil {
		return model.CanonicalTransaction{}, fmt.Errorf("scanning canonical row: %w", err)
	}

	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return model.CanonicalTransaction{}, fmt.Errorf("row %d: parsing amount %q: %w", t.ID, amount, err)
	}
	if invoiceID.Valid {
		v := invoiceID.Int64
		t.InvoiceID = &v
	}
	if propertyID.Valid {
		v := propertyID.Int64
		t.PropertyID = &v
	}
	if customerID.Valid {
		v := customerID.Int64
		t.CustomerID = &v
	}
	t.Feed = model.FeedTag(feed)
	return t, nil
}
