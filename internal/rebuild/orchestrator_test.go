package rebuild

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unibook-dev/unibook/internal/classify"
	"github.com/unibook-dev/unibook/internal/ledger"
	"github.com/unibook-dev/unibook/internal/linker"
	"github.com/unibook-dev/unibook/internal/model"
	"github.com/unibook-dev/unibook/internal/policy"
	"github.com/unibook-dev/unibook/internal/refdata"
	"github.com/unibook-dev/unibook/internal/source"
)

// fakeLedger keeps the canonical and staging tables in memory and
// mirrors the swap semantics of the MySQL store.
type fakeLedger struct {
	live    []model.CanonicalTransaction
	staging []model.CanonicalTransaction
	staged  bool

	insertErr  error
	swapErr    error
	discarded  int
	extraBatch string // injected into BatchIDs to force a mismatch
}

func (f *fakeLedger) EnsureSchema(ctx context.Context) error { return nil }

func (f *fakeLedger) BeginStaging(ctx context.Context) error {
	f.staging = nil
	f.staged = true
	return nil
}

func (f *fakeLedger) InsertStaged(ctx context.Context, txns []model.CanonicalTransaction) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.staging = append(f.staging, txns...)
	return nil
}

func (f *fakeLedger) Swap(ctx context.Context) error {
	if f.swapErr != nil {
		return f.swapErr
	}
	f.live = f.staging
	f.staging = nil
	f.staged = false
	return nil
}

func (f *fakeLedger) DiscardStaging(ctx context.Context) error {
	f.staging = nil
	f.staged = false
	f.discarded++
	return nil
}

func (f *fakeLedger) ReplaceForSource(ctx context.Context, system model.SourceSystem, table string, recordIDs []int64, txns []model.CanonicalTransaction) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	superseded := make(map[int64]bool, len(recordIDs))
	for _, id := range recordIDs {
		superseded[id] = true
	}
	kept := f.live[:0]
	for _, txn := range f.live {
		if txn.SourceSystem == system && txn.SourceTable == table && superseded[txn.SourceRecordID] {
			continue
		}
		kept = append(kept, txn)
	}
	f.live = append(kept, txns...)
	return nil
}

func (f *fakeLedger) AggregateByType(ctx context.Context, from, to time.Time) ([]ledger.TypeAggregate, error) {
	byType := map[model.TransactionType]*ledger.TypeAggregate{}
	for _, txn := range f.live {
		agg, ok := byType[txn.Type]
		if !ok {
			agg = &ledger.TypeAggregate{Type: txn.Type}
			byType[txn.Type] = agg
		}
		agg.Count++
		agg.Total = agg.Total.Add(txn.Amount)
	}
	var out []ledger.TypeAggregate
	for _, agg := range byType {
		out = append(out, *agg)
	}
	return out, nil
}

func (f *fakeLedger) AggregateByFeed(ctx context.Context) ([]ledger.FeedAggregate, error) {
	byFeed := map[model.FeedTag]*ledger.FeedAggregate{}
	for _, txn := range f.live {
		if txn.Feed == "" {
			continue
		}
		agg, ok := byFeed[txn.Feed]
		if !ok {
			agg = &ledger.FeedAggregate{Feed: txn.Feed}
			byFeed[txn.Feed] = agg
		}
		agg.Count++
		agg.Total = agg.Total.Add(txn.Amount)
	}
	var out []ledger.FeedAggregate
	for _, agg := range byFeed {
		out = append(out, *agg)
	}
	return out, nil
}

func (f *fakeLedger) BatchIDs(ctx context.Context) ([]string, error) {
	seen := map[string]bool{}
	var ids []string
	for _, txn := range f.live {
		if !seen[txn.BatchID] {
			seen[txn.BatchID] = true
			ids = append(ids, txn.BatchID)
		}
	}
	if f.extraBatch != "" {
		ids = append(ids, f.extraBatch)
	}
	return ids, nil
}

// fakeAdapter streams a fixed slice of records.
type fakeAdapter struct {
	system  model.SourceSystem
	table   string
	records []model.SourceRecord
	skipped int
	err     error
}

func (f *fakeAdapter) System() model.SourceSystem { return f.system }
func (f *fakeAdapter) Table() string              { return f.table }

func (f *fakeAdapter) Each(ctx context.Context, fn func(model.SourceRecord) error) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	for _, rec := range f.records {
		if err := fn(rec); err != nil {
			return f.skipped, err
		}
	}
	return f.skipped, nil
}

func (f *fakeAdapter) EachUpdatedSince(ctx context.Context, since time.Time, fn func(model.SourceRecord) error) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	for _, rec := range f.records {
		if !rec.UpdatedAt.After(since) {
			continue
		}
		if err := fn(rec); err != nil {
			return f.skipped, err
		}
	}
	return f.skipped, nil
}

func int64p(v int64) *int64 { return &v }

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testRefdata() *refdata.Service {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return refdata.NewService(
		[]model.Property{
			{ID: 10, Name: "12 Harbour Street", ExternalID: "prop-ext-10"},
		},
		[]model.Lease{
			{ID: 100, PropertyID: 10, CustomerID: 7, Reference: "L-100", StartDate: start, Active: true, RentAmount: amt("950.00")},
		},
		[]model.Customer{
			{ID: 7, Name: "A. Tenant", ExternalID: "cust-ext-7"},
		},
	)
}

func newTestOrchestrator(led Ledger, hist, proc source.Adapter) *Orchestrator {
	clock := time.Date(2025, 3, 15, 10, 30, 0, 0, time.UTC)
	return New(led, hist, proc,
		classify.NewDefault(),
		linker.New(testRefdata()),
		policy.Default(),
		Options{
			BatchID: "REBUILD-20250315-103000-testrun0",
			Now:     func() time.Time { return clock },
			Log:     zerolog.Nop(),
		})
}

func testHistoricalRecords() []model.SourceRecord {
	may := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	return []model.SourceRecord{
		{
			Source: model.SourceHistorical, Table: source.HistoricalTable, ID: 1,
			Date: may, Amount: amt("950.00"), Description: "Rent May 2024",
			Category: "rent", InvoiceID: int64p(100),
		},
		{
			Source: model.SourceHistorical, Table: source.HistoricalTable, ID: 2,
			Date: may, Amount: amt("-120.00"), Description: "Boiler repair",
			Category: "maintenance", PropertyID: int64p(10),
		},
		{
			// No invoice, no lease, not an owner disbursement: orphan.
			Source: model.SourceHistorical, Table: source.HistoricalTable, ID: 3,
			Date: may, Amount: amt("40.00"), Description: "Misc", Category: "misc",
		},
	}
}

func testProcessorRecords() []model.SourceRecord {
	jun := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	return []model.SourceRecord{
		{
			Source: model.SourceProcessor, Table: source.ProcessorTable, ID: 51,
			Date: jun, Amount: amt("950.00"), Description: "Tenant payment",
			Feed: model.FeedIncomingPayment, ProcessorTxnID: "ptx-51",
			ExtPropertyID: "prop-ext-10", ExtTenantID: "cust-ext-7",
		},
		{
			// Accrual feed duplicates the settled payment; excluded.
			Source: model.SourceProcessor, Table: source.ProcessorTable, ID: 52,
			Date: jun, Amount: amt("950.00"), Description: "Invoice accrual",
			Feed: model.FeedInvoiceAccrual, ProcessorTxnID: "ptx-52",
			ExtPropertyID: "prop-ext-10",
		},
		{
			Source: model.SourceProcessor, Table: source.ProcessorTable, ID: 53,
			Date: jun, Amount: amt("-855.00"), Description: "Owner remittance",
			Feed: model.FeedBatchPayment, ProcessorType: "payment_to_beneficiary",
			ProcessorTxnID: "ptx-53", ExtPropertyID: "prop-ext-10",
		},
	}
}

func TestRunFullRebuild(t *testing.T) {
	led := &fakeLedger{}
	hist := &fakeAdapter{system: model.SourceHistorical, table: source.HistoricalTable, records: testHistoricalRecords(), skipped: 1}
	proc := &fakeAdapter{system: model.SourceProcessor, table: source.ProcessorTable, records: testProcessorRecords()}
	o := newTestOrchestrator(led, hist, proc)

	report, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateDone, o.State())
	assert.Equal(t, StateDone, report.State)

	// 2 historical + 2 processor survive; the orphan and the accrual do not.
	require.Len(t, led.live, 4)
	assert.False(t, led.staged, "staging must be consumed by the swap")

	assert.Equal(t, int64(3), report.Historical.Read)
	assert.Equal(t, int64(1), report.Historical.Skipped)
	assert.Equal(t, int64(1), report.Historical.Excluded[policy.ReasonOrphan])
	assert.Equal(t, int64(2), report.Historical.Written)
	assert.Equal(t, int64(3), report.Processor.Read)
	assert.Equal(t, int64(1), report.Processor.Excluded[policy.ReasonExcludedFeed])
	assert.Equal(t, int64(2), report.Processor.Written)
	assert.Equal(t, int64(4), report.Written())

	byKey := map[model.SourceKey]model.CanonicalTransaction{}
	for _, txn := range led.live {
		byKey[txn.Key()] = txn
	}

	rent := byKey[model.SourceKey{System: model.SourceHistorical, Table: source.HistoricalTable, RecordID: 1}]
	assert.Equal(t, model.TypeRentReceived, rent.Type)
	assert.Equal(t, model.DirectionIncoming, rent.Direction)
	assert.Equal(t, int64p(100), rent.InvoiceID)
	assert.Equal(t, "L-100", rent.LeaseReference)

	repair := byKey[model.SourceKey{System: model.SourceHistorical, Table: source.HistoricalTable, RecordID: 2}]
	assert.Equal(t, model.TypeExpense, repair.Type)
	assert.True(t, repair.Amount.Equal(amt("120.00")), "amount must be stored as a magnitude")
	assert.Equal(t, int64p(100), repair.InvoiceID, "lease fallback should link the active lease")
	assert.Equal(t, "12 Harbour Street", repair.PropertyName)

	payment := byKey[model.SourceKey{System: model.SourceProcessor, Table: source.ProcessorTable, RecordID: 51}]
	assert.Equal(t, model.TypeIncomingPayment, payment.Type)
	assert.Equal(t, int64p(10), payment.PropertyID)
	assert.Equal(t, int64p(7), payment.CustomerID)

	remit := byKey[model.SourceKey{System: model.SourceProcessor, Table: source.ProcessorTable, RecordID: 53}]
	assert.Equal(t, model.TypePaymentToBeneficiary, remit.Type)
	assert.Equal(t, model.DirectionOutgoing, remit.Direction)
	assert.True(t, remit.Amount.Equal(amt("855.00")))

	for _, txn := range led.live {
		assert.Equal(t, "REBUILD-20250315-103000-testrun0", txn.BatchID)
		assert.Equal(t, report.StartedAt, txn.RebuiltAt)
		assert.Equal(t, txn.Type.Direction(), txn.Direction)
		assert.False(t, txn.Amount.IsNegative())
	}

	require.NotNil(t, report.Verification)
	assert.True(t, report.Verification.OK(), "mismatches: %v", report.Verification.Mismatches)
}

func TestRunIsIdempotent(t *testing.T) {
	led := &fakeLedger{}
	hist := &fakeAdapter{system: model.SourceHistorical, table: source.HistoricalTable, records: testHistoricalRecords()}
	proc := &fakeAdapter{system: model.SourceProcessor, table: source.ProcessorTable, records: testProcessorRecords()}
	o := newTestOrchestrator(led, hist, proc)

	_, err := o.Run(context.Background())
	require.NoError(t, err)
	first := append([]model.CanonicalTransaction(nil), led.live...)

	_, err = o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, led.live, len(first))
	assert.Equal(t, first, led.live, "a re-run over unchanged sources must produce identical rows")
}

func TestRunFailureDiscardsStagingAndKeepsLive(t *testing.T) {
	led := &fakeLedger{}
	hist := &fakeAdapter{system: model.SourceHistorical, table: source.HistoricalTable, records: testHistoricalRecords()}
	proc := &fakeAdapter{system: model.SourceProcessor, table: source.ProcessorTable, records: testProcessorRecords()}

	_, err := newTestOrchestrator(led, hist, proc).Run(context.Background())
	require.NoError(t, err)
	livedRows := len(led.live)

	led.insertErr = errors.New("connection reset")
	o := newTestOrchestrator(led, hist, proc)
	report, err := o.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateFailed, o.State())
	assert.Equal(t, StateFailed, report.State)
	assert.Equal(t, 1, led.discarded)
	assert.Len(t, led.live, livedRows, "a failed run must not touch the live table")
}

func TestRunSourceErrorWrapsTable(t *testing.T) {
	led := &fakeLedger{}
	hist := &fakeAdapter{system: model.SourceHistorical, table: source.HistoricalTable, err: errors.New("table gone")}
	proc := &fakeAdapter{system: model.SourceProcessor, table: source.ProcessorTable}

	_, err := newTestOrchestrator(led, hist, proc).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), source.HistoricalTable)
}

func TestRunUnclassifiedRecordsAreCountedNotDropped(t *testing.T) {
	may := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	led := &fakeLedger{}
	hist := &fakeAdapter{system: model.SourceHistorical, table: source.HistoricalTable, records: []model.SourceRecord{
		{
			Source: model.SourceHistorical, Table: source.HistoricalTable, ID: 9,
			Date: may, Amount: amt("33.00"), Description: "Sundry adjustment",
			Category: "adjustment", InvoiceID: int64p(100),
		},
	}}
	proc := &fakeAdapter{system: model.SourceProcessor, table: source.ProcessorTable}

	report, err := newTestOrchestrator(led, hist, proc).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.Unclassified)
	require.Len(t, report.UnclassifiedSample, 1)
	assert.Equal(t, int64(9), report.UnclassifiedSample[0].RecordID)

	require.Len(t, led.live, 1)
	assert.Equal(t, model.TypeOther, led.live[0].Type)
	assert.Equal(t, model.DirectionOutgoing, led.live[0].Direction)
}

func TestRunVerificationFlagsForeignBatch(t *testing.T) {
	led := &fakeLedger{extraBatch: "REBUILD-20240101-000000-stale000"}
	hist := &fakeAdapter{system: model.SourceHistorical, table: source.HistoricalTable, records: testHistoricalRecords()}
	proc := &fakeAdapter{system: model.SourceProcessor, table: source.ProcessorTable}

	report, err := newTestOrchestrator(led, hist, proc).Run(context.Background())
	require.NoError(t, err, "verification mismatches are reported, not fatal")

	require.NotNil(t, report.Verification)
	require.False(t, report.Verification.OK())
	assert.Equal(t, "batch", report.Verification.Mismatches[0].Dimension)
}

func TestVerifyStandalone(t *testing.T) {
	led := &fakeLedger{}
	hist := &fakeAdapter{system: model.SourceHistorical, table: source.HistoricalTable, records: testHistoricalRecords()}
	proc := &fakeAdapter{system: model.SourceProcessor, table: source.ProcessorTable, records: testProcessorRecords()}

	_, err := newTestOrchestrator(led, hist, proc).Run(context.Background())
	require.NoError(t, err)

	report, err := newTestOrchestrator(led, hist, proc).Verify(context.Background())
	require.NoError(t, err)
	require.NotNil(t, report.Verification)
	assert.True(t, report.Verification.OK(), "mismatches: %v", report.Verification.Mismatches)
	assert.Equal(t, int64(4), report.Written(), "expected-row count mirrors a full rebuild")
	assert.Empty(t, led.staging, "verification writes nothing")

	// Tamper with a live amount; verification must notice.
	led.live[0].Amount = led.live[0].Amount.Add(amt("5.00"))
	report, err = newTestOrchestrator(led, hist, proc).Verify(context.Background())
	require.NoError(t, err)
	assert.False(t, report.Verification.OK())
}

func TestRunIncrementalReplacesChangedRows(t *testing.T) {
	led := &fakeLedger{}
	histRecords := testHistoricalRecords()
	hist := &fakeAdapter{system: model.SourceHistorical, table: source.HistoricalTable, records: histRecords}
	proc := &fakeAdapter{system: model.SourceProcessor, table: source.ProcessorTable, records: testProcessorRecords()}

	_, err := newTestOrchestrator(led, hist, proc).Run(context.Background())
	require.NoError(t, err)
	require.Len(t, led.live, 4)

	// Record 1's amount is corrected at the source; record 2 is
	// recategorized so that it now falls out as an orphan.
	since := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	changed := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	histRecords[0].Amount = amt("975.00")
	histRecords[0].UpdatedAt = changed
	histRecords[1].Category = "misc"
	histRecords[1].PropertyID = nil
	histRecords[1].UpdatedAt = changed

	clock := time.Date(2025, 3, 21, 8, 0, 0, 0, time.UTC)
	o := New(led, hist, proc, classify.NewDefault(), linker.New(testRefdata()), policy.Default(), Options{
		Now: func() time.Time { return clock },
		Log: zerolog.Nop(),
	})
	report, err := o.RunIncremental(context.Background(), since)
	require.NoError(t, err)
	assert.True(t, report.Incremental)

	// The corrected row is rewritten, the newly orphaned row is gone,
	// and the untouched rows keep their original batch.
	require.Len(t, led.live, 3)
	byKey := map[model.SourceKey]model.CanonicalTransaction{}
	for _, txn := range led.live {
		byKey[txn.Key()] = txn
	}

	rent, ok := byKey[model.SourceKey{System: model.SourceHistorical, Table: source.HistoricalTable, RecordID: 1}]
	require.True(t, ok)
	assert.True(t, rent.Amount.Equal(amt("975.00")))
	assert.Equal(t, report.BatchID, rent.BatchID)

	_, ok = byKey[model.SourceKey{System: model.SourceHistorical, Table: source.HistoricalTable, RecordID: 2}]
	assert.False(t, ok, "a changed record that is now excluded must lose its canonical row")

	payment := byKey[model.SourceKey{System: model.SourceProcessor, Table: source.ProcessorTable, RecordID: 51}]
	assert.Equal(t, "REBUILD-20250315-103000-testrun0", payment.BatchID)

	assert.Equal(t, int64(2), report.Historical.Read)
	assert.Equal(t, int64(1), report.Historical.Written)
	assert.Equal(t, int64(1), report.Historical.Excluded[policy.ReasonOrphan])
	assert.Nil(t, report.Verification, "incremental runs skip whole-table verification")
}
