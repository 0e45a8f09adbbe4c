// Package rebuild orchestrates the reconciliation run: it drives the
// source adapters through the classifier, linker, and exclusion
// policy, writes the canonical ledger through a staging swap, and
// verifies the result.
package rebuild

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/unibook-dev/unibook/internal/batchid"
	"github.com/unibook-dev/unibook/internal/classify"
	"github.com/unibook-dev/unibook/internal/ledger"
	"github.com/unibook-dev/unibook/internal/linker"
	"github.com/unibook-dev/unibook/internal/model"
	"github.com/unibook-dev/unibook/internal/policy"
	"github.com/unibook-dev/unibook/internal/source"
)

// State is the orchestrator's position in a run.
type State string

const (
	StateIdle              State = "IDLE"
	StateStaging           State = "STAGING"
	StateLoadingHistorical State = "LOADING_HISTORICAL"
	StateLoadingProcessor  State = "LOADING_PROCESSOR"
	StateSwapping          State = "SWAPPING"
	StateVerifying         State = "VERIFYING"
	StateDone              State = "DONE"
	StateFailed            State = "FAILED"
)

// Ledger is the canonical-table surface the orchestrator needs.
// *ledger.Store implements it; tests substitute an in-memory fake.
type Ledger interface {
	EnsureSchema(ctx context.Context) error
	BeginStaging(ctx context.Context) error
	InsertStaged(ctx context.Context, txns []model.CanonicalTransaction) error
	Swap(ctx context.Context) error
	DiscardStaging(ctx context.Context) error
	ReplaceForSource(ctx context.Context, system model.SourceSystem, table string, recordIDs []int64, txns []model.CanonicalTransaction) error
	AggregateByType(ctx context.Context, from, to time.Time) ([]ledger.TypeAggregate, error)
	AggregateByFeed(ctx context.Context) ([]ledger.FeedAggregate, error)
	BatchIDs(ctx context.Context) ([]string, error)
}

// writeChunk bounds how many rows are buffered before a staged write.
const writeChunk = 500

// Orchestrator owns one rebuild run at a time. It is not safe for
// concurrent use; the engine is a single sequential job by design.
type Orchestrator struct {
	ledger     Ledger
	historical source.Adapter
	processor  source.Adapter
	classifier *classify.Classifier
	linker     *linker.Linker
	policy     *policy.Policy

	log       zerolog.Logger
	now       func() time.Time
	state     State
	batchID   string
	tolerance decimal.Decimal
}

// Options tune an Orchestrator.
type Options struct {
	// BatchID overrides the generated batch identifier.
	BatchID string
	// Tolerance is the largest absolute aggregate difference
	// verification still accepts as a match. Zero demands equality.
	Tolerance decimal.Decimal
	// Now substitutes the clock, for tests.
	Now func() time.Time

	Log zerolog.Logger
}

// New wires an Orchestrator.
func New(led Ledger, historical, processor source.Adapter, cls *classify.Classifier, lnk *linker.Linker, pol *policy.Policy, opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		ledger:     led,
		historical: historical,
		processor:  processor,
		classifier: cls,
		linker:     lnk,
		policy:     pol,
		log:        opts.Log,
		now:        now,
		state:      StateIdle,
		batchID:    opts.BatchID,
		tolerance:  opts.Tolerance,
	}
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State { return o.state }

// Run performs a full rebuild: stage, load both sources, swap, verify.
// A completed run leaves the canonical ledger fully derivable from the
// source tables as of the run's start, with no stale rows. Safe to
// re-invoke; each run supersedes the last.
func (o *Orchestrator) Run(ctx context.Context) (*Report, error) {
	startedAt := o.now()
	id := o.batchID
	if id == "" {
		id = batchid.New(startedAt)
	}
	report := newReport(id, false, startedAt)
	o.log.Info().Str("batch_id", id).Msg("starting full rebuild")

	if err := o.runFull(ctx, report); err != nil {
		o.fail(ctx, report, err)
		return report, err
	}

	o.state = StateDone
	report.State = StateDone
	report.FinishedAt = o.now()
	o.log.Info().
		Str("batch_id", id).
		Int64("written", report.Written()).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).
		Msg("rebuild complete")
	return report, nil
}

func (o *Orchestrator) runFull(ctx context.Context, report *Report) error {
	rebuiltAt := report.StartedAt

	o.transition(report, StateStaging)
	if err := o.ledger.EnsureSchema(ctx); err != nil {
		return err
	}
	if err := o.ledger.BeginStaging(ctx); err != nil {
		return err
	}

	o.transition(report, StateLoadingHistorical)
	if err := o.loadStaged(ctx, o.historical, report, rebuiltAt); err != nil {
		return err
	}

	o.transition(report, StateLoadingProcessor)
	if err := o.loadStaged(ctx, o.processor, report, rebuiltAt); err != nil {
		return err
	}

	o.transition(report, StateSwapping)
	if err := o.ledger.Swap(ctx); err != nil {
		return err
	}

	o.transition(report, StateVerifying)
	result, err := o.verifyAgainst(ctx, report, report.BatchID)
	if err != nil {
		return err
	}
	report.Verification = result
	if !result.OK() {
		// Mismatches are a diagnostic signal for manual follow-up,
		// not a rollback trigger.
		o.log.Warn().Int("mismatches", len(result.Mismatches)).Msg("verification found mismatches")
	}
	return nil
}

// RunIncremental rebuilds only the canonical rows whose source records
// changed after since, using a transactional delete+reinsert per
// source. The staging swap does not apply; rows from earlier batches
// legitimately remain.
func (o *Orchestrator) RunIncremental(ctx context.Context, since time.Time) (*Report, error) {
	startedAt := o.now()
	id := o.batchID
	if id == "" {
		id = batchid.NewIncremental(startedAt)
	}
	report := newReport(id, true, startedAt)
	o.log.Info().Str("batch_id", id).Time("since", since).Msg("starting incremental rebuild")

	if err := o.runIncremental(ctx, report, since); err != nil {
		o.fail(ctx, report, err)
		return report, err
	}

	o.state = StateDone
	report.State = StateDone
	report.FinishedAt = o.now()
	o.log.Info().
		Str("batch_id", id).
		Int64("written", report.Written()).
		Msg("incremental rebuild complete")
	return report, nil
}

func (o *Orchestrator) runIncremental(ctx context.Context, report *Report, since time.Time) error {
	rebuiltAt := report.StartedAt

	if err := o.ledger.EnsureSchema(ctx); err != nil {
		return err
	}

	o.transition(report, StateLoadingHistorical)
	if err := o.loadIncremental(ctx, o.historical, report, since, rebuiltAt); err != nil {
		return err
	}

	o.transition(report, StateLoadingProcessor)
	return o.loadIncremental(ctx, o.processor, report, since, rebuiltAt)
}

// loadStaged streams one adapter through the pipeline into staging.
func (o *Orchestrator) loadStaged(ctx context.Context, adapter source.Adapter, report *Report, rebuiltAt time.Time) error {
	src := report.sourceReport(adapter.System())
	buf := make([]model.CanonicalTransaction, 0, writeChunk)

	skipped, err := adapter.Each(ctx, func(rec model.SourceRecord) error {
		src.Read++
		txn, ok := o.transform(rec, report, rebuiltAt)
		if !ok {
			return nil
		}
		buf = append(buf, txn)
		if len(buf) >= writeChunk {
			if err := o.ledger.InsertStaged(ctx, buf); err != nil {
				return err
			}
			src.Written += int64(len(buf))
			buf = buf[:0]
		}
		return nil
	})
	src.Skipped += int64(skipped)
	if err != nil {
		return fmt.Errorf("loading %s: %w", adapter.Table(), err)
	}

	if err := o.ledger.InsertStaged(ctx, buf); err != nil {
		return fmt.Errorf("loading %s: %w", adapter.Table(), err)
	}
	src.Written += int64(len(buf))
	return nil
}

// loadIncremental collects one adapter's changed records and replaces
// their canonical rows in a single transaction. Changed records that
// are now skipped or excluded still have their superseded rows
// deleted.
func (o *Orchestrator) loadIncremental(ctx context.Context, adapter source.Adapter, report *Report, since, rebuiltAt time.Time) error {
	src := report.sourceReport(adapter.System())
	var recordIDs []int64
	var txns []model.CanonicalTransaction

	skipped, err := adapter.EachUpdatedSince(ctx, since, func(rec model.SourceRecord) error {
		src.Read++
		recordIDs = append(recordIDs, rec.ID)
		if txn, ok := o.transform(rec, report, rebuiltAt); ok {
			txns = append(txns, txn)
		}
		return nil
	})
	src.Skipped += int64(skipped)
	if err != nil {
		return fmt.Errorf("loading %s since %s: %w", adapter.Table(), since.Format(time.RFC3339), err)
	}

	if err := o.ledger.ReplaceForSource(ctx, adapter.System(), adapter.Table(), recordIDs, txns); err != nil {
		return fmt.Errorf("replacing %s rows: %w", adapter.Table(), err)
	}
	src.Written += int64(len(txns))
	return nil
}

// transform runs one record through the pipeline and reports whether
// it produced a canonical row. Exclusion is checked before
// classification, so excluded records never influence the aggregates.
func (o *Orchestrator) transform(rec model.SourceRecord, report *Report, rebuiltAt time.Time) (model.CanonicalTransaction, bool) {
	src := report.sourceReport(rec.Source)

	link := o.linker.Resolve(rec)
	if reason := o.policy.Exclude(rec, link.LeaseResolved); reason != policy.ReasonNone {
		src.Excluded[reason]++
		return model.CanonicalTransaction{}, false
	}

	out := o.classifier.Classify(rec)
	if out.Unmatched {
		report.Unclassified++
		key := model.SourceKey{System: rec.Source, Table: rec.Table, RecordID: rec.ID}
		if len(report.UnclassifiedSample) < sampleLimit {
			report.UnclassifiedSample = append(report.UnclassifiedSample, key)
		}
		o.log.Warn().
			Str("source", string(rec.Source)).
			Str("table", rec.Table).
			Int64("record_id", rec.ID).
			Msg("record matched no classification rule")
	}
	if !link.LeaseResolved {
		src.Unlinked++
	}

	txn := model.CanonicalTransaction{
		SourceSystem:   rec.Source,
		SourceTable:    rec.Table,
		SourceRecordID: rec.ID,
		Date:           rec.Date,
		Amount:         rec.Amount.Abs(),
		Description:    rec.Description,
		Category:       rec.Category,
		InvoiceID:      link.InvoiceID,
		PropertyID:     link.PropertyID,
		CustomerID:     link.CustomerID,
		LeaseReference: link.LeaseReference,
		PropertyName:   link.PropertyName,
		ProcessorTxnID: rec.ProcessorTxnID,
		Feed:           rec.Feed,
		Type:           out.Type,
		Direction:      out.Direction,
		RebuiltAt:      rebuiltAt,
		BatchID:        report.BatchID,
	}

	report.ByType[txn.Type] = report.ByType[txn.Type].add(txn.Amount)
	if txn.Feed != "" {
		report.ByFeed[txn.Feed] = report.ByFeed[txn.Feed].add(txn.Amount)
	}
	return txn, true
}

func (o *Orchestrator) transition(report *Report, next State) {
	o.state = next
	report.State = next
	o.log.Debug().Str("state", string(next)).Msg("orchestrator state")
}

// fail moves to FAILED and discards any staging leftovers. The live
// canonical table is untouched by a failed full rebuild; the swap is
// the only step that replaces it.
func (o *Orchestrator) fail(ctx context.Context, report *Report, cause error) {
	o.state = StateFailed
	report.State = StateFailed
	report.FinishedAt = o.now()
	if !report.Incremental {
		if derr := o.ledger.DiscardStaging(ctx); derr != nil {
			o.log.Error().Err(derr).Msg("discarding staging table after failure")
		}
	}
	o.log.Error().Err(cause).Str("batch_id", report.BatchID).Msg("rebuild failed")
}
