package rebuild

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/unibook-dev/unibook/internal/model"
	"github.com/unibook-dev/unibook/internal/policy"
)

// Aggregate is a count and amount total for one reporting bucket.
type Aggregate struct {
	Count int64
	Total decimal.Decimal
}

func (a Aggregate) add(amount decimal.Decimal) Aggregate {
	return Aggregate{Count: a.Count + 1, Total: a.Total.Add(amount)}
}

// SourceReport counts what happened to one source's records.
type SourceReport struct {
	Read     int64
	Skipped  int64 // failed normalization (missing date/amount)
	Excluded map[policy.Reason]int64
	Unlinked int64 // written without a resolved lease
	Written  int64
}

// ExcludedTotal sums exclusions across reasons.
func (r SourceReport) ExcludedTotal() int64 {
	var n int64
	for _, v := range r.Excluded {
		n += v
	}
	return n
}

// Report describes one orchestrator run.
type Report struct {
	BatchID     string
	Incremental bool
	StartedAt   time.Time
	FinishedAt  time.Time
	State       State

	Historical SourceReport
	Processor  SourceReport

	ByType map[model.TransactionType]Aggregate
	ByFeed map[model.FeedTag]Aggregate

	// Unclassified counts records that fell through the whole rule
	// table. They are written as "other" but surfaced here rather
	// than silently defaulted.
	Unclassified int64
	// UnclassifiedSample holds up to sampleLimit traceability keys of
	// unclassified records, for operator follow-up.
	UnclassifiedSample []model.SourceKey

	Verification *VerifyResult
}

const sampleLimit = 20

func newReport(batchID string, incremental bool, startedAt time.Time) *Report {
	return &Report{
		BatchID:     batchID,
		Incremental: incremental,
		StartedAt:   startedAt,
		State:       StateIdle,
		Historical:  SourceReport{Excluded: make(map[policy.Reason]int64)},
		Processor:   SourceReport{Excluded: make(map[policy.Reason]int64)},
		ByType:      make(map[model.TransactionType]Aggregate),
		ByFeed:      make(map[model.FeedTag]Aggregate),
	}
}

// Written sums rows written across both sources.
func (r *Report) Written() int64 {
	return r.Historical.Written + r.Processor.Written
}

func (r *Report) sourceReport(system model.SourceSystem) *SourceReport {
	if system == model.SourceProcessor {
		return &r.Processor
	}
	return &r.Historical
}
