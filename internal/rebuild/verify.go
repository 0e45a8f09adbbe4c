package rebuild

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/unibook-dev/unibook/internal/batchid"
	"github.com/unibook-dev/unibook/internal/model"
	"github.com/unibook-dev/unibook/internal/source"
)

// Mismatch records one disagreement between the run's accumulated
// totals and what the canonical table actually holds.
type Mismatch struct {
	Dimension string // "type", "feed", or "batch"
	Key       string
	Expected  Aggregate
	Actual    Aggregate
	Detail    string
}

func (m Mismatch) String() string {
	if m.Detail != "" {
		return fmt.Sprintf("%s %q: %s", m.Dimension, m.Key, m.Detail)
	}
	return fmt.Sprintf("%s %q: expected %d rows totalling %s, found %d rows totalling %s",
		m.Dimension, m.Key, m.Expected.Count, m.Expected.Total.StringFixed(2),
		m.Actual.Count, m.Actual.Total.StringFixed(2))
}

// VerifyResult is the outcome of the post-swap consistency check.
type VerifyResult struct {
	CheckedAt  time.Time
	Mismatches []Mismatch
}

// OK reports whether every aggregate matched.
func (v *VerifyResult) OK() bool { return len(v.Mismatches) == 0 }

// Verify recomputes the expected pipeline output from the source
// tables without writing anything and compares it against the live
// canonical ledger. The report's counters describe what the sources
// currently imply, not what any past run wrote.
func (o *Orchestrator) Verify(ctx context.Context) (*Report, error) {
	startedAt := o.now()
	report := newReport("", false, startedAt)
	o.transition(report, StateVerifying)

	for _, adapter := range []source.Adapter{o.historical, o.processor} {
		src := report.sourceReport(adapter.System())
		skipped, err := adapter.Each(ctx, func(rec model.SourceRecord) error {
			src.Read++
			if _, ok := o.transform(rec, report, startedAt); ok {
				src.Written++
			}
			return nil
		})
		src.Skipped += int64(skipped)
		if err != nil {
			o.fail(ctx, report, err)
			return report, fmt.Errorf("reading %s: %w", adapter.Table(), err)
		}
	}

	result, err := o.verifyAgainst(ctx, report, "")
	if err != nil {
		o.fail(ctx, report, err)
		return report, err
	}
	report.Verification = result

	o.state = StateDone
	report.State = StateDone
	report.FinishedAt = o.now()
	return report, nil
}

// verifyAgainst re-reads the canonical table and checks that per-type
// and per-feed aggregates match what the report accumulated. When
// expectBatch is set the table must hold rows from that batch only;
// otherwise every batch ID present must at least be well formed.
func (o *Orchestrator) verifyAgainst(ctx context.Context, report *Report, expectBatch string) (*VerifyResult, error) {
	result := &VerifyResult{CheckedAt: o.now()}

	typeAggs, err := o.ledger.AggregateByType(ctx, time.Time{}, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("verifying by type: %w", err)
	}
	actualByType := make(map[model.TransactionType]Aggregate, len(typeAggs))
	for _, agg := range typeAggs {
		actualByType[agg.Type] = Aggregate{Count: agg.Count, Total: agg.Total}
	}
	for _, t := range unionTypes(report.ByType, actualByType) {
		result.compare("type", string(t), report.ByType[t], actualByType[t], o.tolerance)
	}

	feedAggs, err := o.ledger.AggregateByFeed(ctx)
	if err != nil {
		return nil, fmt.Errorf("verifying by feed: %w", err)
	}
	actualByFeed := make(map[model.FeedTag]Aggregate, len(feedAggs))
	for _, agg := range feedAggs {
		actualByFeed[agg.Feed] = Aggregate{Count: agg.Count, Total: agg.Total}
	}
	for _, f := range unionFeeds(report.ByFeed, actualByFeed) {
		result.compare("feed", string(f), report.ByFeed[f], actualByFeed[f], o.tolerance)
	}

	ids, err := o.ledger.BatchIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("verifying batch ids: %w", err)
	}
	if expectBatch != "" {
		if len(ids) != 1 || ids[0] != expectBatch {
			result.Mismatches = append(result.Mismatches, Mismatch{
				Dimension: "batch",
				Key:       expectBatch,
				Detail:    fmt.Sprintf("expected a single batch id %q, found %v", expectBatch, ids),
			})
		}
		return result, nil
	}
	for _, id := range ids {
		if !batchid.Valid(id) {
			result.Mismatches = append(result.Mismatches, Mismatch{
				Dimension: "batch",
				Key:       id,
				Detail:    "malformed batch id",
			})
		}
	}
	return result, nil
}

func (v *VerifyResult) compare(dimension, key string, expected, actual Aggregate, tolerance decimal.Decimal) {
	if expected.Count == actual.Count &&
		expected.Total.Sub(actual.Total).Abs().LessThanOrEqual(tolerance) {
		return
	}
	v.Mismatches = append(v.Mismatches, Mismatch{
		Dimension: dimension,
		Key:       key,
		Expected:  expected,
		Actual:    actual,
	})
}

func unionTypes(a, b map[model.TransactionType]Aggregate) []model.TransactionType {
	keys := make([]model.TransactionType, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}

func unionFeeds(a, b map[model.FeedTag]Aggregate) []model.FeedTag {
	keys := make([]model.FeedTag, 0, len(a)+len(b))
	for k := range a {
		keys = append(keys, k)
	}
	for k := range b {
		if _, ok := a[k]; !ok {
			keys = append(keys, k)
		}
	}
	return keys
}
