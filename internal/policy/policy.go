// Package policy centralizes the exclusion rules that keep duplicate or
// unusable source records out of the canonical ledger.
package policy

import (
	"sort"
	"strings"

	"github.com/unibook-dev/unibook/internal/model"
)

// Reason says why a record was excluded, or ReasonNone if it survives.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonExcludedFeed Reason = "excluded_feed"
	ReasonIncomplete   Reason = "incomplete"
	ReasonOrphan       Reason = "orphan"
)

// Policy is the closed exclusion list applied uniformly to both
// sources. It is configuration, not a heuristic: a feed is either in
// the excluded set or it is not.
type Policy struct {
	excludedFeeds map[model.FeedTag]bool
}

// New returns a policy excluding exactly the given feeds.
func New(excluded []model.FeedTag) *Policy {
	m := make(map[model.FeedTag]bool, len(excluded))
	for _, f := range excluded {
		m[f] = true
	}
	return &Policy{excludedFeeds: m}
}

// Default returns the standard policy. The accrual feed describes
// expected amounts later confirmed by the incoming-payment feed;
// keeping both double-counts income. The historical-import feeds are
// raw copies of the historical ledger and would duplicate the
// historical adapter's output.
func Default() *Policy {
	return New([]model.FeedTag{
		model.FeedInvoiceAccrual,
		model.FeedHistoricalImport,
		model.FeedHistoricalCSV,
	})
}

// ExcludedFeeds returns the excluded set, sorted for stable reporting.
func (p *Policy) ExcludedFeeds() []model.FeedTag {
	feeds := make([]model.FeedTag, 0, len(p.excludedFeeds))
	for f := range p.excludedFeeds {
		feeds = append(feeds, f)
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i] < feeds[j] })
	return feeds
}

// FeedExcluded reports whether a feed tag is in the excluded set.
func (p *Policy) FeedExcluded(feed model.FeedTag) bool {
	return p.excludedFeeds[feed]
}

// Exclude decides whether a record is written at all. leaseResolved
// reports whether the linker found a lease for the record; the orphan
// check runs after linking for that reason.
func (p *Policy) Exclude(r model.SourceRecord, leaseResolved bool) Reason {
	if r.Source == model.SourceProcessor && p.FeedExcluded(r.Feed) {
		return ReasonExcludedFeed
	}
	if !Complete(r) {
		return ReasonIncomplete
	}
	if Orphan(r, leaseResolved) {
		return ReasonOrphan
	}
	return ReasonNone
}

// Complete is the minimal completeness check: a record must carry a
// transaction date. Missing amounts are rejected earlier, by the
// adapters, because the normalized record cannot represent them.
func Complete(r model.SourceRecord) bool {
	return !r.Date.IsZero()
}

// Orphan reports whether a record has no usable linkage path and is
// dropped rather than written unlinked.
//
// Historical records survive when they carry a direct invoice link,
// when an active lease was resolved, or when they are owner
// disbursements (which attach to the owner, not a lease). Processor
// records survive when linked or when they come from a feed whose
// events stand alone (incoming payments and expense payments).
func Orphan(r model.SourceRecord, leaseResolved bool) bool {
	if r.InvoiceID != nil || leaseResolved {
		return false
	}
	switch r.Source {
	case model.SourceHistorical:
		return strings.ToLower(r.Category) != "owner_payment"
	case model.SourceProcessor:
		return r.Feed != model.FeedIncomingPayment && r.Feed != model.FeedExpensePayment
	default:
		return true
	}
}
