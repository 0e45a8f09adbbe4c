// Package classify assigns a (transaction type, flow direction) pair to
// normalized source records using an ordered rule table. First match wins.
package classify

import (
	"strings"

	"github.com/unibook-dev/unibook/internal/model"
)

// Outcome is the result of classifying one source record.
type Outcome struct {
	Type      model.TransactionType
	Direction model.FlowDirection
	Rule      string // name of the rule that matched
	Unmatched bool   // true when no rule matched and the default applied
}

// Rule pairs a predicate with an outcome. Rules are evaluated top to
// bottom; the first matching rule decides the transaction type, and
// direction follows from the type.
type Rule struct {
	Name  string
	Match func(model.SourceRecord) bool
	Type  model.TransactionType
}

// Classifier evaluates an ordered rule table. The zero value is not
// usable; construct with New.
type Classifier struct {
	rules []Rule
}

// New returns a classifier over the given rules.
func New(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// NewDefault returns a classifier with the standard rule table.
func NewDefault() *Classifier {
	return New(DefaultRules())
}

// Classify assigns a type and direction to a record. Pure function of
// the record's fields.
func (c *Classifier) Classify(r model.SourceRecord) Outcome {
	for _, rule := range c.rules {
		if rule.Match(r) {
			return Outcome{Type: rule.Type, Direction: rule.Type.Direction(), Rule: rule.Name}
		}
	}
	// No rule matched. The record still gets a canonical row, but the
	// caller is expected to count and report it.
	return Outcome{
		Type:      model.TypeOther,
		Direction: model.TypeOther.Direction(),
		Rule:      "unmatched-default",
		Unmatched: true,
	}
}

// expenseCategories is the closed set of operating-expense categories.
var expenseCategories = map[string]bool{
	"cleaning":    true,
	"furnishings": true,
	"maintenance": true,
	"utilities":   true,
	"compliance":  true,
	"management":  true,
	"agency_fee":  true,
}

// ownerDisbursementCategory marks payouts to the property owner.
const ownerDisbursementCategory = "owner_payment"

// DefaultRules returns the standard ordered rule table.
//
// Feed-tag rules come first: the processor's own payment events are
// authoritative for processor-origin records, regardless of category
// text. They never match historical records, which carry no feed tag.
// Rent recognition runs before generic expense matching because rent
// descriptions sometimes contain substrings that would otherwise match
// expense tokens.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:  "incoming-payment-feed",
			Match: func(r model.SourceRecord) bool { return r.Feed == model.FeedIncomingPayment },
			Type:  model.TypeIncomingPayment,
		},
		{
			Name: "batch-payment-to-agency",
			Match: func(r model.SourceRecord) bool {
				return r.Feed == model.FeedBatchPayment && r.ProcessorType == string(model.TypePaymentToAgency)
			},
			Type: model.TypePaymentToAgency,
		},
		{
			Name:  "batch-payment-to-beneficiary",
			Match: func(r model.SourceRecord) bool { return r.Feed == model.FeedBatchPayment },
			Type:  model.TypePaymentToBeneficiary,
		},
		{
			Name:  "commission-feed",
			Match: func(r model.SourceRecord) bool { return r.Feed == model.FeedCommissionPayment },
			Type:  model.TypeCommissionPayment,
		},
		{
			Name:  "expense-feed",
			Match: func(r model.SourceRecord) bool { return r.Feed == model.FeedExpensePayment },
			Type:  model.TypeExpense,
		},
		{
			Name: "rent-token",
			Match: func(r model.SourceRecord) bool {
				return containsFold(r.Category, "rent") || containsFold(r.Description, "rent")
			},
			Type: model.TypeRentReceived,
		},
		{
			Name: "expense-category",
			Match: func(r model.SourceRecord) bool {
				return expenseCategories[strings.ToLower(r.Category)] || containsFold(r.Category, "expense")
			},
			Type: model.TypeExpense,
		},
		{
			Name:  "owner-disbursement",
			Match: func(r model.SourceRecord) bool { return strings.ToLower(r.Category) == ownerDisbursementCategory },
			Type:  model.TypePaymentToBeneficiary,
		},
	}
}

// containsFold reports whether s contains substr case-insensitively.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
