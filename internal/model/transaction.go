package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceSystem identifies which ledger a record originated from.
type SourceSystem string

const (
	SourceHistorical SourceSystem = "HISTORICAL"
	SourceProcessor  SourceSystem = "PROCESSOR"
)

// FeedTag identifies the processor subsystem that emitted a record.
// Historical records carry no feed tag.
type FeedTag string

const (
	FeedIncomingPayment   FeedTag = "INCOMING_PAYMENT"
	FeedBatchPayment      FeedTag = "BATCH_PAYMENT"
	FeedCommissionPayment FeedTag = "COMMISSION_PAYMENT"
	FeedExpensePayment    FeedTag = "EXPENSE_PAYMENT"
	FeedInvoiceAccrual    FeedTag = "ICDN_ACTUAL"
	FeedHistoricalImport  FeedTag = "HISTORICAL_IMPORT"
	FeedHistoricalCSV     FeedTag = "HISTORICAL_CSV"
)

// TransactionType is the canonical transaction taxonomy.
type TransactionType string

const (
	TypeRentReceived         TransactionType = "rent_received"
	TypeIncomingPayment      TransactionType = "incoming_payment"
	TypeExpense              TransactionType = "expense"
	TypePaymentToBeneficiary TransactionType = "payment_to_beneficiary"
	TypePaymentToAgency      TransactionType = "payment_to_agency"
	TypeCommissionPayment    TransactionType = "commission_payment"
	TypeOther                TransactionType = "other"
)

// FlowDirection is whether money moves toward or away from the owner.
type FlowDirection string

const (
	DirectionIncoming FlowDirection = "INCOMING"
	DirectionOutgoing FlowDirection = "OUTGOING"
)

// Direction returns the flow direction implied by a transaction type.
// Direction is never assigned independently of the type.
func (t TransactionType) Direction() FlowDirection {
	switch t {
	case TypeRentReceived, TypeIncomingPayment:
		return DirectionIncoming
	default:
		return DirectionOutgoing
	}
}

// SourceRecord is the common in-memory shape both source adapters
// normalize into. Historical records leave the processor-only fields
// empty; processor records carry property/tenant identity as
// processor-native string IDs until the linker translates them.
type SourceRecord struct {
	Source SourceSystem
	Table  string
	ID     int64

	Date        time.Time
	Amount      decimal.Decimal // signed, as recorded at the source
	Description string
	Category    string

	// Direct links, when the source supplies them.
	InvoiceID  *int64
	PropertyID *int64
	CustomerID *int64

	// Processor-only fields.
	Feed           FeedTag
	ProcessorType  string // processor transaction-type code
	ProcessorTxnID string
	PropertyName   string
	ExtPropertyID  string // processor-native property ID
	ExtTenantID    string // processor-native tenant ID

	UpdatedAt time.Time
}

// CanonicalTransaction is one reconciled row in the canonical ledger.
// Amount is a non-negative magnitude; Direction carries the sign.
type CanonicalTransaction struct {
	ID int64

	SourceSystem   SourceSystem
	SourceTable    string
	SourceRecordID int64

	Date        time.Time
	Amount      decimal.Decimal
	Description string
	Category    string

	InvoiceID      *int64
	PropertyID     *int64
	CustomerID     *int64
	LeaseReference string
	PropertyName   string

	ProcessorTxnID string
	Feed           FeedTag // empty for historical-origin rows

	Type      TransactionType
	Direction FlowDirection

	RebuiltAt time.Time
	BatchID   string
}

// SourceKey identifies the source record a canonical row derives from.
// The triple is unique in the canonical ledger.
type SourceKey struct {
	System   SourceSystem
	Table    string
	RecordID int64
}

// Key returns the traceability key for a canonical transaction.
func (c CanonicalTransaction) Key() SourceKey {
	return SourceKey{System: c.SourceSystem, Table: c.SourceTable, RecordID: c.SourceRecordID}
}
