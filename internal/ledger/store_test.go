package ledger

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unibook-dev/unibook/internal/model"
)

func sampleTransaction() model.CanonicalTransaction {
	invoiceID := int64(3)
	propertyID := int64(20)
	return model.CanonicalTransaction{
		SourceSystem:   model.SourceProcessor,
		SourceTable:    "financial_transactions",
		SourceRecordID: 11,
		Date:           time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC),
		Amount:         decimal.RequireFromString("950.00"),
		Description:    "July rent",
		Category:       "Rent",
		InvoiceID:      &invoiceID,
		PropertyID:     &propertyID,
		LeaseReference: "L-2025-20",
		PropertyName:   "Boden House Flat 3",
		ProcessorTxnID: "ptx-900",
		Feed:           model.FeedIncomingPayment,
		Type:           model.TypeIncomingPayment,
		Direction:      model.DirectionIncoming,
		RebuiltAt:      time.Date(2025, 7, 15, 13, 5, 1, 0, time.UTC),
		BatchID:        "REBUILD-20250715-130501-a1b2c3d4",
	}
}

func TestBuildInsert_SingleRow(t *testing.T) {
	query, args := buildInsert("unified_transactions", []model.CanonicalTransaction{sampleTransaction()})

	assert.Equal(t, placeholdersPerRow, strings.Count(query, "?"))
	require.Len(t, args, placeholdersPerRow)

	assert.Equal(t, "PROCESSOR", args[0])
	assert.Equal(t, "financial_transactions", args[1])
	assert.Equal(t, int64(11), args[2])
	assert.Equal(t, "950.00", args[4])
	assert.Equal(t, int64(3), args[7], "invoice_id")
	assert.Equal(t, int64(20), args[8], "property_id")
	assert.Nil(t, args[9], "customer_id null")
	assert.Equal(t, "INCOMING_PAYMENT", args[13])
	assert.Equal(t, "incoming_payment", args[14])
	assert.Equal(t, "INCOMING", args[15])
}

func TestBuildInsert_HistoricalNulls(t *testing.T) {
	txn := sampleTransaction()
	txn.SourceSystem = model.SourceHistorical
	txn.SourceTable = "historical_transactions"
	txn.ProcessorTxnID = ""
	txn.Feed = ""

	_, args := buildInsert("unified_transactions", []model.CanonicalTransaction{txn})

	assert.Nil(t, args[12], "processor_transaction_id null for historical rows")
	assert.Nil(t, args[13], "processor_data_source null for historical rows")
}

func TestBuildInsert_MultiRow(t *testing.T) {
	txns := []model.CanonicalTransaction{sampleTransaction(), sampleTransaction(), sampleTransaction()}
	query, args := buildInsert("unified_transactions", txns)

	assert.Equal(t, 3*placeholdersPerRow, strings.Count(query, "?"))
	assert.Len(t, args, 3*placeholdersPerRow)
	assert.Equal(t, 1, strings.Count(query, "INSERT INTO unified_transactions"))
}

func TestDDL_TraceabilityKey(t *testing.T) {
	schema := ddl(CanonicalTable)
	assert.Contains(t, schema, "UNIQUE KEY uq_source (source_system, source_table, source_record_id)")
	assert.Contains(t, schema, "CREATE TABLE IF NOT EXISTS unified_transactions")
}

func TestStagingAndRetiredNames(t *testing.T) {
	s := NewStore(nil, CanonicalTable)
	assert.Equal(t, "unified_transactions_staging", s.staging())
	assert.Equal(t, "unified_transactions_retired", s.retired())
}
