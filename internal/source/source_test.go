package source

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unibook-dev/unibook/internal/model"
)

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func nullInt(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}

func TestNormalizeHistorical(t *testing.T) {
	row := historicalRow{
		ID:          42,
		Date:        nullTime(time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)),
		Amount:      nullStr("950.00"),
		Description: "July rent",
		Category:    "rent",
		InvoiceID:   nullInt(3),
		PropertyID:  nullInt(20),
	}

	rec, err := normalizeHistorical(row)
	require.NoError(t, err)

	assert.Equal(t, model.SourceHistorical, rec.Source)
	assert.Equal(t, HistoricalTable, rec.Table)
	assert.Equal(t, int64(42), rec.ID)
	assert.Equal(t, "950", rec.Amount.String())
	require.NotNil(t, rec.InvoiceID)
	assert.Equal(t, int64(3), *rec.InvoiceID)
	require.NotNil(t, rec.PropertyID)
	assert.Equal(t, int64(20), *rec.PropertyID)
	assert.Nil(t, rec.CustomerID)
}

func TestNormalizeHistorical_MissingFields(t *testing.T) {
	base := historicalRow{
		ID:     7,
		Date:   nullTime(time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)),
		Amount: nullStr("10.00"),
	}

	noDate := base
	noDate.Date = sql.NullTime{}
	_, err := normalizeHistorical(noDate)
	var mfe *MissingFieldError
	require.ErrorAs(t, err, &mfe)
	assert.Equal(t, "transaction_date", mfe.Field)
	assert.Equal(t, int64(7), mfe.RecordID)

	noAmount := base
	noAmount.Amount = sql.NullString{}
	_, err = normalizeHistorical(noAmount)
	require.ErrorAs(t, err, &mfe)
	assert.Equal(t, "amount", mfe.Field)
}

func TestNormalizeHistorical_BadAmount(t *testing.T) {
	row := historicalRow{
		ID:     8,
		Date:   nullTime(time.Date(2025, 7, 15, 0, 0, 0, 0, time.UTC)),
		Amount: nullStr("not-a-number"),
	}
	_, err := normalizeHistorical(row)
	require.Error(t, err)
	var mfe *MissingFieldError
	assert.False(t, errors.As(err, &mfe), "parse failures are not missing-field skips")
}

func TestNormalizeProcessor(t *testing.T) {
	row := processorRow{
		ID:              11,
		Date:            nullTime(time.Date(2025, 7, 2, 0, 0, 0, 0, time.UTC)),
		Amount:          nullStr("-55.50"),
		Description:     "Contractor invoice",
		CategoryName:    "Contractor",
		TransactionType: "payment_to_beneficiary",
		DataSource:      "BATCH_PAYMENT",
		InvoiceID:       nullInt(3),
		ExtPropertyID:   "pp-prop-20",
		ExtTenantID:     "pp-ten-5",
		ProcessorTxnID:  "ptx-900",
		PropertyName:    "Boden House Flat 3",
	}

	rec, err := normalizeProcessor(row)
	require.NoError(t, err)

	assert.Equal(t, model.SourceProcessor, rec.Source)
	assert.Equal(t, ProcessorTable, rec.Table)
	assert.Equal(t, model.FeedBatchPayment, rec.Feed)
	assert.Equal(t, "payment_to_beneficiary", rec.ProcessorType)
	assert.Equal(t, "Contractor", rec.Category)
	assert.Equal(t, "-55.5", rec.Amount.String())
	assert.Equal(t, "pp-prop-20", rec.ExtPropertyID)
	assert.Equal(t, "pp-ten-5", rec.ExtTenantID)
	assert.Equal(t, "ptx-900", rec.ProcessorTxnID)
	require.NotNil(t, rec.InvoiceID)
	assert.Equal(t, int64(3), *rec.InvoiceID)
}

func TestNormalizeProcessor_MissingDate(t *testing.T) {
	row := processorRow{ID: 12, Amount: nullStr("10.00")}
	_, err := normalizeProcessor(row)
	var mfe *MissingFieldError
	require.ErrorAs(t, err, &mfe)
	assert.Equal(t, ProcessorTable, mfe.Table)
}
