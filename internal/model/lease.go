package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lease is a rental agreement (stored as a row in the invoices table).
// The engine only reads leases to resolve linkage.
type Lease struct {
	ID         int64
	PropertyID int64
	CustomerID int64
	Reference  string
	StartDate  time.Time
	EndDate    *time.Time // nil = open-ended
	Active     bool
	RentAmount decimal.Decimal
}

// Covers reports whether date falls within the lease's validity interval.
func (l Lease) Covers(date time.Time) bool {
	if date.Before(l.StartDate) {
		return false
	}
	if l.EndDate != nil && date.After(*l.EndDate) {
		return false
	}
	return true
}

// Property is a managed property reference row.
type Property struct {
	ID         int64
	Name       string
	ExternalID string // processor-native property ID, empty if never synced
}

// Customer is a tenant or owner reference row.
type Customer struct {
	ID         int64
	Name       string
	ExternalID string // processor-native entity ID, empty if never synced
}
