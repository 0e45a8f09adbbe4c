// Package linker resolves each source record's invoice/lease,
// property, and customer association against the reference tables.
// Linkage failure is never fatal: a record that cannot be linked
// degrades to an unlinked canonical transaction.
package linker

import (
	"github.com/unibook-dev/unibook/internal/model"
	"github.com/unibook-dev/unibook/internal/refdata"
)

// Linkage is the resolved association for one record.
type Linkage struct {
	InvoiceID      *int64
	PropertyID     *int64
	CustomerID     *int64
	LeaseReference string
	PropertyName   string

	// LeaseResolved is true when the record is attached to a lease,
	// either by a direct invoice reference or by the active-lease
	// fallback. The exclusion policy's orphan check depends on it.
	LeaseResolved bool
}

// Linker resolves linkage against loaded reference data.
type Linker struct {
	ref *refdata.Service
}

// New creates a Linker over the given reference data.
func New(ref *refdata.Service) *Linker {
	return &Linker{ref: ref}
}

// Resolve links a record. Pure function of the record and the
// reference snapshot; no lookups hit storage.
func (l *Linker) Resolve(r model.SourceRecord) Linkage {
	var out Linkage

	// Processor records carry property/tenant identity as
	// processor-native string IDs; translate before anything else.
	// A failed translation yields null, not an error.
	propertyID := r.PropertyID
	customerID := r.CustomerID
	if r.Source == model.SourceProcessor {
		if r.ExtPropertyID != "" {
			if p, ok := l.ref.PropertyByExternalID(r.ExtPropertyID); ok {
				propertyID = &p.ID
			}
		}
		if r.ExtTenantID != "" {
			if c, ok := l.ref.CustomerByExternalID(r.ExtTenantID); ok {
				customerID = &c.ID
			}
		}
	}
	out.PropertyID = propertyID
	out.CustomerID = customerID

	// A direct invoice reference wins over any date-based lookup.
	if r.InvoiceID != nil {
		out.InvoiceID = r.InvoiceID
		out.LeaseResolved = true
		if lease, ok := l.ref.Lease(*r.InvoiceID); ok {
			out.LeaseReference = lease.Reference
			if out.PropertyID == nil {
				out.PropertyID = &lease.PropertyID
			}
			if out.CustomerID == nil && lease.CustomerID != 0 {
				out.CustomerID = &lease.CustomerID
			}
		}
	} else if propertyID != nil {
		// Fall back to the lease active on the property at the
		// transaction date.
		if lease, ok := l.ref.ActiveLeaseAt(*propertyID, r.Date); ok {
			leaseID := lease.ID
			out.InvoiceID = &leaseID
			out.LeaseReference = lease.Reference
			out.LeaseResolved = true
			if out.CustomerID == nil && lease.CustomerID != 0 {
				out.CustomerID = &lease.CustomerID
			}
		}
	}

	out.PropertyName = r.PropertyName
	if out.PropertyID != nil {
		if p, ok := l.ref.Property(*out.PropertyID); ok && p.Name != "" {
			out.PropertyName = p.Name
		}
	}

	return out
}
