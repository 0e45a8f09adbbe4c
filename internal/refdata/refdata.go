// Package refdata provides in-memory lookup over the read-only
// reference tables: properties, invoices (leases), and customers.
// Reference data is loaded once per run; the tables are never written.
package refdata

import (
	"time"

	"github.com/unibook-dev/unibook/internal/model"
)

// Service indexes reference rows for lookup during linking.
type Service struct {
	properties []model.Property
	leases     []model.Lease
	customers  []model.Customer

	propByID  map[int64]model.Property
	propByExt map[string]model.Property

	custByID  map[int64]model.Customer
	custByExt map[string]model.Customer

	leaseByID        map[int64]model.Lease
	leasesByProperty map[int64][]model.Lease
}

// NewService creates a Service from reference rows.
func NewService(properties []model.Property, leases []model.Lease, customers []model.Customer) *Service {
	s := &Service{
		properties:       properties,
		leases:           leases,
		customers:        customers,
		propByID:         make(map[int64]model.Property, len(properties)),
		propByExt:        make(map[string]model.Property),
		custByID:         make(map[int64]model.Customer, len(customers)),
		custByExt:        make(map[string]model.Customer),
		leaseByID:        make(map[int64]model.Lease, len(leases)),
		leasesByProperty: make(map[int64][]model.Lease),
	}
	for _, p := range properties {
		s.propByID[p.ID] = p
		if p.ExternalID != "" {
			s.propByExt[p.ExternalID] = p
		}
	}
	for _, c := range customers {
		s.custByID[c.ID] = c
		if c.ExternalID != "" {
			s.custByExt[c.ExternalID] = c
		}
	}
	for _, l := range leases {
		s.leaseByID[l.ID] = l
		s.leasesByProperty[l.PropertyID] = append(s.leasesByProperty[l.PropertyID], l)
	}
	return s
}

// Property returns a property by internal ID.
func (s *Service) Property(id int64) (model.Property, bool) {
	p, ok := s.propByID[id]
	return p, ok
}

// PropertyByExternalID translates a processor-native property ID.
func (s *Service) PropertyByExternalID(ext string) (model.Property, bool) {
	p, ok := s.propByExt[ext]
	return p, ok
}

// Customer returns a customer by internal ID.
func (s *Service) Customer(id int64) (model.Customer, bool) {
	c, ok := s.custByID[id]
	return c, ok
}

// CustomerByExternalID translates a processor-native tenant ID.
func (s *Service) CustomerByExternalID(ext string) (model.Customer, bool) {
	c, ok := s.custByExt[ext]
	return c, ok
}

// Lease returns a lease by invoice ID.
func (s *Service) Lease(id int64) (model.Lease, bool) {
	l, ok := s.leaseByID[id]
	return l, ok
}

// ActiveLeaseAt finds the lease on a property whose validity interval
// contains date. When intervals overlap (an anomaly, but it happens),
// the most recently started lease wins; ties break on higher invoice
// ID so the choice is deterministic.
func (s *Service) ActiveLeaseAt(propertyID int64, date time.Time) (model.Lease, bool) {
	var best model.Lease
	found := false
	for _, l := range s.leasesByProperty[propertyID] {
		if !l.Covers(date) {
			continue
		}
		if !found || l.StartDate.After(best.StartDate) ||
			(l.StartDate.Equal(best.StartDate) && l.ID > best.ID) {
			best = l
			found = true
		}
	}
	return best, found
}
