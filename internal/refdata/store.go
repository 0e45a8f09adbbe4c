package refdata

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/unibook-dev/unibook/internal/model"
)

// Load reads the three reference tables into a Service.
func Load(ctx context.Context, db *sql.DB) (*Service, error) {
	properties, err := loadProperties(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("loading properties: %w", err)
	}
	leases, err := loadLeases(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("loading leases: %w", err)
	}
	customers, err := loadCustomers(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("loading customers: %w", err)
	}
	return NewService(properties, leases, customers), nil
}

func loadProperties(ctx context.Context, db *sql.DB) ([]model.Property, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, property_name, COALESCE(processor_id, '')
		FROM properties`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var properties []model.Property
	for rows.Next() {
		var p model.Property
		var name sql.NullString
		if err := rows.Scan(&p.ID, &name, &p.ExternalID); err != nil {
			return nil, fmt.Errorf("scanning property: %w", err)
		}
		p.Name = name.String
		properties = append(properties, p)
	}
	return properties, rows.Err()
}

func loadLeases(ctx context.Context, db *sql.DB) ([]model.Lease, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, property_id, COALESCE(customer_id, 0), COALESCE(lease_reference, ''),
		       start_date, end_date, COALESCE(is_active, 1), COALESCE(rent_amount, 0)
		FROM invoices`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var leases []model.Lease
	for rows.Next() {
		var l model.Lease
		var end sql.NullTime
		var rent string
		if err := rows.Scan(&l.ID, &l.PropertyID, &l.CustomerID, &l.Reference,
			&l.StartDate, &end, &l.Active, &rent); err != nil {
			return nil, fmt.Errorf("scanning lease: %w", err)
		}
		if end.Valid {
			d := end.Time
			l.EndDate = &d
		}
		l.RentAmount, err = decimal.NewFromString(rent)
		if err != nil {
			return nil, fmt.Errorf("lease %d: parsing rent amount %q: %w", l.ID, rent, err)
		}
		leases = append(leases, l)
	}
	return leases, rows.Err()
}

func loadCustomers(ctx context.Context, db *sql.DB) ([]model.Customer, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT customer_id, COALESCE(name, ''), COALESCE(processor_entity_id, '')
		FROM customers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []model.Customer
	for rows.Next() {
		var c model.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.ExternalID); err != nil {
			return nil, fmt.Errorf("scanning customer: %w", err)
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}
