package ledger

import "fmt"

// CanonicalTable is the default name of the canonical ledger table.
const CanonicalTable = "unified_transactions"

// stagingSuffix trails the canonical table name during a full rebuild.
const stagingSuffix = "_staging"

// retiredSuffix trails the previous canonical table during the swap.
const retiredSuffix = "_retired"

// ddl returns the canonical ledger schema for the given table name.
// The unique key enforces the traceability invariant: one canonical
// row per (source_system, source_table, source_record_id).
func ddl(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			source_system VARCHAR(20) NOT NULL,
			source_table VARCHAR(64) NOT NULL,
			source_record_id BIGINT NOT NULL,
			transaction_date DATE NOT NULL,
			amount DECIMAL(12,2) NOT NULL,
			description VARCHAR(500),
			category VARCHAR(100),
			invoice_id BIGINT NULL,
			property_id BIGINT NULL,
			customer_id BIGINT NULL,
			lease_reference VARCHAR(100),
			property_name VARCHAR(255),
			processor_transaction_id VARCHAR(100) NULL,
			processor_data_source VARCHAR(50) NULL,
			transaction_type VARCHAR(50) NOT NULL,
			flow_direction VARCHAR(10) NOT NULL,
			rebuilt_at DATETIME NOT NULL,
			rebuild_batch_id VARCHAR(64) NOT NULL,
			UNIQUE KEY uq_source (source_system, source_table, source_record_id),
			INDEX idx_invoice_id (invoice_id),
			INDEX idx_property_id (property_id),
			INDEX idx_transaction_date (transaction_date),
			INDEX idx_transaction_type (transaction_type)
		)`, table)
}
