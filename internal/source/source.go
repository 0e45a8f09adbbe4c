// Package source reads raw records from the two source tables and
// normalizes them into the common SourceRecord shape. Sources are
// read-only from the engine's perspective, so every read is
// restartable: calling Each again simply re-queries the table.
package source

import (
	"context"
	"fmt"
	"time"

	"github.com/unibook-dev/unibook/internal/model"
)

// MissingFieldError reports a source record missing a field required
// for classification. Such records are skipped and counted, never
// fatal to a run.
type MissingFieldError struct {
	Table    string
	RecordID int64
	Field    string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s record %d: missing %s", e.Table, e.RecordID, e.Field)
}

// Adapter streams normalized records from one source table.
type Adapter interface {
	// System identifies the originating source system.
	System() model.SourceSystem
	// Table is the source table name, for traceability keys.
	Table() string
	// Each streams every record through fn, skipping records that fail
	// normalization. It returns the number of records skipped. An
	// error from fn stops the stream and is returned as-is.
	Each(ctx context.Context, fn func(model.SourceRecord) error) (skipped int, err error)
	// EachUpdatedSince is Each restricted to records whose source row
	// changed after since. Used by incremental rebuilds.
	EachUpdatedSince(ctx context.Context, since time.Time, fn func(model.SourceRecord) error) (skipped int, err error)
}
