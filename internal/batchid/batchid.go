// Package batchid formats and parses rebuild batch identifiers.
package batchid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// FullPrefix marks batches produced by a complete rebuild.
	FullPrefix = "REBUILD"
	// IncrementalPrefix marks batches produced by an incremental rebuild.
	IncrementalPrefix = "INCREMENTAL"

	timeFormat = "20060102-150405"
)

// New returns a full-rebuild batch ID like
// "REBUILD-20250715-130501-a1b2c3d4". The random suffix keeps two
// runs started in the same second distinct.
func New(now time.Time) string {
	return format(FullPrefix, now)
}

// NewIncremental returns an incremental-rebuild batch ID.
func NewIncremental(now time.Time) string {
	return format(IncrementalPrefix, now)
}

func format(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format(timeFormat), uuid.NewString()[:8])
}

// Parse splits a batch ID into its prefix and timestamp.
func Parse(id string) (prefix string, ts time.Time, err error) {
	parts := strings.Split(id, "-")
	if len(parts) != 4 {
		return "", time.Time{}, fmt.Errorf("invalid batch ID format: %q", id)
	}
	if parts[0] != FullPrefix && parts[0] != IncrementalPrefix {
		return "", time.Time{}, fmt.Errorf("invalid batch ID prefix in %q", id)
	}
	ts, err = time.Parse(timeFormat, parts[1]+"-"+parts[2])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("invalid batch ID timestamp in %q: %w", id, err)
	}
	return parts[0], ts, nil
}

// Valid reports whether id parses as a batch ID.
func Valid(id string) bool {
	_, _, err := Parse(id)
	return err == nil
}
