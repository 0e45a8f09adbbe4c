// Package runlog appends one CSV audit row per rebuild run.
package runlog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/unibook-dev/unibook/internal/rebuild"
)

// Entry is one row in the run log.
type Entry struct {
	Timestamp    time.Time
	BatchID      string
	Mode         string // "full" or "incremental"
	Status       string // terminal orchestrator state
	Read         int64
	Skipped      int64
	Excluded     int64
	Written      int64
	Unclassified int64
	Mismatches   int64
}

// Header is the CSV header for run-log.csv.
const Header = "timestamp,batch_id,mode,status,read,skipped,excluded,written,unclassified,mismatches"

const (
	numFields       = 10
	logDir          = "logs"
	logFile         = "logs/run-log.csv"
	colTimestamp    = 0
	colBatchID      = 1
	colMode         = 2
	colStatus       = 3
	colRead         = 4
	colSkipped      = 5
	colExcluded     = 6
	colWritten      = 7
	colUnclassified = 8
	colMismatches   = 9
)

// FromReport summarizes a run report into an Entry.
func FromReport(r *rebuild.Report) Entry {
	mode := "full"
	if r.Incremental {
		mode = "incremental"
	}
	e := Entry{
		Timestamp:    r.StartedAt,
		BatchID:      r.BatchID,
		Mode:         mode,
		Status:       string(r.State),
		Read:         r.Historical.Read + r.Processor.Read,
		Skipped:      r.Historical.Skipped + r.Processor.Skipped,
		Excluded:     r.Historical.ExcludedTotal() + r.Processor.ExcludedTotal(),
		Written:      r.Written(),
		Unclassified: r.Unclassified,
	}
	if r.Verification != nil {
		e.Mismatches = int64(len(r.Verification.Mismatches))
	}
	return e
}

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.Format(time.RFC3339)
	row[colBatchID] = e.BatchID
	row[colMode] = e.Mode
	row[colStatus] = e.Status
	row[colRead] = strconv.FormatInt(e.Read, 10)
	row[colSkipped] = strconv.FormatInt(e.Skipped, 10)
	row[colExcluded] = strconv.FormatInt(e.Excluded, 10)
	row[colWritten] = strconv.FormatInt(e.Written, 10)
	row[colUnclassified] = strconv.FormatInt(e.Unclassified, 10)
	row[colMismatches] = strconv.FormatInt(e.Mismatches, 10)
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}

	e := Entry{
		Timestamp: ts,
		BatchID:   record[colBatchID],
		Mode:      record[colMode],
		Status:    record[colStatus],
	}
	counts := []struct {
		col  int
		dest *int64
	}{
		{colRead, &e.Read},
		{colSkipped, &e.Skipped},
		{colExcluded, &e.Excluded},
		{colWritten, &e.Written},
		{colUnclassified, &e.Unclassified},
		{colMismatches, &e.Mismatches},
	}
	for _, c := range counts {
		v, err := strconv.ParseInt(record[c.col], 10, 64)
		if err != nil {
			return Entry{}, fmt.Errorf("parsing count %q: %w", record[c.col], err)
		}
		*c.dest = v
	}
	return e, nil
}

// Append writes entries to <root>/logs/run-log.csv, creating the file
// and header if needed.
func Append(root string, entries []Entry) error {
	dir := filepath.Join(root, logDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	path := filepath.Join(root, logFile)
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening run log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}

	return cw.Error()
}

// Read returns all entries from <root>/logs/run-log.csv. Returns an
// empty slice if the file does not exist.
func Read(root string) ([]Entry, error) {
	path := filepath.Join(root, logFile)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening run log: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading run log CSV: %w", err)
	}

	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
