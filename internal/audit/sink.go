package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Sink is durable storage for flushed audit entries.
type Sink interface {
	// Write appends entries durably. It must either persist every entry or
	// return an error; partial writes are treated as failures and the buffer
	// is retried on the next flush.
	Write(entries []Entry) error
}

// filePrefix and fileExt shape the dated log file names.
const (
	filePrefix = "audit-"
	fileExt    = ".ndjson"
)

// FileSink appends newline-delimited JSON records to one file per day
// (audit-YYYY-MM-DD.ndjson) under a directory.
type FileSink struct {
	dir string
	now func() time.Time
}

// NewFileSink creates a FileSink writing under dir, creating it if needed.
//
// Postcondition: Returns a usable sink or a non-nil error.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit dir %q: %w", dir, err)
	}
	return &FileSink{dir: dir, now: time.Now}, nil
}

// SetClock overrides the time source for tests.
func (s *FileSink) SetClock(now func() time.Time) { s.now = now }

// FileFor returns the dated log path for t.
func (s *FileSink) FileFor(t time.Time) string {
	return filepath.Join(s.dir, filePrefix+t.Format("2006-01-02")+fileExt)
}

// Write implements Sink. All entries of one call land in a single dated
// file.
func (s *FileSink) Write(entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	path := s.FileFor(s.now())
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log %q: %w", path, err)
	}
	enc := json.NewEncoder(f)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			f.Close()
			return fmt.Errorf("encoding audit entry: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing audit log %q: %w", path, err)
	}
	return nil
}

// Prune deletes dated log files older than keepDays, returning how many were
// removed. keepDays <= 0 disables pruning.
func (s *FileSink) Prune(keepDays int) (int, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("reading audit dir %q: %w", s.dir, err)
	}
	cutoff := s.now().AddDate(0, 0, -keepDays)

	// Sort for deterministic removal order in logs and tests.
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	removed := 0
	for _, name := range names {
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileExt) {
			continue
		}
		datePart := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileExt)
		day, err := time.Parse("2006-01-02", datePart)
		if err != nil {
			continue // not one of ours
		}
		if day.Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
				return removed, fmt.Errorf("removing %q: %w", name, err)
			}
			removed++
		}
	}
	return removed, nil
}
