package audit_test

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormglade/swingtimer/internal/audit"
)

// TestFileSink_WriteDatedFile verifies one NDJSON line per entry in the dated
// file for the sink's current day.
func TestFileSink_WriteDatedFile(t *testing.T) {
	dir := t.TempDir()
	sink, err := audit.NewFileSink(dir)
	require.NoError(t, err)
	day := time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC)
	sink.SetClock(func() time.Time { return day })

	entries := []audit.Entry{entryFor("a1", 1), entryFor("a1", 2)}
	require.NoError(t, sink.Write(entries))

	path := filepath.Join(dir, "audit-2026-08-30.ndjson")
	assert.Equal(t, path, sink.FileFor(day))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var decoded []audit.Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e audit.Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		decoded = append(decoded, e)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, decoded, 2)
	assert.Equal(t, int64(1), decoded[0].ExpectedMs)
	assert.Equal(t, int64(2), decoded[1].ExpectedMs)
}

// TestFileSink_AppendsAcrossWrites verifies a second write on the same day
// appends rather than truncates.
func TestFileSink_AppendsAcrossWrites(t *testing.T) {
	dir := t.TempDir()
	sink, err := audit.NewFileSink(dir)
	require.NoError(t, err)
	day := time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC)
	sink.SetClock(func() time.Time { return day })

	require.NoError(t, sink.Write([]audit.Entry{entryFor("a1", 1)}))
	require.NoError(t, sink.Write([]audit.Entry{entryFor("a1", 2)}))

	data, err := os.ReadFile(sink.FileFor(day))
	require.NoError(t, err)
	assert.Equal(t, 2, countLines(data))
}

func countLines(data []byte) int {
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}

// TestFileSink_EmptyWrite verifies an empty flush creates no file.
func TestFileSink_EmptyWrite(t *testing.T) {
	dir := t.TempDir()
	sink, err := audit.NewFileSink(dir)
	require.NoError(t, err)

	require.NoError(t, sink.Write(nil))
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

// TestFileSink_Prune verifies retention removes only aged dated files and
// leaves unrelated files alone.
func TestFileSink_Prune(t *testing.T) {
	dir := t.TempDir()
	sink, err := audit.NewFileSink(dir)
	require.NoError(t, err)
	now := time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC)
	sink.SetClock(func() time.Time { return now })

	for _, name := range []string{
		"audit-2026-08-01.ndjson", // 29 days old, pruned
		"audit-2026-08-25.ndjson", // 5 days old, kept
		"audit-2026-08-30.ndjson", // today, kept
		"unrelated.ndjson",        // not ours, kept
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}\n"), 0o644))
	}

	removed, err := sink.Prune(7)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	assert.NoFileExists(t, filepath.Join(dir, "audit-2026-08-01.ndjson"))
	assert.FileExists(t, filepath.Join(dir, "audit-2026-08-25.ndjson"))
	assert.FileExists(t, filepath.Join(dir, "audit-2026-08-30.ndjson"))
	assert.FileExists(t, filepath.Join(dir, "unrelated.ndjson"))
}

// TestFileSink_PruneDisabled verifies keepDays <= 0 is a no-op.
func TestFileSink_PruneDisabled(t *testing.T) {
	dir := t.TempDir()
	sink, err := audit.NewFileSink(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "audit-2000-01-01.ndjson"), []byte("{}\n"), 0o644))

	removed, err := sink.Prune(0)
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.FileExists(t, filepath.Join(dir, "audit-2000-01-01.ndjson"))
}
