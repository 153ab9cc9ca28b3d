package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catsync/internal/ir"
	"github.com/roach88/catsync/internal/store"
	"github.com/roach88/catsync/internal/testutil"
)

const testEvents = "testdata/events.ndjson"

// runEvents runs the fixture events into a fresh database and returns its path.
func runEvents(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "catsync.db")

	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", db, "--catalog", testCatalog, "--config", testConfig, "--events", testEvents})
	require.NoError(t, cmd.Execute())
	return db
}

func TestRunMissingDatabaseFlag(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--catalog", testCatalog}) // Missing --db flag

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "db")
}

func TestRunMissingCatalog(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "catsync.db"), "--catalog", "/nonexistent/catalog.yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "catalog file not found")
}

func TestRunMissingEventsFile(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", filepath.Join(t.TempDir(), "catsync.db"), "--catalog", testCatalog, "--events", "/nonexistent/events.ndjson"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, buf.String(), "events file not found")
}

func TestRunEventsFile(t *testing.T) {
	db := filepath.Join(t.TempDir(), "catsync.db")

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", db, "--catalog", testCatalog, "--config", testConfig, "--events", testEvents})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Status string     `json:"status"`
		Data   RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, RunSummary{Submitted: 2, Duplicates: 1, Rejected: 2, Pending: 6}, resp.Data)

	records := readRecords(t, db)
	assert.Len(t, records, 8)

	mug := findRecord(t, records, "default", 5, 0)
	assert.Equal(t, ir.ActionAdd, mug.NextAction)
	assert.True(t, mug.IsIndexable)

	variant := findRecord(t, records, "german", 11, 10)
	assert.Equal(t, "configurable_variants", variant.Subtype)
	assert.Equal(t, ir.ActionAdd, variant.NextAction)

	child := findRecord(t, records, "default", 11, 0)
	assert.False(t, child.IsIndexable, "not_visible child is not searchable on its own")
	assert.Equal(t, ir.ActionNone, child.NextAction)
}

func TestRunJournalsEvents(t *testing.T) {
	db := runEvents(t)

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	entries, err := st.Journal(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.NotNil(t, e.ProcessedAt, "event %s processed", e.Event.ID)
	}
	assert.Equal(t, int64(5), entries[0].Event.EntityID)
	assert.Equal(t, int64(11), entries[1].Event.EntityID)
}

func TestRunRerunIsIdempotent(t *testing.T) {
	db := runEvents(t)

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", db, "--catalog", testCatalog, "--config", testConfig, "--events", testEvents})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "Submitted 0 event(s) (3 duplicate, 2 rejected).")
	assert.Contains(t, output, "6 record(s) pending dispatch.")
	assert.NotContains(t, output, "Recovered")
}

func TestRunStdin(t *testing.T) {
	db := filepath.Join(t.TempDir(), "catsync.db")

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(`{"kind":"saved","entity_id":5,"changed_attributes":["price"]}` + "\n"))
	cmd.SetArgs([]string{"--db", db, "--catalog", testCatalog})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Submitted 1 event(s) (0 duplicate, 0 rejected).")
	assert.Contains(t, buf.String(), "1 record(s) pending dispatch.")
}

func TestRunDeterministicIDs(t *testing.T) {
	db := filepath.Join(t.TempDir(), "catsync.db")
	clock := testutil.NewStepClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), time.Second)

	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		Env:         EnvOptions{Catalog: testCatalog},
		Database:    db,
		IDGenerator: testutil.NewSequentialIDs("ev"),
		Now:         clock.Now,
	}
	cmd := &cobra.Command{}
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(strings.Join([]string{
		`{"kind":"saved","entity_id":5,"changed_attributes":["price"]}`,
		`{"kind":"saved","entity_id":5,"changed_attributes":["price"]}`,
	}, "\n")))

	require.NoError(t, runEngine(opts, cmd))

	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	entries, err := st.Journal(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2, "events without a timestamp are never duplicates")
	assert.Equal(t, "ev-0001", entries[0].Event.ID)
	assert.Equal(t, "ev-0002", entries[1].Event.ID)
	assert.True(t, entries[0].Event.OccurredAt.Before(entries[1].Event.OccurredAt))
}

func TestRunMetrics(t *testing.T) {
	db := filepath.Join(t.TempDir(), "catsync.db")

	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--db", db, "--catalog", testCatalog, "--events", testEvents, "--metrics"})

	require.NoError(t, cmd.Execute())

	var resp struct {
		Data RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, float64(2), resp.Data.Metrics[`catsync_events_total{kind="saved"}`])
	assert.Equal(t, float64(0), resp.Data.Metrics["catsync_conflicts_total"])
}

func TestDecodeEvent(t *testing.T) {
	ev, err := decodeEvent([]byte(`{"kind":"stock_changed","entity_id":7,"store_ids":[2]}`))
	require.NoError(t, err)
	assert.Equal(t, ir.EventStockChanged, ev.Kind)
	assert.Equal(t, int64(7), ev.EntityID)
	assert.Equal(t, []int64{2}, ev.StoreIDs)

	_, err = decodeEvent([]byte(`{"kind":"saved","entity":7}`))
	require.Error(t, err, "unknown fields are rejected")

	_, err = decodeEvent([]byte(`not json`))
	require.Error(t, err)
}

func TestRunHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "--db")
	assert.Contains(t, output, "--events")
	assert.Contains(t, output, "--metrics")
	assert.Contains(t, output, "journaled")
}
