package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/sentinel/internal/correlation"
	"github.com/gyaneshwarpardhi/sentinel/internal/event"
	"github.com/gyaneshwarpardhi/sentinel/internal/store/sqlite"
	"github.com/gyaneshwarpardhi/sentinel/internal/suppression"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 123456789, time.UTC)

// openDB opens path and registers cleanup for both the handle and its writer.
func openDB(t *testing.T, path string) (*sql.DB, *sqlite.Worker) {
	t.Helper()
	db, err := sqlite.Open(context.Background(), path)
	require.NoError(t, err)
	w := sqlite.NewWorker(db)
	t.Cleanup(func() {
		w.Close()
		db.Close()
	})
	return db, w
}

func TestCorrelationRepository_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	db, err := sqlite.Open(ctx, path)
	require.NoError(t, err)
	w := sqlite.NewWorker(db)
	repo := sqlite.NewCorrelationRepository(db, w)
	page := 4
	open := correlation.Entry{
		Key:             "BT-0001",
		RuleID:          "R-002-STEP_TIMEOUT",
		RuleVersion:     "0.1",
		Status:          correlation.StatusOpen,
		OpenedAt:        t0,
		OpeningEventID:  "E1",
		ExpectedClosing: event.TypeStepCompleted,
		Context:         event.Context{Area: "FILL", PageNumber: &page, BatchToken: "BT-0001"},
	}
	require.NoError(t, repo.Save(ctx, open))

	closed := open
	closed.Key = "BT-0002"
	closed.Status = correlation.StatusClosed
	closedAt := t0.Add(time.Minute)
	closed.ClosedAt = &closedAt
	require.NoError(t, repo.Save(ctx, closed))
	require.NoError(t, repo.Delete(ctx, "BT-0002", closed.RuleID))

	// Upsert keeps one row per (key, rule).
	open.RuleVersion = "0.2"
	require.NoError(t, repo.Save(ctx, open))

	w.Close()
	require.NoError(t, db.Close())

	db2, w2 := openDB(t, path)
	got, err := sqlite.NewCorrelationRepository(db2, w2).LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "0.2", got[0].RuleVersion)
	assert.True(t, got[0].OpenedAt.Equal(t0))
	require.NotNil(t, got[0].Context.PageNumber)
	assert.Equal(t, 4, *got[0].Context.PageNumber)
}

func TestSuppressionBackend_RoundTripAndPrune(t *testing.T) {
	ctx := context.Background()
	db, w := openDB(t, filepath.Join(t.TempDir(), "state.db"))
	b := sqlite.NewSuppressionBackend(db, w)
	s := suppression.NewStore(b, suppression.Options{Retention: time.Hour})

	_, err := s.Record(ctx, "R-001|a", 30*time.Minute, t0)
	require.NoError(t, err)
	_, err = s.Record(ctx, "R-001|a", 30*time.Minute, t0.Add(40*time.Minute))
	require.NoError(t, err)

	sup, e, err := s.ShouldSuppress(ctx, "R-001|a", 30*time.Minute, t0.Add(50*time.Minute))
	require.NoError(t, err)
	assert.True(t, sup)
	assert.Equal(t, 2, e.Count)
	assert.True(t, e.LastAlertAt.Equal(t0.Add(40*time.Minute)))
	assert.Equal(t, 30*time.Minute, e.Window)

	n, err := s.Prune(ctx, t0.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = s.Prune(ctx, t0.Add(101*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := b.Get(ctx, "R-001|a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProcessedRepository(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	db, w := openDB(t, path)
	r := sqlite.NewProcessedRepository(db, w)

	seen, err := r.Seen(ctx, "E1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, r.Mark(ctx, "E1", t0))
	require.NoError(t, r.Mark(ctx, "E1", t0.Add(time.Second)))
	seen, err = r.Seen(ctx, "E1")
	require.NoError(t, err)
	assert.True(t, seen)

	n, err := r.Prune(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	db, _ := openDB(t, filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, sqlite.Migrate(ctx, db))

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations;`).Scan(&n))
	assert.Equal(t, 1, n)
}
