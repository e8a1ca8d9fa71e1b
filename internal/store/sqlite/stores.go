package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gyaneshwarpardhi/sentinel/internal/correlation"
	"github.com/gyaneshwarpardhi/sentinel/internal/suppression"
)

// CorrelationRepository implements correlation.Repository. The entry is
// stored whole as JSON; status and times are duplicated into columns for
// indexing.
type CorrelationRepository struct {
	db     *sql.DB
	writer *Worker
}

func NewCorrelationRepository(db *sql.DB, writer *Worker) *CorrelationRepository {
	return &CorrelationRepository{db: db, writer: writer}
}

func (r *CorrelationRepository) Save(ctx context.Context, e correlation.Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal correlation entry: %w", err)
	}
	var resolved any
	if t := e.ResolvedAt(); !t.IsZero() {
		resolved = t.UTC().UnixMilli()
	}
	return r.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO correlation_entries(correlation_key, rule_id, status, opened_at_ms, resolved_at_ms, body)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(correlation_key, rule_id) DO UPDATE SET
  status = excluded.status,
  opened_at_ms = excluded.opened_at_ms,
  resolved_at_ms = excluded.resolved_at_ms,
  body = excluded.body;
`, e.Key, e.RuleID, string(e.Status), e.OpenedAt.UTC().UnixMilli(), resolved, string(body)); err != nil {
			return fmt.Errorf("save correlation entry: %w", err)
		}
		return nil
	})
}

func (r *CorrelationRepository) Delete(ctx context.Context, key, ruleID string) error {
	return r.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM correlation_entries WHERE correlation_key = ? AND rule_id = ?;`, key, ruleID); err != nil {
			return fmt.Errorf("delete correlation entry: %w", err)
		}
		return nil
	})
}

func (r *CorrelationRepository) LoadAll(ctx context.Context) ([]correlation.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT body FROM correlation_entries ORDER BY opened_at_ms, correlation_key, rule_id;`)
	if err != nil {
		return nil, fmt.Errorf("load correlation entries: %w", err)
	}
	defer rows.Close()

	var out []correlation.Entry
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan correlation entry: %w", err)
		}
		var e correlation.Entry
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("decode correlation entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SuppressionBackend implements suppression.Backend.
type SuppressionBackend struct {
	db     *sql.DB
	writer *Worker
}

func NewSuppressionBackend(db *sql.DB, writer *Worker) *SuppressionBackend {
	return &SuppressionBackend{db: db, writer: writer}
}

func (b *SuppressionBackend) Get(ctx context.Context, key string) (suppression.Entry, bool, error) {
	var (
		last   string
		window int64
		count  int
	)
	err := b.db.QueryRowContext(ctx, `
SELECT last_alert_at, window_ns, alert_count FROM suppression_entries WHERE suppression_key = ?;
`, key).Scan(&last, &window, &count)
	if err == sql.ErrNoRows {
		return suppression.Entry{}, false, nil
	}
	if err != nil {
		return suppression.Entry{}, false, fmt.Errorf("get suppression entry: %w", err)
	}
	at, err := time.Parse(time.RFC3339Nano, last)
	if err != nil {
		return suppression.Entry{}, false, fmt.Errorf("parse last_alert_at: %w", err)
	}
	return suppression.Entry{Key: key, LastAlertAt: at, Window: time.Duration(window), Count: count}, true, nil
}

func (b *SuppressionBackend) Put(ctx context.Context, e suppression.Entry, ttl time.Duration) error {
	expires := e.LastAlertAt.Add(ttl).UTC().UnixMilli()
	return b.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO suppression_entries(suppression_key, last_alert_at, window_ns, alert_count, expires_at_ms)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(suppression_key) DO UPDATE SET
  last_alert_at = excluded.last_alert_at,
  window_ns = excluded.window_ns,
  alert_count = excluded.alert_count,
  expires_at_ms = excluded.expires_at_ms;
`, e.Key, e.LastAlertAt.UTC().Format(time.RFC3339Nano), int64(e.Window), e.Count, expires); err != nil {
			return fmt.Errorf("put suppression entry: %w", err)
		}
		return nil
	})
}

// Prune deletes entries past their expiry. retention was already folded into
// expires_at_ms when the entry was written.
func (b *SuppressionBackend) Prune(ctx context.Context, now time.Time, _ time.Duration) (int, error) {
	var deleted int64
	err := b.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM suppression_entries WHERE expires_at_ms < ?;`, now.UTC().UnixMilli())
		if err != nil {
			return fmt.Errorf("prune suppression entries: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return int(deleted), err
}

// ProcessedRepository records event ids that completed processing.
type ProcessedRepository struct {
	db     *sql.DB
	writer *Worker
}

func NewProcessedRepository(db *sql.DB, writer *Worker) *ProcessedRepository {
	return &ProcessedRepository{db: db, writer: writer}
}

func (r *ProcessedRepository) Seen(ctx context.Context, eventID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_events WHERE event_id = ?;`, eventID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return true, nil
}

func (r *ProcessedRepository) Mark(ctx context.Context, eventID string, at time.Time) error {
	return r.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO processed_events(event_id, processed_at_ms) VALUES (?, ?)
ON CONFLICT(event_id) DO NOTHING;
`, eventID, at.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("mark processed event: %w", err)
		}
		return nil
	})
}

// Prune forgets ids processed before cutoff.
func (r *ProcessedRepository) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	var deleted int64
	err := r.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM processed_events WHERE processed_at_ms < ?;`, cutoff.UTC().UnixMilli())
		if err != nil {
			return fmt.Errorf("prune processed events: %w", err)
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return int(deleted), err
}
