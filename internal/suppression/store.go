// Package suppression discards repeat alerts for the same rule and context
// inside a rolling window.
package suppression

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/gyaneshwarpardhi/sentinel/internal/event"
	"github.com/gyaneshwarpardhi/sentinel/internal/keylock"
)

// Entry is the suppression state of one key. Count is the number of alerts
// emitted for the key since it was first recorded.
type Entry struct {
	Key         string        `json:"suppression_key"`
	LastAlertAt time.Time     `json:"last_alert_at"`
	Window      time.Duration `json:"window"`
	Count       int           `json:"count"`
}

// Backend stores entries. Implementations must make Put atomic per key.
type Backend interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, e Entry, ttl time.Duration) error
	// Prune removes entries idle for longer than max(window, retention).
	Prune(ctx context.Context, now time.Time, retention time.Duration) (int, error)
}

// Key builds rule_id|signature where signature is a stable hash of the
// context fields that identify "the same situation".
func Key(ruleID string, c event.Context) string {
	sig := strings.Join([]string{
		c.Site,
		c.Area,
		c.ProductID,
		c.DBRTemplateID,
		c.DBRTemplateVersion,
		c.StepCode,
		c.SectionCode,
		c.BatchToken,
	}, "\x1f")
	return fmt.Sprintf("%s|%016x", ruleID, xxhash.Sum64String(sig))
}

// Options configures a Store.
type Options struct {
	// Retention keeps entries past their window so recurrence counts survive.
	Retention time.Duration
}

// Store answers shouldSuppress and records emissions. Callers hold Lock(key)
// across check, build, persist and Record so two candidates for one key
// cannot both pass.
type Store struct {
	backend   Backend
	locks     *keylock.Locker
	retention time.Duration
}

func NewStore(b Backend, opts Options) *Store {
	if opts.Retention <= 0 {
		opts.Retention = 168 * time.Hour
	}
	return &Store{backend: b, locks: keylock.New(), retention: opts.Retention}
}

// Lock serializes work on key.
func (s *Store) Lock(key string) (unlock func()) { return s.locks.Lock(key) }

// Get returns the current entry for key without any window check.
func (s *Store) Get(ctx context.Context, key string) (Entry, bool, error) {
	e, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return Entry{}, false, fmt.Errorf("get suppression %s: %w", key, err)
	}
	return e, ok, nil
}

// ShouldSuppress reports whether now − last_alert_at < window. A window of
// zero or less never suppresses; an absent entry never suppresses. The
// current entry is returned either way for recurrence modifiers.
func (s *Store) ShouldSuppress(ctx context.Context, key string, window time.Duration, now time.Time) (bool, Entry, error) {
	e, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		return false, Entry{}, fmt.Errorf("get suppression %s: %w", key, err)
	}
	if !ok || window <= 0 {
		return false, e, nil
	}
	return now.Sub(e.LastAlertAt) < window, e, nil
}

// Record stores last_alert_at = now and bumps the emission count.
func (s *Store) Record(ctx context.Context, key string, window time.Duration, now time.Time) (Entry, error) {
	prev, _, err := s.backend.Get(ctx, key)
	if err != nil {
		return Entry{}, fmt.Errorf("get suppression %s: %w", key, err)
	}
	e := Entry{Key: key, LastAlertAt: now.UTC(), Window: window, Count: prev.Count + 1}
	if err := s.backend.Put(ctx, e, s.ttl(window)); err != nil {
		return Entry{}, fmt.Errorf("put suppression %s: %w", key, err)
	}
	return e, nil
}

// Prune drops entries idle for longer than the retention horizon.
func (s *Store) Prune(ctx context.Context, now time.Time) (int, error) {
	n, err := s.backend.Prune(ctx, now, s.retention)
	if err != nil {
		return n, fmt.Errorf("prune suppression: %w", err)
	}
	return n, nil
}

func (s *Store) ttl(window time.Duration) time.Duration {
	return max(window, s.retention)
}
