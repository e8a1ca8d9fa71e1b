package correlation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/sentinel/internal/audit"
	"github.com/gyaneshwarpardhi/sentinel/internal/catalog"
	"github.com/gyaneshwarpardhi/sentinel/internal/event"
	"github.com/gyaneshwarpardhi/sentinel/internal/keylock"
)

// ErrSweepInProgress is returned when a sweep is requested while one runs.
var ErrSweepInProgress = errors.New("correlation sweep already in progress")

// CloseOutcome is the result of a closing event.
type CloseOutcome string

const (
	CloseOnTime  CloseOutcome = "on_time"
	CloseLate    CloseOutcome = "late"
	CloseNoEntry CloseOutcome = "no_open_entry"
)

// Rules resolves the currently enabled version of a rule.
type Rules interface {
	Rule(ruleID string) (*catalog.Rule, bool)
}

// EmitFunc turns an expired entry into a candidate alert.
type EmitFunc func(ctx context.Context, e Entry, rule *catalog.Rule) error

// SweepReport summarizes one sweep.
type SweepReport struct {
	Scanned   int
	Expired   int
	Failed    int
	Truncated bool
	Errors    []error
}

// Options configures a Store.
type Options struct {
	Retention time.Duration // terminal entries older than this are pruned
	Logger    *slog.Logger
}

// Store holds correlation entries in memory with write-through to a Repository.
// Every mutation of a key happens under that key's lock.
type Store struct {
	repo      Repository
	audit     audit.Appender
	locks     *keylock.Locker
	retention time.Duration
	logger    *slog.Logger

	mu      sync.RWMutex
	entries map[string]*Entry

	sweeping sync.Mutex
}

// NewStore returns an empty Store. Call Load to restore persisted entries.
func NewStore(repo Repository, a audit.Appender, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	return &Store{
		repo:      repo,
		audit:     a,
		locks:     keylock.New(),
		retention: opts.Retention,
		logger:    opts.Logger,
		entries:   make(map[string]*Entry),
	}
}

// Load replaces the in-memory view with the repository contents.
func (s *Store) Load(ctx context.Context) error {
	es, err := s.repo.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load correlation entries: %w", err)
	}
	m := make(map[string]*Entry, len(es))
	for i := range es {
		e := es[i]
		m[e.id()] = &e
	}
	s.mu.Lock()
	s.entries = m
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the entry for (key, ruleID).
func (s *Store) Get(key, ruleID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[entryID(key, ruleID)]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot returns copies of all entries in opened_at order.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	out := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e)
	}
	s.mu.RUnlock()
	sortEntries(out)
	return out
}

// CountOpen returns the number of OPEN entries.
func (s *Store) CountOpen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.Status == StatusOpen {
			n++
		}
	}
	return n
}

func (s *Store) put(e Entry) {
	s.mu.Lock()
	s.entries[e.id()] = &e
	s.mu.Unlock()
}

// Open starts a window for (key, rule) at the opening event's timestamp.
// An existing OPEN entry is left untouched and opened is false. A CLOSED or
// EXPIRED entry is replaced by a fresh window.
func (s *Store) Open(ctx context.Context, key string, rule *catalog.Rule, ev *event.Event) (opened bool, err error) {
	if rule.Correlation == nil {
		return false, fmt.Errorf("rule %s is not a correlation rule", rule.ID)
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	if cur, ok := s.Get(key, rule.ID); ok && cur.Status == StatusOpen {
		return false, nil
	}
	e := Entry{
		Key:             key,
		RuleID:          rule.ID,
		RuleVersion:     rule.Version,
		Status:          StatusOpen,
		OpenedAt:        ev.EventTimestamp.UTC(),
		OpeningEventID:  ev.EventID,
		ExpectedClosing: rule.Correlation.Closing,
		Context:         ev.Context,
	}
	if err := s.repo.Save(ctx, e); err != nil {
		return false, fmt.Errorf("save correlation %s: %w", rule.ID, err)
	}
	s.put(e)
	err = s.audit.Append(ctx, audit.Record{
		RecordType:     audit.CorrelationOpen,
		EventID:        ev.EventID,
		RuleID:         rule.ID,
		RuleVersion:    rule.Version,
		CorrelationKey: key,
		OpenedAt:       audit.TimePtr(e.OpenedAt),
		OpeningEventID: ev.EventID,
	})
	if err != nil {
		return true, fmt.Errorf("audit correlation open: %w", err)
	}
	return true, nil
}

// Close resolves the OPEN entry for exactly (key, rule) when the closing
// event is within the threshold. A late close leaves the entry OPEN so the
// sweep expires it.
func (s *Store) Close(ctx context.Context, key string, rule *catalog.Rule, ev *event.Event) (CloseOutcome, error) {
	if rule.Correlation == nil {
		return "", fmt.Errorf("rule %s is not a correlation rule", rule.ID)
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	cur, ok := s.Get(key, rule.ID)
	if !ok || cur.Status != StatusOpen {
		return CloseNoEntry, nil
	}
	at := ev.EventTimestamp.UTC()
	outcome := CloseOnTime
	if at.Sub(cur.OpenedAt) > rule.Correlation.Threshold {
		outcome = CloseLate
	}
	if outcome == CloseOnTime {
		closed := cur
		closed.Status = StatusClosed
		closed.ClosingEventID = ev.EventID
		closed.ClosedAt = audit.TimePtr(at)
		if err := s.repo.Save(ctx, closed); err != nil {
			return "", fmt.Errorf("save correlation %s: %w", rule.ID, err)
		}
		s.put(closed)
	}
	err := s.audit.Append(ctx, audit.Record{
		RecordType:     audit.CorrelationHit,
		EventID:        ev.EventID,
		RuleID:         rule.ID,
		RuleVersion:    rule.Version,
		CorrelationKey: key,
		Outcome:        string(outcome),
		OpenedAt:       audit.TimePtr(cur.OpenedAt),
		OpeningEventID: cur.OpeningEventID,
		ClosingEventID: ev.EventID,
	})
	if err != nil {
		return outcome, fmt.Errorf("audit correlation hit: %w", err)
	}
	return outcome, nil
}

// Sweep expires every OPEN entry with now − opened_at > threshold and calls
// emit for it. An entry transitions at most once; if emit fails the entry
// stays OPEN with no expiry recorded, so a later sweep retries it. The sweep stops early when
// ctx is done and reports Truncated. Entries whose rule is no longer enabled
// expire without an alert.
func (s *Store) Sweep(ctx context.Context, now time.Time, rules Rules, emit EmitFunc) (SweepReport, error) {
	if !s.sweeping.TryLock() {
		return SweepReport{}, ErrSweepInProgress
	}
	defer s.sweeping.Unlock()

	var rep SweepReport
	// Entry work is not cut short once started.
	work := context.WithoutCancel(ctx)
	for _, snap := range s.Snapshot() {
		if snap.Status != StatusOpen {
			continue
		}
		if ctx.Err() != nil {
			rep.Truncated = true
			break
		}
		rep.Scanned++
		rule, ok := rules.Rule(snap.RuleID)
		enabled := ok && rule.Correlation != nil
		if enabled && now.Sub(snap.OpenedAt) <= rule.Correlation.Threshold {
			continue
		}
		expired, err := s.expire(work, snap.Key, snap.RuleID, now, rule, enabled, emit)
		if err != nil {
			rep.Failed++
			rep.Errors = append(rep.Errors, err)
			s.logger.Error("correlation sweep", "rule_id", snap.RuleID, "correlation_key", snap.Key, "err", err)
			continue
		}
		if expired {
			rep.Expired++
		}
	}
	return rep, nil
}

func (s *Store) expire(ctx context.Context, key, ruleID string, now time.Time, rule *catalog.Rule, enabled bool, emit EmitFunc) (bool, error) {
	unlock := s.locks.Lock(key)
	defer unlock()

	// Re-read under the lock; an inline close may have won.
	cur, ok := s.Get(key, ruleID)
	if !ok || cur.Status != StatusOpen {
		return false, nil
	}
	exp := cur
	exp.Status = StatusExpired
	exp.ExpiredAt = audit.TimePtr(now)

	// Nothing about the expiry is committed until the alert is out.
	if enabled {
		if err := emit(ctx, exp, rule); err != nil {
			return false, fmt.Errorf("emit timeout alert for %s: %w", ruleID, err)
		}
	}
	if err := s.repo.Save(ctx, exp); err != nil {
		return false, fmt.Errorf("save correlation %s: %w", ruleID, err)
	}
	s.put(exp)

	rec := audit.Record{
		RecordType:     audit.CorrelationExpired,
		Timestamp:      now,
		EventID:        cur.OpeningEventID,
		RuleID:         cur.RuleID,
		RuleVersion:    cur.RuleVersion,
		CorrelationKey: key,
		Outcome:        "timeout",
		OpenedAt:       audit.TimePtr(cur.OpenedAt),
		OpeningEventID: cur.OpeningEventID,
	}
	if !enabled {
		rec.Outcome = "rule_disabled"
	}
	if err := s.audit.Append(ctx, rec); err != nil {
		s.revert(ctx, cur)
		return false, fmt.Errorf("audit correlation expired: %w", err)
	}
	return true, nil
}

func (s *Store) revert(ctx context.Context, e Entry) {
	if err := s.repo.Save(ctx, e); err != nil {
		s.logger.Error("revert correlation entry", "rule_id", e.RuleID, "correlation_key", e.Key, "err", err)
	}
	s.put(e)
}

// Prune deletes CLOSED and EXPIRED entries resolved before now − retention.
// OPEN entries are never pruned.
func (s *Store) Prune(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.retention)
	n := 0
	var errs []error
	for _, snap := range s.Snapshot() {
		if snap.Status == StatusOpen || !snap.ResolvedAt().Before(cutoff) {
			continue
		}
		deleted, err := s.prune(ctx, snap.Key, snap.RuleID, cutoff)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if deleted {
			n++
		}
	}
	if n > 0 {
		err := s.audit.Append(ctx, audit.Record{
			RecordType:    audit.CorrelationPruned,
			Timestamp:     now,
			Count:         n,
			WindowSeconds: int64(s.retention / time.Second),
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("audit correlation pruned: %w", err))
		}
	}
	return n, errors.Join(errs...)
}

func (s *Store) prune(ctx context.Context, key, ruleID string, cutoff time.Time) (bool, error) {
	unlock := s.locks.Lock(key)
	defer unlock()

	cur, ok := s.Get(key, ruleID)
	if !ok || cur.Status == StatusOpen || !cur.ResolvedAt().Before(cutoff) {
		return false, nil
	}
	if err := s.repo.Delete(ctx, key, ruleID); err != nil {
		return false, fmt.Errorf("delete correlation %s: %w", ruleID, err)
	}
	s.mu.Lock()
	delete(s.entries, entryID(key, ruleID))
	s.mu.Unlock()
	return true, nil
}
