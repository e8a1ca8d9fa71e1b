// Package correlation tracks open multi-event windows per correlation key
// and resolves them on a matching closing event or by sweep timeout.
//
// Lifecycle per (key, rule): none → OPEN → CLOSED | EXPIRED → pruned.
package correlation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/sentinel/internal/event"
)

// Status is the lifecycle state of an Entry.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusClosed  Status = "CLOSED"
	StatusExpired Status = "EXPIRED"
)

// Entry is one tracked window. Context is the metadata of the opening event
// and is what a timeout alert is built from.
type Entry struct {
	Key             string        `json:"correlation_key"`
	RuleID          string        `json:"rule_id"`
	RuleVersion     string        `json:"rule_version"`
	Status          Status        `json:"status"`
	OpenedAt        time.Time     `json:"opened_at"`
	OpeningEventID  string        `json:"opening_event_id"`
	ExpectedClosing event.Type    `json:"expected_closing_event_type"`
	ClosingEventID  string        `json:"closing_event_id,omitempty"`
	ClosedAt        *time.Time    `json:"closed_at,omitempty"`
	ExpiredAt       *time.Time    `json:"expired_at,omitempty"`
	Context         event.Context `json:"context"`
}

// ResolvedAt returns when the entry left OPEN, or the zero time.
func (e Entry) ResolvedAt() time.Time {
	switch {
	case e.ClosedAt != nil:
		return *e.ClosedAt
	case e.ExpiredAt != nil:
		return *e.ExpiredAt
	}
	return time.Time{}
}

func (e Entry) id() string { return entryID(e.Key, e.RuleID) }

func entryID(key, ruleID string) string { return key + "\x00" + ruleID }

// Repository persists entries so open windows survive a restart.
type Repository interface {
	Save(ctx context.Context, e Entry) error
	Delete(ctx context.Context, key, ruleID string) error
	LoadAll(ctx context.Context) ([]Entry, error)
}

// MemoryRepository is a Repository for tests and the memory backend.
type MemoryRepository struct {
	mu      sync.Mutex
	entries map[string]Entry
	// Err, when set, is returned by Save and Delete.
	Err error
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{entries: make(map[string]Entry)}
}

func (r *MemoryRepository) Save(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.entries[e.id()] = e
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, key, ruleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	delete(r.entries, entryID(key, ruleID))
	return nil
}

func (r *MemoryRepository) LoadAll(_ context.Context) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

// sortEntries orders by opened_at, then key, then rule_id.
func sortEntries(es []Entry) {
	sort.Slice(es, func(i, j int) bool {
		a, b := es[i], es[j]
		if !a.OpenedAt.Equal(b.OpenedAt) {
			return a.OpenedAt.Before(b.OpenedAt)
		}
		if a.Key != b.Key {
			return a.Key < b.Key
		}
		return a.RuleID < b.RuleID
	})
}
