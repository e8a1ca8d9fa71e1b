package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ProcessedRepository remembers which event ids completed processing.
type ProcessedRepository interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string, at time.Time) error
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// MemoryProcessed is a ProcessedRepository for tests and the memory backend.
type MemoryProcessed struct {
	mu  sync.Mutex
	ids map[string]time.Time
	// Err, when set, is returned by Mark.
	Err error
}

func NewMemoryProcessed() *MemoryProcessed {
	return &MemoryProcessed{ids: make(map[string]time.Time)}
}

func (m *MemoryProcessed) Seen(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[id]
	return ok, nil
}

func (m *MemoryProcessed) Mark(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if _, ok := m.ids[id]; !ok {
		m.ids[id] = at
	}
	return nil
}

func (m *MemoryProcessed) Prune(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, at := range m.ids {
		if at.Before(cutoff) {
			delete(m.ids, id)
			n++
		}
	}
	return n, nil
}

// dedup fronts a ProcessedRepository with an LRU of recently seen ids.
type dedup struct {
	repo  ProcessedRepository
	cache *lru.Cache[string, struct{}]
}

func newDedup(repo ProcessedRepository, size int) (*dedup, error) {
	if size <= 0 {
		size = 10000
	}
	c, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("dedup cache: %w", err)
	}
	return &dedup{repo: repo, cache: c}, nil
}

func (d *dedup) seen(ctx context.Context, id string) (bool, error) {
	if d.cache.Contains(id) {
		return true, nil
	}
	ok, err := d.repo.Seen(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		d.cache.Add(id, struct{}{})
	}
	return ok, nil
}

func (d *dedup) mark(ctx context.Context, id string, at time.Time) error {
	if err := d.repo.Mark(ctx, id, at); err != nil {
		return err
	}
	d.cache.Add(id, struct{}{})
	return nil
}

// prune drops old ids from the repository. The cache is purged too so a
// pruned id is not reported as seen.
func (d *dedup) prune(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := d.repo.Prune(ctx, cutoff)
	if n > 0 {
		d.cache.Purge()
	}
	return n, err
}
