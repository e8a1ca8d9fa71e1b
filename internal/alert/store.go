package alert

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/gyaneshwarpardhi/sentinel/internal/audit"
)

//go:embed schema/alert.schema.json
var alertSchema []byte

var (
	// ErrStorageWrite wraps every failure to durably append an alert.
	ErrStorageWrite = errors.New("alert: storage write failed")
	// ErrAlreadyPersisted is returned when an alert with the same id was written before.
	ErrAlreadyPersisted = errors.New("alert: already persisted")
)

// Store is the only path by which an alert becomes visible.
type Store interface {
	Persist(ctx context.Context, a Alert) error
}

type checker struct {
	schema *gojsonschema.Schema
}

func newChecker() (*checker, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(alertSchema))
	if err != nil {
		return nil, fmt.Errorf("compile alert schema: %w", err)
	}
	return &checker{schema: s}, nil
}

func (c *checker) check(line []byte) error {
	res, err := c.schema.Validate(gojsonschema.NewBytesLoader(line))
	if err != nil {
		return err
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	sort.Strings(msgs)
	return fmt.Errorf("alert does not match schema: %s", strings.Join(msgs, "; "))
}

// FileStore appends one JSON line per alert and fsyncs before returning.
type FileStore struct {
	mu      sync.Mutex
	f       *os.File
	ids     map[string]bool // alert_id → ALERT_PERSISTED recorded
	checker *checker
	audit   audit.Appender
	now     func() time.Time
}

// OpenFileStore opens path for appending and indexes the ids already in it.
func OpenFileStore(path string, a audit.Appender, now func() time.Time) (*FileStore, error) {
	c, err := newChecker()
	if err != nil {
		return nil, err
	}
	existing, err := ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open alert store %s: %w", path, err)
	}
	if now == nil {
		now = time.Now
	}
	s := &FileStore{f: f, ids: make(map[string]bool, len(existing)), checker: c, audit: a, now: now}
	for _, al := range existing {
		s.ids[al.AlertID] = true
	}
	return s, nil
}

// Persist validates a against the alert schema, appends it and logs
// ALERT_PERSISTED. A partial write is truncated away. If the line was written
// but the audit record was not, a retry writes only the audit record.
func (s *FileStore) Persist(ctx context.Context, a Alert) error {
	line, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrStorageWrite, err)
	}
	if err := s.checker.check(line); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if audited, ok := s.ids[a.AlertID]; ok {
		if audited {
			return ErrAlreadyPersisted
		}
		return s.record(ctx, a)
	}
	info, err := s.f.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	if _, err := s.f.Write(append(line, '\n')); err != nil {
		_ = s.f.Truncate(info.Size())
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %v", ErrStorageWrite, err)
	}
	s.ids[a.AlertID] = false
	return s.record(ctx, a)
}

func (s *FileStore) record(ctx context.Context, a Alert) error {
	if err := persisted(ctx, s.audit, a, s.now()); err != nil {
		return err
	}
	s.ids[a.AlertID] = true
	return nil
}

// Close closes the underlying file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// MemoryStore keeps alerts in memory.
type MemoryStore struct {
	mu      sync.Mutex
	alerts  []Alert
	ids     map[string]bool // alert_id → ALERT_PERSISTED recorded
	checker *checker
	audit   audit.Appender
	now     func() time.Time
	// Err, when set, makes every Persist fail with ErrStorageWrite.
	Err error
}

// NewMemoryStore returns an empty MemoryStore that audits through a.
func NewMemoryStore(a audit.Appender, now func() time.Time) *MemoryStore {
	c, err := newChecker()
	if err != nil {
		panic(err)
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{ids: make(map[string]bool), checker: c, audit: a, now: now}
}

func (s *MemoryStore) Persist(ctx context.Context, a Alert) error {
	line, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrStorageWrite, err)
	}
	if err := s.checker.check(line); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, s.Err)
	}
	if audited, ok := s.ids[a.AlertID]; !ok {
		s.alerts = append(s.alerts, a)
	} else if audited {
		return ErrAlreadyPersisted
	}
	s.ids[a.AlertID] = false
	if err := persisted(ctx, s.audit, a, s.now()); err != nil {
		return err
	}
	s.ids[a.AlertID] = true
	return nil
}

// Alerts returns a copy of everything persisted so far.
func (s *MemoryStore) Alerts() []Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Alert(nil), s.alerts...)
}

func persisted(ctx context.Context, a audit.Appender, al Alert, now time.Time) error {
	err := a.Append(ctx, audit.Record{
		RecordType:  audit.AlertPersisted,
		Timestamp:   now,
		EventID:     al.EventRefs[len(al.EventRefs)-1],
		AlertID:     al.AlertID,
		RuleID:      al.RuleID,
		RuleVersion: al.RuleVersion,
		RiskCode:    al.RiskCode,
		Severity:    string(al.Severity),
	})
	if err != nil {
		return fmt.Errorf("audit alert persisted: %w", err)
	}
	return nil
}

// ReadFile decodes every alert in a JSONL file. It is for inspection only.
func ReadFile(path string) ([]Alert, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read decodes alerts from a JSONL stream.
func Read(r io.Reader) ([]Alert, error) {
	var out []Alert
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var a Alert
		if err := json.Unmarshal(sc.Bytes(), &a); err != nil {
			return out, fmt.Errorf("decode alert line %d: %w", len(out)+1, err)
		}
		out = append(out, a)
	}
	return out, sc.Err()
}
