package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// FileSink appends lines to a file and fsyncs each one.
type FileSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewFileSink opens path for appending, creating it if needed.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open audit sink %s: %w", path, err)
	}
	return &FileSink{f: f}, nil
}

// Write appends line in one call. A short or failed write is rolled back by
// truncating to the previous size.
func (s *FileSink) Write(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := s.f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if _, err := s.f.Write(line); err != nil {
		_ = s.f.Truncate(size)
		return err
	}
	return s.f.Sync()
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// MemorySink keeps lines in memory. Used by tests and dry runs.
type MemorySink struct {
	mu    sync.Mutex
	lines [][]byte
	// Err, when set, is returned by every Write.
	Err error
}

func (s *MemorySink) Write(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.lines = append(s.lines, append([]byte(nil), line...))
	return nil
}

// Bytes returns the concatenated JSONL content.
func (s *MemorySink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Join(s.lines, nil)
}

// Records decodes every line written so far.
func (s *MemorySink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.lines))
	for _, l := range s.lines {
		var r Record
		if err := json.Unmarshal(l, &r); err == nil {
			out = append(out, r)
		}
	}
	return out
}

// Types returns the record types written so far, in order.
func (s *MemorySink) Types() []RecordType {
	recs := s.Records()
	out := make([]RecordType, len(recs))
	for i, r := range recs {
		out[i] = r.RecordType
	}
	return out
}
