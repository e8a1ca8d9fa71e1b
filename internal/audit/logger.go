// Package audit is the append-only decision trail. Records are chained by
// SHA-256 so that any edit, insertion or removal is detectable by Verify.
package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

var (
	// ErrWriteFailed wraps any failure to durably append a record.
	ErrWriteFailed = errors.New("audit: write failed")
	// ErrChainBroken is returned by Verify when a record does not link to its predecessor.
	ErrChainBroken = errors.New("audit: hash chain broken")
)

// Appender is the only operation the pipeline has on the audit trail.
type Appender interface {
	Append(ctx context.Context, rec Record) error
}

// Sink persists one serialized record. A failed Write must leave no partial line behind.
type Sink interface {
	Write(line []byte) error
}

// Logger assigns sequence numbers and chain hashes and serializes writers.
type Logger struct {
	mu   sync.Mutex
	sink Sink
	seq  uint64
	prev string
	now  func() time.Time
}

// NewLogger creates a Logger writing to sink, starting a fresh chain.
func NewLogger(sink Sink, now func() time.Time) *Logger {
	if now == nil {
		now = time.Now
	}
	return &Logger{sink: sink, now: now}
}

// Append stamps rec with the next sequence number and chain hash and writes it.
// On failure the chain position does not advance.
func (l *Logger) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now()
	}
	rec.Timestamp = rec.Timestamp.UTC()
	rec.Seq = l.seq + 1
	rec.PrevHash = l.prev
	rec.Hash = ""
	h, err := computeHash(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	rec.Hash = h

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrWriteFailed, err)
	}
	if err := l.sink.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	l.seq = rec.Seq
	l.prev = rec.Hash
	return nil
}

// Seq returns the sequence number of the last written record.
func (l *Logger) Seq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

func computeHash(rec Record) (string, error) {
	rec.Hash = ""
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// OpenFile opens (or creates) an audit JSONL file and resumes its chain from
// the last record, after verifying the existing content.
func OpenFile(path string, now func() time.Time) (*Logger, *FileSink, error) {
	var (
		seq  uint64
		prev string
	)
	if f, err := os.Open(path); err == nil {
		last, verr := Verify(f)
		f.Close()
		if verr != nil {
			return nil, nil, fmt.Errorf("open audit log %s: %w", path, verr)
		}
		if last != nil {
			seq, prev = last.Seq, last.Hash
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("open audit log %s: %w", path, err)
	}

	sink, err := NewFileSink(path)
	if err != nil {
		return nil, nil, err
	}
	l := NewLogger(sink, now)
	l.seq, l.prev = seq, prev
	return l, sink, nil
}

// Verify re-computes the chain over r and returns the last valid record.
// The first mismatch is reported as ErrChainBroken naming its sequence.
func Verify(r io.Reader) (*Record, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var (
		last *Record
		prev string
		want uint64 = 1
	)
	for sc.Scan() {
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return last, fmt.Errorf("%w: line %d is not a record: %v", ErrChainBroken, want, err)
		}
		if rec.Seq != want {
			return last, fmt.Errorf("%w: expected seq %d, found %d", ErrChainBroken, want, rec.Seq)
		}
		if rec.PrevHash != prev {
			return last, fmt.Errorf("%w: seq %d does not link to its predecessor", ErrChainBroken, rec.Seq)
		}
		h, err := computeHash(rec)
		if err != nil {
			return last, err
		}
		if h != rec.Hash {
			return last, fmt.Errorf("%w: seq %d content does not match its hash", ErrChainBroken, rec.Seq)
		}
		r := rec
		last = &r
		prev = rec.Hash
		want++
	}
	if err := sc.Err(); err != nil {
		return last, fmt.Errorf("read audit log: %w", err)
	}
	return last, nil
}
