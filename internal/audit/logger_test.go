package audit

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestAppend_ChainsRecords(t *testing.T) {
	sink := &MemorySink{}
	l := NewLogger(sink, fixedClock())
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, Record{RecordType: IngestAccept, EventID: "e1"}))
	require.NoError(t, l.Append(ctx, Record{RecordType: RuleMatch, EventID: "e1", RuleID: "R-001"}))

	recs := sink.Records()
	require.Len(t, recs, 2)
	assert.Equal(t, uint64(1), recs[0].Seq)
	assert.Equal(t, "", recs[0].PrevHash)
	assert.Equal(t, recs[0].Hash, recs[1].PrevHash)
	assert.Equal(t, uint64(2), l.Seq())

	last, err := Verify(bytes.NewReader(sink.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last.Seq)
}

func TestVerify_DetectsTampering(t *testing.T) {
	sink := &MemorySink{}
	l := NewLogger(sink, fixedClock())
	ctx := context.Background()
	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, l.Append(ctx, Record{RecordType: IngestAccept, EventID: id}))
	}

	cases := []struct {
		name   string
		mutate func(string) string
	}{
		{"edited field", func(s string) string { return strings.Replace(s, `"event_id":"e2"`, `"event_id":"eX"`, 1) }},
		{"removed line", func(s string) string {
			lines := strings.SplitAfter(s, "\n")
			return lines[0] + lines[2]
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Verify(strings.NewReader(tc.mutate(string(sink.Bytes()))))
			if !errors.Is(err, ErrChainBroken) {
				t.Fatalf("expected ErrChainBroken, got %v", err)
			}
		})
	}
}

func TestAppend_FailureDoesNotAdvanceChain(t *testing.T) {
	sink := &MemorySink{}
	l := NewLogger(sink, fixedClock())
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, Record{RecordType: IngestAccept, EventID: "e1"}))

	sink.Err = errors.New("disk full")
	err := l.Append(ctx, Record{RecordType: IngestAccept, EventID: "e2"})
	require.ErrorIs(t, err, ErrWriteFailed)

	sink.Err = nil
	require.NoError(t, l.Append(ctx, Record{RecordType: IngestAccept, EventID: "e3"}))
	_, err = Verify(bytes.NewReader(sink.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), l.Seq())
}

func TestOpenFile_ResumesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	ctx := context.Background()

	l, sink, err := OpenFile(path, fixedClock())
	require.NoError(t, err)
	require.NoError(t, l.Append(ctx, Record{RecordType: IngestAccept, EventID: "e1"}))
	require.NoError(t, sink.Close())

	l, sink, err = OpenFile(path, fixedClock())
	require.NoError(t, err)
	defer sink.Close()
	assert.Equal(t, uint64(1), l.Seq())
	require.NoError(t, l.Append(ctx, Record{RecordType: IngestAccept, EventID: "e2"}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	last, err := Verify(f)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), last.Seq)
}
