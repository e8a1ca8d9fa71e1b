package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/sentinel/internal/alert"
	"github.com/gyaneshwarpardhi/sentinel/internal/audit"
	"github.com/gyaneshwarpardhi/sentinel/internal/config"
	"github.com/gyaneshwarpardhi/sentinel/internal/correlation"
	"github.com/gyaneshwarpardhi/sentinel/internal/ingest"
	"github.com/gyaneshwarpardhi/sentinel/internal/routing"
	"github.com/gyaneshwarpardhi/sentinel/internal/suppression"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

const rulesTemplate = `
ruleset:
  name: dbr-sentinel
  version: "0.2"
defaults:
  match_policy: %s
rules:
  - rule_id: R-001-REQUIRED_MISSING
    version: "0.1"
    enabled: true
    trigger:
      event_types: [SUBMIT_REJECTED_REQUIRED_MISSING]
    output:
      risk_code: DR-001
      severity: HIGH
      recommended_action: Review the rejected submission with the operator.
    routing:
      targets: [qa, supervisor]
    severity_modifiers:
      - type: event_flag
        direction: raise
        reason: critical step
        params: {field: step_critical, equals: true}
  - rule_id: R-002-STEP_TIMEOUT
    version: "0.1"
    enabled: true
    correlation:
      opening_event_type: STEP_OPENED
      closing_event_type: STEP_COMPLETED
      timing_threshold: 60m
    output: {risk_code: DR-002, severity: CRITICAL}
    routing:
      targets: [qa_dashboard]
    suppression: {window: 0s}
  - rule_id: R-003-OUT_OF_SEQUENCE
    version: "0.1"
    enabled: true
    trigger:
      event_types: [OUT_OF_SEQUENCE_ATTEMPT]
    output: {risk_code: DR-003, severity: MEDIUM}
  - rule_id: R-004-OUT_OF_SEQUENCE_FILL
    version: "0.1"
    enabled: true
    trigger:
      event_types: [OUT_OF_SEQUENCE_ATTEMPT]
      conditions:
        - {field: area, op: "==", value: FILL}
    output: {risk_code: DR-004, severity: HIGH}
`

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// flakyBackend fails the next failPuts calls to Put.
type flakyBackend struct {
	suppression.Backend
	mu       sync.Mutex
	failPuts int
}

func (b *flakyBackend) Put(ctx context.Context, e suppression.Entry, ttl time.Duration) error {
	b.mu.Lock()
	if b.failPuts > 0 {
		b.failPuts--
		b.mu.Unlock()
		return errors.New("injected put failure")
	}
	b.mu.Unlock()
	return b.Backend.Put(ctx, e, ttl)
}

type harness struct {
	eng        *Engine
	clock      *clock
	sink       *audit.MemorySink
	alerts     *alert.MemoryStore
	corr       *correlation.Store
	suppressed *flakyBackend
	processed  *MemoryProcessed
}

func newHarness(t *testing.T, matchPolicy string) *harness {
	t.Helper()
	cfg, err := config.Parse([]byte(fmt.Sprintf(rulesTemplate, matchPolicy)))
	require.NoError(t, err)
	return newHarnessWith(t, cfg)
}

func newHarnessWith(t *testing.T, cfg *config.RuleConfig) *harness {
	t.Helper()
	h := &harness{
		clock:      &clock{t: t0.Add(time.Minute)},
		sink:       &audit.MemorySink{},
		suppressed: &flakyBackend{Backend: suppression.NewMemoryBackend()},
		processed:  NewMemoryProcessed(),
	}
	log := audit.NewLogger(h.sink, h.clock.Now)
	gate, err := ingest.NewGate(ingest.Options{Audit: log, Clock: h.clock.Now})
	require.NoError(t, err)
	policy, err := routing.Load("")
	require.NoError(t, err)
	h.alerts = alert.NewMemoryStore(log, h.clock.Now)
	h.corr = correlation.NewStore(correlation.NewMemoryRepository(), log, correlation.Options{})

	h.eng, err = New(context.Background(), cfg, Options{
		Gate:         gate,
		Audit:        log,
		Alerts:       h.alerts,
		Correlations: h.corr,
		Suppression:  suppression.NewStore(h.suppressed, suppression.Options{}),
		Processed:    h.processed,
		Routing:      policy,
		Clock:        h.clock.Now,
		Conf: config.EngineConf{
			EventWorkers:   2,
			QueueDepth:     4,
			EventTimeout:   5 * time.Second,
			DedupRetention: 24 * time.Hour,
		},
	})
	require.NoError(t, err)
	t.Cleanup(h.eng.Shutdown)
	return h
}

func payload(id, typ string, ts time.Time, extra map[string]interface{}) map[string]interface{} {
	p := map[string]interface{}{
		"event_id":             id,
		"source_system":        "mes-east",
		"event_type":           typ,
		"event_timestamp":      ts.Format(time.RFC3339),
		"site":                 "SITE-A",
		"area":                 "FILL",
		"product_id":           "PRD-001",
		"dbr_template_id":      "DBR-TPL-7",
		"dbr_template_version": "1.3",
		"step_code":            "STEP-04",
		"section_code":         "SEC-B",
		"batch_token":          "BT-0001",
	}
	for k, v := range extra {
		if v == nil {
			delete(p, k)
			continue
		}
		p[k] = v
	}
	return p
}

func (h *harness) process(t *testing.T, p map[string]interface{}) (*Result, error) {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return h.eng.Process(context.Background(), raw)
}

func (h *harness) records(typ audit.RecordType) []audit.Record {
	var out []audit.Record
	for _, r := range h.sink.Records() {
		if r.RecordType == typ {
			out = append(out, r)
		}
	}
	return out
}

func decision(t *testing.T, res *Result, ruleID string) RuleDecision {
	t.Helper()
	for _, d := range res.Decisions {
		if d.RuleID == ruleID {
			return d
		}
	}
	t.Fatalf("no decision for %s", ruleID)
	return RuleDecision{}
}

func TestProcess_RequiredMissingRaisesHighAlert(t *testing.T) {
	h := newHarness(t, config.MatchPolicyAll)

	res, err := h.process(t, payload("E-1", "SUBMIT_REJECTED_REQUIRED_MISSING", t0, nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	require.Len(t, res.Alerts, 1)

	a := res.Alerts[0]
	assert.Equal(t, "DR-001", a.RiskCode)
	assert.Equal(t, alert.SeverityHigh, a.Severity)
	assert.Equal(t, alert.StatusNew, a.Status)
	assert.Equal(t, alert.TriggerEvent, a.Trigger)
	assert.Equal(t, []string{"E-1"}, a.EventRefs)
	assert.Equal(t, []string{"production_supervisor", "qa_dashboard"}, a.RoutingTargets)
	assert.Empty(t, a.SeverityOverrides)
	assert.Equal(t, a.AlertID, decision(t, res, "R-001-REQUIRED_MISSING").AlertID)

	assert.Equal(t, []audit.RecordType{
		audit.RulesLoaded,
		audit.IngestAccept,
		audit.RuleMatch,
		audit.RuleNoMatch,
		audit.RuleNoMatch,
		audit.RuleNoMatch,
		audit.AlertBuilt,
		audit.AlertPersisted,
		audit.RoutingApplied,
	}, h.sink.Types())

	_, err = audit.Verify(bytes.NewReader(h.sink.Bytes()))
	require.NoError(t, err)
}

func TestProcess_ModifierRaisesSeverity(t *testing.T) {
	h := newHarness(t, config.MatchPolicyAll)

	res, err := h.process(t, payload("E-1", "SUBMIT_REJECTED_REQUIRED_MISSING", t0, map[string]interface{}{"step_critical": true}))
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)

	a := res.Alerts[0]
	assert.Equal(t, "DR-001", a.RiskCode)
	assert.Equal(t, alert.SeverityCritical, a.Severity)
	assert.Equal(t, alert.SeverityHigh, a.RuleSeverity)
	require.Len(t, a.SeverityOverrides, 1)
	assert.Equal(t, alert.Override{
		From:     alert.SeverityHigh,
		To:       alert.SeverityCritical,
		Modifier: "event_flag",
		Reason:   "critical step",
	}, a.SeverityOverrides[0])
}

func TestProcess_ProhibitedDataRejectedWithoutBody(t *testing.T) {
	h := newHarness(t, config.MatchPolicyAll)

	res, err := h.process(t, payload("E-1", "SUBMIT_REJECTED_REQUIRED_MISSING", t0, map[string]interface{}{"temperature": "21.5"}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, ingest.CodeProhibitedData, res.Rejection.Code)
	assert.Equal(t, "E-1", res.EventID)
	assert.Empty(t, res.Alerts)
	assert.Empty(t, h.alerts.Alerts())
	assert.NotContains(t, string(h.sink.Bytes()), "21.5")
	assert.Empty(t, h.records(audit.RuleMatch))
	assert.Empty(t, h.records(audit.RuleNoMatch))

	seen, err := h.processed.Seen(context.Background(), "E-1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestProcess_DuplicateEventID(t *testing.T) {
	h := newHarness(t, config.MatchPolicyAll)
	p := payload("E-1", "SUBMIT_REJECTED_REQUIRED_MISSING", t0, nil)

	first, err := h.process(t, p)
	require.NoError(t, err)
	require.Len(t, first.Alerts, 1)

	second, err := h.process(t, p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, second.Outcome)
	assert.Empty(t, second.Decisions)
	assert.Empty(t, second.Alerts)
	assert.Len(t, h.alerts.Alerts(), 1)
	assert.Len(t, h.records(audit.IngestDuplicate), 1)
	assert.Len(t, h.records(audit.RuleMatch), 1)
}

func TestProcess_DuplicateDoesNotReopenCorrelation(t *testing.T) {
	h := newHarness(t, config.MatchPolicyAll)
	p := payload("E-open", "STEP_OPENED", t0, nil)

	_, err := h.process(t, p)
	require.NoError(t, err)
	res, err := h.process(t, p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Len(t, h.records(audit.CorrelationOpen), 1)
}

func TestProcess_SuppressionWindow(t *testing.T) {
	h := newHarness(t, config.MatchPolicyAll)

	first, err := h.process(t, payload("E-1", "SUBMIT_REJECTED_REQUIRED_MISSING", t0, nil))
	require.NoError(t, err)
	require.Len(t, first.Alerts, 1)

	h.clock.Advance(10 * time.Minute)
	second, err := h.process(t, payload("E-2", "SUBMIT_REJECTED_REQUIRED_MISSING", t0.Add(10*time.Minute), nil))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, second.Outcome)
	assert.Empty(t, second.Alerts)
	assert.Equal(t, DecisionSuppressed, decision(t, second, "R-001-REQUIRED_MISSING").Decision)

	sup := h.records(audit.AlertSuppressed)
	require.Len(t, sup, 1)
	assert.Equal(t, "E-2", sup[0].EventID)
	assert.Equal(t, "R-001-REQUIRED_MISSING", sup[0].RuleID)
	assert.Equal(t, int64(3600), sup[0].WindowSeconds)

	// A different context is a different suppression key.
	other, err := h.process(t, payload("E-3", "SUBMIT_REJECTED_REQUIRED_MISSING", t0, map[string]interface{}{"step_code": "STEP-05"}))
	require.NoError(t, err)
	assert.Len(t, other.Alerts, 1)

	h.clock.Advance(55 * time.Minute)
	third, err := h.process(t, payload("E-4", "SUBMIT_REJECTED_REQUIRED_MISSING", t0.Add(65*time.Minute), nil))
	require.NoError(t, err)
	assert.Len(t, third.Alerts, 1)
	assert.Len(t, h.alerts.Alerts(), 3)
}

func TestProcess_HighestSeverityPolicy(t *testing.T) {
	cases := []struct {
		name      string
		policy    string
		area      string
		wantRisks []string
		wantDrop  string
	}{
		{name: "all keeps both", policy: config.MatchPolicyAll, area: "FILL", wantRisks: []string{"DR-003", "DR-004"}},
		{name: "highest keeps HIGH", policy: config.MatchPolicyHighest, area: "FILL", wantRisks: []string{"DR-004"}, wantDrop: "R-003-OUT_OF_SEQUENCE"},
		{name: "single candidate unaffected", policy: config.MatchPolicyHighest, area: "PACK", wantRisks: []string{"DR-003"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.policy)
			res, err := h.process(t, payload("E-1", "OUT_OF_SEQUENCE_ATTEMPT", t0, map[string]interface{}{"area": tc.area}))
			require.NoError(t, err)

			var risks []string
			for _, a := range res.Alerts {
				risks = append(risks, a.RiskCode)
			}
			assert.Equal(t, tc.wantRisks, risks)
			if tc.wantDrop != "" {
				assert.Equal(t, DecisionNotSelected, decision(t, res, tc.wantDrop).Decision)
			}
		})
	}
}

func TestProcess_CorrelationKeyMissing(t *testing.T) {
	h := newHarness(t, config.MatchPolicyAll)

	res, err := h.process(t, payload("E-1", "STEP_OPENED", t0, map[string]interface{}{"batch_token": nil}))
	require.NoError(t, err)
	d := decision(t, res, "R-002-STEP_TIMEOUT")
	assert.Equal(t, DecisionCorrelationKeyMissing, d.Decision)
	assert.Equal(t, "no correlation key", d.Reason)
	assert.Empty(t, h.corr.Snapshot())

	var found bool
	for _, r := range h.records(audit.RuleNoMatch) {
		if r.RuleID == "R-002-STEP_TIMEOUT" {
			found = true
			assert.Equal(t, "no correlation key", r.Reason)
		}
	}
	assert.True(t, found)
}

func TestSweep_StepTimeoutRaisesCritical(t *testing.T) {
	h := newHarness(t, config.MatchPolicyAll)
	ctx := context.Background()

	res, err := h.process(t, payload("E-open", "STEP_OPENED", t0, nil))
	require.NoError(t, err)
	assert.Equal(t, DecisionCorrelationOpened, decision(t, res, "R-002-STEP_TIMEOUT").Decision)
	assert.Empty(t, res.Alerts)

	// Exactly at the threshold nothing expires.
	h.clock.Advance(59 * time.Minute)
	sw, err := h.eng.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sw.Scanned)
	assert.Zero(t, sw.Expired)

	h.clock.Advance(2 * time.Minute)
	sw, err = h.eng.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sw.Expired)
	require.Len(t, sw.Alerts, 1)
	a := sw.Alerts[0]
	assert.Equal(t, "DR-002", a.RiskCode)
	assert.Equal(t, alert.SeverityCritical, a.Severity)
	assert.Equal(t, alert.TriggerSweep, a.Trigger)
	assert.Equal(t, []string{"E-open"}, a.EventRefs)
	assert.Equal(t, "BT-0001", a.BatchToken)

	e, ok := h.corr.Get("BT-0001", "R-002-STEP_TIMEOUT")
	require.True(t, ok)
	assert.Equal(t, correlation.StatusExpired, e.Status)

	// An entry transitions at most once.
	sw, err = h.eng.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, sw.Scanned)
	assert.Empty(t, sw.Alerts)
	assert.Len(t, h.alerts.Alerts(), 1)
	assert.Len(t, h.records(audit.CorrelationExpired), 1)

	done := h.records(audit.SweepCompleted)
	require.Len(t, done, 3)
	assert.Equal(t, 1, done[1].Count)
}

func TestSweep_TimeoutAlertSuppressedWithinWindow(t *testing.T) {
	cfg, err := config.Parse([]byte(fmt.Sprintf(rulesTemplate, config.MatchPolicyAll)))
	require.NoError(t, err)
	window := 3 * time.Hour
	cfg.Rules[1].Suppression.Window = &window
	h := newHarnessWith(t, cfg)
	ctx := context.Background()

	_, err = h.process(t, payload("E-open1", "STEP_OPENED", t0, nil))
	require.NoError(t, err)
	h.clock.Advance(61 * time.Minute)
	sw, err := h.eng.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, sw.Alerts, 1)

	// Same batch, same step: the reopened window times out inside the
	// suppression window of the first timeout alert.
	_, err = h.process(t, payload("E-open2", "STEP_OPENED", t0.Add(62*time.Minute), nil))
	require.NoError(t, err)
	h.clock.Advance(62 * time.Minute)
	sw, err = h.eng.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sw.Expired)
	assert.Equal(t, 1, sw.Suppressed)
	assert.Empty(t, sw.Alerts)
	assert.Len(t, h.alerts.Alerts(), 1)

	sup := h.records(audit.AlertSuppressed)
	require.Len(t, sup, 1)
	assert.Equal(t, "E-open2", sup[0].EventID)
	assert.Equal(t, "R-002-STEP_TIMEOUT", sup[0].RuleID)
	assert.Equal(t, int64(window/time.Second), sup[0].WindowSeconds)

	e, ok := h.corr.Get("BT-0001", "R-002-STEP_TIMEOUT")
	require.True(t, ok)
	assert.Equal(t, correlation.StatusExpired, e.Status)
	assert.Equal(t, "E-open2", e.OpeningEventID)
	assert.Len(t, h.records(audit.CorrelationExpired), 2)
}

func TestProcess_ConcurrentSameKeyPersistsOneAlert(t *testing.T) {
	h := newHarness(t, config.MatchPolicyAll)
	const n = 30

	var wg sync.WaitGroup
	results := make([]*Result, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		raw, err := json.Marshal(payload(fmt.Sprintf("E-%02d", i), "SUBMIT_REJECTED_REQUIRED_MISSING", t0, nil))
		require.NoError(t, err)
		wg.Add(1)
		go func(i int, raw []byte) {
			defer wg.Done()
			results[i], errs[i] = h.eng.Process(context.Background(), raw)
		}(i, raw)
	}
	wg.Wait()

	alerts, suppressed := 0, 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, OutcomeAccepted, results[i].Outcome)
		alerts += len(results[i].Alerts)
		if decision(t, results[i], "R-001-REQUIRED_MISSING").Decision == DecisionSuppressed {
			suppressed++
		}
	}
	assert.Equal(t, 1, alerts)
	assert.Equal(t, n-1, suppressed)
	assert.Len(t, h.alerts.Alerts(), 1)
	assert.Len(t, h.records(audit.AlertSuppressed), n-1)
	assert.Len(t, h.records(audit.AlertPersisted), 1)
}

func TestCorrelation_CloseOutcomes(t *testing.T) {
	cases := []struct {
		name        string
		token       string
		closeAfter  time.Duration
		wantDec     Decision
		wantReason  string
		wantHits    int
		wantExpired int
	}{
		{name: "on time", token: "BT-0001", closeAfter: 30 * time.Minute, wantDec: DecisionCorrelationClosed, wantReason: "closed on time", wantHits: 1},
		{name: "late", token: "BT-0001", closeAfter: 90 * time.Minute, wantDec: DecisionNoMatch, wantReason: "closing event after threshold", wantHits: 1, wantExpired: 1},
		{name: "other token", token: "BT-0002", closeAfter: 30 * time.Minute, wantDec: DecisionNoMatch, wantReason: "no open correlation", wantExpired: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, config.MatchPolicyAll)
			_, err := h.process(t, payload("E-open", "STEP_OPENED", t0, nil))
			require.NoError(t, err)

			res, err := h.process(t, payload("E-close", "STEP_COMPLETED", t0.Add(tc.closeAfter), map[string]interface{}{"batch_token": tc.token}))
			require.NoError(t, err)
			d := decision(t, res, "R-002-STEP_TIMEOUT")
			assert.Equal(t, tc.wantDec, d.Decision)
			assert.Equal(t, tc.wantReason, d.Reason)
			assert.Len(t, h.records(audit.CorrelationHit), tc.wantHits)

			h.clock.Advance(2 * time.Hour)
			sw, err := h.eng.Sweep(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.wantExpired, sw.Expired)
			assert.Len(t, sw.Alerts, tc.wantExpired)
		})
	}
}

func TestProcess_StorageFailureThenRetry(t *testing.T) {
	h := newHarness(t, config.MatchPolicyAll)
	p := payload("E-1", "SUBMIT_REJECTED_REQUIRED_MISSING", t0, nil)

	h.alerts.Err = errors.New("disk full")
	res, err := h.process(t, p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, alert.ErrStorageWrite))
	assert.Equal(t, OutcomeFailed, res.Outcome)

	ie := h.records(audit.InternalError)
	require.Len(t, ie, 1)
	assert.Equal(t, "STORAGE_WRITE_FAILURE", ie[0].ErrorCode)
	assert.Equal(t, "E-1", ie[0].EventID)
	assert.NotEmpty(t, ie[0].Component)

	seen, err := h.processed.Seen(context.Background(), "E-1")
	require.NoError(t, err)
	assert.False(t, seen)

	h.alerts.Err = nil
	res, err = h.process(t, p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	require.Len(t, res.Alerts, 1)

	res, err = h.process(t, p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, res.Outcome)
	assert.Len(t, h.alerts.Alerts(), 1)
}

func TestProcess_SuppressionRecordFailureRetryKeepsOneAlert(t *testing.T) {
	h := newHarness(t, config.MatchPolicyAll)
	p := payload("E-1", "SUBMIT_REJECTED_REQUIRED_MISSING", t0, nil)

	h.suppressed.failPuts = 1
	res, err := h.process(t, p)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.Len(t, h.alerts.Alerts(), 1)
	firstID := h.alerts.Alerts()[0].AlertID

	res, err = h.process(t, p)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, firstID, res.Alerts[0].AlertID)
	assert.Len(t, h.alerts.Alerts(), 1)
	assert.Len(t, h.records(audit.AlertPersisted), 1)
}

func TestLoadRules_InvalidKeepsCatalog(t *testing.T) {
	h := newHarness(t, config.MatchPolicyAll)
	before := h.eng.Catalog()

	cfg, err := config.Parse([]byte(fmt.Sprintf(rulesTemplate, config.MatchPolicyAll)))
	require.NoError(t, err)
	cfg.Rules[0].Routing.Targets = []string{"pager"}
	err = h.eng.LoadRules(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not allowed")
	assert.Same(t, before, h.eng.Catalog())
	assert.Len(t, h.records(audit.RulesLoaded), 1)
}

func TestLoadRules_HotDisable(t *testing.T) {
	h := newHarness(t, config.MatchPolicyAll)

	cfg, err := config.Parse([]byte(fmt.Sprintf(rulesTemplate, config.MatchPolicyAll)))
	require.NoError(t, err)
	cfg.Rules[0].Enabled = false
	require.NoError(t, h.eng.LoadRules(context.Background(), cfg))

	res, err := h.process(t, payload("E-1", "SUBMIT_REJECTED_REQUIRED_MISSING", t0, nil))
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)
	assert.Len(t, res.Decisions, 3)
	for _, d := range res.Decisions {
		assert.NotEqual(t, "R-001-REQUIRED_MISSING", d.RuleID)
	}
}

func TestSweep_DisabledRuleExpiresWithoutAlert(t *testing.T) {
	h := newHarness(t, config.MatchPolicyAll)
	_, err := h.process(t, payload("E-open", "STEP_OPENED", t0, nil))
	require.NoError(t, err)

	cfg, err := config.Parse([]byte(fmt.Sprintf(rulesTemplate, config.MatchPolicyAll)))
	require.NoError(t, err)
	cfg.Rules[1].Enabled = false
	require.NoError(t, h.eng.LoadRules(context.Background(), cfg))

	sw, err := h.eng.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sw.Expired)
	assert.Empty(t, sw.Alerts)
	exp := h.records(audit.CorrelationExpired)
	require.Len(t, exp, 1)
	assert.Equal(t, "rule_disabled", exp[0].Outcome)
}

func TestPrune_RemovesResolvedState(t *testing.T) {
	h := newHarness(t, config.MatchPolicyAll)
	_, err := h.process(t, payload("E-open", "STEP_OPENED", t0, nil))
	require.NoError(t, err)
	_, err = h.process(t, payload("E-close", "STEP_COMPLETED", t0.Add(30*time.Minute), nil))
	require.NoError(t, err)

	pr, err := h.eng.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, PruneResult{}, *pr)

	h.clock.Advance(25 * time.Hour)
	pr, err = h.eng.Prune(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pr.Correlations)
	assert.Equal(t, 2, pr.Processed)
	assert.Empty(t, h.corr.Snapshot())
	assert.Len(t, h.records(audit.CorrelationPruned), 1)
}

func TestProcessSync(t *testing.T) {
	h := newHarness(t, config.MatchPolicyAll)
	raw, err := json.Marshal(payload("E-1", "SUBMIT_REJECTED_REQUIRED_MISSING", t0, nil))
	require.NoError(t, err)

	res, err := h.eng.ProcessSync(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Len(t, res.Alerts, 1)
}

func TestProcessAsync_AfterShutdown(t *testing.T) {
	h := newHarness(t, config.MatchPolicyAll)
	h.eng.Shutdown()
	assert.False(t, h.eng.ProcessAsync([]byte(`{}`)))

	_, err := h.eng.ProcessSync(context.Background(), []byte(`{}`))
	assert.ErrorIs(t, err, ErrQueueFull)
}
