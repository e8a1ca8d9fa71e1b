// Package engine runs accepted events through the rule catalog, the
// correlation and suppression stores and the alert store, auditing every
// decision along the way.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/sentinel/internal/alert"
	"github.com/gyaneshwarpardhi/sentinel/internal/audit"
	"github.com/gyaneshwarpardhi/sentinel/internal/catalog"
	"github.com/gyaneshwarpardhi/sentinel/internal/config"
	"github.com/gyaneshwarpardhi/sentinel/internal/correlation"
	"github.com/gyaneshwarpardhi/sentinel/internal/event"
	"github.com/gyaneshwarpardhi/sentinel/internal/ingest"
	"github.com/gyaneshwarpardhi/sentinel/internal/keylock"
	"github.com/gyaneshwarpardhi/sentinel/internal/metrics"
	"github.com/gyaneshwarpardhi/sentinel/internal/modifier"
	"github.com/gyaneshwarpardhi/sentinel/internal/routing"
	"github.com/gyaneshwarpardhi/sentinel/internal/suppression"
)

// ErrQueueFull is returned when the event queue cannot take more work.
var ErrQueueFull = errors.New("event queue full")

// Outcome is the terminal state of one event.
type Outcome string

const (
	OutcomeAccepted  Outcome = "ACCEPTED"
	OutcomeRejected  Outcome = "REJECTED"
	OutcomeDuplicate Outcome = "DUPLICATE"
	OutcomeFailed    Outcome = "FAILED"
)

// Decision is what happened for one rule.
type Decision string

const (
	DecisionMatch                 Decision = "MATCH"
	DecisionNoMatch               Decision = "NO_MATCH"
	DecisionSuppressed            Decision = "SUPPRESSED"
	DecisionNotSelected           Decision = "NOT_SELECTED"
	DecisionCorrelationOpened     Decision = "CORRELATION_OPENED"
	DecisionCorrelationClosed     Decision = "CORRELATION_CLOSED"
	DecisionCorrelationKeyMissing Decision = "CORRELATION_KEY_MISSING"
)

// RuleDecision is one rule's result for one event.
type RuleDecision struct {
	RuleID      string   `json:"rule_id"`
	RuleVersion string   `json:"rule_version"`
	Decision    Decision `json:"decision"`
	Reason      string   `json:"reason,omitempty"`
	AlertID     string   `json:"alert_id,omitempty"`
}

// Result is the outcome of processing a single event.
type Result struct {
	EventID    string            `json:"event_id,omitempty"`
	Outcome    Outcome           `json:"outcome"`
	Rejection  *ingest.Rejection `json:"rejection,omitempty"`
	Decisions  []RuleDecision    `json:"decisions,omitempty"`
	Alerts     []alert.Alert     `json:"alerts,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms"`
}

// Options wires an Engine to its collaborators.
type Options struct {
	Gate         *ingest.Gate
	Audit        audit.Appender
	Alerts       alert.Store
	Correlations *correlation.Store
	Suppression  *suppression.Store
	Processed    ProcessedRepository
	Routing      *routing.Policy
	Modifiers    *modifier.Registry
	Conf         config.EngineConf
	// SweepMaxDuration bounds one sweep; zero means unbounded.
	SweepMaxDuration time.Duration
	Clock            func() time.Time
	Logger           *slog.Logger
}

// Engine processes events against the current catalog.
type Engine struct {
	catalog atomic.Pointer[catalog.Catalog]

	gate         *ingest.Gate
	audit        audit.Appender
	builder      *alert.Builder
	alerts       alert.Store
	correlations *correlation.Store
	suppression  *suppression.Store
	dedup        *dedup
	routing      *routing.Policy
	modifiers    *modifier.Registry
	eventLocks   *keylock.Locker

	pool *workerPool[*eventWork]
	conf config.EngineConf

	sweepMax time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

type eventWork struct {
	raw     []byte
	resultC chan *Result
}

// New builds the catalog from cfg, logs RULES_LOADED and starts the worker
// pool. A catalog that fails to build is fatal.
func New(ctx context.Context, cfg *config.RuleConfig, opts Options) (*Engine, error) {
	if opts.Gate == nil || opts.Audit == nil || opts.Alerts == nil ||
		opts.Correlations == nil || opts.Suppression == nil || opts.Processed == nil {
		return nil, errors.New("engine: gate, audit, alerts, correlations, suppression and processed are required")
	}
	d, err := newDedup(opts.Processed, opts.Conf.DedupCacheSize)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		gate:         opts.Gate,
		audit:        opts.Audit,
		builder:      alert.NewBuilder(opts.Audit),
		alerts:       opts.Alerts,
		correlations: opts.Correlations,
		suppression:  opts.Suppression,
		dedup:        d,
		routing:      opts.Routing,
		modifiers:    opts.Modifiers,
		eventLocks:   keylock.New(),
		conf:         opts.Conf,
		sweepMax:     opts.SweepMaxDuration,
		now:          opts.Clock,
		logger:       opts.Logger,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.modifiers == nil {
		e.modifiers = modifier.DefaultRegistry()
	}
	if e.conf.EventWorkers <= 0 {
		e.conf.EventWorkers = 1
	}
	if e.conf.QueueDepth <= 0 {
		e.conf.QueueDepth = 100
	}
	if e.conf.EventTimeout <= 0 {
		e.conf.EventTimeout = 5 * time.Second
	}
	if err := e.LoadRules(ctx, cfg); err != nil {
		return nil, err
	}

	e.pool = newWorkerPool(ctx, e.conf.EventWorkers, e.conf.QueueDepth, func(ctx context.Context, w *eventWork) {
		res, err := e.Process(ctx, w.raw)
		if err != nil {
			e.logger.Error("process event", "event_id", res.EventID, "err", err)
		}
		if w.resultC != nil {
			w.resultC <- res
		}
	})
	return e, nil
}

// Catalog returns the catalog currently in force.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog.Load() }

// LoadRules compiles cfg and swaps it in atomically. On error the previous
// catalog stays in force.
func (e *Engine) LoadRules(ctx context.Context, cfg *config.RuleConfig) error {
	cat, err := catalog.Build(cfg, catalog.Options{Modifiers: e.modifiers, Routing: e.routing})
	if err != nil {
		return err
	}
	err = e.audit.Append(ctx, audit.Record{
		RecordType:     audit.RulesLoaded,
		RulesetName:    cat.Name(),
		RulesetVersion: cat.Version(),
		Count:          len(cat.Enabled()),
		Reason:         cat.MatchPolicy(),
	})
	if err != nil {
		return fmt.Errorf("audit rules loaded: %w", err)
	}
	e.catalog.Store(cat)
	e.logger.Info("rules loaded", "ruleset", cat.Name(), "version", cat.Version(), "enabled", len(cat.Enabled()))
	return nil
}

// Process validates raw at the gate and evaluates the accepted event. The
// returned error is non-nil only for infrastructure failures, in which case
// the result's outcome is FAILED and the event may be retried.
func (e *Engine) Process(ctx context.Context, raw []byte) (*Result, error) {
	start := time.Now()
	metrics.EventsReceived.Inc()

	gr, err := e.gate.Validate(ctx, raw)
	if err != nil {
		e.internalError(ctx, "ingest", "", err)
		metrics.EventsFailed.Inc()
		return &Result{Outcome: OutcomeFailed, Error: err.Error()}, err
	}
	if !gr.Accepted() {
		metrics.EventsRejected.WithLabelValues(string(gr.Rejection.Code)).Inc()
		return &Result{
			EventID:    gr.Rejection.EventID,
			Outcome:    OutcomeRejected,
			Rejection:  gr.Rejection,
			DurationMs: time.Since(start).Milliseconds(),
		}, nil
	}
	metrics.EventsAccepted.Inc()
	return e.ProcessEvent(ctx, gr.Event)
}

// Evaluate runs every enabled rule against an accepted event and returns
// the alerts it persisted.
func (e *Engine) Evaluate(ctx context.Context, ev *event.Event) ([]alert.Alert, error) {
	res, err := e.ProcessEvent(ctx, ev)
	if err != nil {
		return nil, err
	}
	return res.Alerts, nil
}

// ProcessEvent evaluates ev at most once per event_id. The id is marked
// processed only when every rule completed without an infrastructure failure.
func (e *Engine) ProcessEvent(ctx context.Context, ev *event.Event) (*Result, error) {
	start := time.Now()
	defer func() {
		metrics.EventProcessingDuration.Observe(float64(time.Since(start).Milliseconds()))
	}()

	unlock := e.eventLocks.Lock(ev.EventID)
	defer unlock()

	res := &Result{EventID: ev.EventID}
	fail := func(component string, err error) (*Result, error) {
		e.internalError(ctx, component, ev.EventID, err)
		metrics.EventsFailed.Inc()
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
		res.DurationMs = time.Since(start).Milliseconds()
		return res, err
	}

	dup, err := e.dedup.seen(ctx, ev.EventID)
	if err != nil {
		return fail("dedup", err)
	}
	if dup {
		metrics.EventsDuplicate.Inc()
		err := e.audit.Append(ctx, audit.Record{
			RecordType: audit.IngestDuplicate,
			EventID:    ev.EventID,
			EventType:  string(ev.EventType),
		})
		if err != nil {
			return fail("audit", err)
		}
		res.Outcome = OutcomeDuplicate
		res.DurationMs = time.Since(start).Milliseconds()
		return res, nil
	}

	at := ev.ReceivedAt
	if at.IsZero() {
		at = e.now()
	}
	cat := e.catalog.Load()
	if err := e.evaluate(ctx, cat, ev, at, res); err != nil {
		return fail("engine", err)
	}
	if err := e.dedup.mark(ctx, ev.EventID, at); err != nil {
		return fail("dedup", err)
	}
	res.Outcome = OutcomeAccepted
	res.DurationMs = time.Since(start).Milliseconds()
	return res, nil
}

// ProcessSync queues raw and waits for its result.
func (e *Engine) ProcessSync(ctx context.Context, raw []byte) (*Result, error) {
	resultC := make(chan *Result, 1)
	if !e.pool.Submit(&eventWork{raw: raw, resultC: resultC}) {
		metrics.EventsDropped.Inc()
		return nil, fmt.Errorf("%w (capacity %d)", ErrQueueFull, e.conf.QueueDepth)
	}
	metrics.EventsEnqueued.Inc()
	e.observeQueue()

	timer := time.NewTimer(e.conf.EventTimeout)
	defer timer.Stop()
	select {
	case res := <-resultC:
		return res, nil
	case <-timer.C:
		return nil, fmt.Errorf("event processing timeout after %v", e.conf.EventTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ProcessAsync enqueues raw for background processing. Returns false if the queue is full.
func (e *Engine) ProcessAsync(raw []byte) bool {
	if !e.pool.Submit(&eventWork{raw: raw}) {
		metrics.EventsDropped.Inc()
		return false
	}
	metrics.EventsEnqueued.Inc()
	e.observeQueue()
	return true
}

// QueueUtilization returns queue used / capacity (0–1).
func (e *Engine) QueueUtilization() float64 {
	if e.pool.QueueCap() == 0 {
		return 0
	}
	return float64(e.pool.QueueLen()) / float64(e.pool.QueueCap())
}

func (e *Engine) observeQueue() {
	metrics.QueueUtilization.Set(e.QueueUtilization())
}

// Shutdown drains the worker pool gracefully.
func (e *Engine) Shutdown() {
	e.pool.Drain()
}

// internalError records an INTERNAL_ERROR. It never fails the caller; if the
// audit log itself is down the failure is only logged.
func (e *Engine) internalError(ctx context.Context, component, eventID string, err error) {
	code := "INTERNAL"
	if errors.Is(err, alert.ErrStorageWrite) || errors.Is(err, audit.ErrWriteFailed) {
		code = "STORAGE_WRITE_FAILURE"
	}
	text := err.Error()
	if len(text) > 240 {
		text = text[:240]
	}
	aerr := e.audit.Append(context.WithoutCancel(ctx), audit.Record{
		RecordType: audit.InternalError,
		EventID:    eventID,
		Component:  component,
		ErrorCode:  code,
		ErrorText:  text,
	})
	e.logger.Error("internal error", "component", component, "event_id", eventID, "error_code", code, "err", err)
	if aerr != nil {
		e.logger.Error("audit internal error", "err", aerr)
	}
}
