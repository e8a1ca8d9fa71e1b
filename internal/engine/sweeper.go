package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/sentinel/internal/alert"
	"github.com/gyaneshwarpardhi/sentinel/internal/audit"
	"github.com/gyaneshwarpardhi/sentinel/internal/catalog"
	"github.com/gyaneshwarpardhi/sentinel/internal/correlation"
	"github.com/gyaneshwarpardhi/sentinel/internal/metrics"
)

// SweepResult is what one sweep expired and emitted.
type SweepResult struct {
	SweepID    string        `json:"sweep_id"`
	Scanned    int           `json:"scanned"`
	Expired    int           `json:"expired"`
	Failed     int           `json:"failed"`
	Suppressed int           `json:"suppressed"`
	Truncated  bool          `json:"truncated"`
	Alerts     []alert.Alert `json:"alerts,omitempty"`
}

// PruneResult counts what one prune pass removed.
type PruneResult struct {
	Correlations int `json:"correlations"`
	Suppressions int `json:"suppressions"`
	Processed    int `json:"processed"`
}

// Sweep expires OPEN correlation entries past their threshold and emits a
// timeout alert for each, through the same suppression and audit path as
// inline alerts. It is bounded by the configured maximum duration.
func (e *Engine) Sweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	now := e.now()
	if e.sweepMax > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.sweepMax)
		defer cancel()
	}

	res := &SweepResult{SweepID: uuid.NewString()}
	cat := e.catalog.Load()
	emit := func(ctx context.Context, en correlation.Entry, rule *catalog.Rule) error {
		a, err := e.emit(ctx, cat, candidate{
			rule:      rule,
			context:   en.Context,
			eventID:   en.OpeningEventID,
			eventRefs: []string{en.OpeningEventID},
			trigger:   alert.TriggerSweep,
			decision:  -1,
		}, now)
		if err != nil {
			e.internalError(ctx, "sweep", en.OpeningEventID, err)
			return err
		}
		if a == nil {
			res.Suppressed++
		} else {
			res.Alerts = append(res.Alerts, *a)
		}
		return nil
	}

	rep, err := e.correlations.Sweep(ctx, now, cat, emit)
	if errors.Is(err, correlation.ErrSweepInProgress) {
		metrics.SweepRuns.WithLabelValues("skipped").Inc()
		return nil, err
	}
	if err != nil {
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return nil, err
	}
	res.Scanned, res.Expired, res.Failed, res.Truncated = rep.Scanned, rep.Expired, rep.Failed, rep.Truncated
	metrics.CorrelationTransitions.WithLabelValues(string(correlation.StatusExpired)).Add(float64(rep.Expired))
	metrics.OpenCorrelations.Set(float64(e.correlations.CountOpen()))

	aerr := e.audit.Append(context.WithoutCancel(ctx), audit.Record{
		RecordType: audit.SweepCompleted,
		Timestamp:  now,
		Count:      rep.Expired,
		Truncated:  rep.Truncated,
		Reason:     fmt.Sprintf("scanned=%d failed=%d suppressed=%d", rep.Scanned, rep.Failed, res.Suppressed),
	})

	result := "ok"
	switch {
	case rep.Truncated:
		result = "truncated"
	case rep.Failed > 0:
		result = "partial"
	}
	metrics.SweepRuns.WithLabelValues(result).Inc()
	metrics.SweepDuration.Observe(float64(time.Since(start).Milliseconds()))
	e.logger.Info("sweep completed",
		"sweep_id", res.SweepID,
		"scanned", rep.Scanned,
		"expired", rep.Expired,
		"failed", rep.Failed,
		"truncated", rep.Truncated,
	)

	if aerr != nil {
		return res, fmt.Errorf("audit sweep completed: %w", aerr)
	}
	if rep.Failed > 0 {
		return res, fmt.Errorf("sweep: %d entries failed: %w", rep.Failed, errors.Join(rep.Errors...))
	}
	return res, nil
}

// Prune bounds stored state: terminal correlation entries, idle suppression
// entries and processed event ids past their retention.
func (e *Engine) Prune(ctx context.Context) (*PruneResult, error) {
	now := e.now()
	var (
		res  PruneResult
		errs []error
		err  error
	)
	if res.Correlations, err = e.correlations.Prune(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if res.Suppressions, err = e.suppression.Prune(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if e.conf.DedupRetention > 0 {
		if res.Processed, err = e.dedup.prune(ctx, now.Add(-e.conf.DedupRetention)); err != nil {
			errs = append(errs, fmt.Errorf("prune processed events: %w", err))
		}
	}
	if res.Correlations+res.Suppressions+res.Processed > 0 {
		e.logger.Info("state pruned",
			"correlations", res.Correlations,
			"suppressions", res.Suppressions,
			"processed", res.Processed,
		)
	}
	return &res, errors.Join(errs...)
}

// Sweeper runs Sweep then Prune on a fixed interval.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper returns a stopped Sweeper.
func NewSweeper(e *Engine, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{engine: e, interval: interval, logger: logger}
}

// Start launches the ticker loop. It stops when ctx is done or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.engine.Sweep(ctx); err != nil {
		if errors.Is(err, correlation.ErrSweepInProgress) {
			s.logger.Warn("sweep skipped", "err", err)
		} else {
			s.logger.Error("sweep", "err", err)
		}
	}
	if _, err := s.engine.Prune(ctx); err != nil {
		s.logger.Error("prune", "err", err)
	}
}
