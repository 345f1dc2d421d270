// Package sweeper drives escalation ladders forward on a schedule.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/SpecLeft/specleft-delta-demo/internal/workflow"
)

const (
	DefaultInterval  = time.Minute
	DefaultRate      = 10
	DefaultBatchSize = 500
)

// DueLister finds documents whose escalation deadline has passed.
type DueLister interface {
	ListDueEscalations(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Escalator triggers one escalation step.
type Escalator interface {
	TriggerEscalation(ctx context.Context, in workflow.EscalateInput) (workflow.EscalationResult, error)
}

type Options struct {
	Interval time.Duration
	// Rate is the maximum number of triggers per second; zero means DefaultRate.
	Rate      float64
	Burst     int
	BatchSize int
	Clock     func() time.Time
	Logger    *slog.Logger
}

// Result counts the outcome of one sweep.
type Result struct {
	Due       int
	Escalated int
	Skipped   int
	Failed    int
}

type Sweeper struct {
	lister    DueLister
	escalator Escalator
	limiter   *rate.Limiter
	interval  time.Duration
	batchSize int
	clock     func() time.Time
	logger    *slog.Logger
}

func New(lister DueLister, escalator Escalator, opts Options) *Sweeper {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Rate <= 0 {
		opts.Rate = DefaultRate
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sweeper{
		lister:    lister,
		escalator: escalator,
		limiter:   rate.NewLimiter(rate.Limit(opts.Rate), opts.Burst),
		interval:  opts.Interval,
		batchSize: opts.BatchSize,
		clock:     opts.Clock,
		logger:    opts.Logger.With("component", "sweeper"),
	}
}

// Run sweeps immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("escalation sweeper started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx, s.clock()); err != nil && ctx.Err() == nil {
			s.logger.Error("escalation sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("escalation sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce triggers every escalation due at now, at most batch size documents.
func (s *Sweeper) SweepOnce(ctx context.Context, now time.Time) (Result, error) {
	ids, err := s.lister.ListDueEscalations(ctx, now, s.batchSize)
	if err != nil {
		return Result{}, fmt.Errorf("list due escalations: %w", err)
	}

	result := Result{Due: len(ids)}
	for _, id := range ids {
		if err := s.limiter.Wait(ctx); err != nil {
			return result, fmt.Errorf("wait for rate limiter: %w", err)
		}
		escalation, err := s.escalator.TriggerEscalation(ctx, workflow.EscalateInput{DocumentID: id, Now: now})
		switch {
		case err == nil:
			result.Escalated++
			s.logger.Info("escalation triggered",
				"document_id", id,
				"reviewer_id", escalation.ReviewerID,
				"level", escalation.State.CurrentIndex,
			)
		case errors.Is(err, workflow.ErrEscalationNotDue),
			errors.Is(err, workflow.ErrEscalationMaxDepth),
			errors.Is(err, workflow.ErrEscalationNotApplicable):
			result.Skipped++
			s.logger.Debug("escalation skipped", "document_id", id, "code", workflow.CodeOf(err))
		default:
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Failed++
			s.logger.Warn("escalation failed", "document_id", id, "error", err)
		}
	}
	if result.Due > 0 {
		s.logger.Info("escalation sweep complete",
			"due", result.Due,
			"escalated", result.Escalated,
			"skipped", result.Skipped,
			"failed", result.Failed,
		)
	}
	return result, nil
}
