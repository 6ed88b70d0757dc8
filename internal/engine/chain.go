package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

// defaultAttemptTimeout bounds an attempt whose kind has no configured budget.
const defaultAttemptTimeout = 60 * time.Second

// TimeoutFunc returns the time budget for one attempt of kind.
type TimeoutFunc func(kind schemas.EngineKind) time.Duration

// Result is the outcome of walking the chain once.
type Result struct {
	Attempts []schemas.EngineAttempt
	// Selected is the attempt downstream steps should use, nil when every
	// attempt failed.
	Selected *schemas.EngineAttempt
	// Evidence is the capture of the selected attempt.
	Evidence *Capture
	Status   schemas.Outcome
	// Authoritative is false when Selected is a best-effort Ambiguous pick.
	Authoritative bool
}

// Usable reports whether an attempt was selected.
func (r Result) Usable() bool {
	return r.Selected != nil
}

// Chain walks engines in a caller supplied order until one succeeds.
type Chain struct {
	registry *Registry
	scorer   Scorer
	timeouts TimeoutFunc
	logger   *zap.Logger
}

// NewChain creates a Chain. A nil scorer means DefaultScorer with no size
// threshold and a nil timeouts func applies defaultAttemptTimeout everywhere.
func NewChain(registry *Registry, scorer Scorer, timeouts TimeoutFunc, logger *zap.Logger) *Chain {
	if scorer == nil {
		scorer = DefaultScorer(0, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{
		registry: registry,
		scorer:   scorer,
		timeouts: timeouts,
		logger:   logger.Named("engine_chain"),
	}
}

// Run tries each engine in order, strictly sequentially, and stops at the
// first Success. When none succeeds the highest scoring Ambiguous attempt is
// selected (earliest on ties) and flagged non-authoritative. If ctx ends the
// walk stops after recording why.
func (c *Chain) Run(ctx context.Context, profile schemas.SessionProfile, task Task, order []schemas.EngineKind) Result {
	res := Result{
		Attempts: make([]schemas.EngineAttempt, 0, len(order)),
		Status:   schemas.OutcomeFailure,
	}

	var (
		bestIdx     = -1
		bestCapture *Capture
	)
	for _, kind := range order {
		if err := ctx.Err(); err != nil {
			res.Attempts = append(res.Attempts, schemas.EngineAttempt{
				Engine:       kind,
				Outcome:      schemas.OutcomeFailure,
				ErrorMessage: fmt.Sprintf("not attempted: %v", err),
			})
			c.logger.Warn("Engine chain interrupted", zap.String("engine", string(kind)), zap.Error(err))
			break
		}

		attempt, capture := c.Attempt(ctx, kind, profile, task)
		res.Attempts = append(res.Attempts, attempt)
		idx := len(res.Attempts) - 1

		if attempt.Outcome == schemas.OutcomeSuccess {
			res.Selected = &res.Attempts[idx]
			res.Evidence = capture
			res.Status = schemas.OutcomeSuccess
			res.Authoritative = true
			return res
		}
		if attempt.Outcome == schemas.OutcomeAmbiguous && (bestIdx < 0 || attempt.Score > res.Attempts[bestIdx].Score) {
			bestIdx = idx
			bestCapture = capture
		}
	}

	if bestIdx >= 0 {
		res.Selected = &res.Attempts[bestIdx]
		res.Evidence = bestCapture
		res.Status = schemas.OutcomeAmbiguous
		c.logger.Warn("No engine confirmed the load, using best ambiguous attempt",
			zap.String("engine", string(res.Selected.Engine)),
			zap.Float64("score", res.Selected.Score))
	}
	return res
}

// Attempt runs a single engine within its own time budget and scores the
// evidence. Adapter errors become Failure attempts.
func (c *Chain) Attempt(ctx context.Context, kind schemas.EngineKind, profile schemas.SessionProfile, task Task) (schemas.EngineAttempt, *Capture) {
	attempt := schemas.EngineAttempt{Engine: kind, Outcome: schemas.OutcomeFailure}
	logger := c.logger.With(zap.String("engine", string(kind)), zap.String("task", task.Name))

	adapter, ok := c.registry.Lookup(kind)
	if !ok {
		attempt.ErrorMessage = "no adapter registered"
		logger.Warn("Skipping engine with no adapter")
		return attempt, nil
	}

	timeout := defaultAttemptTimeout
	if c.timeouts != nil {
		if t := c.timeouts(kind); t > 0 {
			timeout = t
		}
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Info("Starting engine attempt", zap.Duration("timeout", timeout))
	start := time.Now()
	capture, err := adapter.Load(attemptCtx, profile, task)
	attempt.Duration = time.Since(start)

	if capture != nil {
		size := capture.Size()
		attempt.EvidenceSizeBytes = &size
		if capture.Engine == "" {
			capture.Engine = kind
		}
	}
	if err != nil {
		if attemptCtx.Err() != nil && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		attempt.ErrorMessage = err.Error()
		logger.Warn("Engine attempt failed", zap.Duration("duration", attempt.Duration), zap.Error(err))
		return attempt, nil
	}

	verdict := c.scorer.Score(task, capture)
	attempt.Outcome = verdict.Outcome
	attempt.Score = verdict.Score
	attempt.ErrorMessage = verdict.Reason
	if verdict.Outcome == schemas.OutcomeSuccess {
		attempt.ErrorMessage = ""
	}

	logger.Info("Engine attempt finished",
		zap.String("outcome", string(attempt.Outcome)),
		zap.Float64("score", attempt.Score),
		zap.Int("evidence_bytes", capture.Size()),
		zap.Duration("duration", attempt.Duration))
	if verdict.Outcome == schemas.OutcomeFailure {
		return attempt, nil
	}
	return attempt, capture
}
