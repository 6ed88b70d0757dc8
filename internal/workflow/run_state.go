package workflow

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/failure"
)

// runState is the bookkeeping of one run: the status record, its logger and
// the open portal. Event and evidence writes are best-effort and never change
// the outcome of the run.
type runState struct {
	d      *Driver
	run    *schemas.ProcessRun
	log    *zap.Logger
	portal Portal
}

func (r *runState) advance(ctx context.Context, step schemas.Step, details map[string]any) error {
	if err := r.run.Advance(step); err != nil {
		return failure.New(failure.EngineFailure, "advance", err)
	}
	r.log.Info("Step completed", zap.String("step", string(step)))
	if details == nil {
		details = map[string]any{}
	}
	details["step"] = string(step)
	if r.run.Engine != "" {
		details["engine"] = string(r.run.Engine)
	}
	r.event(ctx, string(step), details)
	return nil
}

// portalStep completes a step reached in the portal and snapshots the page.
func (r *runState) portalStep(ctx context.Context, step schemas.Step) error {
	if err := r.advance(ctx, step, nil); err != nil {
		return err
	}
	r.snapshot(ctx, strings.ToLower(string(step)))
	return nil
}

func (r *runState) complete(ctx context.Context) error {
	if err := r.run.Complete(r.d.deps.Now()); err != nil {
		return failure.New(failure.EngineFailure, "complete", err)
	}
	r.log.Info("Workflow run completed", zap.String("engine", string(r.run.Engine)))
	r.event(ctx, EventCompleted, map[string]any{
		"engine": string(r.run.Engine),
		"steps":  len(r.run.StepsCompleted),
	})
	return nil
}

// fail records err as the terminal failure of the run. The portal page, when
// one is open, is captured first.
func (r *runState) fail(ctx context.Context, err error) {
	kind := failure.KindOf(err)
	if r.portal != nil {
		r.snapshot(ctx, "failure "+string(kind))
	}
	if ferr := r.run.Fail(r.d.deps.Now(), string(kind), err); ferr != nil {
		r.log.Error("Run already terminal, failure not recorded", zap.Error(err))
		return
	}
	r.log.Error("Workflow run failed",
		zap.String("error_kind", string(kind)),
		zap.String("last_step", string(r.run.LastStep())),
		zap.Error(err))
	r.event(ctx, EventFailed, map[string]any{
		"error_kind": string(kind),
		"error":      err.Error(),
		"last_step":  string(r.run.LastStep()),
	})
}

func (r *runState) event(ctx context.Context, status string, details map[string]any) {
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := r.d.deps.Events.WriteRunEvent(ctx, r.run.ID, status, details); err != nil {
		r.log.Warn("Failed to write run event", zap.String("status", status), zap.Error(err))
	}
}

func (r *runState) snapshot(ctx context.Context, label string) {
	ctx, cancel := detached(ctx)
	defer cancel()
	data, err := r.portal.Snapshot(ctx)
	if err != nil {
		r.log.Warn("Failed to capture evidence", zap.String("label", label), zap.Error(err))
		return
	}
	r.store(ctx, data, label)
}

func (r *runState) store(ctx context.Context, data []byte, label string) {
	ctx, cancel := detached(ctx)
	defer cancel()
	if err := r.d.deps.Evidence.StoreEvidence(ctx, data, label, r.run.ID); err != nil {
		r.log.Warn("Failed to store evidence", zap.String("label", label), zap.Error(err))
	}
}

// detached keeps bookkeeping writes alive after the run's own context is
// cancelled, bounded by evidenceWriteDeadline.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), evidenceWriteDeadline)
}
