// Package workflow drives one run of the portal workflow: probe, route,
// pick an engine, then log in, verify the passcode, upload and confirm.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/engine"
	"github.com/xkilldash9x/portalpilot/internal/failure"
	"github.com/xkilldash9x/portalpilot/internal/observability"
	"github.com/xkilldash9x/portalpilot/internal/profile"
)

// Event statuses written besides the step names.
const (
	EventStarted          = "STARTED"
	EventEngineSelected   = "ENGINE_SELECTED"
	EventCompleted        = "COMPLETED"
	EventFailed           = "FAILED"
	landingTaskName       = "landing"
	evidenceWriteDeadline = 10 * time.Second
)

// Deps are the collaborators of a Driver.
type Deps struct {
	Prober   Prober
	Selector ProfileSelector
	Chain    EngineChain
	Opener   PortalOpener
	OTP      OTPSource
	Secrets  SecretSource
	Evidence EvidenceStore
	Events   EventWriter
	Payload  PayloadFetcher
	Logger   *zap.Logger

	// Now and NewID default to time.Now and uuid.New.
	Now   func() time.Time
	NewID func() uuid.UUID
}

func (d Deps) validate() error {
	var errs []error
	for name, v := range map[string]any{
		"prober":   d.Prober,
		"selector": d.Selector,
		"chain":    d.Chain,
		"opener":   d.Opener,
		"otp":      d.OTP,
		"secrets":  d.Secrets,
		"evidence": d.Evidence,
		"events":   d.Events,
		"payload":  d.Payload,
	} {
		if v == nil {
			errs = append(errs, fmt.Errorf("missing %s", name))
		}
	}
	return errors.Join(errs...)
}

// Driver executes workflow runs. It keeps no state between runs.
type Driver struct {
	cfg    *config.Config
	order  []schemas.EngineKind
	deps   Deps
	logger *zap.Logger
}

// New creates a Driver. cfg must have passed Validate.
func New(cfg *config.Config, deps Deps) (*Driver, error) {
	if err := deps.validate(); err != nil {
		return nil, failure.New(failure.Configuration, "workflow", err)
	}
	order, err := cfg.Engines.ParsedOrder()
	if err != nil {
		return nil, failure.New(failure.Configuration, "workflow", err)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.New
	}
	return &Driver{cfg: cfg, order: order, deps: deps, logger: deps.Logger.Named("workflow")}, nil
}

// RunWorkflow resolves the portal credentials and runs the workflow once for
// the configured payload reference. It always returns a terminal run.
func RunWorkflow(ctx context.Context, cfg *config.Config, deps Deps) *schemas.ProcessRun {
	d, err := New(cfg, deps)
	if err != nil {
		now := time.Now()
		run := schemas.NewProcessRun(uuid.New(), now)
		_ = run.Fail(now, string(failure.KindOf(err)), err)
		return run
	}

	creds, err := d.Credentials(ctx)
	if err != nil {
		r := d.start(ctx)
		r.fail(ctx, err)
		return r.run
	}
	return d.Run(ctx, creds, cfg.Payload.Reference)
}

// Credentials resolves the portal username and password through the secret source.
func (d *Driver) Credentials(ctx context.Context) (schemas.Credential, error) {
	user, err := d.deps.Secrets.FetchSecret(ctx, d.cfg.Credentials.UsernameSecret)
	if err != nil {
		return schemas.Credential{}, failure.New(failure.Configuration, "resolve credentials", err)
	}
	pass, err := d.deps.Secrets.FetchSecret(ctx, d.cfg.Credentials.PasswordSecret)
	if err != nil {
		return schemas.Credential{}, failure.New(failure.Configuration, "resolve credentials", err)
	}
	return schemas.Credential{Username: user, Password: pass}, nil
}

// Proxy resolves the configured upstream proxy, or nil when none is enabled.
func (d *Driver) Proxy(ctx context.Context) (*profile.Proxy, error) {
	return ResolveProxy(ctx, d.cfg.Proxy, d.deps.Secrets)
}

// Decide probes the target and builds the session profile without starting a run.
func (d *Driver) Decide(ctx context.Context) (schemas.ConnectivityResult, schemas.SessionProfile, error) {
	return Decide(ctx, d.cfg, d.deps.Prober, d.deps.Selector, d.deps.Secrets)
}

// ResolveProxy builds the upstream proxy from pc, fetching its password
// through secrets. It returns nil when the proxy is disabled.
func ResolveProxy(ctx context.Context, pc config.ProxyConfig, secrets SecretSource) (*profile.Proxy, error) {
	if !pc.Enabled {
		return nil, nil
	}
	ep := schemas.ProxyEndpoint{Host: pc.Host, Port: pc.Port, Username: pc.Username}
	if pc.Username != "" {
		pass, err := secrets.FetchSecret(ctx, pc.PasswordSecret)
		if err != nil {
			return nil, failure.New(failure.Configuration, "resolve proxy credentials", err)
		}
		ep.Password = pass
	}
	return &profile.Proxy{Endpoint: ep, Region: pc.Region}, nil
}

// Decide runs the connectivity probe and the routing decision only. It backs
// the probe command.
func Decide(ctx context.Context, cfg *config.Config, prober Prober, selector ProfileSelector, secrets SecretSource) (schemas.ConnectivityResult, schemas.SessionProfile, error) {
	proxy, err := ResolveProxy(ctx, cfg.Proxy, secrets)
	if err != nil {
		return schemas.ConnectivityResult{}, schemas.SessionProfile{}, err
	}
	result := prober.Probe(ctx, cfg.Target.URL, cfg.Probe.Timeout)
	return result, selector.Select(result, proxy), nil
}

// Run executes the workflow once. The returned run is always terminal.
func (d *Driver) Run(ctx context.Context, creds schemas.Credential, uploadRef string) *schemas.ProcessRun {
	r := d.start(ctx)
	if err := d.execute(ctx, r, creds, uploadRef); err != nil {
		r.fail(ctx, err)
	}
	if r.portal != nil {
		if err := r.portal.Close(); err != nil {
			r.log.Warn("Failed to close portal", zap.Error(err))
		}
	}
	return r.run
}

func (d *Driver) start(ctx context.Context) *runState {
	run := schemas.NewProcessRun(d.deps.NewID(), d.deps.Now())
	r := &runState{
		d:   d,
		run: run,
		log: observability.ForRun(d.logger, run.ID.String()),
	}
	r.log.Info("Workflow run started", zap.String("target", d.cfg.Target.URL))
	r.event(ctx, EventStarted, map[string]any{"target": d.cfg.Target.URL})
	return r
}

func (d *Driver) execute(ctx context.Context, r *runState, creds schemas.Credential, uploadRef string) error {
	// The payload is resolved before any network or browser work.
	payloadPath, err := d.deps.Payload.FetchUploadPayload(ctx, uploadRef)
	if err != nil {
		return err
	}
	proxy, err := d.Proxy(ctx)
	if err != nil {
		return err
	}

	// -- Connectivity --
	result := d.deps.Prober.Probe(ctx, d.cfg.Target.URL, d.cfg.Probe.Timeout)
	if err := r.advance(ctx, schemas.StepConnectivityChecked, probeDetails(result)); err != nil {
		return err
	}

	sp := d.deps.Selector.Select(result, proxy)
	for _, w := range sp.Warnings {
		r.log.Warn("Session profile warning", zap.String("warning", w))
	}
	if err := r.advance(ctx, schemas.StepSessionBuilt, map[string]any{
		"route_via_proxy": sp.RouteViaProxy,
		"reason":          sp.Reason,
		"region":          sp.Locale.Region,
		"warnings":        sp.Warnings,
	}); err != nil {
		return err
	}

	// -- Engine selection --
	task := engine.Task{Name: landingTaskName, URL: d.cfg.Target.URL, Marker: d.cfg.Target.Marker}
	res := d.deps.Chain.Run(ctx, sp, task, d.order)
	r.event(ctx, EventEngineSelected, chainDetails(res))
	if !res.Usable() {
		return exhausted(result, res)
	}
	selected := res.Selected.Engine
	r.run.Engine = selected
	if !res.Authoritative {
		r.log.Warn("No engine succeeded outright, continuing with the best ambiguous attempt",
			zap.String("engine", string(selected)),
			zap.Float64("score", res.Selected.Score))
	}
	if res.Evidence != nil {
		if data := res.Evidence.Screenshot; len(data) > 0 {
			r.store(ctx, data, "landing "+string(selected))
		} else if len(res.Evidence.HTML) > 0 {
			r.store(ctx, res.Evidence.HTML, "landing "+string(selected))
		}
	}

	// -- Portal --
	p, err := d.deps.Opener.Open(ctx, selected, sp)
	if err != nil {
		return err
	}
	r.portal = p

	if err := p.Login(ctx, creds.Username, creds.Password); err != nil {
		return err
	}
	if err := r.portalStep(ctx, schemas.StepLoggedIn); err != nil {
		return err
	}

	otpCtx, cancel := context.WithTimeout(ctx, d.cfg.OTP.EffectiveTimeout())
	code, err := d.deps.OTP.AwaitOTP(otpCtx)
	cancel()
	if err != nil {
		return err
	}
	if err := p.SubmitOTP(ctx, code); err != nil {
		return err
	}
	if err := r.portalStep(ctx, schemas.StepOTPVerified); err != nil {
		return err
	}

	if err := p.SelectFile(ctx, payloadPath); err != nil {
		return err
	}
	if err := r.portalStep(ctx, schemas.StepFileSelected); err != nil {
		return err
	}

	if err := p.Submit(ctx); err != nil {
		return err
	}
	if err := r.portalStep(ctx, schemas.StepFormSubmitted); err != nil {
		return err
	}

	if err := p.AwaitConfirmation(ctx); err != nil {
		return err
	}
	r.snapshot(ctx, "confirmation")
	return r.complete(ctx)
}

// exhausted maps an unusable chain result to the run failure, preferring
// what the probe already learned about the direct path.
func exhausted(result schemas.ConnectivityResult, res engine.Result) error {
	kind := failure.EngineFailure
	switch {
	case result.Reachable && result.ClassifiedBlocked:
		kind = failure.Blocked
	case !result.Reachable:
		kind = failure.NetworkUnreachable
	}
	return failure.Newf(kind, "engine fallback", "all engines exhausted after %d attempts", len(res.Attempts))
}

func probeDetails(r schemas.ConnectivityResult) map[string]any {
	d := map[string]any{
		"reachable":  r.Reachable,
		"blocked":    r.ClassifiedBlocked,
		"latency_ms": r.LatencyMs,
	}
	if r.StatusCode != nil {
		d["status_code"] = *r.StatusCode
	}
	if k := r.Kind(); k != "" {
		d["error_kind"] = string(k)
	}
	return d
}

func chainDetails(res engine.Result) map[string]any {
	attempts := make([]map[string]any, 0, len(res.Attempts))
	for _, a := range res.Attempts {
		m := map[string]any{
			"engine":      string(a.Engine),
			"outcome":     string(a.Outcome),
			"score":       a.Score,
			"duration_ms": a.Duration.Milliseconds(),
		}
		if a.ErrorMessage != "" {
			m["error"] = a.ErrorMessage
		}
		attempts = append(attempts, m)
	}
	d := map[string]any{
		"status":        string(res.Status),
		"authoritative": res.Authoritative,
		"attempts":      attempts,
	}
	if res.Selected != nil {
		d["engine"] = string(res.Selected.Engine)
	}
	return d
}
