package workflow

import (
	"context"
	"io"

	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/engine"
	"github.com/xkilldash9x/portalpilot/internal/engine/adapters"
	"github.com/xkilldash9x/portalpilot/internal/evidence"
	"github.com/xkilldash9x/portalpilot/internal/failure"
	"github.com/xkilldash9x/portalpilot/internal/otp"
	"github.com/xkilldash9x/portalpilot/internal/payload"
	"github.com/xkilldash9x/portalpilot/internal/portal"
	"github.com/xkilldash9x/portalpilot/internal/probe"
	"github.com/xkilldash9x/portalpilot/internal/profile"
	"github.com/xkilldash9x/portalpilot/internal/secrets"
	"github.com/xkilldash9x/portalpilot/internal/store"
)

// DefaultDeps builds the production collaborators from cfg. The OTP console
// reads from in and prompts on out. The returned cleanup releases the event
// store and pooled connections.
func DefaultDeps(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer, logger *zap.Logger) (Deps, func(), error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	secretSource, err := secrets.New(cfg.Secrets)
	if err != nil {
		return Deps{}, cleanup, failure.New(failure.Configuration, "secrets", err)
	}
	otpSource, err := otp.New(cfg.OTP, in, out, logger)
	if err != nil {
		return Deps{}, cleanup, err
	}

	var events EventWriter
	if cfg.Database.URL != "" {
		s, closePool, err := store.Connect(ctx, cfg.Database.URL, logger)
		if err != nil {
			return Deps{}, cleanup, failure.New(failure.Configuration, "event store", err)
		}
		cleanups = append(cleanups, closePool)
		events = s
	} else {
		events = store.NewLogWriter(logger)
	}

	selector := profile.NewSelector(cfg.Selector)
	prober := probe.New(cfg.Probe, cfg.Target.Marker, selector.BaselineHeaders(), logger)

	chain := engine.NewChain(
		adapters.Registry(cfg, logger),
		engine.DefaultScorer(cfg.Engines.MinEvidenceBytes, cfg.Probe.BlockedStatuses),
		cfg.Engines.TimeoutFor,
		logger,
	)

	opener := portal.NewOpener(cfg, logger)
	fetcher := payload.NewFetcher(cfg.Payload, logger)
	cleanups = append(cleanups, fetcher.Close)

	return Deps{
		Prober:   prober,
		Selector: selector,
		Chain:    chain,
		Opener: PortalOpenerFunc(func(ctx context.Context, kind schemas.EngineKind, sp schemas.SessionProfile) (Portal, error) {
			p, err := opener.Open(ctx, kind, sp)
			if err != nil {
				return nil, err
			}
			return p, nil
		}),
		OTP:      otpSource,
		Secrets:  secretSource,
		Evidence: evidence.NewFileStore(cfg.Evidence.Dir, logger),
		Events:   events,
		Payload:  fetcher,
		Logger:   logger,
	}, cleanup, nil
}
