package portal

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/browser"
	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/failure"
)

// Opener starts a browser of the engine the fallback chain selected and wraps
// it in a Portal.
type Opener struct {
	browser config.BrowserConfig
	portal  config.PortalConfig
	target  string
	logger  *zap.Logger
}

// NewOpener creates an Opener for the configured target.
func NewOpener(cfg *config.Config, logger *zap.Logger) *Opener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Opener{browser: cfg.Browser, portal: cfg.Portal, target: cfg.Target.URL, logger: logger}
}

// Open launches the driver for kind. Engines that cannot fill forms only prove
// the route works, so the portal is then driven by chromedp on the same profile.
// ctx bounds the browser's whole lifetime, not just the launch.
func (o *Opener) Open(ctx context.Context, kind schemas.EngineKind, profile schemas.SessionProfile) (*Portal, error) {
	var (
		page Page
		err  error
	)
	switch kind {
	case schemas.EngineSecondaryDriver:
		var s *browser.RodSession
		if s, err = browser.NewRodSession(ctx, o.browser, profile, o.logger); err == nil {
			page = NewRodPage(s)
		}
	default:
		if !kind.Interactive() {
			o.logger.Warn("Selected engine cannot drive forms, using the primary driver for the portal",
				zap.String("engine", string(kind)))
		}
		var s *browser.ChromeSession
		if s, err = browser.NewChromeSession(ctx, o.browser, profile, o.logger); err == nil {
			page = NewChromedpPage(s)
		}
	}
	if err != nil {
		return nil, failure.New(failure.EngineFailure, "open portal", err)
	}

	p, err := New(page, o.target, o.portal, o.logger)
	if err != nil {
		_ = page.Close()
		return nil, err
	}
	return p, nil
}
