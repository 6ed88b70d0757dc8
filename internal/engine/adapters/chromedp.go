package adapters

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/browser"
	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/engine"
)

// Chromedp loads the target in a Chrome instance driven by chromedp.
type Chromedp struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewChromedp creates the primary driver adapter.
func NewChromedp(cfg config.BrowserConfig, logger *zap.Logger) *Chromedp {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chromedp{cfg: cfg, logger: logger.Named("adapter.chromedp")}
}

func (a *Chromedp) Kind() schemas.EngineKind { return schemas.EnginePrimaryDriver }

// Load starts a fresh browser, navigates, and captures the DOM and a
// screenshot. The browser is closed on every path.
func (a *Chromedp) Load(ctx context.Context, profile schemas.SessionProfile, task engine.Task) (*engine.Capture, error) {
	s, err := browser.NewChromeSession(ctx, a.cfg, profile, a.logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			a.logger.Warn("Closing chrome session failed", zap.Error(cerr))
		}
	}()

	resp, err := chromedp.RunResponse(s.Context(), chromedp.Navigate(task.URL))
	if err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}

	capture := &engine.Capture{Engine: a.Kind()}
	if resp != nil {
		capture.StatusCode = int(resp.Status)
	}

	var html string
	if err := chromedp.Run(s.Context(),
		chromedp.Location(&capture.FinalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("capture dom: %w", err)
	}
	capture.HTML = truncate([]byte(html))

	if err := chromedp.Run(s.Context(), chromedp.FullScreenshot(&capture.Screenshot, 80)); err != nil {
		a.logger.Debug("Screenshot failed, keeping DOM evidence only", zap.Error(err))
	}
	return capture, nil
}

func truncate(b []byte) []byte {
	if len(b) > maxEvidenceBytes {
		return b[:maxEvidenceBytes]
	}
	return b
}
