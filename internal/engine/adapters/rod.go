package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/browser"
	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/engine"
)

// statusWait bounds how long the rod adapter waits for the document response
// once the page has loaded.
const statusWait = 2 * time.Second

// Rod loads the target in a Chrome instance driven by go-rod.
type Rod struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewRod creates the secondary driver adapter.
func NewRod(cfg config.BrowserConfig, logger *zap.Logger) *Rod {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rod{cfg: cfg, logger: logger.Named("adapter.rod")}
}

func (a *Rod) Kind() schemas.EngineKind { return schemas.EngineSecondaryDriver }

// Load starts a fresh browser through the rod launcher, navigates, and captures
// the DOM and a screenshot. The browser process is killed on every path.
func (a *Rod) Load(ctx context.Context, profile schemas.SessionProfile, task engine.Task) (*engine.Capture, error) {
	s, err := browser.NewRodSession(ctx, a.cfg, profile, a.logger)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			a.logger.Warn("Closing rod session failed", zap.Error(cerr))
		}
	}()

	page := s.Page().Context(ctx)
	capture := &engine.Capture{Engine: a.Kind()}

	// Subscribe before navigating so the document response is never missed.
	// The status window is bounded by the attempt until the load finishes.
	eventsCtx, stopEvents := context.WithCancel(ctx)
	defer stopEvents()
	waitStatus := page.Context(eventsCtx).EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type == proto.NetworkResourceTypeDocument {
			capture.StatusCode = e.Response.Status
			return true
		}
		return false
	})

	if err := page.Navigate(task.URL); err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}
	timer := time.AfterFunc(statusWait, stopEvents)
	waitStatus()
	timer.Stop()

	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("capture dom: %w", err)
	}
	capture.HTML = truncate([]byte(html))
	if info, err := page.Info(); err == nil {
		capture.FinalURL = info.URL
	}

	shot, err := page.Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	if err != nil {
		a.logger.Debug("Screenshot failed, keeping DOM evidence only", zap.Error(err))
	} else {
		capture.Screenshot = shot
	}
	return capture, nil
}
