package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/network"
)

const startupTimeout = 30 * time.Second

// ChromeSession is one Chrome process driven over CDP by chromedp, configured
// for a session profile. The caller must Close it.
type ChromeSession struct {
	ctx       context.Context
	cancel    context.CancelFunc
	forwarder *network.Forwarder
	logger    *zap.Logger
	closeOnce sync.Once
}

// NewChromeSession launches Chrome and applies the profile. Everything it
// started is released before an error is returned.
func NewChromeSession(ctx context.Context, cfg config.BrowserConfig, profile schemas.SessionProfile, logger *zap.Logger) (*ChromeSession, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("chromedp")

	fwd, proxyAddr, err := StartForwarder(ctx, profile, log)
	if err != nil {
		return nil, err
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(cfg, profile, proxyAddr, log)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) { log.Debug(fmt.Sprintf(format, args...)) }),
		chromedp.WithErrorf(func(format string, args ...any) { log.Debug(fmt.Sprintf(format, args...)) }),
	)

	s := &ChromeSession{
		ctx: browserCtx,
		cancel: func() {
			browserCancel()
			allocCancel()
		},
		forwarder: fwd,
		logger:    log,
	}

	tasks, err := StealthTasks(profile, log)
	if err == nil {
		startCtx, cancel := context.WithTimeout(browserCtx, startupTimeout)
		err = chromedp.Run(startCtx, tasks)
		cancel()
	}
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to start chrome: %w", err), s.Close())
	}

	log.Info("Chrome session started", zap.Bool("via_proxy", proxyAddr != ""))
	return s, nil
}

// AllocatorOptions converts the shared launch flags into chromedp allocator options.
func AllocatorOptions(cfg config.BrowserConfig, profile schemas.SessionProfile, proxyAddr string, logger *zap.Logger) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	flags := LaunchFlags(cfg, profile, proxyAddr)
	for _, name := range flags.Names() {
		opts = append(opts, chromedp.Flag(name, flags[name]))
	}
	if bin, err := FindBinary(cfg.Binary); err == nil {
		opts = append(opts, chromedp.ExecPath(bin))
	} else if cfg.Binary != "" {
		logger.Warn("Configured browser binary not usable, falling back to chromedp lookup", zap.Error(err))
	}
	return opts
}

// Context returns the chromedp context bound to the session's tab. Derive
// per-action timeouts from it; cancelling it directly ends the session.
func (s *ChromeSession) Context() context.Context {
	return s.ctx
}

// Close shuts Chrome down and stops the forwarder. Safe to call more than once.
func (s *ChromeSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		if s.forwarder != nil {
			err = s.forwarder.Close()
		}
		s.logger.Debug("Chrome session closed")
	})
	return err
}

// StartForwarder starts a local forwarder when the profile routes through a
// proxy and returns its address; it returns nothing for a direct route.
func StartForwarder(ctx context.Context, profile schemas.SessionProfile, logger *zap.Logger) (*network.Forwarder, string, error) {
	if !profile.RouteViaProxy || profile.ProxyEndpoint == nil {
		return nil, "", nil
	}
	fwd := network.NewForwarder(*profile.ProxyEndpoint, ExtraHeaders(profile), logger)
	addr, err := fwd.Start(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("starting proxy forwarder: %w", err)
	}
	return fwd, addr, nil
}
