package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/network"
)

// RodSession is one Chrome process driven by go-rod with a single page that
// already presents the session profile. The caller must Close it.
type RodSession struct {
	launcher  *launcher.Launcher
	browser   *rod.Browser
	page      *rod.Page
	forwarder *network.Forwarder
	logger    *zap.Logger
	closeOnce sync.Once
}

// NewRodSession launches Chrome through the rod launcher and opens a page.
// Everything it started is released before an error is returned.
func NewRodSession(ctx context.Context, cfg config.BrowserConfig, profile schemas.SessionProfile, logger *zap.Logger) (*RodSession, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &RodSession{logger: logger.Named("rod")}

	fwd, proxyAddr, err := StartForwarder(ctx, profile, s.logger)
	if err != nil {
		return nil, err
	}
	s.forwarder = fwd

	l := NewLauncher(ctx, cfg, profile, proxyAddr, s.logger)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("launch chrome: %w", err), s.Close())
	}
	// Only a launched process may be killed and cleaned up; Cleanup blocks
	// until the process exits.
	s.launcher = l

	s.browser = rod.New().ControlURL(controlURL).Context(ctx)
	if err := s.browser.Connect(); err != nil {
		s.browser = nil
		return nil, errors.Join(fmt.Errorf("connect to chrome: %w", err), s.Close())
	}

	s.page, err = s.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create page: %w", err), s.Close())
	}
	if err := applyRodProfile(s.page, cfg, profile); err != nil {
		return nil, errors.Join(err, s.Close())
	}

	s.logger.Info("Rod session started", zap.Bool("via_proxy", proxyAddr != ""))
	return s, nil
}

// NewLauncher configures a rod launcher with the shared launch flags.
func NewLauncher(ctx context.Context, cfg config.BrowserConfig, profile schemas.SessionProfile, proxyAddr string, logger *zap.Logger) *launcher.Launcher {
	l := launcher.New().Context(ctx).Headless(cfg.Headless)
	if bin, err := FindBinary(cfg.Binary); err == nil {
		l = l.Bin(bin)
	} else if path, ok := launcher.LookPath(); ok {
		l = l.Bin(path)
	} else {
		logger.Warn("No local browser found, rod will download one", zap.Error(err))
	}

	launchFlags := LaunchFlags(cfg, profile, proxyAddr)
	for _, name := range launchFlags.Names() {
		if name == "headless" {
			continue
		}
		switch v := launchFlags[name].(type) {
		case bool:
			if v {
				l = l.Set(flags.Flag(name))
			} else {
				l = l.Delete(flags.Flag(name))
			}
		default:
			l = l.Set(flags.Flag(name), fmt.Sprint(v))
		}
	}
	return l
}

func applyRodProfile(page *rod.Page, cfg config.BrowserConfig, profile schemas.SessionProfile) error {
	if ua := profile.UserAgent(); ua != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
			UserAgent:      ua,
			AcceptLanguage: profile.AcceptLanguage(),
			Platform:       profile.Platform,
		}); err != nil {
			return fmt.Errorf("set user agent: %w", err)
		}
	}

	script, err := EvasionsScript(profile)
	if err != nil {
		return err
	}
	if _, err := page.EvalOnNewDocument(script); err != nil {
		return fmt.Errorf("failed to inject evasions script: %w", err)
	}

	if tz := profile.Locale.Timezone; tz != "" {
		if err := (proto.EmulationSetTimezoneOverride{TimezoneID: tz}).Call(page); err != nil {
			return fmt.Errorf("set timezone: %w", err)
		}
	}
	if loc := profile.Locale.Locale; loc != "" {
		if err := (proto.EmulationSetLocaleOverride{Locale: loc}).Call(page); err != nil {
			return fmt.Errorf("set locale: %w", err)
		}
	}

	headers := ExtraHeaders(profile)
	if len(headers) > 0 {
		dict := make([]string, 0, len(headers)*2)
		for k, v := range headers {
			dict = append(dict, k, v)
		}
		if _, err := page.SetExtraHeaders(dict); err != nil {
			return fmt.Errorf("set extra headers: %w", err)
		}
	}

	w, h := cfg.ViewportSize()
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             w,
		Height:            h,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	return nil
}

// Page returns the session's page.
func (s *RodSession) Page() *rod.Page {
	return s.page
}

// Close closes the browser, kills the process, removes its profile directory
// and stops the forwarder. Safe to call more than once.
func (s *RodSession) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close browser: %w", err))
			}
		}
		if s.launcher != nil {
			s.launcher.Kill()
			s.launcher.Cleanup()
		}
		if s.forwarder != nil {
			if err := s.forwarder.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.logger.Debug("Rod session closed")
	})
	return errors.Join(errs...)
}
