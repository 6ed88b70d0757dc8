package portal

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/failure"
)

const (
	defaultStepTimeout  = 45 * time.Second
	defaultPollInterval = 500 * time.Millisecond
)

// Portal drives the target site's login, OTP and upload forms through a Page,
// using the selectors and markers from configuration.
type Portal struct {
	page   Page
	cfg    config.PortalConfig
	base   *url.URL
	logger *zap.Logger
}

// New creates a Portal over page for the site at targetURL. The portal owns
// the page and closes it in Close.
func New(page Page, targetURL string, cfg config.PortalConfig, logger *zap.Logger) (*Portal, error) {
	base, err := url.Parse(targetURL)
	if err != nil || base.Host == "" {
		return nil, failure.Newf(failure.Configuration, "portal", "invalid target url %q", targetURL)
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = defaultStepTimeout
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = cfg.StepTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Portal{page: page, cfg: cfg, base: base, logger: logger.Named("portal")}, nil
}

// Login submits the credentials and waits for the OTP prompt. A configured
// failure marker on the page ends the wait with CredentialRejected.
func (p *Portal) Login(ctx context.Context, username, password string) error {
	const op = "login"
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()

	if err := p.page.Navigate(ctx, p.resolve(p.cfg.LoginPath)); err != nil {
		return failure.New(failure.EngineFailure, op, fmt.Errorf("open login page: %w", err))
	}
	if err := p.page.Fill(ctx, p.cfg.UsernameSelector, username); err != nil {
		return failure.New(failure.EngineFailure, op, fmt.Errorf("fill username: %w", err))
	}
	if err := p.page.Fill(ctx, p.cfg.PasswordSelector, password); err != nil {
		return failure.New(failure.EngineFailure, op, fmt.Errorf("fill password: %w", err))
	}
	if err := p.page.Click(ctx, p.cfg.LoginSubmitSelector); err != nil {
		return failure.New(failure.EngineFailure, op, fmt.Errorf("submit login: %w", err))
	}

	err := p.poll(ctx, func(ctx context.Context) (bool, error) {
		if marker, found := p.findMarker(ctx, p.cfg.LoginFailureMarkers); found {
			return false, failure.Newf(failure.CredentialRejected, op, "portal reported %q", marker)
		}
		return p.exists(ctx, p.cfg.OTPSelector), nil
	})
	if err != nil {
		return stepError(op, err, "no OTP prompt after login")
	}
	p.logger.Info("Logged in, OTP prompt shown")
	return nil
}

// SubmitOTP enters the code once. The code is never retried: a failure
// marker, or no sign of acceptance within the step timeout, is OTPInvalid.
func (p *Portal) SubmitOTP(ctx context.Context, code string) error {
	const op = "submit otp"
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()

	if err := p.page.Fill(ctx, p.cfg.OTPSelector, code); err != nil {
		return failure.New(failure.EngineFailure, op, fmt.Errorf("fill code: %w", err))
	}
	if err := p.page.Click(ctx, p.cfg.OTPSubmitSelector); err != nil {
		return failure.New(failure.EngineFailure, op, fmt.Errorf("submit code: %w", err))
	}

	err := p.poll(ctx, func(ctx context.Context) (bool, error) {
		if marker, found := p.findMarker(ctx, p.cfg.OTPFailureMarkers); found {
			return false, failure.Newf(failure.OTPInvalid, op, "portal reported %q", marker)
		}
		if p.cfg.OTPSuccessSelector != "" {
			return p.exists(ctx, p.cfg.OTPSuccessSelector), nil
		}
		// Without a success selector the prompt going away counts as acceptance.
		present, err := p.page.Exists(ctx, p.cfg.OTPSelector)
		return err == nil && !present, nil
	})
	if err != nil {
		var fe *failure.Error
		if errors.As(err, &fe) {
			return err
		}
		return failure.New(failure.OTPInvalid, op, fmt.Errorf("code not accepted: %w", err))
	}
	p.logger.Info("OTP accepted")
	return nil
}

// SelectFile opens the upload form when one is configured and attaches path.
func (p *Portal) SelectFile(ctx context.Context, path string) error {
	const op = "select file"
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()

	if p.cfg.UploadPath != "" {
		if err := p.page.Navigate(ctx, p.resolve(p.cfg.UploadPath)); err != nil {
			return failure.New(failure.EngineFailure, op, fmt.Errorf("open upload page: %w", err))
		}
	}
	if err := p.page.SetFiles(ctx, p.cfg.FileInputSelector, []string{path}); err != nil {
		return failure.New(failure.EngineFailure, op, fmt.Errorf("attach file: %w", err))
	}
	return nil
}

// Submit sends the upload form.
func (p *Portal) Submit(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()
	if err := p.page.Click(ctx, p.cfg.SubmitSelector); err != nil {
		return failure.New(failure.EngineFailure, "submit form", err)
	}
	return nil
}

// AwaitConfirmation waits for the confirmation marker after submission.
func (p *Portal) AwaitConfirmation(ctx context.Context) error {
	const op = "await confirmation"
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmationTimeout)
	defer cancel()

	err := p.poll(ctx, func(ctx context.Context) (bool, error) {
		_, found := p.findMarker(ctx, []string{p.cfg.ConfirmationMarker})
		return found, nil
	})
	if err != nil {
		return stepError(op, err, "confirmation not shown")
	}
	p.logger.Info("Submission confirmed")
	return nil
}

// Snapshot captures the current page for evidence.
func (p *Portal) Snapshot(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StepTimeout)
	defer cancel()
	return p.page.Screenshot(ctx)
}

// Close releases the page and its browser.
func (p *Portal) Close() error {
	return p.page.Close()
}

// poll runs check at the configured interval until it reports done, returns
// an error, or ctx ends. Page errors inside check are treated as not done.
func (p *Portal) poll(ctx context.Context, check func(ctx context.Context) (bool, error)) error {
	limiter := rate.NewLimiter(rate.Every(p.cfg.PollInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The limiter refuses to wait past the deadline.
			return context.DeadlineExceeded
		}
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (p *Portal) exists(ctx context.Context, selector string) bool {
	if selector == "" {
		return false
	}
	ok, err := p.page.Exists(ctx, selector)
	if err != nil {
		p.logger.Debug("Element check failed", zap.String("selector", selector), zap.Error(err))
	}
	return ok
}

// findMarker reports the first marker contained in the page text, ignoring case.
func (p *Portal) findMarker(ctx context.Context, markers []string) (string, bool) {
	if len(markers) == 0 {
		return "", false
	}
	text, err := p.page.Text(ctx)
	if err != nil {
		p.logger.Debug("Reading page text failed", zap.Error(err))
		return "", false
	}
	text = strings.ToLower(text)
	for _, m := range markers {
		if m != "" && strings.Contains(text, strings.ToLower(m)) {
			return m, true
		}
	}
	return "", false
}

func (p *Portal) resolve(path string) string {
	if path == "" {
		return p.base.String()
	}
	ref, err := url.Parse(path)
	if err != nil {
		return p.base.String()
	}
	return p.base.ResolveReference(ref).String()
}

// stepError keeps a failure kind raised inside a poll and reports anything
// else, usually a timeout, as an engine failure.
func stepError(op string, err error, msg string) error {
	var fe *failure.Error
	if errors.As(err, &fe) {
		return err
	}
	return failure.New(failure.EngineFailure, op, fmt.Errorf("%s: %w", msg, err))
}
