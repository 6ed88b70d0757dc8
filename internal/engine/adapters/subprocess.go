package adapters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/browser"
	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/engine"
)

const (
	// processWaitDelay is how long a cancelled browser may hold its output
	// pipes open after being killed.
	processWaitDelay = 2 * time.Second
	// virtualTimeBudget lets page scripts run before the DOM is dumped.
	virtualTimeBudget = "5000"
	maxStderrBytes    = 8 << 10
)

// Subprocess runs the browser binary directly in headless mode, once to dump
// the DOM and once, concurrently, to take a screenshot.
type Subprocess struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
}

// NewSubprocess creates the subprocess browser adapter.
func NewSubprocess(cfg config.BrowserConfig, logger *zap.Logger) *Subprocess {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Subprocess{cfg: cfg, logger: logger.Named("adapter.subprocess")}
}

func (a *Subprocess) Kind() schemas.EngineKind { return schemas.EngineSubprocessBrowser }

// Load invokes the browser binary. Each process runs in its own process
// group which is killed when ctx ends or the process exits, so no renderer
// outlives the attempt.
func (a *Subprocess) Load(ctx context.Context, profile schemas.SessionProfile, task engine.Task) (*engine.Capture, error) {
	bin, err := browser.FindBinary(a.cfg.Binary)
	if err != nil {
		return nil, err
	}

	fwd, proxyAddr, err := browser.StartForwarder(ctx, profile, a.logger)
	if err != nil {
		return nil, err
	}
	if fwd != nil {
		defer fwd.Close()
	}

	workDir, err := os.MkdirTemp("", "portalpilot-subprocess-*")
	if err != nil {
		return nil, fmt.Errorf("creating browser work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	base := browser.LaunchFlags(a.cfg, profile, proxyAddr)
	// Dumping and screenshots only work headless.
	base["headless"] = true
	base["virtual-time-budget"] = virtualTimeBudget
	shotPath := filepath.Join(workDir, "screenshot.png")

	capture := &engine.Capture{Engine: a.Kind(), FinalURL: task.URL}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		flags := cloneFlags(base)
		flags["user-data-dir"] = filepath.Join(workDir, "dump-profile")
		flags["dump-dom"] = true
		out, err := a.run(gctx, bin, append(flags.Args(), task.URL))
		if err != nil {
			return fmt.Errorf("dump dom: %w", err)
		}
		capture.HTML = out
		return nil
	})
	g.Go(func() error {
		flags := cloneFlags(base)
		flags["user-data-dir"] = filepath.Join(workDir, "shot-profile")
		flags["screenshot"] = shotPath
		if _, err := a.run(gctx, bin, append(flags.Args(), task.URL)); err != nil {
			a.logger.Debug("Screenshot process failed", zap.Error(err))
			return nil
		}
		if shot, err := os.ReadFile(shotPath); err == nil {
			capture.Screenshot = shot
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return capture, nil
}

// run executes the binary and returns its stdout, capped at maxEvidenceBytes.
func (a *Subprocess) run(ctx context.Context, bin string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	configureProcessGroup(cmd)
	cmd.WaitDelay = processWaitDelay

	stdout := &cappedBuffer{max: maxEvidenceBytes}
	stderr := &cappedBuffer{max: maxStderrBytes}
	cmd.Stdout, cmd.Stderr = stdout, stderr

	a.logger.Debug("Starting browser process", zap.String("binary", bin), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", filepath.Base(bin), err)
	}
	err := cmd.Wait()
	killProcessGroup(cmd)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("browser process killed: %w", ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, lastLine(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

func cloneFlags(f browser.Flags) browser.Flags {
	out := make(browser.Flags, len(f)+2)
	for k, v := range f {
		out[k] = v
	}
	return out
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
