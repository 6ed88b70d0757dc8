// Package otp obtains the one-time passcode from an operator, either typed at
// the console or appended to a handoff file.
package otp

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/failure"
)

const op = "await otp"

// Source blocks until a well formed code is available or ctx ends. A ctx that
// ends first yields an OTPTimeout failure.
type Source interface {
	AwaitOTP(ctx context.Context) (string, error)
}

// New builds the source selected by cfg.Mode. Console prompts are written to
// out and answers read from in.
func New(cfg config.OTPConfig, in io.Reader, out io.Writer, logger *zap.Logger) (Source, error) {
	pattern, err := compilePattern(cfg.Pattern)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(cfg.Mode) {
	case config.OTPModeFile:
		return NewFileSource(cfg.HandoffFile, pattern, logger), nil
	case config.OTPModeConsole, "":
		return NewConsoleSource(in, out, pattern), nil
	}
	return nil, failure.Newf(failure.Configuration, "otp", "unknown otp mode %q", cfg.Mode)
}

func compilePattern(expr string) (*regexp.Regexp, error) {
	if expr == "" {
		expr = `^[0-9]{4,10}$`
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, failure.New(failure.Configuration, "otp", fmt.Errorf("invalid otp.pattern: %w", err))
	}
	return re, nil
}

func timeout(ctx context.Context) error {
	return failure.New(failure.OTPTimeout, op, ctx.Err())
}
