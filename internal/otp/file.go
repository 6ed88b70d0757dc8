package otp

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/hpcloud/tail"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/internal/failure"
)

// FileSource follows a handoff file and takes the first new line that looks
// like a code. Lines already in the file when the wait starts are ignored so
// a stale code from an earlier run is never reused.
type FileSource struct {
	path    string
	pattern *regexp.Regexp
	logger  *zap.Logger
}

// NewFileSource creates a handoff file source. The file need not exist yet.
func NewFileSource(path string, pattern *regexp.Regexp, logger *zap.Logger) *FileSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSource{path: path, pattern: pattern, logger: logger.Named("otp_file")}
}

// AwaitOTP tails the file until a matching line is appended or ctx ends.
func (s *FileSource) AwaitOTP(ctx context.Context) (string, error) {
	t, err := tail.TailFile(s.path, tail.Config{
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		ReOpen:    true,
		MustExist: false,
		Poll:      true,
		Follow:    true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return "", failure.New(failure.OTPTimeout, op, fmt.Errorf("tail %s: %w", s.path, err))
	}
	defer func() {
		if err := t.Stop(); err != nil {
			s.logger.Debug("Stopping tail returned an error", zap.Error(err))
		}
		t.Cleanup()
	}()

	s.logger.Info("Waiting for a passcode in the handoff file", zap.String("path", s.path))
	for {
		select {
		case <-ctx.Done():
			return "", timeout(ctx)
		case line, ok := <-t.Lines:
			if !ok {
				return "", failure.New(failure.OTPTimeout, op, fmt.Errorf("handoff file closed: %w", t.Err()))
			}
			if line.Err != nil {
				s.logger.Debug("Tail reported an error", zap.Error(line.Err))
				continue
			}
			code := strings.TrimSpace(line.Text)
			if s.pattern.MatchString(code) {
				return code, nil
			}
			if code != "" {
				s.logger.Debug("Ignoring handoff line that is not a passcode")
			}
		}
	}
}
