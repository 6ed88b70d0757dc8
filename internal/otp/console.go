package otp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/xkilldash9x/portalpilot/internal/failure"
)

// ConsoleSource asks an operator for the code.
type ConsoleSource struct {
	in      io.Reader
	out     io.Writer
	pattern *regexp.Regexp
}

// NewConsoleSource creates a console source. Input that does not match
// pattern is rejected locally and the operator is asked again; nothing is
// sent to the portal until a well formed code arrives.
func NewConsoleSource(in io.Reader, out io.Writer, pattern *regexp.Regexp) *ConsoleSource {
	return &ConsoleSource{in: in, out: out, pattern: pattern}
}

// AwaitOTP prompts and reads lines until one matches. A read blocked on the
// terminal cannot be interrupted, so when ctx ends first the reader goroutine
// stays parked until the next line or EOF.
func (s *ConsoleSource) AwaitOTP(ctx context.Context) (string, error) {
	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	go func() {
		sc := bufio.NewScanner(s.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		err := sc.Err()
		if err == nil {
			err = io.EOF
		}
		readErr <- err
	}()

	fmt.Fprint(s.out, "Enter the one-time passcode: ")
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return "", timeout(ctx)
		case err := <-readErr:
			return "", failure.New(failure.OTPTimeout, op, fmt.Errorf("console closed before a code was entered: %w", err))
		case line := <-lines:
			code := strings.TrimSpace(line)
			if s.pattern.MatchString(code) {
				return code, nil
			}
			fmt.Fprint(s.out, "That does not look like a passcode, enter it again: ")
		}
	}
}
