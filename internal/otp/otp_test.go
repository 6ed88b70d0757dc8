package otp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/failure"
)

var digits = regexp.MustCompile(`^[0-9]{6}$`)

func TestNewSelectsSource(t *testing.T) {
	src, err := New(config.OTPConfig{Mode: "FILE", HandoffFile: "/tmp/otp"}, nil, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &FileSource{}, src)

	src, err = New(config.OTPConfig{Mode: "console"}, strings.NewReader(""), io.Discard, nil)
	require.NoError(t, err)
	assert.IsType(t, &ConsoleSource{}, src)

	_, err = New(config.OTPConfig{Mode: "sms"}, nil, nil, nil)
	assert.Equal(t, failure.Configuration, failure.KindOf(err))

	_, err = New(config.OTPConfig{Mode: "console", Pattern: "("}, nil, nil, nil)
	assert.Equal(t, failure.Configuration, failure.KindOf(err))
}

func TestConsoleSourceValidatesInput(t *testing.T) {
	var out bytes.Buffer
	src := NewConsoleSource(strings.NewReader("hello\n 12ab\n  654321 \n999999\n"), &out, digits)

	code, err := src.AwaitOTP(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "654321", code)
	assert.Equal(t, 2, strings.Count(out.String(), "enter it again"))
}

func TestConsoleSourceEOF(t *testing.T) {
	_, err := NewConsoleSource(strings.NewReader("nope\n"), io.Discard, digits).AwaitOTP(context.Background())
	require.Error(t, err)
	assert.Equal(t, failure.OTPTimeout, failure.KindOf(err))
}

func TestConsoleSourceTimeout(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewConsoleSource(r, io.Discard, digits).AwaitOTP(ctx)

	require.Error(t, err)
	assert.Equal(t, failure.OTPTimeout, failure.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFileSourceReadsAppendedCode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "otp.txt")
	require.NoError(t, os.WriteFile(path, []byte("111111\n"), 0o600))
	src := NewFileSource(path, digits, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	type result struct {
		code string
		err  error
	}
	got := make(chan result, 1)
	go func() {
		code, err := src.AwaitOTP(ctx)
		got <- result{code, err}
	}()

	// Keep appending until the follower, which starts at the end of the file,
	// has picked a line up.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	defer f.Close()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case r := <-got:
			require.NoError(t, r.err)
			assert.Equal(t, "246810", r.code, "the stale code written before the wait must be skipped")
			return
		case <-ticker.C:
			_, err := fmt.Fprintln(f, "not a code\n246810")
			require.NoError(t, err)
		case <-ctx.Done():
			t.Fatal("no code read from handoff file")
		}
	}
}

func TestFileSourceTimeout(t *testing.T) {
	src := NewFileSource(filepath.Join(t.TempDir(), "missing.txt"), digits, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := src.AwaitOTP(ctx)
	require.Error(t, err)
	assert.Equal(t, failure.OTPTimeout, failure.KindOf(err))
}
