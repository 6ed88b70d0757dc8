package portal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/failure"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakePage records every call and answers from test supplied functions.
type fakePage struct {
	mu     sync.Mutex
	calls  []string
	files  []string
	text   func() string
	exists func(selector string) bool
	errs   map[string]error
	closed bool
}

func (f *fakePage) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.errs[call]
}

func (f *fakePage) Navigate(_ context.Context, url string) error {
	return f.record("navigate " + url)
}

func (f *fakePage) Fill(_ context.Context, selector, _ string) error {
	return f.record("fill " + selector)
}

func (f *fakePage) Click(_ context.Context, selector string) error {
	return f.record("click " + selector)
}

func (f *fakePage) SetFiles(_ context.Context, selector string, paths []string) error {
	f.mu.Lock()
	f.files = append(f.files, paths...)
	f.mu.Unlock()
	return f.record("files " + selector)
}

func (f *fakePage) Exists(_ context.Context, selector string) (bool, error) {
	if f.exists == nil {
		return false, nil
	}
	return f.exists(selector), nil
}

func (f *fakePage) Text(context.Context) (string, error) {
	if f.text == nil {
		return "", nil
	}
	return f.text(), nil
}

func (f *fakePage) Screenshot(context.Context) ([]byte, error) {
	return []byte("png"), nil
}

func (f *fakePage) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePage) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func testPortalConfig() config.PortalConfig {
	cfg := config.NewDefaultConfig().Portal
	cfg.StepTimeout = 200 * time.Millisecond
	cfg.ConfirmationTimeout = 200 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	cfg.UploadPath = "/documents/upload"
	return cfg
}

func newTestPortal(t *testing.T, page *fakePage) *Portal {
	p, err := New(page, "https://portal.example.com/app/", testPortalConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return p
}

func TestLoginReachesOTPPrompt(t *testing.T) {
	cfg := testPortalConfig()
	page := &fakePage{exists: func(sel string) bool { return sel == cfg.OTPSelector }}

	require.NoError(t, newTestPortal(t, page).Login(context.Background(), "alice", "secret"))

	assert.Equal(t, []string{
		"navigate https://portal.example.com/login",
		"fill " + cfg.UsernameSelector,
		"fill " + cfg.PasswordSelector,
		"click " + cfg.LoginSubmitSelector,
	}, page.recorded())
}

func TestLoginRejected(t *testing.T) {
	page := &fakePage{text: func() string { return "Error: Invalid Credentials. Try again." }}

	err := newTestPortal(t, page).Login(context.Background(), "alice", "wrong")

	require.Error(t, err)
	assert.Equal(t, failure.CredentialRejected, failure.KindOf(err))
	assert.ErrorIs(t, err, failure.Sentinel(failure.CredentialRejected))
}

func TestLoginTimesOutWithoutPrompt(t *testing.T) {
	err := newTestPortal(t, &fakePage{}).Login(context.Background(), "alice", "secret")

	require.Error(t, err)
	assert.Equal(t, failure.EngineFailure, failure.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoginPageError(t *testing.T) {
	cfg := testPortalConfig()
	page := &fakePage{errs: map[string]error{"fill " + cfg.UsernameSelector: errors.New("no such element")}}

	err := newTestPortal(t, page).Login(context.Background(), "alice", "secret")
	assert.Equal(t, failure.EngineFailure, failure.KindOf(err))
	assert.Contains(t, err.Error(), "fill username")
}

func TestSubmitOTPAcceptedWhenPromptDisappears(t *testing.T) {
	page := &fakePage{exists: func(string) bool { return false }}
	require.NoError(t, newTestPortal(t, page).SubmitOTP(context.Background(), "123456"))
}

func TestSubmitOTPAcceptedBySuccessSelector(t *testing.T) {
	page := &fakePage{exists: func(sel string) bool { return true }}
	p := newTestPortal(t, page)
	p.cfg.OTPSuccessSelector = "#dashboard"
	require.NoError(t, p.SubmitOTP(context.Background(), "123456"))
}

func TestSubmitOTPIsSingleShot(t *testing.T) {
	cfg := testPortalConfig()
	page := &fakePage{
		exists: func(sel string) bool { return sel == cfg.OTPSelector },
		text:   func() string { return "The code has expired." },
	}

	err := newTestPortal(t, page).SubmitOTP(context.Background(), "123456")

	require.Error(t, err)
	assert.Equal(t, failure.OTPInvalid, failure.KindOf(err))
	fills := 0
	for _, c := range page.recorded() {
		if c == "fill "+cfg.OTPSelector {
			fills++
		}
	}
	assert.Equal(t, 1, fills)
}

func TestSubmitOTPNoAcceptanceIsInvalid(t *testing.T) {
	cfg := testPortalConfig()
	page := &fakePage{exists: func(sel string) bool { return sel == cfg.OTPSelector }}

	err := newTestPortal(t, page).SubmitOTP(context.Background(), "123456")
	assert.Equal(t, failure.OTPInvalid, failure.KindOf(err))
}

func TestSelectFileAndSubmit(t *testing.T) {
	cfg := testPortalConfig()
	page := &fakePage{}
	p := newTestPortal(t, page)

	require.NoError(t, p.SelectFile(context.Background(), "/tmp/report.csv"))
	require.NoError(t, p.Submit(context.Background()))

	assert.Equal(t, []string{
		"navigate https://portal.example.com/documents/upload",
		"files " + cfg.FileInputSelector,
		"click " + cfg.SubmitSelector,
	}, page.recorded())
	assert.Equal(t, []string{"/tmp/report.csv"}, page.files)
}

func TestAwaitConfirmation(t *testing.T) {
	var mu sync.Mutex
	polls := 0
	page := &fakePage{text: func() string {
		mu.Lock()
		defer mu.Unlock()
		polls++
		if polls < 3 {
			return "Uploading..."
		}
		return "File uploaded SUCCESSFULLY"
	}}

	require.NoError(t, newTestPortal(t, page).AwaitConfirmation(context.Background()))
	assert.GreaterOrEqual(t, polls, 3)
}

func TestAwaitConfirmationTimeout(t *testing.T) {
	err := newTestPortal(t, &fakePage{text: func() string { return "Uploading..." }}).AwaitConfirmation(context.Background())
	assert.Equal(t, failure.EngineFailure, failure.KindOf(err))
}

func TestSnapshotAndClose(t *testing.T) {
	page := &fakePage{}
	p := newTestPortal(t, page)
	shot, err := p.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), shot)
	require.NoError(t, p.Close())
	assert.True(t, page.closed)
}

func TestNewRejectsBadTarget(t *testing.T) {
	_, err := New(&fakePage{}, "not a url", testPortalConfig(), nil)
	assert.Equal(t, failure.Configuration, failure.KindOf(err))
}

func TestResolve(t *testing.T) {
	p := newTestPortal(t, &fakePage{})
	assert.Equal(t, "https://portal.example.com/login", p.resolve("/login"))
	assert.Equal(t, "https://portal.example.com/app/upload", p.resolve("upload"))
	assert.Equal(t, "https://portal.example.com/app/", p.resolve(""))
}
