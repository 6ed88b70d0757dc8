package browser

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/config"
)

func requireChrome(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	if _, err := FindBinary(""); err != nil {
		t.Skip("no chrome binary available")
	}
}

func TestChromeSessionLifecycle(t *testing.T) {
	requireChrome(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	profile := testProfile()
	profile.RouteViaProxy = false
	profile.ProxyEndpoint = nil

	s, err := NewChromeSession(ctx, config.BrowserConfig{Headless: true}, profile, zaptest.NewLogger(t))
	require.NoError(t, err)

	var ua string
	require.NoError(t, chromedp.Run(s.Context(), chromedp.Evaluate(`navigator.userAgent`, &ua)))
	assert.Equal(t, profile.UserAgent(), ua)

	var webdriver bool
	require.NoError(t, chromedp.Run(s.Context(),
		chromedp.Navigate("about:blank"),
		chromedp.Evaluate(`navigator.webdriver === true`, &webdriver)))
	assert.False(t, webdriver)

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}

func TestRodSessionLifecycle(t *testing.T) {
	requireChrome(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := NewRodSession(ctx, config.BrowserConfig{Headless: true}, schemas.SessionProfile{
		IdentityHeaders: map[string]string{"User-Agent": "Mozilla/5.0 RodTest"},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := s.Page().Eval(`() => navigator.userAgent`)
	require.NoError(t, err)
	assert.Equal(t, "Mozilla/5.0 RodTest", res.Value.Str())

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
