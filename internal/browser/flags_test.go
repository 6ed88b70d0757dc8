package browser

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/config"
)

func testProfile() schemas.SessionProfile {
	return schemas.SessionProfile{
		RouteViaProxy: true,
		ProxyEndpoint: &schemas.ProxyEndpoint{Host: "proxy.example.net", Port: 8080, Username: "u", Password: "p"},
		IdentityHeaders: map[string]string{
			"User-Agent":      "Mozilla/5.0 Test",
			"Accept":          "text/html",
			"Accept-Language": "en-GB,en;q=0.9",
			"Sec-CH-UA":       `"Chromium";v="126"`,
		},
		Platform: "Win32",
		Locale:   schemas.LocaleHints{Region: "GB", Locale: "en-GB", Languages: []string{"en-GB", "en"}, Timezone: "Europe/London"},
	}
}

func TestLaunchFlags(t *testing.T) {
	cfg := config.BrowserConfig{
		Headless: true,
		Args:     []string{"--disable-extensions=false", "--remote-debugging-address=127.0.0.1", "--foo", "--"},
	}

	f := LaunchFlags(cfg, testProfile(), "127.0.0.1:40000")

	assert.Equal(t, true, f["headless"])
	assert.Equal(t, false, f["enable-automation"])
	assert.Equal(t, "AutomationControlled", f["disable-blink-features"])
	assert.Equal(t, "Mozilla/5.0 Test", f["user-agent"])
	assert.Equal(t, "en-GB", f["lang"])
	assert.Equal(t, "http://127.0.0.1:40000", f["proxy-server"])
	assert.Equal(t, "1366,900", f["window-size"])
	assert.Equal(t, "false", f["disable-extensions"], "config args override defaults")
	assert.Equal(t, "127.0.0.1", f["remote-debugging-address"])
	assert.Equal(t, true, f["foo"])
	assert.NotContains(t, f, "")
	assert.NotContains(t, f, "ignore-certificate-errors")
	if runtime.GOOS == "linux" {
		assert.Equal(t, true, f["no-sandbox"])
	}
}

func TestLaunchFlagsDirect(t *testing.T) {
	f := LaunchFlags(config.BrowserConfig{IgnoreTLSErrors: true}, schemas.SessionProfile{}, "")
	assert.NotContains(t, f, "proxy-server")
	assert.NotContains(t, f, "user-agent")
	assert.Equal(t, false, f["headless"])
	assert.Equal(t, true, f["ignore-certificate-errors"])
}

func TestFlagsArgs(t *testing.T) {
	f := Flags{"b-switch": true, "a-value": "x y", "c-off": false, "d-num": 3}
	assert.Equal(t, []string{"--a-value=x y", "--b-switch", "--d-num=3"}, f.Args())
	require.Equal(t, []string{"a-value", "b-switch", "c-off", "d-num"}, f.Names())
}
