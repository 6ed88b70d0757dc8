package browser

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/config"
)

// Flags are Chrome command-line switches keyed by name without leading dashes.
// A true value is a bare switch, false removes the switch, a string is its value.
type Flags map[string]any

// LaunchFlags assembles the switches every browser engine launches Chrome with,
// so the primary driver, the secondary driver and the subprocess present the
// same fingerprint. proxyAddr is the local forwarder, empty for a direct route.
func LaunchFlags(cfg config.BrowserConfig, profile schemas.SessionProfile, proxyAddr string) Flags {
	w, h := cfg.ViewportSize()
	f := Flags{
		"headless":                      cfg.Headless,
		"disable-gpu":                   cfg.Headless,
		"disable-blink-features":        "AutomationControlled",
		"enable-automation":             false,
		"disable-extensions":            true,
		"no-first-run":                  true,
		"no-default-browser-check":      true,
		"disable-background-networking": true,
		"disable-sync":                  true,
		"mute-audio":                    true,
		"window-size":                   fmt.Sprintf("%d,%d", w, h),
	}
	if cfg.IgnoreTLSErrors {
		f["ignore-certificate-errors"] = true
	}
	if ua := profile.UserAgent(); ua != "" {
		f["user-agent"] = ua
	}
	if profile.Locale.Locale != "" {
		f["lang"] = profile.Locale.Locale
	}
	if proxyAddr != "" {
		f["proxy-server"] = "http://" + proxyAddr
		// Keep loopback traffic off the proxy but send everything else through it.
		f["proxy-bypass-list"] = "<-loopback>"
	}

	// Container friendly defaults.
	if runtime.GOOS == "linux" {
		f["no-sandbox"] = true
		f["disable-dev-shm-usage"] = true
		f["disable-setuid-sandbox"] = true
	}

	// Custom arguments from the config file win over everything above.
	for _, arg := range cfg.Args {
		name, val, hasVal := strings.Cut(strings.TrimLeft(arg, "-"), "=")
		if name == "" {
			continue
		}
		if hasVal {
			f[name] = val
		} else {
			f[name] = true
		}
	}
	return f
}

// Names returns the switch names in sorted order.
func (f Flags) Names() []string {
	names := make([]string, 0, len(f))
	for name := range f {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Args renders the switches as command-line arguments in a stable order.
func (f Flags) Args() []string {
	args := make([]string, 0, len(f))
	for _, name := range f.Names() {
		switch v := f[name].(type) {
		case bool:
			if v {
				args = append(args, "--"+name)
			}
		case string:
			args = append(args, fmt.Sprintf("--%s=%s", name, v))
		default:
			args = append(args, fmt.Sprintf("--%s=%v", name, v))
		}
	}
	return args
}
