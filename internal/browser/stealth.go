package browser

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

//go:embed evasions.js
var evasionsFunc string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// headersBrowserOwns are left to the browser: overriding them on every
// subresource request would itself be a fingerprint.
var headersBrowserOwns = map[string]bool{
	"User-Agent":                true,
	"Accept":                    true,
	"Upgrade-Insecure-Requests": true,
}

// EvasionsScript returns the script run in every new document to hide
// automation markers and match the profile's navigator properties.
func EvasionsScript(profile schemas.SessionProfile) (string, error) {
	persona, err := json.Marshal(struct {
		Languages []string `json:"languages"`
		Platform  string   `json:"platform"`
	}{profile.Locale.Languages, profile.Platform})
	if err != nil {
		return "", fmt.Errorf("encoding persona for evasions: %w", err)
	}
	return fmt.Sprintf("(%s)(%s);", evasionsFunc, persona), nil
}

// ExtraHeaders returns the identity headers the browser should add to its own requests.
func ExtraHeaders(profile schemas.SessionProfile) map[string]string {
	out := make(map[string]string, len(profile.IdentityHeaders))
	for k, v := range profile.IdentityHeaders {
		if headersBrowserOwns[http.CanonicalHeaderKey(k)] {
			continue
		}
		out[k] = v
	}
	return out
}

// StealthTasks builds the CDP actions that make a chromedp tab present the
// session profile: user agent, locale, timezone, headers and navigator patches.
func StealthTasks(profile schemas.SessionProfile, logger *zap.Logger) (chromedp.Tasks, error) {
	script, err := EvasionsScript(profile)
	if err != nil {
		return nil, err
	}
	logger.Debug("Applying session profile to browser",
		zap.String("user_agent", profile.UserAgent()),
		zap.String("locale", profile.Locale.Locale),
		zap.String("timezone", profile.Locale.Timezone))

	headers := network.Headers{}
	for k, v := range ExtraHeaders(profile) {
		headers[k] = v
	}

	tasks := chromedp.Tasks{
		network.Enable(),
		emulation.SetUserAgentOverride(profile.UserAgent()).
			WithAcceptLanguage(profile.AcceptLanguage()).
			WithPlatform(profile.Platform),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
	}
	if profile.Locale.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(profile.Locale.Timezone))
	}
	if profile.Locale.Locale != "" {
		tasks = append(tasks, emulation.SetLocaleOverride().WithLocale(profile.Locale.Locale))
	}
	if len(headers) > 0 {
		tasks = append(tasks, network.SetExtraHTTPHeaders(headers))
	}
	return tasks, nil
}
