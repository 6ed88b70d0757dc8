package profile

import (
	"fmt"
	"sort"
	"strings"
)

// Persona is a consistent browser identity: every header and locale hint
// describes the same browser in the same country.
type Persona struct {
	Region    string
	UserAgent string
	Platform  string
	// Languages in preference order; the first entry is the primary locale.
	Languages []string
	Timezone  string
	// SecCHUA and SecCHUAPlatform are the client hint values Chrome sends.
	SecCHUA         string
	SecCHUAPlatform string
}

const (
	chromeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"
	chromeSecCHUA   = `"Chromium";v="130", "Google Chrome";v="130", "Not?A_Brand";v="99"`
)

// personas is keyed by ISO country code.
var personas = map[string]Persona{
	"US": windowsChrome("US", "America/New_York", "en-US", "en"),
	"CA": windowsChrome("CA", "America/Toronto", "en-CA", "en", "fr-CA"),
	"GB": windowsChrome("GB", "Europe/London", "en-GB", "en"),
	"IE": windowsChrome("IE", "Europe/Dublin", "en-IE", "en", "ga"),
	"DE": windowsChrome("DE", "Europe/Berlin", "de-DE", "de", "en"),
	"FR": windowsChrome("FR", "Europe/Paris", "fr-FR", "fr", "en"),
	"NL": windowsChrome("NL", "Europe/Amsterdam", "nl-NL", "nl", "en"),
	"ES": windowsChrome("ES", "Europe/Madrid", "es-ES", "es", "en"),
	"AU": windowsChrome("AU", "Australia/Sydney", "en-AU", "en"),
	"IN": windowsChrome("IN", "Asia/Kolkata", "en-IN", "en", "hi"),
}

func windowsChrome(region, tz string, languages ...string) Persona {
	return Persona{
		Region:          region,
		UserAgent:       chromeUserAgent,
		Platform:        "Win32",
		Languages:       languages,
		Timezone:        tz,
		SecCHUA:         chromeSecCHUA,
		SecCHUAPlatform: `"Windows"`,
	}
}

// PersonaFor returns the persona for region (case-insensitive). The second
// value is false when the region is unknown and the US persona was returned.
func PersonaFor(region string) (Persona, bool) {
	p, ok := personas[strings.ToUpper(strings.TrimSpace(region))]
	if !ok {
		return personas["US"], false
	}
	return p, true
}

// Regions lists the supported region codes in sorted order.
func Regions() []string {
	out := make([]string, 0, len(personas))
	for r := range personas {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Locale is the primary locale, e.g. "de-DE".
func (p Persona) Locale() string {
	if len(p.Languages) == 0 {
		return "en-US"
	}
	return p.Languages[0]
}

// AcceptLanguage renders Languages the way Chrome does: the first without a
// weight, then q=0.9, 0.8, ... down to a floor of 0.1.
func (p Persona) AcceptLanguage() string {
	if len(p.Languages) == 0 {
		return "en-US,en;q=0.9"
	}
	parts := make([]string, 0, len(p.Languages))
	for i, lang := range p.Languages {
		if i == 0 {
			parts = append(parts, lang)
			continue
		}
		q := 10 - i
		if q < 1 {
			q = 1
		}
		parts = append(parts, fmt.Sprintf("%s;q=0.%d", lang, q))
	}
	return strings.Join(parts, ",")
}

// Headers returns a fresh map of the request headers the persona presents.
func (p Persona) Headers() map[string]string {
	return map[string]string{
		"User-Agent":                p.UserAgent,
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
		"Accept-Language":           p.AcceptLanguage(),
		"Upgrade-Insecure-Requests": "1",
		"Sec-CH-UA":                 p.SecCHUA,
		"Sec-CH-UA-Mobile":          "?0",
		"Sec-CH-UA-Platform":        p.SecCHUAPlatform,
	}
}
