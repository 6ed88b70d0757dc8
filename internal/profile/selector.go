// Package profile decides how a workflow run reaches the portal: directly or
// through the configured upstream proxy, and with which browser identity.
package profile

import (
	"fmt"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/config"
)

// Proxy is a resolved upstream proxy: endpoint with credentials, plus the
// region its exit node is in.
type Proxy struct {
	Endpoint schemas.ProxyEndpoint
	Region   string
}

// Selector builds a SessionProfile from a probe result. It is a pure function
// of its inputs and its static configuration.
type Selector struct {
	defaultRegion     string
	proxyOnDNSFailure bool
	proxyOnRefused    bool
}

// NewSelector creates a Selector from configuration.
func NewSelector(cfg config.SelectorConfig) *Selector {
	return &Selector{
		defaultRegion:     cfg.DefaultRegion,
		proxyOnDNSFailure: cfg.ProxyOnDNSFailure,
		proxyOnRefused:    cfg.ProxyOnRefused,
	}
}

// Select applies the routing decision table:
//
//	reachable, not blocked  -> direct
//	reachable, blocked      -> proxy if configured, else direct with a warning
//	unreachable             -> proxy if configured and the error kind allows it,
//	                           else direct with a warning
//
// A DNS failure only routes via the proxy when proxy_on_dns_failure is set,
// and REFUSED/TLS failures follow proxy_on_refused.
func (s *Selector) Select(result schemas.ConnectivityResult, proxy *Proxy) schemas.SessionProfile {
	wantProxy, reason := s.wantsProxy(result)

	var warnings []string
	if wantProxy && proxy == nil {
		warnings = append(warnings, fmt.Sprintf("%s but no proxy is configured; continuing direct", reason))
		wantProxy = false
	}

	if wantProxy {
		persona, known := PersonaFor(proxy.Region)
		if !known {
			warnings = append(warnings, fmt.Sprintf("no persona for proxy region %q; using %s", proxy.Region, persona.Region))
		}
		ep := proxy.Endpoint
		return build(persona, true, &ep, reason+"; routing via proxy", warnings)
	}

	persona, known := PersonaFor(s.defaultRegion)
	if !known {
		warnings = append(warnings, fmt.Sprintf("no persona for default region %q; using %s", s.defaultRegion, persona.Region))
	}
	return build(persona, false, nil, reason, warnings)
}

// BaselineHeaders returns the identity used before any routing decision,
// e.g. by the connectivity probe.
func (s *Selector) BaselineHeaders() map[string]string {
	persona, _ := PersonaFor(s.defaultRegion)
	return persona.Headers()
}

func (s *Selector) wantsProxy(r schemas.ConnectivityResult) (bool, string) {
	switch {
	case r.Reachable && !r.ClassifiedBlocked:
		return false, "direct path healthy"
	case r.Reachable:
		return true, "direct path blocked"
	}

	switch r.Kind() {
	case schemas.ErrorKindDNS:
		return s.proxyOnDNSFailure, "direct path failed DNS resolution"
	case schemas.ErrorKindRefused:
		return s.proxyOnRefused, "direct connection refused"
	case schemas.ErrorKindTLS:
		return s.proxyOnRefused, "direct TLS handshake failed"
	case schemas.ErrorKindTimeout:
		return true, "direct path timed out"
	}
	return true, "direct path unreachable"
}

func build(p Persona, viaProxy bool, ep *schemas.ProxyEndpoint, reason string, warnings []string) schemas.SessionProfile {
	return schemas.SessionProfile{
		RouteViaProxy:   viaProxy,
		ProxyEndpoint:   ep,
		IdentityHeaders: p.Headers(),
		Platform:        p.Platform,
		Locale: schemas.LocaleHints{
			Region:    p.Region,
			Locale:    p.Locale(),
			Languages: append([]string(nil), p.Languages...),
			Timezone:  p.Timezone,
		},
		Reason:   reason,
		Warnings: warnings,
	}
}
