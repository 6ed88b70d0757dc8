package schemas

import (
	"net"
	"strconv"
)

// ProxyEndpoint identifies an upstream proxy and the credentials it expects.
type ProxyEndpoint struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"-" yaml:"-"`
}

// Address returns host:port.
func (p ProxyEndpoint) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// HasCredentials reports whether the endpoint requires authentication.
func (p ProxyEndpoint) HasCredentials() bool {
	return p.Username != ""
}

// LocaleHints describes the geography a session claims to come from.
type LocaleHints struct {
	Region    string   `json:"region" yaml:"region"`
	Locale    string   `json:"locale" yaml:"locale"`
	Languages []string `json:"languages" yaml:"languages"`
	Timezone  string   `json:"timezone" yaml:"timezone"`
}

// SessionProfile is the connection profile every engine uses for one workflow run.
type SessionProfile struct {
	RouteViaProxy   bool              `json:"route_via_proxy" yaml:"route_via_proxy"`
	ProxyEndpoint   *ProxyEndpoint    `json:"proxy_endpoint,omitempty" yaml:"proxy_endpoint,omitempty"`
	IdentityHeaders map[string]string `json:"identity_headers" yaml:"identity_headers"`
	Platform        string            `json:"platform" yaml:"platform"`
	Locale          LocaleHints       `json:"locale" yaml:"locale"`
	Reason          string            `json:"reason" yaml:"reason"`
	Warnings        []string          `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// UserAgent returns the User-Agent the profile presents.
func (p SessionProfile) UserAgent() string {
	return p.IdentityHeaders["User-Agent"]
}

// AcceptLanguage returns the Accept-Language the profile presents.
func (p SessionProfile) AcceptLanguage() string {
	return p.IdentityHeaders["Accept-Language"]
}
