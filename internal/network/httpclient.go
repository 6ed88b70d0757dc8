// File: internal/network/httpclient.go
package network

import (
	"crypto/tls"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

// Default transport settings. A run talks to a single host, so the pool is small.
const (
	DefaultDialTimeout           = 10 * time.Second
	DefaultKeepAliveInterval     = 15 * time.Second
	DefaultTLSHandshakeTimeout   = 10 * time.Second
	DefaultResponseHeaderTimeout = 20 * time.Second
	DefaultRequestTimeout        = 30 * time.Second
	DefaultIdleConnTimeout       = 30 * time.Second
	DefaultMaxIdleConnsPerHost   = 4
)

// ClientConfig holds the configuration for the HTTP client and transport layers.
type ClientConfig struct {
	IgnoreTLSErrors bool

	RequestTimeout        time.Duration
	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration

	ForceHTTP2 bool

	// ProxyURL routes every request through an upstream proxy. Credentials in
	// the URL's userinfo are sent as Proxy-Authorization.
	ProxyURL *url.URL

	// Headers are added to every request that does not already carry them.
	Headers map[string]string

	// FollowRedirects lets the client follow redirects like a browser would.
	FollowRedirects bool

	Jar    http.CookieJar
	Logger *zap.Logger
}

// NewDefaultClientConfig returns settings suitable for talking to the portal directly.
func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		RequestTimeout:        DefaultRequestTimeout,
		DialTimeout:           DefaultDialTimeout,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		ForceHTTP2:            true,
		FollowRedirects:       true,
		Logger:                zap.NewNop(),
	}
}

// ClientConfigForProfile derives client settings from a session profile: the
// identity headers, and the upstream proxy when the profile routes through one.
func ClientConfigForProfile(profile schemas.SessionProfile) *ClientConfig {
	cfg := NewDefaultClientConfig()
	cfg.Headers = profile.IdentityHeaders
	if profile.RouteViaProxy && profile.ProxyEndpoint != nil {
		cfg.ProxyURL = ProxyURL(*profile.ProxyEndpoint)
	}
	return cfg
}

// ProxyURL builds the http:// URL of a proxy endpoint, credentials included.
func ProxyURL(ep schemas.ProxyEndpoint) *url.URL {
	u := &url.URL{Scheme: "http", Host: ep.Address()}
	if ep.HasCredentials() {
		u.User = url.UserPassword(ep.Username, ep.Password)
	}
	return u
}

// NewHTTPTransport creates an http.Transport from the configuration.
func NewHTTPTransport(config *ClientConfig) *http.Transport {
	if config == nil {
		config = NewDefaultClientConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	dialer := &net.Dialer{
		Timeout:   orDefault(config.DialTimeout, DefaultDialTimeout),
		KeepAlive: DefaultKeepAliveInterval,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSClientConfig:       configureTLS(config),
		TLSHandshakeTimeout:   orDefault(config.TLSHandshakeTimeout, DefaultTLSHandshakeTimeout),
		ResponseHeaderTimeout: orDefault(config.ResponseHeaderTimeout, DefaultResponseHeaderTimeout),
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		ForceAttemptHTTP2:     config.ForceHTTP2,
	}

	if config.ProxyURL != nil {
		transport.Proxy = http.ProxyURL(config.ProxyURL)
	}

	if config.ForceHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
		}
	} else {
		transport.TLSClientConfig.NextProtos = []string{"http/1.1"}
	}
	return transport
}

// NewClient builds an http.Client whose requests carry the configured headers
// and whose responses are transparently decompressed.
//
// The caller must close every response body.
func NewClient(config *ClientConfig) *http.Client {
	if config == nil {
		config = NewDefaultClientConfig()
	}

	var rt http.RoundTripper = NewHTTPTransport(config)
	rt = NewCompressionMiddleware(rt)
	if len(config.Headers) > 0 {
		rt = NewHeaderMiddleware(rt, config.Headers)
	}

	client := &http.Client{
		Transport: rt,
		Timeout:   orDefault(config.RequestTimeout, DefaultRequestTimeout),
		Jar:       config.Jar,
	}
	if !config.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client
}

// CloseIdle releases pooled connections held by a client built with NewClient.
func CloseIdle(client *http.Client) {
	if client != nil {
		client.CloseIdleConnections()
	}
}

func configureTLS(config *ClientConfig) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		ClientSessionCache: tls.NewLRUClientSessionCache(32),
		InsecureSkipVerify: config.IgnoreTLSErrors,
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
