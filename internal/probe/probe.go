// Package probe classifies whether the portal is reachable over the direct path.
package probe

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/network"
)

const defaultMaxBodyBytes = 1 << 20

// Prober issues exactly one lightweight GET per call and classifies the
// outcome. It holds no mutable state and is safe for concurrent use.
type Prober struct {
	marker  []byte
	maxBody int64
	blocked map[int]bool
	client  *http.Client
	logger  *zap.Logger
}

// Option customizes a Prober.
type Option func(*Prober)

// WithClient replaces the HTTP client used for probing.
func WithClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

// New creates a Prober that expects marker in a healthy response body.
// headers are sent with the probe so it looks like the browsers that follow it.
func New(cfg config.ProbeConfig, marker string, headers map[string]string, logger *zap.Logger, opts ...Option) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	blocked := map[int]bool{http.StatusForbidden: true}
	for _, code := range cfg.BlockedStatuses {
		blocked[code] = true
	}

	clientCfg := network.NewDefaultClientConfig()
	clientCfg.Headers = headers
	clientCfg.Logger = logger

	p := &Prober{
		marker:  bytes.ToLower([]byte(marker)),
		maxBody: maxBody,
		blocked: blocked,
		client:  network.NewClient(clientCfg),
		logger:  logger.Named("probe"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe requests targetURL once, bounded by timeout, and classifies the result:
//
//	200 with the marker                -> reachable
//	403 / blocked status / no marker   -> reachable, classified blocked
//	other HTTP status                  -> reachable
//	no HTTP response                   -> unreachable with an error kind
//
// There are no retries; retry policy belongs to the caller.
func (p *Prober) Probe(ctx context.Context, targetURL string, timeout time.Duration) schemas.ConnectivityResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return unreachable(schemas.ErrorKindOther, err, start)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		kind := Classify(err)
		p.logger.Info("Probe failed to connect",
			zap.String("target", targetURL),
			zap.String("error_kind", string(kind)),
			zap.Error(err))
		return unreachable(kind, err, start)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, p.maxBody))
	code := resp.StatusCode
	result := schemas.ConnectivityResult{
		Reachable:  true,
		StatusCode: &code,
		LatencyMs:  time.Since(start).Milliseconds(),
	}

	switch {
	case p.blocked[code]:
		result.ClassifiedBlocked = true
		result.Detail = http.StatusText(code)
	case code == http.StatusOK && !p.hasMarker(body):
		result.ClassifiedBlocked = true
		result.Detail = "expected content marker not found"
		if readErr != nil {
			result.Detail += ": " + readErr.Error()
		}
	}

	p.logger.Info("Probe completed",
		zap.String("target", targetURL),
		zap.Int("status", code),
		zap.Bool("blocked", result.ClassifiedBlocked),
		zap.Int64("latency_ms", result.LatencyMs))
	return result
}

func (p *Prober) hasMarker(body []byte) bool {
	if len(p.marker) == 0 {
		return true
	}
	return bytes.Contains(bytes.ToLower(body), p.marker)
}

func unreachable(kind schemas.ErrorKind, err error, start time.Time) schemas.ConnectivityResult {
	return schemas.ConnectivityResult{
		Reachable: false,
		LatencyMs: time.Since(start).Milliseconds(),
		ErrorKind: &kind,
		Detail:    err.Error(),
	}
}

// Classify maps a connection error to an ErrorKind. Timeouts are kept apart
// from other failures because they route differently.
func Classify(err error) schemas.ErrorKind {
	if err == nil {
		return ""
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return schemas.ErrorKindTimeout
		}
		return schemas.ErrorKindDNS
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return schemas.ErrorKindTimeout
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return schemas.ErrorKindRefused
	}

	var (
		certErr     *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		unknownCA   x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidCert x509.CertificateInvalidError
		tlsAlert    tls.AlertError
	)
	if errors.As(err, &certErr) || errors.As(err, &recordErr) || errors.As(err, &unknownCA) ||
		errors.As(err, &hostnameErr) || errors.As(err, &invalidCert) || errors.As(err, &tlsAlert) {
		return schemas.ErrorKindTLS
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return schemas.ErrorKindTimeout
	}
	return schemas.ErrorKindOther
}
