// File: internal/network/forwarder.go
package network

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
)

const forwarderShutdownTimeout = 5 * time.Second

// Forwarder is a local, credential-free HTTP proxy that relays browser traffic
// to an authenticated upstream proxy. Chrome cannot be given proxy credentials
// on its command line, so browser engines point at the Forwarder instead.
// Plain HTTP requests have the given identity headers set, replacing
// whatever the client sent; CONNECT tunnels are relayed untouched.
type Forwarder struct {
	proxy    *goproxy.ProxyHttpServer
	upstream schemas.ProxyEndpoint
	logger   *zap.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	served   chan struct{}
}

// NewForwarder prepares a forwarder for the given upstream. It does not listen
// until Start. Headers are applied as overrides, so callers leave out the ones
// the client must keep.
func NewForwarder(upstream schemas.ProxyEndpoint, headers map[string]string, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("forwarder")

	proxy := goproxy.NewProxyHttpServer()
	proxy.Verbose = false
	proxy.Logger = zap.NewStdLog(log)

	cfg := NewDefaultClientConfig()
	cfg.ProxyURL = ProxyURL(upstream)
	cfg.ForceHTTP2 = false
	cfg.Logger = log
	proxy.Tr = NewHTTPTransport(cfg)

	authHeader := ""
	if upstream.HasCredentials() {
		authHeader = basicAuth(upstream.Username, upstream.Password)
	}
	proxy.ConnectDial = proxy.NewConnectDialToProxyWithHandler("http://"+upstream.Address(), func(req *http.Request) {
		if authHeader != "" {
			req.Header.Set("Proxy-Authorization", authHeader)
		}
	})

	identity := make(map[string]string, len(headers))
	for k, v := range headers {
		identity[k] = v
	}
	proxy.OnRequest().DoFunc(func(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		for k, v := range identity {
			r.Header.Set(k, v)
		}
		return r, nil
	})

	return &Forwarder{proxy: proxy, upstream: upstream, logger: log}
}

// Start listens on an ephemeral loopback port and serves in the background.
// It returns the host:port browsers should use as their proxy server.
func (f *Forwarder) Start(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.server != nil {
		return "", errors.New("forwarder already started")
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("failed to listen for forwarder: %w", err)
	}

	server := &http.Server{
		Handler:           f.proxy,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          zap.NewStdLog(f.logger.Named("http_server")),
	}
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.logger.Error("Forwarder stopped with an error", zap.Error(err))
		}
	}()

	f.server, f.listener, f.served = server, ln, served
	f.logger.Debug("Forwarder listening",
		zap.String("address", ln.Addr().String()),
		zap.String("upstream", f.upstream.Address()))
	return ln.Addr().String(), nil
}

// Addr returns the listening address, or the empty string before Start.
func (f *Forwarder) Addr() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listener == nil {
		return ""
	}
	return f.listener.Addr().String()
}

// Close stops the listener and waits for the serve loop to exit. Safe to call more than once.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	server, served := f.server, f.served
	f.server, f.listener = nil, nil
	f.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), forwarderShutdownTimeout)
	defer cancel()
	err := server.Shutdown(ctx)
	if err != nil {
		err = errors.Join(err, server.Close())
	}
	<-served
	f.proxy.Tr.CloseIdleConnections()
	return err
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}
