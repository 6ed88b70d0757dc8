package adapters

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/engine"
)

func TestRawHTTPLoad(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			http.SetCookie(w, &http.Cookie{Name: "sid", Value: "1"})
			http.Redirect(w, r, "/login", http.StatusFound)
		case "/login":
			gotUA = r.Header.Get("User-Agent")
			if c, err := r.Cookie("sid"); err != nil || c.Value != "1" {
				http.Error(w, "no session", http.StatusForbidden)
				return
			}
			w.Header().Set("Content-Encoding", "gzip")
			gz := gzip.NewWriter(w)
			_, _ = io.WriteString(gz, "<html>Sign In</html>")
			_ = gz.Close()
		}
	}))
	defer srv.Close()

	profile := schemas.SessionProfile{IdentityHeaders: map[string]string{"User-Agent": "raw-test"}}
	c, err := NewRawHTTP(0, zaptest.NewLogger(t)).Load(context.Background(), profile, engine.Task{URL: srv.URL + "/"})

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, c.StatusCode)
	assert.Equal(t, "<html>Sign In</html>", string(c.HTML))
	assert.Equal(t, srv.URL+"/login", c.FinalURL)
	assert.Equal(t, "raw-test", gotUA)
	assert.Equal(t, schemas.EngineRawHTTP, c.Engine)
}

func TestRawHTTPThroughProxy(t *testing.T) {
	var gotAuth, gotTarget string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Proxy-Authorization")
		gotTarget = r.URL.String()
		_, _ = io.WriteString(w, "proxied")
	}))
	defer proxy.Close()

	u, err := url.Parse(proxy.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	profile := schemas.SessionProfile{
		RouteViaProxy: true,
		ProxyEndpoint: &schemas.ProxyEndpoint{Host: u.Hostname(), Port: port, Username: "user", Password: "pass"},
	}

	c, err := NewRawHTTP(64, nil).Load(context.Background(), profile, engine.Task{URL: "http://portal.invalid/login"})
	require.NoError(t, err)
	assert.Equal(t, "proxied", string(c.HTML))
	assert.Equal(t, "http://portal.invalid/login", gotTarget)
	assert.Equal(t, "Basic dXNlcjpwYXNz", gotAuth)
}

func TestRawHTTPCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewRawHTTP(0, nil).Load(ctx, schemas.SessionProfile{}, engine.Task{URL: srv.URL})
	assert.ErrorIs(t, err, context.Canceled)
}
