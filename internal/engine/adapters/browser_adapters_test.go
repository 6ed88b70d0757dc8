package adapters

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/browser"
	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/engine"
)

func TestBrowserAdaptersLoadPage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	if _, err := browser.FindBinary(""); err != nil {
		t.Skip("no chrome binary available")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(w, "<html><body><h1>Sign In</h1></body></html>")
	}))
	defer srv.Close()

	cfg := config.BrowserConfig{Headless: true}
	for _, a := range []engine.Adapter{NewChromedp(cfg, zaptest.NewLogger(t)), NewRod(cfg, zaptest.NewLogger(t))} {
		t.Run(string(a.Kind()), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			c, err := a.Load(ctx, schemas.SessionProfile{}, engine.Task{URL: srv.URL})
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, c.StatusCode)
			assert.Contains(t, string(c.HTML), "Sign In")
			assert.NotEmpty(t, c.Screenshot)
		})
	}
}

func TestBrowserAdaptersSeeSlowBlockedStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	if _, err := browser.FindBinary(""); err != nil {
		t.Skip("no chrome binary available")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		time.Sleep(statusWait + time.Second)
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, "<html><body>Access denied</body></html>")
	}))
	defer srv.Close()

	cfg := config.BrowserConfig{Headless: true}
	for _, a := range []engine.Adapter{NewChromedp(cfg, zaptest.NewLogger(t)), NewRod(cfg, zaptest.NewLogger(t))} {
		t.Run(string(a.Kind()), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			c, err := a.Load(ctx, schemas.SessionProfile{}, engine.Task{URL: srv.URL})
			require.NoError(t, err)
			assert.Equal(t, http.StatusForbidden, c.StatusCode)

			v := engine.DefaultScorer(0, []int{http.StatusForbidden}).Score(engine.Task{Marker: "Sign In"}, c)
			assert.Equal(t, schemas.OutcomeFailure, v.Outcome)
		})
	}
}
