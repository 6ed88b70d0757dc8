package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"

	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/engine"
	"github.com/xkilldash9x/portalpilot/internal/network"
)

// RawHTTP fetches the target with the shared HTTP client stack: identity
// headers, decompression and the upstream proxy when the profile uses one.
// It never runs scripts, so it only sees what the server renders.
type RawHTTP struct {
	maxBody int64
	logger  *zap.Logger
}

// NewRawHTTP creates the raw HTTP adapter. maxBody caps the body kept as evidence.
func NewRawHTTP(maxBody int64, logger *zap.Logger) *RawHTTP {
	if maxBody <= 0 || maxBody > maxEvidenceBytes {
		maxBody = maxEvidenceBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RawHTTP{maxBody: maxBody, logger: logger.Named("adapter.raw_http")}
}

func (a *RawHTTP) Kind() schemas.EngineKind { return schemas.EngineRawHTTP }

// Load performs a single GET, following redirects with a fresh cookie jar.
func (a *RawHTTP) Load(ctx context.Context, profile schemas.SessionProfile, task engine.Task) (*engine.Capture, error) {
	cfg := network.ClientConfigForProfile(profile)
	cfg.Logger = a.logger
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}
	cfg.Jar = jar

	client := network.NewClient(cfg)
	defer network.CloseIdle(client)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &engine.Capture{
		Engine:     a.Kind(),
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		HTML:       body,
	}, nil
}
