// Package adapters implements the engine kinds the fallback chain can try:
// chromedp as the primary driver, go-rod as the secondary driver, a headless
// Chrome subprocess, and a plain HTTP client.
package adapters

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/portalpilot/internal/config"
	"github.com/xkilldash9x/portalpilot/internal/engine"
)

// maxEvidenceBytes caps how much of a page any adapter keeps.
const maxEvidenceBytes = 16 << 20

// Registry returns a registry holding every adapter, configured from cfg.
func Registry(cfg *config.Config, logger *zap.Logger) *engine.Registry {
	return engine.NewRegistry(
		NewChromedp(cfg.Browser, logger),
		NewRod(cfg.Browser, logger),
		NewSubprocess(cfg.Browser, logger),
		NewRawHTTP(cfg.Probe.MaxBodyBytes, logger),
	)
}
