package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/portalpilot/api/schemas"
	"github.com/xkilldash9x/portalpilot/internal/engine"
	"github.com/xkilldash9x/portalpilot/internal/profile"
)

// -- Decision components --

// Prober checks the direct path to the target once.
type Prober interface {
	Probe(ctx context.Context, targetURL string, timeout time.Duration) schemas.ConnectivityResult
}

// ProfileSelector turns a probe result into the session profile of the run.
type ProfileSelector interface {
	Select(result schemas.ConnectivityResult, proxy *profile.Proxy) schemas.SessionProfile
}

// EngineChain walks the engine fallback chain.
type EngineChain interface {
	Run(ctx context.Context, profile schemas.SessionProfile, task engine.Task, order []schemas.EngineKind) engine.Result
}

// -- Portal --

// Portal is the form automation of the target site.
type Portal interface {
	Login(ctx context.Context, username, password string) error
	SubmitOTP(ctx context.Context, code string) error
	SelectFile(ctx context.Context, path string) error
	Submit(ctx context.Context) error
	AwaitConfirmation(ctx context.Context) error
	Snapshot(ctx context.Context) ([]byte, error)
	Close() error
}

// PortalOpener starts a Portal on the engine the chain selected.
type PortalOpener interface {
	Open(ctx context.Context, kind schemas.EngineKind, profile schemas.SessionProfile) (Portal, error)
}

// PortalOpenerFunc adapts a function to PortalOpener.
type PortalOpenerFunc func(ctx context.Context, kind schemas.EngineKind, profile schemas.SessionProfile) (Portal, error)

func (f PortalOpenerFunc) Open(ctx context.Context, kind schemas.EngineKind, profile schemas.SessionProfile) (Portal, error) {
	return f(ctx, kind, profile)
}

// -- External collaborators --

// OTPSource supplies the one-time passcode.
type OTPSource interface {
	AwaitOTP(ctx context.Context) (string, error)
}

// SecretSource resolves named secrets.
type SecretSource interface {
	FetchSecret(ctx context.Context, name string) (string, error)
}

// EvidenceStore keeps step snapshots.
type EvidenceStore interface {
	StoreEvidence(ctx context.Context, data []byte, label string, runID uuid.UUID) error
}

// EventWriter records run events.
type EventWriter interface {
	WriteRunEvent(ctx context.Context, runID uuid.UUID, status string, details map[string]any) error
}

// PayloadFetcher materializes the upload file and returns its local path.
type PayloadFetcher interface {
	FetchUploadPayload(ctx context.Context, ref string) (string, error)
}
