package schemas

import (
	"fmt"
	"strings"
	"time"
)

// EngineKind names a technique for loading the target.
type EngineKind string

const (
	EnginePrimaryDriver     EngineKind = "PRIMARY_DRIVER"
	EngineSecondaryDriver   EngineKind = "SECONDARY_DRIVER"
	EngineSubprocessBrowser EngineKind = "SUBPROCESS_BROWSER"
	EngineRawHTTP           EngineKind = "RAW_HTTP"
)

// EngineKinds lists every known engine in the default priority order.
var EngineKinds = []EngineKind{
	EnginePrimaryDriver,
	EngineSecondaryDriver,
	EngineSubprocessBrowser,
	EngineRawHTTP,
}

// ParseEngineKind accepts the canonical name in any case, with dashes or underscores.
func ParseEngineKind(s string) (EngineKind, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for _, k := range EngineKinds {
		if string(k) == norm {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown engine kind %q", s)
}

// Interactive reports whether the engine can drive forms after loading the page.
func (k EngineKind) Interactive() bool {
	return k == EnginePrimaryDriver || k == EngineSecondaryDriver
}

// Outcome is the verdict for a single engine attempt.
type Outcome string

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeFailure   Outcome = "FAILURE"
	OutcomeAmbiguous Outcome = "AMBIGUOUS"
)

// EngineAttempt records one engine's try at the task.
type EngineAttempt struct {
	Engine            EngineKind    `json:"engine" yaml:"engine"`
	Outcome           Outcome       `json:"outcome" yaml:"outcome"`
	EvidenceSizeBytes *int          `json:"evidence_size_bytes,omitempty" yaml:"evidence_size_bytes,omitempty"`
	Score             float64       `json:"score" yaml:"score"`
	ErrorMessage      string        `json:"error_message,omitempty" yaml:"error_message,omitempty"`
	Duration          time.Duration `json:"duration" yaml:"duration"`
}
