package schemas

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle status of a ProcessRun.
type RunStatus string

const (
	RunStarted   RunStatus = "STARTED"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
)

// Step is a state of the workflow between STARTED and the terminal status.
type Step string

const (
	StepConnectivityChecked Step = "CONNECTIVITY_CHECKED"
	StepSessionBuilt        Step = "SESSION_BUILT"
	StepLoggedIn            Step = "LOGGED_IN"
	StepOTPVerified         Step = "OTP_VERIFIED"
	StepFileSelected        Step = "FILE_SELECTED"
	StepFormSubmitted       Step = "FORM_SUBMITTED"
)

// StepOrder is the only valid order in which steps complete.
var StepOrder = []Step{
	StepConnectivityChecked,
	StepSessionBuilt,
	StepLoggedIn,
	StepOTPVerified,
	StepFileSelected,
	StepFormSubmitted,
}

var (
	// ErrTerminal is returned when a finished run is asked to change state.
	ErrTerminal = errors.New("process run already reached a terminal status")
	// ErrStepOrder is returned when a step is completed out of sequence.
	ErrStepOrder = errors.New("workflow step completed out of order")
)

// ProcessRun is the status record of one workflow execution.
type ProcessRun struct {
	ID             uuid.UUID  `json:"id" yaml:"id"`
	StartedAt      time.Time  `json:"started_at" yaml:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Status         RunStatus  `json:"status" yaml:"status"`
	StepsCompleted []Step     `json:"steps_completed" yaml:"steps_completed"`
	Engine         EngineKind `json:"engine,omitempty" yaml:"engine,omitempty"`
	ErrorKind      string     `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	Error          string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewProcessRun starts a run record.
func NewProcessRun(id uuid.UUID, startedAt time.Time) *ProcessRun {
	return &ProcessRun{
		ID:             id,
		StartedAt:      startedAt,
		Status:         RunStarted,
		StepsCompleted: make([]Step, 0, len(StepOrder)),
	}
}

// LastStep returns the most recently completed step, or the empty string.
func (r *ProcessRun) LastStep() Step {
	if len(r.StepsCompleted) == 0 {
		return ""
	}
	return r.StepsCompleted[len(r.StepsCompleted)-1]
}

// NextStep returns the step that must complete next.
func (r *ProcessRun) NextStep() Step {
	n := len(r.StepsCompleted)
	if n >= len(StepOrder) {
		return ""
	}
	return StepOrder[n]
}

// Advance records the completion of step, which must be the next step in StepOrder.
func (r *ProcessRun) Advance(step Step) error {
	if r.Status != RunStarted {
		return ErrTerminal
	}
	if next := r.NextStep(); step != next {
		return fmt.Errorf("%w: got %s, expected %s", ErrStepOrder, step, next)
	}
	r.StepsCompleted = append(r.StepsCompleted, step)
	return nil
}

// Complete moves the run to COMPLETED. Every step must have been completed.
func (r *ProcessRun) Complete(at time.Time) error {
	if r.Status != RunStarted {
		return ErrTerminal
	}
	if len(r.StepsCompleted) != len(StepOrder) {
		return fmt.Errorf("%w: cannot complete after %q", ErrStepOrder, r.LastStep())
	}
	r.Status = RunCompleted
	r.FinishedAt = &at
	return nil
}

// Fail moves the run to FAILED, keeping the steps completed so far.
func (r *ProcessRun) Fail(at time.Time, kind string, cause error) error {
	if r.Status != RunStarted {
		return ErrTerminal
	}
	r.Status = RunFailed
	r.FinishedAt = &at
	r.ErrorKind = kind
	if cause != nil {
		r.Error = cause.Error()
	}
	return nil
}
