// Package failure defines the error taxonomy a workflow run can end with.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the category a run-level error belongs to.
type Kind string

const (
	NetworkUnreachable  Kind = "NETWORK_UNREACHABLE"
	Blocked             Kind = "BLOCKED"
	EngineFailure       Kind = "ENGINE_FAILURE"
	CredentialRejected  Kind = "CREDENTIAL_REJECTED"
	OTPInvalid          Kind = "OTP_INVALID"
	OTPTimeout          Kind = "OTP_TIMEOUT"
	UploadTargetMissing Kind = "UPLOAD_TARGET_MISSING"
	Configuration       Kind = "CONFIGURATION"
)

// Error attaches a Kind and the failing operation to an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same Kind, so Sentinel(kind) works with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// New wraps err with kind and op.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an Error whose cause is a formatted message.
func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Sentinel returns a comparable value for errors.Is(err, failure.Sentinel(kind)).
func Sentinel(kind Kind) error {
	return &Error{Kind: kind}
}

// KindOf returns the Kind of the first *Error in err's chain.
// Errors without a kind are treated as engine failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return EngineFailure
}
