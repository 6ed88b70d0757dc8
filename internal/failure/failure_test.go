package failure

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(OTPInvalid, "submit otp", errors.New("code rejected"))
	wrapped := fmt.Errorf("step failed: %w", err)

	assert.Equal(t, OTPInvalid, KindOf(wrapped))
	assert.Equal(t, EngineFailure, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestErrorIsAndUnwrap(t *testing.T) {
	err := New(OTPTimeout, "await otp", context.DeadlineExceeded)

	assert.ErrorIs(t, err, Sentinel(OTPTimeout))
	assert.NotErrorIs(t, err, Sentinel(OTPInvalid))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "OTP_TIMEOUT: await otp: context deadline exceeded", err.Error())
}

func TestNewf(t *testing.T) {
	err := Newf(UploadTargetMissing, "", "no such file %q", "/tmp/x")
	assert.Equal(t, `UPLOAD_TARGET_MISSING: no such file "/tmp/x"`, err.Error())
}
