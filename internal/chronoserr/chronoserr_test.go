package chronoserr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeterminismViolationError_ErrorAs(t *testing.T) {
	var err error = &DeterminismViolationError{Reasons: map[string]string{"clock": "time"}}

	var target *DeterminismViolationError
	assert.True(t, errors.As(err, &target))
	assert.Equal(t, "time", target.Reasons["clock"])
}

func TestRegistrationConflictError_MessageContainsSourceID(t *testing.T) {
	err := &RegistrationConflictError{SourceID: "clock"}
	assert.Contains(t, err.Error(), "clock")
}

func TestCaptureError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &CaptureError{SourceID: "clock", Cause: cause}
	assert.ErrorIs(t, err, cause)
}

func TestSerializationError_Unwrap(t *testing.T) {
	cause := errors.New("bad json")
	err := &SerializationError{TypeName: "int", Cause: cause}
	assert.ErrorIs(t, err, cause)
}

func TestIncompatibleRecordingError_MessageReportsCounts(t *testing.T) {
	err := &IncompatibleRecordingError{Warnings: []string{"w1"}, Errors: []string{"e1", "e2"}}
	assert.Contains(t, err.Error(), "2 error")
	assert.Contains(t, err.Error(), "1 warning")
}
