package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := AlreadyRunningf("already watching %s", "/tmp/a_geometry.py")

	assert.True(t, Is(err, ErrAlreadyRunning))
	assert.False(t, Is(err, ErrNotRunning))
	assert.Equal(t, "already watching /tmp/a_geometry.py", err.Error())
}

func TestError_WrappedStillMatches(t *testing.T) {
	err := fmt.Errorf("start session: %w", Validation("path is required"))

	assert.True(t, Is(err, ErrValidation))

	var domainErr *Error
	assert.True(t, As(err, &domainErr))
	assert.Equal(t, CodeValidation, domainErr.Code)
}

func TestError_WithCause(t *testing.T) {
	cause := New("permission denied")
	err := Wrap(cause, CodeUnavailable, "cannot attach watcher")

	assert.Equal(t, "cannot attach watcher: permission denied", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Same(t, cause, err.Unwrap())

	copied := ErrExecution.WithCause(cause)
	assert.ErrorIs(t, copied, cause)
	assert.Nil(t, ErrExecution.Unwrap(), "sentinel must not be mutated")
}

func TestError_WithDetails(t *testing.T) {
	details := map[string]string{"path": "is required"}
	err := Validation("validation failed").WithDetails(details)

	assert.Equal(t, details, err.Details)
	assert.Equal(t, CodeValidation, err.Code)
}

func TestCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeNotRunning, http.StatusNotFound},
		{CodeAlreadyRunning, http.StatusConflict},
		{CodeValidation, http.StatusBadRequest},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeExecution, http.StatusUnprocessableEntity},
		{CodeRateLimited, http.StatusTooManyRequests},
		{CodeInternal, http.StatusInternalServerError},
		{Code("SOMETHING_ELSE"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.HTTPStatus())
		})
	}
}
