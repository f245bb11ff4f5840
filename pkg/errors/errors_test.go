package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", fmt.Errorf("sets: %w", ErrInvalidInput), http.StatusBadRequest},
		{"unknown measure", fmt.Errorf("%w: dice", ErrUnsupportedMeasure), http.StatusBadRequest},
		{"threshold", ErrThresholdOutOfRange, http.StatusBadRequest},
		{"asymmetric", ErrUnsupportedMeasureForOperation, http.StatusUnprocessableEntity},
		{"not ready", ErrIndexNotReady, http.StatusServiceUnavailable},
		{"app error wins", Newf(ErrInvalidInput, http.StatusConflict, "limit %d", 3), http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatusCode(tt.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := New(ErrThresholdOutOfRange, http.StatusBadRequest, "threshold 1.5")
	assert.ErrorIs(t, err, ErrThresholdOutOfRange)
	assert.Equal(t, "similarity threshold out of range: threshold 1.5", err.Error())
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(fmt.Errorf("x: %w", ErrUnsupportedMeasureForOperation)))
	assert.True(t, IsValidation(ErrInvalidInput))
	assert.False(t, IsValidation(ErrTimeout))
	assert.False(t, IsValidation(nil))
}
