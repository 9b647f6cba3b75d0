package errs

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{Validation("items", "empty"), http.StatusBadRequest},
		{ErrInvalidStatus, http.StatusBadRequest},
		{ErrUnauthenticated, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{ErrNotFound, http.StatusNotFound},
		{NotFound("order", 7), http.StatusNotFound},
		{ErrInvalidTransition, http.StatusConflict},
		{ErrConflict, http.StatusConflict},
		{fmt.Errorf("db exploded"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "error: %v", tt.err)
	}
}

func TestHTTPStatusUnwrapsWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("updating order 7: %w", ErrInvalidTransition)
	assert.Equal(t, http.StatusConflict, HTTPStatus(wrapped))

	wrapped = fmt.Errorf("loading caller: %w", ErrUnauthenticated)
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(wrapped))
}

func TestValidationError(t *testing.T) {
	err := Validation("quantity", "must be at least 1")
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), `"quantity"`)

	err = Validationf("unknown product %d", 99)
	assert.True(t, IsValidation(err))
	assert.Contains(t, err.Error(), "unknown product 99")

	wrapped := fmt.Errorf("create order: %w", err)
	assert.True(t, IsValidation(wrapped))

	assert.False(t, IsValidation(ErrNotFound))
}
