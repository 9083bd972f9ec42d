package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("message without cause", func(t *testing.T) {
		err := Forbidden("")
		assert.Equal(t, "access denied", err.Error())
		assert.Equal(t, http.StatusForbidden, err.StatusCode)
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("message with cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := Internal("record webhook event", cause)
		assert.Equal(t, "record webhook event: connection refused", err.Error())
		assert.ErrorIs(t, err, cause)
	})

	t.Run("internal default message", func(t *testing.T) {
		err := Internal("", nil)
		assert.Equal(t, "internal error", err.Message)
		assert.Equal(t, "INTERNAL_ERROR", err.Code)
	})

	t.Run("wrapped app error is found", func(t *testing.T) {
		var appErr *AppError
		err := fmt.Errorf("handler: %w", BadRequest("invalid signature"))
		assert.ErrorAs(t, err, &appErr)
		assert.Equal(t, http.StatusBadRequest, appErr.StatusCode)
		assert.ErrorIs(t, err, ErrBadRequest)
	})

	t.Run("unauthorized default message", func(t *testing.T) {
		err := Unauthorized("")
		assert.Equal(t, "authentication required", err.Message)
		assert.Equal(t, http.StatusUnauthorized, err.StatusCode)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("feature unavailable hides detail", func(t *testing.T) {
		err := FeatureUnavailable("")
		assert.Equal(t, "FEATURE_UNAVAILABLE", err.Code)
		assert.Equal(t, http.StatusPaymentRequired, err.StatusCode)
		assert.Equal(t, "feature unavailable, upgrade to access", err.Message)
	})

	t.Run("unavailable keeps both sentinels", func(t *testing.T) {
		cause := errors.New("redis down")
		err := Unavailable("", cause)
		assert.ErrorIs(t, err, ErrUnavailable)
		assert.ErrorIs(t, err, cause)
	})
}
