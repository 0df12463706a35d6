package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaults(t *testing.T) {
	err := New(CodeMarketplaceAuth)
	assert.Equal(t, "marketplace authentication failed", err.Message)
	assert.Equal(t, http.StatusBadGateway, err.StatusCode)

	err = New(Code("SOMETHING_NEW"))
	assert.Equal(t, "SOMETHING_NEW", err.Message)
	assert.Equal(t, http.StatusInternalServerError, err.StatusCode)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(cause, CodeMarketplaceError, "search ipad")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeMarketplaceError, GetCode(err))
	assert.Contains(t, err.Error(), "search ipad")

	wrapped := fmt.Errorf("term failed: %w", err)
	assert.True(t, HasCode(wrapped, CodeMarketplaceError))
	assert.True(t, errors.Is(wrapped, New(CodeMarketplaceError)))
	assert.Same(t, err, Wrap(wrapped, CodeInternalError, ""))
}

func TestGetCodeUnknown(t *testing.T) {
	assert.Equal(t, CodeUnknownError, GetCode(errors.New("plain")))
	assert.Nil(t, Wrap(nil, CodeInternalError, ""))
}
