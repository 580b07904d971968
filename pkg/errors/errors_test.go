package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", Clone(ErrNotFound, "course not found"))

	appErr := FromError(wrapped)
	require.NotNil(t, appErr)
	assert.Equal(t, ErrNotFound.Code, appErr.Code)
	assert.Equal(t, "course not found", appErr.Message)
}

func TestFromErrorWrapsUnknownAsInternal(t *testing.T) {
	appErr := FromError(stdErrors.New("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.Empty(t, appErr.Detail)
}

func TestIsMatchesByCode(t *testing.T) {
	err := Clone(ErrConflict, "already enrolled")
	assert.True(t, stdErrors.Is(err, ErrConflict))
	assert.False(t, stdErrors.Is(err, ErrNotFound))
}

func TestWithDetailExposesCause(t *testing.T) {
	base := Wrap(stdErrors.New("dial tcp: refused"), ErrInternal.Code, ErrInternal.Status, "failed to load course")

	detailed := WithDetail(base)
	assert.Equal(t, "dial tcp: refused", detailed.Detail)
	assert.Empty(t, base.Detail)
	assert.Equal(t, ErrNotFound, WithDetail(ErrNotFound))
}
