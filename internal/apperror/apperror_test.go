package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("resolve room: %w", NotFound("user not found"))

	require.Equal(t, KindNotFound, KindOf(err))
	require.True(t, Is(err, KindNotFound))
	require.Equal(t, "user not found", MessageOf(err))
}

func TestKindOfPlainError(t *testing.T) {
	err := errors.New("boom")

	require.Equal(t, KindInternal, KindOf(err))
	require.False(t, Is(nil, KindInternal))
	require.Equal(t, "internal error", MessageOf(err))
}

func TestTransientUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	err := Transient("update status", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, "update status: connection refused", err.Error())
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		NotFound("x"):                 http.StatusNotFound,
		Unauthorized("x"):             http.StatusForbidden,
		Conflict("x"):                 http.StatusConflict,
		Invalid("x"):                  http.StatusBadRequest,
		Transient("x", errors.New("")): http.StatusServiceUnavailable,
		errors.New("x"):               http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}
