package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTypeOfThroughWrapping(t *testing.T) {
	base := HTTPStatus(404, "https://i.pximg.net/a.jpg")
	wrapped := fmt.Errorf("page 2: %w", base)

	assert.Equal(t, ErrorTypeHTTPStatus, TypeOf(wrapped))
	assert.Equal(t, 404, StatusCode(wrapped))
	assert.Equal(t, ErrorTypeUnknown, TypeOf(io.EOF))
	assert.False(t, Is(nil, ErrorTypeAuth))
}

func TestTransportUnwrap(t *testing.T) {
	err := Transport(io.ErrUnexpectedEOF)
	assert.True(t, stderrors.Is(err, io.ErrUnexpectedEOF))
	assert.Contains(t, err.Error(), "transport error")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		errorType ErrorType
		want      bool
	}{
		{ErrorTypeTransport, true},
		{ErrorTypeHTTPStatus, false},
		{ErrorTypeAuth, false},
		{ErrorTypeCorruptArchive, false},
		{ErrorTypeUnknown, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.errorType), func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.errorType))
		})
	}
}

func TestIsRetryableStatusCode(t *testing.T) {
	assert.True(t, IsRetryableStatusCode(0))
	assert.True(t, IsRetryableStatusCode(429))
	assert.True(t, IsRetryableStatusCode(503))
	assert.True(t, IsRetryableStatusCode(599))
	assert.False(t, IsRetryableStatusCode(403))
	assert.False(t, IsRetryableStatusCode(404))
}

func TestAuthHelpers(t *testing.T) {
	err := Auth(401, "token expired")
	assert.True(t, IsAuth(fmt.Errorf("fetch first page: %w", err)))
	assert.Equal(t, "auth error (code 401): token expired", err.Error())
}
