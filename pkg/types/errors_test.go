package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtocolError_Error(t *testing.T) {
	err := NewProtocolError(ErrCodeRequestTimeout, "request timed out")
	assert.Equal(t, "ERR_REQUEST_TIMEOUT: request timed out", err.Error())

	bare := NewProtocolError(ErrCodeClose, "")
	assert.Equal(t, "ERR_CLOSE", bare.Error())
}

func TestProtocolError_Is(t *testing.T) {
	err := NewProtocolError(ErrCodeSystem, "boom")
	assert.True(t, errors.Is(err, NewProtocolError(ErrCodeSystem, "other message")))
	assert.False(t, errors.Is(err, NewProtocolError(ErrCodeClose, "")))
}

func TestErrorCode_Wrapped(t *testing.T) {
	inner := NewProtocolError(ErrCodeConnectionInvalid, "vetoed")
	wrapped := fmt.Errorf("session open: %w", inner)

	assert.Equal(t, ErrCodeConnectionInvalid, ErrorCode(wrapped))
	assert.True(t, IsProtocolError(wrapped, ErrCodeConnectionInvalid))
	assert.False(t, IsProtocolError(wrapped, ErrCodeSystem))
}

func TestErrorCode_Plain(t *testing.T) {
	assert.Equal(t, ErrCodeSystem, ErrorCode(errors.New("plain failure")))
}
