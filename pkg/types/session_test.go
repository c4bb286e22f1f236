package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionData_RoundTrip(t *testing.T) {
	data := SessionData{"peerId": "alice", "caps": []any{"chat", "feed"}}

	raw, err := EncodeSessionData(data)
	require.NoError(t, err)

	decoded := DecodeSessionData(raw)
	assert.Equal(t, "alice", decoded["peerId"])
}

func TestDecodeSessionData_Garbage(t *testing.T) {
	decoded := DecodeSessionData([]byte("{not json"))
	assert.NotNil(t, decoded)
	assert.Empty(t, decoded)
}

func TestEncodeSessionData_Nil(t *testing.T) {
	raw, err := EncodeSessionData(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(raw))
}
