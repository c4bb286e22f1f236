package extension

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/dxos/go-protocol/pkg/lib/proto/wire"
	"github.com/dxos/go-protocol/pkg/types"
)

func TestCodec_RawRoundTrip(t *testing.T) {
	codec := NewCodec()

	payload, err := codec.EncodePayload([]byte("ping"))
	require.NoError(t, err)
	require.NotNil(t, payload)
	assert.Equal(t, wire.TypeURLBuffer, payload.TypeURL)

	decoded, err := codec.DecodePayload(payload)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), decoded)
}

func TestCodec_StructuredRoundTrip(t *testing.T) {
	codec := NewCodec()
	codec.RegisterSchema(&wrapperspb.StringValue{})

	payload, err := codec.EncodePayload(wrapperspb.String("hello"))
	require.NoError(t, err)
	assert.Equal(t, "google.protobuf.StringValue", payload.TypeURL)

	decoded, err := codec.DecodePayload(payload)
	require.NoError(t, err)
	msg, ok := decoded.(*wrapperspb.StringValue)
	require.True(t, ok)
	assert.Equal(t, "hello", msg.GetValue())
}

func TestCodec_UnknownTypeURL(t *testing.T) {
	codec := NewCodec()

	_, err := codec.DecodePayload(&wire.Any{TypeURL: "unknown.Type", Value: []byte{1}})
	assert.ErrorIs(t, err, ErrUnknownPayloadType)
}

func TestCodec_InvalidArgument(t *testing.T) {
	codec := NewCodec()

	_, err := codec.EncodePayload(42)
	assert.True(t, types.IsProtocolError(err, types.ErrCodeInvalidArgument))
}

func TestCodec_NilPayload(t *testing.T) {
	codec := NewCodec()

	payload, err := codec.EncodePayload(nil)
	require.NoError(t, err)
	assert.Nil(t, payload)

	decoded, err := codec.DecodePayload(nil)
	require.NoError(t, err)
	assert.Nil(t, decoded)
}
