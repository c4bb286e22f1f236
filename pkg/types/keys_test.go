package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTopic(t *testing.T) {
	t1, err := NewTopic()
	require.NoError(t, err)
	require.Len(t, t1, TopicSize)

	t2, err := NewTopic()
	require.NoError(t, err)
	assert.False(t, t1.Equal(t2), "two random topics should differ")
}

func TestDeriveDiscoveryKey_Deterministic(t *testing.T) {
	topic, err := NewTopic()
	require.NoError(t, err)

	k1 := DeriveDiscoveryKey(topic)
	k2 := DeriveDiscoveryKey(topic)
	assert.True(t, k1.Equal(k2), "same topic must derive the same discovery key")

	other, err := NewTopic()
	require.NoError(t, err)
	k3 := DeriveDiscoveryKey(other)
	assert.False(t, k1.Equal(k3), "different topics must derive different discovery keys")
}

func TestDeriveDiscoveryKey_NotTopic(t *testing.T) {
	topic, err := NewTopic()
	require.NoError(t, err)

	key := DeriveDiscoveryKey(topic)
	assert.NotEqual(t, []byte(topic), key.Bytes(), "discovery key must not equal the topic")
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "(empty)", Fingerprint(nil))

	topic, err := NewTopic()
	require.NoError(t, err)
	fp := Fingerprint(topic)
	assert.NotEmpty(t, fp)
	// 指纹只取前 8 字节，长输入不改变结果
	assert.Equal(t, fp, Fingerprint(topic[:8]))
}

func TestRandomID(t *testing.T) {
	id, err := RandomID(32)
	require.NoError(t, err)
	require.Len(t, id, 32)
}
