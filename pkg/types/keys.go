package types

import (
	"bytes"
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// TopicSize 主题密钥的标准长度（字节）
const TopicSize = 32

// DiscoveryKeySize 发现密钥长度（字节）
const DiscoveryKeySize = 32

// discoveryNamespace 发现密钥派生的固定输入
//
// 与 hypercore 的约定一致：discovery_key = BLAKE2b-256(key=topic, data="hypercore")，
// 使得持有主题的双方能计算出相同的发现密钥，而发现密钥本身不泄露主题。
var discoveryNamespace = []byte("hypercore")

// Topic 会话主题密钥
//
// 由双方在带外共享的不透明字节密钥（通常 32 字节），
// 同时作为底层传输的初始 feed 密钥。
type Topic []byte

// NewTopic 生成随机主题密钥
func NewTopic() (Topic, error) {
	topic := make(Topic, TopicSize)
	if _, err := rand.Read(topic); err != nil {
		return nil, fmt.Errorf("generate topic: %w", err)
	}
	return topic, nil
}

// Equal 比较两个主题是否相同
func (t Topic) Equal(other Topic) bool {
	return bytes.Equal(t, other)
}

// String 返回主题的短指纹（用于日志）
func (t Topic) String() string {
	return Fingerprint(t)
}

// DiscoveryKey 主题派生出的发现密钥
type DiscoveryKey [DiscoveryKeySize]byte

// DeriveDiscoveryKey 由主题派生发现密钥
func DeriveDiscoveryKey(topic Topic) DiscoveryKey {
	h, err := blake2b.New256(topic)
	if err != nil {
		// blake2b 仅在密钥超过 64 字节时报错，主题按约定为 32 字节；
		// 超长主题退化为对 topic||namespace 的无密钥哈希
		return DiscoveryKey(blake2b.Sum256(append(append([]byte{}, topic...), discoveryNamespace...)))
	}
	h.Write(discoveryNamespace)

	var key DiscoveryKey
	copy(key[:], h.Sum(nil))
	return key
}

// Bytes 返回发现密钥的字节切片副本
func (k DiscoveryKey) Bytes() []byte {
	out := make([]byte, DiscoveryKeySize)
	copy(out, k[:])
	return out
}

// Equal 比较两个发现密钥
func (k DiscoveryKey) Equal(other DiscoveryKey) bool {
	return k == other
}

// String 返回发现密钥的短指纹（用于日志）
func (k DiscoveryKey) String() string {
	return Fingerprint(k[:])
}

// Fingerprint 返回密钥的 Base58 短指纹
//
// 取前 8 字节编码，避免整个密钥进入日志。
func Fingerprint(key []byte) string {
	if len(key) == 0 {
		return "(empty)"
	}
	if len(key) > 8 {
		key = key[:8]
	}
	return base58.Encode(key)
}

// RandomID 生成 n 字节随机标识
func RandomID(n int) ([]byte, error) {
	id := make([]byte, n)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	return id, nil
}
