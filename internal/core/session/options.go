package session

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dxos/go-protocol/pkg/types"
)

// DefaultInitTimeout 初始化门控的默认等待时长
const DefaultInitTimeout = 5000 * time.Millisecond

// DiscoveryToPublicKey 把收到的发现密钥映射回公开主题密钥
//
// 返回 nil 主题表示本端不认识这个发现密钥。
type DiscoveryToPublicKey func(ctx context.Context, discoveryKey []byte) (types.Topic, error)

// IdentityResolver 默认解析器：把发现密钥原样当作主题
func IdentityResolver(_ context.Context, discoveryKey []byte) (types.Topic, error) {
	return types.Topic(discoveryKey), nil
}

// Config 会话配置
type Config struct {
	// LocalID 传输层的本端标识；为空时随机生成 32 字节
	LocalID []byte

	// InitTimeout 初始化门控等待时长
	InitTimeout time.Duration

	// DiscoveryToPublicKey 发现密钥解析器
	DiscoveryToPublicKey DiscoveryToPublicKey

	// Clock 时钟源，测试中可替换为 mock
	Clock clock.Clock
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		InitTimeout:          DefaultInitTimeout,
		DiscoveryToPublicKey: IdentityResolver,
		Clock:                clock.New(),
	}
}

// Option 配置选项函数
type Option func(*Config)

// WithLocalID 设置传输层本端标识
func WithLocalID(id []byte) Option {
	return func(c *Config) {
		c.LocalID = id
	}
}

// WithInitTimeout 设置初始化门控等待时长
func WithInitTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.InitTimeout = timeout
		}
	}
}

// WithDiscoveryToPublicKey 设置发现密钥解析器
func WithDiscoveryToPublicKey(fn DiscoveryToPublicKey) Option {
	return func(c *Config) {
		if fn != nil {
			c.DiscoveryToPublicKey = fn
		}
	}
}

// WithClock 设置时钟源
func WithClock(clk clock.Clock) Option {
	return func(c *Config) {
		if clk != nil {
			c.Clock = clk
		}
	}
}
