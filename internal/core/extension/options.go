package extension

import (
	"time"

	"github.com/benbjohnson/clock"
	"google.golang.org/protobuf/proto"
)

// DefaultTimeout 非单向请求的默认超时
const DefaultTimeout = 2000 * time.Millisecond

// Config 扩展配置
type Config struct {
	// Timeout 非单向请求的响应超时
	Timeout time.Duration

	// Schemas 结构化载荷类型；为空时扩展工作在原始模式
	Schemas []proto.Message

	// Clock 时钟源，测试中可替换为 mock
	Clock clock.Clock
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Timeout: DefaultTimeout,
		Clock:   clock.New(),
	}
}

// Option 配置选项函数
type Option func(*Config)

// WithTimeout 设置请求超时
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithSchema 注册一个结构化载荷类型
func WithSchema(template proto.Message) Option {
	return func(c *Config) {
		c.Schemas = append(c.Schemas, template)
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
