package protocol

import (
	"github.com/dxos/go-protocol/internal/core/extension"
	"github.com/dxos/go-protocol/internal/core/session"
	"github.com/dxos/go-protocol/pkg/interfaces"
	"github.com/dxos/go-protocol/pkg/types"
)

// 面向调用方的类型别名
type (
	// Session 一条传输流上的协议会话
	Session = session.Session

	// Extension 命名扩展通道
	Extension = extension.Extension

	// Response 非单向请求的响应
	Response = extension.Response

	// Topic 会话主题密钥
	Topic = types.Topic

	// SessionData 握手期间交换的会话数据
	SessionData = types.SessionData

	// ProtocolError 携带稳定错误码的协议错误
	ProtocolError = types.ProtocolError

	// Transport 会话消费的传输层接口
	Transport = interfaces.Transport

	// SessionOption 会话配置选项
	SessionOption = session.Option

	// ExtensionOption 扩展配置选项
	ExtensionOption = extension.Option
)

// New 在一条传输流上创建会话
func New(transport interfaces.Transport, opts ...SessionOption) *Session {
	return session.New(transport, opts...)
}

// NewExtension 创建扩展
func NewExtension(name string, opts ...ExtensionOption) *Extension {
	return extension.New(name, opts...)
}

// NewTopic 生成随机主题密钥
func NewTopic() (Topic, error) {
	return types.NewTopic()
}

// 会话选项再导出
var (
	// WithLocalID 设置传输层本端标识
	WithLocalID = session.WithLocalID

	// WithInitTimeout 设置初始化门控等待时长
	WithInitTimeout = session.WithInitTimeout

	// WithDiscoveryToPublicKey 设置发现密钥解析器
	WithDiscoveryToPublicKey = session.WithDiscoveryToPublicKey
)

// 扩展选项再导出
var (
	// WithTimeout 设置扩展的请求超时
	WithTimeout = extension.WithTimeout

	// WithSchema 注册结构化载荷类型
	WithSchema = extension.WithSchema
)
