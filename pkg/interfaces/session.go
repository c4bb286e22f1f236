package interfaces

import "github.com/dxos/go-protocol/pkg/types"

// Session 处理器可见的会话视图
//
// 扩展处理器通过该接口访问所属会话，
// 避免处理器直接依赖会话实现。
type Session interface {
	// GetSession 返回对端的会话数据（握手完成后可用）
	GetSession() types.SessionData

	// GetContext 返回本地上下文（不会被传输）
	GetContext() map[string]any

	// Close 关闭会话（幂等）
	Close() error
}

// MessageOptions 单条消息的选项
type MessageOptions struct {
	// Oneway 单向消息：接收方不得响应，发送方不登记挂起调用
	Oneway bool
}

// MessageHandler 扩展消息处理器
//
// data 为解码后的载荷：原始模式下是 []byte，
// 结构化模式下是注册 schema 的消息类型。
// 非单向消息的返回值会作为响应发回；返回 error 会转换为错误响应。
type MessageHandler func(s Session, data any, opts MessageOptions) (any, error)

// InitHandler 扩展初始化处理器
//
// 失败会使会话在初始化门控上发送 invalid，否决本次连接。
type InitHandler func(s Session) error

// HandshakeHandler 握手处理器
//
// 在初始化门控双方都通过之后调用。
type HandshakeHandler func(s Session) error

// FeedHandler feed 到达处理器
type FeedHandler func(s Session, discoveryKey []byte)

// CloseHandler 关闭处理器
//
// err 为关闭原因，正常关闭时为 nil。
type CloseHandler func(err error)
