package types

import (
	"errors"
	"fmt"
)

// 协议错误码
//
// 错误码是跨对端稳定的字符串，本地拒绝与远端错误响应
// 共用同一套码表，调用方可按 Code 分支处理。
const (
	// ErrCodeHandshakeFailed 用户握手回调失败
	ErrCodeHandshakeFailed = "ERR_PROTOCOL_HANDSHAKE_FAILED"

	// ErrCodeConnectionInvalid 初始化门控否决，或发现密钥未匹配到公钥
	ErrCodeConnectionInvalid = "ERR_PROTOCOL_CONNECTION_INVALID"

	// ErrCodeExtensionMissing 收到未注册扩展的帧
	ErrCodeExtensionMissing = "ERR_PROTOCOL_EXTENSION_MISSING"

	// ErrCodeInitFailed 扩展的 open 或 onInit 在本地失败
	ErrCodeInitFailed = "ERR_PROTOCOL_INIT_FAILED"

	// ErrCodeRequestTimeout 挂起调用超过 timeout
	ErrCodeRequestTimeout = "ERR_REQUEST_TIMEOUT"

	// ErrCodeSystem 处理器抛出的通用异常（暴露给远端）
	ErrCodeSystem = "ERR_SYSTEM"

	// ErrCodeNoHandler 收到请求但未安装处理器
	ErrCodeNoHandler = "ERR_NO_HANDLER"

	// ErrCodeInvalidArgument 本地调用参数非法
	ErrCodeInvalidArgument = "ERR_INVALID_ARGUMENT"

	// ErrCodeAlreadyOpen 扩展重复 Open
	ErrCodeAlreadyOpen = "ERR_ALREADY_OPEN"

	// ErrCodeClose 会话或扩展已关闭
	ErrCodeClose = "ERR_CLOSE"
)

// ProtocolError 携带稳定错误码的协议错误
//
// Code 在对端间保持稳定；Message 仅供人读。
type ProtocolError struct {
	Code    string
	Message string
}

// NewProtocolError 创建协议错误
func NewProtocolError(code, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}

// NewProtocolErrorf 创建带格式化消息的协议错误
func NewProtocolErrorf(code, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Error 实现 error 接口
func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

// Is 支持 errors.Is 按错误码比较
//
// 两个 ProtocolError 在 Code 相同时视为同一错误。
func (e *ProtocolError) Is(target error) bool {
	var pe *ProtocolError
	if errors.As(target, &pe) {
		return e.Code == pe.Code
	}
	return false
}

// ErrorCode 提取错误链中的协议错误码
//
// 链上没有 ProtocolError 时返回 ERR_SYSTEM。
func ErrorCode(err error) string {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeSystem
}

// IsProtocolError 判断错误链中是否含指定错误码
func IsProtocolError(err error, code string) bool {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
