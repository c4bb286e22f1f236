package protocol

import "github.com/dxos/go-protocol/pkg/types"

// 稳定错误码再导出
//
// 本地拒绝与远端错误响应共用同一套码表，
// 调用方用 IsProtocolError / ErrorCode 按码分支。
const (
	// ErrCodeHandshakeFailed 用户握手回调失败
	ErrCodeHandshakeFailed = types.ErrCodeHandshakeFailed

	// ErrCodeConnectionInvalid 初始化门控否决，或发现密钥未匹配到公钥
	ErrCodeConnectionInvalid = types.ErrCodeConnectionInvalid

	// ErrCodeExtensionMissing 收到未注册扩展的帧
	ErrCodeExtensionMissing = types.ErrCodeExtensionMissing

	// ErrCodeInitFailed 扩展的 open 或 onInit 在本地失败
	ErrCodeInitFailed = types.ErrCodeInitFailed

	// ErrCodeRequestTimeout 挂起调用超时
	ErrCodeRequestTimeout = types.ErrCodeRequestTimeout

	// ErrCodeSystem 处理器抛出的通用异常
	ErrCodeSystem = types.ErrCodeSystem

	// ErrCodeNoHandler 收到请求但未安装处理器
	ErrCodeNoHandler = types.ErrCodeNoHandler

	// ErrCodeInvalidArgument 本地调用参数非法
	ErrCodeInvalidArgument = types.ErrCodeInvalidArgument

	// ErrCodeAlreadyOpen 扩展重复打开
	ErrCodeAlreadyOpen = types.ErrCodeAlreadyOpen

	// ErrCodeClose 会话或扩展已关闭
	ErrCodeClose = types.ErrCodeClose
)

// IsProtocolError 判断错误链中是否含指定错误码
func IsProtocolError(err error, code string) bool {
	return types.IsProtocolError(err, code)
}

// ErrorCode 提取错误链中的协议错误码
func ErrorCode(err error) string {
	return types.ErrorCode(err)
}
