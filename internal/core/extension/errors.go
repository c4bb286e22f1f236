package extension

import "errors"

// 扩展运行时错误定义
var (
	// ErrUnknownPayloadType 载荷的 type_url 未注册
	ErrUnknownPayloadType = errors.New("extension: unknown payload type")

	// ErrInvalidFrame 帧无法解析
	ErrInvalidFrame = errors.New("extension: invalid frame")
)
