package types

import "encoding/json"

// SessionData 握手期间交换的会话数据
//
// 本地副本在 open 之前设置，远端副本在传输层握手之后可读。
// 握手完成后在连接生命周期内不可变。
type SessionData map[string]any

// EncodeSessionData 将会话数据编码为传输层 userData 字节
func EncodeSessionData(data SessionData) ([]byte, error) {
	if data == nil {
		data = SessionData{}
	}
	return json.Marshal(data)
}

// DecodeSessionData 从传输层 userData 解码会话数据
//
// 解码失败返回空 map，不报错：远端数据损坏不应中断连接。
func DecodeSessionData(raw []byte) SessionData {
	if len(raw) == 0 {
		return SessionData{}
	}
	var data SessionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return SessionData{}
	}
	return data
}

// Stats 扩展的消息计数快照
type Stats struct {
	// Send 已发送消息数
	Send uint64

	// Receive 已接收消息数
	Receive uint64

	// Error 错误计数（解码失败、无处理器、处理器异常）
	Error uint64
}
