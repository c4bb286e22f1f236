// Package wire 包含扩展信封的 protobuf 定义
//
// 所有扩展共用同一个信封结构，字段号跨对端固定：
//
//	message Envelope {
//	  bytes  id       = 1;   // 32 字节请求标识
//	  Any    data     = 2;   // {type_url, value}
//	  Options options = 3;
//	  Error  error    = 4;
//	}
//	message Any     { string type_url = 1; bytes value = 2; }
//	message Options { bool oneway = 1; }
//	message Error   { string code = 1; string message = 2; }
//	message Buffer  { bytes data = 1; }   // 原始载荷的包装
//
// 使用 protobuf wire format 手工编码：
// 所有消息字段均为 length-delimited（oneway 为 varint），
// 未知的 varint 与 length-delimited 字段跳过以保持向前兼容，
// 其他 wire type 视为无效数据。
package wire

import (
	"errors"
	"fmt"

	"github.com/multiformats/go-varint"
)

// TypeURLBuffer 原始字节载荷的 type_url
const TypeURLBuffer = "dxos.protocol.Buffer"

// IDSize 信封 id 的标准长度（字节）
const IDSize = 32

// ErrInvalidEnvelope 表示无效的信封数据
var ErrInvalidEnvelope = errors.New("wire: invalid envelope data")

// Envelope 扩展消息信封
type Envelope struct {
	// ID 32 字节请求标识，响应按 ID 与请求关联
	ID []byte
	// Data 载荷，Any 形式
	Data *Any
	// Options 消息选项
	Options *Options
	// Error 错误响应信息，仅错误响应携带
	Error *ErrorInfo
}

// Any 动态类型载荷
type Any struct {
	// TypeURL 载荷类型标签
	TypeURL string
	// Value 载荷字节
	Value []byte
}

// Options 消息选项
type Options struct {
	// Oneway 单向消息，不期待响应
	Oneway bool
}

// ErrorInfo 错误响应信息
type ErrorInfo struct {
	// Code 稳定错误码
	Code string
	// Message 人读消息
	Message string
}

// Buffer 原始字节载荷的包装消息
type Buffer struct {
	Data []byte
}

// ============================================================================
//                              编码
// ============================================================================

// appendField 追加一个 length-delimited 字段
func appendField(buf []byte, tag byte, value []byte) []byte {
	buf = append(buf, tag)
	buf = append(buf, varint.ToUvarint(uint64(len(value)))...)
	return append(buf, value...)
}

// Marshal 序列化 Envelope
func (e *Envelope) Marshal() ([]byte, error) {
	result := make([]byte, 0, len(e.ID)+16)

	// Field 1: id (tag = 0x0a, length-delimited)
	if len(e.ID) > 0 {
		result = appendField(result, 0x0a, e.ID)
	}

	// Field 2: data (tag = 0x12, 嵌套 Any)
	if e.Data != nil {
		inner := e.Data.marshal()
		result = appendField(result, 0x12, inner)
	}

	// Field 3: options (tag = 0x1a, 嵌套 Options)
	if e.Options != nil && e.Options.Oneway {
		result = appendField(result, 0x1a, e.Options.marshal())
	}

	// Field 4: error (tag = 0x22, 嵌套 Error)
	if e.Error != nil {
		result = appendField(result, 0x22, e.Error.marshal())
	}

	return result, nil
}

func (a *Any) marshal() []byte {
	result := make([]byte, 0, len(a.TypeURL)+len(a.Value)+8)
	if a.TypeURL != "" {
		result = appendField(result, 0x0a, []byte(a.TypeURL))
	}
	if len(a.Value) > 0 {
		result = appendField(result, 0x12, a.Value)
	}
	return result
}

func (o *Options) marshal() []byte {
	if !o.Oneway {
		return nil
	}
	// Field 1: oneway (tag = 0x08, varint)
	return []byte{0x08, 0x01}
}

func (e *ErrorInfo) marshal() []byte {
	result := make([]byte, 0, len(e.Code)+len(e.Message)+8)
	if e.Code != "" {
		result = appendField(result, 0x0a, []byte(e.Code))
	}
	if e.Message != "" {
		result = appendField(result, 0x12, []byte(e.Message))
	}
	return result
}

// Marshal 序列化 Buffer
func (b *Buffer) Marshal() ([]byte, error) {
	if len(b.Data) == 0 {
		return []byte{}, nil
	}
	return appendField(make([]byte, 0, len(b.Data)+8), 0x0a, b.Data), nil
}

// ============================================================================
//                              解码
// ============================================================================

// consumeField 解码单个字段，返回字段号、载荷与剩余数据
//
// length-delimited 字段返回载荷字节；varint 字段返回其值。
func consumeField(data []byte) (fieldNum uint64, wireType uint64, payload []byte, value uint64, rest []byte, err error) {
	tag, n, err := varint.FromUvarint(data)
	if err != nil {
		return 0, 0, nil, 0, nil, ErrInvalidEnvelope
	}
	data = data[n:]

	fieldNum = tag >> 3
	wireType = tag & 0x07

	switch wireType {
	case 0: // varint
		v, n, err := varint.FromUvarint(data)
		if err != nil {
			return 0, 0, nil, 0, nil, ErrInvalidEnvelope
		}
		return fieldNum, wireType, nil, v, data[n:], nil

	case 2: // length-delimited
		length, n, err := varint.FromUvarint(data)
		if err != nil {
			return 0, 0, nil, 0, nil, ErrInvalidEnvelope
		}
		data = data[n:]
		if length > uint64(len(data)) {
			return 0, 0, nil, 0, nil, ErrInvalidEnvelope
		}
		return fieldNum, wireType, data[:length], 0, data[length:], nil

	default:
		// 其余 wire type 在本协议中不出现
		return 0, 0, nil, 0, nil, fmt.Errorf("%w: unexpected wire type %d", ErrInvalidEnvelope, wireType)
	}
}

// Unmarshal 反序列化 Envelope
func (e *Envelope) Unmarshal(data []byte) error {
	for len(data) > 0 {
		fieldNum, wireType, payload, _, rest, err := consumeField(data)
		if err != nil {
			return err
		}
		data = rest

		if wireType != 2 {
			// 未知 varint 字段静默忽略（向前兼容）
			continue
		}

		switch fieldNum {
		case 1: // id
			e.ID = append([]byte{}, payload...)
		case 2: // data
			a := &Any{}
			if err := a.unmarshal(payload); err != nil {
				return err
			}
			e.Data = a
		case 3: // options
			o := &Options{}
			if err := o.unmarshal(payload); err != nil {
				return err
			}
			e.Options = o
		case 4: // error
			ei := &ErrorInfo{}
			if err := ei.unmarshal(payload); err != nil {
				return err
			}
			e.Error = ei
			// 其他字段静默忽略（向前兼容）
		}
	}
	return nil
}

func (a *Any) unmarshal(data []byte) error {
	for len(data) > 0 {
		fieldNum, wireType, payload, _, rest, err := consumeField(data)
		if err != nil {
			return err
		}
		data = rest

		if wireType != 2 {
			continue
		}

		switch fieldNum {
		case 1:
			a.TypeURL = string(payload)
		case 2:
			a.Value = append([]byte{}, payload...)
		}
	}
	return nil
}

func (o *Options) unmarshal(data []byte) error {
	for len(data) > 0 {
		fieldNum, wireType, _, value, rest, err := consumeField(data)
		if err != nil {
			return err
		}
		data = rest

		if wireType == 0 && fieldNum == 1 {
			o.Oneway = value != 0
		}
	}
	return nil
}

func (e *ErrorInfo) unmarshal(data []byte) error {
	for len(data) > 0 {
		fieldNum, wireType, payload, _, rest, err := consumeField(data)
		if err != nil {
			return err
		}
		data = rest

		if wireType != 2 {
			continue
		}

		switch fieldNum {
		case 1:
			e.Code = string(payload)
		case 2:
			e.Message = string(payload)
		}
	}
	return nil
}

// Unmarshal 反序列化 Buffer
func (b *Buffer) Unmarshal(data []byte) error {
	for len(data) > 0 {
		fieldNum, wireType, payload, _, rest, err := consumeField(data)
		if err != nil {
			return err
		}
		data = rest

		if wireType == 2 && fieldNum == 1 {
			b.Data = append([]byte{}, payload...)
		}
	}
	return nil
}
