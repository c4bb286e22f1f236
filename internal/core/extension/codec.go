package extension

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	"github.com/dxos/go-protocol/pkg/lib/proto/wire"
	"github.com/dxos/go-protocol/pkg/types"
)

// Codec 单个扩展的信封编解码器
//
// 两种载荷模式：
//   - 原始模式：载荷为 []byte，上线时包装为 Buffer 消息
//   - 结构化模式：载荷为按 type_url 注册的 proto.Message
//
// 同一个信封结构同时承载两种载荷，接收端按 type_url 分发。
type Codec struct {
	schemas map[string]func() proto.Message
}

// NewCodec 创建编解码器
func NewCodec() *Codec {
	return &Codec{
		schemas: make(map[string]func() proto.Message),
	}
}

// RegisterSchema 注册结构化载荷类型
//
// type_url 取消息的完整名（FullName）。
func (c *Codec) RegisterSchema(template proto.Message) {
	name := string(template.ProtoReflect().Descriptor().FullName())
	c.schemas[name] = func() proto.Message {
		return template.ProtoReflect().New().Interface()
	}
}

// EncodeEnvelope 序列化信封
func (c *Codec) EncodeEnvelope(env *wire.Envelope) ([]byte, error) {
	return env.Marshal()
}

// DecodeEnvelope 反序列化信封
func (c *Codec) DecodeEnvelope(raw []byte) (*wire.Envelope, error) {
	env := &wire.Envelope{}
	if err := env.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return env, nil
}

// EncodePayload 编码载荷为 Any
//
// 接受 []byte（包装为 Buffer）、proto.Message（按完整名标记）或 nil。
// 其他类型返回 ERR_INVALID_ARGUMENT。
func (c *Codec) EncodePayload(message any) (*wire.Any, error) {
	switch m := message.(type) {
	case nil:
		return nil, nil

	case []byte:
		buf := &wire.Buffer{Data: m}
		value, err := buf.Marshal()
		if err != nil {
			return nil, err
		}
		return &wire.Any{TypeURL: wire.TypeURLBuffer, Value: value}, nil

	case proto.Message:
		value, err := proto.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return &wire.Any{
			TypeURL: string(m.ProtoReflect().Descriptor().FullName()),
			Value:   value,
		}, nil

	default:
		return nil, types.NewProtocolErrorf(types.ErrCodeInvalidArgument,
			"unsupported payload type %T", message)
	}
}

// DecodePayload 按 type_url 解码载荷
//
// Buffer 载荷还原为 []byte；已注册的结构化载荷还原为对应消息；
// 未注册的 type_url 返回 ErrUnknownPayloadType。
func (c *Codec) DecodePayload(a *wire.Any) (any, error) {
	if a == nil {
		return nil, nil
	}

	if a.TypeURL == wire.TypeURLBuffer {
		buf := &wire.Buffer{}
		if err := buf.Unmarshal(a.Value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
		}
		return buf.Data, nil
	}

	factory, ok := c.schemas[a.TypeURL]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayloadType, a.TypeURL)
	}

	msg := factory()
	if err := proto.Unmarshal(a.Value, msg); err != nil {
		return nil, fmt.Errorf("unmarshal payload %q: %w", a.TypeURL, err)
	}
	return msg, nil
}
