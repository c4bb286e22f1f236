package memory

import (
	"fmt"
	"sync"

	"github.com/multiformats/go-varint"

	"github.com/dxos/go-protocol/pkg/interfaces"
)

// Channel feed 上的扩展帧通道
type Channel struct {
	endpoint *Endpoint

	mu          sync.Mutex
	onExtension func(name string, payload []byte)

	// 回调注册前到达的帧，注册时重放
	pending [][]byte
}

var _ interfaces.FeedChannel = (*Channel)(nil)

// Extension 发送一条扩展帧
func (c *Channel) Extension(name string, payload []byte) error {
	if c.endpoint.Closed() {
		return ErrEndpointClosed
	}

	c.endpoint.sendToPeer(frame{
		kind: kindExtension,
		data: encodeExtensionFrame(name, payload),
	})
	return nil
}

// deliver 投递一条入站扩展帧（回调未注册时排队）
func (c *Channel) deliver(raw []byte, name string, payload []byte) {
	c.mu.Lock()
	fn := c.onExtension
	if fn == nil {
		c.pending = append(c.pending, raw)
	}
	c.mu.Unlock()

	if fn != nil {
		fn(name, payload)
	}
}

// OnExtension 注册扩展帧回调，并重放此前排队的帧
func (c *Channel) OnExtension(fn func(name string, payload []byte)) {
	c.mu.Lock()
	c.onExtension = fn
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	if fn == nil {
		return
	}
	for _, data := range pending {
		name, payload, err := decodeExtensionFrame(data)
		if err != nil {
			continue
		}
		fn(name, payload)
	}
}

// encodeExtensionFrame 编码扩展帧
//
// 布局: varint(len(name)) || name || varint(len(payload)) || payload
func encodeExtensionFrame(name string, payload []byte) []byte {
	buf := make([]byte, 0, len(name)+len(payload)+8)
	buf = append(buf, varint.ToUvarint(uint64(len(name)))...)
	buf = append(buf, name...)
	buf = append(buf, varint.ToUvarint(uint64(len(payload)))...)
	buf = append(buf, payload...)
	return buf
}

// decodeExtensionFrame 解码扩展帧
func decodeExtensionFrame(data []byte) (name string, payload []byte, err error) {
	nameLen, n, err := varint.FromUvarint(data)
	if err != nil {
		return "", nil, fmt.Errorf("memory: bad name length: %w", err)
	}
	data = data[n:]
	if nameLen > uint64(len(data)) {
		return "", nil, fmt.Errorf("memory: truncated name")
	}
	name = string(data[:nameLen])
	data = data[nameLen:]

	payloadLen, n, err := varint.FromUvarint(data)
	if err != nil {
		return "", nil, fmt.Errorf("memory: bad payload length: %w", err)
	}
	data = data[n:]
	if payloadLen > uint64(len(data)) {
		return "", nil, fmt.Errorf("memory: truncated payload")
	}
	payload = append([]byte{}, data[:payloadLen]...)

	return name, payload, nil
}
