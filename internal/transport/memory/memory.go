// Package memory 实现进程内的传输层端点对
//
// 两个端点经带缓冲的帧通道直连，复刻真实传输层的行为：
// 交换端标识与 userData、通告扩展名并取交集、
// 按发现密钥匹配 feed 通道、在交集内投递扩展帧。
// 用于测试与示例，不做加密。
package memory

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/dxos/go-protocol/internal/util/logger"
	"github.com/dxos/go-protocol/pkg/interfaces"
	"github.com/dxos/go-protocol/pkg/types"
)

var log = logger.Logger("transport/memory")

// 传输层错误定义
var (
	// ErrEndpointClosed 端点已关闭
	ErrEndpointClosed = errors.New("memory: endpoint closed")

	// ErrNoChannel 尚未打开数据通道
	ErrNoChannel = errors.New("memory: no feed channel open")
)

// frameKind 帧类型
type frameKind uint8

const (
	kindAnnounce frameKind = iota + 1 // 通告 feed 的发现密钥
	kindHandshake                     // 端标识 / userData / 扩展名单
	kindExtension                     // 扩展帧
	kindClose                         // 流结束
)

// frame 端点间传递的帧
type frame struct {
	kind frameKind

	// kindAnnounce
	discoveryKey []byte

	// kindHandshake
	id         []byte
	userData   []byte
	extensions []string

	// kindExtension：varint 成帧的 name+payload
	data []byte

	// kindClose
	errMsg string
	hasErr bool
}

// frameBuffer 端点间通道的缓冲帧数
const frameBuffer = 256

// NewPair 创建一对互联的端点
func NewPair() (*Endpoint, *Endpoint) {
	a := newEndpoint()
	b := newEndpoint()
	a.peer, b.peer = b, a

	go a.pump()
	go b.pump()
	return a, b
}

// newEndpoint 创建端点
func newEndpoint() *Endpoint {
	localID, err := types.RandomID(32)
	if err != nil {
		panic(err)
	}
	return &Endpoint{
		debugID: uuid.NewString(),
		localID: localID,
		in:      make(chan frame, frameBuffer),
		remote:  remoteState{extensions: make(map[string]struct{})},
	}
}

// remoteState 握手后得知的对端状态
type remoteState struct {
	id           []byte
	userData     []byte
	extensions   map[string]struct{}
	hasHandshake bool
	discoveryKey []byte
}

// Endpoint 内存传输端点
type Endpoint struct {
	debugID string
	peer    *Endpoint
	in      chan frame

	mu sync.Mutex

	localID       []byte
	localUserData []byte
	advertised    []string

	fedKey types.DiscoveryKey
	hasFed bool

	remote  remoteState
	matched bool
	hsFired bool

	closed   bool
	closeErr error

	onHandshake func()
	onFeed      func(discoveryKey []byte)
	onClose     func(err error)

	channel *Channel

	// 回调注册前到达的事件在此排队，注册时重放
	pendingFeeds  [][]byte
	pendingFrames [][]byte
	closeDone     bool
}

var _ interfaces.Transport = (*Endpoint)(nil)

// ============================================================================
//                              Transport 接口
// ============================================================================

// SetLocalID 设置本端标识
func (e *Endpoint) SetLocalID(id []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.localID = id
}

// LocalID 返回本端标识
func (e *Endpoint) LocalID() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.localID
}

// RemoteID 返回对端标识
func (e *Endpoint) RemoteID() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote.id
}

// SetLocalUserData 设置握手携带的数据
func (e *Endpoint) SetLocalUserData(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.localUserData = data
}

// RemoteUserData 返回对端握手携带的数据
func (e *Endpoint) RemoteUserData() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote.userData
}

// AdvertiseExtension 追加通告的扩展名
func (e *Endpoint) AdvertiseExtension(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advertised = append(e.advertised, name)
}

// Advertised 返回通告的扩展名列表（测试用）
func (e *Endpoint) Advertised() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.advertised))
	copy(out, e.advertised)
	return out
}

// Feed 以指定密钥打开数据通道
//
// 首次调用创建扩展帧通道并向对端通告发现密钥与握手信息；
// 后续调用只通告新密钥（核心协议只在初始主题通道上复用扩展）。
func (e *Endpoint) Feed(key []byte) (interfaces.FeedChannel, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEndpointClosed
	}

	dk := types.DeriveDiscoveryKey(key)

	if e.hasFed {
		channel := e.channel
		e.mu.Unlock()
		// 追加 feed：仅通告
		e.sendToPeer(frame{kind: kindAnnounce, discoveryKey: dk.Bytes()})
		return channel, nil
	}

	e.hasFed = true
	e.fedKey = dk
	e.channel = &Channel{endpoint: e}

	// 对端的通告可能先于本端 Feed 到达
	if e.remote.discoveryKey != nil && dk.Equal(toDiscoveryKey(e.remote.discoveryKey)) {
		e.matched = true
	}

	localID := e.localID
	userData := e.localUserData
	advertised := make([]string, len(e.advertised))
	copy(advertised, e.advertised)
	channel := e.channel
	e.mu.Unlock()

	e.sendToPeer(frame{kind: kindAnnounce, discoveryKey: dk.Bytes()})
	e.sendToPeer(frame{
		kind:       kindHandshake,
		id:         localID,
		userData:   userData,
		extensions: advertised,
	})

	e.mu.Lock()
	e.maybeHandshakeLocked()
	e.mu.Unlock()

	log.Debug("打开 feed 通道", "endpoint", e.debugID, "dk", dk)
	return channel, nil
}

// OnHandshake 注册握手回调
//
// 握手已完成时立即触发。
func (e *Endpoint) OnHandshake(fn func()) {
	e.mu.Lock()
	fired := e.hsFired
	e.onHandshake = fn
	e.mu.Unlock()

	if fired && fn != nil {
		fn()
	}
}

// OnFeed 注册 feed 到达回调，并重放此前排队的事件
func (e *Endpoint) OnFeed(fn func(discoveryKey []byte)) {
	e.mu.Lock()
	e.onFeed = fn
	pending := e.pendingFeeds
	e.pendingFeeds = nil
	e.mu.Unlock()

	if fn != nil {
		for _, dk := range pending {
			fn(dk)
		}
	}
}

// OnClose 注册流结束回调
func (e *Endpoint) OnClose(fn func(err error)) {
	e.mu.Lock()
	e.onClose = fn
	closed := e.closeDone
	err := e.closeErr
	e.mu.Unlock()

	if closed && fn != nil {
		fn(err)
	}
}

// Destroy 销毁流并通知对端
func (e *Endpoint) Destroy(err error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.closeErr = err
	e.mu.Unlock()

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	e.sendToPeer(frame{kind: kindClose, errMsg: msg, hasErr: err != nil})

	e.fireClose(err)
	log.Debug("端点销毁", "endpoint", e.debugID, "err", err)
}

// Closed 返回流是否已结束
func (e *Endpoint) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// ============================================================================
//                              帧泵
// ============================================================================

// sendToPeer 把帧投递给对端（对端已关闭时丢弃）
func (e *Endpoint) sendToPeer(f frame) {
	peer := e.peer

	peer.mu.Lock()
	closed := peer.closed
	peer.mu.Unlock()
	if closed {
		return
	}

	select {
	case peer.in <- f:
	default:
		// 对端停止消费（通常已在关闭路径上），丢弃
		log.Warn("对端入站缓冲已满，丢弃帧", "endpoint", e.debugID, "kind", f.kind)
	}
}

// pump 按到达顺序处理入站帧
func (e *Endpoint) pump() {
	for f := range e.in {
		switch f.kind {
		case kindAnnounce:
			e.handleAnnounce(f.discoveryKey)

		case kindHandshake:
			e.handleHandshake(f)

		case kindExtension:
			e.handleExtension(f.data)

		case kindClose:
			var err error
			if f.hasErr {
				err = errors.New(f.errMsg)
			}
			e.mu.Lock()
			e.closed = true
			e.closeErr = err
			e.mu.Unlock()
			e.fireClose(err)
			return
		}
	}
}

// handleAnnounce 处理对端的 feed 通告
func (e *Endpoint) handleAnnounce(dk []byte) {
	e.mu.Lock()
	e.remote.discoveryKey = dk

	if e.hasFed && e.fedKey.Equal(toDiscoveryKey(dk)) {
		e.matched = true
	}

	fn := e.onFeed
	if fn == nil {
		e.pendingFeeds = append(e.pendingFeeds, dk)
	}
	e.maybeHandshakeLocked()
	e.mu.Unlock()

	if fn != nil {
		fn(dk)
	}
}

// handleHandshake 处理对端的握手信息
func (e *Endpoint) handleHandshake(f frame) {
	e.mu.Lock()
	e.remote.id = f.id
	e.remote.userData = f.userData
	for _, name := range f.extensions {
		e.remote.extensions[name] = struct{}{}
	}
	e.remote.hasHandshake = true
	e.maybeHandshakeLocked()
	e.mu.Unlock()
}

// maybeHandshakeLocked 条件满足时触发握手回调（调用方持锁）
//
// 条件：双方 feed 的发现密钥匹配，且收到了对端的握手信息。
func (e *Endpoint) maybeHandshakeLocked() {
	if e.hsFired || !e.matched || !e.remote.hasHandshake || !e.hasFed {
		return
	}
	e.hsFired = true
	fn := e.onHandshake

	if fn != nil {
		// 在锁外触发
		go fn()
	}
}

// handleExtension 处理扩展帧
//
// 只投递双方通告交集内的扩展名；通道回调未注册时排队。
func (e *Endpoint) handleExtension(data []byte) {
	name, payload, err := decodeExtensionFrame(data)
	if err != nil {
		log.Warn("丢弃无法解析的扩展帧", "endpoint", e.debugID, "err", err)
		return
	}

	e.mu.Lock()
	_, remoteHas := e.remote.extensions[name]
	localHas := false
	for _, n := range e.advertised {
		if n == name {
			localHas = true
			break
		}
	}
	channel := e.channel
	e.mu.Unlock()

	if !remoteHas || !localHas {
		log.Debug("丢弃交集外的扩展帧", "endpoint", e.debugID, "extension", name)
		return
	}
	if channel == nil {
		return
	}

	channel.deliver(data, name, payload)
}

// fireClose 触发流结束回调（一次性）
func (e *Endpoint) fireClose(err error) {
	e.mu.Lock()
	if e.closeDone {
		e.mu.Unlock()
		return
	}
	e.closeDone = true
	fn := e.onClose
	e.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}

// toDiscoveryKey 把字节切片转换为发现密钥
func toDiscoveryKey(raw []byte) types.DiscoveryKey {
	var dk types.DiscoveryKey
	copy(dk[:], raw)
	return dk
}
