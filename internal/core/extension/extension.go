// Package extension 实现单个扩展通道的消息运行时
//
// 每个扩展是会话上复用的一条命名逻辑通道，拥有独立的
// 编解码器、处理器与挂起调用表。请求与响应通过信封 id 关联，
// 非单向请求受超时约束。
package extension

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dxos/go-protocol/internal/core/eventbus"
	"github.com/dxos/go-protocol/internal/util/logger"
	"github.com/dxos/go-protocol/pkg/interfaces"
	"github.com/dxos/go-protocol/pkg/lib/proto/wire"
	"github.com/dxos/go-protocol/pkg/types"
)

var log = logger.Logger("core/extension")

// Session 扩展对所属会话的最小依赖
//
// 会话独占扩展的所有权，扩展仅持有非拥有型回引；
// 所有写入都经由会话序列化到传输层。
type Session interface {
	interfaces.Session

	// WriteFrame 向传输层写出一条扩展帧
	WriteFrame(name string, payload []byte) error
}

// State 扩展生命周期状态
type State int32

const (
	// StateNew 已创建，尚未绑定会话
	StateNew State = iota
	// StateOpen 已绑定会话
	StateOpen
	// StateInitialized onInit 已执行
	StateInitialized
	// StateRunning 握手完成
	StateRunning
	// StateClosed 终态
	StateClosed
)

// Response 非单向请求的响应
type Response struct {
	// Data 解码后的响应载荷
	Data any
}

// Extension 单个扩展通道的运行时
type Extension struct {
	name  string
	cfg   *Config
	codec *Codec

	mu      sync.Mutex
	session Session
	state   atomic.Int32

	onInit      interfaces.InitHandler
	onHandshake interfaces.HandshakeHandler
	onMessage   interfaces.MessageHandler
	onFeed      interfaces.FeedHandler
	onClose     interfaces.CloseHandler

	pending *pendingTable
	queue   *frameQueue
	loopWG  sync.WaitGroup

	bus *eventbus.Bus // 由会话在 Open 时注入，可为 nil

	statSend    atomic.Uint64
	statReceive atomic.Uint64
	statError   atomic.Uint64
}

// New 创建扩展
func New(name string, opts ...Option) *Extension {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	codec := NewCodec()
	for _, schema := range cfg.Schemas {
		codec.RegisterSchema(schema)
	}

	return &Extension{
		name:    name,
		cfg:     cfg,
		codec:   codec,
		pending: newPendingTable(),
		queue:   newFrameQueue(),
	}
}

// Name 返回扩展名
func (e *Extension) Name() string {
	return e.name
}

// State 返回当前状态
func (e *Extension) State() State {
	return State(e.state.Load())
}

// Stats 返回消息计数快照
func (e *Extension) Stats() types.Stats {
	return types.Stats{
		Send:    e.statSend.Load(),
		Receive: e.statReceive.Load(),
		Error:   e.statError.Load(),
	}
}

// ============================================================================
//                              处理器注册
// ============================================================================

// SetOnInit 设置初始化处理器
func (e *Extension) SetOnInit(fn interfaces.InitHandler) *Extension {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onInit = fn
	return e
}

// SetOnHandshake 设置握手处理器
func (e *Extension) SetOnHandshake(fn interfaces.HandshakeHandler) *Extension {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onHandshake = fn
	return e
}

// SetOnMessage 设置消息处理器
func (e *Extension) SetOnMessage(fn interfaces.MessageHandler) *Extension {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMessage = fn
	return e
}

// SetOnFeed 设置 feed 处理器
func (e *Extension) SetOnFeed(fn interfaces.FeedHandler) *Extension {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFeed = fn
	return e
}

// SetOnClose 设置关闭处理器
func (e *Extension) SetOnClose(fn interfaces.CloseHandler) *Extension {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onClose = fn
	return e
}

// ============================================================================
//                              会话驱动的生命周期
// ============================================================================

// Open 绑定会话并启动分发协程
//
// 由会话调用一次；重复调用失败。
func (e *Extension) Open(s Session) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if State(e.state.Load()) != StateNew {
		return types.NewProtocolErrorf(types.ErrCodeAlreadyOpen,
			"extension %q already open", e.name)
	}

	e.session = s
	e.state.Store(int32(StateOpen))

	e.loopWG.Add(1)
	go e.dispatchLoop()

	log.Debug("扩展已打开", "extension", e.name)
	return nil
}

// BindBus 注入事件总线（会话在 Open 前后调用）
func (e *Extension) BindBus(bus *eventbus.Bus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.bus = bus
}

// OnInit 执行用户初始化处理器
//
// 失败会使会话在初始化门控上发送 invalid。
func (e *Extension) OnInit() error {
	e.mu.Lock()
	fn := e.onInit
	s := e.session
	e.mu.Unlock()

	if fn != nil {
		if err := fn(s); err != nil {
			return err
		}
	}

	e.state.Store(int32(StateInitialized))
	return nil
}

// OnHandshake 执行用户握手处理器
func (e *Extension) OnHandshake() error {
	e.mu.Lock()
	fn := e.onHandshake
	s := e.session
	e.mu.Unlock()

	if fn != nil {
		if err := fn(s); err != nil {
			return err
		}
	}

	e.state.Store(int32(StateRunning))
	return nil
}

// OnFeed 分发一次 feed 到达
func (e *Extension) OnFeed(discoveryKey []byte) {
	e.mu.Lock()
	fn := e.onFeed
	s := e.session
	e.mu.Unlock()

	if fn != nil {
		fn(s, discoveryKey)
	}
}

// Close 终结扩展
//
// 以 err（或 ERR_CLOSE）拒绝全部挂起调用并清空调用表；
// 之后的 Send 同步失败，处理器不再触发。幂等。
func (e *Extension) Close(err error) {
	for {
		cur := e.state.Load()
		if State(cur) == StateClosed {
			return
		}
		if e.state.CompareAndSwap(cur, int32(StateClosed)) {
			break
		}
	}

	e.mu.Lock()
	fn := e.onClose
	e.session = nil
	e.mu.Unlock()

	e.queue.close()

	rejectErr := err
	if rejectErr == nil {
		rejectErr = types.NewProtocolError(types.ErrCodeClose, "extension closed")
	}
	e.pending.rejectAll(rejectErr)

	if fn != nil {
		fn(err)
	}

	log.Debug("扩展已关闭", "extension", e.name)
}

// ============================================================================
//                              发送
// ============================================================================

// Send 发送请求并等待响应
//
// 响应、错误响应与超时三者恰有其一；
// 错误响应与超时以 *types.ProtocolError 形式返回。
func (e *Extension) Send(ctx context.Context, message any) (*Response, error) {
	return e.send(ctx, message, false)
}

// SendOneway 发送单向消息
//
// 不登记挂起调用，对端不会响应。
func (e *Extension) SendOneway(message any) error {
	_, err := e.send(context.Background(), message, true)
	return err
}

func (e *Extension) send(ctx context.Context, message any, oneway bool) (*Response, error) {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()

	if s == nil || State(e.state.Load()) == StateClosed {
		return nil, types.NewProtocolErrorf(types.ErrCodeClose,
			"extension %q is closed", e.name)
	}

	payload, err := e.codec.EncodePayload(message)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, types.NewProtocolError(types.ErrCodeInvalidArgument,
			"message must be a byte buffer or a registered schema message")
	}

	id, err := types.RandomID(wire.IDSize)
	if err != nil {
		return nil, err
	}

	env := &wire.Envelope{ID: id, Data: payload}
	if oneway {
		env.Options = &wire.Options{Oneway: true}
	}

	raw, err := e.codec.EncodeEnvelope(env)
	if err != nil {
		return nil, err
	}

	if oneway {
		if err := s.WriteFrame(e.name, raw); err != nil {
			return nil, err
		}
		e.statSend.Add(1)
		e.emit(types.EvtExtensionSend{Extension: e.name})
		return nil, nil
	}

	key, _ := toCallID(id)
	call := &pendingCall{
		id:   key,
		done: make(chan callResult, 1),
	}
	call.timer = e.cfg.Clock.AfterFunc(e.cfg.Timeout, func() {
		if expired := e.pending.expire(key); expired != nil {
			expired.done <- callResult{err: types.NewProtocolErrorf(
				types.ErrCodeRequestTimeout,
				"request on %q timed out after %s", e.name, e.cfg.Timeout)}
		}
	})
	e.pending.insert(call)

	if err := s.WriteFrame(e.name, raw); err != nil {
		e.pending.remove(key)
		return nil, err
	}
	e.statSend.Add(1)
	e.emit(types.EvtExtensionSend{Extension: e.name})

	select {
	case res := <-call.done:
		if res.err != nil {
			return nil, res.err
		}
		return &Response{Data: res.data}, nil

	case <-ctx.Done():
		e.pending.remove(key)
		return nil, ctx.Err()
	}
}

// ============================================================================
//                              接收与分发
// ============================================================================

// Deliver 入队一条到达的帧
//
// 由会话的解复用器调用；帧按到达顺序由扩展自己的协程处理，
// 慢处理器不会反压传输层。
func (e *Extension) Deliver(raw []byte) {
	e.queue.push(raw)
}

// dispatchLoop 按 FIFO 顺序处理入队帧
func (e *Extension) dispatchLoop() {
	defer e.loopWG.Done()
	for {
		raw, ok := e.queue.pop()
		if !ok {
			return
		}
		e.handleFrame(raw)
	}
}

// handleFrame 处理单条帧
func (e *Extension) handleFrame(raw []byte) {
	env, err := e.codec.DecodeEnvelope(raw)
	if err != nil {
		e.statError.Add(1)
		log.Warn("丢弃无法解析的帧",
			"extension", e.name, "bytes", len(raw), "err", err)
		return
	}

	oneway := env.Options != nil && env.Options.Oneway

	// 1. 响应匹配：信封 id 命中挂起调用
	if key, ok := toCallID(env.ID); ok {
		if e.dispatchResponse(key, env) {
			e.statReceive.Add(1)
			e.emit(types.EvtExtensionReceive{Extension: e.name})
			return
		}
		// 已终结调用的重复帧：已响应过的告警丢弃，超时后迟到的静默丢弃，
		// 两者都不改变计数
		if prev, ok := e.pending.outcomeOf(key); ok {
			if prev == outcomeDone {
				log.Warn("丢弃重复响应帧",
					"extension", e.name, "id", types.Fingerprint(env.ID))
			}
			return
		}
	}

	// 2. 新请求
	e.statReceive.Add(1)
	e.emit(types.EvtExtensionReceive{Extension: e.name})
	e.handleRequest(env, oneway)
}

// dispatchResponse 尝试把信封作为响应投递给挂起调用
func (e *Extension) dispatchResponse(key callID, env *wire.Envelope) bool {
	if env.Error != nil {
		return e.pending.resolve(key, nil,
			types.NewProtocolError(env.Error.Code, env.Error.Message))
	}

	data, err := e.codec.DecodePayload(env.Data)
	if err != nil {
		// 只有确实存在挂起调用时才作为解码失败投递
		return e.pending.resolve(key, nil, err)
	}
	return e.pending.resolve(key, data, nil)
}

// handleRequest 处理入站请求
func (e *Extension) handleRequest(env *wire.Envelope, oneway bool) {
	e.mu.Lock()
	fn := e.onMessage
	s := e.session
	e.mu.Unlock()

	if s == nil {
		return
	}

	if fn == nil {
		e.statError.Add(1)
		noHandler := types.NewProtocolErrorf(types.ErrCodeNoHandler,
			"no message handler on %q", e.name)
		log.Warn("丢弃无处理器的请求", "extension", e.name)
		e.emit(types.EvtSessionError{Err: noHandler})
		return
	}

	data, err := e.codec.DecodePayload(env.Data)
	if err != nil {
		e.statError.Add(1)
		if !oneway {
			e.respondError(env.ID, types.ErrCodeSystem, err.Error())
		} else {
			log.Warn("丢弃无法解码的单向消息", "extension", e.name, "err", err)
		}
		return
	}

	result, handlerErr := fn(s, data, interfaces.MessageOptions{Oneway: oneway})

	if oneway {
		// 单向消息永不响应，处理器异常只记录
		if handlerErr != nil {
			e.statError.Add(1)
			log.Warn("单向消息处理器失败", "extension", e.name, "err", handlerErr)
		}
		return
	}

	if handlerErr != nil {
		e.statError.Add(1)
		code := types.ErrCodeSystem
		message := handlerErr.Error()
		var pe *types.ProtocolError
		if errors.As(handlerErr, &pe) {
			code = pe.Code
			message = pe.Message
		}
		e.respondError(env.ID, code, message)
		return
	}

	e.respond(env.ID, result)
}

// respond 发送成功响应
func (e *Extension) respond(id []byte, result any) {
	payload, err := e.codec.EncodePayload(result)
	if err != nil {
		e.statError.Add(1)
		e.respondError(id, types.ErrCodeSystem, err.Error())
		return
	}

	env := &wire.Envelope{ID: id, Data: payload}
	e.writeEnvelope(env)
}

// respondError 发送错误响应
func (e *Extension) respondError(id []byte, code, message string) {
	env := &wire.Envelope{
		ID:    id,
		Error: &wire.ErrorInfo{Code: code, Message: message},
	}
	e.writeEnvelope(env)
}

func (e *Extension) writeEnvelope(env *wire.Envelope) {
	e.mu.Lock()
	s := e.session
	e.mu.Unlock()
	if s == nil {
		return
	}

	raw, err := e.codec.EncodeEnvelope(env)
	if err != nil {
		e.statError.Add(1)
		log.Error("响应编码失败", "extension", e.name, "err", err)
		return
	}

	if err := s.WriteFrame(e.name, raw); err != nil {
		e.statError.Add(1)
		log.Warn("响应写出失败", "extension", e.name, "err", err)
		return
	}
	e.statSend.Add(1)
	e.emit(types.EvtExtensionSend{Extension: e.name})
}

// emit 向事件总线发布事件
func (e *Extension) emit(event any) {
	e.mu.Lock()
	bus := e.bus
	e.mu.Unlock()
	if bus != nil {
		bus.Emit(event)
	}
}
