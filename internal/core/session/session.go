// Package session 实现协议会话
//
// 会话包装一条双工流：执行交换主题与会话数据的对端握手，
// 在流上复用一组命名扩展通道，并驱动确定性的生命周期
// （open → init → 门控 → 握手 → 运行 → 关闭）。
package session

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/multierr"

	"github.com/dxos/go-protocol/internal/core/eventbus"
	"github.com/dxos/go-protocol/internal/core/extension"
	"github.com/dxos/go-protocol/internal/util/logger"
	"github.com/dxos/go-protocol/pkg/interfaces"
	"github.com/dxos/go-protocol/pkg/types"
)

var log = logger.Logger("core/session")

// resolveCacheSize 发现密钥解析结果的缓存条数
const resolveCacheSize = 64

// Session 一条传输流上的协议会话
//
// 每条流恰有一个会话；会话独占传输层写入端，
// 扩展的所有写出都经由会话序列化。
type Session struct {
	cfg       *Config
	transport interfaces.Transport

	registry *Registry
	initExt  *initExtension
	bus      *eventbus.Bus

	resolveCache *lru.Cache[string, types.Topic]

	mu          sync.Mutex
	localData   types.SessionData
	remoteData  types.SessionData
	context     map[string]any
	handshakeFn []interfaces.HandshakeHandler
	channel     interfaces.FeedChannel
	fedKey      types.DiscoveryKey
	hasFed      bool
	started     bool
	running     bool
	closed      bool
	closeErr    error

	writeMu sync.Mutex

	hsOnce    sync.Once
	hsCh      chan struct{} // 传输层握手完成
	runningCh chan struct{} // 会话进入运行态
	closedCh  chan struct{} // 会话已关闭
	closeOnce sync.Once
}

var _ interfaces.Session = (*Session)(nil)
var _ extension.Session = (*Session)(nil)

// New 创建会话
//
// 扩展注册、会话数据与握手回调都必须在 Init 之前完成。
func New(transport interfaces.Transport, opts ...Option) *Session {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	cache, _ := lru.New[string, types.Topic](resolveCacheSize)

	s := &Session{
		cfg:          cfg,
		transport:    transport,
		registry:     NewRegistry(),
		bus:          eventbus.NewBus(),
		resolveCache: cache,
		localData:    types.SessionData{},
		context:      make(map[string]any),
		hsCh:         make(chan struct{}),
		runningCh:    make(chan struct{}),
		closedCh:     make(chan struct{}),
	}

	// 初始化门控扩展恒为第一个注册的扩展
	s.initExt = newInitExtension(cfg.Clock, cfg.InitTimeout)
	s.initExt.SetOnDestroy(func() {
		s.abort(types.NewProtocolError(types.ErrCodeConnectionInvalid,
			"connection invalidated by remote"))
	})
	if err := s.registry.Add(s.initExt.Extension()); err != nil {
		// 新注册表不可能重名
		panic(err)
	}

	return s
}

// ============================================================================
//                              启动前配置
// ============================================================================

// SetSession 设置本地会话数据（随传输层握手发送一次）
func (s *Session) SetSession(data types.SessionData) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		log.Warn("会话已启动，忽略 SetSession")
		return s
	}
	s.localData = data
	return s
}

// SetContext 合并本地上下文（不会被传输）
func (s *Session) SetContext(values map[string]any) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range values {
		s.context[k] = v
	}
	return s
}

// SetExtension 注册一个扩展
//
// 只允许在 Init 之前注册；重名或晚注册会被忽略并告警。
func (s *Session) SetExtension(ext *extension.Extension) *Session {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	if started {
		log.Warn("会话已启动，忽略扩展注册", "extension", ext.Name())
		return s
	}

	if err := s.registry.Add(ext); err != nil {
		log.Warn("扩展注册失败", "extension", ext.Name(), "err", err)
	}
	return s
}

// SetExtensions 批量注册扩展
func (s *Session) SetExtensions(exts []*extension.Extension) *Session {
	for _, ext := range exts {
		s.SetExtension(ext)
	}
	return s
}

// SetHandshakeHandler 追加一个用户握手回调
//
// 回调在初始化门控通过之后按追加顺序串行执行。
func (s *Session) SetHandshakeHandler(fn interfaces.HandshakeHandler) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		log.Warn("会话已启动，忽略握手回调注册")
		return s
	}
	s.handshakeFn = append(s.handshakeFn, fn)
	return s
}

// ============================================================================
//                              查询
// ============================================================================

// GetSession 返回对端的会话数据
//
// 传输层握手完成前为空 map。
func (s *Session) GetSession() types.SessionData {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remoteData == nil {
		return types.SessionData{}
	}
	return s.remoteData
}

// GetContext 返回本地上下文
func (s *Session) GetContext() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.context
}

// GetExtension 按名查找扩展
func (s *Session) GetExtension(name string) (*extension.Extension, bool) {
	return s.registry.Get(name)
}

// Subscribe 订阅会话事件（types.Evt*）
func (s *Session) Subscribe(eventType any, opts ...eventbus.SubscriptionOpt) (*eventbus.Subscription, error) {
	return s.bus.Subscribe(eventType, opts...)
}

// ============================================================================
//                              启动
// ============================================================================

// Init 启动会话（幂等）
//
// topic 可为 nil：此时等待对端的第一个 feed，
// 经 DiscoveryToPublicKey 解析后再打开数据通道。
// 生命周期在后台推进，结果通过事件总线与 AwaitHandshake 观察。
func (s *Session) Init(topic types.Topic) *Session {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return s
	}
	s.started = true
	s.mu.Unlock()

	go s.run(topic)
	return s
}

// AwaitHandshake 阻塞等待会话进入运行态
//
// 会话中止时返回中止原因。
func (s *Session) AwaitHandshake(ctx context.Context) error {
	select {
	case <-s.runningCh:
		return nil
	case <-s.closedCh:
		s.mu.Lock()
		err := s.closeErr
		s.mu.Unlock()
		if err == nil {
			err = types.NewProtocolError(types.ErrCodeClose, "session closed")
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run 驱动会话生命周期，失败即中止
func (s *Session) run(topic types.Topic) {
	if err := s.open(topic); err != nil {
		log.Warn("会话中止", "err", err)
		s.abort(err)
	}
}

// open 执行启动序列
//
//  1. 按插入顺序执行扩展 open 钩子
//  2. 扩展名按字典序通告给传输层
//  3. 打开初始主题通道（或等待对端的第一个 feed）
//  4. 等待传输层握手
//  5. 顺序执行扩展 onInit，经初始化门控确认双方结果
//  6. 顺序执行用户握手回调与扩展 onHandshake
//  7. 进入运行态，后续 feed 分发给扩展
func (s *Session) open(topic types.Topic) error {
	// 1. open 钩子
	for _, ext := range s.registry.Extensions() {
		ext.BindBus(s.bus)
		if err := ext.Open(s); err != nil {
			return types.NewProtocolErrorf(types.ErrCodeInitFailed,
				"open extension %q: %v", ext.Name(), err)
		}
	}

	// 2. 字典序通告，双方据此算出一致的扩展编号
	for _, name := range s.registry.SortedNames() {
		s.transport.AdvertiseExtension(name)
	}

	// 3. 传输层回调
	if len(s.cfg.LocalID) > 0 {
		s.transport.SetLocalID(s.cfg.LocalID)
	}
	userData, err := types.EncodeSessionData(s.localSessionData())
	if err != nil {
		return fmt.Errorf("encode session data: %w", err)
	}
	s.transport.SetLocalUserData(userData)

	s.transport.OnHandshake(func() {
		s.hsOnce.Do(func() { close(s.hsCh) })
	})
	s.transport.OnClose(s.handleTransportClose)

	if topic != nil {
		if err := s.feedTopic(topic); err != nil {
			return err
		}
	}

	// feed 回调在打开自己的通道之后注册：对端先到的通告
	// 会被传输层排队重放，此时已能与本端发现密钥比对。
	// topic 为 nil 时由首个 feed 经解析器完成引导。
	s.transport.OnFeed(s.handleFeed)

	// 4. 等待传输层握手
	select {
	case <-s.hsCh:
	case <-s.closedCh:
		return types.NewProtocolError(types.ErrCodeClose, "stream ended before handshake")
	}

	s.mu.Lock()
	s.remoteData = types.DecodeSessionData(s.transport.RemoteUserData())
	s.mu.Unlock()

	// 5. 初始化扩展并通过门控
	for _, ext := range s.userExtensions() {
		if err := ext.OnInit(); err != nil {
			s.initExt.Break()
			return types.NewProtocolErrorf(types.ErrCodeInitFailed,
				"init extension %q: %v", ext.Name(), err)
		}
	}

	ok, err := s.initExt.Continue()
	if err != nil {
		return err
	}
	if !ok {
		return types.NewProtocolError(types.ErrCodeConnectionInvalid,
			"remote invalidated the connection")
	}

	s.bus.Emit(types.EvtExtensionsInitialized{})

	// 6. 用户握手回调，之后是扩展 onHandshake
	for _, fn := range s.handshakeHandlers() {
		if err := fn(s); err != nil {
			return types.NewProtocolErrorf(types.ErrCodeHandshakeFailed,
				"handshake handler: %v", err)
		}
	}
	for _, ext := range s.userExtensions() {
		if err := ext.OnHandshake(); err != nil {
			return types.NewProtocolErrorf(types.ErrCodeHandshakeFailed,
				"extension %q handshake: %v", ext.Name(), err)
		}
	}

	// 7. 运行态
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
	close(s.runningCh)

	s.bus.Emit(types.EvtSessionHandshake{RemoteID: s.transport.RemoteID()})
	log.Info("会话握手完成",
		"remote", types.Fingerprint(s.transport.RemoteID()),
		"extensions", s.registry.SortedNames())
	return nil
}

// localSessionData 取本地会话数据快照
func (s *Session) localSessionData() types.SessionData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localData
}

// userExtensions 返回除门控之外的扩展（插入顺序）
func (s *Session) userExtensions() []*extension.Extension {
	exts := s.registry.Extensions()
	out := make([]*extension.Extension, 0, len(exts))
	for _, ext := range exts {
		if ext.Name() != InitExtensionName {
			out = append(out, ext)
		}
	}
	return out
}

func (s *Session) handshakeHandlers() []interfaces.HandshakeHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]interfaces.HandshakeHandler, len(s.handshakeFn))
	copy(out, s.handshakeFn)
	return out
}

// ============================================================================
//                              feed 引导与分发
// ============================================================================

// feedTopic 解析主题并打开数据通道
func (s *Session) feedTopic(topic types.Topic) error {
	channel, err := s.transport.Feed(topic)
	if err != nil {
		return fmt.Errorf("feed topic: %w", err)
	}

	channel.OnExtension(s.demux)

	s.mu.Lock()
	s.channel = channel
	s.fedKey = types.DeriveDiscoveryKey(topic)
	s.hasFed = true
	s.mu.Unlock()
	return nil
}

// handleFeed 处理传输层的 feed 事件
//
// 运行态：按注册顺序分发给扩展的 onFeed。
// 引导期：解析发现密钥并打开通道；解析不到公钥时
// 以 ERR_PROTOCOL_CONNECTION_INVALID 销毁流。
func (s *Session) handleFeed(discoveryKey []byte) {
	s.mu.Lock()
	running := s.running
	hasFed := s.hasFed
	fedKey := s.fedKey
	s.mu.Unlock()

	if running {
		for _, ext := range s.registry.Extensions() {
			ext.OnFeed(discoveryKey)
		}
		return
	}

	// 对端通告的就是我们已打开的通道
	if hasFed && len(discoveryKey) == types.DiscoveryKeySize {
		var dk types.DiscoveryKey
		copy(dk[:], discoveryKey)
		if fedKey.Equal(dk) {
			return
		}
	}

	topic, err := s.resolveTopic(discoveryKey)
	if err != nil || topic == nil {
		s.abort(types.NewProtocolError(types.ErrCodeConnectionInvalid, "key not found"))
		return
	}

	// 解析结果必须能重新派生出同一个发现密钥
	derived := types.DeriveDiscoveryKey(topic)
	var dk types.DiscoveryKey
	if len(discoveryKey) == types.DiscoveryKeySize {
		copy(dk[:], discoveryKey)
	}
	if !derived.Equal(dk) {
		s.abort(types.NewProtocolError(types.ErrCodeConnectionInvalid, "key not found"))
		return
	}

	if hasFed {
		return
	}
	if err := s.feedTopic(topic); err != nil {
		s.abort(fmt.Errorf("feed resolved topic: %w", err))
	}
}

// resolveTopic 经解析器（带 LRU 缓存）把发现密钥映射回主题
func (s *Session) resolveTopic(discoveryKey []byte) (types.Topic, error) {
	cacheKey := string(discoveryKey)
	if topic, ok := s.resolveCache.Get(cacheKey); ok {
		return topic, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.InitTimeout)
	defer cancel()

	topic, err := s.cfg.DiscoveryToPublicKey(ctx, discoveryKey)
	if err != nil {
		return nil, err
	}
	if topic != nil {
		s.resolveCache.Add(cacheKey, topic)
	}
	return topic, nil
}

// demux 按扩展名路由到达的帧
func (s *Session) demux(name string, payload []byte) {
	ext, ok := s.registry.Get(name)
	if !ok {
		err := types.NewProtocolErrorf(types.ErrCodeExtensionMissing,
			"no extension %q", name)
		s.bus.Emit(types.EvtSessionError{Err: err})
		log.Error("收到未注册扩展的帧", "extension", name)
		s.transport.Destroy(err)
		s.closeWithErr(err)
		return
	}
	ext.Deliver(payload)
}

// WriteFrame 向传输层写出一条扩展帧
//
// 会话独占写入端：所有扩展的写出在此串行化。
func (s *Session) WriteFrame(name string, payload []byte) error {
	s.mu.Lock()
	channel := s.channel
	closed := s.closed
	s.mu.Unlock()

	if closed || channel == nil {
		return types.NewProtocolError(types.ErrCodeClose, "session not writable")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return channel.Extension(name, payload)
}

// ============================================================================
//                              关闭
// ============================================================================

// handleTransportClose 传输层流结束
//
// 关闭序列内的 Destroy 会同步回调到这里；会话已标记关闭时直接返回，
// 避免重入 closeOnce。
func (s *Session) handleTransportClose(err error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.closeWithErr(err)
}

// abort 以错误中止会话：发布错误事件、销毁流并关闭
func (s *Session) abort(err error) {
	s.bus.Emit(types.EvtSessionError{Err: err})
	s.transport.Destroy(err)
	s.closeWithErr(err)
}

// Close 关闭会话（幂等）
func (s *Session) Close() error {
	s.closeWithErr(nil)
	return nil
}

// closeWithErr 关闭序列
//
// 销毁传输流，然后顺序关闭门控扩展与全部用户扩展；
// 关闭过程中的错误记录日志但不向外传播。
func (s *Session) closeWithErr(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.closeErr = err
		s.mu.Unlock()
		close(s.closedCh)

		s.transport.Destroy(err)

		var closeErrs error
		for _, ext := range s.registry.Extensions() {
			func() {
				defer func() {
					if r := recover(); r != nil {
						closeErrs = multierr.Append(closeErrs,
							fmt.Errorf("close extension %q: %v", ext.Name(), r))
					}
				}()
				ext.Close(err)
			}()
		}
		if closeErrs != nil {
			log.Warn("扩展关闭出错", "err", closeErrs)
		}

		s.bus.Emit(types.EvtSessionClosed{})
		s.bus.Close()

		log.Debug("会话已关闭", "err", err)
	})
}
