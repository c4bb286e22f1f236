// Package eventbus 实现会话与扩展共用的类型化事件总线
//
// 订阅者按事件类型订阅，得到带缓冲的事件通道；
// 发布者直接调用 Bus.Emit 发布。慢消费者的事件会被丢弃并计数，
// 发布路径永不阻塞。
package eventbus

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/dxos/go-protocol/internal/util/logger"
)

var log = logger.Logger("core/eventbus")

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrBusClosed 事件总线已关闭
	ErrBusClosed = errors.New("eventbus: bus closed")

	// ErrInvalidEventType 无效的事件类型
	ErrInvalidEventType = errors.New("eventbus: invalid event type")

	// ErrNonPointerType 订阅必须使用指针类型
	ErrNonPointerType = errors.New("eventbus: subscribe called with non-pointer type")
)

// ============================================================================
//                              Bus 实现
// ============================================================================

// Bus 类型化事件总线
type Bus struct {
	mu     sync.RWMutex
	nodes  map[reflect.Type]*node
	closed atomic.Bool
}

// node 单个事件类型的分发节点
type node struct {
	mu        sync.Mutex
	typ       reflect.Type
	sinks     []*Subscription
	dropCount atomic.Int64 // 慢消费者丢弃计数
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{
		nodes: make(map[reflect.Type]*node),
	}
}

// Subscribe 订阅指定类型的事件
//
// eventType 必须是事件结构体的指针，例如 &types.EvtSessionHandshake{}。
// 返回的 Subscription 持有带缓冲的事件通道。
func (b *Bus) Subscribe(eventType any, opts ...SubscriptionOpt) (*Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	if eventType == nil {
		return nil, ErrInvalidEventType
	}

	typ := reflect.TypeOf(eventType)
	if typ.Kind() != reflect.Ptr {
		return nil, ErrNonPointerType
	}
	elemType := typ.Elem()

	settings := &subscriptionSettings{buffer: 16}
	for _, opt := range opts {
		opt(settings)
	}

	sub := &Subscription{
		bus: b,
		typ: elemType,
		out: make(chan any, settings.buffer),
	}

	b.withNode(elemType, func(n *node) {
		n.sinks = append(n.sinks, sub)
	})

	return sub, nil
}

// Emit 直接发布一个事件
//
// event 为事件结构体值或指针；按其元素类型分发给所有订阅者。
func (b *Bus) Emit(event any) {
	if b.closed.Load() || event == nil {
		return
	}

	typ := reflect.TypeOf(event)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
		event = reflect.ValueOf(event).Elem().Interface()
	}

	b.mu.RLock()
	n, ok := b.nodes[typ]
	b.mu.RUnlock()
	if !ok {
		return
	}

	n.emit(event)
}

// withNode 在指定类型的节点上执行操作，节点不存在时创建
func (b *Bus) withNode(typ reflect.Type, fn func(*node)) {
	b.mu.Lock()
	n, ok := b.nodes[typ]
	if !ok {
		n = &node{typ: typ}
		b.nodes[typ] = n
	}
	b.mu.Unlock()

	n.mu.Lock()
	defer n.mu.Unlock()
	fn(n)
}

// removeSub 从总线移除订阅
func (b *Bus) removeSub(sub *Subscription) {
	b.mu.RLock()
	n, ok := b.nodes[sub.typ]
	b.mu.RUnlock()
	if !ok {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for i, s := range n.sinks {
		if s == sub {
			n.sinks = append(n.sinks[:i], n.sinks[i+1:]...)
			return
		}
	}
}

// Close 关闭总线并清理所有订阅
func (b *Bus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	b.mu.Lock()
	nodes := b.nodes
	b.nodes = make(map[reflect.Type]*node)
	b.mu.Unlock()

	for _, n := range nodes {
		n.mu.Lock()
		sinks := n.sinks
		n.sinks = nil
		n.mu.Unlock()
		for _, s := range sinks {
			s.detach()
		}
	}

	return nil
}

// emit 向节点的所有订阅者分发事件
func (n *node) emit(event any) {
	n.mu.Lock()
	sinks := make([]*Subscription, len(n.sinks))
	copy(sinks, n.sinks)
	n.mu.Unlock()

	for _, sub := range sinks {
		if sub.closed.Load() {
			continue
		}
		select {
		case sub.out <- event:
		default:
			// 缓冲区满，丢弃并计数
			dropped := n.dropCount.Add(1)
			if dropped%32 == 1 {
				log.Warn("慢消费者丢弃事件",
					"type", n.typ.String(),
					"dropped", dropped)
			}
		}
	}
}
