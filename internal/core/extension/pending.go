package extension

import (
	"sync"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dxos/go-protocol/pkg/lib/proto/wire"
)

// callID 固定长度的挂起调用键
//
// 直接以 32 字节数组为键，避免十六进制字符串的分配。
type callID [wire.IDSize]byte

// toCallID 将信封 id 转换为调用键
func toCallID(id []byte) (callID, bool) {
	var key callID
	if len(id) != wire.IDSize {
		return key, false
	}
	copy(key[:], id)
	return key, true
}

// outcome 已终结调用的结局，用于区分重复帧与迟到响应
type outcome uint8

const (
	outcomeDone outcome = iota + 1
	outcomeExpired
)

// callResult 挂起调用的结果
type callResult struct {
	data any
	err  error
}

// pendingCall 单个挂起调用
type pendingCall struct {
	id    callID
	done  chan callResult // 缓冲 1，投递方永不阻塞
	timer *clock.Timer
}

// outcomeHistory 终结调用的保留条数
//
// 重复 id 与迟到响应的判定窗口；超出后旧条目被逐出，
// 这之后的重复帧会被当作新请求投给处理器（与容量内行为一致地不崩溃）。
const outcomeHistory = 1024

// pendingTable 按信封 id 索引的挂起调用表
//
// 每个扩展独占一张表；插入/删除在短临界区内完成，
// 用户处理器调用期间不持有表锁。
type pendingTable struct {
	mu       sync.Mutex
	calls    map[callID]*pendingCall
	outcomes *lru.Cache[callID, outcome]
}

// newPendingTable 创建挂起调用表
func newPendingTable() *pendingTable {
	outcomes, _ := lru.New[callID, outcome](outcomeHistory)
	return &pendingTable{
		calls:    make(map[callID]*pendingCall),
		outcomes: outcomes,
	}
}

// insert 登记一个挂起调用
func (t *pendingTable) insert(call *pendingCall) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls[call.id] = call
}

// remove 撤销一个挂起调用（发送失败或调用方放弃时）
func (t *pendingTable) remove(id callID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if call, ok := t.calls[id]; ok {
		call.timer.Stop()
		delete(t.calls, id)
	}
}

// resolve 投递响应
//
// 命中挂起调用时返回 true；调用被标记为 outcomeDone。
func (t *pendingTable) resolve(id callID, data any, err error) bool {
	t.mu.Lock()
	call, ok := t.calls[id]
	if ok {
		call.timer.Stop()
		delete(t.calls, id)
		t.outcomes.Add(id, outcomeDone)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	call.done <- callResult{data: data, err: err}
	return true
}

// expire 超时终结一个挂起调用
//
// 命中时返回调用本身；调用被标记为 outcomeExpired，
// 之后到达的响应会被静默丢弃。
func (t *pendingTable) expire(id callID) *pendingCall {
	t.mu.Lock()
	defer t.mu.Unlock()

	call, ok := t.calls[id]
	if !ok {
		return nil
	}
	delete(t.calls, id)
	t.outcomes.Add(id, outcomeExpired)
	return call
}

// outcomeOf 查询已终结调用的结局
func (t *pendingTable) outcomeOf(id callID) (outcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcomes.Get(id)
}

// rejectAll 以指定错误终结全部挂起调用（关闭路径）
func (t *pendingTable) rejectAll(err error) {
	t.mu.Lock()
	calls := t.calls
	t.calls = make(map[callID]*pendingCall)
	for id := range calls {
		t.outcomes.Add(id, outcomeDone)
	}
	t.mu.Unlock()

	for _, call := range calls {
		call.timer.Stop()
		call.done <- callResult{err: err}
	}
}

// size 当前挂起调用数（测试用）
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}
