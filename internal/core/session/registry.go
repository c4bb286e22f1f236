package session

import (
	"errors"
	"sort"
	"sync"

	"github.com/dxos/go-protocol/internal/core/extension"
)

// 注册表错误定义
var (
	// ErrDuplicateExtension 扩展名已注册
	ErrDuplicateExtension = errors.New("session: extension already registered")

	// ErrSessionStarted 会话已启动，注册表不可再变更
	ErrSessionStarted = errors.New("session: session already started")
)

// Registry 会话持有的扩展注册表
//
// 同时维护两个视图：
//   - 插入顺序列表，生命周期钩子按此迭代（初始化门控扩展恒为第一个）
//   - 按名字典序的列表，用于传输层通告，保证双方算出相同的扩展编号
type Registry struct {
	mu     sync.RWMutex
	order  []*extension.Extension
	byName map[string]*extension.Extension
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*extension.Extension),
	}
}

// Add 注册扩展
func (r *Registry) Add(ext *extension.Extension) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[ext.Name()]; exists {
		return ErrDuplicateExtension
	}

	r.byName[ext.Name()] = ext
	r.order = append(r.order, ext)
	return nil
}

// Get 按名查找扩展
func (r *Registry) Get(name string) (*extension.Extension, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext, ok := r.byName[name]
	return ext, ok
}

// Extensions 返回插入顺序的扩展列表（副本）
func (r *Registry) Extensions() []*extension.Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*extension.Extension, len(r.order))
	copy(out, r.order)
	return out
}

// SortedNames 返回字典序的扩展名列表
func (r *Registry) SortedNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.order))
	for _, ext := range r.order {
		names = append(names, ext.Name())
	}
	sort.Strings(names)
	return names
}

// Len 返回已注册扩展数
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
