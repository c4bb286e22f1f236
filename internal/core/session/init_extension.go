package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dxos/go-protocol/internal/core/extension"
	"github.com/dxos/go-protocol/pkg/interfaces"
	"github.com/dxos/go-protocol/pkg/types"
)

// InitExtensionName 初始化门控扩展的固定名字
//
// 恒为会话注册的第一个扩展；固定名字保证双方的
// 通告列表排序与编号可预测。
const InitExtensionName = "dxos.protocol.init"

// 门控协议的三个令牌（ASCII 字面量上线）
var (
	tokenValid   = []byte("valid")
	tokenInvalid = []byte("invalid")
	tokenDestroy = []byte("destroy")
)

// remoteResult 对端的初始化结果
type remoteResult int

const (
	remoteUnknown remoteResult = iota
	remoteValid
	remoteInvalid
)

// initExtension 内置的初始化门控扩展
//
// 在双方的扩展初始化完成之后、用户握手回调观察到对端之前，
// 用三个令牌的小协议确认或否决本次连接：
//
//	valid   — 本端扩展初始化成功
//	invalid — 本端扩展初始化失败，否决连接
//	destroy — invalid 之后的单向跟进，指示对端销毁流
type initExtension struct {
	ext *extension.Extension
	clk clock.Clock

	timeout time.Duration

	mu       sync.Mutex
	result   remoteResult
	broke    bool
	signal   chan struct{}
	signalMu sync.Once

	// onDestroy 收到 destroy 令牌时的回调（会话注入）
	onDestroy func()
}

// newInitExtension 创建初始化门控扩展
func newInitExtension(clk clock.Clock, timeout time.Duration) *initExtension {
	ie := &initExtension{
		ext:     extension.New(InitExtensionName, extension.WithClock(clk)),
		clk:     clk,
		timeout: timeout,
		signal:  make(chan struct{}),
	}

	ie.ext.SetOnMessage(ie.handleToken)
	ie.ext.SetOnClose(func(error) {
		// 流中断视同对端否决
		ie.setResult(remoteInvalid)
	})

	return ie
}

// Extension 返回底层扩展（供会话注册与分发）
func (ie *initExtension) Extension() *extension.Extension {
	return ie.ext
}

// handleToken 处理对端令牌
//
// 门控消息全部为单向发送，永不产生响应。
func (ie *initExtension) handleToken(_ interfaces.Session, data any, _ interfaces.MessageOptions) (any, error) {
	token, ok := data.([]byte)
	if !ok {
		return nil, nil
	}

	switch string(token) {
	case string(tokenValid):
		ie.setResult(remoteValid)

	case string(tokenInvalid):
		ie.setResult(remoteInvalid)

	case string(tokenDestroy):
		ie.setResult(remoteInvalid)
		ie.mu.Lock()
		destroy := ie.onDestroy
		ie.mu.Unlock()
		if destroy != nil {
			destroy()
		}

	default:
		log.Warn("初始化门控收到未知令牌", "token", string(token))
	}

	return nil, nil
}

// setResult 记录对端结果并通知等待方（一次性）
func (ie *initExtension) setResult(result remoteResult) {
	ie.mu.Lock()
	if ie.result == remoteUnknown {
		ie.result = result
	}
	ie.mu.Unlock()

	ie.signalMu.Do(func() {
		close(ie.signal)
	})
}

// remote 返回当前记录的对端结果
func (ie *initExtension) remote() remoteResult {
	ie.mu.Lock()
	defer ie.mu.Unlock()
	return ie.result
}

// Continue 发送 valid 并等待对端结果
//
// 在对端结果到达与 initTimeout 中先到者处返回；
// 仅当对端也报告 valid 时返回 true。
func (ie *initExtension) Continue() (bool, error) {
	if err := ie.ext.SendOneway(tokenValid); err != nil {
		return false, err
	}

	timer := ie.clk.Timer(ie.timeout)
	defer timer.Stop()

	select {
	case <-ie.signal:
		return ie.remote() == remoteValid, nil

	case <-timer.C:
		return false, types.NewProtocolErrorf(types.ErrCodeConnectionInvalid,
			"init gate timed out after %s", ie.timeout)
	}
}

// Break 否决连接
//
// 幂等：发送 invalid，然后尽力而为地单向发送 destroy。
func (ie *initExtension) Break() {
	ie.mu.Lock()
	if ie.broke {
		ie.mu.Unlock()
		return
	}
	ie.broke = true
	ie.mu.Unlock()

	if err := ie.ext.SendOneway(tokenInvalid); err != nil {
		log.Debug("发送 invalid 失败", "err", err)
		return
	}
	if err := ie.ext.SendOneway(tokenDestroy); err != nil {
		log.Debug("发送 destroy 失败", "err", err)
	}
}

// SetOnDestroy 注入 destroy 令牌的处理回调
func (ie *initExtension) SetOnDestroy(fn func()) {
	ie.mu.Lock()
	defer ie.mu.Unlock()
	ie.onDestroy = fn
}
