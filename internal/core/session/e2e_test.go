package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dxos/go-protocol/internal/core/extension"
	"github.com/dxos/go-protocol/internal/transport/memory"
	"github.com/dxos/go-protocol/pkg/interfaces"
	"github.com/dxos/go-protocol/pkg/types"
)

// 端到端场景：两条会话跑在进程内传输对上。

// testPair 一对互联的会话及其 "buffer" 扩展
type testPair struct {
	sessionA, sessionB *Session
	extA, extB         *extension.Extension
}

// newTestPair 创建双端会话，各带一个 "buffer" 扩展（1s 超时）
func newTestPair(t *testing.T) *testPair {
	t.Helper()

	ta, tb := memory.NewPair()

	extA := extension.New("buffer", extension.WithTimeout(time.Second))
	extB := extension.New("buffer", extension.WithTimeout(time.Second))

	sessionA := New(ta).SetExtension(extA)
	sessionB := New(tb).SetExtension(extB)

	t.Cleanup(func() {
		sessionA.Close()
		sessionB.Close()
	})

	return &testPair{sessionA: sessionA, sessionB: sessionB, extA: extA, extB: extB}
}

// start 启动双端并等待握手完成
func (p *testPair) start(t *testing.T, topic types.Topic) {
	t.Helper()

	p.sessionA.Init(topic)
	p.sessionB.Init(topic)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error { return p.sessionA.AwaitHandshake(ctx) })
	g.Go(func() error { return p.sessionB.AwaitHandshake(ctx) })
	require.NoError(t, g.Wait())
}

// S1 — 请求/响应
func TestE2E_RequestResponse(t *testing.T) {
	p := newTestPair(t)

	p.extB.SetOnMessage(func(_ interfaces.Session, data any, _ interfaces.MessageOptions) (any, error) {
		if string(data.([]byte)) == "ping" {
			return []byte("pong"), nil
		}
		return nil, errors.New("Invalid data.")
	})

	topic, err := types.NewTopic()
	require.NoError(t, err)
	p.start(t, topic)

	resp, err := p.extA.Send(context.Background(), []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, []byte("pong"), resp.Data)
}

// S2 — 单向消息
func TestE2E_Oneway(t *testing.T) {
	p := newTestPair(t)

	received := make(chan []byte, 1)
	p.extB.SetOnMessage(func(_ interfaces.Session, data any, opts interfaces.MessageOptions) (any, error) {
		assert.True(t, opts.Oneway)
		received <- data.([]byte)
		return nil, nil
	})

	topic, err := types.NewTopic()
	require.NoError(t, err)
	p.start(t, topic)

	require.NoError(t, p.extA.SendOneway([]byte("oneway")))

	select {
	case data := <-received:
		assert.Equal(t, []byte("oneway"), data)
	case <-time.After(time.Second):
		t.Fatal("expected the oneway payload")
	}
	assert.Zero(t, p.extB.Stats().Send, "the receiver must not answer oneway messages")
}

// S3 — 远端处理器异常
func TestE2E_RemoteException(t *testing.T) {
	p := newTestPair(t)

	p.extB.SetOnMessage(func(_ interfaces.Session, _ any, _ interfaces.MessageOptions) (any, error) {
		return nil, errors.New("Invalid data.")
	})

	topic, err := types.NewTopic()
	require.NoError(t, err)
	p.start(t, topic)

	_, err = p.extA.Send(context.Background(), []byte("crash"))
	require.Error(t, err)

	var pe *types.ProtocolError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, types.ErrCodeSystem, pe.Code)
	assert.Equal(t, "Invalid data.", pe.Message)
}

// S4 — 超时
func TestE2E_Timeout(t *testing.T) {
	ta, tb := memory.NewPair()

	const timeout = 300 * time.Millisecond
	extA := extension.New("buffer", extension.WithTimeout(timeout))
	extB := extension.New("buffer", extension.WithTimeout(timeout))

	extB.SetOnMessage(func(_ interfaces.Session, _ any, _ interfaces.MessageOptions) (any, error) {
		time.Sleep(2 * timeout)
		return []byte("too late"), nil
	})

	sessionA := New(ta).SetExtension(extA)
	sessionB := New(tb).SetExtension(extB)
	defer sessionA.Close()
	defer sessionB.Close()

	topic, err := types.NewTopic()
	require.NoError(t, err)
	sessionA.Init(topic)
	sessionB.Init(topic)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sessionA.AwaitHandshake(ctx))
	require.NoError(t, sessionB.AwaitHandshake(ctx))

	started := time.Now()
	_, err = extA.Send(context.Background(), []byte("timeout"))
	elapsed := time.Since(started)

	assert.True(t, types.IsProtocolError(err, types.ErrCodeRequestTimeout))
	assert.Less(t, elapsed, 2*timeout, "timeout must fire before the handler finishes")

	// 会话在超时后保持打开
	assert.False(t, ta.Closed())
}

// S5 — 初始化否决
func TestE2E_InitVeto(t *testing.T) {
	p := newTestPair(t)

	handshakeCalled := false
	p.extB.SetOnInit(func(interfaces.Session) error {
		return errors.New("refusing this peer")
	})
	p.extB.SetOnHandshake(func(interfaces.Session) error {
		handshakeCalled = true
		return nil
	})
	p.extA.SetOnHandshake(func(interfaces.Session) error {
		handshakeCalled = true
		return nil
	})

	subA, err := p.sessionA.Subscribe(&types.EvtSessionHandshake{})
	require.NoError(t, err)

	topic, err := types.NewTopic()
	require.NoError(t, err)
	p.sessionA.Init(topic)
	p.sessionB.Init(topic)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 失败侧以本地初始化错误中止
	errB := p.sessionB.AwaitHandshake(ctx)
	assert.True(t, types.IsProtocolError(errB, types.ErrCodeInitFailed))

	// 对侧被门控否决
	errA := p.sessionA.AwaitHandshake(ctx)
	assert.True(t, types.IsProtocolError(errA, types.ErrCodeConnectionInvalid))

	assert.False(t, handshakeCalled, "onHandshake must never fire after a veto")

	select {
	case _, ok := <-subA.Out():
		assert.False(t, ok, "no handshake event may be observed")
	default:
	}
}

// S6 — 发现密钥无法匹配
func TestE2E_UnknownKey(t *testing.T) {
	p := newTestPair(t)

	t1, err := types.NewTopic()
	require.NoError(t, err)
	t2, err := types.NewTopic()
	require.NoError(t, err)

	p.sessionA.Init(t1)
	p.sessionB.Init(t2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errA := p.sessionA.AwaitHandshake(ctx)
	errB := p.sessionB.AwaitHandshake(ctx)

	assert.True(t, types.IsProtocolError(errA, types.ErrCodeConnectionInvalid))
	assert.True(t, types.IsProtocolError(errB, types.ErrCodeConnectionInvalid))
}

// 无主题引导：一端等待对端的 feed，经解析器映射回主题
func TestE2E_ResolverBootstrap(t *testing.T) {
	ta, tb := memory.NewPair()

	topic, err := types.NewTopic()
	require.NoError(t, err)

	// B 事先知道主题，但只在收到发现密钥后按映射给出
	resolver := func(_ context.Context, discoveryKey []byte) (types.Topic, error) {
		dk := types.DeriveDiscoveryKey(topic)
		if string(dk.Bytes()) == string(discoveryKey) {
			return topic, nil
		}
		return nil, nil
	}

	sessionA := New(ta).SetExtension(extension.New("buffer"))
	sessionB := New(tb, WithDiscoveryToPublicKey(resolver)).
		SetExtension(extension.New("buffer"))
	defer sessionA.Close()
	defer sessionB.Close()

	sessionA.Init(topic)
	sessionB.Init(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sessionA.AwaitHandshake(ctx))
	require.NoError(t, sessionB.AwaitHandshake(ctx))
}

// 握手回调失败中止会话
func TestE2E_HandshakeHandlerFailure(t *testing.T) {
	p := newTestPair(t)

	p.sessionA.SetHandshakeHandler(func(interfaces.Session) error {
		return errors.New("handshake rejected")
	})

	topic, err := types.NewTopic()
	require.NoError(t, err)
	p.sessionA.Init(topic)
	p.sessionB.Init(topic)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errA := p.sessionA.AwaitHandshake(ctx)
	assert.True(t, types.IsProtocolError(errA, types.ErrCodeHandshakeFailed))
}

// 会话数据在握手时交换
func TestE2E_SessionData(t *testing.T) {
	p := newTestPair(t)

	p.sessionA.SetSession(types.SessionData{"peerId": "alice"})
	p.sessionB.SetSession(types.SessionData{"peerId": "bob"})

	topic, err := types.NewTopic()
	require.NoError(t, err)
	p.start(t, topic)

	assert.Equal(t, "bob", p.sessionA.GetSession()["peerId"])
	assert.Equal(t, "alice", p.sessionB.GetSession()["peerId"])
}

// 事件可观察性：extensions-initialized 与 handshake
func TestE2E_Events(t *testing.T) {
	p := newTestPair(t)

	subInit, err := p.sessionA.Subscribe(&types.EvtExtensionsInitialized{})
	require.NoError(t, err)
	subHs, err := p.sessionA.Subscribe(&types.EvtSessionHandshake{})
	require.NoError(t, err)

	topic, err := types.NewTopic()
	require.NoError(t, err)
	p.start(t, topic)

	select {
	case <-subInit.Out():
	case <-time.After(time.Second):
		t.Fatal("expected extensions-initialized event")
	}
	select {
	case evt := <-subHs.Out():
		hs := evt.(types.EvtSessionHandshake)
		assert.NotEmpty(t, hs.RemoteID)
	case <-time.After(time.Second):
		t.Fatal("expected handshake event")
	}
}

// 运行期 feed 分发到扩展
func TestE2E_FeedDispatch(t *testing.T) {
	p := newTestPair(t)

	feeds := make(chan []byte, 1)
	p.extA.SetOnFeed(func(_ interfaces.Session, discoveryKey []byte) {
		feeds <- discoveryKey
	})

	topic, err := types.NewTopic()
	require.NoError(t, err)
	p.start(t, topic)

	// B 在握手后追加一个 feed
	second, err := types.NewTopic()
	require.NoError(t, err)
	secondDK := types.DeriveDiscoveryKey(second)

	tb := transportOf(p.sessionB)
	_, err = tb.Feed(second)
	require.NoError(t, err)

	select {
	case dk := <-feeds:
		assert.Equal(t, secondDK.Bytes(), dk)
	case <-time.After(time.Second):
		t.Fatal("expected feed dispatch to the extension")
	}
}

// transportOf 取出会话的内存端点
func transportOf(s *Session) *memory.Endpoint {
	return s.transport.(*memory.Endpoint)
}

// 关闭后发送同步失败
func TestE2E_SendAfterClose(t *testing.T) {
	p := newTestPair(t)

	p.extB.SetOnMessage(func(_ interfaces.Session, _ any, _ interfaces.MessageOptions) (any, error) {
		return []byte("ok"), nil
	})

	topic, err := types.NewTopic()
	require.NoError(t, err)
	p.start(t, topic)

	require.NoError(t, p.sessionA.Close())

	_, err = p.extA.Send(context.Background(), []byte("after close"))
	assert.True(t, types.IsProtocolError(err, types.ErrCodeClose))
}
