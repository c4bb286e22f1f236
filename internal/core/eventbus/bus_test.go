package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxos/go-protocol/pkg/types"
)

func TestBus_SubscribeAndEmit(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub, err := bus.Subscribe(&types.EvtSessionHandshake{})
	require.NoError(t, err)
	defer sub.Close()

	bus.Emit(types.EvtSessionHandshake{RemoteID: []byte{1, 2}})

	select {
	case evt := <-sub.Out():
		hs, ok := evt.(types.EvtSessionHandshake)
		require.True(t, ok)
		assert.Equal(t, []byte{1, 2}, hs.RemoteID)
	case <-time.After(time.Second):
		t.Fatal("expected event before timeout")
	}
}

func TestBus_EmitPointer(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub, err := bus.Subscribe(&types.EvtSessionError{})
	require.NoError(t, err)
	defer sub.Close()

	bus.Emit(&types.EvtSessionError{Err: assert.AnError})

	select {
	case evt := <-sub.Out():
		se, ok := evt.(types.EvtSessionError)
		require.True(t, ok)
		assert.Equal(t, assert.AnError, se.Err)
	case <-time.After(time.Second):
		t.Fatal("expected event before timeout")
	}
}

func TestBus_TypeIsolation(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub, err := bus.Subscribe(&types.EvtSessionHandshake{})
	require.NoError(t, err)
	defer sub.Close()

	bus.Emit(types.EvtExtensionsInitialized{})

	select {
	case <-sub.Out():
		t.Fatal("subscription must not observe other event types")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBus_NonPointerSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	_, err := bus.Subscribe(types.EvtSessionHandshake{})
	assert.ErrorIs(t, err, ErrNonPointerType)
}

func TestBus_SlowConsumerDrops(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub, err := bus.Subscribe(&types.EvtExtensionSend{}, WithBuffer(1))
	require.NoError(t, err)
	defer sub.Close()

	// 缓冲区只有 1，第二个事件应被丢弃而不是阻塞
	done := make(chan struct{})
	go func() {
		bus.Emit(types.EvtExtensionSend{Extension: "a"})
		bus.Emit(types.EvtExtensionSend{Extension: "b"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit must never block on a slow consumer")
	}
}

func TestBus_ClosedBus(t *testing.T) {
	bus := NewBus()
	require.NoError(t, bus.Close())

	_, err := bus.Subscribe(&types.EvtSessionHandshake{})
	assert.ErrorIs(t, err, ErrBusClosed)

	// 关闭后 Emit 不应 panic
	bus.Emit(types.EvtSessionHandshake{})
}

func TestSubscription_CloseIdempotent(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub, err := bus.Subscribe(&types.EvtSessionClosed{})
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
}
