package extension

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxos/go-protocol/pkg/types"
)

func newTestCall(t *testing.T) *pendingCall {
	t.Helper()
	id, err := types.RandomID(32)
	require.NoError(t, err)
	key, ok := toCallID(id)
	require.True(t, ok)

	// mock 时钟不会自动前进，定时器不会触发
	clk := clock.NewMock()
	return &pendingCall{
		id:    key,
		done:  make(chan callResult, 1),
		timer: clk.AfterFunc(time.Minute, func() {}),
	}
}

func TestPendingTable_Resolve(t *testing.T) {
	table := newPendingTable()
	call := newTestCall(t)
	table.insert(call)

	require.True(t, table.resolve(call.id, []byte("pong"), nil))
	res := <-call.done
	assert.Equal(t, []byte("pong"), res.data)
	assert.Zero(t, table.size())

	// 重复投递不命中
	assert.False(t, table.resolve(call.id, nil, nil))

	prev, ok := table.outcomeOf(call.id)
	require.True(t, ok)
	assert.Equal(t, outcomeDone, prev)
}

func TestPendingTable_Expire(t *testing.T) {
	table := newPendingTable()
	call := newTestCall(t)
	table.insert(call)

	expired := table.expire(call.id)
	require.NotNil(t, expired)
	assert.Zero(t, table.size())

	// 过期后的响应不再命中
	assert.False(t, table.resolve(call.id, nil, nil))

	prev, ok := table.outcomeOf(call.id)
	require.True(t, ok)
	assert.Equal(t, outcomeExpired, prev)
}

func TestPendingTable_RejectAll(t *testing.T) {
	table := newPendingTable()
	a := newTestCall(t)
	b := newTestCall(t)
	table.insert(a)
	table.insert(b)

	closeErr := types.NewProtocolError(types.ErrCodeClose, "closed")
	table.rejectAll(closeErr)

	assert.Zero(t, table.size())
	for _, call := range []*pendingCall{a, b} {
		res := <-call.done
		assert.True(t, types.IsProtocolError(res.err, types.ErrCodeClose))
	}
}

func TestToCallID(t *testing.T) {
	_, ok := toCallID(make([]byte, 16))
	assert.False(t, ok)

	_, ok = toCallID(make([]byte, 32))
	assert.True(t, ok)
}
