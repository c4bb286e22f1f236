package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dxos/go-protocol/internal/transport/memory"
	"github.com/dxos/go-protocol/pkg/interfaces"
	"github.com/dxos/go-protocol/pkg/types"
)

// 门面冒烟测试：公共 API + Fx 装配

func TestFacade_RoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ta, tb := memory.NewPair()

	server := NewExtension("echo").
		SetOnMessage(func(_ interfaces.Session, data any, _ interfaces.MessageOptions) (any, error) {
			return data, nil
		})
	client := NewExtension("echo", WithTimeout(time.Second))

	topic, err := NewTopic()
	require.NoError(t, err)

	sa := New(ta).SetExtension(server).Init(topic)
	sb := New(tb, WithInitTimeout(2*time.Second)).SetExtension(client).Init(topic)
	defer sa.Close()
	defer sb.Close()

	require.NoError(t, sa.AwaitHandshake(ctx))
	require.NoError(t, sb.AwaitHandshake(ctx))

	resp, err := client.Send(ctx, []byte("echo me"))
	require.NoError(t, err)
	assert.Equal(t, []byte("echo me"), resp.Data)
}

func TestFacade_ErrorHelpers(t *testing.T) {
	err := types.NewProtocolError(ErrCodeRequestTimeout, "late")
	assert.True(t, IsProtocolError(err, ErrCodeRequestTimeout))
	assert.Equal(t, ErrCodeRequestTimeout, ErrorCode(err))
}

func TestModule_Wiring(t *testing.T) {
	var factory *SessionFactory
	var collector *StatsCollector

	app := fxtest.New(t,
		fx.Supply(fx.Annotate(prometheus.NewRegistry(),
			fx.As(new(prometheus.Registerer)))),
		Module(),
		fx.Populate(&factory, &collector),
	)
	app.RequireStart()
	defer app.RequireStop()

	require.NotNil(t, factory)
	require.NotNil(t, collector)

	ta, tb := memory.NewPair()
	defer ta.Destroy(nil)
	defer tb.Destroy(nil)

	sess := factory.New(ta, WithInitTimeout(time.Second))
	assert.NotNil(t, sess)
	sess.Close()
}
