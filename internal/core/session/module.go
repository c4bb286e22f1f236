package session

import (
	"go.uber.org/fx"

	"github.com/dxos/go-protocol/pkg/interfaces"
)

// Params 会话模块依赖参数
type Params struct {
	fx.In

	Options []Option `group:"session_options"`
}

// Factory 按统一配置创建会话的工厂
//
// 每条传输流对应一个会话实例，工厂携带进程级默认选项。
type Factory struct {
	opts []Option
}

// New 为一条传输流创建会话
//
// 调用方的选项追加在工厂默认选项之后，可以覆盖它们。
func (f *Factory) New(transport interfaces.Transport, opts ...Option) *Session {
	merged := make([]Option, 0, len(f.opts)+len(opts))
	merged = append(merged, f.opts...)
	merged = append(merged, opts...)
	return New(transport, merged...)
}

// ProvideFactory 提供会话工厂
func ProvideFactory(p Params) *Factory {
	return &Factory{opts: p.Options}
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("session",
		fx.Provide(ProvideFactory),
	)
}
