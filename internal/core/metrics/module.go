package metrics

import (
	"go.uber.org/fx"

	"github.com/prometheus/client_golang/prometheus"
)

// registerParams 采集器注册依赖参数
type registerParams struct {
	fx.In

	Collector  *Collector
	Registerer prometheus.Registerer `optional:"true"`
}

// registerCollector 把采集器挂到 Prometheus 注册表（未提供时跳过）
func registerCollector(p registerParams) error {
	if p.Registerer == nil {
		return nil
	}
	return p.Registerer.Register(p.Collector)
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(NewCollector),
		fx.Invoke(registerCollector),
	)
}
