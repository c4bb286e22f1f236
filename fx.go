package protocol

import (
	"go.uber.org/fx"

	"github.com/dxos/go-protocol/internal/core/metrics"
	"github.com/dxos/go-protocol/internal/core/session"
)

// SessionFactory 进程级会话工厂（经 Fx 注入）
type SessionFactory = session.Factory

// StatsCollector 扩展计数的 Prometheus 采集器
type StatsCollector = metrics.Collector

// Module 返回完整协议栈的 Fx 模块
//
// 提供:
//   - *SessionFactory: 携带进程级默认选项的会话工厂
//   - *StatsCollector: 扩展计数采集器（提供 prometheus.Registerer 时自动注册）
func Module() fx.Option {
	return fx.Module("protocol",
		session.Module(),
		metrics.Module(),
	)
}
