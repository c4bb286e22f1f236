// Package metrics 把扩展的消息计数导出为 Prometheus 指标
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dxos/go-protocol/pkg/types"
)

// StatsSource 可被采集的计数来源
//
// 扩展运行时实现该接口。
type StatsSource interface {
	// Name 扩展名（作为指标标签）
	Name() string

	// Stats 返回计数快照
	Stats() types.Stats
}

// Collector 扩展计数的 Prometheus 采集器
type Collector struct {
	mu      sync.RWMutex
	sources []StatsSource

	sentDesc     *prometheus.Desc
	receivedDesc *prometheus.Desc
	errorsDesc   *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector 创建采集器
func NewCollector() *Collector {
	return &Collector{
		sentDesc: prometheus.NewDesc(
			"protocol_extension_messages_sent_total",
			"Messages sent per extension",
			[]string{"extension"}, nil),
		receivedDesc: prometheus.NewDesc(
			"protocol_extension_messages_received_total",
			"Messages received per extension",
			[]string{"extension"}, nil),
		errorsDesc: prometheus.NewDesc(
			"protocol_extension_errors_total",
			"Errors per extension",
			[]string{"extension"}, nil),
	}
}

// Register 登记一个计数来源
func (c *Collector) Register(source StatsSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources = append(c.sources, source)
}

// Describe 实现 prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sentDesc
	ch <- c.receivedDesc
	ch <- c.errorsDesc
}

// Collect 实现 prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	sources := make([]StatsSource, len(c.sources))
	copy(sources, c.sources)
	c.mu.RUnlock()

	for _, source := range sources {
		stats := source.Stats()
		name := source.Name()

		ch <- prometheus.MustNewConstMetric(c.sentDesc,
			prometheus.CounterValue, float64(stats.Send), name)
		ch <- prometheus.MustNewConstMetric(c.receivedDesc,
			prometheus.CounterValue, float64(stats.Receive), name)
		ch <- prometheus.MustNewConstMetric(c.errorsDesc,
			prometheus.CounterValue, float64(stats.Error), name)
	}
}
