// Package types 定义 go-protocol 的公共基础类型
//
// 包含：
//   - Topic / DiscoveryKey: 会话主题密钥与派生的发现密钥
//   - SessionData: 握手期间交换的会话数据
//   - ProtocolError: 携带稳定错误码的协议错误
//   - Stats: 扩展的消息计数快照
//   - Evt*: 事件总线上发布的事件类型
//
// 本包只依赖叶子库，不引用任何 internal 包。
package types
