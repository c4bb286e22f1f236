// Package interfaces 定义 go-protocol 的公共接口
//
// 包含会话核心消费的传输层接口（Transport / FeedChannel）、
// 处理器可见的会话视图（Session）以及各类处理器签名。
//
// 传输层被视为外部能力：它负责成帧、加密与扩展名协商，
// 核心只依赖这里声明的窄接口。
package interfaces
