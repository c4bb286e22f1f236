// Package protocol 提供点对点会话与扩展协议核心
//
// 两个进程在一条长连双工流上建立会话，协商一组命名扩展，
// 并在每个扩展上交换请求/响应消息与单向事件。
//
// # 核心概念
//
//   - Session: 包装一条传输流，交换主题与会话数据，
//     复用扩展通道并驱动确定性生命周期
//   - Extension: 命名逻辑通道，带独立编解码器、处理器与请求超时
//   - 初始化门控: 内置扩展，在双方扩展初始化完成之后、
//     用户握手回调观察到对端之前确认或否决连接
//
// # 快速开始
//
//	import (
//	    protocol "github.com/dxos/go-protocol"
//	    "github.com/dxos/go-protocol/pkg/interfaces"
//	    "github.com/dxos/go-protocol/pkg/types"
//	)
//
//	// 1. 创建扩展并安装处理器
//	echo := protocol.NewExtension("echo").
//	    SetOnMessage(func(s interfaces.Session, data any, opts interfaces.MessageOptions) (any, error) {
//	        return data, nil
//	    })
//
//	// 2. 在传输流上创建会话并启动
//	topic, _ := types.NewTopic()
//	sess := protocol.New(transport).
//	    SetSession(types.SessionData{"peerId": "alice"}).
//	    SetExtension(echo).
//	    Init(topic)
//
//	// 3. 握手完成后收发消息
//	_ = sess.AwaitHandshake(ctx)
//	resp, _ := echo.Send(ctx, []byte("hello"))
//
// # 生命周期
//
//	open → init → 门控 → 握手 → 运行 → 关闭
//
// 任一阶段失败都会以带稳定错误码的 ProtocolError 中止流；
// 错误码见 errors.go。
package protocol
