package interfaces

// Transport 会话核心消费的传输层接口
//
// 对应一条双工流的一个端点。传输层自身负责：
//   - 交换 localID / remoteID 与 userData
//   - 双方通告扩展名列表并取交集（只有交集内的名字会产生事件）
//   - 基于 feed 密钥的成帧与校验
type Transport interface {
	// SetLocalID 设置本端标识（默认实现应随机生成 32 字节）
	SetLocalID(id []byte)

	// LocalID 返回本端标识
	LocalID() []byte

	// RemoteID 返回对端标识，传输层握手完成前为 nil
	RemoteID() []byte

	// SetLocalUserData 设置随握手发送的不透明数据
	SetLocalUserData(data []byte)

	// RemoteUserData 返回对端握手携带的数据，握手完成前为 nil
	RemoteUserData() []byte

	// AdvertiseExtension 追加一个通告的扩展名
	//
	// 双方通告列表的交集决定哪些名字会产生扩展事件。
	// 必须在 Feed 之前完成全部通告。
	AdvertiseExtension(name string)

	// Feed 以指定密钥打开数据通道
	//
	// 传输层据此派生发现密钥并与对端的通道匹配；
	// 返回的通道用于扩展帧的收发。
	Feed(key []byte) (FeedChannel, error)

	// OnHandshake 注册传输层握手完成回调（只触发一次）
	OnHandshake(fn func())

	// OnFeed 注册对端 feed 到达回调，参数为对端通道的发现密钥
	OnFeed(fn func(discoveryKey []byte))

	// OnClose 注册流结束回调
	//
	// 本端 Destroy 或对端销毁流都会触发；err 为销毁原因，可为 nil。
	OnClose(fn func(err error))

	// Destroy 销毁流并向对端传播结束信号
	Destroy(err error)

	// Closed 返回流是否已结束
	Closed() bool
}

// FeedChannel 单个 feed 上的扩展帧通道
type FeedChannel interface {
	// Extension 发送一条扩展帧
	Extension(name string, payload []byte) error

	// OnExtension 注册扩展帧到达回调
	//
	// 回调按帧到达顺序串行触发。
	OnExtension(fn func(name string, payload []byte))
}
