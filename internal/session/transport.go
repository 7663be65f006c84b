package session

import (
	"context"
)

// Transport 消息传输层能力接口（WhatsApp网桥）。
// 会话管理器只依赖这个接口；真实适配器见 internal/transport，
// 测试用 fake 适配器注入。
type Transport interface {
	// Connect 用凭据建立连接；凭据为 nil 时传输层会发出QR配对挑战事件
	Connect(ctx context.Context, credentials []byte) error

	// Send 发送一条消息；recipient 为规范化后的WhatsApp地址
	Send(ctx context.Context, recipient string, payload []byte) error

	// Ping 轻量存活探测
	Ping(ctx context.Context) error

	// Logout 优雅注销（使对端凭据失效）
	Logout(ctx context.Context) error

	// SetEventHandler 注册连接事件回调（QR、凭据更新、open、closed）
	SetEventHandler(handler func(Event))

	// Close 释放底层资源，不注销凭据
	Close()
}
