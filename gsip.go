// Package gbsip wires the SIP stack of a GB28181 endpoint: configuration,
// logging, metrics, the scheduler, the UDP/TCP transport, the provider and
// the method callbacks.
package gbsip

import (
	"context"
	"net"

	"github.com/zenghr0820/gbsip/callback"
	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/sip"
	"github.com/zenghr0820/gbsip/transaction"
)

// SIP 服务
type Service interface {
	// 返回当前配置选项
	Options() Options
	// Provider 用于创建对话 (dialog 包)
	Provider() *provider.Provider
	Callback() callback.Callback
	// 开启监听
	Listen(network string, listenAddr string) error
	Addr(network string) (net.Addr, bool)
	// Start listens on every configured transport at the configured port.
	Start() error
	// Request sends a non-INVITE request in a new client transaction.
	Request(req *sip.Message, handler transaction.Handler) (transaction.Transaction, error)
	// Respond answers req outside of any server transaction.
	Respond(req *sip.Message, code sip.StatusCode, reason string) error
	// 运行直到 ctx 结束或者服务关闭
	Run(ctx context.Context) error
	// 关闭服务
	Close() error
	// The service implementation
	String() string
}

func NewService(opts ...Option) (Service, error) {
	return newService(opts...)
}
