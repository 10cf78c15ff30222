package transport

import (
	"net"
	"strings"
	"sync"

	"github.com/zenghr0820/gbsip/provider"
)

// Protocol 协议层, one per network
type Protocol interface {
	Network() string
	Reliable() bool
	// Listen binds addr and returns the address actually bound.
	Listen(addr string) (net.Addr, error)
	// Send writes data to host:port; stream protocols return the connection used.
	Send(data []byte, host string, port int) (provider.Connection, error)
	// Close stops listening, closes every connection and waits for the
	// goroutines of the protocol.
	Close()
}

type protocol struct {
	network  string
	reliable bool
}

func (p *protocol) Network() string {
	return strings.ToUpper(p.network)
}

func (p *protocol) Reliable() bool {
	return p.reliable
}

// 实例化协议工厂
func protocolFactory(network string, receiver provider.Receiver, opts Options) (Protocol, error) {
	switch strings.ToLower(network) {
	case "udp":
		return newUDPProtocol(receiver, opts), nil
	case "tcp":
		return newTCPProtocol(receiver, opts), nil
	}
	return nil, UnsupportedProtocolError("protocol " + network + " is not supported")
}

// Thread-safe protocols pool.
// 线程安全协议池
type protocolPool struct {
	protocols map[string]Protocol
	mu        sync.RWMutex
}

func newProtocolPool() *protocolPool {
	return &protocolPool{
		protocols: make(map[string]Protocol),
	}
}

func (pool *protocolPool) put(protocol Protocol) {
	pool.mu.Lock()
	pool.protocols[strings.ToUpper(protocol.Network())] = protocol
	pool.mu.Unlock()
}

func (pool *protocolPool) get(network string) (Protocol, bool) {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	protocol, ok := pool.protocols[strings.ToUpper(network)]
	return protocol, ok
}

func (pool *protocolPool) all() []Protocol {
	pool.mu.RLock()
	defer pool.mu.RUnlock()
	all := make([]Protocol, 0, len(pool.protocols))
	for _, protocol := range pool.protocols {
		all = append(all, protocol)
	}
	return all
}
