// Package transport moves SIP messages over UDP and TCP for a provider.
package transport

import (
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/sip"
)

// Layer is the transport of one provider: it listens on UDP and TCP, hands
// every datagram and every framed stream message to the receiver and sends
// what the provider asks for.
type Layer struct {
	opts      Options
	receiver  provider.Receiver
	protocols *protocolPool

	mu     sync.Mutex
	addrs  map[string]net.Addr
	closed bool
}

var _ provider.Transport = (*Layer)(nil)

// New 创建传输层, receiver 接收所有入站数据
func New(receiver provider.Receiver, opts ...Option) *Layer {
	return &Layer{
		opts:      newOptions(opts...),
		receiver:  receiver,
		protocols: newProtocolPool(),
		addrs:     make(map[string]net.Addr),
	}
}

// Listen binds network ("udp" or "tcp") on addr ("host:port").
func (tpl *Layer) Listen(network string, addr string) error {
	protocol, err := tpl.protocol(network)
	if err != nil {
		return err
	}

	bound, err := protocol.Listen(addr)
	if err != nil {
		return err
	}
	tpl.mu.Lock()
	if _, ok := tpl.addrs[strings.ToLower(network)]; !ok {
		tpl.addrs[strings.ToLower(network)] = bound
	}
	tpl.mu.Unlock()
	return nil
}

// protocol 检查协议池是否有该协议, 有则取出, 无则创建添加进协议池
func (tpl *Layer) protocol(network string) (Protocol, error) {
	tpl.mu.Lock()
	defer tpl.mu.Unlock()
	if tpl.closed {
		return nil, fmt.Errorf("transport layer is closed")
	}

	if protocol, ok := tpl.protocols.get(network); ok {
		return protocol, nil
	}
	protocol, err := protocolFactory(network, tpl.receiver, tpl.opts)
	if err != nil {
		return nil, err
	}
	tpl.protocols.put(protocol)
	return protocol, nil
}

// Addr 第一个监听地址, 端口 0 时可以拿到系统分配的端口
func (tpl *Layer) Addr(network string) (net.Addr, bool) {
	tpl.mu.Lock()
	defer tpl.mu.Unlock()
	addr, ok := tpl.addrs[strings.ToLower(network)]
	return addr, ok
}

func (tpl *Layer) Reliable(proto string) bool {
	if protocol, ok := tpl.protocols.get(proto); ok {
		return protocol.Reliable()
	}
	return sip.IsReliable(proto)
}

func (tpl *Layer) Send(data []byte, host string, port int, proto string) (provider.Connection, error) {
	protocol, err := tpl.protocol(proto)
	if err != nil {
		return nil, err
	}
	if port <= 0 {
		port = sip.DefaultPort
	}
	log.Debugf("sending %d bytes to %s:%d/%s", len(data), host, port, proto)
	return protocol.Send(data, host, port)
}

// Close stops every protocol and waits for its goroutines.
func (tpl *Layer) Close() {
	tpl.mu.Lock()
	if tpl.closed {
		tpl.mu.Unlock()
		return
	}
	tpl.closed = true
	tpl.mu.Unlock()

	log.Infof("release resources")
	for _, protocol := range tpl.protocols.all() {
		protocol.Close()
	}
}
