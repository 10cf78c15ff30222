package transport

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/sip"
)

// TCP protocol implementation
type tcpProtocol struct {
	protocol
	ttl         time.Duration
	dialTimeout time.Duration

	connections *connectionPool
	mu          sync.Mutex
	listeners   []*listenerHandler
	closed      bool
	wg          sync.WaitGroup
}

func newTCPProtocol(receiver provider.Receiver, opts Options) *tcpProtocol {
	tcp := &tcpProtocol{
		ttl:         opts.ConnectionTTL,
		dialTimeout: opts.DialTimeout,
		connections: newConnectionPool(receiver),
	}
	tcp.network = "tcp"
	tcp.reliable = true
	return tcp
}

// 解析地址
func (tcp *tcpProtocol) resolveAddr(address string) (*net.TCPAddr, error) {
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, &ProtocolError{
			err,
			fmt.Sprintf("resolve target address %s %s", tcp.Network(), address),
			fmt.Sprintf("%p", tcp),
		}
	}
	return addr, nil
}

// 监听
func (tcp *tcpProtocol) Listen(address string) (net.Addr, error) {
	localAddr, err := tcp.resolveAddr(address)
	if err != nil {
		return nil, err
	}
	listener, err := net.ListenTCP("tcp", localAddr)
	if err != nil {
		return nil, &ProtocolError{
			err,
			fmt.Sprintf("listen on %s %s address", tcp.Network(), localAddr),
			fmt.Sprintf("%p", tcp),
		}
	}

	handler := newListenerHandler(tcp.network, listener, tcp.connections, tcp.ttl)
	tcp.mu.Lock()
	if tcp.closed {
		tcp.mu.Unlock()
		_ = listener.Close()
		return nil, &ProtocolError{net.ErrClosed, "listen", fmt.Sprintf("%p", tcp)}
	}
	tcp.listeners = append(tcp.listeners, handler)
	tcp.wg.Add(1)
	tcp.mu.Unlock()

	go handler.serve(tcp.wg.Done)
	return listener.Addr(), nil
}

// Send writes on the connection to host:port, dialing it when missing.
func (tcp *tcpProtocol) Send(data []byte, host string, port int) (provider.Connection, error) {
	conn, err := tcp.getOrCreateConnection(host, port)
	if err != nil {
		return nil, err
	}
	if err := conn.Write(data); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// 获取连接或者创建连接
func (tcp *tcpProtocol) getOrCreateConnection(host string, port int) (*connection, error) {
	remoteAddr, err := tcp.resolveAddr(net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	id := sip.ConnectionIdentifier(tcp.network, remoteAddr.IP.String(), remoteAddr.Port)
	if conn, ok := tcp.connections.get(id); ok {
		return conn, nil
	}

	log.Debugf("connection for remote address %s %s not found, create a new one", tcp.Network(), remoteAddr)
	baseConn, err := net.DialTimeout("tcp", remoteAddr.String(), tcp.dialTimeout)
	if err != nil {
		return nil, &ProtocolError{
			err,
			fmt.Sprintf("connect to %s %s address", tcp.Network(), remoteAddr),
			fmt.Sprintf("%p", tcp),
		}
	}

	conn := newConnection(tcp.network, baseConn, tcp.ttl)
	if !tcp.connections.put(conn) {
		_ = conn.Close()
		return nil, &ProtocolError{net.ErrClosed, "connect", fmt.Sprintf("%p", tcp)}
	}
	return conn, nil
}

func (tcp *tcpProtocol) Close() {
	tcp.mu.Lock()
	if tcp.closed {
		tcp.mu.Unlock()
		return
	}
	tcp.closed = true
	listeners := tcp.listeners
	tcp.listeners = nil
	tcp.mu.Unlock()

	for _, l := range listeners {
		l.close()
	}
	tcp.wg.Wait()
	tcp.connections.close()
}
