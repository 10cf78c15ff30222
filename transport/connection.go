package transport

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zenghr0820/gbsip/sip"
)

// Connection wraps a stream net.Conn and satisfies provider.Connection.
type Connection interface {
	ID() sip.Identifier
	Network() string
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Write(data []byte) error
	Close() error
	String() string
}

type connection struct {
	baseConn net.Conn
	id       sip.Identifier
	network  string
	ttl      time.Duration
	// 写操作串行化, 保证消息不交错
	mu        sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newConnection(network string, baseConn net.Conn, ttl time.Duration) *connection {
	host, port := splitAddr(baseConn.RemoteAddr())
	return &connection{
		baseConn: baseConn,
		id:       sip.ConnectionIdentifier(network, host, port),
		network:  strings.ToLower(network),
		ttl:      ttl,
		closed:   make(chan struct{}),
	}
}

func splitAddr(addr net.Addr) (string, int) {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String(), a.Port
	case *net.UDPAddr:
		return a.IP.String(), a.Port
	}
	host, p, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(p)
	return host, port
}

func (conn *connection) ID() sip.Identifier {
	return conn.id
}

func (conn *connection) Network() string {
	return strings.ToUpper(conn.network)
}

func (conn *connection) String() string {
	return conn.network + ":" + conn.LocalAddr().String() + "->" + conn.RemoteAddr().String()
}

func (conn *connection) LocalAddr() net.Addr {
	return conn.baseConn.LocalAddr()
}

func (conn *connection) RemoteAddr() net.Addr {
	return conn.baseConn.RemoteAddr()
}

// Read 每次读取前刷新空闲超时
func (conn *connection) Read(buf []byte) (int, error) {
	if conn.ttl > 0 {
		if err := conn.baseConn.SetReadDeadline(time.Now().Add(conn.ttl)); err != nil {
			return 0, err
		}
	}
	return conn.baseConn.Read(buf)
}

func (conn *connection) Write(data []byte) error {
	select {
	case <-conn.closed:
		return &ConnectionError{Err: net.ErrClosed, Op: "write", Net: conn.network, Dest: conn.RemoteAddr().String()}
	default:
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	for len(data) > 0 {
		n, err := conn.baseConn.Write(data)
		if err != nil {
			return &ConnectionError{
				Err:    err,
				Op:     "write",
				Net:    conn.network,
				Source: conn.LocalAddr().String(),
				Dest:   conn.RemoteAddr().String(),
			}
		}
		data = data[n:]
	}
	log.Debugf("conn write %s", conn)
	return nil
}

// Close 可以重复调用
func (conn *connection) Close() error {
	var err error
	conn.closeOnce.Do(func() {
		close(conn.closed)
		err = conn.baseConn.Close()
		log.Debugf("connection %s closed", conn.id)
	})
	return err
}

func (conn *connection) Done() <-chan struct{} {
	return conn.closed
}
