package transport

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/zenghr0820/gbsip/provider"
)

// UDP protocol implementation
type udpProtocol struct {
	protocol
	receiver provider.Receiver

	mu     sync.RWMutex
	conns  []*net.UDPConn
	cancel chan struct{}
	wg     sync.WaitGroup
}

func newUDPProtocol(receiver provider.Receiver, _ Options) *udpProtocol {
	udp := &udpProtocol{receiver: receiver, cancel: make(chan struct{})}
	udp.network = "udp"
	udp.reliable = false
	return udp
}

// 解析地址
func (udp *udpProtocol) resolveAddr(address string) (*net.UDPAddr, error) {
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, &ProtocolError{
			err,
			fmt.Sprintf("resolve target address %s %s", udp.Network(), address),
			fmt.Sprintf("%p", udp),
		}
	}
	return addr, nil
}

// 监听
func (udp *udpProtocol) Listen(address string) (net.Addr, error) {
	localAddr, err := udp.resolveAddr(address)
	if err != nil {
		return nil, err
	}
	udpConn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, &ProtocolError{
			err,
			fmt.Sprintf("listen on %s %s address", udp.Network(), localAddr),
			fmt.Sprintf("%p", udp),
		}
	}

	log.Infof("begin listening on %s %s", udp.Network(), udpConn.LocalAddr())

	udp.mu.Lock()
	udp.conns = append(udp.conns, udpConn)
	udp.wg.Add(1)
	udp.mu.Unlock()

	go udp.read(udpConn)
	return udpConn.LocalAddr(), nil
}

func (udp *udpProtocol) read(conn *net.UDPConn) {
	defer udp.wg.Done()

	buf := make([]byte, BufferSize)
	for {
		num, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-udp.cancel:
				return
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				log.Warnf("%s read timeout, sleep by %s", conn.LocalAddr(), NetErrRetryTime)
				select {
				case <-udp.cancel:
					return
				case <-time.After(NetErrRetryTime):
				}
				continue
			}
			log.Errorf("read on %s %s: %s", udp.Network(), conn.LocalAddr(), err)
			return
		}

		data := buf[:num]
		// skip empty udp packets
		if len(bytes.Trim(data, "\x00")) == 0 {
			continue
		}
		udp.receiver.OnReceivedBytes(data, raddr.IP.String(), raddr.Port, udp.network, nil)
	}
}

// Send 通过已打开的监听连接发送, 始终使用相同的本地端口
func (udp *udpProtocol) Send(data []byte, host string, port int) (provider.Connection, error) {
	if host == "" {
		return nil, &ProtocolError{
			errors.New("empty remote target host"),
			fmt.Sprintf("send SIP message to %s :%d", udp.Network(), port),
			fmt.Sprintf("%p", udp),
		}
	}
	remoteAddr, err := udp.resolveAddr(net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, err
	}

	udp.mu.RLock()
	var conn *net.UDPConn
	if len(udp.conns) > 0 {
		conn = udp.conns[0]
	}
	udp.mu.RUnlock()
	if conn == nil {
		return nil, &ProtocolError{
			errors.New("no listening connection"),
			fmt.Sprintf("send SIP message to %s %s", udp.Network(), remoteAddr),
			fmt.Sprintf("%p", udp),
		}
	}

	if _, err := conn.WriteToUDP(data, remoteAddr); err != nil {
		return nil, &ConnectionError{
			Err:    err,
			Op:     "write",
			Net:    udp.network,
			Source: conn.LocalAddr().String(),
			Dest:   remoteAddr.String(),
		}
	}
	return nil, nil
}

func (udp *udpProtocol) Close() {
	udp.mu.Lock()
	select {
	case <-udp.cancel:
		udp.mu.Unlock()
		return
	default:
	}
	close(udp.cancel)
	for _, conn := range udp.conns {
		_ = conn.Close()
	}
	udp.conns = nil
	udp.mu.Unlock()

	udp.wg.Wait()
}
