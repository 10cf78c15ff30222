package transport_test

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/sip"
	"github.com/zenghr0820/gbsip/transport"
	"go.uber.org/goleak"
)

const options = "OPTIONS sip:34020000001320000001@127.0.0.1 SIP/2.0\r\n" +
	"Via: SIP/2.0/TCP 127.0.0.1:5060;branch=z9hG4bK776asdhds\r\n" +
	"To: <sip:34020000001320000001@127.0.0.1>\r\n" +
	"From: <sip:34020000002000000001@127.0.0.1>;tag=1928301774\r\n" +
	"Call-ID: a84b4c76e66710\r\n" +
	"CSeq: 1 OPTIONS\r\n" +
	"Max-Forwards: 70\r\n" +
	"Content-Length: 4\r\n" +
	"\r\n" +
	"ping"

type packet struct {
	data  []byte
	host  string
	port  int
	proto string
	conn  provider.Connection
}

type closedConn struct {
	id  sip.Identifier
	err error
}

type recorder struct {
	packets chan packet
	closed  chan closedConn
}

func newRecorder() *recorder {
	return &recorder{packets: make(chan packet, 16), closed: make(chan closedConn, 16)}
}

func (r *recorder) OnReceivedBytes(data []byte, host string, port int, proto string, conn provider.Connection) {
	r.packets <- packet{data: append([]byte(nil), data...), host: host, port: port, proto: proto, conn: conn}
}

func (r *recorder) OnConnectionClosed(id sip.Identifier, err error) {
	r.closed <- closedConn{id: id, err: err}
}

func (r *recorder) next(t *testing.T) packet {
	t.Helper()
	select {
	case p := <-r.packets:
		return p
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no packet received")
	}
	return packet{}
}

func (r *recorder) nextClosed(t *testing.T) closedConn {
	t.Helper()
	select {
	case c := <-r.closed:
		return c
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no connection closed")
	}
	return closedConn{}
}

func listen(t *testing.T, network string, r *recorder, opts ...transport.Option) (*transport.Layer, int) {
	t.Helper()
	l := transport.New(r, opts...)
	require.NoError(t, l.Listen(network, "127.0.0.1:0"))
	addr, ok := l.Addr(network)
	require.True(t, ok)
	switch a := addr.(type) {
	case *net.UDPAddr:
		return l, a.Port
	case *net.TCPAddr:
		return l, a.Port
	}
	t.Fatalf("unexpected address %v", addr)
	return nil, 0
}

func TestUDPSend(t *testing.T) {
	defer goleak.VerifyNone(t)

	ra, rb := newRecorder(), newRecorder()
	a, portA := listen(t, "udp", ra)
	defer a.Close()
	b, portB := listen(t, "udp", rb)
	defer b.Close()

	conn, err := a.Send([]byte(options), "127.0.0.1", portB, "udp")
	require.NoError(t, err)
	assert.Nil(t, conn)

	p := rb.next(t)
	assert.Equal(t, options, string(p.data))
	assert.Equal(t, "127.0.0.1", p.host)
	assert.Equal(t, portA, p.port)
	assert.Equal(t, "udp", p.proto)
	assert.Nil(t, p.conn)
}

func TestTCPSendAndReply(t *testing.T) {
	defer goleak.VerifyNone(t)

	ra, rb := newRecorder(), newRecorder()
	a, _ := listen(t, "tcp", ra)
	defer a.Close()
	b, portB := listen(t, "tcp", rb)
	defer b.Close()

	conn, err := a.Send([]byte(options), "127.0.0.1", portB, "tcp")
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, sip.ConnectionIdentifier("tcp", "127.0.0.1", portB), conn.ID())

	p := rb.next(t)
	assert.Equal(t, options, string(p.data))
	assert.Equal(t, "tcp", p.proto)
	require.NotNil(t, p.conn)

	// the answer travels back on the accepted connection
	require.NoError(t, p.conn.Write([]byte(options)))
	back := ra.next(t)
	assert.Equal(t, options, string(back.data))
	assert.Equal(t, conn.ID(), back.conn.ID())

	// a second send reuses the connection
	again, err := a.Send([]byte(options), "127.0.0.1", portB, "tcp")
	require.NoError(t, err)
	assert.Same(t, conn, again)
	rb.next(t)

	require.NoError(t, conn.Close())
	closed := rb.nextClosed(t)
	assert.Equal(t, p.conn.ID(), closed.id)
	assert.NoError(t, closed.err)
}

func TestTCPFramesStream(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := transport.New(newRecorder())
	defer a.Close()
	rb := newRecorder()
	b, portB := listen(t, "tcp", rb)
	defer b.Close()

	// the dialing side does not need a TCP listener
	conn, err := a.Send([]byte("\r\n\r\n"+options+options), "127.0.0.1", portB, "tcp")
	require.NoError(t, err)
	require.NotNil(t, conn)

	assert.Equal(t, options, string(rb.next(t).data))
	assert.Equal(t, options, string(rb.next(t).data))
}

func TestTCPIdleConnectionExpires(t *testing.T) {
	defer goleak.VerifyNone(t)

	ra, rb := newRecorder(), newRecorder()
	a, _ := listen(t, "tcp", ra)
	defer a.Close()
	b, portB := listen(t, "tcp", rb, transport.ConnectionTTL(100*time.Millisecond))
	defer b.Close()

	_, err := a.Send([]byte(options), "127.0.0.1", portB, "tcp")
	require.NoError(t, err)
	rb.next(t)

	closed := rb.nextClosed(t)
	var expired transport.ExpireError
	assert.True(t, errors.As(closed.err, &expired))

	// the peer sees the close as end of stream
	assert.NoError(t, ra.nextClosed(t).err)
}

func TestUnsupportedProtocol(t *testing.T) {
	l := transport.New(newRecorder())
	defer l.Close()

	var unsupported transport.UnsupportedProtocolError
	assert.True(t, errors.As(l.Listen("sctp", "127.0.0.1:0"), &unsupported))
	_, err := l.Send([]byte(options), "127.0.0.1", 5060, "sctp")
	assert.True(t, errors.As(err, &unsupported))

	assert.True(t, l.Reliable("tcp"))
	assert.False(t, l.Reliable("udp"))
}

func TestSendAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	l, _ := listen(t, "udp", newRecorder())
	l.Close()
	l.Close()

	_, err := l.Send([]byte(options), "127.0.0.1", 5060, "udp")
	assert.Error(t, err)
	assert.Error(t, l.Listen("udp", "127.0.0.1:0"))
}

func TestUDPSendWithoutListener(t *testing.T) {
	l := transport.New(newRecorder())
	defer l.Close()

	_, err := l.Send([]byte(options), "127.0.0.1", 5060, "udp")
	var protoErr *transport.ProtocolError
	assert.True(t, errors.As(err, &protoErr))

	_, err = l.Send([]byte(options), "", 5060, "udp")
	assert.Error(t, err)
}
