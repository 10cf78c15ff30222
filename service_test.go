package gbsip_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zenghr0820/gbsip"
	"github.com/zenghr0820/gbsip/callback"
	"github.com/zenghr0820/gbsip/config"
	"github.com/zenghr0820/gbsip/sip"
	"github.com/zenghr0820/gbsip/transaction"
	"go.uber.org/goleak"
)

const (
	platform = "34020000002000000001"
	camera   = "34020000001320000001"
)

func newService(t *testing.T, opts ...gbsip.Option) (gbsip.Service, int) {
	t.Helper()
	cfg := config.Default()
	cfg.SIP.ViaAddr = "127.0.0.1"
	cfg.SIP.Transports = []string{config.ProtoUDP}
	cfg.Auth.Realm = "3402000000"

	s, err := gbsip.NewService(append([]gbsip.Option{gbsip.Config(cfg)}, opts...)...)
	require.NoError(t, err)
	require.NoError(t, s.Listen("udp", "127.0.0.1:0"))
	addr, ok := s.Addr("udp")
	require.True(t, ok)
	return s, addr.(*net.UDPAddr).Port
}

func address(t *testing.T, user string, port int) *sip.NameAddress {
	t.Helper()
	addr, err := sip.ParseNameAddress("<sip:" + user + "@127.0.0.1:" + strconv.Itoa(port) + ">")
	require.NoError(t, err)
	return addr
}

func collect(events chan transaction.Event) transaction.Handler {
	return func(ev transaction.Event) {
		if ev.Kind != transaction.EventProvisional {
			events <- ev
		}
	}
}

func wait(t *testing.T, events chan transaction.Event) transaction.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		require.FailNow(t, "no transaction event")
	}
	return transaction.Event{}
}

func TestOptionsBetweenServices(t *testing.T) {
	defer goleak.VerifyNone(t)

	b, portB := newService(t)
	defer b.Close()
	received := make(chan *sip.Message, 1)
	b.Callback().AddRequestHandle(sip.OPTIONS, func(req *sip.Message, tx callback.ServerTransaction) {
		received <- req
		assert.NoError(t, tx.Respond(b.Provider().Factory().Response(req, sip.StatusOK, "", nil)))
	})
	a, _ := newService(t)
	defer a.Close()

	to := address(t, camera, portB)
	req := a.Provider().Factory().Options(to.URI, to, address(t, platform, 5060), nil)
	events := make(chan transaction.Event, 4)
	_, err := a.Request(req, collect(events))
	require.NoError(t, err)

	ev := wait(t, events)
	assert.Equal(t, transaction.EventSuccess, ev.Kind)
	require.NotNil(t, ev.Msg)
	assert.Equal(t, sip.StatusOK, ev.Msg.StatusCode())
	assert.Equal(t, req.CallID(), (<-received).CallID())
}

func TestUnknownMethodAnswered405(t *testing.T) {
	defer goleak.VerifyNone(t)

	b, portB := newService(t)
	defer b.Close()
	b.Callback().AddRequestHandle(sip.OPTIONS, func(req *sip.Message, tx callback.ServerTransaction) {})
	a, _ := newService(t)
	defer a.Close()

	to := address(t, camera, portB)
	req := a.Provider().Factory().Message(to.URI, to, address(t, platform, 5060), "Application/MANSCDP+xml", []byte("<Notify/>"))
	events := make(chan transaction.Event, 4)
	_, err := a.Request(req, collect(events))
	require.NoError(t, err)

	ev := wait(t, events)
	assert.Equal(t, transaction.EventFailure, ev.Kind)
	assert.Equal(t, sip.StatusMethodNotAllowed, ev.Msg.StatusCode())
	allow, _ := ev.Msg.GetHeader(sip.HeaderAllow)
	assert.Equal(t, "OPTIONS", allow)
}

func TestRegisterDigest(t *testing.T) {
	defer goleak.VerifyNone(t)

	users := map[string]string{camera: "12345678"}
	b, portB := newService(t, gbsip.RegisterAuth(users))
	defer b.Close()
	a, _ := newService(t)
	defer a.Close()

	to := address(t, camera, portB)
	from := address(t, camera, 5060)
	reg := a.Provider().Factory().Register(to, from, a.Provider().BuildContact(camera), 3600)
	events := make(chan transaction.Event, 4)
	_, err := a.Request(reg, collect(events))
	require.NoError(t, err)

	ev := wait(t, events)
	require.Equal(t, transaction.EventFailure, ev.Kind)
	require.Equal(t, sip.StatusUnauthorized, ev.Msg.StatusCode())
	chal, ok := ev.Msg.GetHeader(sip.HeaderWWWAuthenticate)
	require.True(t, ok)
	assert.Contains(t, chal, `realm="3402000000"`)

	// a wrong password is challenged again
	retry := func(password string, seq uint32) transaction.Event {
		req := reg.Clone()
		require.NoError(t, sip.Authorize(req, ev.Msg, sip.Credentials{Username: camera, Password: password}))
		req.SetCSeq(&sip.CSeq{SeqNo: seq, MethodName: sip.REGISTER})
		hop, err := req.Via()
		require.NoError(t, err)
		hop.SetBranch(a.Provider().PickBranch())
		req.SetTopVia(hop)
		_, err = a.Request(req, collect(events))
		require.NoError(t, err)
		return wait(t, events)
	}
	denied := retry("wrong", 2)
	assert.Equal(t, sip.StatusUnauthorized, denied.Msg.StatusCode())

	ev = denied
	accepted := retry("12345678", 3)
	require.Equal(t, transaction.EventSuccess, accepted.Kind)
	expires, ok := accepted.Msg.Expires()
	require.True(t, ok)
	assert.Equal(t, 3600, expires)
}

func TestRequestRejectsInvite(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, _ := newService(t)
	defer a.Close()
	to := address(t, camera, 5060)
	inv := a.Provider().Factory().Invite(to.URI, to, address(t, platform, 5060), nil, "", nil)
	_, err := a.Request(inv, nil)
	assert.Error(t, err)

	_, err = a.Request(a.Provider().Factory().Response(inv, sip.StatusOK, "", nil), nil)
	assert.Error(t, err)
}

func TestRunStopsWithContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := prometheus.NewRegistry()
	a, _ := newService(t, gbsip.Registerer(reg))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	assert.Error(t, a.Listen("udp", "127.0.0.1:0"))
	_, err := a.Request(nil, nil)
	assert.Error(t, err)
	require.NoError(t, a.Close())

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestInvalidConfig(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := config.Default()
	cfg.SIP.Transports = nil
	_, err := gbsip.NewService(gbsip.Config(cfg))
	assert.Error(t, err)
}

func TestStartListensOnConfiguredTransports(t *testing.T) {
	defer goleak.VerifyNone(t)

	spare, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	port := spare.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, spare.Close())

	cfg := config.Default()
	cfg.SIP.ViaAddr = "127.0.0.1"
	cfg.SIP.HostPort = port
	s, err := gbsip.NewService(gbsip.Config(cfg), gbsip.ListenHost("127.0.0.1"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Start())
	udp, ok := s.Addr("udp")
	require.True(t, ok)
	assert.Equal(t, port, udp.(*net.UDPAddr).Port)
	tcp, ok := s.Addr("tcp")
	require.True(t, ok)
	assert.Equal(t, port, tcp.(*net.TCPAddr).Port)
}
