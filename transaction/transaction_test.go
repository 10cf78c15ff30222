package transaction_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zenghr0820/gbsip/config"
	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/provider/providertest"
	"github.com/zenghr0820/gbsip/scheduler"
	"github.com/zenghr0820/gbsip/sip"
	"github.com/zenghr0820/gbsip/transaction"
)

const (
	addrA = "10.0.0.1:5060"
	addrB = "10.0.0.2:5060"
)

type env struct {
	network *providertest.Network
	sched   *scheduler.Manual
}

func newEnv() *env {
	return &env{network: providertest.NewNetwork(), sched: scheduler.NewManual()}
}

func (e *env) peer(t *testing.T, host, proto string) *provider.Provider {
	t.Helper()

	cfg := config.Default()
	cfg.SIP.ViaAddr = host
	cfg.SIP.Transports = []string{proto}
	p, err := provider.New(cfg, e.sched)
	require.NoError(t, err)

	ep := e.network.Endpoint(host, cfg.SIP.HostPort)
	ep.Bind(p)
	p.SetTransport(ep)
	return p
}

// sent counts the messages sent from addr whose start line contains filter.
func (e *env) sent(from, filter string) int {
	return len(e.network.Messages(from, filter))
}

type recorder struct {
	events []transaction.Event
}

func (r *recorder) handle(ev transaction.Event) {
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []transaction.EventKind {
	out := make([]transaction.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func addresses(t *testing.T) (*sip.NameAddress, *sip.NameAddress) {
	t.Helper()
	to, err := sip.ParseNameAddress("<sip:34020000001320000001@10.0.0.2:5060>")
	require.NoError(t, err)
	from, err := sip.ParseNameAddress("<sip:34020000002000000001@10.0.0.1:5060>")
	require.NoError(t, err)
	return to, from
}

func message(t *testing.T, p *provider.Provider) *sip.Message {
	to, from := addresses(t)
	return p.Factory().Message(to.URI, to, from, "Application/MANSCDP+xml", []byte("<Query/>"))
}

func invite(t *testing.T, p *provider.Provider) *sip.Message {
	to, from := addresses(t)
	return p.Factory().Invite(to.URI, to, from, p.BuildContact("34020000002000000001"), "application/sdp", []byte("v=0\r\n"))
}

func TestClientRetransmitsUntilTimeout(t *testing.T) {
	e := newEnv()
	a := e.peer(t, "10.0.0.1", "udp")

	rec := &recorder{}
	tx := transaction.NewClientTransaction(a, message(t, a), rec.handle)
	require.NoError(t, tx.Start())
	assert.Equal(t, transaction.Trying, tx.State())
	assert.True(t, a.HasListener(tx.Key()))
	assert.Error(t, tx.Start())

	e.sched.Advance(8 * time.Second)
	// 0, 0.5, 1.5, 3.5, 7.5
	assert.Equal(t, 5, e.sent(addrA, "MESSAGE"))

	e.sched.Advance(24 * time.Second)
	// capped at T2: 11.5 ... 31.5
	assert.Equal(t, 11, e.sent(addrA, "MESSAGE"))

	require.Equal(t, []transaction.EventKind{transaction.EventTimeout}, rec.kinds())
	var timeout *transaction.TxTimeoutError
	assert.True(t, errors.As(rec.events[0].Err, &timeout))
	assert.Equal(t, tx.Key(), timeout.Key())
	assert.Equal(t, transaction.Terminated, tx.State())
	assert.False(t, a.HasListener(tx.Key()))

	e.sched.Advance(time.Minute)
	assert.Equal(t, 11, e.sent(addrA, "MESSAGE"))
	assert.Len(t, rec.events, 1)
}

func TestClientProceedingRetransmitsAtT2(t *testing.T) {
	e := newEnv()
	a := e.peer(t, "10.0.0.1", "udp")

	rec := &recorder{}
	req := message(t, a)
	tx := transaction.NewClientTransaction(a, req, rec.handle)
	require.NoError(t, tx.Start())

	tx.OnReceivedMessage(a.Factory().Response(req, sip.StatusTrying, "", nil))
	assert.Equal(t, transaction.Proceeding, tx.State())

	e.sched.Advance(500 * time.Millisecond)
	assert.Equal(t, 2, e.sent(addrA, "MESSAGE"))
	e.sched.Advance(3999 * time.Millisecond)
	assert.Equal(t, 2, e.sent(addrA, "MESSAGE"))
	e.sched.Advance(time.Millisecond)
	assert.Equal(t, 3, e.sent(addrA, "MESSAGE"))

	assert.Equal(t, []transaction.EventKind{transaction.EventProvisional}, rec.kinds())
}

func TestClientServerExchange(t *testing.T) {
	e := newEnv()
	a := e.peer(t, "10.0.0.1", "udp")
	b := e.peer(t, "10.0.0.2", "udp")

	var stx *transaction.ServerTransaction
	b.AddListener(sip.AnyIdentifier, provider.ListenerFunc(func(req *sip.Message) {
		var err error
		stx, err = transaction.NewServerTransaction(b, req, nil)
		require.NoError(t, err)
		require.NoError(t, stx.Respond(b.Factory().Response(req, sip.StatusOK, "", nil)))
	}))

	rec := &recorder{}
	tx := transaction.NewClientTransaction(a, message(t, a), rec.handle)
	require.NoError(t, tx.Start())
	e.sched.Flush()

	require.Equal(t, []transaction.EventKind{transaction.EventSuccess}, rec.kinds())
	assert.EqualValues(t, sip.StatusOK, rec.events[0].Msg.StatusCode())
	assert.Equal(t, transaction.Completed, tx.State())
	require.NotNil(t, stx)
	assert.Equal(t, transaction.Completed, stx.State())

	// timer K
	e.sched.Advance(5 * time.Second)
	assert.Equal(t, transaction.Terminated, tx.State())
	assert.False(t, a.HasListener(tx.Key()))
	assert.Equal(t, 1, e.sent(addrA, "MESSAGE"))

	// timer J
	e.sched.Advance(27 * time.Second)
	assert.Equal(t, transaction.Terminated, stx.State())
	assert.False(t, b.HasListener(stx.Key()))
}

func TestServerAbsorbsDuplicateRequest(t *testing.T) {
	e := newEnv()
	a := e.peer(t, "10.0.0.1", "udp")
	b := e.peer(t, "10.0.0.2", "udp")

	rec := &recorder{}
	stx := transaction.NewServerListener(b, sip.MESSAGE, "", func(ev transaction.Event) {
		rec.handle(ev)
		if ev.Kind == transaction.EventRequest {
			require.NoError(t, ev.Tx.(*transaction.ServerTransaction).Respond(b.Factory().Response(ev.Msg, sip.StatusOK, "", nil)))
		}
	})
	require.True(t, stx.Listen())
	assert.Equal(t, transaction.Waiting, stx.State())

	req := message(t, a)
	_, err := a.SendMessage(req)
	require.NoError(t, err)
	e.sched.Flush()

	require.Equal(t, []transaction.EventKind{transaction.EventRequest}, rec.kinds())
	assert.Equal(t, transaction.Completed, stx.State())
	assert.Equal(t, req.TransactionID(), stx.Key())
	assert.False(t, b.HasListener(sip.MethodIdentifier(sip.MESSAGE, "")))

	_, err = a.SendMessage(req)
	require.NoError(t, err)
	e.sched.Flush()

	assert.Len(t, rec.events, 1)
	assert.Equal(t, 2, e.sent(addrB, "200"))

	err = stx.Respond(b.Factory().Response(req, sip.StatusOK, "", nil))
	assert.Error(t, err)
}

func TestInviteServerAbsorbsDuplicateInvite(t *testing.T) {
	e := newEnv()
	a := e.peer(t, "10.0.0.1", "udp")
	b := e.peer(t, "10.0.0.2", "udp")

	rec := &recorder{}
	stx := transaction.NewInviteServerListener(b, "34020000001320000001", false, func(ev transaction.Event) {
		rec.handle(ev)
		if ev.Kind == transaction.EventRequest {
			require.NoError(t, ev.Tx.(*transaction.InviteServerTransaction).Respond(b.Factory().Response(ev.Msg, sip.StatusRinging, "", nil)))
		}
	})
	require.True(t, stx.Listen())

	req := invite(t, a)
	_, err := a.SendMessage(req)
	require.NoError(t, err)
	e.sched.Flush()

	require.Equal(t, []transaction.EventKind{transaction.EventRequest}, rec.kinds())
	assert.Equal(t, transaction.Proceeding, stx.State())
	assert.Equal(t, 1, e.sent(addrB, "180"))

	// Proceeding: the 180 goes out again
	_, err = a.SendMessage(req)
	require.NoError(t, err)
	e.sched.Flush()
	assert.Equal(t, 2, e.sent(addrB, "180"))
	assert.Len(t, rec.events, 1)

	require.NoError(t, stx.Respond(b.Factory().Response(req, sip.StatusBusyHere, "", nil)))
	assert.Equal(t, transaction.Completed, stx.State())
	assert.Equal(t, 1, e.sent(addrB, "486"))

	// Completed: the 486 goes out again, the 180 does not
	_, err = a.SendMessage(req)
	require.NoError(t, err)
	e.sched.Flush()
	assert.Equal(t, 2, e.sent(addrB, "486"))
	assert.Equal(t, 2, e.sent(addrB, "180"))
	assert.Len(t, rec.events, 1)
	assert.Equal(t, transaction.Completed, stx.State())
}

func TestInviteClientTimeoutSendsNoAck(t *testing.T) {
	e := newEnv()
	a := e.peer(t, "10.0.0.1", "udp")

	rec := &recorder{}
	tx := transaction.NewInviteClientTransaction(a, invite(t, a), rec.handle)
	require.NoError(t, tx.Start())

	e.sched.Advance(32 * time.Second)

	// 0, 0.5, 1.5, 3.5, 7.5, 15.5, 31.5: timer A is not capped
	assert.Equal(t, 7, e.sent(addrA, "INVITE"))
	assert.Equal(t, 0, e.sent(addrA, "ACK"))
	assert.Equal(t, []transaction.EventKind{transaction.EventTimeout}, rec.kinds())
	assert.Equal(t, transaction.Terminated, tx.State())
	assert.Equal(t, 0, e.sched.Pending())
}

func TestInviteFailureIsAcked(t *testing.T) {
	e := newEnv()
	a := e.peer(t, "10.0.0.1", "udp")
	b := e.peer(t, "10.0.0.2", "udp")

	srv := &recorder{}
	var stx *transaction.InviteServerTransaction
	b.AddListener(sip.AnyIdentifier, provider.ListenerFunc(func(req *sip.Message) {
		var err error
		stx, err = transaction.NewInviteServerTransaction(b, req, true, srv.handle)
		require.NoError(t, err)
	}))

	rec := &recorder{}
	req := invite(t, a)
	tx := transaction.NewInviteClientTransaction(a, req, rec.handle)
	require.NoError(t, tx.Start())
	e.sched.Flush()

	require.NotNil(t, stx)
	assert.Equal(t, transaction.Proceeding, stx.State())
	assert.Equal(t, transaction.Proceeding, tx.State())
	assert.Equal(t, 1, e.sent(addrB, "100 Trying"))

	// retransmitted INVITE is answered with the last response only
	_, err := a.SendMessage(req)
	require.NoError(t, err)
	e.sched.Flush()
	assert.Equal(t, 2, e.sent(addrB, "100 Trying"))
	assert.Empty(t, srv.events)

	require.NoError(t, stx.Respond(b.Factory().Response(stx.Request(), sip.StatusBusyHere, "", nil)))
	e.sched.Flush()

	assert.Equal(t, []transaction.EventKind{transaction.EventProvisional, transaction.EventProvisional, transaction.EventFailure}, rec.kinds())
	assert.Equal(t, transaction.Completed, tx.State())
	require.NotNil(t, tx.Ack())
	assert.Equal(t, 1, e.sent(addrA, "ACK"))

	assert.Equal(t, transaction.Confirmed, stx.State())
	require.Equal(t, []transaction.EventKind{transaction.EventFailureAck}, srv.kinds())
	assert.True(t, srv.events[0].Msg.IsAck())

	// a retransmitted 486 is ACKed again
	tx.OnReceivedMessage(rec.events[2].Msg)
	assert.Equal(t, 2, e.sent(addrA, "ACK"))

	// timer I, then timer D
	e.sched.Advance(5 * time.Second)
	assert.Equal(t, transaction.Terminated, stx.State())
	e.sched.Advance(27 * time.Second)
	assert.Equal(t, transaction.Terminated, tx.State())
	assert.Equal(t, 0, e.sched.Pending())
}

func TestInviteServerRetransmitsFailureUntilTimerH(t *testing.T) {
	e := newEnv()
	a := e.peer(t, "10.0.0.1", "udp")
	b := e.peer(t, "10.0.0.2", "udp")

	req := invite(t, a)
	req.RemoteAddr, req.RemotePort, req.Transport = "10.0.0.1", 5060, "udp"

	srv := &recorder{}
	stx, err := transaction.NewInviteServerTransaction(b, req, false, srv.handle)
	require.NoError(t, err)
	assert.Equal(t, transaction.Trying, stx.State())
	assert.Equal(t, 0, e.sent(addrB, "100"))

	require.NoError(t, stx.Respond(b.Factory().Response(req, sip.StatusNotFound, "", nil)))
	e.sched.Advance(32 * time.Second)

	// 0, 0.5, 1.5, 3.5, 7.5, 11.5 ... 31.5
	assert.Equal(t, 11, e.sent(addrB, "404"))
	require.Equal(t, []transaction.EventKind{transaction.EventTimeout}, srv.kinds())
	assert.Equal(t, transaction.Terminated, stx.State())
}

func TestInviteServerSuccessTerminates(t *testing.T) {
	e := newEnv()
	a := e.peer(t, "10.0.0.1", "udp")
	b := e.peer(t, "10.0.0.2", "udp")

	req := invite(t, a)
	req.RemoteAddr, req.RemotePort, req.Transport = "10.0.0.1", 5060, "udp"

	stx, err := transaction.NewInviteServerTransaction(b, req, true, nil)
	require.NoError(t, err)
	assert.True(t, b.HasListener(req.TransactionID()))

	ok := b.Factory().Response(req, sip.StatusOK, "", b.BuildContact("34020000001320000001"))
	require.NoError(t, stx.Respond(ok))
	assert.Equal(t, transaction.Terminated, stx.State())
	assert.False(t, b.HasListener(req.TransactionID()))

	var terminated *transaction.TxTerminatedError
	assert.True(t, errors.As(stx.Respond(ok), &terminated))
}

func TestInviteServerAnswersOptions(t *testing.T) {
	e := newEnv()
	a := e.peer(t, "10.0.0.1", "udp")
	b := e.peer(t, "10.0.0.2", "udp")

	req := invite(t, a)
	stx, err := transaction.NewInviteServerTransaction(b, req, false, nil)
	require.NoError(t, err)

	to, from := addresses(t)
	stx.OnReceivedMessage(a.Factory().Options(to.URI, to, from, nil))

	answers := e.network.Messages(addrB, "200")
	require.Len(t, answers, 1)
	contact, err := answers[0].Contact()
	require.NoError(t, err)
	assert.Equal(t, "34020000001320000001", contact.URI.User)
	assert.False(t, answers[0].HasHeader(sip.HeaderServer))
	assert.Equal(t, transaction.Trying, stx.State())
}

func TestAckServer(t *testing.T) {
	e := newEnv()
	a := e.peer(t, "10.0.0.1", "udp")
	b := e.peer(t, "10.0.0.2", "udp")

	req := invite(t, a)
	ok := b.Factory().Response(req, sip.StatusOK, "", nil)

	t.Run("terminated by the dialog", func(t *testing.T) {
		e.network.Reset()
		rec := &recorder{}
		ack := transaction.NewAckServer(b, sip.Identifier{}, ok, rec.handle)
		ack.Respond()
		assert.Equal(t, transaction.Proceeding, ack.State())

		e.sched.Advance(8 * time.Second)
		assert.Equal(t, 5, e.sent(addrB, "200"))

		ack.Terminate()
		e.sched.Advance(time.Minute)
		assert.Equal(t, 5, e.sent(addrB, "200"))
		assert.Empty(t, rec.events)
	})

	t.Run("no ACK", func(t *testing.T) {
		rec := &recorder{}
		ack := transaction.NewAckServer(b, sip.Identifier{}, ok, rec.handle)
		ack.Respond()
		e.sched.Advance(32 * time.Second)

		require.Equal(t, []transaction.EventKind{transaction.EventAckTimeout}, rec.kinds())
		assert.Equal(t, transaction.Terminated, ack.State())
	})
}

func TestReliableTransportDoesNotRetransmit(t *testing.T) {
	e := newEnv()
	a := e.peer(t, "10.0.0.1", "tcp")
	e.network.Endpoint("10.0.0.2", 5060)

	rec := &recorder{}
	tx := transaction.NewClientTransaction(a, message(t, a), rec.handle)
	require.NoError(t, tx.Start())

	e.sched.Advance(31 * time.Second)
	assert.Equal(t, 1, e.sent(addrA, "MESSAGE"))
	assert.Empty(t, rec.events)

	e.sched.Advance(time.Second)
	assert.Equal(t, []transaction.EventKind{transaction.EventTimeout}, rec.kinds())
}

func TestTransportErrorIsReportedOnce(t *testing.T) {
	e := newEnv()
	a := e.peer(t, "10.0.0.1", "tcp")

	rec := &recorder{}
	tx := transaction.NewClientTransaction(a, message(t, a), rec.handle)
	require.NoError(t, tx.Start())

	require.Equal(t, []transaction.EventKind{transaction.EventTransportError}, rec.kinds())
	var transportErr *transaction.TxTransportError
	assert.True(t, errors.As(rec.events[0].Err, &transportErr))
	assert.Equal(t, transaction.Trying, tx.State())

	e.sched.Advance(32 * time.Second)
	assert.Equal(t, []transaction.EventKind{transaction.EventTransportError, transaction.EventTimeout}, rec.kinds())
}

func TestTerminateCancelsTimers(t *testing.T) {
	e := newEnv()
	a := e.peer(t, "10.0.0.1", "udp")

	rec := &recorder{}
	tx := transaction.NewInviteClientTransaction(a, invite(t, a), rec.handle)
	require.NoError(t, tx.Start())
	assert.Equal(t, 2, e.sched.Pending())

	tx.Terminate()
	tx.Terminate()
	assert.Equal(t, 0, e.sched.Pending())
	assert.False(t, a.HasListener(tx.Key()))

	e.sched.Advance(time.Minute)
	assert.Equal(t, 1, e.sent(addrA, "INVITE"))
	assert.Empty(t, rec.events)

	// a late response finds nothing to revive
	tx.OnReceivedMessage(a.Factory().Response(tx.Request(), sip.StatusOK, "", nil))
	assert.Empty(t, rec.events)
	assert.Equal(t, transaction.Terminated, tx.State())
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "T_Confirmed", transaction.Confirmed.String())
	assert.Equal(t, "ack-timeout", transaction.EventAckTimeout.String())
}
