package callback_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zenghr0820/gbsip/callback"
	"github.com/zenghr0820/gbsip/config"
	"github.com/zenghr0820/gbsip/dialog"
	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/provider/providertest"
	"github.com/zenghr0820/gbsip/scheduler"
	"github.com/zenghr0820/gbsip/sip"
)

const (
	addrA = "10.0.0.1:5060"
	addrB = "10.0.0.2:5060"
)

type pair struct {
	network *providertest.Network
	sched   *scheduler.Manual
	a, b    *provider.Provider
	cb      callback.Callback
}

func newPair(t *testing.T) *pair {
	t.Helper()
	e := &pair{network: providertest.NewNetwork(), sched: scheduler.NewManual()}
	e.a = e.peer(t, "10.0.0.1")
	e.b = e.peer(t, "10.0.0.2")
	e.cb = callback.NewCallback(e.b)
	require.True(t, e.b.AddListener(sip.AnyIdentifier, e.cb))
	return e
}

func (e *pair) peer(t *testing.T, host string) *provider.Provider {
	cfg := config.Default()
	cfg.SIP.ViaAddr = host
	cfg.SIP.Transports = []string{config.ProtoUDP}
	p, err := provider.New(cfg, e.sched)
	require.NoError(t, err)
	ep := e.network.Endpoint(host, cfg.SIP.HostPort)
	ep.Bind(p)
	p.SetTransport(ep)
	return p
}

func (e *pair) send(t *testing.T, method sip.RequestMethod) *sip.Message {
	t.Helper()
	to, err := sip.ParseNameAddress("<sip:34020000001320000001@10.0.0.2:5060>")
	require.NoError(t, err)
	from, err := sip.ParseNameAddress("<sip:34020000002000000001@10.0.0.1:5060>")
	require.NoError(t, err)

	var req *sip.Message
	switch method {
	case sip.INVITE:
		req = e.a.Factory().Invite(to.URI, to, from, e.a.BuildContact("34020000002000000001"), "", nil)
	case sip.MESSAGE:
		req = e.a.Factory().Message(to.URI, to, from, "Application/MANSCDP+xml", []byte("<Notify/>"))
	default:
		req = e.a.Factory().Options(to.URI, to, from, nil)
	}
	_, err = e.a.SendMessage(req)
	require.NoError(t, err)
	e.sched.Flush()
	return req
}

func TestRequestHandlerAnswers(t *testing.T) {
	e := newPair(t)

	var got *sip.Message
	e.cb.AddRequestHandle(sip.MESSAGE, func(req *sip.Message, tx callback.ServerTransaction) {
		got = req
		require.NoError(t, tx.Respond(e.b.Factory().Response(req, sip.StatusOK, "", nil)))
	})

	req := e.send(t, sip.MESSAGE)
	require.NotNil(t, got)
	assert.Equal(t, req.CallID(), got.CallID())
	assert.Equal(t, "<Notify/>", got.BodyString())

	ok := e.network.Messages(addrB, "200 OK")
	require.Len(t, ok, 1)
	assert.Equal(t, req.CallID(), ok[0].CallID())
}

func TestUnknownMethodGets405(t *testing.T) {
	e := newPair(t)
	e.cb.AddRequestHandle(sip.OPTIONS, func(req *sip.Message, tx callback.ServerTransaction) {})
	e.cb.AddRequestHandle(sip.MESSAGE, func(req *sip.Message, tx callback.ServerTransaction) {})

	e.send(t, sip.INVITE)

	resp := e.network.Messages(addrB, "405")
	require.Len(t, resp, 1)
	allow, ok := resp[0].GetHeader(sip.HeaderAllow)
	require.True(t, ok)
	assert.Equal(t, "MESSAGE, OPTIONS", allow)
	// 100 Trying precedes the final answer of an INVITE
	assert.Len(t, e.network.Messages(addrB, "100 Trying"), 1)
}

func TestInviteHandlerOpensDialog(t *testing.T) {
	e := newPair(t)

	var uas *dialog.InviteDialog
	e.cb.AddRequestHandle(sip.INVITE, func(req *sip.Message, tx callback.ServerTransaction) {
		assert.Nil(t, tx)
		d, err := dialog.NewIncomingInviteDialog(e.b, req, nil)
		require.NoError(t, err)
		require.NoError(t, d.Accept(e.b.BuildContact("34020000001320000001"), "application/sdp", []byte("v=0\r\n")))
		uas = d
	})

	to, err := sip.ParseNameAddress("<sip:34020000001320000001@10.0.0.2:5060>")
	require.NoError(t, err)
	from, err := sip.ParseNameAddress("<sip:34020000002000000001@10.0.0.1:5060>")
	require.NoError(t, err)
	uac := dialog.NewInviteDialog(e.a, "", nil)
	req := e.a.Factory().Invite(to.URI, to, from, e.a.BuildContact("34020000002000000001"), "application/sdp", []byte("v=0\r\n"))
	require.NoError(t, uac.Invite(req))
	e.sched.Flush()

	require.NotNil(t, uas)
	assert.Equal(t, dialog.Call, uac.State())
	assert.Equal(t, dialog.Call, uas.State())
	assert.Len(t, e.network.Messages(addrB, "200 OK"), 1)
	assert.Len(t, e.network.Messages(addrA, "ACK"), 1)
	assert.Empty(t, e.network.Messages(addrB, "405"))
}

func TestSubscribeHandlerOpensNotifier(t *testing.T) {
	e := newPair(t)

	var notifier *dialog.NotifierDialog
	e.cb.AddRequestHandle(sip.SUBSCRIBE, func(req *sip.Message, tx callback.ServerTransaction) {
		assert.Nil(t, tx)
		d, err := dialog.NewIncomingNotifierDialog(e.b, req, nil)
		require.NoError(t, err)
		require.NoError(t, d.Accept(e.b.BuildContact("34020000001320000001")))
		notifier = d
	})

	subscriber := dialog.NewSubscriberDialog(e.a, &sip.Event{Type: "Catalog"}, nil)
	require.NoError(t, subscriber.Setup("<sip:34020000001320000001@10.0.0.2:5060>", "34020000002000000001", nil, 600))
	require.NoError(t, subscriber.Subscribe("Application/MANSCDP+xml", []byte("<Query/>")))
	e.sched.Flush()

	require.NotNil(t, notifier)
	assert.Equal(t, dialog.StateSubscribed, notifier.State())
	assert.Equal(t, dialog.StateAccepted, subscriber.State())
	assert.Len(t, e.network.Messages(addrB, "200 OK"), 1)
}

func TestDoRequestWithoutHandler(t *testing.T) {
	e := newPair(t)
	to, _ := sip.ParseNameAddress("<sip:34020000001320000001@10.0.0.2:5060>")
	from, _ := sip.ParseNameAddress("<sip:34020000002000000001@10.0.0.1:5060>")
	req := e.a.Factory().Options(to.URI, to, from, nil)

	err := e.cb.DoRequest(req)
	var notExist *callback.NotExitCallbackError
	assert.True(t, errors.As(err, &notExist))
	assert.Equal(t, "NotExitCallbackError: OPTIONS", err.Error())
}

func TestResponseHandler(t *testing.T) {
	e := newPair(t)
	assert.Error(t, e.cb.SetResponseHandle(nil))
	_, ok := e.cb.GetResponseHandle()
	assert.False(t, ok)

	var got []*sip.Message
	require.NoError(t, e.cb.SetResponseHandle(func(resp *sip.Message) { got = append(got, resp) }))

	// a response nobody waits for reaches the registry
	req := e.send(t, sip.OPTIONS)
	e.cb.OnReceivedMessage(e.a.Factory().Response(req, sip.StatusOK, "", nil))
	require.Len(t, got, 1)
	assert.Equal(t, sip.StatusOK, got[0].StatusCode())
}

func TestSetRequestHandle(t *testing.T) {
	e := newPair(t)
	assert.Error(t, e.cb.SetRequestHandle(nil))

	handlers := map[sip.RequestMethod]callback.RequestHandler{
		sip.REGISTER: func(req *sip.Message, tx callback.ServerTransaction) {},
		sip.OPTIONS:  func(req *sip.Message, tx callback.ServerTransaction) {},
	}
	require.NoError(t, e.cb.SetRequestHandle(handlers))
	delete(handlers, sip.OPTIONS)

	assert.Equal(t, []sip.RequestMethod{sip.OPTIONS, sip.REGISTER}, e.cb.GetAllowedMethods())
	_, ok := e.cb.GetRequestHandle(sip.REGISTER)
	assert.True(t, ok)
	_, ok = e.cb.GetRequestHandle(sip.MESSAGE)
	assert.False(t, ok)
	assert.Equal(t, "callback", e.cb.String())
}
