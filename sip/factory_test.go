package sip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFactory() *Factory {
	return &Factory{
		ViaHost:        "192.168.1.10",
		ViaPort:        5060,
		Transport:      "udp",
		Rport:          true,
		MaxForwards:    70,
		DefaultExpires: 3600,
		UserAgent:      "gbsip",
		Server:         "gbsip",
	}
}

func mustAddress(t *testing.T, s string) *NameAddress {
	t.Helper()
	addr, err := ParseNameAddress(s)
	require.NoError(t, err)
	return addr
}

func TestInviteHasMandatoryHeaders(t *testing.T) {
	f := testFactory()
	to := mustAddress(t, "<sip:bob@b.example>")
	from := mustAddress(t, "<sip:alice@a.example>")

	invite := f.Invite(to.URI, to, from, nil, "", nil)
	require.NoError(t, invite.Validate())

	via, err := invite.Via()
	require.NoError(t, err)
	assert.Equal(t, "UDP", via.Transport)
	assert.True(t, via.HasRport())
	assert.Contains(t, via.Branch(), MagicCookie)

	cseq, err := invite.CSeq()
	require.NoError(t, err)
	assert.Equal(t, uint32(InitialCSeq), cseq.SeqNo)
	assert.NotEmpty(t, invite.FromTag())
	assert.Empty(t, invite.ToTag())

	cl, _ := invite.GetHeader(HeaderContentLength)
	assert.Equal(t, "0", cl)
	assert.False(t, invite.HasHeader(HeaderExpires))

	ua, _ := invite.GetHeader(HeaderUserAgent)
	assert.Equal(t, "gbsip", ua)
}

func TestTransportFromRequestURI(t *testing.T) {
	f := testFactory()
	to := mustAddress(t, "<sip:bob@b.example;transport=tcp>")
	from := mustAddress(t, "<sip:alice@a.example>")

	via, err := f.Invite(to.URI, to, from, nil, "", nil).Via()
	require.NoError(t, err)
	assert.Equal(t, "TCP", via.Transport)
}

func TestResponseTagging(t *testing.T) {
	f := testFactory()
	to := mustAddress(t, "<sip:bob@b.example>")
	from := mustAddress(t, "<sip:alice@a.example>")
	invite := f.Invite(to.URI, to, from, nil, "", nil)

	trying := f.Response(invite, StatusTrying, "", nil)
	ringing := f.Response(invite, StatusRinging, "", nil)
	ok := f.Response(invite, StatusOK, "", nil)
	busy := f.Response(invite, StatusBusyHere, "", nil)

	assert.Empty(t, trying.ToTag())
	assert.NotEmpty(t, ringing.ToTag())
	assert.Equal(t, ringing.ToTag(), ok.ToTag())
	assert.Empty(t, busy.ToTag())

	f.EarlyDialog = true
	assert.NotEmpty(t, f.Response(invite, StatusBusyHere, "", nil).ToTag())

	msg := f.Message(to.URI, to, from, "text/plain", []byte("hi"))
	assert.Empty(t, f.Response(msg, StatusOK, "", nil).ToTag())

	server, _ := ok.GetHeader(HeaderServer)
	assert.Equal(t, "gbsip", server)
	assert.Equal(t, invite.GetHeaders(HeaderVia), ok.GetHeaders(HeaderVia))
	assert.Equal(t, invite.CallID(), ok.CallID())
}

func TestResponseRecordRoute(t *testing.T) {
	f := testFactory()
	to := mustAddress(t, "<sip:bob@b.example>")
	from := mustAddress(t, "<sip:alice@a.example>")
	invite := f.Invite(to.URI, to, from, nil, "", nil)
	invite.AddHeader(HeaderRecordRoute, "<sip:p1.example;lr>")

	assert.Empty(t, f.Response(invite, StatusTrying, "", nil).GetHeaders(HeaderRecordRoute))
	assert.Len(t, f.Response(invite, StatusRinging, "", nil).GetHeaders(HeaderRecordRoute), 1)
	assert.Len(t, f.Response(invite, StatusOK, "", nil).GetHeaders(HeaderRecordRoute), 1)
	assert.Empty(t, f.Response(invite, StatusNotFound, "", nil).GetHeaders(HeaderRecordRoute))
}

func TestNon2xxAck(t *testing.T) {
	f := testFactory()
	to := mustAddress(t, "<sip:bob@b.example>")
	from := mustAddress(t, "<sip:alice@a.example>")
	invite := f.Invite(to.URI, to, from, nil, "", nil)
	invite.SetRoutes([]*NameAddress{mustAddress(t, "<sip:p1.example;lr>")})
	busy := f.Response(invite, StatusBusyHere, "", nil)
	busy.SetTo(mustAddress(t, "<sip:bob@b.example>;tag=remote"))

	ack := f.Non2xxAck(invite, busy)

	inviteVia, _ := invite.Via()
	ackVia, _ := ack.Via()
	assert.Equal(t, inviteVia.Branch(), ackVia.Branch())
	assert.Equal(t, "remote", ack.ToTag())
	assert.Equal(t, invite.GetHeaders(HeaderRoute), ack.GetHeaders(HeaderRoute))
	assert.Equal(t, invite.TransactionID(), ack.TransactionID())

	cseq, _ := ack.CSeq()
	assert.Equal(t, ACK, cseq.MethodName)
}

func TestCancelMatchesInvite(t *testing.T) {
	f := testFactory()
	to := mustAddress(t, "<sip:bob@b.example>")
	from := mustAddress(t, "<sip:alice@a.example>")
	invite := f.Invite(to.URI, to, from, nil, "", nil)

	cancel := f.Cancel(invite)
	iv, _ := invite.Via()
	cv, _ := cancel.Via()
	assert.Equal(t, iv.Branch(), cv.Branch())
	assert.Equal(t, invite.RequestURI().String(), cancel.RequestURI().String())
	ic, _ := invite.CSeq()
	cc, _ := cancel.CSeq()
	assert.Equal(t, ic.SeqNo, cc.SeqNo)
	assert.Equal(t, CANCEL, cc.MethodName)
}

func TestRegister(t *testing.T) {
	f := testFactory()
	to := mustAddress(t, "<sip:34020000001320000001@3402000000>")
	contact := mustAddress(t, "<sip:34020000001320000001@192.168.1.20:5060>")

	reg := f.Register(to, to, contact, -1)
	assert.Equal(t, "sip:34020000001320000001@3402000000", reg.RequestURI().String())
	expires, ok := reg.Expires()
	require.True(t, ok)
	assert.Equal(t, 3600, expires)

	unreg := f.Register(to, to, nil, 600)
	c, _ := unreg.GetHeader(HeaderContact)
	assert.Equal(t, "*", c)
	expires, _ = unreg.Expires()
	assert.Equal(t, 0, expires)
}

func TestDialogRequest(t *testing.T) {
	f := testFactory()
	d := &DialogParams{
		LocalName:     mustAddress(t, "<sip:alice@a.example>"),
		RemoteName:    mustAddress(t, "<sip:bob@b.example>"),
		RemoteContact: mustAddress(t, "<sip:bob@10.0.0.2:5062>"),
		CallID:        "call-1",
		LocalTag:      "lt",
		RemoteTag:     "rt",
		CSeq:          5,
		Route: []*NameAddress{
			mustAddress(t, "<sip:p1.example;lr>"),
			mustAddress(t, "<sip:p2.example;lr>"),
		},
	}

	bye := f.Bye(d)
	assert.Equal(t, "sip:bob@10.0.0.2:5062", bye.RequestURI().String())
	assert.Equal(t, "lt", bye.FromTag())
	assert.Equal(t, "rt", bye.ToTag())
	assert.False(t, bye.HasHeader(HeaderContact))
	assert.False(t, bye.HasHeader(HeaderExpires))
	assert.Equal(t, []string{"<sip:p1.example;lr>", "<sip:p2.example;lr>"}, bye.GetHeaders(HeaderRoute))

	info := f.DialogRequest(d, INFO, "application/dtmf-relay", []byte("Signal=1\r\nDuration=250\r\n"))
	contact, err := info.Contact()
	require.NoError(t, err)
	assert.Equal(t, "alice", contact.User())
	assert.Empty(t, contact.Tag())
}

func TestStrictRouteAdapt(t *testing.T) {
	f := testFactory()
	d := &DialogParams{
		LocalName:     mustAddress(t, "<sip:alice@a.example>"),
		RemoteName:    mustAddress(t, "<sip:bob@b.example>"),
		RemoteContact: mustAddress(t, "<sip:bob@10.0.0.2>"),
		CallID:        "call-1",
		CSeq:          2,
		Route: []*NameAddress{
			mustAddress(t, "<sip:strict.example>"),
			mustAddress(t, "<sip:p2.example;lr>"),
		},
	}

	req := f.DialogRequest(d, INFO, "", nil)
	assert.Equal(t, "sip:strict.example", req.RequestURI().String())
	assert.Equal(t, []string{"<sip:p2.example;lr>", "<sip:bob@10.0.0.2>"}, req.GetHeaders(HeaderRoute))
}

func TestSubscribeAndNotifyHeaders(t *testing.T) {
	f := testFactory()
	to := mustAddress(t, "<sip:dev@d.example>")
	from := mustAddress(t, "<sip:plat@p.example>")

	sub := f.Subscribe(to.URI, to, from, from, &Event{Type: "Catalog"}, -1, "", nil)
	ev, ok := sub.Event()
	require.True(t, ok)
	assert.Equal(t, "Catalog", ev.Type)
	expires, _ := sub.Expires()
	assert.Equal(t, 3600, expires)

	d := &DialogParams{LocalName: to, RemoteName: from, CallID: sub.CallID(), LocalTag: "a", RemoteTag: sub.FromTag(), CSeq: 1}
	notify := f.DialogNotify(d, ev, &SubscriptionState{State: SubscriptionTerminated, Expires: -1, Reason: "timeout"}, "", nil)
	ss, ok := notify.SubscriptionState()
	require.True(t, ok)
	assert.True(t, ss.IsTerminated())
	assert.Equal(t, "timeout", ss.Reason)
}
