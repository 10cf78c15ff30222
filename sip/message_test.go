package sip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderOperations(t *testing.T) {
	msg := NewRequest(OPTIONS, NewURI("gw", "10.0.0.2", 0))
	msg.AddHeader("via", "SIP/2.0/UDP a;branch=z9hG4bK1")
	msg.AddHeader("To", "<sip:gw@10.0.0.2>")
	msg.AddHeader("Via", "SIP/2.0/UDP b;branch=z9hG4bK2")

	assert.Equal(t, []string{"SIP/2.0/UDP a;branch=z9hG4bK1", "SIP/2.0/UDP b;branch=z9hG4bK2"}, msg.GetHeaders("v"))

	msg.PrependHeader(HeaderVia, "SIP/2.0/UDP c;branch=z9hG4bK3")
	via, err := msg.Via()
	require.NoError(t, err)
	assert.Equal(t, "c", via.Host)

	msg.SetHeader(HeaderVia, "SIP/2.0/TCP d;branch=z9hG4bK4")
	assert.Len(t, msg.GetHeaders(HeaderVia), 1)
	assert.Equal(t, HeaderVia, msg.Headers()[0].Name)

	msg.RemoveHeader(HeaderVia)
	_, err = msg.Via()
	assert.ErrorIs(t, err, MissingHeaderError(HeaderVia))
}

func TestViaStack(t *testing.T) {
	msg := NewResponse(StatusOK, "")
	msg.AddHeader(HeaderVia, "SIP/2.0/UDP a:5060;branch=z9hG4bK1, SIP/2.0/UDP b;branch=z9hG4bK2")
	msg.AddHeader(HeaderVia, "SIP/2.0/UDP c;branch=z9hG4bK3")

	hops, err := msg.Vias()
	require.NoError(t, err)
	require.Len(t, hops, 3)
	assert.Equal(t, 5060, hops[0].Port)

	msg.RemoveTopVia()
	top, _ := msg.Via()
	assert.Equal(t, "b", top.Host)

	top.SetReceived("1.2.3.4")
	top.SetRport(6000)
	msg.SetTopVia(top)
	top, _ = msg.Via()
	received, ok := top.Received()
	assert.True(t, ok)
	assert.Equal(t, "1.2.3.4", received)
	assert.Equal(t, 6000, top.Rport())

	msg.RemoveTopVia()
	msg.RemoveTopVia()
	_, err = msg.Via()
	assert.Error(t, err)
}

func TestSetBodyKeepsContentLength(t *testing.T) {
	msg := NewRequest(MESSAGE, NewURI("a", "b", 0))
	msg.SetBody("text/plain", []byte("hello"))
	cl, _ := msg.GetHeader(HeaderContentLength)
	assert.Equal(t, "5", cl)
	assert.Equal(t, "text/plain", msg.ContentType())

	msg.SetBody("", nil)
	cl, _ = msg.GetHeader(HeaderContentLength)
	assert.Equal(t, "0", cl)
	assert.False(t, msg.HasHeader(HeaderContentType))
}

func TestCloneIsDeep(t *testing.T) {
	msg, err := ParseString(inviteText)
	require.NoError(t, err)

	clone := msg.Clone()
	clone.SetHeader(HeaderCallID, "other")
	clone.RequestURI().User = "changed"

	assert.Equal(t, "a84b4c76e66710@pc33", msg.CallID())
	assert.Equal(t, "34020000001320000001", msg.RequestURI().User)
	assert.Equal(t, msg.Body(), clone.Body())
}

func TestIdentifiers(t *testing.T) {
	a := TransactionIdentifier("call", 1, INVITE, "z9hG4bK1")
	b := TransactionIdentifier("call", 1, ACK, "z9hG4bK1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, TransactionIdentifier("call", 1, INVITE, "z9hG4bK2"))
	assert.NotEqual(t, a, TransactionIdentifier("call", 2, INVITE, "z9hG4bK1"))

	d1 := DialogIdentifier("call", "local", "remote1")
	d2 := DialogIdentifier("call", "local", "remote2")
	assert.NotEqual(t, d1, d2)

	assert.NotEqual(t, MethodIdentifier(SUBSCRIBE, ""), MethodIdentifier(SUBSCRIBE, "dev"))

	// "-" inside a field does not move the boundary between fields
	assert.NotEqual(t, DialogIdentifier("call", "a-b", "c"), DialogIdentifier("call", "a", "b-c"))
	assert.NotEqual(t, DialogIdentifier("call-a", "b", "c"), DialogIdentifier("call", "a-b", "c"))
	assert.NotEqual(t, TransactionIdentifier("call-1", 1, INVITE, "z9hG4bK1"), TransactionIdentifier("call", 1, INVITE, "1-z9hG4bK1"))
	assert.NotEqual(t, MethodIdentifier("SUB", "SCRIBE-dev"), MethodIdentifier("SUB-SCRIBE", "dev"))
	assert.Equal(t, "dialog:call-a-b-c", DialogIdentifier("call", "a-b", "c").String())
	assert.Equal(t, "method:SUBSCRIBE", MethodIdentifier(SUBSCRIBE, "").String())
	assert.Equal(t, "connection:tcp:10.0.0.1:5060", ConnectionIdentifier("TCP", "10.0.0.1", 5060).String())
	assert.Equal(t, "any:ANY", AnyIdentifier.String())
	assert.Equal(t, MethodKind, MethodIdentifier(SUBSCRIBE, "").Kind())
	assert.True(t, Identifier{}.IsZero())

	registry := map[Identifier]int{a: 1, d1: 2}
	assert.Equal(t, 1, registry[b])
	assert.Equal(t, 0, registry[d2])
}

func TestMessageIdentifiers(t *testing.T) {
	req, err := ParseString(inviteText)
	require.NoError(t, err)

	assert.Equal(t, TransactionIdentifier("a84b4c76e66710@pc33", 314159, INVITE, "z9hG4bK776asdhds"), req.TransactionID())
	assert.Equal(t, DialogIdentifier("a84b4c76e66710@pc33", "", "1928301774"), req.DialogID())
	assert.Equal(t, MethodIdentifier(INVITE, ""), req.MethodID())
	assert.Equal(t, MethodIdentifier(INVITE, "34020000001320000001"), req.UserMethodID())

	resp := testFactory().Response(req, StatusOK, "", nil)
	assert.Equal(t, req.TransactionID(), resp.TransactionID())
	assert.Equal(t, DialogIdentifier("a84b4c76e66710@pc33", "1928301774", resp.ToTag()), resp.DialogID())
	assert.True(t, resp.UserMethodID().IsZero())
}

func TestNameAddress(t *testing.T) {
	cases := []struct {
		in      string
		display string
		user    string
		tag     string
		out     string
	}{
		{`"Alice A" <sip:alice@a.example>;tag=1`, "Alice A", "alice", "1", `"Alice A" <sip:alice@a.example>;tag=1`},
		{`Bob <sip:bob@b.example:5070;transport=tcp>`, "Bob", "bob", "", `"Bob" <sip:bob@b.example:5070;transport=tcp>`},
		{`sip:carol@c.example;tag=9`, "", "carol", "9", `<sip:carol@c.example>;tag=9`},
		{`<sip:[2001:db8::1]:5060>`, "", "", "", `<sip:[2001:db8::1]:5060>`},
	}

	for _, tc := range cases {
		addr, err := ParseNameAddress(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.display, addr.DisplayName)
		assert.Equal(t, tc.user, addr.User())
		assert.Equal(t, tc.tag, addr.Tag())
		assert.Equal(t, tc.out, addr.String())
	}

	_, err := ParseNameAddress(`<sip:unterminated`)
	assert.Error(t, err)
}

func TestTypedHeaders(t *testing.T) {
	ss := ParseSubscriptionState("Active;expires=600")
	assert.True(t, ss.IsActive())
	assert.Equal(t, 600, ss.Expires)
	assert.Equal(t, "active;expires=600", ss.String())

	ev := ParseEvent("presence;id=abc")
	assert.Equal(t, "presence", ev.Type)
	assert.Equal(t, "abc", ev.ID)

	_, err := ParseCSeq("x INVITE")
	assert.Error(t, err)

	assert.Equal(t, "Call-ID", CanonicalName("i"))
	assert.Equal(t, "Call-ID", CanonicalName("CALL-ID"))
	assert.Equal(t, "X-Custom-Id", CanonicalName("x-custom-id"))

	assert.Equal(t, []string{`"a,b" <sip:x>`, `<sip:y;p=1,2>`}, SplitList(`"a,b" <sip:x>, <sip:y;p=1,2>`))
}
