package sip

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const inviteText = "INVITE sip:34020000001320000001@3402000000 SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 192.168.1.10:5060;rport;branch=z9hG4bK776asdhds\r\n" +
	"Max-Forwards: 70\r\n" +
	"To: <sip:34020000001320000001@3402000000>\r\n" +
	"From: \"platform\" <sip:34020000002000000001@3402000000>;tag=1928301774\r\n" +
	"Call-ID: a84b4c76e66710@pc33\r\n" +
	"CSeq: 314159 INVITE\r\n" +
	"Contact: <sip:34020000002000000001@192.168.1.10:5060>\r\n" +
	"Content-Type: application/sdp\r\n" +
	"Content-Length: 4\r\n" +
	"\r\n" +
	"v=0\n"

func TestParseRequest(t *testing.T) {
	msg, err := ParseString(inviteText)
	require.NoError(t, err)

	assert.True(t, msg.IsRequest())
	assert.Equal(t, INVITE, msg.Method())
	assert.Equal(t, "34020000001320000001", msg.RequestURI().User)
	assert.Equal(t, "a84b4c76e66710@pc33", msg.CallID())
	assert.Equal(t, "1928301774", msg.FromTag())
	assert.Equal(t, "", msg.ToTag())

	cseq, err := msg.CSeq()
	require.NoError(t, err)
	assert.Equal(t, uint32(314159), cseq.SeqNo)

	via, err := msg.Via()
	require.NoError(t, err)
	assert.Equal(t, "z9hG4bK776asdhds", via.Branch())
	assert.True(t, via.HasRport())
	assert.Equal(t, "v=0\n", msg.BodyString())
	assert.NoError(t, msg.Validate())
}

func TestParseResponseWithCompactHeaders(t *testing.T) {
	text := "SIP/2.0 180 Ringing\r\n" +
		"v: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKabc\r\n" +
		"f: <sip:alice@a.example>;tag=111\r\n" +
		"t: <sip:bob@b.example>;tag=222\r\n" +
		"i: call-1\r\n" +
		"CSeq: 1 INVITE\r\n" +
		"l: 0\r\n\r\n"

	msg, err := ParseString(text)
	require.NoError(t, err)

	assert.True(t, msg.IsResponse())
	assert.Equal(t, StatusRinging, msg.StatusCode())
	assert.Equal(t, "Ringing", msg.Reason())
	assert.Equal(t, INVITE, msg.Method())
	assert.Equal(t, "call-1", msg.CallID())
	assert.Equal(t, "222", msg.ToTag())
	assert.Nil(t, msg.Body())
}

func TestParseToleratesBareLFAndFolding(t *testing.T) {
	text := "\r\n\r\nOPTIONS sip:gw@10.0.0.2 SIP/2.0\n" +
		"Via: SIP/2.0/UDP 10.0.0.1;branch=z9hG4bK1\n" +
		"Subject: first\n" +
		"  second\n" +
		"To: <sip:gw@10.0.0.2>\n" +
		"From: <sip:op@10.0.0.1>;tag=9\n" +
		"Call-ID: c\n" +
		"CSeq: 7 OPTIONS\n" +
		"Max-Forwards: 70\n" +
		"\n"

	msg, err := ParseString(text)
	require.NoError(t, err)

	subject, ok := msg.GetHeader("subject")
	require.True(t, ok)
	assert.Equal(t, "first second", subject)
	assert.NoError(t, msg.Validate())
}

func TestParseBodyWithoutContentLength(t *testing.T) {
	withType := "MESSAGE sip:a@b SIP/2.0\r\nContent-Type: text/plain\r\n\r\nhello"
	msg, err := ParseString(withType)
	require.NoError(t, err)
	assert.Equal(t, "hello", msg.BodyString())

	withoutType := "MESSAGE sip:a@b SIP/2.0\r\nSubject: x\r\n\r\nhello"
	msg, err = ParseString(withoutType)
	require.NoError(t, err)
	assert.Nil(t, msg.Body())
}

func TestParseContentLengthBoundsBody(t *testing.T) {
	text := "MESSAGE sip:a@b SIP/2.0\r\nContent-Type: text/plain\r\nContent-Length: 3\r\n\r\nhello"
	msg, err := ParseString(text)
	require.NoError(t, err)
	assert.Equal(t, "hel", msg.BodyString())
}

func TestParseFailures(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		broken bool
	}{
		{"empty", "\r\n\r\n", true},
		{"bad request line", "HELLO\r\n\r\n", true},
		{"bad version", "INVITE sip:a@b SIP/3.0\r\n\r\n", true},
		{"bad status code", "SIP/2.0 abc OK\r\n\r\n", true},
		{"unterminated header block", "INVITE sip:a@b SIP/2.0\r\nVia: SIP/2.0/UDP h", true},
		{"truncated body", "INVITE sip:a@b SIP/2.0\r\nContent-Length: 50\r\n\r\nv=0", true},
		{"header without colon", "INVITE sip:a@b SIP/2.0\r\nVia\r\n\r\n", false},
		{"negative content length", "INVITE sip:a@b SIP/2.0\r\nContent-Length: -1\r\n\r\n", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseString(tc.text)
			require.Error(t, err)
			assert.True(t, IsParseError(err))

			var me MessageError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, tc.broken, me.Broken())
		})
	}
}

func TestIsSIPMessage(t *testing.T) {
	assert.False(t, IsSIPMessage([]byte("\r\n")))
	assert.False(t, IsSIPMessage([]byte("\r\n\r\n")))
	assert.False(t, IsSIPMessage([]byte("GET / HTTP/1.1\r\n\r\n")))
	assert.True(t, IsSIPMessage([]byte(inviteText)))
}

func messageView(m *Message) map[string]interface{} {
	return map[string]interface{}{
		"start":   m.StartLine(),
		"headers": m.Headers(),
		"body":    string(m.Body()),
	}
}

// Every message the factory produces survives serialize then parse.
func TestFactoryRoundTrip(t *testing.T) {
	f := testFactory()
	to := mustAddress(t, "<sip:34020000001320000001@3402000000>")
	from := mustAddress(t, "\"plat form\" <sip:34020000002000000001@3402000000>")
	contact := mustAddress(t, "<sip:34020000002000000001@192.168.1.10:5060>")
	target := to.URI

	invite := f.Invite(target, to, from, contact, "application/sdp", []byte("v=0\r\no=- 0 0 IN IP4 1.2.3.4\r\n"))
	resp := f.Response(invite, StatusOK, "", contact)
	resp.SetBody("application/sdp", []byte("v=0\r\n"))
	d := &DialogParams{
		LocalName: from, RemoteName: to, RemoteContact: contact, CallID: invite.CallID(),
		LocalTag: invite.FromTag(), RemoteTag: resp.ToTag(), CSeq: 2,
		Route: []*NameAddress{mustAddress(t, "<sip:proxy.example;lr>")},
	}

	msgs := []*Message{
		invite,
		resp,
		f.Response(invite, StatusRinging, "", nil),
		f.Non2xxAck(invite, f.Response(invite, StatusBusyHere, "", nil)),
		f.Cancel(invite),
		f.Register(to, from, contact, 3600),
		f.Register(to, from, nil, -1),
		f.Subscribe(target, to, from, contact, &Event{Type: "Catalog", ID: "7"}, 600, "Application/MANSCDP+xml", []byte("<Query/>")),
		f.Message(target, to, from, "Application/MANSCDP+xml", []byte("<Notify/>")),
		f.Options(target, to, from, contact),
		f.Bye(d),
		f.Ack2xx(d, "", nil),
		f.Refer(d, mustAddress(t, "<sip:carol@c.example>"), from),
		f.DialogNotify(d, &Event{Type: "presence"}, NewSubscriptionState(SubscriptionActive, 300), "text/plain", []byte("x")),
	}

	for _, m := range msgs {
		parsed, err := Parse(m.Bytes())
		require.NoError(t, err, m.Short())
		if diff := cmp.Diff(messageView(m), messageView(parsed)); diff != "" {
			t.Errorf("%s round trip mismatch (-want +got):\n%s", m.StartLine(), diff)
		}
	}
}

func TestReaderFramesStream(t *testing.T) {
	stream := "\r\n\r\n" + inviteText + "\r\n" + inviteText
	rd := NewReader(strings.NewReader(stream))

	for i := 0; i < 2; i++ {
		msg, err := rd.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, INVITE, msg.Method())
		assert.Equal(t, "v=0\n", msg.BodyString())
	}

	_, err := rd.Next()
	assert.Error(t, err)
}

func TestReaderTruncatedBody(t *testing.T) {
	rd := NewReader(strings.NewReader("MESSAGE sip:a@b SIP/2.0\r\nContent-Length: 10\r\n\r\nabc"))
	_, err := rd.Next()
	require.Error(t, err)
	assert.True(t, IsParseError(err))
}
