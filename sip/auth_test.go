package sip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthorizeAndVerify(t *testing.T) {
	f := testFactory()
	to := mustAddress(t, "<sip:34020000001320000001@3402000000>")
	contact := mustAddress(t, "<sip:34020000001320000001@192.168.1.20:5060>")
	reg := f.Register(to, to, contact, 3600)

	chal := NewChallenge("3402000000")
	unauthorized := f.Response(reg, StatusUnauthorized, "", nil)
	unauthorized.AddHeader(HeaderWWWAuthenticate, chal.String())

	require.NoError(t, Authorize(reg, unauthorized, Credentials{Username: "34020000001320000001", Password: "12345678"}))
	assert.True(t, reg.HasHeader(HeaderAuthorization))

	lookup := func(user string) (string, bool) {
		if user == "34020000001320000001" {
			return "12345678", true
		}
		return "", false
	}
	user, err := VerifyAuthorization(reg, chal, lookup)
	require.NoError(t, err)
	assert.Equal(t, "34020000001320000001", user)

	wrong := func(string) (string, bool) { return "nope", true }
	_, err = VerifyAuthorization(reg, chal, wrong)
	assert.Error(t, err)

	_, err = VerifyAuthorization(reg, NewChallenge("3402000000"), lookup)
	assert.Error(t, err)
}

func TestAuthorizeProxyChallenge(t *testing.T) {
	f := testFactory()
	to := mustAddress(t, "<sip:bob@b.example>")
	from := mustAddress(t, "<sip:alice@a.example>")
	invite := f.Invite(to.URI, to, from, nil, "", nil)

	resp := f.Response(invite, StatusProxyAuthenticationRequired, "", nil)
	resp.AddHeader(HeaderProxyAuthenticate, `Digest realm="b.example", nonce="abc", algorithm=MD5`)

	require.NoError(t, Authorize(invite, resp, Credentials{Username: "alice", Password: "secret"}))
	value, ok := invite.GetHeader(HeaderProxyAuthorization)
	require.True(t, ok)
	assert.Contains(t, value, `username="alice"`)

	assert.Error(t, Authorize(invite, f.Response(invite, StatusNotFound, "", nil), Credentials{}))
}
