package sip

import (
	"strconv"
	"strings"
	"time"

	"github.com/icholy/digest"
	"github.com/pkg/errors"
)

// Credentials 客户端摘要认证使用的账号
type Credentials struct {
	Username string
	Password string
}

// AuthorizationHeader returns the header a request must carry to answer the
// challenge in a 401 or 407 response.
func AuthorizationHeader(resp *Message) (challengeHeader, authHeader string, err error) {
	switch resp.StatusCode() {
	case StatusUnauthorized:
		return HeaderWWWAuthenticate, HeaderAuthorization, nil
	case StatusProxyAuthenticationRequired:
		return HeaderProxyAuthenticate, HeaderProxyAuthorization, nil
	}
	return "", "", errors.Errorf("response %d carries no challenge", resp.StatusCode())
}

// Authorize computes the digest answer to the challenge in resp and sets it on
// req. The caller is expected to bump CSeq and branch afterwards.
func Authorize(req, resp *Message, creds Credentials) error {
	challengeName, authName, err := AuthorizationHeader(resp)
	if err != nil {
		return err
	}
	value, ok := resp.GetHeader(challengeName)
	if !ok {
		return MissingHeaderError(challengeName)
	}

	chal, err := digest.ParseChallenge(value)
	if err != nil {
		return errors.Wrapf(err, "parse %s", challengeName)
	}

	cred, err := digest.Digest(chal, digest.Options{
		Method:   req.Method().String(),
		URI:      req.RequestURI().String(),
		Username: creds.Username,
		Password: creds.Password,
	})
	if err != nil {
		return errors.Wrap(err, "compute digest")
	}

	req.SetHeader(authName, cred.String())
	return nil
}

// NewChallenge 服务端的 MD5 挑战, nonce 取当前时间
func NewChallenge(realm string) *digest.Challenge {
	return &digest.Challenge{
		Realm:     realm,
		Nonce:     strconv.FormatInt(time.Now().UnixNano(), 36),
		Algorithm: "MD5",
	}
}

// VerifyAuthorization checks the Authorization header of req against chal.
// lookup returns the password of a user, or false for an unknown user.
func VerifyAuthorization(req *Message, chal *digest.Challenge, lookup func(username string) (string, bool)) (string, error) {
	value, ok := req.GetHeader(HeaderAuthorization)
	if !ok {
		return "", MissingHeaderError(HeaderAuthorization)
	}

	cred, err := digest.ParseCredentials(value)
	if err != nil {
		return "", errors.Wrap(err, "parse credentials")
	}
	if cred.Nonce != chal.Nonce {
		return cred.Username, errors.New("stale nonce")
	}

	password, ok := lookup(cred.Username)
	if !ok {
		return cred.Username, errors.Errorf("unknown user %q", cred.Username)
	}

	expected, err := digest.Digest(chal, digest.Options{
		Method:   req.Method().String(),
		URI:      cred.URI,
		Username: cred.Username,
		Password: password,
		Cnonce:   cred.Cnonce,
		Count:    cred.Nc,
	})
	if err != nil {
		return cred.Username, errors.Wrap(err, "compute digest")
	}
	if !strings.EqualFold(expected.Response, cred.Response) {
		return cred.Username, errors.New("digest mismatch")
	}

	return cred.Username, nil
}
