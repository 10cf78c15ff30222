package sip

import (
	"strings"
)

// 常用头部名称
const (
	HeaderVia                = "Via"
	HeaderFrom               = "From"
	HeaderTo                 = "To"
	HeaderCallID             = "Call-ID"
	HeaderCSeq               = "CSeq"
	HeaderContact            = "Contact"
	HeaderMaxForwards        = "Max-Forwards"
	HeaderExpires            = "Expires"
	HeaderRoute              = "Route"
	HeaderRecordRoute        = "Record-Route"
	HeaderContentType        = "Content-Type"
	HeaderContentLength      = "Content-Length"
	HeaderUserAgent          = "User-Agent"
	HeaderServer             = "Server"
	HeaderAllow              = "Allow"
	HeaderSupported          = "Supported"
	HeaderAccept             = "Accept"
	HeaderEvent              = "Event"
	HeaderSubscriptionState  = "Subscription-State"
	HeaderReferTo            = "Refer-To"
	HeaderReferredBy         = "Referred-By"
	HeaderSubject            = "Subject"
	HeaderAuthorization      = "Authorization"
	HeaderWWWAuthenticate    = "WWW-Authenticate"
	HeaderProxyAuthorization = "Proxy-Authorization"
	HeaderProxyAuthenticate  = "Proxy-Authenticate"
	HeaderAcceptContact      = "Accept-Contact"
)

// Header 原始的头部, 结构化的字段按需解析
type Header struct {
	Name  string
	Value string
}

func (h Header) String() string {
	return h.Name + ": " + h.Value
}

var compactForms = map[string]string{
	"i": HeaderCallID,
	"m": HeaderContact,
	"l": HeaderContentLength,
	"c": HeaderContentType,
	"f": HeaderFrom,
	"s": HeaderSubject,
	"k": HeaderSupported,
	"t": HeaderTo,
	"v": HeaderVia,
	"o": HeaderEvent,
	"r": HeaderReferTo,
	"b": HeaderReferredBy,
	"a": HeaderAcceptContact,
}

var canonicalNames = map[string]string{}

func init() {
	for _, name := range []string{
		HeaderVia, HeaderFrom, HeaderTo, HeaderCallID, HeaderCSeq, HeaderContact, HeaderMaxForwards,
		HeaderExpires, HeaderRoute, HeaderRecordRoute, HeaderContentType, HeaderContentLength,
		HeaderUserAgent, HeaderServer, HeaderAllow, HeaderSupported, HeaderAccept, HeaderEvent,
		HeaderSubscriptionState, HeaderReferTo, HeaderReferredBy, HeaderSubject, HeaderAuthorization,
		HeaderWWWAuthenticate, HeaderProxyAuthorization, HeaderProxyAuthenticate, HeaderAcceptContact,
	} {
		canonicalNames[strings.ToLower(name)] = name
	}
}

// CanonicalName expands compact forms and normalises the case of a header
// name, e.g. "v" -> "Via", "call-id" -> "Call-ID", "x-custom-id" -> "X-Custom-Id".
func CanonicalName(name string) string {
	name = strings.TrimSpace(name)
	if full, ok := compactForms[strings.ToLower(name)]; ok && len(name) == 1 {
		return full
	}
	if known, ok := canonicalNames[strings.ToLower(name)]; ok {
		return known
	}

	parts := strings.Split(strings.ToLower(name), "-")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "-")
}

// SplitList splits a comma separated header value, ignoring commas inside
// quotes and angle brackets.
func SplitList(value string) []string {
	var (
		out     []string
		quoted  bool
		angle   int
		escaped bool
		start   int
	)

	for i := 0; i < len(value); i++ {
		c := value[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && quoted:
			escaped = true
		case c == '"':
			quoted = !quoted
		case c == '<' && !quoted:
			angle++
		case c == '>' && !quoted && angle > 0:
			angle--
		case c == ',' && !quoted && angle == 0:
			if part := strings.TrimSpace(value[start:i]); part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	if part := strings.TrimSpace(value[start:]); part != "" {
		out = append(out, part)
	}

	return out
}
