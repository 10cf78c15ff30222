package sip

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// URI sip/sips URI. 其他 scheme (tel 等) 保存在 Opaque 中
type URI struct {
	Scheme   string
	User     string
	Password string
	Host     string
	Port     int
	Params   Params
	Headers  Params
	Opaque   string
	Wildcard bool
}

func NewURI(user, host string, port int) *URI {
	return &URI{Scheme: "sip", User: user, Host: host, Port: port}
}

func ParseURI(s string) (*URI, error) {
	s = strings.TrimSpace(s)
	if s == "*" {
		return &URI{Wildcard: true}, nil
	}

	colon := strings.IndexByte(s, ':')
	if colon <= 0 {
		return nil, fmt.Errorf("invalid uri %q: missing scheme", s)
	}

	uri := &URI{Scheme: strings.ToLower(s[:colon])}
	rest := s[colon+1:]
	if uri.Scheme != "sip" && uri.Scheme != "sips" {
		uri.Opaque = rest
		return uri, nil
	}

	if i := strings.IndexByte(rest, '?'); i >= 0 {
		uri.Headers = ParseParams(rest[i+1:], '&')
		rest = rest[:i]
	}

	if i := strings.LastIndexByte(rest, '@'); i >= 0 {
		userinfo := rest[:i]
		rest = rest[i+1:]
		if j := strings.IndexByte(userinfo, ':'); j >= 0 {
			uri.User, uri.Password = userinfo[:j], userinfo[j+1:]
		} else {
			uri.User = userinfo
		}
	}

	if i := strings.IndexByte(rest, ';'); i >= 0 {
		uri.Params = ParseParams(rest[i+1:], ';')
		rest = rest[:i]
	}

	host, port, err := splitHostPort(rest)
	if err != nil {
		return nil, fmt.Errorf("invalid uri %q: %w", s, err)
	}
	uri.Host, uri.Port = host, port

	return uri, nil
}

// splitHostPort accepts "host", "host:port", "[v6]" and "[v6]:port".
func splitHostPort(hostport string) (string, int, error) {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return "", 0, fmt.Errorf("empty host")
	}

	if strings.HasPrefix(hostport, "[") {
		end := strings.IndexByte(hostport, ']')
		if end < 0 {
			return "", 0, fmt.Errorf("unterminated ipv6 host %q", hostport)
		}
		host := hostport[:end+1]
		rest := hostport[end+1:]
		if rest == "" {
			return host, 0, nil
		}
		if rest[0] != ':' {
			return "", 0, fmt.Errorf("invalid host %q", hostport)
		}
		port, err := strconv.Atoi(rest[1:])
		return host, port, err
	}

	if i := strings.LastIndexByte(hostport, ':'); i >= 0 {
		port, err := strconv.Atoi(hostport[i+1:])
		if err != nil {
			return "", 0, fmt.Errorf("invalid port in %q", hostport)
		}
		return hostport[:i], port, nil
	}

	return hostport, 0, nil
}

func (uri *URI) String() string {
	if uri == nil {
		return ""
	}
	if uri.Wildcard {
		return "*"
	}
	if uri.Opaque != "" {
		return uri.Scheme + ":" + uri.Opaque
	}

	var b strings.Builder
	scheme := uri.Scheme
	if scheme == "" {
		scheme = "sip"
	}
	b.WriteString(scheme)
	b.WriteByte(':')
	if uri.User != "" {
		b.WriteString(uri.User)
		if uri.Password != "" {
			b.WriteByte(':')
			b.WriteString(uri.Password)
		}
		b.WriteByte('@')
	}
	b.WriteString(uri.HostPort())
	b.WriteString(uri.Params.ToString(';'))
	if len(uri.Headers) > 0 {
		h := uri.Headers.ToString('&')
		b.WriteByte('?')
		b.WriteString(h[1:])
	}

	return b.String()
}

func (uri *URI) HostPort() string {
	if uri.Port > 0 {
		return uri.Host + ":" + strconv.Itoa(uri.Port)
	}
	return uri.Host
}

func (uri *URI) Clone() *URI {
	if uri == nil {
		return nil
	}
	out := *uri
	out.Params = uri.Params.Clone()
	out.Headers = uri.Headers.Clone()
	return &out
}

// Transport 返回 transport 参数 (小写), 没有时为空
func (uri *URI) Transport() string {
	v, _ := uri.Params.Get("transport")
	return strings.ToLower(v)
}

func (uri *URI) HasLr() bool {
	return uri != nil && uri.Params.Has("lr")
}

func (uri *URI) Maddr() (string, bool) {
	return uri.Params.Get("maddr")
}

func (uri *URI) TTL() int {
	v, ok := uri.Params.Get("ttl")
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(v)
	return n
}

// IsIP 判断 host 是否为 IP 地址
func (uri *URI) IsIP() bool {
	return net.ParseIP(strings.Trim(uri.Host, "[]")) != nil
}
