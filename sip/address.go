package sip

import (
	"fmt"
	"strings"
)

// NameAddress From/To/Contact/Route 等头部的地址部分
type NameAddress struct {
	DisplayName string
	URI         *URI
	Params      Params
}

func NewNameAddress(uri *URI) *NameAddress {
	return &NameAddress{URI: uri}
}

func ParseNameAddress(s string) (*NameAddress, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty address")
	}
	if s == "*" {
		return &NameAddress{URI: &URI{Wildcard: true}}, nil
	}

	addr := new(NameAddress)
	rest := s

	if strings.HasPrefix(rest, `"`) {
		end := closingQuote(rest)
		if end < 0 {
			return nil, fmt.Errorf("unterminated display name in %q", s)
		}
		addr.DisplayName = Unquote(rest[:end+1])
		rest = strings.TrimSpace(rest[end+1:])
	}

	if lt := strings.IndexByte(rest, '<'); lt >= 0 {
		gt := strings.IndexByte(rest[lt:], '>')
		if gt < 0 {
			return nil, fmt.Errorf("unterminated '<' in %q", s)
		}
		if addr.DisplayName == "" {
			addr.DisplayName = strings.TrimSpace(rest[:lt])
		}
		uri, err := ParseURI(rest[lt+1 : lt+gt])
		if err != nil {
			return nil, err
		}
		addr.URI = uri
		addr.Params = ParseParams(rest[lt+gt+1:], ';')
		return addr, nil
	}

	// addr-spec 形式, 分号之后都是头部参数
	spec := rest
	if i := strings.IndexByte(rest, ';'); i >= 0 {
		spec = rest[:i]
		addr.Params = ParseParams(rest[i+1:], ';')
	}
	uri, err := ParseURI(spec)
	if err != nil {
		return nil, err
	}
	addr.URI = uri

	return addr, nil
}

func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '"':
			return i
		}
	}
	return -1
}

func (addr *NameAddress) String() string {
	if addr == nil {
		return ""
	}
	if addr.URI != nil && addr.URI.Wildcard {
		return "*"
	}

	var b strings.Builder
	if addr.DisplayName != "" {
		b.WriteByte('"')
		b.WriteString(strings.ReplaceAll(addr.DisplayName, `"`, `\"`))
		b.WriteString(`" `)
	}
	b.WriteByte('<')
	b.WriteString(addr.URI.String())
	b.WriteByte('>')
	b.WriteString(addr.Params.ToString(';'))

	return b.String()
}

func (addr *NameAddress) Clone() *NameAddress {
	if addr == nil {
		return nil
	}
	return &NameAddress{
		DisplayName: addr.DisplayName,
		URI:         addr.URI.Clone(),
		Params:      addr.Params.Clone(),
	}
}

func (addr *NameAddress) Tag() string {
	if addr == nil {
		return ""
	}
	tag, _ := addr.Params.Get("tag")
	return tag
}

func (addr *NameAddress) SetTag(tag string) {
	if tag == "" {
		addr.Params.Del("tag")
		return
	}
	addr.Params.Set("tag", tag)
}

// WithoutTag 去掉 tag 的拷贝, 用于对话里保存的本地/远端地址
func (addr *NameAddress) WithoutTag() *NameAddress {
	out := addr.Clone()
	if out != nil {
		out.Params.Del("tag")
	}
	return out
}

// User 返回 URI 中的用户名
func (addr *NameAddress) User() string {
	if addr == nil || addr.URI == nil {
		return ""
	}
	return addr.URI.User
}
