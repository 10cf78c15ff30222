package sip

import (
	"strings"
)

type Param struct {
	Key      string
	Value    string
	HasValue bool
}

// Params 保持原始顺序的参数列表, key 大小写不敏感
type Params []Param

// ParseParams parses "k1=v1;flag;k2=v2" (a leading separator is allowed).
func ParseParams(s string, sep byte) Params {
	var params Params

	for _, item := range splitOutsideQuotes(s, sep) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if i := strings.IndexByte(item, '='); i >= 0 {
			params = append(params, Param{
				Key:      strings.TrimSpace(item[:i]),
				Value:    strings.TrimSpace(item[i+1:]),
				HasValue: true,
			})
		} else {
			params = append(params, Param{Key: item})
		}
	}

	return params
}

func (params Params) index(key string) int {
	for i, p := range params {
		if strings.EqualFold(p.Key, key) {
			return i
		}
	}
	return -1
}

func (params Params) Get(key string) (string, bool) {
	if i := params.index(key); i >= 0 {
		return params[i].Value, true
	}
	return "", false
}

func (params Params) Has(key string) bool {
	return params.index(key) >= 0
}

// Set 替换已有参数, 不存在时追加到末尾
func (params *Params) Set(key, value string) {
	p := Param{Key: key, Value: value, HasValue: true}
	if i := params.index(key); i >= 0 {
		(*params)[i] = p
		return
	}
	*params = append(*params, p)
}

// SetFlag adds a parameter without a value, e.g. ";lr" or ";rport".
func (params *Params) SetFlag(key string) {
	p := Param{Key: key}
	if i := params.index(key); i >= 0 {
		(*params)[i] = p
		return
	}
	*params = append(*params, p)
}

func (params *Params) Del(key string) {
	if i := params.index(key); i >= 0 {
		*params = append((*params)[:i], (*params)[i+1:]...)
	}
}

func (params Params) Clone() Params {
	if params == nil {
		return nil
	}
	out := make(Params, len(params))
	copy(out, params)
	return out
}

// ToString renders every parameter prefixed with sep.
func (params Params) ToString(sep byte) string {
	var b strings.Builder
	for _, p := range params {
		b.WriteByte(sep)
		b.WriteString(p.Key)
		if p.HasValue {
			b.WriteByte('=')
			b.WriteString(p.Value)
		}
	}
	return b.String()
}

func (params Params) String() string {
	return params.ToString(';')
}

func splitOutsideQuotes(s string, sep byte) []string {
	var (
		out    []string
		quoted bool
		start  int
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case sep:
			if !quoted {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	return append(out, s[start:])
}

// Unquote strips surrounding double quotes.
func Unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return strings.ReplaceAll(s[1:len(s)-1], `\"`, `"`)
	}
	return s
}
