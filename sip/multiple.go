package sip

import (
	"strings"
)

// MultipleHeader aggregates the values of a repeated header (Route, Via,
// Contact...). It renders either as one comma joined line or as repeated lines.
type MultipleHeader struct {
	Name   string
	Values []string
}

func NewMultipleHeader(name string, values ...string) *MultipleHeader {
	return &MultipleHeader{Name: CanonicalName(name), Values: values}
}

// CollectHeader gathers every value of name in msg, splitting comma joined
// lines, in message order.
func CollectHeader(msg *Message, name string) *MultipleHeader {
	mh := NewMultipleHeader(name)
	for _, line := range msg.GetHeaders(name) {
		mh.Values = append(mh.Values, SplitList(line)...)
	}
	return mh
}

func (mh *MultipleHeader) IsEmpty() bool {
	return len(mh.Values) == 0
}

func (mh *MultipleHeader) Len() int {
	return len(mh.Values)
}

func (mh *MultipleHeader) Top() string {
	if mh.IsEmpty() {
		return ""
	}
	return mh.Values[0]
}

func (mh *MultipleHeader) Bottom() string {
	if mh.IsEmpty() {
		return ""
	}
	return mh.Values[len(mh.Values)-1]
}

func (mh *MultipleHeader) AddTop(value string) {
	mh.Values = append([]string{value}, mh.Values...)
}

func (mh *MultipleHeader) AddBottom(value string) {
	mh.Values = append(mh.Values, value)
}

func (mh *MultipleHeader) RemoveTop() {
	if !mh.IsEmpty() {
		mh.Values = mh.Values[1:]
	}
}

// Reversed 返回倒序的拷贝, 用于 Record-Route -> route set
func (mh *MultipleHeader) Reversed() *MultipleHeader {
	out := NewMultipleHeader(mh.Name)
	for i := len(mh.Values) - 1; i >= 0; i-- {
		out.Values = append(out.Values, mh.Values[i])
	}
	return out
}

// Combined renders a single comma separated header line.
func (mh *MultipleHeader) Combined() Header {
	return Header{Name: mh.Name, Value: strings.Join(mh.Values, ", ")}
}

// Lines renders one header line per value.
func (mh *MultipleHeader) Lines() []Header {
	lines := make([]Header, 0, len(mh.Values))
	for _, v := range mh.Values {
		lines = append(lines, Header{Name: mh.Name, Value: v})
	}
	return lines
}

// Addresses parses every value as a name-address.
func (mh *MultipleHeader) Addresses() ([]*NameAddress, error) {
	out := make([]*NameAddress, 0, len(mh.Values))
	for _, v := range mh.Values {
		addr, err := ParseNameAddress(v)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
