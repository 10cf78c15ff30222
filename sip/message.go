package sip

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

type RequestLine struct {
	Method RequestMethod
	URI    *URI
}

func (rl *RequestLine) String() string {
	return fmt.Sprintf("%s %s %s", rl.Method, rl.URI, SIPVersion)
}

type StatusLine struct {
	Code   StatusCode
	Reason string
}

func (sl *StatusLine) String() string {
	return fmt.Sprintf("%s %d %s", SIPVersion, sl.Code, sl.Reason)
}

// Message SIP 请求或响应: 开始行 + 有序的头部 + 可选的 body
type Message struct {
	requestLine *RequestLine
	statusLine  *StatusLine
	headers     []Header
	body        []byte

	// 传输层信息, 只对收到的消息有效
	Transport    string
	RemoteAddr   string
	RemotePort   int
	ConnectionID Identifier
}

func NewRequest(method RequestMethod, uri *URI) *Message {
	return &Message{requestLine: &RequestLine{Method: method, URI: uri}}
}

func NewResponse(code StatusCode, reason string) *Message {
	if reason == "" {
		reason = StatusText(code)
	}
	return &Message{statusLine: &StatusLine{Code: code, Reason: reason}}
}

func (msg *Message) IsRequest() bool  { return msg.requestLine != nil }
func (msg *Message) IsResponse() bool { return msg.statusLine != nil }

func (msg *Message) RequestLine() *RequestLine { return msg.requestLine }
func (msg *Message) StatusLine() *StatusLine   { return msg.statusLine }

func (msg *Message) StartLine() string {
	switch {
	case msg.requestLine != nil:
		return msg.requestLine.String()
	case msg.statusLine != nil:
		return msg.statusLine.String()
	}
	return ""
}

// Method 请求返回请求行的方法, 响应返回 CSeq 中的方法
func (msg *Message) Method() RequestMethod {
	if msg.requestLine != nil {
		return msg.requestLine.Method
	}
	if cseq, err := msg.CSeq(); err == nil {
		return cseq.MethodName
	}
	return ""
}

func (msg *Message) RequestURI() *URI {
	if msg.requestLine == nil {
		return nil
	}
	return msg.requestLine.URI
}

func (msg *Message) SetRequestURI(uri *URI) {
	if msg.requestLine != nil {
		msg.requestLine.URI = uri
	}
}

func (msg *Message) StatusCode() StatusCode {
	if msg.statusLine == nil {
		return 0
	}
	return msg.statusLine.Code
}

func (msg *Message) Reason() string {
	if msg.statusLine == nil {
		return ""
	}
	return msg.statusLine.Reason
}

func (msg *Message) isMethod(method RequestMethod) bool {
	return msg.requestLine != nil && msg.requestLine.Method == method
}

func (msg *Message) IsInvite() bool    { return msg.isMethod(INVITE) }
func (msg *Message) IsAck() bool       { return msg.isMethod(ACK) }
func (msg *Message) IsCancel() bool    { return msg.isMethod(CANCEL) }
func (msg *Message) IsBye() bool       { return msg.isMethod(BYE) }
func (msg *Message) IsRegister() bool  { return msg.isMethod(REGISTER) }
func (msg *Message) IsOptions() bool   { return msg.isMethod(OPTIONS) }
func (msg *Message) IsSubscribe() bool { return msg.isMethod(SUBSCRIBE) }
func (msg *Message) IsNotify() bool    { return msg.isMethod(NOTIFY) }
func (msg *Message) IsRefer() bool     { return msg.isMethod(REFER) }
func (msg *Message) IsInfo() bool      { return msg.isMethod(INFO) }
func (msg *Message) IsMessage() bool   { return msg.isMethod(MESSAGE) }

// ---- 原始头部操作 ----

func (msg *Message) Headers() []Header {
	out := make([]Header, len(msg.headers))
	copy(out, msg.headers)
	return out
}

// GetHeader 第一个同名头部的值
func (msg *Message) GetHeader(name string) (string, bool) {
	name = CanonicalName(name)
	for _, h := range msg.headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}

func (msg *Message) HasHeader(name string) bool {
	_, ok := msg.GetHeader(name)
	return ok
}

// GetHeaders returns every line of name in order.
func (msg *Message) GetHeaders(name string) []string {
	name = CanonicalName(name)
	var values []string
	for _, h := range msg.headers {
		if h.Name == name {
			values = append(values, h.Value)
		}
	}
	return values
}

func (msg *Message) AddHeader(name, value string) {
	msg.headers = append(msg.headers, Header{Name: CanonicalName(name), Value: value})
}

// PrependHeader inserts before the first line of the same name, or at the
// top when there is none.
func (msg *Message) PrependHeader(name, value string) {
	h := Header{Name: CanonicalName(name), Value: value}
	pos := 0
	for i, existing := range msg.headers {
		if existing.Name == h.Name {
			pos = i
			break
		}
	}
	msg.headers = append(msg.headers, Header{})
	copy(msg.headers[pos+1:], msg.headers[pos:])
	msg.headers[pos] = h
}

// SetHeader replaces the first line of name in place and drops the others;
// appends when name is absent.
func (msg *Message) SetHeader(name, value string) {
	name = CanonicalName(name)
	out := msg.headers[:0]
	replaced := false
	for _, h := range msg.headers {
		if h.Name != name {
			out = append(out, h)
			continue
		}
		if !replaced {
			out = append(out, Header{Name: name, Value: value})
			replaced = true
		}
	}
	msg.headers = out
	if !replaced {
		msg.headers = append(msg.headers, Header{Name: name, Value: value})
	}
}

func (msg *Message) RemoveHeader(name string) {
	name = CanonicalName(name)
	out := msg.headers[:0]
	for _, h := range msg.headers {
		if h.Name != name {
			out = append(out, h)
		}
	}
	msg.headers = out
}

// SetMultipleHeader replaces every line of mh.Name with one line per value,
// at the position of the first existing line.
func (msg *Message) SetMultipleHeader(mh *MultipleHeader) {
	pos := -1
	out := make([]Header, 0, len(msg.headers)+mh.Len())
	for _, h := range msg.headers {
		if h.Name == mh.Name {
			if pos < 0 {
				pos = len(out)
				out = append(out, mh.Lines()...)
			}
			continue
		}
		out = append(out, h)
	}
	if pos < 0 {
		out = append(out, mh.Lines()...)
	}
	msg.headers = out
}

// ---- 结构化访问 ----

func (msg *Message) Vias() ([]*ViaHop, error) {
	var hops []*ViaHop
	for _, line := range msg.GetHeaders(HeaderVia) {
		h, err := ParseVia(line)
		if err != nil {
			return nil, err
		}
		hops = append(hops, h...)
	}
	if len(hops) == 0 {
		return nil, MissingHeaderError(HeaderVia)
	}
	return hops, nil
}

// Via 最上面的一跳
func (msg *Message) Via() (*ViaHop, error) {
	value, ok := msg.GetHeader(HeaderVia)
	if !ok {
		return nil, MissingHeaderError(HeaderVia)
	}
	hops, err := ParseVia(value)
	if err != nil {
		return nil, err
	}
	return hops[0], nil
}

// SetTopVia replaces the top hop, keeping any other hops of the same line.
func (msg *Message) SetTopVia(hop *ViaHop) {
	for i, h := range msg.headers {
		if h.Name != HeaderVia {
			continue
		}
		parts := SplitList(h.Value)
		if len(parts) == 0 {
			parts = []string{""}
		}
		parts[0] = hop.String()
		msg.headers[i].Value = strings.Join(parts, ", ")
		return
	}
	msg.PrependHeader(HeaderVia, hop.String())
}

func (msg *Message) AddTopVia(hop *ViaHop) {
	msg.PrependHeader(HeaderVia, hop.String())
}

// RemoveTopVia drops the top hop.
func (msg *Message) RemoveTopVia() {
	for i, h := range msg.headers {
		if h.Name != HeaderVia {
			continue
		}
		parts := SplitList(h.Value)
		if len(parts) <= 1 {
			msg.headers = append(msg.headers[:i], msg.headers[i+1:]...)
		} else {
			msg.headers[i].Value = strings.Join(parts[1:], ", ")
		}
		return
	}
}

func (msg *Message) address(name string) (*NameAddress, error) {
	value, ok := msg.GetHeader(name)
	if !ok {
		return nil, MissingHeaderError(name)
	}
	return ParseNameAddress(value)
}

func (msg *Message) From() (*NameAddress, error) { return msg.address(HeaderFrom) }
func (msg *Message) To() (*NameAddress, error)   { return msg.address(HeaderTo) }

func (msg *Message) SetFrom(addr *NameAddress) { msg.SetHeader(HeaderFrom, addr.String()) }
func (msg *Message) SetTo(addr *NameAddress)   { msg.SetHeader(HeaderTo, addr.String()) }

func (msg *Message) FromTag() string {
	from, err := msg.From()
	if err != nil {
		return ""
	}
	return from.Tag()
}

func (msg *Message) ToTag() string {
	to, err := msg.To()
	if err != nil {
		return ""
	}
	return to.Tag()
}

func (msg *Message) CallID() string {
	v, _ := msg.GetHeader(HeaderCallID)
	return strings.TrimSpace(v)
}

func (msg *Message) CSeq() (*CSeq, error) {
	value, ok := msg.GetHeader(HeaderCSeq)
	if !ok {
		return nil, MissingHeaderError(HeaderCSeq)
	}
	return ParseCSeq(value)
}

func (msg *Message) SetCSeq(cseq *CSeq) {
	msg.SetHeader(HeaderCSeq, cseq.String())
}

// Contact 第一个 Contact 地址
func (msg *Message) Contact() (*NameAddress, error) {
	contacts, err := msg.Contacts()
	if err != nil {
		return nil, err
	}
	if len(contacts) == 0 {
		return nil, MissingHeaderError(HeaderContact)
	}
	return contacts[0], nil
}

func (msg *Message) Contacts() ([]*NameAddress, error) {
	return CollectHeader(msg, HeaderContact).Addresses()
}

func (msg *Message) Routes() ([]*NameAddress, error) {
	return CollectHeader(msg, HeaderRoute).Addresses()
}

func (msg *Message) RecordRoutes() ([]*NameAddress, error) {
	return CollectHeader(msg, HeaderRecordRoute).Addresses()
}

// SetRoutes writes one Route line per hop; an empty route removes the header.
func (msg *Message) SetRoutes(route []*NameAddress) {
	msg.RemoveHeader(HeaderRoute)
	if len(route) == 0 {
		return
	}
	mh := NewMultipleHeader(HeaderRoute)
	for _, r := range route {
		mh.AddBottom(r.String())
	}
	msg.SetMultipleHeader(mh)
}

// Expires 返回 Expires 头部的秒数
func (msg *Message) Expires() (int, bool) {
	value, ok := msg.GetHeader(HeaderExpires)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, false
	}
	return n, true
}

func (msg *Message) SetExpires(seconds int) {
	msg.SetHeader(HeaderExpires, strconv.Itoa(seconds))
}

func (msg *Message) MaxForwards() (int, bool) {
	value, ok := msg.GetHeader(HeaderMaxForwards)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	return n, err == nil
}

func (msg *Message) Event() (*Event, bool) {
	value, ok := msg.GetHeader(HeaderEvent)
	if !ok {
		return nil, false
	}
	return ParseEvent(value), true
}

func (msg *Message) SubscriptionState() (*SubscriptionState, bool) {
	value, ok := msg.GetHeader(HeaderSubscriptionState)
	if !ok {
		return nil, false
	}
	return ParseSubscriptionState(value), true
}

func (msg *Message) ContentType() string {
	v, _ := msg.GetHeader(HeaderContentType)
	return strings.TrimSpace(v)
}

// ---- body ----

func (msg *Message) Body() []byte {
	return msg.body
}

func (msg *Message) BodyString() string {
	return string(msg.body)
}

func (msg *Message) HasBody() bool {
	return len(msg.body) > 0
}

// SetBody sets the body, Content-Type (when contentType is not empty) and a
// matching Content-Length.
func (msg *Message) SetBody(contentType string, body []byte) {
	msg.body = body
	if len(body) == 0 {
		msg.RemoveHeader(HeaderContentType)
	} else if contentType != "" {
		msg.SetHeader(HeaderContentType, contentType)
	}
	msg.SetHeader(HeaderContentLength, strconv.Itoa(len(body)))
}

// ---- 标识 ----

// TransactionID computes the transaction identifier from Call-ID, CSeq and
// the top Via branch.
func (msg *Message) TransactionID() Identifier {
	cseq, err := msg.CSeq()
	if err != nil {
		return Identifier{}
	}
	branch := ""
	if via, err := msg.Via(); err == nil {
		branch = via.Branch()
	}
	method := cseq.MethodName
	if msg.IsRequest() {
		method = msg.requestLine.Method
	}
	return TransactionIdentifier(msg.CallID(), cseq.SeqNo, method, branch)
}

// DialogID is computed from the receiver's point of view: for a received
// request the local tag is the To tag, for a received response the From tag.
func (msg *Message) DialogID() Identifier {
	if msg.IsRequest() {
		return DialogIdentifier(msg.CallID(), msg.ToTag(), msg.FromTag())
	}
	return DialogIdentifier(msg.CallID(), msg.FromTag(), msg.ToTag())
}

func (msg *Message) MethodID() Identifier {
	return MethodIdentifier(msg.Method(), "")
}

// UserMethodID 请求方法 + 请求 URI 中的用户名, 响应返回空标识
func (msg *Message) UserMethodID() Identifier {
	if !msg.IsRequest() || msg.requestLine.URI == nil || msg.requestLine.URI.User == "" {
		return Identifier{}
	}
	return MethodIdentifier(msg.requestLine.Method, msg.requestLine.URI.User)
}

// ---- 序列化 ----

func (msg *Message) Bytes() []byte {
	var buf bytes.Buffer
	buf.WriteString(msg.StartLine())
	buf.WriteString("\r\n")
	for _, h := range msg.headers {
		buf.WriteString(h.Name)
		buf.WriteString(": ")
		buf.WriteString(h.Value)
		buf.WriteString("\r\n")
	}
	buf.WriteString("\r\n")
	buf.Write(msg.body)
	return buf.Bytes()
}

func (msg *Message) String() string {
	return string(msg.Bytes())
}

// Short 用于日志的简短描述
func (msg *Message) Short() string {
	cseq, _ := msg.GetHeader(HeaderCSeq)
	return fmt.Sprintf("%s (Call-ID: %s, CSeq: %s)", msg.StartLine(), msg.CallID(), cseq)
}

func (msg *Message) Clone() *Message {
	out := &Message{
		headers:      msg.Headers(),
		Transport:    msg.Transport,
		RemoteAddr:   msg.RemoteAddr,
		RemotePort:   msg.RemotePort,
		ConnectionID: msg.ConnectionID,
	}
	if msg.requestLine != nil {
		rl := *msg.requestLine
		rl.URI = msg.requestLine.URI.Clone()
		out.requestLine = &rl
	}
	if msg.statusLine != nil {
		sl := *msg.statusLine
		out.statusLine = &sl
	}
	if msg.body != nil {
		out.body = append([]byte(nil), msg.body...)
	}
	return out
}

// Validate checks the mandatory request headers.
func (msg *Message) Validate() error {
	if !msg.IsRequest() {
		for _, name := range []string{HeaderVia, HeaderFrom, HeaderTo, HeaderCallID, HeaderCSeq} {
			if !msg.HasHeader(name) {
				return MissingHeaderError(name)
			}
		}
		return nil
	}
	for _, name := range []string{HeaderTo, HeaderFrom, HeaderCSeq, HeaderCallID, HeaderVia, HeaderMaxForwards} {
		if !msg.HasHeader(name) {
			return MissingHeaderError(name)
		}
	}
	return nil
}
