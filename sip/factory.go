package sip

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
)

// Factory builds requests and responses carrying every mandatory header.
// Via address/port and the identification strings come from the owning
// provider's configuration.
type Factory struct {
	ViaHost        string
	ViaPort        int
	Transport      string
	Rport          bool
	MaxForwards    int
	DefaultExpires int
	UserAgent      string
	Server         string
	EarlyDialog    bool
}

// RequestParams 构造请求需要的全部字段
type RequestParams struct {
	Method      RequestMethod
	RequestURI  *URI
	To          *NameAddress
	From        *NameAddress
	Contact     *NameAddress
	CallID      string
	CSeq        uint32
	LocalTag    string // From tag
	RemoteTag   string // To tag, 空表示不加
	Branch      string // 空表示随机生成
	Transport   string // 空表示取 request-uri 的 transport 参数或默认传输
	Routes      []*NameAddress
	Expires     int // <0 表示不加 Expires
	ContentType string
	Body        []byte
}

// DialogParams is the dialog state a request inside a dialog is built from.
// CSeq is the value to put on the request; the caller owns the counter.
type DialogParams struct {
	LocalName     *NameAddress
	RemoteName    *NameAddress
	LocalContact  *NameAddress
	RemoteContact *NameAddress
	CallID        string
	LocalTag      string
	RemoteTag     string
	CSeq          uint32
	Route         []*NameAddress
}

func (f *Factory) transportFor(uri *URI, override string) string {
	if override != "" {
		return override
	}
	if uri != nil {
		if t := uri.Transport(); t != "" {
			return t
		}
	}
	if f.Transport != "" {
		return f.Transport
	}
	return DefaultProto
}

func (f *Factory) maxForwards() int {
	if f.MaxForwards > 0 {
		return f.MaxForwards
	}
	return MaxForwards
}

func (f *Factory) defaultExpires() int {
	if f.DefaultExpires > 0 {
		return f.DefaultExpires
	}
	return DefaultExpires
}

// NewVia 使用本地地址构造 Via
func (f *Factory) NewVia(transport, branch string) *ViaHop {
	via := NewViaHop(transport, f.ViaHost, f.ViaPort)
	if f.Rport {
		via.SetRport(0)
	}
	if branch == "" {
		branch = GenerateBranch()
	}
	via.SetBranch(branch)
	return via
}

// Request builds a request from p. Header order: Via, Max-Forwards, Route,
// To, From, Call-ID, CSeq, Contact, Expires, User-Agent, Content-Type,
// Content-Length.
func (f *Factory) Request(p *RequestParams) *Message {
	req := NewRequest(p.Method, p.RequestURI.Clone())

	req.AddHeader(HeaderVia, f.NewVia(f.transportFor(p.RequestURI, p.Transport), p.Branch).String())
	req.AddHeader(HeaderMaxForwards, strconv.Itoa(f.maxForwards()))
	for _, r := range p.Routes {
		req.AddHeader(HeaderRoute, r.String())
	}

	to := p.To.Clone()
	to.SetTag(p.RemoteTag)
	req.AddHeader(HeaderTo, to.String())
	from := p.From.Clone()
	from.SetTag(p.LocalTag)
	req.AddHeader(HeaderFrom, from.String())

	req.AddHeader(HeaderCallID, p.CallID)
	req.AddHeader(HeaderCSeq, (&CSeq{SeqNo: p.CSeq, MethodName: p.Method}).String())
	if p.Contact != nil {
		req.AddHeader(HeaderContact, p.Contact.String())
	}
	if p.Expires >= 0 {
		req.AddHeader(HeaderExpires, strconv.Itoa(p.Expires))
	}
	if f.UserAgent != "" {
		req.AddHeader(HeaderUserAgent, f.UserAgent)
	}
	req.SetBody(p.ContentType, p.Body)

	return req
}

// newDialogCreating fills the fields every out-of-dialog request shares.
func newDialogCreating(method RequestMethod, target *URI, to, from, contact *NameAddress) *RequestParams {
	return &RequestParams{
		Method:     method,
		RequestURI: target,
		To:         to,
		From:       from,
		Contact:    contact,
		CallID:     GenerateCallID(),
		CSeq:       InitialCSeq,
		LocalTag:   GenerateTag(),
		Expires:    -1,
	}
}

// Invite 对话之外的 INVITE
func (f *Factory) Invite(target *URI, to, from, contact *NameAddress, contentType string, body []byte) *Message {
	p := newDialogCreating(INVITE, target, to, from, contact)
	p.ContentType, p.Body = contentType, body
	return f.Request(p)
}

// Register builds a REGISTER towards the To domain. A nil contact produces
// "Contact: *" with "Expires: 0" (remove every binding).
func (f *Factory) Register(to, from, contact *NameAddress, expires int) *Message {
	registrar := NewURI(to.URI.User, to.URI.Host, to.URI.Port)
	if t := to.URI.Transport(); t != "" {
		registrar.Params.Set("transport", t)
	}

	p := newDialogCreating(REGISTER, registrar, to, from, contact)
	if expires < 0 {
		expires = f.defaultExpires()
	}
	p.Expires = expires
	if contact == nil {
		p.Expires = 0
	}

	req := f.Request(p)
	if contact == nil {
		req.headers = insertBefore(req.headers, HeaderExpires, Header{Name: HeaderContact, Value: "*"})
	}
	return req
}

func insertBefore(headers []Header, name string, h Header) []Header {
	for i, existing := range headers {
		if existing.Name == name {
			headers = append(headers, Header{})
			copy(headers[i+1:], headers[i:])
			headers[i] = h
			return headers
		}
	}
	return append(headers, h)
}

// Subscribe 对话之外的 SUBSCRIBE
func (f *Factory) Subscribe(target *URI, to, from, contact *NameAddress, event *Event, expires int, contentType string, body []byte) *Message {
	p := newDialogCreating(SUBSCRIBE, target, to, from, contact)
	if expires < 0 {
		expires = f.defaultExpires()
	}
	p.Expires = expires
	p.ContentType, p.Body = contentType, body
	req := f.Request(p)
	if event != nil {
		req.headers = insertBefore(req.headers, HeaderExpires, Header{Name: HeaderEvent, Value: event.String()})
	}
	return req
}

// Message 对话之外的 MESSAGE, 不带 Contact
func (f *Factory) Message(target *URI, to, from *NameAddress, contentType string, body []byte) *Message {
	p := newDialogCreating(MESSAGE, target, to, from, nil)
	p.ContentType, p.Body = contentType, body
	return f.Request(p)
}

func (f *Factory) Options(target *URI, to, from, contact *NameAddress) *Message {
	return f.Request(newDialogCreating(OPTIONS, target, to, from, contact))
}

// Out-of-dialog NOTIFY, used by GB28181 platforms for keepalive and alarms.
func (f *Factory) Notify(target *URI, to, from *NameAddress, event *Event, state *SubscriptionState, contentType string, body []byte) *Message {
	p := newDialogCreating(NOTIFY, target, to, from, nil)
	p.ContentType, p.Body = contentType, body
	req := f.Request(p)
	addEventHeaders(req, event, state)
	return req
}

func addEventHeaders(req *Message, event *Event, state *SubscriptionState) {
	anchor := HeaderUserAgent
	if !req.HasHeader(anchor) {
		anchor = HeaderContentLength
	}
	if event != nil {
		req.headers = insertBefore(req.headers, anchor, Header{Name: HeaderEvent, Value: event.String()})
	}
	if state != nil {
		req.headers = insertBefore(req.headers, anchor, Header{Name: HeaderSubscriptionState, Value: state.String()})
	}
}

// DialogRequest builds a request inside a dialog: target is the remote
// contact (or the remote name), Contact falls back to the local name, the
// route set becomes Route headers and a strict next hop is adapted.
func (f *Factory) DialogRequest(d *DialogParams, method RequestMethod, contentType string, body []byte) *Message {
	target := d.RemoteContact
	if target == nil || target.URI == nil {
		target = d.RemoteName
	}
	contact := d.LocalContact
	if contact == nil {
		contact = d.LocalName.WithoutTag()
	}

	p := &RequestParams{
		Method:      method,
		RequestURI:  target.URI,
		To:          d.RemoteName,
		From:        d.LocalName,
		Contact:     contact,
		CallID:      d.CallID,
		CSeq:        d.CSeq,
		LocalTag:    d.LocalTag,
		RemoteTag:   d.RemoteTag,
		Routes:      d.Route,
		Expires:     -1,
		ContentType: contentType,
		Body:        body,
	}
	req := f.Request(p)
	StrictRouteAdapt(req)
	return req
}

// StrictRouteAdapt rewrites a request whose next hop is a strict router
// (RFC 3261 12.2.1.1): the first Route becomes the request-URI and the
// original request-URI is appended as the last Route.
func StrictRouteAdapt(req *Message) {
	routes, err := req.Routes()
	if err != nil || len(routes) == 0 || routes[0].URI.HasLr() {
		return
	}
	original := req.RequestURI()
	req.SetRequestURI(routes[0].URI.Clone())
	routes = append(routes[1:], NewNameAddress(original))
	req.SetRoutes(routes)
}

// Ack2xx 2xx 的 ACK, 属于对话, CSeq 与 INVITE 相同
func (f *Factory) Ack2xx(d *DialogParams, contentType string, body []byte) *Message {
	ack := f.DialogRequest(d, ACK, contentType, body)
	ack.RemoveHeader(HeaderContact)
	return ack
}

// Bye 不带 Expires 和 Contact
func (f *Factory) Bye(d *DialogParams) *Message {
	bye := f.DialogRequest(d, BYE, "", nil)
	bye.RemoveHeader(HeaderExpires)
	bye.RemoveHeader(HeaderContact)
	return bye
}

// Refer 对话中的 REFER
func (f *Factory) Refer(d *DialogParams, referTo, referredBy *NameAddress) *Message {
	req := f.DialogRequest(d, REFER, "", nil)
	anchor := HeaderContentLength
	req.headers = insertBefore(req.headers, anchor, Header{Name: HeaderReferTo, Value: referTo.String()})
	if referredBy != nil {
		req.headers = insertBefore(req.headers, anchor, Header{Name: HeaderReferredBy, Value: referredBy.String()})
	}
	return req
}

// DialogNotify 对话中的 NOTIFY
func (f *Factory) DialogNotify(d *DialogParams, event *Event, state *SubscriptionState, contentType string, body []byte) *Message {
	req := f.DialogRequest(d, NOTIFY, contentType, body)
	addEventHeaders(req, event, state)
	return req
}

// DialogSubscribe 对话中的 SUBSCRIBE (刷新或取消订阅)
func (f *Factory) DialogSubscribe(d *DialogParams, event *Event, expires int, contentType string, body []byte) *Message {
	req := f.DialogRequest(d, SUBSCRIBE, contentType, body)
	req.headers = insertBefore(req.headers, HeaderContentLength, Header{Name: HeaderExpires, Value: strconv.Itoa(expires)})
	if event != nil {
		req.headers = insertBefore(req.headers, HeaderExpires, Header{Name: HeaderEvent, Value: event.String()})
	}
	return req
}

// Non2xxAck builds the ACK an INVITE client transaction sends for a 3xx-6xx
// final response: same branch, request-URI and Route set as the INVITE, To
// taken from the response.
func (f *Factory) Non2xxAck(invite, resp *Message) *Message {
	ack := NewRequest(ACK, invite.RequestURI().Clone())
	if via, ok := invite.GetHeader(HeaderVia); ok {
		hops, err := ParseVia(via)
		if err == nil {
			ack.AddHeader(HeaderVia, hops[0].String())
		}
	}
	ack.AddHeader(HeaderMaxForwards, strconv.Itoa(f.maxForwards()))
	for _, r := range invite.GetHeaders(HeaderRoute) {
		ack.AddHeader(HeaderRoute, r)
	}
	if to, ok := resp.GetHeader(HeaderTo); ok {
		ack.AddHeader(HeaderTo, to)
	}
	if from, ok := invite.GetHeader(HeaderFrom); ok {
		ack.AddHeader(HeaderFrom, from)
	}
	ack.AddHeader(HeaderCallID, invite.CallID())
	seq := uint32(0)
	if cseq, err := invite.CSeq(); err == nil {
		seq = cseq.SeqNo
	}
	ack.AddHeader(HeaderCSeq, (&CSeq{SeqNo: seq, MethodName: ACK}).String())
	if f.UserAgent != "" {
		ack.AddHeader(HeaderUserAgent, f.UserAgent)
	}
	ack.SetBody("", nil)
	return ack
}

// Cancel builds a CANCEL for a pending request: same request-URI, top Via,
// Route set, From, To, Call-ID and CSeq number.
func (f *Factory) Cancel(req *Message) *Message {
	cancel := NewRequest(CANCEL, req.RequestURI().Clone())
	if via, err := req.Via(); err == nil {
		cancel.AddHeader(HeaderVia, via.String())
	}
	cancel.AddHeader(HeaderMaxForwards, strconv.Itoa(f.maxForwards()))
	for _, r := range req.GetHeaders(HeaderRoute) {
		cancel.AddHeader(HeaderRoute, r)
	}
	for _, name := range []string{HeaderTo, HeaderFrom, HeaderCallID} {
		if v, ok := req.GetHeader(name); ok {
			cancel.AddHeader(name, v)
		}
	}
	seq := uint32(0)
	if cseq, err := req.CSeq(); err == nil {
		seq = cseq.SeqNo
	}
	cancel.AddHeader(HeaderCSeq, (&CSeq{SeqNo: seq, MethodName: CANCEL}).String())
	if f.UserAgent != "" {
		cancel.AddHeader(HeaderUserAgent, f.UserAgent)
	}
	cancel.SetBody("", nil)
	return cancel
}

// Response builds a response to req. Dialog creating requests get a local To
// tag for 101-299 (or any code with early dialogs enabled); the tag is
// derived from the request so 18x and 2xx carry the same one.
func (f *Factory) Response(req *Message, code StatusCode, reason string, contact *NameAddress) *Message {
	localTag := ""
	if req.Method().CreatesDialog() && req.ToTag() == "" {
		if f.EarlyDialog || (code >= 101 && code < 300) {
			localTag = ResponseTag(req)
		}
	}
	return f.ResponseWithTag(req, code, reason, localTag, contact, "", nil)
}

// ResponseWithTag is Response with an explicit local tag and body.
func (f *Factory) ResponseWithTag(req *Message, code StatusCode, reason, localTag string, contact *NameAddress, contentType string, body []byte) *Message {
	resp := NewResponse(code, reason)

	for _, v := range req.GetHeaders(HeaderVia) {
		resp.AddHeader(HeaderVia, v)
	}
	if code >= 180 && code < 300 {
		for _, rr := range req.GetHeaders(HeaderRecordRoute) {
			resp.AddHeader(HeaderRecordRoute, rr)
		}
	}
	if to, err := req.To(); err == nil {
		if localTag != "" {
			to.SetTag(localTag)
		}
		resp.AddHeader(HeaderTo, to.String())
	}
	for _, name := range []string{HeaderFrom, HeaderCallID, HeaderCSeq} {
		if v, ok := req.GetHeader(name); ok {
			resp.AddHeader(name, v)
		}
	}
	if contact != nil {
		resp.AddHeader(HeaderContact, contact.String())
	}
	if f.Server != "" {
		resp.AddHeader(HeaderServer, f.Server)
	}
	resp.SetBody(contentType, body)

	return resp
}

// ResponseTag 同一个请求总是得到相同的 tag
func ResponseTag(req *Message) string {
	branch := ""
	if via, err := req.Via(); err == nil {
		branch = via.Branch()
	}
	cseq, _ := req.GetHeader(HeaderCSeq)
	sum := md5.Sum([]byte(req.CallID() + "|" + req.FromTag() + "|" + branch + "|" + cseq))
	return hex.EncodeToString(sum[:])[:10]
}
