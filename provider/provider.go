package provider

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/zenghr0820/gbsip/config"
	"github.com/zenghr0820/gbsip/logger"
	"github.com/zenghr0820/gbsip/metrics"
	"github.com/zenghr0820/gbsip/scheduler"
	"github.com/zenghr0820/gbsip/sip"
)

var log = logger.Component("provider")

// Listener receives the messages dispatched to the identifier it is bound to.
type Listener interface {
	OnReceivedMessage(msg *sip.Message)
}

type ListenerFunc func(msg *sip.Message)

func (f ListenerFunc) OnReceivedMessage(msg *sip.Message) { f(msg) }

type Option func(*Provider)

func WithTransport(t Transport) Option {
	return func(p *Provider) { p.transport = t }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Provider) { p.metrics = m }
}

// WithResolver resolves domain next hops with r instead of the resolver
// built from dns_server.
func WithResolver(r HostResolver) Option {
	return func(p *Provider) { p.resolver = r }
}

// Provider owns the identifier -> listener registry of one SIP endpoint,
// dispatches inbound messages and sends outbound ones. All dispatch and timer
// work runs on its scheduler.
type Provider struct {
	cfg       config.Config
	sched     scheduler.Scheduler
	transport Transport
	factory   *sip.Factory
	metrics   *metrics.Metrics
	resolver  HostResolver
	lookups   *lookups

	mu        sync.Mutex
	listeners map[sip.Identifier]Listener
	pool      *Pool

	txSeq  atomic.Uint64
	dlgSeq atomic.Uint64
}

func New(cfg config.Config, sched scheduler.Scheduler, opts ...Option) (*Provider, error) {
	cfg.SIP.Transports = append([]string(nil), cfg.SIP.Transports...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, errors.New("provider: scheduler is required")
	}
	if cfg.SIP.ViaAddr == "" {
		cfg.SIP.ViaAddr = localAddress()
	}

	p := &Provider{
		cfg:       cfg,
		sched:     sched,
		listeners: make(map[sip.Identifier]Listener),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.New(nil)
	}
	if p.resolver == nil && cfg.SIP.DNSServer != "" {
		p.resolver = NewResolver(cfg.SIP.DNSServer)
	}
	if p.resolver != nil {
		p.lookups = newLookups()
	}

	pool, err := NewPool(cfg.SIP.MaxConnections, func(n int) { p.metrics.Connections.Set(float64(n)) })
	if err != nil {
		return nil, err
	}
	p.pool = pool

	p.factory = &sip.Factory{
		ViaHost:        cfg.SIP.ViaAddr,
		ViaPort:        cfg.SIP.HostPort,
		Transport:      cfg.SIP.DefaultTransport(),
		Rport:          cfg.SIP.Rport,
		MaxForwards:    cfg.SIP.MaxForwards,
		DefaultExpires: cfg.SIP.DefaultExpires,
		UserAgent:      cfg.SIP.UserAgentInfo(),
		Server:         cfg.SIP.ServerInfo(),
		EarlyDialog:    cfg.SIP.EarlyDialog,
	}

	return p, nil
}

// localAddress 第一个非回环的 IPv4 地址
func localAddress() string {
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

// SetTransport binds the transport once it has been built around this
// provider as its Receiver.
func (p *Provider) SetTransport(t Transport) {
	p.transport = t
}

func (p *Provider) Config() config.Config {
	return p.cfg
}

func (p *Provider) Timers() config.TimerConfig {
	return p.cfg.Timers
}

func (p *Provider) Scheduler() scheduler.Scheduler {
	return p.sched
}

func (p *Provider) Factory() *sip.Factory {
	return p.factory
}

func (p *Provider) Metrics() *metrics.Metrics {
	return p.metrics
}

func (p *Provider) ViaAddr() string {
	return p.cfg.SIP.ViaAddr
}

func (p *Provider) Port() int {
	return p.cfg.SIP.HostPort
}

func (p *Provider) DefaultTransport() string {
	return p.cfg.SIP.DefaultTransport()
}

func (p *Provider) Pool() *Pool {
	return p.pool
}

func (p *Provider) Credentials() sip.Credentials {
	return sip.Credentials{Username: p.cfg.Auth.Username, Password: p.cfg.Auth.Password}
}

func (p *Provider) NextTransactionSeq() uint64 {
	return p.txSeq.Add(1)
}

func (p *Provider) NextDialogSeq() uint64 {
	return p.dlgSeq.Add(1)
}

func (p *Provider) PickBranch() string {
	return sip.GenerateBranch()
}

func (p *Provider) PickTag() string {
	return sip.GenerateTag()
}

func (p *Provider) PickCallID() string {
	return sip.GenerateCallID()
}

func (p *Provider) PickInitialCSeq() uint32 {
	return sip.InitialCSeq
}

func (p *Provider) PickResponseTag(req *sip.Message) string {
	return sip.ResponseTag(req)
}

// Reliable reports whether proto retransmits by itself.
func (p *Provider) Reliable(proto string) bool {
	if p.transport != nil {
		return p.transport.Reliable(proto)
	}
	return sip.IsReliable(proto)
}

// ---- registry ----

// AddListener binds l to id. It returns false, and leaves the existing
// binding untouched, when id is already bound.
func (p *Provider) AddListener(id sip.Identifier, l Listener) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.listeners[id]; ok {
		log.Warnf("listener %s already bound", id)
		return false
	}
	p.listeners[id] = l
	p.metrics.Listeners.Set(float64(len(p.listeners)))
	log.Debugf("listener %s added, %d bound", id, len(p.listeners))
	return true
}

func (p *Provider) RemoveListener(id sip.Identifier) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.listeners[id]; !ok {
		return false
	}
	delete(p.listeners, id)
	p.metrics.Listeners.Set(float64(len(p.listeners)))
	log.Debugf("listener %s removed, %d bound", id, len(p.listeners))
	return true
}

func (p *Provider) Listener(id sip.Identifier) (Listener, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.listeners[id]
	return l, ok
}

func (p *Provider) HasListener(id sip.Identifier) bool {
	_, ok := p.Listener(id)
	return ok
}

func (p *Provider) ListenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// ---- inbound ----

// OnReceivedBytes hands raw bytes from the transport to the provider's
// execution context.
func (p *Provider) OnReceivedBytes(data []byte, host string, port int, proto string, conn Connection) {
	buf := append([]byte(nil), data...)
	p.sched.Post(func() {
		p.receive(buf, host, port, proto, conn)
	})
}

func (p *Provider) OnConnectionClosed(id sip.Identifier, err error) {
	p.sched.Post(func() {
		if err != nil {
			log.Infof("connection %s closed: %v", id, err)
		} else {
			log.Debugf("connection %s closed", id)
		}
		p.pool.Remove(id)
	})
}

func (p *Provider) receive(data []byte, host string, port int, proto string, conn Connection) {
	if !sip.IsSIPMessage(data) {
		if len(data) > 4 {
			log.Debugf("not a SIP message from %s:%d, discarded", host, port)
		}
		return
	}

	msg, err := sip.Parse(data)
	if err != nil {
		p.metrics.ParseErrors.Inc()
		log.Warnf("discard message from %s:%d/%s: %v", host, port, proto, err)
		return
	}

	msg.Transport = strings.ToLower(proto)
	msg.RemoteAddr = host
	msg.RemotePort = port
	if conn != nil {
		msg.ConnectionID = conn.ID()
		if !p.pool.Contains(conn.ID()) {
			p.pool.Add(conn)
		}
	}

	p.metrics.MessagesReceived.WithLabelValues(kindOf(msg)).Inc()
	log.Debugf("received %d bytes from %s:%d/%s: %s", len(data), host, port, proto, msg.Short())

	p.Dispatch(msg)
}

func kindOf(msg *sip.Message) string {
	return metrics.MessageKind(msg.IsRequest(), string(msg.Method()), int(msg.StatusCode()))
}

// stampVia records the observed source address on the top Via of a request.
func (p *Provider) stampVia(msg *sip.Message) {
	via, err := msg.Via()
	if err != nil {
		return
	}

	changed := false
	if via.Host != msg.RemoteAddr {
		via.SetReceived(msg.RemoteAddr)
		changed = true
	}

	viaPort := via.Port
	if viaPort <= 0 {
		viaPort = sip.DefaultPort
	}
	if via.HasRport() {
		via.SetRport(msg.RemotePort)
		changed = true
	} else if p.cfg.SIP.ForceRport && viaPort != msg.RemotePort {
		via.SetRport(msg.RemotePort)
		changed = true
	}

	if changed {
		msg.SetTopVia(via)
	}
}

// Dispatch routes msg to the first bound listener in the order transaction,
// dialog, method+user, method, default. Responses skip the method lookups.
func (p *Provider) Dispatch(msg *sip.Message) bool {
	if msg.IsRequest() && msg.RemoteAddr != "" {
		p.stampVia(msg)
	}

	keys := []sip.Identifier{msg.TransactionID(), msg.DialogID()}
	if msg.IsRequest() {
		keys = append(keys, msg.UserMethodID(), msg.MethodID())
	}
	keys = append(keys, sip.AnyIdentifier)

	for _, key := range keys {
		if key.IsZero() {
			continue
		}
		if l, ok := p.Listener(key); ok {
			log.Debugf("message passed to %s", key)
			l.OnReceivedMessage(msg)
			return true
		}
	}

	log.Infof("no listener for %s, discarded", msg.Short())
	return false
}

// ---- outbound ----

// Destination selects where msg goes. Requests: outbound proxy, then a loose
// route, then the request-URI (maddr/ttl copied into the Via). Responses: Via
// received/rport, then the Via sent-by.
func (p *Provider) Destination(msg *sip.Message) (proto, host string, port int, err error) {
	via, viaErr := msg.Via()
	if viaErr == nil {
		proto = strings.ToLower(via.Transport)
	} else {
		proto = p.DefaultTransport()
	}

	if msg.IsResponse() {
		if viaErr != nil {
			return "", "", 0, viaErr
		}
		host = via.Host
		if received, ok := via.Received(); ok {
			host = received
		}
		if via.HasRport() {
			port = via.Rport()
		}
		if port <= 0 {
			port = via.Port
		}
		if port <= 0 {
			port = sip.DefaultPort
		}
		return proto, host, port, nil
	}

	if h, pt, ok := p.cfg.SIP.Outbound(); ok {
		return proto, h, pt, nil
	}

	routes, _ := msg.Routes()
	if len(routes) > 0 && routes[0].URI.HasLr() {
		return proto, routes[0].URI.Host, routes[0].URI.Port, nil
	}

	uri := msg.RequestURI()
	if uri == nil {
		return "", "", 0, errors.New("request without request-uri")
	}
	host, port = uri.Host, uri.Port
	if maddr, ok := uri.Maddr(); ok && maddr != "" && viaErr == nil {
		host = maddr
		via.SetMaddr(maddr)
		if ttl := uri.TTL(); ttl > 0 {
			via.SetTTL(ttl)
		}
		msg.SetTopVia(via)
	}

	return proto, host, port, nil
}

// SendMessage sends msg to the destination computed by Destination. The
// returned identifier is the connection used, zero for datagrams.
func (p *Provider) SendMessage(msg *sip.Message) (sip.Identifier, error) {
	proto, host, port, err := p.Destination(msg)
	if err != nil {
		return sip.Identifier{}, err
	}
	return p.SendMessageTo(msg, proto, host, port)
}

// SendMessageTo sends msg to an explicit next hop. A domain host that is
// not resolved yet queues msg behind its lookup: the send happens later on
// the scheduler and the zero identifier is returned.
func (p *Provider) SendMessageTo(msg *sip.Message, proto, host string, port int) (sip.Identifier, error) {
	if p.transport == nil {
		return sip.Identifier{}, errors.New("provider: no transport")
	}

	proto = strings.ToLower(proto)
	if p.resolver != nil && net.ParseIP(strings.Trim(host, "[]")) == nil {
		target, ok, err := p.lookup(msg, proto, host, port)
		if err != nil || !ok {
			return sip.Identifier{}, err
		}
		host, port = target.Host, target.Port
	}
	return p.deliver(msg, msg.Bytes(), proto, host, port)
}

func (p *Provider) deliver(msg *sip.Message, data []byte, proto, host string, port int) (sip.Identifier, error) {
	if p.transport == nil {
		return sip.Identifier{}, errors.New("provider: no transport")
	}
	if port <= 0 {
		port = sip.DefaultPort
	}

	if p.Reliable(proto) {
		id := sip.ConnectionIdentifier(proto, host, port)
		if conn, ok := p.pool.Get(id); ok {
			err := conn.Write(data)
			if err == nil {
				p.sent(msg, proto, host, port, len(data))
				return conn.ID(), nil
			}
			log.Warnf("write on %s failed: %v", id, err)
			p.pool.Remove(id)
		}
	}

	conn, err := p.transport.Send(data, host, port, proto)
	if err != nil {
		return sip.Identifier{}, errors.Wrapf(err, "send to %s", net.JoinHostPort(host, strconv.Itoa(port)))
	}
	p.sent(msg, proto, host, port, len(data))
	if conn != nil {
		p.pool.Add(conn)
		return conn.ID(), nil
	}

	return sip.Identifier{}, nil
}

// SendOnConnection sends msg on a pooled connection, falling back to
// SendMessage when the connection is gone.
func (p *Provider) SendOnConnection(msg *sip.Message, id sip.Identifier) (sip.Identifier, error) {
	if !id.IsZero() {
		if conn, ok := p.pool.Get(id); ok {
			data := msg.Bytes()
			err := conn.Write(data)
			if err == nil {
				p.sent(msg, "conn", id.String(), 0, len(data))
				return id, nil
			}
			log.Warnf("write on %s failed: %v", id, err)
			p.pool.Remove(id)
		}
	}
	return p.SendMessage(msg)
}

func (p *Provider) sent(msg *sip.Message, proto, host string, port, n int) {
	p.metrics.MessagesSent.WithLabelValues(kindOf(msg)).Inc()
	log.Debugf("sent %d bytes to %s:%d/%s: %s", n, host, port, proto, msg.Short())
}

// ---- helpers ----

// CompleteNameAddress turns a bare user name into sip:user@proxy-or-via; any
// other input is parsed as a name-address.
func (p *Provider) CompleteNameAddress(s string) (*sip.NameAddress, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "sip:") || strings.ContainsAny(s, "<@.:") {
		if !strings.Contains(s, ":") {
			s = "sip:" + s
		}
		return sip.ParseNameAddress(s)
	}

	if host, port, ok := p.cfg.SIP.Outbound(); ok {
		if port == sip.DefaultPort {
			port = 0
		}
		return sip.NewNameAddress(sip.NewURI(s, host, port)), nil
	}
	port := p.Port()
	if port == sip.DefaultPort {
		port = 0
	}
	return sip.NewNameAddress(sip.NewURI(s, p.ViaAddr(), port)), nil
}

// BuildContact 本地 contact 地址
func (p *Provider) BuildContact(user string) *sip.NameAddress {
	uri := sip.NewURI(user, p.ViaAddr(), p.Port())
	if t := p.DefaultTransport(); t != sip.DefaultProto {
		uri.Params.Set("transport", t)
	}
	return sip.NewNameAddress(uri)
}

// Halt drops every listener and closes the pooled connections.
func (p *Provider) Halt() {
	if p.lookups != nil {
		p.lookups.cancel()
	}
	p.mu.Lock()
	p.listeners = make(map[sip.Identifier]Listener)
	p.metrics.Listeners.Set(0)
	p.mu.Unlock()
	p.pool.Purge()
}
