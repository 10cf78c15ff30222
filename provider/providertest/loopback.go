// Package providertest wires providers together in memory.
package providertest

import (
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/zenghr0820/gbsip/provider"
	"github.com/zenghr0820/gbsip/sip"
)

type Packet struct {
	From  string
	To    string
	Proto string
	Data  []byte
}

// Message parses the packet, nil when it is not a SIP message.
func (p Packet) Message() *sip.Message {
	msg, err := sip.Parse(p.Data)
	if err != nil {
		return nil
	}
	return msg
}

// Network delivers every packet synchronously to the endpoint bound at the
// destination address and records it.
type Network struct {
	mu        sync.Mutex
	endpoints map[string]*Endpoint
	packets   []Packet

	// Drop, when set, discards matching packets after they are recorded.
	Drop func(Packet) bool
}

func NewNetwork() *Network {
	return &Network{endpoints: make(map[string]*Endpoint)}
}

func addr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Endpoint registers a transport at host:port.
func (n *Network) Endpoint(host string, port int) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()

	e := &Endpoint{network: n, host: host, port: port}
	n.endpoints[addr(host, port)] = e
	return e
}

// Packets returns what was sent so far.
func (n *Network) Packets() []Packet {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Packet(nil), n.packets...)
}

// Messages returns the parsed packets sent from host:port whose start line
// contains filter.
func (n *Network) Messages(from string, filter string) []*sip.Message {
	var out []*sip.Message
	for _, p := range n.Packets() {
		if from != "" && p.From != from {
			continue
		}
		msg := p.Message()
		if msg == nil || !strings.Contains(msg.StartLine(), filter) {
			continue
		}
		out = append(out, msg)
	}
	return out
}

func (n *Network) Reset() {
	n.mu.Lock()
	n.packets = nil
	n.mu.Unlock()
}

func (n *Network) deliver(from *Endpoint, data []byte, host string, port int, proto string) (*Endpoint, bool) {
	pkt := Packet{From: from.Addr(), To: addr(host, port), Proto: proto, Data: append([]byte(nil), data...)}

	n.mu.Lock()
	n.packets = append(n.packets, pkt)
	drop := n.Drop
	to := n.endpoints[pkt.To]
	n.mu.Unlock()

	if drop != nil && drop(pkt) {
		return to, false
	}
	return to, to != nil
}

type Endpoint struct {
	network  *Network
	host     string
	port     int
	receiver provider.Receiver
}

func (e *Endpoint) Addr() string {
	return addr(e.host, e.port)
}

func (e *Endpoint) Bind(r provider.Receiver) {
	e.receiver = r
}

func (e *Endpoint) Reliable(proto string) bool {
	return sip.IsReliable(proto)
}

func (e *Endpoint) Send(data []byte, host string, port int, proto string) (provider.Connection, error) {
	proto = strings.ToLower(proto)
	to, ok := e.network.deliver(e, data, host, port, proto)
	if to == nil {
		if sip.IsReliable(proto) {
			return nil, errors.Errorf("connect %s: connection refused", addr(host, port))
		}
		return nil, nil
	}
	if !sip.IsReliable(proto) {
		if ok && to.receiver != nil {
			to.receiver.OnReceivedBytes(data, e.host, e.port, proto, nil)
		}
		return nil, nil
	}

	local := &conn{from: e, to: to, proto: proto}
	if ok && to.receiver != nil {
		to.receiver.OnReceivedBytes(data, e.host, e.port, proto, &conn{from: to, to: e, proto: proto})
	}
	return local, nil
}

// conn is one side of a stream between two endpoints.
type conn struct {
	from   *Endpoint
	to     *Endpoint
	proto  string
	closed bool
}

func (c *conn) ID() sip.Identifier {
	return sip.ConnectionIdentifier(c.proto, c.to.host, c.to.port)
}

func (c *conn) Write(data []byte) error {
	if c.closed {
		return errors.New("use of closed connection")
	}
	_, ok := c.from.network.deliver(c.from, data, c.to.host, c.to.port, c.proto)
	if ok && c.to.receiver != nil {
		c.to.receiver.OnReceivedBytes(data, c.from.host, c.from.port, c.proto, &conn{from: c.to, to: c.from, proto: c.proto})
	}
	return nil
}

func (c *conn) Close() error {
	c.closed = true
	return nil
}
