package sip

import (
	"fmt"
	"strconv"
	"strings"
)

// ViaHop Via 头部中的一跳
type ViaHop struct {
	ProtocolName    string
	ProtocolVersion string
	Transport       string
	Host            string
	Port            int
	Params          Params
}

func NewViaHop(transport, host string, port int) *ViaHop {
	return &ViaHop{
		ProtocolName:    "SIP",
		ProtocolVersion: "2.0",
		Transport:       strings.ToUpper(transport),
		Host:            host,
		Port:            port,
	}
}

// ParseVia parses one Via header line, which may carry several hops.
func ParseVia(value string) ([]*ViaHop, error) {
	var hops []*ViaHop
	for _, part := range SplitList(value) {
		hop, err := ParseViaHop(part)
		if err != nil {
			return nil, err
		}
		hops = append(hops, hop)
	}
	if len(hops) == 0 {
		return nil, fmt.Errorf("empty Via")
	}
	return hops, nil
}

func ParseViaHop(s string) (*ViaHop, error) {
	s = strings.TrimSpace(s)
	sentBy := s
	hop := new(ViaHop)
	if i := strings.IndexByte(s, ';'); i >= 0 {
		sentBy = s[:i]
		hop.Params = ParseParams(s[i+1:], ';')
	}

	fields := strings.Fields(sentBy)
	if len(fields) != 2 {
		return nil, fmt.Errorf("invalid Via %q", s)
	}
	proto := strings.Split(fields[0], "/")
	if len(proto) != 3 {
		return nil, fmt.Errorf("invalid Via protocol %q", fields[0])
	}
	hop.ProtocolName = strings.TrimSpace(proto[0])
	hop.ProtocolVersion = strings.TrimSpace(proto[1])
	hop.Transport = strings.ToUpper(strings.TrimSpace(proto[2]))

	host, port, err := splitHostPort(fields[1])
	if err != nil {
		return nil, fmt.Errorf("invalid Via sent-by %q: %w", fields[1], err)
	}
	hop.Host, hop.Port = host, port

	return hop, nil
}

func (hop *ViaHop) SentBy() string {
	if hop.Port > 0 {
		return hop.Host + ":" + strconv.Itoa(hop.Port)
	}
	return hop.Host
}

func (hop *ViaHop) String() string {
	return fmt.Sprintf("%s/%s/%s %s%s",
		hop.ProtocolName, hop.ProtocolVersion, hop.Transport, hop.SentBy(), hop.Params.ToString(';'))
}

func (hop *ViaHop) Clone() *ViaHop {
	out := *hop
	out.Params = hop.Params.Clone()
	return &out
}

func (hop *ViaHop) Branch() string {
	v, _ := hop.Params.Get("branch")
	return v
}

func (hop *ViaHop) SetBranch(branch string) {
	hop.Params.Set("branch", branch)
}

func (hop *ViaHop) Received() (string, bool) {
	v, ok := hop.Params.Get("received")
	return v, ok && v != ""
}

func (hop *ViaHop) SetReceived(addr string) {
	hop.Params.Set("received", addr)
}

func (hop *ViaHop) HasRport() bool {
	return hop.Params.Has("rport")
}

// Rport 返回 rport 的值, 只有 flag 没有值时为 0
func (hop *ViaHop) Rport() int {
	v, _ := hop.Params.Get("rport")
	n, _ := strconv.Atoi(v)
	return n
}

// SetRport sets ";rport=port", or the bare ";rport" flag when port <= 0.
func (hop *ViaHop) SetRport(port int) {
	if port <= 0 {
		hop.Params.SetFlag("rport")
		return
	}
	hop.Params.Set("rport", strconv.Itoa(port))
}

func (hop *ViaHop) SetMaddr(addr string) {
	hop.Params.Set("maddr", addr)
}

func (hop *ViaHop) SetTTL(ttl int) {
	hop.Params.Set("ttl", strconv.Itoa(ttl))
}
