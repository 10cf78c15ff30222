package provider

import (
	"context"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

const resolverTimeout = 2 * time.Second

// Target 解析后的下一跳
type Target struct {
	Host string
	Port int
}

// HostResolver turns a domain next hop into an address. Resolve may block;
// the provider never calls it on its scheduler.
type HostResolver interface {
	Resolve(ctx context.Context, host string, port int, proto string) (Target, error)
}

// Resolver locates SIP servers (RFC 3263): a _sip._<proto> SRV lookup when
// no port is given, then an A lookup of the chosen target.
type Resolver struct {
	server string
	client *dns.Client
}

func NewResolver(server string) *Resolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &Resolver{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: resolverTimeout},
	}
}

// Resolve returns an address for host. port <= 0 asks for SRV; a zero port in
// the result means the caller picks the default.
func (r *Resolver) Resolve(ctx context.Context, host string, port int, proto string) (Target, error) {
	if net.ParseIP(strings.Trim(host, "[]")) != nil {
		return Target{Host: host, Port: port}, nil
	}

	target := Target{Host: host, Port: port}
	if port <= 0 {
		if srv, err := r.lookupSRV(ctx, host, proto); err == nil {
			target = srv
		} else {
			log.Debugf("no SRV for %s: %v", host, err)
		}
	}

	addr, err := r.lookupA(ctx, target.Host)
	if err != nil {
		return Target{}, err
	}
	target.Host = addr
	return target, nil
}

func (r *Resolver) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, m, r.server)
	if err != nil {
		return nil, errors.Wrapf(err, "dns query %s", name)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, errors.Errorf("dns query %s: %s", name, dns.RcodeToString[in.Rcode])
	}
	return in, nil
}

func (r *Resolver) lookupSRV(ctx context.Context, host, proto string) (Target, error) {
	in, err := r.exchange(ctx, "_sip._"+strings.ToLower(proto)+"."+host, dns.TypeSRV)
	if err != nil {
		return Target{}, err
	}

	var records []*dns.SRV
	for _, rr := range in.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			records = append(records, srv)
		}
	}
	if len(records) == 0 {
		return Target{}, errors.Errorf("no SRV record for %s", host)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Priority != records[j].Priority {
			return records[i].Priority < records[j].Priority
		}
		return records[i].Weight > records[j].Weight
	})
	best := records[0]

	return Target{Host: strings.TrimSuffix(best.Target, "."), Port: int(best.Port)}, nil
}

func (r *Resolver) lookupA(ctx context.Context, host string) (string, error) {
	in, err := r.exchange(ctx, host, dns.TypeA)
	if err != nil {
		return "", err
	}
	for _, rr := range in.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A.String(), nil
		}
	}
	return "", errors.Errorf("no A record for %s", host)
}
