package aio

import (
	"net"
	"sync"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/exp/slices"
)

// resolver is the reactor's DNS handle (Reactor.DNSHandle), performing
// hostname lookups off the reactor goroutine and posting their result
// back onto it, the Go analog of the original's evdns-backed resolver.
// Only the lookups ConnectTCP's hostname resolution needs are
// exposed; a full DNS protocol stack is out of scope.
type resolver struct {
	reactor *Reactor
	client  *dns.Client

	mu      sync.Mutex
	servers []string
}

func newResolver(r *Reactor) *resolver {
	return &resolver{
		reactor: r,
		client:  &dns.Client{Timeout: 5 * time.Second},
		servers: defaultNameservers(),
	}
}

func defaultNameservers() []string {
	cfg, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || cfg == nil || len(cfg.Servers) == 0 {
		return []string{"8.8.8.8:53"}
	}
	port := cfg.Port
	if port == "" {
		port = "53"
	}
	out := make([]string, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		out = append(out, net.JoinHostPort(s, port))
	}
	return out
}

// addNameserver registers addr ("host" or "host:port") as the
// highest-priority server consulted by future lookups.
func (res *resolver) addNameserver(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, "53"
	}
	if net.ParseIP(host) == nil {
		return newError(CodeInvalidArgument, "nameserver must be an IP address")
	}
	joined := net.JoinHostPort(host, port)
	res.mu.Lock()
	if i := slices.Index(res.servers, joined); i >= 0 {
		res.servers = slices.Delete(res.servers, i, i+1)
	}
	res.servers = slices.Insert(res.servers, 0, joined)
	res.mu.Unlock()
	return nil
}

func (res *resolver) pickServer() string {
	res.mu.Lock()
	defer res.mu.Unlock()
	if len(res.servers) == 0 {
		return "8.8.8.8:53"
	}
	return res.servers[0]
}

// LookupIPv4 resolves host to its first IPv4 address.
func (res *resolver) LookupIPv4(host string) *Continuation[net.IP] {
	return res.lookup(host, dns.TypeA)
}

// LookupIPv6 resolves host to its first IPv6 address.
func (res *resolver) LookupIPv6(host string) *Continuation[net.IP] {
	return res.lookup(host, dns.TypeAAAA)
}

// Lookup resolves host, preferring an IPv4 result and falling back to
// IPv6, the policy ConnectTCP uses for hostnames.
func (res *resolver) Lookup(host string) *Continuation[net.IP] {
	c, resolve, reject := NewContinuation[net.IP](res.reactor)

	if host == "localhost" {
		resolve(net.IPv4(127, 0, 0, 1))
		return c
	}
	if ip := net.ParseIP(host); ip != nil {
		resolve(ip)
		return c
	}

	go func() {
		server := res.pickServer()
		ip4, err4 := res.exchange(host, dns.TypeA, server)
		if err4 == nil {
			res.reactor.Post(func() { resolve(ip4) })
			return
		}
		ip6, err6 := res.exchange(host, dns.TypeAAAA, server)
		res.reactor.Post(func() {
			if err6 == nil {
				resolve(ip6)
				return
			}
			reject(err4)
		})
	}()
	return c
}

func (res *resolver) lookup(host string, qtype uint16) *Continuation[net.IP] {
	c, resolve, reject := NewContinuation[net.IP](res.reactor)

	if host == "localhost" {
		if qtype == dns.TypeAAAA {
			resolve(net.IPv6loopback)
		} else {
			resolve(net.IPv4(127, 0, 0, 1))
		}
		return c
	}
	if ip := net.ParseIP(host); ip != nil {
		resolve(ip)
		return c
	}

	go func() {
		server := res.pickServer()
		ip, err := res.exchange(host, qtype, server)
		res.reactor.Post(func() {
			if err != nil {
				reject(err)
				return
			}
			resolve(ip)
		})
	}()
	return c
}

func (res *resolver) exchange(host string, qtype uint16, server string) (net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	in, _, err := res.client.Exchange(m, server)
	if err != nil {
		return nil, wrapError(CodeDNS, "dns exchange failed", err)
	}
	for _, rr := range in.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			if qtype == dns.TypeA {
				return rec.A, nil
			}
		case *dns.AAAA:
			if qtype == dns.TypeAAAA {
				return rec.AAAA, nil
			}
		}
	}
	return nil, newError(CodeDNS, "no such host: "+host)
}
