package domaincheck

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DefaultResolvConf is where nameservers are read from by default.
const DefaultResolvConf = "/etc/resolv.conf"

// maxCNAMEHops bounds how many CNAME indirections are followed when a
// nameserver answers with an alias but no address.
const maxCNAMEHops = 8

// Resolution errors.
var (
	ErrNXDomain  = errors.New("domain does not exist")
	ErrNoAddress = errors.New("no address records")
)

// Resolver resolves a hostname to its addresses.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// DNSResolver queries nameservers directly with miekg/dns.
type DNSResolver struct {
	Servers []string // host:port
	udp     *dns.Client
	tcp     *dns.Client
}

// NewDNSResolver creates a resolver for the given nameservers. Servers
// without a port default to 53.
func NewDNSResolver(servers []string, timeout time.Duration) *DNSResolver {
	addrs := make([]string, 0, len(servers))
	for _, s := range servers {
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		addrs = append(addrs, s)
	}
	return &DNSResolver{
		Servers: addrs,
		udp:     &dns.Client{Net: "udp", Timeout: timeout},
		tcp:     &dns.Client{Net: "tcp", Timeout: timeout},
	}
}

// NewDNSResolverFromFile creates a resolver using the nameservers listed in
// a resolv.conf style file.
func NewDNSResolverFromFile(path string, timeout time.Duration) (*DNSResolver, error) {
	cc, err := dns.ClientConfigFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(cc.Servers) == 0 {
		return nil, fmt.Errorf("no nameservers in %s", path)
	}
	servers := make([]string, 0, len(cc.Servers))
	for _, s := range cc.Servers {
		servers = append(servers, net.JoinHostPort(s, cc.Port))
	}
	return NewDNSResolver(servers, timeout), nil
}

// LookupHost returns the A records of host, or its AAAA records when it has
// no IPv4 address.
func (r *DNSResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		addrs, err := r.lookup(ctx, dns.Fqdn(host), qtype)
		if errors.Is(err, ErrNXDomain) {
			return nil, err
		}
		if err != nil {
			lastErr = err
			continue
		}
		if len(addrs) > 0 {
			return addrs, nil
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w for %s", ErrNoAddress, host)
}

func (r *DNSResolver) lookup(ctx context.Context, name string, qtype uint16) ([]string, error) {
	for hop := 0; hop < maxCNAMEHops; hop++ {
		in, err := r.exchange(ctx, name, qtype)
		if err != nil {
			return nil, err
		}
		switch in.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			return nil, fmt.Errorf("%w: %s", ErrNXDomain, strings.TrimSuffix(name, "."))
		default:
			return nil, fmt.Errorf("dns %s for %s", dns.RcodeToString[in.Rcode], name)
		}

		var addrs []string
		var alias string
		for _, rr := range in.Answer {
			switch v := rr.(type) {
			case *dns.A:
				addrs = append(addrs, v.A.String())
			case *dns.AAAA:
				addrs = append(addrs, v.AAAA.String())
			case *dns.CNAME:
				alias = v.Target
			}
		}
		if len(addrs) > 0 || alias == "" {
			return addrs, nil
		}
		name = alias
	}
	return nil, fmt.Errorf("too many CNAME hops for %s", name)
}

func (r *DNSResolver) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	if len(r.Servers) == 0 {
		return nil, errors.New("no nameservers configured")
	}

	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.Servers {
		in, _, err := r.udp.ExchangeContext(ctx, m, server)
		if err == nil && in.Truncated {
			in, _, err = r.tcp.ExchangeContext(ctx, m, server)
		}
		if err != nil {
			lastErr = err
			continue
		}
		return in, nil
	}
	return nil, fmt.Errorf("query %s %s: %w", dns.TypeToString[qtype], name, lastErr)
}

// SystemResolver uses the operating system resolver.
type SystemResolver struct {
	Timeout time.Duration
}

// LookupHost resolves host with net.DefaultResolver.
func (r SystemResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNXDomain, host)
		}
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoAddress, host)
	}
	return addrs, nil
}
