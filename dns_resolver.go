package proxyfleet

import (
	"context"
	"expvar"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/pkg/errors"
)

var ErrNoSuchHost = errors.New("dns: no such host")

// DNSResolverOptions configures the DNSResolver.
type DNSResolverOptions struct {
	// Upstream system resolver address, e.g. "127.0.0.53:53".
	Upstream string

	// Bounded entry cache size. 0 means unlimited.
	MaxCacheSize int

	// Per-query resolution timeout.
	ResolutionTimeout time.Duration
}

// DNSResolver resolves a host/port pair to a single socket address. Literal
// IPs are synthesized without a network round-trip; everything else is
// queried against the configured upstream with a bounded cache, the EDNS0
// authentic-data bit set, and the hosts file bypassed. Built directly on
// github.com/miekg/dns rather than net.Resolver because net.Resolver cannot
// express the AD bit this resolver needs to surface.
type DNSResolver struct {
	opt   DNSResolverOptions
	cache *AuthCache // reused as a generic bounded/TTL string cache; see dnsCacheTTL
	stats dnsStats
}

// dnsCacheTTL is a fixed short TTL for resolved addresses. A conservative
// fixed value is used rather than trusting the upstream's possibly-long
// record TTL for a forward proxy's outbound dials.
const dnsCacheTTL = 30 * time.Second

type dnsStats struct {
	hits   *expvar.Int
	misses *expvar.Int
	errors *expvar.Int
}

func NewDNSResolver(opt DNSResolverOptions) *DNSResolver {
	return &DNSResolver{
		opt:   opt,
		cache: NewAuthCache(opt.MaxCacheSize, dnsCacheTTL),
		stats: dnsStats{
			hits:   getVarInt("dns", opt.Upstream, "hits"),
			misses: getVarInt("dns", opt.Upstream, "misses"),
			errors: getVarInt("dns", opt.Upstream, "errors"),
		},
	}
}

// Resolve returns a single socket address for host:port. If host parses as
// a literal IPv4/IPv6 address, it's used directly with no lookup.
func (r *DNSResolver) Resolve(ctx context.Context, host string, port int) (*net.TCPAddr, error) {
	if ip := net.ParseIP(host); ip != nil {
		return &net.TCPAddr{IP: ip, Port: port}, nil
	}

	if cached := r.cache.Get(host); cached != nil {
		r.stats.hits.Add(1)
		ip := net.ParseIP(cached.Username) // see cacheEntryForIP below
		return &net.TCPAddr{IP: ip, Port: port}, nil
	}
	r.stats.misses.Add(1)

	ip, err := r.lookup(ctx, host)
	if err != nil {
		r.stats.errors.Add(1)
		return nil, err
	}
	r.cache.InsertEntry(host, cacheEntryForIP(ip))
	return &net.TCPAddr{IP: ip, Port: port}, nil
}

// cacheEntryForIP stuffs a resolved IP into a CacheEntry's Username field so
// the resolver can reuse AuthCache's bounded/TTL map instead of hand-rolling
// a second one. The Expiration/UseCredentials/Whitelist fields are unused
// for this purpose.
func cacheEntryForIP(ip net.IP) *CacheEntry {
	return &CacheEntry{Username: ip.String(), Expiration: time.Now().Add(dnsCacheTTL)}
}

var clientPool = sync.Pool{
	New: func() any { return new(dns.Client) },
}

func (r *DNSResolver) lookup(ctx context.Context, host string) (net.IP, error) {
	timeout := r.opt.ResolutionTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	c := clientPool.Get().(*dns.Client)
	defer clientPool.Put(c)
	c.Timeout = timeout
	c.Net = "udp"

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.RecursionDesired = true
	// A plain recursive query against the configured upstream never
	// consults /etc/hosts, and requesting the AD bit surfaces whether the
	// upstream validated DNSSEC without this resolver doing validation
	// itself.
	opt := m.SetEdns0(4096, false)
	opt.SetDo(false)
	m.AuthenticatedData = true

	resp, _, err := c.ExchangeContext(ctx, m, r.opt.Upstream)
	if err != nil {
		return nil, errors.Wrapf(err, "dns: query %s", host)
	}
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A, nil
		}
		if aaaa, ok := rr.(*dns.AAAA); ok {
			return aaaa.AAAA, nil
		}
	}
	return nil, errors.Wrapf(ErrNoSuchHost, "%s", host)
}

// splitHostPort parses "host:port", defaulting port when absent, used by
// the HTTP request parser to derive the target it later passes to Resolve.
func splitHostPort(hostport string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defaultPort
	}
	return host, port
}
