package proxyfleet

import (
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// FleetConfig describes the set of listen IPs to bind and the shared
// dependencies every one of them serves requests through.
type FleetConfig struct {
	Subnets     []string // CIDR ranges expanded into individual listen IPs
	Addresses   []string // explicit listen IPs, in addition to Subnets
	Port        int
	BindConcurrency int // max listeners bound at once; 0 means unlimited
	UDPAssociationLimit int

	Auth     *AuthManager
	Resolver *DNSResolver
}

// Fleet owns one HTTP and one SOCKS5 listener per configured listen IP. All
// listeners are bound before any of them starts accepting connections, so a
// partially-bound fleet never serves traffic on some IPs while still
// failing to come up on others.
type Fleet struct {
	cfg       FleetConfig
	admission *SocketAdmission
}

func NewFleet(cfg FleetConfig) *Fleet {
	return &Fleet{
		cfg:       cfg,
		admission: NewSocketAdmission(cfg.UDPAssociationLimit),
	}
}

type boundListener struct {
	ip   net.IP
	http net.Listener
	sock net.Listener
	err  error
}

// Run binds every listen IP's HTTP and SOCKS5 listeners, then serves all of
// them concurrently until ctx is cancelled. If any IP fails to bind, Run
// returns an error after every other bind attempt has also completed (never
// leaving some goroutines stuck waiting on a barrier that a failed sibling
// will never reach).
func (f *Fleet) Run(ctx context.Context) error {
	ips, err := f.listenIPs()
	if err != nil {
		return err
	}

	results := make([]boundListener, len(ips))
	sem := make(chan struct{}, concurrencyOrUnlimited(f.cfg.BindConcurrency, len(ips)))
	var wg sync.WaitGroup
	var remaining int64 = int64(len(ips))
	release := make(chan struct{}) // closed once every bind attempt has finished

	for i, ip := range ips {
		wg.Add(1)
		go func(i int, ip net.IP) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			httpLn, httpErr := listenTCP(ctx, ip, f.cfg.Port)
			sockLn, sockErr := listenTCP(ctx, ip, f.cfg.Port+1)
			if httpErr != nil {
				results[i].err = httpErr
			} else if sockErr != nil {
				httpLn.Close()
				results[i].err = sockErr
			} else {
				results[i] = boundListener{ip: ip, http: httpLn, sock: sockLn}
			}

			// The barrier is an atomic countdown rather than a WaitGroup
			// that only fires on full success: every attempt, successful or
			// not, decrements it, so a single bind failure can never leave
			// the other goroutines (already bound and waiting) blocked
			// forever waiting for a sibling that will never arrive.
			if atomic.AddInt64(&remaining, -1) == 0 {
				close(release)
			}
		}(i, ip)
	}

	<-release
	wg.Wait()

	var firstErr error
	for _, r := range results {
		if r.err != nil && firstErr == nil {
			firstErr = r.err
		}
	}
	if firstErr != nil {
		for _, r := range results {
			if r.http != nil {
				r.http.Close()
			}
			if r.sock != nil {
				r.sock.Close()
			}
		}
		return errors.Wrap(firstErr, "fleet: bind failed")
	}

	var serveWg sync.WaitGroup
	for _, r := range results {
		r := r
		serveWg.Add(2)
		go func() {
			defer serveWg.Done()
			h := &HTTPHandler{ListenIP: r.ip.String(), Auth: f.cfg.Auth, Resolver: f.cfg.Resolver}
			if err := h.Serve(ctx, r.http); err != nil {
				Log.WithField("listen_ip", r.ip.String()).WithError(err).Warn("http listener stopped")
			}
		}()
		go func() {
			defer serveWg.Done()
			s := &Socks5Handler{ListenIP: r.ip.String(), Auth: f.cfg.Auth, Resolver: f.cfg.Resolver, Admission: f.admission}
			if err := s.Serve(ctx, r.sock); err != nil {
				Log.WithField("listen_ip", r.ip.String()).WithError(err).Warn("socks5 listener stopped")
			}
		}()
	}
	serveWg.Wait()
	return nil
}

func (f *Fleet) listenIPs() ([]net.IP, error) {
	var ips []net.IP
	for _, cidr := range f.cfg.Subnets {
		expanded, err := expandSubnet(cidr)
		if err != nil {
			return nil, err
		}
		ips = append(ips, expanded...)
	}
	for _, addr := range f.cfg.Addresses {
		ip := net.ParseIP(addr)
		if ip == nil {
			return nil, errors.Errorf("fleet: invalid listen address %q", addr)
		}
		ips = append(ips, ip)
	}
	return ips, nil
}

func concurrencyOrUnlimited(n, total int) int {
	if n <= 0 || n > total {
		return total
	}
	return n
}
