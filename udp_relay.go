package proxyfleet

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// udpAssocTTL is how long a UDP association may sit idle before it is torn
// down, independent of whether its control (TCP) channel is still open.
const udpAssocTTL = 60 * time.Second

// Association lifecycle states, tracked alongside closeOnce purely for
// logging/introspection — the sync.Once, not this value, is what makes
// teardown happen exactly once.
const (
	assocActive int32 = iota
	assocClosing
	assocClosed
)

// udpAssociation is one SOCKS5 UDP ASSOCIATE session: a single local
// UDP socket relaying datagrams between one authenticated client and
// whatever upstream hosts it addresses, with the client's source IP pinned
// to the address of the TCP control channel that established it, across the
// lifetime of the association.
type udpAssociation struct {
	admission *SocketAdmission
	conn      net.PacketConn
	listenIP  net.IP
	resolver  *DNSResolver

	clientIP net.IP // fixed at creation, from the TCP control channel's peer

	clientAddr   net.Addr // updated from every client datagram whose header decodes
	clientAddrMu sync.Mutex

	mu      sync.Mutex
	targets map[string]struct{} // upstream host:port this association has sent to
	lastUse time.Time

	closeOnce sync.Once
	state     int32
	done      chan struct{}
}

// newUDPAssociation opens a UDP socket bound to listenIP and admits it
// against admission. clientIP anchors the association's client affinity to
// the TCP control channel's peer, not to whichever address first sends it a
// datagram. Returns ErrSocksSocketLimitReached if the fleet-wide ceiling is
// already reached.
func newUDPAssociation(ctx context.Context, listenIP, clientIP net.IP, admission *SocketAdmission, resolver *DNSResolver) (*udpAssociation, error) {
	if !admission.TryAcquire() {
		return nil, ErrSocksSocketLimitReached
	}
	conn, err := listenUDP(ctx, listenIP, 0)
	if err != nil {
		admission.Release()
		return nil, err
	}
	a := &udpAssociation{
		admission: admission,
		conn:      conn,
		listenIP:  listenIP,
		resolver:  resolver,
		clientIP:  clientIP,
		targets:   make(map[string]struct{}),
		lastUse:   time.Now(),
		done:      make(chan struct{}),
	}
	return a, nil
}

// LocalAddr returns the address the client should send its datagrams to.
func (a *udpAssociation) LocalAddr() net.Addr {
	return a.conn.LocalAddr()
}

// run services the association until it is closed, the control channel
// closes (signalled by ctxControl being cancelled), it goes idle past
// udpAssocTTL, or a client-affinity violation occurs. Exactly one of those
// paths performs the teardown; whichever gets there first wins, and the
// admission slot is released exactly once regardless of which path triggers
// it.
func (a *udpAssociation) run(ctxControl context.Context) {
	go a.idleWatcher()
	go func() {
		select {
		case <-ctxControl.Done():
			a.closeReason(nil)
		case <-a.done:
		}
	}()

	buf := make([]byte, 65535)
	for {
		a.conn.SetReadDeadline(time.Now().Add(udpAssocTTL))
		n, src, err := a.conn.ReadFrom(buf)
		if err != nil {
			var reason error
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				reason = ErrSocksSocketTTL
			}
			a.closeReason(reason)
			return
		}
		a.touch()

		if addrIP(src).Equal(a.clientIP) {
			a.handleFromClient(ctxControl, buf[:n], src)
			continue
		}
		if a.isKnownTarget(src) {
			a.handleFromTarget(payloadCopy(buf[:n]), src)
			continue
		}
		// A datagram from neither the fixed client IP nor a previously
		// addressed target violates the client-affinity invariant and is
		// fatal to the association, not merely dropped.
		a.closeReason(ErrSocksSrcAddrMismatch)
		return
	}
}

func (a *udpAssociation) isKnownTarget(src net.Addr) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.targets[src.String()]
	return ok
}

func payloadCopy(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// handleFromClient strips the SOCKS5 UDP request header, resolving the
// destination (literal address or DNS domain) through the shared resolver,
// learns the target and client addresses, and forwards the payload.
func (a *udpAssociation) handleFromClient(ctx context.Context, datagram []byte, client net.Addr) {
	target, payload, err := decodeUDPHeader(ctx, a.resolver, datagram)
	if err != nil {
		Log.WithField("listen_ip", a.listenIP.String()).WithError(err).Warn("udp association: datagram dropped")
		return
	}
	a.clientAddrMu.Lock()
	a.clientAddr = client
	a.clientAddrMu.Unlock()

	a.mu.Lock()
	a.targets[target.String()] = struct{}{}
	a.mu.Unlock()

	// a.conn is already bound to the tenant's listen IP, so the outbound
	// source address is pinned without a separate dial.
	if _, err := a.conn.WriteTo(payload, target); err != nil {
		a.closeReason(err)
	}
}

// handleFromTarget re-wraps the payload in a SOCKS5 UDP header and forwards
// it to the learned client address, refusing to do so if the cached client
// address's IP no longer matches the association's fixed client IP.
func (a *udpAssociation) handleFromTarget(payload []byte, target net.Addr) {
	a.clientAddrMu.Lock()
	client := a.clientAddr
	a.clientAddrMu.Unlock()
	if client == nil {
		return
	}
	if !addrIP(client).Equal(a.clientIP) {
		a.closeReason(ErrSocksSrcAddrMismatch)
		return
	}
	datagram, err := encodeUDPHeader(target, payload)
	if err != nil {
		return
	}
	if _, err := a.conn.WriteTo(datagram, client); err != nil {
		a.closeReason(err)
	}
}

func (a *udpAssociation) touch() {
	a.mu.Lock()
	a.lastUse = time.Now()
	a.mu.Unlock()
}

func (a *udpAssociation) idleWatcher() {
	ticker := time.NewTicker(udpAssocTTL / 4)
	defer ticker.Stop()
	for {
		select {
		case <-a.done:
			return
		case <-ticker.C:
			a.mu.Lock()
			idle := time.Since(a.lastUse)
			a.mu.Unlock()
			if idle > udpAssocTTL {
				a.closeReason(ErrSocksSocketTTL)
				return
			}
		}
	}
}

// Close tears down the association, as triggered by the control channel
// closing normally.
func (a *udpAssociation) Close() {
	a.closeReason(nil)
}

// closeReason tears down the association exactly once, releasing its
// admission slot regardless of which caller (idle watcher, control-channel
// closure, a read error, or an affinity violation) triggers it. reason is
// nil for ordinary control-channel closure and logged otherwise.
func (a *udpAssociation) closeReason(reason error) {
	atomic.CompareAndSwapInt32(&a.state, assocActive, assocClosing)
	a.closeOnce.Do(func() {
		if reason != nil {
			Log.WithField("listen_ip", a.listenIP.String()).WithError(reason).Warn("udp association torn down")
		}
		a.conn.Close()
		a.admission.Release()
		close(a.done)
		atomic.StoreInt32(&a.state, assocClosed)
	})
}

// decodeUDPHeader strips a SOCKS5 UDP request header (RFC 1928 §7): RSV(2)
// FRAG(1) ATYP(1) DST.ADDR DST.PORT, returning the destination address and
// the remaining payload. Fragmented datagrams (FRAG != 0) are rejected,
// since this relay does not support SOCKS5 UDP fragmentation reassembly. A
// domain-name destination is resolved through resolver the same way the
// TCP front-ends resolve outbound targets.
func decodeUDPHeader(ctx context.Context, resolver *DNSResolver, datagram []byte) (net.Addr, []byte, error) {
	if len(datagram) < 4 {
		return nil, nil, ErrMissingHost
	}
	if datagram[2] != 0 {
		return nil, nil, ErrMissingHost
	}
	atyp := datagram[3]
	rest := datagram[4:]

	var host string
	switch atyp {
	case 0x01: // IPv4
		if len(rest) < 4+2 {
			return nil, nil, ErrMissingHost
		}
		host = net.IP(rest[:4]).String()
		rest = rest[4:]
	case 0x04: // IPv6
		if len(rest) < 16+2 {
			return nil, nil, ErrMissingHost
		}
		host = net.IP(rest[:16]).String()
		rest = rest[16:]
	case 0x03: // domain name
		if len(rest) < 1 {
			return nil, nil, ErrMissingHost
		}
		n := int(rest[0])
		rest = rest[1:]
		if len(rest) < n+2 {
			return nil, nil, ErrMissingHost
		}
		host = string(rest[:n])
		rest = rest[n:]
	default:
		return nil, nil, ErrMissingHost
	}

	if len(rest) < 2 {
		return nil, nil, ErrMissingHost
	}
	port := int(rest[0])<<8 | int(rest[1])
	payload := rest[2:]

	addr, err := resolver.Resolve(ctx, host, port)
	if err != nil {
		return nil, nil, err
	}
	return &net.UDPAddr{IP: addr.IP, Port: addr.Port}, payload, nil
}

// encodeUDPHeader prepends a SOCKS5 UDP response header for addr to
// payload.
func encodeUDPHeader(addr net.Addr, payload []byte) ([]byte, error) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		host, portStr, err := net.SplitHostPort(addr.String())
		if err != nil {
			return nil, err
		}
		ip := net.ParseIP(host)
		var port int
		for _, c := range portStr {
			port = port*10 + int(c-'0')
		}
		udpAddr = &net.UDPAddr{IP: ip, Port: port}
	}

	var header []byte
	if ip4 := udpAddr.IP.To4(); ip4 != nil {
		header = append([]byte{0, 0, 0, 0x01}, ip4...)
	} else {
		header = append([]byte{0, 0, 0, 0x04}, udpAddr.IP.To16()...)
	}
	header = append(header, byte(udpAddr.Port>>8), byte(udpAddr.Port&0xff))
	return append(header, payload...), nil
}
