package proxyfleet

import (
	"context"
	"net"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// listenConfig sets SO_REUSEADDR on every socket it creates, so thousands of
// sibling listeners can rebind the same port across distinct public IPs
// without waiting out TIME_WAIT, and so a restart can rebind immediately.
var listenConfig = net.ListenConfig{
	Control: func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		})
		if err != nil {
			return err
		}
		return sockErr
	},
}

// listenTCP opens a TCP listener bound to ip:port with SO_REUSEADDR set.
func listenTCP(ctx context.Context, ip net.IP, port int) (net.Listener, error) {
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))
	ln, err := listenConfig.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen tcp %s", addr)
	}
	return ln, nil
}

// listenUDP opens a UDP socket bound to ip:port with SO_REUSEADDR set.
func listenUDP(ctx context.Context, ip net.IP, port int) (net.PacketConn, error) {
	addr := net.JoinHostPort(ip.String(), strconv.Itoa(port))
	pc, err := listenConfig.ListenPacket(ctx, "udp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen udp %s", addr)
	}
	return pc, nil
}

// dialerFrom returns a *net.Dialer whose outbound packets carry srcIP as
// their source address. For loopback source IPs this is left as the zero
// value, since the kernel already routes loopback traffic correctly and
// binding to 127.0.0.1 explicitly can break reaching other loopback
// addresses in the same listener's sibling set.
func dialerFrom(srcIP net.IP) *net.Dialer {
	if srcIP == nil || srcIP.IsLoopback() {
		return &net.Dialer{}
	}
	return &net.Dialer{
		LocalAddr: &net.TCPAddr{IP: srcIP},
	}
}

// dialerFromUDP is dialerFrom's UDP counterpart, used by the UDP associate
// relay when opening its upstream socket.
func dialerFromUDP(srcIP net.IP) *net.Dialer {
	if srcIP == nil || srcIP.IsLoopback() {
		return &net.Dialer{}
	}
	return &net.Dialer{
		LocalAddr: &net.UDPAddr{IP: srcIP},
	}
}

// expandSubnet returns every host address in cidr, excluding the network and
// broadcast addresses of every IPv4 subnet (so an IPv4 /31 or /32 yields no
// addresses). IPv6 subnets have no broadcast address, so only the all-zero
// network address is excluded.
func expandSubnet(cidr string) ([]net.IP, error) {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse subnet %s", cidr)
	}

	var ips []net.IP
	isV4 := ip.To4() != nil
	for cur := cloneIP(ipnet.IP); ipnet.Contains(cur); incIP(cur) {
		if isV4 && (cur.Equal(ipnet.IP) || isBroadcast(cur, ipnet)) {
			continue
		}
		if !isV4 && cur.Equal(ipnet.IP) {
			continue
		}
		ips = append(ips, cloneIP(cur))
	}
	return ips, nil
}

func cloneIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}

func incIP(ip net.IP) {
	for i := len(ip) - 1; i >= 0; i-- {
		ip[i]++
		if ip[i] != 0 {
			return
		}
	}
}

func isBroadcast(ip net.IP, ipnet *net.IPNet) bool {
	bcast := cloneIP(ipnet.IP)
	mask := ipnet.Mask
	for i := range bcast {
		bcast[i] |= ^mask[i]
	}
	return ip.Equal(bcast)
}
