package proxyfleet

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeConn wraps a bufio.Reader over a fixed byte string so parseHTTPRequest
// can be exercised without a real socket.
type fakeConn struct {
	r *bufio.Reader
}

func newFakeConn(s string) *fakeConn {
	return &fakeConn{r: bufio.NewReader(strings.NewReader(s))}
}

func (f *fakeConn) Read(p []byte) (int, error)         { return f.r.Read(p) }
func (f *fakeConn) SetReadDeadline(time.Time) error     { return nil }

func TestParseConnectRequest(t *testing.T) {
	conn := newFakeConn("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\nProxy-Authorization: Basic dXNlcjpwYXNz\r\n\r\n")
	req, err := parseHTTPRequest(conn)
	require.NoError(t, err)
	require.Equal(t, "CONNECT", req.Method)
	require.Equal(t, "example.com", req.Host)
	require.Equal(t, 443, req.Port)
	require.True(t, req.HasProxyAuth)
	require.Equal(t, "user", req.ProxyAuthUser)
	require.Equal(t, "pass", req.ProxyAuthPass)

	for _, h := range req.Headers {
		require.NotEqual(t, "Proxy-Authorization", h.Name)
	}
}

func TestParseAbsoluteURIRequest(t *testing.T) {
	conn := newFakeConn("GET http://example.com/path?q=1 HTTP/1.1\r\nHost: example.com\r\n\r\n")
	req, err := parseHTTPRequest(conn)
	require.NoError(t, err)
	require.Equal(t, "GET", req.Method)
	require.Equal(t, "example.com", req.Host)
	require.Equal(t, 80, req.Port)
	require.Equal(t, "/path?q=1", req.Target)
}

func TestParseOriginFormUsesHostHeader(t *testing.T) {
	conn := newFakeConn("GET /path HTTP/1.1\r\nHost: example.com:8080\r\n\r\n")
	req, err := parseHTTPRequest(conn)
	require.NoError(t, err)
	require.Equal(t, "example.com", req.Host)
	require.Equal(t, 8080, req.Port)
}

func TestParseMissingHostError(t *testing.T) {
	conn := newFakeConn("GET /path HTTP/1.1\r\n\r\n")
	_, err := parseHTTPRequest(conn)
	require.Equal(t, ErrMissingHost, err)
}

func TestParseInvalidVersion(t *testing.T) {
	conn := newFakeConn("GET / HTTP/2.0\r\n\r\n")
	_, err := parseHTTPRequest(conn)
	require.Equal(t, ErrInvalidVersion, err)
}

func TestDecodeBasicAuth(t *testing.T) {
	user, pass, ok := decodeBasicAuth("Basic dXNlcjpwYXNz")
	require.True(t, ok)
	require.Equal(t, "user", user)
	require.Equal(t, "pass", pass)

	_, _, ok = decodeBasicAuth("Bearer abc")
	require.False(t, ok)
}

var _ net.Addr = (*stubAddr)(nil)
