package proxyfleet

import "github.com/pkg/errors"

// HTTP request parser errors. Every one of them closes the connection
// without a courtesy reply.
var (
	ErrMissingMethod       = errors.New("http: missing method")
	ErrMissingPath         = errors.New("http: missing path")
	ErrMissingVersion      = errors.New("http: missing version")
	ErrInvalidVersion      = errors.New("http: invalid version")
	ErrMissingHost         = errors.New("http: missing host")
	ErrBufferLimitExceeded = errors.New("http: header buffer limit exceeded")
	ErrStreamReadError     = errors.New("http: stream read error")
	ErrStreamReadTimeout   = errors.New("http: stream read timed out")
	ErrClosedConnection    = errors.New("http: connection closed")
	ErrUnknown             = errors.New("http: unknown parse error")
)

// SOCKS5 state machine errors.
var (
	ErrSocksUnsupportedVersion  = errors.New("socks5: unsupported protocol version")
	ErrSocksNoAcceptableMethod  = errors.New("socks5: no acceptable authentication method")
	ErrSocksAuthFailed          = errors.New("socks5: authentication failed")
	ErrSocksCommandNotSupported = errors.New("socks5: command not supported")
	ErrSocksSocketLimitReached  = errors.New("socks5: udp socket admission limit reached")
	ErrSocksSocketTTL           = errors.New("socks5: udp association idle timeout")
	ErrSocksSrcAddrMismatch     = errors.New("socks5: source address mismatch on control channel")
)

// Auth/database errors.
var (
	ErrStockNotFound = errors.New("auth: no stock row for listen address")
	ErrOrderNotFound = errors.New("auth: no order for stock row")
)
