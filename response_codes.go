package proxyfleet

// Pre-built wire-form HTTP response lines the handler writes back to a
// client verbatim, so the hot path never touches fmt.Sprintf for the small,
// fixed set of replies a proxy ever sends on its own behalf.
const (
	respConnectionEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

	respProxyAuthRequired = "HTTP/1.1 407 Proxy Authentication Required\r\n" +
		"Proxy-Authenticate: Basic realm=\"Leastslow Network\"\r\n" +
		"Content-Length: 13\r\n\r\nAccess Denied"

	respInternalServerError = "HTTP/1.1 500 Internal Server Error\r\n" +
		"Content-Length: 0\r\n\r\n"

	respBadGateway = "HTTP/1.1 502 Bad Gateway\r\n" +
		"Content-Length: 0\r\n\r\n"

	respGatewayTimeout = "HTTP/1.1 504 Gateway Timeout\r\n" +
		"Content-Length: 0\r\n\r\n"
)
