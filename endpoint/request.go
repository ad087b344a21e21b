package endpoint

import (
	"net"
	"strings"
)

// Request carries the upgrade request metadata the admission checks run
// against. It is captured by the dispatcher before the handshake so the
// checks never touch the transport directly.
type Request struct {
	// Path is the route the request resolved to.
	Path string
	// Params holds the resolved query parameters.
	Params map[string]string
	// RemoteAddr is the peer address, host:port.
	RemoteAddr string
	// UserAgent is the declared client string, if any.
	UserAgent string
	// Authorization is the Authorization header value, if any.
	Authorization string
}

// Param returns the named query parameter, or "" if absent.
func (r *Request) Param(name string) string {
	if r.Params == nil {
		return ""
	}
	return r.Params[name]
}

// ClientID derives the coarse identity used for rate limiting: remote
// IP plus the declared client string. Deterministic, not meant to be
// spoof-proof.
func (r *Request) ClientID() string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	ua := r.UserAgent
	if i := strings.IndexByte(ua, ' '); i > 0 {
		ua = ua[:i]
	}
	return host + "|" + ua
}
