package identity

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Asserted-identity fields, checked in this order.
const (
	FieldRemoteUser         = "REMOTE_USER"
	FieldRedirectRemoteUser = "REDIRECT_REMOTE_USER"
)

// Fields is the fixed precedence list. A later non-empty field overrides an
// earlier one, so REDIRECT_REMOTE_USER wins when both are set.
var Fields = []string{FieldRemoteUser, FieldRedirectRemoteUser}

// RequestContext gives read access to externally asserted identity fields.
type RequestContext interface {
	Field(name string) string
}

// Extract returns the asserted identity, or "" when none of Fields is set.
func Extract(rc RequestContext) string {
	if rc == nil {
		return ""
	}
	var username string
	for _, field := range Fields {
		if v := strings.TrimSpace(rc.Field(field)); v != "" {
			username = v
		}
	}
	return username
}

// Static is a RequestContext backed by a plain map.
type Static map[string]string

// Field implements RequestContext.
func (s Static) Field(name string) string { return s[name] }

// HeaderConfig maps asserted-identity fields to the proxy headers that carry
// them. Headers are honored only from peers inside TrustedProxies, or from
// any peer when TrustAllPeers is set.
type HeaderConfig struct {
	Headers        map[string]string
	TrustedProxies []netip.Prefix
	TrustAllPeers  bool
}

// DefaultHeaders is the field to header mapping used when none is configured.
func DefaultHeaders() map[string]string {
	return map[string]string{
		FieldRemoteUser:         "X-Remote-User",
		FieldRedirectRemoteUser: "X-Redirect-Remote-User",
	}
}

// HeaderContext reads asserted identity fields from request headers set by a
// trusted reverse proxy.
type HeaderContext struct {
	req     *http.Request
	headers map[string]string
	trusted bool
}

// FromRequest builds a HeaderContext. Every field reads empty unless the peer
// is trusted.
func FromRequest(r *http.Request, cfg HeaderConfig) *HeaderContext {
	headers := cfg.Headers
	if len(headers) == 0 {
		headers = DefaultHeaders()
	}
	return &HeaderContext{
		req:     r,
		headers: headers,
		trusted: cfg.TrustAllPeers || peerTrusted(r.RemoteAddr, cfg.TrustedProxies),
	}
}

// Field implements RequestContext.
func (h *HeaderContext) Field(name string) string {
	if h == nil || !h.trusted {
		return ""
	}
	header, ok := h.headers[name]
	if !ok || header == "" {
		return ""
	}
	return h.req.Header.Get(header)
}

// Trusted reports whether the request came through an allowed proxy.
func (h *HeaderContext) Trusted() bool {
	return h != nil && h.trusted
}

func peerTrusted(remoteAddr string, prefixes []netip.Prefix) bool {
	if len(prefixes) == 0 {
		return false
	}
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ParsePrefixes parses CIDRs or bare addresses into prefixes.
func ParsePrefixes(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, raw := range values {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, err
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}
