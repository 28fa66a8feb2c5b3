// Package geo resolves the country a request originates from.
package geo

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// Unknown is returned when no country can be determined.
const Unknown = "unknown"

// DefaultHeaders are the edge/CDN headers consulted by HeaderResolver.
// Both are overwritten by their network on every request.
var DefaultHeaders = []string{
	"X-Vercel-IP-Country",
	"CF-IPCountry",
}

// Resolver returns a two-letter upper-case country code for a request,
// or Unknown.
type Resolver interface {
	Country(r *http.Request) string
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(r *http.Request) string

// Country returns f(r).
func (f ResolverFunc) Country(r *http.Request) string { return f(r) }

// HeaderResolver reads the country set by an upstream edge network.
// Only list headers the edge in front of this server overwrites: any
// other header is client supplied and lets callers pick their country.
type HeaderResolver struct {
	headers []string
}

// NewHeaderResolver creates a resolver checking headers in order.
// With no headers, DefaultHeaders is used.
func NewHeaderResolver(headers ...string) *HeaderResolver {
	if len(headers) == 0 {
		headers = DefaultHeaders
	}
	return &HeaderResolver{headers: append([]string{}, headers...)}
}

// Country returns the first well-formed country header value.
func (h *HeaderResolver) Country(r *http.Request) string {
	for _, name := range h.headers {
		if code, ok := Normalize(r.Header.Get(name)); ok {
			return code
		}
	}
	return Unknown
}

// Normalize upper-cases a two-letter country code. Anything else,
// including Cloudflare's "XX" and "T1" placeholders, is rejected.
func Normalize(code string) (string, bool) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 {
		return "", false
	}
	for i := 0; i < 2; i++ {
		if code[i] < 'A' || code[i] > 'Z' {
			return "", false
		}
	}
	if code == "XX" {
		return "", false
	}
	return code, true
}

// PrefixResolver maps client addresses to countries through a static
// prefix table. Longest prefix wins.
type PrefixResolver struct {
	entries []prefixEntry
	addr    func(r *http.Request) string
}

type prefixEntry struct {
	prefix  netip.Prefix
	country string
}

// NewPrefixResolver builds a resolver from a CIDR to country map.
// addr extracts the client address from a request; nil uses RemoteAddr.
func NewPrefixResolver(table map[string]string, addr func(r *http.Request) string) (*PrefixResolver, error) {
	p := &PrefixResolver{addr: addr}
	if p.addr == nil {
		p.addr = remoteAddr
	}

	for cidr, country := range table {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			return nil, err
		}
		code, ok := Normalize(country)
		if !ok {
			return nil, &InvalidCountryError{Code: country}
		}
		p.entries = append(p.entries, prefixEntry{prefix: prefix.Masked(), country: code})
	}

	return p, nil
}

// Country returns the country of the longest prefix containing the
// client address.
func (p *PrefixResolver) Country(r *http.Request) string {
	ip, err := netip.ParseAddr(p.addr(r))
	if err != nil {
		return Unknown
	}
	ip = ip.Unmap()

	best := -1
	country := Unknown
	for _, e := range p.entries {
		if e.prefix.Bits() > best && e.prefix.Contains(ip) {
			best = e.prefix.Bits()
			country = e.country
		}
	}
	return country
}

// InvalidCountryError reports a malformed country code in a prefix table.
type InvalidCountryError struct {
	Code string
}

func (e *InvalidCountryError) Error() string {
	return fmt.Sprintf("geo: invalid country code %q", e.Code)
}

// Chain tries resolvers in order and returns the first known country.
type Chain []Resolver

// Country implements Resolver.
func (c Chain) Country(r *http.Request) string {
	for _, res := range c {
		if res == nil {
			continue
		}
		if code := res.Country(r); code != Unknown && code != "" {
			return code
		}
	}
	return Unknown
}

func remoteAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
