package filter

import (
	"net/http"
	"strings"

	"github.com/emadnahed/edgeguard/internal/geo"
)

const (
	// HeaderForwardedFor carries the client address chain.
	HeaderForwardedFor = "X-Forwarded-For"
	// DefaultJSHeader is set by the companion script when JavaScript runs.
	DefaultJSHeader = "x-js-enabled"
	// UnknownClient is the ClientKey used when no forwarded address exists.
	UnknownClient = "unknown"
)

// Request is the classifier's view of an inbound request.
type Request struct {
	Path      string
	ClientKey string
	UserAgent string
	JSEnabled bool
	Country   string
}

// ClientKey returns the first X-Forwarded-For entry, or UnknownClient.
// The value is not validated as an address.
func ClientKey(r *http.Request) string {
	xff := r.Header.Get(HeaderForwardedFor)
	first, _, _ := strings.Cut(xff, ",")
	if first = strings.TrimSpace(first); first != "" {
		return first
	}
	return UnknownClient
}

// NewRequest builds a classifier Request from HTTP. Missing headers
// become safe defaults: an empty user-agent and an unknown country.
func NewRequest(r *http.Request, clientKey string, resolver geo.Resolver, jsHeader string) Request {
	if clientKey == "" {
		clientKey = ClientKey(r)
	}
	if jsHeader == "" {
		jsHeader = DefaultJSHeader
	}

	country := geo.Unknown
	if resolver != nil {
		if c := resolver.Country(r); c != "" {
			country = c
		}
	}

	// Presence is what counts; an empty value still marks JS as enabled.
	_, jsEnabled := r.Header[http.CanonicalHeaderKey(jsHeader)]

	return Request{
		Path:      r.URL.Path,
		ClientKey: clientKey,
		UserAgent: r.Header.Get("User-Agent"),
		JSEnabled: jsEnabled,
		Country:   country,
	}
}
