package filter

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emadnahed/edgeguard/internal/geo"
)

// passing returns a request that clears every default rule.
func passing() Request {
	return Request{
		Path:      "/",
		ClientKey: "203.0.113.7",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64)",
		JSEnabled: true,
		Country:   "AU",
	}
}

func TestClassifier_RuleOrder(t *testing.T) {
	c := NewClassifier(DefaultPolicy())

	assert.Equal(t, []string{
		"exempt-path",
		"ip-blocklist",
		"user-agent-blocklist",
		"js-header",
		"country-allowlist",
	}, c.Rules())
}

func TestClassifier_Classify(t *testing.T) {
	c := NewClassifier(DefaultPolicy())

	tests := []struct {
		name       string
		mutate     func(*Request)
		wantAction Action
		wantReason Reason
		wantStatus int
		wantBody   string
	}{
		{
			name:       "allows a clean request",
			mutate:     func(r *Request) {},
			wantAction: Allow,
			wantReason: ReasonNone,
		},
		{
			name: "exempt path bypasses every blocklist",
			mutate: func(r *Request) {
				r.Path = "/api/js-check"
				r.ClientKey = "123.456.789.000"
				r.UserAgent = "curl/8.0"
				r.JSEnabled = false
				r.Country = "US"
			},
			wantAction: Allow,
			wantReason: ReasonExempt,
		},
		{
			name: "blocked ip checked before other rules",
			mutate: func(r *Request) {
				r.ClientKey = "123.456.789.000"
				r.UserAgent = "curl/8.0"
				r.JSEnabled = false
				r.Country = "US"
			},
			wantAction: Deny,
			wantReason: ReasonIPBlocked,
			wantStatus: http.StatusForbidden,
			wantBody:   "Forbidden: IP blocked",
		},
		{
			name:       "user agent match ignores case",
			mutate:     func(r *Request) { r.UserAgent = "CURL/8.0" },
			wantAction: Deny,
			wantReason: ReasonBotUserAgent,
			wantStatus: http.StatusForbidden,
			wantBody:   "Forbidden: Bot detected",
		},
		{
			name:       "user agent substring match",
			mutate:     func(r *Request) { r.UserAgent = "Mozilla/5.0 (compatible; Googlebot/2.1)" },
			wantAction: Deny,
			wantReason: ReasonBotUserAgent,
			wantStatus: http.StatusForbidden,
		},
		{
			name: "missing js header precedes country check",
			mutate: func(r *Request) {
				r.JSEnabled = false
				r.Country = "US"
			},
			wantAction: Deny,
			wantReason: ReasonMissingJSHeader,
			wantStatus: http.StatusForbidden,
			wantBody:   "Forbidden: JavaScript required",
		},
		{
			name:       "missing js header from allowed country",
			mutate:     func(r *Request) { r.JSEnabled = false },
			wantAction: Deny,
			wantReason: ReasonMissingJSHeader,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "country outside allowlist",
			mutate:     func(r *Request) { r.Country = "US" },
			wantAction: Deny,
			wantReason: ReasonCountryDenied,
			wantStatus: http.StatusForbidden,
			wantBody:   "Access denied from US",
		},
		{
			name:       "unknown country is denied",
			mutate:     func(r *Request) { r.Country = geo.Unknown },
			wantAction: Deny,
			wantReason: ReasonCountryDenied,
			wantStatus: http.StatusForbidden,
			wantBody:   "Access denied from unknown",
		},
		{
			name:       "second allowed country",
			mutate:     func(r *Request) { r.Country = "NG" },
			wantAction: Allow,
		},
		{
			name:       "empty user agent passes",
			mutate:     func(r *Request) { r.UserAgent = "" },
			wantAction: Allow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := passing()
			tt.mutate(&req)

			v := c.Classify(req)

			assert.Equal(t, tt.wantAction, v.Action)
			assert.Equal(t, tt.wantReason, v.Reason)
			if tt.wantStatus != 0 {
				assert.Equal(t, tt.wantStatus, v.Status)
			}
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, v.Body)
			}
		})
	}
}

func TestClassifier_ExemptIsNotRateLimited(t *testing.T) {
	c := NewClassifier(DefaultPolicy())

	req := passing()
	req.Path = "/health"
	assert.True(t, c.Classify(req).Exempt)

	req.Path = "/"
	v := c.Classify(req)
	assert.False(t, v.Exempt)
	assert.False(t, v.Denied())
}

func TestExemptPathRule_SegmentBoundary(t *testing.T) {
	c := NewClassifier(DefaultPolicy())

	tests := []struct {
		path       string
		wantExempt bool
	}{
		{"/api/js-check", true},
		{"/api/js-check/enforce-js.js", true},
		{"/health", true},
		{"/health/live", true},
		{"/ready", true},
		{"/metrics", true},
		{"/healthcare", false},
		{"/healthcare/records", false},
		{"/readyz", false},
		{"/metrics-admin", false},
		{"/api/js-checkout", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := passing()
			req.Path = tt.path
			req.ClientKey = "123.456.789.000"

			v := c.Classify(req)
			assert.Equal(t, tt.wantExempt, v.Exempt)
			if !tt.wantExempt {
				assert.Equal(t, ReasonIPBlocked, v.Reason)
			}
		})
	}

	t.Run("trailing slash prefix", func(t *testing.T) {
		rule := NewClassifierWithRules(ExemptPathRule([]string{"/internal/"}))

		for path, want := range map[string]bool{
			"/internal":      true,
			"/internal/":     true,
			"/internal/jobs": true,
			"/internalize":   false,
		} {
			req := passing()
			req.Path = path
			assert.Equal(t, want, rule.Classify(req).Exempt, path)
		}
	})
}

func TestRules_IgnoreBlankEntries(t *testing.T) {
	c := NewClassifier(Policy{
		ExemptPaths:       []string{""},
		BlockedIPs:        []string{" "},
		BlockedUserAgents: []string{"", "  "},
		AllowedCountries:  []string{"au"},
	})

	req := passing()
	req.ClientKey = ""
	assert.Equal(t, Allow, c.Classify(req).Action, "blank entries must not match everything")
	assert.False(t, c.Classify(req).Exempt)
}

func TestCountryRule_EmptyAllowlist(t *testing.T) {
	c := NewClassifierWithRules(CountryRule(nil))

	v := c.Classify(passing())
	assert.Equal(t, ReasonCountryDenied, v.Reason)
}

func TestClassifier_CustomRules(t *testing.T) {
	var evaluated []string
	record := func(name string, decide bool) Rule {
		return Rule{
			Name: name,
			Evaluate: func(Request) (Verdict, bool) {
				evaluated = append(evaluated, name)
				if decide {
					return Forbidden("custom", name), true
				}
				return Verdict{}, false
			},
		}
	}

	c := NewClassifierWithRules(record("a", false), record("b", true), record("c", true))
	v := c.Classify(Request{})

	assert.Equal(t, []string{"a", "b"}, evaluated, "evaluation stops at the first deciding rule")
	assert.Equal(t, "b", v.Body)
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		name string
		xff  string
		want string
	}{
		{"single address", "203.0.113.7", "203.0.113.7"},
		{"first of chain", "203.0.113.7, 10.0.0.1, 10.0.0.2", "203.0.113.7"},
		{"trims whitespace", "  198.51.100.1  ,10.0.0.1", "198.51.100.1"},
		{"not validated", "123.456.789.000", "123.456.789.000"},
		{"absent", "", UnknownClient},
		{"empty first entry", " ,10.0.0.1", UnknownClient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.xff != "" {
				req.Header.Set(HeaderForwardedFor, tt.xff)
			}
			assert.Equal(t, tt.want, ClientKey(req))
		})
	}
}

func TestNewRequest(t *testing.T) {
	t.Run("extracts all fields", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/products/1?x=1", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7")
		req.Header.Set("User-Agent", "Mozilla/5.0")
		req.Header.Set("X-JS-Enabled", "1")
		req.Header.Set("X-Vercel-IP-Country", "ng")

		in := NewRequest(req, "", geo.NewHeaderResolver(), "")

		assert.Equal(t, Request{
			Path:      "/products/1",
			ClientKey: "203.0.113.7",
			UserAgent: "Mozilla/5.0",
			JSEnabled: true,
			Country:   "NG",
		}, in)
	})

	t.Run("safe defaults when headers missing", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)

		in := NewRequest(req, "", nil, "")

		assert.Equal(t, UnknownClient, in.ClientKey)
		assert.Empty(t, in.UserAgent)
		assert.False(t, in.JSEnabled)
		assert.Equal(t, geo.Unknown, in.Country)
	})

	t.Run("empty header value still counts as present", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("x-js-enabled", "")

		in := NewRequest(req, "k", nil, "")

		assert.True(t, in.JSEnabled)
		assert.Equal(t, "k", in.ClientKey)
	})

	t.Run("custom js header name", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Client-Script", "yes")

		require.True(t, NewRequest(req, "", nil, "x-client-script").JSEnabled)
		assert.False(t, NewRequest(req, "", nil, "").JSEnabled)
	})
}

func TestVerdictConstructors(t *testing.T) {
	v := TooManyRequests()
	assert.True(t, v.Denied())
	assert.Equal(t, http.StatusTooManyRequests, v.Status)
	assert.Equal(t, "Too Many Requests", v.Body)
	assert.Equal(t, ReasonRateLimited, v.Reason)

	assert.Equal(t, "allow", Allowed().Action.String())
	assert.Equal(t, "deny", v.Action.String())
}
