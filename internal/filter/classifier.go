package filter

import (
	"fmt"
	"strings"
)

// Policy is the static configuration the classifier enforces.
type Policy struct {
	ExemptPaths       []string // Path prefixes that skip every check
	BlockedIPs        []string // Exact ClientKey matches
	BlockedUserAgents []string // Case-insensitive substrings
	AllowedCountries  []string // Two-letter codes; everything else is denied
}

// DefaultPolicy returns the canonical edge policy.
func DefaultPolicy() Policy {
	return Policy{
		ExemptPaths:       []string{"/api/js-check", "/health", "/ready", "/metrics"},
		BlockedIPs:        []string{"123.456.789.000"},
		BlockedUserAgents: []string{"curl", "wget", "bot", "spider", "crawl"},
		AllowedCountries:  []string{"AU", "NG"},
	}
}

// Rule is one step of classification. Evaluate reports a verdict and
// true when the rule decides the request; false lets the next rule run.
type Rule struct {
	Name     string
	Evaluate func(Request) (Verdict, bool)
}

// Classifier evaluates rules in order; the first rule to decide wins.
// It holds no mutable state and is safe for concurrent use.
type Classifier struct {
	rules []Rule
}

// NewClassifier builds the standard rule order from a policy:
// exempt path, IP blocklist, user-agent blocklist, JS header, country.
func NewClassifier(p Policy) *Classifier {
	return NewClassifierWithRules(
		ExemptPathRule(p.ExemptPaths),
		BlockedIPRule(p.BlockedIPs),
		BlockedUserAgentRule(p.BlockedUserAgents),
		JSHeaderRule(),
		CountryRule(p.AllowedCountries),
	)
}

// NewClassifierWithRules builds a classifier from an explicit rule list.
func NewClassifierWithRules(rules ...Rule) *Classifier {
	return &Classifier{rules: append([]Rule{}, rules...)}
}

// Classify returns the verdict of the first deciding rule, or Allowed.
func (c *Classifier) Classify(req Request) Verdict {
	for _, rule := range c.rules {
		if v, ok := rule.Evaluate(req); ok {
			return v
		}
	}
	return Allowed()
}

// Rules returns the rule names in evaluation order.
func (c *Classifier) Rules() []string {
	names := make([]string, len(c.rules))
	for i, r := range c.rules {
		names[i] = r.Name
	}
	return names
}

// ExemptPathRule allows a path equal to one of prefixes or nested below
// it. Matching stops at segment boundaries, so "/health" exempts
// "/health/live" but not "/healthcare".
func ExemptPathRule(prefixes []string) Rule {
	prefixes = compact(prefixes, nil)
	return Rule{
		Name: "exempt-path",
		Evaluate: func(req Request) (Verdict, bool) {
			for _, p := range prefixes {
				if underPath(req.Path, p) {
					return Exempted(), true
				}
			}
			return Verdict{}, false
		},
	}
}

func underPath(path, prefix string) bool {
	base := strings.TrimSuffix(prefix, "/")
	if path == prefix || path == base {
		return true
	}
	return strings.HasPrefix(path, base+"/")
}

// BlockedIPRule denies exact ClientKey matches.
func BlockedIPRule(ips []string) Rule {
	blocked := toSet(compact(ips, nil))
	return Rule{
		Name: "ip-blocklist",
		Evaluate: func(req Request) (Verdict, bool) {
			if _, ok := blocked[req.ClientKey]; ok {
				return Forbidden(ReasonIPBlocked, "Forbidden: IP blocked"), true
			}
			return Verdict{}, false
		},
	}
}

// BlockedUserAgentRule denies user-agents containing any token,
// ignoring case. Empty tokens are dropped so they never match everything.
func BlockedUserAgentRule(tokens []string) Rule {
	tokens = compact(tokens, strings.ToLower)
	return Rule{
		Name: "user-agent-blocklist",
		Evaluate: func(req Request) (Verdict, bool) {
			ua := strings.ToLower(req.UserAgent)
			for _, tok := range tokens {
				if strings.Contains(ua, tok) {
					return Forbidden(ReasonBotUserAgent, "Forbidden: Bot detected"), true
				}
			}
			return Verdict{}, false
		},
	}
}

// JSHeaderRule denies requests that did not present the JS header.
//
// The header is set by a page script and any client can forge it. It
// filters naive scrapers only and must not be relied on for security.
func JSHeaderRule() Rule {
	return Rule{
		Name: "js-header",
		Evaluate: func(req Request) (Verdict, bool) {
			if !req.JSEnabled {
				return Forbidden(ReasonMissingJSHeader, "Forbidden: JavaScript required"), true
			}
			return Verdict{}, false
		},
	}
}

// CountryRule denies countries outside allowed. An empty allowlist
// denies every country.
func CountryRule(allowed []string) Rule {
	set := toSet(compact(allowed, strings.ToUpper))
	return Rule{
		Name: "country-allowlist",
		Evaluate: func(req Request) (Verdict, bool) {
			if _, ok := set[strings.ToUpper(req.Country)]; ok {
				return Verdict{}, false
			}
			return Forbidden(ReasonCountryDenied, fmt.Sprintf("Access denied from %s", req.Country)), true
		},
	}
}

// compact trims, optionally maps, and drops empty entries.
func compact(in []string, fn func(string) string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if fn != nil {
			s = fn(s)
		}
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func toSet(in []string) map[string]struct{} {
	set := make(map[string]struct{}, len(in))
	for _, s := range in {
		set[s] = struct{}{}
	}
	return set
}
