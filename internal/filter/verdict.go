// Package filter classifies inbound requests against static edge policy.
package filter

import "net/http"

// Action is the outcome of classification.
type Action int

const (
	// Allow lets the request continue.
	Allow Action = iota
	// Deny terminates the request with a response.
	Deny
)

// String returns the string representation of the action.
func (a Action) String() string {
	if a == Deny {
		return "deny"
	}
	return "allow"
}

// Reason identifies which rule decided a request.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonExempt          Reason = "exempt"
	ReasonIPBlocked       Reason = "ip_blocked"
	ReasonBotUserAgent    Reason = "bot_user_agent"
	ReasonMissingJSHeader Reason = "missing_js_header"
	ReasonCountryDenied   Reason = "country_denied"
	ReasonRateLimited     Reason = "rate_limited"
)

// Verdict is the decision for a single request.
type Verdict struct {
	Action Action
	Reason Reason
	Status int    // HTTP status for Deny
	Body   string // Response body for Deny

	// Exempt is set when the request bypasses all remaining checks,
	// including rate limiting.
	Exempt bool
}

// Denied reports whether the verdict terminates the request.
func (v Verdict) Denied() bool {
	return v.Action == Deny
}

// Allowed returns the pass-through verdict.
func Allowed() Verdict {
	return Verdict{Action: Allow}
}

// Exempted returns the bypass verdict.
func Exempted() Verdict {
	return Verdict{Action: Allow, Reason: ReasonExempt, Exempt: true}
}

// Forbidden returns a 403 verdict.
func Forbidden(reason Reason, body string) Verdict {
	return Verdict{Action: Deny, Reason: reason, Status: http.StatusForbidden, Body: body}
}

// TooManyRequests returns the 429 verdict used when a key's window is spent.
func TooManyRequests() Verdict {
	return Verdict{
		Action: Deny,
		Reason: ReasonRateLimited,
		Status: http.StatusTooManyRequests,
		Body:   "Too Many Requests",
	}
}
