package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/emadnahed/edgeguard/internal/filter"
	"github.com/emadnahed/edgeguard/internal/geo"
	"github.com/emadnahed/edgeguard/internal/metrics"
	"github.com/emadnahed/edgeguard/internal/ratelimit"
	"github.com/emadnahed/edgeguard/pkg/logger"
)

// HeaderBlockReason names the rule that rejected a request.
const HeaderBlockReason = "X-Edge-Block-Reason"

// FilterConfig holds the collaborators of the edge filter.
type FilterConfig struct {
	Classifier *filter.Classifier
	Limiter    ratelimit.Limiter // nil disables rate limiting
	Geo        geo.Resolver
	JSHeader   string
	Logger     *logger.Logger
}

// Filter returns a middleware that classifies each request and then
// rate limits it by client key. Exempt requests skip the limiter; denied
// requests get a terminal plain text response.
func Filter(cfg FilterConfig) Middleware {
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = filter.NewClassifier(filter.DefaultPolicy())
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := GetClientKey(ctx)
			if key == "" {
				key = filter.ClientKey(r)
			}

			verdict := classifier.Classify(filter.NewRequest(r, key, cfg.Geo, cfg.JSHeader))

			switch {
			case verdict.Exempt:
				metrics.RecordExempt()
				next.ServeHTTP(w, r)
				return
			case verdict.Denied():
				metrics.RecordDenied(string(verdict.Reason))
				log.Info("request denied",
					"request_id", GetRequestID(ctx),
					"client_key", key,
					"reason", string(verdict.Reason),
					"path", r.URL.Path,
				)
				writeVerdict(w, verdict)
				return
			}

			if cfg.Limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			result, err := cfg.Limiter.Allow(ctx, key)
			if err != nil {
				// Fail open on limiter errors.
				log.Error("rate limiter error",
					"request_id", GetRequestID(ctx),
					"client_key", key,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, result)

			if !result.Allowed {
				metrics.RecordRateLimited()
				log.Warn("rate limit exceeded",
					"request_id", GetRequestID(ctx),
					"client_key", key,
					"limit", result.Limit,
				)
				writeVerdict(w, filter.TooManyRequests())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// setRateLimitHeaders sets the rate limit headers on the response.
func setRateLimitHeaders(w http.ResponseWriter, result *ratelimit.Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

	if result.ResetAfter > 0 {
		resetTime := time.Now().Add(result.ResetAfter).Unix()
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))
	}

	if !result.Allowed && result.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(ceilSeconds(result.RetryAfter)))
	}
}

// ceilSeconds rounds d up to whole seconds, at least 1.
func ceilSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// writeVerdict writes the plain text response for a denial.
func writeVerdict(w http.ResponseWriter, v filter.Verdict) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set(HeaderBlockReason, string(v.Reason))
	w.WriteHeader(v.Status)
	_, _ = w.Write([]byte(v.Body))
}
