// Package middleware holds the edge pipeline: request tagging, metrics
// and the filter that decides whether a request reaches the origin.
package middleware

import (
	"context"
	"net/http"
)

// Middleware wraps an http.Handler.
type Middleware func(http.Handler) http.Handler

type contextKey string

// Context keys set by RequestID and ClientKey.
const (
	RequestIDKey contextKey = "request_id"
	ClientKeyKey contextKey = "client_key"
)

// GetRequestID returns the request ID stored by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, RequestIDKey)
}

// GetClientKey returns the client key stored by ClientKey, or "".
func GetClientKey(ctx context.Context) string {
	return stringValue(ctx, ClientKeyKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// Chain is an ordered middleware stack. The first element is outermost.
type Chain []Middleware

// New returns a chain of the given middlewares.
func New(middlewares ...Middleware) Chain {
	return append(Chain(nil), middlewares...)
}

// Append returns a new chain with middlewares added innermost. c is
// left untouched.
func (c Chain) Append(middlewares ...Middleware) Chain {
	out := make(Chain, 0, len(c)+len(middlewares))
	out = append(out, c...)
	return append(out, middlewares...)
}

// Then wraps h in the chain. A nil h answers 404.
func (c Chain) Then(h http.Handler) http.Handler {
	if h == nil {
		h = http.NotFoundHandler()
	}
	for i := len(c) - 1; i >= 0; i-- {
		h = c[i](h)
	}
	return h
}
