// Package server provides the HTTP server implementation.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/emadnahed/edgeguard/internal/config"
	"github.com/emadnahed/edgeguard/internal/filter"
	"github.com/emadnahed/edgeguard/internal/geo"
	"github.com/emadnahed/edgeguard/internal/handlers"
	"github.com/emadnahed/edgeguard/internal/metrics"
	"github.com/emadnahed/edgeguard/internal/middleware"
	"github.com/emadnahed/edgeguard/internal/ratelimit"
	"github.com/emadnahed/edgeguard/pkg/logger"
)

// Server is the edge server: the filter chain in front of an origin.
type Server struct {
	cfg            *config.Config
	log            *logger.Logger
	httpServer     *http.Server
	handler        http.Handler
	healthHandler  *handlers.HealthHandler
	jsCheckHandler *handlers.JSCheckHandler
	origin         http.Handler
	classifier     *filter.Classifier
	rateLimiter    ratelimit.Limiter
	listener       net.Listener
	running        bool
	mu             sync.RWMutex
}

// New creates a new Server instance.
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	s := &Server{
		cfg:            cfg,
		log:            log,
		healthHandler:  handlers.NewHealthHandler(),
		jsCheckHandler: handlers.NewJSCheckHandler(cfg.Filter.JSHeader),
		classifier: filter.NewClassifier(filter.Policy{
			ExemptPaths:       cfg.Filter.ExemptPaths,
			BlockedIPs:        cfg.Filter.BlockedIPs,
			BlockedUserAgents: cfg.Filter.BlockedUserAgents,
			AllowedCountries:  cfg.Filter.AllowedCountries,
		}),
	}

	origin, err := s.buildOrigin()
	if err != nil {
		return nil, err
	}
	s.origin = origin

	resolver, err := s.buildGeoResolver()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = s.buildMiddlewareChain(mux, resolver)

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      s.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// buildOrigin returns the handler that receives requests passing the filter.
func (s *Server) buildOrigin() (http.Handler, error) {
	if !s.cfg.UpstreamEnabled() {
		return http.HandlerFunc(handlers.Origin), nil
	}

	target, err := url.Parse(s.cfg.Upstream.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.log.Error("upstream error",
			"request_id", middleware.GetRequestID(r.Context()),
			"upstream", target.Host,
			"error", err,
		)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}

	s.healthHandler.AddCheck("upstream", upstreamCheck(target, upstreamDialTimeout))

	s.log.Info("proxying to upstream", "upstream", target.String())
	return proxy, nil
}

const upstreamDialTimeout = 2 * time.Second

// upstreamCheck reports whether a TCP connection to target can be opened.
func upstreamCheck(target *url.URL, timeout time.Duration) handlers.CheckFunc {
	addr := target.Host
	if target.Port() == "" {
		port := "80"
		if target.Scheme == "https" {
			port = "443"
		}
		addr = net.JoinHostPort(target.Hostname(), port)
	}

	return func() bool {
		conn, err := net.DialTimeout("tcp", addr, timeout)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}
}

// buildGeoResolver combines edge headers with the optional prefix table.
func (s *Server) buildGeoResolver() (geo.Resolver, error) {
	chain := geo.Chain{geo.NewHeaderResolver(s.cfg.Geo.CountryHeaders...)}

	if len(s.cfg.Geo.Prefixes) > 0 {
		prefixes, err := geo.NewPrefixResolver(s.cfg.Geo.Prefixes, clientAddr)
		if err != nil {
			return nil, fmt.Errorf("invalid geo prefixes: %w", err)
		}
		chain = append(chain, prefixes)
	}

	return chain, nil
}

// clientAddr prefers the forwarded client key and falls back to the
// connection address.
func clientAddr(r *http.Request) string {
	if key := middleware.GetClientKey(r.Context()); key != "" && key != filter.UnknownClient {
		return key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// buildMiddlewareChain creates the middleware chain for the server.
func (s *Server) buildMiddlewareChain(handler http.Handler, resolver geo.Resolver) http.Handler {
	chain := middleware.New(
		middleware.Metrics(),
		middleware.RequestID(),
		middleware.ClientKey(),
	)

	if s.cfg.Rate.Enabled {
		s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.Config{
			Points:          s.cfg.Rate.Points,
			Duration:        s.cfg.Rate.Duration,
			CleanupInterval: s.cfg.Rate.CleanupInterval,
		})

		s.log.Info("rate limiting enabled",
			"points", s.cfg.Rate.Points,
			"duration", s.cfg.Rate.Duration.String(),
		)
	}

	chain = chain.Append(middleware.Filter(middleware.FilterConfig{
		Classifier: s.classifier,
		Limiter:    s.rateLimiter,
		Geo:        resolver,
		JSHeader:   s.cfg.Filter.JSHeader,
		Logger:     s.log.With("component", "filter"),
	}))

	s.log.Info("edge filter enabled",
		"rules", s.classifier.Rules(),
		"allowed_countries", s.cfg.Filter.AllowedCountries,
		"exempt_paths", s.cfg.Filter.ExemptPaths,
	)

	return chain.Then(handler)
}

// registerRoutes sets up the HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.healthHandler.Health)
	mux.HandleFunc("GET /ready", s.healthHandler.Ready)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/js-check", s.jsCheckHandler.Check)
	mux.HandleFunc("GET /api/js-check/enforce-js.js", s.jsCheckHandler.Script)

	// Everything else goes to the origin.
	mux.Handle("/", s.origin)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := s.cfg.Server.Address()

	// Listen first so Addr reports the real port when Port is 0.
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.log.Info("server starting", "address", listener.Addr().String())

	err = s.httpServer.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("server shutting down")

	s.healthHandler.SetReady(false)

	err := s.httpServer.Shutdown(ctx)

	if s.rateLimiter != nil {
		if closeErr := s.rateLimiter.Close(); closeErr != nil {
			s.log.Error("failed to close rate limiter", "error", closeErr)
		}
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if err != nil {
		s.log.Error("shutdown error", "error", err)
		return err
	}

	s.log.Info("server stopped")
	return nil
}

// Handler returns the full middleware chain and routes.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's address.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// HealthHandler returns the health handler.
func (s *Server) HealthHandler() *handlers.HealthHandler {
	return s.healthHandler
}

// RateLimiter returns the active limiter, or nil when disabled.
func (s *Server) RateLimiter() ratelimit.Limiter {
	return s.rateLimiter
}
