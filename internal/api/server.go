// Package api serves the USFM parser over HTTP: synchronous and
// asynchronous parsing, stored books, and job progress over WebSocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jnterry/awoken-bible-usfm/internal/cache"
	"github.com/jnterry/awoken-bible-usfm/internal/logging"
	"github.com/jnterry/awoken-bible-usfm/internal/store"
)

const (
	shutdownTimeout = 10 * time.Second
	maintenanceTick = time.Minute
	jobRetention    = time.Hour
)

// Server is the HTTP API. Create it with New and call Start before serving
// requests.
type Server struct {
	config   Config
	version  string
	store    *store.Store
	cache    *cache.TTLCache[string, *ParseResponse]
	jobs     *JobStore
	hub      *Hub
	limiter  *RateLimiter
	upgrader websocket.Upgrader
	started  time.Time

	base context.Context
	done chan struct{}
}

// New creates a server over st.
func New(cfg Config, st *store.Store, version string) *Server {
	s := &Server{
		config:  cfg,
		version: version,
		store:   st,
		cache:   cache.New[string, *ParseResponse](cfg.CacheTTL, cfg.CacheEntries),
		jobs:    NewJobStore(),
		hub:     NewHub(),
		started: time.Now(),
		base:    context.Background(),
		done:    make(chan struct{}),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 10
		}
		s.limiter = NewRateLimiter(RateLimiterConfig{RequestsPerMinute: cfg.RateLimit, BurstSize: burst})
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Start runs the WebSocket hub and periodic maintenance until ctx is done.
// Jobs started afterwards are cancelled when ctx is done.
func (s *Server) Start(ctx context.Context) {
	s.base = ctx
	go s.hub.Run(ctx)
	if s.limiter != nil {
		go s.limiter.Cleanup(ctx)
	}
	go func() {
		ticker := time.NewTicker(maintenanceTick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(s.done)
				return
			case <-ticker.C:
				expired := s.cache.Purge()
				pruned := s.jobs.Prune(jobRetention)
				if expired > 0 || pruned > 0 {
					logging.Debug("maintenance", "cache_expired", expired, "jobs_pruned", pruned)
				}
			}
		}
	}()
}

func (s *Server) baseContext() context.Context {
	return s.base
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /parse", s.handleParse)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("POST /jobs", s.handleCreateJob)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /jobs/{id}", s.handleCancelJob)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /books", s.handleListBooks)
	mux.HandleFunc("GET /books/{id}", s.handleGetBook)
	mux.HandleFunc("GET /books/{id}/chapters/{n}", s.handleGetChapter)
	mux.HandleFunc("GET /books/{id}/chapters/{n}/verses", s.handleGetVerses)

	var handler http.Handler = securityHeadersMiddleware(mux)
	if s.limiter != nil {
		handler = s.limiter.Middleware(handler)
	}
	handler = corsMiddleware(s.config.AllowedOrigins, handler)
	return logging.CombinedMiddleware(handler)
}

// ListenAndServe starts the server and serves until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.Start(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	mode := "permissive"
	if len(s.config.AllowedOrigins) > 0 {
		mode = "restricted"
	}
	logging.ServerStartup("rest_api", "http", s.config.Port,
		"cors", mode,
		"rate_limit", s.config.RateLimit,
		"cache_ttl", s.config.CacheTTL.String())

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down", "timeout", shutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
