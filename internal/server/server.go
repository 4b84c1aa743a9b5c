package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pmo-sentinel/internal/config"
	"github.com/raaihank/pmo-sentinel/internal/logger"
	"github.com/raaihank/pmo-sentinel/internal/metrics"
	"github.com/raaihank/pmo-sentinel/internal/pipeline"
	"github.com/raaihank/pmo-sentinel/internal/security"
	"github.com/raaihank/pmo-sentinel/internal/store"
	"github.com/raaihank/pmo-sentinel/internal/web"
	"github.com/raaihank/pmo-sentinel/internal/websocket"
)

const version = "0.3.0"

// Dependencies are the components the server routes requests to
type Dependencies struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Metrics  *metrics.Metrics // optional
}

// Server is the HTTP front of the document pipeline
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	store    store.Store
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics
	limiter  *security.RateLimiter
	router   *mux.Router
	server   *http.Server
	wsHub    *websocket.Hub

	started     time.Time
	requests    atomic.Int64
	generations atomic.Int64
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, deps Dependencies) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("server requires a store")
	}
	if deps.Pipeline == nil {
		return nil, errors.New("server requires a pipeline")
	}

	wsHub := websocket.NewHub(&websocket.HubConfig{
		BroadcastRequests:      cfg.WebSocket.Events.BroadcastRequests,
		BroadcastSubstitutions: cfg.WebSocket.Events.BroadcastSubstitutions,
		BroadcastSystem:        cfg.WebSocket.Events.BroadcastSystem,
		BroadcastConnections:   cfg.WebSocket.Events.BroadcastConnections,
		Username:               cfg.WebSocket.Username,
		Password:               cfg.WebSocket.Password,
		AllowedOrigins:         cfg.WebSocket.AllowedOrigins,
	}, log.WithComponent("websocket").Logger)

	server := &Server{
		config:   cfg,
		logger:   log.WithComponent("server"),
		store:    deps.Store,
		pipeline: deps.Pipeline,
		metrics:  deps.Metrics,
		limiter:  security.NewRateLimiter(cfg.RateLimit),
		router:   mux.NewRouter(),
		wsHub:    wsHub,
		started:  time.Now(),
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	dashboard := web.Dashboard(s.config.Server.DashboardPath)
	s.router.HandleFunc("/", dashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", dashboard).Methods(http.MethodGet)

	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}
	if s.config.Metrics.Enabled && s.metrics != nil {
		s.router.Handle(s.config.Metrics.Path, s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.bodyLimitMiddleware)

	api.Handle("/generate", s.rateLimitMiddleware(http.HandlerFunc(s.handleGenerate))).Methods(http.MethodPost)
	api.HandleFunc("/preview", s.handlePreview).Methods(http.MethodPost)
	api.HandleFunc("/document-types", s.handleDocumentTypes).Methods(http.MethodGet)

	projects := api.PathPrefix("/projects/{project}").Subrouter()
	projects.HandleFunc("/entries", s.handleListEntries).Methods(http.MethodGet)
	projects.HandleFunc("/entries", s.handleCreateEntries).Methods(http.MethodPost)
	projects.HandleFunc("/entries/{code}", s.handleDeleteEntry).Methods(http.MethodDelete)
	projects.HandleFunc("/memory", s.handleListMemory).Methods(http.MethodGet)
	projects.HandleFunc("/memory", s.handleUpsertMemory).Methods(http.MethodPut)
	projects.HandleFunc("/memory/{type}/{key}", s.handleDeleteMemory).Methods(http.MethodDelete)
}

// Handler returns the routed handler without starting a listener
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the WebSocket hub and the background routines, then serves
// HTTP until Stop is called. ctx bounds the background routines.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting PMO Sentinel server",
		zap.Int("port", s.config.Server.Port),
		zap.String("upstream", s.config.Upstream.Anthropic),
		zap.String("model", s.config.Upstream.Model),
		zap.String("storage_driver", s.config.Storage.Driver),
	)

	go s.wsHub.Run(ctx)
	go s.limiter.StartCleanupRoutine(ctx, 5*time.Minute)
	go s.statusLoop(ctx, 30*time.Second)

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PMO Sentinel server")
	return s.server.Shutdown(ctx)
}

// Reload applies the settings that can change while running
func (s *Server) Reload(cfg *config.Config) {
	s.limiter.SetLimits(cfg.RateLimit)
	s.logger.Info("Applied reloaded configuration",
		zap.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
		zap.Int("requests_per_min", cfg.RateLimit.RequestsPerMin))
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}

func (s *Server) statusLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wsHub.BroadcastEvent(websocket.Event{
				Type: websocket.EventTypeSystemStatus,
				Data: s.systemStatus(),
			})
		}
	}
}

func (s *Server) systemStatus() websocket.SystemStatusEvent {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return websocket.SystemStatusEvent{
		Status:           "healthy",
		Uptime:           time.Since(s.started).Round(time.Second).String(),
		TotalRequests:    s.requests.Load(),
		TotalGenerations: s.generations.Load(),
		ConnectedClients: int(s.wsHub.GetStats().ActiveConnections),
		MemoryUsage:      fmt.Sprintf("%.1f MB", float64(mem.Alloc)/(1<<20)),
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":                "pmo-sentinel",
		"version":             version,
		"model":               s.config.Upstream.Model,
		"storage_driver":      s.config.Storage.Driver,
		"cache_enabled":       s.config.Cache.Enabled,
		"rate_limit_enabled":  s.config.RateLimit.Enabled,
		"anonymize":           s.config.Privacy.Anonymize,
		"project_memory":      s.config.Privacy.ProjectMemory,
		"expand_memory_codes": s.config.Privacy.ExpandMemoryCodes,
		"clean_output":        s.config.Privacy.CleanOutput,
	})
}
