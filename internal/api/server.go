package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/ricemaid/ricemaid/internal/hydro"
	"github.com/ricemaid/ricemaid/internal/models"
	"github.com/ricemaid/ricemaid/internal/store"
)

// EventSource parses and verifies inbound webhook deliveries.
type EventSource interface {
	ParseRequest(r *http.Request) ([]models.Event, error)
}

// EventHandler drives one inbound event through the conversation engine.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev models.Event)
}

// ImageClassifier predicts the rice growth stage of an image.
type ImageClassifier interface {
	Predict(ctx context.Context, image []byte) (models.Prediction, error)
}

// WaterResources fetches raw water-resources payloads from the upstream API.
type WaterResources interface {
	Fetch(ctx context.Context, p hydro.FetchParams) (json.RawMessage, error)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr         string
	AllowedHosts []string
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address, e.g. ":8000".
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAllowedHosts restricts requests to the given Host header values.
// An empty list allows any host.
func WithAllowedHosts(hosts []string) Option {
	return func(o *Opts) { o.AllowedHosts = hosts }
}

// Server exposes the HTTP surface: the LINE webhook, the carbon-credit
// calculator, IoT sensor CRUD, province management, image prediction, and
// the water-resources proxy.
type Server struct {
	addr         string
	allowedHosts []string
	st           store.Store
	events       EventSource
	engine       EventHandler
	classifier   ImageClassifier
	water        WaterResources
	httpServer   *http.Server
}

// NewServer creates an API server. The store and engine are required; the
// remaining collaborators may be nil, in which case their endpoints report
// service unavailable.
func NewServer(st store.Store, events EventSource, engine EventHandler, classifier ImageClassifier, water WaterResources, opts ...Option) (*Server, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = os.Getenv("RICEMAID_ADDR")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8000"
	}
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("event handler is required")
	}
	slog.Debug("NewServer: creating API server", "addr", cfg.Addr, "allowed_hosts", cfg.AllowedHosts)
	return &Server{
		addr:         cfg.Addr,
		allowedHosts: cfg.AllowedHosts,
		st:           st,
		events:       events,
		engine:       engine,
		classifier:   classifier,
		water:        water,
	}, nil
}

// Handler builds the routing table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))
	if len(s.allowedHosts) > 0 {
		r.Use(s.trustedHost)
	}

	r.Get("/health", s.healthHandler)
	r.Post("/line/webhook", s.lineWebhookHandler)
	r.Post("/carbon-credit/", s.carbonCreditHandler)

	r.Route("/iot/water-level", func(r chi.Router) {
		r.Post("/", s.addWaterLevelHandler)
		r.Get("/", s.listWaterLevelsHandler)
		r.Get("/recent/{days}", s.recentWaterLevelsHandler)
		r.Get("/{deviceID}", s.getWaterLevelHandler)
	})
	r.Route("/iot/field-stats", func(r chi.Router) {
		r.Post("/", s.addFieldStatsHandler)
		r.Get("/", s.listFieldStatsHandler)
		r.Get("/recent/{days}", s.recentFieldStatsHandler)
		r.Get("/{deviceID}", s.getFieldStatsHandler)
	})

	r.Post("/line-user/set-province", s.setProvinceHandler)
	r.Post("/predictions/predict", s.predictHandler)
	r.Get("/wstd/twsapi/v1.0/SmallsizedWaterResources", s.waterResourcesHandler(hydro.ResourceSmall))
	r.Get("/wstd/twsapi/v1.0/MediumsizedWaterResources", s.waterResourcesHandler(hydro.ResourceMedium))

	return r
}

// trustedHost rejects requests whose Host header is not in the allow list.
func (s *Server) trustedHost(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, ok := strings.Cut(host, ":"); ok {
			host = h
		}
		for _, allowed := range s.allowedHosts {
			if allowed == "*" || strings.EqualFold(allowed, host) {
				next.ServeHTTP(w, r)
				return
			}
		}
		slog.Warn("Server.trustedHost: rejected request", "host", r.Host)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid host header"))
	})
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("Server.Run: API server listening", "addr", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to run API server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	slog.Info("Server.Shutdown: stopping API server")
	return s.httpServer.Shutdown(ctx)
}
