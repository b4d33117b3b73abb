package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/marion205/richesreach-broker/internal/models"
)

// SignatureHeader carries the hex-encoded HMAC-SHA256 of the request body.
const SignatureHeader = "X-Webhook-Signature"

// maxBodyBytes caps webhook request bodies.
const maxBodyBytes = 1 << 20

// Server exposes the broker callback endpoints and /metrics.
type Server struct {
	router     *chi.Mux
	server     *http.Server
	reconciler *Reconciler
	logger     *logrus.Logger
	port       int
}

// Config holds the webhook server settings.
type Config struct {
	Port int
}

// NewServer creates the webhook server.
func NewServer(cfg Config, reconciler *Reconciler, logger *logrus.Logger) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		reconciler: reconciler,
		logger:     logger,
		port:       cfg.Port,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Post("/webhooks/trade-updates", s.handleTradeUpdate)
	s.router.Post("/webhooks/account-updates", s.handleAccountUpdate)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/health", s.handleHealth)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the server until it fails or is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Infof("Starting webhook server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleTradeUpdate applies a trade-update callback. The response is always
// one of 401 (bad signature), 404 (unknown order), or 200 (applied, harmless
// duplicate, or logged-and-dropped invariant violation).
func (s *Server) handleTradeUpdate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.verifiedBody(w, r)
	if !ok {
		return
	}

	var update TradeUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		s.logger.WithError(err).Warn("Malformed trade update payload")
		w.WriteHeader(http.StatusOK)
		return
	}

	err := s.reconciler.ApplyTradeUpdate(&update)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, ErrUnknownOrder):
		http.Error(w, "order not found", http.StatusNotFound)
	default:
		// Invariant violations and internal errors are logged by the
		// reconciler; the broker gets a 200 so it stops redelivering.
		var violation *models.InvariantViolationError
		if !errors.As(err, &violation) {
			s.logger.WithError(err).Error("Failed to apply trade update")
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) handleAccountUpdate(w http.ResponseWriter, r *http.Request) {
	body, ok := s.verifiedBody(w, r)
	if !ok {
		return
	}

	var update AccountUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		s.logger.WithError(err).Warn("Malformed account update payload")
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := s.reconciler.ApplyAccountUpdate(&update); err != nil {
		s.logger.WithError(err).Error("Failed to apply account update")
	}
	w.WriteHeader(http.StatusOK)
}

// verifiedBody reads the raw body and verifies its HMAC. On failure it writes
// the 401 itself and returns ok=false; no payload detail leaks to the caller.
func (s *Server) verifiedBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	if !s.reconciler.VerifySignature(body, r.Header.Get(SignatureHeader)) {
		invalidSignatures.Inc()
		s.logger.WithField("path", r.URL.Path).Warn("Webhook signature verification failed")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return body, true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	}); err != nil {
		s.logger.WithError(err).Error("Failed to encode health response")
	}
}
