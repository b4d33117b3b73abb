// Package dashboard serves the read-only operator view: risk rollups, orders,
// and the guardrail decision tail. It never mutates state.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/marion205/richesreach-broker/internal/risk"
	"github.com/marion205/richesreach-broker/internal/store"
)

// Server is the operator dashboard HTTP server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	store     store.Interface
	audit     store.AuditSink
	risk      *risk.Aggregator
	logger    *logrus.Logger
	port      int
	authToken string
	accountID string
}

// Config holds the dashboard server settings.
type Config struct {
	Port      int
	AuthToken string
	AccountID string
}

// NewServer creates the dashboard server.
func NewServer(cfg Config, st store.Interface, audit store.AuditSink, aggregator *risk.Aggregator, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		store:     st,
		audit:     audit,
		risk:      aggregator,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
		accountID: cfg.AccountID,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/api/risk", s.handleGetRisk)
	s.router.Get("/api/orders", s.handleGetOrders)
	s.router.Get("/api/orders/{clientOrderID}", s.handleGetOrder)
	s.router.Get("/api/positions", s.handleGetPositions)
	s.router.Get("/api/decisions", s.handleGetDecisions)
	s.router.Get("/health", s.handleHealth)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
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
	s.logger.Infof("Starting dashboard server on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleGetRisk(w http.ResponseWriter, r *http.Request) {
	summary, err := s.risk.Summary(s.accountParam(r), time.Now())
	if err != nil {
		s.logger.WithError(err).Error("Failed to compute risk summary")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, summary)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrders(s.accountParam(r))
	if err != nil {
		s.logger.WithError(err).Error("Failed to list orders")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	// Newest first for the operator view.
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	s.writeJSON(w, orders)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.store.GetOrder(chi.URLParam(r, "clientOrderID"))
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, order)
}

func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.store.ListPositions(s.accountParam(r))
	if err != nil {
		s.logger.WithError(err).Error("Failed to list positions")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, positions)
}

func (s *Server) handleGetDecisions(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	decisions, err := s.audit.ListDecisions(s.accountParam(r), time.Time{}, limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list guardrail decisions")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, decisions)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

// accountParam resolves the account to display: an explicit ?account= query
// wins, otherwise the configured default.
func (s *Server) accountParam(r *http.Request) string {
	if account := r.URL.Query().Get("account"); account != "" {
		return account
	}
	return s.accountID
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
