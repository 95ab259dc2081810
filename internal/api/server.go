package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/quant-ingest/internal/cache"
	"github.com/quant-ingest/internal/database"
	"github.com/quant-ingest/pkg/config"
	"github.com/quant-ingest/pkg/logger"
)

// Server exposes the ingested store over a read-only HTTP API.
type Server struct {
	cfg        *config.Config
	logger     *logrus.Logger
	router     *mux.Router
	httpServer *http.Server

	store *database.Store
	cache cache.Cache
}

// NewServer creates the API server around an opened store. cache may be nil.
func NewServer(cfg *config.Config, store *database.Store, c cache.Cache, logger *logrus.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		store:  store,
		cache:  c,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()
	s.router.Use(logger.Middleware(s.logger))
	s.router.Use(s.recoveryMiddleware)

	apiV1 := s.router.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/health", s.handleHealth).Methods("GET")
	apiV1.HandleFunc("/symbols", s.handleGetSymbols).Methods("GET")
	apiV1.HandleFunc("/symbols/{symbol}/bars", s.handleGetSymbolBars).Methods("GET")
	apiV1.HandleFunc("/bars", s.handleGetBars).Methods("GET")
	apiV1.HandleFunc("/schema/{table}", s.handleGetSchema).Methods("GET")
	apiV1.HandleFunc("/sync-status", s.handleGetSyncStatus).Methods("GET")
}

// Start runs the HTTP server until it fails or Stop is called.
func (s *Server) Start() error {
	addr := s.cfg.GetServerAddr()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.logger.WithField("address", addr).Info("Starting HTTP server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the configured router, used by tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.WithFields(logrus.Fields{
					"error": err,
					"path":  r.URL.Path,
				}).Error("Panic recovered")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	services := map[string]bool{
		"store": s.store.Health(r.Context()) == nil,
	}
	if s.cache != nil {
		services["cache"] = s.cache.Health(r.Context()) == nil
	}

	status := "healthy"
	code := http.StatusOK
	for _, ok := range services {
		if !ok {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	s.writeJSON(w, code, map[string]any{
		"status":    status,
		"services":  services,
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.store.ListSymbols(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list symbols")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"symbols": symbols,
		"count":   len(symbols),
	})
}

func (s *Server) handleGetSymbolBars(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	s.serveBars(w, r, []string{symbol})
}

func (s *Server) handleGetBars(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("symbols")
	if raw == "" {
		s.writeError(w, http.StatusBadRequest, "symbols query parameter is required")
		return
	}
	s.serveBars(w, r, strings.Split(raw, ","))
}

func (s *Server) serveBars(w http.ResponseWriter, r *http.Request, symbols []string) {
	start, end, err := windowParams(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bars, err := s.store.FetchBars(r.Context(), symbols, start, end)
	if err != nil {
		s.logger.WithError(err).Error("Failed to fetch bars")
		s.writeError(w, http.StatusInternalServerError, "failed to fetch bars")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"bars":  bars,
		"count": len(bars),
		"start": start,
		"end":   end,
	})
}

func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	info, err := s.store.SchemaInfo(r.Context(), table)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read schema")
		return
	}
	if len(info) == 0 {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("table %s does not exist", table))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"table":   table,
		"columns": info,
	})
}

func (s *Server) handleGetSyncStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.store.GetSyncStatuses(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to read sync status")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"statuses": statuses,
		"count":    len(statuses),
	})
}

// windowParams reads the optional start/end query window, defaulting to an
// open range.
func windowParams(r *http.Request) (string, string, error) {
	q := r.URL.Query()
	start := q.Get("start")
	end := q.Get("end")
	if start == "" {
		start = "0000-01-01"
	}
	if end == "" {
		end = "9999-12-31"
	}
	for _, d := range []string{start, end} {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			return "", "", fmt.Errorf("date %q is not ISO-8601", d)
		}
	}
	if start > end {
		return "", "", fmt.Errorf("start %s is after end %s", start, end)
	}
	return start, end, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
