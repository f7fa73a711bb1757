// Package http serves the presentation API: published signals, ingestion
// task progress, and the feedback endpoint. Everything except POST
// /feedback is read-only.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/idxquant/idxpulse/internal/config"
	"github.com/idxquant/idxpulse/internal/domain"
	"github.com/idxquant/idxpulse/internal/ingest"
	"github.com/idxquant/idxpulse/internal/metrics"
	"github.com/idxquant/idxpulse/internal/review"
	"github.com/idxquant/idxpulse/internal/store"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// Server is the HTTP presentation surface.
type Server struct {
	router   *mux.Router
	server   *http.Server
	store    store.Store
	reviewer *review.Reviewer
	tasks    *ingest.Arena
	reg      *metrics.Registry
	cfg      config.HTTPConfig
}

// NewServer creates the server and verifies the port is free.
func NewServer(cfg config.HTTPConfig, st store.Store, reviewer *review.Reviewer, tasks *ingest.Arena, reg *metrics.Registry) (*Server, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("port %d is busy or unavailable: %w", cfg.Port, err)
	}
	listener.Close()

	s := &Server{
		router:   mux.NewRouter(),
		store:    st,
		reviewer: reviewer,
		tasks:    tasks,
		reg:      reg,
		cfg:      cfg,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.timeoutMiddleware)

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/signals", s.handleListSignals).Methods("GET")
	s.router.HandleFunc("/signals/{id}", s.handleGetSignal).Methods("GET")
	s.router.HandleFunc("/tasks", s.handleListTasks).Methods("GET")
	s.router.HandleFunc("/feedback", s.handleListFeedback).Methods("GET")
	s.router.HandleFunc("/feedback", s.handlePostFeedback).Methods("POST")
	if s.reg != nil {
		s.router.Handle("/metrics", s.reg.Handler()).Methods("GET")
	}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree for tests.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	if s.reg != nil {
		body["ingested_total"] = s.reg.IngestedTotal()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleListSignals(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	signals, err := s.store.ListSignals(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list signals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"signals": signals, "count": len(signals)})
}

func (s *Server) handleGetSignal(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sig, err := s.store.GetSignal(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownSignal) {
			writeError(w, http.StatusNotFound, "unknown signal id")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load signal")
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var tasks []ingest.Task
	if s.tasks != nil {
		tasks = s.tasks.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

func (s *Server) handleListFeedback(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	records, err := s.store.ListFeedback(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list feedback")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feedback": records, "count": len(records)})
}

type feedbackRequest struct {
	SignalID  string    `json:"signal_id"`
	Verdict   string    `json:"verdict"`
	Note      string    `json:"note"`
	VerdictAt time.Time `json:"verdict_at"`
}

func (s *Server) handlePostFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	rec, err := s.reviewer.RecordFeedback(r.Context(), req.SignalID, domain.Verdict(req.Verdict), req.Note, req.VerdictAt)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownSignal) {
			writeError(w, http.StatusNotFound, "unknown signal id")
			return
		}
		var fe *domain.FeedbackError
		if errors.As(err, &fe) {
			writeError(w, http.StatusBadRequest, fe.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to record feedback")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		requestID, _ := r.Context().Value(requestIDKey).(string)
		log.Debug().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	return v
}
