// Package api exposes the masking pipeline over HTTP.
//
// Endpoints:
//
//	POST /sessions   - create a session {"ttlSeconds":600} (optional TTL)
//	GET  /sessions/  - fetch one session by id appended to the path
//	POST /mask       - {"text":"...","sessionId":"..."} (sessionId optional;
//	                   omitted = fresh default-TTL session, id in the response)
//	POST /demask     - {"text":"...","sessionIds":["..."]}
//	GET  /healthz    - liveness probe
//
// The handler is wrapped in h2c so gRPC-style HTTP/2 clients on plaintext
// internal networks can stream without TLS termination in front.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"piimask/internal/config"
	"piimask/internal/logger"
	"piimask/internal/masker"
	"piimask/internal/masking"
	"piimask/internal/metrics"
	"piimask/internal/session"
)

// maxRequestBody bounds mask/demask payloads.
const maxRequestBody = 10 << 20 // 10 MB

// Server is the public masking API server.
type Server struct {
	cfg      *config.Config
	svc      *masking.Service
	sessions *session.Store
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// New creates the API server.
func New(cfg *config.Config, svc *masking.Service, sessions *session.Store, m *metrics.Metrics, log *logger.Logger) *Server {
	return &Server{cfg: cfg, svc: svc, sessions: sessions, metrics: m, log: log}
}

// Handler returns the HTTP handler, HTTP/2 cleartext enabled.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/sessions", s.handleSessionCreate)
	mux.HandleFunc("/sessions/", s.handleSessionGet)
	mux.HandleFunc("/mask", s.handleMask)
	mux.HandleFunc("/demask", s.handleDemask)
	mux.HandleFunc("/healthz", s.handleHealthz)
	return h2c.NewHandler(mux, &http2.Server{})
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1024)
	var req struct {
		TTLSeconds int `json:"ttlSeconds"`
	}
	// An empty body selects the default TTL.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TTLSeconds < 0 {
		http.Error(w, "ttlSeconds must not be negative", http.StatusBadRequest)
		return
	}

	info := s.sessions.Create(time.Duration(req.TTLSeconds) * time.Second)
	s.metrics.SessionsCreated.Add(1)
	s.log.Infof("session_create", "id=%s ttl=%s", info.ID, info.TTL)
	s.writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}
	info, err := s.sessions.Get(id)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req struct {
		Text      string `json:"text"`
		SessionID string `json:"sessionId"`
	}
	// sessionId is optional: without one the pipeline creates a fresh
	// default-TTL session and reports its id in the result.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request: need {\"text\":\"...\"} with optional \"sessionId\"", http.StatusBadRequest)
		return
	}

	result, err := s.svc.Mask(req.Text, req.SessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDemask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var req struct {
		Text       string   `json:"text"`
		SessionIDs []string `json:"sessionIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.SessionIDs) == 0 {
		http.Error(w, "invalid request: need {\"text\":\"...\",\"sessionIds\":[\"...\"]}", http.StatusBadRequest)
		return
	}

	s.writeJSON(w, http.StatusOK, s.svc.Demask(req.Text, req.SessionIDs))
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError maps pipeline errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, session.ErrSessionExpired):
		http.Error(w, "session expired", http.StatusGone)
	case errors.Is(err, masker.ErrTextSpanMismatch):
		s.log.Errorf("mask", "%v", err)
		http.Error(w, "internal masking error", http.StatusInternalServerError)
	default:
		s.log.Errorf("mask", "%v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("write_json", "%v", err)
	}
}

// ListenAndServe starts the API server on the configured bind address.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.APIPort)
	s.log.Infof("listen", "masking API on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
