// Package management provides a lightweight HTTP API for runtime inspection
// and configuration of the running masking service.
//
// Endpoints:
//
//	GET  /status             - service health, detector toggles, store sizes
//	GET  /metrics            - counters and latency snapshot
//	GET  /dictionary         - list manual dictionary entries
//	POST /dictionary/add     - add an entry {"category":"PERSON","value":"Max Muster"}
//	POST /dictionary/remove  - remove an entry {"category":"PERSON","value":"Max Muster"}
//	GET  /sessions           - list sessions with state and mapping counts
//	POST /sessions/purge     - purge a session {"id":"..."}
//
// The server binds to loopback only; it is an operator surface, not part of
// the masking API.
package management

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"piimask/internal/config"
	"piimask/internal/dictionary"
	"piimask/internal/logger"
	"piimask/internal/metrics"
	"piimask/internal/session"
)

// Server is the management API server.
type Server struct {
	cfg       *config.Config
	startTime time.Time
	dict      *dictionary.Store
	sessions  *session.Store
	token     string           // bearer token for auth; empty = no auth
	metrics   *metrics.Metrics // nil = no metrics
	log       *logger.Logger
}

// New creates a management server.
func New(cfg *config.Config, dict *dictionary.Store, sessions *session.Store, m *metrics.Metrics, log *logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		dict:      dict,
		sessions:  sessions,
		token:     cfg.ManagementToken,
		metrics:   m,
		log:       log,
	}
	if s.token != "" {
		log.Info("auth", "bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the management API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/dictionary", s.handleDictionaryList)
	mux.HandleFunc("/dictionary/add", s.handleDictionaryAdd)
	mux.HandleFunc("/dictionary/remove", s.handleDictionaryRemove)
	mux.HandleFunc("/sessions", s.handleSessionList)
	mux.HandleFunc("/sessions/purge", s.handleSessionPurge)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			s.log.Warnf("auth", "unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// categoryRegexp validates a category label: upper-case letters, digits and
// underscores, starting with a letter. The same shape the token grammar uses.
var categoryRegexp = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// validCategory checks a (normalized, upper-case) category label.
func validCategory(c string) bool {
	return len(c) <= 64 && categoryRegexp.MatchString(c)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status         string `json:"status"`
		Uptime         string `json:"uptime"`
		APIPort        int    `json:"apiPort"`
		Sessions       int    `json:"sessions"`
		DictionarySize int    `json:"dictionarySize"`
		DefaultTTLSecs int    `json:"defaultTtlSeconds"`
		Detectors      struct {
			Regex      bool `json:"regex"`
			Model      bool `json:"model"`
			Dictionary bool `json:"dictionary"`
		} `json:"detectors"`
		Ollama struct {
			Endpoint string `json:"endpoint"`
			Model    string `json:"model"`
		} `json:"ollama"`
	}

	resp := response{
		Status:         "running",
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
		APIPort:        s.cfg.APIPort,
		Sessions:       s.sessions.Count(),
		DictionarySize: s.dict.Count(),
		DefaultTTLSecs: s.cfg.DefaultTTLSeconds,
	}
	resp.Detectors.Regex = s.cfg.UseRegex
	resp.Detectors.Model = s.cfg.UseModel
	resp.Detectors.Dictionary = s.cfg.UseDictionary
	resp.Ollama.Endpoint = s.cfg.OllamaEndpoint
	resp.Ollama.Model = s.cfg.OllamaModel

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleDictionaryList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": s.dict.All()})
}

// dictionaryRequest is the body for /dictionary/add and /dictionary/remove.
type dictionaryRequest struct {
	Category string `json:"category"`
	Value    string `json:"value"`
}

// decodeDictionaryRequest reads and validates an add/remove body.
func (s *Server) decodeDictionaryRequest(w http.ResponseWriter, r *http.Request) (dictionaryRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 4096)
	var req dictionaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == "" || req.Category == "" {
		http.Error(w, "invalid request: need {\"category\":\"...\",\"value\":\"...\"}", http.StatusBadRequest)
		return dictionaryRequest{}, false
	}
	req.Category = strings.ToUpper(strings.TrimSpace(req.Category))
	if !validCategory(req.Category) {
		http.Error(w, "invalid category label", http.StatusBadRequest)
		return dictionaryRequest{}, false
	}
	return req, true
}

func (s *Server) handleDictionaryAdd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	req, ok := s.decodeDictionaryRequest(w, r)
	if !ok {
		return
	}
	if err := s.dict.Add(req.Category, req.Value); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.log.Infof("dict_add", "category=%s", req.Category)
	s.writeJSON(w, http.StatusOK, map[string]string{"added": req.Value, "category": req.Category})
}

func (s *Server) handleDictionaryRemove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	req, ok := s.decodeDictionaryRequest(w, r)
	if !ok {
		return
	}
	if !s.dict.Remove(req.Category, req.Value) {
		http.Error(w, "entry not found", http.StatusNotFound)
		return
	}
	s.log.Infof("dict_remove", "category=%s", req.Category)
	s.writeJSON(w, http.StatusOK, map[string]string{"removed": req.Value, "category": req.Category})
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleSessionPurge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1024)
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "invalid request: need {\"id\":\"...\"}", http.StatusBadRequest)
		return
	}
	if err := s.sessions.Purge(req.ID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	if s.metrics != nil {
		s.metrics.SessionsPurged.Add(1)
	}
	s.log.Infof("session_purge", "id=%s", req.ID)
	s.writeJSON(w, http.StatusOK, map[string]string{"purged": req.ID})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("write_json", "%v", err)
	}
}

// ListenAndServe starts the management HTTP server on loopback.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.ManagementPort)
	s.log.Infof("listen", "management API on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
