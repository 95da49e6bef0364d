// Package management provides a lightweight HTTP API for runtime inspection
// and reconfiguration of the running proxy.
//
// Endpoints:
//
//	GET  /status           - proxy health, uptime, listen address
//	GET  /statistics       - proxied/blocked/modified counters, leaderboards
//	GET  /exclusions       - current user exclusion patterns
//	POST /exclusions       - replace user exclusion patterns {"patterns":[...]}
//	POST /filters/reload   - push a new Configuration to FilterLifecycle
//	GET  /events           - newline-delimited JSON stream of request events
package management

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"privaxy-go/internal/events"
	"privaxy-go/internal/exclusions"
	"privaxy-go/internal/lifecycle"
	"privaxy-go/internal/logger"
	"privaxy-go/internal/statistics"
)

// Server is the management API server.
type Server struct {
	log        *logger.Logger
	startTime  time.Time
	listenAddr string
	port       int
	token      string // bearer token for auth; empty = no auth

	stats      *statistics.Statistics
	exclusions *exclusions.Matcher
	events     *events.Hub
	lifecycle  *lifecycle.FilterLifecycle
}

// New creates a management server.
func New(log *logger.Logger, listenAddr string, port int, token string, stats *statistics.Statistics, excl *exclusions.Matcher, hub *events.Hub, lc *lifecycle.FilterLifecycle) *Server {
	s := &Server{
		log:        log,
		startTime:  time.Now(),
		listenAddr: listenAddr,
		port:       port,
		token:      token,
		stats:      stats,
		exclusions: excl,
		events:     hub,
		lifecycle:  lc,
	}
	if s.token != "" {
		log.Infow("bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the management API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/statistics", s.handleStatistics)
	mux.HandleFunc("/exclusions", s.handleExclusions)
	mux.HandleFunc("/filters/reload", s.handleFiltersReload)
	mux.HandleFunc("/events", s.handleEvents)
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
			s.log.Warnw("unauthorized access attempt", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "running",
		"uptime":      time.Since(s.startTime).Round(time.Second).String(),
		"listen_addr": s.listenAddr,
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Get())
}

func (s *Server) handleExclusions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"patterns": s.exclusions.UserPatterns()})
	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var req struct {
			Patterns []string `json:"patterns"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request: need {\"patterns\":[...]}", http.StatusBadRequest)
			return
		}
		s.exclusions.Replace(req.Patterns)
		writeJSON(w, http.StatusOK, map[string]any{"patterns": req.Patterns})
	default:
		http.Error(w, "GET or POST only", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleFiltersReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var cfg lifecycle.Configuration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "invalid configuration body", http.StatusBadRequest)
		return
	}
	s.lifecycle.Reconfigure(cfg)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reload scheduled"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ch, unsubscribe := s.events.Subscribe()
	defer unsubscribe()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client hung up is not actionable here
}

// ListenAndServe starts the management HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", hostOnly(s.listenAddr), s.port)
	s.log.Infow("management API listening", "addr", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func hostOnly(addr string) string {
	if i := strings.LastIndexByte(addr, ':'); i >= 0 {
		return addr[:i]
	}
	return addr
}
