package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/lukelocksmith/timemonitor/internal/session"
)

// Ingestor handles raw push-channel payloads. A nil return with a dropped
// payload is fine; a non-nil error signals a persistence failure so the
// upstream redelivers.
type Ingestor interface {
	HandleWebhook(ctx context.Context, payload []byte) error
}

// HealthSource reports reconciliation health for /api/health.
type HealthSource interface {
	Health() HealthReport
}

const maxWebhookBody = 1 << 20

type Server struct {
	cache          *session.Cache
	broadcaster    *Broadcaster
	ingest         Ingestor
	health         HealthSource
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
}

func NewServer(cache *session.Cache, broadcaster *Broadcaster, ingest Ingestor, health HealthSource, allowedOrigins []string, authToken string) *Server {
	s := &Server{
		cache:          cache,
		broadcaster:    broadcaster,
		ingest:         ingest,
		health:         health,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      authToken,
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/health", s.handleHealth)
}

// scopeFromRequest derives the observer's visibility scope from the
// request. Role and identity are consumed as given; validating them is
// the authentication layer's concern.
func scopeFromRequest(r *http.Request) (session.Scope, error) {
	switch r.URL.Query().Get("scope") {
	case "", "all":
		return session.Unrestricted(), nil
	case "self":
		workerID := r.URL.Query().Get("worker_id")
		if workerID == "" {
			return session.Scope{}, fmt.Errorf("scope=self requires worker_id")
		}
		return session.SelfOnly(workerID), nil
	default:
		return session.Scope{}, fmt.Errorf("unknown scope %q", r.URL.Query().Get("scope"))
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	scope, err := scopeFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade error: %v", err)
		return
	}

	log.Printf("Observer connected: %s (scope=%s)", r.RemoteAddr, scopeLabel(scope))
	c := s.broadcaster.AddClient(conn, scope)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			log.Printf("Observer disconnected: %s", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func scopeLabel(scope session.Scope) string {
	if scope.IsNoop() {
		return "all"
	}
	return "self:" + scope.UserID
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	// Malformed payloads are dropped inside the ingestor and still get a
	// 200: a retry will not make them parse. Only persistence failures
	// surface as 500 so the upstream redelivers.
	if err := s.ingest.HandleWebhook(r.Context(), body); err != nil {
		log.Printf("webhook ingest error: %v", err)
		http.Error(w, "ingest failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	scope, err := scopeFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(scope.FilterSlice(s.cache.All()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.health == nil {
		http.Error(w, "health not available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.health.Health())
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Timemonitor-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

// NewHTTPServer builds the listener for the configured bind address. The
// caller owns its lifecycle so shutdown can drain connections before the
// store closes.
func NewHTTPServer(host string, port int, mux *http.ServeMux) *http.Server {
	return &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: mux,
	}
}
