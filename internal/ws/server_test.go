package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/lukelocksmith/timemonitor/internal/session"
)

type stubIngestor struct {
	payloads [][]byte
	err      error
}

func (s *stubIngestor) HandleWebhook(ctx context.Context, payload []byte) error {
	s.payloads = append(s.payloads, payload)
	return s.err
}

type stubHealth struct{}

func (stubHealth) Health() HealthReport {
	return HealthReport{Status: StatusHealthy}
}

func newTestServer(authToken string, ingest Ingestor) *Server {
	cache := session.NewCache()
	return NewServer(cache, NewBroadcaster(cache), ingest, stubHealth{}, nil, authToken)
}

func TestScopeFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
		want    session.Scope
	}{
		{"default is unrestricted", "", false, session.Unrestricted()},
		{"explicit all", "scope=all", false, session.Unrestricted()},
		{"self with worker", "scope=self&worker_id=u1", false, session.SelfOnly("u1")},
		{"self without worker", "scope=self", true, session.Scope{}},
		{"unknown scope", "scope=team", true, session.Scope{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws?"+tt.query, nil)
			got, err := scopeFromRequest(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr = %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("scope = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAuthorize(t *testing.T) {
	s := newTestServer("secret", &stubIngestor{})

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		expect bool
	}{
		{"no credentials", func(r *http.Request) {}, false},
		{"query token", func(r *http.Request) {
			q := r.URL.Query()
			q.Set("token", "secret")
			r.URL.RawQuery = q.Encode()
		}, true},
		{"wrong query token", func(r *http.Request) {
			q := r.URL.Query()
			q.Set("token", "nope")
			r.URL.RawQuery = q.Encode()
		}, false},
		{"custom header", func(r *http.Request) {
			r.Header.Set("X-Timemonitor-Token", "secret")
		}, true},
		{"bearer", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer secret")
		}, true},
		{"bearer wrong token", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer nope")
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
			tt.setup(r)
			if got := s.authorize(r); got != tt.expect {
				t.Errorf("authorize = %v, want %v", got, tt.expect)
			}
		})
	}
}

func TestAuthorizeDisabledWithoutToken(t *testing.T) {
	s := newTestServer("", &stubIngestor{})
	r := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	if !s.authorize(r) {
		t.Error("empty configured token must disable auth")
	}
}

func TestWebhookEndpoint(t *testing.T) {
	t.Run("rejects GET", func(t *testing.T) {
		s := newTestServer("", &stubIngestor{})
		w := httptest.NewRecorder()
		s.handleWebhook(w, httptest.NewRequest(http.MethodGet, "/webhook", nil))
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("status = %d, want 405", w.Code)
		}
	})

	t.Run("passes body to ingestor", func(t *testing.T) {
		ingest := &stubIngestor{}
		s := newTestServer("", ingest)
		w := httptest.NewRecorder()
		body := `{"event":"taskTimeTrackedUpdated"}`
		s.handleWebhook(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
		if len(ingest.payloads) != 1 || string(ingest.payloads[0]) != body {
			t.Errorf("ingestor received %q", ingest.payloads)
		}
	})

	t.Run("ingest failure returns 500", func(t *testing.T) {
		s := newTestServer("", &stubIngestor{err: errors.New("db locked")})
		w := httptest.NewRecorder()
		s.handleWebhook(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}")))
		if w.Code != http.StatusInternalServerError {
			t.Errorf("status = %d, want 500", w.Code)
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		s := newTestServer("secret", &stubIngestor{})
		w := httptest.NewRecorder()
		s.handleWebhook(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader("{}")))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", w.Code)
		}
	})
}

func TestSessionsEndpointScoped(t *testing.T) {
	s := newTestServer("", &stubIngestor{})
	s.cache.Put(activeRecord("s1", "u1"))
	s.cache.Put(activeRecord("s2", "u2"))

	w := httptest.NewRecorder()
	s.handleSessions(w, httptest.NewRequest(http.MethodGet, "/api/sessions?scope=self&worker_id=u2", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "s2") || strings.Contains(body, "s1") {
		t.Errorf("scoped sessions response leaked data: %s", body)
	}
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		host    string
		expect  bool
	}{
		{"no origin header", nil, "", "example.com", true},
		{"same host", nil, "http://example.com", "example.com", true},
		{"localhost default", nil, "http://localhost:3000", "example.com", true},
		{"loopback default", nil, "http://127.0.0.1:8080", "example.com", true},
		{"foreign host", nil, "http://evil.test", "example.com", false},
		{"allowlist match", []string{"https://dash.example.com"}, "https://dash.example.com", "api.example.com", true},
		{"allowlist host match", []string{"https://dash.example.com"}, "http://dash.example.com", "api.example.com", true},
		{"allowlist miss", []string{"https://dash.example.com"}, "http://localhost:3000", "api.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := session.NewCache()
			s := NewServer(cache, NewBroadcaster(cache), &stubIngestor{}, nil, tt.allowed, "")
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := s.checkOrigin(r); got != tt.expect {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.expect)
			}
		})
	}
}
