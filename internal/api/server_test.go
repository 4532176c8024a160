package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"runhub/internal/domain/knowledge"
	"runhub/internal/platform/metrics"
	"runhub/internal/source"
)

type stubSearcher struct {
	outcome knowledge.SearchOutcome
}

func (s *stubSearcher) SearchAll(ctx context.Context, query string, strat *knowledge.Strategy) knowledge.SearchOutcome {
	return s.outcome
}

func newTestServer(t *testing.T, cfg *ServerConfig) *Server {
	t.Helper()
	collector := metrics.NewCollector()
	searcher := &stubSearcher{outcome: knowledge.SearchOutcome{
		Documents: []knowledge.Document{{
			ID:          "runbooks/disk-cleanup.md",
			Title:       "Disk space cleanup runbook",
			Content:     "purge old logs to free disk space on full volumes",
			Source:      "local-docs",
			SourceType:  knowledge.SourceTypeFile,
			LastUpdated: time.Now(),
		}},
		Attempted: 1,
		Responded: 1,
	}}
	engine := knowledge.NewEngine(nil, collector)
	processor := knowledge.NewProcessor(searcher, engine, collector)
	registry := source.NewRegistry(nil, collector)
	return NewServer(cfg, processor, registry, collector)
}

func signToken(t *testing.T, secret string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "oncall-tester",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestHealthRouteBypassesJWT(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.JWTSecret = "test-secret"
	handler := newTestServer(t, cfg).Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for /health without token, got %d", rr.Code)
	}
}

func TestProtectedRoutesRequireJWT(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.JWTSecret = "test-secret"
	handler := newTestServer(t, cfg).Handler()

	tests := []struct {
		name   string
		method string
		path   string
	}{
		{"query requires jwt", http.MethodPost, "/api/v1/query"},
		{"feedback requires jwt", http.MethodPost, "/api/v1/feedback"},
		{"sources status requires jwt", http.MethodGet, "/api/v1/sources/status"},
		{"cache stats requires jwt", http.MethodGet, "/api/v1/cache/stats"},
		{"metrics requires jwt", http.MethodGet, "/api/v1/metrics"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(`{}`))
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401 for protected route %s, got %d", tt.path, rr.Code)
			}
		})
	}
}

func TestValidTokenGrantsAccess(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.JWTSecret = "test-secret"
	handler := newTestServer(t, cfg).Handler()
	token := signToken(t, "test-secret")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query",
		strings.NewReader(`{"query":"disk space cleanup"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestWrongSecretRejected(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.JWTSecret = "test-secret"
	handler := newTestServer(t, cfg).Handler()
	token := signToken(t, "other-secret")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sources/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for token signed with wrong secret, got %d", rr.Code)
	}
}

func TestAuthDisabledRoutesOpen(t *testing.T) {
	handler := newTestServer(t, DefaultServerConfig()).Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/query",
		strings.NewReader(`{"query":"disk space cleanup"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 without auth configured, got %d: %s", rr.Code, rr.Body.String())
	}

	var envelope APIResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Code != http.StatusOK {
		t.Fatalf("envelope code = %d, want 200", envelope.Code)
	}
}

func TestQueryRejectsInvalidInput(t *testing.T) {
	handler := newTestServer(t, DefaultServerConfig()).Handler()

	tests := []struct {
		name string
		body string
	}{
		{"empty query", `{"query":""}`},
		{"whitespace query", `{"query":"   "}`},
		{"unknown severity", `{"query":"disk cleanup","context":{"severity":"catastrophic"}}`},
		{"malformed json", `{"query":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestFeedbackValidation(t *testing.T) {
	handler := newTestServer(t, DefaultServerConfig()).Handler()

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"missing runbook id", `{"outcome":"resolved"}`, http.StatusBadRequest},
		{"bad outcome", `{"runbook_id":"rb-1","outcome":"maybe"}`, http.StatusBadRequest},
		{"valid without store", `{"runbook_id":"rb-1","outcome":"resolved"}`, http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			if rr.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestFeedbackPersisted(t *testing.T) {
	srv := newTestServer(t, DefaultServerConfig())
	recorded := make([]*knowledge.FeedbackRecord, 0, 1)
	srv.SetFeedbackStore(feedbackFunc(func(ctx context.Context, rec *knowledge.FeedbackRecord) error {
		recorded = append(recorded, rec)
		return nil
	}))
	handler := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback",
		strings.NewReader(`{"runbook_id":"rb-1","outcome":"escalated","notes":"paged secondary"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(recorded) != 1 {
		t.Fatalf("expected 1 persisted record, got %d", len(recorded))
	}
	if recorded[0].ID == "" {
		t.Fatal("server must assign an ID when the client omits one")
	}
	if recorded[0].CreatedAt.IsZero() {
		t.Fatal("server must stamp created_at when the client omits it")
	}
}

type feedbackFunc func(ctx context.Context, rec *knowledge.FeedbackRecord) error

func (f feedbackFunc) Record(ctx context.Context, rec *knowledge.FeedbackRecord) error {
	return f(ctx, rec)
}

func TestGetDocumentUnknownSource(t *testing.T) {
	handler := newTestServer(t, DefaultServerConfig()).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sources/nope/documents/doc-1", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown source, got %d", rr.Code)
	}
}

func TestCacheStatsUnconfigured(t *testing.T) {
	handler := newTestServer(t, DefaultServerConfig()).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when cache is not configured, got %d", rr.Code)
	}
}

func TestMetricsSnapshot(t *testing.T) {
	handler := newTestServer(t, DefaultServerConfig()).Handler()

	// 先打一次查询让计数器有内容
	qreq := httptest.NewRequest(http.MethodPost, "/api/v1/query",
		strings.NewReader(`{"query":"disk space cleanup"}`))
	qreq.Header.Set("Content-Type", "application/json")
	handler.ServeHTTP(httptest.NewRecorder(), qreq)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for metrics, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "queries_total") {
		t.Fatalf("metrics snapshot missing query counters: %s", rr.Body.String())
	}
}
