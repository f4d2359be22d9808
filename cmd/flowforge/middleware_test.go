package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/internal/ctxkeys"
)

func TestSecurityHeaders(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	handler := SecurityHeaders()(inner)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "1; mode=block", w.Header().Get("X-XSS-Protection"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestSecurityHeaders_ChainedWithOtherMiddleware(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	handler := Chain(inner, SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	handler.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	// SecurityHeaders should be present
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
	// RequestID should also be present
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestID_InjectsContext(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ctxkeys.TraceID(r.Context())
	})

	handler := RequestID()(inner)

	t.Run("generated", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, w.Header().Get("X-Request-ID"))
	})

	t.Run("client provided is preserved", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("X-Request-ID", "req-client-1")
		handler.ServeHTTP(w, r)
		assert.Equal(t, "req-client-1", seen)
		assert.Equal(t, "req-client-1", w.Header().Get("X-Request-ID"))
	})
}

func TestAPIKeyAuth(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	skipPaths := []string{"/health"}

	tests := []struct {
		name       string
		keys       []string
		path       string
		header     string
		query      string
		allowQuery bool
		expected   int
	}{
		{
			name:     "no keys configured disables auth",
			path:     "/api/v1/executions",
			expected: http.StatusOK,
		},
		{
			name:     "valid header key",
			keys:     []string{"secret"},
			path:     "/api/v1/executions",
			header:   "secret",
			expected: http.StatusOK,
		},
		{
			name:     "missing key rejected",
			keys:     []string{"secret"},
			path:     "/api/v1/executions",
			expected: http.StatusUnauthorized,
		},
		{
			name:     "wrong key rejected",
			keys:     []string{"secret"},
			path:     "/api/v1/executions",
			header:   "other",
			expected: http.StatusUnauthorized,
		},
		{
			name:     "skip path bypasses auth",
			keys:     []string{"secret"},
			path:     "/health",
			expected: http.StatusOK,
		},
		{
			name:       "query key accepted when allowed",
			keys:       []string{"secret"},
			path:       "/api/v1/executions",
			query:      "secret",
			allowQuery: true,
			expected:   http.StatusOK,
		},
		{
			name:     "query key rejected when not allowed",
			keys:     []string{"secret"},
			path:     "/api/v1/executions",
			query:    "secret",
			expected: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := APIKeyAuth(tt.keys, skipPaths, tt.allowQuery, zap.NewNop())(inner)

			target := tt.path
			if tt.query != "" {
				target += "?api_key=" + tt.query
			}
			r := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				r.Header.Set("X-API-Key", tt.header)
			}

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, r)
			assert.Equal(t, tt.expected, w.Code)
		})
	}
}

func TestCORS(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("allowed origin gets headers", func(t *testing.T) {
		handler := CORS([]string{"https://app.example.com"})(inner)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "https://app.example.com")
		handler.ServeHTTP(w, r)

		assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("unknown origin gets no headers", func(t *testing.T) {
		handler := CORS([]string{"https://app.example.com"})(inner)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Origin", "https://evil.example.com")
		handler.ServeHTTP(w, r)

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("no config denies cross-origin preflight", func(t *testing.T) {
		handler := CORS(nil)(inner)

		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodOptions, "/", nil)
		r.Header.Set("Origin", "https://app.example.com")
		handler.ServeHTTP(w, r)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/health", "/health"},
		{"/api/v1/workflows/execute", "/api/v1/workflows/execute"},
		{"/api/v1/executions", "/api/v1/executions"},
		{"/api/v1/executions/0b5fc3a6-9b33-4c2f-9e5e-6f1a2b3c4d5e", "/api/v1/executions/:id"},
		{"/api/v1/executions/deadbeef01/log", "/api/v1/executions/:id/log"},
		{"/api/v1/approvals/12345/resolve", "/api/v1/approvals/:id/resolve"},
		{"/api/v1/templates/sequential_pipeline/instantiate", "/api/v1/templates/sequential_pipeline/instantiate"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizePath(tt.path))
		})
	}
}

func TestMetricsMiddleware(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newHTTPMetrics(reg)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("done"))
	})
	handler := MetricsMiddleware(m)(inner)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/workflows/execute", nil))

	assert.Equal(t, http.StatusCreated, w.Code)
	count := testutil.ToFloat64(m.requestsTotal.WithLabelValues("POST", "/api/v1/workflows/execute", "201"))
	assert.Equal(t, 1.0, count)
}
