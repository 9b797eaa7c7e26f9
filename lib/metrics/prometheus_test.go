package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetricsRegistry(t *testing.T) {
	mr := NewMetricsRegistry()
	require.NotNil(t, mr)
	require.NotNil(t, mr.registry)
}

func TestHTTPMiddleware(t *testing.T) {
	mr := NewMetricsRegistry()

	handler := mr.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("test response"))
	}))

	req := httptest.NewRequest("GET", "/api/test", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test response", w.Body.String())
}

func TestHTTPMiddlewareWithChiRouter(t *testing.T) {
	mr := NewMetricsRegistry()

	r := chi.NewRouter()
	r.Use(mr.HTTPMiddleware)
	r.Get("/api/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("user data"))
	})

	req := httptest.NewRequest("GET", "/api/users/123", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestResponseWriter(t *testing.T) {
	w := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)
	assert.Equal(t, http.StatusNotFound, rw.statusCode)

	data := []byte("test data")
	n, err := rw.Write(data)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, len(data), rw.bytesWritten)
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"UUID replacement", "/api/users/550e8400-e29b-41d4-a716-446655440000/profile", "/api/users/{id}/profile"},
		{"Numeric ID replacement", "/api/users/12345/posts", "/api/users/{id}/posts"},
		{"No replacement needed", "/api/users/profile", "/api/users/profile"},
		{"Multiple IDs", "/api/users/123/posts/456", "/api/users/{id}/posts/{id}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sanitizePath(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestHookEventMetrics(t *testing.T) {
	mr := NewMetricsRegistry()

	mr.RecordHookEvent("session.start", "ok")
	mr.RecordHookEvent("tool.failure", "error")

	done := mr.DispatchTimer("session.idle")
	time.Sleep(5 * time.Millisecond)
	done()

	mr.SetPendingEntriesActive(3)
	mr.RecordStreamingEdit("discord")
	mr.RecordFallbackDelivery("no-hook-activity")
	mr.SetChannelQueueDepth("ch1", 2)
}

func TestDatabaseMetrics(t *testing.T) {
	mr := NewMetricsRegistry()

	mr.RecordDBQuery("SELECT", 50*time.Millisecond, nil)
	mr.RecordDBQuery("INSERT", 100*time.Millisecond, errors.New("constraint violation"))

	mr.RecordDBConnection(5, nil)
	mr.RecordDBConnection(5, errors.New("connection failed"))
}

func TestDBQueryTimer(t *testing.T) {
	mr := NewMetricsRegistry()

	done := mr.DBQueryTimer("SELECT")
	time.Sleep(10 * time.Millisecond)
	done(nil)

	done = mr.DBQueryTimer("UPDATE")
	time.Sleep(5 * time.Millisecond)
	done(errors.New("update failed"))
}

func TestCacheMetrics(t *testing.T) {
	mr := NewMetricsRegistry()

	mr.RecordCacheHit("dedupe-cache")
	mr.RecordCacheMiss("dedupe-cache")

	mr.RecordCacheOperation("dedupe-cache", "get", 1*time.Millisecond)
	mr.RecordCacheOperation("dedupe-cache", "set", 2*time.Millisecond)
}

func TestCacheOperationTimer(t *testing.T) {
	mr := NewMetricsRegistry()

	done := mr.CacheOperationTimer("dedupe-cache", "get")
	time.Sleep(5 * time.Millisecond)
	done()
}

func TestSystemMetrics(t *testing.T) {
	mr := NewMetricsRegistry()

	mr.UpdateSystemMetrics(100, 1024*1024, 2048*1024)
	mr.UpdateSystemMetrics(120, 1024*1024*2, 2048*1024*2)
}

func TestHTTPHandler(t *testing.T) {
	mr := NewMetricsRegistry()

	mr.RecordHookEvent("session.start", "ok")
	mr.RecordCacheHit("test-cache")

	handler := mr.HTTPHandler()
	require.NotNil(t, handler)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Contains(t, body, "discode_hook_events_total")
	assert.Contains(t, body, "discode_cache_hits_total")
}

func TestJSONHandler(t *testing.T) {
	mr := NewMetricsRegistry()

	mr.RecordHookEvent("session.start", "ok")
	mr.RecordCacheHit("test-cache")

	handler := mr.JSONHandler()
	require.NotNil(t, handler)

	req := httptest.NewRequest("GET", "/metrics/json", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	body := w.Body.String()
	assert.Contains(t, body, "timestamp")
	assert.Contains(t, body, "metrics")
}

func TestContextHelpers(t *testing.T) {
	mr := NewMetricsRegistry()
	ctx := context.Background()

	ctx = WithMetrics(ctx, mr)

	retrieved := FromContext(ctx)
	assert.NotNil(t, retrieved)
	assert.Equal(t, mr, retrieved)

	emptyCtx := context.Background()
	retrieved = FromContext(emptyCtx)
	assert.Nil(t, retrieved)
}

func TestHTTPHandlerIntegration(t *testing.T) {
	mr := NewMetricsRegistry()

	r := chi.NewRouter()
	r.Use(mr.HTTPMiddleware)

	r.Get("/hooks/session-start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok": true}`))
	})
	r.Get("/hooks/session/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"id": "123"}`))
	})
	r.Post("/hooks/session-start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "456"}`))
	})

	r.Get("/metrics", mr.HTTPHandler().ServeHTTP)
	r.Get("/metrics/json", mr.JSONHandler())

	testCases := []struct {
		method string
		path   string
		status int
	}{
		{"GET", "/hooks/session-start", http.StatusOK},
		{"GET", "/hooks/session/123", http.StatusOK},
		{"POST", "/hooks/session-start", http.StatusCreated},
		{"GET", "/hooks/session/456", http.StatusOK},
	}

	for _, tc := range testCases {
		req := httptest.NewRequest(tc.method, tc.path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.status, w.Code)
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()

	assert.Contains(t, body, "discode_http_requests_total")
	assert.Contains(t, body, "discode_http_request_duration_seconds")
}

func BenchmarkHTTPMiddleware(b *testing.B) {
	mr := NewMetricsRegistry()

	handler := mr.HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/api/test", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
	}
}

func BenchmarkRecordHookEvent(b *testing.B) {
	mr := NewMetricsRegistry()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mr.RecordHookEvent("tool.activity", "ok")
	}
}

func BenchmarkRecordCacheHit(b *testing.B) {
	mr := NewMetricsRegistry()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mr.RecordCacheHit("test-cache")
	}
}

func TestMetricsEndpointFormat(t *testing.T) {
	mr := NewMetricsRegistry()

	mr.RecordHookEvent("session.start", "ok")
	mr.RecordCacheHit("dedupe-cache")
	mr.RecordCacheMiss("dedupe-cache")
	mr.SetPendingEntriesActive(1)
	mr.RecordDBQuery("SELECT", 50*time.Millisecond, nil)

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	mr.HTTPHandler().ServeHTTP(w, req)

	body := w.Body.String()

	assert.Contains(t, body, "# HELP discode_pending_entries_active")
	assert.Contains(t, body, "# TYPE discode_pending_entries_active gauge")
	assert.Contains(t, body, "discode_pending_entries_active 1")

	assert.Contains(t, body, "# HELP discode_cache_hits_total")
	assert.Contains(t, body, "# TYPE discode_cache_hits_total counter")
	assert.Contains(t, body, `discode_cache_hits_total{cache_name="dedupe-cache"} 1`)

	assert.Contains(t, body, "# HELP discode_hook_events_total")
	assert.Contains(t, body, "# TYPE discode_hook_events_total counter")
}

func TestConcurrentMetrics(t *testing.T) {
	mr := NewMetricsRegistry()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func(id int) {
			mr.RecordHookEvent("tool.activity", "ok")
			mr.RecordStreamingEdit("slack")
			done <- true
		}(i)
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestMetricsExport(t *testing.T) {
	mr := NewMetricsRegistry()

	mr.RecordHookEvent("session.start", "ok")
	mr.RecordCacheHit("cache-1")
	mr.SetPendingEntriesActive(2)

	promReq := httptest.NewRequest("GET", "/metrics", nil)
	promW := httptest.NewRecorder()
	mr.HTTPHandler().ServeHTTP(promW, promReq)

	promBody, err := io.ReadAll(promW.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, promBody)
	assert.Contains(t, string(promBody), "discode_pending_entries_active")

	jsonReq := httptest.NewRequest("GET", "/metrics/json", nil)
	jsonW := httptest.NewRecorder()
	mr.JSONHandler().ServeHTTP(jsonW, jsonReq)

	jsonBody, err := io.ReadAll(jsonW.Body)
	require.NoError(t, err)
	assert.NotEmpty(t, jsonBody)
	assert.True(t, strings.HasPrefix(jsonW.Header().Get("Content-Type"), "application/json"))
}
