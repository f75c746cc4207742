package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sweetline/sales-assistant/pkg/audit"
)

func TestRequestLogger_LogsRequests(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	handler := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/assistant/chat", nil)
	req.RemoteAddr = "192.0.2.10:51234"
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if logs.Len() != 1 {
		t.Fatalf("expected 1 log entry, got %d", logs.Len())
	}

	entry := logs.All()[0]
	if entry.Message != "HTTP request" {
		t.Errorf("expected message 'HTTP request', got '%s'", entry.Message)
	}
	if entry.Level != zapcore.InfoLevel {
		t.Errorf("expected INFO for API calls, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["client_ip"] != "192.0.2.10" {
		t.Errorf("expected client_ip 192.0.2.10, got %v", fields["client_ip"])
	}
	if fields["bytes"] != int64(len(`{"success":true}`)) {
		t.Errorf("unexpected bytes field %v", fields["bytes"])
	}
}

func TestRequestLogger_Levels(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   zapcore.Level
	}{
		{"/health", http.StatusOK, zapcore.DebugLevel},
		{"/api/assistant/chat", http.StatusBadRequest, zapcore.InfoLevel},
		{"/api/assistant/chat", http.StatusServiceUnavailable, zapcore.WarnLevel},
		{"/ping", http.StatusInternalServerError, zapcore.WarnLevel},
	}

	for _, tt := range tests {
		if got := requestLevel(tt.path, tt.status); got != tt.want {
			t.Errorf("requestLevel(%q, %d) = %s, want %s", tt.path, tt.status, got, tt.want)
		}
	}
}

func TestRequestLogger_ProbesHiddenAtInfo(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	handler := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	if logs.Len() != 0 {
		t.Errorf("expected health probe to be logged below INFO, got %d entries", logs.Len())
	}
}

func TestRequestLogger_AttachesClientIPForAudit(t *testing.T) {
	var got audit.RequestInfo
	proxies, err := ParseTrustedProxies([]string{"10.0.0.1"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}
	handler := RequestLogger(zap.NewNop(), proxies)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = audit.RequestInfoFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/assistant/sessions/x/history", nil)
	req.RemoteAddr = "10.0.0.1:443"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.ClientIP != "203.0.113.5" {
		t.Errorf("expected client IP 203.0.113.5, got %q", got.ClientIP)
	}

	// The same header from an untrusted peer is ignored
	req = httptest.NewRequest(http.MethodGet, "/api/assistant/sessions/x/history", nil)
	req.RemoteAddr = "192.0.2.9:5000"
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got.ClientIP != "192.0.2.9" {
		t.Errorf("expected client IP 192.0.2.9, got %q", got.ClientIP)
	}
}

func TestRequestLogger_NilLogger_PassesThrough(t *testing.T) {
	called := false
	handler := RequestLogger(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

	if !called {
		t.Error("expected handler to be called")
	}
}

func TestRequestLogger_HandlerWritesMultipleHeaders(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	// Simulate a handler that tries to write headers twice (common bug)
	handler := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.WriteHeader(http.StatusInternalServerError) // This should be ignored
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	entry := logs.All()[0]
	if entry.ContextMap()["status"] != int64(http.StatusBadRequest) {
		t.Errorf("expected status %d, got %v", http.StatusBadRequest, entry.ContextMap()["status"])
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected recorded status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestResponseWriter_WriteTriggersWriteHeader(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	if _, err := rw.Write([]byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !rw.wroteHeader {
		t.Error("expected wroteHeader to be true")
	}
	if rw.bytes != 5 {
		t.Errorf("expected 5 bytes, got %d", rw.bytes)
	}
}

func TestClientIP(t *testing.T) {
	proxies, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.168.1.1"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}

	tests := []struct {
		name    string
		proxies TrustedProxies
		headers map[string]string
		remote  string
		want    string
	}{
		{"remote addr", nil, nil, "198.51.100.7:4000", "198.51.100.7"},
		{"remote without port", nil, nil, "198.51.100.7", "198.51.100.7"},
		{"untrusted peer ignores forwarded for", nil, map[string]string{"X-Forwarded-For": "203.0.113.5"}, "198.51.100.7:4000", "198.51.100.7"},
		{"untrusted peer ignores real ip", proxies, map[string]string{"X-Real-IP": "203.0.113.9"}, "198.51.100.7:4000", "198.51.100.7"},
		{"trusted peer forwarded for", proxies, map[string]string{"X-Forwarded-For": "203.0.113.5"}, "10.0.0.1:80", "203.0.113.5"},
		{"rightmost untrusted hop wins", proxies, map[string]string{"X-Forwarded-For": "1.2.3.4, 203.0.113.5, 10.1.1.1"}, "10.0.0.1:80", "203.0.113.5"},
		{"all hops trusted", proxies, map[string]string{"X-Forwarded-For": "10.2.2.2, 10.1.1.1"}, "192.168.1.1:80", "10.2.2.2"},
		{"trusted peer real ip", proxies, map[string]string{"X-Real-IP": "203.0.113.9"}, "10.0.0.1:80", "203.0.113.9"},
		{"trusted peer without headers", proxies, nil, "10.0.0.1:80", "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := tt.proxies.ClientIP(req); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseTrustedProxies_RejectsGarbage(t *testing.T) {
	if _, err := ParseTrustedProxies([]string{"10.0.0.0/8", "not-an-ip"}); err == nil {
		t.Error("expected an error for an invalid entry")
	}
}
