package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/health/live", "/health/live"},
		{"/metrics", "/metrics"},
		{"/api/v1/files", "/api/v1/files"},
		{"/api/v1/files/42", "/api/v1/files/{id}"},
		{"/api/v1/files/42/versions", "/api/v1/files/{id}/versions"},
		{"/api/v1/files/uuid/0f8fad5b-d9cb-469f-a165-70867728950e", "/api/v1/files/uuid/{uuid}"},
		{"/api/v1/shares/7", "/api/v1/shares/{id}"},
		{"/s/AbCdEf0123456789AbCdEf0123456789", "/s/{token}"},
		{"/s/AbCdEf0123456789AbCdEf0123456789/download", "/s/{token}/download"},
		{"/api/v1/maintenance/usage-recalculate", "/api/v1/maintenance/usage-recalculate"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, ожидалось %q", tt.in, got, tt.want)
		}
	}
}

func TestMetricsMiddleware_Status(t *testing.T) {
	h := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/files/1", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("статус %d", rec.Code)
	}
}

// TestRequestLogger — токен ссылки не попадает в лог, уровень по статусу.
func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/s/SecretToken123/download", nil))

	out := buf.String()
	if strings.Contains(out, "SecretToken123") {
		t.Errorf("токен в логе: %s", out)
	}
	for _, want := range []string{"level=WARN", "status=404", "bytes=4", "/s/{token}/download"} {
		if !strings.Contains(out, want) {
			t.Errorf("в логе нет %q: %s", want, out)
		}
	}
}
