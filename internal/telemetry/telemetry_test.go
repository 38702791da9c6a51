package telemetry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnabled(t *testing.T) *Telemetry {
	t.Helper()

	tel, err := New(context.Background(), Config{Enabled: true, ServiceName: "termidl-test", ServiceVersion: "test"})
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, tel.Shutdown(context.Background()))
	})

	return tel
}

func scrape(t *testing.T, tel *Telemetry) string {
	t.Helper()

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	return string(body)
}

func TestTelemetry_NilAndDisabledAreNoOps(t *testing.T) {
	var nilTel *Telemetry

	disabled, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.False(t, disabled.Enabled())

	for _, tel := range []*Telemetry{nilTel, disabled} {
		status := tel.InstrumentDownload(context.Background(), "aria2", func(context.Context) string { return "completed" })
		assert.Equal(t, "completed", status)

		wantErr := errors.New("boom")
		assert.ErrorIs(t, tel.InstrumentDBOperation(context.Background(), "insert", func(context.Context) error { return wantErr }), wantErr)
		assert.NoError(t, tel.InstrumentNotification(context.Background(), "discord", func(context.Context) error { return nil }))

		tel.RecordCancel("aria2", true)
		tel.RecordSystemError("supervisor", "panic")
		tel.RecordHTTPRequest(http.MethodGet, "/tasks", "2xx", time.Millisecond)

		rec := httptest.NewRecorder()
		tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.NoError(t, tel.Shutdown(context.Background()))
	}
}

func TestTelemetry_InstrumentDownloadRecordsStatus(t *testing.T) {
	tel := newEnabled(t)
	require.True(t, tel.Enabled())

	status := tel.InstrumentDownload(context.Background(), "ytdlp", func(context.Context) string { return "cancelled" })
	assert.Equal(t, "cancelled", status)

	body := scrape(t, tel)
	assert.Contains(t, body, "download_duration_seconds")
	assert.Contains(t, body, `backend="ytdlp"`)
	assert.Contains(t, body, `status="cancelled"`)
}

func TestHTTPMiddleware_UsesRoutePattern(t *testing.T) {
	tel := newEnabled(t)

	r := chi.NewRouter()
	r.Use(NewHTTPMiddleware(tel).Middleware)
	r.Get("/tasks/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/tasks/42", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := scrape(t, tel)
	assert.Contains(t, body, `path="/tasks/{id}"`)
	assert.Contains(t, body, `status="4xx"`)
	assert.NotContains(t, body, "/tasks/42")
}

func TestRequestID(t *testing.T) {
	var seen string

	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "upstream-id")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "upstream-id", seen)
	assert.Equal(t, "upstream-id", rec.Header().Get(RequestIDHeader))
}

func TestResponseWriter_CapturesStatusAndBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrapResponseWriter(rec)

	_, err := rw.Write([]byte("hello"))
	require.NoError(t, err)
	rw.WriteHeader(http.StatusTeapot)

	assert.Equal(t, http.StatusOK, rw.status)
	assert.Equal(t, int64(5), rw.bytesWritten)
	assert.Same(t, rw, wrapResponseWriter(rw))
}

func TestGetStatusClass(t *testing.T) {
	tests := map[int]string{
		200: "2xx",
		201: "2xx",
		302: "3xx",
		404: "4xx",
		503: "5xx",
		100: "unknown",
	}

	for code, want := range tests {
		assert.Equal(t, want, getStatusClass(code), code)
	}
}
