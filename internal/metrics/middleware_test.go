package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsMiddleware_RecordsDurationAndCount(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/api/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	req := httptest.NewRequest("GET", "/api/test", http.NoBody)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	requestsVal := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/api/test", "200"))
	if requestsVal < 1 {
		t.Errorf("expected http_requests_total >= 1, got %f", requestsVal)
	}

	durationCount := testutil.CollectAndCount(httpRequestDuration)
	if durationCount == 0 {
		t.Error("expected http_request_duration_seconds to have observations")
	}
}

func TestMetricsMiddleware_DifferentStatusCodes(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())

	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/notfound", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/error", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	tests := []struct {
		path           string
		expectedStatus string
	}{
		{"/ok", "200"},
		{"/notfound", "404"},
		{"/error", "500"},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest("GET", tc.path, http.NoBody)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", tc.path, tc.expectedStatus))
			if val < 1 {
				t.Errorf("expected requests_total for %s with status %s >= 1, got %f", tc.path, tc.expectedStatus, val)
			}
		})
	}
}

func TestMetricsMiddleware_DifferentMethods(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())

	r.Get("/resource", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("get"))
	})
	r.Post("/resource", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("post"))
	})
	r.Delete("/resource", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("delete"))
	})

	methods := []string{"GET", "POST", "DELETE"}

	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/resource", http.NoBody)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(method, "/resource", "200"))
			if val < 1 {
				t.Errorf("expected requests_total for %s >= 1, got %f", method, val)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", "unmatched"},
		{"/v1/*", "unmatched"},
		{"/v1/documents/{filename}/status", "/v1/documents/{filename}/status"},
		{"/v1/telemetry/sessions/{id}/", "/v1/telemetry/sessions/{id}"},
		{"/", "/"},
		{"/health", "/health"},
	}

	for _, tc := range tests {
		result := normalizePath(tc.input)
		if result != tc.expected {
			t.Errorf("normalizePath(%q) = %q, want %q", tc.input, result, tc.expected)
		}
	}
}

func TestMetricsMiddleware_TemplatedRoute(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/documents/{filename}/status", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("{}"))
		})
	})

	for _, name := range []string{"a.pdf", "b.md"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/documents/"+name+"/status", http.NoBody))
	}

	val := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/v1/documents/{filename}/status", "200"))
	if val < 2 {
		t.Errorf("expected both documents under one route label, got %f", val)
	}
}

func TestMetricsMiddleware_EventStreamSeparated(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/v1/telemetry/stream", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(": connected\n\n"))
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/telemetry/stream", http.NoBody))

	if testutil.CollectAndCount(httpStreamDuration) == 0 {
		t.Error("expected a stream duration series for the event stream route")
	}
	if httpRequestDuration.DeleteLabelValues("GET", "/v1/telemetry/stream", "200") {
		t.Error("event streams must not be observed as request latency")
	}
	if testutil.ToFloat64(httpRequestsInFlight) != 0 {
		t.Error("in-flight gauge must return to zero")
	}
}

func TestMetricsMiddleware_ForwardsFlush(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware())

	flushed := false
	r.Get("/stream", func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		if !ok {
			t.Fatal("wrapped writer does not implement http.Flusher")
		}
		_, _ = w.Write([]byte("data: x\n\n"))
		f.Flush()
		flushed = true
	})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/stream", http.NoBody))

	if !flushed || !rr.Flushed {
		t.Error("expected response to be flushed")
	}
	body, _ := io.ReadAll(rr.Body)
	if string(body) != "data: x\n\n" {
		t.Errorf("unexpected body %q", body)
	}
}

func TestRegister_Idempotent(t *testing.T) {
	Register()
	Register()

	IngestionsTotal.WithLabelValues("success", "").Inc()
	if v := testutil.ToFloat64(IngestionsTotal.WithLabelValues("success", "")); v < 1 {
		t.Errorf("expected ingestions_total >= 1, got %f", v)
	}
}
