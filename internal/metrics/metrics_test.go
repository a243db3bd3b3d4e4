package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveCounters(t *testing.T) {
	before := testutil.ToFloat64(markDenialsTotal.WithLabelValues("Not assigned to file"))
	ObserveMarkDenial("Not assigned to file")
	if got := testutil.ToFloat64(markDenialsTotal.WithLabelValues("Not assigned to file")); got != before+1 {
		t.Fatalf("expected denial counter %v, got %v", before+1, got)
	}
	before = testutil.ToFloat64(transitionsTotal.WithLabelValues("mark", "EXTERNAL"))
	ObserveTransition("mark", "EXTERNAL")
	if got := testutil.ToFloat64(transitionsTotal.WithLabelValues("mark", "EXTERNAL")); got != before+1 {
		t.Fatalf("expected transition counter %v, got %v", before+1, got)
	}
}

func TestMiddlewareLabelsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/files/{file_id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", Handler())

	req := httptest.NewRequest(http.MethodGet, "/v1/files/abc", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)
	if got := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/v1/files/{file_id}", "418")); got < 1 {
		t.Fatalf("expected request counted under route pattern, got %v", got)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "efile_http_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}
}
