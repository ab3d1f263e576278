package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandler_ExposesSnapshot(t *testing.T) {
	c := NewCollector("guarded", "fs", "batch-7")
	c.AddQueued(3)
	c.IncFailed("not_found")
	c.ObservePhase("compile", "passed", 1500*time.Millisecond)

	h, err := Handler(c)
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`cratesio_perf_packages_total{state="queued"} 3`,
		`cratesio_perf_package_failures_total{kind="not_found"} 1`,
		`cratesio_perf_phase_outcomes_total{phase="compile",status="passed"} 1`,
		`cratesio_perf_phase_seconds_total{phase="compile"} 1.5`,
		`cratesio_perf_batch_info{batch_id="batch-7",mode="guarded",storage_backend="fs"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestServe(t *testing.T) {
	c := NewCollector("isolated", "", "b")
	c.IncStarted()

	srv, err := Serve(t.Context(), "127.0.0.1:0", c, nil)
	if err != nil {
		t.Fatalf("Serve failed: %v", err)
	}
	t.Cleanup(func() { _ = srv.Close(context.Background()) })

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `cratesio_perf_packages_total{state="started"} 1`) {
		t.Errorf("body missing started counter:\n%s", body)
	}
}
