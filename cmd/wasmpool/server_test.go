package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/wasm-threads/coordinator"
	"github.com/wippyai/wasm-threads/metrics"
)

type fakePool struct {
	statuses []coordinator.Status
}

func (p *fakePool) Workers() []coordinator.Status { return p.statuses }
func (p *fakePool) Threads() int                  { return len(p.statuses) }

func TestRouter_Workers(t *testing.T) {
	pool := &fakePool{statuses: []coordinator.Status{
		{ID: 1, State: coordinator.StateReady},
		{ID: 2, State: coordinator.StatePanicked, Panic: "Error: boom"},
		{ID: 3, State: coordinator.StateFailed, Err: errors.New("import mismatch")},
	}}
	r := newRouter(prometheus.NewRegistry(), pool)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/workers", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Threads int `json:"threads"`
		Workers []struct {
			ID    int    `json:"id"`
			State string `json:"state"`
			Panic string `json:"panic"`
			Error string `json:"error"`
		} `json:"workers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Threads != 3 || len(body.Workers) != 3 {
		t.Fatalf("got %d threads, %d workers", body.Threads, len(body.Workers))
	}
	if body.Workers[0].State != "ready" {
		t.Errorf("worker 1 state = %q, want ready", body.Workers[0].State)
	}
	if body.Workers[1].Panic != "Error: boom" {
		t.Errorf("worker 2 panic = %q", body.Workers[1].Panic)
	}
	if body.Workers[2].Error != "import mismatch" {
		t.Errorf("worker 3 error = %q", body.Workers[2].Error)
	}
}

func TestRouter_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New("wasm_threads", reg)
	if err != nil {
		t.Fatal(err)
	}
	m.WorkerSpawned()

	r := newRouter(reg, &fakePool{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "wasm_threads_worker_spawned_total 1") {
		t.Errorf("metrics output missing spawned counter:\n%s", rec.Body.String())
	}
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	r := newRouter(prometheus.NewRegistry(), &fakePool{})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/workers", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestPrintWorkers(t *testing.T) {
	var buf bytes.Buffer
	printWorkers(&buf, []coordinator.Status{
		{ID: 1, State: coordinator.StateFinished},
		{ID: 2, State: coordinator.StatePanicked, Panic: "Error: boom"},
	})
	out := buf.String()
	for _, want := range []string{"finished", "panicked", "Error: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"  ", 0},
		{"1", 1},
		{"1,2", 2},
	}
	for _, tt := range tests {
		if got := splitArgs(tt.in); len(got) != tt.want {
			t.Errorf("splitArgs(%q) = %v, want %d items", tt.in, got, tt.want)
		}
	}
}

func TestWorkerRows(t *testing.T) {
	rows := workerRows([]coordinator.Status{{ID: 7, State: coordinator.StateReady}})
	if len(rows) != 1 || rows[0][0] != "7" || rows[0][1] != "ready" {
		t.Errorf("rows = %v", rows)
	}
}
