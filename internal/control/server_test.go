package control

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aristath/taskpilot/internal/metrics"
	"github.com/aristath/taskpilot/internal/scheduler"
)

type fakeController struct {
	state    scheduler.State
	pauseErr error
}

func (f *fakeController) Progress() scheduler.Progress {
	return scheduler.Progress{Total: 3, Completed: 1, Pending: 2, State: f.state, Elapsed: 1500 * time.Millisecond}
}

func (f *fakeController) Pause() error {
	if f.pauseErr != nil {
		return f.pauseErr
	}
	f.state = scheduler.StatePaused
	return nil
}

func (f *fakeController) Resume() error { f.state = scheduler.StateRunning; return nil }
func (f *fakeController) Stop() error   { f.state = scheduler.StateStopping; return nil }

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	srv := NewServer("127.0.0.1:0", reg, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return srv, ts
}

func TestProgressWithoutRun(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/progress")
	if err != nil {
		t.Fatalf("GET /progress: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestProgressAndControl(t *testing.T) {
	srv, ts := newTestServer(t)
	fc := &fakeController{state: scheduler.StateRunning}
	srv.SetTarget(fc)

	resp, err := http.Get(ts.URL + "/progress")
	if err != nil {
		t.Fatalf("GET /progress: %v", err)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode progress: %v", err)
	}
	resp.Body.Close()
	if body["state"] != "Running" || body["total"] != float64(3) || body["elapsed_seconds"] != 1.5 {
		t.Errorf("progress body = %v", body)
	}
	if _, ok := body["Elapsed"]; ok {
		t.Errorf("progress body carries raw duration: %v", body)
	}

	for _, tc := range []struct {
		path  string
		state string
	}{
		{"/pause", "Paused"},
		{"/resume", "Running"},
		{"/stop", "Stopping"},
	} {
		resp, err := http.Post(ts.URL+tc.path, "application/json", nil)
		if err != nil {
			t.Fatalf("POST %s: %v", tc.path, err)
		}
		var st stateResponse
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			t.Fatalf("decode %s: %v", tc.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK || st.State != tc.state {
			t.Errorf("POST %s = %d %q, want 200 %q", tc.path, resp.StatusCode, st.State, tc.state)
		}
	}
}

func TestControlConflict(t *testing.T) {
	srv, ts := newTestServer(t)
	srv.SetTarget(&fakeController{pauseErr: errors.New("scheduler is not running")})

	resp, err := http.Post(ts.URL+"/pause", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /pause: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestGetOnControlRouteNotAllowed(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/stop")
	if err != nil {
		t.Fatalf("GET /stop: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}
