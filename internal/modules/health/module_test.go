package health

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"option_bot/internal/modules/health/service"
	"option_bot/internal/runner"
)

type stubLoops map[string]runner.LoopStatus

func (s stubLoops) Status() map[string]runner.LoopStatus { return s }

func get(mux http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestMux(t *testing.T) {
	state := service.NewState()
	loops := stubLoops{
		"positions": {LastPass: time.Unix(1700000000, 0), Stopped: true, ConsecutiveFailures: 6},
		"orders":    {},
	}
	mux := NewMux(state, loops)

	if w := get(mux, "/livez"); w.Code != http.StatusOK {
		t.Fatalf("livez=%d", w.Code)
	}
	if w := get(mux, "/readyz"); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before start=%d want 503", w.Code)
	}
	state.SetReady(true)
	if w := get(mux, "/readyz"); w.Code != http.StatusOK {
		t.Fatalf("readyz=%d", w.Code)
	}

	w := get(mux, "/healthz")
	body := w.Body.String()
	if w.Code != http.StatusOK || !strings.Contains(body, `"degraded":true`) || !strings.Contains(body, `"consecutive_failures":6`) {
		t.Fatalf("healthz=%d %s", w.Code, body)
	}

	if w := get(mux, "/metrics"); w.Code != http.StatusOK {
		t.Fatalf("metrics=%d", w.Code)
	}
}
