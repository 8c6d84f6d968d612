package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kilnforge/orchestrator/internal/gateway"
	"github.com/kilnforge/orchestrator/internal/orchestrator"
	"github.com/kilnforge/orchestrator/internal/sandbox"
	"github.com/kilnforge/orchestrator/internal/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeGateway answers every Invoke call with a canned plan, so the
// orchestrator an API test drives reaches SUCCESS without a real
// provider or sandbox host.
type fakeGateway struct{}

func (fakeGateway) Invoke(ctx context.Context, req gateway.Request) (gateway.Result, error) {
	return gateway.Result{}, nil
}

// fakeSandbox implements orchestrator.SandboxManager with no-op
// successes, enough to drive one full build loop iteration to success.
type fakeSandbox struct{}

func (fakeSandbox) CreateContainer(ctx context.Context, sessionID string, opts sandbox.CreateOptions) (*sandbox.Container, error) {
	return &sandbox.Container{SessionID: sessionID}, nil
}

func (fakeSandbox) WriteFile(ctx context.Context, sessionID, path string, content []byte) error {
	return nil
}

func (fakeSandbox) RunCodeTests(ctx context.Context, sessionID string) (*sandbox.TestResult, error) {
	return &sandbox.TestResult{Success: true}, nil
}

func (fakeSandbox) CreateSnapshot(ctx context.Context, sessionID string) (*sandbox.Snapshot, error) {
	return &sandbox.Snapshot{Name: "snap-1"}, nil
}

func (fakeSandbox) DestroyContainer(ctx context.Context, sessionID string, reason string) (*sandbox.DestroyResult, error) {
	return &sandbox.DestroyResult{OK: true}, nil
}

func newTestServer() *Server {
	orch := orchestrator.New(fakeGateway{}, fakeSandbox{}, orchestrator.DefaultAgentSet)
	return NewServer(orch, session.NewStore(), nil)
}

func TestStartExecutionReturnsAccepted(t *testing.T) {
	srv := newTestServer()
	router := srv.Router()

	body := strings.NewReader(`{"prompt": "build a todo app"}`)
	req := httptest.NewRequest(http.MethodPost, "/executions/sess-1", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusAccepted, w.Body.String())
	}
}

func TestStartExecutionRejectsMissingPrompt(t *testing.T) {
	srv := newTestServer()
	router := srv.Router()

	req := httptest.NewRequest(http.MethodPost, "/executions/sess-2", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestStartExecutionRejectsDuplicateSession(t *testing.T) {
	srv := newTestServer()
	router := srv.Router()

	body := `{"prompt": "build a todo app"}`
	first := httptest.NewRequest(http.MethodPost, "/executions/sess-3", strings.NewReader(body))
	router.ServeHTTP(httptest.NewRecorder(), first)

	second := httptest.NewRequest(http.MethodPost, "/executions/sess-3", strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, second)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d, body = %s", w.Code, http.StatusConflict, w.Body.String())
	}
}

func TestGetStatusReturnsNotFoundForUnknownSession(t *testing.T) {
	srv := newTestServer()
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/executions/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestGetStatusReflectsRunningExecution(t *testing.T) {
	srv := newTestServer()
	router := srv.Router()

	start := httptest.NewRequest(http.MethodPost, "/executions/sess-4", strings.NewReader(`{"prompt": "x"}`))
	router.ServeHTTP(httptest.NewRecorder(), start)

	var status orchestrator.Status
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		req := httptest.NewRequest(http.MethodGet, "/executions/sess-4", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
		}
		if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if status.State == orchestrator.StateSuccess {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("execution did not reach SUCCESS in time, last state = %s", status.State)
}

func TestHealthReturnsOK(t *testing.T) {
	srv := newTestServer()
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
}
