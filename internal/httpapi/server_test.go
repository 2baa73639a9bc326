package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"gatewayd/internal/gateway"
	"gatewayd/pkg/types"
)

// scriptBackend lets tests script backend behavior per call.
type scriptBackend struct {
	mu         sync.Mutex
	completeFn func(ctx context.Context, endpoint string, req types.CompletionRequest) (gateway.BackendResult, error)
	calls      int
}

func (s *scriptBackend) Complete(ctx context.Context, endpoint string, req types.CompletionRequest) (gateway.BackendResult, error) {
	s.mu.Lock()
	s.calls++
	fn := s.completeFn
	s.mu.Unlock()
	if fn == nil {
		return gateway.BackendResult{Content: "ok", FinishReason: "stop"}, nil
	}
	return fn(ctx, endpoint, req)
}

func (s *scriptBackend) Probe(ctx context.Context, endpoint string) error { return nil }

func (s *scriptBackend) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestServer(t *testing.T, sb *scriptBackend, cfg gateway.Config) (*httptest.Server, *gateway.Gateway) {
	t.Helper()
	cfg.Backend = sb
	cfg.HealthInterval = time.Hour
	if cfg.BackoffInitial == 0 {
		cfg.BackoffInitial = time.Millisecond
	}
	g := gateway.New(cfg)
	g.Start()
	t.Cleanup(g.Close)
	srv := httptest.NewServer(NewMux(g))
	t.Cleanup(srv.Close)
	return srv, g
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) types.ErrorResponse {
	t.Helper()
	defer resp.Body.Close()
	var e types.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return e
}

func registerInstance(t *testing.T, g *gateway.Gateway, id, model string, maxLoad int) {
	t.Helper()
	err := g.Register(types.InstanceSpec{ID: id, Model: model, Endpoint: "http://" + id + ".test:8081", MaxLoad: maxLoad})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
}

func TestCompletionsSuccess(t *testing.T) {
	srv, g := newTestServer(t, &scriptBackend{}, gateway.Config{})
	registerInstance(t, g, "a", "m1", 2)

	resp := postJSON(t, srv.URL+"/v1/completions", `{"model":"m1","prompt":"hi"}`)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var res types.CompletionResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.InstanceID != "a" || res.Content != "ok" || res.RequestID == "" || res.Attempts != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCompletionsValidation(t *testing.T) {
	srv, g := newTestServer(t, &scriptBackend{}, gateway.Config{})
	registerInstance(t, g, "a", "m1", 1)

	cases := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
	}{
		{"missing content type", "text/plain", `{"model":"m1","prompt":"hi"}`, http.StatusUnsupportedMediaType},
		{"invalid json", "application/json", `{"model":`, http.StatusBadRequest},
		{"missing model", "application/json", `{"prompt":"hi"}`, http.StatusBadRequest},
		{"missing prompt", "application/json", `{"model":"m1"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+"/v1/completions", tc.contentType, strings.NewReader(tc.body))
			if err != nil {
				t.Fatalf("POST: %v", err)
			}
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, resp.StatusCode)
			}
			if e := decodeError(t, resp); e.Code != tc.wantStatus || e.Error == "" {
				t.Fatalf("unexpected error payload %+v", e)
			}
		})
	}
}

func TestCompletionsUnknownModel(t *testing.T) {
	srv, g := newTestServer(t, &scriptBackend{}, gateway.Config{})
	registerInstance(t, g, "a", "m1", 1)

	resp := postJSON(t, srv.URL+"/v1/completions", `{"model":"nope","prompt":"hi"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCompletionsRetryExhaustion(t *testing.T) {
	sb := &scriptBackend{
		completeFn: func(ctx context.Context, endpoint string, req types.CompletionRequest) (gateway.BackendResult, error) {
			return gateway.BackendResult{}, errors.New("backend exploded")
		},
	}
	srv, g := newTestServer(t, sb, gateway.Config{MaxRetries: 2})
	registerInstance(t, g, "a", "m1", 1)
	registerInstance(t, g, "b", "m1", 1)
	registerInstance(t, g, "c", "m1", 1)

	resp := postJSON(t, srv.URL+"/v1/completions", `{"model":"m1","prompt":"hi"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	e := decodeError(t, resp)
	if len(e.Attempted) != 3 {
		t.Fatalf("expected 3 attempted instances, got %v", e.Attempted)
	}
	seen := map[string]bool{}
	for _, id := range e.Attempted {
		if seen[id] {
			t.Fatalf("instance %s attempted twice: %v", id, e.Attempted)
		}
		seen[id] = true
	}
}

func TestCompletionsTimeout(t *testing.T) {
	sb := &scriptBackend{
		completeFn: func(ctx context.Context, endpoint string, req types.CompletionRequest) (gateway.BackendResult, error) {
			<-ctx.Done()
			return gateway.BackendResult{}, ctx.Err()
		},
	}
	srv, g := newTestServer(t, sb, gateway.Config{})
	registerInstance(t, g, "a", "m1", 1)

	resp := postJSON(t, srv.URL+"/v1/completions", `{"model":"m1","prompt":"hi","timeout_ms":50}`)
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Code != http.StatusGatewayTimeout {
		t.Fatalf("unexpected error payload %+v", e)
	}
}

// One single-slot instance, queue depth 1: the first request holds the slot,
// the second parks in the queue, the third is rejected with 429.
func TestCompletionsBackpressure(t *testing.T) {
	release := make(chan struct{})
	sb := &scriptBackend{
		completeFn: func(ctx context.Context, endpoint string, req types.CompletionRequest) (gateway.BackendResult, error) {
			select {
			case <-release:
				return gateway.BackendResult{Content: "ok", FinishReason: "stop"}, nil
			case <-ctx.Done():
				return gateway.BackendResult{}, ctx.Err()
			}
		},
	}
	srv, g := newTestServer(t, sb, gateway.Config{MaxQueueDepth: 1})
	registerInstance(t, g, "a", "m1", 1)

	statusOf := func() types.StatusResponse {
		resp, err := http.Get(srv.URL + "/status")
		if err != nil {
			t.Fatalf("GET /status: %v", err)
		}
		defer resp.Body.Close()
		var st types.StatusResponse
		if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		return st
	}
	waitUntil := func(cond func() bool, what string) {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if cond() {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
		t.Fatalf("timed out waiting for %s", what)
	}

	codes := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			resp, err := http.Post(srv.URL+"/v1/completions", "application/json",
				strings.NewReader(`{"model":"m1","prompt":"hi","timeout_ms":5000}`))
			if err != nil {
				codes <- 0
				return
			}
			resp.Body.Close()
			codes <- resp.StatusCode
		}()
		if i == 0 {
			waitUntil(func() bool { return sb.callCount() == 1 }, "first dispatch")
		}
	}
	waitUntil(func() bool { return statusOf().QueueDepth == 1 }, "second request queued")

	resp := postJSON(t, srv.URL+"/v1/completions", `{"model":"m1","prompt":"hi"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Code != http.StatusTooManyRequests {
		t.Fatalf("unexpected error payload %+v", e)
	}

	close(release)
	for i := 0; i < 2; i++ {
		if code := <-codes; code != http.StatusOK {
			t.Fatalf("expected parked request to finish with 200, got %d", code)
		}
	}
}

func TestInstanceLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, &scriptBackend{}, gateway.Config{})

	body := `{"id":"a","model":"m1","endpoint":"http://a.test:8081","max_load":2}`
	resp := postJSON(t, srv.URL+"/instances", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/instances", body)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/instances", `{"id":"b"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 on incomplete spec, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/instances/a", nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	if del.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", del.StatusCode)
	}
	del.Body.Close()

	del2, err := http.DefaultClient.Do(req.Clone(context.Background()))
	if err != nil {
		t.Fatalf("DELETE again: %v", err)
	}
	if del2.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on unknown instance, got %d", del2.StatusCode)
	}
	del2.Body.Close()
}

func TestHealthAndReadiness(t *testing.T) {
	srv, g := newTestServer(t, &scriptBackend{}, gateway.Config{})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with empty fleet, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	registerInstance(t, g, "a", "m1", 1)
	resp, err = http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after registration, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStatusEndpoint(t *testing.T) {
	srv, g := newTestServer(t, &scriptBackend{}, gateway.Config{MaxQueueDepth: 9})
	registerInstance(t, g, "a", "m1", 4)

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	var st types.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.MaxQueueDepth != 9 || len(st.Instances) != 1 {
		t.Fatalf("unexpected status %+v", st)
	}
	in := st.Instances[0]
	if in.ID != "a" || in.Model != "m1" || in.MaxLoad != 4 || in.Status != "healthy" {
		t.Fatalf("unexpected instance %+v", in)
	}
}
