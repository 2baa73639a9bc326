package gateway

import (
	"context"
	"sync"
	"testing"

	"gatewayd/pkg/types"
)

// fakeBackend scripts Complete/Probe behavior per endpoint and tracks the
// maximum observed call concurrency.
type fakeBackend struct {
	mu sync.Mutex

	completeFn func(endpoint string, req types.CompletionRequest) (BackendResult, error)
	probeFn    func(endpoint string) error

	calls         []string
	inflight      int
	maxConcurrent int
}

func (f *fakeBackend) Complete(ctx context.Context, endpoint string, req types.CompletionRequest) (BackendResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, endpoint)
	f.inflight++
	if f.inflight > f.maxConcurrent {
		f.maxConcurrent = f.inflight
	}
	fn := f.completeFn
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return BackendResult{}, err
	}
	if fn == nil {
		return BackendResult{Content: "ok", FinishReason: "stop"}, nil
	}
	return fn(endpoint, req)
}

func (f *fakeBackend) Probe(ctx context.Context, endpoint string) error {
	f.mu.Lock()
	fn := f.probeFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(endpoint)
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeBackend) maxSeen() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxConcurrent
}

// spec builds an instance spec with sane defaults for tests.
func spec(id, model string, maxLoad int) types.InstanceSpec {
	return types.InstanceSpec{ID: id, Model: model, Endpoint: "http://" + id + ".test:8081", MaxLoad: maxLoad}
}

// mustRegister registers or fails the test.
func mustRegister(t *testing.T, reg *Registry, specs ...types.InstanceSpec) {
	t.Helper()
	for _, s := range specs {
		if err := reg.Register(s); err != nil {
			t.Fatalf("register %s: %v", s.ID, err)
		}
	}
}

// loadOf returns the current load for an instance via the public snapshot.
func loadOf(t *testing.T, reg *Registry, id string) int {
	t.Helper()
	for _, in := range reg.Snapshot() {
		if in.ID == id {
			return in.CurrentLoad
		}
	}
	t.Fatalf("instance %s not in snapshot", id)
	return 0
}

// markUnhealthy flips an instance to unhealthy through the probe path.
func markUnhealthy(t *testing.T, reg *Registry, id string) {
	t.Helper()
	if _, _, err := reg.applyProbe(id, false, 1, 1); err != nil {
		t.Fatalf("applyProbe %s: %v", id, err)
	}
}
