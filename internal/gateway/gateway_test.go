package gateway

import (
	"context"
	"sync"
	"testing"
	"time"

	"gatewayd/pkg/types"
)

func newTestGateway(t *testing.T, fb *fakeBackend, cfg Config) *Gateway {
	t.Helper()
	cfg.Backend = fb
	if cfg.HealthInterval == 0 {
		cfg.HealthInterval = time.Hour // no background probing unless a test wants it
	}
	if cfg.BackoffInitial == 0 {
		cfg.BackoffInitial = time.Millisecond
	}
	g := New(cfg)
	g.Start()
	t.Cleanup(g.Close)
	return g
}

func TestRouteUnknownModel(t *testing.T) {
	g := newTestGateway(t, &fakeBackend{}, Config{})
	mustRegister(t, g.Registry(), spec("a", "m1", 1))

	_, err := g.Route(context.Background(), types.CompletionRequest{Model: "nope", Prompt: "hi"})
	if !IsUnknownModel(err) {
		t.Fatalf("expected unknown model, got %v", err)
	}
	if _, err := g.Route(context.Background(), types.CompletionRequest{Model: "  ", Prompt: "hi"}); !IsUnknownModel(err) {
		t.Fatalf("expected unknown model for blank, got %v", err)
	}
}

func TestRouteFastPath(t *testing.T) {
	fb := &fakeBackend{}
	g := newTestGateway(t, fb, Config{})
	mustRegister(t, g.Registry(), spec("a", "m1", 2))

	res, err := g.Route(context.Background(), types.CompletionRequest{Model: "m1", Prompt: "hi"})
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if res.InstanceID != "a" || res.Attempts != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := loadOf(t, g.Registry(), "a"); got != 0 {
		t.Fatalf("slot not released, load %d", got)
	}
}

// A single-slot instance with a slow backend must never see two concurrent
// dispatches: the second request waits in the queue until the slot frees.
func TestRoutingExclusivity(t *testing.T) {
	fb := &fakeBackend{
		completeFn: func(endpoint string, req types.CompletionRequest) (BackendResult, error) {
			time.Sleep(50 * time.Millisecond)
			return BackendResult{Content: "ok", FinishReason: "stop"}, nil
		},
	}
	g := newTestGateway(t, fb, Config{})
	mustRegister(t, g.Registry(), spec("a", "m1", 1))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.Route(context.Background(), types.CompletionRequest{Model: "m1", Prompt: "hi"})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("route %d: %v", i, err)
		}
	}
	if got := fb.maxSeen(); got != 1 {
		t.Fatalf("expected at most 1 concurrent dispatch, saw %d", got)
	}
	if fb.callCount() != 2 {
		t.Fatalf("expected both requests served, got %d calls", fb.callCount())
	}
}

// With no eligible capacity and the queue at its admission ceiling, the next
// request is rejected immediately instead of waiting.
func TestRouteQueueFull(t *testing.T) {
	fb := &fakeBackend{}
	g := newTestGateway(t, fb, Config{MaxQueueDepth: 5})
	mustRegister(t, g.Registry(), spec("a", "m1", 1))
	markUnhealthy(t, g.Registry(), "a")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = g.Route(context.Background(), types.CompletionRequest{Model: "m1", Prompt: "hi", TimeoutMs: 500})
		}()
	}
	waitFor(t, time.Second, func() bool { return g.queue.Depth() == 5 })

	_, err := g.Route(context.Background(), types.CompletionRequest{Model: "m1", Prompt: "hi"})
	if !IsQueueFull(err) {
		t.Fatalf("expected queue full, got %v", err)
	}
	wg.Wait()
}

func TestRouteTimesOutWhileQueued(t *testing.T) {
	fb := &fakeBackend{}
	g := newTestGateway(t, fb, Config{})
	mustRegister(t, g.Registry(), spec("a", "m1", 1))
	markUnhealthy(t, g.Registry(), "a")

	start := time.Now()
	_, err := g.Route(context.Background(), types.CompletionRequest{Model: "m1", Prompt: "hi", TimeoutMs: 80})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Fatalf("timeout not enforced, waited %v", waited)
	}
	if fb.callCount() != 0 {
		t.Fatalf("expired request must never dispatch, got %d calls", fb.callCount())
	}
}

// A queued request is served once health recovery frees capacity.
func TestRouteServedAfterRecovery(t *testing.T) {
	fb := &fakeBackend{}
	g := newTestGateway(t, fb, Config{})
	mustRegister(t, g.Registry(), spec("a", "m1", 1))
	markUnhealthy(t, g.Registry(), "a")

	done := make(chan error, 1)
	go func() {
		_, err := g.Route(context.Background(), types.CompletionRequest{Model: "m1", Prompt: "hi", TimeoutMs: 2000})
		done <- err
	}()
	waitFor(t, time.Second, func() bool { return g.queue.Depth() == 1 })

	if _, _, err := g.Registry().applyProbe("a", true, 1, 1); err != nil {
		t.Fatalf("probe: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("route after recovery: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("queued request not served after recovery")
	}
}

func TestGatewayStatus(t *testing.T) {
	fb := &fakeBackend{}
	g := newTestGateway(t, fb, Config{MaxQueueDepth: 7})
	mustRegister(t, g.Registry(), spec("a", "m1", 2), spec("b", "m2", 1))

	if _, err := g.Route(context.Background(), types.CompletionRequest{Model: "m1", Prompt: "hi"}); err != nil {
		t.Fatalf("route: %v", err)
	}
	st := g.Status()
	if len(st.Instances) != 2 || st.MaxQueueDepth != 7 || st.QueueDepth != 0 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.DispatchesTotal != 1 {
		t.Fatalf("expected 1 dispatch, got %d", st.DispatchesTotal)
	}
	if st.Instances[0].ID != "a" || st.Instances[0].TotalRequests != 1 {
		t.Fatalf("unexpected instance status %+v", st.Instances[0])
	}
}

func TestReady(t *testing.T) {
	g := newTestGateway(t, &fakeBackend{}, Config{})
	if g.Ready() {
		t.Fatalf("empty fleet must not be ready")
	}
	mustRegister(t, g.Registry(), spec("a", "m1", 1))
	if !g.Ready() {
		t.Fatalf("expected ready with a healthy instance")
	}
	markUnhealthy(t, g.Registry(), "a")
	if g.Ready() {
		t.Fatalf("expected not ready with all instances unhealthy")
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", d)
}
