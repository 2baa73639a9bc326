package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"gatewayd/pkg/types"
)

// Gateway wires the registry, router, queue processor, execution client, and
// health checker into the single façade the HTTP layer talks to.
type Gateway struct {
	cfg     Config
	reg     *Registry
	router  *Router
	queue   *QueueProcessor
	exec    *Executor
	checker *Checker

	log       zerolog.Logger
	startTime time.Time
}

// New constructs a Gateway from Config, applying package defaults.
func New(cfg Config) *Gateway {
	cfg = cfg.withDefaults()
	reg := NewRegistry(cfg.Publisher)
	router := NewRouter(reg)
	return &Gateway{
		cfg:       cfg,
		reg:       reg,
		router:    router,
		queue:     NewQueueProcessor(router, reg.Freed(), cfg),
		exec:      NewExecutor(reg, router, cfg),
		checker:   NewChecker(reg, cfg.Backend, cfg),
		log:       *cfg.Logger,
		startTime: time.Now(),
	}
}

// Start launches the health checker and queue drain loops.
func (g *Gateway) Start() {
	g.checker.Start()
	g.queue.Start()
}

// Close stops background loops and fails all pending queue entries.
func (g *Gateway) Close() {
	g.checker.Close()
	g.queue.Close()
}

// Registry exposes the instance registry for fleet management.
func (g *Gateway) Registry() *Registry { return g.reg }

// Register adds a backend instance to the fleet.
func (g *Gateway) Register(spec types.InstanceSpec) error {
	if err := g.reg.Register(spec); err != nil {
		return err
	}
	g.log.Info().Str("instance", spec.ID).Str("model", spec.Model).Str("endpoint", spec.Endpoint).Msg("instance registered")
	return nil
}

// Deregister removes an instance, letting in-flight work drain first.
func (g *Gateway) Deregister(id string) error {
	if err := g.reg.Deregister(id); err != nil {
		return err
	}
	g.log.Info().Str("instance", id).Msg("instance deregistered")
	return nil
}

// Ready reports whether at least one instance is healthy.
func (g *Gateway) Ready() bool {
	for _, in := range g.reg.Snapshot() {
		if in.Status == string(StatusHealthy) {
			return true
		}
	}
	return false
}

// Status builds the full status response for /status.
func (g *Gateway) Status() types.StatusResponse {
	dispatches, retries, timeouts := g.exec.Counters()
	now := time.Now()
	return types.StatusResponse{
		Instances:       g.reg.Snapshot(),
		QueueDepth:      g.queue.Depth(),
		MaxQueueDepth:   g.cfg.MaxQueueDepth,
		DispatchesTotal: dispatches,
		RetriesTotal:    retries,
		TimeoutsTotal:   timeouts,
		UptimeSeconds:   int64(now.Sub(g.startTime).Seconds()),
		ServerTimeUnix:  now.Unix(),
	}
}

// Route takes a completion request to a terminal state: a successful result,
// QueueFull, Timeout, AllAttemptsFailed, or UnknownModel. Admitted requests
// are never dropped silently.
func (g *Gateway) Route(ctx context.Context, req types.CompletionRequest) (types.CompletionResult, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" || !g.reg.HasModel(model) {
		return types.CompletionResult{}, unknownModelError{model: model}
	}
	req.Model = model

	timeout := g.cfg.RouteTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	// Fast path: capacity is free right now.
	if dec, ok := g.router.SelectAndAcquire(model, nil); ok {
		return g.exec.Run(ctx, dec, req)
	}

	// No eligible instance: hand over to the queue processor and wait for it
	// to either claim a slot for us or report a terminal failure.
	entry, err := g.queue.Enqueue(model, types.ParsePriority(req.Priority), deadline)
	if err != nil {
		return types.CompletionResult{}, err
	}

	select {
	case out := <-entry.done:
		if out.err != nil {
			return types.CompletionResult{}, out.err
		}
		return g.exec.Run(ctx, out.decision, req)
	case <-ctx.Done():
		if g.queue.Remove(entry) {
			requestTimeoutsTotal.Inc()
			return types.CompletionResult{}, timeoutError{stage: "queued"}
		}
		// Lost the race with the drain loop: consume the outcome and give
		// back whatever it claimed for us.
		out := <-entry.done
		if out.err == nil {
			_ = g.reg.Release(out.decision.InstanceID, OutcomeCanceled, 0)
		}
		requestTimeoutsTotal.Inc()
		return types.CompletionResult{}, timeoutError{stage: "queued"}
	}
}
