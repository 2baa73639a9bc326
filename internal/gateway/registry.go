package gateway

import (
	"sort"
	"strings"
	"sync"
	"time"

	"gatewayd/pkg/types"
)

// Registry exclusively owns instance records and their counters. All other
// components read snapshots or request atomic mutations through its methods;
// nothing outside this file touches instance fields directly.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*instance

	// freed carries a capacity-freed signal to the queue processor. Buffered
	// size 1: coalescing wakeups is fine, losing all of them is not.
	freed chan struct{}

	publisher EventPublisher
}

// NewRegistry constructs an empty registry.
func NewRegistry(publisher EventPublisher) *Registry {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return &Registry{
		instances: make(map[string]*instance),
		freed:     make(chan struct{}, 1),
		publisher: publisher,
	}
}

// Freed exposes the capacity-freed signal consumed by the queue processor.
func (r *Registry) Freed() <-chan struct{} { return r.freed }

func (r *Registry) signalFreed() {
	select {
	case r.freed <- struct{}{}:
	default:
	}
}

// Register adds a new instance with status healthy and zero load.
func (r *Registry) Register(spec types.InstanceSpec) error {
	if strings.TrimSpace(spec.ID) == "" {
		return unknownInstanceError{id: "(empty)"}
	}
	if spec.MaxLoad <= 0 {
		spec.MaxLoad = 1
	}
	r.mu.Lock()
	if _, exists := r.instances[spec.ID]; exists {
		r.mu.Unlock()
		return duplicateInstanceError{id: spec.ID}
	}
	r.instances[spec.ID] = &instance{spec: spec, status: StatusHealthy}
	r.mu.Unlock()

	instanceLoadGauge.WithLabelValues(spec.ID).Set(0)
	r.publisher.Publish(Event{Name: "instance_registered", InstanceID: spec.ID, Fields: map[string]any{"model": spec.Model}})
	// New capacity: let the queue try a drain.
	r.signalFreed()
	return nil
}

// Deregister removes an instance from routing. In-flight requests finish
// normally: with load still in flight the instance drains first and is removed
// by the final Release; an idle instance is removed immediately.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	in, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		return unknownInstanceError{id: id}
	}
	in.mu.Lock()
	if in.currentLoad > 0 {
		in.status = StatusDraining
		in.mu.Unlock()
		r.mu.Unlock()
		r.publisher.Publish(Event{Name: "instance_draining", InstanceID: id, Fields: map[string]any{}})
		return nil
	}
	in.status = StatusOffline
	in.mu.Unlock()
	delete(r.instances, id)
	r.mu.Unlock()

	instanceLoadGauge.DeleteLabelValues(id)
	r.publisher.Publish(Event{Name: "instance_deregistered", InstanceID: id, Fields: map[string]any{}})
	return nil
}

// Snapshot returns immutable copies of all instances, sorted by id.
func (r *Registry) Snapshot() []types.InstanceStatus {
	r.mu.RLock()
	all := make([]*instance, 0, len(r.instances))
	for _, in := range r.instances {
		all = append(all, in)
	}
	r.mu.RUnlock()

	out := make([]types.InstanceStatus, 0, len(all))
	for _, in := range all {
		out = append(out, in.view())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TryAcquire atomically claims one load slot if the instance is healthy and
// below capacity. This is the single serialization point preventing
// over-booking under concurrent callers.
func (r *Registry) TryAcquire(id string) (bool, error) {
	r.mu.RLock()
	in, ok := r.instances[id]
	r.mu.RUnlock()
	if !ok {
		return false, unknownInstanceError{id: id}
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.status != StatusHealthy || in.currentLoad >= in.spec.MaxLoad {
		return false, nil
	}
	in.currentLoad++
	instanceLoadGauge.WithLabelValues(id).Set(float64(in.currentLoad))
	return true, nil
}

// Release atomically returns a load slot and folds the outcome into the
// instance's counters. A draining instance whose last request finishes is
// removed here; a freed slot wakes the queue processor.
func (r *Registry) Release(id string, outcome Outcome, latency time.Duration) error {
	r.mu.RLock()
	in, ok := r.instances[id]
	r.mu.RUnlock()
	if !ok {
		return unknownInstanceError{id: id}
	}

	in.mu.Lock()
	if in.currentLoad > 0 {
		in.currentLoad--
	}
	instanceLoadGauge.WithLabelValues(id).Set(float64(in.currentLoad))
	switch outcome {
	case OutcomeSuccess:
		in.totalRequests++
		ms := latency.Milliseconds()
		if in.avgLatencyMs == 0 {
			in.avgLatencyMs = ms
		} else {
			// EWMA, alpha 0.2: smooth without going stale.
			in.avgLatencyMs = (in.avgLatencyMs*4 + ms) / 5
		}
	case OutcomeError, OutcomeTimeout:
		in.totalRequests++
		in.errorCount++
	case OutcomeCanceled:
		// Slot was claimed but nothing reached the backend.
	}
	drained := in.status == StatusDraining && in.currentLoad == 0
	if drained {
		in.status = StatusOffline
	}
	in.mu.Unlock()

	if drained {
		r.mu.Lock()
		delete(r.instances, id)
		r.mu.Unlock()
		instanceLoadGauge.DeleteLabelValues(id)
		r.publisher.Publish(Event{Name: "instance_deregistered", InstanceID: id, Fields: map[string]any{}})
	}
	r.signalFreed()
	return nil
}

// SetStatus overrides an instance's status. Health checker use only.
func (r *Registry) SetStatus(id string, status Status) error {
	r.mu.RLock()
	in, ok := r.instances[id]
	r.mu.RUnlock()
	if !ok {
		return unknownInstanceError{id: id}
	}
	in.mu.Lock()
	prev := in.status
	in.status = status
	in.mu.Unlock()
	if prev != status {
		healthTransitionsTotal.WithLabelValues(id, string(status)).Inc()
		if status == StatusHealthy {
			r.signalFreed()
		}
	}
	return nil
}

// HasModel reports whether any instance (in any status) serves the model.
func (r *Registry) HasModel(model string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, in := range r.instances {
		if in.spec.Model == model {
			return true
		}
	}
	return false
}

// Endpoint resolves the network endpoint for a registered instance.
func (r *Registry) Endpoint(id string) (string, error) {
	r.mu.RLock()
	in, ok := r.instances[id]
	r.mu.RUnlock()
	if !ok {
		return "", unknownInstanceError{id: id}
	}
	return in.spec.Endpoint, nil
}

// candidate is a consistent point-in-time copy used for route ranking.
type candidate struct {
	id           string
	currentLoad  int
	avgLatencyMs int64
}

// candidates copies the routable view of every healthy, non-saturated
// instance serving the model. The copies decouple ranking from the live
// counters; TryAcquire re-validates before any slot is claimed.
func (r *Registry) candidates(model string) []candidate {
	r.mu.RLock()
	all := make([]*instance, 0, len(r.instances))
	for _, in := range r.instances {
		all = append(all, in)
	}
	r.mu.RUnlock()

	var out []candidate
	for _, in := range all {
		in.mu.Lock()
		eligible := in.spec.Model == model && in.status == StatusHealthy && in.currentLoad < in.spec.MaxLoad
		c := candidate{id: in.spec.ID, currentLoad: in.currentLoad, avgLatencyMs: in.avgLatencyMs}
		in.mu.Unlock()
		if eligible {
			out = append(out, c)
		}
	}
	return out
}

// probeTarget is the health checker's out-of-line copy of what to probe.
type probeTarget struct {
	id       string
	endpoint string
}

// probeTargets lists instances eligible for probing. Offline instances are
// gone from routing and draining ones are on their way out; neither is probed.
func (r *Registry) probeTargets() []probeTarget {
	r.mu.RLock()
	all := make([]*instance, 0, len(r.instances))
	for _, in := range r.instances {
		all = append(all, in)
	}
	r.mu.RUnlock()

	var out []probeTarget
	for _, in := range all {
		in.mu.Lock()
		skip := in.status == StatusOffline || in.status == StatusDraining
		t := probeTarget{id: in.spec.ID, endpoint: in.spec.Endpoint}
		in.mu.Unlock()
		if !skip {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// applyProbe writes back one probe result atomically: stamps lastHealthCheck,
// advances the consecutive counters, and flips status only when a threshold
// is crossed. Returns the new status and whether it changed.
func (r *Registry) applyProbe(id string, ok bool, failThreshold, okThreshold int) (Status, bool, error) {
	r.mu.RLock()
	in, present := r.instances[id]
	r.mu.RUnlock()
	if !present {
		return StatusOffline, false, unknownInstanceError{id: id}
	}

	in.mu.Lock()
	in.lastHealthCheck = time.Now()
	prev := in.status
	if ok {
		in.consecSuccesses++
		in.consecFailures = 0
		if in.status == StatusUnhealthy && in.consecSuccesses >= okThreshold {
			in.status = StatusHealthy
		}
	} else {
		in.consecFailures++
		in.consecSuccesses = 0
		if in.status == StatusHealthy && in.consecFailures >= failThreshold {
			in.status = StatusUnhealthy
		}
	}
	status := in.status
	changed := status != prev
	in.mu.Unlock()

	if changed {
		healthTransitionsTotal.WithLabelValues(id, string(status)).Inc()
		if status == StatusHealthy {
			// Recovered capacity: let the queue try a drain.
			r.signalFreed()
		}
	}
	return status, changed, nil
}
