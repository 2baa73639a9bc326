package gateway

import (
	"sync"
	"time"

	"gatewayd/pkg/types"
)

// Status represents lifecycle state of a registered instance.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDraining  Status = "draining"
	StatusOffline   Status = "offline"
)

// Outcome classifies a finished dispatch for counter accounting.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeError
	OutcomeTimeout
	// OutcomeCanceled frees a slot that was acquired but never dispatched
	// (caller deadline fired between acquire and execute). It does not count
	// against the instance's error rate.
	OutcomeCanceled
)

// RouteDecision is the ephemeral result of one selection: which instance to
// dispatch to and which attempt this is (1-based).
type RouteDecision struct {
	InstanceID string
	Attempt    int
}

// instance is the registry-owned record for one backend server. The registry's
// map lock guards membership only; counters and status are guarded by the
// per-instance mutex so unrelated instances never contend.
type instance struct {
	mu   sync.Mutex
	spec types.InstanceSpec

	status      Status
	currentLoad int

	totalRequests uint64
	errorCount    uint64
	// Rolling average backend latency (EWMA), milliseconds.
	avgLatencyMs int64

	lastHealthCheck time.Time
	consecFailures  int
	consecSuccesses int
}

// view builds an immutable copy for snapshots. Caller must not hold inst.mu.
func (in *instance) view() types.InstanceStatus {
	in.mu.Lock()
	defer in.mu.Unlock()
	var probed int64
	if !in.lastHealthCheck.IsZero() {
		probed = in.lastHealthCheck.Unix()
	}
	return types.InstanceStatus{
		ID:              in.spec.ID,
		Model:           in.spec.Model,
		Endpoint:        in.spec.Endpoint,
		Status:          string(in.status),
		CurrentLoad:     in.currentLoad,
		MaxLoad:         in.spec.MaxLoad,
		AvgLatencyMs:    in.avgLatencyMs,
		TotalRequests:   in.totalRequests,
		ErrorCount:      in.errorCount,
		LastHealthCheck: probed,
	}
}
