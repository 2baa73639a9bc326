package gateway

import "sort"

// Router picks the best eligible instance for a model. It never blocks,
// retries, or queues; callers own those decisions.
type Router struct {
	reg *Registry
}

// NewRouter constructs a router over the registry.
func NewRouter(reg *Registry) *Router { return &Router{reg: reg} }

// Select returns the id of the best eligible instance for the model, or
// ok=false when none exists. Ranking: ascending current load, then ascending
// rolling latency, then instance id so results are deterministic.
func (rt *Router) Select(model string, exclude map[string]bool) (string, bool) {
	cands := rt.reg.candidates(model)
	if len(exclude) > 0 {
		kept := cands[:0]
		for _, c := range cands {
			if !exclude[c.id] {
				kept = append(kept, c)
			}
		}
		cands = kept
	}
	if len(cands) == 0 {
		return "", false
	}
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.currentLoad != b.currentLoad {
			return a.currentLoad < b.currentLoad
		}
		if a.avgLatencyMs != b.avgLatencyMs {
			return a.avgLatencyMs < b.avgLatencyMs
		}
		return a.id < b.id
	})
	return cands[0].id, true
}

// SelectAndAcquire runs the select/acquire pair until a slot is actually
// claimed. Losing a TryAcquire race is not a failure: the loser re-selects
// with the contested id excluded instead of surfacing a spurious error.
// The exclude map is mutated in place; pass nil for a fresh one.
func (rt *Router) SelectAndAcquire(model string, exclude map[string]bool) (RouteDecision, bool) {
	if exclude == nil {
		exclude = make(map[string]bool)
	}
	for {
		id, ok := rt.Select(model, exclude)
		if !ok {
			return RouteDecision{}, false
		}
		acquired, err := rt.reg.TryAcquire(id)
		if err == nil && acquired {
			return RouteDecision{InstanceID: id, Attempt: 1}, true
		}
		// Lost the race (or the instance vanished); never pick it again in
		// this pass.
		exclude[id] = true
	}
}
