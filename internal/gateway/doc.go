// Package gateway coordinates routing, admission, and retry handling for a
// fleet of backend inference servers. It is structured into small files by
// concern:
//
//   - gateway.go: Gateway façade (Route/Status/Register/Deregister) and
//     background loop lifecycle.
//   - config.go: Config and package defaults.
//   - types.go: internal state types (Status, Outcome, RouteDecision,
//     instance record).
//   - errors.go: error types and helpers (IsQueueFull, IsTimeout,
//     IsAllAttemptsFailed, ...).
//   - registry.go: instance registry; exclusive owner of instance records and
//     their counters, with per-instance locking.
//   - router.go: selection/acquisition of the best eligible instance.
//   - health.go: periodic probe loop with flap-damping thresholds.
//   - queue.go: pending-request queue with admission control and a single
//     drain path.
//   - execute.go: execution client; per-call timeouts, retry loop, backoff.
//   - backend.go: Backend/Prober interfaces and the HTTP implementation.
//   - events.go / eventpub_memory.go: lifecycle event publishing.
//   - metrics.go: Prometheus collectors for queue depth, load, and retries.
//
// External packages should treat this package as the orchestration layer and
// use the Gateway façade; internal types are subject to change.
package gateway
