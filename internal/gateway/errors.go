package gateway

import (
	"fmt"
	"strings"
)

// queueFullError signals admission rejection for 429 mapping.
type queueFullError struct{ model string }

func (e queueFullError) Error() string { return "queue full: " + e.model }

// IsQueueFull reports whether err indicates admission backpressure (return 429).
func IsQueueFull(err error) bool {
	_, ok := err.(queueFullError)
	return ok
}

// timeoutError signals a request that expired while queued or executing.
type timeoutError struct{ stage string }

func (e timeoutError) Error() string { return "request deadline exceeded while " + e.stage }

// IsTimeout reports whether err indicates a terminal deadline expiry.
func IsTimeout(err error) bool {
	_, ok := err.(timeoutError)
	return ok
}

// Attempt records one failed dispatch for AllAttemptsFailed reporting.
type Attempt struct {
	InstanceID string
	Reason     string
}

// allAttemptsFailedError is terminal: the retry budget is spent and every
// attempted instance failed.
type allAttemptsFailedError struct{ attempts []Attempt }

func (e allAttemptsFailedError) Error() string {
	ids := make([]string, len(e.attempts))
	for i, a := range e.attempts {
		ids[i] = a.InstanceID
	}
	return fmt.Sprintf("all %d attempts failed: %s", len(e.attempts), strings.Join(ids, ", "))
}

// IsAllAttemptsFailed reports whether err indicates retry exhaustion.
func IsAllAttemptsFailed(err error) bool {
	_, ok := err.(allAttemptsFailedError)
	return ok
}

// AttemptsOf returns the ordered attempt records carried by an
// AllAttemptsFailed error, or nil for any other error.
func AttemptsOf(err error) []Attempt {
	if e, ok := err.(allAttemptsFailedError); ok {
		return e.attempts
	}
	return nil
}

// duplicateInstanceError signals a Register call with an id already present.
type duplicateInstanceError struct{ id string }

func (e duplicateInstanceError) Error() string { return "duplicate instance: " + e.id }

// IsDuplicateInstance reports whether err indicates a duplicate registration.
func IsDuplicateInstance(err error) bool {
	_, ok := err.(duplicateInstanceError)
	return ok
}

// unknownInstanceError signals registry misuse with an id that is not present.
type unknownInstanceError struct{ id string }

func (e unknownInstanceError) Error() string { return "unknown instance: " + e.id }

// IsUnknownInstance reports whether err references an unregistered instance id.
func IsUnknownInstance(err error) bool {
	_, ok := err.(unknownInstanceError)
	return ok
}

// unknownModelError signals a route request for a model no instance serves.
type unknownModelError struct{ model string }

func (e unknownModelError) Error() string { return "unknown model: " + e.model }

// IsUnknownModel reports whether err references a model with no instances.
func IsUnknownModel(err error) bool {
	_, ok := err.(unknownModelError)
	return ok
}

// backendError is a per-attempt failure. It never crosses the gateway
// boundary: the execution client retries or folds it into AllAttemptsFailed.
type backendError struct {
	status int
	msg    string
}

func (e backendError) Error() string {
	if e.status > 0 {
		return fmt.Sprintf("backend error: status %d: %s", e.status, e.msg)
	}
	return "backend error: " + e.msg
}

// IsBackendError reports whether err is a retryable per-attempt failure.
func IsBackendError(err error) bool {
	_, ok := err.(backendError)
	return ok
}
