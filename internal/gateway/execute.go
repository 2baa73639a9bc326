package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gatewayd/pkg/types"
)

// Executor dispatches a routed request to its backend and owns the retry loop
// end to end. It is the only component that pairs Router.Select with
// Registry.TryAcquire/Release inside one logical operation.
type Executor struct {
	reg     *Registry
	router  *Router
	backend Backend

	maxRetries      int
	dispatchTimeout time.Duration
	backoffInitial  time.Duration
	backoffMax      time.Duration

	log       zerolog.Logger
	publisher EventPublisher

	dispatches uint64
	retries    uint64
	timeouts   uint64
}

// NewExecutor constructs an executor. cfg must already carry defaults.
func NewExecutor(reg *Registry, router *Router, cfg Config) *Executor {
	return &Executor{
		reg:             reg,
		router:          router,
		backend:         cfg.Backend,
		maxRetries:      cfg.MaxRetries,
		dispatchTimeout: cfg.DispatchTimeout,
		backoffInitial:  cfg.BackoffInitial,
		backoffMax:      cfg.BackoffMax,
		log:             *cfg.Logger,
		publisher:       cfg.Publisher,
	}
}

// Counters returns totals for status reporting.
func (e *Executor) Counters() (dispatches, retries, timeouts uint64) {
	return atomic.LoadUint64(&e.dispatches), atomic.LoadUint64(&e.retries), atomic.LoadUint64(&e.timeouts)
}

// Run executes a request against the already-acquired decision, retrying on
// alternate instances until success, deadline expiry, or retry exhaustion.
// The acquired slot is released on every path, including a hung backend.
func (e *Executor) Run(ctx context.Context, dec RouteDecision, req types.CompletionRequest) (types.CompletionResult, error) {
	requestID := uuid.NewString()
	exclude := map[string]bool{dec.InstanceID: true}
	var attempts []Attempt

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.backoffInitial
	bo.MaxInterval = e.backoffMax
	bo.RandomizationFactor = 0
	bo.Reset()

	for {
		// Caller deadline beats everything; free the slot without touching
		// the instance's error rate.
		if ctx.Err() != nil {
			_ = e.reg.Release(dec.InstanceID, OutcomeCanceled, 0)
			atomic.AddUint64(&e.timeouts, 1)
			return types.CompletionResult{}, timeoutError{stage: "executing"}
		}

		result, attemptErr := e.attempt(ctx, dec, req)
		if attemptErr == nil {
			result.RequestID = requestID
			result.Attempts = dec.Attempt
			return result, nil
		}
		if IsTimeout(attemptErr) {
			// Parent deadline fired mid-call; terminal.
			atomic.AddUint64(&e.timeouts, 1)
			return types.CompletionResult{}, attemptErr
		}

		attempts = append(attempts, Attempt{InstanceID: dec.InstanceID, Reason: attemptErr.Error()})
		e.log.Debug().
			Str("request_id", requestID).
			Str("instance", dec.InstanceID).
			Int("attempt", dec.Attempt).
			Err(attemptErr).
			Msg("dispatch failed")

		if dec.Attempt > e.maxRetries {
			return types.CompletionResult{}, allAttemptsFailedError{attempts: attempts}
		}

		// Short pause before hammering the fleet again, bounded by the
		// caller's own deadline.
		if !e.sleep(ctx, bo.NextBackOff()) {
			atomic.AddUint64(&e.timeouts, 1)
			return types.CompletionResult{}, timeoutError{stage: "executing"}
		}

		next, ok := e.router.SelectAndAcquire(req.Model, exclude)
		if !ok {
			// No alternate left; the attempts we made are the whole story.
			return types.CompletionResult{}, allAttemptsFailedError{attempts: attempts}
		}
		next.Attempt = dec.Attempt + 1
		exclude[next.InstanceID] = true
		dec = next
		atomic.AddUint64(&e.retries, 1)
		retriesTotal.Inc()
		e.publisher.Publish(Event{Name: "dispatch_retry", InstanceID: next.InstanceID, Fields: map[string]any{
			"request_id": requestID,
			"attempt":    next.Attempt,
		}})
	}
}

// attempt performs one bounded backend call and settles the slot's accounting.
// A nil error means the slot was released with a success outcome; a timeout
// error means the parent deadline fired; anything else is retryable.
func (e *Executor) attempt(ctx context.Context, dec RouteDecision, req types.CompletionRequest) (types.CompletionResult, error) {
	endpoint, err := e.reg.Endpoint(dec.InstanceID)
	if err != nil {
		// Instance vanished between acquire and dispatch. The record is gone,
		// so there is no slot left to release.
		return types.CompletionResult{}, backendError{msg: err.Error()}
	}

	atomic.AddUint64(&e.dispatches, 1)
	dispatchesTotal.Inc()

	callCtx, cancel := context.WithTimeout(ctx, e.dispatchTimeout)
	start := time.Now()
	res, callErr := e.backend.Complete(callCtx, endpoint, req)
	latency := time.Since(start)
	cancel()

	if callErr == nil {
		_ = e.reg.Release(dec.InstanceID, OutcomeSuccess, latency)
		return types.CompletionResult{
			InstanceID:   dec.InstanceID,
			Content:      res.Content,
			FinishReason: res.FinishReason,
			LatencyMs:    latency.Milliseconds(),
		}, nil
	}

	if errors.Is(callErr, context.DeadlineExceeded) || errors.Is(callErr, context.Canceled) {
		_ = e.reg.Release(dec.InstanceID, OutcomeTimeout, latency)
		if ctx.Err() != nil {
			return types.CompletionResult{}, timeoutError{stage: "executing"}
		}
		// Only the per-call ceiling fired; the request still has time to retry.
		return types.CompletionResult{}, backendError{msg: "dispatch timeout after " + latency.Truncate(time.Millisecond).String()}
	}

	_ = e.reg.Release(dec.InstanceID, OutcomeError, latency)
	return types.CompletionResult{}, callErr
}

// sleep waits d or until ctx is done; reports false on cancellation.
func (e *Executor) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
