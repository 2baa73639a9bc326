package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"gatewayd/pkg/types"
)

// queueOutcome is delivered exactly once per entry: either a claimed route
// decision (slot already acquired) or a terminal error.
type queueOutcome struct {
	decision RouteDecision
	err      error
}

// queueEntry is one pending request waiting for capacity.
type queueEntry struct {
	id         string
	model      string
	priority   types.Priority
	seq        uint64
	enqueuedAt time.Time
	deadline   time.Time
	done       chan queueOutcome // buffered 1; send happens under the queue lock
}

// QueueProcessor absorbs bursts when no instance is immediately eligible.
// It exclusively owns the pending collection; a single drain goroutine is the
// only dispatch path, so an entry can never be handed out twice.
type QueueProcessor struct {
	mu      sync.Mutex
	entries []*queueEntry
	seq     uint64

	maxDepth     int
	maxResidency time.Duration
	pollInterval time.Duration

	router *Router
	freed  <-chan struct{}
	wake   chan struct{}

	log       zerolog.Logger
	publisher EventPublisher

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewQueueProcessor constructs the processor. cfg must already carry defaults.
func NewQueueProcessor(router *Router, freed <-chan struct{}, cfg Config) *QueueProcessor {
	return &QueueProcessor{
		maxDepth:     cfg.MaxQueueDepth,
		maxResidency: cfg.MaxResidency,
		pollInterval: cfg.PollInterval,
		router:       router,
		freed:        freed,
		wake:         make(chan struct{}, 1),
		log:          *cfg.Logger,
		publisher:    cfg.Publisher,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start begins the drain loop in a goroutine.
func (q *QueueProcessor) Start() {
	go q.run()
}

// Close stops the loop and fails every still-pending entry.
func (q *QueueProcessor) Close() {
	close(q.stopCh)
	<-q.doneCh

	q.mu.Lock()
	pending := q.entries
	q.entries = nil
	queueDepthGauge.Set(0)
	q.mu.Unlock()
	for _, e := range pending {
		e.done <- queueOutcome{err: timeoutError{stage: "queued"}}
	}
}

// Depth returns the number of pending entries.
func (q *QueueProcessor) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Enqueue admits a request or rejects it immediately with QueueFull.
// The deadline is clamped by the priority-independent residency cap so no
// entry can park forever behind higher-priority traffic.
func (q *QueueProcessor) Enqueue(model string, priority types.Priority, deadline time.Time) (*queueEntry, error) {
	now := time.Now()
	if limit := now.Add(q.maxResidency); deadline.After(limit) {
		deadline = limit
	}
	e := &queueEntry{
		id:         uuid.NewString(),
		model:      model,
		priority:   priority,
		enqueuedAt: now,
		deadline:   deadline,
		done:       make(chan queueOutcome, 1),
	}

	q.mu.Lock()
	if len(q.entries) >= q.maxDepth {
		q.mu.Unlock()
		return nil, queueFullError{model: model}
	}
	q.seq++
	e.seq = q.seq
	q.entries = append(q.entries, e)
	queueDepthGauge.Set(float64(len(q.entries)))
	q.mu.Unlock()

	q.publisher.Publish(Event{Name: "request_queued", InstanceID: "", Fields: map[string]any{
		"request_id": e.id,
		"model":      model,
		"priority":   int(priority),
	}})
	q.kick()
	return e, nil
}

// Remove withdraws a still-pending entry (caller gave up waiting). Returns
// false when the entry was already handed off; the caller must then consume
// the outcome on e.done and release any slot it carries.
func (q *QueueProcessor) Remove(e *queueEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, cur := range q.entries {
		if cur == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			queueDepthGauge.Set(float64(len(q.entries)))
			return true
		}
	}
	return false
}

// kick wakes the drain loop without blocking.
func (q *QueueProcessor) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *QueueProcessor) run() {
	defer close(q.doneCh)
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stopCh:
			return
		case <-q.freed:
		case <-q.wake:
		case <-ticker.C:
		}
		q.drainOnce()
	}
}

// drainOnce is the single dispatch path. Expired entries are failed first,
// then the rest are offered to the router in priority order, FIFO within a
// priority. An entry leaves the pending collection in the same locked step
// that delivers its outcome, so no duplicate dispatch is possible.
func (q *QueueProcessor) drainOnce() {
	now := time.Now()

	q.mu.Lock()
	sort.SliceStable(q.entries, func(i, j int) bool {
		a, b := q.entries[i], q.entries[j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		return a.seq < b.seq
	})

	kept := q.entries[:0]
	for _, e := range q.entries {
		if !now.Before(e.deadline) {
			requestTimeoutsTotal.Inc()
			q.publisher.Publish(Event{Name: "queue_timeout", InstanceID: "", Fields: map[string]any{
				"request_id": e.id,
				"model":      e.model,
				"waited_ms":  now.Sub(e.enqueuedAt).Milliseconds(),
			}})
			e.done <- queueOutcome{err: timeoutError{stage: "queued"}}
			continue
		}
		dec, ok := q.router.SelectAndAcquire(e.model, nil)
		if !ok {
			kept = append(kept, e)
			continue
		}
		e.done <- queueOutcome{decision: dec}
	}
	// Zero the tail so released entries do not linger behind the slice.
	for i := len(kept); i < len(q.entries); i++ {
		q.entries[i] = nil
	}
	q.entries = kept
	queueDepthGauge.Set(float64(len(q.entries)))
	q.mu.Unlock()
}
