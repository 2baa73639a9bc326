package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Checker maintains the healthy/unhealthy classification so the request path
// never has to discover dead backends itself. It runs on a fixed interval,
// probes each instance with its own short timeout, and applies consecutive
// thresholds in both directions to resist flapping.
type Checker struct {
	reg       *Registry
	prober    Prober
	interval  time.Duration
	timeout   time.Duration
	failAfter int
	okAfter   int

	log       zerolog.Logger
	publisher EventPublisher

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewChecker constructs a health checker. cfg must already carry defaults.
func NewChecker(reg *Registry, prober Prober, cfg Config) *Checker {
	return &Checker{
		reg:       reg,
		prober:    prober,
		interval:  cfg.HealthInterval,
		timeout:   cfg.ProbeTimeout,
		failAfter: cfg.FailThreshold,
		okAfter:   cfg.OKThreshold,
		log:       *cfg.Logger,
		publisher: cfg.Publisher,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the probe loop in a goroutine.
func (c *Checker) Start() {
	go c.run()
}

// Close stops the loop and waits for it to exit.
func (c *Checker) Close() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Checker) run() {
	defer close(c.doneCh)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.CheckAll(context.Background())
		}
	}
}

// CheckAll probes every eligible instance once. State is copied out first and
// written back per instance, so no registry lock is held across a slow probe.
// A probe error is a data point, never a loop failure.
func (c *Checker) CheckAll(ctx context.Context) {
	for _, t := range c.reg.probeTargets() {
		select {
		case <-c.stopCh:
			return
		default:
		}
		probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.prober.Probe(probeCtx, t.endpoint)
		cancel()

		status, changed, applyErr := c.reg.applyProbe(t.id, err == nil, c.failAfter, c.okAfter)
		if applyErr != nil {
			// Deregistered mid-probe; nothing to record.
			continue
		}
		if changed {
			c.log.Info().Str("instance", t.id).Str("status", string(status)).Msg("health transition")
			name := "instance_up"
			if status != StatusHealthy {
				name = "instance_down"
			}
			fields := map[string]any{"status": string(status)}
			if err != nil {
				fields["reason"] = err.Error()
			}
			c.publisher.Publish(Event{Name: name, InstanceID: t.id, Fields: fields})
		} else if err != nil {
			c.log.Debug().Str("instance", t.id).Err(err).Msg("probe failed")
		}
	}
}
