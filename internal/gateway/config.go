package gateway

import (
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultMaxQueueDepth   = 64
	defaultRouteTimeout    = 30 * time.Second
	defaultDispatchTimeout = 30 * time.Second
	defaultMaxRetries      = 2
	defaultBackoffInitial  = 100 * time.Millisecond
	defaultBackoffMax      = 2 * time.Second
	defaultHealthInterval  = 5 * time.Second
	defaultProbeTimeout    = 2 * time.Second
	defaultFailThreshold   = 3
	defaultOKThreshold     = 2
	defaultPollInterval    = 250 * time.Millisecond
	defaultMaxResidency    = 2 * time.Minute
)

// Config encapsulates all tunables for Gateway construction.
type Config struct {
	// Admission ceiling for the pending queue.
	MaxQueueDepth int
	// Default per-request deadline when the request does not carry one.
	RouteTimeout time.Duration
	// Ceiling on a single backend call, independent of the request deadline.
	DispatchTimeout time.Duration
	// Retries after the initial attempt fails (total attempts = MaxRetries+1).
	// Zero uses the default; negative disables retries.
	MaxRetries int
	// Backoff between retry attempts, growing exponentially up to the cap.
	BackoffInitial time.Duration
	BackoffMax     time.Duration

	// Health checker tunables.
	HealthInterval time.Duration
	ProbeTimeout   time.Duration
	FailThreshold  int
	OKThreshold    int

	// Queue drain fallback interval and the priority-independent residency cap.
	PollInterval time.Duration
	MaxResidency time.Duration

	// Backend transport; defaults to the HTTP backend.
	Backend Backend
	// Event sink; defaults to a no-op publisher.
	Publisher EventPublisher
	// Structured logger; defaults to a disabled logger.
	Logger *zerolog.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxQueueDepth <= 0 {
		cfg.MaxQueueDepth = defaultMaxQueueDepth
	}
	if cfg.RouteTimeout <= 0 {
		cfg.RouteTimeout = defaultRouteTimeout
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = defaultDispatchTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = defaultBackoffInitial
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = defaultHealthInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = defaultFailThreshold
	}
	if cfg.OKThreshold <= 0 {
		cfg.OKThreshold = defaultOKThreshold
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxResidency <= 0 {
		cfg.MaxResidency = defaultMaxResidency
	}
	if cfg.Backend == nil {
		cfg.Backend = NewHTTPBackend(5 * time.Second)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = noopPublisher{}
	}
	if cfg.Logger == nil {
		l := zerolog.Nop()
		cfg.Logger = &l
	}
	return cfg
}
