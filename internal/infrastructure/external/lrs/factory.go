package lrs

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tincanhub/tincan-launch/internal/domain/activity"
)

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT FACTORY
// ══════════════════════════════════════════════════════════════════════════════

// FactoryConfig contains configuration shared by all clients a Factory
// builds.
type FactoryConfig struct {
	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// RateLimiter is the pacing applied per endpoint.
	RateLimiter RateLimiterConfig

	// Logger for structured logging.
	Logger *slog.Logger

	// Debug enables request/response debug logging.
	Debug bool
}

// Factory builds per-operation clients. Clients are never memoized, so
// settings changes take effect on the next operation; the rate limiter
// is shared per endpoint because pacing must hold across every
// concurrent operation against the same LRS.
type Factory struct {
	config FactoryConfig

	mu       sync.Mutex
	limiters map[string]*RateLimiter
}

// NewFactory creates a client factory.
func NewFactory(config FactoryConfig) *Factory {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.RateLimiter.RequestsPerSecond <= 0 {
		config.RateLimiter = DefaultRateLimiterConfig()
	}
	return &Factory{
		config:   config,
		limiters: make(map[string]*RateLimiter),
	}
}

// NewClient builds a client for the given resolved settings.
func (f *Factory) NewClient(settings activity.LRSSettings) (*Client, error) {
	return NewClient(ClientConfig{
		Settings:    settings,
		Timeout:     f.config.Timeout,
		RateLimiter: f.limiterFor(settings.Endpoint),
		Logger:      f.config.Logger,
		Debug:       f.config.Debug,
	})
}

func (f *Factory) limiterFor(endpoint string) *RateLimiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	if limiter, ok := f.limiters[endpoint]; ok {
		return limiter
	}
	limiter := NewRateLimiter(f.config.RateLimiter)
	f.limiters[endpoint] = limiter
	return limiter
}
