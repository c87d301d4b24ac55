// Package ratelimit provides token-bucket limiting for lease write
// operations, keyed by robot ID. Off by default; a misbehaving robot
// hammering registration retries can otherwise starve the store.
package ratelimit

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var rateLimitExceeded = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "resmux",
		Name:      "ratelimit_exceeded_total",
		Help:      "Total rate limit rejections",
	},
	[]string{"limit_type"},
)

// Config holds rate limiting configuration.
type Config struct {
	// PerRobotRate is the sustained request rate allowed per robot.
	PerRobotRate rate.Limit
	// PerRobotBurst is the burst size per robot.
	PerRobotBurst int

	// CleanupInterval bounds how long idle robot buckets are kept.
	CleanupInterval time.Duration
}

// DefaultConfig returns limits sized for a building-scale robot fleet.
func DefaultConfig() Config {
	return Config{
		PerRobotRate:    10,
		PerRobotBurst:   20,
		CleanupInterval: 5 * time.Minute,
	}
}

// Limiter manages per-robot token buckets.
type Limiter struct {
	config Config

	perRobot map[string]*rate.Limiter
	mu       sync.Mutex

	lastCleanup time.Time
}

// New creates a rate limiter with the given config.
func New(config Config) *Limiter {
	return &Limiter{
		config:      config,
		perRobot:    make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

// Allow reports whether a write request from the given robot is admitted.
func (l *Limiter) Allow(robotID string) bool {
	if !l.getRobotLimiter(robotID).Allow() {
		rateLimitExceeded.WithLabelValues("per_robot").Inc()
		return false
	}
	l.maybeCleanup()
	return true
}

func (l *Limiter) getRobotLimiter(robotID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.perRobot[robotID]
	if !exists {
		limiter = rate.NewLimiter(l.config.PerRobotRate, l.config.PerRobotBurst)
		l.perRobot[robotID] = limiter
	}
	return limiter
}

// maybeCleanup drops all robot buckets once the cleanup interval has passed.
// Idle buckets refill to full burst anyway, so resetting is harmless.
func (l *Limiter) maybeCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if time.Since(l.lastCleanup) < l.config.CleanupInterval {
		return
	}
	l.perRobot = make(map[string]*rate.Limiter)
	l.lastCleanup = time.Now()
}
