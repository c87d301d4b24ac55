// Package expirer runs the background sweep that revokes leases past their
// absolute ceiling. It enforces locked_time + max_timeout only; the
// per-lease expiration_time is advisory for clients and never consulted.
package expirer

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/robofleet/resmux/internal/audit"
	"github.com/robofleet/resmux/internal/broker/store"
	"github.com/robofleet/resmux/internal/clock"
	"github.com/robofleet/resmux/internal/log"
)

var (
	leasesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "resmux",
		Name:      "leases_expired_total",
		Help:      "Leases revoked by the expirer",
	})

	sweepErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "resmux",
		Name:      "sweep_errors_total",
		Help:      "Expirer ticks skipped due to storage errors",
	})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "resmux",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of one expirer sweep",
		Buckets:   prometheus.DefBuckets,
	})
)

// Config holds the expirer schedule.
type Config struct {
	// Interval between sweeps. Defaults to one second.
	Interval time.Duration
}

// Expirer periodically reclaims leases whose absolute deadline has passed.
type Expirer struct {
	store store.Store
	clock clock.Clock
	audit *audit.Logger
	conf  Config
}

// New creates an expirer over the shared store. The audit logger may be nil.
func New(s store.Store, c clock.Clock, a *audit.Logger, conf Config) *Expirer {
	if conf.Interval <= 0 {
		conf.Interval = time.Second
	}
	return &Expirer{store: s, clock: c, audit: a, conf: conf}
}

// Run loops until ctx is cancelled. Storage errors during a tick are logged
// and the tick is skipped; subsequent ticks retry.
func (e *Expirer) Run(ctx context.Context) {
	logger := log.WithComponent("expirer")
	logger.Info().Dur("interval", e.conf.Interval).Msg("lease expirer started")

	ticker := time.NewTicker(e.conf.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("lease expirer stopped")
			return
		case <-ticker.C:
			if _, err := e.SweepOnce(ctx); err != nil {
				logger.Error().Err(err).
					Str(log.FieldEvent, "sweep.failed").
					Msg("sweep failed, skipping tick")
			}
		}
	}
}

// SweepOnce performs one sweep against the store and returns the number of
// leases revoked. Exposed so tests can drive sweeps deterministically.
func (e *Expirer) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	now := e.clock.NowMS()

	revoked, err := e.store.SweepExpired(ctx, now)
	sweepDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		sweepErrors.Inc()
		return 0, err
	}

	logger := log.WithComponent("expirer")
	for _, rec := range revoked {
		logger.Warn().
			Str(log.FieldEvent, "lease.expired").
			Str(log.FieldBldgID, rec.BldgID).
			Str(log.FieldResource, rec.ResourceID).
			Str(log.FieldLockedBy, rec.LockedBy).
			Int64(log.FieldLockedTime, rec.LockedTimeMS).
			Int64("max_timeout_ms", rec.MaxTimeoutMS).
			Int64("now_ms", now).
			Msg("revoked expired lease")
		if e.audit != nil {
			e.audit.LeaseExpired(rec.LockedBy, rec.Key().String(), rec.LockedTimeMS, rec.MaxTimeoutMS)
		}
	}
	leasesExpired.Add(float64(len(revoked)))

	return len(revoked), nil
}
