package store

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/robofleet/resmux/internal/broker/model"
)

var (
	storeOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "resmux",
			Name:      "store_ops_total",
			Help:      "Total store operations",
		},
		[]string{"backend", "op", "result"}, // result=success/error
	)
	storeLat = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "resmux",
			Name:      "store_op_seconds",
			Help:      "Store operation latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)
)

// instrumentedStore wraps any Store to capture metrics. Precondition and
// not-found outcomes count as success: they are the contract working, not
// the backend failing.
type instrumentedStore struct {
	inner   Store
	backend string
}

// NewInstrumentedStore decorates inner with Prometheus op counters and
// latency histograms labelled by backend.
func NewInstrumentedStore(inner Store, backend string) Store {
	return &instrumentedStore{inner: inner, backend: backend}
}

func (i *instrumentedStore) observe(op string, start time.Time, err error) {
	dur := time.Since(start).Seconds()
	res := "success"
	if IsBackendFailure(err) {
		res = "error"
	}
	storeOps.WithLabelValues(i.backend, op, res).Inc()
	storeLat.WithLabelValues(i.backend, op).Observe(dur)
}

func (i *instrumentedStore) Get(ctx context.Context, key model.Key) (rec *model.ResourceRecord, err error) {
	start := time.Now()
	defer func() { i.observe("get", start, err) }()
	return i.inner.Get(ctx, key)
}

func (i *instrumentedStore) ListAll(ctx context.Context) (list []*model.ResourceRecord, err error) {
	start := time.Now()
	defer func() { i.observe("list_all", start, err) }()
	return i.inner.ListAll(ctx)
}

func (i *instrumentedStore) UpdateLease(ctx context.Context, key model.Key, pre Precondition, set LeaseFields) (err error) {
	start := time.Now()
	defer func() { i.observe("update_lease", start, err) }()
	return i.inner.UpdateLease(ctx, key, pre, set)
}

func (i *instrumentedStore) SweepExpired(ctx context.Context, nowMS int64) (expired []*model.ResourceRecord, err error) {
	start := time.Now()
	defer func() { i.observe("sweep_expired", start, err) }()
	return i.inner.SweepExpired(ctx, nowMS)
}

func (i *instrumentedStore) SeedDefinitions(ctx context.Context, defs []model.ResourceDefinition) (added int, err error) {
	start := time.Now()
	defer func() { i.observe("seed_definitions", start, err) }()
	return i.inner.SeedDefinitions(ctx, defs)
}

func (i *instrumentedStore) Close() error {
	return i.inner.Close()
}

var _ Store = (*instrumentedStore)(nil)
