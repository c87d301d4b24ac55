package expirer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/robofleet/resmux/internal/broker/model"
	"github.com/robofleet/resmux/internal/broker/store"
	"github.com/robofleet/resmux/internal/clock"
)

func seedLeased(t *testing.T, s store.Store, lockedTimeMS, maxTimeoutMS int64) model.Key {
	t.Helper()
	ctx := context.Background()
	def := model.ResourceDefinition{
		BldgID:           "B",
		ResourceID:       "R",
		ResourceType:     model.TypeAllowOne,
		MaxTimeoutMS:     maxTimeoutMS,
		DefaultTimeoutMS: maxTimeoutMS / 2,
	}
	_, err := s.SeedDefinitions(ctx, []model.ResourceDefinition{def})
	require.NoError(t, err)

	key := def.Key()
	err = s.UpdateLease(ctx, key,
		store.Precondition{},
		store.LeaseFields{LockedBy: "robot-1", LockedTimeMS: lockedTimeMS, ExpirationTimeMS: lockedTimeMS + 1000})
	require.NoError(t, err)
	return key
}

func TestSweepOnce_RevokesPastCeiling(t *testing.T) {
	s := store.NewMemoryStore()
	vc := clock.NewVirtual(1000)
	key := seedLeased(t, s, 1000, 2000)

	e := New(s, vc, nil, Config{})

	// Ceiling is 3000; strictly-after semantics keep the lease at 3000.
	vc.Set(3000)
	n, err := e.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	vc.Set(3001)
	n, err = e.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Empty(t, rec.LockedBy)
	assert.Zero(t, rec.LockedTimeMS)
	assert.Zero(t, rec.ExpirationTimeMS)
}

func TestSweepOnce_IgnoresAdvisoryExpiration(t *testing.T) {
	s := store.NewMemoryStore()
	vc := clock.NewVirtual(1000)
	key := seedLeased(t, s, 1000, 60000)

	e := New(s, vc, nil, Config{})

	// Far past the advisory expiration (2000) but under the ceiling (61000).
	vc.Set(50000)
	n, err := e.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	rec, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, "robot-1", rec.LockedBy)
}

type failingStore struct {
	store.Store
	fail bool
}

func (f *failingStore) SweepExpired(ctx context.Context, nowMS int64) ([]*model.ResourceRecord, error) {
	if f.fail {
		return nil, errors.New("backend down")
	}
	return f.Store.SweepExpired(ctx, nowMS)
}

func TestSweepOnce_BackendErrorIsReturned(t *testing.T) {
	inner := store.NewMemoryStore()
	fs := &failingStore{Store: inner, fail: true}
	e := New(fs, clock.NewVirtual(1000), nil, Config{})

	_, err := e.SweepOnce(context.Background())
	assert.Error(t, err)

	// Next sweep recovers once the backend does.
	fs.fail = false
	_, err = e.SweepOnce(context.Background())
	assert.NoError(t, err)
}

func TestRun_ReclaimsWithinOnePeriod(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := store.NewMemoryStore()
	vc := clock.NewVirtual(1000)
	key := seedLeased(t, s, 1000, 2000)

	e := New(s, vc, nil, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		e.Run(ctx)
	}()

	vc.Set(10000)
	require.Eventually(t, func() bool {
		rec, err := s.Get(context.Background(), key)
		return err == nil && rec.LockedBy == ""
	}, time.Second, 5*time.Millisecond, "lease must be reclaimed within one sweep period")

	cancel()
	<-done
}

func TestNew_DefaultInterval(t *testing.T) {
	e := New(store.NewMemoryStore(), clock.System{}, nil, Config{})
	assert.Equal(t, time.Second, e.conf.Interval)
}
