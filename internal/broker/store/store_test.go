package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robofleet/resmux/internal/broker/model"
)

// backends returns one fresh instance of every Store implementation. All
// backends must satisfy the same contract, so the conformance suite runs
// against each.
func backends(t *testing.T) map[string]Store {
	t.Helper()

	sqliteStore, err := NewSqliteStore(filepath.Join(t.TempDir(), "resources.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	badgerStore, err := OpenBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerStore.Close() })

	mini := miniredis.RunT(t)
	redisStore := newRedisStoreFromClient(redis.NewClient(&redis.Options{Addr: mini.Addr()}))
	t.Cleanup(func() { _ = redisStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
		"badger": badgerStore,
		"redis":  redisStore,
	}
}

func testDefs() []model.ResourceDefinition {
	return []model.ResourceDefinition{
		{BldgID: "B1", ResourceID: "elevator-1", ResourceType: model.TypeAllowOne, MaxTimeoutMS: 60000, DefaultTimeoutMS: 30000},
		{BldgID: "B1", ResourceID: "elevator-2", ResourceType: model.TypeAllowOne, MaxTimeoutMS: 120000, DefaultTimeoutMS: 45000},
		{BldgID: "B2", ResourceID: "door-1", ResourceType: model.TypeAllowOne, MaxTimeoutMS: 30000, DefaultTimeoutMS: 15000},
	}
}

func TestStoreConformance(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			defs := testDefs()

			added, err := s.SeedDefinitions(ctx, defs)
			require.NoError(t, err)
			assert.Equal(t, len(defs), added)

			t.Run("seed is idempotent", func(t *testing.T) {
				again, err := s.SeedDefinitions(ctx, defs)
				require.NoError(t, err)
				assert.Zero(t, again)
			})

			t.Run("get returns seeded record", func(t *testing.T) {
				rec, err := s.Get(ctx, model.Key{BldgID: "B1", ResourceID: "elevator-1"})
				require.NoError(t, err)
				want := &model.ResourceRecord{ResourceDefinition: defs[0]}
				if diff := cmp.Diff(want, rec); diff != "" {
					t.Errorf("record mismatch (-want +got):\n%s", diff)
				}
			})

			t.Run("get unknown key", func(t *testing.T) {
				_, err := s.Get(ctx, model.Key{BldgID: "B9", ResourceID: "nope"})
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("list all is key ordered", func(t *testing.T) {
				all, err := s.ListAll(ctx)
				require.NoError(t, err)
				require.Len(t, all, len(defs))
				for i := 1; i < len(all); i++ {
					prev := all[i-1].Key()
					cur := all[i].Key()
					assert.True(t, prev.BldgID < cur.BldgID ||
						(prev.BldgID == cur.BldgID && prev.ResourceID < cur.ResourceID),
						"records must be ordered by key")
				}
			})

			t.Run("update lease acquire and release", func(t *testing.T) {
				key := model.Key{BldgID: "B1", ResourceID: "elevator-1"}

				err := s.UpdateLease(ctx, key,
					Precondition{},
					LeaseFields{LockedBy: "robot-1", LockedTimeMS: 1000, ExpirationTimeMS: 31000})
				require.NoError(t, err)

				rec, err := s.Get(ctx, key)
				require.NoError(t, err)
				assert.Equal(t, "robot-1", rec.LockedBy)
				assert.Equal(t, int64(1000), rec.LockedTimeMS)
				assert.Equal(t, int64(31000), rec.ExpirationTimeMS)

				// Acquire against a held row fails the precondition.
				err = s.UpdateLease(ctx, key,
					Precondition{},
					LeaseFields{LockedBy: "robot-2", LockedTimeMS: 2000, ExpirationTimeMS: 32000})
				assert.ErrorIs(t, err, ErrPreconditionFailed)

				// Release by the wrong holder fails the precondition.
				err = s.UpdateLease(ctx, key, Precondition{LockedBy: "robot-2"}, LeaseFields{})
				assert.ErrorIs(t, err, ErrPreconditionFailed)

				// Release by the holder clears all three fields.
				err = s.UpdateLease(ctx, key, Precondition{LockedBy: "robot-1"}, LeaseFields{})
				require.NoError(t, err)

				rec, err = s.Get(ctx, key)
				require.NoError(t, err)
				assert.Empty(t, rec.LockedBy)
				assert.Zero(t, rec.LockedTimeMS)
				assert.Zero(t, rec.ExpirationTimeMS)
			})

			t.Run("update lease unknown key", func(t *testing.T) {
				err := s.UpdateLease(ctx, model.Key{BldgID: "B9", ResourceID: "nope"},
					Precondition{}, LeaseFields{LockedBy: "robot-1"})
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("sweep expired", func(t *testing.T) {
				held := model.Key{BldgID: "B1", ResourceID: "elevator-2"}
				fresh := model.Key{BldgID: "B2", ResourceID: "door-1"}

				// elevator-2: ceiling 1000+120000=121000. door-1: 500000+30000=530000.
				require.NoError(t, s.UpdateLease(ctx, held, Precondition{},
					LeaseFields{LockedBy: "robot-1", LockedTimeMS: 1000, ExpirationTimeMS: 2000}))
				require.NoError(t, s.UpdateLease(ctx, fresh, Precondition{},
					LeaseFields{LockedBy: "robot-2", LockedTimeMS: 500000, ExpirationTimeMS: 510000}))

				// At the ceiling: strict comparison keeps the lease.
				expired, err := s.SweepExpired(ctx, 121000)
				require.NoError(t, err)
				assert.Empty(t, expired)

				// Past the ceiling: only elevator-2 goes.
				expired, err = s.SweepExpired(ctx, 121001)
				require.NoError(t, err)
				require.Len(t, expired, 1)
				assert.Equal(t, "robot-1", expired[0].LockedBy)
				assert.Equal(t, held, expired[0].Key())

				rec, err := s.Get(ctx, held)
				require.NoError(t, err)
				assert.Empty(t, rec.LockedBy)
				assert.Zero(t, rec.LockedTimeMS)
				assert.Zero(t, rec.ExpirationTimeMS)

				rec, err = s.Get(ctx, fresh)
				require.NoError(t, err)
				assert.Equal(t, "robot-2", rec.LockedBy)
			})

			t.Run("snapshot isolation", func(t *testing.T) {
				key := model.Key{BldgID: "B2", ResourceID: "door-1"}
				rec, err := s.Get(ctx, key)
				require.NoError(t, err)

				// Mutating the snapshot must not affect the stored row.
				rec.LockedBy = "tampered"
				again, err := s.Get(ctx, key)
				require.NoError(t, err)
				assert.NotEqual(t, "tampered", again.LockedBy)
			})
		})
	}
}

func TestStoreConcurrentAcquisition(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.SeedDefinitions(ctx, testDefs())
			require.NoError(t, err)

			key := model.Key{BldgID: "B1", ResourceID: "elevator-1"}

			const contenders = 8
			var wg sync.WaitGroup
			errs := make([]error, contenders)
			for i := 0; i < contenders; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					errs[i] = s.UpdateLease(ctx, key,
						Precondition{},
						LeaseFields{
							LockedBy:         fmt.Sprintf("robot-%d", i),
							LockedTimeMS:     1000,
							ExpirationTimeMS: 31000,
						})
				}(i)
			}
			wg.Wait()

			wins := 0
			for _, err := range errs {
				if err == nil {
					wins++
				} else {
					assert.True(t, errors.Is(err, ErrPreconditionFailed),
						"loser must see a precondition failure, got %v", err)
				}
			}
			assert.Equal(t, 1, wins, "exactly one contender may win")

			rec, err := s.Get(ctx, key)
			require.NoError(t, err)
			assert.NotEmpty(t, rec.LockedBy)
		})
	}
}

func TestOpenFactory(t *testing.T) {
	t.Run("memory by default", func(t *testing.T) {
		s, err := Open("", Options{})
		require.NoError(t, err)
		assert.IsType(t, &MemoryStore{}, s)
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := Open("sqlite", Options{Path: filepath.Join(t.TempDir(), "r.db")})
		require.NoError(t, err)
		defer func() { _ = s.Close() }()
		assert.IsType(t, &SqliteStore{}, s)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := Open("etcd", Options{})
		assert.Error(t, err)
	})
}

func TestIsBackendFailure(t *testing.T) {
	assert.False(t, IsBackendFailure(nil))
	assert.False(t, IsBackendFailure(ErrNotFound))
	assert.False(t, IsBackendFailure(ErrPreconditionFailed))
	assert.True(t, IsBackendFailure(errors.New("disk on fire")))
}

func TestInstrumentedStoreDelegates(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	s := NewInstrumentedStore(inner, "memory")

	_, err := s.SeedDefinitions(ctx, testDefs())
	require.NoError(t, err)

	key := model.Key{BldgID: "B1", ResourceID: "elevator-1"}
	require.NoError(t, s.UpdateLease(ctx, key, Precondition{},
		LeaseFields{LockedBy: "robot-1", LockedTimeMS: 1000, ExpirationTimeMS: 31000}))

	rec, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "robot-1", rec.LockedBy)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	expired, err := s.SweepExpired(ctx, 61001)
	require.NoError(t, err)
	assert.Len(t, expired, 1)

	assert.NoError(t, s.Close())
}
