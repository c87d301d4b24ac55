package health

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robofleet/resmux/internal/broker/model"
	"github.com/robofleet/resmux/internal/broker/store"
)

type staticChecker struct {
	name   string
	result CheckResult
}

func (c staticChecker) Name() string                      { return c.name }
func (c staticChecker) Check(context.Context) CheckResult { return c.result }

func TestHealth_AlwaysHealthyWithoutVerbose(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(staticChecker{name: "broken", result: CheckResult{Status: StatusUnhealthy}})

	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Equal(t, "v1.0.0", resp.Version)
	assert.Nil(t, resp.Checks)
}

func TestHealth_VerboseAggregates(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(staticChecker{name: "ok", result: CheckResult{Status: StatusHealthy}})
	m.RegisterChecker(staticChecker{name: "slow", result: CheckResult{Status: StatusDegraded}})

	resp := m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
}

func TestReady_GatesOnCheckers(t *testing.T) {
	t.Run("no checkers means ready", func(t *testing.T) {
		m := NewManager("v1.0.0")
		resp := m.Ready(context.Background())
		assert.True(t, resp.Ready)
	})

	t.Run("unhealthy checker blocks readiness", func(t *testing.T) {
		m := NewManager("v1.0.0")
		m.RegisterChecker(staticChecker{name: "store", result: CheckResult{Status: StatusUnhealthy, Error: "down"}})

		resp := m.Ready(context.Background())
		assert.False(t, resp.Ready)
		assert.Equal(t, StatusUnhealthy, resp.Status)
	})

	t.Run("degraded checker stays ready", func(t *testing.T) {
		m := NewManager("v1.0.0")
		m.RegisterChecker(staticChecker{name: "store", result: CheckResult{Status: StatusDegraded}})

		resp := m.Ready(context.Background())
		assert.True(t, resp.Ready)
		assert.Equal(t, StatusDegraded, resp.Status)
	})
}

func TestServeHealthAndReady(t *testing.T) {
	m := NewManager("v1.0.0")
	m.RegisterChecker(staticChecker{name: "store", result: CheckResult{Status: StatusUnhealthy, Error: "down"}})

	t.Run("healthz is always 200", func(t *testing.T) {
		rec := httptest.NewRecorder()
		m.ServeHealth(rec, httptest.NewRequest("GET", "/healthz", nil))
		assert.Equal(t, 200, rec.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, StatusHealthy, resp.Status)
	})

	t.Run("readyz is 503 when a checker fails", func(t *testing.T) {
		rec := httptest.NewRecorder()
		m.ServeReady(rec, httptest.NewRequest("GET", "/readyz", nil))
		assert.Equal(t, 503, rec.Code)

		var resp ReadinessResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Ready)
	})
}

func TestStoreChecker(t *testing.T) {
	ctx := context.Background()

	t.Run("empty catalog is degraded", func(t *testing.T) {
		c := NewStoreChecker(store.NewMemoryStore())
		result := c.Check(ctx)
		assert.Equal(t, StatusDegraded, result.Status)
	})

	t.Run("seeded catalog is healthy", func(t *testing.T) {
		s := store.NewMemoryStore()
		_, err := s.SeedDefinitions(ctx, []model.ResourceDefinition{
			{BldgID: "B", ResourceID: "R", ResourceType: model.TypeAllowOne, MaxTimeoutMS: 60000, DefaultTimeoutMS: 30000},
		})
		require.NoError(t, err)

		c := NewStoreChecker(s)
		result := c.Check(ctx)
		assert.Equal(t, StatusHealthy, result.Status)
		assert.Equal(t, "store", c.Name())
	})
}
