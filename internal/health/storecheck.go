package health

import (
	"context"
	"time"

	"github.com/robofleet/resmux/internal/broker/store"
)

// StoreChecker verifies the resource store answers reads. Readiness gates on
// it: a broker that cannot reach its store must not accept lease traffic.
type StoreChecker struct {
	store store.Store
}

// NewStoreChecker creates a checker over the given store.
func NewStoreChecker(s store.Store) *StoreChecker {
	return &StoreChecker{store: s}
}

// Name implements Checker.
func (c *StoreChecker) Name() string { return "store" }

// Check performs a bounded enumeration round-trip against the store.
func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	records, err := c.store.ListAll(ctx)
	if err != nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  err.Error(),
		}
	}
	if len(records) == 0 {
		// Reachable but empty: the catalog has not been seeded yet.
		return CheckResult{
			Status:  StatusDegraded,
			Message: "store reachable but resource catalog is empty",
		}
	}
	return CheckResult{Status: StatusHealthy}
}
