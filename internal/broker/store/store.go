// Package store provides the durable resource catalog behind the lease
// engine. Every backend maps (bldg_id, resource_id) to a ResourceRecord and
// offers one atomic compare-and-swap write path plus a bulk expiry sweep.
//
// Records handed out by Get and ListAll are snapshots. Mutation goes through
// UpdateLease exclusively; that is what makes concurrent registrations safe.
package store

import (
	"context"
	"errors"

	"github.com/robofleet/resmux/internal/broker/model"
)

var (
	// ErrNotFound means the key has no catalog entry.
	ErrNotFound = errors.New("resource not found")

	// ErrPreconditionFailed means the row's current holder did not match
	// the asserted one, so the write was not applied.
	ErrPreconditionFailed = errors.New("lease precondition failed")
)

// IsBackendFailure reports whether err is a storage fault rather than one of
// the contract's expected outcomes (nil, not-found, precondition mismatch).
func IsBackendFailure(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrPreconditionFailed)
}

// Precondition asserts the row state an UpdateLease call requires. The zero
// value asserts an unleased row.
type Precondition struct {
	// LockedBy must equal the row's current holder ("" for unleased).
	LockedBy string
}

// LeaseFields is the set of columns UpdateLease writes atomically. The zero
// value clears a lease.
type LeaseFields struct {
	LockedBy         string
	LockedTimeMS     int64
	ExpirationTimeMS int64
}

// Store is the catalog contract shared by all backends.
//
// UpdateLease applies fields iff the precondition holds; SweepExpired clears
// every row whose absolute ceiling (locked_time + max_timeout) lies strictly
// before nowMS and returns the prior states. Both are linearizable within a
// backend.
type Store interface {
	Get(ctx context.Context, key model.Key) (*model.ResourceRecord, error)
	ListAll(ctx context.Context) ([]*model.ResourceRecord, error)
	UpdateLease(ctx context.Context, key model.Key, pre Precondition, set LeaseFields) error
	SweepExpired(ctx context.Context, nowMS int64) ([]*model.ResourceRecord, error)

	// SeedDefinitions inserts catalog entries, preserving existing rows and
	// their lease state. Returns the number of rows actually created.
	SeedDefinitions(ctx context.Context, defs []model.ResourceDefinition) (int, error)

	Close() error
}
