// Package engine implements the lease state machine: acquisition, explicit
// release, cancellation, and status reads over the resource store.
//
// The engine itself is stateless; every mutation is a single atomic
// compare-and-swap in the store, so concurrent requests linearize there and
// the single-holder invariant survives races.
package engine

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/robofleet/resmux/internal/audit"
	"github.com/robofleet/resmux/internal/broker/model"
	"github.com/robofleet/resmux/internal/broker/policy"
	"github.com/robofleet/resmux/internal/broker/store"
	"github.com/robofleet/resmux/internal/clock"
	"github.com/robofleet/resmux/internal/log"
)

var leaseOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "resmux",
	Name:      "lease_operations_total",
	Help:      "Lease engine operations by outcome",
}, []string{"op", "result"})

// Engine orchestrates the four client-visible lease operations.
type Engine struct {
	store store.Store
	clock clock.Clock
	audit *audit.Logger
}

// New wires an engine over the given store and clock. The audit logger may
// be nil; events are then dropped.
func New(s store.Store, c clock.Clock, a *audit.Logger) *Engine {
	return &Engine{store: s, clock: c, audit: a}
}

// RegistrationInput carries a validated registration payload.
type RegistrationInput struct {
	BldgID      string
	ResourceID  string
	RobotID     string
	TimeoutMS   int64
	TimestampMS int64
	RequestID   string
}

// RegistrationOutput is the engine-level registration result. Err is non-nil
// only for backend failures; Result is then ResultOthers and the router maps
// the response to HTTP 500.
type RegistrationOutput struct {
	Result          model.Result
	MaxExpirationMS int64
	ExpirationMS    int64
	Err             error
}

// Register attempts to lease a resource for a robot. The lease anchor is the
// client-supplied timestamp, not server time; clients account for one-way
// latency and stale timestamps are rejected by the policy freshness check.
func (e *Engine) Register(ctx context.Context, in RegistrationInput) RegistrationOutput {
	logger := log.WithComponentFromContext(ctx, "engine")
	key := model.Key{BldgID: in.BldgID, ResourceID: in.ResourceID}

	rec, err := e.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Warn().
				Str(log.FieldEvent, "lease.unknown_resource").
				Str(log.FieldBldgID, in.BldgID).
				Str(log.FieldResource, in.ResourceID).
				Msg("registration for unknown resource")
			leaseOps.WithLabelValues("registration", model.ResultOthers.String()).Inc()
			return RegistrationOutput{Result: model.ResultOthers}
		}
		logger.Error().Err(err).
			Str(log.FieldEvent, "lease.backend_error").
			Str(log.FieldResource, key.String()).
			Msg("registration read failed")
		leaseOps.WithLabelValues("registration", model.ResultOthers.String()).Inc()
		return RegistrationOutput{Result: model.ResultOthers, Err: err}
	}

	if rec.Leased() {
		if e.audit != nil {
			e.audit.LeaseDenied(ctx, in.RobotID, key.String(), in.RequestID, "already held")
		}
		leaseOps.WithLabelValues("registration", model.ResultFailure.String()).Inc()
		return RegistrationOutput{Result: model.ResultFailure}
	}

	exp, err := policy.ComputeExpiration(
		in.TimestampMS, rec.DefaultTimeoutMS, rec.MaxTimeoutMS, in.TimeoutMS, e.clock.NowMS())
	if err != nil {
		logger.Warn().Err(err).
			Str(log.FieldEvent, "lease.policy_violation").
			Str(log.FieldResource, key.String()).
			Str(log.FieldRobotID, in.RobotID).
			Int64("timeout_ms", in.TimeoutMS).
			Int64("timestamp_ms", in.TimestampMS).
			Msg("registration rejected by timeout policy")
		if e.audit != nil {
			e.audit.LeaseDenied(ctx, in.RobotID, key.String(), in.RequestID, err.Error())
		}
		leaseOps.WithLabelValues("registration", model.ResultOthers.String()).Inc()
		return RegistrationOutput{Result: model.ResultOthers}
	}

	err = e.store.UpdateLease(ctx, key,
		store.Precondition{LockedBy: ""},
		store.LeaseFields{LockedBy: in.RobotID, LockedTimeMS: in.TimestampMS, ExpirationTimeMS: exp})
	switch {
	case errors.Is(err, store.ErrPreconditionFailed):
		// Lost the race against a concurrent registration.
		if e.audit != nil {
			e.audit.LeaseDenied(ctx, in.RobotID, key.String(), in.RequestID, "lost acquisition race")
		}
		leaseOps.WithLabelValues("registration", model.ResultFailure.String()).Inc()
		return RegistrationOutput{Result: model.ResultFailure}
	case errors.Is(err, store.ErrNotFound):
		leaseOps.WithLabelValues("registration", model.ResultOthers.String()).Inc()
		return RegistrationOutput{Result: model.ResultOthers}
	case err != nil:
		logger.Error().Err(err).
			Str(log.FieldEvent, "lease.backend_error").
			Str(log.FieldResource, key.String()).
			Msg("registration write failed")
		leaseOps.WithLabelValues("registration", model.ResultOthers.String()).Inc()
		return RegistrationOutput{Result: model.ResultOthers, Err: err}
	}

	logger.Info().
		Str(log.FieldEvent, "lease.granted").
		Str(log.FieldResource, key.String()).
		Str(log.FieldRobotID, in.RobotID).
		Int64(log.FieldExpiration, exp).
		Msg("lease granted")
	if e.audit != nil {
		e.audit.LeaseGranted(ctx, in.RobotID, key.String(), in.RequestID, exp)
	}
	leaseOps.WithLabelValues("registration", model.ResultSuccess.String()).Inc()

	return RegistrationOutput{
		Result:          model.ResultSuccess,
		MaxExpirationMS: policy.MaxExpiration(in.TimestampMS, rec.MaxTimeoutMS),
		ExpirationMS:    exp,
	}
}

// ReleaseInput carries a validated release payload.
type ReleaseInput struct {
	BldgID     string
	ResourceID string
	RobotID    string
	RequestID  string
}

// ReleaseOutput is the engine-level release result.
type ReleaseOutput struct {
	Result model.Result
	Err    error
}

// Release clears the robot's lease on a resource. An unknown resource, an
// unleased resource and a wrong holder all return FAILURE uniformly; the
// broker does not tell a non-holder which case it hit.
func (e *Engine) Release(ctx context.Context, in ReleaseInput) ReleaseOutput {
	logger := log.WithComponentFromContext(ctx, "engine")
	key := model.Key{BldgID: in.BldgID, ResourceID: in.ResourceID}

	rec, err := e.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			leaseOps.WithLabelValues("release", model.ResultFailure.String()).Inc()
			return ReleaseOutput{Result: model.ResultFailure}
		}
		logger.Error().Err(err).
			Str(log.FieldEvent, "lease.backend_error").
			Str(log.FieldResource, key.String()).
			Msg("release read failed")
		leaseOps.WithLabelValues("release", model.ResultOthers.String()).Inc()
		return ReleaseOutput{Result: model.ResultOthers, Err: err}
	}

	if rec.LockedBy != in.RobotID {
		leaseOps.WithLabelValues("release", model.ResultFailure.String()).Inc()
		return ReleaseOutput{Result: model.ResultFailure}
	}

	err = e.store.UpdateLease(ctx, key,
		store.Precondition{LockedBy: in.RobotID},
		store.LeaseFields{})
	switch {
	case errors.Is(err, store.ErrPreconditionFailed), errors.Is(err, store.ErrNotFound):
		leaseOps.WithLabelValues("release", model.ResultFailure.String()).Inc()
		return ReleaseOutput{Result: model.ResultFailure}
	case err != nil:
		logger.Error().Err(err).
			Str(log.FieldEvent, "lease.backend_error").
			Str(log.FieldResource, key.String()).
			Msg("release write failed")
		leaseOps.WithLabelValues("release", model.ResultOthers.String()).Inc()
		return ReleaseOutput{Result: model.ResultOthers, Err: err}
	}

	logger.Info().
		Str(log.FieldEvent, "lease.released").
		Str(log.FieldResource, key.String()).
		Str(log.FieldRobotID, in.RobotID).
		Msg("lease released")
	if e.audit != nil {
		e.audit.LeaseReleased(ctx, in.RobotID, key.String(), in.RequestID)
	}
	leaseOps.WithLabelValues("release", model.ResultSuccess.String()).Inc()
	return ReleaseOutput{Result: model.ResultSuccess}
}

// StatusInput carries a validated resource status query.
type StatusInput struct {
	BldgID     string
	ResourceID string
	RequestID  string
}

// StatusOutput is the engine-level status result. A pure read; no mutation.
type StatusOutput struct {
	Result          model.Result
	State           model.ResourceState
	RobotID         string
	ExpirationMS    int64
	MaxExpirationMS int64
	Err             error
}

// ResourceStatus reports the occupancy of a resource.
func (e *Engine) ResourceStatus(ctx context.Context, in StatusInput) StatusOutput {
	key := model.Key{BldgID: in.BldgID, ResourceID: in.ResourceID}

	rec, err := e.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			leaseOps.WithLabelValues("status", model.ResultFailure.String()).Inc()
			return StatusOutput{Result: model.ResultFailure, State: model.StateUnknown}
		}
		lg := log.WithComponentFromContext(ctx, "engine")
		lg.Error().Err(err).
			Str(log.FieldEvent, "lease.backend_error").
			Str(log.FieldResource, key.String()).
			Msg("status read failed")
		leaseOps.WithLabelValues("status", model.ResultOthers.String()).Inc()
		return StatusOutput{Result: model.ResultOthers, State: model.StateUnknown, Err: err}
	}

	leaseOps.WithLabelValues("status", model.ResultSuccess.String()).Inc()
	if !rec.Leased() {
		return StatusOutput{Result: model.ResultSuccess, State: model.StateAvailable}
	}
	return StatusOutput{
		Result:          model.ResultSuccess,
		State:           model.StateOccupied,
		RobotID:         rec.LockedBy,
		ExpirationMS:    rec.ExpirationTimeMS,
		MaxExpirationMS: policy.MaxExpiration(rec.LockedTimeMS, rec.MaxTimeoutMS),
	}
}

// RobotStatusInput carries a validated robot status report.
type RobotStatusInput struct {
	RobotID     string
	ResourceID  string
	State       model.RobotState
	StateDetail model.RobotStateDetail
	RequestID   string
}

// RobotStatusOutput is the engine-level robot status result.
type RobotStatusOutput struct {
	Result model.Result
	Err    error
}

// RobotStatus handles a robot's state report. Only CANCEL is actionable: it
// releases the lease the robot currently holds. ENTERING, EXITED and USING
// are accepted and ignored, reserved for forward compatibility.
func (e *Engine) RobotStatus(ctx context.Context, in RobotStatusInput) RobotStatusOutput {
	if in.State != model.RobotCancel {
		leaseOps.WithLabelValues("robot_status", model.ResultSuccess.String()).Inc()
		return RobotStatusOutput{Result: model.ResultSuccess}
	}

	logger := log.WithComponentFromContext(ctx, "engine")

	records, err := e.store.ListAll(ctx)
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "lease.backend_error").
			Str(log.FieldRobotID, in.RobotID).
			Msg("cancel scan failed")
		leaseOps.WithLabelValues("robot_status", model.ResultOthers.String()).Inc()
		return RobotStatusOutput{Result: model.ResultOthers, Err: err}
	}

	// ListAll is key-ordered, so with multiple holds the smallest key wins
	// deterministically. Each CANCEL releases one lease.
	for _, rec := range records {
		if rec.LockedBy != in.RobotID {
			continue
		}
		key := rec.Key()
		err := e.store.UpdateLease(ctx, key,
			store.Precondition{LockedBy: in.RobotID},
			store.LeaseFields{})
		switch {
		case errors.Is(err, store.ErrPreconditionFailed), errors.Is(err, store.ErrNotFound):
			// The lease moved under us; the robot no longer holds it.
			leaseOps.WithLabelValues("robot_status", model.ResultFailure.String()).Inc()
			return RobotStatusOutput{Result: model.ResultFailure}
		case err != nil:
			logger.Error().Err(err).
				Str(log.FieldEvent, "lease.backend_error").
				Str(log.FieldResource, key.String()).
				Msg("cancel write failed")
			leaseOps.WithLabelValues("robot_status", model.ResultOthers.String()).Inc()
			return RobotStatusOutput{Result: model.ResultOthers, Err: err}
		}

		logger.Info().
			Str(log.FieldEvent, "lease.cancelled").
			Str(log.FieldResource, key.String()).
			Str(log.FieldRobotID, in.RobotID).
			Msg("lease cancelled")
		if e.audit != nil {
			e.audit.LeaseCancelled(ctx, in.RobotID, key.String(), in.RequestID)
		}
		leaseOps.WithLabelValues("robot_status", model.ResultSuccess.String()).Inc()
		return RobotStatusOutput{Result: model.ResultSuccess}
	}

	leaseOps.WithLabelValues("robot_status", model.ResultFailure.String()).Inc()
	return RobotStatusOutput{Result: model.ResultFailure}
}

// ListAll returns a snapshot of every catalog record for the debug endpoint.
func (e *Engine) ListAll(ctx context.Context) ([]*model.ResourceRecord, error) {
	return e.store.ListAll(ctx)
}
