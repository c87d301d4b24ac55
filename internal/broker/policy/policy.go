// Package policy holds the pure lease-timeout arithmetic. No state, no
// clock access; callers pass the current instant explicitly.
package policy

import "errors"

var (
	// ErrTimeoutTooLong means the requested timeout exceeds the resource's
	// max_timeout ceiling.
	ErrTimeoutTooLong = errors.New("requested timeout exceeds max_timeout")

	// ErrExpiresInPast means the computed deadline already lies behind the
	// current time, so the lease would be born expired. Usually a stale
	// client timestamp.
	ErrExpiresInPast = errors.New("lease would expire in the past")
)

// MaxExpiration returns the absolute ceiling instant for a lease anchored
// at lockedTimeMS. The expirer enforces this instant, not the per-lease
// expiration.
func MaxExpiration(lockedTimeMS, maxTimeoutMS int64) int64 {
	return lockedTimeMS + maxTimeoutMS
}

// ComputeExpiration derives the advisory expiration instant for a new
// lease. A requested timeout of 0 selects the resource's default. All
// values are milliseconds.
func ComputeExpiration(lockedTimeMS, defaultTimeoutMS, maxTimeoutMS, requestedTimeoutMS, nowMS int64) (int64, error) {
	if requestedTimeoutMS == 0 {
		requestedTimeoutMS = defaultTimeoutMS
	}
	if requestedTimeoutMS > maxTimeoutMS {
		return 0, ErrTimeoutTooLong
	}
	exp := lockedTimeMS + requestedTimeoutMS
	if nowMS > exp {
		return 0, ErrExpiresInPast
	}
	return exp, nil
}
