// Package model defines the resource catalog records and the wire-level
// enumerations shared by the lease engine, the stores and the HTTP layer.
//
// All integer values are part of the client protocol and must not change.
package model

import "fmt"

// Result classifies the outcome of an engine operation.
type Result int

// Result constants mirror the values robots expect on the wire.
const (
	// ResultSuccess indicates the operation completed.
	ResultSuccess Result = 1

	// ResultFailure indicates a semantic denial: the resource is already
	// held, or the caller is not the holder.
	ResultFailure Result = 2

	// ResultOthers covers validation failures, unknown resources on write
	// paths, timeout-policy violations and backend errors.
	ResultOthers Result = 3

	// ResultEmergency is reserved for future use and never emitted.
	ResultEmergency Result = 99
)

// String implements fmt.Stringer for logs.
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	case ResultOthers:
		return "others"
	case ResultEmergency:
		return "emergency"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// ResourceState reports the occupancy of a resource in status responses.
type ResourceState int

const (
	// StateAvailable means no robot holds the resource.
	StateAvailable ResourceState = 0

	// StateOccupied means a lease is active.
	StateOccupied ResourceState = 1

	// StateUnknown is returned when the resource does not exist.
	StateUnknown ResourceState = 99
)

// String implements fmt.Stringer for logs.
func (s ResourceState) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateOccupied:
		return "occupied"
	case StateUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("resource_state(%d)", int(s))
	}
}

// RobotState is the state a robot reports about itself. Only RobotCancel
// carries engine semantics; the remaining values are accepted and ignored
// for wire compatibility.
type RobotState int

const (
	// RobotEntering reports the robot is entering the resource. Inert.
	RobotEntering RobotState = 0

	// RobotExited reports the robot has left the resource. Inert.
	RobotExited RobotState = 1

	// RobotCancel asks the broker to release whatever the robot holds.
	RobotCancel RobotState = 3

	// RobotUsing reports the robot is actively using the resource. Inert.
	RobotUsing RobotState = 6
)

// IsValid checks whether the state is one of the defined constants.
func (s RobotState) IsValid() bool {
	switch s {
	case RobotEntering, RobotExited, RobotCancel, RobotUsing:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer for logs.
func (s RobotState) String() string {
	switch s {
	case RobotEntering:
		return "entering"
	case RobotExited:
		return "exited"
	case RobotCancel:
		return "cancel"
	case RobotUsing:
		return "using"
	default:
		return fmt.Sprintf("robot_state(%d)", int(s))
	}
}

// RobotStateDetail qualifies a RobotState report. Accepted, never acted on.
type RobotStateDetail int

const (
	// DetailNormal is the default qualifier.
	DetailNormal RobotStateDetail = 0

	// DetailError flags an abnormal condition on the robot side.
	DetailError RobotStateDetail = 1
)

// IsValid checks whether the detail is one of the defined constants.
func (d RobotStateDetail) IsValid() bool {
	return d == DetailNormal || d == DetailError
}

// ResourceType classifies a resource's admission policy.
type ResourceType int

// TypeAllowOne admits at most one concurrent holder. It is the only type
// currently defined.
const TypeAllowOne ResourceType = 1

// IsValid checks whether the type is one of the defined constants.
func (t ResourceType) IsValid() bool {
	return t == TypeAllowOne
}
