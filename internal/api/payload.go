package api

import (
	"encoding/json"
	"fmt"

	"github.com/robofleet/resmux/internal/broker/model"
)

// Request discriminator strings. The envelope's api field must match the
// endpoint it is posted to.
const (
	apiRegistration   = "Registration"
	apiRelease        = "Release"
	apiResourceStatus = "RequestResourceStatus"
	apiRobotStatus    = "RobotStatus"
)

// Response discriminator strings.
const (
	apiRegistrationResult = "RegistrationResult"
	apiReleaseResult      = "ReleaseResult"
	apiResourceStatusResp = "ResourceStatus"
	apiRobotStatusResult  = "RobotStatusResult"
)

// registrationRequest is the wire payload for POST /api/registration.
// Timestamps and timeouts are milliseconds.
type registrationRequest struct {
	API        string `json:"api"`
	BldgID     string `json:"bldg_id"`
	ResourceID string `json:"resource_id"`
	RobotID    string `json:"robot_id"`
	Timeout    *int64 `json:"timeout"`
	RequestID  string `json:"request_id"`
	Timestamp  int64  `json:"timestamp"`
}

func (p *registrationRequest) validate() error {
	if p.API != apiRegistration {
		return fmt.Errorf("api must be %q, got %q", apiRegistration, p.API)
	}
	if p.BldgID == "" {
		return fmt.Errorf("bldg_id is required")
	}
	if p.ResourceID == "" {
		return fmt.Errorf("resource_id is required")
	}
	// An empty holder would be indistinguishable from an unleased row.
	if p.RobotID == "" {
		return fmt.Errorf("robot_id is required")
	}
	if p.Timeout == nil {
		return fmt.Errorf("timeout is required (0 selects the default)")
	}
	if *p.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if p.Timestamp <= 0 {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// releaseRequest is the wire payload for POST /api/release.
type releaseRequest struct {
	API        string `json:"api"`
	BldgID     string `json:"bldg_id"`
	ResourceID string `json:"resource_id"`
	RobotID    string `json:"robot_id"`
	RequestID  string `json:"request_id"`
	Timestamp  int64  `json:"timestamp"`
}

func (p *releaseRequest) validate() error {
	if p.API != apiRelease {
		return fmt.Errorf("api must be %q, got %q", apiRelease, p.API)
	}
	if p.BldgID == "" {
		return fmt.Errorf("bldg_id is required")
	}
	if p.ResourceID == "" {
		return fmt.Errorf("resource_id is required")
	}
	if p.RobotID == "" {
		return fmt.Errorf("robot_id is required")
	}
	if p.Timestamp <= 0 {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// resourceStatusRequest is the wire payload for POST /api/request_resource_status.
type resourceStatusRequest struct {
	API        string `json:"api"`
	BldgID     string `json:"bldg_id"`
	ResourceID string `json:"resource_id"`
	RequestID  string `json:"request_id"`
	Timestamp  int64  `json:"timestamp"`
}

func (p *resourceStatusRequest) validate() error {
	if p.API != apiResourceStatus {
		return fmt.Errorf("api must be %q, got %q", apiResourceStatus, p.API)
	}
	if p.BldgID == "" {
		return fmt.Errorf("bldg_id is required")
	}
	if p.ResourceID == "" {
		return fmt.Errorf("resource_id is required")
	}
	if p.Timestamp <= 0 {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// robotStatusRequest is the wire payload for POST /api/robot_status.
type robotStatusRequest struct {
	API         string `json:"api"`
	RobotID     string `json:"robot_id"`
	ResourceID  string `json:"resource_id"`
	State       *int   `json:"state"`
	StateDetail *int   `json:"state_detail"`
	RequestID   string `json:"request_id"`
	Timestamp   int64  `json:"timestamp"`
}

func (p *robotStatusRequest) validate() error {
	if p.API != apiRobotStatus {
		return fmt.Errorf("api must be %q, got %q", apiRobotStatus, p.API)
	}
	if p.RobotID == "" {
		return fmt.Errorf("robot_id is required")
	}
	if p.ResourceID == "" {
		return fmt.Errorf("resource_id is required")
	}
	if p.State == nil {
		return fmt.Errorf("state is required")
	}
	if !model.RobotState(*p.State).IsValid() {
		return fmt.Errorf("state %d is not defined", *p.State)
	}
	if p.StateDetail != nil && !model.RobotStateDetail(*p.StateDetail).IsValid() {
		return fmt.Errorf("state_detail %d is not defined", *p.StateDetail)
	}
	if p.Timestamp <= 0 {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// resultHeader carries the fields shared by every response.
type resultHeader struct {
	API       string       `json:"api"`
	Result    model.Result `json:"result"`
	RequestID string       `json:"request_id"`
	Timestamp int64        `json:"timestamp"`
}

// registrationResponse is the wire result for POST /api/registration.
type registrationResponse struct {
	resultHeader
	MaxExpirationTime int64 `json:"max_expiration_time"`
	ExpirationTime    int64 `json:"expiration_time"`
}

// releaseResponse is the wire result for POST /api/release.
type releaseResponse struct {
	resultHeader
	ResourceID string `json:"resource_id"`
}

// resourceStatusResponse is the wire result for POST /api/request_resource_status.
type resourceStatusResponse struct {
	resultHeader
	ResourceID        string              `json:"resource_id"`
	ResourceState     model.ResourceState `json:"resource_state"`
	RobotID           string              `json:"robot_id"`
	MaxExpirationTime int64               `json:"max_expiration_time"`
	ExpirationTime    int64               `json:"expiration_time"`
}

// robotStatusResponse is the wire result for POST /api/robot_status.
type robotStatusResponse struct {
	resultHeader
}

// echoFields is a best-effort decode used when the envelope is invalid:
// request_id and resource_id are echoed back if the raw body carries them
// with the right types.
type echoFields struct {
	RequestID  string
	ResourceID string
}

func recoverEchoFields(raw []byte) echoFields {
	var probe struct {
		RequestID  any `json:"request_id"`
		ResourceID any `json:"resource_id"`
	}
	var out echoFields
	if err := json.Unmarshal(raw, &probe); err != nil {
		return out
	}
	if s, ok := probe.RequestID.(string); ok {
		out.RequestID = s
	}
	if s, ok := probe.ResourceID.(string); ok {
		out.ResourceID = s
	}
	return out
}
