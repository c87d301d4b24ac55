package model

import "fmt"

// Key identifies a resource. Both parts participate in identity; resource
// IDs are unique per building, not globally.
type Key struct {
	BldgID     string
	ResourceID string
}

// String renders the key for logs and store backends.
func (k Key) String() string {
	return k.BldgID + "/" + k.ResourceID
}

// ResourceDefinition is the immutable part of a catalog entry, loaded from
// the seed file. Timeouts are milliseconds.
type ResourceDefinition struct {
	BldgID           string       `json:"bldg_id"`
	ResourceID       string       `json:"resource_id"`
	ResourceType     ResourceType `json:"resource_type"`
	MaxTimeoutMS     int64        `json:"max_timeout"`
	DefaultTimeoutMS int64        `json:"default_timeout"`
}

// Key returns the definition's identity.
func (d ResourceDefinition) Key() Key {
	return Key{BldgID: d.BldgID, ResourceID: d.ResourceID}
}

// Validate rejects definitions that would corrupt the catalog.
func (d ResourceDefinition) Validate() error {
	if d.BldgID == "" {
		return fmt.Errorf("bldg_id must not be empty")
	}
	if d.ResourceID == "" {
		return fmt.Errorf("resource_id must not be empty")
	}
	if !d.ResourceType.IsValid() {
		return fmt.Errorf("resource_type %d is not defined", int(d.ResourceType))
	}
	if d.MaxTimeoutMS <= 0 {
		return fmt.Errorf("max_timeout must be positive, got %d", d.MaxTimeoutMS)
	}
	if d.DefaultTimeoutMS <= 0 {
		return fmt.Errorf("default_timeout must be positive, got %d", d.DefaultTimeoutMS)
	}
	return nil
}

// ResourceRecord is a catalog entry plus its lease fields. The zero lease
// is the unleased state: empty holder, both instants zero.
//
// JSON field names match the debug dump consumed by dashboards.
type ResourceRecord struct {
	ResourceDefinition

	// LockedBy is the holder's robot ID, or "" when unleased.
	LockedBy string `json:"locked_by"`

	// LockedTimeMS is the lease anchor instant, 0 when unleased.
	LockedTimeMS int64 `json:"locked_time"`

	// ExpirationTimeMS is the advisory client deadline, 0 when unleased.
	ExpirationTimeMS int64 `json:"expiration_time"`
}

// Leased reports whether a holder is currently registered.
func (r ResourceRecord) Leased() bool {
	return r.LockedBy != ""
}
