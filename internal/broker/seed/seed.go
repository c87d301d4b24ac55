// Package seed loads the resource catalog from its YAML definition file and
// populates the store. Seeding is idempotent: existing rows, including live
// leases, are preserved.
package seed

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/robofleet/resmux/internal/audit"
	"github.com/robofleet/resmux/internal/broker/model"
	"github.com/robofleet/resmux/internal/broker/store"
	"github.com/robofleet/resmux/internal/log"
)

// entry mirrors one YAML mapping. Timeouts are seconds in the file and are
// converted to milliseconds at ingest.
type entry struct {
	BldgID         string `yaml:"bldg_id"`
	ResourceID     string `yaml:"resource_id"`
	ResourceType   int    `yaml:"resource_type"`
	MaxTimeout     int64  `yaml:"max_timeout"`
	DefaultTimeout int64  `yaml:"default_timeout"`
}

// Load reads and validates the catalog file. Any invalid entry fails the
// whole load; a partially applied catalog is worse than a failed startup.
func Load(path string) ([]model.ResourceDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("seed: read %s: %w", path, err)
	}

	var entries []entry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("seed: parse %s: %w", path, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("seed: %s contains no resource definitions", path)
	}

	defs := make([]model.ResourceDefinition, 0, len(entries))
	seen := make(map[model.Key]struct{}, len(entries))
	for i, e := range entries {
		def := model.ResourceDefinition{
			BldgID:           e.BldgID,
			ResourceID:       e.ResourceID,
			ResourceType:     model.ResourceType(e.ResourceType),
			MaxTimeoutMS:     e.MaxTimeout * 1000,
			DefaultTimeoutMS: e.DefaultTimeout * 1000,
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("seed: entry %d (%s/%s): %w", i, e.BldgID, e.ResourceID, err)
		}
		if def.DefaultTimeoutMS > def.MaxTimeoutMS {
			return nil, fmt.Errorf("seed: entry %d (%s/%s): default_timeout %d exceeds max_timeout %d",
				i, e.BldgID, e.ResourceID, e.DefaultTimeout, e.MaxTimeout)
		}
		key := def.Key()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("seed: entry %d duplicates key %s", i, key)
		}
		seen[key] = struct{}{}
		defs = append(defs, def)
	}

	return defs, nil
}

// Apply inserts the definitions into the store. Rows that already exist are
// left untouched. Returns the number of rows created.
func Apply(ctx context.Context, s store.Store, defs []model.ResourceDefinition) (int, error) {
	added, err := s.SeedDefinitions(ctx, defs)
	if err != nil {
		return 0, fmt.Errorf("seed: apply: %w", err)
	}
	return added, nil
}

// Bootstrap loads the catalog file and seeds the store; it is the once-only
// startup path and aborts on any validation failure.
func Bootstrap(ctx context.Context, s store.Store, path string, auditLog *audit.Logger) error {
	defs, err := Load(path)
	if err != nil {
		return err
	}

	added, err := Apply(ctx, s, defs)
	if err != nil {
		return err
	}

	lg := log.WithComponent("seed")
	lg.Info().
		Str(log.FieldEvent, "catalog.seeded").
		Str("path", path).
		Int("defined", len(defs)).
		Int("added", added).
		Msg("resource catalog seeded")
	if auditLog != nil {
		auditLog.CatalogSeeded("system", added, len(defs))
	}
	return nil
}
