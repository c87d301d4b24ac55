package store

import (
	"context"
	"sort"
	"sync"

	"github.com/robofleet/resmux/internal/broker/model"
)

// MemoryStore is an in-memory Store for tests and local iteration. Not
// durable.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[model.Key]model.ResourceRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[model.Key]model.ResourceRecord),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Get(ctx context.Context, key model.Key) (*model.ResourceRecord, error) {
	m.mu.RLock()
	rec, ok := m.records[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) ListAll(ctx context.Context) ([]*model.ResourceRecord, error) {
	m.mu.RLock()
	out := make([]*model.ResourceRecord, 0, len(m.records))
	for _, rec := range m.records {
		r := rec
		out = append(out, &r)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].BldgID != out[j].BldgID {
			return out[i].BldgID < out[j].BldgID
		}
		return out[i].ResourceID < out[j].ResourceID
	})
	return out, nil
}

func (m *MemoryStore) UpdateLease(ctx context.Context, key model.Key, pre Precondition, set LeaseFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[key]
	if !ok {
		return ErrNotFound
	}
	if rec.LockedBy != pre.LockedBy {
		return ErrPreconditionFailed
	}

	rec.LockedBy = set.LockedBy
	rec.LockedTimeMS = set.LockedTimeMS
	rec.ExpirationTimeMS = set.ExpirationTimeMS
	m.records[key] = rec
	return nil
}

func (m *MemoryStore) SweepExpired(ctx context.Context, nowMS int64) ([]*model.ResourceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*model.ResourceRecord
	for key, rec := range m.records {
		if rec.LockedBy == "" {
			continue
		}
		if rec.LockedTimeMS+rec.MaxTimeoutMS >= nowMS {
			continue
		}
		prior := rec
		expired = append(expired, &prior)

		rec.LockedBy = ""
		rec.LockedTimeMS = 0
		rec.ExpirationTimeMS = 0
		m.records[key] = rec
	}

	sort.Slice(expired, func(i, j int) bool {
		if expired[i].BldgID != expired[j].BldgID {
			return expired[i].BldgID < expired[j].BldgID
		}
		return expired[i].ResourceID < expired[j].ResourceID
	})
	return expired, nil
}

func (m *MemoryStore) SeedDefinitions(ctx context.Context, defs []model.ResourceDefinition) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	added := 0
	for _, def := range defs {
		key := def.Key()
		if _, exists := m.records[key]; exists {
			continue
		}
		m.records[key] = model.ResourceRecord{ResourceDefinition: def}
		added++
	}
	return added, nil
}

var _ Store = (*MemoryStore)(nil)
