package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/robofleet/resmux/internal/broker/model"
)

const badgerKeyPrefix = "res:"

// badger detects write conflicts instead of blocking; retry a few times
// before surfacing the error as a backend failure.
const badgerMaxRetries = 5

// BadgerStore implements Store on an embedded Badger database. Records are
// JSON values under "res:<bldg>/<resource>" keys; compare-and-swap runs
// inside serializable transactions.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) a Badger database at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func badgerKey(key model.Key) []byte {
	return []byte(badgerKeyPrefix + key.String())
}

func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < badgerMaxRetries; i++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *BadgerStore) Get(ctx context.Context, key model.Key) (*model.ResourceRecord, error) {
	var rec model.ResourceRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *BadgerStore) ListAll(ctx context.Context) ([]*model.ResourceRecord, error) {
	prefix := []byte(badgerKeyPrefix)
	var out []*model.ResourceRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec model.ResourceRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].BldgID != out[j].BldgID {
			return out[i].BldgID < out[j].BldgID
		}
		return out[i].ResourceID < out[j].ResourceID
	})
	return out, nil
}

func (s *BadgerStore) UpdateLease(ctx context.Context, key model.Key, pre Precondition, set LeaseFields) error {
	k := badgerKey(key)
	return s.update(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}

		var rec model.ResourceRecord
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		if rec.LockedBy != pre.LockedBy {
			return ErrPreconditionFailed
		}

		rec.LockedBy = set.LockedBy
		rec.LockedTimeMS = set.LockedTimeMS
		rec.ExpirationTimeMS = set.ExpirationTimeMS

		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(k, buf)
	})
}

func (s *BadgerStore) SweepExpired(ctx context.Context, nowMS int64) ([]*model.ResourceRecord, error) {
	prefix := []byte(badgerKeyPrefix)
	var expired []*model.ResourceRecord

	err := s.update(func(txn *badger.Txn) error {
		expired = expired[:0]

		// Collect first, write after the iterator closes. Both halves share
		// the transaction, so the cleared set is exactly the collected set.
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec model.ResourceRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				it.Close()
				return err
			}
			if rec.LockedBy == "" || rec.LockedTimeMS+rec.MaxTimeoutMS >= nowMS {
				continue
			}
			prior := rec
			expired = append(expired, &prior)
		}
		it.Close()

		for _, prior := range expired {
			cleared := *prior
			cleared.LockedBy = ""
			cleared.LockedTimeMS = 0
			cleared.ExpirationTimeMS = 0
			buf, err := json.Marshal(cleared)
			if err != nil {
				return err
			}
			if err := txn.Set(badgerKey(cleared.Key()), buf); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(expired, func(i, j int) bool {
		if expired[i].BldgID != expired[j].BldgID {
			return expired[i].BldgID < expired[j].BldgID
		}
		return expired[i].ResourceID < expired[j].ResourceID
	})
	return expired, nil
}

func (s *BadgerStore) SeedDefinitions(ctx context.Context, defs []model.ResourceDefinition) (int, error) {
	added := 0
	err := s.update(func(txn *badger.Txn) error {
		added = 0
		for _, def := range defs {
			k := badgerKey(def.Key())
			_, err := txn.Get(k)
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			buf, err := json.Marshal(model.ResourceRecord{ResourceDefinition: def})
			if err != nil {
				return err
			}
			if err := txn.Set(k, buf); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

var _ Store = (*BadgerStore)(nil)
