package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/robofleet/resmux/internal/broker/model"
	"github.com/robofleet/resmux/internal/persistence/sqlite"
)

const schemaVersion = 1

const recordColumns = "bldg_id, resource_id, resource_type, max_timeout, default_timeout, locked_by, locked_time, expiration_time"

// SqliteStore implements Store on SQLite. It is the default backend: one
// file, WAL mode, linearizable writes through short transactions.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens (and if necessary migrates) the catalog database.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resource store: migration failed: %w", err)
	}

	return s, nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS resources (
		bldg_id TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		resource_type INTEGER NOT NULL,
		max_timeout INTEGER NOT NULL,
		default_timeout INTEGER NOT NULL,
		locked_by TEXT NOT NULL DEFAULT '',
		locked_time INTEGER NOT NULL DEFAULT 0,
		expiration_time INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (bldg_id, resource_id)
	);

	CREATE INDEX IF NOT EXISTS idx_resources_locked ON resources(locked_by) WHERE locked_by != '';
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SqliteStore) Get(ctx context.Context, key model.Key) (*model.ResourceRecord, error) {
	row := s.DB.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM resources WHERE bldg_id = ? AND resource_id = ?",
		key.BldgID, key.ResourceID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *SqliteStore) ListAll(ctx context.Context) ([]*model.ResourceRecord, error) {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM resources ORDER BY bldg_id, resource_id")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*model.ResourceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateLease applies the lease fields iff the row's current holder matches
// the precondition. The compare and the write are one UPDATE statement; the
// surrounding transaction only serves to classify a zero-row result.
func (s *SqliteStore) UpdateLease(ctx context.Context, key model.Key, pre Precondition, set LeaseFields) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE resources SET locked_by = ?, locked_time = ?, expiration_time = ?
		 WHERE bldg_id = ? AND resource_id = ? AND locked_by = ?`,
		set.LockedBy, set.LockedTimeMS, set.ExpirationTimeMS,
		key.BldgID, key.ResourceID, pre.LockedBy)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var one int
		err := tx.QueryRowContext(ctx,
			"SELECT 1 FROM resources WHERE bldg_id = ? AND resource_id = ?",
			key.BldgID, key.ResourceID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrPreconditionFailed
	}

	return tx.Commit()
}

func (s *SqliteStore) SweepExpired(ctx context.Context, nowMS int64) ([]*model.ResourceRecord, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		"SELECT "+recordColumns+" FROM resources WHERE locked_by != '' AND locked_time + max_timeout < ?",
		nowMS)
	if err != nil {
		return nil, err
	}

	var expired []*model.ResourceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		expired = append(expired, rec)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(expired) == 0 {
		return nil, tx.Commit()
	}

	// Same predicate, same transaction: the cleared set is exactly the
	// selected set.
	_, err = tx.ExecContext(ctx,
		`UPDATE resources SET locked_by = '', locked_time = 0, expiration_time = 0
		 WHERE locked_by != '' AND locked_time + max_timeout < ?`,
		nowMS)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return expired, nil
}

func (s *SqliteStore) SeedDefinitions(ctx context.Context, defs []model.ResourceDefinition) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	added := 0
	for _, def := range defs {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO resources (bldg_id, resource_id, resource_type, max_timeout, default_timeout, locked_by, locked_time, expiration_time)
			 VALUES (?, ?, ?, ?, ?, '', 0, 0)
			 ON CONFLICT(bldg_id, resource_id) DO NOTHING`,
			def.BldgID, def.ResourceID, int(def.ResourceType), def.MaxTimeoutMS, def.DefaultTimeoutMS)
		if err != nil {
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return added, nil
}

func scanRecord(scanner interface {
	Scan(dest ...interface{}) error
}) (*model.ResourceRecord, error) {
	var rec model.ResourceRecord
	var resourceType int
	err := scanner.Scan(
		&rec.BldgID, &rec.ResourceID, &resourceType,
		&rec.MaxTimeoutMS, &rec.DefaultTimeoutMS,
		&rec.LockedBy, &rec.LockedTimeMS, &rec.ExpirationTimeMS,
	)
	if err != nil {
		return nil, err
	}
	rec.ResourceType = model.ResourceType(resourceType)
	return &rec, nil
}

var _ Store = (*SqliteStore)(nil)
