package checkpoint

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS checkpoints (
	id TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	updated INTEGER NOT NULL
)`

// SQLStore keeps checkpoints in a SQLite table.
type SQLStore struct {
	db  *sql.DB
	own bool
}

// OpenSQL opens (or creates) a SQLite database file and prepares the
// checkpoint table. Close releases the database.
func OpenSQL(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, storeError("open database", "", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, storeError("set busy timeout", "", err)
	}
	s, err := NewSQLStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.own = true
	return s, nil
}

// NewSQLStore uses an open database. The caller keeps ownership of db.
func NewSQLStore(ctx context.Context, db *sql.DB) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, storeError("create table", "", err)
	}
	return &SQLStore{db: db}, nil
}

// Close closes the database if the store opened it.
func (s *SQLStore) Close() error {
	if s.own {
		return s.db.Close()
	}
	return nil
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, id string, data []byte) error {
	if err := checkID(id); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, data, updated) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated = excluded.updated`,
		id, data, time.Now().UnixNano())
	if err != nil {
		return storeError("save checkpoint", id, err)
	}
	return nil
}

// Load implements Store.
func (s *SQLStore) Load(ctx context.Context, id string) ([]byte, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM checkpoints WHERE id = ?", id).Scan(&data)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, storeError("load checkpoint", id, err)
	}
	return data, nil
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM checkpoints WHERE id = ?", id)
	if err != nil {
		return storeError("delete checkpoint", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return notFound(id)
	}
	return nil
}

// List implements Store.
func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM checkpoints ORDER BY id")
	if err != nil {
		return nil, storeError("list checkpoints", "", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeError("list checkpoints", "", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list checkpoints", "", err)
	}
	return ids, nil
}
