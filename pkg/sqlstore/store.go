// Package sqlstore persists script arrays in a SQLite database, one row per
// occupied slot.
package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/crystal-mush/sparsearray/pkg/sparse"
	"github.com/crystal-mush/sparsearray/pkg/vars"
	_ "modernc.org/sqlite"
)

// ErrKindConflict is returned when an array is reopened with a different kind.
var ErrKindConflict = errors.New("sqlstore: kind conflict")

// Store is a vars.Backend over SQLite.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens a SQLite database, sets WAL mode and busy timeout, and creates the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS arrays (
			scope INTEGER NOT NULL,
			owner INTEGER NOT NULL,
			name  TEXT    NOT NULL,
			kind  INTEGER NOT NULL,
			PRIMARY KEY (scope, owner, name)
		);`,
		`CREATE TABLE IF NOT EXISTS slots (
			scope INTEGER NOT NULL,
			owner INTEGER NOT NULL,
			name  TEXT    NOT NULL,
			idx   INTEGER NOT NULL,
			ival  INTEGER NOT NULL DEFAULT 0,
			sval  TEXT    NOT NULL DEFAULT '',
			PRIMARY KEY (scope, owner, name, idx)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlstore: init %s: %w", path, err)
		}
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the filesystem path of the SQLite database.
func (s *Store) Path() string { return s.path }

// Open registers key with kind and returns its slot backing and stored indices.
func (s *Store) Open(key vars.Key, kind sparse.Kind) (sparse.Backing, []uint32, error) {
	var prev int
	err := s.db.QueryRow(`SELECT kind FROM arrays WHERE scope = ? AND owner = ? AND name = ?`,
		int(key.Scope), key.Owner, key.Name).Scan(&prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec(`INSERT INTO arrays (scope, owner, name, kind) VALUES (?, ?, ?, ?)`,
			int(key.Scope), key.Owner, key.Name, int(kind)); err != nil {
			return nil, nil, fmt.Errorf("sqlstore: register %s: %w", key, err)
		}
	case err != nil:
		return nil, nil, fmt.Errorf("sqlstore: open %s: %w", key, err)
	case sparse.Kind(prev) != kind:
		return nil, nil, fmt.Errorf("%w: %s stored as %s", ErrKindConflict, key, sparse.Kind(prev))
	}

	rows, err := s.db.Query(`SELECT idx FROM slots WHERE scope = ? AND owner = ? AND name = ? ORDER BY idx`,
		int(key.Scope), key.Owner, key.Name)
	if err != nil {
		return nil, nil, fmt.Errorf("sqlstore: indices %s: %w", key, err)
	}
	defer rows.Close()
	var indices []uint32
	for rows.Next() {
		var idx int64
		if err := rows.Scan(&idx); err != nil {
			return nil, nil, fmt.Errorf("sqlstore: scan %s: %w", key, err)
		}
		indices = append(indices, uint32(idx))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("sqlstore: indices %s: %w", key, err)
	}
	return &backing{db: s.db, key: key, kind: kind}, indices, nil
}

// Drop deletes every slot and the kind record of key.
func (s *Store) Drop(key vars.Key) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlstore: drop %s: %w", key, err)
	}
	defer tx.Rollback()
	args := []any{int(key.Scope), key.Owner, key.Name}
	if _, err := tx.Exec(`DELETE FROM slots WHERE scope = ? AND owner = ? AND name = ?`, args...); err != nil {
		return fmt.Errorf("sqlstore: drop %s: %w", key, err)
	}
	if _, err := tx.Exec(`DELETE FROM arrays WHERE scope = ? AND owner = ? AND name = ?`, args...); err != nil {
		return fmt.Errorf("sqlstore: drop %s: %w", key, err)
	}
	return tx.Commit()
}

// Keys lists every registered array with its kind.
func (s *Store) Keys() (map[vars.Key]sparse.Kind, error) {
	rows, err := s.db.Query(`SELECT scope, owner, name, kind FROM arrays`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: keys: %w", err)
	}
	defer rows.Close()
	out := make(map[vars.Key]sparse.Kind)
	for rows.Next() {
		var (
			scope, kind int
			key         vars.Key
		)
		if err := rows.Scan(&scope, &key.Owner, &key.Name, &kind); err != nil {
			return nil, fmt.Errorf("sqlstore: keys: %w", err)
		}
		key.Scope = vars.Scope(scope)
		out[key] = sparse.Kind(kind)
	}
	return out, rows.Err()
}

// backing reads and writes one array's rows.
type backing struct {
	db   *sql.DB
	key  vars.Key
	kind sparse.Kind
}

func (b *backing) Load(index uint32) (sparse.Value, bool, error) {
	var (
		ival int64
		sval string
	)
	err := b.db.QueryRow(`SELECT ival, sval FROM slots WHERE scope = ? AND owner = ? AND name = ? AND idx = ?`,
		int(b.key.Scope), b.key.Owner, b.key.Name, int64(index)).Scan(&ival, &sval)
	if errors.Is(err, sql.ErrNoRows) {
		return sparse.Zero(b.kind), false, nil
	}
	if err != nil {
		return sparse.Zero(b.kind), false, err
	}
	if b.kind == sparse.KindText {
		return sparse.Text(sval), true, nil
	}
	return sparse.Int(ival), true, nil
}

func (b *backing) Store(index uint32, v sparse.Value) error {
	_, err := b.db.Exec(`INSERT INTO slots (scope, owner, name, idx, ival, sval) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (scope, owner, name, idx) DO UPDATE SET ival = excluded.ival, sval = excluded.sval`,
		int(b.key.Scope), b.key.Owner, b.key.Name, int64(index), v.Int, v.Str)
	return err
}

func (b *backing) Delete(index uint32) error {
	_, err := b.db.Exec(`DELETE FROM slots WHERE scope = ? AND owner = ? AND name = ? AND idx = ?`,
		int(b.key.Scope), b.key.Owner, b.key.Name, int64(index))
	return err
}

// Checkpoint folds the write-ahead log into the main database file so the
// file can be copied on its own.
func (s *Store) Checkpoint() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("sqlstore: checkpoint: %w", err)
	}
	return nil
}
