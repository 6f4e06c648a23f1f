/*
Package sqlite provides the local single-device profile cache.

PURPOSE:
  One row per member, holding the whole profile document as JSON. A
  single-row write is atomic at the storage layer, which is exactly the
  guarantee the engine's one-write-per-operation model needs.

OPTIMISTIC WRITES:
  The version column mirrors the document version. Inserts require
  version 1; replacements require the stored version to equal the
  incoming version minus one. A miss on either returns ledger.ErrConflict.

WAL MODE:
  SQLite is opened with WAL so concurrent readers never block the single
  writer, and crash recovery keeps the last committed document intact.

USAGE:
  store, err := sqlite.New("./loyalty.db")
  if err != nil { ... }
  defer store.Close()
  engine := ledger.NewEngine(store, cat, ledger.DefaultRules())

SEE ALSO:
  - ledger/store.go: Contract this implements
  - store/mongo: Remote multi-device counterpart
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/loyalty-engine/ledger"
)

// Store implements ledger.RecordStore over a local SQLite file.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		member_id TEXT PRIMARY KEY,
		version INTEGER NOT NULL,
		document TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// RECORD STORE
// =============================================================================

func (s *Store) Get(ctx context.Context, id ledger.MemberID) (*ledger.Profile, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT document FROM profiles WHERE member_id = ?`, string(id)).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile %s: %w", id, err)
	}

	var p ledger.Profile
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", id, err)
	}
	return &p, nil
}

func (s *Store) Put(ctx context.Context, p *ledger.Profile) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile %s: %w", p.ID, err)
	}
	updatedAt := p.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z")

	if p.Version == 1 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO profiles (member_id, version, document, updated_at) VALUES (?, ?, ?, ?)`,
			string(p.ID), p.Version, string(doc), updatedAt)
		if err != nil {
			// A primary-key hit means another writer inserted first.
			return ledger.ErrConflict
		}
		return nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE profiles SET version = ?, document = ?, updated_at = ? WHERE member_id = ? AND version = ?`,
		p.Version, string(doc), updatedAt, string(p.ID), p.Version-1)
	if err != nil {
		return fmt.Errorf("put profile %s: %w", p.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("put profile %s: %w", p.ID, err)
	}
	if affected == 0 {
		return ledger.ErrConflict
	}
	return nil
}

// ListMembers supports the background sweeper.
func (s *Store) ListMembers(ctx context.Context) ([]ledger.MemberID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT member_id FROM profiles ORDER BY member_id`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var ids []ledger.MemberID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, ledger.MemberID(id))
	}
	return ids, rows.Err()
}

var (
	_ ledger.RecordStore  = (*Store)(nil)
	_ ledger.MemberLister = (*Store)(nil)
)
