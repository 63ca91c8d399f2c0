package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/oauth2"
	_ "modernc.org/sqlite"

	"sendertally/internal/credential"
)

const tokenKey = "oauth_token"

// SQLiteStore implements credential.TokenStore backed by a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the database at the given path and runs migrations.
// ":memory:" opens a private in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: each :memory: connection would be its own database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func migrate(db *sqlx.DB) error {
	const schema = `
CREATE TABLE IF NOT EXISTS credentials (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at TEXT NOT NULL DEFAULT ''
);
`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type credentialRow struct {
	Value     []byte `db:"value"`
	UpdatedAt string `db:"updated_at"`
}

func (s *SQLiteStore) LoadToken() (*oauth2.Token, error) {
	var row credentialRow
	err := s.db.Get(&row, "SELECT value, updated_at FROM credentials WHERE key = ?", tokenKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, credential.ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(row.Value, &tok); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	return &tok, nil
}

// SaveToken replaces the cached token in one transaction.
func (s *SQLiteStore) SaveToken(tok *oauth2.Token) error {
	b, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	tx, err := s.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.NamedExec(`
		INSERT INTO credentials (key, value, updated_at) VALUES (:key, :value, :updated_at)
		ON CONFLICT(key) DO UPDATE SET
			value      = excluded.value,
			updated_at = excluded.updated_at
	`, map[string]any{
		"key":        tokenKey,
		"value":      b,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteToken() error {
	_, err := s.db.Exec("DELETE FROM credentials WHERE key = ?", tokenKey)
	return err
}

// TokenUpdatedAt returns when the token was last written, or the zero time.
func (s *SQLiteStore) TokenUpdatedAt() (time.Time, error) {
	var ts string
	err := s.db.Get(&ts, "SELECT updated_at FROM credentials WHERE key = ?", tokenKey)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, ts)
}
