package repositories

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"chat-client/internal/models"
)

// SQLiteSessionRepo stores sessions in a key/value table of a local sqlite file.
type SQLiteSessionRepo struct {
	db *sqlx.DB
}

// OpenSQLite opens the sqlite database at path and ensures the kv table exists.
func OpenSQLite(path string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
  key   TEXT PRIMARY KEY,
  value BLOB NOT NULL
);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}
	return db, nil
}

// NewSQLiteSessionRepo constructs a SQLiteSessionRepo.
func NewSQLiteSessionRepo(db *sqlx.DB) *SQLiteSessionRepo {
	return &SQLiteSessionRepo{db: db}
}

func (r *SQLiteSessionRepo) Load() ([]models.PersistedSession, bool, error) {
	var raw []byte
	err := r.db.Get(&raw, `SELECT value FROM kv WHERE key = ?`, SessionsKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	sessions, err := decodeSessions(raw)
	if err != nil {
		return nil, true, err
	}
	return sessions, true, nil
}

func (r *SQLiteSessionRepo) Save(sessions []models.PersistedSession) error {
	raw, err := encodeSessions(sessions)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`INSERT INTO kv (key, value) VALUES (?, ?)
        ON CONFLICT(key) DO UPDATE SET value = excluded.value`, SessionsKey, raw)
	return err
}

func (r *SQLiteSessionRepo) Clear() error {
	_, err := r.db.Exec(`DELETE FROM kv WHERE key = ?`, SessionsKey)
	return err
}
