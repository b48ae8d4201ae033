package repositories

import (
	"errors"
	"fmt"
	"log"

	"github.com/cockroachdb/pebble"

	"chat-client/internal/models"
)

// PebbleSessionRepo stores sessions in an embedded pebble database.
type PebbleSessionRepo struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a pebble database at path.
func OpenPebble(path string, opts *pebble.Options) (*pebble.DB, error) {
	if opts == nil {
		opts = &pebble.Options{}
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble %q: %w", path, err)
	}
	log.Printf("pebble opened path=%s", path)
	return db, nil
}

// NewPebbleSessionRepo constructs a PebbleSessionRepo.
func NewPebbleSessionRepo(db *pebble.DB) *PebbleSessionRepo {
	return &PebbleSessionRepo{db: db}
}

func (r *PebbleSessionRepo) Load() ([]models.PersistedSession, bool, error) {
	value, closer, err := r.db.Get([]byte(SessionsKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	sessions, err := decodeSessions(value)
	if err != nil {
		return nil, true, err
	}
	return sessions, true, nil
}

func (r *PebbleSessionRepo) Save(sessions []models.PersistedSession) error {
	raw, err := encodeSessions(sessions)
	if err != nil {
		return err
	}
	return r.db.Set([]byte(SessionsKey), raw, pebble.Sync)
}

func (r *PebbleSessionRepo) Clear() error {
	return r.db.Delete([]byte(SessionsKey), pebble.Sync)
}
