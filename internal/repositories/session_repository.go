package repositories

import (
	"encoding/json"
	"errors"
	"fmt"

	"chat-client/internal/models"
)

// SessionsKey is the fixed key holding the open chat sessions.
const SessionsKey = "chat.openSessions"

var ErrMalformedSessions = errors.New("malformed stored sessions")

// SessionRepository persists the ordered list of open chat sessions.
type SessionRepository interface {
	// Load returns the stored list; found is false when nothing is stored.
	Load() (sessions []models.PersistedSession, found bool, err error)
	Save(sessions []models.PersistedSession) error
	Clear() error
}

func encodeSessions(sessions []models.PersistedSession) ([]byte, error) {
	if sessions == nil {
		sessions = []models.PersistedSession{}
	}
	return json.Marshal(sessions)
}

func decodeSessions(raw []byte) ([]models.PersistedSession, error) {
	var sessions []models.PersistedSession
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSessions, err)
	}
	for _, s := range sessions {
		if s.RoomID == "" {
			return nil, fmt.Errorf("%w: entry without roomId", ErrMalformedSessions)
		}
	}
	return sessions, nil
}

// MemorySessionRepo keeps the sessions in process memory.
type MemorySessionRepo struct {
	raw []byte
}

// NewMemorySessionRepo constructs a MemorySessionRepo, optionally seeded with raw stored bytes.
func NewMemorySessionRepo(raw []byte) *MemorySessionRepo {
	return &MemorySessionRepo{raw: raw}
}

func (r *MemorySessionRepo) Load() ([]models.PersistedSession, bool, error) {
	if r.raw == nil {
		return nil, false, nil
	}
	sessions, err := decodeSessions(r.raw)
	if err != nil {
		return nil, true, err
	}
	return sessions, true, nil
}

func (r *MemorySessionRepo) Save(sessions []models.PersistedSession) error {
	raw, err := encodeSessions(sessions)
	if err != nil {
		return err
	}
	r.raw = raw
	return nil
}

func (r *MemorySessionRepo) Clear() error {
	r.raw = nil
	return nil
}

// Raw returns the stored bytes, nil when cleared.
func (r *MemorySessionRepo) Raw() []byte {
	return r.raw
}
