package repositories

import (
	"path/filepath"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/models"
)

var sampleSessions = []models.PersistedSession{
	{RoomID: "r1", RoomName: "Alice", RoomAvatar: "a.png", IsMinimized: false},
	{RoomID: "r2", RoomName: "Team", RoomAvatar: "", IsMinimized: true},
}

func exerciseRepo(t *testing.T, repo SessionRepository) {
	t.Helper()

	sessions, found, err := repo.Load()
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, sessions)

	require.NoError(t, repo.Save(sampleSessions))
	sessions, found, err = repo.Load()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, sampleSessions, sessions)

	require.NoError(t, repo.Clear())
	_, found, err = repo.Load()
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemorySessionRepo(t *testing.T) {
	exerciseRepo(t, NewMemorySessionRepo(nil))
}

func TestMemorySessionRepoMalformed(t *testing.T) {
	repo := NewMemorySessionRepo([]byte(`{"roomId":`))
	_, found, err := repo.Load()
	assert.True(t, found)
	require.ErrorIs(t, err, ErrMalformedSessions)

	repo = NewMemorySessionRepo([]byte(`[{"roomName":"x"}]`))
	_, _, err = repo.Load()
	require.ErrorIs(t, err, ErrMalformedSessions)
}

func TestPebbleSessionRepo(t *testing.T) {
	db, err := OpenPebble("", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	defer db.Close()

	exerciseRepo(t, NewPebbleSessionRepo(db))
}

func TestSQLiteSessionRepo(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	defer db.Close()

	exerciseRepo(t, NewSQLiteSessionRepo(db))
}
