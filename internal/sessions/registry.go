package sessions

import (
	"log"
	"sync"
	"time"

	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/repositories"
)

// MaxVisible is the number of popups rendered at once.
const MaxVisible = 2

// Registry tracks the open chat popups, ordered oldest to most recently touched.
type Registry struct {
	mu       sync.Mutex
	sessions []models.ChatSession
	repo     repositories.SessionRepository
	focus    *Focus
	now      func() time.Time
	onChange func([]models.ChatSession)
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithChangeHook registers fn to receive the session list after each mutation.
func WithChangeHook(fn func([]models.ChatSession)) Option {
	return func(r *Registry) { r.onChange = fn }
}

// NewRegistry builds a registry and restores the persisted sessions once.
// A missing or unreadable store yields an empty registry.
func NewRegistry(repo repositories.SessionRepository, focus *Focus, opts ...Option) *Registry {
	r := &Registry{repo: repo, focus: focus, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	if r.focus == nil {
		r.focus = NewFocus()
	}
	r.restore()
	return r
}

func (r *Registry) restore() {
	if r.repo == nil {
		return
	}
	stored, found, err := r.repo.Load()
	if err != nil {
		log.Printf("session restore failed, starting empty: %v", err)
		return
	}
	if !found {
		return
	}

	now := r.now()
	seen := make(map[string]struct{}, len(stored))
	for _, p := range stored {
		if _, dup := seen[p.RoomID]; dup {
			continue
		}
		seen[p.RoomID] = struct{}{}
		r.sessions = append(r.sessions, models.ChatSession{
			RoomID:        p.RoomID,
			DisplayName:   p.RoomName,
			AvatarRef:     p.RoomAvatar,
			Minimized:     p.IsMinimized,
			LastTouchedAt: now,
		})
	}
	log.Printf("sessions restored count=%d", len(r.sessions))
}

// Open shows a popup for roomID at the most recently used position. An existing
// popup is moved and un-minimized; display fields take the latest values. Opening
// the room currently in the foreground is a no-op and reports false.
func (r *Registry) Open(roomID, displayName, avatarRef string) bool {
	if roomID == "" || r.focus.ForegroundRoom() == roomID {
		return false
	}

	r.mu.Lock()
	idx := r.indexOf(roomID)
	session := models.ChatSession{RoomID: roomID}
	if idx >= 0 {
		session = r.sessions[idx]
		r.sessions = append(r.sessions[:idx], r.sessions[idx+1:]...)
	}
	session.DisplayName = displayName
	session.AvatarRef = avatarRef
	session.Minimized = false
	session.LastTouchedAt = r.now()
	r.sessions = append(r.sessions, session)
	snapshot := r.commitLocked()
	r.mu.Unlock()

	r.notify(snapshot)
	return true
}

// Touch moves an existing popup to the most recently used position without
// changing its minimized flag. It reports false if the room has no popup.
func (r *Registry) Touch(roomID string) bool {
	r.mu.Lock()
	idx := r.indexOf(roomID)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	session := r.sessions[idx]
	session.LastTouchedAt = r.now()
	r.sessions = append(r.sessions[:idx], r.sessions[idx+1:]...)
	r.sessions = append(r.sessions, session)
	snapshot := r.commitLocked()
	r.mu.Unlock()

	r.notify(snapshot)
	return true
}

// Close removes the popup for roomID.
func (r *Registry) Close(roomID string) {
	r.mu.Lock()
	idx := r.indexOf(roomID)
	if idx < 0 {
		r.mu.Unlock()
		return
	}
	r.sessions = append(r.sessions[:idx], r.sessions[idx+1:]...)
	snapshot := r.commitLocked()
	r.mu.Unlock()

	r.notify(snapshot)
}

// ToggleMinimize flips the minimized flag in place and returns the new value.
func (r *Registry) ToggleMinimize(roomID string) (bool, bool) {
	r.mu.Lock()
	idx := r.indexOf(roomID)
	if idx < 0 {
		r.mu.Unlock()
		return false, false
	}
	r.sessions[idx].Minimized = !r.sessions[idx].Minimized
	minimized := r.sessions[idx].Minimized
	snapshot := r.commitLocked()
	r.mu.Unlock()

	r.notify(snapshot)
	return minimized, true
}

// Has reports whether a popup exists for roomID.
func (r *Registry) Has(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexOf(roomID) >= 0
}

// List returns the sessions ordered oldest to most recently touched.
func (r *Registry) List() []models.ChatSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Visible returns the most recently touched MaxVisible sessions, oldest first,
// and the number of sessions that do not fit.
func (r *Registry) Visible() ([]models.ChatSession, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := len(r.sessions)
	start := 0
	if total > MaxVisible {
		start = total - MaxVisible
	}
	visible := make([]models.ChatSession, total-start)
	copy(visible, r.sessions[start:])
	return visible, start
}

func (r *Registry) indexOf(roomID string) int {
	for i, s := range r.sessions {
		if s.RoomID == roomID {
			return i
		}
	}
	return -1
}

func (r *Registry) snapshotLocked() []models.ChatSession {
	out := make([]models.ChatSession, len(r.sessions))
	copy(out, r.sessions)
	return out
}

// commitLocked writes the list through to the repository and returns a snapshot.
// Write failures are logged and otherwise ignored.
func (r *Registry) commitLocked() []models.ChatSession {
	if r.repo != nil {
		var err error
		if len(r.sessions) == 0 {
			err = r.repo.Clear()
		} else {
			persisted := make([]models.PersistedSession, 0, len(r.sessions))
			for _, s := range r.sessions {
				persisted = append(persisted, s.Persisted())
			}
			err = r.repo.Save(persisted)
		}
		if err != nil {
			log.Printf("session persist failed: %v", err)
		}
	}
	return r.snapshotLocked()
}

func (r *Registry) notify(snapshot []models.ChatSession) {
	observability.SetOpenSessions(len(snapshot))
	if r.onChange != nil {
		r.onChange(snapshot)
	}
}
