package sessions

import (
	"sync"

	"chat-client/internal/models"
)

// Focus tracks which room is open full-screen and whether the window has focus.
type Focus struct {
	mu             sync.RWMutex
	foregroundRoom string
	windowFocused  bool
}

// NewFocus returns a focus tracker with no foreground room and a focused window.
func NewFocus() *Focus {
	return &Focus{windowFocused: true}
}

func (f *Focus) SetForegroundRoom(roomID string) {
	f.mu.Lock()
	f.foregroundRoom = roomID
	f.mu.Unlock()
}

// ClearForegroundRoom clears the foreground room if it is still roomID.
func (f *Focus) ClearForegroundRoom(roomID string) {
	f.mu.Lock()
	if f.foregroundRoom == roomID {
		f.foregroundRoom = ""
	}
	f.mu.Unlock()
}

func (f *Focus) ForegroundRoom() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.foregroundRoom
}

func (f *Focus) SetWindowFocused(focused bool) {
	f.mu.Lock()
	f.windowFocused = focused
	f.mu.Unlock()
}

func (f *Focus) WindowFocused() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.windowFocused
}

// Snapshot returns both values read atomically.
func (f *Focus) Snapshot() models.FocusContext {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return models.FocusContext{ForegroundRoomID: f.foregroundRoom, WindowFocused: f.windowFocused}
}
