package models

import "time"

// ChatSession is an open chat popup bound to one room.
type ChatSession struct {
	RoomID        string    `json:"room_id"`
	DisplayName   string    `json:"display_name"`
	AvatarRef     string    `json:"avatar_ref,omitempty"`
	Minimized     bool      `json:"minimized"`
	LastTouchedAt time.Time `json:"last_touched_at"`
}

// PersistedSession is the stored shape of a ChatSession.
type PersistedSession struct {
	RoomID      string `json:"roomId"`
	RoomName    string `json:"roomName"`
	RoomAvatar  string `json:"roomAvatar"`
	IsMinimized bool   `json:"isMinimized"`
}

// Persisted drops the transient fields of the session.
func (s ChatSession) Persisted() PersistedSession {
	return PersistedSession{
		RoomID:      s.RoomID,
		RoomName:    s.DisplayName,
		RoomAvatar:  s.AvatarRef,
		IsMinimized: s.Minimized,
	}
}

// FocusContext describes what the user is currently looking at.
type FocusContext struct {
	ForegroundRoomID string `json:"foreground_room_id"`
	WindowFocused    bool   `json:"window_focused"`
}
