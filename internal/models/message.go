package models

import (
	"errors"
	"time"
)

// ErrNotFound is returned by directory lookups for unknown rooms or users.
var ErrNotFound = errors.New("not found")

// Attachment is a file reference carried by a message.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Message represents a chat message in a room.
type Message struct {
	ID          string       `json:"id"`
	RoomID      string       `json:"room_id"`
	SenderID    string       `json:"sender_id"`
	Content     string       `json:"content,omitempty"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"created_at"`
	EditedAt    *time.Time   `json:"edited_at,omitempty"`
	DeletedAt   *time.Time   `json:"deleted_at,omitempty"`
	ReplyToID   string       `json:"reply_to_id,omitempty"`
	// Pending is set while the message is an optimistic local echo.
	Pending bool `json:"pending,omitempty"`
}

// Deleted reports whether the message is a tombstone.
func (m Message) Deleted() bool {
	return m.DeletedAt != nil
}

// Edited reports whether the message content was replaced after creation.
func (m Message) Edited() bool {
	return m.EditedAt != nil
}

// RoomInfo is the directory view of a room.
type RoomInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Avatar  string `json:"avatar,omitempty"`
	IsGroup bool   `json:"is_group"`
}

// Profile is the basic public profile of a user.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
}

// Upload is a local file queued for sending with a message.
type Upload struct {
	Name     string
	MimeType string
	Data     []byte
}

// Notification is a system notification shown for an incoming message.
type Notification struct {
	RoomID   string `json:"room_id"`
	SenderID string `json:"sender_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
}

// Draft is a message composed by the local user before it is sent.
type Draft struct {
	RoomID    string
	Content   string
	Files     []Upload
	ReplyToID string
}
