package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event names on the realtime channel.
const (
	EventNewMessage     = "newMessage"
	EventMessageEdited  = "messageEdited"
	EventMessageDeleted = "messageDeleted"
	EventJoinRoom       = "joinRoom"
	EventOpenRoom       = "openRoom"
	EventSendMessage    = "sendMessage"
	EventEditMessage    = "editMessage"
	EventDeleteMessage  = "deleteMessage"
)

var ErrUnknownEvent = errors.New("unknown event")

// Envelope is the wire frame of every channel event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Inbound is one of NewMessage, MessageEdited or MessageDeleted.
type Inbound interface {
	inbound()
	Room() string
}

// NewMessage is received when a message is posted to a room.
type NewMessage struct {
	Message Message
}

// MessageEdited is received when a message's content is replaced.
type MessageEdited struct {
	ID       string     `json:"id"`
	RoomID   string     `json:"roomId"`
	Content  string     `json:"content"`
	EditedAt *time.Time `json:"editedAt,omitempty"`
}

// MessageDeleted is received when a message is deleted for everyone.
type MessageDeleted struct {
	ID        string     `json:"id"`
	RoomID    string     `json:"roomId"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

func (NewMessage) inbound()     {}
func (MessageEdited) inbound()  {}
func (MessageDeleted) inbound() {}

func (e NewMessage) Room() string     { return e.Message.RoomID }
func (e MessageEdited) Room() string  { return e.RoomID }
func (e MessageDeleted) Room() string { return e.RoomID }

type wireMessage struct {
	ID          string       `json:"id"`
	RoomID      string       `json:"roomId"`
	SenderID    string       `json:"senderId"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"createdAt"`
	ReplyToID   string       `json:"replyToId,omitempty"`
}

// DecodeInbound parses a wire frame into its typed event.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case EventNewMessage:
		var w wireMessage
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return NewMessage{Message: Message{
			ID:          w.ID,
			RoomID:      w.RoomID,
			SenderID:    w.SenderID,
			Content:     w.Content,
			Attachments: w.Attachments,
			CreatedAt:   w.CreatedAt,
			ReplyToID:   w.ReplyToID,
		}}, nil
	case EventMessageEdited:
		var ev MessageEdited
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return ev, nil
	case EventMessageDeleted:
		var ev MessageDeleted
		if err := json.Unmarshal(env.Data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Event, err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

// Outbound is an event emitted by the client.
type Outbound interface {
	EventName() string
}

// JoinRoom subscribes the connection to a room's events.
type JoinRoom struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// OpenRoom marks a room as read by the user.
type OpenRoom struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// SendMessage posts a message to a room.
type SendMessage struct {
	RoomID           string       `json:"roomId"`
	SenderID         string       `json:"senderId"`
	Content          string       `json:"content"`
	Attachments      []Attachment `json:"attachments,omitempty"`
	ReplyToMessageID string       `json:"replyToMessageId,omitempty"`
}

// EditMessage replaces a message's content.
type EditMessage struct {
	ID      string `json:"id"`
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

// DeleteMessage deletes a message for everyone.
type DeleteMessage struct {
	ID     string `json:"id"`
	RoomID string `json:"roomId"`
}

func (JoinRoom) EventName() string      { return EventJoinRoom }
func (OpenRoom) EventName() string      { return EventOpenRoom }
func (SendMessage) EventName() string   { return EventSendMessage }
func (EditMessage) EventName() string   { return EventEditMessage }
func (DeleteMessage) EventName() string { return EventDeleteMessage }

// EncodeOutbound wraps an outbound event in its wire frame.
func EncodeOutbound(ev Outbound) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: ev.EventName(), Data: data})
}
