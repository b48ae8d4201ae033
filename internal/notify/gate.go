package notify

import (
	"context"
	"errors"
	"log"
	"time"

	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/sessions"
)

const (
	// DefaultDismissAfter is how long a shown notification stays up.
	DefaultDismissAfter = 5 * time.Second
	// PlaceholderName is shown when a room's display metadata cannot be found.
	PlaceholderName = "Conversation"
)

// Directory resolves display metadata for rooms and users.
type Directory interface {
	RoomInfo(ctx context.Context, roomID string) (models.RoomInfo, error)
	Profile(ctx context.Context, userID string) (models.Profile, error)
}

// Outcome describes what Handle did with a message.
type Outcome struct {
	Ignored        bool
	Notified       bool
	SessionOpened  bool
	SessionTouched bool
}

// Gate decides whether an incoming message raises a notification and whether
// it opens or refreshes a popup session.
type Gate struct {
	localUserID  string
	focus        *sessions.Focus
	registry     *sessions.Registry
	directory    Directory
	notifier     Notifier
	dismissAfter time.Duration
	afterFunc    func(time.Duration, func())
}

// NewGate constructs a Gate. dismissAfter <= 0 uses DefaultDismissAfter.
func NewGate(localUserID string, focus *sessions.Focus, registry *sessions.Registry, directory Directory, notifier Notifier, dismissAfter time.Duration) *Gate {
	if dismissAfter <= 0 {
		dismissAfter = DefaultDismissAfter
	}
	return &Gate{
		localUserID:  localUserID,
		focus:        focus,
		registry:     registry,
		directory:    directory,
		notifier:     notifier,
		dismissAfter: dismissAfter,
		afterFunc: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
}

type displayMeta struct {
	name   string
	avatar string
}

// Handle applies the notification policy to an incoming message.
func (g *Gate) Handle(ctx context.Context, msg models.Message) Outcome {
	if msg.SenderID == g.localUserID {
		observability.IncNotification("ignored_self")
		return Outcome{Ignored: true}
	}

	focus := g.focus.Snapshot()
	foreground := msg.RoomID == focus.ForegroundRoomID

	var out Outcome
	var meta *displayMeta
	if !foreground && g.registry.Touch(msg.RoomID) {
		out.SessionTouched = true
		meta = g.sessionMeta(msg.RoomID)
	}

	if !focus.WindowFocused {
		if meta == nil {
			meta = g.lookup(ctx, msg)
		}
		out.Notified = g.notify(ctx, msg, meta.name)
	} else {
		observability.IncNotification("suppressed_focused")
	}

	if foreground || out.SessionTouched {
		return out
	}

	if meta == nil {
		meta = g.lookup(ctx, msg)
	}
	out.SessionOpened = g.registry.Open(msg.RoomID, meta.name, meta.avatar)
	return out
}

// notify plays the sound and shows a notification that dismisses itself.
// Nothing is dispatched while the window has focus.
func (g *Gate) notify(ctx context.Context, msg models.Message, title string) bool {
	if g.notifier == nil || g.focus.WindowFocused() {
		return false
	}

	if err := g.notifier.PlaySound(ctx); err != nil {
		log.Printf("notification sound failed room_id=%s: %v", msg.RoomID, err)
	}

	dismiss, err := g.notifier.Show(ctx, Notification{
		RoomID:   msg.RoomID,
		SenderID: msg.SenderID,
		Title:    title,
		Body:     previewText(msg.Content, len(msg.Attachments)),
	})
	if err != nil {
		log.Printf("notification show failed room_id=%s: %v", msg.RoomID, err)
		observability.IncNotification("error")
		return false
	}
	if dismiss != nil {
		g.afterFunc(g.dismissAfter, dismiss)
	}
	observability.IncNotification("shown")
	return true
}

func (g *Gate) sessionMeta(roomID string) *displayMeta {
	for _, s := range g.registry.List() {
		if s.RoomID == roomID {
			return &displayMeta{name: s.DisplayName, avatar: s.AvatarRef}
		}
	}
	return nil
}

// lookup resolves the room name, falling back to the sender's profile and
// finally to a placeholder.
func (g *Gate) lookup(ctx context.Context, msg models.Message) *displayMeta {
	if g.directory == nil {
		return &displayMeta{name: PlaceholderName}
	}

	room, err := g.directory.RoomInfo(ctx, msg.RoomID)
	if err == nil && room.Name != "" {
		return &displayMeta{name: room.Name, avatar: room.Avatar}
	}
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		log.Printf("room lookup failed room_id=%s: %v", msg.RoomID, err)
	}

	profile, perr := g.directory.Profile(ctx, msg.SenderID)
	if perr == nil && profile.DisplayName != "" {
		return &displayMeta{name: profile.DisplayName, avatar: profile.Avatar}
	}
	if perr != nil && !errors.Is(perr, models.ErrNotFound) {
		log.Printf("profile lookup failed user_id=%s: %v", msg.SenderID, perr)
	}
	return &displayMeta{name: PlaceholderName, avatar: room.Avatar}
}
