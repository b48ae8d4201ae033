package ws

import (
	"context"
	"sync"

	"chat-client/internal/models"
)

// Notifier forwards notification requests to the connected UIs.
type Notifier struct {
	hub *Hub
}

// NewNotifier creates a notifier pushing through hub.
func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

func (n *Notifier) PlaySound(ctx context.Context) error {
	n.hub.Broadcast(Event{Type: EventSound})
	return nil
}

func (n *Notifier) Show(ctx context.Context, notification models.Notification) (func(), error) {
	n.hub.Broadcast(Event{Type: EventNotification, RoomID: notification.RoomID, Notification: &notification})
	var once sync.Once
	return func() {
		once.Do(func() {
			n.hub.Broadcast(Event{Type: EventNotificationDismiss, RoomID: notification.RoomID})
		})
	}, nil
}
