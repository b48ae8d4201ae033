package notify

import (
	"context"
	"log"
	"strings"
	"sync"

	"chat-client/internal/models"
)

// Notification is a system notification shown for an incoming message.
type Notification = models.Notification

// Notifier plays the incoming-message sound and shows system notifications.
type Notifier interface {
	PlaySound(ctx context.Context) error
	// Show displays n and returns a function that dismisses it.
	Show(ctx context.Context, n Notification) (dismiss func(), err error)
}

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

func (LogNotifier) PlaySound(ctx context.Context) error {
	log.Printf("notify sound")
	return nil
}

func (LogNotifier) Show(ctx context.Context, n Notification) (func(), error) {
	log.Printf("notify show room_id=%s sender_id=%s title=%q", n.RoomID, n.SenderID, n.Title)
	return func() {
		log.Printf("notify dismiss room_id=%s", n.RoomID)
	}, nil
}

// Multi fans notifications out to several notifiers.
type Multi []Notifier

func (m Multi) PlaySound(ctx context.Context) error {
	var firstErr error
	for _, n := range m {
		if err := n.PlaySound(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m Multi) Show(ctx context.Context, n Notification) (func(), error) {
	var (
		dismissers []func()
		firstErr   error
	)
	for _, notifier := range m {
		dismiss, err := notifier.Show(ctx, n)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if dismiss != nil {
			dismissers = append(dismissers, dismiss)
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			for _, d := range dismissers {
				d()
			}
		})
	}, firstErr
}

func previewText(content string, attachments int) string {
	content = strings.TrimSpace(content)
	if content == "" {
		if attachments > 0 {
			return "Sent an attachment"
		}
		return "New message"
	}
	if len(content) > 200 {
		content = content[:200] + "..."
	}
	return content
}
