// Package chat wires the event channel to the notification gate and to the
// message streams of mounted rooms, and carries user actions back out.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"chat-client/internal/feed"
	"chat-client/internal/models"
	"chat-client/internal/notify"
	"chat-client/internal/observability"
	"chat-client/internal/realtime"
	"chat-client/internal/sessions"
	"chat-client/internal/stream"
)

// DefaultPageSize is the number of messages fetched per history page.
const DefaultPageSize = 20

var (
	ErrRoomNotMounted = errors.New("room not mounted")
	ErrEmptyMessage   = errors.New("message has no content or attachments")
	ErrPendingMessage = errors.New("message not confirmed yet")
)

// Uploader stores files and returns their attachments in order.
type Uploader interface {
	Upload(ctx context.Context, files []models.Upload) ([]models.Attachment, error)
}

// StreamHook receives a room's messages after every change.
type StreamHook func(roomID string, messages []models.Message)

type view struct {
	stream      *stream.Stream
	sub         *feed.Subscription[models.Inbound]
	viewport    stream.Viewport
	mounts      int
	foregrounds int
	loaded      bool
}

// Client coordinates the realtime chat state of the local user.
type Client struct {
	localUserID string
	channel     realtime.EventChannel
	source      stream.MessageSource
	uploader    Uploader
	gate        *notify.Gate
	focus       *sessions.Focus
	pageSize    int
	onStream    StreamHook

	mu    sync.Mutex
	views map[string]*view
}

// Option configures a Client.
type Option func(*Client)

// WithPageSize overrides DefaultPageSize.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithStreamHook registers fn to receive stream snapshots.
func WithStreamHook(fn StreamHook) Option {
	return func(c *Client) { c.onStream = fn }
}

// NewClient builds a coordinator. gate may be nil when notifications are disabled.
func NewClient(localUserID string, channel realtime.EventChannel, source stream.MessageSource, uploader Uploader, gate *notify.Gate, focus *sessions.Focus, opts ...Option) *Client {
	c := &Client{
		localUserID: localUserID,
		channel:     channel,
		source:      source,
		uploader:    uploader,
		gate:        gate,
		focus:       focus,
		pageSize:    DefaultPageSize,
		views:       make(map[string]*view),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.focus == nil {
		c.focus = sessions.NewFocus()
	}
	return c
}

// Run feeds incoming messages through the notification gate until ctx is done.
func (c *Client) Run(ctx context.Context) {
	sub := c.channel.Subscribe()
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			nm, isNew := ev.(models.NewMessage)
			if !isNew || c.gate == nil {
				continue
			}
			out := c.gate.Handle(ctx, nm.Message)
			if out.SessionOpened || out.Notified {
				log.Printf("incoming message room_id=%s sender_id=%s notified=%t session_opened=%t", nm.Message.RoomID, nm.Message.SenderID, out.Notified, out.SessionOpened)
			}
		}
	}
}

// MountRoom opens the view of roomID. The first mount joins the room; a
// foreground mount also marks the room read and focused. The newest page is
// loaded until one load succeeds. A failed load releases this mount.
func (c *Client) MountRoom(ctx context.Context, roomID string, foreground bool) ([]models.Message, error) {
	if roomID == "" {
		return nil, ErrRoomNotMounted
	}
	ctx, span := otel.Tracer("chat-client/chat").Start(ctx, "chat.mount_room")
	defer span.End()
	span.SetAttributes(attribute.String("room.id", roomID), attribute.Bool("room.foreground", foreground))

	c.mu.Lock()
	v, exists := c.views[roomID]
	if !exists {
		v = &view{stream: stream.New(roomID, c.source), sub: c.channel.Subscribe()}
		c.views[roomID] = v
		go c.pump(roomID, v)
	}
	v.mounts++
	if foreground {
		v.foregrounds++
	}
	loaded := v.loaded
	c.mu.Unlock()

	if foreground {
		c.focus.SetForegroundRoom(roomID)
		if err := c.channel.Emit(ctx, models.OpenRoom{RoomID: roomID, UserID: c.localUserID}); err != nil {
			log.Printf("open room emit failed room_id=%s: %v", roomID, err)
		}
	}
	if !exists {
		if err := c.channel.Emit(ctx, models.JoinRoom{RoomID: roomID, UserID: c.localUserID}); err != nil {
			log.Printf("join room emit failed room_id=%s: %v", roomID, err)
		}
	}
	if loaded {
		return v.stream.Messages(), nil
	}

	if err := v.stream.LoadInitial(ctx, c.pageSize); err != nil {
		span.RecordError(err)
		c.release(roomID, v, foreground)
		return nil, err
	}
	c.mu.Lock()
	v.loaded = true
	c.mu.Unlock()

	msgs := v.stream.Messages()
	c.publish(roomID, msgs)
	return msgs, nil
}

// UnmountRoom releases one mount of roomID. foreground must match the mount
// being released. The last foreground release clears the foreground room; the
// last release stops listening for the room's events and discards its stream.
func (c *Client) UnmountRoom(roomID string, foreground bool) {
	c.mu.Lock()
	v, ok := c.views[roomID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.release(roomID, v, foreground)
}

// Close discards every mounted view.
func (c *Client) Close() {
	c.mu.Lock()
	views := c.views
	c.views = make(map[string]*view)
	c.mu.Unlock()

	for roomID, v := range views {
		v.sub.Cancel()
		v.stream.Close()
		if v.foregrounds > 0 {
			c.focus.ClearForegroundRoom(roomID)
		}
	}
}

func (c *Client) release(roomID string, v *view, foreground bool) {
	c.mu.Lock()
	if c.views[roomID] != v || v.mounts == 0 {
		c.mu.Unlock()
		return
	}
	v.mounts--
	clearFocus := false
	if foreground && v.foregrounds > 0 {
		v.foregrounds--
		clearFocus = v.foregrounds == 0
	}
	last := v.mounts == 0
	if last {
		delete(c.views, roomID)
	}
	c.mu.Unlock()

	if clearFocus {
		c.focus.ClearForegroundRoom(roomID)
	}
	if last {
		v.sub.Cancel()
		v.stream.Close()
	}
}

// Messages returns the loaded messages of a mounted room.
func (c *Client) Messages(roomID string) ([]models.Message, error) {
	v, err := c.view(roomID)
	if err != nil {
		return nil, err
	}
	return v.stream.Messages(), nil
}

// SetViewport attaches the surface that keeps its scroll position when older
// history is prepended. A nil vp detaches it.
func (c *Client) SetViewport(roomID string, vp stream.Viewport) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[roomID]
	if !ok {
		return ErrRoomNotMounted
	}
	v.viewport = vp
	return nil
}

// LoadOlder prepends the next history page and reports how many messages were added.
func (c *Client) LoadOlder(ctx context.Context, roomID string) (int, error) {
	c.mu.Lock()
	v, ok := c.views[roomID]
	var vp stream.Viewport
	if ok {
		vp = v.viewport
	}
	c.mu.Unlock()
	if !ok {
		return 0, ErrRoomNotMounted
	}
	added, err := v.stream.LoadOlder(ctx, c.pageSize, vp)
	if err != nil {
		return 0, err
	}
	if added > 0 {
		c.publish(roomID, v.stream.Messages())
	}
	return added, nil
}

// HasMore reports whether older history may still be loaded for roomID.
func (c *Client) HasMore(roomID string) bool {
	v, err := c.view(roomID)
	if err != nil {
		return false
	}
	return v.stream.HasMore()
}

// Send shows the message optimistically, uploads its files and emits it. On
// failure the optimistic entry stays in the stream and the error is returned.
func (c *Client) Send(ctx context.Context, req models.Draft) (models.Message, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" && len(req.Files) == 0 {
		return models.Message{}, ErrEmptyMessage
	}
	v, err := c.view(req.RoomID)
	if err != nil {
		return models.Message{}, err
	}

	local := models.Message{SenderID: c.localUserID, Content: content, ReplyToID: req.ReplyToID}
	for _, f := range req.Files {
		local.Attachments = append(local.Attachments, models.Attachment{Name: f.Name, MimeType: f.MimeType})
	}
	local = v.stream.AppendOptimistic(local)
	c.publish(req.RoomID, v.stream.Messages())

	var attachments []models.Attachment
	if len(req.Files) > 0 {
		if c.uploader == nil {
			return local, fmt.Errorf("upload files: no uploader configured")
		}
		attachments, err = c.uploader.Upload(ctx, req.Files)
		if err != nil {
			log.Printf("upload failed room_id=%s temp_id=%s: %v", req.RoomID, local.ID, err)
			return local, fmt.Errorf("upload files: %w", err)
		}
	}

	err = c.channel.Emit(ctx, models.SendMessage{
		RoomID:           req.RoomID,
		SenderID:         c.localUserID,
		Content:          content,
		Attachments:      attachments,
		ReplyToMessageID: req.ReplyToID,
	})
	if err != nil {
		log.Printf("send failed room_id=%s temp_id=%s: %v", req.RoomID, local.ID, err)
		return local, err
	}

	_ = observability.PublishEvent(ctx, observability.RoutingMessageSent, observability.NewEnvelope("chat_events", "message_sent", map[string]interface{}{
		"room_id":     req.RoomID,
		"temp_id":     local.ID,
		"attachments": len(attachments),
	}), nil)
	return local, nil
}

// Edit asks the server to replace a confirmed message's content. The stream
// changes when the server echoes the edit.
func (c *Client) Edit(ctx context.Context, roomID, messageID, content string) error {
	if strings.HasPrefix(messageID, stream.TempIDPrefix) {
		return ErrPendingMessage
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyMessage
	}
	if _, err := c.view(roomID); err != nil {
		return err
	}
	return c.channel.Emit(ctx, models.EditMessage{ID: messageID, RoomID: roomID, Content: strings.TrimSpace(content)})
}

// Delete asks the server to delete a confirmed message for everyone.
func (c *Client) Delete(ctx context.Context, roomID, messageID string) error {
	if strings.HasPrefix(messageID, stream.TempIDPrefix) {
		return ErrPendingMessage
	}
	if _, err := c.view(roomID); err != nil {
		return err
	}
	return c.channel.Emit(ctx, models.DeleteMessage{ID: messageID, RoomID: roomID})
}

// Mounted lists the rooms with an open view.
func (c *Client) Mounted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.views))
	for id := range c.views {
		out = append(out, id)
	}
	return out
}

func (c *Client) view(roomID string) (*view, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.views[roomID]
	if !ok {
		return nil, ErrRoomNotMounted
	}
	return v, nil
}

// pump applies the room's events to its stream until the view is unmounted.
func (c *Client) pump(roomID string, v *view) {
	for ev := range v.sub.C() {
		if ev.Room() != roomID {
			continue
		}
		changed := true
		switch e := ev.(type) {
		case models.NewMessage:
			v.stream.ReconcileConfirmed(e.Message)
		case models.MessageEdited:
			changed = v.stream.ApplyEdited(e)
		case models.MessageDeleted:
			changed = v.stream.ApplyDeleted(e)
		}
		if !changed {
			log.Printf("event for unloaded message room_id=%s", roomID)
			continue
		}
		c.publish(roomID, v.stream.Messages())
	}
}

func (c *Client) publish(roomID string, msgs []models.Message) {
	if c.onStream != nil {
		c.onStream(roomID, msgs)
	}
}
