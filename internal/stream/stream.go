package stream

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"chat-client/internal/models"
)

// TempIDPrefix marks client-generated message ids.
const TempIDPrefix = "tmp-"

var ErrStreamClosed = errors.New("message stream closed")

// arrivalSeq orders messages that share a createdAt timestamp. It is shared by
// every stream so arrival order is comparable across the process.
var arrivalSeq atomic.Uint64

// MessageSource fetches pages of room history, newest page first.
type MessageSource interface {
	FetchPage(ctx context.Context, roomID string, page, size int) ([]models.Message, error)
}

// Viewport is the scrollable surface rendering a stream. Commit must render the
// given messages synchronously so ScrollHeight reflects them on return.
type Viewport interface {
	Commit(messages []models.Message)
	ScrollHeight() float64
	ScrollTop() float64
	SetScrollTop(offset float64)
}

type entry struct {
	msg models.Message
	seq uint64
}

// Stream owns the ordered message list of one open room.
type Stream struct {
	roomID string
	source MessageSource
	now    func() time.Time

	mu         sync.Mutex
	entries    []entry
	nextPage   int
	hasMore    bool
	generation uint64
	closed     bool
}

// New creates an empty stream for roomID.
func New(roomID string, source MessageSource) *Stream {
	return &Stream{roomID: roomID, source: source, now: time.Now}
}

// RoomID returns the room the stream belongs to.
func (s *Stream) RoomID() string {
	return s.roomID
}

// LoadInitial merges the newest page into the stream. Messages that arrived
// while the page was in flight are kept.
func (s *Stream) LoadInitial(ctx context.Context, pageSize int) error {
	gen, err := s.currentGeneration()
	if err != nil {
		return err
	}

	page, err := s.source.FetchPage(ctx, s.roomID, 0, pageSize)
	if err != nil {
		return fmt.Errorf("fetch initial page: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.generation != gen {
		return ErrStreamClosed
	}

	s.mergeLocked(page)
	s.sortLocked()
	if s.nextPage == 0 {
		s.nextPage = 1
		s.hasMore = len(page) == pageSize
	}
	return nil
}

// LoadOlder prepends the next page of history. When vp is not nil the visible
// content is kept in place by shifting the scroll offset by the height added above
// it. Results arriving after Close are discarded.
func (s *Stream) LoadOlder(ctx context.Context, pageSize int, vp Viewport) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrStreamClosed
	}
	if !s.hasMore {
		s.mu.Unlock()
		return 0, nil
	}
	gen := s.generation
	pageNo := s.nextPage
	s.mu.Unlock()

	page, err := s.source.FetchPage(ctx, s.roomID, pageNo, pageSize)
	if err != nil {
		return 0, fmt.Errorf("fetch page %d: %w", pageNo, err)
	}

	var before float64
	if vp != nil {
		before = vp.ScrollHeight()
	}

	s.mu.Lock()
	if s.closed || s.generation != gen {
		s.mu.Unlock()
		return 0, ErrStreamClosed
	}
	if s.nextPage != pageNo {
		// another load already took this page
		s.mu.Unlock()
		return 0, nil
	}
	added := s.mergeLocked(page)
	s.sortLocked()
	s.nextPage++
	s.hasMore = len(page) == pageSize
	snapshot := s.snapshotLocked()
	s.mu.Unlock()

	if vp != nil {
		vp.Commit(snapshot)
		delta := vp.ScrollHeight() - before
		vp.SetScrollTop(vp.ScrollTop() + delta)
	}
	return added, nil
}

// AppendOptimistic inserts a locally sent message before the server confirms it.
// A temporary id is assigned when local.ID is empty.
func (s *Stream) AppendOptimistic(local models.Message) models.Message {
	if local.ID == "" {
		local.ID = TempIDPrefix + uuid.NewString()
	}
	if local.CreatedAt.IsZero() {
		local.CreatedAt = s.now()
	}
	local.RoomID = s.roomID
	local.Pending = true

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{msg: local, seq: arrivalSeq.Add(1)})
	s.sortLocked()
	return local
}

// ReconcileConfirmed merges a server-confirmed message. A known id is updated in
// place; otherwise the oldest pending entry with the same sender and content takes
// the server identity; otherwise the message is appended.
func (s *Stream) ReconcileConfirmed(server models.Message) {
	server.Pending = false

	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.indexLocked(server.ID); idx >= 0 {
		if s.entries[idx].msg.Deleted() {
			return
		}
		s.entries[idx].msg = server
		s.sortLocked()
		return
	}

	for i := range s.entries {
		m := s.entries[i].msg
		if m.Pending && m.SenderID == server.SenderID && m.RoomID == server.RoomID && m.Content == server.Content {
			s.entries[i].msg = server
			s.sortLocked()
			return
		}
	}

	s.entries = append(s.entries, entry{msg: server, seq: arrivalSeq.Add(1)})
	s.sortLocked()
}

// ApplyEdited replaces the content of a loaded message. It reports false when
// the id is not loaded.
func (s *Stream) ApplyEdited(ev models.MessageEdited) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(ev.ID)
	if idx < 0 {
		return false
	}
	msg := &s.entries[idx].msg
	if msg.Deleted() {
		return true
	}
	if msg.Edited() && msg.Content == ev.Content && ev.EditedAt == nil {
		return true
	}
	editedAt := s.now()
	if ev.EditedAt != nil {
		editedAt = *ev.EditedAt
	}
	msg.Content = ev.Content
	msg.EditedAt = &editedAt
	return true
}

// ApplyDeleted turns a loaded message into a tombstone. It reports false when
// the id is not loaded.
func (s *Stream) ApplyDeleted(ev models.MessageDeleted) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(ev.ID)
	if idx < 0 {
		return false
	}
	msg := &s.entries[idx].msg
	if msg.Deleted() {
		return true
	}
	deletedAt := s.now()
	if ev.DeletedAt != nil {
		deletedAt = *ev.DeletedAt
	}
	msg.Content = ""
	msg.Attachments = nil
	msg.DeletedAt = &deletedAt
	return true
}

// Messages returns the display-ordered messages.
func (s *Stream) Messages() []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// HasMore reports whether older pages may exist.
func (s *Stream) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// Close discards the stream; pending loads are dropped on arrival.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.generation++
	s.mu.Unlock()
}

func (s *Stream) currentGeneration() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStreamClosed
	}
	return s.generation, nil
}

// mergeLocked adds page messages not yet present, returning how many were added.
func (s *Stream) mergeLocked(page []models.Message) int {
	ordered := make([]models.Message, len(page))
	copy(ordered, page)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	added := 0
	for _, m := range ordered {
		if s.indexLocked(m.ID) >= 0 {
			continue
		}
		m.Pending = false
		s.entries = append(s.entries, entry{msg: m, seq: arrivalSeq.Add(1)})
		added++
	}
	return added
}

func (s *Stream) sortLocked() {
	sort.SliceStable(s.entries, func(i, j int) bool {
		a, b := s.entries[i], s.entries[j]
		if !a.msg.CreatedAt.Equal(b.msg.CreatedAt) {
			return a.msg.CreatedAt.Before(b.msg.CreatedAt)
		}
		return a.seq < b.seq
	})
}

func (s *Stream) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.entries {
		if s.entries[i].msg.ID == id {
			return i
		}
	}
	return -1
}

func (s *Stream) snapshotLocked() []models.Message {
	out := make([]models.Message, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.msg
	}
	return out
}
