package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-client/internal/mocks"
	"chat-client/internal/models"
	"chat-client/internal/repositories"
	"chat-client/internal/sessions"
)

type gateFixture struct {
	gate      *Gate
	focus     *sessions.Focus
	registry  *sessions.Registry
	directory *mocks.DirectoryMock
	notifier  *mocks.NotifierMock
	scheduled []time.Duration
	dismissed int
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	f := &gateFixture{
		focus:     sessions.NewFocus(),
		directory: new(mocks.DirectoryMock),
		notifier:  new(mocks.NotifierMock),
	}
	f.registry = sessions.NewRegistry(repositories.NewMemorySessionRepo(nil), f.focus)
	f.gate = NewGate("me", f.focus, f.registry, f.directory, f.notifier, 0)
	f.gate.afterFunc = func(d time.Duration, fn func()) {
		f.scheduled = append(f.scheduled, d)
		fn()
	}
	return f
}

func (f *gateFixture) expectNotification(roomID string) {
	f.notifier.On("PlaySound", mock.Anything).Return(nil).Once()
	f.notifier.On("Show", mock.Anything, mock.MatchedBy(func(n Notification) bool {
		return n.RoomID == roomID
	})).Return(func() { f.dismissed++ }, nil).Once()
}

func TestGateIgnoresOwnMessages(t *testing.T) {
	f := newGateFixture(t)
	f.focus.SetWindowFocused(false)

	out := f.gate.Handle(context.Background(), models.Message{RoomID: "x", SenderID: "me"})

	assert.True(t, out.Ignored)
	assert.Empty(t, f.registry.List())
	f.notifier.AssertNotCalled(t, "Show", mock.Anything, mock.Anything)
}

func TestGateNewRoomUnfocusedNotifiesAndOpens(t *testing.T) {
	f := newGateFixture(t)
	f.focus.SetWindowFocused(false)
	f.focus.SetForegroundRoom("other")
	f.registry.Open("older", "Older", "")

	f.directory.On("RoomInfo", mock.Anything, "X").Return(models.RoomInfo{ID: "X", Name: "Room X"}, nil).Once()
	f.expectNotification("X")

	out := f.gate.Handle(context.Background(), models.Message{ID: "m1", RoomID: "X", SenderID: "42", Content: "hey"})

	assert.True(t, out.Notified)
	assert.True(t, out.SessionOpened)
	list := f.registry.List()
	require.Len(t, list, 2)
	assert.Equal(t, "X", list[1].RoomID)
	assert.Equal(t, "Room X", list[1].DisplayName)
	assert.False(t, list[1].Minimized)
	assert.Equal(t, []time.Duration{DefaultDismissAfter}, f.scheduled)
	assert.Equal(t, 1, f.dismissed)
	f.directory.AssertExpectations(t)
	f.notifier.AssertExpectations(t)
}

func TestGateForegroundRoomNotifiesOnlyWhenUnfocused(t *testing.T) {
	f := newGateFixture(t)
	f.focus.SetForegroundRoom("X")

	out := f.gate.Handle(context.Background(), models.Message{RoomID: "X", SenderID: "42"})
	assert.False(t, out.Notified)
	assert.False(t, out.SessionOpened)
	assert.Empty(t, f.registry.List())

	f.focus.SetWindowFocused(false)
	f.directory.On("RoomInfo", mock.Anything, "X").Return(models.RoomInfo{Name: "X"}, nil).Once()
	f.expectNotification("X")

	out = f.gate.Handle(context.Background(), models.Message{RoomID: "X", SenderID: "42"})
	assert.True(t, out.Notified)
	assert.Empty(t, f.registry.List())
	f.notifier.AssertExpectations(t)
}

func TestGateFocusedWindowSuppressesNotification(t *testing.T) {
	f := newGateFixture(t)
	f.directory.On("RoomInfo", mock.Anything, "Y").Return(models.RoomInfo{Name: "Y"}, nil).Once()

	out := f.gate.Handle(context.Background(), models.Message{RoomID: "Y", SenderID: "42"})

	assert.False(t, out.Notified)
	assert.True(t, out.SessionOpened)
	f.notifier.AssertNotCalled(t, "PlaySound", mock.Anything)
	f.notifier.AssertNotCalled(t, "Show", mock.Anything, mock.Anything)
}

func TestGateLooksUpMetadataOnlyOnFirstCreation(t *testing.T) {
	f := newGateFixture(t)
	f.directory.On("RoomInfo", mock.Anything, "Y").Return(models.RoomInfo{Name: "Y"}, nil).Once()

	f.gate.Handle(context.Background(), models.Message{RoomID: "Y", SenderID: "42"})
	f.registry.Open("Z", "Z", "")
	out := f.gate.Handle(context.Background(), models.Message{RoomID: "Y", SenderID: "42"})

	assert.True(t, out.SessionTouched)
	assert.Equal(t, "Y", f.registry.List()[1].RoomID)
	f.directory.AssertNumberOfCalls(t, "RoomInfo", 1)
}

func TestGateFallsBackToProfileThenPlaceholder(t *testing.T) {
	f := newGateFixture(t)
	f.directory.On("RoomInfo", mock.Anything, "dm").Return(models.RoomInfo{}, models.ErrNotFound).Once()
	f.directory.On("Profile", mock.Anything, "42").Return(models.Profile{ID: "42", DisplayName: "Ann"}, nil).Once()

	f.gate.Handle(context.Background(), models.Message{RoomID: "dm", SenderID: "42"})
	assert.Equal(t, "Ann", f.registry.List()[0].DisplayName)

	f.directory.On("RoomInfo", mock.Anything, "lost").Return(models.RoomInfo{}, models.ErrNotFound).Once()
	f.directory.On("Profile", mock.Anything, "43").Return(models.Profile{}, models.ErrNotFound).Once()

	f.gate.Handle(context.Background(), models.Message{RoomID: "lost", SenderID: "43"})
	assert.Equal(t, PlaceholderName, f.registry.List()[1].DisplayName)
}

func TestGateVisibleBoundAcrossManyRooms(t *testing.T) {
	f := newGateFixture(t)
	f.directory.On("RoomInfo", mock.Anything, mock.Anything).Return(models.RoomInfo{Name: "room"}, nil)

	for _, room := range []string{"r1", "r2", "r3"} {
		f.gate.Handle(context.Background(), models.Message{RoomID: room, SenderID: "42"})
	}

	visible, overflow := f.registry.Visible()
	require.Len(t, visible, 2)
	assert.Equal(t, "r2", visible[0].RoomID)
	assert.Equal(t, "r3", visible[1].RoomID)
	assert.Equal(t, 1, overflow)
}

func TestPreviewText(t *testing.T) {
	assert.Equal(t, "New message", previewText("  ", 0))
	assert.Equal(t, "Sent an attachment", previewText("", 2))
	long := make([]byte, 250)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, previewText(string(long), 0), 203)
}
