package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/repositories"
)

type SessionRepositoryMock struct {
	mock.Mock
}

func (m *SessionRepositoryMock) Load() ([]models.PersistedSession, bool, error) {
	args := m.Called()
	var sessions []models.PersistedSession
	if val := args.Get(0); val != nil {
		sessions = val.([]models.PersistedSession)
	}
	return sessions, args.Bool(1), args.Error(2)
}

func (m *SessionRepositoryMock) Save(sessions []models.PersistedSession) error {
	args := m.Called(sessions)
	return args.Error(0)
}

func (m *SessionRepositoryMock) Clear() error {
	args := m.Called()
	return args.Error(0)
}

type MessageSourceMock struct {
	mock.Mock
}

func (m *MessageSourceMock) FetchPage(ctx context.Context, roomID string, page, size int) ([]models.Message, error) {
	args := m.Called(ctx, roomID, page, size)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type UploaderMock struct {
	mock.Mock
}

func (m *UploaderMock) Upload(ctx context.Context, files []models.Upload) ([]models.Attachment, error) {
	args := m.Called(ctx, files)
	var atts []models.Attachment
	if val := args.Get(0); val != nil {
		atts = val.([]models.Attachment)
	}
	return atts, args.Error(1)
}

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) RoomInfo(ctx context.Context, roomID string) (models.RoomInfo, error) {
	args := m.Called(ctx, roomID)
	var info models.RoomInfo
	if val := args.Get(0); val != nil {
		info = val.(models.RoomInfo)
	}
	return info, args.Error(1)
}

func (m *DirectoryMock) Profile(ctx context.Context, userID string) (models.Profile, error) {
	args := m.Called(ctx, userID)
	var profile models.Profile
	if val := args.Get(0); val != nil {
		profile = val.(models.Profile)
	}
	return profile, args.Error(1)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) PlaySound(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *NotifierMock) Show(ctx context.Context, n models.Notification) (func(), error) {
	args := m.Called(ctx, n)
	var dismiss func()
	if val := args.Get(0); val != nil {
		dismiss = val.(func())
	}
	return dismiss, args.Error(1)
}

type SessionServiceMock struct {
	mock.Mock
}

func (m *SessionServiceMock) Open(roomID, displayName, avatarRef string) bool {
	args := m.Called(roomID, displayName, avatarRef)
	return args.Bool(0)
}

func (m *SessionServiceMock) Close(roomID string) {
	m.Called(roomID)
}

func (m *SessionServiceMock) ToggleMinimize(roomID string) (bool, bool) {
	args := m.Called(roomID)
	return args.Bool(0), args.Bool(1)
}

func (m *SessionServiceMock) List() []models.ChatSession {
	args := m.Called()
	var sessions []models.ChatSession
	if val := args.Get(0); val != nil {
		sessions = val.([]models.ChatSession)
	}
	return sessions
}

func (m *SessionServiceMock) Visible() ([]models.ChatSession, int) {
	args := m.Called()
	var sessions []models.ChatSession
	if val := args.Get(0); val != nil {
		sessions = val.([]models.ChatSession)
	}
	return sessions, args.Int(1)
}

type RoomServiceMock struct {
	mock.Mock
}

func (m *RoomServiceMock) MountRoom(ctx context.Context, roomID string, foreground bool) ([]models.Message, error) {
	args := m.Called(ctx, roomID, foreground)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *RoomServiceMock) UnmountRoom(roomID string, foreground bool) {
	m.Called(roomID, foreground)
}

func (m *RoomServiceMock) Messages(roomID string) ([]models.Message, error) {
	args := m.Called(roomID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *RoomServiceMock) LoadOlder(ctx context.Context, roomID string) (int, error) {
	args := m.Called(ctx, roomID)
	return args.Int(0), args.Error(1)
}

func (m *RoomServiceMock) HasMore(roomID string) bool {
	args := m.Called(roomID)
	return args.Bool(0)
}

func (m *RoomServiceMock) Send(ctx context.Context, draft models.Draft) (models.Message, error) {
	args := m.Called(ctx, draft)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *RoomServiceMock) Edit(ctx context.Context, roomID, messageID, content string) error {
	args := m.Called(ctx, roomID, messageID, content)
	return args.Error(0)
}

func (m *RoomServiceMock) Delete(ctx context.Context, roomID, messageID string) error {
	args := m.Called(ctx, roomID, messageID)
	return args.Error(0)
}

type CallServiceMock struct {
	mock.Mock
}

func (m *CallServiceMock) Initiate(ctx context.Context, peerID string) (models.CallSession, error) {
	args := m.Called(ctx, peerID)
	var s models.CallSession
	if val := args.Get(0); val != nil {
		s = val.(models.CallSession)
	}
	return s, args.Error(1)
}

func (m *CallServiceMock) Accept(ctx context.Context) (models.CallSession, error) {
	args := m.Called(ctx)
	var s models.CallSession
	if val := args.Get(0); val != nil {
		s = val.(models.CallSession)
	}
	return s, args.Error(1)
}

func (m *CallServiceMock) Reject(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *CallServiceMock) HangUp(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *CallServiceMock) Current() (models.CallSession, bool) {
	args := m.Called()
	var s models.CallSession
	if val := args.Get(0); val != nil {
		s = val.(models.CallSession)
	}
	return s, args.Bool(1)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) PublishJSON(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	args := m.Called(ctx, routingKey, message, headers)
	return args.Error(0)
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

var _ repositories.SessionRepository = (*SessionRepositoryMock)(nil)
var _ observability.Publisher = (*PublisherMock)(nil)
