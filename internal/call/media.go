package call

import (
	"context"

	"chat-client/internal/models"
)

// ConnectionState mirrors the peer connection states reported by the media stack.
type ConnectionState string

const (
	ConnectionNew          ConnectionState = "new"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
	ConnectionClosed       ConnectionState = "closed"
)

// LocalTrack is a captured local audio or video track.
type LocalTrack interface {
	ID() string
	Kind() string
	Stop() error
}

// MediaSource captures local tracks for a call.
type MediaSource interface {
	Acquire(ctx context.Context) ([]LocalTrack, error)
}

// PeerConnection is the subset of a WebRTC peer connection the engine drives.
// CreateOffer and CreateAnswer also install the result as the local
// description, which starts candidate gathering.
type PeerConnection interface {
	AddTrack(track LocalTrack) error
	CreateOffer(ctx context.Context) (models.SessionDescription, error)
	CreateAnswer(ctx context.Context) (models.SessionDescription, error)
	SetRemoteDescription(sd models.SessionDescription) error
	AddICECandidate(c models.Candidate) error
	OnICECandidate(fn func(models.Candidate))
	OnConnectionStateChange(fn func(ConnectionState))
	OnRemoteTrack(fn func())
	Close() error
}

// PeerFactory creates peer connections.
type PeerFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// MediaAccessError reports that local media could not be acquired.
type MediaAccessError struct {
	Err error
}

func (e *MediaAccessError) Error() string {
	return "media access: " + e.Err.Error()
}

func (e *MediaAccessError) Unwrap() error {
	return e.Err
}
