package models

// CallStatus is the lifecycle state of a call session.
type CallStatus string

const (
	CallIdle      CallStatus = "idle"
	CallRinging   CallStatus = "ringing"
	CallAccepted  CallStatus = "accepted"
	CallConnected CallStatus = "connected"
	CallRejected  CallStatus = "rejected"
	CallEnded     CallStatus = "ended"
)

// Terminal reports whether no further transition is allowed from s.
func (s CallStatus) Terminal() bool {
	return s == CallRejected || s == CallEnded
}

// CallRole is the side of the call the local client plays.
type CallRole string

const (
	RoleCaller CallRole = "caller"
	RoleCallee CallRole = "callee"
)

// SessionDescription is an SDP offer or answer.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is a serialized ICE candidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// CallDocument is the shared signaling document of one call.
type CallDocument struct {
	CallID     string              `json:"callId" db:"id"`
	Offer      *SessionDescription `json:"offer,omitempty"`
	Answer     *SessionDescription `json:"answer,omitempty"`
	Status     CallStatus          `json:"status" db:"status"`
	CallerID   string              `json:"callerId" db:"caller_id"`
	ReceiverID string              `json:"receiverId" db:"receiver_id"`
}

// CallUpdate lists the document fields to overwrite; nil fields are untouched.
type CallUpdate struct {
	Answer *SessionDescription
	Status *CallStatus
}

// CallSession is the client-side view of one call.
type CallSession struct {
	CallID                  string      `json:"call_id"`
	Role                    CallRole    `json:"role"`
	PeerID                  string      `json:"peer_id"`
	Status                  CallStatus  `json:"status"`
	LocalTracks             int         `json:"local_tracks"`
	RemoteTracks            int         `json:"remote_tracks"`
	PendingRemoteCandidates []Candidate `json:"pending_remote_candidates,omitempty"`
	EndReason               string      `json:"end_reason,omitempty"`
}
