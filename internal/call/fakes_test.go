package call

import (
	"context"
	"sync"

	"chat-client/internal/models"
)

type fakeTrack struct {
	id    string
	kind  string
	mu    sync.Mutex
	stops int
}

func (t *fakeTrack) ID() string   { return t.id }
func (t *fakeTrack) Kind() string { return t.kind }
func (t *fakeTrack) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	return nil
}

func (t *fakeTrack) Stops() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stops
}

type fakeMedia struct {
	mu     sync.Mutex
	err    error
	tracks []*fakeTrack
}

func (m *fakeMedia) Acquire(ctx context.Context) ([]LocalTrack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	audio := &fakeTrack{id: "audio", kind: "audio"}
	video := &fakeTrack{id: "video", kind: "video"}
	m.tracks = append(m.tracks, audio, video)
	return []LocalTrack{audio, video}, nil
}

func (m *fakeMedia) Tracks() []*fakeTrack {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*fakeTrack(nil), m.tracks...)
}

// fakePeer gathers one candidate as soon as a local description is created.
type fakePeer struct {
	name string

	mu          sync.Mutex
	tracks      []LocalTrack
	remote      []models.SessionDescription
	applied     []models.Candidate
	closes      int
	onCandidate func(models.Candidate)
	onState     func(ConnectionState)
	onTrack     func()
}

func (p *fakePeer) AddTrack(track LocalTrack) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *fakePeer) CreateOffer(ctx context.Context) (models.SessionDescription, error) {
	p.gather()
	return models.SessionDescription{Type: "offer", SDP: "offer-from-" + p.name}, nil
}

func (p *fakePeer) CreateAnswer(ctx context.Context) (models.SessionDescription, error) {
	p.gather()
	return models.SessionDescription{Type: "answer", SDP: "answer-from-" + p.name}, nil
}

func (p *fakePeer) gather() {
	p.mu.Lock()
	fn := p.onCandidate
	p.mu.Unlock()
	if fn != nil {
		fn(models.Candidate{Candidate: "cand-" + p.name})
	}
}

func (p *fakePeer) SetRemoteDescription(sd models.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = append(p.remote, sd)
	return nil
}

func (p *fakePeer) AddICECandidate(c models.Candidate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.remote) == 0 {
		panic("candidate applied before remote description")
	}
	p.applied = append(p.applied, c)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(models.Candidate)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCandidate = fn
}

func (p *fakePeer) OnConnectionStateChange(fn func(ConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *fakePeer) OnRemoteTrack(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	return nil
}

func (p *fakePeer) setState(state ConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(state)
}

func (p *fakePeer) remoteTrack() {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	fn()
}

func (p *fakePeer) Remote() []models.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.SessionDescription(nil), p.remote...)
}

func (p *fakePeer) Applied() []models.Candidate {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.Candidate(nil), p.applied...)
}

func (p *fakePeer) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

type fakePeers struct {
	name  string
	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakePeers) NewPeerConnection() (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{name: f.name}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakePeers) Last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

func (f *fakePeers) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

// recorder collects observed session snapshots.
type recorder struct {
	mu       sync.Mutex
	sessions []models.CallSession
}

func (r *recorder) observe(s models.CallSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, s)
}

func (r *recorder) statuses() []models.CallStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.CallStatus
	for _, s := range r.sessions {
		if len(out) == 0 || out[len(out)-1] != s.Status {
			out = append(out, s.Status)
		}
	}
	return out
}
