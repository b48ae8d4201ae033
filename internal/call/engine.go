// Package call implements the caller and callee sides of one-to-one calls
// negotiated through a shared signaling store.
package call

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"chat-client/internal/feed"
	"chat-client/internal/models"
	"chat-client/internal/observability"
	"chat-client/internal/signaling"
)

var (
	ErrCallInProgress = errors.New("call already in progress")
	ErrNoActiveCall   = errors.New("no active call")
	ErrInvalidState   = errors.New("operation not valid in current call state")
)

// End reasons recorded on the session.
const (
	ReasonLocalHangUp      = "local_hangup"
	ReasonLocalReject      = "local_reject"
	ReasonRemoteEnded      = "remote_ended"
	ReasonRemoteRejected   = "remote_rejected"
	ReasonConnectionFailed = "connection_failed"
	ReasonMediaUnavailable = "media_unavailable"
	ReasonSignalingFailed  = "signaling_failed"
	ReasonNegotiation      = "negotiation_failed"
	ReasonBusy             = "busy"
)

// Observer receives a snapshot of the session after every change.
type Observer func(models.CallSession)

// Option configures an engine.
type Option func(*engine)

// WithObserver registers fn for session changes. Observers run outside the
// engine's locks.
func WithObserver(fn Observer) Option {
	return func(e *engine) { e.observers = append(e.observers, fn) }
}

// activeCall holds the resources of one call. Everything is guarded by mu.
type activeCall struct {
	mu      sync.Mutex
	session models.CallSession

	pc     PeerConnection
	tracks []LocalTrack

	remoteClaimed bool
	remoteApplied bool
	peerConnected bool
	localSide     signaling.CandidateSide
	docReady      bool
	localPending  []models.Candidate

	subs     []feed.Canceler
	ctx      context.Context
	cancel   context.CancelFunc
	torndown bool
}

func newActiveCall(role models.CallRole, peerID string) *activeCall {
	ctx, cancel := context.WithCancel(context.Background())
	c := &activeCall{
		session: models.CallSession{Role: role, PeerID: peerID, Status: models.CallIdle},
		ctx:     ctx,
		cancel:  cancel,
	}
	if role == models.RoleCaller {
		c.localSide = signaling.OfferCandidates
	} else {
		c.localSide = signaling.AnswerCandidates
	}
	return c
}

func (c *activeCall) snapshot() models.CallSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *activeCall) snapshotLocked() models.CallSession {
	s := c.session
	if len(s.PendingRemoteCandidates) > 0 {
		s.PendingRemoteCandidates = append([]models.Candidate(nil), s.PendingRemoteCandidates...)
	}
	return s
}

// engine holds what Caller and Callee share: the single active-call slot, the
// state machine, candidate exchange and teardown.
type engine struct {
	role        models.CallRole
	localUserID string
	store       signaling.Store
	media       MediaSource
	peers       PeerFactory
	observers   []Observer

	// line serialises claims across engines sharing one phone line; other is
	// the engine on the opposite role of that line.
	line  *sync.Mutex
	other *engine

	mu      sync.Mutex
	active  *activeCall
	last    *models.CallSession
	lastSeq uint64
}

// releaseSeq orders finished calls across engines.
var releaseSeq atomic.Uint64

func newEngine(role models.CallRole, localUserID string, store signaling.Store, media MediaSource, peers PeerFactory, opts ...Option) *engine {
	e := &engine{
		role:        role,
		localUserID: localUserID,
		store:       store,
		media:       media,
		peers:       peers,
		line:        &sync.Mutex{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Current returns the active session, or the most recent finished one.
func (e *engine) Current() (models.CallSession, bool) {
	e.mu.Lock()
	active, last := e.active, e.last
	e.mu.Unlock()

	if active != nil {
		return active.snapshot(), true
	}
	if last != nil {
		return *last, true
	}
	return models.CallSession{}, false
}

// Active reports whether a call holds the slot.
func (e *engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active != nil
}

func (e *engine) claim(c *activeCall) error {
	e.line.Lock()
	defer e.line.Unlock()
	if e.other != nil && e.other.Active() {
		return ErrCallInProgress
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return ErrCallInProgress
	}
	e.active = c
	return nil
}

func (e *engine) release(c *activeCall) {
	snapshot := c.snapshot()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == c {
		e.active = nil
	}
	e.last = &snapshot
	e.lastSeq = releaseSeq.Add(1)
}

func (e *engine) lastCall() (models.CallSession, uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return models.CallSession{}, 0, false
	}
	return *e.last, e.lastSeq, true
}

func (e *engine) current() *activeCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// transition moves c to status. Entering a terminal status tears down every
// resource of the call and frees the slot. It reports false when the state
// machine forbids the move.
func (e *engine) transition(c *activeCall, to models.CallStatus, reason string) bool {
	c.mu.Lock()
	from := c.session.Status
	if !CanTransition(from, to) {
		c.mu.Unlock()
		return false
	}
	c.session.Status = to
	if to.Terminal() {
		c.session.EndReason = reason
	}
	snapshot := c.snapshotLocked()
	c.mu.Unlock()

	observability.IncCallTransition(string(e.role), string(to))
	log.Printf("call transition role=%s call_id=%s from=%s to=%s reason=%s", e.role, snapshot.CallID, from, to, reason)

	if to.Terminal() {
		e.teardown(c)
		e.release(c)
	}
	e.notify(snapshot)
	return true
}

// teardown stops local tracks, closes the peer connection and cancels every
// store subscription. Calling it again is a no-op.
func (e *engine) teardown(c *activeCall) {
	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		return
	}
	c.torndown = true
	callID := c.session.CallID
	pc, tracks, subs := c.pc, c.tracks, c.subs
	c.pc, c.tracks, c.subs = nil, nil, nil
	c.localPending = nil
	c.session.PendingRemoteCandidates = nil
	c.mu.Unlock()

	c.cancel()
	for _, sub := range subs {
		sub.Cancel()
	}
	for _, t := range tracks {
		if err := t.Stop(); err != nil {
			log.Printf("call track stop failed track_id=%s: %v", t.ID(), err)
		}
	}
	if pc != nil {
		if err := pc.Close(); err != nil {
			log.Printf("call peer connection close failed call_id=%s: %v", callID, err)
		}
	}
}

// end moves c to ended, then publishes the status to the store when publish
// is set. The local transition comes first so the echo of our own write is
// not mistaken for a remote hang-up.
func (e *engine) end(ctx context.Context, c *activeCall, reason string, publish bool) error {
	c.mu.Lock()
	callID := c.session.CallID
	c.mu.Unlock()

	if !e.transition(c, models.CallEnded, reason) {
		return nil
	}
	if !publish || callID == "" {
		return nil
	}
	ended := models.CallEnded
	if err := e.store.UpdateCall(ctx, callID, models.CallUpdate{Status: &ended}); err != nil {
		log.Printf("call end write failed call_id=%s: %v", callID, err)
		return models.NewTransportError("end call", err)
	}
	return nil
}

// HangUp ends the active call locally and tells the remote side.
func (e *engine) HangUp(ctx context.Context) error {
	c := e.current()
	if c == nil {
		return ErrNoActiveCall
	}
	return e.end(ctx, c, ReasonLocalHangUp, true)
}

// attach hands pc and tracks to c. It fails if the call ended meanwhile, in
// which case the caller still owns the resources.
func (e *engine) attach(c *activeCall, pc PeerConnection, tracks []LocalTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.torndown {
		return ErrNoActiveCall
	}
	c.pc = pc
	c.tracks = tracks
	c.session.LocalTracks = len(tracks)
	return nil
}

func (e *engine) addSub(c *activeCall, sub feed.Canceler) {
	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		sub.Cancel()
		return
	}
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
}

// openPeer acquires local media and builds a peer connection wired to c.
func (e *engine) openPeer(ctx context.Context, c *activeCall) (PeerConnection, []LocalTrack, error) {
	tracks, err := e.media.Acquire(ctx)
	if err != nil {
		return nil, nil, &MediaAccessError{Err: err}
	}

	pc, err := e.peers.NewPeerConnection()
	if err != nil {
		stopTracks(tracks)
		return nil, nil, fmt.Errorf("create peer connection: %w", err)
	}

	pc.OnICECandidate(func(cand models.Candidate) { e.onLocalCandidate(c, cand) })
	pc.OnConnectionStateChange(func(state ConnectionState) { e.onConnectionState(c, state) })
	pc.OnRemoteTrack(func() { e.onRemoteTrack(c) })

	for _, t := range tracks {
		if err := pc.AddTrack(t); err != nil {
			stopTracks(tracks)
			_ = pc.Close()
			return nil, nil, fmt.Errorf("add track %s: %w", t.ID(), err)
		}
	}
	return pc, tracks, nil
}

// onLocalCandidate writes a gathered candidate to the local side's collection,
// buffering it until the call document exists.
func (e *engine) onLocalCandidate(c *activeCall, cand models.Candidate) {
	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		return
	}
	if !c.docReady {
		c.localPending = append(c.localPending, cand)
		c.mu.Unlock()
		return
	}
	callID, side, ctx := c.session.CallID, c.localSide, c.ctx
	c.mu.Unlock()

	if err := e.store.AppendCandidate(ctx, callID, side, cand); err != nil && ctx.Err() == nil {
		log.Printf("call candidate write failed call_id=%s side=%s: %v", callID, side, err)
	}
}

// markDocReady flushes candidates gathered before the document was written.
func (e *engine) markDocReady(c *activeCall) {
	c.mu.Lock()
	c.docReady = true
	pending := c.localPending
	c.localPending = nil
	callID, side, ctx := c.session.CallID, c.localSide, c.ctx
	c.mu.Unlock()

	for _, cand := range pending {
		if err := e.store.AppendCandidate(ctx, callID, side, cand); err != nil && ctx.Err() == nil {
			log.Printf("call candidate write failed call_id=%s side=%s: %v", callID, side, err)
		}
	}
}

// onRemoteCandidate applies a remote candidate, holding it until the remote
// description is set.
func (e *engine) onRemoteCandidate(c *activeCall, cand models.Candidate) {
	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		return
	}
	if !c.remoteApplied || c.pc == nil {
		c.session.PendingRemoteCandidates = append(c.session.PendingRemoteCandidates, cand)
		c.mu.Unlock()
		return
	}
	pc, callID := c.pc, c.session.CallID
	c.mu.Unlock()

	if err := pc.AddICECandidate(cand); err != nil {
		log.Printf("call remote candidate rejected call_id=%s: %v", callID, err)
	}
}

// applyRemoteDescription installs sd once and flushes buffered remote
// candidates. It reports false if the description was already applied.
func (e *engine) applyRemoteDescription(c *activeCall, sd models.SessionDescription) (bool, error) {
	c.mu.Lock()
	if c.remoteClaimed || c.torndown || c.pc == nil {
		c.mu.Unlock()
		return false, nil
	}
	c.remoteClaimed = true
	pc := c.pc
	c.mu.Unlock()

	if err := pc.SetRemoteDescription(sd); err != nil {
		return true, fmt.Errorf("set remote description: %w", err)
	}

	c.mu.Lock()
	c.remoteApplied = true
	pending := c.session.PendingRemoteCandidates
	c.session.PendingRemoteCandidates = nil
	callID := c.session.CallID
	c.mu.Unlock()

	for _, cand := range pending {
		if err := pc.AddICECandidate(cand); err != nil {
			log.Printf("call remote candidate rejected call_id=%s: %v", callID, err)
		}
	}
	return true, nil
}

func (e *engine) onRemoteTrack(c *activeCall) {
	c.mu.Lock()
	if c.torndown {
		c.mu.Unlock()
		return
	}
	c.session.RemoteTracks++
	snapshot := c.snapshotLocked()
	c.mu.Unlock()
	e.notify(snapshot)
}

func (e *engine) onConnectionState(c *activeCall, state ConnectionState) {
	switch state {
	case ConnectionConnected:
		c.mu.Lock()
		c.peerConnected = true
		c.mu.Unlock()
		e.connectIfReady(c)
	case ConnectionFailed:
		_ = e.end(context.Background(), c, ReasonConnectionFailed, true)
	}
}

// connectIfReady completes an accepted call once the peer connection is up.
func (e *engine) connectIfReady(c *activeCall) {
	c.mu.Lock()
	ready := c.peerConnected && c.session.Status == models.CallAccepted
	c.mu.Unlock()
	if ready {
		e.transition(c, models.CallConnected, "")
	}
}

// onRemoteStatus forces local teardown when the other side finished the call.
func (e *engine) onRemoteStatus(c *activeCall, status models.CallStatus) bool {
	switch status {
	case models.CallRejected:
		e.transition(c, models.CallEnded, ReasonRemoteRejected)
		return true
	case models.CallEnded:
		e.transition(c, models.CallEnded, ReasonRemoteEnded)
		return true
	}
	return false
}

// watchDocument follows the call document until the call ends.
func (e *engine) watchDocument(c *activeCall, handle func(models.CallDocument)) error {
	c.mu.Lock()
	callID, ctx := c.session.CallID, c.ctx
	c.mu.Unlock()

	sub, err := e.store.WatchCall(ctx, callID)
	if err != nil {
		return err
	}
	e.addSub(c, sub)
	go func() {
		for doc := range sub.C() {
			handle(doc)
		}
	}()
	return nil
}

// watchRemoteCandidates applies every candidate of the remote side.
func (e *engine) watchRemoteCandidates(c *activeCall) error {
	c.mu.Lock()
	callID, ctx := c.session.CallID, c.ctx
	remote := signaling.AnswerCandidates
	if c.localSide == signaling.AnswerCandidates {
		remote = signaling.OfferCandidates
	}
	c.mu.Unlock()

	sub, err := e.store.WatchCandidates(ctx, callID, remote)
	if err != nil {
		return err
	}
	e.addSub(c, sub)
	go func() {
		for cand := range sub.C() {
			e.onRemoteCandidate(c, cand)
		}
	}()
	return nil
}

func (e *engine) notify(s models.CallSession) {
	for _, fn := range e.observers {
		fn(s)
	}
}

func stopTracks(tracks []LocalTrack) {
	for _, t := range tracks {
		if err := t.Stop(); err != nil {
			log.Printf("call track stop failed track_id=%s: %v", t.ID(), err)
		}
	}
}
