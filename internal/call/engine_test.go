package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/models"
	"chat-client/internal/signaling"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type pair struct {
	store       *signaling.MemoryStore
	caller      *Caller
	callee      *Callee
	callerMedia *fakeMedia
	calleeMedia *fakeMedia
	callerPeers *fakePeers
	calleePeers *fakePeers
	callerRec   *recorder
	calleeRec   *recorder
}

func newPair(t *testing.T) *pair {
	t.Helper()
	p := &pair{
		store:       signaling.NewMemoryStore(),
		callerMedia: &fakeMedia{},
		calleeMedia: &fakeMedia{},
		callerPeers: &fakePeers{name: "A"},
		calleePeers: &fakePeers{name: "B"},
		callerRec:   &recorder{},
		calleeRec:   &recorder{},
	}
	p.caller = NewCaller("A", p.store, p.callerMedia, p.callerPeers, WithObserver(p.callerRec.observe))
	p.callee = NewCallee("B", p.store, p.calleeMedia, p.calleePeers, WithObserver(p.calleeRec.observe))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, p.callee.Listen(ctx))
	return p
}

func statusOf(e interface {
	Current() (models.CallSession, bool)
}) func() models.CallStatus {
	return func() models.CallStatus {
		s, _ := e.Current()
		return s.Status
	}
}

func eventuallyStatus(t *testing.T, get func() models.CallStatus, want models.CallStatus) {
	t.Helper()
	assert.Eventually(t, func() bool { return get() == want }, waitFor, tick, "want status %s, got %s", want, get())
}

func TestCanTransition(t *testing.T) {
	all := []models.CallStatus{models.CallIdle, models.CallRinging, models.CallAccepted, models.CallConnected, models.CallRejected, models.CallEnded}
	allowed := map[[2]models.CallStatus]bool{
		{models.CallIdle, models.CallRinging}:       true,
		{models.CallIdle, models.CallEnded}:         true,
		{models.CallRinging, models.CallAccepted}:   true,
		{models.CallRinging, models.CallRejected}:   true,
		{models.CallRinging, models.CallEnded}:      true,
		{models.CallAccepted, models.CallConnected}: true,
		{models.CallAccepted, models.CallEnded}:     true,
		{models.CallConnected, models.CallEnded}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]models.CallStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCallHappyPathAndRemoteHangUp(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	session, err := p.caller.Initiate(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, models.CallRinging, session.Status)
	assert.Equal(t, 2, session.LocalTracks)
	callID := session.CallID

	doc, err := p.store.GetCall(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, "A", doc.CallerID)
	assert.Equal(t, "B", doc.ReceiverID)
	assert.Equal(t, models.CallRinging, doc.Status)
	require.NotNil(t, doc.Offer)

	eventuallyStatus(t, statusOf(p.callee), models.CallRinging)

	accepted, err := p.callee.Accept(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.CallAccepted, accepted.Status)

	eventuallyStatus(t, statusOf(p.caller), models.CallConnected)

	callerPeer := p.callerPeers.Last()
	calleePeer := p.calleePeers.Last()
	assert.Equal(t, []models.SessionDescription{{Type: "answer", SDP: "answer-from-B"}}, callerPeer.Remote())
	assert.Equal(t, []models.SessionDescription{{Type: "offer", SDP: "offer-from-A"}}, calleePeer.Remote())

	assert.Eventually(t, func() bool { return len(callerPeer.Applied()) == 1 }, waitFor, tick)
	assert.Eventually(t, func() bool { return len(calleePeer.Applied()) == 1 }, waitFor, tick)
	assert.Equal(t, "cand-B", callerPeer.Applied()[0].Candidate)
	assert.Equal(t, "cand-A", calleePeer.Applied()[0].Candidate)

	calleePeer.setState(ConnectionConnected)
	eventuallyStatus(t, statusOf(p.callee), models.CallConnected)

	calleePeer.remoteTrack()
	s, _ := p.callee.Current()
	assert.Equal(t, 1, s.RemoteTracks)

	require.NoError(t, p.caller.HangUp(ctx))
	s, _ = p.caller.Current()
	assert.Equal(t, models.CallEnded, s.Status)
	assert.Equal(t, ReasonLocalHangUp, s.EndReason)

	eventuallyStatus(t, statusOf(p.callee), models.CallEnded)
	s, _ = p.callee.Current()
	assert.Equal(t, ReasonRemoteEnded, s.EndReason)

	assert.Equal(t, 1, callerPeer.Closes())
	assert.Equal(t, 1, calleePeer.Closes())
	for _, tr := range append(p.callerMedia.Tracks(), p.calleeMedia.Tracks()...) {
		assert.Equal(t, 1, tr.Stops(), tr.ID())
	}
	assert.Eventually(t, func() bool { return p.store.Watchers(callID) == 0 }, waitFor, tick)
	assert.False(t, p.caller.Active())
	assert.False(t, p.callee.Active())

	assert.Equal(t, []models.CallStatus{models.CallRinging, models.CallAccepted, models.CallConnected, models.CallEnded}, p.callerRec.statuses())
	assert.Equal(t, []models.CallStatus{models.CallRinging, models.CallAccepted, models.CallConnected, models.CallEnded}, p.calleeRec.statuses())
}

func TestSecondInitiateIsRejected(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	_, err := p.caller.Initiate(ctx, "B")
	require.NoError(t, err)

	_, err = p.caller.Initiate(ctx, "C")
	assert.ErrorIs(t, err, ErrCallInProgress)
	assert.Equal(t, 1, p.callerPeers.Count())
}

func TestCalleeRejectEndsCaller(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	session, err := p.caller.Initiate(ctx, "B")
	require.NoError(t, err)
	eventuallyStatus(t, statusOf(p.callee), models.CallRinging)

	require.NoError(t, p.callee.Reject(ctx))
	s, _ := p.callee.Current()
	assert.Equal(t, models.CallRejected, s.Status)
	assert.Zero(t, p.calleePeers.Count())

	eventuallyStatus(t, statusOf(p.caller), models.CallEnded)
	s, _ = p.caller.Current()
	assert.Equal(t, ReasonRemoteRejected, s.EndReason)
	assert.Equal(t, 1, p.callerPeers.Last().Closes())

	doc, err := p.store.GetCall(ctx, session.CallID)
	require.NoError(t, err)
	assert.Equal(t, models.CallRejected, doc.Status)

	_, err = p.caller.Initiate(ctx, "B")
	assert.NoError(t, err)
}

func TestTeardownIsIdempotent(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	_, err := p.caller.Initiate(ctx, "B")
	require.NoError(t, err)
	call := p.caller.current()
	require.NotNil(t, call)

	require.NoError(t, p.caller.HangUp(ctx))
	assert.NotPanics(t, func() {
		p.caller.teardown(call)
		p.caller.teardown(call)
	})
	assert.Equal(t, 1, p.callerPeers.Last().Closes())
	assert.ErrorIs(t, p.caller.HangUp(ctx), ErrNoActiveCall)
	assert.False(t, p.caller.transition(call, models.CallConnected, ""))
}

func TestInitiateMediaFailureLeavesNothingBehind(t *testing.T) {
	p := newPair(t)
	p.callerMedia.err = errors.New("camera busy")

	_, err := p.caller.Initiate(context.Background(), "B")
	var mediaErr *MediaAccessError
	require.ErrorAs(t, err, &mediaErr)

	assert.False(t, p.caller.Active())
	assert.Zero(t, p.callerPeers.Count())
	s, _ := p.caller.Current()
	assert.Equal(t, ReasonMediaUnavailable, s.EndReason)

	p.callerMedia.err = nil
	_, err = p.caller.Initiate(context.Background(), "B")
	assert.NoError(t, err)
}

func TestAcceptMediaFailureKeepsRinging(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	_, err := p.caller.Initiate(ctx, "B")
	require.NoError(t, err)
	eventuallyStatus(t, statusOf(p.callee), models.CallRinging)

	p.calleeMedia.err = errors.New("permission denied")
	_, err = p.callee.Accept(ctx)
	var mediaErr *MediaAccessError
	require.ErrorAs(t, err, &mediaErr)

	s, _ := p.callee.Current()
	assert.Equal(t, models.CallRinging, s.Status)
	assert.Zero(t, p.calleePeers.Count())

	require.NoError(t, p.callee.Reject(ctx))
	eventuallyStatus(t, statusOf(p.caller), models.CallEnded)
}

func TestAnswerRedeliveryAppliedOnce(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	session, err := p.caller.Initiate(ctx, "B")
	require.NoError(t, err)
	eventuallyStatus(t, statusOf(p.callee), models.CallRinging)
	_, err = p.callee.Accept(ctx)
	require.NoError(t, err)
	eventuallyStatus(t, statusOf(p.caller), models.CallConnected)

	accepted := models.CallAccepted
	answer := models.SessionDescription{Type: "answer", SDP: "answer-from-B"}
	require.NoError(t, p.store.UpdateCall(ctx, session.CallID, models.CallUpdate{Answer: &answer, Status: &accepted}))
	require.NoError(t, p.store.UpdateCall(ctx, session.CallID, models.CallUpdate{Answer: &answer}))

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, p.callerPeers.Last().Remote(), 1)
	assert.Equal(t, models.CallConnected, statusOf(p.caller)())
}

func TestBusyCalleeDeclinesSecondCall(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	first, err := p.caller.Initiate(ctx, "B")
	require.NoError(t, err)
	eventuallyStatus(t, statusOf(p.callee), models.CallRinging)

	other := NewCaller("C", p.store, &fakeMedia{}, &fakePeers{name: "C"})
	second, err := other.Initiate(ctx, "B")
	require.NoError(t, err)

	eventuallyStatus(t, statusOf(other), models.CallEnded)
	s, _ := other.Current()
	assert.Equal(t, ReasonRemoteRejected, s.EndReason)

	doc, err := p.store.GetCall(ctx, second.CallID)
	require.NoError(t, err)
	assert.Equal(t, models.CallRejected, doc.Status)

	current, _ := p.callee.Current()
	assert.Equal(t, first.CallID, current.CallID)
	assert.Equal(t, models.CallRinging, current.Status)
}

func TestConnectionFailureEndsBothSides(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	_, err := p.caller.Initiate(ctx, "B")
	require.NoError(t, err)
	eventuallyStatus(t, statusOf(p.callee), models.CallRinging)
	_, err = p.callee.Accept(ctx)
	require.NoError(t, err)

	p.calleePeers.Last().setState(ConnectionFailed)

	s, _ := p.callee.Current()
	assert.Equal(t, models.CallEnded, s.Status)
	assert.Equal(t, ReasonConnectionFailed, s.EndReason)
	eventuallyStatus(t, statusOf(p.caller), models.CallEnded)
}

func TestRemoteCandidatesWaitForRemoteDescription(t *testing.T) {
	p := newPair(t)
	ctx := context.Background()

	session, err := p.caller.Initiate(ctx, "B")
	require.NoError(t, err)

	require.NoError(t, p.store.AppendCandidate(ctx, session.CallID, signaling.AnswerCandidates, models.Candidate{Candidate: "early"}))
	assert.Eventually(t, func() bool {
		s, _ := p.caller.Current()
		return len(s.PendingRemoteCandidates) == 1
	}, waitFor, tick)
	assert.Empty(t, p.callerPeers.Last().Applied())

	eventuallyStatus(t, statusOf(p.callee), models.CallRinging)
	_, err = p.callee.Accept(ctx)
	require.NoError(t, err)

	eventuallyStatus(t, statusOf(p.caller), models.CallConnected)
	assert.Eventually(t, func() bool { return len(p.callerPeers.Last().Applied()) == 2 }, waitFor, tick)
	s, _ := p.caller.Current()
	assert.Empty(t, s.PendingRemoteCandidates)
}

// slowCreateStore holds CreateCall after the document is written until release
// is closed.
type slowCreateStore struct {
	signaling.Store
	created chan string
	release chan struct{}
}

func (s *slowCreateStore) CreateCall(ctx context.Context, doc models.CallDocument) (models.CallDocument, error) {
	doc, err := s.Store.CreateCall(ctx, doc)
	if err != nil {
		return doc, err
	}
	s.created <- doc.CallID
	<-s.release
	return doc, nil
}

func TestHangUpDuringCreateEndsRemoteDocument(t *testing.T) {
	ctx := context.Background()
	store := &slowCreateStore{
		Store:   signaling.NewMemoryStore(),
		created: make(chan string, 1),
		release: make(chan struct{}),
	}
	media := &fakeMedia{}
	caller := NewCaller("A", store, media, &fakePeers{name: "A"})

	done := make(chan error, 1)
	go func() {
		_, err := caller.Initiate(ctx, "B")
		done <- err
	}()

	var callID string
	select {
	case callID = <-store.created:
	case <-time.After(waitFor):
		t.Fatal("call document was not created")
	}
	require.NoError(t, caller.HangUp(ctx))
	close(store.release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNoActiveCall)
	case <-time.After(waitFor):
		t.Fatal("initiate did not return")
	}

	doc, err := store.GetCall(ctx, callID)
	require.NoError(t, err)
	assert.Equal(t, models.CallEnded, doc.Status)
	assert.False(t, caller.Active())
	for _, track := range media.Tracks() {
		assert.Equal(t, 1, track.Stops())
	}
}
