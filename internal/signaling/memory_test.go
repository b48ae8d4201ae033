package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/models"
)

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed")
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

func TestMemoryStoreCreateAssignsID(t *testing.T) {
	store := NewMemoryStore()
	doc, err := store.CreateCall(context.Background(), models.CallDocument{CallerID: "a", ReceiverID: "b", Status: models.CallRinging})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.CallID)

	got, err := store.GetCall(context.Background(), doc.CallID)
	require.NoError(t, err)
	assert.Equal(t, doc, got)

	_, err = store.GetCall(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrCallNotFound)
}

func TestMemoryStoreWatchCallDeliversSnapshotThenUpdates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	doc, err := store.CreateCall(ctx, models.CallDocument{CallID: "c1", Status: models.CallRinging})
	require.NoError(t, err)

	sub, err := store.WatchCall(ctx, doc.CallID)
	require.NoError(t, err)
	defer sub.Cancel()

	assert.Equal(t, models.CallRinging, recv(t, sub.C()).Status)

	accepted := models.CallAccepted
	answer := &models.SessionDescription{Type: "answer", SDP: "v=0"}
	require.NoError(t, store.UpdateCall(ctx, "c1", models.CallUpdate{Answer: answer, Status: &accepted}))

	got := recv(t, sub.C())
	assert.Equal(t, models.CallAccepted, got.Status)
	require.NotNil(t, got.Answer)
	assert.Equal(t, "v=0", got.Answer.SDP)
}

func TestMemoryStoreCandidatesReplayBacklog(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.CreateCall(ctx, models.CallDocument{CallID: "c1"})
	require.NoError(t, err)

	require.NoError(t, store.AppendCandidate(ctx, "c1", OfferCandidates, models.Candidate{Candidate: "one"}))

	sub, err := store.WatchCandidates(ctx, "c1", OfferCandidates)
	require.NoError(t, err)
	defer sub.Cancel()

	require.NoError(t, store.AppendCandidate(ctx, "c1", OfferCandidates, models.Candidate{Candidate: "two"}))
	require.NoError(t, store.AppendCandidate(ctx, "c1", AnswerCandidates, models.Candidate{Candidate: "other"}))

	assert.Equal(t, "one", recv(t, sub.C()).Candidate)
	assert.Equal(t, "two", recv(t, sub.C()).Candidate)
	select {
	case c := <-sub.C():
		t.Fatalf("unexpected candidate %q", c.Candidate)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMemoryStoreRejectsUnknownSide(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.CreateCall(context.Background(), models.CallDocument{CallID: "c1"})
	require.NoError(t, err)

	assert.Error(t, store.AppendCandidate(context.Background(), "c1", CandidateSide("bogus"), models.Candidate{}))
	assert.ErrorIs(t, store.AppendCandidate(context.Background(), "nope", OfferCandidates, models.Candidate{}), ErrCallNotFound)
}

func TestMemoryStoreWatchIncomingOnlyNewCallsForReceiver(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.CreateCall(ctx, models.CallDocument{CallID: "old", ReceiverID: "bob"})
	require.NoError(t, err)

	sub, err := store.WatchIncoming(ctx, "bob")
	require.NoError(t, err)
	defer sub.Cancel()

	_, err = store.CreateCall(ctx, models.CallDocument{CallID: "other", ReceiverID: "carol"})
	require.NoError(t, err)
	_, err = store.CreateCall(ctx, models.CallDocument{CallID: "new", ReceiverID: "bob"})
	require.NoError(t, err)

	assert.Equal(t, "new", recv(t, sub.C()).CallID)
}

func TestMemoryStoreContextCancelStopsWatch(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.CreateCall(context.Background(), models.CallDocument{CallID: "c1"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := store.WatchCall(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.Watchers("c1"))

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not cancelled")
	}
	assert.Eventually(t, func() bool { return store.Watchers("c1") == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemoryStoreDocumentsAreCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	offer := &models.SessionDescription{Type: "offer", SDP: "a"}
	_, err := store.CreateCall(ctx, models.CallDocument{CallID: "c1", Offer: offer})
	require.NoError(t, err)

	offer.SDP = "mutated"
	got, err := store.GetCall(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Offer.SDP)
}
