package media

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/models"
)

func TestSampleSourceTracks(t *testing.T) {
	tracks, err := SampleSource{Video: true}.Acquire(context.Background())
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "audio", tracks[0].Kind())
	assert.Equal(t, "video", tracks[1].Kind())

	require.NoError(t, tracks[0].Stop())
	assert.True(t, tracks[0].(*Track).Stopped())
}

func TestSampleSourceHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SampleSource{}.Acquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOfferAnswerNegotiation(t *testing.T) {
	ctx := context.Background()
	factory := NewPeerFactory(nil)

	caller, err := factory.NewPeerConnection()
	require.NoError(t, err)
	defer caller.Close()
	callee, err := factory.NewPeerConnection()
	require.NoError(t, err)
	defer callee.Close()

	callerTracks, err := SampleSource{Video: true}.Acquire(ctx)
	require.NoError(t, err)
	for _, tr := range callerTracks {
		require.NoError(t, caller.AddTrack(tr))
	}
	calleeTracks, err := SampleSource{}.Acquire(ctx)
	require.NoError(t, err)
	for _, tr := range calleeTracks {
		require.NoError(t, callee.AddTrack(tr))
	}

	offer, err := caller.CreateOffer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)
	assert.Contains(t, offer.SDP, "m=audio")
	assert.Contains(t, offer.SDP, "m=video")

	require.NoError(t, callee.SetRemoteDescription(offer))
	answer, err := callee.CreateAnswer(ctx)
	require.NoError(t, err)
	assert.Equal(t, "answer", answer.Type)

	require.NoError(t, caller.SetRemoteDescription(answer))
}

func TestSetRemoteDescriptionRejectsUnknownType(t *testing.T) {
	pc, err := NewPeerFactory([]string{" stun:stun.l.google.com:19302 ", ""}).NewPeerConnection()
	require.NoError(t, err)
	defer pc.Close()

	assert.Error(t, pc.SetRemoteDescription(models.SessionDescription{Type: "bogus", SDP: "v=0"}))
}
