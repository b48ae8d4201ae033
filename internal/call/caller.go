package call

import (
	"context"
	"errors"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"chat-client/internal/models"
	"chat-client/internal/signaling"
)

// Caller places outgoing calls. At most one outgoing call is active at a time.
type Caller struct {
	*engine
}

// NewCaller builds the outgoing side of the call engine.
func NewCaller(localUserID string, store signaling.Store, media MediaSource, peers PeerFactory, opts ...Option) *Caller {
	return &Caller{engine: newEngine(models.RoleCaller, localUserID, store, media, peers, opts...)}
}

// Initiate starts a call to peerID: it captures local media, writes the offer
// and begins exchanging candidates. The returned session is ringing.
func (c *Caller) Initiate(ctx context.Context, peerID string) (models.CallSession, error) {
	ctx, span := otel.Tracer("chat-client/call").Start(ctx, "call.initiate")
	defer span.End()
	span.SetAttributes(attribute.String("call.peer_id", peerID))

	if peerID == "" {
		return models.CallSession{}, errors.New("peer id is required")
	}

	call := newActiveCall(models.RoleCaller, peerID)
	if err := c.claim(call); err != nil {
		return models.CallSession{}, err
	}

	session, err := c.initiate(ctx, call)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return session, err
	}
	span.SetAttributes(attribute.String("call.id", session.CallID))
	return session, nil
}

func (c *Caller) initiate(ctx context.Context, call *activeCall) (models.CallSession, error) {
	pc, tracks, err := c.openPeer(ctx, call)
	if err != nil {
		reason := ReasonNegotiation
		var mediaErr *MediaAccessError
		if errors.As(err, &mediaErr) {
			reason = ReasonMediaUnavailable
		}
		c.transition(call, models.CallEnded, reason)
		return call.snapshot(), err
	}
	if err := c.attach(call, pc, tracks); err != nil {
		stopTracks(tracks)
		_ = pc.Close()
		return call.snapshot(), err
	}

	offer, err := pc.CreateOffer(ctx)
	if err != nil {
		c.transition(call, models.CallEnded, ReasonNegotiation)
		return call.snapshot(), err
	}

	doc, err := c.store.CreateCall(ctx, models.CallDocument{
		Offer:      &offer,
		Status:     models.CallRinging,
		CallerID:   c.localUserID,
		ReceiverID: call.session.PeerID,
	})
	if err != nil {
		c.transition(call, models.CallEnded, ReasonSignalingFailed)
		return call.snapshot(), models.NewTransportError("create call", err)
	}

	call.mu.Lock()
	call.session.CallID = doc.CallID
	call.mu.Unlock()

	if !c.transition(call, models.CallRinging, "") {
		// Hung up while the document was being created: the remote side
		// must not keep ringing.
		ended := models.CallEnded
		if err := c.store.UpdateCall(context.Background(), doc.CallID, models.CallUpdate{Status: &ended}); err != nil {
			log.Printf("call end write failed call_id=%s: %v", doc.CallID, err)
		}
		return call.snapshot(), ErrNoActiveCall
	}
	c.markDocReady(call)

	if err := c.watchDocument(call, func(doc models.CallDocument) { c.onDocument(call, doc) }); err != nil {
		_ = c.end(context.Background(), call, ReasonSignalingFailed, true)
		return call.snapshot(), models.NewTransportError("watch call", err)
	}
	if err := c.watchRemoteCandidates(call); err != nil {
		_ = c.end(context.Background(), call, ReasonSignalingFailed, true)
		return call.snapshot(), models.NewTransportError("watch candidates", err)
	}
	return call.snapshot(), nil
}

// onDocument reacts to changes of the call document. The first answer is
// applied once; later deliveries of the same answer are ignored.
func (c *Caller) onDocument(call *activeCall, doc models.CallDocument) {
	if c.onRemoteStatus(call, doc.Status) {
		return
	}
	if doc.Answer == nil {
		return
	}

	applied, err := c.applyRemoteDescription(call, *doc.Answer)
	if !applied {
		return
	}
	if err != nil {
		_ = c.end(context.Background(), call, ReasonNegotiation, true)
		return
	}
	c.transition(call, models.CallAccepted, "")
	c.transition(call, models.CallConnected, "")
}
