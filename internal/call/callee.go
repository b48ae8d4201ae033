package call

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"chat-client/internal/models"
	"chat-client/internal/signaling"
)

// Callee answers incoming calls. At most one incoming call is active at a time.
type Callee struct {
	*engine
}

// NewCallee builds the incoming side of the call engine.
func NewCallee(localUserID string, store signaling.Store, media MediaSource, peers PeerFactory, opts ...Option) *Callee {
	return &Callee{engine: newEngine(models.RoleCallee, localUserID, store, media, peers, opts...)}
}

// Listen rings the callee for every call addressed to the local user until
// ctx is done.
func (c *Callee) Listen(ctx context.Context) error {
	sub, err := c.store.WatchIncoming(ctx, c.localUserID)
	if err != nil {
		return models.NewTransportError("watch incoming", err)
	}
	go func() {
		defer sub.Cancel()
		for doc := range sub.C() {
			if doc.Status != models.CallRinging {
				continue
			}
			if _, err := c.Receive(ctx, doc.CallID, doc.CallerID); err != nil {
				log.Printf("incoming call not taken call_id=%s caller_id=%s: %v", doc.CallID, doc.CallerID, err)
			}
		}
	}()
	return nil
}

// Receive registers an incoming call notice and starts ringing. While another
// incoming call is active the new one is declined as busy.
func (c *Callee) Receive(ctx context.Context, callID, callerID string) (models.CallSession, error) {
	call := newActiveCall(models.RoleCallee, callerID)
	call.session.CallID = callID
	call.docReady = true

	if err := c.claim(call); err != nil {
		if current := c.current(); current != nil && current.snapshot().CallID == callID {
			return current.snapshot(), nil
		}
		rejected := models.CallRejected
		if werr := c.store.UpdateCall(ctx, callID, models.CallUpdate{Status: &rejected}); werr != nil {
			log.Printf("busy reject write failed call_id=%s: %v", callID, werr)
		}
		return models.CallSession{}, err
	}

	if !c.transition(call, models.CallRinging, "") {
		return call.snapshot(), ErrNoActiveCall
	}
	if err := c.watchDocument(call, func(doc models.CallDocument) { c.onDocument(call, doc) }); err != nil {
		c.transition(call, models.CallEnded, ReasonSignalingFailed)
		if errors.Is(err, signaling.ErrCallNotFound) {
			return call.snapshot(), err
		}
		return call.snapshot(), models.NewTransportError("watch call", err)
	}
	return call.snapshot(), nil
}

// Accept answers the ringing call. A media failure leaves the call ringing so
// it can still be rejected.
func (c *Callee) Accept(ctx context.Context) (models.CallSession, error) {
	ctx, span := otel.Tracer("chat-client/call").Start(ctx, "call.accept")
	defer span.End()

	call := c.current()
	if call == nil {
		return models.CallSession{}, ErrNoActiveCall
	}
	session, err := c.accept(ctx, call)
	span.SetAttributes(attribute.String("call.id", session.CallID))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return session, err
}

func (c *Callee) accept(ctx context.Context, call *activeCall) (models.CallSession, error) {
	if s := call.snapshot(); s.Status != models.CallRinging {
		return s, ErrInvalidState
	}

	pc, tracks, err := c.openPeer(ctx, call)
	if err != nil {
		return call.snapshot(), err
	}
	if err := c.attach(call, pc, tracks); err != nil {
		stopTracks(tracks)
		_ = pc.Close()
		return call.snapshot(), err
	}

	callID := call.snapshot().CallID
	doc, err := c.store.GetCall(ctx, callID)
	if err != nil {
		_ = c.end(context.Background(), call, ReasonSignalingFailed, false)
		return call.snapshot(), models.NewTransportError("read offer", err)
	}
	if doc.Offer == nil {
		_ = c.end(context.Background(), call, ReasonNegotiation, true)
		return call.snapshot(), fmt.Errorf("call %s has no offer", callID)
	}
	if _, err := c.applyRemoteDescription(call, *doc.Offer); err != nil {
		_ = c.end(context.Background(), call, ReasonNegotiation, true)
		return call.snapshot(), err
	}

	answer, err := pc.CreateAnswer(ctx)
	if err != nil {
		_ = c.end(context.Background(), call, ReasonNegotiation, true)
		return call.snapshot(), err
	}

	accepted := models.CallAccepted
	if err := c.store.UpdateCall(ctx, callID, models.CallUpdate{Answer: &answer, Status: &accepted}); err != nil {
		_ = c.end(context.Background(), call, ReasonSignalingFailed, false)
		return call.snapshot(), models.NewTransportError("write answer", err)
	}
	if !c.transition(call, models.CallAccepted, "") {
		return call.snapshot(), ErrNoActiveCall
	}
	c.connectIfReady(call)

	if err := c.watchRemoteCandidates(call); err != nil {
		_ = c.end(context.Background(), call, ReasonSignalingFailed, true)
		return call.snapshot(), models.NewTransportError("watch candidates", err)
	}
	return call.snapshot(), nil
}

// Reject declines the ringing call without creating a connection.
func (c *Callee) Reject(ctx context.Context) error {
	call := c.current()
	if call == nil {
		return ErrNoActiveCall
	}
	s := call.snapshot()
	if s.Status != models.CallRinging {
		return ErrInvalidState
	}

	if !c.transition(call, models.CallRejected, ReasonLocalReject) {
		return ErrInvalidState
	}
	rejected := models.CallRejected
	if err := c.store.UpdateCall(ctx, s.CallID, models.CallUpdate{Status: &rejected}); err != nil {
		return models.NewTransportError("reject call", err)
	}
	return nil
}

func (c *Callee) onDocument(call *activeCall, doc models.CallDocument) {
	c.onRemoteStatus(call, doc.Status)
}
