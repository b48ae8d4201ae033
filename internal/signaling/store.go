// Package signaling holds the shared call documents through which two clients
// exchange SDP and ICE candidates. Every watcher first delivers the current
// state and then each change in order until cancelled.
package signaling

import (
	"context"
	"errors"

	"chat-client/internal/feed"
	"chat-client/internal/models"
)

var ErrCallNotFound = errors.New("call not found")

// CandidateSide names one of the two append-only candidate collections of a call.
type CandidateSide string

const (
	OfferCandidates  CandidateSide = "offerCandidates"
	AnswerCandidates CandidateSide = "answerCandidates"
)

// Valid reports whether s names a known collection.
func (s CandidateSide) Valid() bool {
	return s == OfferCandidates || s == AnswerCandidates
}

// Store is the signaling backend shared by caller and callee.
type Store interface {
	// CreateCall writes a new document. An empty CallID is replaced with a
	// generated one; the stored document is returned.
	CreateCall(ctx context.Context, doc models.CallDocument) (models.CallDocument, error)
	GetCall(ctx context.Context, callID string) (models.CallDocument, error)
	UpdateCall(ctx context.Context, callID string, update models.CallUpdate) error
	AppendCandidate(ctx context.Context, callID string, side CandidateSide, c models.Candidate) error

	// WatchCall delivers the current document and then every update.
	WatchCall(ctx context.Context, callID string) (*feed.Subscription[models.CallDocument], error)
	// WatchCandidates delivers every candidate of one side, existing ones first.
	WatchCandidates(ctx context.Context, callID string, side CandidateSide) (*feed.Subscription[models.Candidate], error)
	// WatchIncoming delivers calls created for receiverID after the watch starts.
	WatchIncoming(ctx context.Context, receiverID string) (*feed.Subscription[models.CallDocument], error)
}

// cancelOnDone ties a subscription to ctx.
func cancelOnDone(ctx context.Context, sub feed.Canceler, done <-chan struct{}) {
	if ctx.Done() == nil {
		return
	}
	go func() {
		select {
		case <-ctx.Done():
			sub.Cancel()
		case <-done:
		}
	}()
}

func applyUpdate(doc *models.CallDocument, update models.CallUpdate) {
	if update.Answer != nil {
		answer := *update.Answer
		doc.Answer = &answer
	}
	if update.Status != nil {
		doc.Status = *update.Status
	}
}

func cloneDoc(doc models.CallDocument) models.CallDocument {
	if doc.Offer != nil {
		offer := *doc.Offer
		doc.Offer = &offer
	}
	if doc.Answer != nil {
		answer := *doc.Answer
		doc.Answer = &answer
	}
	return doc
}
