package signaling

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"chat-client/internal/feed"
	"chat-client/internal/models"
)

type memoryCall struct {
	doc        models.CallDocument
	candidates map[CandidateSide][]models.Candidate
	docSubs    *feed.Set[models.CallDocument]
	candSubs   map[CandidateSide]*feed.Set[models.Candidate]
}

// MemoryStore is a process-local Store. Two engines sharing one MemoryStore
// behave like two clients sharing a remote backend.
type MemoryStore struct {
	mu       sync.Mutex
	calls    map[string]*memoryCall
	incoming map[string]*feed.Set[models.CallDocument]
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		calls:    make(map[string]*memoryCall),
		incoming: make(map[string]*feed.Set[models.CallDocument]),
	}
}

func (s *MemoryStore) CreateCall(ctx context.Context, doc models.CallDocument) (models.CallDocument, error) {
	if doc.CallID == "" {
		doc.CallID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.calls[doc.CallID]; exists {
		return models.CallDocument{}, fmt.Errorf("call %s already exists", doc.CallID)
	}
	call := &memoryCall{
		doc:        cloneDoc(doc),
		candidates: make(map[CandidateSide][]models.Candidate),
		docSubs:    feed.NewSet[models.CallDocument](),
		candSubs: map[CandidateSide]*feed.Set[models.Candidate]{
			OfferCandidates:  feed.NewSet[models.Candidate](),
			AnswerCandidates: feed.NewSet[models.Candidate](),
		},
	}
	s.calls[doc.CallID] = call
	if set, ok := s.incoming[doc.ReceiverID]; ok {
		set.Publish(cloneDoc(call.doc))
	}
	return cloneDoc(call.doc), nil
}

func (s *MemoryStore) GetCall(ctx context.Context, callID string) (models.CallDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return models.CallDocument{}, ErrCallNotFound
	}
	return cloneDoc(call.doc), nil
}

func (s *MemoryStore) UpdateCall(ctx context.Context, callID string, update models.CallUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return ErrCallNotFound
	}
	applyUpdate(&call.doc, update)
	call.docSubs.Publish(cloneDoc(call.doc))
	return nil
}

func (s *MemoryStore) AppendCandidate(ctx context.Context, callID string, side CandidateSide, c models.Candidate) error {
	if !side.Valid() {
		return fmt.Errorf("unknown candidate side %q", side)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return ErrCallNotFound
	}
	call.candidates[side] = append(call.candidates[side], c)
	call.candSubs[side].Publish(c)
	return nil
}

func (s *MemoryStore) WatchCall(ctx context.Context, callID string) (*feed.Subscription[models.CallDocument], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	sub := call.docSubs.Add()
	sub.Publish(cloneDoc(call.doc))
	cancelOnDone(ctx, sub, sub.Done())
	return sub, nil
}

func (s *MemoryStore) WatchCandidates(ctx context.Context, callID string, side CandidateSide) (*feed.Subscription[models.Candidate], error) {
	if !side.Valid() {
		return nil, fmt.Errorf("unknown candidate side %q", side)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	sub := call.candSubs[side].Add()
	for _, c := range call.candidates[side] {
		sub.Publish(c)
	}
	cancelOnDone(ctx, sub, sub.Done())
	return sub, nil
}

func (s *MemoryStore) WatchIncoming(ctx context.Context, receiverID string) (*feed.Subscription[models.CallDocument], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.incoming[receiverID]
	if !ok {
		set = feed.NewSet[models.CallDocument]()
		s.incoming[receiverID] = set
	}
	sub := set.Add()
	cancelOnDone(ctx, sub, sub.Done())
	return sub, nil
}

// Watchers reports the number of live document and candidate subscriptions
// for callID.
func (s *MemoryStore) Watchers(callID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return 0
	}
	n := call.docSubs.Len()
	for _, set := range call.candSubs {
		n += set.Len()
	}
	return n
}
