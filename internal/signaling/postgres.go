package signaling

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"chat-client/internal/feed"
	"chat-client/internal/models"
)

// NotifyChannel is the Postgres channel carrying call change notices.
const NotifyChannel = "call_events"

type notice struct {
	Kind       string        `json:"kind"`
	CallID     string        `json:"call_id"`
	ReceiverID string        `json:"receiver_id,omitempty"`
	Side       CandidateSide `json:"side,omitempty"`
	ID         int64         `json:"id,omitempty"`
}

const (
	noticeCreated   = "created"
	noticeUpdated   = "updated"
	noticeCandidate = "candidate"
)

type callRow struct {
	ID         string         `db:"id"`
	CallerID   string         `db:"caller_id"`
	ReceiverID string         `db:"receiver_id"`
	Status     string         `db:"status"`
	Offer      sql.NullString `db:"offer"`
	Answer     sql.NullString `db:"answer"`
}

func (r callRow) document() (models.CallDocument, error) {
	doc := models.CallDocument{
		CallID:     r.ID,
		CallerID:   r.CallerID,
		ReceiverID: r.ReceiverID,
		Status:     models.CallStatus(r.Status),
	}
	if r.Offer.Valid {
		var offer models.SessionDescription
		if err := json.Unmarshal([]byte(r.Offer.String), &offer); err != nil {
			return doc, fmt.Errorf("decode offer: %w", err)
		}
		doc.Offer = &offer
	}
	if r.Answer.Valid {
		var answer models.SessionDescription
		if err := json.Unmarshal([]byte(r.Answer.String), &answer); err != nil {
			return doc, fmt.Errorf("decode answer: %w", err)
		}
		doc.Answer = &answer
	}
	return doc, nil
}

type candidateRow struct {
	ID        int64  `db:"id"`
	Candidate []byte `db:"candidate"`
}

type candidateKey struct {
	callID string
	side   CandidateSide
}

type candidateWatch struct {
	sub    *feed.Subscription[models.Candidate]
	mu     sync.Mutex
	lastID int64
}

// deliver publishes c unless a row with this id was already delivered.
func (w *candidateWatch) deliver(id int64, c models.Candidate) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id <= w.lastID {
		return
	}
	w.lastID = id
	w.sub.Publish(c)
}

// PostgresStore keeps call documents in Postgres and fans changes out through
// LISTEN/NOTIFY.
type PostgresStore struct {
	db       *sqlx.DB
	listener *pq.Listener

	mu         sync.Mutex
	docs       map[string]*feed.Set[models.CallDocument]
	candidates map[candidateKey]map[*candidateWatch]struct{}
	incoming   map[string]*feed.Set[models.CallDocument]

	done chan struct{}
	wg   sync.WaitGroup
}

// NewPostgresStore starts listening on NotifyChannel using dsn for the
// dedicated listener connection.
func NewPostgresStore(db *sqlx.DB, dsn string) (*PostgresStore, error) {
	listener := pq.NewListener(dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("signaling listener event=%d: %v", ev, err)
		}
	})
	if err := listener.Listen(NotifyChannel); err != nil {
		_ = listener.Close()
		return nil, models.NewTransportError("listen", err)
	}

	s := newPostgresStore(db)
	s.listener = listener
	s.wg.Add(1)
	go s.run()
	return s, nil
}

func newPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{
		db:         db,
		docs:       make(map[string]*feed.Set[models.CallDocument]),
		candidates: make(map[candidateKey]map[*candidateWatch]struct{}),
		incoming:   make(map[string]*feed.Set[models.CallDocument]),
		done:       make(chan struct{}),
	}
}

// Close stops the listener and cancels every watcher.
func (s *PostgresStore) Close() error {
	close(s.done)
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	s.wg.Wait()

	s.mu.Lock()
	docs := make([]*feed.Set[models.CallDocument], 0, len(s.docs)+len(s.incoming))
	for _, set := range s.docs {
		docs = append(docs, set)
	}
	for _, set := range s.incoming {
		docs = append(docs, set)
	}
	var watches []*candidateWatch
	for _, set := range s.candidates {
		for w := range set {
			watches = append(watches, w)
		}
	}
	s.mu.Unlock()

	for _, set := range docs {
		set.CancelAll()
	}
	for _, w := range watches {
		w.sub.Cancel()
	}
	return err
}

func (s *PostgresStore) CreateCall(ctx context.Context, doc models.CallDocument) (models.CallDocument, error) {
	if doc.CallID == "" {
		doc.CallID = uuid.NewString()
	}
	offer, err := marshalNullable(doc.Offer)
	if err != nil {
		return models.CallDocument{}, err
	}
	answer, err := marshalNullable(doc.Answer)
	if err != nil {
		return models.CallDocument{}, err
	}

	err = s.withNotice(ctx, notice{Kind: noticeCreated, CallID: doc.CallID, ReceiverID: doc.ReceiverID}, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO calls (id, caller_id, receiver_id, status, offer, answer) VALUES ($1, $2, $3, $4, $5, $6)`,
			doc.CallID, doc.CallerID, doc.ReceiverID, string(doc.Status), offer, answer)
		return err
	})
	if err != nil {
		return models.CallDocument{}, err
	}
	return cloneDoc(doc), nil
}

func (s *PostgresStore) GetCall(ctx context.Context, callID string) (models.CallDocument, error) {
	var row callRow
	err := s.db.GetContext(ctx, &row, `SELECT id, caller_id, receiver_id, status, offer::text AS offer, answer::text AS answer FROM calls WHERE id=$1`, callID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CallDocument{}, ErrCallNotFound
	}
	if err != nil {
		return models.CallDocument{}, models.NewTransportError("get call", err)
	}
	return row.document()
}

func (s *PostgresStore) UpdateCall(ctx context.Context, callID string, update models.CallUpdate) error {
	answer, err := marshalNullable(update.Answer)
	if err != nil {
		return err
	}
	var status sql.NullString
	if update.Status != nil {
		status = sql.NullString{String: string(*update.Status), Valid: true}
	}

	return s.withNotice(ctx, notice{Kind: noticeUpdated, CallID: callID}, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE calls SET answer = COALESCE($2::jsonb, answer), status = COALESCE($3, status), updated_at = NOW() WHERE id=$1`,
			callID, answer, status)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrCallNotFound
		}
		return nil
	})
}

func (s *PostgresStore) AppendCandidate(ctx context.Context, callID string, side CandidateSide, c models.Candidate) error {
	if !side.Valid() {
		return fmt.Errorf("unknown candidate side %q", side)
	}
	body, err := json.Marshal(c)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.NewTransportError("append candidate", err)
	}
	defer tx.Rollback()

	var id int64
	if err := tx.QueryRowxContext(ctx, `INSERT INTO call_candidates (call_id, side, candidate) VALUES ($1, $2, $3) RETURNING id`, callID, string(side), string(body)).Scan(&id); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return ErrCallNotFound
		}
		return models.NewTransportError("append candidate", err)
	}
	if err := notify(ctx, tx, notice{Kind: noticeCandidate, CallID: callID, Side: side, ID: id}); err != nil {
		return models.NewTransportError("append candidate", err)
	}
	if err := tx.Commit(); err != nil {
		return models.NewTransportError("append candidate", err)
	}
	return nil
}

func (s *PostgresStore) WatchCall(ctx context.Context, callID string) (*feed.Subscription[models.CallDocument], error) {
	doc, err := s.GetCall(ctx, callID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	set, ok := s.docs[callID]
	if !ok {
		set = feed.NewSet[models.CallDocument]()
		s.docs[callID] = set
	}
	sub := set.Add()
	s.mu.Unlock()

	sub.Publish(doc)
	cancelOnDone(ctx, sub, sub.Done())
	return sub, nil
}

func (s *PostgresStore) WatchCandidates(ctx context.Context, callID string, side CandidateSide) (*feed.Subscription[models.Candidate], error) {
	if !side.Valid() {
		return nil, fmt.Errorf("unknown candidate side %q", side)
	}
	key := candidateKey{callID: callID, side: side}

	w := &candidateWatch{}
	w.sub = feed.New[models.Candidate](func() {
		s.mu.Lock()
		delete(s.candidates[key], w)
		if len(s.candidates[key]) == 0 {
			delete(s.candidates, key)
		}
		s.mu.Unlock()
	})

	// Register before reading the backlog so rows inserted in between are
	// delivered by the notice path; deliver drops the duplicates.
	s.mu.Lock()
	if s.candidates[key] == nil {
		s.candidates[key] = make(map[*candidateWatch]struct{})
	}
	s.candidates[key][w] = struct{}{}
	s.mu.Unlock()

	if err := s.catchUp(ctx, key, w); err != nil {
		w.sub.Cancel()
		return nil, err
	}
	cancelOnDone(ctx, w.sub, w.sub.Done())
	return w.sub, nil
}

func (s *PostgresStore) WatchIncoming(ctx context.Context, receiverID string) (*feed.Subscription[models.CallDocument], error) {
	s.mu.Lock()
	set, ok := s.incoming[receiverID]
	if !ok {
		set = feed.NewSet[models.CallDocument]()
		s.incoming[receiverID] = set
	}
	sub := set.Add()
	s.mu.Unlock()

	cancelOnDone(ctx, sub, sub.Done())
	return sub, nil
}

func (s *PostgresStore) catchUp(ctx context.Context, key candidateKey, w *candidateWatch) error {
	w.mu.Lock()
	after := w.lastID
	w.mu.Unlock()

	var rows []candidateRow
	err := s.db.SelectContext(ctx, &rows, `SELECT id, candidate FROM call_candidates WHERE call_id=$1 AND side=$2 AND id > $3 ORDER BY id ASC`, key.callID, string(key.side), after)
	if err != nil {
		return models.NewTransportError("read candidates", err)
	}
	for _, row := range rows {
		var c models.Candidate
		if err := json.Unmarshal(row.Candidate, &c); err != nil {
			log.Printf("signaling candidate decode failed call_id=%s id=%d: %v", key.callID, row.ID, err)
			continue
		}
		w.deliver(row.ID, c)
	}
	return nil
}

func (s *PostgresStore) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case n, ok := <-s.listener.Notify:
			if !ok {
				return
			}
			s.handle(n)
		case <-time.After(90 * time.Second):
			go func() {
				if err := s.listener.Ping(); err != nil {
					log.Printf("signaling listener ping failed: %v", err)
				}
			}()
		}
	}
}

// handle routes one listener notification. A nil notification means the
// listener reconnected.
func (s *PostgresStore) handle(n *pq.Notification) {
	if n == nil {
		s.resync()
		return
	}
	var nt notice
	if err := json.Unmarshal([]byte(n.Extra), &nt); err != nil {
		log.Printf("signaling notice decode failed: %v", err)
		return
	}
	s.dispatch(nt)
}

func (s *PostgresStore) dispatch(nt notice) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch nt.Kind {
	case noticeCreated:
		s.mu.Lock()
		set := s.incoming[nt.ReceiverID]
		s.mu.Unlock()
		if set == nil {
			return
		}
		doc, err := s.GetCall(ctx, nt.CallID)
		if err != nil {
			log.Printf("signaling fetch call failed call_id=%s: %v", nt.CallID, err)
			return
		}
		set.Publish(doc)
	case noticeUpdated:
		s.publishDoc(ctx, nt.CallID)
	case noticeCandidate:
		key := candidateKey{callID: nt.CallID, side: nt.Side}
		for _, w := range s.candidateWatches(key) {
			if err := s.catchUp(ctx, key, w); err != nil {
				log.Printf("signaling candidate fetch failed call_id=%s: %v", nt.CallID, err)
			}
		}
	default:
		log.Printf("signaling notice ignored kind=%s", nt.Kind)
	}
}

// resync replays state after the listener reconnects, since notices sent while
// disconnected are lost.
func (s *PostgresStore) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.mu.Lock()
	callIDs := make([]string, 0, len(s.docs))
	for id := range s.docs {
		callIDs = append(callIDs, id)
	}
	keys := make([]candidateKey, 0, len(s.candidates))
	for key := range s.candidates {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, id := range callIDs {
		s.publishDoc(ctx, id)
	}
	for _, key := range keys {
		for _, w := range s.candidateWatches(key) {
			if err := s.catchUp(ctx, key, w); err != nil {
				log.Printf("signaling resync failed call_id=%s: %v", key.callID, err)
			}
		}
	}
	log.Printf("signaling listener resynced calls=%d candidate_feeds=%d", len(callIDs), len(keys))
}

func (s *PostgresStore) publishDoc(ctx context.Context, callID string) {
	s.mu.Lock()
	set := s.docs[callID]
	s.mu.Unlock()
	if set == nil || set.Len() == 0 {
		return
	}
	doc, err := s.GetCall(ctx, callID)
	if err != nil {
		log.Printf("signaling fetch call failed call_id=%s: %v", callID, err)
		return
	}
	set.Publish(doc)
}

func (s *PostgresStore) candidateWatches(key candidateKey) []*candidateWatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*candidateWatch, 0, len(s.candidates[key]))
	for w := range s.candidates[key] {
		out = append(out, w)
	}
	return out
}

func (s *PostgresStore) withNotice(ctx context.Context, nt notice, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.NewTransportError(nt.Kind, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		if errors.Is(err, ErrCallNotFound) {
			return err
		}
		return models.NewTransportError(nt.Kind, err)
	}
	if err := notify(ctx, tx, nt); err != nil {
		return models.NewTransportError(nt.Kind, err)
	}
	if err := tx.Commit(); err != nil {
		return models.NewTransportError(nt.Kind, err)
	}
	return nil
}

func notify(ctx context.Context, tx *sqlx.Tx, nt notice) error {
	payload, err := json.Marshal(nt)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, string(payload))
	return err
}

func marshalNullable(sd *models.SessionDescription) (sql.NullString, error) {
	if sd == nil {
		return sql.NullString{}, nil
	}
	body, err := json.Marshal(sd)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(body), Valid: true}, nil
}
