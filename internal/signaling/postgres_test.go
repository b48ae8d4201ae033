package signaling

import (
	"context"
	"database/sql"
	"os"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-client/internal/db"
	"chat-client/internal/feed"
	"chat-client/internal/models"
)

var (
	selectCall       = regexp.QuoteMeta(`SELECT id, caller_id, receiver_id, status, offer::text AS offer, answer::text AS answer FROM calls WHERE id=$1`)
	selectCandidates = regexp.QuoteMeta(`SELECT id, candidate FROM call_candidates WHERE call_id=$1 AND side=$2 AND id > $3 ORDER BY id ASC`)
	callColumns      = []string{"id", "caller_id", "receiver_id", "status", "offer", "answer"}
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return newPostgresStore(sqlx.NewDb(conn, "postgres")), mock
}

func callRows(status, answer interface{}) *sqlmock.Rows {
	return sqlmock.NewRows(callColumns).AddRow("c1", "A", "B", status, `{"type":"offer","sdp":"o"}`, answer)
}

func candidateRows(ids ...int64) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "candidate"})
	for _, id := range ids {
		rows.AddRow(id, []byte(`{"candidate":"cand-`+strconv.FormatInt(id, 10)+`"}`))
	}
	return rows
}

func assertNothing[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected value %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCallRowDocument(t *testing.T) {
	row := callRow{ID: "c1", CallerID: "A", ReceiverID: "B", Status: "accepted",
		Offer:  sql.NullString{String: `{"type":"offer","sdp":"o"}`, Valid: true},
		Answer: sql.NullString{String: `{"type":"answer","sdp":"a"}`, Valid: true},
	}
	doc, err := row.document()
	require.NoError(t, err)
	assert.Equal(t, "c1", doc.CallID)
	assert.Equal(t, models.CallAccepted, doc.Status)
	require.NotNil(t, doc.Offer)
	assert.Equal(t, "o", doc.Offer.SDP)
	require.NotNil(t, doc.Answer)
	assert.Equal(t, "answer", doc.Answer.Type)

	doc, err = callRow{ID: "c2", Status: "ringing"}.document()
	require.NoError(t, err)
	assert.Nil(t, doc.Offer)
	assert.Nil(t, doc.Answer)

	_, err = callRow{ID: "c3", Answer: sql.NullString{String: "{", Valid: true}}.document()
	assert.Error(t, err)
}

func TestCandidateWatchDeliversEachRowOnce(t *testing.T) {
	w := &candidateWatch{sub: feed.New[models.Candidate](nil)}
	defer w.sub.Cancel()

	w.deliver(2, models.Candidate{Candidate: "two"})
	w.deliver(1, models.Candidate{Candidate: "one"})
	w.deliver(2, models.Candidate{Candidate: "two again"})
	w.deliver(3, models.Candidate{Candidate: "three"})

	assert.Equal(t, "two", recv(t, w.sub.C()).Candidate)
	assert.Equal(t, "three", recv(t, w.sub.C()).Candidate)
	assertNothing(t, w.sub.C())
}

func TestCreatedNoticeReachesReceiverOnly(t *testing.T) {
	store, mock := newMockStore(t)
	sub, err := store.WatchIncoming(context.Background(), "B")
	require.NoError(t, err)
	defer sub.Cancel()

	mock.ExpectQuery(selectCall).WithArgs("c1").WillReturnRows(callRows("ringing", nil))

	store.handle(&pq.Notification{Extra: `{"kind":"created","call_id":"c9","receiver_id":"Z"}`})
	store.handle(&pq.Notification{Extra: `{"kind":"created","call_id":"c1","receiver_id":"B"}`})

	doc := recv(t, sub.C())
	assert.Equal(t, "c1", doc.CallID)
	assert.Equal(t, models.CallRinging, doc.Status)
	require.NotNil(t, doc.Offer)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdatedNoticeRefreshesWatchedDocument(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(selectCall).WithArgs("c1").WillReturnRows(callRows("ringing", nil))
	mock.ExpectQuery(selectCall).WithArgs("c1").WillReturnRows(callRows("accepted", `{"type":"answer","sdp":"a"}`))

	sub, err := store.WatchCall(context.Background(), "c1")
	require.NoError(t, err)
	defer sub.Cancel()
	assert.Equal(t, models.CallRinging, recv(t, sub.C()).Status)

	store.handle(&pq.Notification{Extra: `{"kind":"updated","call_id":"c1"}`})
	store.handle(&pq.Notification{Extra: `{"kind":"updated","call_id":"unwatched"}`})
	store.handle(&pq.Notification{Extra: `not json`})

	doc := recv(t, sub.C())
	assert.Equal(t, models.CallAccepted, doc.Status)
	require.NotNil(t, doc.Answer)
	assert.Equal(t, "a", doc.Answer.SDP)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCandidateNoticeDeliversRowsAfterBacklog(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(selectCandidates).WithArgs("c1", string(OfferCandidates), int64(0)).WillReturnRows(candidateRows(1, 2))
	// a row committed during the backlog read shows up again on the notice path
	mock.ExpectQuery(selectCandidates).WithArgs("c1", string(OfferCandidates), int64(2)).WillReturnRows(candidateRows(2, 3))

	sub, err := store.WatchCandidates(context.Background(), "c1", OfferCandidates)
	require.NoError(t, err)
	defer sub.Cancel()

	store.handle(&pq.Notification{Extra: `{"kind":"candidate","call_id":"c1","side":"offerCandidates","id":3}`})
	store.handle(&pq.Notification{Extra: `{"kind":"candidate","call_id":"c1","side":"answerCandidates","id":4}`})

	assert.Equal(t, "cand-1", recv(t, sub.C()).Candidate)
	assert.Equal(t, "cand-2", recv(t, sub.C()).Candidate)
	assert.Equal(t, "cand-3", recv(t, sub.C()).Candidate)
	assertNothing(t, sub.C())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconnectReplaysWatchedState(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(selectCall).WithArgs("c1").WillReturnRows(callRows("ringing", nil))
	mock.ExpectQuery(selectCandidates).WithArgs("c1", string(AnswerCandidates), int64(0)).WillReturnRows(candidateRows())

	docs, err := store.WatchCall(context.Background(), "c1")
	require.NoError(t, err)
	defer docs.Cancel()
	recv(t, docs.C())
	cands, err := store.WatchCandidates(context.Background(), "c1", AnswerCandidates)
	require.NoError(t, err)
	defer cands.Cancel()

	mock.ExpectQuery(selectCall).WithArgs("c1").WillReturnRows(callRows("ended", nil))
	mock.ExpectQuery(selectCandidates).WithArgs("c1", string(AnswerCandidates), int64(0)).WillReturnRows(candidateRows(1))

	store.handle(nil)

	assert.Equal(t, models.CallEnded, recv(t, docs.C()).Status)
	assert.Equal(t, "cand-1", recv(t, cands.C()).Candidate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCloseCancelsWatchers(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(selectCall).WithArgs("c1").WillReturnRows(callRows("ringing", nil))
	mock.ExpectQuery(selectCandidates).WithArgs("c1", string(OfferCandidates), int64(0)).WillReturnRows(candidateRows())

	docs, err := store.WatchCall(context.Background(), "c1")
	require.NoError(t, err)
	cands, err := store.WatchCandidates(context.Background(), "c1", OfferCandidates)
	require.NoError(t, err)
	incoming, err := store.WatchIncoming(context.Background(), "B")
	require.NoError(t, err)

	require.NoError(t, store.Close())

	for _, done := range []<-chan struct{}{docs.Done(), cands.Done(), incoming.Done()} {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("watcher was not cancelled")
		}
	}
	assert.Empty(t, store.candidateWatches(candidateKey{callID: "c1", side: OfferCandidates}))
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("SIGNALING_TEST_DSN")
	if dsn == "" {
		t.Skip("SIGNALING_TEST_DSN not set")
	}
	database, err := db.Connect(dsn)
	require.NoError(t, err)
	defer database.Close()

	store, err := NewPostgresStore(database, dsn)
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	receiver := "recv-" + time.Now().Format("150405.000000")
	incoming, err := store.WatchIncoming(ctx, receiver)
	require.NoError(t, err)
	defer incoming.Cancel()

	created, err := store.CreateCall(ctx, models.CallDocument{
		Offer:      &models.SessionDescription{Type: "offer", SDP: "o"},
		Status:     models.CallRinging,
		CallerID:   "A",
		ReceiverID: receiver,
	})
	require.NoError(t, err)
	assert.Equal(t, created.CallID, recv(t, incoming.C()).CallID)

	docs, err := store.WatchCall(ctx, created.CallID)
	require.NoError(t, err)
	defer docs.Cancel()
	assert.Equal(t, models.CallRinging, recv(t, docs.C()).Status)

	require.NoError(t, store.AppendCandidate(ctx, created.CallID, OfferCandidates, models.Candidate{Candidate: "first"}))
	cands, err := store.WatchCandidates(ctx, created.CallID, OfferCandidates)
	require.NoError(t, err)
	defer cands.Cancel()
	assert.Equal(t, "first", recv(t, cands.C()).Candidate)
	require.NoError(t, store.AppendCandidate(ctx, created.CallID, OfferCandidates, models.Candidate{Candidate: "second"}))
	assert.Equal(t, "second", recv(t, cands.C()).Candidate)

	accepted := models.CallAccepted
	require.NoError(t, store.UpdateCall(ctx, created.CallID, models.CallUpdate{Status: &accepted, Answer: &models.SessionDescription{Type: "answer", SDP: "a"}}))
	doc := recv(t, docs.C())
	assert.Equal(t, models.CallAccepted, doc.Status)
	require.NotNil(t, doc.Answer)

	assert.ErrorIs(t, store.UpdateCall(ctx, "missing", models.CallUpdate{Status: &accepted}), ErrCallNotFound)
	assert.ErrorIs(t, store.AppendCandidate(ctx, "missing", OfferCandidates, models.Candidate{Candidate: "x"}), ErrCallNotFound)
}
