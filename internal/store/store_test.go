package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/hemantsathish/conversation-insights-backend/internal/analysiscache"
	"github.com/hemantsathish/conversation-insights-backend/internal/domain"
)

// newTestStore wires a Store against a sqlmock connection. Statement
// preparation order is map-iteration order (non-deterministic), so
// expectations run with MatchExpectationsInOrder disabled and each
// ExpectPrepare matches loosely on a keyword rather than full SQL text.
func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectPrepare(`SELECT id, root_external_id, created_at, updated_at`)
	mock.ExpectPrepare(`INSERT INTO conversations`)
	mock.ExpectPrepare(`INSERT INTO messages`)
	mock.ExpectPrepare(`SELECT id, conversation_id, author_id, text`)
	mock.ExpectPrepare(`SELECT id, conversation_id, raw_output, sentiment, topics, gaps,\s+prompt_tokens.+FROM insights\s+WHERE conversation_id`)
	mock.ExpectPrepare(`INSERT INTO insights`)
	mock.ExpectPrepare(`SELECT conversation_id FROM analysis_cache`)
	mock.ExpectPrepare(`INSERT INTO analysis_cache`)

	s, err := New(db)
	require.NoError(t, err)
	return s, mock
}

func TestUpsertConversationCreatesAndInsertsMessages(t *testing.T) {
	s, mock := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO conversations`).
		WithArgs(sqlmock.AnyArg(), "root-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(`SELECT id, root_external_id, created_at, updated_at`).
		WithArgs("root-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "root_external_id", "created_at", "updated_at"}).
			AddRow("conv-1", "root-1", now, now))

	mock.ExpectExec(`INSERT INTO messages`).
		WithArgs("msg-1", "conv-1", "author-a", "hello", driver.Value(nil), driver.Value(nil), true, sqlmock.AnyArg(), driver.Value(nil)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	conv, err := s.UpsertConversation(ctx, "root-1", []domain.Message{
		{ExternalID: "msg-1", AuthorID: "author-a", Text: "hello", Inbound: true},
	})
	require.NoError(t, err)
	require.Equal(t, "conv-1", conv.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertConversationRejectsEmptyRoot(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.UpsertConversation(context.Background(), "", nil)
	require.ErrorIs(t, err, domain.ErrNoRoot)
}

func TestLoadThreadOrdersByCreatedAt(t *testing.T) {
	s, mock := newTestStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, conversation_id, author_id, text`).
		WithArgs("conv-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "conversation_id", "author_id", "text", "reply_parent_id",
			"quoted_id", "inbound", "created_at", "created_at_raw",
		}).
			AddRow("m1", "conv-1", "a", "hi", nil, nil, true, now, nil).
			AddRow("m2", "conv-1", "b", "reply", "m1", nil, false, now.Add(time.Minute), nil))

	msgs, err := s.LoadThread(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, "m2", msgs[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCachedConversationIDNotFound(t *testing.T) {
	s, mock := newTestStore(t)

	mock.ExpectQuery(`SELECT conversation_id FROM analysis_cache`).
		WithArgs("deadbeef").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetCachedConversationID(context.Background(), "deadbeef")
	require.ErrorIs(t, err, analysiscache.ErrNotFound)
}

func TestInsertInsightThenGetRoundTrips(t *testing.T) {
	s, mock := newTestStore(t)
	now := time.Now().UTC()
	sentiment := "negative"

	mock.ExpectExec(`INSERT INTO insights`).
		WithArgs("ins-1", "conv-1", sqlmock.AnyArg(), &sentiment, sqlmock.AnyArg(),
			sqlmock.AnyArg(), driver.Value(nil), driver.Value(nil), driver.Value(nil), sqlmock.AnyArg(), driver.Value(nil)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.InsertInsight(context.Background(), &domain.Insight{
		ID:             "ins-1",
		ConversationID: "conv-1",
		RawOutput:      map[string]any{"summary": "customer unhappy"},
		Sentiment:      &sentiment,
		Topics:         []string{"billing"},
		CreatedAt:      now,
	})
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT id, conversation_id, raw_output, sentiment, topics, gaps,\s+prompt_tokens.+FROM insights\s+WHERE conversation_id`).
		WithArgs("conv-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "conversation_id", "raw_output", "sentiment", "topics", "gaps",
			"prompt_tokens", "completion_tokens", "cost_estimate", "created_at", "skipped_reason",
		}).AddRow("ins-1", "conv-1", []byte(`{"summary":"customer unhappy"}`), "negative", []byte(`["billing"]`), nil, nil, nil, nil, now, nil))

	got, err := s.GetInsightByConversation(context.Background(), "conv-1")
	require.NoError(t, err)
	require.Equal(t, "negative", *got.Sentiment)
	require.Equal(t, []string{"billing"}, got.Topics)
	require.NoError(t, mock.ExpectationsWereMet())
}
