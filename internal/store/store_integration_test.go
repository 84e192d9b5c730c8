//go:build integration

package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hemantsathish/conversation-insights-backend/internal/domain"
)

// newIntegrationStore spins up a throwaway Postgres container, applies the
// migrations under db/migrations, and returns a Store backed by it. Run with
// `go test -tags=integration ./internal/store/...`; requires a working
// Docker daemon.
func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "insights",
			"POSTGRES_PASSWORD": "insights",
			"POSTGRES_DB":       "conversation_insights",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://insights:insights@%s:%s/conversation_insights?sslmode=disable", host, port.Port())
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.Eventually(t, func() bool { return db.Ping() == nil }, 30*time.Second, 500*time.Millisecond)
	applyMigrations(t, db)

	st, err := New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func applyMigrations(t *testing.T, db *sql.DB) {
	t.Helper()
	dir := filepath.Join("..", "..", "db", "migrations", "000001_init.up.sql")
	data, err := os.ReadFile(dir)
	require.NoError(t, err)
	_, err = db.Exec(string(data))
	require.NoError(t, err)
}

func TestIntegrationUpsertAndLoadThreadRoundTrips(t *testing.T) {
	st := newIntegrationStore(t)
	ctx := context.Background()

	ts := time.Now().UTC()
	conv, err := st.UpsertConversation(ctx, "root-1", []domain.Message{
		{ExternalID: "root-1", AuthorID: "user", Text: "hello", Timestamp: &ts},
		{ExternalID: "reply-1", AuthorID: "agent", Text: "hi there", ReplyParentID: "root-1", Timestamp: &ts},
	})
	require.NoError(t, err)
	require.Equal(t, "root-1", conv.RootExternalID)

	thread, err := st.LoadThread(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, thread, 2)
	require.Equal(t, "hello", thread[0].Text)
}

func TestIntegrationInsertInsightAndListFilters(t *testing.T) {
	st := newIntegrationStore(t)
	ctx := context.Background()

	conv, err := st.UpsertConversation(ctx, "root-2", []domain.Message{
		{ExternalID: "root-2", AuthorID: "user", Text: "my order is late"},
	})
	require.NoError(t, err)

	sentiment := "negative"
	err = st.InsertInsight(ctx, &domain.Insight{
		ID:             domain.NewConversationID(),
		ConversationID: conv.ID,
		RawOutput:      map[string]any{"sentiment": sentiment},
		Sentiment:      &sentiment,
		Topics:         []string{"shipping"},
		CreatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)

	items, err := st.ListInsights(ctx, InsightFilter{Sentiment: "negative", Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, conv.ID, items[0].ConversationID)

	total, err := st.CountInsights(ctx, InsightFilter{Sentiment: "negative"})
	require.NoError(t, err)
	require.Equal(t, 1, total)
}
