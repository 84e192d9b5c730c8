// Package store persists conversations, messages, insights, and the
// analysis cache dedup table to Postgres via database/sql and lib/pq,
// following the prepared-statement-cache pattern used for the chat
// repository's hot paths.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/hemantsathish/conversation-insights-backend/internal/analysiscache"
	"github.com/hemantsathish/conversation-insights-backend/internal/domain"
)

// Store is the Postgres-backed persistence layer for every domain record.
type Store struct {
	db *sql.DB

	mu    sync.RWMutex
	stmts map[string]*sql.Stmt
}

// New opens prepared statements against db and tunes the connection pool
// the way every service in this codebase does for a single-tenant
// Postgres instance (no Citus sharding here, just sane pool limits).
func New(db *sql.DB) (*Store, error) {
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	s := &Store{db: db, stmts: make(map[string]*sql.Stmt)}
	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return s, nil
}

func (s *Store) prepareStatements() error {
	statements := map[string]string{
		"getConversationByRoot": `
			SELECT id, root_external_id, created_at, updated_at
			FROM conversations
			WHERE root_external_id = $1
		`,
		"insertConversation": `
			INSERT INTO conversations (id, root_external_id, created_at, updated_at)
			VALUES ($1, $2, $3, $3)
			ON CONFLICT (root_external_id) DO NOTHING
		`,
		"insertMessage": `
			INSERT INTO messages (
				id, conversation_id, author_id, text, reply_parent_id,
				quoted_id, inbound, created_at, created_at_raw
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`,
		"loadThread": `
			SELECT id, conversation_id, author_id, text, reply_parent_id,
			       quoted_id, inbound, created_at, created_at_raw
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at ASC, id ASC
		`,
		"getInsightByConversation": `
			SELECT id, conversation_id, raw_output, sentiment, topics, gaps,
			       prompt_tokens, completion_tokens, cost_estimate, created_at, skipped_reason
			FROM insights
			WHERE conversation_id = $1
		`,
		"insertInsight": `
			INSERT INTO insights (
				id, conversation_id, raw_output, sentiment, topics, gaps,
				prompt_tokens, completion_tokens, cost_estimate, created_at, skipped_reason
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (conversation_id) DO NOTHING
		`,
		"getCachedConversationID": `
			SELECT conversation_id FROM analysis_cache WHERE thread_hash = $1
		`,
		"setCache": `
			INSERT INTO analysis_cache (id, thread_hash, conversation_id, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (thread_hash) DO NOTHING
		`,
	}

	for name, query := range statements {
		stmt, err := s.db.Prepare(query)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", name, err)
		}
		s.stmts[name] = stmt
	}
	return nil
}

func (s *Store) stmt(name string) *sql.Stmt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stmts[name]
}

// Close releases every prepared statement.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range s.stmts {
		stmt.Close()
	}
	return nil
}

// UpsertConversation finds the conversation rooted at rootExternalID or
// creates one, then inserts any messages not already present by id. It
// never updates an existing message: a message row, once written, is
// immutable.
func (s *Store) UpsertConversation(ctx context.Context, rootExternalID string, messages []domain.Message) (*domain.Conversation, error) {
	if rootExternalID == "" {
		return nil, domain.ErrNoRoot
	}

	now := time.Now().UTC()
	newID := domain.NewConversationID()
	if _, err := s.stmt("insertConversation").ExecContext(ctx, newID, rootExternalID, now); err != nil {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}

	var conv domain.Conversation
	err := s.stmt("getConversationByRoot").QueryRowContext(ctx, rootExternalID).Scan(
		&conv.ID, &conv.RootExternalID, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	for _, m := range messages {
		if m.ExternalID == "" {
			continue
		}
		ts := now
		if m.Timestamp != nil {
			ts = *m.Timestamp
		}
		_, err := s.stmt("insertMessage").ExecContext(ctx,
			m.ExternalID, conv.ID, m.AuthorID, m.Text, nullIfEmpty(m.ReplyParentID),
			nullIfEmpty(m.QuotedID), m.Inbound, ts, nullIfEmpty(m.TimestampRaw),
		)
		if err != nil {
			return nil, fmt.Errorf("insert message %s: %w", m.ExternalID, err)
		}
	}

	return &conv, nil
}

// LoadThread returns every message of a conversation ordered by timestamp.
func (s *Store) LoadThread(ctx context.Context, conversationID string) ([]domain.StoredMessage, error) {
	rows, err := s.stmt("loadThread").QueryContext(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("load thread: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredMessage
	for rows.Next() {
		var m domain.StoredMessage
		var replyParentID, quotedID, timestampRaw sql.NullString
		if err := rows.Scan(
			&m.ID, &m.ConversationID, &m.AuthorID, &m.Text, &replyParentID,
			&quotedID, &m.Inbound, &m.Timestamp, &timestampRaw,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ReplyParentID = replyParentID.String
		m.QuotedID = quotedID.String
		m.TimestampRaw = timestampRaw.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetInsightByConversation returns the insight row for a conversation, or
// domain.ErrConversationNotFound if none has been written yet.
func (s *Store) GetInsightByConversation(ctx context.Context, conversationID string) (*domain.Insight, error) {
	var (
		insight                                   domain.Insight
		rawOutput                                 []byte
		sentiment, skippedReason                  sql.NullString
		topicsJSON, gapsJSON                       []byte
		promptTokens, completionTokens             sql.NullInt64
		costEstimate                               sql.NullFloat64
	)

	err := s.stmt("getInsightByConversation").QueryRowContext(ctx, conversationID).Scan(
		&insight.ID, &insight.ConversationID, &rawOutput, &sentiment, &topicsJSON, &gapsJSON,
		&promptTokens, &completionTokens, &costEstimate, &insight.CreatedAt, &skippedReason,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrConversationNotFound
		}
		return nil, fmt.Errorf("get insight: %w", err)
	}

	if len(rawOutput) > 0 {
		_ = json.Unmarshal(rawOutput, &insight.RawOutput)
	}
	if sentiment.Valid {
		v := sentiment.String
		insight.Sentiment = &v
	}
	if skippedReason.Valid {
		v := skippedReason.String
		insight.SkippedReason = &v
	}
	if len(topicsJSON) > 0 {
		_ = json.Unmarshal(topicsJSON, &insight.Topics)
	}
	if len(gapsJSON) > 0 {
		_ = json.Unmarshal(gapsJSON, &insight.Gaps)
	}
	if promptTokens.Valid {
		v := int(promptTokens.Int64)
		insight.PromptTokens = &v
	}
	if completionTokens.Valid {
		v := int(completionTokens.Int64)
		insight.CompletionTokens = &v
	}
	if costEstimate.Valid {
		v := costEstimate.Float64
		insight.CostEstimate = &v
	}

	return &insight, nil
}

// InsertInsight writes a new insight row. It is a no-op if one already
// exists for this conversation (on-conflict-do-nothing on conversation_id),
// since each conversation gets exactly one insight.
func (s *Store) InsertInsight(ctx context.Context, insight *domain.Insight) error {
	rawOutput, err := json.Marshal(insight.RawOutput)
	if err != nil {
		return fmt.Errorf("marshal raw_output: %w", err)
	}
	var topicsJSON, gapsJSON []byte
	if insight.Topics != nil {
		topicsJSON, _ = json.Marshal(insight.Topics)
	}
	if insight.Gaps != nil {
		gapsJSON, _ = json.Marshal(insight.Gaps)
	}

	createdAt := insight.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err = s.stmt("insertInsight").ExecContext(ctx,
		insight.ID, insight.ConversationID, string(rawOutput), insight.Sentiment, nullJSON(topicsJSON),
		nullJSON(gapsJSON), insight.PromptTokens, insight.CompletionTokens, insight.CostEstimate,
		createdAt, insight.SkippedReason,
	)
	if err != nil {
		return fmt.Errorf("insert insight: %w", err)
	}
	return nil
}

// GetCachedConversationID implements analysiscache.Store.
func (s *Store) GetCachedConversationID(ctx context.Context, threadHash string) (string, error) {
	var id string
	err := s.stmt("getCachedConversationID").QueryRowContext(ctx, threadHash).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", analysiscache.ErrNotFound
		}
		return "", fmt.Errorf("get cached conversation id: %w", err)
	}
	return id, nil
}

// SetCache implements analysiscache.Store.
func (s *Store) SetCache(ctx context.Context, threadHash, conversationID string) error {
	id := domain.NewConversationID()
	_, err := s.stmt("setCache").ExecContext(ctx, id, threadHash, conversationID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set cache: %w", err)
	}
	return nil
}

// InsightFilter narrows ListInsights; zero values mean "no filter" except
// Limit/Offset which always apply.
type InsightFilter struct {
	ConversationID string
	DateFrom       *time.Time
	DateTo         *time.Time
	Sentiment      string
	Topic          string
	Limit          int
	Offset         int
}

// ListInsights returns insights matching the filter, always excluding
// skipped rows, ordered newest first.
func (s *Store) ListInsights(ctx context.Context, f InsightFilter) ([]domain.Insight, error) {
	var (
		clauses []string
		args    []any
	)
	clauses = append(clauses, "skipped_reason IS NULL")

	if f.ConversationID != "" {
		args = append(args, f.ConversationID)
		clauses = append(clauses, fmt.Sprintf("conversation_id = $%d", len(args)))
	}
	if f.DateFrom != nil {
		args = append(args, *f.DateFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.DateTo != nil {
		args = append(args, *f.DateTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if f.Sentiment != "" {
		args = append(args, f.Sentiment)
		clauses = append(clauses, fmt.Sprintf("sentiment = $%d", len(args)))
	}
	if f.Topic != "" {
		args = append(args, pq.Array([]string{f.Topic}))
		clauses = append(clauses, fmt.Sprintf("topics @> to_jsonb($%d::text[])", len(args)))
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, limit)
	limitPos := len(args)
	args = append(args, offset)
	offsetPos := len(args)

	query := fmt.Sprintf(`
		SELECT id, conversation_id, raw_output, sentiment, topics, gaps,
		       prompt_tokens, completion_tokens, cost_estimate, created_at, skipped_reason
		FROM insights
		WHERE %s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, strings.Join(clauses, " AND "), limitPos, offsetPos)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list insights: %w", err)
	}
	defer rows.Close()

	var out []domain.Insight
	for rows.Next() {
		var (
			insight                         domain.Insight
			rawOutput                       []byte
			sentiment, skippedReason        sql.NullString
			topicsJSON, gapsJSON            []byte
			promptTokens, completionTokens  sql.NullInt64
			costEstimate                    sql.NullFloat64
		)
		if err := rows.Scan(
			&insight.ID, &insight.ConversationID, &rawOutput, &sentiment, &topicsJSON, &gapsJSON,
			&promptTokens, &completionTokens, &costEstimate, &insight.CreatedAt, &skippedReason,
		); err != nil {
			return nil, fmt.Errorf("scan insight: %w", err)
		}
		if len(rawOutput) > 0 {
			_ = json.Unmarshal(rawOutput, &insight.RawOutput)
		}
		if sentiment.Valid {
			v := sentiment.String
			insight.Sentiment = &v
		}
		if skippedReason.Valid {
			v := skippedReason.String
			insight.SkippedReason = &v
		}
		if len(topicsJSON) > 0 {
			_ = json.Unmarshal(topicsJSON, &insight.Topics)
		}
		if len(gapsJSON) > 0 {
			_ = json.Unmarshal(gapsJSON, &insight.Gaps)
		}
		if promptTokens.Valid {
			v := int(promptTokens.Int64)
			insight.PromptTokens = &v
		}
		if completionTokens.Valid {
			v := int(completionTokens.Int64)
			insight.CompletionTokens = &v
		}
		if costEstimate.Valid {
			v := costEstimate.Float64
			insight.CostEstimate = &v
		}
		out = append(out, insight)
	}
	return out, rows.Err()
}

// CountInsights returns the total row count matching f, ignoring its
// Limit/Offset, for pagination.
func (s *Store) CountInsights(ctx context.Context, f InsightFilter) (int, error) {
	var (
		clauses []string
		args    []any
	)
	clauses = append(clauses, "skipped_reason IS NULL")
	if f.ConversationID != "" {
		args = append(args, f.ConversationID)
		clauses = append(clauses, fmt.Sprintf("conversation_id = $%d", len(args)))
	}
	if f.DateFrom != nil {
		args = append(args, *f.DateFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if f.DateTo != nil {
		args = append(args, *f.DateTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if f.Sentiment != "" {
		args = append(args, f.Sentiment)
		clauses = append(clauses, fmt.Sprintf("sentiment = $%d", len(args)))
	}
	if f.Topic != "" {
		args = append(args, pq.Array([]string{f.Topic}))
		clauses = append(clauses, fmt.Sprintf("topics @> to_jsonb($%d::text[])", len(args)))
	}

	query := fmt.Sprintf(`SELECT COUNT(*) FROM insights WHERE %s`, strings.Join(clauses, " AND "))
	var total int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count insights: %w", err)
	}
	return total, nil
}

// TrendPoint is one day's volume and sentiment histogram.
type TrendPoint struct {
	Day       time.Time
	Volume    int
	Positive  int
	Negative  int
	Neutral   int
	Other     int
}

// TrendCount is one (label, count) pair for the top topics/gaps lists.
type TrendCount struct {
	Label string
	Count int
}

// Trends aggregates insights created since `since` into a daily volume and
// sentiment breakdown plus the top 20 gaps and topics by frequency, returned
// in that order.
func (s *Store) Trends(ctx context.Context, since time.Time) ([]TrendPoint, []TrendCount, []TrendCount, error) {
	volumeRows, err := s.db.QueryContext(ctx, `
		SELECT date_trunc('day', created_at) AS day,
		       COUNT(*) AS volume,
		       COUNT(*) FILTER (WHERE sentiment = 'positive') AS positive,
		       COUNT(*) FILTER (WHERE sentiment = 'negative') AS negative,
		       COUNT(*) FILTER (WHERE sentiment = 'neutral') AS neutral,
		       COUNT(*) FILTER (WHERE sentiment IS NULL OR sentiment NOT IN ('positive','negative','neutral')) AS other
		FROM insights
		WHERE skipped_reason IS NULL AND created_at >= $1
		GROUP BY day
		ORDER BY day ASC
	`, since)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("trend volume: %w", err)
	}
	defer volumeRows.Close()

	var points []TrendPoint
	for volumeRows.Next() {
		var p TrendPoint
		if err := volumeRows.Scan(&p.Day, &p.Volume, &p.Positive, &p.Negative, &p.Neutral, &p.Other); err != nil {
			return nil, nil, nil, fmt.Errorf("scan trend volume: %w", err)
		}
		points = append(points, p)
	}
	if err := volumeRows.Err(); err != nil {
		return nil, nil, nil, err
	}

	topics, err := s.topCountsFromJSONArrayColumn(ctx, "topics", since)
	if err != nil {
		return nil, nil, nil, err
	}
	gaps, err := s.topCountsFromJSONArrayColumn(ctx, "gaps", since)
	if err != nil {
		return nil, nil, nil, err
	}

	return points, gaps, topics, nil
}

func (s *Store) topCountsFromJSONArrayColumn(ctx context.Context, column string, since time.Time) ([]TrendCount, error) {
	query := fmt.Sprintf(`
		SELECT value AS label, COUNT(*) AS cnt
		FROM insights, jsonb_array_elements_text(%s) AS value
		WHERE skipped_reason IS NULL AND created_at >= $1 AND %s IS NOT NULL
		GROUP BY value
		ORDER BY cnt DESC, value ASC
		LIMIT 20
	`, column, column)

	rows, err := s.db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("top %s: %w", column, err)
	}
	defer rows.Close()

	var out []TrendCount
	for rows.Next() {
		var c TrendCount
		if err := rows.Scan(&c.Label, &c.Count); err != nil {
			return nil, fmt.Errorf("scan top %s: %w", column, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
