// Package httpapi wires the gin routes for ingest (single, bulk, NDJSON
// stream) and query (insights, trends) against the store and queue.
package httpapi

import "time"

// MessageIn is one raw message as received from an ingest request.
type MessageIn struct {
	ExternalID    string `json:"tweet_id" binding:"required"`
	AuthorID      string `json:"author_id"`
	Text          string `json:"text" binding:"required"`
	InReplyToID   string `json:"in_reply_to_id"`
	QuotedID      string `json:"quoted_id"`
	Inbound       *bool  `json:"inbound"`
	CreatedAt     string `json:"created_at"`
	CreatedAtRaw  string `json:"created_at_raw"`
}

// ConversationIn is a single conversation ingest request body.
type ConversationIn struct {
	Messages []MessageIn `json:"messages" binding:"required,min=1,max=500"`
}

// BulkConversationsIn is the bulk ingest request body. The upper bound on
// Conversations is enforced by API.bulkMaxConversations, not a struct tag,
// since it is configurable via BULK_MAX_CONVERSATIONS.
type BulkConversationsIn struct {
	Conversations []ConversationIn `json:"conversations" binding:"required,min=1"`
}

// IngestResultItem reports the outcome of upserting one conversation.
type IngestResultItem struct {
	ConversationID string `json:"conversation_id"`
	RootExternalID string `json:"root_tweet_id"`
	MessageCount   int    `json:"message_count"`
	Enqueued       bool   `json:"enqueued"`
}

// IngestResponse is the single-conversation ingest response body.
type IngestResponse struct {
	ConversationID string `json:"conversation_id"`
	RootExternalID string `json:"root_tweet_id"`
	MessageCount   int    `json:"message_count"`
	Enqueued       bool   `json:"enqueued"`
}

// BulkIngestResponse is the bulk ingest response body.
type BulkIngestResponse struct {
	Accepted     int                `json:"accepted"`
	Rejected     int                `json:"rejected"`
	Results      []IngestResultItem `json:"results"`
	Backpressure bool               `json:"backpressure"`
}

// InsightOut is the public shape of a persisted insight.
type InsightOut struct {
	ID               string     `json:"id"`
	ConversationID   string     `json:"conversation_id"`
	Sentiment        *string    `json:"sentiment"`
	Topics           []string   `json:"topics"`
	Gaps             []string   `json:"gaps"`
	RawOutput        any        `json:"grok_output"`
	PromptTokens     *int       `json:"prompt_tokens"`
	CompletionTokens *int       `json:"completion_tokens"`
	CostEstimate     *float64   `json:"cost_estimate"`
	CreatedAt        time.Time  `json:"created_at"`
	SkippedReason    *string    `json:"skipped_reason"`
}

// InsightsListResponse is the paginated GET /insights response body.
type InsightsListResponse struct {
	Items  []InsightOut `json:"items"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// TrendVolumePoint is one day's count of analyzed insights.
type TrendVolumePoint struct {
	Bucket string `json:"bucket"`
	Count  int    `json:"count"`
}

// TrendSentimentPoint is one day's sentiment breakdown.
type TrendSentimentPoint struct {
	Bucket   string `json:"bucket"`
	Positive int    `json:"positive"`
	Negative int    `json:"negative"`
	Neutral  int    `json:"neutral"`
	Other    int    `json:"other"`
}

// TrendGapCount is a (gap, count) pair in the top-gaps list.
type TrendGapCount struct {
	Gap   string `json:"gap"`
	Count int    `json:"count"`
}

// TrendTopicCount is a (topic, count) pair in the top-topics list.
type TrendTopicCount struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// TrendsResponse is the GET /trends response body.
type TrendsResponse struct {
	Window         string                `json:"window"`
	Volume         []TrendVolumePoint    `json:"volume"`
	SentimentDrift []TrendSentimentPoint `json:"sentiment_drift"`
	TopGaps        []TrendGapCount       `json:"top_gaps"`
	TopTopics      []TrendTopicCount     `json:"top_topics"`
}
