// Package domain holds the canonical record shapes shared by the ingestion,
// storage, and query layers, plus the sentinel errors raised across package
// boundaries.
package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Domain errors
var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNoRoot               = errors.New("could not determine root external id from messages")
	ErrAlreadyExists        = errors.New("already exists")
	ErrEmptyThread          = errors.New("thread has no messages")
)

// Sentiment names the labels the LLM is prompted to emit. Values are not
// checked against this set when an insight is stored: any string sentiment
// in the model output is kept as is.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
	SentimentMixed    Sentiment = "mixed"
)

// Message is one raw inbound message (tweet, reply, or quote) as received
// from the Ingest API or the tabular bulk loader, before normalization.
type Message struct {
	ExternalID     string
	AuthorID       string
	Text           string
	ReplyParentID  string
	QuotedID       string
	Inbound        bool
	Timestamp      *time.Time
	TimestampRaw   string
}

// Conversation is one thread root: { id, root_external_id, created_at, updated_at }.
type Conversation struct {
	ID              string
	RootExternalID  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewConversationID generates a fresh conversation id.
func NewConversationID() string {
	return uuid.New().String()
}

// StoredMessage is a Message after normalization and persistence, keyed by
// its own external id.
type StoredMessage struct {
	ID             string
	ConversationID string
	AuthorID       string
	Text           string
	ReplyParentID  string
	QuotedID       string
	Inbound        bool
	Timestamp      time.Time
	TimestampRaw   string
}

// Insight is the LLM-derived record attached to a conversation, or a marker
// row explaining why no LLM call was made (skipped_reason set, raw_output
// empty).
type Insight struct {
	ID                string
	ConversationID    string
	RawOutput         map[string]any
	Sentiment         *string
	Topics            []string
	Gaps              []string
	PromptTokens      *int
	CompletionTokens  *int
	CostEstimate      *float64
	CreatedAt         time.Time
	SkippedReason     *string
}

// IsSkipped reports whether this insight records a decision not to call the
// LLM rather than an analyzed result.
func (i *Insight) IsSkipped() bool {
	return i.SkippedReason != nil && *i.SkippedReason != ""
}

// CacheEntry maps a thread-content hash to the conversation that first
// produced it.
type CacheEntry struct {
	ID             string
	ThreadHash     string
	ConversationID string
	CreatedAt      time.Time
}
