// Package worker runs the single background loop that turns queued
// conversation ids into persisted insights: load the thread, pre-filter,
// check the analysis cache, pace and call the LLM, persist the result.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hemantsathish/conversation-insights-backend/internal/analysiscache"
	"github.com/hemantsathish/conversation-insights-backend/internal/domain"
	"github.com/hemantsathish/conversation-insights-backend/internal/llmclient"
	"github.com/hemantsathish/conversation-insights-backend/internal/prefilter"
)

// Store is the subset of internal/store.Store the worker depends on.
type Store interface {
	LoadThread(ctx context.Context, conversationID string) ([]domain.StoredMessage, error)
	GetInsightByConversation(ctx context.Context, conversationID string) (*domain.Insight, error)
	InsertInsight(ctx context.Context, insight *domain.Insight) error
}

// Cache is the subset of internal/analysiscache.Cache the worker depends on.
type Cache interface {
	GetCachedConversationID(ctx context.Context, threadHash string) (string, bool, error)
	SetCache(ctx context.Context, threadHash, conversationID string) error
}

// LLMClient is the subset of internal/llmclient.Client the worker depends on.
type LLMClient interface {
	Analyze(ctx context.Context, threadText string) llmclient.Result
}

// Pacer is the subset of internal/pace.Controller the worker depends on.
type Pacer interface {
	Acquire(ctx context.Context) error
	RecordLatency(d time.Duration)
	RecordFailure()
}

// Queue is the subset of internal/queue.Queue the worker depends on.
type Queue interface {
	Dequeue(timeout time.Duration) (string, bool)
}

// Metrics is the subset of internal/metrics the worker reports through.
type Metrics interface {
	RecordGrokSuccess(tokens int, cost *float64)
	RecordGrokError()
}

// EventPublisher is the subset of internal/events.Publisher the worker
// notifies once an insight is persisted.
type EventPublisher interface {
	InsightCreated(ctx context.Context, conversationID string, sentiment *string, skippedReason *string)
}

// Config holds the prefilter thresholds and poll cadence the worker needs.
type Config struct {
	PreFilterMinMessages   int
	PreFilterMinTotalChars int
	PollInterval           time.Duration
}

// Worker owns the single analysis loop.
type Worker struct {
	store   Store
	cache   Cache
	llm     LLMClient
	pace    Pacer
	queue   Queue
	metrics Metrics
	events  EventPublisher
	logger  *logrus.Logger
	cfg     Config
}

// New builds a Worker. metrics and logger may be nil.
func New(store Store, cache Cache, llm LLMClient, pace Pacer, queue Queue, metrics Metrics, logger *logrus.Logger, cfg Config) *Worker {
	return &Worker{store: store, cache: cache, llm: llm, pace: pace, queue: queue, metrics: metrics, logger: logger, cfg: cfg}
}

// SetEvents attaches an event publisher notified after every persisted
// insight (skip, cache-hit copy, or analyzed). Optional; nil is a no-op.
func (w *Worker) SetEvents(pub EventPublisher) {
	w.events = pub
}

func (w *Worker) notifyInsightCreated(ctx context.Context, insight *domain.Insight) {
	if w.events == nil {
		return
	}
	w.events.InsightCreated(ctx, insight.ConversationID, insight.Sentiment, insight.SkippedReason)
}

// Run drives the loop until ctx is cancelled: dequeue with a timeout equal
// to the configured poll interval, process whatever comes back, repeat.
func (w *Worker) Run(ctx context.Context) {
	w.logf(logrus.InfoLevel, "worker loop started", nil)
	for {
		select {
		case <-ctx.Done():
			w.logf(logrus.InfoLevel, "worker loop cancelled", nil)
			return
		default:
		}

		id, ok := w.queue.Dequeue(w.cfg.PollInterval)
		if !ok {
			continue
		}
		w.processOne(ctx, id)
	}
}

func (w *Worker) processOne(ctx context.Context, conversationID string) {
	defer func() {
		if r := recover(); r != nil {
			w.logf(logrus.ErrorLevel, "process_one panicked", logrus.Fields{"conversation_id": conversationID, "panic": r})
		}
	}()

	messages, err := w.store.LoadThread(ctx, conversationID)
	if err != nil {
		w.logf(logrus.ErrorLevel, "load thread failed", logrus.Fields{"conversation_id": conversationID, "error": err})
		return
	}
	if len(messages) == 0 {
		w.logf(logrus.WarnLevel, "empty thread", logrus.Fields{"conversation_id": conversationID})
		return
	}

	texts := make([]string, len(messages))
	totalChars := 0
	for i, m := range messages {
		texts[i] = m.Text
		totalChars += len(m.Text)
	}

	result := prefilter.Evaluate(len(messages), totalChars, w.cfg.PreFilterMinMessages, w.cfg.PreFilterMinTotalChars)
	if !result.Interesting {
		w.persistSkipIfAbsent(ctx, conversationID, result.Reason)
		return
	}

	hash := analysiscache.ComputeThreadHash(texts)

	if cachedCID, ok, err := w.cache.GetCachedConversationID(ctx, hash); err == nil && ok && cachedCID != conversationID {
		if other, err := w.store.GetInsightByConversation(ctx, cachedCID); err == nil {
			reason := "cache_hit"
			copied := &domain.Insight{
				ID:             domain.NewConversationID(),
				ConversationID: conversationID,
				RawOutput:      other.RawOutput,
				Sentiment:      other.Sentiment,
				Topics:         other.Topics,
				Gaps:           other.Gaps,
				SkippedReason:  &reason,
				CreatedAt:      time.Now().UTC(),
			}
			if err := w.store.InsertInsight(ctx, copied); err != nil {
				w.logf(logrus.ErrorLevel, "persist cache-hit insight failed", logrus.Fields{"conversation_id": conversationID, "error": err})
			} else {
				w.notifyInsightCreated(ctx, copied)
			}
			return
		}
	}

	if _, err := w.store.GetInsightByConversation(ctx, conversationID); err == nil {
		if err := w.cache.SetCache(ctx, hash, conversationID); err != nil {
			w.logf(logrus.ErrorLevel, "set cache failed", logrus.Fields{"conversation_id": conversationID, "error": err})
		}
		return
	} else if !errors.Is(err, domain.ErrConversationNotFound) {
		w.logf(logrus.ErrorLevel, "lookup existing insight failed", logrus.Fields{"conversation_id": conversationID, "error": err})
		return
	}

	threadText := buildThreadText(texts)

	if err := w.pace.Acquire(ctx); err != nil {
		return
	}
	start := time.Now()
	res := w.llm.Analyze(ctx, threadText)
	latency := time.Since(start)

	if res.Error != "" {
		w.pace.RecordFailure()
		if w.metrics != nil {
			w.metrics.RecordGrokError()
		}
		w.logf(logrus.WarnLevel, "llm analysis failed", logrus.Fields{"conversation_id": conversationID, "error": res.Error})
		return
	}

	w.pace.RecordLatency(latency)
	if w.metrics != nil {
		w.metrics.RecordGrokSuccess(res.TotalTokens, res.CostEstimate)
	}

	sentiment := extractString(res.Insight, "sentiment")
	topics := extractStringSlice(res.Insight, "topics")
	gaps := extractStringSlice(res.Insight, "gaps")

	var promptTokens, completionTokens *int
	if res.PromptTokens != 0 {
		promptTokens = &res.PromptTokens
	}
	if res.CompletionTokens != 0 {
		completionTokens = &res.CompletionTokens
	}

	insight := &domain.Insight{
		ID:               domain.NewConversationID(),
		ConversationID:   conversationID,
		RawOutput:        res.Insight,
		Sentiment:        sentiment,
		Topics:           topics,
		Gaps:             gaps,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		CostEstimate:     res.CostEstimate,
		CreatedAt:        time.Now().UTC(),
	}
	if err := w.store.InsertInsight(ctx, insight); err != nil {
		w.logf(logrus.ErrorLevel, "persist insight failed", logrus.Fields{"conversation_id": conversationID, "error": err})
		return
	}
	w.notifyInsightCreated(ctx, insight)
	if err := w.cache.SetCache(ctx, hash, conversationID); err != nil {
		w.logf(logrus.ErrorLevel, "set cache failed", logrus.Fields{"conversation_id": conversationID, "error": err})
	}
}

func (w *Worker) persistSkipIfAbsent(ctx context.Context, conversationID, reason string) {
	_, err := w.store.GetInsightByConversation(ctx, conversationID)
	if err == nil {
		return
	}
	if !errors.Is(err, domain.ErrConversationNotFound) {
		w.logf(logrus.ErrorLevel, "lookup existing insight failed", logrus.Fields{"conversation_id": conversationID, "error": err})
		return
	}
	insight := &domain.Insight{
		ID:             domain.NewConversationID(),
		ConversationID: conversationID,
		RawOutput:      map[string]any{},
		SkippedReason:  &reason,
		CreatedAt:      time.Now().UTC(),
	}
	if err := w.store.InsertInsight(ctx, insight); err != nil {
		w.logf(logrus.ErrorLevel, "persist skip insight failed", logrus.Fields{"conversation_id": conversationID, "error": err})
		return
	}
	w.notifyInsightCreated(ctx, insight)
}

func (w *Worker) logf(level logrus.Level, msg string, fields logrus.Fields) {
	if w.logger == nil {
		return
	}
	w.logger.WithFields(fields).Log(level, msg)
}

func buildThreadText(texts []string) string {
	lines := make([]string, len(texts))
	for i, t := range texts {
		lines[i] = fmt.Sprintf("[%d] %s", i+1, t)
	}
	return strings.Join(lines, "\n")
}

func extractString(m map[string]any, key string) *string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return &s
}

func extractStringSlice(m map[string]any, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
