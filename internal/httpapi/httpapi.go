package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/hemantsathish/conversation-insights-backend/internal/domain"
	"github.com/hemantsathish/conversation-insights-backend/internal/normalizer"
	"github.com/hemantsathish/conversation-insights-backend/internal/store"
)

// defaultBulkMaxConversations is used when the API is built with a
// non-positive bulkMaxConversations (e.g. zero-valued in tests).
const defaultBulkMaxConversations = 500

// retryAfterSeconds is the Retry-After header value sent with every
// backpressure 503.
const retryAfterSeconds = 60

// Store is the subset of internal/store.Store the API depends on.
type Store interface {
	UpsertConversation(ctx context.Context, rootExternalID string, messages []domain.Message) (*domain.Conversation, error)
	ListInsights(ctx context.Context, f store.InsightFilter) ([]domain.Insight, error)
	CountInsights(ctx context.Context, f store.InsightFilter) (int, error)
	Trends(ctx context.Context, since time.Time) ([]store.TrendPoint, []store.TrendCount, []store.TrendCount, error)
}

// Queue is the subset of internal/queue.Queue the API depends on.
type Queue interface {
	CanAccept() bool
	Enqueue(id string) bool
	Depth() int
}

// Metrics is the subset of internal/metrics.Metrics the API reports through.
type Metrics interface {
	RecordBackpressure()
}

// Events is the subset of internal/events.Publisher the API notifies on
// successful ingest.
type Events interface {
	ConversationIngested(ctx context.Context, conversationID, rootExternalID string, messageCount int)
}

// API holds the dependencies behind every registered route.
type API struct {
	store                Store
	queue                Queue
	metrics              Metrics
	events               Events
	gatherer             prometheus.Gatherer
	logger               *logrus.Logger
	bulkMaxConversations int
	processID            int
}

// New builds an API. metrics, events, and logger may be nil. gatherer is the
// prometheus.Gatherer backing /metrics; pass nil to fall back to the default
// registry. bulkMaxConversations caps /conversations/bulk and the stream
// line count; a non-positive value falls back to defaultBulkMaxConversations.
func New(store Store, queue Queue, metrics Metrics, events Events, gatherer prometheus.Gatherer, bulkMaxConversations int, logger *logrus.Logger) *API {
	if bulkMaxConversations <= 0 {
		bulkMaxConversations = defaultBulkMaxConversations
	}
	return &API{
		store:                store,
		queue:                queue,
		metrics:              metrics,
		events:               events,
		gatherer:             gatherer,
		logger:               logger,
		bulkMaxConversations: bulkMaxConversations,
		processID:            os.Getpid(),
	}
}

// Register mounts every route (including /health and /metrics) on router.
func (a *API) Register(router *gin.Engine) {
	router.GET("/health", a.health)

	gatherer := a.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	v1 := router.Group("/api/v1")
	v1.POST("/conversations", a.postConversation)
	v1.POST("/conversations/bulk", a.postConversationsBulk)
	v1.POST("/conversations/bulk/stream", a.postConversationsBulkStream)
	v1.GET("/insights", a.getInsights)
	v1.GET("/trends", a.getTrends)
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"queue_depth": a.queue.Depth(),
		"process_id":  a.processID,
	})
}

func messagesToDomain(in []MessageIn) []domain.Message {
	out := make([]domain.Message, len(in))
	for i, m := range in {
		inbound := true
		if m.Inbound != nil {
			inbound = *m.Inbound
		}
		var ts *time.Time
		if parsed, ok := normalizer.ParseTWCSTimestamp(m.CreatedAt); ok {
			ts = parsed
		}
		out[i] = domain.Message{
			ExternalID:    strings.TrimSpace(m.ExternalID),
			AuthorID:      m.AuthorID,
			Text:          m.Text,
			ReplyParentID: m.InReplyToID,
			QuotedID:      m.QuotedID,
			Inbound:       inbound,
			Timestamp:     ts,
			TimestampRaw:  m.CreatedAtRaw,
		}
	}
	return out
}

func (a *API) logf(level logrus.Level, msg string, fields logrus.Fields) {
	if a.logger == nil {
		return
	}
	a.logger.WithFields(fields).Log(level, msg)
}

func (a *API) recordBackpressure() {
	if a.metrics != nil {
		a.metrics.RecordBackpressure()
	}
}

func backpressureResponse(c *gin.Context) {
	c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
	c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Queue at capacity. Retry after the indicated time."})
}

// postConversation ingests a single conversation. Returns 503 when the
// queue is at capacity, 422 when no root message could be determined.
func (a *API) postConversation(c *gin.Context) {
	var body ConversationIn
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if !a.queue.CanAccept() {
		a.recordBackpressure()
		backpressureResponse(c)
		return
	}
	messages := messagesToDomain(body.Messages)
	rootID := normalizer.RootExternalID(messages)
	if rootID == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"detail": "Could not determine root tweet id from messages."})
		return
	}
	conv, err := a.store.UpsertConversation(c.Request.Context(), rootID, messages)
	if err != nil {
		a.logf(logrus.ErrorLevel, "upsert conversation failed", logrus.Fields{"root_external_id": rootID, "error": err})
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to store conversation"})
		return
	}
	enqueued := a.queue.Enqueue(conv.ID)
	if !enqueued {
		a.recordBackpressure()
		backpressureResponse(c)
		return
	}
	if a.events != nil {
		a.events.ConversationIngested(c.Request.Context(), conv.ID, conv.RootExternalID, len(messages))
	}
	c.JSON(http.StatusCreated, IngestResponse{
		ConversationID: conv.ID,
		RootExternalID: conv.RootExternalID,
		MessageCount:   len(messages),
		Enqueued:       true,
	})
}

// postConversationsBulk ingests up to bulkMaxConversations conversations in
// one request.
func (a *API) postConversationsBulk(c *gin.Context) {
	var body BulkConversationsIn
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if len(body.Conversations) > a.bulkMaxConversations {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "too many conversations in one request"})
		return
	}
	if !a.queue.CanAccept() {
		a.recordBackpressure()
		backpressureResponse(c)
		return
	}

	ctx := c.Request.Context()
	var results []IngestResultItem
	type accepted struct {
		conversationID string
		rootExternalID string
		messageCount   int
	}
	var acceptedList []accepted
	rejected := 0

	for _, convIn := range body.Conversations {
		messages := messagesToDomain(convIn.Messages)
		rootID := normalizer.RootExternalID(messages)
		if rootID == "" {
			rejected++
			results = append(results, IngestResultItem{MessageCount: len(messages)})
			continue
		}
		conv, err := a.store.UpsertConversation(ctx, rootID, messages)
		if err != nil {
			a.logf(logrus.ErrorLevel, "bulk upsert failed", logrus.Fields{"root_external_id": rootID, "error": err})
			rejected++
			results = append(results, IngestResultItem{RootExternalID: rootID, MessageCount: len(messages)})
			continue
		}
		acceptedList = append(acceptedList, accepted{conv.ID, conv.RootExternalID, len(messages)})
	}

	backpressure := false
	for _, a2 := range acceptedList {
		enqueued := a.queue.Enqueue(a2.conversationID)
		if !enqueued {
			a.recordBackpressure()
			backpressure = true
		} else if a.events != nil {
			a.events.ConversationIngested(ctx, a2.conversationID, a2.rootExternalID, a2.messageCount)
		}
		results = append(results, IngestResultItem{
			ConversationID: a2.conversationID,
			RootExternalID: a2.rootExternalID,
			MessageCount:   a2.messageCount,
			Enqueued:       enqueued,
		})
	}

	c.JSON(http.StatusMultiStatus, BulkIngestResponse{
		Accepted:     len(acceptedList),
		Rejected:     rejected,
		Results:      results,
		Backpressure: backpressure,
	})
}

// postConversationsBulkStream ingests conversations from an NDJSON body
// (one JSON object per line, at most bulkMaxConversations), streaming back an
// NDJSON result line per input line and a trailing summary line.
func (a *API) postConversationsBulkStream(c *gin.Context) {
	ctx := c.Request.Context()
	if !a.queue.CanAccept() {
		a.recordBackpressure()
		c.Status(http.StatusOK)
		c.Header("Content-Type", "application/x-ndjson")
		writeNDJSONLine(c, gin.H{"error": "queue_full", "retry_after": retryAfterSeconds})
		return
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "application/x-ndjson")

	accepted, rejected, backpressure := 0, 0, false
	scanner := bufio.NewScanner(c.Request.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	count := 0

	for scanner.Scan() {
		if count >= a.bulkMaxConversations {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		count++

		var convIn ConversationIn
		if err := json.Unmarshal([]byte(line), &convIn); err != nil {
			rejected++
			writeNDJSONLine(c, gin.H{"error": "validation", "detail": err.Error()})
			continue
		}
		if len(convIn.Messages) == 0 {
			rejected++
			writeNDJSONLine(c, gin.H{"error": "validation", "detail": "messages must not be empty"})
			continue
		}

		messages := messagesToDomain(convIn.Messages)
		rootID := normalizer.RootExternalID(messages)
		if rootID == "" {
			rejected++
			writeNDJSONLine(c, gin.H{"error": "no_root", "message_count": len(messages)})
			continue
		}

		conv, err := a.store.UpsertConversation(ctx, rootID, messages)
		if err != nil {
			a.logf(logrus.ErrorLevel, "stream upsert failed", logrus.Fields{"root_external_id": rootID, "error": err})
			rejected++
			writeNDJSONLine(c, gin.H{"error": "upsert", "root_tweet_id": rootID, "detail": err.Error()})
			continue
		}
		enqueued := a.queue.Enqueue(conv.ID)
		if !enqueued {
			a.recordBackpressure()
			backpressure = true
		} else if a.events != nil {
			a.events.ConversationIngested(ctx, conv.ID, conv.RootExternalID, len(messages))
		}
		accepted++
		writeNDJSONLine(c, gin.H{
			"conversation_id": conv.ID,
			"root_tweet_id":   conv.RootExternalID,
			"message_count":   len(messages),
			"enqueued":        enqueued,
		})
	}

	writeNDJSONLine(c, gin.H{"_summary": gin.H{"accepted": accepted, "rejected": rejected, "backpressure": backpressure}})
}

func writeNDJSONLine(c *gin.Context, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = c.Writer.Write(data)
	c.Writer.Flush()
}

// getInsights serves GET /insights with conversation_id, date_from,
// date_to, sentiment, topic, limit, offset query filters.
func (a *API) getInsights(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	offset := 0
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	f := store.InsightFilter{
		ConversationID: c.Query("conversation_id"),
		Sentiment:      c.Query("sentiment"),
		Topic:          c.Query("topic"),
		Limit:          limit,
		Offset:         offset,
	}
	if v := c.Query("date_from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.DateFrom = &t
		}
	}
	if v := c.Query("date_to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.DateTo = &t
		}
	}

	ctx := c.Request.Context()
	items, err := a.store.ListInsights(ctx, f)
	if err != nil {
		a.logf(logrus.ErrorLevel, "list insights failed", logrus.Fields{"error": err})
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to list insights"})
		return
	}
	total, err := a.store.CountInsights(ctx, f)
	if err != nil {
		a.logf(logrus.ErrorLevel, "count insights failed", logrus.Fields{"error": err})
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to list insights"})
		return
	}

	out := make([]InsightOut, len(items))
	for i, ins := range items {
		out[i] = InsightOut{
			ID:               ins.ID,
			ConversationID:   ins.ConversationID,
			Sentiment:        ins.Sentiment,
			Topics:           ins.Topics,
			Gaps:             ins.Gaps,
			RawOutput:        ins.RawOutput,
			PromptTokens:     ins.PromptTokens,
			CompletionTokens: ins.CompletionTokens,
			CostEstimate:     ins.CostEstimate,
			CreatedAt:        ins.CreatedAt,
			SkippedReason:    ins.SkippedReason,
		}
	}
	c.JSON(http.StatusOK, InsightsListResponse{
		Items:  out,
		Total:  total,
		Limit:  f.Limit,
		Offset: f.Offset,
	})
}

// getTrends serves GET /trends?window=7d.
func (a *API) getTrends(c *gin.Context) {
	window := c.DefaultQuery("window", "7d")
	since := time.Now().UTC().Add(-parseWindow(window))

	volume, gaps, topics, err := a.store.Trends(c.Request.Context(), since)
	if err != nil {
		a.logf(logrus.ErrorLevel, "trends failed", logrus.Fields{"error": err})
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to compute trends"})
		return
	}

	volumePoints := make([]TrendVolumePoint, len(volume))
	sentimentPoints := make([]TrendSentimentPoint, len(volume))
	for i, v := range volume {
		bucket := v.Day.Format(time.RFC3339)
		volumePoints[i] = TrendVolumePoint{Bucket: bucket, Count: v.Volume}
		sentimentPoints[i] = TrendSentimentPoint{
			Bucket:   bucket,
			Positive: v.Positive,
			Negative: v.Negative,
			Neutral:  v.Neutral,
			Other:    v.Other,
		}
	}
	topGaps := make([]TrendGapCount, len(gaps))
	for i, g := range gaps {
		topGaps[i] = TrendGapCount{Gap: g.Label, Count: g.Count}
	}
	topTopics := make([]TrendTopicCount, len(topics))
	for i, t := range topics {
		topTopics[i] = TrendTopicCount{Topic: t.Label, Count: t.Count}
	}

	c.JSON(http.StatusOK, TrendsResponse{
		Window:         window,
		Volume:         volumePoints,
		SentimentDrift: sentimentPoints,
		TopGaps:        topGaps,
		TopTopics:      topTopics,
	})
}

// parseWindow parses a window string like "1d", "7d", "12h" into a
// duration, defaulting to 7 days on anything unparseable.
func parseWindow(window string) time.Duration {
	w := strings.ToLower(strings.TrimSpace(window))
	if w == "" {
		return 7 * 24 * time.Hour
	}
	if strings.HasSuffix(w, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(w, "d"))
		if err != nil || n <= 0 {
			return 7 * 24 * time.Hour
		}
		return time.Duration(n) * 24 * time.Hour
	}
	if strings.HasSuffix(w, "h") {
		n, err := strconv.Atoi(strings.TrimSuffix(w, "h"))
		if err != nil || n <= 0 {
			return 7 * 24 * time.Hour
		}
		return time.Duration(n) * time.Hour
	}
	return 7 * 24 * time.Hour
}
