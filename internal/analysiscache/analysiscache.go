// Package analysiscache deduplicates LLM analysis by thread content: two
// conversations whose message text is identical reuse one analysis (the
// second gets a copy of the first's Insight) instead of paying for a second
// model call. A Redis hot layer sits in front of the
// Postgres-backed dedup table so a burst of identical threads (a retried
// bulk load, a flapping webhook) resolves without round-tripping the
// database every time.
package analysiscache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Store.GetCachedConversationID when no entry
// exists for the given hash.
var ErrNotFound = errors.New("analysiscache: not found")

const hotLayerTTL = 10 * time.Minute

// Store is the durable half of the cache: a thread_hash -> conversation_id
// table with an on-conflict-do-nothing insert, implemented against Postgres
// in internal/store.
type Store interface {
	GetCachedConversationID(ctx context.Context, threadHash string) (string, error)
	SetCache(ctx context.Context, threadHash, conversationID string) error
}

// Cache wraps a Store with an optional Redis read-through layer. Redis is
// best-effort: any Redis error falls through to the Store rather than
// failing the request.
type Cache struct {
	store  Store
	redis  *redis.Client
	logger *logrus.Logger
}

// New builds a Cache. redisClient may be nil, in which case every lookup
// goes straight to the Store.
func New(store Store, redisClient *redis.Client, logger *logrus.Logger) *Cache {
	return &Cache{store: store, redis: redisClient, logger: logger}
}

// ComputeThreadHash hashes the trimmed, newline-joined message texts of a
// thread in timestamp order, matching the Python reference's
// sha256("\n".join(trimmed_texts).strip()).
func ComputeThreadHash(texts []string) string {
	trimmed := make([]string, len(texts))
	for i, t := range texts {
		trimmed[i] = strings.TrimSpace(t)
	}
	joined := strings.TrimSpace(strings.Join(trimmed, "\n"))
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

func redisKey(threadHash string) string {
	return "analysiscache:" + threadHash
}

// GetCachedConversationID looks up the conversation id previously analyzed
// for this thread hash. ok is false if no entry exists.
func (c *Cache) GetCachedConversationID(ctx context.Context, threadHash string) (conversationID string, ok bool, err error) {
	if c.redis != nil {
		val, rerr := c.redis.Get(ctx, redisKey(threadHash)).Result()
		if rerr == nil {
			return val, true, nil
		}
		if rerr != redis.Nil && c.logger != nil {
			c.logger.WithError(rerr).Warn("analysiscache: redis get failed, falling back to store")
		}
	}

	id, err := c.store.GetCachedConversationID(ctx, threadHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", false, nil
		}
		return "", false, err
	}

	if c.redis != nil {
		if serr := c.redis.Set(ctx, redisKey(threadHash), id, hotLayerTTL).Err(); serr != nil && c.logger != nil {
			c.logger.WithError(serr).Warn("analysiscache: redis set failed")
		}
	}
	return id, true, nil
}

// SetCache records that threadHash was analyzed as part of conversationID.
// The write is idempotent: a second call for the same hash is a no-op at
// the Store layer (on-conflict-do-nothing on thread_hash).
func (c *Cache) SetCache(ctx context.Context, threadHash, conversationID string) error {
	if err := c.store.SetCache(ctx, threadHash, conversationID); err != nil {
		return err
	}
	if c.redis != nil {
		if serr := c.redis.Set(ctx, redisKey(threadHash), conversationID, hotLayerTTL).Err(); serr != nil && c.logger != nil {
			c.logger.WithError(serr).Warn("analysiscache: redis set failed")
		}
	}
	return nil
}
