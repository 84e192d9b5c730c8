// Package normalizer maps external message shapes (API payloads, twcs.csv
// rows) onto domain.Message and infers the conversation root.
package normalizer

import (
	"strings"
	"time"

	"github.com/hemantsathish/conversation-insights-backend/internal/domain"
)

// TWCSDateFormat is the fixed Kaggle Customer Support on Twitter timestamp
// layout: "Tue Oct 31 22:10:47 +0000 2017".
const TWCSDateFormat = "Mon Jan 2 15:04:05 -0700 2006"

const noTextPlaceholder = "(no text)"

var truthyTokens = map[string]bool{
	"true": true,
	"1":    true,
	"yes":  true,
}

// ParseTWCSTimestamp parses a twcs.csv created_at string. A blank or
// unparseable value yields (nil, false); the raw string is always preserved
// by the caller regardless.
func ParseTWCSTimestamp(raw string) (*time.Time, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, false
	}
	t, err := time.Parse(TWCSDateFormat, trimmed)
	if err != nil {
		return nil, false
	}
	return &t, true
}

// ParseInboundToken interprets the truthy token set {"true","1","yes"}
// (case-insensitive); anything else is false.
func ParseInboundToken(raw string) bool {
	return truthyTokens[strings.ToLower(strings.TrimSpace(raw))]
}

// TWCSRow is one row of twcs.csv: tweet_id, author_id, inbound, created_at,
// text, in_response_to_tweet_id.
type TWCSRow struct {
	TweetID              string
	AuthorID             string
	Inbound              string
	CreatedAt            string
	Text                 string
	InResponseToTweetID  string
}

// FromTWCSRow converts one twcs.csv row to a domain.Message, applying the
// fixed-format timestamp parse and the "(no text)" placeholder rule.
func FromTWCSRow(row TWCSRow) domain.Message {
	text := strings.TrimSpace(row.Text)
	if text == "" {
		text = noTextPlaceholder
	}
	ts, _ := ParseTWCSTimestamp(row.CreatedAt)
	inboundRaw := strings.TrimSpace(row.Inbound)
	if inboundRaw == "" {
		inboundRaw = "true"
	}
	return domain.Message{
		ExternalID:    strings.TrimSpace(row.TweetID),
		AuthorID:      strings.TrimSpace(row.AuthorID),
		Text:          text,
		ReplyParentID: strings.TrimSpace(row.InResponseToTweetID),
		Inbound:       ParseInboundToken(inboundRaw),
		Timestamp:     ts,
		TimestampRaw:  strings.TrimSpace(row.CreatedAt),
	}
}

// Normalize fills in required fields on a raw message: a never-empty text,
// and a fallback timestamp parsed from TimestampRaw or the current time.
func Normalize(msg domain.Message) domain.Message {
	out := msg
	out.Text = strings.TrimSpace(out.Text)
	if out.Text == "" {
		out.Text = noTextPlaceholder
	}
	if out.Timestamp == nil && out.TimestampRaw != "" {
		if ts, ok := ParseTWCSTimestamp(out.TimestampRaw); ok {
			out.Timestamp = ts
		}
	}
	if out.Timestamp == nil {
		now := time.Now().UTC()
		out.Timestamp = &now
	}
	return out
}

// NormalizeAll applies Normalize to every message in order.
func NormalizeAll(messages []domain.Message) []domain.Message {
	out := make([]domain.Message, len(messages))
	for i, m := range messages {
		out[i] = Normalize(m)
	}
	return out
}

// RootExternalID infers the root message id: the one external_id not named
// by any reply_parent_id elsewhere in the list, ties broken by list order.
// If none qualifies (e.g. a reply cycle, or an empty list with one item
// pointing nowhere useful), the first message's id is returned. An empty
// input list yields "".
func RootExternalID(messages []domain.Message) string {
	if len(messages) == 0 {
		return ""
	}
	referenced := make(map[string]bool, len(messages))
	for _, m := range messages {
		if m.ReplyParentID != "" {
			referenced[m.ReplyParentID] = true
		}
	}
	for _, m := range messages {
		if m.ExternalID != "" && !referenced[m.ExternalID] {
			return m.ExternalID
		}
	}
	return messages[0].ExternalID
}
