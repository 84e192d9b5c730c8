package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemantsathish/conversation-insights-backend/internal/domain"
)

func TestParseTWCSTimestamp(t *testing.T) {
	ts, ok := ParseTWCSTimestamp("Tue Oct 31 22:10:47 +0000 2017")
	require.True(t, ok)
	assert.Equal(t, 2017, ts.Year())
	assert.Equal(t, 22, ts.Hour())

	_, ok = ParseTWCSTimestamp("not a timestamp")
	assert.False(t, ok)

	_, ok = ParseTWCSTimestamp("  ")
	assert.False(t, ok)
}

func TestParseInboundToken(t *testing.T) {
	for _, tok := range []string{"true", "TRUE", "1", "yes", "YES"} {
		assert.True(t, ParseInboundToken(tok), tok)
	}
	for _, tok := range []string{"false", "0", "no", ""} {
		assert.False(t, ParseInboundToken(tok), tok)
	}
}

func TestFromTWCSRowMissingTextPlaceholder(t *testing.T) {
	msg := FromTWCSRow(TWCSRow{TweetID: "1", AuthorID: "a", Text: "   "})
	assert.Equal(t, "(no text)", msg.Text)
}

func TestRootExternalIDSingleRoot(t *testing.T) {
	messages := []domain.Message{
		{ExternalID: "A"},
		{ExternalID: "B", ReplyParentID: "A"},
		{ExternalID: "C", ReplyParentID: "B"},
	}
	assert.Equal(t, "A", RootExternalID(messages))
}

func TestRootExternalIDNoQualifyingFallsBackToFirst(t *testing.T) {
	messages := []domain.Message{
		{ExternalID: "A", ReplyParentID: "B"},
		{ExternalID: "B", ReplyParentID: "A"},
	}
	assert.Equal(t, "A", RootExternalID(messages))
}

func TestRootExternalIDEmpty(t *testing.T) {
	assert.Equal(t, "", RootExternalID(nil))
}
