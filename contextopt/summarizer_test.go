package contextopt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenfold/cacheflow/types"
)

func TestKeywordSummarizer(t *testing.T) {
	t.Parallel()
	s := NewKeywordSummarizer()
	turns := []types.Message{
		types.NewUserMessage("tell me about goroutines and scheduling"),
		types.NewAssistantMessage("goroutines are lightweight threads managed by the scheduler"),
		types.NewUserMessage("how do goroutines communicate"),
		types.NewAssistantMessage("through channels, which synchronize by communication"),
		types.NewUserMessage("ok"),
	}

	text, err := s.Summarize(context.Background(), turns)
	require.NoError(t, err)
	assert.Contains(t, text, "Condensed 5 earlier turns (3 from the user, 2 from the assistant).")
	assert.Contains(t, text, "goroutines", "the dominant word surfaces as a topic")
	assert.NotContains(t, text, "ok,", "short words are not topics")

	again, err := s.Summarize(context.Background(), turns)
	require.NoError(t, err)
	assert.Equal(t, text, again, "summary is deterministic")
}

func TestKeywordSummarizerEmpty(t *testing.T) {
	t.Parallel()
	text, err := NewKeywordSummarizer().Summarize(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestKeywordSummarizerTopK(t *testing.T) {
	t.Parallel()
	s := &KeywordSummarizer{TopK: 2}
	turns := []types.Message{
		types.NewUserMessage("alpha alpha alpha bravo bravo charlie delta echo"),
	}
	text, err := s.Summarize(context.Background(), turns)
	require.NoError(t, err)
	assert.Contains(t, text, "Main topics: alpha, bravo.")
}

func TestSummaryTurnMarker(t *testing.T) {
	t.Parallel()
	turn := NewSummaryTurn("three turns about channels")
	assert.Equal(t, types.RoleSystem, turn.Role)
	assert.True(t, IsSummaryTurn(turn))
	assert.Contains(t, turn.Content, "three turns about channels")

	assert.False(t, IsSummaryTurn(types.NewSystemMessage("just a system prompt")))
	assert.False(t, IsSummaryTurn(types.NewUserMessage(summaryPrefix+"\nimpostor")),
		"only system-role turns count as summaries")
}
