package contextopt

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/lumenfold/cacheflow/types"
)

// summaryPrefix marks a turn that replaces summarized history. The processor
// uses it to recognize its own output, so re-optimizing a bundle never stacks
// summaries of summaries.
const summaryPrefix = "Summary of earlier conversation:"

// Summarizer condenses a run of turns into shorter text. Implementations
// typically call a model; the processor only relies on the contract and falls
// back to keyword summaries when the summarizer is missing or fails.
type Summarizer interface {
	Summarize(ctx context.Context, turns []types.Message) (string, error)
}

// NewSummaryTurn wraps summary text in the marked carrier turn.
func NewSummaryTurn(text string) types.Message {
	return types.NewSystemMessage(summaryPrefix + "\n" + text)
}

// IsSummaryTurn reports whether msg is a summary turn produced here.
func IsSummaryTurn(msg types.Message) bool {
	return msg.Role == types.RoleSystem && strings.HasPrefix(msg.Content, summaryPrefix)
}

// KeywordSummarizer is the model-free fallback: it reports turn counts per
// role and the most frequent longer words as topics. Crude, but deterministic
// and always available.
type KeywordSummarizer struct {
	// TopK is how many topic words to report.
	TopK int
}

// NewKeywordSummarizer returns a summarizer reporting up to 5 topics.
func NewKeywordSummarizer() *KeywordSummarizer {
	return &KeywordSummarizer{TopK: 5}
}

// Summarize never fails; an empty turn list yields an empty summary.
func (s *KeywordSummarizer) Summarize(_ context.Context, turns []types.Message) (string, error) {
	if len(turns) == 0 {
		return "", nil
	}

	var users, assistants int
	for _, t := range turns {
		switch t.Role {
		case types.RoleUser:
			users++
		case types.RoleAssistant:
			assistants++
		}
	}

	parts := []string{fmt.Sprintf("Condensed %d earlier turns (%d from the user, %d from the assistant).",
		len(turns), users, assistants)}
	if topics := s.topics(turns); len(topics) > 0 {
		parts = append(parts, "Main topics: "+strings.Join(topics, ", ")+".")
	}
	return strings.Join(parts, "\n"), nil
}

// topics ranks words longer than three characters by frequency, ties broken
// alphabetically so the summary is stable.
func (s *KeywordSummarizer) topics(turns []types.Message) []string {
	freq := make(map[string]int)
	for _, t := range turns {
		for _, word := range strings.Fields(strings.ToLower(t.Content)) {
			word = strings.Trim(word, ".,;:!?\"'()[]")
			if len(word) > 3 {
				freq[word]++
			}
		}
	}
	if len(freq) == 0 {
		return nil
	}

	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})

	k := s.TopK
	if k <= 0 {
		k = 5
	}
	if len(words) > k {
		words = words[:k]
	}
	return words
}
