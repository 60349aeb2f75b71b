// Package contextopt assembles and optimizes the context sent with each model
// call: de-duplicating nested transcripts, summarizing old turns and trimming
// components to a token budget. Every stage returns a new bundle; inputs are
// never mutated, so stages compose and test independently.
package contextopt

import (
	"strings"

	"github.com/lumenfold/cacheflow/types"
)

// Component names, in no particular order. Trimming priority lives in
// trimOrder, not here.
const (
	ComponentSystemPrompt = "system_prompt"
	ComponentRecentTurns  = "recent_conversation"
	ComponentMemories     = "relevant_memories"
	ComponentCurrentQuery = "current_query"
)

// Memory is one retrieved context snippet. Retrieval is expected to rank
// memories most relevant first; the budget manager relies on that order when
// it has to drop some.
type Memory struct {
	Text     string            `json:"text"`
	Score    float64           `json:"score,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Bundle is the named context assembled for one conversational turn.
type Bundle struct {
	SystemPrompt string          `json:"system_prompt,omitempty"`
	RecentTurns  []types.Message `json:"recent_conversation,omitempty"`
	Memories     []Memory        `json:"relevant_memories,omitempty"`
	CurrentQuery string          `json:"current_query,omitempty"`
}

// Clone returns a deep copy. Optimization stages clone before editing so the
// caller's bundle survives untouched.
func (b *Bundle) Clone() *Bundle {
	if b == nil {
		return nil
	}
	cp := *b
	if b.RecentTurns != nil {
		cp.RecentTurns = make([]types.Message, len(b.RecentTurns))
		copy(cp.RecentTurns, b.RecentTurns)
	}
	if b.Memories != nil {
		cp.Memories = make([]Memory, len(b.Memories))
		for i, m := range b.Memories {
			cp.Memories[i] = m
			if m.Metadata != nil {
				meta := make(map[string]string, len(m.Metadata))
				for k, v := range m.Metadata {
					meta[k] = v
				}
				cp.Memories[i].Metadata = meta
			}
		}
	}
	return &cp
}

// Messages flattens the bundle into the message sequence sent to the model:
// system prompt, retrieved context as a second system message, the recent
// turns, then the current query as the closing user message.
func (b *Bundle) Messages() []types.Message {
	msgs := make([]types.Message, 0, len(b.RecentTurns)+3)
	if b.SystemPrompt != "" {
		msgs = append(msgs, types.NewSystemMessage(b.SystemPrompt))
	}
	if len(b.Memories) > 0 {
		var sb strings.Builder
		sb.WriteString("Relevant context:")
		for _, m := range b.Memories {
			sb.WriteString("\n- ")
			sb.WriteString(m.Text)
		}
		msgs = append(msgs, types.NewSystemMessage(sb.String()))
	}
	msgs = append(msgs, b.RecentTurns...)
	if b.CurrentQuery != "" {
		msgs = append(msgs, types.NewUserMessage(b.CurrentQuery))
	}
	return msgs
}
