// Package tokenizer estimates the token cost of text, messages and arbitrary
// structured values. A real BPE counter (tiktoken) is used when an encoding is
// known for the model; a character-ratio estimator covers everything else.
// Counting is deterministic within a process, which the context budget
// manager relies on for convergence.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/lumenfold/cacheflow/types"
)

// Tokenizer is the unified token counting interface.
type Tokenizer interface {
	// CountTokens returns the token count of the given text.
	CountTokens(text string) (int, error)

	// CountMessages returns the total token count of a message list,
	// including per-message overhead (role markers, separators).
	CountMessages(messages []types.Message) (int, error)

	// Name returns the tokenizer name.
	Name() string
}

// Global tokenizer registry.
var (
	modelTokenizers   = make(map[string]Tokenizer)
	modelTokenizersMu sync.RWMutex
)

// Register registers a tokenizer for the given model name.
func Register(model string, t Tokenizer) {
	modelTokenizersMu.Lock()
	defer modelTokenizersMu.Unlock()
	modelTokenizers[model] = t
}

// Get returns the tokenizer registered for the given model.
// Prefix matches are also tried (so "gpt-4o" matches "gpt-4o-mini").
func Get(model string) (Tokenizer, error) {
	modelTokenizersMu.RLock()
	defer modelTokenizersMu.RUnlock()

	if t, ok := modelTokenizers[model]; ok {
		return t, nil
	}

	for prefix, t := range modelTokenizers {
		if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			return t, nil
		}
	}

	return nil, fmt.Errorf("no tokenizer registered for model: %s", model)
}

// GetOrEstimator returns the registered tokenizer for the model, falling back
// to the generic estimator when nothing is registered.
func GetOrEstimator(model string) Tokenizer {
	t, err := Get(model)
	if err != nil {
		return NewEstimator()
	}
	return t
}

// ForModel returns the best available counter for a model: a tiktoken-backed
// tokenizer when the model maps to a known encoding, an estimator otherwise.
// The result never fails at call time; the tiktoken counter degrades to
// estimation when its encoding cannot be loaded.
func ForModel(model string) Tokenizer {
	if t, err := Get(model); err == nil {
		return t
	}
	return NewTiktoken(model)
}
