package types

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedResponse is returned by AdaptResponse when a value cannot be
// mapped onto the normalized Response shape.
var ErrUnsupportedResponse = errors.New("unsupported response shape")

// Response is the single normalized model-response type the caching core
// operates on. Provider SDK responses come in several shapes; they are
// converted once, at the boundary, via AdaptResponse. Nothing past that
// boundary ever inspects a provider-specific structure.
type Response struct {
	ID        string     `json:"id,omitempty"`
	Model     string     `json:"model,omitempty"`
	Text      string     `json:"text"`
	Usage     TokenUsage `json:"usage,omitempty"`
	CreatedAt time.Time  `json:"created_at,omitempty"`
}

// NewResponse creates a response holding the given text.
func NewResponse(text string) *Response {
	return &Response{Text: text, CreatedAt: time.Now()}
}

// AdaptResponse converts a provider response of a known shape into a
// normalized *Response.
//
// Accepted shapes:
//   - *Response / Response: returned as-is (pointer) or copied.
//   - string: becomes the response text.
//   - map[string]any in OpenAI chat-completion form
//     (choices[0].message.content, plus optional id/model/usage), or a flat
//     map with a "text" or "content" string field.
//
// Anything else fails with ErrUnsupportedResponse. The caller decides whether
// that is fatal; the cache layers treat it as "do not cache".
func AdaptResponse(v any) (*Response, error) {
	switch r := v.(type) {
	case nil:
		return nil, fmt.Errorf("adapt response: %w", ErrUnsupportedResponse)
	case *Response:
		return r, nil
	case Response:
		return &r, nil
	case string:
		return NewResponse(r), nil
	case map[string]any:
		return adaptMap(r)
	default:
		return nil, fmt.Errorf("adapt response: %T: %w", v, ErrUnsupportedResponse)
	}
}

func adaptMap(m map[string]any) (*Response, error) {
	resp := &Response{CreatedAt: time.Now()}
	if id, ok := m["id"].(string); ok {
		resp.ID = id
	}
	if model, ok := m["model"].(string); ok {
		resp.Model = model
	}
	if usage, ok := m["usage"].(map[string]any); ok {
		resp.Usage = TokenUsage{
			PromptTokens:     intField(usage, "prompt_tokens"),
			CompletionTokens: intField(usage, "completion_tokens"),
			TotalTokens:      intField(usage, "total_tokens"),
		}
	}

	// OpenAI chat-completion shape: choices[0].message.content.
	if choices, ok := m["choices"].([]any); ok && len(choices) > 0 {
		choice, ok := choices[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("adapt response: malformed choice: %w", ErrUnsupportedResponse)
		}
		if msg, ok := choice["message"].(map[string]any); ok {
			if content, ok := msg["content"].(string); ok {
				resp.Text = content
				return resp, nil
			}
		}
		if text, ok := choice["text"].(string); ok {
			resp.Text = text
			return resp, nil
		}
		return nil, fmt.Errorf("adapt response: choice without content: %w", ErrUnsupportedResponse)
	}

	// Flat shapes.
	if text, ok := m["text"].(string); ok {
		resp.Text = text
		return resp, nil
	}
	if content, ok := m["content"].(string); ok {
		resp.Text = content
		return resp, nil
	}
	return nil, fmt.Errorf("adapt response: %w", ErrUnsupportedResponse)
}

// intField reads a numeric map field tolerating both float64 (JSON decoding)
// and int values.
func intField(m map[string]any, key string) int {
	switch n := m[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
