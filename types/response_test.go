package types

import (
	"errors"
	"testing"
)

func TestAdaptResponse_PassThrough(t *testing.T) {
	t.Parallel()

	want := NewResponse("hello")
	got, err := AdaptResponse(want)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("expected same pointer back, got %p want %p", got, want)
	}

	byValue, err := AdaptResponse(*want)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if byValue.Text != "hello" {
		t.Fatalf("unexpected text: %q", byValue.Text)
	}
}

func TestAdaptResponse_String(t *testing.T) {
	t.Parallel()

	got, err := AdaptResponse("plain answer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "plain answer" {
		t.Fatalf("unexpected text: %q", got.Text)
	}
}

func TestAdaptResponse_ChatCompletionShape(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"id":    "chatcmpl-1",
		"model": "gpt-4o-mini",
		"choices": []any{
			map[string]any{
				"message": map[string]any{"role": "assistant", "content": "Paris"},
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     float64(12),
			"completion_tokens": float64(3),
			"total_tokens":      float64(15),
		},
	}

	got, err := AdaptResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "Paris" {
		t.Fatalf("unexpected text: %q", got.Text)
	}
	if got.ID != "chatcmpl-1" || got.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected identity fields: %+v", got)
	}
	if got.Usage.TotalTokens != 15 || got.Usage.PromptTokens != 12 {
		t.Fatalf("unexpected usage: %+v", got.Usage)
	}
}

func TestAdaptResponse_FlatShapes(t *testing.T) {
	t.Parallel()

	got, err := AdaptResponse(map[string]any{"text": "flat text"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "flat text" {
		t.Fatalf("unexpected text: %q", got.Text)
	}

	got, err = AdaptResponse(map[string]any{"content": "flat content"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Text != "flat content" {
		t.Fatalf("unexpected text: %q", got.Text)
	}
}

func TestAdaptResponse_Unsupported(t *testing.T) {
	t.Parallel()

	for _, v := range []any{nil, 42, []string{"x"}, map[string]any{"status": "ok"}} {
		_, err := AdaptResponse(v)
		if !errors.Is(err, ErrUnsupportedResponse) {
			t.Fatalf("expected ErrUnsupportedResponse for %T, got %v", v, err)
		}
	}
}

func TestRequest_Clone(t *testing.T) {
	t.Parallel()

	req := NewRequest("gpt-4o",
		NewSystemMessage("be brief"),
		NewUserMessage("capital of France"),
	).WithTemperature(0.7)
	req.Metadata = map[string]string{"session": "s1"}

	cp := req.Clone()
	cp.Messages[1].Content = "changed"
	cp.Metadata["session"] = "s2"

	if req.Messages[1].Content != "capital of France" {
		t.Fatalf("clone aliased messages: %q", req.Messages[1].Content)
	}
	if req.Metadata["session"] != "s1" {
		t.Fatalf("clone aliased metadata: %q", req.Metadata["session"])
	}
	if cp.Temperature == nil || *cp.Temperature != 0.7 {
		t.Fatalf("clone lost sampling params: %+v", cp.Temperature)
	}
}
