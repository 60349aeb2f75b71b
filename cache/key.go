package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lumenfold/cacheflow/types"
)

const keyPrefix = "prompt:"

// Canonical sampling defaults. An unset parameter is keyed as its default so
// that "unspecified" and "explicitly default" produce the same key. This
// policy is fixed for the life of the key scheme; changing it, or any part of
// the canonical form, invalidates every existing key (accepted limitation,
// there is no key versioning).
const (
	defaultTemperature = 1.0
	defaultTopP        = 1.0
	defaultTopK        = 0
)

// canonicalRequest is the exact structure that gets hashed. Field order is
// fixed by the struct, so serialization is deterministic.
type canonicalRequest struct {
	Model       string             `json:"model"`
	Messages    []canonicalMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	TopP        float64            `json:"top_p"`
	TopK        int                `json:"top_k"`
}

// canonicalMessage keeps only what is semantically relevant for keying.
// Message names, timestamps and request metadata never fragment the cache.
type canonicalMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// KeyBuilder derives deterministic, collision-resistant cache keys from
// requests. Two requests that agree on model, message roles/texts and the
// whitelisted sampling parameters (temperature, top_p, top_k) always produce
// the same key.
type KeyBuilder struct{}

// NewKeyBuilder creates a key builder.
func NewKeyBuilder() *KeyBuilder {
	return &KeyBuilder{}
}

// Build returns the cache key for req. An empty message list still yields a
// valid (degenerate) key. Errors here mean the request cannot participate in
// caching; callers treat that as a bypass, never as a failure.
func (b *KeyBuilder) Build(req *types.Request) (string, error) {
	if req == nil {
		return "", errors.New("build cache key: nil request")
	}

	canon := canonicalRequest{
		Model:       req.Model,
		Messages:    make([]canonicalMessage, 0, len(req.Messages)),
		Temperature: defaultTemperature,
		TopP:        defaultTopP,
		TopK:        defaultTopK,
	}
	for _, m := range req.Messages {
		canon.Messages = append(canon.Messages, canonicalMessage{
			Role: string(m.Role),
			Text: m.Content,
		})
	}
	if req.Temperature != nil {
		canon.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		canon.TopP = *req.TopP
	}
	if req.TopK != nil {
		canon.TopK = *req.TopK
	}

	data, err := json.Marshal(canon)
	if err != nil {
		return "", fmt.Errorf("serialize canonical request: %w", err)
	}
	hash := sha256.Sum256(data)
	return keyPrefix + hex.EncodeToString(hash[:16]), nil
}

// MustBuild is Build for code paths where the request is known-valid,
// primarily tests.
func (b *KeyBuilder) MustBuild(req *types.Request) string {
	key, err := b.Build(req)
	if err != nil {
		panic(err)
	}
	return key
}
