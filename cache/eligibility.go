package cache

import (
	"strings"
	"unicode/utf8"

	"github.com/lumenfold/cacheflow/types"
)

// DefaultTimeSensitiveMarkers lists query substrings that indicate the answer
// depends on when the question was asked. Matching is plain substring, so
// short markers like "now" also match words that contain them; the filter
// prefers excluding too much over serving a stale answer.
var DefaultTimeSensitiveMarkers = []string{
	"time",
	"weather",
	"today",
	"now",
	"current",
	"latest",
	"recent",
	"update",
}

// EligibilityConfig controls which responses may be written to the cache.
type EligibilityConfig struct {
	// Enabled gates all caching. When false every response is ineligible.
	Enabled bool `json:"enabled" yaml:"enabled"`
	// MinResponseLength is the minimum response length, in runes, worth
	// caching. Shorter responses are cheap to regenerate.
	MinResponseLength int `json:"min_response_length" yaml:"min_response_length"`
	// TimeSensitiveMarkers overrides DefaultTimeSensitiveMarkers when
	// non-nil. An explicitly empty slice disables marker filtering.
	TimeSensitiveMarkers []string `json:"time_sensitive_markers,omitempty" yaml:"time_sensitive_markers,omitempty"`
}

// DefaultEligibilityConfig returns the stock policy: caching on, 50-rune
// minimum, default marker set.
func DefaultEligibilityConfig() EligibilityConfig {
	return EligibilityConfig{
		Enabled:           true,
		MinResponseLength: 50,
	}
}

// EligibilityFilter applies a fixed storage policy to request/response pairs.
// It is immutable after construction and safe for concurrent use.
type EligibilityFilter struct {
	enabled   bool
	minLength int
	markers   []string
}

// NewEligibilityFilter builds a filter from cfg. Markers are lowercased once
// here so the per-request check is a simple scan; empty markers are dropped.
func NewEligibilityFilter(cfg EligibilityConfig) *EligibilityFilter {
	src := cfg.TimeSensitiveMarkers
	if src == nil {
		src = DefaultTimeSensitiveMarkers
	}
	markers := make([]string, 0, len(src))
	for _, m := range src {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" {
			continue
		}
		markers = append(markers, m)
	}
	return &EligibilityFilter{
		enabled:   cfg.Enabled,
		minLength: cfg.MinResponseLength,
		markers:   markers,
	}
}

// CacheableRequest reports whether req may take part in caching at all. A
// marker in any message vetoes the whole request: once time-sensitive text
// enters the transcript, every answer built on it may depend on when the
// conversation happened.
func (f *EligibilityFilter) CacheableRequest(req *types.Request) bool {
	if !f.enabled || req == nil {
		return false
	}
	for i := range req.Messages {
		if f.IsTimeSensitive(req.Messages[i].Content) {
			return false
		}
	}
	return true
}

// CacheableResponse reports whether resp is substantial enough to store.
// Responses below the minimum rune length are cheap to regenerate and more
// likely to be truncation or error artifacts than genuine answers.
func (f *EligibilityFilter) CacheableResponse(resp *types.Response) bool {
	if !f.enabled {
		return false
	}
	return resp != nil && utf8.RuneCountInString(resp.Text) >= f.minLength
}

// ShouldCache combines both checks: whether resp is worth storing as the
// cached answer for req.
func (f *EligibilityFilter) ShouldCache(req *types.Request, resp *types.Response) bool {
	return f.CacheableRequest(req) && f.CacheableResponse(resp)
}

// IsTimeSensitive reports whether text contains any configured marker.
// The check is case-insensitive.
func (f *EligibilityFilter) IsTimeSensitive(text string) bool {
	if text == "" || len(f.markers) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, m := range f.markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
