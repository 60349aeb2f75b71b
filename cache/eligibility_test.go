package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lumenfold/cacheflow/types"
)

func longAnswer() *types.Response {
	return &types.Response{Text: strings.Repeat("Go channels are typed conduits. ", 4)}
}

func TestEligibilityStableQuery(t *testing.T) {
	t.Parallel()
	f := NewEligibilityFilter(DefaultEligibilityConfig())

	req := chatRequest("gpt-4o", "helpful", "Explain how goroutines differ from threads.")
	assert.True(t, f.ShouldCache(req, longAnswer()))
}

func TestEligibilityTimeSensitiveQueries(t *testing.T) {
	t.Parallel()
	f := NewEligibilityFilter(DefaultEligibilityConfig())

	queries := []string{
		"What's the weather in Berlin?",
		"What TIME is it?",
		"Give me the latest Go release notes.",
		"Any recent changes to the API?",
		"What should I do right now?",
		"current exchange rate EUR to USD",
		"did the package get an update?",
		"what happened today",
	}
	for _, q := range queries {
		assert.False(t, f.ShouldCache(chatRequest("gpt-4o", "helpful", q), longAnswer()),
			"query %q should be time-sensitive", q)
	}
}

func TestEligibilityScansEveryMessage(t *testing.T) {
	t.Parallel()
	f := NewEligibilityFilter(DefaultEligibilityConfig())

	// A time-sensitive turn anywhere in the transcript vetoes the request,
	// even when the present question is stable: the answer may lean on the
	// stale context.
	req := types.NewRequest("gpt-4o",
		types.NewUserMessage("what's the weather?"),
		types.NewAssistantMessage("It is sunny."),
		types.NewUserMessage("Explain Go interfaces in depth."),
	)
	assert.False(t, f.CacheableRequest(req))
	assert.False(t, f.ShouldCache(req, longAnswer()))

	// The same conversation without the weather turn is fine.
	clean := types.NewRequest("gpt-4o",
		types.NewUserMessage("What is an interface?"),
		types.NewAssistantMessage("A method set contract."),
		types.NewUserMessage("Explain Go interfaces in depth."),
	)
	assert.True(t, f.CacheableRequest(clean))
	assert.True(t, f.ShouldCache(clean, longAnswer()))
}

func TestEligibilitySplitChecks(t *testing.T) {
	t.Parallel()
	f := NewEligibilityFilter(DefaultEligibilityConfig())

	assert.True(t, f.CacheableRequest(chatRequest("gpt-4o", "helpful", "Explain closures.")))
	assert.False(t, f.CacheableRequest(chatRequest("gpt-4o", "helpful", "weather in Oslo?")))
	assert.False(t, f.CacheableRequest(nil), "an unbuildable request cannot be keyed, let alone cached")

	assert.True(t, f.CacheableResponse(longAnswer()))
	assert.False(t, f.CacheableResponse(&types.Response{Text: "Yes."}))
	assert.False(t, f.CacheableResponse(nil))
}

func TestEligibilityShortResponse(t *testing.T) {
	t.Parallel()
	f := NewEligibilityFilter(DefaultEligibilityConfig())

	req := chatRequest("gpt-4o", "helpful", "Is Go garbage collected?")
	assert.False(t, f.ShouldCache(req, &types.Response{Text: "Yes."}))
	assert.False(t, f.ShouldCache(req, nil))

	// Length is counted in runes, not bytes.
	cjk := &types.Response{Text: strings.Repeat("语", 50)}
	assert.True(t, f.ShouldCache(req, cjk))
}

func TestEligibilityDisabled(t *testing.T) {
	t.Parallel()
	cfg := DefaultEligibilityConfig()
	cfg.Enabled = false
	f := NewEligibilityFilter(cfg)

	req := chatRequest("gpt-4o", "helpful", "Explain Go interfaces.")
	assert.False(t, f.ShouldCache(req, longAnswer()))
}

func TestEligibilityCustomMarkers(t *testing.T) {
	t.Parallel()
	cfg := DefaultEligibilityConfig()
	cfg.TimeSensitiveMarkers = []string{"  Stock Price ", ""}
	f := NewEligibilityFilter(cfg)

	assert.False(t, f.ShouldCache(chatRequest("gpt-4o", "helpful", "tsla stock price?"), longAnswer()))
	// Default markers are replaced, not merged.
	assert.True(t, f.ShouldCache(chatRequest("gpt-4o", "helpful", "weather tomorrow?"), longAnswer()))
}

func TestEligibilityEmptyMarkerSet(t *testing.T) {
	t.Parallel()
	cfg := DefaultEligibilityConfig()
	cfg.TimeSensitiveMarkers = []string{}
	f := NewEligibilityFilter(cfg)

	assert.True(t, f.ShouldCache(chatRequest("gpt-4o", "helpful", "weather now?"), longAnswer()),
		"explicitly empty marker set disables the time filter")
}

func TestIsTimeSensitive(t *testing.T) {
	t.Parallel()
	f := NewEligibilityFilter(DefaultEligibilityConfig())

	assert.True(t, f.IsTimeSensitive("The WEATHER report"))
	assert.True(t, f.IsTimeSensitive("I know this matches"), "substring match is deliberate: 'know' contains 'now'")
	assert.False(t, f.IsTimeSensitive(""))
	assert.False(t, f.IsTimeSensitive("pure algebra question"))
}
