package contextopt

import (
	"go.uber.org/zap"

	"github.com/lumenfold/cacheflow/internal/metrics"
	"github.com/lumenfold/cacheflow/tokenizer"
	"github.com/lumenfold/cacheflow/types"
)

// Budget is the declarative token ceiling for one turn's context. Total is
// the hard target; PerComponent optionally caps individual components before
// the total is enforced.
type Budget struct {
	Total        int            `json:"total" yaml:"total"`
	PerComponent map[string]int `json:"per_component,omitempty" yaml:"per_component,omitempty"`
}

// trimOrder fixes which components give up tokens first. The current query
// and system prompt go last: trimming them risks breaking the task itself.
var trimOrder = []string{
	ComponentMemories,
	ComponentRecentTurns,
	ComponentSystemPrompt,
	ComponentCurrentQuery,
}

// maxTrimFraction caps how much of a component's original tokens one
// Allocate call may remove. The remainder floor keeps a runaway budget from
// collapsing a single component while others go untouched.
const maxTrimFraction = 0.8

// truncationMarker closes text that was cut mid-string.
const truncationMarker = "...[truncated]"

// BudgetManager trims a bundle to fit a token budget. It is a best-effort
// trimmer, never a hard enforcer: when the budget cannot be met without
// violating the per-component floor, it returns the maximally trimmed bundle
// and the caller decides whether to proceed. Allocate never fails.
type BudgetManager struct {
	counter   tokenizer.Tokenizer
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewBudgetManager creates a budget manager. counter may be nil (estimation),
// collector and logger may be nil.
func NewBudgetManager(counter tokenizer.Tokenizer, collector *metrics.Collector, logger *zap.Logger) *BudgetManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BudgetManager{
		counter:   counter,
		collector: collector,
		logger:    logger.With(zap.String("component", "budget_manager")),
	}
}

// Allocate returns a bundle fitting budget when that is achievable within the
// trim floor, or the maximally trimmed bundle otherwise. A bundle already
// within budget is returned as-is; this fast path runs on every turn and
// costs one counting pass.
func (m *BudgetManager) Allocate(b *Bundle, budget Budget) *Bundle {
	if b == nil || budget.Total <= 0 {
		return b
	}

	counts := m.componentTokens(b)
	total := sumCounts(counts)
	if total <= budget.Total && !subBudgetExceeded(counts, budget.PerComponent) {
		m.logger.Debug("context within budget",
			zap.Int("tokens", total), zap.Int("budget", budget.Total))
		return b
	}

	m.logger.Info("trimming context",
		zap.Int("tokens", total), zap.Int("budget", budget.Total))

	out := b.Clone()

	// Floors derive from the original counts: each component keeps at
	// least what maxTrimFraction leaves of what it arrived with.
	floors := make(map[string]int, len(counts))
	for name, n := range counts {
		floors[name] = n - int(maxTrimFraction*float64(n))
	}

	// Pass 1: per-component caps.
	for _, name := range trimOrder {
		limit, ok := budget.PerComponent[name]
		if !ok || counts[name] <= limit {
			continue
		}
		target := limit
		if target < floors[name] {
			target = floors[name]
		}
		m.trimTo(out, name, target, floors[name])
		m.noteTrim(name, counts[name], m.tokensFor(out, name))
		counts[name] = m.tokensFor(out, name)
	}

	// Pass 2: the total ceiling, lowest priority first.
	total = sumCounts(counts)
	for _, name := range trimOrder {
		if total <= budget.Total {
			break
		}
		target := counts[name] - (total - budget.Total)
		if target < floors[name] {
			target = floors[name]
		}
		if target >= counts[name] {
			continue
		}
		m.trimTo(out, name, target, floors[name])
		after := m.tokensFor(out, name)
		m.noteTrim(name, counts[name], after)
		total += after - counts[name]
		counts[name] = after
	}

	if total > budget.Total {
		m.collector.RecordBudgetUnachievable()
		m.logger.Warn("budget unachievable within trim floor",
			zap.Int("tokens", total), zap.Int("budget", budget.Total))
	} else {
		m.logger.Info("context trimmed",
			zap.Int("tokens", total), zap.Int("budget", budget.Total))
	}
	return out
}

// TotalTokens counts the whole bundle with this manager's tokenizer.
func (m *BudgetManager) TotalTokens(b *Bundle) int {
	if b == nil {
		return 0
	}
	return sumCounts(m.componentTokens(b))
}

func (m *BudgetManager) componentTokens(b *Bundle) map[string]int {
	return map[string]int{
		ComponentSystemPrompt: m.textTokens(b.SystemPrompt),
		ComponentRecentTurns:  m.turnTokens(b.RecentTurns),
		ComponentMemories:     m.memoryTokens(b.Memories),
		ComponentCurrentQuery: m.textTokens(b.CurrentQuery),
	}
}

func (m *BudgetManager) tokensFor(b *Bundle, name string) int {
	switch name {
	case ComponentSystemPrompt:
		return m.textTokens(b.SystemPrompt)
	case ComponentRecentTurns:
		return m.turnTokens(b.RecentTurns)
	case ComponentMemories:
		return m.memoryTokens(b.Memories)
	case ComponentCurrentQuery:
		return m.textTokens(b.CurrentQuery)
	}
	return 0
}

func (m *BudgetManager) textTokens(text string) int {
	if text == "" {
		return 0
	}
	return tokenizer.CountValue(m.counter, text)
}

func (m *BudgetManager) turnTokens(turns []types.Message) int {
	if len(turns) == 0 {
		return 0
	}
	return tokenizer.CountValue(m.counter, turns)
}

func (m *BudgetManager) memoryTokens(mems []Memory) int {
	total := 0
	for _, mem := range mems {
		total += m.textTokens(mem.Text)
	}
	return total
}

// trimTo reduces component name to at most target tokens without going below
// floor. Sequences lose whole elements from their low-priority end, oldest
// turn and least relevant memory first; strings are cut rune-safe with a
// truncation marker.
func (m *BudgetManager) trimTo(b *Bundle, name string, target, floor int) {
	switch name {
	case ComponentMemories:
		for len(b.Memories) > 0 && m.memoryTokens(b.Memories) > target {
			idx := len(b.Memories) - 1
			cost := m.textTokens(b.Memories[idx].Text)
			if m.memoryTokens(b.Memories)-cost < floor {
				break
			}
			b.Memories = b.Memories[:idx]
		}
	case ComponentRecentTurns:
		for len(b.RecentTurns) > 0 && m.turnTokens(b.RecentTurns) > target {
			rest := m.turnTokens(b.RecentTurns[1:])
			if rest < floor {
				break
			}
			b.RecentTurns = b.RecentTurns[1:]
		}
	case ComponentSystemPrompt:
		b.SystemPrompt = m.truncateText(b.SystemPrompt, target, floor)
	case ComponentCurrentQuery:
		b.CurrentQuery = m.truncateText(b.CurrentQuery, target, floor)
	}
}

// truncateText cuts text down to roughly target tokens, never below floor,
// on a rune boundary. The marker's own cost counts against the target, and a
// cut that would not actually shrink the text leaves it alone.
func (m *BudgetManager) truncateText(text string, target, floor int) string {
	cur := m.textTokens(text)
	if cur <= target {
		return text
	}
	if target < floor {
		target = floor
	}
	if target <= 0 {
		return text
	}

	content := target - m.textTokens(truncationMarker)
	runes := []rune(text)
	keep := int(float64(len(runes)) * float64(content) / float64(cur))
	if keep <= 0 {
		keep = 1
	}
	if keep >= len(runes) {
		return text
	}
	cut := string(runes[:keep]) + truncationMarker
	if m.textTokens(cut) >= cur {
		return text
	}
	return cut
}

func (m *BudgetManager) noteTrim(name string, before, after int) {
	if removed := before - after; removed > 0 {
		m.collector.AddTokensTrimmed(name, removed)
		m.logger.Debug("component trimmed",
			zap.String("component", name),
			zap.Int("removed_tokens", removed))
	}
}

func sumCounts(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

func subBudgetExceeded(counts map[string]int, limits map[string]int) bool {
	for name, limit := range limits {
		if counts[name] > limit {
			return true
		}
	}
	return false
}
