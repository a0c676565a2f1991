// Package budget keeps a conversation transcript inside a model's context
// window. It estimates token usage from character counts, drops the oldest
// droppable history when over budget, and never splits a tool call from its
// results.
package budget

import (
	"log/slog"

	"github.com/praxisworks/praxis/pkg/models"
)

const (
	// CharsPerToken is the estimation ratio. Coarse on purpose; the reserve
	// absorbs the error.
	CharsPerToken = 4

	// DefaultTokenLimit is assumed when the model's window is unknown.
	DefaultTokenLimit = 128000

	// DefaultReserveTokens is headroom left for the model's reply and the
	// estimation error.
	DefaultReserveTokens = 4096

	// DefaultKeepRecent is how many trailing message groups survive
	// trimming unconditionally.
	DefaultKeepRecent = 4
)

// Result reports what management did to a transcript.
type Result struct {
	Messages       []models.Message
	WasManaged     bool
	OriginalTokens int
	ManagedTokens  int
	TokenLimit     int
}

// Manager trims transcripts to fit a token budget.
type Manager struct {
	reserve    int
	keepRecent int
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithReserve sets the tokens held back for the reply.
func WithReserve(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.reserve = n
		}
	}
}

// WithKeepRecent sets the trailing group count that is never dropped.
func WithKeepRecent(n int) Option {
	return func(m *Manager) {
		if n >= 0 {
			m.keepRecent = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a Manager with defaults.
func New(opts ...Option) *Manager {
	m := &Manager{
		reserve:    DefaultReserveTokens,
		keepRecent: DefaultKeepRecent,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EstimateTokens approximates the token weight of a transcript plus
// overheadChars of request overhead (system prompt, tool declarations).
func EstimateTokens(msgs []models.Message, overheadChars int) int {
	chars := overheadChars
	for i := range msgs {
		// Per-message framing overhead.
		chars += msgs[i].Chars() + 16
	}
	return chars / CharsPerToken
}

// group is the atomic trimming unit: either a single message, or an
// assistant tool-call message together with all of its tool results. Groups
// are dropped whole, which is what keeps call/result pairing intact.
type group struct {
	msgs   []models.Message
	system bool
}

func (g *group) tokens() int {
	n := 0
	for i := range g.msgs {
		n += g.msgs[i].Chars() + 16
	}
	return n / CharsPerToken
}

// buildGroups partitions a transcript into atomic units.
func buildGroups(msgs []models.Message) []group {
	var groups []group
	i := 0
	for i < len(msgs) {
		m := msgs[i]
		if m.Role == models.RoleSystem {
			groups = append(groups, group{msgs: []models.Message{m}, system: true})
			i++
			continue
		}
		if m.HasToolCalls() {
			ids := make(map[string]bool, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				ids[tc.ID] = true
			}
			g := group{msgs: []models.Message{m}}
			j := i + 1
			for j < len(msgs) && msgs[j].IsToolRole() && ids[msgs[j].ToolCallID] {
				g.msgs = append(g.msgs, msgs[j])
				j++
			}
			groups = append(groups, g)
			i = j
			continue
		}
		groups = append(groups, group{msgs: []models.Message{m}})
		i++
	}
	return groups
}

// Manage fits msgs into limit tokens, leaving the reserve free. System
// messages and the most recent groups are always kept; everything else is
// dropped oldest-first until the transcript fits. overheadChars accounts for
// the system prompt and tool declarations sent alongside the transcript.
func (m *Manager) Manage(msgs []models.Message, limit, overheadChars int) Result {
	if limit <= 0 {
		limit = DefaultTokenLimit
	}
	res := Result{
		Messages:       msgs,
		OriginalTokens: EstimateTokens(msgs, overheadChars),
		TokenLimit:     limit,
	}
	res.ManagedTokens = res.OriginalTokens

	budget := limit - m.reserve
	if budget < 1 {
		budget = limit
	}
	if res.OriginalTokens <= budget {
		return res
	}

	groups := buildGroups(msgs)

	// Index of the first group in the protected tail.
	protectFrom := len(groups) - m.keepRecent
	if protectFrom < 0 {
		protectFrom = 0
	}

	overheadTokens := overheadChars / CharsPerToken
	total := overheadTokens
	for i := range groups {
		total += groups[i].tokens()
	}

	dropped := make([]bool, len(groups))
	droppedCount := 0
	for i := 0; i < protectFrom && total > budget; i++ {
		if groups[i].system {
			continue
		}
		dropped[i] = true
		droppedCount++
		total -= groups[i].tokens()
	}

	if droppedCount == 0 {
		// Nothing droppable. Send as-is and let the provider arbitrate.
		m.logger.Warn("transcript over budget with nothing droppable",
			"tokens", res.OriginalTokens, "limit", limit)
		return res
	}

	kept := make([]models.Message, 0, len(msgs))
	for i := range groups {
		if dropped[i] {
			continue
		}
		kept = append(kept, groups[i].msgs...)
	}

	res.Messages = kept
	res.WasManaged = true
	res.ManagedTokens = EstimateTokens(kept, overheadChars)
	m.logger.Info("managed context window",
		"dropped_groups", droppedCount,
		"original_tokens", res.OriginalTokens,
		"managed_tokens", res.ManagedTokens,
		"limit", limit)
	return res
}
