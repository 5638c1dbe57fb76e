// Package router implements the Model Router (C6): mapping caller-facing
// model names to upstream model ids, deciding thinking-enablement, and
// holding the process-wide 1M-context toggle.
package router

import (
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v2/shared"
)

// Entry describes everything the rest of the pipeline needs to know about
// a resolved model.
type Entry struct {
	UpstreamID       string
	Family           string
	EnableThinking   bool
	Supports1MContext bool
}

// OneMillionSuffix is appended to a Gemini upstream id when the 1M-context
// toggle is on and the target model supports it. Exported so httpapi's
// fallback retry (SPEC_FULL.md §13's FALLBACK behavior) can strip it back
// off without duplicating the literal.
const OneMillionSuffix = "[1m]"

// thinkingBudgetDefault is the token budget ccbridge requests when a model
// name implies thinking should be on but the caller didn't ask explicitly
// (spec.md §4.2's 16,000-token default for the OpenAI path).
const thinkingBudgetDefault = 16000

// Router holds the static caller-name → upstream table plus the mutable
// 1M-context toggle, guarded by a short critical section per spec.md §5.
type Router struct {
	mu              sync.Mutex
	enable1MContext bool

	table        map[string]Entry
	defaultModel string
}

// New builds a Router seeded with the default caller-name table.
// defaultModel is used when a caller omits "model" entirely.
func New(defaultModel string) *Router {
	return &Router{
		table:        defaultTable(),
		defaultModel: defaultModel,
	}
}

// Set1MContext flips the global 1M-context toggle.
func (r *Router) Set1MContext(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enable1MContext = enabled
}

// Is1MContextEnabled reports the current toggle state.
func (r *Router) Is1MContextEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enable1MContext
}

// Resolve maps a caller-supplied model name to an upstream Entry. An empty
// name falls back to the router's configured default model. An unknown
// name that nonetheless looks like a raw Gemini model id is passed through
// unmapped, matching the teacher's permissive "unknown but well-shaped"
// fallback; anything else reports ok=false so C7 can return 400.
func (r *Router) Resolve(callerModel string) (Entry, bool) {
	name := callerModel
	if name == "" {
		name = r.defaultModel
	}

	entry, ok := r.table[name]
	if !ok {
		if strings.HasPrefix(name, "gemini-") {
			entry = Entry{
				UpstreamID:     name,
				Family:         modelFamily(name),
				EnableThinking: thinkingEnabledFor(name),
			}
			ok = true
		} else {
			return Entry{}, false
		}
	}

	if r.Is1MContextEnabled() && entry.Supports1MContext && !strings.HasSuffix(entry.UpstreamID, OneMillionSuffix) {
		entry.UpstreamID += OneMillionSuffix
	}
	return entry, true
}

// ThinkingBudget returns the default thinking-token budget ccbridge applies
// when a request implies thinking but does not specify a budget.
func ThinkingBudget() int { return thinkingBudgetDefault }

// thinkingEnabledFor implements spec.md §4.2's heuristic: a model name
// containing "thinking" or "gemini-3" enables thinking by default.
func thinkingEnabledFor(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "thinking") || strings.Contains(lower, "gemini-3")
}

// modelFamily derives the coarse family grouping C1's fallback namespace
// keys on (spec.md §3's glossary: "all Gemini-3 variants form one family").
func modelFamily(upstreamID string) string {
	id := strings.TrimSuffix(upstreamID, OneMillionSuffix)
	switch {
	case strings.HasPrefix(id, "gemini-3"):
		return "gemini-3"
	case strings.HasPrefix(id, "gemini-2.5"):
		return "gemini-2.5"
	case strings.HasPrefix(id, "gemini-2.0"):
		return "gemini-2.0"
	case strings.HasPrefix(id, "gemini-1.5"):
		return "gemini-1.5"
	default:
		return id
	}
}

// defaultTable seeds the caller-facing names an IDE like Cursor typically
// offers (OpenAI-style and Anthropic-style names alike) against upstream
// Gemini ids, following the teacher's context.go static-table-plus-override
// idiom. Real SDK model-name constants anchor the Anthropic- and
// OpenAI-facing aliases so the table can't silently drift from the
// upstream SDKs' own naming.
func defaultTable() map[string]Entry {
	t := map[string]Entry{
		"gemini-3-pro":        {UpstreamID: "gemini-3-pro-preview", Family: "gemini-3", EnableThinking: true, Supports1MContext: true},
		"gemini-2.5-pro":      {UpstreamID: "gemini-2.5-pro", Family: "gemini-2.5", EnableThinking: true, Supports1MContext: true},
		"gemini-2.5-flash":    {UpstreamID: "gemini-2.5-flash", Family: "gemini-2.5", EnableThinking: true, Supports1MContext: true},
		"gemini-2.0-flash":    {UpstreamID: "gemini-2.0-flash", Family: "gemini-2.0", EnableThinking: false, Supports1MContext: false},

		string(shared.ChatModelGPT4o):     {UpstreamID: "gemini-2.5-pro", Family: "gemini-2.5", EnableThinking: true, Supports1MContext: true},
		string(shared.ChatModelGPT4oMini): {UpstreamID: "gemini-2.5-flash", Family: "gemini-2.5", EnableThinking: true, Supports1MContext: true},
		string(shared.ChatModelO1):        {UpstreamID: "gemini-2.5-pro", Family: "gemini-2.5", EnableThinking: true, Supports1MContext: true},
		string(shared.ChatModelO3Mini):    {UpstreamID: "gemini-2.5-flash", Family: "gemini-2.5", EnableThinking: true, Supports1MContext: true},

		string(anthropic.ModelClaudeSonnet4_20250514): {UpstreamID: "gemini-3-pro-preview", Family: "gemini-3", EnableThinking: true, Supports1MContext: true},
		string(anthropic.ModelClaude3_7SonnetLatest):  {UpstreamID: "gemini-2.5-pro", Family: "gemini-2.5", EnableThinking: true, Supports1MContext: true},
		string(anthropic.ModelClaude3_5SonnetLatest):  {UpstreamID: "gemini-2.5-flash", Family: "gemini-2.5", EnableThinking: false, Supports1MContext: false},
		string(anthropic.ModelClaude3_5HaikuLatest):    {UpstreamID: "gemini-2.0-flash", Family: "gemini-2.0", EnableThinking: false, Supports1MContext: false},
	}
	return t
}

// All returns the full static table, for the supplemented GET /v1/models
// listing (SPEC_FULL.md §12).
func (r *Router) All() map[string]Entry {
	out := make(map[string]Entry, len(r.table))
	for k, v := range r.table {
		out[k] = v
	}
	return out
}
