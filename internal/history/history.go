// Package history implements the Prompt / History Manager: a set of
// mode-scoped chat histories, each seeded with a system prompt template,
// token-counted with a cl100k-compatible BPE tokenizer, and reduced to fit a
// caller-supplied budget without ever evicting the leading system entry.
package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/mrwong99/lokutor/pkg/types"
)

// Mode is the closed enumeration of conversational contexts. Each mode
// owns an independent history and a static system prompt template.
type Mode string

const (
	ModeModusSelection Mode = "MODUS_SELECTION"
	ModeChat           Mode = "CHAT"
	ModeLEDControl     Mode = "LEDCONTROL"
	ModeStatus         Mode = "STATUS"
	ModeExit           Mode = "EXIT"
	ModeGarbageInput   Mode = "GARBAGEINPUT"
)

// IsValid reports whether m is a recognised mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeModusSelection, ModeChat, ModeLEDControl, ModeStatus, ModeExit, ModeGarbageInput:
		return true
	}
	return false
}

// tiktokenEncoding is the BPE encoding name cl100k-compatible tokenizers use
// (matches GPT-3.5/GPT-4 class models, the nearest stand-in for the
// Ollama-hosted models this orchestrator talks to).
const tiktokenEncoding = "cl100k_base"

// DefaultTemplates returns the built-in system prompt template for every
// [Mode]. The built-in templates contain no "{{key}}" placeholders; the date
// reaches the history through the primer [Manager.EmptyHistory] prepends.
// Callers may override individual entries via [WithTemplate].
func DefaultTemplates() map[Mode]string {
	return map[Mode]string{
		ModeModusSelection: "Du bist ein Modus-Klassifizierer. Antworte ausschließlich mit einem der folgenden Wörter in Großbuchstaben: CHAT, LEDCONTROL, STATUS, EXIT. Keine weitere Ausgabe.",
		ModeChat:           "Du bist ein hilfreicher Sprachassistent. Antworte kurz, natürlich gesprochen und auf Deutsch, sofern nicht anders verlangt.",
		ModeLEDControl:     "Du steuerst eine LED-Anzeige über kurze Bestätigungssätze. Beschreibe nur, was geschaltet wurde.",
		ModeStatus:         "Du berichtest knapp über den Systemstatus: verfügbare Dienste, letzte Fehler, Betriebsdauer.",
		ModeExit:           "Verabschiede dich kurz und freundlich vom Benutzer.",
		ModeGarbageInput:   "Die letzte Eingabe war nicht verständlich. Bitte kurz und freundlich um Wiederholung.",
	}
}

// Manager owns a map Mode → ordered history. The zero value is not
// usable; construct with [New]. Manager is not safe for concurrent use — it
// is owned exclusively by the Orchestrator.
type Manager struct {
	templates map[Mode]string
	encoder   *tiktoken.Tiktoken

	active    Mode
	histories map[Mode][]types.HistoryEntry

	now func() time.Time
}

// Option configures a [Manager] at construction time.
type Option func(*Manager)

// WithTemplate overrides the system prompt template for a single mode.
func WithTemplate(m Mode, template string) Option {
	return func(mgr *Manager) { mgr.templates[m] = template }
}

// WithClock overrides the time source used for the date/weekday primer.
// Exists for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

// New constructs a Manager with the given initial mode and
// [DefaultTemplates], empties its history, and returns it. Returns an error
// if initial is not a recognised [Mode] or the tokenizer cannot be loaded.
func New(initial Mode, opts ...Option) (*Manager, error) {
	if !initial.IsValid() {
		return nil, fmt.Errorf("history: unknown initial mode %q", initial)
	}
	enc, err := tiktoken.GetEncoding(tiktokenEncoding)
	if err != nil {
		return nil, fmt.Errorf("history: load tokenizer: %w", err)
	}

	mgr := &Manager{
		templates: DefaultTemplates(),
		encoder:   enc,
		histories: make(map[Mode][]types.HistoryEntry),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(mgr)
	}

	if err := mgr.SetMode(initial); err != nil {
		return nil, err
	}
	return mgr, nil
}

// SetMode switches the active mode, creating an empty history for it if one
// does not already exist. Returns an error if m is not a recognised mode.
func (mgr *Manager) SetMode(m Mode) error {
	if !m.IsValid() {
		return fmt.Errorf("history: unknown mode %q", m)
	}
	mgr.active = m
	if _, ok := mgr.histories[m]; !ok {
		mgr.EmptyHistory()
	}
	return nil
}

// Mode returns the currently active mode.
func (mgr *Manager) Mode() Mode { return mgr.active }

// EmptyHistory replaces the active mode's history with a single system
// entry: a date/weekday primer prepended to the mode's template.
func (mgr *Manager) EmptyHistory() {
	primer := mgr.datePrimer()
	content := primer + mgr.templates[mgr.active]
	mgr.histories[mgr.active] = []types.HistoryEntry{{Role: types.RoleSystem, Content: content}}
}

func (mgr *Manager) datePrimer() string {
	now := mgr.now()
	return fmt.Sprintf("Heute ist %s, der %s.\n\n", now.Weekday(), now.Format("02.01.2006"))
}

// AddUserEntry appends a user-role entry to the active history.
func (mgr *Manager) AddUserEntry(text string) {
	mgr.histories[mgr.active] = append(mgr.histories[mgr.active], types.HistoryEntry{Role: types.RoleUser, Content: text})
}

// AddAssistantEntry appends an assistant-role entry to the active history.
func (mgr *Manager) AddAssistantEntry(text string) {
	mgr.histories[mgr.active] = append(mgr.histories[mgr.active], types.HistoryEntry{Role: types.RoleAssistant, Content: text})
}

// History returns the active mode's entries as [types.Message] values, ready
// to pass to an [llm.Provider.Chat] call.
func (mgr *Manager) History() []types.Message {
	entries := mgr.histories[mgr.active]
	out := make([]types.Message, len(entries))
	for i, e := range entries {
		out[i] = types.Message{Role: e.Role, Content: e.Content}
	}
	return out
}

// CountTokens estimates how many BPE tokens text would consume.
func (mgr *Manager) CountTokens(text string) int {
	return len(mgr.encoder.Encode(text, nil, nil))
}

// CountHistoryTokens sums [Manager.CountTokens] over every entry in the
// active history.
func (mgr *Manager) CountHistoryTokens() int {
	total := 0
	for _, e := range mgr.histories[mgr.active] {
		total += mgr.CountTokens(e.Content)
	}
	return total
}

// ReduceHistory applies the default reduction strategy to the active
// history if its token count exceeds limit: remove the oldest non-system
// entry, one at a time, until within budget. The leading system entry
// (index 0) is never removed — a deliberate deviation from discarding it
// unconditionally, since losing the mode's own instructions mid-conversation
// would silently change the assistant's behavior. If only the system entry
// remains and it alone exceeds limit, ReduceHistory stops there, keeping the
// lone system entry, and returns false.
func (mgr *Manager) ReduceHistory(limit int) bool {
	entries := mgr.histories[mgr.active]
	for mgr.sumTokens(entries) > limit {
		if len(entries) <= 1 {
			mgr.histories[mgr.active] = entries
			return false
		}
		entries = append(entries[:1:1], entries[2:]...)
	}
	mgr.histories[mgr.active] = entries
	return true
}

func (mgr *Manager) sumTokens(entries []types.HistoryEntry) int {
	total := 0
	for _, e := range entries {
		total += mgr.CountTokens(e.Content)
	}
	return total
}

// GetSystemPrompt returns the active mode's template with named
// placeholders of the form "{{key}}" substituted from ctx.
func (mgr *Manager) GetSystemPrompt(ctx map[string]string) string {
	template := mgr.templates[mgr.active]
	replacer := make([]string, 0, len(ctx)*2)
	for k, v := range ctx {
		replacer = append(replacer, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(replacer...).Replace(template)
}

// ParseModeSwitch parses the first line of an LLM reply produced under the
// MODUS_SELECTION template: trims surrounding whitespace, compares it
// case-insensitively against the [Mode] enumeration, and falls back to
// [ModeChat] for anything that does not match — garbage replies degrade to
// chat rather than aborting.
func ParseModeSwitch(reply string) Mode {
	firstLine, _, _ := strings.Cut(strings.TrimSpace(reply), "\n")
	candidate := Mode(strings.ToUpper(strings.TrimSpace(firstLine)))
	if candidate.IsValid() && candidate != ModeModusSelection {
		return candidate
	}
	return ModeChat
}
