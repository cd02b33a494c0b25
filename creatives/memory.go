package creatives

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type ConversationRole string

const (
	RoleUser      ConversationRole = openai.ChatMessageRoleUser
	RoleAssistant ConversationRole = openai.ChatMessageRoleAssistant
)

// ConversationEntry is one turn of a user's conversation with the bot.
type ConversationEntry struct {
	Role      ConversationRole `json:"role"`
	Content   string           `json:"content"`
	CreatedAt time.Time        `json:"created_at"`
}

// UserForgetter is implemented by per-user state that must be dropped
// along with a user's conversation history.
type UserForgetter interface {
	Forget(userID string)
}

// ConversationMemory holds a bounded, ordered ledger of entries per user.
// Ledgers are capped at MaxEntries (oldest dropped first). When more than
// MaxUsers ledgers exist, only the KeepUsers most recently created are
// retained.
type ConversationMemory struct {
	mu         sync.Mutex
	ledgers    map[string][]ConversationEntry
	order      []string
	forgetters []UserForgetter
	maxEntries int
	maxUsers   int
	keepUsers  int
	now        func() time.Time
	logger     *slog.Logger
}

func NewConversationMemory(
	cfg MemoryConfig,
	logger *slog.Logger,
	forgetters ...UserForgetter,
) *ConversationMemory {
	if logger == nil {
		logger = slog.Default()
	}
	keep := cfg.KeepUsers
	if cfg.MaxUsers > 0 && (keep <= 0 || keep > cfg.MaxUsers) {
		keep = cfg.MaxUsers
	}
	return &ConversationMemory{
		ledgers:    map[string][]ConversationEntry{},
		forgetters: forgetters,
		maxEntries: cfg.MaxEntries,
		maxUsers:   cfg.MaxUsers,
		keepUsers:  keep,
		now:        time.Now,
		logger:     logger,
	}
}

// Append adds entries to the user's ledger, dropping the oldest entries
// beyond MaxEntries, then evicts users if the user cap is exceeded.
func (m *ConversationMemory) Append(userID string, entries ...ConversationEntry) {
	var evicted []string

	m.mu.Lock()
	ledger, exists := m.ledgers[userID]
	if !exists {
		m.order = append(m.order, userID)
	}
	for _, e := range entries {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = m.now()
		}
		ledger = append(ledger, e)
	}
	if m.maxEntries > 0 && len(ledger) > m.maxEntries {
		ledger = slices.Clone(ledger[len(ledger)-m.maxEntries:])
	}
	m.ledgers[userID] = ledger
	evicted = m.evictLocked()
	m.mu.Unlock()

	m.forget(evicted...)
}

// AppendExchange records a user prompt and the assistant's reply.
func (m *ConversationMemory) AppendExchange(userID, prompt, reply string) {
	now := m.now()
	m.Append(
		userID,
		ConversationEntry{Role: RoleUser, Content: prompt, CreatedAt: now},
		ConversationEntry{Role: RoleAssistant, Content: reply, CreatedAt: now},
	)
}

// SelectContext returns the longest most-recent run of entries whose
// estimated token cost stays strictly below budget, in chronological
// order.
func (m *ConversationMemory) SelectContext(userID string, budget int) []ConversationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	ledger := m.ledgers[userID]
	total := 0
	start := len(ledger)
	for i := len(ledger) - 1; i >= 0; i-- {
		cost := estimateTokens(ledger[i].Content)
		if total+cost >= budget {
			break
		}
		total += cost
		start = i
	}
	if start == len(ledger) {
		return nil
	}
	return slices.Clone(ledger[start:])
}

// EvictIfNeeded drops the oldest users when more than MaxUsers ledgers
// are tracked, and returns the evicted user IDs.
func (m *ConversationMemory) EvictIfNeeded() []string {
	m.mu.Lock()
	evicted := m.evictLocked()
	m.mu.Unlock()

	m.forget(evicted...)
	return evicted
}

func (m *ConversationMemory) evictLocked() []string {
	if m.maxUsers <= 0 || len(m.order) <= m.maxUsers {
		return nil
	}
	cut := len(m.order) - m.keepUsers
	evicted := slices.Clone(m.order[:cut])
	m.order = slices.Clone(m.order[cut:])
	for _, userID := range evicted {
		delete(m.ledgers, userID)
	}
	m.logger.Info(
		"evicted conversation ledgers",
		"evicted", len(evicted),
		"retained", len(m.order),
	)
	return evicted
}

// Clear removes the user's ledger and any per-user state held by the
// registered forgetters. It returns the number of entries removed.
func (m *ConversationMemory) Clear(userID string) int {
	m.mu.Lock()
	removed := len(m.ledgers[userID])
	delete(m.ledgers, userID)
	m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == userID })
	m.mu.Unlock()

	m.forget(userID)
	return removed
}

func (m *ConversationMemory) forget(userIDs ...string) {
	for _, userID := range userIDs {
		for _, f := range m.forgetters {
			f.Forget(userID)
		}
	}
}

// Len returns the number of entries in the user's ledger.
func (m *ConversationMemory) Len(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ledgers[userID])
}

// Users returns tracked user IDs, oldest first.
func (m *ConversationMemory) Users() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.order)
}

// Entries returns a copy of the user's full ledger.
func (m *ConversationMemory) Entries(userID string) []ConversationEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ledgers[userID])
}
