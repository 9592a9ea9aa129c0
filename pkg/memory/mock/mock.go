// Package mock provides in-memory test doubles for the memory interfaces.
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. All mocks are safe for
// concurrent use via an internal [sync.Mutex].
package mock

import (
	"context"
	"sync"

	"github.com/lorekeep/lorekeep/pkg/memory"
	"github.com/lorekeep/lorekeep/pkg/types"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// ─────────────────────────────────────────────────────────────────────────────
// MessageStore mock
// ─────────────────────────────────────────────────────────────────────────────

// MessageStore is a configurable test double for [memory.MessageStore].
type MessageStore struct {
	mu    sync.Mutex
	calls []Call

	// InsertMessageErr is returned by InsertMessage when non-nil.
	InsertMessageErr error

	// MessagesResult is returned by Messages. When nil, an empty non-nil
	// slice is returned.
	MessagesResult []types.ChatMessage

	// MessagesErr is returned by Messages when non-nil.
	MessagesErr error
}

var _ memory.MessageStore = (*MessageStore)(nil)

func (m *MessageStore) InsertMessage(_ context.Context, campaignID, sessionID string, msg types.ChatMessage) error {
	m.record("InsertMessage", campaignID, sessionID, msg)
	return m.InsertMessageErr
}

func (m *MessageStore) Messages(_ context.Context, sessionID string) ([]types.ChatMessage, error) {
	m.record("Messages", sessionID)
	if m.MessagesErr != nil {
		return nil, m.MessagesErr
	}
	if m.MessagesResult == nil {
		return []types.ChatMessage{}, nil
	}
	return m.MessagesResult, nil
}

// Calls returns a copy of all recorded method invocations.
func (m *MessageStore) Calls() []Call { return copyCalls(&m.mu, &m.calls) }

// CallCount returns how many times the named method was invoked.
func (m *MessageStore) CallCount(method string) int { return callCount(&m.mu, &m.calls, method) }

func (m *MessageStore) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// ─────────────────────────────────────────────────────────────────────────────
// MemoryStore mock
// ─────────────────────────────────────────────────────────────────────────────

// MemoryStore is a configurable test double for [memory.MemoryStore].
type MemoryStore struct {
	mu    sync.Mutex
	calls []Call

	// InsertMemoriesErr is returned by InsertMemories when non-nil.
	InsertMemoriesErr error

	// TopKResult is returned by TopK. When nil, an empty non-nil slice is
	// returned.
	TopKResult []types.MemoryRecord

	// TopKErr is returned by TopK when non-nil.
	TopKErr error
}

var _ memory.MemoryStore = (*MemoryStore)(nil)

func (m *MemoryStore) InsertMemories(_ context.Context, records []types.MemoryRecord) error {
	m.record("InsertMemories", records)
	return m.InsertMemoriesErr
}

func (m *MemoryStore) TopK(_ context.Context, campaignID, query string, k int) ([]types.MemoryRecord, error) {
	m.record("TopK", campaignID, query, k)
	if m.TopKErr != nil {
		return nil, m.TopKErr
	}
	if m.TopKResult == nil {
		return []types.MemoryRecord{}, nil
	}
	return m.TopKResult, nil
}

// Calls returns a copy of all recorded method invocations.
func (m *MemoryStore) Calls() []Call { return copyCalls(&m.mu, &m.calls) }

// CallCount returns how many times the named method was invoked.
func (m *MemoryStore) CallCount(method string) int { return callCount(&m.mu, &m.calls, method) }

func (m *MemoryStore) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// ─────────────────────────────────────────────────────────────────────────────
// WorldStore mock
// ─────────────────────────────────────────────────────────────────────────────

// WorldStore is a configurable test double for [memory.WorldStore].
type WorldStore struct {
	mu    sync.Mutex
	calls []Call

	// ApplyDeltaErr is returned by ApplyDelta when non-nil.
	ApplyDeltaErr error
}

var _ memory.WorldStore = (*WorldStore)(nil)

func (m *WorldStore) ApplyDelta(_ context.Context, campaignID string, delta types.WorldDelta) error {
	m.record("ApplyDelta", campaignID, delta)
	return m.ApplyDeltaErr
}

// Calls returns a copy of all recorded method invocations.
func (m *WorldStore) Calls() []Call { return copyCalls(&m.mu, &m.calls) }

// CallCount returns how many times the named method was invoked.
func (m *WorldStore) CallCount(method string) int { return callCount(&m.mu, &m.calls, method) }

func (m *WorldStore) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// ─────────────────────────────────────────────────────────────────────────────
// VoiceStore mock
// ─────────────────────────────────────────────────────────────────────────────

// VoiceStore is a configurable test double for [memory.VoiceStore].
type VoiceStore struct {
	mu    sync.Mutex
	calls []Call

	// Categories maps speaker names to persisted categories.
	Categories map[string]string

	// CategoryErr is returned by Category when non-nil.
	CategoryErr error

	// SaveCategoryErr is returned by SaveCategory when non-nil.
	SaveCategoryErr error

	// IncrementUseErr is returned by IncrementUse when non-nil.
	IncrementUseErr error
}

var _ memory.VoiceStore = (*VoiceStore)(nil)

func (m *VoiceStore) Category(_ context.Context, sessionID, speaker string) (string, bool, error) {
	m.record("Category", sessionID, speaker)
	if m.CategoryErr != nil {
		return "", false, m.CategoryErr
	}
	category, ok := m.Categories[speaker]
	return category, ok, nil
}

func (m *VoiceStore) SaveCategory(_ context.Context, sessionID, speaker, category string) error {
	m.record("SaveCategory", sessionID, speaker, category)
	if m.SaveCategoryErr != nil {
		return m.SaveCategoryErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Categories == nil {
		m.Categories = make(map[string]string)
	}
	m.Categories[speaker] = category
	return nil
}

func (m *VoiceStore) IncrementUse(_ context.Context, sessionID, speaker string) error {
	m.record("IncrementUse", sessionID, speaker)
	return m.IncrementUseErr
}

// Calls returns a copy of all recorded method invocations.
func (m *VoiceStore) Calls() []Call { return copyCalls(&m.mu, &m.calls) }

// CallCount returns how many times the named method was invoked.
func (m *VoiceStore) CallCount(method string) int { return callCount(&m.mu, &m.calls, method) }

func (m *VoiceStore) record(method string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: method, Args: args})
}

// ─────────────────────────────────────────────────────────────────────────────
// OutcomeStore mock
// ─────────────────────────────────────────────────────────────────────────────

// OutcomeStore is a configurable test double for [memory.OutcomeStore].
type OutcomeStore struct {
	mu    sync.Mutex
	calls []Call

	// RecordOutcomeErr is returned by RecordOutcome when non-nil.
	RecordOutcomeErr error

	// Recorded holds every outcome passed to RecordOutcome.
	Recorded []types.BackendOutcome
}

var _ memory.OutcomeStore = (*OutcomeStore)(nil)

func (m *OutcomeStore) RecordOutcome(_ context.Context, o types.BackendOutcome) error {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Method: "RecordOutcome", Args: []any{o}})
	if m.RecordOutcomeErr == nil {
		m.Recorded = append(m.Recorded, o)
	}
	err := m.RecordOutcomeErr
	m.mu.Unlock()
	return err
}

// Calls returns a copy of all recorded method invocations.
func (m *OutcomeStore) Calls() []Call { return copyCalls(&m.mu, &m.calls) }

// CallCount returns how many times the named method was invoked.
func (m *OutcomeStore) CallCount(method string) int { return callCount(&m.mu, &m.calls, method) }

func copyCalls(mu *sync.Mutex, calls *[]Call) []Call {
	mu.Lock()
	defer mu.Unlock()
	out := make([]Call, len(*calls))
	copy(out, *calls)
	return out
}

func callCount(mu *sync.Mutex, calls *[]Call, method string) int {
	mu.Lock()
	defer mu.Unlock()
	n := 0
	for _, c := range *calls {
		if c.Method == method {
			n++
		}
	}
	return n
}
