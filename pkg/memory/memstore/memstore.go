// Package memstore provides an in-memory implementation of every lorekeep
// memory interface. It backs single-node deployments without a database and
// most of the test suite.
//
// Retrieval ranks by importance then recency since there is no semantic
// index. All methods are safe for concurrent use.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lorekeep/lorekeep/pkg/memory"
	"github.com/lorekeep/lorekeep/pkg/types"
)

// Compile-time interface checks.
var (
	_ memory.MessageStore = (*Store)(nil)
	_ memory.MemoryStore  = (*Store)(nil)
	_ memory.WorldStore   = (*Store)(nil)
	_ memory.VoiceStore   = (*Store)(nil)
	_ memory.OutcomeStore = (*Store)(nil)
)

type storedMemory struct {
	record types.MemoryRecord
	seq    int64
}

type voiceMapping struct {
	category string
	useCount int64
}

type worldEntry struct {
	description string
	location    string
	status      string
	updates     []string
}

// Store is an in-memory implementation of the lorekeep memory interfaces.
// The zero value is not usable; construct with [New].
type Store struct {
	mu       sync.Mutex
	seq      int64
	messages map[string][]types.ChatMessage // keyed by session ID
	memories map[string][]storedMemory      // keyed by campaign ID
	npcs     map[string]map[string]*worldEntry
	places   map[string]map[string]*worldEntry
	quests   map[string]map[string]*worldEntry
	voices   map[string]*voiceMapping // keyed by session ID + "\x00" + speaker
	outcomes []types.BackendOutcome
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		messages: make(map[string][]types.ChatMessage),
		memories: make(map[string][]storedMemory),
		npcs:     make(map[string]map[string]*worldEntry),
		places:   make(map[string]map[string]*worldEntry),
		quests:   make(map[string]map[string]*worldEntry),
		voices:   make(map[string]*voiceMapping),
	}
}

// InsertMessage implements [memory.MessageStore].
func (s *Store) InsertMessage(_ context.Context, _ string, sessionID string, msg types.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	return nil
}

// Messages implements [memory.MessageStore]. Messages are returned in insert
// order.
func (s *Store) Messages(_ context.Context, sessionID string) ([]types.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ChatMessage, len(s.messages[sessionID]))
	copy(out, s.messages[sessionID])
	return out, nil
}

// InsertMemories implements [memory.MemoryStore].
func (s *Store) InsertMemories(_ context.Context, records []types.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.seq++
		s.memories[r.CampaignID] = append(s.memories[r.CampaignID], storedMemory{record: r, seq: s.seq})
	}
	return nil
}

// TopK implements [memory.MemoryStore]. Ranking is importance descending,
// then recency descending; the query text is ignored.
func (s *Store) TopK(_ context.Context, campaignID, _ string, k int) ([]types.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k <= 0 {
		return []types.MemoryRecord{}, nil
	}

	stored := make([]storedMemory, len(s.memories[campaignID]))
	copy(stored, s.memories[campaignID])
	sort.SliceStable(stored, func(i, j int) bool {
		if stored[i].record.Importance != stored[j].record.Importance {
			return stored[i].record.Importance > stored[j].record.Importance
		}
		return stored[i].seq > stored[j].seq
	})

	if len(stored) > k {
		stored = stored[:k]
	}
	out := make([]types.MemoryRecord, len(stored))
	for i, m := range stored {
		out[i] = m.record
	}
	return out, nil
}

// ApplyDelta implements [memory.WorldStore].
func (s *Store) ApplyDelta(_ context.Context, campaignID string, delta types.WorldDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var table map[string]map[string]*worldEntry
	switch delta.Kind {
	case types.DeltaNPC:
		table = s.npcs
	case types.DeltaLocation:
		table = s.places
	case types.DeltaQuest:
		table = s.quests
	default:
		return fmt.Errorf("memstore: unknown delta kind %q", delta.Kind)
	}

	if table[campaignID] == nil {
		table[campaignID] = make(map[string]*worldEntry)
	}
	entry := table[campaignID][delta.Name]
	if entry == nil {
		entry = &worldEntry{}
		table[campaignID][delta.Name] = entry
	}
	if delta.Description != "" {
		entry.description = delta.Description
	}
	if delta.Location != "" {
		entry.location = delta.Location
	}
	if delta.Status != "" {
		entry.status = delta.Status
	}
	if delta.Kind == types.DeltaQuest && delta.Update != "" {
		entry.updates = append(entry.updates, delta.Update)
	}
	return nil
}

// Category implements [memory.VoiceStore].
func (s *Store) Category(_ context.Context, sessionID, speaker string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.voices[voiceKey(sessionID, speaker)]
	if !ok {
		return "", false, nil
	}
	return m.category, true, nil
}

// SaveCategory implements [memory.VoiceStore].
func (s *Store) SaveCategory(_ context.Context, sessionID, speaker, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voices[voiceKey(sessionID, speaker)] = &voiceMapping{category: category, useCount: 1}
	return nil
}

// IncrementUse implements [memory.VoiceStore].
func (s *Store) IncrementUse(_ context.Context, sessionID, speaker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.voices[voiceKey(sessionID, speaker)]; ok {
		m.useCount++
	}
	return nil
}

// RecordOutcome implements [memory.OutcomeStore].
func (s *Store) RecordOutcome(_ context.Context, o types.BackendOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

// Outcomes returns a copy of all recorded backend outcomes, oldest first.
func (s *Store) Outcomes() []types.BackendOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.BackendOutcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

func voiceKey(sessionID, speaker string) string {
	return sessionID + "\x00" + strings.ToLower(strings.TrimSpace(speaker))
}
