// Package memory defines the persistence contracts consumed by the Lorekeep
// turn pipeline.
//
// Five narrow interfaces cover the pipeline's read/write needs:
//
//   - [MessageStore]: the chat transcript. Conversation integrity depends on
//     it, so its failures are hard errors.
//   - [MemoryStore]: extracted campaign facts with relevance-ranked retrieval.
//   - [WorldStore]: NPC / location / quest state deltas.
//   - [VoiceStore]: per-session speaker → voice-category mappings.
//   - [OutcomeStore]: persisted backend-tier outcomes for the monitor.
//
// All interfaces are public so external packages can supply alternative
// backends (Postgres/pgvector, in-memory, …) without depending on lorekeep
// internals. Every implementation must be safe for concurrent use.
package memory

import (
	"context"

	"github.com/lorekeep/lorekeep/pkg/types"
)

// MessageStore persists and retrieves the chat transcript. Messages are
// ordered by an implementation-assigned sequence number, not by timestamp,
// so retries cannot reorder a conversation.
type MessageStore interface {
	// InsertMessage appends msg to the transcript of the given session.
	InsertMessage(ctx context.Context, campaignID, sessionID string, msg types.ChatMessage) error

	// Messages returns the full transcript for sessionID ordered by sequence,
	// oldest first.
	Messages(ctx context.Context, sessionID string) ([]types.ChatMessage, error)
}

// MemoryStore persists extracted campaign facts and retrieves the most
// relevant ones for prompt assembly.
type MemoryStore interface {
	// InsertMemories bulk-inserts records. Implementations may embed the
	// content for semantic ranking at insert time.
	InsertMemories(ctx context.Context, records []types.MemoryRecord) error

	// TopK returns up to k memories for campaignID ranked by relevance to
	// query. Implementations without a semantic index rank by importance
	// then recency; query may then be ignored.
	TopK(ctx context.Context, campaignID, query string, k int) ([]types.MemoryRecord, error)
}

// WorldStore applies world-state deltas extracted from narrative turns.
// NPCs and locations upsert by name within a campaign; quest deltas append
// to the quest's update log.
type WorldStore interface {
	ApplyDelta(ctx context.Context, campaignID string, delta types.WorldDelta) error
}

// VoiceStore persists (session, normalized speaker name) → voice-category
// mappings with a usage counter.
type VoiceStore interface {
	// Category returns the persisted category for the speaker, with ok=false
	// when no mapping exists.
	Category(ctx context.Context, sessionID, speaker string) (category string, ok bool, err error)

	// SaveCategory persists a new mapping with a usage count of 1.
	SaveCategory(ctx context.Context, sessionID, speaker, category string) error

	// IncrementUse bumps the usage counter of an existing mapping.
	IncrementUse(ctx context.Context, sessionID, speaker string) error
}

// OutcomeStore persists backend-tier outcomes for operational comparison.
type OutcomeStore interface {
	RecordOutcome(ctx context.Context, o types.BackendOutcome) error
}
