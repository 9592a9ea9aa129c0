// Package postgres provides a PostgreSQL-backed implementation of every
// lorekeep memory interface: transcript, extracted memories, world state,
// voice mappings and backend outcomes.
//
// All stores share a single [pgxpool.Pool]. When an embeddings provider is
// configured, extracted memories are embedded at insert time and retrieved
// by pgvector cosine distance; [Migrate] installs the vector extension via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, postgres.WithEmbeddings(emb))
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.InsertMessage(ctx, campaignID, sessionID, msg)
//	top, _ := store.TopK(ctx, campaignID, "the ruined lighthouse", 8)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Transcript DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    seq          BIGSERIAL    PRIMARY KEY,
    campaign_id  TEXT         NOT NULL,
    session_id   TEXT         NOT NULL,
    message_id   TEXT         NOT NULL DEFAULT '',
    role         TEXT         NOT NULL,
    content      TEXT         NOT NULL,
    segments     JSONB        NOT NULL DEFAULT '[]',
    timestamp    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_session_seq
    ON messages (session_id, seq);

CREATE INDEX IF NOT EXISTS idx_messages_campaign
    ON messages (campaign_id);
`

// ─────────────────────────────────────────────────────────────────────────────
// World state DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlWorld = `
CREATE TABLE IF NOT EXISTS npcs (
    campaign_id  TEXT         NOT NULL,
    name         TEXT         NOT NULL,
    description  TEXT         NOT NULL DEFAULT '',
    location     TEXT         NOT NULL DEFAULT '',
    status       TEXT         NOT NULL DEFAULT '',
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (campaign_id, name)
);

CREATE TABLE IF NOT EXISTS locations (
    campaign_id  TEXT         NOT NULL,
    name         TEXT         NOT NULL,
    description  TEXT         NOT NULL DEFAULT '',
    status       TEXT         NOT NULL DEFAULT '',
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (campaign_id, name)
);

CREATE TABLE IF NOT EXISTS quests (
    campaign_id  TEXT         NOT NULL,
    name         TEXT         NOT NULL,
    status       TEXT         NOT NULL DEFAULT '',
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (campaign_id, name)
);

CREATE TABLE IF NOT EXISTS quest_updates (
    id           BIGSERIAL    PRIMARY KEY,
    campaign_id  TEXT         NOT NULL,
    quest_name   TEXT         NOT NULL,
    update_text  TEXT         NOT NULL,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_quest_updates_quest
    ON quest_updates (campaign_id, quest_name);
`

// ─────────────────────────────────────────────────────────────────────────────
// Voice mapping + backend outcome DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlOperational = `
CREATE TABLE IF NOT EXISTS voice_mappings (
    session_id   TEXT         NOT NULL,
    speaker      TEXT         NOT NULL,
    category     TEXT         NOT NULL,
    use_count    BIGINT       NOT NULL DEFAULT 1,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (session_id, speaker)
);

CREATE TABLE IF NOT EXISTS backend_outcomes (
    id            BIGSERIAL    PRIMARY KEY,
    tier          TEXT         NOT NULL,
    outcome       TEXT         NOT NULL,
    duration_ns   BIGINT       NOT NULL DEFAULT 0,
    message_len   INT          NOT NULL DEFAULT 0,
    response_len  INT          NOT NULL DEFAULT 0,
    error_class   TEXT         NOT NULL DEFAULT '',
    session_id    TEXT         NOT NULL DEFAULT '',
    timestamp     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_backend_outcomes_tier
    ON backend_outcomes (tier, timestamp);
`

// ddlMemories returns the memories DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlMemories(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memories (
    id           BIGSERIAL    PRIMARY KEY,
    campaign_id  TEXT         NOT NULL,
    session_id   TEXT         NOT NULL DEFAULT '',
    content      TEXT         NOT NULL,
    type         TEXT         NOT NULL DEFAULT '',
    importance   INT          NOT NULL DEFAULT 5,
    embedding    vector(%d),
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_memories_campaign
    ON memories (campaign_id);

CREATE INDEX IF NOT EXISTS idx_memories_embedding
    ON memories USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required tables and extensions exist. It is
// idempotent and safe to call on every application start.
//
// embeddingDimensions must match the configured embedding model (e.g., 1536
// for OpenAI text-embedding-3-small). Changing it after the first migration
// requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlMessages,
		ddlMemories(embeddingDimensions),
		ddlWorld,
		ddlOperational,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
