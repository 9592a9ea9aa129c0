package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/lorekeep/lorekeep/pkg/memory"
	"github.com/lorekeep/lorekeep/pkg/provider/embeddings"
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

// defaultDimensions is used for the embedding column when no embeddings
// provider is configured. The column then stays NULL and retrieval falls
// back to importance/recency ordering.
const defaultDimensions = 1536

// Store is the central PostgreSQL-backed memory store for lorekeep. It holds
// a single [pgxpool.Pool] and implements every interface in [memory].
//
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	emb  embeddings.Provider // nil when semantic ranking is disabled
}

// Option customizes a Store created by [NewStore].
type Option func(*Store)

// WithEmbeddings enables semantic memory ranking. Memories are embedded with
// emb at insert time and [Store.TopK] orders by pgvector cosine distance.
func WithEmbeddings(emb embeddings.Provider) Option {
	return func(s *Store) { s.emb = emb }
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure all required tables and extensions exist.
func NewStore(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	s := &Store{pool: pool}
	for _, opt := range opts {
		opt(s)
	}

	dims := defaultDimensions
	if s.emb != nil {
		dims = s.emb.Dimensions()
	}
	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return s, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ─────────────────────────────────────────────────────────────────────────────
// MessageStore
// ─────────────────────────────────────────────────────────────────────────────

// InsertMessage implements [memory.MessageStore].
func (s *Store) InsertMessage(ctx context.Context, campaignID, sessionID string, msg types.ChatMessage) error {
	segments, err := json.Marshal(msg.Segments)
	if err != nil {
		return fmt.Errorf("message store: marshal segments: %w", err)
	}

	const q = `
		INSERT INTO messages
		    (campaign_id, session_id, message_id, role, content, segments, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.pool.Exec(ctx, q,
		campaignID,
		sessionID,
		msg.ID,
		string(msg.Role),
		msg.Content,
		segments,
		msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("message store: insert: %w", err)
	}
	return nil
}

// Messages implements [memory.MessageStore]. The transcript is ordered by
// insert sequence, not timestamp, so client clock skew cannot reorder it.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]types.ChatMessage, error) {
	const q = `
		SELECT message_id, role, content, segments, timestamp
		FROM   messages
		WHERE  session_id = $1
		ORDER  BY seq`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("message store: select: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.ChatMessage, error) {
		var (
			m        types.ChatMessage
			role     string
			segments []byte
		)
		if err := row.Scan(&m.ID, &role, &m.Content, &segments, &m.Timestamp); err != nil {
			return types.ChatMessage{}, err
		}
		m.Role = types.Role(role)
		if len(segments) > 0 {
			if err := json.Unmarshal(segments, &m.Segments); err != nil {
				return types.ChatMessage{}, fmt.Errorf("unmarshal segments: %w", err)
			}
		}
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("message store: scan rows: %w", err)
	}
	if msgs == nil {
		msgs = []types.ChatMessage{}
	}
	return msgs, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// MemoryStore
// ─────────────────────────────────────────────────────────────────────────────

// InsertMemories implements [memory.MemoryStore]. When an embeddings provider
// is configured the record contents are embedded in a single batch call.
func (s *Store) InsertMemories(ctx context.Context, records []types.MemoryRecord) error {
	if len(records) == 0 {
		return nil
	}

	var vectors []pgvector.Vector
	if s.emb != nil {
		texts := make([]string, len(records))
		for i, r := range records {
			texts[i] = r.Content
		}
		embedded, err := s.emb.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("memory store: embed batch: %w", err)
		}
		vectors = make([]pgvector.Vector, len(embedded))
		for i, e := range embedded {
			vectors[i] = pgvector.NewVector(e)
		}
	}

	const q = `
		INSERT INTO memories
		    (campaign_id, session_id, content, type, importance, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)`

	for i, r := range records {
		var vec any
		if vectors != nil {
			vec = vectors[i]
		}
		if _, err := s.pool.Exec(ctx, q,
			r.CampaignID,
			r.SessionID,
			r.Content,
			r.Type,
			r.Importance,
			vec,
		); err != nil {
			return fmt.Errorf("memory store: insert: %w", err)
		}
	}
	return nil
}

// TopK implements [memory.MemoryStore]. With an embeddings provider, the k
// nearest memories by cosine distance to the query embedding are returned.
// Without one, memories are ranked by importance then recency and the query
// text is ignored.
func (s *Store) TopK(ctx context.Context, campaignID, query string, k int) ([]types.MemoryRecord, error) {
	if k <= 0 {
		return []types.MemoryRecord{}, nil
	}

	var (
		rows pgx.Rows
		err  error
	)
	if s.emb != nil && query != "" {
		var embedded []float32
		embedded, err = s.emb.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("memory store: embed query: %w", err)
		}

		const q = `
			SELECT session_id, campaign_id, content, type, importance
			FROM   memories
			WHERE  campaign_id = $1
			  AND  embedding IS NOT NULL
			ORDER  BY embedding <=> $2
			LIMIT  $3`
		rows, err = s.pool.Query(ctx, q, campaignID, pgvector.NewVector(embedded), k)
	} else {
		const q = `
			SELECT session_id, campaign_id, content, type, importance
			FROM   memories
			WHERE  campaign_id = $1
			ORDER  BY importance DESC, created_at DESC
			LIMIT  $2`
		rows, err = s.pool.Query(ctx, q, campaignID, k)
	}
	if err != nil {
		return nil, fmt.Errorf("memory store: top-k: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.MemoryRecord, error) {
		var r types.MemoryRecord
		if err := row.Scan(&r.SessionID, &r.CampaignID, &r.Content, &r.Type, &r.Importance); err != nil {
			return types.MemoryRecord{}, err
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("memory store: scan rows: %w", err)
	}
	if records == nil {
		records = []types.MemoryRecord{}
	}
	return records, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// WorldStore
// ─────────────────────────────────────────────────────────────────────────────

// ApplyDelta implements [memory.WorldStore]. NPCs and locations upsert by
// (campaign, name); quest deltas upsert the quest row and append the update
// text to the quest's log.
func (s *Store) ApplyDelta(ctx context.Context, campaignID string, delta types.WorldDelta) error {
	switch delta.Kind {
	case types.DeltaNPC:
		const q = `
			INSERT INTO npcs (campaign_id, name, description, location, status)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (campaign_id, name) DO UPDATE SET
			    description = CASE WHEN EXCLUDED.description <> '' THEN EXCLUDED.description ELSE npcs.description END,
			    location    = CASE WHEN EXCLUDED.location    <> '' THEN EXCLUDED.location    ELSE npcs.location    END,
			    status      = CASE WHEN EXCLUDED.status      <> '' THEN EXCLUDED.status      ELSE npcs.status      END,
			    updated_at  = now()`
		if _, err := s.pool.Exec(ctx, q, campaignID, delta.Name, delta.Description, delta.Location, delta.Status); err != nil {
			return fmt.Errorf("world store: upsert npc: %w", err)
		}
		return nil

	case types.DeltaLocation:
		const q = `
			INSERT INTO locations (campaign_id, name, description, status)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (campaign_id, name) DO UPDATE SET
			    description = CASE WHEN EXCLUDED.description <> '' THEN EXCLUDED.description ELSE locations.description END,
			    status      = CASE WHEN EXCLUDED.status      <> '' THEN EXCLUDED.status      ELSE locations.status      END,
			    updated_at  = now()`
		if _, err := s.pool.Exec(ctx, q, campaignID, delta.Name, delta.Description, delta.Status); err != nil {
			return fmt.Errorf("world store: upsert location: %w", err)
		}
		return nil

	case types.DeltaQuest:
		const upsert = `
			INSERT INTO quests (campaign_id, name, status)
			VALUES ($1, $2, $3)
			ON CONFLICT (campaign_id, name) DO UPDATE SET
			    status     = CASE WHEN EXCLUDED.status <> '' THEN EXCLUDED.status ELSE quests.status END,
			    updated_at = now()`
		if _, err := s.pool.Exec(ctx, upsert, campaignID, delta.Name, delta.Status); err != nil {
			return fmt.Errorf("world store: upsert quest: %w", err)
		}
		if delta.Update != "" {
			const appendUpdate = `
				INSERT INTO quest_updates (campaign_id, quest_name, update_text)
				VALUES ($1, $2, $3)`
			if _, err := s.pool.Exec(ctx, appendUpdate, campaignID, delta.Name, delta.Update); err != nil {
				return fmt.Errorf("world store: append quest update: %w", err)
			}
		}
		return nil

	default:
		return fmt.Errorf("world store: unknown delta kind %q", delta.Kind)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// VoiceStore
// ─────────────────────────────────────────────────────────────────────────────

// Category implements [memory.VoiceStore].
func (s *Store) Category(ctx context.Context, sessionID, speaker string) (string, bool, error) {
	const q = `
		SELECT category
		FROM   voice_mappings
		WHERE  session_id = $1 AND speaker = $2`

	var category string
	err := s.pool.QueryRow(ctx, q, sessionID, speaker).Scan(&category)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("voice store: select: %w", err)
	}
	return category, true, nil
}

// SaveCategory implements [memory.VoiceStore].
func (s *Store) SaveCategory(ctx context.Context, sessionID, speaker, category string) error {
	const q = `
		INSERT INTO voice_mappings (session_id, speaker, category)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id, speaker) DO UPDATE SET
		    category = EXCLUDED.category`

	if _, err := s.pool.Exec(ctx, q, sessionID, speaker, category); err != nil {
		return fmt.Errorf("voice store: save: %w", err)
	}
	return nil
}

// IncrementUse implements [memory.VoiceStore].
func (s *Store) IncrementUse(ctx context.Context, sessionID, speaker string) error {
	const q = `
		UPDATE voice_mappings
		SET    use_count = use_count + 1
		WHERE  session_id = $1 AND speaker = $2`

	if _, err := s.pool.Exec(ctx, q, sessionID, speaker); err != nil {
		return fmt.Errorf("voice store: increment: %w", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// OutcomeStore
// ─────────────────────────────────────────────────────────────────────────────

// RecordOutcome implements [memory.OutcomeStore].
func (s *Store) RecordOutcome(ctx context.Context, o types.BackendOutcome) error {
	const q = `
		INSERT INTO backend_outcomes
		    (tier, outcome, duration_ns, message_len, response_len, error_class, session_id, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, q,
		string(o.Tier),
		string(o.Outcome),
		o.Duration.Nanoseconds(),
		o.MessageLen,
		o.ResponseLen,
		o.ErrorClass,
		o.SessionID,
		o.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("outcome store: insert: %w", err)
	}
	return nil
}
