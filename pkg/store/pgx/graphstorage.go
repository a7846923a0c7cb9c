package pgx

import (
	"context"
	"fmt"

	"github.com/graphmill/graphmill/pkg/ai"
	"github.com/graphmill/graphmill/pkg/config"
	"github.com/graphmill/graphmill/pkg/kg"
	"github.com/graphmill/graphmill/pkg/logger"
	"github.com/graphmill/graphmill/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// querier is the subset of pgxIConn shared by connections and transactions,
// so resolution and edge insertion run the same code inside and outside a tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
}

// GraphDBStorage implements store.GraphStorage on PostgreSQL with pgvector.
// One instance serves one knowledge base and is shared across indexer
// workers; the per-canonical-id critical section is guarded by striped locks
// in-process and by the unique constraint on (kb_id, canonical_id) across
// processes.
type GraphDBStorage struct {
	conn     pgxIConn
	embedder ai.EmbeddingOracle
	cfg      config.Config
	kbID     string

	norm  kg.Normalizer
	cache *store.EntityCache
	locks *store.StripedLocks
}

// NewGraphDBStorageParams bundles the dependencies of a GraphDBStorage.
type NewGraphDBStorageParams struct {
	Conn            pgxIConn
	Embedder        ai.EmbeddingOracle
	Config          config.Config
	KnowledgeBaseID string
}

// NewGraphDBStorage creates the storage for one knowledge base. When cache
// warmup is enabled it preloads the most recently touched entities into the
// LRU.
func NewGraphDBStorage(ctx context.Context, params NewGraphDBStorageParams) (*GraphDBStorage, error) {
	if params.Conn == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if params.Embedder == nil {
		return nil, fmt.Errorf("embedding oracle is nil")
	}
	if params.KnowledgeBaseID == "" {
		return nil, fmt.Errorf("knowledge base id is empty")
	}

	cacheSize := 0
	if params.Config.CacheEnabled() {
		cacheSize = params.Config.EntityCacheSize
	}

	s := &GraphDBStorage{
		conn:     params.Conn,
		embedder: params.Embedder,
		cfg:      params.Config,
		kbID:     params.KnowledgeBaseID,
		norm:     kg.Normalizer{Enabled: params.Config.Canonicalization()},
		cache:    store.NewEntityCache(cacheSize),
		locks:    store.NewStripedLocks(),
	}

	if cacheSize > 0 && params.Config.EnableCacheWarmup {
		if err := s.warmupCache(ctx); err != nil {
			logger.Warn("[Store] Cache warmup failed", "error", err)
		}
	}

	return s, nil
}

// Cache exposes the entity cache for reporting.
func (s *GraphDBStorage) Cache() *store.EntityCache {
	return s.cache
}

func (s *GraphDBStorage) warmupCache(ctx context.Context) error {
	rows, err := s.conn.Query(ctx, `
		SELECT id, display_name, canonical_id, metadata
		FROM kg_entities
		WHERE kb_id = $1 AND canonical_id IS NOT NULL
		ORDER BY updated_at DESC
		LIMIT $2`,
		s.kbID, s.cfg.EntityCacheSize,
	)
	if err != nil {
		return err
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var (
			id          int64
			displayName string
			canonicalID string
			metadata    store.EntityMetadata
		)
		if err := rows.Scan(&id, &displayName, &canonicalID, &metadata); err != nil {
			return err
		}
		s.cache.Put(canonicalID, store.CachedEntity{
			ID:          id,
			DisplayName: displayName,
			Metadata:    metadata,
		})
		loaded++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	logger.Debug("[Store] Cache warmup complete", "entities", loaded)
	return nil
}

// HasChunk reports whether relationships from this chunk are already
// persisted in this knowledge base.
func (s *GraphDBStorage) HasChunk(ctx context.Context, chunkID string) (bool, error) {
	var exists bool
	err := s.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM kg_relationships WHERE kb_id = $1 AND chunk_id = $2
		)`,
		s.kbID, chunkID,
	).Scan(&exists)
	if err != nil {
		return false, &store.StorageError{Op: "has chunk", Err: err}
	}
	return exists, nil
}

// Stats returns the aggregate graph counters for this knowledge base.
func (s *GraphDBStorage) Stats(ctx context.Context) (store.GraphStats, error) {
	var stats store.GraphStats

	err := s.conn.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM kg_entities WHERE kb_id = $1),
			(SELECT COUNT(*) FROM kg_relationships WHERE kb_id = $1),
			(SELECT COUNT(*) FROM kg_relationships WHERE kb_id = $1 AND relationship_type <> 'generic'),
			(SELECT COUNT(*) FROM (
				SELECT 1 FROM kg_entities
				WHERE kb_id = $1
				GROUP BY COALESCE(NULLIF(normalized_name, ''), lower(display_name))
				HAVING COUNT(*) > 1
			) duplicates),
			(SELECT COUNT(DISTINCT canonical_id) FROM kg_entities WHERE kb_id = $1 AND canonical_id IS NOT NULL)`,
		s.kbID,
	).Scan(
		&stats.Entities,
		&stats.Relationships,
		&stats.TypedRelationships,
		&stats.DuplicateEntityGroups,
		&stats.DistinctCanonicalIDs,
	)
	if err != nil {
		return store.GraphStats{}, &store.StorageError{Op: "stats", Err: err}
	}
	return stats, nil
}
