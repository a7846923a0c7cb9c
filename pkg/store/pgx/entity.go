package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/graphmill/graphmill/pkg/logger"
	"github.com/graphmill/graphmill/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// pendingCache is a cache write deferred until after the surrounding
// transaction commits, so other workers never observe uncommitted rows
// through the cache.
type pendingCache struct {
	canonicalID string
	entity      store.CachedEntity
}

// FindOrCreateEntity resolves an entity candidate outside a transaction.
// Cache writes take effect immediately.
func (s *GraphDBStorage) FindOrCreateEntity(
	ctx context.Context,
	name, description string,
	covariates map[string]any,
) (int64, error) {
	var pending []pendingCache
	id, err := s.findOrCreateEntity(ctx, s.conn, name, description, covariates, &pending)
	if err != nil {
		return 0, err
	}
	s.flushCache(pending)
	return id, nil
}

func (s *GraphDBStorage) flushCache(pending []pendingCache) {
	for _, p := range pending {
		s.cache.Put(p.canonicalID, p.entity)
	}
}

// findOrCreateEntity implements the resolution algorithm: canonical-id cache
// and database lookups, embedding-similarity fallback, then insert. The
// per-canonical-id stripe serializes concurrent creation of the same entity;
// the unique constraint on (kb_id, canonical_id) backstops workers in other
// processes, with the loser re-reading the winner.
func (s *GraphDBStorage) findOrCreateEntity(
	ctx context.Context,
	q querier,
	name, description string,
	covariates map[string]any,
	pending *[]pendingCache,
) (int64, error) {
	canonicalID := ""
	if s.cfg.Canonicalization() {
		canonicalID = s.norm.CanonicalID(name, description)

		mu := s.locks.ForKey(canonicalID)
		mu.Lock()
		defer mu.Unlock()

		if cached, ok := s.cache.Get(canonicalID); ok {
			return cached.ID, nil
		}

		id, found, err := s.lookupByCanonicalID(ctx, q, canonicalID, name, covariates, pending)
		if err != nil {
			return 0, err
		}
		if found {
			return id, nil
		}
	}

	embedding, err := s.embedder.GenerateEmbedding(ctx, []byte(s.norm.EmbeddingInput(name, description)))
	if err != nil {
		return 0, fmt.Errorf("failed to embed entity %q: %w", name, err)
	}

	id, found, err := s.lookupBySimilarity(ctx, q, canonicalID, name, embedding, covariates, pending)
	if err != nil {
		return 0, err
	}
	if found {
		return id, nil
	}

	return s.insertEntity(ctx, q, canonicalID, name, description, embedding, covariates, pending)
}

func (s *GraphDBStorage) lookupByCanonicalID(
	ctx context.Context,
	q querier,
	canonicalID, surface string,
	covariates map[string]any,
	pending *[]pendingCache,
) (int64, bool, error) {
	var (
		id          int64
		displayName string
		metadata    store.EntityMetadata
	)
	err := q.QueryRow(ctx, `
		SELECT id, display_name, metadata
		FROM kg_entities
		WHERE kb_id = $1 AND canonical_id = $2`,
		s.kbID, canonicalID,
	).Scan(&id, &displayName, &metadata)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &store.StorageError{Op: "entity lookup by canonical id", Err: err}
	}

	if err := s.mergeIntoExisting(ctx, q, id, displayName, surface, metadata, covariates); err != nil {
		return 0, false, err
	}

	*pending = append(*pending, pendingCache{
		canonicalID: canonicalID,
		entity:      store.CachedEntity{ID: id, DisplayName: displayName, Metadata: metadata},
	})
	return id, true, nil
}

func (s *GraphDBStorage) lookupBySimilarity(
	ctx context.Context,
	q querier,
	canonicalID, surface string,
	embedding []float32,
	covariates map[string]any,
	pending *[]pendingCache,
) (int64, bool, error) {
	var (
		id          int64
		displayName string
		metadata    store.EntityMetadata
		similarity  float64
	)
	err := q.QueryRow(ctx, `
		SELECT id, display_name, metadata, 1 - (embedding <=> $2) AS similarity
		FROM kg_entities
		WHERE kb_id = $1 AND embedding IS NOT NULL
		ORDER BY embedding <=> $2
		LIMIT 1`,
		s.kbID, pgvector.NewVector(embedding),
	).Scan(&id, &displayName, &metadata, &similarity)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &store.StorageError{Op: "entity similarity search", Err: err}
	}

	// Merge at or above the threshold, create below it.
	if similarity < s.cfg.EffectiveThreshold() {
		return 0, false, nil
	}

	if err := s.mergeIntoExisting(ctx, q, id, displayName, surface, metadata, covariates); err != nil {
		return 0, false, err
	}

	if canonicalID != "" {
		*pending = append(*pending, pendingCache{
			canonicalID: canonicalID,
			entity:      store.CachedEntity{ID: id, DisplayName: displayName, Metadata: metadata},
		})
	}
	return id, true, nil
}

// mergeIntoExisting applies the only mutations a present entity permits:
// alias append and covariate union. The display name stays frozen.
func (s *GraphDBStorage) mergeIntoExisting(
	ctx context.Context,
	q querier,
	id int64,
	displayName, surface string,
	metadata store.EntityMetadata,
	covariates map[string]any,
) error {
	changed := false
	merged := metadata

	if s.cfg.AliasTracking() {
		var aliasAdded bool
		merged, aliasAdded = store.AppendAlias(merged, surface, displayName)
		changed = changed || aliasAdded
	}

	if s.cfg.EnableEnhancedKG {
		var covChanged bool
		merged, covChanged = store.MergeCovariates(merged, covariates)
		changed = changed || covChanged
	}

	if !changed {
		return nil
	}

	raw, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal entity metadata: %w", err)
	}
	_, err = q.Exec(ctx, `
		UPDATE kg_entities SET metadata = $2, updated_at = now() WHERE id = $1`,
		id, raw,
	)
	if err != nil {
		return &store.StorageError{Op: "entity metadata merge", Err: err}
	}
	return nil
}

func (s *GraphDBStorage) insertEntity(
	ctx context.Context,
	q querier,
	canonicalID, name, description string,
	embedding []float32,
	covariates map[string]any,
	pending *[]pendingCache,
) (int64, error) {
	metadata := store.EntityMetadata{Aliases: []string{}, Covariates: covariates}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal entity metadata: %w", err)
	}

	normalizedName := s.norm.NormalizeName(name)
	vec := pgvector.NewVector(embedding)

	var id int64
	if canonicalID != "" {
		err = q.QueryRow(ctx, `
			INSERT INTO kg_entities (kb_id, display_name, normalized_name, canonical_id, description, embedding, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (kb_id, canonical_id) WHERE canonical_id IS NOT NULL DO NOTHING
			RETURNING id`,
			s.kbID, name, normalizedName, canonicalID, description, vec, raw,
		).Scan(&id)
		if errors.Is(err, pgxv5.ErrNoRows) {
			// Another worker won the insert between our lookup and now;
			// re-read the winner.
			logger.Debug("[Store] Entity resolution race recovered", "canonical_id", canonicalID)
			return s.reReadWinner(ctx, q, canonicalID, pending)
		}
	} else {
		err = q.QueryRow(ctx, `
			INSERT INTO kg_entities (kb_id, display_name, normalized_name, description, embedding, metadata)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			s.kbID, name, normalizedName, description, vec, raw,
		).Scan(&id)
	}
	if err != nil {
		return 0, &store.StorageError{Op: "entity insert", Err: err}
	}

	if canonicalID != "" {
		*pending = append(*pending, pendingCache{
			canonicalID: canonicalID,
			entity:      store.CachedEntity{ID: id, DisplayName: name, Metadata: metadata},
		})
	}
	return id, nil
}

func (s *GraphDBStorage) reReadWinner(
	ctx context.Context,
	q querier,
	canonicalID string,
	pending *[]pendingCache,
) (int64, error) {
	var (
		id          int64
		displayName string
		metadata    store.EntityMetadata
	)
	err := q.QueryRow(ctx, `
		SELECT id, display_name, metadata
		FROM kg_entities
		WHERE kb_id = $1 AND canonical_id = $2`,
		s.kbID, canonicalID,
	).Scan(&id, &displayName, &metadata)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrResolutionRace, err)
	}

	*pending = append(*pending, pendingCache{
		canonicalID: canonicalID,
		entity:      store.CachedEntity{ID: id, DisplayName: displayName, Metadata: metadata},
	})
	return id, nil
}
