package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/graphmill/graphmill/pkg/common"
	"github.com/graphmill/graphmill/pkg/kg"
)

// ErrDegreeCapped reports a relationship rejected because its source entity
// already carries the maximum number of outgoing edges. It is logged and
// non-fatal; the chunk continues.
var ErrDegreeCapped = errors.New("relationship rejected: source entity at edge cap")

// ErrResolutionRace reports a lost unique-constraint race on entity insert.
// Implementations recover from it internally by re-reading the winner; it
// only surfaces when the re-read itself fails.
var ErrResolutionRace = errors.New("entity insert lost unique-constraint race")

// StorageError wraps a database failure unrelated to the known races. It
// bubbles up to the indexer and marks the chunk failed without stopping the
// pipeline.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// EntityMetadata is the JSON metadata column of an entity row: the alias list
// plus covariates extracted by the model.
type EntityMetadata struct {
	Aliases    []string       `json:"aliases"`
	Covariates map[string]any `json:"covariates,omitempty"`
}

// GraphStats is the aggregate view the benchmark reporter reads after a run.
type GraphStats struct {
	Entities                 int64 `json:"entities"`
	Relationships            int64 `json:"relationships"`
	TypedRelationships       int64 `json:"typed_relationships"`
	DuplicateEntityGroups    int64 `json:"duplicate_entity_groups"`
	DistinctCanonicalIDs     int64 `json:"distinct_canonical_ids"`
}

// GraphStorage persists extractions into the typed, weighted knowledge graph.
// Implementations are shared across indexer workers and must be safe for
// concurrent use.
type GraphStorage interface {
	// FindOrCreateEntity resolves an entity candidate to a row id,
	// idempotent by canonical id with an embedding-similarity fallback
	// for near-duplicates.
	FindOrCreateEntity(ctx context.Context, name, description string, covariates map[string]any) (int64, error)

	// CreateRelationship inserts a weighted edge, idempotent on
	// (source, target, type). It enforces the per-entity degree cap and,
	// for symmetric types, synthesizes the inverse edge. Returns
	// ErrDegreeCapped when the source is at the cap.
	CreateRelationship(
		ctx context.Context,
		sourceID, targetID int64,
		typ kg.RelationshipType,
		confidence float64,
		description string,
		prov common.Provenance,
	) (int64, error)

	// Add persists one chunk's extraction transactionally: all entity
	// candidates resolve first, then relationships insert. Either both
	// commit or neither does.
	Add(ctx context.Context, extraction *common.Extraction, prov common.Provenance) error

	// HasChunk reports whether relationships from this chunk were already
	// persisted, so re-indexing can skip it.
	HasChunk(ctx context.Context, chunkID string) (bool, error)

	// Stats returns the aggregate graph counters for reporting.
	Stats(ctx context.Context) (GraphStats, error)
}
