package pgx

import (
	"context"
	"errors"

	"github.com/graphmill/graphmill/pkg/common"
	"github.com/graphmill/graphmill/pkg/logger"
	"github.com/graphmill/graphmill/pkg/store"
)

// Add persists one chunk's extraction in a single transaction: every entity
// candidate resolves first, then the chunk's relationships insert. The chunk
// either commits entirely or not at all. Degree-capped edges are logged and
// skipped without failing the chunk; cache writes are deferred until after
// the commit.
func (s *GraphDBStorage) Add(
	ctx context.Context,
	extraction *common.Extraction,
	prov common.Provenance,
) error {
	if extraction == nil || (len(extraction.Entities) == 0 && len(extraction.Relationships) == 0) {
		return nil
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return &store.StorageError{Op: "begin add transaction", Err: err}
	}
	defer tx.Rollback(ctx)

	var pending []pendingCache

	idByName := make(map[string]int64, len(extraction.Entities))
	for _, cand := range extraction.Entities {
		id, err := s.findOrCreateEntity(ctx, tx, cand.Name, cand.Description, cand.Covariates, &pending)
		if err != nil {
			return err
		}
		idByName[cand.Name] = id
	}

	capped := 0
	for _, rel := range extraction.Relationships {
		sourceID, ok := idByName[rel.SourceName]
		if !ok {
			continue
		}
		targetID, ok := idByName[rel.TargetName]
		if !ok {
			continue
		}
		if sourceID == targetID {
			// Candidates that merged into the same entity would form a
			// self-loop; skip them.
			continue
		}

		_, err := s.createRelationship(ctx, tx, sourceID, targetID, rel.Type, rel.Confidence, rel.Description, prov, false)
		if err != nil {
			if errors.Is(err, store.ErrDegreeCapped) {
				capped++
				logger.Warn("[Store] Relationship dropped at degree cap",
					"chunk_id", prov.ChunkID, "source", rel.SourceName, "target", rel.TargetName)
				continue
			}
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return &store.StorageError{Op: "commit add transaction", Err: err}
	}

	s.flushCache(pending)

	logger.Debug("[Store] Chunk persisted",
		"chunk_id", prov.ChunkID,
		"entities", len(idByName),
		"relationships", len(extraction.Relationships)-capped,
		"degree_capped", capped)
	return nil
}
