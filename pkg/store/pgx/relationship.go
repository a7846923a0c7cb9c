package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/graphmill/graphmill/pkg/common"
	"github.com/graphmill/graphmill/pkg/kg"
	"github.com/graphmill/graphmill/pkg/logger"
	"github.com/graphmill/graphmill/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

type relationshipMetadata struct {
	DocumentID string  `json:"document_id,omitempty"`
	ChunkID    string  `json:"chunk_id,omitempty"`
	RawType    string  `json:"raw_type,omitempty"`
	RawScore   float64 `json:"raw_score,omitempty"`
}

// CreateRelationship inserts a weighted edge outside a transaction. See
// createRelationship for semantics.
func (s *GraphDBStorage) CreateRelationship(
	ctx context.Context,
	sourceID, targetID int64,
	typ kg.RelationshipType,
	confidence float64,
	description string,
	prov common.Provenance,
) (int64, error) {
	return s.createRelationship(ctx, s.conn, sourceID, targetID, typ, confidence, description, prov, false)
}

// createRelationship computes the edge weight, enforces the per-direction
// degree cap and inserts idempotently on (source, target, type). Symmetric
// types additionally synthesize the inverse edge; an inverse that would push
// the target over its own cap is dropped with a log line while the primary
// edge stays.
func (s *GraphDBStorage) createRelationship(
	ctx context.Context,
	q querier,
	sourceID, targetID int64,
	typ kg.RelationshipType,
	confidence float64,
	description string,
	prov common.Provenance,
	isInverse bool,
) (int64, error) {
	rawType := string(typ)
	confidence = kg.ClampConfidence(confidence)

	var weight float64
	if s.cfg.TypedRelationships() {
		weight = kg.Weight(typ, confidence)
	} else {
		typ = kg.TypeGeneric
		weight = 0
	}

	// Idempotency on (source, target, type): an existing edge wins and no
	// degree check runs for it.
	existingID, found, err := s.lookupRelationship(ctx, q, sourceID, targetID, typ)
	if err != nil {
		return 0, err
	}
	if found {
		return existingID, nil
	}

	outDegree, err := s.countOutgoing(ctx, q, sourceID)
	if err != nil {
		return 0, err
	}
	if outDegree >= int64(s.cfg.MaxEdgesPerEntity) {
		return 0, fmt.Errorf("%w: source=%d degree=%d cap=%d",
			store.ErrDegreeCapped, sourceID, outDegree, s.cfg.MaxEdgesPerEntity)
	}

	meta := relationshipMetadata{
		DocumentID: prov.DocumentID,
		ChunkID:    prov.ChunkID,
		RawType:    rawType,
		RawScore:   confidence,
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal relationship metadata: %w", err)
	}

	var id int64
	err = q.QueryRow(ctx, `
		INSERT INTO kg_relationships (kb_id, source_id, target_id, relationship_type, confidence, weight, description, chunk_id, document_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (kb_id, source_id, target_id, relationship_type) DO NOTHING
		RETURNING id`,
		s.kbID, sourceID, targetID, string(typ), confidence, weight, description, prov.ChunkID, prov.DocumentID, rawMeta,
	).Scan(&id)
	if errors.Is(err, pgxv5.ErrNoRows) {
		// A concurrent worker inserted the same triple; take its row.
		id, _, err = s.lookupRelationship(ctx, q, sourceID, targetID, typ)
		if err != nil {
			return 0, err
		}
		return id, nil
	}
	if err != nil {
		return 0, &store.StorageError{Op: "relationship insert", Err: err}
	}

	if !isInverse && typ.Symmetric() && s.cfg.Symmetric() {
		_, invErr := s.createRelationship(
			ctx, q,
			targetID, sourceID,
			typ, confidence,
			"[inverse] "+description,
			prov,
			true,
		)
		if invErr != nil {
			if errors.Is(invErr, store.ErrDegreeCapped) {
				logger.Debug("[Store] Symmetric inverse dropped at target degree cap",
					"source", targetID, "target", sourceID, "type", typ)
			} else {
				return 0, invErr
			}
		}
	}

	return id, nil
}

func (s *GraphDBStorage) lookupRelationship(
	ctx context.Context,
	q querier,
	sourceID, targetID int64,
	typ kg.RelationshipType,
) (int64, bool, error) {
	var id int64
	err := q.QueryRow(ctx, `
		SELECT id FROM kg_relationships
		WHERE kb_id = $1 AND source_id = $2 AND target_id = $3 AND relationship_type = $4`,
		s.kbID, sourceID, targetID, string(typ),
	).Scan(&id)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, &store.StorageError{Op: "relationship lookup", Err: err}
	}
	return id, true, nil
}

func (s *GraphDBStorage) countOutgoing(ctx context.Context, q querier, sourceID int64) (int64, error) {
	var count int64
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM kg_relationships WHERE kb_id = $1 AND source_id = $2`,
		s.kbID, sourceID,
	).Scan(&count)
	if err != nil {
		return 0, &store.StorageError{Op: "outgoing edge count", Err: err}
	}
	return count, nil
}
