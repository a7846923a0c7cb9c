package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/graphmill/graphmill/internal/util"
	"github.com/graphmill/graphmill/pkg/ai"
	"github.com/graphmill/graphmill/pkg/common"
	"github.com/graphmill/graphmill/pkg/config"
	"github.com/graphmill/graphmill/pkg/kg"
	"github.com/graphmill/graphmill/pkg/logger"
)

const defaultMaxRetries = 3

// ExtractionError reports that a chunk could not be extracted after the
// retry budget was exhausted. It is scoped to the chunk; the indexer records
// it and moves on.
type ExtractionError struct {
	ChunkID  string
	Attempts int
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for chunk %s after %d attempts: %v", e.ChunkID, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

type extractEntity struct {
	Name        string         `json:"name" jsonschema_description:"Name of the entity, a clear and concise term"`
	Description string         `json:"description" jsonschema_description:"Complete and comprehensive description sentence for the entity, grounded in the source text"`
	EntityType  string         `json:"entity_type" jsonschema_description:"Type or category of the entity, e.g. 'drug', 'condition', 'procedure', 'organization', 'concept'"`
	Metadata    map[string]any `json:"metadata,omitempty" jsonschema_description:"Additional structured attributes of the entity supported by the text"`
}

type extractRelationship struct {
	SourceEntity     string  `json:"source_entity" jsonschema_description:"Name of the source entity, exactly as it appears in the entities list"`
	TargetEntity     string  `json:"target_entity" jsonschema_description:"Name of the target entity, exactly as it appears in the entities list"`
	Description      string  `json:"description" jsonschema_description:"Complete sentence explaining how the source and target entities are related"`
	RelationshipType string  `json:"relationship_type" jsonschema_description:"One of: hypernym, hyponym, meronym, holonym, synonym, antonym, causal, temporal, dependency, reference, generic"`
	Confidence       float64 `json:"confidence" jsonschema_description:"Confidence score between 0.0 and 1.0: 0.9+ for explicit statements, 0.7-0.8 for clear implications, 0.5-0.6 for weak inferences"`
}

type extractResponse struct {
	Entities      []extractEntity       `json:"entities" jsonschema_description:"Entities identified in the text"`
	Relationships []extractRelationship `json:"relationships" jsonschema_description:"Relationships identified in the text"`
}

type legacyEntity struct {
	Name        string `json:"name" jsonschema_description:"Name of the entity"`
	Description string `json:"description" jsonschema_description:"Complete description sentence for the entity"`
}

type legacyRelationship struct {
	SourceEntity string `json:"source_entity" jsonschema_description:"Name of the source entity, exactly as it appears in the entities list"`
	TargetEntity string `json:"target_entity" jsonschema_description:"Name of the target entity, exactly as it appears in the entities list"`
	Description  string `json:"description" jsonschema_description:"Complete sentence explaining how the entities are related"`
}

type legacyGraphResponse struct {
	Entities      []legacyEntity       `json:"entities" jsonschema_description:"Entities identified in the text"`
	Relationships []legacyRelationship `json:"relationships" jsonschema_description:"Relationships identified in the text"`
}

type legacyCovariate struct {
	EntityName string         `json:"entity_name" jsonschema_description:"Name of the entity, exactly as listed"`
	EntityType string         `json:"entity_type" jsonschema_description:"Type or category of the entity"`
	Attributes map[string]any `json:"attributes,omitempty" jsonschema_description:"Additional structured attributes supported by the text"`
}

type legacyCovariateResponse struct {
	Covariates []legacyCovariate `json:"covariates" jsonschema_description:"Covariates for the listed entities"`
}

// Extractor turns chunk text into an Extraction via the language oracle.
// Enhanced mode issues exactly one structured call per chunk; legacy mode
// issues two (graph, then covariates).
type Extractor struct {
	oracle     ai.LanguageOracle
	cfg        config.Config
	maxRetries int
}

// New creates an Extractor bound to the given oracle and configuration.
func New(oracle ai.LanguageOracle, cfg config.Config) *Extractor {
	return &Extractor{
		oracle:     oracle,
		cfg:        cfg,
		maxRetries: defaultMaxRetries,
	}
}

// Extract issues the structured oracle call(s) for one chunk and returns the
// validated extraction. On persistent oracle failure it returns an
// *ExtractionError scoped to this chunk.
func (e *Extractor) Extract(ctx context.Context, chunk common.Chunk) (*common.Extraction, error) {
	if e.cfg.EnableEnhancedKG {
		return e.extractUnified(ctx, chunk)
	}
	return e.extractLegacy(ctx, chunk)
}

func (e *Extractor) extractUnified(ctx context.Context, chunk common.Chunk) (*common.Extraction, error) {
	taxonomy := make([]string, 0, len(kg.RelationshipTypes()))
	for _, t := range kg.RelationshipTypes() {
		taxonomy = append(taxonomy, string(t))
	}
	systemPrompt := fmt.Sprintf(ai.ExtractPromptUnified, strings.Join(taxonomy, ", "), e.cfg.MinRelationshipConfidence)

	calls := 0
	res, err := util.RetryWithContext(ctx, e.maxRetries, func(ctx context.Context) (*extractResponse, error) {
		calls++
		var out extractResponse
		err := e.oracle.GenerateCompletionWithFormat(
			ctx,
			"extract_knowledge_graph",
			"Extract entities with covariates and typed relationships from a text fragment.",
			chunk.Text,
			&out,
			ai.WithSystemPrompts(systemPrompt),
		)
		if err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, &ExtractionError{ChunkID: chunk.ID, Attempts: calls, Err: err}
	}

	entities := make([]common.EntityCandidate, 0, len(res.Entities))
	for _, ent := range res.Entities {
		if strings.TrimSpace(ent.Name) == "" {
			continue
		}
		covariates := make(map[string]any, len(ent.Metadata)+1)
		for k, v := range ent.Metadata {
			covariates[k] = v
		}
		entityType := ent.EntityType
		if entityType == "" {
			entityType = "concept"
		}
		covariates["entity_type"] = entityType
		entities = append(entities, common.EntityCandidate{
			Name:        ent.Name,
			Description: ent.Description,
			Covariates:  covariates,
		})
	}

	relationships := make([]common.RelationshipCandidate, 0, len(res.Relationships))
	for _, rel := range res.Relationships {
		relationships = append(relationships, common.RelationshipCandidate{
			SourceName:  rel.SourceEntity,
			TargetName:  rel.TargetEntity,
			Type:        kg.ParseRelationshipType(rel.RelationshipType),
			Confidence:  kg.ClampConfidence(rel.Confidence),
			Description: rel.Description,
		})
	}

	kept, lowConfidence := e.validateRelationships(chunk.ID, entities, relationships)
	ex := &common.Extraction{
		Entities:             entities,
		Relationships:        kept,
		LLMCalls:             calls,
		LowConfidenceDropped: lowConfidence,
	}
	return ex, nil
}

func (e *Extractor) extractLegacy(ctx context.Context, chunk common.Chunk) (*common.Extraction, error) {
	calls := 0
	graph, err := util.RetryWithContext(ctx, e.maxRetries, func(ctx context.Context) (*legacyGraphResponse, error) {
		calls++
		var out legacyGraphResponse
		err := e.oracle.GenerateCompletionWithFormat(
			ctx,
			"extract_entities_and_relationships",
			"Extract entities and relationships from a text fragment.",
			chunk.Text,
			&out,
			ai.WithSystemPrompts(ai.ExtractPromptLegacyGraph),
		)
		if err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, &ExtractionError{ChunkID: chunk.ID, Attempts: calls, Err: err}
	}

	entities := make([]common.EntityCandidate, 0, len(graph.Entities))
	names := make([]string, 0, len(graph.Entities))
	for _, ent := range graph.Entities {
		if strings.TrimSpace(ent.Name) == "" {
			continue
		}
		entities = append(entities, common.EntityCandidate{
			Name:        ent.Name,
			Description: ent.Description,
			Covariates:  map[string]any{},
		})
		names = append(names, ent.Name)
	}

	if len(entities) > 0 {
		covariates, covCalls, err := e.extractLegacyCovariates(ctx, chunk, names)
		calls += covCalls
		if err != nil {
			return nil, err
		}
		byName := make(map[string]int, len(entities))
		for i := range entities {
			byName[entities[i].Name] = i
		}
		for _, cov := range covariates {
			idx, ok := byName[cov.EntityName]
			if !ok {
				continue
			}
			for k, v := range cov.Attributes {
				entities[idx].Covariates[k] = v
			}
			if cov.EntityType != "" {
				entities[idx].Covariates["entity_type"] = cov.EntityType
			}
		}
	}

	relationships := make([]common.RelationshipCandidate, 0, len(graph.Relationships))
	for _, rel := range graph.Relationships {
		relationships = append(relationships, common.RelationshipCandidate{
			SourceName: rel.SourceEntity,
			TargetName: rel.TargetEntity,
			Type:       kg.TypeGeneric,
			// Legacy extraction carries no confidence signal; rows
			// default to 0.8 like the migrated schema does.
			Confidence:  0.8,
			Description: rel.Description,
		})
	}

	kept, lowConfidence := e.validateRelationships(chunk.ID, entities, relationships)
	ex := &common.Extraction{
		Entities:             entities,
		Relationships:        kept,
		LLMCalls:             calls,
		LowConfidenceDropped: lowConfidence,
	}
	return ex, nil
}

func (e *Extractor) extractLegacyCovariates(
	ctx context.Context,
	chunk common.Chunk,
	names []string,
) ([]legacyCovariate, int, error) {
	systemPrompt := fmt.Sprintf(ai.ExtractPromptLegacyCovariates, strings.Join(names, "\n"))

	calls := 0
	res, err := util.RetryWithContext(ctx, e.maxRetries, func(ctx context.Context) (*legacyCovariateResponse, error) {
		calls++
		var out legacyCovariateResponse
		err := e.oracle.GenerateCompletionWithFormat(
			ctx,
			"extract_entity_covariates",
			"Extract covariates for the listed entities from a text fragment.",
			chunk.Text,
			&out,
			ai.WithSystemPrompts(systemPrompt),
		)
		if err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		return nil, calls, &ExtractionError{ChunkID: chunk.ID, Attempts: calls, Err: err}
	}
	return res.Covariates, calls, nil
}

// validateRelationships applies the mandatory candidate validation: both
// endpoints must name extracted entities, confidence is already clamped, and
// anything under the configured minimum is dropped. Boundary: confidence
// exactly at the minimum is kept. The second return value counts the
// low-confidence drops for metrics.
func (e *Extractor) validateRelationships(
	chunkID string,
	entities []common.EntityCandidate,
	relationships []common.RelationshipCandidate,
) ([]common.RelationshipCandidate, int) {
	known := make(map[string]struct{}, len(entities))
	for _, ent := range entities {
		known[ent.Name] = struct{}{}
	}

	kept := make([]common.RelationshipCandidate, 0, len(relationships))
	dropped := 0
	lowConfidence := 0
	for _, rel := range relationships {
		if _, ok := known[rel.SourceName]; !ok {
			dropped++
			continue
		}
		if _, ok := known[rel.TargetName]; !ok {
			dropped++
			continue
		}
		if rel.Confidence < e.cfg.MinRelationshipConfidence {
			lowConfidence++
			continue
		}
		kept = append(kept, rel)
	}

	if dropped > 0 {
		logger.Debug("[Extract] Dropped relationships with unknown endpoints", "chunk_id", chunkID, "count", dropped)
	}
	if lowConfidence > 0 {
		logger.Debug("[Extract] Dropped low-confidence relationships", "chunk_id", chunkID, "count", lowConfidence)
	}

	return kept, lowConfidence
}
