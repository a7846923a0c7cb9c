package common

import "github.com/graphmill/graphmill/pkg/kg"

// Chunk is an opaque text fragment with a stable identifier and a
// back-pointer to its source document. Chunks are immutable inside the
// pipeline.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
}

// Document is a raw input text before chunking. The chunker that produces
// Chunks from it is an external collaborator; AddText carries a default one.
type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Provenance records where an extraction came from. It is attached to every
// relationship row and used to detect already-indexed chunks.
type Provenance struct {
	DocumentID string `json:"document_id"`
	ChunkID    string `json:"chunk_id"`
}

// EntityCandidate is an entity as proposed by the language model for one
// chunk, before resolution against the store. Covariates carry auxiliary
// attributes such as entity_type.
type EntityCandidate struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Covariates  map[string]any `json:"covariates,omitempty"`
}

// RelationshipCandidate is a typed, scored edge proposal between two entity
// candidates of the same chunk, referenced by name.
type RelationshipCandidate struct {
	SourceName  string              `json:"source_name"`
	TargetName  string              `json:"target_name"`
	Type        kg.RelationshipType `json:"type"`
	Confidence  float64             `json:"confidence"`
	Description string              `json:"description"`
}

// Extraction is the transient result of extracting one chunk. It is discarded
// after persistence.
type Extraction struct {
	Entities      []EntityCandidate       `json:"entities"`
	Relationships []RelationshipCandidate `json:"relationships"`

	// LLMCalls counts the oracle round-trips spent producing this
	// extraction, including retries. Used by the benchmark reporter.
	LLMCalls int `json:"llm_calls"`

	// LowConfidenceDropped counts relationship candidates silently dropped
	// below the confidence floor during validation.
	LowConfidenceDropped int `json:"low_confidence_dropped"`
}
