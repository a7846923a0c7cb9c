package extract

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/graphmill/graphmill/pkg/ai"
	"github.com/graphmill/graphmill/pkg/common"
	"github.com/graphmill/graphmill/pkg/config"
	"github.com/graphmill/graphmill/pkg/kg"
)

// fakeOracle scripts GenerateCompletionWithFormat responses keyed by schema
// name. A response of "" fails that call.
type fakeOracle struct {
	responses map[string][]string
	calls     map[string]int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		responses: make(map[string][]string),
		calls:     make(map[string]int),
	}
}

func (f *fakeOracle) script(name string, responses ...string) {
	f.responses[name] = responses
}

func (f *fakeOracle) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", errors.New("not scripted")
}

func (f *fakeOracle) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	idx := f.calls[name]
	f.calls[name]++

	queue := f.responses[name]
	if len(queue) == 0 {
		return errors.New("no scripted response for " + name)
	}
	if idx >= len(queue) {
		idx = len(queue) - 1
	}
	if queue[idx] == "" {
		return errors.New("scripted oracle failure")
	}
	return json.Unmarshal([]byte(queue[idx]), out)
}

func (f *fakeOracle) ResetMetrics()               {}
func (f *fakeOracle) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func enhancedConfig() config.Config {
	cfg := config.Default()
	cfg.EnableEnhancedKG = true
	return cfg
}

func TestExtractUnified(t *testing.T) {
	oracle := newFakeOracle()
	oracle.script("extract_knowledge_graph", `{
		"entities": [
			{"name": "sepsis", "description": "A life-threatening organ dysfunction caused by infection.", "entity_type": "condition"},
			{"name": "septic shock", "description": "A subset of sepsis with circulatory failure.", "entity_type": "condition", "metadata": {"severity": "critical"}}
		],
		"relationships": [
			{"source_entity": "sepsis", "target_entity": "septic shock", "description": "Sepsis is the broader concept.", "relationship_type": "hypernym", "confidence": 0.9}
		]
	}`)

	e := New(oracle, enhancedConfig())
	ex, err := e.Extract(context.Background(), common.Chunk{ID: "c1", Text: "..."})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if len(ex.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(ex.Entities))
	}
	if got := ex.Entities[0].Covariates["entity_type"]; got != "condition" {
		t.Errorf("entity_type covariate = %v, want condition", got)
	}
	if got := ex.Entities[1].Covariates["severity"]; got != "critical" {
		t.Errorf("metadata covariate = %v, want critical", got)
	}

	if len(ex.Relationships) != 1 {
		t.Fatalf("expected 1 relationship, got %d", len(ex.Relationships))
	}
	rel := ex.Relationships[0]
	if rel.Type != kg.TypeHypernym || rel.Confidence != 0.9 {
		t.Errorf("relationship = %+v, want hypernym at 0.9", rel)
	}

	if ex.LLMCalls != 1 {
		t.Errorf("LLMCalls = %d, want 1 (unified extraction)", ex.LLMCalls)
	}
}

func TestExtractValidation(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		wantRels  int
		wantTypes []kg.RelationshipType
	}{
		{
			name: "unknown endpoint dropped",
			response: `{
				"entities": [{"name": "a", "description": "d", "entity_type": "concept"}],
				"relationships": [{"source_entity": "a", "target_entity": "ghost", "description": "d", "relationship_type": "causal", "confidence": 0.9}]
			}`,
			wantRels: 0,
		},
		{
			name: "zero entities drops all relationships",
			response: `{
				"entities": [],
				"relationships": [{"source_entity": "a", "target_entity": "b", "description": "d", "relationship_type": "causal", "confidence": 0.9}]
			}`,
			wantRels: 0,
		},
		{
			name: "unknown type folds to generic",
			response: `{
				"entities": [{"name": "a", "description": "d", "entity_type": "concept"}, {"name": "b", "description": "d", "entity_type": "concept"}],
				"relationships": [{"source_entity": "a", "target_entity": "b", "description": "d", "relationship_type": "is-a", "confidence": 0.9}]
			}`,
			wantRels:  1,
			wantTypes: []kg.RelationshipType{kg.TypeGeneric},
		},
		{
			name: "below minimum confidence dropped, at minimum kept",
			response: `{
				"entities": [{"name": "a", "description": "d", "entity_type": "concept"}, {"name": "b", "description": "d", "entity_type": "concept"}],
				"relationships": [
					{"source_entity": "a", "target_entity": "b", "description": "d", "relationship_type": "causal", "confidence": 0.29},
					{"source_entity": "b", "target_entity": "a", "description": "d", "relationship_type": "causal", "confidence": 0.3}
				]
			}`,
			wantRels:  1,
			wantTypes: []kg.RelationshipType{kg.TypeCausal},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := newFakeOracle()
			oracle.script("extract_knowledge_graph", tt.response)

			e := New(oracle, enhancedConfig())
			ex, err := e.Extract(context.Background(), common.Chunk{ID: "c1", Text: "..."})
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if len(ex.Relationships) != tt.wantRels {
				t.Fatalf("got %d relationships, want %d", len(ex.Relationships), tt.wantRels)
			}
			for i, want := range tt.wantTypes {
				if ex.Relationships[i].Type != want {
					t.Errorf("relationship[%d].Type = %q, want %q", i, ex.Relationships[i].Type, want)
				}
			}
		})
	}
}

func TestExtractClampsConfidence(t *testing.T) {
	oracle := newFakeOracle()
	oracle.script("extract_knowledge_graph", `{
		"entities": [{"name": "a", "description": "d", "entity_type": "concept"}, {"name": "b", "description": "d", "entity_type": "concept"}],
		"relationships": [{"source_entity": "a", "target_entity": "b", "description": "d", "relationship_type": "causal", "confidence": 1.7}]
	}`)

	e := New(oracle, enhancedConfig())
	ex, err := e.Extract(context.Background(), common.Chunk{ID: "c1", Text: "..."})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(ex.Relationships) != 1 || ex.Relationships[0].Confidence != 1.0 {
		t.Errorf("confidence should be clamped to 1.0, got %+v", ex.Relationships)
	}
}

func TestExtractRetriesThenSucceeds(t *testing.T) {
	oracle := newFakeOracle()
	oracle.script("extract_knowledge_graph",
		"",
		"",
		`{"entities": [{"name": "a", "description": "d", "entity_type": "concept"}], "relationships": []}`,
	)

	e := New(oracle, enhancedConfig())
	ex, err := e.Extract(context.Background(), common.Chunk{ID: "c1", Text: "..."})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if ex.LLMCalls != 3 {
		t.Errorf("LLMCalls = %d, want 3 (two failures, one success)", ex.LLMCalls)
	}
}

func TestExtractExhaustedRetriesIsExtractionError(t *testing.T) {
	oracle := newFakeOracle()
	oracle.script("extract_knowledge_graph", "", "", "")

	e := New(oracle, enhancedConfig())
	_, err := e.Extract(context.Background(), common.Chunk{ID: "c37", Text: "..."})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	var exErr *ExtractionError
	if !errors.As(err, &exErr) {
		t.Fatalf("expected *ExtractionError, got %T", err)
	}
	if exErr.ChunkID != "c37" {
		t.Errorf("ExtractionError.ChunkID = %q, want c37", exErr.ChunkID)
	}
	if exErr.Attempts != 3 {
		t.Errorf("ExtractionError.Attempts = %d, want 3", exErr.Attempts)
	}
}

func TestExtractLegacyTwoCalls(t *testing.T) {
	oracle := newFakeOracle()
	oracle.script("extract_entities_and_relationships", `{
		"entities": [
			{"name": "MAP", "description": "Mean arterial pressure."},
			{"name": "shock", "description": "Circulatory failure."}
		],
		"relationships": [
			{"source_entity": "shock", "target_entity": "MAP", "description": "Shock lowers MAP."}
		]
	}`)
	oracle.script("extract_entity_covariates", `{
		"covariates": [
			{"entity_name": "MAP", "entity_type": "monitoring_parameter", "attributes": {"unit": "mmHg"}}
		]
	}`)

	e := New(oracle, config.Default())
	ex, err := e.Extract(context.Background(), common.Chunk{ID: "c1", Text: "..."})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	if ex.LLMCalls != 2 {
		t.Errorf("LLMCalls = %d, want 2 (legacy dual-call)", ex.LLMCalls)
	}
	if len(ex.Entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(ex.Entities))
	}
	if got := ex.Entities[0].Covariates["entity_type"]; got != "monitoring_parameter" {
		t.Errorf("covariate entity_type = %v", got)
	}
	if got := ex.Entities[0].Covariates["unit"]; got != "mmHg" {
		t.Errorf("covariate unit = %v", got)
	}

	if len(ex.Relationships) != 1 {
		t.Fatalf("expected 1 relationship, got %d", len(ex.Relationships))
	}
	rel := ex.Relationships[0]
	if rel.Type != kg.TypeGeneric {
		t.Errorf("legacy relationship type = %q, want generic", rel.Type)
	}
	if rel.Confidence != 0.8 {
		t.Errorf("legacy relationship confidence = %v, want 0.8", rel.Confidence)
	}
}
