package kg

import (
	"math"
	"testing"
)

func TestParseRelationshipType(t *testing.T) {
	tests := []struct {
		input string
		want  RelationshipType
	}{
		{"hypernym", TypeHypernym},
		{"synonym", TypeSynonym},
		{"generic", TypeGeneric},
		{"HYPERNYM", TypeGeneric},
		{"is-a", TypeGeneric},
		{"", TypeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseRelationshipType(tt.input); got != tt.want {
				t.Errorf("ParseRelationshipType(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestWeight(t *testing.T) {
	tests := []struct {
		name       string
		typ        RelationshipType
		confidence float64
		want       float64
	}{
		{"hypernym at 0.9", TypeHypernym, 0.9, 9.0},
		{"synonym at 0.8", TypeSynonym, 0.8, 7.6},
		{"antonym at 1.0", TypeAntonym, 1.0, 9.0},
		{"causal at 0.5", TypeCausal, 0.5, 4.0},
		{"temporal at 0.7", TypeTemporal, 0.7, 4.9},
		{"dependency at 1.0", TypeDependency, 1.0, 8.5},
		{"reference at 0.3", TypeReference, 0.3, 1.8},
		{"generic at 0.6", TypeGeneric, 0.6, 3.0},
		{"confidence clamped high", TypeHypernym, 1.5, 10.0},
		{"confidence clamped low", TypeHypernym, -0.5, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Weight(tt.typ, tt.confidence)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Weight(%q, %v) = %v, want %v", tt.typ, tt.confidence, got, tt.want)
			}
		})
	}
}

func TestSymmetric(t *testing.T) {
	for _, typ := range RelationshipTypes() {
		want := typ == TypeSynonym || typ == TypeAntonym
		if got := typ.Symmetric(); got != want {
			t.Errorf("%q.Symmetric() = %v, want %v", typ, got, want)
		}
	}
}

func TestInverse(t *testing.T) {
	tests := []struct {
		typ    RelationshipType
		want   RelationshipType
		wantOK bool
	}{
		{TypeHypernym, TypeHyponym, true},
		{TypeHyponym, TypeHypernym, true},
		{TypeMeronym, TypeHolonym, true},
		{TypeHolonym, TypeMeronym, true},
		{TypeSynonym, TypeSynonym, true},
		{TypeAntonym, TypeAntonym, true},
		{TypeCausal, "", false},
		{TypeGeneric, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			got, ok := tt.typ.Inverse()
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("%q.Inverse() = (%q, %v), want (%q, %v)", tt.typ, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestRelationshipTypesAllValid(t *testing.T) {
	types := RelationshipTypes()
	if len(types) != 11 {
		t.Fatalf("expected 11 relationship types, got %d", len(types))
	}
	for _, typ := range types {
		if !typ.Valid() {
			t.Errorf("%q should be valid", typ)
		}
	}
}
