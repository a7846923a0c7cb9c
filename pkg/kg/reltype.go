package kg

// RelationshipType is the semantic class of a directed edge between two
// entities. The taxonomy is fixed; anything a model returns outside of it is
// folded to TypeGeneric.
type RelationshipType string

const (
	TypeHypernym   RelationshipType = "hypernym"
	TypeHyponym    RelationshipType = "hyponym"
	TypeMeronym    RelationshipType = "meronym"
	TypeHolonym    RelationshipType = "holonym"
	TypeSynonym    RelationshipType = "synonym"
	TypeAntonym    RelationshipType = "antonym"
	TypeCausal     RelationshipType = "causal"
	TypeTemporal   RelationshipType = "temporal"
	TypeDependency RelationshipType = "dependency"
	TypeReference  RelationshipType = "reference"
	TypeGeneric    RelationshipType = "generic"
)

// baseWeights holds the fixed per-type base weight used in edge weighting.
var baseWeights = map[RelationshipType]float64{
	TypeHypernym:   1.0,
	TypeHyponym:    1.0,
	TypeMeronym:    0.9,
	TypeHolonym:    0.9,
	TypeSynonym:    0.95,
	TypeAntonym:    0.9,
	TypeCausal:     0.8,
	TypeTemporal:   0.7,
	TypeDependency: 0.85,
	TypeReference:  0.6,
	TypeGeneric:    0.5,
}

// RelationshipTypes lists the full taxonomy in a stable order, for prompts
// and validation.
func RelationshipTypes() []RelationshipType {
	return []RelationshipType{
		TypeHypernym, TypeHyponym, TypeMeronym, TypeHolonym,
		TypeSynonym, TypeAntonym, TypeCausal, TypeTemporal,
		TypeDependency, TypeReference, TypeGeneric,
	}
}

// ParseRelationshipType folds a raw model-provided type string into the
// taxonomy. Unknown or empty values map to TypeGeneric.
func ParseRelationshipType(s string) RelationshipType {
	t := RelationshipType(s)
	if _, ok := baseWeights[t]; ok {
		return t
	}
	return TypeGeneric
}

// Valid reports whether t is a member of the fixed taxonomy.
func (t RelationshipType) Valid() bool {
	_, ok := baseWeights[t]
	return ok
}

// BaseWeight returns the fixed base weight for t. Unknown types weigh as
// generic.
func (t RelationshipType) BaseWeight() float64 {
	if w, ok := baseWeights[t]; ok {
		return w
	}
	return baseWeights[TypeGeneric]
}

// Symmetric reports whether edges of this type imply an identical inverse
// edge. Only synonym and antonym are symmetric; dependency stays directed.
func (t RelationshipType) Symmetric() bool {
	return t == TypeSynonym || t == TypeAntonym
}

// Inverse returns the type of the reversed edge, when the taxonomy defines
// one: hypernym/hyponym and meronym/holonym invert into each other, the
// symmetric types invert into themselves.
func (t RelationshipType) Inverse() (RelationshipType, bool) {
	switch t {
	case TypeHypernym:
		return TypeHyponym, true
	case TypeHyponym:
		return TypeHypernym, true
	case TypeMeronym:
		return TypeHolonym, true
	case TypeHolonym:
		return TypeMeronym, true
	case TypeSynonym, TypeAntonym:
		return t, true
	default:
		return "", false
	}
}

// ClampConfidence bounds a model-provided confidence score into [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Weight computes the stored edge weight: clamped confidence times the type's
// base weight, scaled to [0, 10].
func Weight(t RelationshipType, confidence float64) float64 {
	return ClampConfidence(confidence) * t.BaseWeight() * 10
}
