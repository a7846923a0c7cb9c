package store

import (
	"reflect"
	"testing"
)

func TestAppendAlias(t *testing.T) {
	tests := []struct {
		name        string
		meta        EntityMetadata
		surface     string
		displayName string
		wantAliases []string
		wantChanged bool
	}{
		{
			name:        "first differing surface form",
			meta:        EntityMetadata{},
			surface:     "I.C.U.",
			displayName: "ICU",
			wantAliases: []string{"I.C.U."},
			wantChanged: true,
		},
		{
			name:        "case variant is a distinct alias",
			meta:        EntityMetadata{Aliases: []string{"I.C.U."}},
			surface:     "icu",
			displayName: "ICU",
			wantAliases: []string{"I.C.U.", "icu"},
			wantChanged: true,
		},
		{
			name:        "same as display name not appended",
			meta:        EntityMetadata{Aliases: []string{"I.C.U."}},
			surface:     "ICU",
			displayName: "ICU",
			wantAliases: []string{"I.C.U."},
			wantChanged: false,
		},
		{
			name:        "existing alias not duplicated",
			meta:        EntityMetadata{Aliases: []string{"I.C.U."}},
			surface:     "I.C.U.",
			displayName: "ICU",
			wantAliases: []string{"I.C.U."},
			wantChanged: false,
		},
		{
			name:        "empty surface ignored",
			meta:        EntityMetadata{},
			surface:     "",
			displayName: "ICU",
			wantAliases: nil,
			wantChanged: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := AppendAlias(tt.meta, tt.surface, tt.displayName)
			if changed != tt.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tt.wantChanged)
			}
			if !reflect.DeepEqual(got.Aliases, tt.wantAliases) {
				t.Errorf("aliases = %v, want %v", got.Aliases, tt.wantAliases)
			}
		})
	}
}

func TestAppendAliasDoesNotMutateInput(t *testing.T) {
	meta := EntityMetadata{Aliases: []string{"a"}}
	AppendAlias(meta, "b", "display")
	if !reflect.DeepEqual(meta.Aliases, []string{"a"}) {
		t.Errorf("input metadata mutated: %v", meta.Aliases)
	}
}

func TestMergeCovariates(t *testing.T) {
	tests := []struct {
		name        string
		meta        EntityMetadata
		incoming    map[string]any
		want        map[string]any
		wantChanged bool
	}{
		{
			name:        "adds new keys",
			meta:        EntityMetadata{Covariates: map[string]any{"entity_type": "drug"}},
			incoming:    map[string]any{"mechanism": "agonist"},
			want:        map[string]any{"entity_type": "drug", "mechanism": "agonist"},
			wantChanged: true,
		},
		{
			name:        "conflicts preserve existing values",
			meta:        EntityMetadata{Covariates: map[string]any{"entity_type": "drug"}},
			incoming:    map[string]any{"entity_type": "condition"},
			want:        map[string]any{"entity_type": "drug"},
			wantChanged: false,
		},
		{
			name:        "nil existing set",
			meta:        EntityMetadata{},
			incoming:    map[string]any{"entity_type": "drug"},
			want:        map[string]any{"entity_type": "drug"},
			wantChanged: true,
		},
		{
			name:        "empty incoming is a no-op",
			meta:        EntityMetadata{Covariates: map[string]any{"entity_type": "drug"}},
			incoming:    nil,
			want:        map[string]any{"entity_type": "drug"},
			wantChanged: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := MergeCovariates(tt.meta, tt.incoming)
			if changed != tt.wantChanged {
				t.Errorf("changed = %v, want %v", changed, tt.wantChanged)
			}
			if !reflect.DeepEqual(got.Covariates, tt.want) {
				t.Errorf("covariates = %v, want %v", got.Covariates, tt.want)
			}
		})
	}
}

func TestMergeCovariatesDoesNotMutateInput(t *testing.T) {
	meta := EntityMetadata{Covariates: map[string]any{"a": 1}}
	MergeCovariates(meta, map[string]any{"b": 2})
	if len(meta.Covariates) != 1 {
		t.Errorf("input covariates mutated: %v", meta.Covariates)
	}
}
