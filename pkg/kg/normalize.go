package kg

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const canonicalIDLen = 16

// descriptionPrefixLen bounds how much of the description participates in the
// canonical id, so that trailing edits to long descriptions do not split an
// entity into new canonical ids.
const descriptionPrefixLen = 100

// Normalizer derives canonical forms for entity names. The zero value performs
// no normalization and returns inputs unchanged, which is the legacy behavior.
//
// All methods are pure: the same inputs always produce byte-identical outputs.
type Normalizer struct {
	Enabled bool
}

// NormalizeName folds a display name to its canonical written form:
// Unicode NFKC, lowercased, trimmed, stripped of everything but letters,
// digits, whitespace and hyphens, with internal whitespace collapsed to
// single spaces.
func (n Normalizer) NormalizeName(name string) string {
	if !n.Enabled {
		return name
	}

	s := norm.NFKC.String(name)
	s = strings.ToLower(s)
	s = strings.TrimSpace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '-' {
			b.WriteRune(r)
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// CanonicalID derives the 16-hex dedup key for an entity from its normalized
// name and the first 100 characters of its description. When normalization is
// disabled it returns the raw name, which keeps legacy rows keyed by surface
// form.
func (n Normalizer) CanonicalID(name, description string) string {
	if !n.Enabled {
		return name
	}

	content := n.NormalizeName(name) + "::" + truncateRunes(description, descriptionPrefixLen)
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:canonicalIDLen]
}

// EmbeddingInput prepares the text that is embedded for similarity search.
// Enhanced mode embeds the normalized name together with the description;
// legacy mode embeds the raw name only.
func (n Normalizer) EmbeddingInput(name, description string) string {
	if !n.Enabled {
		return name
	}
	if description == "" {
		return n.NormalizeName(name)
	}
	return n.NormalizeName(name) + ": " + description
}

func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
