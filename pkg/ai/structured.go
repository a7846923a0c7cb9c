package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// SchemaFor derives a JSON Schema from the extraction response type that out
// points at. The schema forbids additional properties and inlines all
// definitions, which is what the structured-output endpoints of both oracle
// backends expect.
func SchemaFor(out any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(out)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	return reflector.Reflect(reflect.New(t).Interface())
}

// decodeAttempt is one strategy for turning a model reply into the target
// struct. Attempts run in order; the first success wins.
type decodeAttempt func(input string, out any) (string, bool)

var decodeAttempts = []decodeAttempt{
	decodeStrict,
	decodeQuoted,
	decodeRepaired,
}

// DecodeModelOutput parses a model reply into out, tolerating the usual ways
// extraction models break JSON: replies wrapped in an extra string encoding,
// doubled opening braces, unquoted keys, trailing commas. Schema-level
// validation of the parsed content still happens at the extraction layer.
func DecodeModelOutput(input string, out any) error {
	input = strings.TrimSpace(input)

	current := input
	for _, attempt := range decodeAttempts {
		next, ok := attempt(current, out)
		if ok {
			return nil
		}
		if next != "" {
			current = next
		}
	}

	return fmt.Errorf("model output is not decodable JSON: %s", input)
}

// decodeStrict is the happy path: the reply already is the JSON document.
func decodeStrict(input string, out any) (string, bool) {
	return "", json.Unmarshal([]byte(input), out) == nil
}

// decodeQuoted handles replies that arrive double-encoded, i.e. a JSON string
// whose content is the actual document. On failure it hands the unwrapped
// content to the next attempt.
func decodeQuoted(input string, out any) (string, bool) {
	var inner string
	if err := json.Unmarshal([]byte(input), &inner); err != nil {
		return "", false
	}
	inner = strings.TrimSpace(inner)
	if json.Unmarshal([]byte(inner), out) == nil {
		return "", true
	}
	return inner, false
}

// decodeRepaired is the last resort: strip a doubled opening brace, then let
// jsonrepair fix unquoted keys, trailing commas and truncation before one
// final parse.
func decodeRepaired(input string, out any) (string, bool) {
	if rest, found := strings.CutPrefix(input, "{"); found {
		if strings.HasPrefix(strings.TrimSpace(rest), "{") {
			input = strings.TrimSpace(rest)
		}
	}

	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return "", false
	}
	return "", json.Unmarshal([]byte(repaired), out) == nil
}
