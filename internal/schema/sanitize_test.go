package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeStripsSchemaKeyword(t *testing.T) {
	in := map[string]any{"$schema": "http://json-schema.org/draft-07/schema#", "type": "object"}
	out := Sanitize(in)
	_, present := out["$schema"]
	assert.False(t, present)
	assert.Equal(t, "object", out["type"])
}

func TestSanitizeNormalizesNullableType(t *testing.T) {
	in := map[string]any{"type": []any{"string", "null"}}
	out := Sanitize(in)
	assert.Equal(t, "string", out["type"])
	assert.Equal(t, true, out["nullable"])
}

func TestSanitizeNullableMultiType(t *testing.T) {
	in := map[string]any{"type": []any{"string", "integer", "null"}}
	out := Sanitize(in)
	assert.Equal(t, true, out["nullable"])
	arr, ok := out["type"].([]any)
	require.True(t, ok)
	assert.ElementsMatch(t, []any{"string", "integer"}, arr)
}

func TestSanitizeDropsRedundantAdditionalProperties(t *testing.T) {
	in := map[string]any{
		"type":                 "object",
		"properties":           map[string]any{},
		"additionalProperties": false,
	}
	out := Sanitize(in)
	_, present := out["additionalProperties"]
	assert.False(t, present)
}

func TestSanitizeKeepsAdditionalPropertiesWithRealProperties(t *testing.T) {
	in := map[string]any{
		"type":                 "object",
		"properties":           map[string]any{"city": map[string]any{"type": "string"}},
		"additionalProperties": false,
	}
	out := Sanitize(in)
	assert.Equal(t, false, out["additionalProperties"])
}

func TestSanitizeStripsUnsupportedFormat(t *testing.T) {
	in := map[string]any{"type": "string", "format": "email"}
	out := Sanitize(in)
	_, present := out["format"]
	assert.False(t, present)
}

func TestSanitizeKeepsSupportedFormat(t *testing.T) {
	in := map[string]any{"type": "string", "format": "date-time"}
	out := Sanitize(in)
	assert.Equal(t, "date-time", out["format"])
}

func TestSanitizeRecursesIntoNestedSchemas(t *testing.T) {
	in := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"nested": map[string]any{
				"$schema": "x",
				"type":    []any{"string", "null"},
			},
		},
	}
	out := Sanitize(in)
	nested := out["properties"].(map[string]any)["nested"].(map[string]any)
	_, present := nested["$schema"]
	assert.False(t, present)
	assert.Equal(t, true, nested["nullable"])
}

func TestSanitizeIsIdempotent(t *testing.T) {
	in := map[string]any{
		"$schema": "x",
		"type":    []any{"string", "null"},
		"properties": map[string]any{
			"a": map[string]any{"type": []any{"integer", "null"}, "format": "hostname"},
		},
		"additionalProperties": false,
	}
	once := Sanitize(in)
	twice := Sanitize(once)
	assert.Equal(t, once, twice)
}
