// Package schema sanitizes client-supplied JSON-schema tool definitions
// into a shape the upstream Google-dialect service accepts (C4).
package schema

// rejectedKeywords are stripped unconditionally wherever they occur.
var rejectedKeywords = map[string]bool{
	"$schema": true,
}

// unsupportedFormats are format values the upstream does not recognise and
// therefore rejects outright; anything not in this set passes through.
var unsupportedFormats = map[string]bool{
	"uri-reference": true,
	"uri-template":  true,
	"email":         true,
	"hostname":      true,
	"ipv4":          true,
	"ipv6":          true,
	"regex":         true,
}

// Sanitize returns a deep copy of s acceptable to the upstream: rejected
// keywords are removed, a redundant additionalProperties:false paired with
// an empty properties object is dropped, unsupported format values are
// stripped, and a JSON-schema-style nullable type array (["string","null"])
// is normalised into {type: "string", nullable: true}. Sanitize is
// idempotent: sanitizing an already-sanitized schema returns it unchanged.
func Sanitize(s map[string]any) map[string]any {
	return sanitizeValue(s).(map[string]any)
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return sanitizeObject(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = sanitizeValue(item)
		}
		return out
	default:
		return v
	}
}

func sanitizeObject(obj map[string]any) map[string]any {
	out := make(map[string]any, len(obj))
	for k, v := range obj {
		if rejectedKeywords[k] {
			continue
		}
		out[k] = v
	}

	normalizeNullableType(out)
	stripUnsupportedFormat(out)
	dropRedundantAdditionalProperties(out)

	for k, v := range out {
		out[k] = sanitizeValue(v)
	}
	return out
}

// normalizeNullableType converts {"type": ["string", "null"]} into
// {"type": "string", "nullable": true}. A type array without "null" is left
// as-is (the upstream's union-type handling is outside this sanitizer's
// documented scope).
func normalizeNullableType(obj map[string]any) {
	raw, ok := obj["type"]
	if !ok {
		return
	}
	arr, ok := raw.([]any)
	if !ok {
		return
	}

	hasNull := false
	var rest []any
	for _, t := range arr {
		if s, ok := t.(string); ok && s == "null" {
			hasNull = true
			continue
		}
		rest = append(rest, t)
	}
	if !hasNull {
		return
	}
	obj["nullable"] = true
	switch len(rest) {
	case 0:
		delete(obj, "type")
	case 1:
		obj["type"] = rest[0]
	default:
		obj["type"] = rest
	}
}

func stripUnsupportedFormat(obj map[string]any) {
	f, ok := obj["format"]
	if !ok {
		return
	}
	if s, ok := f.(string); ok && unsupportedFormats[s] {
		delete(obj, "format")
	}
}

// dropRedundantAdditionalProperties removes additionalProperties:false when
// paired with an empty (or absent) properties object — the upstream treats
// this combination as malformed rather than as "no extra properties".
func dropRedundantAdditionalProperties(obj map[string]any) {
	ap, ok := obj["additionalProperties"]
	if !ok {
		return
	}
	apBool, ok := ap.(bool)
	if !ok || apBool {
		return
	}
	props, ok := obj["properties"]
	if !ok {
		delete(obj, "additionalProperties")
		return
	}
	if propsMap, ok := props.(map[string]any); ok && len(propsMap) == 0 {
		delete(obj, "additionalProperties")
	}
}
