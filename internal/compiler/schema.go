package compiler

import (
	"sort"
	"strings"
)

// maxRefDepth bounds local $ref resolution. A document whose refs still
// nest this deep is almost certainly circular; spec.md §9 calls for
// breaking the cycle with an explicit marker rather than recursing forever.
const maxRefDepth = 16

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

// resolveSchema walks a schema node, inlining local ($ref starting with
// "#/") references found anywhere in the document and leaving every other
// $ref (external, or local-but-unresolvable) untouched, per spec.md §4.1/§9.
func resolveSchema(node any, doc map[string]any, depth int) any {
	switch v := node.(type) {
	case map[string]any:
		if ref, ok := v["$ref"].(string); ok {
			if !strings.HasPrefix(ref, "#/") {
				// external ref: surfaced verbatim, never resolved
				return map[string]any{"$ref": ref}
			}
			resolved, ok := resolveLocalRef(doc, ref)
			if !ok {
				return map[string]any{"$ref": ref}
			}
			if depth <= 0 {
				return map[string]any{"$ref": ref, "circular": true}
			}
			return resolveSchema(resolved, doc, depth-1)
		}
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[k] = resolveSchema(val, doc, depth-1)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = resolveSchema(val, doc, depth-1)
		}
		return out
	default:
		return v
	}
}

// resolveLocalRef walks the document by JSON Pointer segments, e.g.
// "#/components/schemas/Widget" -> doc["components"]["schemas"]["Widget"].
func resolveLocalRef(doc map[string]any, ref string) (any, bool) {
	segments := strings.Split(strings.TrimPrefix(ref, "#/"), "/")
	var cur any = doc
	for _, seg := range segments {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// buildInputSchema partitions an operation's parameters and request body
// into the path/query/header/body groups spec.md §3 requires, marking a
// group required iff it has a required member (or, for body, the request
// body itself is required).
func buildInputSchema(params []any, requestBody map[string]any, doc map[string]any) map[string]any {
	groupProps := map[string]map[string]any{
		GroupPath:   {},
		GroupQuery:  {},
		GroupHeader: {},
	}
	groupRequired := map[string][]string{}

	for _, raw := range params {
		p, ok := asMap(raw)
		if !ok {
			continue
		}
		in, _ := p["in"].(string)
		name, _ := p["name"].(string)
		if name == "" {
			continue
		}

		var group string
		switch in {
		case "path":
			group = GroupPath
		case "query":
			group = GroupQuery
		case "header":
			group = GroupHeader
		default:
			continue
		}

		schema := p["schema"]
		if schema == nil {
			schema = map[string]any{"type": "string"}
		}
		groupProps[group][name] = resolveSchema(schema, doc, maxRefDepth)

		if required, _ := p["required"].(bool); required {
			groupRequired[group] = append(groupRequired[group], name)
		}
	}

	topProps := map[string]any{}
	var topRequired []string
	for _, group := range []string{GroupPath, GroupQuery, GroupHeader} {
		groupSchema := map[string]any{
			"type":       "object",
			"properties": groupProps[group],
		}
		if required := groupRequired[group]; len(required) > 0 {
			sort.Strings(required)
			groupSchema["required"] = required
			topRequired = append(topRequired, group)
		}
		topProps[group] = groupSchema
	}

	if requestBody != nil {
		if bodySchema, required, ok := bodySchemaAndRequired(requestBody, doc); ok {
			topProps[GroupBody] = bodySchema
			if required {
				topRequired = append(topRequired, GroupBody)
			}
		}
	}

	return map[string]any{
		"type":       "object",
		"properties": topProps,
		"required":   topRequired,
	}
}

func bodySchemaAndRequired(requestBody map[string]any, doc map[string]any) (any, bool, bool) {
	content, ok := asMap(requestBody["content"])
	if !ok {
		return nil, false, false
	}
	mediaType, ok := asMap(content["application/json"])
	if !ok {
		return nil, false, false
	}
	schema, ok := mediaType["schema"]
	if !ok {
		return nil, false, false
	}
	required, _ := requestBody["required"].(bool)
	return resolveSchema(schema, doc, maxRefDepth), required, true
}

// extractOutputSchema picks the lowest-numbered 2xx response's
// application/json schema, per spec.md §4.1. Returns nil when no such
// schema is discoverable, which means output_schema is omitted entirely.
func extractOutputSchema(responses map[string]any, doc map[string]any) map[string]any {
	if responses == nil {
		return nil
	}

	var codes []string
	for code := range responses {
		if len(code) == 3 && code[0] == '2' {
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return nil
	}
	sort.Strings(codes)

	respObj, ok := asMap(responses[codes[0]])
	if !ok {
		return nil
	}
	content, ok := asMap(respObj["content"])
	if !ok {
		return nil
	}
	mediaType, ok := asMap(content["application/json"])
	if !ok {
		return nil
	}
	schema, ok := mediaType["schema"]
	if !ok {
		return nil
	}

	resolved, ok := asMap(resolveSchema(schema, doc, maxRefDepth))
	if !ok {
		return nil
	}
	return resolved
}
