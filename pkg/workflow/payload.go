package workflow

import (
	"strings"

	"github.com/ethpandaops/onboardoor/pkg/catalog"
)

// substitute returns a deep copy of v with every occurrence of placeholder
// in string values replaced by value.
func substitute(v any, placeholder, value string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = substitute(inner, placeholder, value)
		}

		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = substitute(inner, placeholder, value)
		}

		return out
	case string:
		return strings.ReplaceAll(t, placeholder, value)
	default:
		return v
	}
}

// sourcePayload builds the create-source body for g with groupID filled in.
func sourcePayload(g *catalog.Group, groupID string) map[string]any {
	src := g.Source
	if src == nil {
		src = map[string]any{"name": g.Name}
	}

	out, _ := substitute(src, catalog.GroupIDPlaceholder, groupID).(map[string]any)

	return out
}

// groupPayload builds the create-group body for g.
func groupPayload(g *catalog.Group) map[string]any {
	if g.Group != nil {
		return g.Group
	}

	payload := map[string]any{"name": g.Name}
	if g.Description != "" {
		payload["description"] = g.Description
	}

	return payload
}
