package ai

import (
	"strconv"
	"strings"
)

// StatePath is a dotted-path expression over decoded JSON trees, e.g.
// "candidates.0.content.parts". Numeric segments index into arrays.
type StatePath string

// Get resolves the path against tree. The second return is false when any
// segment is missing or of the wrong shape.
func (p StatePath) Get(tree any) (any, bool) {
	if p == "" {
		return nil, false
	}
	current := tree
	for _, segment := range strings.Split(string(p), ".") {
		switch node := current.(type) {
		case map[string]any:
			value, ok := node[segment]
			if !ok {
				return nil, false
			}
			current = value
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return nil, false
			}
			current = node[index]
		default:
			return nil, false
		}
	}
	return current, true
}

// Set writes value at the path inside body, creating intermediate maps for
// missing map segments. Array segments must already exist; Set reports
// whether the write landed.
func (p StatePath) Set(body map[string]any, value any) bool {
	if p == "" {
		return false
	}
	segments := strings.Split(string(p), ".")
	var current any = body
	for _, segment := range segments[:len(segments)-1] {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[segment]
			if !ok {
				created := make(map[string]any)
				node[segment] = created
				current = created
				continue
			}
			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(node) {
				return false
			}
			current = node[index]
		default:
			return false
		}
	}

	last := segments[len(segments)-1]
	switch node := current.(type) {
	case map[string]any:
		node[last] = value
		return true
	case []any:
		index, err := strconv.Atoi(last)
		if err != nil || index < 0 || index >= len(node) {
			return false
		}
		node[index] = value
		return true
	default:
		return false
	}
}
