package workflow

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// wholeReferencePattern matches an input value that is, once trimmed,
// exactly one reference — "{{ step_id.path[0] }}" with nothing else in
// the string. A whole-reference match resolves to the referenced value
// itself (preserving its type, e.g. a slice or map), not a string.
var wholeReferencePattern = regexp.MustCompile(`^\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+|\[[0-9]+\])*)\s*\}\}$`)

// embeddedReferencePattern matches references appearing inside a larger
// string, which are resolved and substituted as text.
var embeddedReferencePattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z0-9_]+|\[[0-9]+\])*)\s*\}\}`)

// pathSegmentPattern splits the remainder of a reference (after its
// leading identifier) into .field and [index] segments, in order.
var pathSegmentPattern = regexp.MustCompile(`\.[A-Za-z0-9_]+|\[[0-9]+\]`)

// unresolvedReferenceError is returned when a {{ }} reference does not
// resolve against the current interpolation context.
type unresolvedReferenceError struct {
	ref string
}

func (e *unresolvedReferenceError) Error() string {
	return fmt.Sprintf("unresolved reference %q", e.ref)
}

// renderInput interpolates every {{ }} reference in input against ctx
// (template parameters merged with completed steps' outputs, keyed by
// parameter name or step ID) and returns a new map, leaving input
// unmodified.
func renderInput(input map[string]any, ctx map[string]any) (map[string]any, error) {
	rendered, err := renderValue(input, ctx)
	if err != nil {
		return nil, err
	}
	out, _ := rendered.(map[string]any)
	return out, nil
}

func renderValue(v any, ctx map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		return renderString(t, ctx)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			rendered, err := renderValue(vv, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			rendered, err := renderValue(vv, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

func renderString(s string, ctx map[string]any) (any, error) {
	if m := wholeReferencePattern.FindStringSubmatch(s); m != nil {
		return resolveReference(m[1], ctx)
	}

	var resolveErr error
	result := embeddedReferencePattern.ReplaceAllStringFunc(s, func(match string) string {
		if resolveErr != nil {
			return match
		}
		sub := embeddedReferencePattern.FindStringSubmatch(match)
		val, err := resolveReference(sub[1], ctx)
		if err != nil {
			resolveErr = err
			return match
		}
		return fmt.Sprint(val)
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return result, nil
}

// resolveReference walks ref (e.g. "find.results[0].doc_id") against ctx.
func resolveReference(ref string, ctx map[string]any) (any, error) {
	name := ref
	rest := ""
	if idx := strings.IndexAny(ref, ".["); idx >= 0 {
		name = ref[:idx]
		rest = ref[idx:]
	}

	current, ok := ctx[name]
	if !ok {
		return nil, &unresolvedReferenceError{ref: ref}
	}

	for _, seg := range pathSegmentPattern.FindAllString(rest, -1) {
		switch {
		case strings.HasPrefix(seg, "."):
			field := seg[1:]
			m, ok := current.(map[string]any)
			if !ok {
				return nil, &unresolvedReferenceError{ref: ref}
			}
			current, ok = m[field]
			if !ok {
				return nil, &unresolvedReferenceError{ref: ref}
			}
		case strings.HasPrefix(seg, "["):
			idxStr := strings.TrimSuffix(strings.TrimPrefix(seg, "["), "]")
			idx, err := strconv.Atoi(idxStr)
			if err != nil {
				return nil, &unresolvedReferenceError{ref: ref}
			}
			list, ok := current.([]any)
			if !ok || idx < 0 || idx >= len(list) {
				return nil, &unresolvedReferenceError{ref: ref}
			}
			current = list[idx]
		}
	}
	return current, nil
}
