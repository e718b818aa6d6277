package engine

import (
	"fmt"
	"regexp"
	"sort"
)

// Reference is one ${id.attr} output reference discovered inside a spec's
// attributes. References are how declarations couple: the graph builder turns
// each one into a typed edge, and the executor resolves the value from the
// upstream node's observed attributes at dispatch time.
type Reference struct {
	// ID is the referenced resource's logical id.
	ID string

	// Attr is the referenced output attribute.
	Attr string
}

var refPattern = regexp.MustCompile(`\$\{([a-zA-Z0-9_-]+)\.([a-zA-Z0-9_]+)\}`)

// References walks the attribute tree and returns every output reference,
// deduplicated and sorted for deterministic graph construction.
func References(attrs Attributes) []Reference {
	seen := make(map[Reference]struct{})
	walkStrings(map[string]any(attrs), func(s string) {
		for _, m := range refPattern.FindAllStringSubmatch(s, -1) {
			seen[Reference{ID: m[1], Attr: m[2]}] = struct{}{}
		}
	})

	refs := make([]Reference, 0, len(seen))
	for r := range seen {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].ID != refs[j].ID {
			return refs[i].ID < refs[j].ID
		}
		return refs[i].Attr < refs[j].Attr
	})
	return refs
}

func walkStrings(v any, fn func(string)) {
	switch vv := v.(type) {
	case string:
		fn(vv)
	case map[string]any:
		for _, e := range vv {
			walkStrings(e, fn)
		}
	case Attributes:
		walkStrings(map[string]any(vv), fn)
	case []any:
		for _, e := range vv {
			walkStrings(e, fn)
		}
	case []string:
		for _, e := range vv {
			walkStrings(e, fn)
		}
	}
}

// Resolver looks up the value of an upstream output attribute. The second
// return reports whether the attribute exists.
type Resolver func(id, attr string) (any, bool)

// ResolveAttributes returns a copy of attrs with every ${id.attr} reference
// substituted via resolve. A string consisting of exactly one reference keeps
// the referenced value's type; references embedded in longer strings are
// rendered with fmt. Unresolvable references are an error: by the executor's
// ordering guarantees they mean the upstream apply did not produce the
// expected output.
func ResolveAttributes(attrs Attributes, resolve Resolver) (Attributes, error) {
	out, err := resolveValue(map[string]any(attrs), resolve)
	if err != nil {
		return nil, err
	}
	return Attributes(out.(map[string]any)), nil
}

func resolveValue(v any, resolve Resolver) (any, error) {
	switch vv := v.(type) {
	case string:
		return resolveString(vv, resolve)
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, e := range vv {
			r, err := resolveValue(e, resolve)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case Attributes:
		return resolveValue(map[string]any(vv), resolve)
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			r, err := resolveValue(e, resolve)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case []string:
		out := make([]any, len(vv))
		for i, e := range vv {
			r, err := resolveString(e, resolve)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return vv, nil
	}
}

func resolveString(s string, resolve Resolver) (any, error) {
	// Whole-token references keep the referenced value's type.
	if m := refPattern.FindStringSubmatch(s); m != nil && m[0] == s {
		val, ok := resolve(m[1], m[2])
		if !ok {
			return nil, fmt.Errorf("unresolved reference %s", s)
		}
		return val, nil
	}

	var resolveErr error
	replaced := refPattern.ReplaceAllStringFunc(s, func(tok string) string {
		m := refPattern.FindStringSubmatch(tok)
		val, ok := resolve(m[1], m[2])
		if !ok {
			resolveErr = fmt.Errorf("unresolved reference %s", tok)
			return tok
		}
		return fmt.Sprintf("%v", val)
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return replaced, nil
}

// HasReference reports whether any attribute value references the given id.
func HasReference(attrs Attributes, id string) bool {
	for _, r := range References(attrs) {
		if r.ID == id {
			return true
		}
	}
	return false
}
