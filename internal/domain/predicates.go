// Package domain provides the patch engine: method location, body rewriting,
// module serialization and atomic file replacement.
package domain

import (
	"strings"

	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

// Exact matches one method name.
func Exact(name string) m.MethodPredicate {
	return func(candidate string, _ m.ReturnKind, _ bool) bool {
		return candidate == name
	}
}

// Suffix matches method names ending with suffix.
func Suffix(suffix string) m.MethodPredicate {
	return func(candidate string, _ m.ReturnKind, _ bool) bool {
		return strings.HasSuffix(candidate, suffix)
	}
}

// Prefix matches method names starting with prefix.
func Prefix(prefix string) m.MethodPredicate {
	return func(candidate string, _ m.ReturnKind, _ bool) bool {
		return strings.HasPrefix(candidate, prefix)
	}
}

// Contains matches method names containing sub.
func Contains(sub string) m.MethodPredicate {
	return func(candidate string, _ m.ReturnKind, _ bool) bool {
		return strings.Contains(candidate, sub)
	}
}

// OneOf matches method names in the given set.
func OneOf(names ...string) m.MethodPredicate {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}

	return func(candidate string, _ m.ReturnKind, _ bool) bool {
		_, ok := set[candidate]
		return ok
	}
}

// ReturnsKind matches methods whose declared return kind is one of kinds.
func ReturnsKind(kinds ...m.ReturnKind) m.MethodPredicate {
	return func(_ string, kind m.ReturnKind, _ bool) bool {
		for _, k := range kinds {
			if k == kind {
				return true
			}
		}

		return false
	}
}

// HasBody matches methods with an IL body.
func HasBody() m.MethodPredicate {
	return func(_ string, _ m.ReturnKind, hasBody bool) bool {
		return hasBody
	}
}

// And matches when every predicate matches. An empty And matches everything.
func And(preds ...m.MethodPredicate) m.MethodPredicate {
	return func(name string, kind m.ReturnKind, hasBody bool) bool {
		for _, p := range preds {
			if !p(name, kind, hasBody) {
				return false
			}
		}

		return true
	}
}

// Or matches when any predicate matches. An empty Or matches nothing.
func Or(preds ...m.MethodPredicate) m.MethodPredicate {
	return func(name string, kind m.ReturnKind, hasBody bool) bool {
		for _, p := range preds {
			if p(name, kind, hasBody) {
				return true
			}
		}

		return false
	}
}

// Not inverts a predicate.
func Not(pred m.MethodPredicate) m.MethodPredicate {
	return func(name string, kind m.ReturnKind, hasBody bool) bool {
		return !pred(name, kind, hasBody)
	}
}

// TypeExact matches one type full name.
func TypeExact(fullName string) m.TypePredicate {
	return func(candidate string) bool {
		return candidate == fullName
	}
}

// TypeContains matches type full names containing sub.
func TypeContains(sub string) m.TypePredicate {
	return func(candidate string) bool {
		return strings.Contains(candidate, sub)
	}
}
