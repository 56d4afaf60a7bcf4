package domain

import (
	"cmp"
	"slices"

	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

// Locate returns the methods of typeName that satisfy pred, in declaration order.
// A missing type or no matching method yields an empty result.
func Locate(module *m.Module, typeName string, pred m.MethodPredicate) []*m.Method {
	t, ok := module.Type(typeName)
	if !ok {
		return nil
	}

	return matchMethods(t, pred)
}

// LocateMatching returns the methods satisfying pred in every type selected by
// typePred, in type order and then declaration order.
func LocateMatching(module *m.Module, typePred m.TypePredicate, pred m.MethodPredicate) []*m.Method {
	var found []*m.Method

	for _, t := range module.Types {
		if typePred(t.FullName) {
			found = append(found, matchMethods(t, pred)...)
		}
	}

	return found
}

// LocateRule applies a rule's selectors. Methods without a body never match.
// Rules naming their methods go through the type's name index.
func LocateRule(module *m.Module, rule m.PatchRule) []*m.Method {
	pred := And(HasBody(), rule.Method)

	match := func(t *m.Type) []*m.Method {
		if len(rule.MethodNames) > 0 {
			return lookupMethods(t, rule.MethodNames, pred)
		}

		return matchMethods(t, pred)
	}

	if rule.TypeName != "" {
		t, ok := module.Type(rule.TypeName)
		if !ok {
			return nil
		}

		return match(t)
	}

	if rule.TypeMatch == nil {
		return nil
	}

	var found []*m.Method

	for _, t := range module.Types {
		if rule.TypeMatch(t.FullName) {
			found = append(found, match(t)...)
		}
	}

	return found
}

func matchMethods(t *m.Type, pred m.MethodPredicate) []*m.Method {
	var found []*m.Method

	for _, method := range t.Methods {
		if pred(method.Name, method.ReturnKind, method.HasBody()) {
			found = append(found, method)
		}
	}

	return found
}

// lookupMethods collects the overloads of each name that satisfy pred and
// returns them in declaration order.
func lookupMethods(t *m.Type, names []string, pred m.MethodPredicate) []*m.Method {
	var found []*m.Method

	seen := map[*m.Method]bool{}

	for _, name := range names {
		for _, method := range t.Lookup(name) {
			if !seen[method] && pred(method.Name, method.ReturnKind, method.HasBody()) {
				seen[method] = true
				found = append(found, method)
			}
		}
	}

	slices.SortFunc(found, func(a, b *m.Method) int {
		return cmp.Compare(a.Token, b.Token)
	})

	return found
}
