package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cast"

	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

// ErrInvalidRule is returned for rule configuration that cannot be compiled.
var ErrInvalidRule = errors.New("invalid rule")

// BuildRule compiles a configured rule. Exactly one type selector and at least
// one method selector are required; multiple method selectors must all match.
func BuildRule(spec m.RuleSpec) (m.PatchRule, error) {
	var rule m.PatchRule

	switch {
	case spec.Type != "" && spec.TypeContains != "":
		return rule, fmt.Errorf("%w: type and type_contains are exclusive", ErrInvalidRule)
	case spec.Type != "":
		rule.TypeName = spec.Type
	case spec.TypeContains != "":
		rule.TypeMatch = TypeContains(spec.TypeContains)
	default:
		return rule, fmt.Errorf("%w: missing type or type_contains", ErrInvalidRule)
	}

	var (
		preds []m.MethodPredicate
		desc  []string
	)

	if len(spec.Methods) > 0 {
		rule.MethodNames = spec.Methods
		preds = append(preds, OneOf(spec.Methods...))
		desc = append(desc, "{"+strings.Join(spec.Methods, ",")+"}")
	}

	if spec.MethodPrefix != "" {
		preds = append(preds, Prefix(spec.MethodPrefix))
		desc = append(desc, spec.MethodPrefix+"*")
	}

	if spec.MethodSuffix != "" {
		preds = append(preds, Suffix(spec.MethodSuffix))
		desc = append(desc, "*"+spec.MethodSuffix)
	}

	if spec.MethodContains != "" {
		preds = append(preds, Contains(spec.MethodContains))
		desc = append(desc, "*"+spec.MethodContains+"*")
	}

	if len(preds) == 0 {
		return rule, fmt.Errorf("%w: no method selector", ErrInvalidRule)
	}

	rule.Method = And(preds...)

	value, err := buildConstant(spec.Kind, spec.Value)
	if err != nil {
		return rule, err
	}

	rule.Constant = value

	typeDesc := spec.Type
	if typeDesc == "" {
		typeDesc = "*" + spec.TypeContains + "*"
	}

	rule.Description = fmt.Sprintf("%s::%s = %s", typeDesc, strings.Join(desc, "&"), formatConstant(value))

	return rule, nil
}

// buildConstant converts a configured value. An empty kind is inferred from the
// value: booleans and "true"/"false" become bool, everything else int.
func buildConstant(kind string, value any) (m.Constant, error) {
	if value == nil {
		return m.Constant{}, fmt.Errorf("%w: missing value", ErrInvalidRule)
	}

	if kind == "" {
		kind = string(m.ValueInt)

		switch v := value.(type) {
		case bool:
			kind = string(m.ValueBool)
		case string:
			if _, err := cast.ToBoolE(v); err == nil && !isNumeric(v) {
				kind = string(m.ValueBool)
			}
		}
	}

	switch m.ValueKind(strings.ToLower(kind)) {
	case m.ValueBool:
		if i, err := cast.ToInt64E(value); err == nil && i != 0 && i != 1 {
			return m.Constant{}, fmt.Errorf("%w: %v is not a bool", ErrInvalidRule, value)
		}

		b, err := cast.ToBoolE(value)
		if err != nil {
			return m.Constant{}, fmt.Errorf("%w: %v is not a bool: %w", ErrInvalidRule, value, err)
		}

		return m.Bool(b), nil
	case m.ValueInt:
		if _, ok := value.(bool); ok {
			return m.Constant{}, fmt.Errorf("%w: %v is not an int", ErrInvalidRule, value)
		}

		i, err := cast.ToInt64E(value)
		if err != nil {
			return m.Constant{}, fmt.Errorf("%w: %v is not an int: %w", ErrInvalidRule, value, err)
		}

		return m.Int(i), nil
	default:
		return m.Constant{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, kind)
	}
}

func isNumeric(s string) bool {
	_, err := cast.ToInt64E(s)
	return err == nil
}

func formatConstant(c m.Constant) string {
	if c.Kind == m.ValueBool {
		return cast.ToString(c.Value != 0)
	}

	return cast.ToString(c.Value)
}

// BuildTarget compiles a configured target. Relative paths are joined to baseDir.
// The policy defaults to required.
func BuildTarget(spec m.TargetSpec, baseDir string) (m.Target, error) {
	if spec.Path == "" {
		return m.Target{}, fmt.Errorf("%w: target without path", ErrInvalidRule)
	}

	path := spec.Path
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}

	target := m.Target{Path: m.Path(path), Policy: m.PolicyRequired}

	switch m.Policy(strings.ToLower(spec.Policy)) {
	case "", m.PolicyRequired:
	case m.PolicyOptional:
		target.Policy = m.PolicyOptional
	default:
		return m.Target{}, fmt.Errorf("%w: target %s: unknown policy %q", ErrInvalidRule, spec.Path, spec.Policy)
	}

	for i, rs := range spec.Rules {
		rule, err := BuildRule(rs)
		if err != nil {
			return m.Target{}, fmt.Errorf("target %s rule %d: %w", spec.Path, i+1, err)
		}

		target.Rules = append(target.Rules, rule)
	}

	return target, nil
}

// BuildTargets compiles every configured target.
func BuildTargets(specs []m.TargetSpec, baseDir string) ([]m.Target, error) {
	targets := make([]m.Target, 0, len(specs))

	for _, spec := range specs {
		target, err := BuildTarget(spec, baseDir)
		if err != nil {
			return nil, err
		}

		targets = append(targets, target)
	}

	return targets, nil
}
