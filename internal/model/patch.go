package model

// ValueKind is the kind of a configured constant.
type ValueKind string

const (
	ValueBool ValueKind = "bool"
	ValueInt  ValueKind = "int"
)

// Constant is the value a patched method returns. Booleans are stored as 0 or 1.
type Constant struct {
	Kind  ValueKind
	Value int64
}

// Bool returns a boolean constant.
func Bool(v bool) Constant {
	if v {
		return Constant{Kind: ValueBool, Value: 1}
	}

	return Constant{Kind: ValueBool}
}

// Int returns an integer constant.
func Int(v int64) Constant {
	return Constant{Kind: ValueInt, Value: v}
}

// Policy decides what happens when a target is missing or fails.
type Policy string

const (
	// PolicyRequired aborts the run when the target is missing or fails.
	PolicyRequired Policy = "required"
	// PolicyOptional skips a missing target.
	PolicyOptional Policy = "optional"
)

// TypePredicate matches type full names.
type TypePredicate func(fullName string) bool

// MethodPredicate matches methods by name, declared return kind and body presence.
type MethodPredicate func(name string, kind ReturnKind, hasBody bool) bool

// PatchRule selects methods and the constant they should return. TypeName selects
// one type by exact full name; TypeMatch is used when TypeName is empty.
type PatchRule struct {
	TypeName  string
	TypeMatch TypePredicate
	// MethodNames, when set, limits candidates to these names through the type's
	// name index. Method still has to match.
	MethodNames []string
	Method      MethodPredicate
	Constant    Constant
	// Description is a human-readable form of the selectors, used in logs.
	Description string
}

// Target is one binary to patch.
type Target struct {
	Path   Path
	Rules  []PatchRule
	Policy Policy
}

// RuleSpec is the configuration form of a PatchRule.
type RuleSpec struct {
	Type           string   `mapstructure:"type" yaml:"type,omitempty"`
	TypeContains   string   `mapstructure:"type_contains" yaml:"type_contains,omitempty"`
	Methods        []string `mapstructure:"methods" yaml:"methods,omitempty"`
	MethodSuffix   string   `mapstructure:"method_suffix" yaml:"method_suffix,omitempty"`
	MethodPrefix   string   `mapstructure:"method_prefix" yaml:"method_prefix,omitempty"`
	MethodContains string   `mapstructure:"method_contains" yaml:"method_contains,omitempty"`
	Kind           string   `mapstructure:"kind" yaml:"kind,omitempty"`
	Value          any      `mapstructure:"value" yaml:"value"`
}

// TargetSpec is the configuration form of a Target.
type TargetSpec struct {
	Path   string     `mapstructure:"path" yaml:"path"`
	Policy string     `mapstructure:"policy" yaml:"policy,omitempty"`
	Rules  []RuleSpec `mapstructure:"rules" yaml:"rules"`
}
