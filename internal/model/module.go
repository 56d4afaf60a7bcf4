// Package model defines the data structures shared by the loader, the patch
// engine and the CLI.
package model

import "ilpatch.dev/pkg/ilpatch/internal/cil"

// Path represents a file system path.
type Path string

// ImageKind selects the serialization strategy for a module.
type ImageKind string

const (
	// ManagedOnly images carry only CIL code; their metadata may be re-encoded.
	ManagedOnly ImageKind = "managed-only"
	// MixedNative images embed native code whose layout must not move.
	MixedNative ImageKind = "mixed-native"
)

// ReturnKind is the declared return kind of a method.
type ReturnKind string

const (
	ReturnVoid    ReturnKind = "void"
	ReturnBoolean ReturnKind = "boolean"
	ReturnInteger ReturnKind = "integer"
	ReturnOther   ReturnKind = "other"
)

// Module is one loaded image. Types keep metadata order.
type Module struct {
	Path  Path
	Name  string
	Kind  ImageKind
	Image *cil.Image
	Types []*Type

	types map[string]*Type
}

// NewModule creates an empty module around a parsed image.
func NewModule(path Path, name string, kind ImageKind, image *cil.Image) *Module {
	return &Module{Path: path, Name: name, Kind: kind, Image: image, types: map[string]*Type{}}
}

// AddType appends t and indexes it by full name. A later duplicate name does not
// replace the first entry in the index.
func (m *Module) AddType(t *Type) {
	m.Types = append(m.Types, t)
	if _, ok := m.types[t.FullName]; !ok {
		m.types[t.FullName] = t
	}
}

// Type returns the type with the given full name.
func (m *Module) Type(fullName string) (*Type, bool) {
	t, ok := m.types[fullName]
	return t, ok
}

// Methods returns every method in type order, then declaration order.
func (m *Module) Methods() []*Method {
	var methods []*Method
	for _, t := range m.Types {
		methods = append(methods, t.Methods...)
	}

	return methods
}

// Type is a TypeDef. FullName is Namespace.Name, or Outer/Inner for nested types.
type Type struct {
	Name      string
	Namespace string
	FullName  string
	Token     cil.Token
	Methods   []*Method
	// EnumUnderlying is the value__ field type of an enum, zero otherwise.
	EnumUnderlying cil.ElementType

	byName map[string][]*Method
}

// AddMethod appends a method and indexes it by name. Overloads share a name.
func (t *Type) AddMethod(method *Method) {
	if t.byName == nil {
		t.byName = map[string][]*Method{}
	}

	method.DeclaringType = t
	t.Methods = append(t.Methods, method)
	t.byName[method.Name] = append(t.byName[method.Name], method)
}

// Lookup returns the overloads named name in declaration order.
func (t *Type) Lookup(name string) []*Method {
	return t.byName[name]
}

// Method is a MethodDef row.
type Method struct {
	Name      string
	Token     cil.Token
	RVA       uint32
	Flags     uint16
	ImplFlags uint16

	ReturnKind ReturnKind
	// ReturnType is the element type of the return value, with enums replaced by
	// their underlying type.
	ReturnType cil.ElementType
	// Body is nil when the method has no IL implementation.
	Body *Body

	DeclaringType *Type
}

// FullName returns Type::Method.
func (m *Method) FullName() string {
	if m.DeclaringType == nil {
		return m.Name
	}

	return m.DeclaringType.FullName + "::" + m.Name
}

// HasBody reports whether the method has an IL body.
func (m *Method) HasBody() bool {
	return m.Body != nil
}

// Body is a decoded method body plus the extent it occupied in the source image.
type Body struct {
	MaxStack     uint16
	InitLocals   bool
	LocalVarSig  cil.Token
	Locals       int
	Instructions []cil.Instruction
	Handlers     []cil.ExceptionClause

	// Offset and Size give the file extent of the original encoding.
	Offset int
	Size   int
	// Dirty is set once the body has been rewritten.
	Dirty bool
}

// MethodBody converts the body to its codec form.
func (b *Body) MethodBody() *cil.MethodBody {
	return &cil.MethodBody{
		MaxStack:     b.MaxStack,
		InitLocals:   b.InitLocals,
		LocalVarSig:  uint32(b.LocalVarSig),
		Instructions: b.Instructions,
		Clauses:      b.Handlers,
	}
}
