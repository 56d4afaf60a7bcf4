package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"ilpatch.dev/pkg/ilpatch/internal/cil"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

// MethodDef flags and implementation flags that decide whether a method has an IL body.
const (
	methodAbstract   = 0x0400
	methodPInvoke    = 0x2000
	implCodeTypeMask = 0x0003
	implIL           = 0x0000
	implInternalCall = 0x1000
	fieldStatic      = 0x0010
)

const nestedTypeSeparator = "/"

// TypeResolver classifies value types declared in other assemblies.
type TypeResolver interface {
	// EnumUnderlying returns the underlying element type of the enum fullName
	// declared in the assembly scope. ok is false when the type is not an enum
	// or cannot be found.
	EnumUnderlying(ctx context.Context, scope, fullName string) (cil.ElementType, bool)
}

// ModuleRegistry is implemented by resolvers that accept modules loaded elsewhere.
type ModuleRegistry interface {
	Add(module *m.Module)
}

// ModuleLoader parses compiled modules into the in-memory model.
type ModuleLoader interface {
	// Load reads path fully and parses it. The file is closed before Load returns.
	// resolver may be nil, in which case enums from other assemblies classify as other.
	Load(ctx context.Context, path m.Path, resolver TypeResolver) (*m.Module, error)

	// LoadBytes parses an image that is already in memory.
	LoadBytes(ctx context.Context, path m.Path, data []byte, resolver TypeResolver) (*m.Module, error)
}

// LocalModuleLoader implements ModuleLoader on top of a BinaryFSAdapter.
type LocalModuleLoader struct {
	fs BinaryFSAdapter
}

// NewLocalModuleLoader constructs a LocalModuleLoader.
func NewLocalModuleLoader(fs BinaryFSAdapter) *LocalModuleLoader {
	return &LocalModuleLoader{fs: fs}
}

// Load reads and parses a module from disk.
func (l *LocalModuleLoader) Load(ctx context.Context, path m.Path, resolver TypeResolver) (*m.Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := l.fs.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return l.LoadBytes(ctx, path, data, resolver)
}

// LoadBytes parses data as the module at path. data is retained by the module image.
func (l *LocalModuleLoader) LoadBytes(ctx context.Context, path m.Path, data []byte, resolver TypeResolver) (*m.Module, error) {
	img, err := cil.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	kind := m.MixedNative
	if img.IsILOnly() {
		kind = m.ManagedOnly
	}

	ml := &moduleLoad{ctx: ctx, img: img, resolver: resolver}

	module := m.NewModule(path, ml.assemblyName(path), kind, img)

	if err := ml.loadTypes(module); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	if err := ml.loadMethods(); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	slog.Debug("module loaded", "path", path, "name", module.Name, "kind", kind,
		"types", len(module.Types), "methods", len(module.Methods()))

	return module, nil
}

// moduleLoad carries the state of one LoadBytes call.
type moduleLoad struct {
	ctx      context.Context
	img      *cil.Image
	resolver TypeResolver

	// types is indexed by TypeDef rid - 1.
	types []*m.Type
}

func (ml *moduleLoad) assemblyName(path m.Path) string {
	tables := ml.img.Tables

	if tables.Rows(cil.TableAssembly) > 0 {
		if idx, err := tables.Cell(cil.TableAssembly, 1, cil.ColAssemblyName); err == nil {
			if name, err := ml.img.String(idx); err == nil && name != "" {
				return name
			}
		}
	}

	base := filepath.Base(string(path))

	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (ml *moduleLoad) loadTypes(module *m.Module) error {
	tables := ml.img.Tables
	count := uint32(tables.Rows(cil.TableTypeDef))

	enclosing := map[uint32]uint32{}
	for rid := uint32(1); rid <= uint32(tables.Rows(cil.TableNestedClass)); rid++ {
		row, err := tables.Row(cil.TableNestedClass, rid)
		if err != nil {
			return err
		}

		enclosing[row[cil.ColNestedClassNested]] = row[cil.ColNestedClassEnclosing]
	}

	ml.types = make([]*m.Type, count)

	for rid := uint32(1); rid <= count; rid++ {
		row, err := tables.Row(cil.TableTypeDef, rid)
		if err != nil {
			return err
		}

		name, err := ml.img.String(row[cil.ColTypeDefName])
		if err != nil {
			return fmt.Errorf("type %d name: %w", rid, err)
		}

		ns, err := ml.img.String(row[cil.ColTypeDefNamespace])
		if err != nil {
			return fmt.Errorf("type %d namespace: %w", rid, err)
		}

		ml.types[rid-1] = &m.Type{Name: name, Namespace: ns, Token: cil.NewToken(cil.TableTypeDef, rid)}
	}

	for rid := uint32(1); rid <= count; rid++ {
		t := ml.types[rid-1]

		full, err := ml.typeFullName(rid, enclosing, 0)
		if err != nil {
			return err
		}

		t.FullName = full

		underlying, err := ml.enumUnderlying(rid)
		if err != nil {
			return fmt.Errorf("type %s: %w", full, err)
		}

		t.EnumUnderlying = underlying
		module.AddType(t)
	}

	return nil
}

func (ml *moduleLoad) typeFullName(rid uint32, enclosing map[uint32]uint32, depth int) (string, error) {
	if rid == 0 || int(rid) > len(ml.types) || depth > len(ml.types) {
		return "", fmt.Errorf("%w: nested class chain at type %d", cil.ErrDanglingReference, rid)
	}

	t := ml.types[rid-1]

	if outer, ok := enclosing[rid]; ok {
		outerName, err := ml.typeFullName(outer, enclosing, depth+1)
		if err != nil {
			return "", err
		}

		return outerName + nestedTypeSeparator + t.Name, nil
	}

	return joinTypeName(t.Namespace, t.Name), nil
}

func joinTypeName(ns, name string) string {
	if ns == "" {
		return name
	}

	return ns + "." + name
}

// enumUnderlying returns the value__ field type when the TypeDef extends System.Enum.
func (ml *moduleLoad) enumUnderlying(rid uint32) (cil.ElementType, error) {
	tables := ml.img.Tables

	extends, err := tables.Cell(cil.TableTypeDef, rid, cil.ColTypeDefExtends)
	if err != nil || extends == 0 {
		return 0, err
	}

	base, err := tables.DecodeCoded(cil.TableTypeDef, cil.ColTypeDefExtends, extends)
	if err != nil {
		return 0, err
	}

	if base.Table() != cil.TableTypeRef {
		return 0, nil
	}

	ns, name, _, err := ml.typeRefName(base.RID())
	if err != nil {
		return 0, err
	}

	if ns != "System" || name != "Enum" {
		return 0, nil
	}

	first, last, err := ml.memberRange(rid, cil.ColTypeDefFieldList, cil.TableField, cil.TableFieldPtr)
	if err != nil {
		return 0, err
	}

	for i := first; i < last; i++ {
		field, err := ml.indirect(cil.TableFieldPtr, cil.TableField, i)
		if err != nil {
			return 0, err
		}

		row, err := tables.Row(cil.TableField, field)
		if err != nil {
			return 0, err
		}

		if row[cil.ColFieldFlags]&fieldStatic != 0 {
			continue
		}

		blob, err := ml.img.Blob(row[cil.ColFieldSignature])
		if err != nil {
			return 0, err
		}

		sig, err := cil.FieldType(blob)
		if err != nil {
			return 0, err
		}

		return sig.Element, nil
	}

	return 0, nil
}

// memberRange returns the [first, last) list indices owned by TypeDef rid.
func (ml *moduleLoad) memberRange(rid uint32, col int, table, ptr cil.TableID) (uint32, uint32, error) {
	tables := ml.img.Tables

	first, err := tables.Cell(cil.TableTypeDef, rid, col)
	if err != nil {
		return 0, 0, err
	}

	listRows := tables.Rows(table)
	if tables.Rows(ptr) > 0 {
		listRows = tables.Rows(ptr)
	}

	last := uint32(listRows) + 1
	if int(rid) < tables.Rows(cil.TableTypeDef) {
		if last, err = tables.Cell(cil.TableTypeDef, rid+1, col); err != nil {
			return 0, 0, err
		}
	}

	if first == 0 || first > last || last > uint32(listRows)+1 {
		return 0, 0, fmt.Errorf("%w: member list of type %d", cil.ErrDanglingReference, rid)
	}

	return first, last, nil
}

// indirect maps a list index through the pointer table when the image has one.
func (ml *moduleLoad) indirect(ptr, table cil.TableID, i uint32) (uint32, error) {
	if ml.img.Tables.Rows(ptr) == 0 {
		return i, nil
	}

	target, err := ml.img.Tables.Cell(ptr, i, cil.ColPtrTarget)
	if err != nil {
		return 0, err
	}

	if target == 0 || int(target) > ml.img.Tables.Rows(table) {
		return 0, fmt.Errorf("%w: pointer %d", cil.ErrDanglingReference, i)
	}

	return target, nil
}

// typeRefName returns the namespace and name of a TypeRef plus the name of the
// assembly it resolves to. Nested references are joined with a slash.
func (ml *moduleLoad) typeRefName(rid uint32) (string, string, string, error) {
	tables := ml.img.Tables

	row, err := tables.Row(cil.TableTypeRef, rid)
	if err != nil {
		return "", "", "", err
	}

	name, err := ml.img.String(row[cil.ColTypeRefName])
	if err != nil {
		return "", "", "", err
	}

	ns, err := ml.img.String(row[cil.ColTypeRefNamespace])
	if err != nil {
		return "", "", "", err
	}

	if row[cil.ColTypeRefScope] == 0 {
		return ns, name, "", nil
	}

	scope, err := tables.DecodeCoded(cil.TableTypeRef, cil.ColTypeRefScope, row[cil.ColTypeRefScope])
	if err != nil {
		return "", "", "", err
	}

	switch scope.Table() {
	case cil.TableAssemblyRef:
		idx, err := tables.Cell(cil.TableAssemblyRef, scope.RID(), cil.ColAssemblyRefName)
		if err != nil {
			return "", "", "", err
		}

		asm, err := ml.img.String(idx)

		return ns, name, asm, err
	case cil.TableTypeRef:
		if scope.RID() == rid {
			return "", "", "", fmt.Errorf("%w: type reference %d scopes itself", cil.ErrDanglingReference, rid)
		}

		outerNS, outerName, asm, err := ml.typeRefName(scope.RID())
		if err != nil {
			return "", "", "", err
		}

		return outerNS, outerName + nestedTypeSeparator + name, asm, nil
	default:
		return ns, name, "", nil
	}
}

func (ml *moduleLoad) loadMethods() error {
	for rid := uint32(1); rid <= uint32(len(ml.types)); rid++ {
		t := ml.types[rid-1]

		first, last, err := ml.memberRange(rid, cil.ColTypeDefMethodList, cil.TableMethodDef, cil.TableMethodPtr)
		if err != nil {
			return err
		}

		for i := first; i < last; i++ {
			mrid, err := ml.indirect(cil.TableMethodPtr, cil.TableMethodDef, i)
			if err != nil {
				return err
			}

			method, err := ml.loadMethod(mrid)
			if err != nil {
				return fmt.Errorf("method %d of %s: %w", mrid, t.FullName, err)
			}

			t.AddMethod(method)
		}
	}

	return nil
}

func (ml *moduleLoad) loadMethod(rid uint32) (*m.Method, error) {
	row, err := ml.img.Tables.Row(cil.TableMethodDef, rid)
	if err != nil {
		return nil, err
	}

	name, err := ml.img.String(row[cil.ColMethodName])
	if err != nil {
		return nil, err
	}

	method := &m.Method{
		Name:      name,
		Token:     cil.NewToken(cil.TableMethodDef, rid),
		RVA:       row[cil.ColMethodRVA],
		Flags:     uint16(row[cil.ColMethodFlags]),
		ImplFlags: uint16(row[cil.ColMethodImplFlags]),
	}

	blob, err := ml.img.Blob(row[cil.ColMethodSignature])
	if err != nil {
		return nil, err
	}

	sig, err := cil.MethodReturn(blob)
	if err != nil {
		return nil, fmt.Errorf("%s signature: %w", name, err)
	}

	method.ReturnKind, method.ReturnType = ml.classify(sig)

	if !hasILBody(method) {
		return method, nil
	}

	body, err := ml.loadBody(method.RVA)
	if err != nil {
		return nil, fmt.Errorf("%s body: %w", name, err)
	}

	method.Body = body

	return method, nil
}

func hasILBody(method *m.Method) bool {
	return method.RVA != 0 &&
		method.ImplFlags&implCodeTypeMask == implIL &&
		method.ImplFlags&implInternalCall == 0 &&
		method.Flags&(methodAbstract|methodPInvoke) == 0
}

// classify maps a return type to its kind. Enums report their underlying type.
func (ml *moduleLoad) classify(sig cil.TypeSig) (m.ReturnKind, cil.ElementType) {
	if sig.ByRef {
		return m.ReturnOther, sig.Element
	}

	element := sig.Element

	if element == cil.ElementValueType {
		if underlying := ml.valueTypeUnderlying(sig.Token); underlying != 0 {
			element = underlying
		}
	}

	switch {
	case element == cil.ElementVoid:
		return m.ReturnVoid, element
	case element == cil.ElementBoolean:
		return m.ReturnBoolean, element
	case element.IsInteger():
		return m.ReturnInteger, element
	default:
		return m.ReturnOther, element
	}
}

func (ml *moduleLoad) valueTypeUnderlying(tok cil.Token) cil.ElementType {
	switch tok.Table() {
	case cil.TableTypeDef:
		if tok.RID() == 0 || int(tok.RID()) > len(ml.types) {
			return 0
		}

		return ml.types[tok.RID()-1].EnumUnderlying
	case cil.TableTypeRef:
		if ml.resolver == nil {
			return 0
		}

		ns, name, scope, err := ml.typeRefName(tok.RID())
		if err != nil || scope == "" {
			return 0
		}

		underlying, ok := ml.resolver.EnumUnderlying(ml.ctx, scope, joinTypeName(ns, name))
		if !ok {
			return 0
		}

		return underlying
	default:
		return 0
	}
}

func (ml *moduleLoad) loadBody(rva uint32) (*m.Body, error) {
	tail, offset, err := ml.img.Tail(rva)
	if err != nil {
		return nil, err
	}

	decoded, size, err := cil.DecodeBody(tail)
	if err != nil {
		return nil, err
	}

	body := &m.Body{
		MaxStack:     decoded.MaxStack,
		InitLocals:   decoded.InitLocals,
		LocalVarSig:  cil.Token(decoded.LocalVarSig),
		Instructions: decoded.Instructions,
		Handlers:     decoded.Clauses,
		Offset:       offset,
		Size:         size,
	}

	if decoded.LocalVarSig != 0 {
		if body.Locals, err = ml.localCount(body.LocalVarSig); err != nil {
			return nil, err
		}
	}

	return body, nil
}

func (ml *moduleLoad) localCount(tok cil.Token) (int, error) {
	if tok.Table() != cil.TableStandAloneSig {
		return 0, fmt.Errorf("%w: local signature token %s", cil.ErrDanglingReference, tok)
	}

	idx, err := ml.img.Tables.Cell(cil.TableStandAloneSig, tok.RID(), cil.ColStandAloneSigBlob)
	if err != nil {
		return 0, err
	}

	blob, err := ml.img.Blob(idx)
	if err != nil {
		return 0, err
	}

	return cil.LocalCount(blob)
}
