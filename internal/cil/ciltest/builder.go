// Package ciltest builds small CLI assemblies in memory and evaluates their
// method bodies. It backs the tests of every package that reads or writes images.
package ciltest

import (
	"encoding/binary"
	"fmt"

	"ilpatch.dev/pkg/ilpatch/internal/cil"
)

// Method flags and implementation flags used by the fixtures.
const (
	MethodPublicStatic   uint16 = 0x0016
	MethodPublicInstance uint16 = 0x0006
	MethodVirtual        uint16 = 0x0040
	MethodAbstract       uint16 = 0x0400
	MethodPInvoke        uint16 = 0x2000

	ImplIL      uint16 = 0x0000
	ImplNative  uint16 = 0x0001
	ImplRuntime uint16 = 0x0003
)

const (
	fileAlignment    = 0x200
	sectionAlignment = 0x2000
	sizeOfHeaders    = 0x200
	peOffset         = 0x80
	optOffset        = peOffset + 24
	optHeaderSize    = 224
	sectionTable     = optOffset + optHeaderSize
	textRVA          = 0x2000
	cliHeaderSize    = 72
)

// Sig names a type in a signature. TypeDef and TypeRef are full names ("Ns.Name").
type Sig struct {
	Elem    cil.ElementType
	ByRef   bool
	TypeDef string
	TypeRef string
}

// Scalar returns a signature for a primitive element type.
func Scalar(e cil.ElementType) Sig { return Sig{Elem: e} }

// ValueTypeDef returns a signature for a value type defined in the assembly.
func ValueTypeDef(fullName string) Sig { return Sig{Elem: cil.ElementValueType, TypeDef: fullName} }

// ValueTypeRef returns a signature for a value type defined in another assembly.
func ValueTypeRef(fullName string) Sig { return Sig{Elem: cil.ElementValueType, TypeRef: fullName} }

// Method describes a method row. Body nil with Native nil leaves RVA zero.
type Method struct {
	Name       string
	Flags      uint16
	ImplFlags  uint16
	Instance   bool
	Returns    Sig
	Body       *cil.MethodBody
	Locals     []Sig
	Native     []byte
	SharedWith string
}

// Field describes a field row.
type Field struct {
	Name  string
	Flags uint16
	Type  Sig
}

// Type describes a TypeDef row. Enclosing holds the full name of the declaring type
// of a nested type.
type Type struct {
	Namespace string
	Name      string
	Flags     uint32
	Extends   string
	Enclosing string
	Fields    []Field
	Methods   []Method
}

// FullName returns Namespace.Name.
func (t Type) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}

	return t.Namespace + "." + t.Name
}

// TypeRef describes a type defined in Scope, an assembly reference name.
type TypeRef struct {
	Namespace string
	Name      string
	Scope     string
}

func (t TypeRef) fullName() string {
	if t.Namespace == "" {
		return t.Name
	}

	return t.Namespace + "." + t.Name
}

// Assembly describes the image Build produces.
type Assembly struct {
	Name         string
	AssemblyRefs []string
	TypeRefs     []TypeRef
	Types        []Type

	// Mixed clears the IL-only flag and adds a native section.
	Mixed bool
	// ExtraSections adds empty sections after .text.
	ExtraSections int
	// Checksum stores a valid PE checksum.
	Checksum bool
	// Certificate is appended as an Authenticode table.
	Certificate []byte
	// Overlay is appended after the last section.
	Overlay []byte
}

type heap struct {
	data  []byte
	index map[string]uint32
}

func newHeap() *heap {
	return &heap{data: []byte{0}, index: map[string]uint32{}}
}

func (h *heap) str(s string) uint32 {
	if s == "" {
		return 0
	}

	if i, ok := h.index[s]; ok {
		return i
	}

	i := uint32(len(h.data))
	h.data = append(append(h.data, s...), 0)
	h.index[s] = i

	return i
}

func (h *heap) blob(b []byte) uint32 {
	key := string(b)
	if i, ok := h.index[key]; ok {
		return i
	}

	i := uint32(len(h.data))
	h.data = append(append(h.data, cil.EncodeCompressed(uint32(len(b)))...), b...)
	h.index[key] = i

	return i
}

type builder struct {
	asm      *Assembly
	strings  *heap
	blobs    *heap
	tables   *cil.Tables
	typeDefs map[string]uint32
	typeRefs map[string]uint32
	asmRefs  map[string]uint32
	text     []byte
	native   []byte
	bodyRVA  map[string]uint32
}

// Build encodes the assembly as a PE32 DLL.
func Build(asm Assembly) ([]byte, error) {
	b := &builder{
		asm:      &asm,
		strings:  newHeap(),
		blobs:    newHeap(),
		tables:   cil.NewTables(0),
		typeDefs: map[string]uint32{},
		typeRefs: map[string]uint32{},
		asmRefs:  map[string]uint32{},
		bodyRVA:  map[string]uint32{},
	}

	return b.build()
}

// MustBuild is Build for fixtures that are known to be valid.
func MustBuild(asm Assembly) []byte {
	data, err := Build(asm)
	if err != nil {
		panic(err)
	}

	return data
}

func (b *builder) typeSig(s Sig) ([]byte, error) {
	var out []byte
	if s.ByRef {
		out = append(out, byte(cil.ElementByRef))
	}

	out = append(out, byte(s.Elem))

	if s.Elem != cil.ElementValueType && s.Elem != cil.ElementClass {
		return out, nil
	}

	switch {
	case s.TypeDef != "":
		rid, ok := b.typeDefs[s.TypeDef]
		if !ok {
			return nil, fmt.Errorf("unknown type %s", s.TypeDef)
		}

		return append(out, cil.EncodeCompressed(rid<<2)...), nil
	case s.TypeRef != "":
		rid, ok := b.typeRefs[s.TypeRef]
		if !ok {
			return nil, fmt.Errorf("unknown type reference %s", s.TypeRef)
		}

		return append(out, cil.EncodeCompressed(rid<<2|1)...), nil
	default:
		return nil, fmt.Errorf("element 0x%02X signature without a type", uint8(s.Elem))
	}
}

func (b *builder) build() ([]byte, error) {
	b.tables.AddRow(cil.TableModule, 0, b.strings.str(b.asm.Name+".dll"), 1, 0, 0)

	for _, name := range b.asm.AssemblyRefs {
		b.asmRefs[name] = b.tables.AddRow(cil.TableAssemblyRef, 4, 0, 0, 0, 0, 0, b.strings.str(name), 0, 0)
	}

	for _, ref := range b.asm.TypeRefs {
		scope, ok := b.asmRefs[ref.Scope]
		if !ok {
			return nil, fmt.Errorf("type reference %s: unknown scope %s", ref.fullName(), ref.Scope)
		}

		b.typeRefs[ref.fullName()] = b.tables.AddRow(cil.TableTypeRef, scope<<2|2, b.strings.str(ref.Name), b.strings.str(ref.Namespace))
	}

	for i, t := range b.asm.Types {
		name := t.FullName()
		if t.Enclosing != "" {
			name = t.Enclosing + "/" + t.Name
		}

		b.typeDefs[name] = uint32(i + 2)
	}

	b.text = make([]byte, cliHeaderSize)

	if err := b.addTypes(); err != nil {
		return nil, err
	}

	b.tables.AddRow(cil.TableAssembly, 0x8004, 1, 0, 0, 0, 0, 0, b.strings.str(b.asm.Name), 0)

	metadata, err := b.metadata()
	if err != nil {
		return nil, err
	}

	b.text = pad(b.text, 4)
	metaRVA := textRVA + uint32(len(b.text))
	b.text = append(b.text, metadata...)

	flags := uint32(cil.CLIFlagILOnly)
	if b.asm.Mixed {
		flags = 0
	}

	binary.LittleEndian.PutUint32(b.text, cliHeaderSize)
	binary.LittleEndian.PutUint16(b.text[4:], 2)
	binary.LittleEndian.PutUint16(b.text[6:], 5)
	binary.LittleEndian.PutUint32(b.text[8:], metaRVA)
	binary.LittleEndian.PutUint32(b.text[12:], uint32(len(metadata)))
	binary.LittleEndian.PutUint32(b.text[16:], flags)

	return b.image(), nil
}

func (b *builder) addTypes() error {
	b.tables.AddRow(cil.TableTypeDef, 0, b.strings.str("<Module>"), 0, 0, 1, 1)

	fieldList, methodList := uint32(1), uint32(1)

	for _, t := range b.asm.Types {
		var extends uint32

		if t.Extends != "" {
			if rid, ok := b.typeRefs[t.Extends]; ok {
				extends = rid<<2 | 1
			} else if rid, ok := b.typeDefs[t.Extends]; ok {
				extends = rid << 2
			} else {
				return fmt.Errorf("type %s extends unknown %s", t.FullName(), t.Extends)
			}
		}

		flags := t.Flags
		if flags == 0 {
			flags = 0x00100001
		}

		b.tables.AddRow(cil.TableTypeDef, flags, b.strings.str(t.Name), b.strings.str(t.Namespace), extends, fieldList, methodList)

		for _, f := range t.Fields {
			sig, err := b.typeSig(f.Type)
			if err != nil {
				return fmt.Errorf("field %s: %w", f.Name, err)
			}

			b.tables.AddRow(cil.TableField, uint32(f.Flags), b.strings.str(f.Name), b.blobs.blob(append([]byte{0x06}, sig...)))
			fieldList++
		}

		for _, m := range t.Methods {
			if err := b.addMethod(t, m); err != nil {
				return fmt.Errorf("method %s::%s: %w", t.Name, m.Name, err)
			}

			methodList++
		}
	}

	for _, t := range b.asm.Types {
		if t.Enclosing == "" {
			continue
		}

		outer, ok := b.typeDefs[t.Enclosing]
		if !ok {
			return fmt.Errorf("type %s: unknown enclosing type %s", t.Name, t.Enclosing)
		}

		b.tables.AddRow(cil.TableNestedClass, b.typeDefs[t.Enclosing+"/"+t.Name], outer)
	}

	return nil
}

func (b *builder) addMethod(t Type, m Method) error {
	ret, err := b.typeSig(m.Returns)
	if err != nil {
		return err
	}

	conv := byte(0x00)
	if m.Instance {
		conv = 0x20
	}

	sig := append([]byte{conv, 0}, ret...)

	flags := m.Flags
	if flags == 0 {
		flags = MethodPublicStatic
	}

	var rva uint32

	switch {
	case m.SharedWith != "":
		shared, ok := b.bodyRVA[m.SharedWith]
		if !ok {
			return fmt.Errorf("shares the body of unknown method %s", m.SharedWith)
		}

		rva = shared
	case m.Native != nil:
		if b.asm.Mixed {
			rva = b.nativeRVA() + uint32(len(b.native))
			b.native = append(b.native, m.Native...)
		} else {
			b.text = pad(b.text, 4)
			rva = textRVA + uint32(len(b.text))
			b.text = append(b.text, m.Native...)
		}
	case m.Body != nil:
		body := *m.Body

		if len(m.Locals) > 0 {
			locals := []byte{0x07}
			locals = append(locals, cil.EncodeCompressed(uint32(len(m.Locals)))...)

			for _, l := range m.Locals {
				enc, err := b.typeSig(l)
				if err != nil {
					return err
				}

				locals = append(locals, enc...)
			}

			rid := b.tables.AddRow(cil.TableStandAloneSig, b.blobs.blob(locals))
			body.LocalVarSig = uint32(cil.NewToken(cil.TableStandAloneSig, rid))
		}

		encoded, err := cil.EncodeBody(&body)
		if err != nil {
			return err
		}

		if encoded[0]&0x3 == 0x3 {
			b.text = pad(b.text, 4)
		}

		rva = textRVA + uint32(len(b.text))
		b.text = append(b.text, encoded...)
	}

	b.bodyRVA[m.Name] = rva
	b.tables.AddRow(cil.TableMethodDef, rva, uint32(m.ImplFlags), uint32(flags), b.strings.str(m.Name), b.blobs.blob(sig), 1)

	return nil
}

func (b *builder) nativeRVA() uint32 {
	// .native follows .text; the text size is not final while methods are added,
	// so native code lives one section past a generous .text reservation.
	return textRVA + 4*sectionAlignment
}

func (b *builder) metadata() ([]byte, error) {
	guids := make([]byte, 16)
	copy(guids, "ilpatch-fixture!")

	strs := pad(b.strings.data, 4)
	blobs := pad(b.blobs.data, 4)
	us := pad([]byte{0}, 4)

	rawTables, err := b.tables.Encode(cil.HeapLimits{
		Strings:   uint32(len(strs)),
		Blob:      uint32(len(blobs)),
		GUIDCount: 1,
	})
	if err != nil {
		return nil, err
	}

	tables := pad(rawTables, 4)

	streams := []struct {
		name string
		data []byte
	}{
		{"#~", tables},
		{"#Strings", strs},
		{"#US", us},
		{"#GUID", guids},
		{"#Blob", blobs},
	}

	version := pad([]byte("v4.0.30319\x00"), 4)

	header := binary.LittleEndian.AppendUint32(nil, 0x424A5342)
	header = binary.LittleEndian.AppendUint16(header, 1)
	header = binary.LittleEndian.AppendUint16(header, 1)
	header = binary.LittleEndian.AppendUint32(header, 0)
	header = binary.LittleEndian.AppendUint32(header, uint32(len(version)))
	header = append(header, version...)
	header = binary.LittleEndian.AppendUint16(header, 0)
	header = binary.LittleEndian.AppendUint16(header, uint16(len(streams)))

	headersSize := len(header)
	for _, s := range streams {
		headersSize += 8 + len(pad([]byte(s.name+"\x00"), 4))
	}

	offset := headersSize
	for _, s := range streams {
		header = binary.LittleEndian.AppendUint32(header, uint32(offset))
		header = binary.LittleEndian.AppendUint32(header, uint32(len(s.data)))
		header = append(header, pad([]byte(s.name+"\x00"), 4)...)
		offset += len(s.data)
	}

	for _, s := range streams {
		header = append(header, s.data...)
	}

	return header, nil
}

type section struct {
	name  string
	rva   uint32
	data  []byte
	chars uint32
}

func (b *builder) image() []byte {
	sections := []section{{name: ".text", rva: textRVA, data: b.text, chars: cil.SectionCodeDefault}}

	next := textRVA + alignUp(uint32(len(b.text)), sectionAlignment)
	if b.asm.Mixed {
		if next > b.nativeRVA() {
			panic("ciltest: .text overlaps .native")
		}

		sections = append(sections, section{name: ".native", rva: b.nativeRVA(), data: b.native, chars: cil.SectionCodeDefault})
		next = b.nativeRVA() + alignUp(uint32(max(len(b.native), 1)), sectionAlignment)
	}

	for i := 0; i < b.asm.ExtraSections; i++ {
		sections = append(sections, section{name: fmt.Sprintf(".extra%d", i), rva: next, data: make([]byte, 16), chars: 0x40000040})
		next += sectionAlignment
	}

	out := make([]byte, sizeOfHeaders)
	copy(out, "MZ")
	binary.LittleEndian.PutUint32(out[0x3C:], peOffset)
	copy(out[peOffset:], "PE\x00\x00")

	coff := out[peOffset+4:]
	binary.LittleEndian.PutUint16(coff, 0x14C)
	binary.LittleEndian.PutUint16(coff[2:], uint16(len(sections)))
	binary.LittleEndian.PutUint16(coff[16:], optHeaderSize)
	binary.LittleEndian.PutUint16(coff[18:], 0x2102)

	var codeSize uint32

	for i, s := range sections {
		raw := uint32(len(out))
		out = append(out, s.data...)
		out = pad(out, fileAlignment)

		h := out[sectionTable+i*40:]
		copy(h[:8], s.name)
		binary.LittleEndian.PutUint32(h[8:], uint32(len(s.data)))
		binary.LittleEndian.PutUint32(h[12:], s.rva)
		binary.LittleEndian.PutUint32(h[16:], uint32(len(out))-raw)
		binary.LittleEndian.PutUint32(h[20:], raw)
		binary.LittleEndian.PutUint32(h[36:], s.chars)

		if s.chars&cil.SectionCode != 0 {
			codeSize += uint32(len(out)) - raw
		}
	}

	opt := out[optOffset:]
	binary.LittleEndian.PutUint16(opt, 0x10B)
	opt[2] = 8
	binary.LittleEndian.PutUint32(opt[4:], codeSize)
	binary.LittleEndian.PutUint32(opt[20:], textRVA)
	binary.LittleEndian.PutUint32(opt[28:], 0x10000000)
	binary.LittleEndian.PutUint32(opt[32:], sectionAlignment)
	binary.LittleEndian.PutUint32(opt[36:], fileAlignment)
	binary.LittleEndian.PutUint16(opt[40:], 4)
	binary.LittleEndian.PutUint16(opt[48:], 4)
	binary.LittleEndian.PutUint32(opt[56:], next)
	binary.LittleEndian.PutUint32(opt[60:], sizeOfHeaders)
	binary.LittleEndian.PutUint16(opt[68:], 3)
	binary.LittleEndian.PutUint16(opt[70:], 0x8540)
	binary.LittleEndian.PutUint32(opt[72:], 0x100000)
	binary.LittleEndian.PutUint32(opt[76:], 0x1000)
	binary.LittleEndian.PutUint32(opt[80:], 0x100000)
	binary.LittleEndian.PutUint32(opt[84:], 0x1000)
	binary.LittleEndian.PutUint32(opt[92:], 16)
	binary.LittleEndian.PutUint32(opt[96+14*8:], textRVA)
	binary.LittleEndian.PutUint32(opt[96+14*8+4:], cliHeaderSize)

	out = append(out, b.asm.Overlay...)

	if len(b.asm.Certificate) > 0 {
		out = pad(out, 8)
		binary.LittleEndian.PutUint32(out[optOffset+96+4*8:], uint32(len(out)))
		binary.LittleEndian.PutUint32(out[optOffset+96+4*8+4:], uint32(len(b.asm.Certificate)))
		out = append(out, b.asm.Certificate...)
	}

	if b.asm.Checksum {
		binary.LittleEndian.PutUint32(out[optOffset+64:], cil.Checksum(out, optOffset+64))
	}

	return out
}

func pad(b []byte, to int) []byte {
	for len(b)%to != 0 {
		b = append(b, 0)
	}

	return b
}

func alignUp(n, to uint32) uint32 {
	return (n + to - 1) &^ (to - 1)
}
