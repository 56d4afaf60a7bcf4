package domain

import (
	"bytes"
	"fmt"
	"log/slog"

	"ilpatch.dev/pkg/ilpatch/internal/cil"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

// PatchSectionName is the section that receives bodies that cannot be written in place.
const PatchSectionName = ".ilpatch"

// bodyAlignment is the alignment fat method headers require.
const bodyAlignment = 4

// Serialized is the output of one serialization.
type Serialized struct {
	Data []byte
	// InPlace and Relocated hold method full names by placement, in module order.
	InPlace   []string
	Relocated []string
	// Section is the appended patch section when any body was relocated.
	Section            *cil.Section
	CertificateDropped bool
}

// Serializer encodes a rewritten module.
type Serializer interface {
	Serialize(module *m.Module) (*Serialized, error)
}

type serializer struct{}

// NewSerializer returns the default Serializer. Managed-only modules have their
// metadata tables re-encoded and validated in full; mixed-native modules keep
// their layout and only get the RVA cells of relocated methods patched.
func NewSerializer() Serializer {
	return &serializer{}
}

// encodedMethod is one rewritten method and its new encoding.
type encodedMethod struct {
	method  *m.Method
	encoded []byte
}

// Serialize never mutates module or its image.
func (s *serializer) Serialize(module *m.Module) (*Serialized, error) {
	fail := func(op string, err error) error {
		slog.Error("serialization failed", "path", module.Path, "op", op, "error", err)
		return newPatchError(KindSerialization, module.Path, op, err)
	}

	dirty, err := encodeDirty(module)
	if err != nil {
		return nil, fail("encode", err)
	}

	img := module.Image.Clone()
	out := &Serialized{}

	// The certificate sits in the overlay, which a new section pushes back.
	// Drop it while its directory entry still matches the file tail.
	if len(dirty) > 0 {
		out.CertificateDropped = img.DropCertificate()
	}

	inPlace, relocate := planPlacement(module, dirty)

	for _, em := range inPlace {
		body := em.method.Body
		copy(img.Data[body.Offset:], em.encoded)
		clear(img.Data[body.Offset+len(em.encoded) : body.Offset+body.Size])
		out.InPlace = append(out.InPlace, em.method.FullName())
	}

	newRVAs := map[*m.Method]uint32{}

	if len(relocate) > 0 {
		section, rvas, err := appendPatchSection(img, relocate)
		if err != nil {
			return nil, fail("append section", err)
		}

		out.Section = &section
		newRVAs = rvas

		for _, em := range relocate {
			out.Relocated = append(out.Relocated, em.method.FullName())
		}
	}

	if err := writeMethodRVAs(img, module.Kind, relocate, newRVAs); err != nil {
		return nil, fail("metadata", err)
	}

	if len(dirty) > 0 {
		img.UpdateChecksum()
	}

	if err := verify(img.Data, dirty, newRVAs); err != nil {
		return nil, fail("verify", err)
	}

	out.Data = img.Data

	slog.Debug("module serialized", "path", module.Path, "kind", module.Kind,
		"in_place", len(out.InPlace), "relocated", len(out.Relocated), "size", len(out.Data))

	return out, nil
}

// encodeDirty encodes every rewritten body and checks that each encoding decodes
// back to the same instructions.
func encodeDirty(module *m.Module) ([]encodedMethod, error) {
	var dirty []encodedMethod

	for _, method := range module.Methods() {
		if method.Body == nil || !method.Body.Dirty {
			continue
		}

		encoded, err := cil.EncodeBody(method.Body.MethodBody())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", method.FullName(), err)
		}

		if err := checkRoundTrip(encoded, method.Body.Instructions); err != nil {
			return nil, fmt.Errorf("%s: %w", method.FullName(), err)
		}

		dirty = append(dirty, encodedMethod{method: method, encoded: encoded})
	}

	return dirty, nil
}

func checkRoundTrip(encoded []byte, want []cil.Instruction) error {
	decoded, size, err := cil.DecodeBody(encoded)
	if err != nil {
		return err
	}

	if size != len(encoded) {
		return fmt.Errorf("%w: encoded body is %d bytes, decodes as %d", cil.ErrEncoding, len(encoded), size)
	}

	if len(decoded.Instructions) != len(want) {
		return fmt.Errorf("%w: %d instructions decode as %d", cil.ErrEncoding, len(want), len(decoded.Instructions))
	}

	for i, inst := range decoded.Instructions {
		if inst.OpCode != want[i].OpCode || inst.Operand != want[i].Operand {
			return fmt.Errorf("%w: instruction %d decodes as %s %d", cil.ErrEncoding, i, inst.OpCode, inst.Operand)
		}
	}

	return nil
}

// planPlacement splits rewritten methods into in-place writes and relocations.
// A body is written in place when it fits the original extent and every method
// sharing that extent is rewritten to the same bytes.
func planPlacement(module *m.Module, dirty []encodedMethod) ([]encodedMethod, []encodedMethod) {
	sharers := map[int][]*m.Method{}
	for _, method := range module.Methods() {
		if method.Body != nil {
			sharers[method.Body.Offset] = append(sharers[method.Body.Offset], method)
		}
	}

	encodings := map[*m.Method][]byte{}
	for _, em := range dirty {
		encodings[em.method] = em.encoded
	}

	var inPlace, relocate []encodedMethod

	for _, em := range dirty {
		body := em.method.Body

		if len(em.encoded) > body.Size || !slotAgrees(sharers[body.Offset], em.encoded, encodings) {
			relocate = append(relocate, em)
			continue
		}

		// Sharers of one slot write identical bytes, so repeated writes are harmless.
		inPlace = append(inPlace, em)
	}

	return inPlace, relocate
}

func slotAgrees(sharers []*m.Method, encoded []byte, encodings map[*m.Method][]byte) bool {
	for _, other := range sharers {
		enc, ok := encodings[other]
		if !ok || !bytes.Equal(enc, encoded) {
			return false
		}
	}

	return true
}

// appendPatchSection writes relocated bodies into one new section. Identical
// encodings share one slot.
func appendPatchSection(img *cil.Image, relocate []encodedMethod) (cil.Section, map[*m.Method]uint32, error) {
	var payload []byte

	offsets := map[string]int{}
	placed := map[*m.Method]int{}

	for _, em := range relocate {
		key := string(em.encoded)

		off, ok := offsets[key]
		if !ok {
			for len(payload)%bodyAlignment != 0 {
				payload = append(payload, 0)
			}

			off = len(payload)
			offsets[key] = off
			payload = append(payload, em.encoded...)
		}

		placed[em.method] = off
	}

	section, err := img.AppendSection(PatchSectionName, payload, cil.SectionCodeDefault)
	if err != nil {
		return cil.Section{}, nil, err
	}

	rvas := make(map[*m.Method]uint32, len(placed))
	for method, off := range placed {
		rvas[method] = section.VirtualAddress + uint32(off)
	}

	return section, rvas, nil
}

// writeMethodRVAs points relocated methods at their new bodies. Managed-only
// images get the whole table stream re-encoded and validated; mixed-native
// images only have the RVA cells overwritten.
func writeMethodRVAs(img *cil.Image, kind m.ImageKind, relocate []encodedMethod, rvas map[*m.Method]uint32) error {
	for _, em := range relocate {
		rid := em.method.Token.RID()
		rva := rvas[em.method]

		var err error
		if kind == m.ManagedOnly {
			err = img.Tables.SetCell(cil.TableMethodDef, rid, cil.ColMethodRVA, rva)
		} else {
			err = img.WriteCell(cil.TableMethodDef, rid, cil.ColMethodRVA, rva)
		}

		if err != nil {
			return fmt.Errorf("%s: %w", em.method.FullName(), err)
		}
	}

	if kind == m.ManagedOnly {
		return img.RewriteTables()
	}

	return nil
}

// verify re-parses the output and checks every rewritten body at its final RVA.
func verify(data []byte, dirty []encodedMethod, rvas map[*m.Method]uint32) error {
	if len(dirty) == 0 {
		return nil
	}

	img, err := cil.Parse(data)
	if err != nil {
		return err
	}

	for _, em := range dirty {
		rva, ok := rvas[em.method]
		if !ok {
			rva = em.method.RVA
		}

		got, err := img.Tables.Cell(cil.TableMethodDef, em.method.Token.RID(), cil.ColMethodRVA)
		if err != nil {
			return err
		}

		if got != rva {
			return fmt.Errorf("%w: %s RVA is 0x%X, want 0x%X", cil.ErrDanglingReference, em.method.FullName(), got, rva)
		}

		tail, _, err := img.Tail(rva)
		if err != nil {
			return fmt.Errorf("%s: %w", em.method.FullName(), err)
		}

		if !bytes.HasPrefix(tail, em.encoded) {
			return fmt.Errorf("%w: %s body at 0x%X does not match its encoding", cil.ErrEncoding, em.method.FullName(), rva)
		}

		if _, size, err := cil.DecodeBody(tail); err != nil || size != len(em.encoded) {
			return fmt.Errorf("%w: %s body at 0x%X does not decode (%d bytes, %v)", cil.ErrEncoding, em.method.FullName(), rva, size, err)
		}
	}

	return nil
}
