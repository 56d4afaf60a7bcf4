package cil

import (
	"errors"
	"fmt"
)

// ErrMalformedSignature is returned when a signature blob cannot be parsed.
var ErrMalformedSignature = errors.New("malformed signature")

// ElementType is an ECMA-335 signature element type.
type ElementType uint8

// Element types used by return-kind classification.
const (
	ElementEnd         ElementType = 0x00
	ElementVoid        ElementType = 0x01
	ElementBoolean     ElementType = 0x02
	ElementChar        ElementType = 0x03
	ElementI1          ElementType = 0x04
	ElementU1          ElementType = 0x05
	ElementI2          ElementType = 0x06
	ElementU2          ElementType = 0x07
	ElementI4          ElementType = 0x08
	ElementU4          ElementType = 0x09
	ElementI8          ElementType = 0x0A
	ElementU8          ElementType = 0x0B
	ElementR4          ElementType = 0x0C
	ElementR8          ElementType = 0x0D
	ElementString      ElementType = 0x0E
	ElementPtr         ElementType = 0x0F
	ElementByRef       ElementType = 0x10
	ElementValueType   ElementType = 0x11
	ElementClass       ElementType = 0x12
	ElementVar         ElementType = 0x13
	ElementArray       ElementType = 0x14
	ElementGenericInst ElementType = 0x15
	ElementTypedByRef  ElementType = 0x16
	ElementI           ElementType = 0x18
	ElementU           ElementType = 0x19
	ElementFnPtr       ElementType = 0x1B
	ElementObject      ElementType = 0x1C
	ElementSZArray     ElementType = 0x1D
	ElementMVar        ElementType = 0x1E
	ElementCModReqd    ElementType = 0x1F
	ElementCModOpt     ElementType = 0x20
	ElementSentinel    ElementType = 0x41
	ElementPinned      ElementType = 0x45
)

// Signature calling-convention markers.
const (
	sigGeneric  = 0x10
	sigField    = 0x06
	sigLocalVar = 0x07
)

// IsInteger reports whether e is an integral scalar that ldc.i4 or ldc.i8 can produce.
func (e ElementType) IsInteger() bool {
	return e == ElementChar || (e >= ElementI1 && e <= ElementU8)
}

// Is64 reports whether e needs ldc.i8.
func (e ElementType) Is64() bool {
	return e == ElementI8 || e == ElementU8
}

// Range returns the inclusive value range an integer element type can hold.
func (e ElementType) Range() (int64, int64) {
	switch e {
	case ElementBoolean:
		return 0, 1
	case ElementI1:
		return -1 << 7, 1<<7 - 1
	case ElementU1:
		return 0, 1<<8 - 1
	case ElementI2:
		return -1 << 15, 1<<15 - 1
	case ElementU2, ElementChar:
		return 0, 1<<16 - 1
	case ElementI4:
		return -1 << 31, 1<<31 - 1
	case ElementU4:
		return 0, 1<<32 - 1
	case ElementI8, ElementU8:
		// U8 constants are carried as their int64 bit pattern.
		return -1 << 63, 1<<63 - 1
	default:
		return 0, -1
	}
}

var elementNames = map[ElementType]string{
	ElementVoid:        "void",
	ElementBoolean:     "bool",
	ElementChar:        "char",
	ElementI1:          "int8",
	ElementU1:          "uint8",
	ElementI2:          "int16",
	ElementU2:          "uint16",
	ElementI4:          "int32",
	ElementU4:          "uint32",
	ElementI8:          "int64",
	ElementU8:          "uint64",
	ElementR4:          "float32",
	ElementR8:          "float64",
	ElementString:      "string",
	ElementPtr:         "pointer",
	ElementValueType:   "valuetype",
	ElementClass:       "class",
	ElementVar:         "type parameter",
	ElementArray:       "array",
	ElementGenericInst: "generic instance",
	ElementTypedByRef:  "typedref",
	ElementI:           "native int",
	ElementU:           "native uint",
	ElementFnPtr:       "function pointer",
	ElementObject:      "object",
	ElementSZArray:     "vector",
	ElementMVar:        "method type parameter",
}

func (e ElementType) String() string {
	if name, ok := elementNames[e]; ok {
		return name
	}

	return fmt.Sprintf("element(0x%02X)", uint8(e))
}

// SigReader walks a signature blob.
type SigReader struct {
	b   []byte
	pos int
}

// NewSigReader returns a reader over blob.
func NewSigReader(blob []byte) *SigReader {
	return &SigReader{b: blob}
}

// Byte reads a single byte.
func (r *SigReader) Byte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, fmt.Errorf("%w: unexpected end", ErrMalformedSignature)
	}

	v := r.b[r.pos]
	r.pos++

	return v, nil
}

// Compressed reads a compressed unsigned integer (ECMA-335 II.23.2).
func (r *SigReader) Compressed() (uint32, error) {
	v, n, err := DecodeCompressed(r.b[r.pos:])
	if err != nil {
		return 0, err
	}

	r.pos += n

	return v, nil
}

// TypeDefOrRef reads a TypeDefOrRefOrSpecEncoded value and returns it as a metadata token.
func (r *SigReader) TypeDefOrRef() (Token, error) {
	v, err := r.Compressed()
	if err != nil {
		return 0, err
	}

	tables := [...]TableID{TableTypeDef, TableTypeRef, TableTypeSpec}
	if v&3 == 3 {
		return 0, fmt.Errorf("%w: bad TypeDefOrRef tag", ErrMalformedSignature)
	}

	return NewToken(tables[v&3], v>>2), nil
}

// DecodeCompressed decodes a compressed unsigned integer and returns it with its size.
func DecodeCompressed(b []byte) (uint32, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("%w: unexpected end", ErrMalformedSignature)
	}

	switch {
	case b[0]&0x80 == 0:
		return uint32(b[0]), 1, nil
	case b[0]&0xC0 == 0x80:
		if len(b) < 2 {
			return 0, 0, fmt.Errorf("%w: truncated compressed integer", ErrMalformedSignature)
		}

		return uint32(b[0]&0x3F)<<8 | uint32(b[1]), 2, nil
	case b[0]&0xE0 == 0xC0:
		if len(b) < 4 {
			return 0, 0, fmt.Errorf("%w: truncated compressed integer", ErrMalformedSignature)
		}

		return uint32(b[0]&0x1F)<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]), 4, nil
	default:
		return 0, 0, fmt.Errorf("%w: bad compressed integer prefix 0x%X", ErrMalformedSignature, b[0])
	}
}

// EncodeCompressed encodes v as a compressed unsigned integer.
func EncodeCompressed(v uint32) []byte {
	switch {
	case v <= 0x7F:
		return []byte{byte(v)}
	case v <= 0x3FFF:
		return []byte{byte(v>>8) | 0x80, byte(v)}
	default:
		return []byte{byte(v>>24) | 0xC0, byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

// TypeSig is the leading part of a type in a signature: its element type and, for
// class and value types, the referenced token.
type TypeSig struct {
	Element ElementType
	ByRef   bool
	Token   Token
}

// readTypeHead skips custom modifiers and reads the head of a type.
func (r *SigReader) readTypeHead() (TypeSig, error) {
	var sig TypeSig

	for {
		b, err := r.Byte()
		if err != nil {
			return sig, err
		}

		e := ElementType(b)
		switch e {
		case ElementCModReqd, ElementCModOpt:
			if _, err := r.TypeDefOrRef(); err != nil {
				return sig, err
			}

			continue
		case ElementPinned:
			continue
		case ElementByRef:
			sig.ByRef = true
			continue
		case ElementValueType, ElementClass:
			tok, err := r.TypeDefOrRef()
			if err != nil {
				return sig, err
			}

			sig.Element = e
			sig.Token = tok

			return sig, nil
		default:
			sig.Element = e
			return sig, nil
		}
	}
}

// MethodReturn parses a MethodDefSig blob and returns its return type.
func MethodReturn(blob []byte) (TypeSig, error) {
	r := NewSigReader(blob)

	conv, err := r.Byte()
	if err != nil {
		return TypeSig{}, err
	}

	if conv&sigGeneric != 0 {
		if _, err := r.Compressed(); err != nil {
			return TypeSig{}, err
		}
	}

	if _, err := r.Compressed(); err != nil {
		return TypeSig{}, err
	}

	return r.readTypeHead()
}

// FieldType parses a FieldSig blob and returns the field's type head.
func FieldType(blob []byte) (TypeSig, error) {
	r := NewSigReader(blob)

	conv, err := r.Byte()
	if err != nil {
		return TypeSig{}, err
	}

	if conv&0x0F != sigField {
		return TypeSig{}, fmt.Errorf("%w: not a field signature (0x%X)", ErrMalformedSignature, conv)
	}

	return r.readTypeHead()
}

// LocalCount parses a LocalVarSig blob and returns the number of locals it declares.
func LocalCount(blob []byte) (int, error) {
	r := NewSigReader(blob)

	conv, err := r.Byte()
	if err != nil {
		return 0, err
	}

	if conv != sigLocalVar {
		return 0, fmt.Errorf("%w: not a local variable signature (0x%X)", ErrMalformedSignature, conv)
	}

	count, err := r.Compressed()
	if err != nil {
		return 0, err
	}

	return int(count), nil
}
