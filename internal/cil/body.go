package cil

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedBody is returned when a method body cannot be decoded.
var ErrMalformedBody = errors.New("malformed method body")

// ErrEncoding is returned when a method body cannot be represented in the body format.
var ErrEncoding = errors.New("method body encoding overflow")

// Instruction is one decoded CIL instruction. Operand holds the immediate,
// metadata token, relative branch delta or raw float bits, depending on
// OpCode.Operand(). Targets holds switch deltas.
type Instruction struct {
	Offset  uint32
	OpCode  OpCode
	Operand int64
	Targets []int32
}

// Exception clause kinds.
const (
	ClauseException uint32 = 0x0
	ClauseFilter    uint32 = 0x1
	ClauseFinally   uint32 = 0x2
	ClauseFault     uint32 = 0x4
)

// ExceptionClause is a protected region. ClassToken is the filter offset for filter clauses.
type ExceptionClause struct {
	Flags         uint32
	TryOffset     uint32
	TryLength     uint32
	HandlerOffset uint32
	HandlerLength uint32
	ClassToken    uint32
}

// MethodBody is a decoded method body.
type MethodBody struct {
	MaxStack     uint16
	InitLocals   bool
	LocalVarSig  uint32
	Instructions []Instruction
	Clauses      []ExceptionClause
}

const (
	tinyFormat   = 0x2
	fatFormat    = 0x3
	moreSects    = 0x8
	initLocals   = 0x10
	fatHeader    = 12
	tinyMaxCode  = 64
	tinyMaxStack = 8

	sectEHTable = 0x01
	sectFat     = 0x40
	sectMore    = 0x80

	smallClauseSize = 12
	fatClauseSize   = 24
)

// DecodeBody decodes the body starting at b[0]. It returns the body and the number of
// bytes it occupies, including the header, alignment padding and data sections.
func DecodeBody(b []byte) (*MethodBody, int, error) {
	if len(b) == 0 {
		return nil, 0, fmt.Errorf("%w: empty input", ErrMalformedBody)
	}

	body := &MethodBody{}

	var (
		codeStart int
		codeSize  uint64
		more      bool
	)

	switch b[0] & 0x3 {
	case tinyFormat:
		codeStart = 1
		codeSize = uint64(b[0] >> 2)
		body.MaxStack = tinyMaxStack
	case fatFormat:
		if len(b) < fatHeader {
			return nil, 0, fmt.Errorf("%w: truncated fat header", ErrMalformedBody)
		}

		flags := binary.LittleEndian.Uint16(b)
		codeStart = int(flags>>12) * 4

		if codeStart < fatHeader || codeStart > len(b) {
			return nil, 0, fmt.Errorf("%w: bad fat header size %d", ErrMalformedBody, codeStart)
		}

		body.MaxStack = binary.LittleEndian.Uint16(b[2:])
		codeSize = uint64(binary.LittleEndian.Uint32(b[4:]))
		body.LocalVarSig = binary.LittleEndian.Uint32(b[8:])
		body.InitLocals = flags&initLocals != 0
		more = flags&moreSects != 0
	default:
		return nil, 0, fmt.Errorf("%w: unknown header format 0x%X", ErrMalformedBody, b[0]&0x3)
	}

	if codeSize > uint64(len(b)-codeStart) {
		return nil, 0, fmt.Errorf("%w: code size %d exceeds available %d bytes", ErrMalformedBody, codeSize, len(b)-codeStart)
	}

	end := codeStart + int(codeSize)

	instructions, err := decodeInstructions(b[codeStart:end])
	if err != nil {
		return nil, 0, err
	}

	body.Instructions = instructions

	for more {
		end = align(end, 4)
		if end+4 > len(b) {
			return nil, 0, fmt.Errorf("%w: truncated data section", ErrMalformedBody)
		}

		kind := b[end]

		dataSize := int(b[end+1])
		if kind&sectFat != 0 {
			dataSize |= int(b[end+2])<<8 | int(b[end+3])<<16
		}

		if dataSize < 4 || end+dataSize > len(b) {
			return nil, 0, fmt.Errorf("%w: bad data section size %d", ErrMalformedBody, dataSize)
		}

		if kind&sectEHTable != 0 {
			body.Clauses = append(body.Clauses, decodeClauses(b[end+4:end+dataSize], kind&sectFat != 0)...)
		}

		more = kind&sectMore != 0
		end += dataSize
	}

	return body, end, nil
}

func decodeClauses(b []byte, fat bool) []ExceptionClause {
	var clauses []ExceptionClause

	if fat {
		for i := 0; i+fatClauseSize <= len(b); i += fatClauseSize {
			c := b[i:]
			clauses = append(clauses, ExceptionClause{
				Flags:         binary.LittleEndian.Uint32(c),
				TryOffset:     binary.LittleEndian.Uint32(c[4:]),
				TryLength:     binary.LittleEndian.Uint32(c[8:]),
				HandlerOffset: binary.LittleEndian.Uint32(c[12:]),
				HandlerLength: binary.LittleEndian.Uint32(c[16:]),
				ClassToken:    binary.LittleEndian.Uint32(c[20:]),
			})
		}

		return clauses
	}

	for i := 0; i+smallClauseSize <= len(b); i += smallClauseSize {
		c := b[i:]
		clauses = append(clauses, ExceptionClause{
			Flags:         uint32(binary.LittleEndian.Uint16(c)),
			TryOffset:     uint32(binary.LittleEndian.Uint16(c[2:])),
			TryLength:     uint32(c[4]),
			HandlerOffset: uint32(binary.LittleEndian.Uint16(c[5:])),
			HandlerLength: uint32(c[7]),
			ClassToken:    binary.LittleEndian.Uint32(c[8:]),
		})
	}

	return clauses
}

func decodeInstructions(code []byte) ([]Instruction, error) {
	var instructions []Instruction

	for pos := 0; pos < len(code); {
		start := pos
		op := OpCode(code[pos])
		pos++

		if op == twoBytePrefix {
			if pos >= len(code) {
				return nil, fmt.Errorf("%w: truncated opcode at IL_%04X", ErrMalformedBody, start)
			}

			op = OpCode(twoBytePrefix)<<8 | OpCode(code[pos])
			pos++
		}

		if !op.Valid() {
			return nil, fmt.Errorf("%w: unknown opcode 0x%X at IL_%04X", ErrMalformedBody, uint16(op), start)
		}

		operand := op.Operand()
		if pos+operand.Size() > len(code) {
			return nil, fmt.Errorf("%w: truncated %s operand at IL_%04X", ErrMalformedBody, op, start)
		}

		inst := Instruction{Offset: uint32(start), OpCode: op}
		raw := code[pos:]

		switch operand {
		case InlineNone:
		case ShortInlineI, ShortInlineBrTarget:
			inst.Operand = int64(int8(raw[0]))
		case ShortInlineVar:
			inst.Operand = int64(raw[0])
		case InlineVar:
			inst.Operand = int64(binary.LittleEndian.Uint16(raw))
		case InlineI, InlineBrTarget:
			inst.Operand = int64(int32(binary.LittleEndian.Uint32(raw)))
		case InlineI8, InlineR:
			inst.Operand = int64(binary.LittleEndian.Uint64(raw))
		case InlineSwitch:
			count := uint64(binary.LittleEndian.Uint32(raw))
			if count*4 > uint64(len(code)-pos-4) {
				return nil, fmt.Errorf("%w: truncated switch table at IL_%04X", ErrMalformedBody, start)
			}

			inst.Targets = make([]int32, count)
			for i := range inst.Targets {
				inst.Targets[i] = int32(binary.LittleEndian.Uint32(raw[4+4*i:]))
			}

			pos += int(count) * 4
		default:
			inst.Operand = int64(binary.LittleEndian.Uint32(raw))
		}

		pos += operand.Size()
		instructions = append(instructions, inst)
	}

	return instructions, nil
}

// EncodeBody encodes body using the tiny header when the body allows it and the
// fat header otherwise.
func EncodeBody(body *MethodBody) ([]byte, error) {
	code, err := EncodeInstructions(body.Instructions)
	if err != nil {
		return nil, err
	}

	for _, clause := range body.Clauses {
		if uint64(clause.TryOffset)+uint64(clause.TryLength) > uint64(len(code)) ||
			uint64(clause.HandlerOffset)+uint64(clause.HandlerLength) > uint64(len(code)) {
			return nil, fmt.Errorf("%w: exception clause outside %d-byte code", ErrEncoding, len(code))
		}
	}

	if len(code) < tinyMaxCode && body.MaxStack <= tinyMaxStack && body.LocalVarSig == 0 &&
		!body.InitLocals && len(body.Clauses) == 0 {
		return append([]byte{byte(len(code)<<2 | tinyFormat)}, code...), nil
	}

	if uint64(len(code)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: code size %d", ErrEncoding, len(code))
	}

	flags := uint16(fatFormat) | (fatHeader/4)<<12
	if body.InitLocals {
		flags |= initLocals
	}

	if len(body.Clauses) > 0 {
		flags |= moreSects
	}

	out := make([]byte, fatHeader, fatHeader+len(code))
	binary.LittleEndian.PutUint16(out, flags)
	binary.LittleEndian.PutUint16(out[2:], body.MaxStack)
	binary.LittleEndian.PutUint32(out[4:], uint32(len(code)))
	binary.LittleEndian.PutUint32(out[8:], body.LocalVarSig)
	out = append(out, code...)

	if len(body.Clauses) == 0 {
		return out, nil
	}

	for len(out)%4 != 0 {
		out = append(out, 0)
	}

	section, err := encodeClauses(body.Clauses)
	if err != nil {
		return nil, err
	}

	return append(out, section...), nil
}

func smallClauses(clauses []ExceptionClause) bool {
	if len(clauses)*smallClauseSize+4 > 0xFF {
		return false
	}

	for _, c := range clauses {
		if c.Flags > 0xFFFF || c.TryOffset > 0xFFFF || c.HandlerOffset > 0xFFFF ||
			c.TryLength > 0xFF || c.HandlerLength > 0xFF {
			return false
		}
	}

	return true
}

func encodeClauses(clauses []ExceptionClause) ([]byte, error) {
	if smallClauses(clauses) {
		size := len(clauses)*smallClauseSize + 4
		out := make([]byte, size)
		out[0] = sectEHTable
		out[1] = byte(size)

		for i, c := range clauses {
			b := out[4+i*smallClauseSize:]
			binary.LittleEndian.PutUint16(b, uint16(c.Flags))
			binary.LittleEndian.PutUint16(b[2:], uint16(c.TryOffset))
			b[4] = byte(c.TryLength)
			binary.LittleEndian.PutUint16(b[5:], uint16(c.HandlerOffset))
			b[7] = byte(c.HandlerLength)
			binary.LittleEndian.PutUint32(b[8:], c.ClassToken)
		}

		return out, nil
	}

	size := len(clauses)*fatClauseSize + 4
	if size > 0xFFFFFF {
		return nil, fmt.Errorf("%w: %d exception clauses", ErrEncoding, len(clauses))
	}

	out := make([]byte, size)
	out[0] = sectEHTable | sectFat
	out[1] = byte(size)
	out[2] = byte(size >> 8)
	out[3] = byte(size >> 16)

	for i, c := range clauses {
		b := out[4+i*fatClauseSize:]
		binary.LittleEndian.PutUint32(b, c.Flags)
		binary.LittleEndian.PutUint32(b[4:], c.TryOffset)
		binary.LittleEndian.PutUint32(b[8:], c.TryLength)
		binary.LittleEndian.PutUint32(b[12:], c.HandlerOffset)
		binary.LittleEndian.PutUint32(b[16:], c.HandlerLength)
		binary.LittleEndian.PutUint32(b[20:], c.ClassToken)
	}

	return out, nil
}

// EncodeInstructions encodes an instruction stream. Instruction offsets are ignored;
// branch operands are written as stored.
func EncodeInstructions(instructions []Instruction) ([]byte, error) {
	var code []byte

	for _, inst := range instructions {
		if !inst.OpCode.Valid() {
			return nil, fmt.Errorf("%w: unknown opcode 0x%X", ErrEncoding, uint16(inst.OpCode))
		}

		if inst.OpCode.Size() == 2 {
			code = append(code, twoBytePrefix)
		}

		code = append(code, byte(inst.OpCode))

		operand, err := encodeOperand(inst)
		if err != nil {
			return nil, err
		}

		code = append(code, operand...)
	}

	return code, nil
}

func encodeOperand(inst Instruction) ([]byte, error) {
	v := inst.Operand
	out := make([]byte, inst.OpCode.Operand().Size())

	overflow := func() error {
		return fmt.Errorf("%w: %s operand %d out of range", ErrEncoding, inst.OpCode, v)
	}

	switch inst.OpCode.Operand() {
	case InlineNone:
	case ShortInlineI, ShortInlineBrTarget:
		if v < math.MinInt8 || v > math.MaxInt8 {
			return nil, overflow()
		}

		out[0] = byte(int8(v))
	case ShortInlineVar:
		if v < 0 || v > math.MaxUint8 {
			return nil, overflow()
		}

		out[0] = byte(v)
	case InlineVar:
		if v < 0 || v > math.MaxUint16 {
			return nil, overflow()
		}

		binary.LittleEndian.PutUint16(out, uint16(v))
	case InlineI, InlineBrTarget:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return nil, overflow()
		}

		binary.LittleEndian.PutUint32(out, uint32(int32(v)))
	case InlineI8, InlineR:
		binary.LittleEndian.PutUint64(out, uint64(v))
	case InlineSwitch:
		binary.LittleEndian.PutUint32(out, uint32(len(inst.Targets)))

		for _, target := range inst.Targets {
			out = binary.LittleEndian.AppendUint32(out, uint32(target))
		}
	default:
		if v < 0 || v > math.MaxUint32 {
			return nil, overflow()
		}

		binary.LittleEndian.PutUint32(out, uint32(v))
	}

	return out, nil
}

func align(n, to int) int {
	return (n + to - 1) &^ (to - 1)
}
