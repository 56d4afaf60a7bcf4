// Package cil reads and writes the parts of ECMA-335 images that ilpatch
// touches: the PE container, the CLI header, metadata heaps and tables,
// signature blobs and method bodies.
package cil

import "fmt"

// OpCode is a CIL opcode. Two-byte opcodes carry the 0xFE prefix in the high byte.
type OpCode uint16

// OperandType describes the inline operand that follows an opcode.
type OperandType uint8

// Operand types from ECMA-335 partition III.
const (
	InlineNone OperandType = iota
	ShortInlineI
	InlineI
	InlineI8
	ShortInlineR
	InlineR
	ShortInlineVar
	InlineVar
	ShortInlineBrTarget
	InlineBrTarget
	InlineMethod
	InlineField
	InlineType
	InlineTok
	InlineString
	InlineSig
	InlineSwitch
)

// Size returns the encoded operand size in bytes. InlineSwitch is variable and reports 4
// (the target count); the targets follow.
func (o OperandType) Size() int {
	switch o {
	case InlineNone:
		return 0
	case ShortInlineI, ShortInlineVar, ShortInlineBrTarget:
		return 1
	case InlineVar:
		return 2
	case InlineI8, InlineR:
		return 8
	default:
		return 4
	}
}

const twoBytePrefix = 0xFE

// Opcodes referenced by name elsewhere in the module.
const (
	Nop        OpCode = 0x00
	Ldarg0     OpCode = 0x02
	Ldloc0     OpCode = 0x06
	Stloc0     OpCode = 0x0A
	Ldnull     OpCode = 0x14
	LdcI4M1    OpCode = 0x15
	LdcI40     OpCode = 0x16
	LdcI41     OpCode = 0x17
	LdcI48     OpCode = 0x1E
	LdcI4S     OpCode = 0x1F
	LdcI4      OpCode = 0x20
	LdcI8      OpCode = 0x21
	Pop        OpCode = 0x26
	Call       OpCode = 0x28
	Ret        OpCode = 0x2A
	BrS        OpCode = 0x2B
	Br         OpCode = 0x38
	Switch     OpCode = 0x45
	Add        OpCode = 0x58
	Sub        OpCode = 0x59
	Mul        OpCode = 0x5A
	Ldstr      OpCode = 0x72
	Ldsfld     OpCode = 0x7E
	Throw      OpCode = 0x7A
	LeaveS     OpCode = 0xDE
	Endfinally OpCode = 0xDC
	Ceq        OpCode = 0xFE01
	Ldloc      OpCode = 0xFE0C
)

type opInfo struct {
	name    string
	operand OperandType
}

var oneByte [256]*opInfo
var twoByte [256]*opInfo

func def(code OpCode, name string, operand OperandType) {
	info := &opInfo{name: name, operand: operand}
	if code>>8 == twoBytePrefix {
		twoByte[code&0xFF] = info
		return
	}

	oneByte[code] = info
}

func defRange(start OpCode, operand OperandType, names ...string) {
	for i, name := range names {
		def(start+OpCode(i), name, operand)
	}
}

func init() {
	defRange(0x00, InlineNone, "nop", "break",
		"ldarg.0", "ldarg.1", "ldarg.2", "ldarg.3",
		"ldloc.0", "ldloc.1", "ldloc.2", "ldloc.3",
		"stloc.0", "stloc.1", "stloc.2", "stloc.3")
	defRange(0x0E, ShortInlineVar, "ldarg.s", "ldarga.s", "starg.s", "ldloc.s", "ldloca.s", "stloc.s")
	defRange(0x14, InlineNone, "ldnull", "ldc.i4.m1",
		"ldc.i4.0", "ldc.i4.1", "ldc.i4.2", "ldc.i4.3", "ldc.i4.4",
		"ldc.i4.5", "ldc.i4.6", "ldc.i4.7", "ldc.i4.8")
	def(0x1F, "ldc.i4.s", ShortInlineI)
	def(0x20, "ldc.i4", InlineI)
	def(0x21, "ldc.i8", InlineI8)
	def(0x22, "ldc.r4", ShortInlineR)
	def(0x23, "ldc.r8", InlineR)
	def(0x25, "dup", InlineNone)
	def(0x26, "pop", InlineNone)
	def(0x27, "jmp", InlineMethod)
	def(0x28, "call", InlineMethod)
	def(0x29, "calli", InlineSig)
	def(0x2A, "ret", InlineNone)
	defRange(0x2B, ShortInlineBrTarget, "br.s", "brfalse.s", "brtrue.s",
		"beq.s", "bge.s", "bgt.s", "ble.s", "blt.s",
		"bne.un.s", "bge.un.s", "bgt.un.s", "ble.un.s", "blt.un.s")
	defRange(0x38, InlineBrTarget, "br", "brfalse", "brtrue",
		"beq", "bge", "bgt", "ble", "blt",
		"bne.un", "bge.un", "bgt.un", "ble.un", "blt.un")
	def(0x45, "switch", InlineSwitch)
	defRange(0x46, InlineNone,
		"ldind.i1", "ldind.u1", "ldind.i2", "ldind.u2", "ldind.i4", "ldind.u4",
		"ldind.i8", "ldind.i", "ldind.r4", "ldind.r8", "ldind.ref",
		"stind.ref", "stind.i1", "stind.i2", "stind.i4", "stind.i8", "stind.r4", "stind.r8",
		"add", "sub", "mul", "div", "div.un", "rem", "rem.un",
		"and", "or", "xor", "shl", "shr", "shr.un", "neg", "not",
		"conv.i1", "conv.i2", "conv.i4", "conv.i8", "conv.r4", "conv.r8", "conv.u4", "conv.u8")
	def(0x6F, "callvirt", InlineMethod)
	def(0x70, "cpobj", InlineType)
	def(0x71, "ldobj", InlineType)
	def(0x72, "ldstr", InlineString)
	def(0x73, "newobj", InlineMethod)
	def(0x74, "castclass", InlineType)
	def(0x75, "isinst", InlineType)
	def(0x76, "conv.r.un", InlineNone)
	def(0x79, "unbox", InlineType)
	def(0x7A, "throw", InlineNone)
	defRange(0x7B, InlineField, "ldfld", "ldflda", "stfld", "ldsfld", "ldsflda", "stsfld")
	def(0x81, "stobj", InlineType)
	defRange(0x82, InlineNone,
		"conv.ovf.i1.un", "conv.ovf.i2.un", "conv.ovf.i4.un", "conv.ovf.i8.un",
		"conv.ovf.u1.un", "conv.ovf.u2.un", "conv.ovf.u4.un", "conv.ovf.u8.un",
		"conv.ovf.i.un", "conv.ovf.u.un")
	def(0x8C, "box", InlineType)
	def(0x8D, "newarr", InlineType)
	def(0x8E, "ldlen", InlineNone)
	def(0x8F, "ldelema", InlineType)
	defRange(0x90, InlineNone,
		"ldelem.i1", "ldelem.u1", "ldelem.i2", "ldelem.u2", "ldelem.i4", "ldelem.u4",
		"ldelem.i8", "ldelem.i", "ldelem.r4", "ldelem.r8", "ldelem.ref",
		"stelem.i", "stelem.i1", "stelem.i2", "stelem.i4", "stelem.i8",
		"stelem.r4", "stelem.r8", "stelem.ref")
	defRange(0xA3, InlineType, "ldelem", "stelem", "unbox.any")
	defRange(0xB3, InlineNone,
		"conv.ovf.i1", "conv.ovf.u1", "conv.ovf.i2", "conv.ovf.u2",
		"conv.ovf.i4", "conv.ovf.u4", "conv.ovf.i8", "conv.ovf.u8")
	def(0xC2, "refanyval", InlineType)
	def(0xC3, "ckfinite", InlineNone)
	def(0xC6, "mkrefany", InlineType)
	def(0xD0, "ldtoken", InlineTok)
	defRange(0xD1, InlineNone,
		"conv.u2", "conv.u1", "conv.i", "conv.ovf.i", "conv.ovf.u",
		"add.ovf", "add.ovf.un", "mul.ovf", "mul.ovf.un", "sub.ovf", "sub.ovf.un",
		"endfinally")
	def(0xDD, "leave", InlineBrTarget)
	def(0xDE, "leave.s", ShortInlineBrTarget)
	def(0xDF, "stind.i", InlineNone)
	def(0xE0, "conv.u", InlineNone)

	defRange(0xFE00, InlineNone, "arglist", "ceq", "cgt", "cgt.un", "clt", "clt.un")
	def(0xFE06, "ldftn", InlineMethod)
	def(0xFE07, "ldvirtftn", InlineMethod)
	defRange(0xFE09, InlineVar, "ldarg", "ldarga", "starg", "ldloc", "ldloca", "stloc")
	def(0xFE0F, "localloc", InlineNone)
	def(0xFE11, "endfilter", InlineNone)
	def(0xFE12, "unaligned.", ShortInlineI)
	def(0xFE13, "volatile.", InlineNone)
	def(0xFE14, "tail.", InlineNone)
	def(0xFE15, "initobj", InlineType)
	def(0xFE16, "constrained.", InlineType)
	def(0xFE17, "cpblk", InlineNone)
	def(0xFE18, "initblk", InlineNone)
	def(0xFE19, "no.", ShortInlineI)
	def(0xFE1A, "rethrow", InlineNone)
	def(0xFE1C, "sizeof", InlineType)
	def(0xFE1D, "refanytype", InlineNone)
	def(0xFE1E, "readonly.", InlineNone)
}

func lookup(code OpCode) *opInfo {
	if code>>8 == twoBytePrefix {
		return twoByte[code&0xFF]
	}

	if code > 0xFF {
		return nil
	}

	return oneByte[code]
}

// Valid reports whether code is a defined opcode.
func (code OpCode) Valid() bool {
	return lookup(code) != nil
}

// Operand returns the operand type for code.
func (code OpCode) Operand() OperandType {
	if info := lookup(code); info != nil {
		return info.operand
	}

	return InlineNone
}

// Size returns the number of bytes the opcode itself occupies.
func (code OpCode) Size() int {
	if code>>8 == twoBytePrefix {
		return 2
	}

	return 1
}

func (code OpCode) String() string {
	if info := lookup(code); info != nil {
		return info.name
	}

	return fmt.Sprintf("opcode(0x%X)", uint16(code))
}
