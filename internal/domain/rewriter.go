package domain

import (
	"errors"
	"fmt"
	"math"

	"ilpatch.dev/pkg/ilpatch/internal/cil"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

// rewrittenMaxStack keeps rewritten bodies on the tiny header form.
const rewrittenMaxStack = 8

var errNoBody = errors.New("method has no IL body")

// Rewrite replaces the body of method with a constant return. Instructions,
// exception handlers and locals are dropped. Void methods get a lone ret; all
// others push value with the shortest ldc form and return it. Only the body is
// changed, and rewriting an already rewritten body yields the same body.
func Rewrite(method *m.Method, value m.Constant) error {
	if method.Body == nil {
		return unsupported(method, errNoBody)
	}

	var instructions []cil.Instruction

	switch method.ReturnKind {
	case m.ReturnVoid:
		instructions = []cil.Instruction{{OpCode: cil.Ret}}
	case m.ReturnBoolean, m.ReturnInteger:
		v, err := fitConstant(method, value)
		if err != nil {
			return unsupported(method, err)
		}

		push := pushConstant(v, method.ReturnType.Is64())
		ret := cil.Instruction{Offset: uint32(push.OpCode.Size() + push.OpCode.Operand().Size()), OpCode: cil.Ret}
		instructions = []cil.Instruction{push, ret}
	default:
		return unsupported(method, fmt.Errorf("%s return type %s", method.ReturnKind, method.ReturnType))
	}

	body := method.Body
	body.MaxStack = rewrittenMaxStack
	body.InitLocals = false
	body.LocalVarSig = 0
	body.Locals = 0
	body.Handlers = nil
	body.Instructions = instructions
	body.Dirty = true

	return nil
}

func unsupported(method *m.Method, err error) error {
	return &PatchError{Kind: KindUnsupportedReturnKind, Op: method.FullName(), Err: err}
}

// fitConstant checks value against the declared element type and returns the
// operand to push. Unsigned 32-bit values above MaxInt32 are pushed as their
// int32 bit pattern.
func fitConstant(method *m.Method, value m.Constant) (int64, error) {
	v := value.Value

	if value.Kind == m.ValueBool && v != 0 && v != 1 {
		return 0, fmt.Errorf("boolean constant %d", v)
	}

	if method.ReturnKind == m.ReturnBoolean {
		if v != 0 && v != 1 {
			return 0, fmt.Errorf("%d is not a boolean value", v)
		}

		return v, nil
	}

	lo, hi := method.ReturnType.Range()
	if v < lo || v > hi {
		return 0, fmt.Errorf("%d does not fit %s", v, method.ReturnType)
	}

	if method.ReturnType == cil.ElementU4 && v > math.MaxInt32 {
		v = int64(int32(uint32(v)))
	}

	return v, nil
}

// pushConstant returns the shortest instruction that pushes v.
func pushConstant(v int64, wide bool) cil.Instruction {
	switch {
	case wide:
		return cil.Instruction{OpCode: cil.LdcI8, Operand: v}
	case v == -1:
		return cil.Instruction{OpCode: cil.LdcI4M1}
	case v >= 0 && v <= 8:
		return cil.Instruction{OpCode: cil.LdcI40 + cil.OpCode(v)}
	case v >= math.MinInt8 && v <= math.MaxInt8:
		return cil.Instruction{OpCode: cil.LdcI4S, Operand: v}
	default:
		return cil.Instruction{OpCode: cil.LdcI4, Operand: v}
	}
}
