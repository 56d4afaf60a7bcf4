package ciltest

import (
	"errors"
	"fmt"

	"ilpatch.dev/pkg/ilpatch/internal/cil"
)

// ErrUnsupported is returned by Eval for instructions it does not interpret.
var ErrUnsupported = errors.New("instruction not supported by evaluator")

// Result is the outcome of evaluating a parameterless method body.
type Result struct {
	Value    int64
	HasValue bool
}

const maxSteps = 10000

// Eval interprets a body that only pushes constants, does integer arithmetic,
// uses locals 0-3 and branches. Protected regions are entered and left without
// running handlers.
func Eval(body *cil.MethodBody) (Result, error) {
	index := make(map[uint32]int, len(body.Instructions))
	for i, inst := range body.Instructions {
		index[inst.Offset] = i
	}

	var (
		stack  []int64
		locals [4]int64
	)

	pop := func() (int64, error) {
		if len(stack) == 0 {
			return 0, errors.New("stack underflow")
		}

		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		return v, nil
	}

	for pc, steps := 0, 0; pc < len(body.Instructions); steps++ {
		if steps > maxSteps {
			return Result{}, errors.New("step limit exceeded")
		}

		inst := body.Instructions[pc]
		next := pc + 1
		end := inst.Offset + uint32(inst.OpCode.Size()+inst.OpCode.Operand().Size())

		jump := func() error {
			target := int64(end) + inst.Operand
			i, ok := index[uint32(target)]
			if !ok {
				return fmt.Errorf("branch to IL_%04X is not an instruction boundary", target)
			}

			next = i

			return nil
		}

		switch op := inst.OpCode; {
		case op == cil.Nop, op == cil.Endfinally:
		case op >= cil.LdcI4M1 && op <= cil.LdcI48:
			stack = append(stack, int64(op)-int64(cil.LdcI40))
		case op == cil.LdcI4S, op == cil.LdcI4, op == cil.LdcI8:
			stack = append(stack, inst.Operand)
		case op >= cil.Ldloc0 && op < cil.Ldloc0+4:
			stack = append(stack, locals[op-cil.Ldloc0])
		case op >= cil.Stloc0 && op < cil.Stloc0+4:
			v, err := pop()
			if err != nil {
				return Result{}, err
			}

			locals[op-cil.Stloc0] = v
		case op == cil.Add, op == cil.Sub, op == cil.Mul, op == cil.Ceq:
			b, err := pop()
			if err != nil {
				return Result{}, err
			}

			a, err := pop()
			if err != nil {
				return Result{}, err
			}

			stack = append(stack, arith(op, a, b))
		case op == cil.Pop:
			if _, err := pop(); err != nil {
				return Result{}, err
			}
		case op == cil.BrS, op == cil.Br, op == cil.LeaveS:
			if err := jump(); err != nil {
				return Result{}, err
			}
		case op == cil.BrS+1, op == cil.Br+1, op == cil.BrS+2, op == cil.Br+2:
			v, err := pop()
			if err != nil {
				return Result{}, err
			}

			brtrue := op == cil.BrS+2 || op == cil.Br+2
			if (v != 0) == brtrue {
				if err := jump(); err != nil {
					return Result{}, err
				}
			}
		case op == cil.Ret:
			if len(stack) == 0 {
				return Result{}, nil
			}

			return Result{Value: stack[len(stack)-1], HasValue: true}, nil
		default:
			return Result{}, fmt.Errorf("%w: %s at IL_%04X", ErrUnsupported, op, inst.Offset)
		}

		pc = next
	}

	return Result{}, errors.New("fell off the end of the body")
}

func arith(op cil.OpCode, a, b int64) int64 {
	switch op {
	case cil.Add:
		return a + b
	case cil.Sub:
		return a - b
	case cil.Mul:
		return a * b
	default:
		if a == b {
			return 1
		}

		return 0
	}
}

// Invoke locates typeName::method in a serialized image and evaluates its body.
// typeName is "Ns.Name" for top-level types.
func Invoke(data []byte, typeName, method string) (Result, error) {
	img, err := cil.Parse(data)
	if err != nil {
		return Result{}, err
	}

	body, err := FindBody(img, typeName, method)
	if err != nil {
		return Result{}, err
	}

	return Eval(body)
}

// FindBody decodes the body of typeName::method.
func FindBody(img *cil.Image, typeName, method string) (*cil.MethodBody, error) {
	rva, err := FindRVA(img, typeName, method)
	if err != nil {
		return nil, err
	}

	tail, _, err := img.Tail(rva)
	if err != nil {
		return nil, err
	}

	body, _, err := cil.DecodeBody(tail)

	return body, err
}

// FindRVA returns the RVA cell of typeName::method.
func FindRVA(img *cil.Image, typeName, method string) (uint32, error) {
	t := img.Tables
	types := uint32(t.Rows(cil.TableTypeDef))

	for rid := uint32(1); rid <= types; rid++ {
		row, err := t.Row(cil.TableTypeDef, rid)
		if err != nil {
			return 0, err
		}

		name, _ := img.String(row[cil.ColTypeDefName])
		ns, _ := img.String(row[cil.ColTypeDefNamespace])

		full := name
		if ns != "" {
			full = ns + "." + name
		}

		if full != typeName {
			continue
		}

		last := uint32(t.Rows(cil.TableMethodDef)) + 1
		if rid < types {
			nextRow, _ := t.Row(cil.TableTypeDef, rid+1)
			last = nextRow[cil.ColTypeDefMethodList]
		}

		for m := row[cil.ColTypeDefMethodList]; m < last; m++ {
			mrow, err := t.Row(cil.TableMethodDef, m)
			if err != nil {
				return 0, err
			}

			if n, _ := img.String(mrow[cil.ColMethodName]); n == method {
				return mrow[cil.ColMethodRVA], nil
			}
		}
	}

	return 0, fmt.Errorf("method %s::%s not found", typeName, method)
}
