package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"ilpatch.dev/pkg/ilpatch/internal/cil"
	m "ilpatch.dev/pkg/ilpatch/internal/model"
)

// diffContext is the number of unchanged listing lines around each hunk.
const diffContext = 2

// ListBody renders a body as an IL listing, one instruction per line, followed
// by its exception clauses.
func ListBody(body *m.Body) string {
	if body == nil {
		return ""
	}

	var sb strings.Builder

	fmt.Fprintf(&sb, ".maxstack %d\n", body.MaxStack)

	if body.Locals > 0 {
		fmt.Fprintf(&sb, ".locals %s(%d)\n", initFlag(body.InitLocals), body.Locals)
	}

	for _, inst := range body.Instructions {
		fmt.Fprintf(&sb, "IL_%04X: %s\n", inst.Offset, formatInstruction(inst))
	}

	for _, h := range body.Handlers {
		fmt.Fprintf(&sb, ".try IL_%04X to IL_%04X %s IL_%04X to IL_%04X\n",
			h.TryOffset, h.TryOffset+h.TryLength, clauseName(h.Flags),
			h.HandlerOffset, h.HandlerOffset+h.HandlerLength)
	}

	return sb.String()
}

func initFlag(init bool) string {
	if init {
		return "init "
	}

	return ""
}

func clauseName(flags uint32) string {
	switch flags {
	case cil.ClauseFilter:
		return "filter"
	case cil.ClauseFinally:
		return "finally"
	case cil.ClauseFault:
		return "fault"
	default:
		return "catch"
	}
}

func formatInstruction(inst cil.Instruction) string {
	name := inst.OpCode.String()
	next := int64(inst.Offset) + int64(inst.OpCode.Size()+inst.OpCode.Operand().Size())

	switch inst.OpCode.Operand() {
	case cil.InlineNone:
		return name
	case cil.ShortInlineBrTarget, cil.InlineBrTarget:
		return fmt.Sprintf("%s IL_%04X", name, next+inst.Operand)
	case cil.InlineSwitch:
		next += int64(4 * len(inst.Targets))

		targets := make([]string, len(inst.Targets))
		for i, t := range inst.Targets {
			targets[i] = fmt.Sprintf("IL_%04X", next+int64(t))
		}

		return fmt.Sprintf("%s (%s)", name, strings.Join(targets, ", "))
	case cil.ShortInlineR:
		return fmt.Sprintf("%s %g", name, math.Float32frombits(uint32(inst.Operand)))
	case cil.InlineR:
		return fmt.Sprintf("%s %g", name, math.Float64frombits(uint64(inst.Operand)))
	case cil.InlineMethod, cil.InlineField, cil.InlineType, cil.InlineTok, cil.InlineString, cil.InlineSig:
		return fmt.Sprintf("%s 0x%08X", name, uint32(inst.Operand))
	default:
		return fmt.Sprintf("%s %d", name, inst.Operand)
	}
}

// BodyDiff returns a unified diff between two listings of method.
func BodyDiff(method string, before, after string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: method + " (original)",
		ToFile:   method + " (patched)",
		Context:  diffContext,
	})
}
