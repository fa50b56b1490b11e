package ir

import (
	"fmt"
	"strings"

	"tlog.app/go/tlog/tlwire"

	"github.com/NETMF/llilum-sub034/compiler/tp"
)

type (
	Op int

	// Level tells how far through lowering an operator has progressed.
	Level int

	Cond int

	// Operator is a single IR instruction.
	Operator struct {
		Op    Op
		Level Level
		Cond  Cond

		Results []Expression
		Args    []Expression

		Annotations []Annotation

		Block   *BasicBlock
		Targets []*BasicBlock

		Method *tp.Method
		Field  tp.Field
		Type   *tp.Type
	}
)

const (
	OpNop Op = iota
	OpMove
	OpAdd
	OpSub
	OpMul
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpLoadField   // r = [a0 + field]
	OpStoreField  // [a0 + field] = a1
	OpLoadStatic  // r = static field
	OpStoreStatic // static field = a0
	OpCall
	OpCallExternal

	opControl

	OpBranch   // goto t0
	OpBranchIf // if a0 cond a1 goto t0 else t1
	OpReturn
	OpThrow
)

const (
	LevelConcreteTypes Level = iota
	LevelObjectOriented
	LevelScalarValues
	LevelRegisters
	LevelStackLocations
	LevelLowest
)

const (
	CondEQ Cond = iota
	CondNE
	CondLT
	CondLE
	CondGT
	CondGE
	CondAlways
)

func NewOperator(op Op, results []Expression, args ...Expression) *Operator {
	return &Operator{
		Op:      op,
		Results: results,
		Args:    args,
	}
}

func NewBranch(target *BasicBlock) *Operator {
	return &Operator{Op: OpBranch, Cond: CondAlways, Targets: []*BasicBlock{target}}
}

func NewBranchIf(cond Cond, l, r Expression, then, els *BasicBlock) *Operator {
	return &Operator{Op: OpBranchIf, Cond: cond, Args: []Expression{l, r}, Targets: []*BasicBlock{then, els}}
}

func NewReturn(args ...Expression) *Operator {
	return &Operator{Op: OpReturn, Args: args}
}

func NewCall(m *tp.Method, results []Expression, args ...Expression) *Operator {
	op := OpCall
	if m.External {
		op = OpCallExternal
	}

	return &Operator{Op: op, Method: m, Results: results, Args: args}
}

func (op Op) IsControl() bool { return op > opControl }

// AddAnnotation attaches an interned annotation.
// Annotations are compared by identity.
func (op *Operator) AddAnnotation(an Annotation) bool {
	for _, x := range op.Annotations {
		if x == an {
			return false
		}
	}

	op.Annotations = append(op.Annotations, an)

	return true
}

func (op *Operator) RemoveAnnotation(an Annotation) bool {
	for i, x := range op.Annotations {
		if x == an {
			op.Annotations = append(op.Annotations[:i], op.Annotations[i+1:]...)
			return true
		}
	}

	return false
}

// FilterAnnotations returns the annotations of type T attached to op.
func FilterAnnotations[T Annotation](op *Operator) []T {
	var r []T

	for _, an := range op.Annotations {
		if x, ok := an.(T); ok {
			r = append(r, x)
		}
	}

	return r
}

// GetAnnotation returns the first annotation of type T.
func GetAnnotation[T Annotation](op *Operator) (x T, ok bool) {
	for _, an := range op.Annotations {
		if x, ok = an.(T); ok {
			return
		}
	}

	return
}

func (op *Operator) Clone(c *CloningContext) *Operator {
	x := &Operator{
		Op:    op.Op,
		Level: op.Level,
		Cond:  op.Cond,
	}

	c.RegisterOperator(op, x)

	x.Results = c.CloneExpressions(op.Results)
	x.Args = c.CloneExpressions(op.Args)
	x.Targets = c.CloneBlocks(op.Targets)

	x.Method = c.ConvertMethod(op.Method)
	x.Field = c.ConvertField(op.Field)
	x.Type = c.ConvertType(op.Type)

	x.Annotations = c.CloneAnnotations(op.Annotations)

	return x
}

func (op *Operator) String() string {
	var b strings.Builder

	for i, r := range op.Results {
		if i != 0 {
			b.WriteString(", ")
		}

		b.WriteString(r.String())
	}

	if len(op.Results) != 0 {
		b.WriteString(" = ")
	}

	b.WriteString(op.Op.String())

	if op.Op == OpBranchIf {
		fmt.Fprintf(&b, ".%v", op.Cond)
	}

	switch {
	case op.Method != nil:
		fmt.Fprintf(&b, " %v", op.Method)
	case op.Field != nil:
		fmt.Fprintf(&b, " %v", op.Field.Name())
	}

	for i, a := range op.Args {
		if i == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteString(", ")
		}

		b.WriteString(a.String())
	}

	for _, t := range op.Targets {
		fmt.Fprintf(&b, " %v", t)
	}

	return b.String()
}

func (op Op) String() string {
	switch op {
	case OpNop:
		return "nop"
	case OpMove:
		return "move"
	case OpAdd:
		return "add"
	case OpSub:
		return "sub"
	case OpMul:
		return "mul"
	case OpAnd:
		return "and"
	case OpOr:
		return "or"
	case OpXor:
		return "xor"
	case OpShl:
		return "shl"
	case OpShr:
		return "shr"
	case OpLoadField:
		return "ldfld"
	case OpStoreField:
		return "stfld"
	case OpLoadStatic:
		return "ldsfld"
	case OpStoreStatic:
		return "stsfld"
	case OpCall:
		return "call"
	case OpCallExternal:
		return "call.extern"
	case OpBranch:
		return "br"
	case OpBranchIf:
		return "br.if"
	case OpReturn:
		return "ret"
	case OpThrow:
		return "throw"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

func (op Op) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendFormat(b, "%v", op.String())
}

func (c Cond) String() string {
	switch c {
	case CondEQ:
		return "eq"
	case CondNE:
		return "ne"
	case CondLT:
		return "lt"
	case CondLE:
		return "le"
	case CondGT:
		return "gt"
	case CondGE:
		return "ge"
	case CondAlways:
		return "al"
	default:
		return fmt.Sprintf("cond(%d)", int(c))
	}
}
