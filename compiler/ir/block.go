package ir

import (
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"

	"github.com/NETMF/llilum-sub034/compiler/tp"
)

type (
	BlockKind int

	BasicBlock struct {
		Kind  BlockKind
		Index int
		Graph *ControlFlowGraph

		Operators []*Operator

		// ProtectedBy lists handler blocks covering this block.
		ProtectedBy []*BasicBlock
		// Clauses is set for ExceptionHandler blocks.
		Clauses []*ExceptionClause

		Predecessors []*BasicBlock
	}

	ClauseKind int

	ExceptionClause struct {
		Kind  ClauseKind
		Catch *tp.Type
	}
)

const (
	Normal BlockKind = iota
	Entry
	Exit
	ExceptionHandler
)

const (
	ClauseCatch ClauseKind = iota
	ClauseFilter
	ClauseFinally
	ClauseFault
)

// AddOperator appends op to the block.
func (bb *BasicBlock) AddOperator(op *Operator) *Operator {
	op.Block = bb
	bb.Operators = append(bb.Operators, op)

	return op
}

// FlowControl is the terminating operator or nil.
func (bb *BasicBlock) FlowControl() *Operator {
	if len(bb.Operators) == 0 {
		return nil
	}

	op := bb.Operators[len(bb.Operators)-1]
	if !op.Op.IsControl() {
		return nil
	}

	return op
}

func (bb *BasicBlock) Successors() []*BasicBlock {
	op := bb.FlowControl()
	if op == nil {
		return nil
	}

	return op.Targets
}

func (bb *BasicBlock) SetProtectedBy(eh *BasicBlock) {
	if eh.Kind != ExceptionHandler {
		panic(errors.New("block %v is not an exception handler", eh))
	}

	for _, x := range bb.ProtectedBy {
		if x == eh {
			return
		}
	}

	bb.ProtectedBy = append(bb.ProtectedBy, eh)
}

func (bb *BasicBlock) Clone(c *CloningContext) *BasicBlock {
	x := c.dst.NewBlock(bb.Kind)
	c.RegisterBlock(bb, x)

	for _, op := range c.CloneOperators(bb.Operators) {
		x.AddOperator(op)
	}

	x.ProtectedBy = c.CloneBlocks(bb.ProtectedBy)
	x.Clauses = c.CloneClauses(bb.Clauses)

	return x
}

func (bb *BasicBlock) String() string {
	if bb == nil {
		return "<nil>"
	}

	return fmt.Sprintf("BB%d", bb.Index)
}

func (bb *BasicBlock) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if bb == nil {
		return e.AppendNil(b)
	}

	return e.AppendFormat(b, "BB%d", bb.Index)
}

func (ec *ExceptionClause) Clone(c *CloningContext) *ExceptionClause {
	x := &ExceptionClause{
		Kind:  ec.Kind,
		Catch: c.ConvertType(ec.Catch),
	}

	c.RegisterClause(ec, x)

	return x
}

func (k BlockKind) String() string {
	switch k {
	case Normal:
		return "normal"
	case Entry:
		return "entry"
	case Exit:
		return "exit"
	case ExceptionHandler:
		return "handler"
	default:
		return fmt.Sprintf("block_kind(%d)", int(k))
	}
}
