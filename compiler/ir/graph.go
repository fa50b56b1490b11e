package ir

import (
	"tlog.app/go/tlog"

	"github.com/NETMF/llilum-sub034/compiler/tp"
)

type (
	// ControlFlowGraph owns the blocks and variables of one method body.
	ControlFlowGraph struct {
		Method *tp.Method
		TS     *TypeSystem

		Blocks []*BasicBlock

		Entry *BasicBlock
		Exit  *BasicBlock

		Arguments []*ArgumentVariable
		Locals    []*LocalVariable
		Temps     []*TemporaryVariable
		Stack     []*StackLocation

		regs map[Register]*PhysicalRegister
	}
)

func NewControlFlowGraph(ts *TypeSystem, m *tp.Method) *ControlFlowGraph {
	return &ControlFlowGraph{
		Method: m,
		TS:     ts,
		regs:   map[Register]*PhysicalRegister{},
	}
}

// NewMethodGraph creates a graph with entry and exit blocks and
// an argument per method parameter.
func NewMethodGraph(ts *TypeSystem, m *tp.Method) *ControlFlowGraph {
	g := NewControlFlowGraph(ts, m)

	g.Entry = g.NewBlock(Entry)
	g.Exit = g.NewBlock(Exit)

	for _, p := range m.Params {
		g.NewArgument(p, "")
	}

	return g
}

func (g *ControlFlowGraph) NewBlock(k BlockKind) *BasicBlock {
	bb := &BasicBlock{
		Kind:  k,
		Index: len(g.Blocks),
		Graph: g,
	}

	g.Blocks = append(g.Blocks, bb)

	return bb
}

func (g *ControlFlowGraph) NewTemporary(t *tp.Type) *TemporaryVariable {
	v := &TemporaryVariable{}
	v.init(g, t, "", len(g.Temps))

	g.Temps = append(g.Temps, v)

	return v
}

func (g *ControlFlowGraph) NewLocal(t *tp.Type, name string) *LocalVariable {
	v := &LocalVariable{}
	v.init(g, t, name, len(g.Locals))

	g.Locals = append(g.Locals, v)

	return v
}

func (g *ControlFlowGraph) NewArgument(t *tp.Type, name string) *ArgumentVariable {
	v := &ArgumentVariable{}
	v.init(g, t, name, len(g.Arguments))

	g.Arguments = append(g.Arguments, v)

	return v
}

func (g *ControlFlowGraph) NewStackLocation(src Variable) *StackLocation {
	v := &StackLocation{Source: src, Slot: len(g.Stack)}
	v.init(g, src.Type(), "", len(g.Stack))

	g.Stack = append(g.Stack, v)

	return v
}

// Register returns the canonical expression for hardware register r.
func (g *ControlFlowGraph) Register(r Register, t *tp.Type) *PhysicalRegister {
	if v, ok := g.regs[r]; ok {
		return v
	}

	if g.regs == nil {
		g.regs = map[Register]*PhysicalRegister{}
	}

	v := &PhysicalRegister{Reg: r}
	v.init(g, t, r.Name, r.Num)

	g.regs[r] = v

	return v
}

// UpdateFlowInformation recomputes predecessors from block successors.
func (g *ControlFlowGraph) UpdateFlowInformation() {
	for _, bb := range g.Blocks {
		bb.Predecessors = bb.Predecessors[:0]
	}

	for _, bb := range g.Blocks {
		for _, s := range bb.Successors() {
			if s.Graph != g {
				continue
			}

			s.Predecessors = append(s.Predecessors, bb)
		}
	}
}

// Operators lists operators of all blocks in block order.
func (g *ControlFlowGraph) Operators() []*Operator {
	var l []*Operator

	for _, bb := range g.Blocks {
		l = append(l, bb.Operators...)
	}

	return l
}

// Reachable returns blocks reachable from Entry in depth-first preorder.
func (g *ControlFlowGraph) Reachable() []*BasicBlock {
	if g.Entry == nil {
		return nil
	}

	seen := map[*BasicBlock]struct{}{}
	var l []*BasicBlock
	q := []*BasicBlock{g.Entry}

	for len(q) != 0 {
		bb := q[len(q)-1]
		q = q[:len(q)-1]

		if _, ok := seen[bb]; ok {
			continue
		}

		seen[bb] = struct{}{}
		l = append(l, bb)

		succ := bb.Successors()
		for i := len(succ) - 1; i >= 0; i-- {
			q = append(q, succ[i])
		}

		q = append(q, bb.ProtectedBy...)
	}

	return l
}

func (g *ControlFlowGraph) Dump() {
	tlog.Printw("graph", "method", g.Method, "blocks", len(g.Blocks), "args", len(g.Arguments), "locals", len(g.Locals), "temps", len(g.Temps))

	for _, bb := range g.Blocks {
		tlog.Printw("block", "block", bb, "kind", bb.Kind, "preds", bb.Predecessors, "protected_by", bb.ProtectedBy)

		for _, op := range bb.Operators {
			tlog.Printw("op", "block", bb, "op", op.String(), "level", op.Level, "annotations", len(op.Annotations))
		}
	}
}

func (v *VariableBase) init(g *ControlFlowGraph, t *tp.Type, name string, idx int) {
	v.Graph = g
	v.typ = t
	v.Name = name
	v.Index = idx
}
