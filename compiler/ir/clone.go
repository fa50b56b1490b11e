package ir

import (
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/NETMF/llilum-sub034/compiler/tp"
)

type (
	Strategy int

	// CloningContext deep-copies IR keeping aliasing:
	// every source object maps to at most one clone.
	// A context is used for a single clone operation.
	CloningContext struct {
		src, dst *ControlFlowGraph
		inst     *tp.Instantiation

		strategy Strategy
		single   *BasicBlock

		cloned map[any]any

		// Notify is called for every registered pair.
		Notify func(from, to any)
	}
)

const (
	CloneWholeGraph Strategy = iota
	CloneAliasExceptionHandlers
	CloneSingleBlock
)

func NewCloningContext(src, dst *ControlFlowGraph, inst *tp.Instantiation, s Strategy) *CloningContext {
	return &CloningContext{
		src:      src,
		dst:      dst,
		inst:     inst,
		strategy: s,
		cloned:   map[any]any{},
	}
}

// CloneGraph copies src into a new graph for method m.
// If m is nil it is src.Method converted through inst.
func CloneGraph(src *ControlFlowGraph, m *tp.Method, inst *tp.Instantiation, s Strategy) *ControlFlowGraph {
	if s == CloneSingleBlock {
		panic(errors.New("single block strategy can't clone a whole graph"))
	}

	if m == nil {
		m = inst.SubstituteMethod(src.Method)
	}

	dst := NewControlFlowGraph(src.TS, m)
	c := NewCloningContext(src, dst, inst, s)

	for _, a := range src.Arguments {
		c.CloneExpression(a)
	}

	for _, l := range src.Locals {
		c.CloneExpression(l)
	}

	dst.Entry = c.CloneBlock(src.Entry)
	dst.Exit = c.CloneBlock(src.Exit)

	for _, bb := range src.Blocks {
		c.CloneBlock(bb)
	}

	dst.UpdateFlowInformation()

	if tlog.If("clone") {
		tlog.Printw("cloned graph", "src", src.Method, "dst", dst.Method, "strategy", s, "blocks", len(dst.Blocks), "cached", len(c.cloned))
	}

	return dst
}

// CloneBlockInPlace duplicates bb and its operators inside its own graph.
// Other blocks and all expressions are shared with the original.
func CloneBlockInPlace(bb *BasicBlock) *BasicBlock {
	c := NewCloningContext(bb.Graph, bb.Graph, nil, CloneSingleBlock)
	c.single = bb

	return c.CloneBlock(bb)
}

func (c *CloningContext) Source() *ControlFlowGraph      { return c.src }
func (c *CloningContext) Destination() *ControlFlowGraph { return c.dst }

func (c *CloningContext) SameGraph() bool { return c.src == c.dst }

func (c *CloningContext) TypeSystem() *TypeSystem {
	if c.dst != nil && c.dst.TS != nil {
		return c.dst.TS
	}

	return c.src.TS
}

func (c *CloningContext) foundInCache(from any) (any, bool) {
	if to, ok := c.cloned[from]; ok {
		return to, true
	}

	switch c.strategy {
	case CloneWholeGraph:
	case CloneAliasExceptionHandlers:
		if bb, ok := from.(*BasicBlock); ok && bb.Kind == ExceptionHandler {
			c.register(bb, bb)
			return bb, true
		}
	case CloneSingleBlock:
		switch x := from.(type) {
		case *BasicBlock:
			if x != c.single {
				c.register(x, x)
				return x, true
			}
		case Expression:
			c.register(x, x)
			return x, true
		}
	default:
		panic(errors.New("unsupported clone strategy: %v", c.strategy))
	}

	return nil, false
}

func (c *CloningContext) register(from, to any) {
	c.cloned[from] = to

	if c.Notify != nil {
		c.Notify(from, to)
	}
}

func (c *CloningContext) RegisterBlock(from, to *BasicBlock)       { c.register(from, to) }
func (c *CloningContext) RegisterExpression(from, to Expression)   { c.register(from, to) }
func (c *CloningContext) RegisterOperator(from, to *Operator)      { c.register(from, to) }
func (c *CloningContext) RegisterAnnotation(from, to Annotation)   { c.register(from, to) }
func (c *CloningContext) RegisterClause(from, to *ExceptionClause) { c.register(from, to) }

// Cloned calls f for every object copied so far.
func (c *CloningContext) Cloned(f func(from, to any)) {
	for from, to := range c.cloned {
		f(from, to)
	}
}

func (c *CloningContext) Lookup(from any) (any, bool) {
	to, ok := c.cloned[from]
	return to, ok
}

func cached[T any](from, to any) T {
	x, ok := to.(T)
	if !ok {
		panic(errors.New("clone cache: %v (%T) is mapped to %T, want %T", from, from, to, x))
	}

	return x
}

func (c *CloningContext) CloneBlock(bb *BasicBlock) *BasicBlock {
	if bb == nil {
		return nil
	}

	if to, ok := c.foundInCache(bb); ok {
		return cached[*BasicBlock](bb, to)
	}

	x := bb.Clone(c)
	c.register(bb, x)

	return x
}

func (c *CloningContext) CloneBlocks(l []*BasicBlock) []*BasicBlock {
	if len(l) == 0 {
		return l
	}

	r := make([]*BasicBlock, len(l))

	for i, bb := range l {
		r[i] = c.CloneBlock(bb)
	}

	return r
}

func (c *CloningContext) CloneExpression(ex Expression) Expression {
	if ex == nil {
		return nil
	}

	if to, ok := c.foundInCache(ex); ok {
		return cached[Expression](ex, to)
	}

	x := ex.Clone(c)
	c.register(ex, x)

	return x
}

func (c *CloningContext) CloneExpressions(l []Expression) []Expression {
	if len(l) == 0 {
		return l
	}

	r := make([]Expression, len(l))

	for i, ex := range l {
		r[i] = c.CloneExpression(ex)
	}

	return r
}

// CloneVariable is CloneExpression for variables.
func (c *CloningContext) CloneVariable(v Variable) Variable {
	if v == nil {
		return nil
	}

	return cached[Variable](v, c.CloneExpression(v))
}

func (c *CloningContext) CloneOperator(op *Operator) *Operator {
	if op == nil {
		return nil
	}

	if to, ok := c.foundInCache(op); ok {
		return cached[*Operator](op, to)
	}

	x := op.Clone(c)
	c.register(op, x)

	return x
}

func (c *CloningContext) CloneOperators(l []*Operator) []*Operator {
	if len(l) == 0 {
		return l
	}

	r := make([]*Operator, len(l))

	for i, op := range l {
		r[i] = c.CloneOperator(op)
	}

	return r
}

func (c *CloningContext) CloneAnnotation(an Annotation) Annotation {
	if an == nil {
		return nil
	}

	if to, ok := c.foundInCache(an); ok {
		return cached[Annotation](an, to)
	}

	x := an.Clone(c)
	c.register(an, x)

	return x
}

func (c *CloningContext) CloneAnnotations(l []Annotation) []Annotation {
	if len(l) == 0 {
		return l
	}

	r := make([]Annotation, len(l))

	for i, an := range l {
		r[i] = c.CloneAnnotation(an)
	}

	return r
}

func (c *CloningContext) CloneClause(ec *ExceptionClause) *ExceptionClause {
	if ec == nil {
		return nil
	}

	if to, ok := c.foundInCache(ec); ok {
		return cached[*ExceptionClause](ec, to)
	}

	x := ec.Clone(c)
	c.register(ec, x)

	return x
}

func (c *CloningContext) CloneClauses(l []*ExceptionClause) []*ExceptionClause {
	if len(l) == 0 {
		return l
	}

	r := make([]*ExceptionClause, len(l))

	for i, ec := range l {
		r[i] = c.CloneClause(ec)
	}

	return r
}

func (c *CloningContext) ConvertType(t *tp.Type) *tp.Type { return c.inst.SubstituteType(t) }

func (c *CloningContext) ConvertTypes(l []*tp.Type) []*tp.Type { return c.inst.SubstituteTypes(l) }

func (c *CloningContext) ConvertField(f tp.Field) tp.Field {
	if f == nil {
		return nil
	}

	return c.inst.SubstituteField(f)
}

func (c *CloningContext) ConvertMethod(m *tp.Method) *tp.Method { return c.inst.SubstituteMethod(m) }

func (c *CloningContext) ConvertMethods(l []*tp.Method) []*tp.Method {
	if c.inst.IsIdentity() || len(l) == 0 {
		return l
	}

	var r []*tp.Method

	for i, m := range l {
		x := c.ConvertMethod(m)

		if r == nil && x != m {
			r = append(make([]*tp.Method, 0, len(l)), l[:i]...)
		}

		if r != nil {
			r = append(r, x)
		}
	}

	if r == nil {
		return l
	}

	return r
}

func (s Strategy) String() string {
	switch s {
	case CloneWholeGraph:
		return "whole_graph"
	case CloneAliasExceptionHandlers:
		return "alias_exception_handlers"
	case CloneSingleBlock:
		return "single_block"
	default:
		return "strategy"
	}
}
