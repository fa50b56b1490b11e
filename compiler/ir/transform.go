package ir

import (
	"github.com/NETMF/llilum-sub034/compiler/tp"
)

type (
	Initiator int

	// TransformationContext walks annotation trees.
	// Implementations push every visited node, transform its fields and pop.
	TransformationContext interface {
		Push(x any)
		Pop()

		// Transform returns the replacement for x, or x itself.
		Transform(x any) any

		Initiator() Initiator
		TypeSystem() *TypeSystem
	}

	TransformBase struct {
		ts    *TypeSystem
		stack []any
	}

	// Remap is a generic transformation replacing values with Func results.
	Remap struct {
		TransformBase

		Func func(x any) any
	}

	// CallClosure collects methods, types and fields reachable
	// from the transformed annotations.
	CallClosure struct {
		TransformBase

		Methods map[*tp.Method]struct{}
		Types   map[*tp.Type]struct{}
		Fields  map[tp.Field]struct{}
	}

	// ProhibitedUses prunes methods the type system marked prohibited.
	ProhibitedUses struct {
		TransformBase

		Found []*tp.Method
	}
)

const (
	InitiatorGeneric Initiator = iota
	InitiatorCallClosure
	InitiatorProhibitedUses
)

func (t *TransformBase) Push(x any) { t.stack = append(t.stack, x) }
func (t *TransformBase) Pop()       { t.stack = t.stack[:len(t.stack)-1] }

// Top is the innermost node being transformed.
func (t *TransformBase) Top() any {
	if len(t.stack) == 0 {
		return nil
	}

	return t.stack[len(t.stack)-1]
}

func (t *TransformBase) Depth() int { return len(t.stack) }

func (t *TransformBase) TypeSystem() *TypeSystem { return t.ts }

func NewRemap(ts *TypeSystem, f func(x any) any) *Remap {
	return &Remap{TransformBase: TransformBase{ts: ts}, Func: f}
}

func (t *Remap) Initiator() Initiator { return InitiatorGeneric }

func (t *Remap) Transform(x any) any {
	if t.Func == nil {
		return x
	}

	return t.Func(x)
}

func NewCallClosure(ts *TypeSystem) *CallClosure {
	return &CallClosure{
		TransformBase: TransformBase{ts: ts},
		Methods:       map[*tp.Method]struct{}{},
		Types:         map[*tp.Type]struct{}{},
		Fields:        map[tp.Field]struct{}{},
	}
}

func (t *CallClosure) Initiator() Initiator { return InitiatorCallClosure }

func (t *CallClosure) Transform(x any) any {
	switch x := x.(type) {
	case *tp.Method:
		if x != nil {
			t.Methods[x] = struct{}{}
		}
	case *tp.Type:
		if x != nil {
			t.Types[x] = struct{}{}
		}
	case tp.Field:
		if x != nil {
			t.Fields[x] = struct{}{}
		}
	}

	return x
}

// VisitGraph feeds every operator reference of g to the closure,
// annotations included.
func (t *CallClosure) VisitGraph(g *ControlFlowGraph) {
	for _, op := range g.Operators() {
		t.Push(op)

		if op.Method != nil {
			t.Transform(op.Method)
		}

		if op.Field != nil {
			t.Transform(op.Field)
		}

		if op.Type != nil {
			t.Transform(op.Type)
		}

		for _, an := range op.Annotations {
			an.ApplyTransformation(t)
		}

		t.Pop()
	}
}

func NewProhibitedUses(ts *TypeSystem) *ProhibitedUses {
	return &ProhibitedUses{TransformBase: TransformBase{ts: ts}}
}

func (t *ProhibitedUses) Initiator() Initiator { return InitiatorProhibitedUses }

func (t *ProhibitedUses) Transform(x any) any {
	if m, ok := x.(*tp.Method); ok && t.ts.IsProhibited(m) {
		t.Found = append(t.Found, m)
	}

	return x
}

// ApplyToGraph replaces operator annotations with their transformed versions.
// It reports whether anything changed.
func ApplyToGraph(ctx TransformationContext, g *ControlFlowGraph) (changed bool) {
	for _, op := range g.Operators() {
		for i, an := range op.Annotations {
			x := an.ApplyTransformation(ctx)
			if x == an {
				continue
			}

			op.Annotations[i] = x
			changed = true
		}
	}

	return changed
}

// Transform applies ctx to a typed value.
func Transform[T any](ctx TransformationContext, x T) T {
	r := ctx.Transform(x)
	if r == nil {
		var zero T
		return zero
	}

	return r.(T)
}

// TransformSlice transforms each element and returns l itself if nothing changed.
func TransformSlice[T comparable](ctx TransformationContext, l []T) []T {
	var r []T

	for i, x := range l {
		y := Transform(ctx, x)

		if r == nil && y != x {
			r = append(make([]T, 0, len(l)), l[:i]...)
		}

		if r != nil {
			r = append(r, y)
		}
	}

	if r == nil {
		return l
	}

	return r
}

func (i Initiator) String() string {
	switch i {
	case InitiatorGeneric:
		return "generic"
	case InitiatorCallClosure:
		return "call_closure"
	case InitiatorProhibitedUses:
		return "prohibited_uses"
	default:
		return "initiator"
	}
}
