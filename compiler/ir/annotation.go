package ir

import (
	"fmt"
	"strings"

	"github.com/NETMF/llilum-sub034/compiler/tp"
)

type (
	// Annotation is an interned fact attached to an operator.
	// Annotations with equal content are the same object,
	// so they may be compared by identity once created.
	Annotation interface {
		Equal(other Annotation) bool

		Clone(c *CloningContext) Annotation
		ApplyTransformation(ctx TransformationContext) Annotation

		String() string

		internKey() any
	}

	// InliningPath is the chain of methods an operator was inlined through.
	InliningPath struct {
		path []*tp.Method
	}

	// RegisterAllocationConstraint requires operand Index of an operator
	// to be allocated to a register of the given class.
	RegisterAllocationConstraint struct {
		index      int
		isResult   bool
		constraint RegisterClass
	}

	// RegisterCouplingConstraint requires two operands of an operator
	// to be allocated to the same register.
	RegisterCouplingConstraint struct {
		varIndex1 int
		isResult1 bool
		varIndex2 int
		isResult2 bool
	}

	inliningKey struct {
		n    int
		last *tp.Method
	}
)

func NewInliningPath(ts *TypeSystem, path []*tp.Method) *InliningPath {
	a := &InliningPath{path: append([]*tp.Method{}, path...)}

	return ts.Intern(a).(*InliningPath)
}

// ComposeInliningPath is outer, then m, then inner.
// outer and inner may be nil.
func ComposeInliningPath(ts *TypeSystem, outer *InliningPath, m *tp.Method, inner *InliningPath) *InliningPath {
	var path []*tp.Method

	path = append(path, outer.Path()...)
	path = append(path, m)
	path = append(path, inner.Path()...)

	return NewInliningPath(ts, path)
}

// Path is shared by every operator holding a; it must not be modified.
func (a *InliningPath) Path() []*tp.Method {
	if a == nil {
		return nil
	}

	return a.path
}

func (a *InliningPath) IsEmpty() bool { return a == nil || len(a.path) == 0 }

func (a *InliningPath) Equal(other Annotation) bool {
	b, ok := other.(*InliningPath)
	if !ok || len(a.path) != len(b.path) {
		return false
	}

	for i := range a.path {
		if a.path[i] != b.path[i] {
			return false
		}
	}

	return true
}

func (a *InliningPath) internKey() any {
	k := inliningKey{n: len(a.path)}

	if k.n != 0 {
		k.last = a.path[k.n-1]
	}

	return k
}

func (a *InliningPath) Clone(c *CloningContext) Annotation {
	path := c.ConvertMethods(a.path)
	if sameMethods(path, a.path) {
		return a
	}

	x := NewInliningPath(c.TypeSystem(), path)
	c.RegisterAnnotation(a, x)

	return x
}

func (a *InliningPath) ApplyTransformation(ctx TransformationContext) Annotation {
	ctx.Push(a)
	defer ctx.Pop()

	switch ctx.Initiator() {
	case InitiatorCallClosure:
		// methods on the path may have just been found unreachable
		return a
	case InitiatorProhibitedUses:
		ts := ctx.TypeSystem()
		if !ts.CodeTransformation {
			return a
		}

		var path []*tp.Method

		for _, m := range a.path {
			ctx.Transform(m)

			if !ts.IsProhibited(m) {
				path = append(path, m)
			}
		}

		if len(path) == len(a.path) {
			return a
		}

		return NewInliningPath(ts, path)
	}

	path := TransformSlice(ctx, a.path)
	if sameMethods(path, a.path) {
		return a
	}

	return NewInliningPath(ctx.TypeSystem(), path)
}

func (a *InliningPath) String() string {
	var b strings.Builder

	b.WriteString("InliningPath(")

	for i, m := range a.path {
		if i != 0 {
			b.WriteString(" <- ")
		}

		b.WriteString(m.String())
	}

	b.WriteByte(')')

	return b.String()
}

func NewRegisterAllocationConstraint(ts *TypeSystem, index int, isResult bool, c RegisterClass) *RegisterAllocationConstraint {
	a := &RegisterAllocationConstraint{
		index:      index,
		isResult:   isResult,
		constraint: c,
	}

	return ts.Intern(a).(*RegisterAllocationConstraint)
}

func (a *RegisterAllocationConstraint) Index() int                { return a.index }
func (a *RegisterAllocationConstraint) IsResult() bool            { return a.isResult }
func (a *RegisterAllocationConstraint) Constraint() RegisterClass { return a.constraint }

func (a *RegisterAllocationConstraint) Equal(other Annotation) bool {
	b, ok := other.(*RegisterAllocationConstraint)

	return ok && *a == *b
}

func (a *RegisterAllocationConstraint) internKey() any { return *a }

func (a *RegisterAllocationConstraint) Clone(c *CloningContext) Annotation { return a }

func (a *RegisterAllocationConstraint) ApplyTransformation(ctx TransformationContext) Annotation {
	ctx.Push(a)
	defer ctx.Pop()

	x := RegisterAllocationConstraint{
		index:      Transform(ctx, a.index),
		isResult:   Transform(ctx, a.isResult),
		constraint: Transform(ctx, a.constraint),
	}

	if x == *a {
		return a
	}

	return ctx.TypeSystem().Intern(&x)
}

func (a *RegisterAllocationConstraint) String() string {
	return fmt.Sprintf("RegisterAllocationConstraint(%s, %v)", operandName(a.index, a.isResult), a.constraint)
}

func NewRegisterCouplingConstraint(ts *TypeSystem, varIndex1 int, isResult1 bool, varIndex2 int, isResult2 bool) *RegisterCouplingConstraint {
	a := &RegisterCouplingConstraint{
		varIndex1: varIndex1,
		isResult1: isResult1,
		varIndex2: varIndex2,
		isResult2: isResult2,
	}

	return ts.Intern(a).(*RegisterCouplingConstraint)
}

func (a *RegisterCouplingConstraint) VarIndex1() int  { return a.varIndex1 }
func (a *RegisterCouplingConstraint) IsResult1() bool { return a.isResult1 }
func (a *RegisterCouplingConstraint) VarIndex2() int  { return a.varIndex2 }
func (a *RegisterCouplingConstraint) IsResult2() bool { return a.isResult2 }

func (a *RegisterCouplingConstraint) Equal(other Annotation) bool {
	b, ok := other.(*RegisterCouplingConstraint)

	return ok && *a == *b
}

func (a *RegisterCouplingConstraint) internKey() any { return *a }

func (a *RegisterCouplingConstraint) Clone(c *CloningContext) Annotation { return a }

func (a *RegisterCouplingConstraint) ApplyTransformation(ctx TransformationContext) Annotation {
	ctx.Push(a)
	defer ctx.Pop()

	x := RegisterCouplingConstraint{
		varIndex1: Transform(ctx, a.varIndex1),
		isResult1: Transform(ctx, a.isResult1),
		varIndex2: Transform(ctx, a.varIndex2),
		isResult2: Transform(ctx, a.isResult2),
	}

	if x == *a {
		return a
	}

	return ctx.TypeSystem().Intern(&x)
}

// ExtractTargets resolves both coupled operands on op.
func (a *RegisterCouplingConstraint) ExtractTargets(op *Operator) (v1, v2 Variable) {
	v1 = operandVariable(op, a.varIndex1, a.isResult1)
	v2 = operandVariable(op, a.varIndex2, a.isResult2)

	return
}

// FindCoupledExpression returns the operand that must share a register
// with ex, or nil if ex is not coupled by a.
func (a *RegisterCouplingConstraint) FindCoupledExpression(op *Operator, ex Expression) Variable {
	v1, v2 := a.ExtractTargets(op)

	switch {
	case v1 != nil && Expression(v1) == ex:
		return v2
	case v2 != nil && Expression(v2) == ex:
		return v1
	}

	return nil
}

func (a *RegisterCouplingConstraint) String() string {
	return fmt.Sprintf("RegisterCouplingConstraint(%s, %s)", operandName(a.varIndex1, a.isResult1), operandName(a.varIndex2, a.isResult2))
}

func operandVariable(op *Operator, idx int, isResult bool) Variable {
	l := op.Args
	if isResult {
		l = op.Results
	}

	if idx < 0 || idx >= len(l) {
		return nil
	}

	v, _ := l[idx].(Variable)

	return v
}

func operandName(idx int, isResult bool) string {
	if isResult {
		return fmt.Sprintf("LHS[%d]", idx)
	}

	return fmt.Sprintf("RHS[%d]", idx)
}

func sameMethods(a, b []*tp.Method) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
