package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NETMF/llilum-sub034/compiler/tp"
)

func TestAnnotationInterning(t *testing.T) {
	p := newTestProgram(t)
	ts := p.ts

	a := NewRegisterAllocationConstraint(ts, 1, false, RegClassAddress)
	b := NewRegisterAllocationConstraint(ts, 1, false, RegClassAddress)

	assert.Same(t, a, b)
	assert.NotSame(t, a, NewRegisterAllocationConstraint(ts, 1, true, RegClassAddress))
	assert.NotSame(t, a, NewRegisterAllocationConstraint(ts, 1, false, RegClassInteger))

	c1 := NewRegisterCouplingConstraint(ts, 0, true, 0, false)
	c2 := NewRegisterCouplingConstraint(ts, 0, true, 0, false)

	assert.Same(t, c1, c2)
	assert.NotSame(t, c1, NewRegisterCouplingConstraint(ts, 0, false, 0, true))

	p1 := NewInliningPath(ts, []*tp.Method{p.sum, p.log})
	p2 := NewInliningPath(ts, []*tp.Method{p.sum, p.log})

	assert.Same(t, p1, p2)
	assert.NotSame(t, p1, NewInliningPath(ts, []*tp.Method{p.log, p.sum}))
	assert.Same(t, p1, ComposeInliningPath(ts, NewInliningPath(ts, []*tp.Method{p.sum}), p.log, nil))

	path := []*tp.Method{p.log}
	p3 := NewInliningPath(ts, path)
	path[0] = p.sum

	assert.Equal(t, []*tp.Method{p.log}, p3.Path())
	assert.Same(t, p3, NewInliningPath(ts, []*tp.Method{p.log}))

	// other type systems have their own tables
	other := NewTypeSystem(p.u)
	assert.NotSame(t, a, NewRegisterAllocationConstraint(other, 1, false, RegClassAddress))
}

func TestComputeConstraints(t *testing.T) {
	p := newTestProgram(t)
	ts := p.ts

	op := p.body.Operators[0]

	op.AddAnnotation(NewRegisterAllocationConstraint(ts, 0, true, RegClassInteger))
	op.AddAnnotation(NewRegisterAllocationConstraint(ts, 0, true, RegClassAddress))
	op.AddAnnotation(NewRegisterAllocationConstraint(ts, 0, true, RegClassStackPointer))
	op.AddAnnotation(NewRegisterAllocationConstraint(ts, 0, false, RegClassSinglePrecision))

	want := RegClassInteger | RegClassAddress | RegClassStackPointer

	assert.Equal(t, want, ComputeConstraintsForLHS(op, p.tmp))
	assert.Equal(t, want, ComputeConstraintsForLHSAt(op, 0))

	assert.Equal(t, RegClassSinglePrecision, ComputeConstraintsForRHS(op, p.g.Arguments[0]))
	assert.Equal(t, RegClassNone, ComputeConstraintsForRHS(op, p.g.Arguments[1]))
	assert.Equal(t, RegClassNone, ComputeConstraintsForRHSAt(op, 1))
	assert.Equal(t, RegClassNone, ComputeConstraintsForLHS(op, p.acc))

	assert.Equal(t, "integer|address|sp", want.String())
}

func TestShouldBeMovedToPseudoRegister(t *testing.T) {
	p := newTestProgram(t)
	ts := p.ts

	slot := p.g.NewStackLocation(p.acc)

	op := p.body.AddOperator(NewOperator(OpAdd, []Expression{slot}, slot, p.tmp))

	assert.False(t, ShouldLhsBeMovedToPseudoRegister(op, 0))

	op.AddAnnotation(NewRegisterAllocationConstraint(ts, 0, true, RegClassAddress))
	op.AddAnnotation(NewRegisterAllocationConstraint(ts, 0, false, RegClassAddress))

	assert.False(t, ShouldLhsBeMovedToPseudoRegister(op, 0))
	assert.False(t, ShouldRhsBeMovedToPseudoRegister(op, 0))

	op.AddAnnotation(NewRegisterAllocationConstraint(ts, 0, true, RegClassInteger))
	op.AddAnnotation(NewRegisterAllocationConstraint(ts, 1, false, RegClassInteger))

	assert.True(t, ShouldLhsBeMovedToPseudoRegister(op, 0))
	assert.False(t, ShouldRhsBeMovedToPseudoRegister(op, 0))

	// not a stack location
	assert.False(t, ShouldRhsBeMovedToPseudoRegister(op, 1))
	assert.False(t, ShouldRhsBeMovedToPseudoRegister(op, 5))
}

func TestCoupling(t *testing.T) {
	p := newTestProgram(t)

	op := p.body.Operators[0]
	a, b := p.g.Arguments[0], p.g.Arguments[1]

	an := NewRegisterCouplingConstraint(p.ts, 0, true, 1, false)

	v1, v2 := an.ExtractTargets(op)
	assert.Same(t, p.tmp, v1)
	assert.Same(t, b, v2)

	assert.Equal(t, Variable(b), an.FindCoupledExpression(op, p.tmp))
	assert.Equal(t, Variable(p.tmp), an.FindCoupledExpression(op, b))
	assert.Nil(t, an.FindCoupledExpression(op, a))

	// operator agnostic
	mov := p.body.Operators[1]
	assert.Nil(t, an.FindCoupledExpression(mov, p.tmp))
	assert.Nil(t, an.FindCoupledExpression(mov, p.acc))

	rmw := NewRegisterCouplingConstraint(p.ts, 0, true, 0, false)
	assert.Equal(t, Variable(p.tmp), rmw.FindCoupledExpression(mov, p.acc))
	assert.Equal(t, Variable(a), rmw.FindCoupledExpression(op, p.tmp))
}

func TestInliningPathTransformations(t *testing.T) {
	p := newTestProgram(t)
	ts := p.ts

	path := NewInliningPath(ts, []*tp.Method{p.sum, p.log})

	cc := NewCallClosure(ts)

	assert.Same(t, path, path.ApplyTransformation(cc))
	assert.Empty(t, cc.Methods)
	assert.Zero(t, cc.Depth())

	ts.ProhibitMethod(p.log)

	pu := NewProhibitedUses(ts)
	assert.Same(t, path, path.ApplyTransformation(pu))

	ts.CodeTransformation = true

	pruned := path.ApplyTransformation(pu)
	assert.Same(t, NewInliningPath(ts, []*tp.Method{p.sum}), pruned)
	assert.Equal(t, []*tp.Method{p.log}, pu.Found)

	main := p.prog.AddMethod(tp.NewMethod("Main", nil))

	remap := NewRemap(ts, func(x any) any {
		if x == any(p.sum) {
			return main
		}

		return x
	})

	assert.Same(t, NewInliningPath(ts, []*tp.Method{main, p.log}), path.ApplyTransformation(remap))
	assert.Zero(t, remap.Depth())

	rc := NewRegisterAllocationConstraint(ts, 0, true, RegClassInteger)
	assert.Same(t, rc, rc.ApplyTransformation(remap))

	widen := NewRemap(ts, func(x any) any {
		if c, ok := x.(RegisterClass); ok {
			return c | RegClassAddress
		}

		return x
	})

	assert.Same(t, NewRegisterAllocationConstraint(ts, 0, true, RegClassInteger|RegClassAddress), rc.ApplyTransformation(widen))
}

func TestCallClosureVisitGraph(t *testing.T) {
	p := newTestProgram(t)

	call := p.body.Operators[2]
	call.AddAnnotation(NewInliningPath(p.ts, []*tp.Method{p.sum}))

	cc := NewCallClosure(p.ts)
	cc.VisitGraph(p.g)

	assert.Equal(t, map[*tp.Method]struct{}{p.log: {}}, cc.Methods)
}

func TestApplyToGraph(t *testing.T) {
	p := newTestProgram(t)
	ts := p.ts
	ts.CodeTransformation = true

	call := p.body.Operators[2]
	call.AddAnnotation(NewInliningPath(ts, []*tp.Method{p.sum, p.log}))

	assert.False(t, ApplyToGraph(NewProhibitedUses(ts), p.g))

	ts.ProhibitMethod(p.sum)

	assert.True(t, ApplyToGraph(NewProhibitedUses(ts), p.g))

	path, ok := GetAnnotation[*InliningPath](call)
	require.True(t, ok)
	assert.Equal(t, []*tp.Method{p.log}, path.Path())
}
