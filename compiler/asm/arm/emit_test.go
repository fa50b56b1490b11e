package arm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NETMF/llilum-sub034/compiler/image"
	"github.com/NETMF/llilum-sub034/compiler/ir"
	"github.com/NETMF/llilum-sub034/compiler/tp"
)

func filterAnnotations[T image.Annotation](r *image.Region) (l []T) {
	for _, an := range r.Annotations() {
		if x, ok := an.(T); ok {
			l = append(l, x)
		}
	}

	return l
}

func blockRegion(t testing.TB, c *image.Core, bb *ir.BasicBlock) *image.Region {
	t.Helper()

	r, ok := c.LookupBlock(bb)
	require.True(t, ok, "no region for %v", bb)

	return r
}

func move(dst, src ir.Expression) *ir.Operator {
	return ir.NewOperator(ir.OpMove, []ir.Expression{dst}, src)
}

func TestEmitConstants(t *testing.T) {
	p := newTestProg(t)
	g := p.graph("Main")

	r0, r1, r2 := p.reg(g, 0), p.reg(g, 1), p.reg(g, 2)

	g.Entry.AddOperator(move(r0, p.cnst(5)))
	g.Entry.AddOperator(move(r1, p.cnst(-256)))
	g.Entry.AddOperator(move(r2, p.cnst(0x12345678)))
	g.Entry.AddOperator(ir.NewBranch(g.Exit))
	g.UpdateFlowInformation()

	c := image.NewCore(testLayout())
	link(t, c, g)

	entry := blockRegion(t, c, g.Entry)
	exit := blockRegion(t, c, g.Exit)

	assert.Equal(t, uint32(0x1000), entry.Base())
	assert.Equal(t, 12, entry.Size())
	assert.Equal(t, entry.EndAddress(), exit.Base())

	assert.Equal(t, MovImm(R0, 5), entry.Read32(0))
	assert.Equal(t, DataProcessing{Cond: AL, Op: OpMVN, Rd: R1, Immediate: true, Imm: 0xff}.Encode(), entry.Read32(4))

	ldrs := filterAnnotations[*LDRRelocation](entry)
	require.Len(t, ldrs, 1)
	assert.Equal(t, image.Resolved, ldrs[0].State())

	lit := ldrs[0].Target().(*image.Region)
	assert.Equal(t, image.Constant, lit.Kind)
	assert.Equal(t, uint32(0x12345678), lit.Read32(0))
	assert.Equal(t, exit.EndAddress(), lit.Base())

	o := DecodeSingleDataTransfer(entry.Read32(8))
	require.True(t, o.Up)
	assert.Equal(t, R2, o.Rd)
	assert.Equal(t, lit.Base(), entry.Address(8)+PCOffset+o.Offset)

	adj := filterAnnotations[*image.AdjacencyRequirement](entry)
	require.Len(t, adj, 1)
	assert.Equal(t, image.Resolved, adj[0].State())

	assert.Equal(t, uint32(BXLR), exit.Read32(0))
}

func TestEmitFarConstant(t *testing.T) {
	p := newTestProg(t)
	g := p.graph("Main")

	r2 := p.reg(g, 2)

	op := g.Entry.AddOperator(move(r2, p.cnst(0x12345678)))
	g.Entry.AddOperator(ir.NewBranch(g.Exit))
	g.UpdateFlowInformation()

	c := image.NewCore(testLayout())
	c.SetEncodingLevelForConstant(op, image.FarRelativeLoad16Bit)

	link(t, c, g)

	entry := blockRegion(t, c, g.Entry)
	require.Equal(t, 12, entry.Size())

	movs := filterAnnotations[*MOVRelocation](entry)
	require.Len(t, movs, 1)
	assert.Equal(t, 2, movs[0].EncodingLength)

	lit := movs[0].Target().(*image.Region)
	assert.Equal(t, uint32(0x12345678), lit.Read32(0))

	v := MovValue([]uint32{entry.Read32(0), entry.Read32(4)})

	o := DecodeSingleDataTransfer(entry.Read32(8))
	require.True(t, o.Register)
	assert.Equal(t, Scratch, o.Rm)
	assert.Equal(t, PC, o.Rn)
	assert.Equal(t, R2, o.Rd)

	assert.Equal(t, lit.Base(), entry.Address(8)+PCOffset+v)
}

func TestEmitBranches(t *testing.T) {
	p := newTestProg(t)
	g := p.graph("Main")

	bbF := g.NewBlock(ir.Normal)
	bbT := g.NewBlock(ir.Normal)

	r0, r1 := p.reg(g, 0), p.reg(g, 1)

	g.Entry.AddOperator(ir.NewBranchIf(ir.CondEQ, r0, r1, bbT, bbF))
	bbF.AddOperator(ir.NewReturn())
	bbT.AddOperator(ir.NewBranch(bbF))
	g.UpdateFlowInformation()

	c := image.NewCore(testLayout())
	link(t, c, g)

	entry := blockRegion(t, c, g.Entry)
	f := blockRegion(t, c, bbF)
	tr := blockRegion(t, c, bbT)

	require.Equal(t, 8, entry.Size())
	assert.Equal(t, DataProcessing{Cond: AL, Op: OpCMP, Rn: R0, Rm: R1}.Encode(), entry.Read32(0))

	b := DecodeBranch(entry.Read32(4))
	assert.Equal(t, EQ, b.Cond)
	assert.Equal(t, tr.Base(), entry.Address(4)+PCOffset+uint32(b.Offset))

	assert.Equal(t, entry.EndAddress(), f.Base(), "fallthrough")

	// backward jump
	b = DecodeBranch(tr.Read32(0))
	assert.Equal(t, AL, b.Cond)
	assert.Less(t, b.Offset, int32(0))
	assert.Equal(t, f.Base(), tr.Address(0)+PCOffset+uint32(b.Offset))
}

func TestEmitCall(t *testing.T) {
	p := newTestProg(t)

	ga := p.graph("A")
	gb := p.graph("B")

	ga.Entry.AddOperator(ir.NewCall(gb.Method, nil))
	ga.Entry.AddOperator(ir.NewBranch(ga.Exit))
	ga.UpdateFlowInformation()

	gb.Entry.AddOperator(ir.NewBranch(gb.Exit))
	gb.UpdateFlowInformation()

	c := image.NewCore(testLayout())
	link(t, c, ga, gb)

	a := blockRegion(t, c, ga.Entry)
	b := blockRegion(t, c, gb.Entry)

	w := a.Read32(0)
	require.True(t, IsBranch(w))

	bl := DecodeBranch(w)
	assert.True(t, bl.Link)
	assert.Equal(t, b.Base(), a.Address(0)+PCOffset+uint32(bl.Offset))
	assert.Equal(t, b.Base(), c.Resolve(gb.Method))
}

func TestEmitExternalCall(t *testing.T) {
	p := newTestProg(t)
	g := p.graph("Main")

	native := p.cls.AddMethod(tp.NewMethod("memcpy", nil))
	native.External = true

	g.Entry.AddOperator(ir.NewCall(native, nil))
	g.Entry.AddOperator(ir.NewBranch(g.Exit))
	g.UpdateFlowInformation()

	l := testLayout()
	l.Externals = map[string]uint32{"memcpy": 0x1fff0000}

	c := image.NewCore(l)
	link(t, c, g)

	var stub *image.Region

	for _, r := range c.Regions() {
		if r.Kind == image.External && r.Name == "memcpy" {
			stub = r
		}
	}

	require.NotNil(t, stub)
	assert.Equal(t, uint32(0xe51ff004), stub.Read32(0))
	assert.Equal(t, uint32(0x1fff0000), stub.Read32(4))

	entry := blockRegion(t, c, g.Entry)

	calls := filterAnnotations[*image.ExternMethodCallRelocation](entry)
	require.Len(t, calls, 1)
	assert.Equal(t, image.Resolved, calls[0].State())

	bl := DecodeBranch(entry.Read32(0))
	assert.True(t, bl.Link)
	assert.Equal(t, stub.Base(), entry.Address(0)+PCOffset+uint32(bl.Offset))
}

func TestEmitExternalCallNoAddress(t *testing.T) {
	p := newTestProg(t)
	g := p.graph("Main")

	native := p.cls.AddMethod(tp.NewMethod("memcpy", nil))
	native.External = true

	g.Entry.AddOperator(ir.NewCall(native, nil))
	g.Entry.AddOperator(ir.NewBranch(g.Exit))
	g.UpdateFlowInformation()

	c := image.NewCore(testLayout())

	err := NewCompilationState(c, g).Emit(context.Background())
	assert.ErrorContains(t, err, "memcpy")
}

func TestEmitThrow(t *testing.T) {
	p := newTestProg(t)
	g := p.graph("Main")

	g.Entry.AddOperator(&ir.Operator{Op: ir.OpThrow})
	g.UpdateFlowInformation()

	l := testLayout()
	l.Externals = map[string]uint32{ThrowRoutine: 0x2000}

	c := image.NewCore(l)
	link(t, c, g)

	entry := blockRegion(t, c, g.Entry)
	require.Equal(t, 4, entry.Size())

	bl := DecodeBranch(entry.Read32(0))
	assert.True(t, bl.Link)

	img := c.Image()

	sym, ok := img.Lookup(entry.Address(0) + PCOffset + uint32(bl.Offset))
	require.True(t, ok)
	assert.Equal(t, ThrowRoutine, sym.Name)
}

func TestEmitOperatorAfterTerminator(t *testing.T) {
	p := newTestProg(t)
	g := p.graph("Main")

	g.Entry.AddOperator(ir.NewReturn())
	g.Entry.AddOperator(ir.NewOperator(ir.OpNop, nil))
	g.UpdateFlowInformation()

	c := image.NewCore(testLayout())
	c.Reset()

	err := NewCompilationState(c, g).Emit(context.Background())
	assert.ErrorContains(t, err, "after block terminator")
}

func TestEmitOperandNotInRegister(t *testing.T) {
	p := newTestProg(t)
	g := p.graph("Main")

	tmp := g.NewTemporary(p.i32)

	g.Entry.AddOperator(move(tmp, p.cnst(1)))
	g.Entry.AddOperator(ir.NewBranch(g.Exit))
	g.UpdateFlowInformation()

	c := image.NewCore(testLayout())
	c.Reset()

	err := NewCompilationState(c, g).Emit(context.Background())
	assert.ErrorContains(t, err, "not in a register")
}

func TestEmitStatic(t *testing.T) {
	p := newTestProg(t)
	g := p.graph("Main")

	counter := p.cls.AddField("counter", p.i32, tp.FieldStatic).(*tp.StaticField)
	require.NoError(t, tp.LayoutType(p.cls))

	r0 := p.reg(g, 0)

	op := ir.NewOperator(ir.OpLoadStatic, []ir.Expression{r0})
	op.Field = counter

	g.Entry.AddOperator(op)
	g.Entry.AddOperator(ir.NewReturn(r0))
	g.UpdateFlowInformation()

	c := image.NewCore(testLayout())
	link(t, c, g)

	entry := blockRegion(t, c, g.Entry)

	ldrs := filterAnnotations[*LDRRelocation](entry)
	require.Len(t, ldrs, 1)

	lit := ldrs[0].Target().(*image.Region)
	assert.Equal(t, c.Resolve(counter), lit.Read32(0))
	assert.GreaterOrEqual(t, c.Resolve(counter), uint32(0x8000))

	o := DecodeSingleDataTransfer(entry.Read32(4))
	assert.Equal(t, Scratch, o.Rn)
	assert.Equal(t, R0, o.Rd)
	assert.True(t, o.Load)
}

func TestEmitLiveness(t *testing.T) {
	p := newTestProg(t)
	g := p.graph("Main")

	r0, r1 := p.reg(g, 0), p.reg(g, 1)

	g.Entry.AddOperator(move(r0, p.cnst(5)))
	g.Entry.AddOperator(ir.NewOperator(ir.OpAdd, []ir.Expression{r1}, r0, p.cnst(1)))
	g.Entry.AddOperator(ir.NewBranch(g.Exit))
	g.Exit.Operators[0].Args = []ir.Expression{r1}
	g.UpdateFlowInformation()

	c := image.NewCore(testLayout())
	link(t, c, g)

	entry := blockRegion(t, c, g.Entry)
	exit := blockRegion(t, c, g.Exit)

	lt := c.Liveness()

	assert.False(t, lt.IsAlive(r0, entry.Address(0)))
	assert.True(t, lt.IsAlive(r0, entry.Address(4)))
	assert.False(t, lt.IsAlive(r1, entry.Address(4)))
	assert.False(t, lt.IsAlive(r0, entry.Address(8)))
	assert.True(t, lt.IsAlive(r1, exit.Base()))
	assert.False(t, lt.IsAlive(r1, exit.EndAddress()))

	assert.Equal(t, []ir.Variable{r1}, lt.Alive(exit.Base()))
}
