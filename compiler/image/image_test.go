package image

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NETMF/llilum-sub034/compiler/ir"
	"github.com/NETMF/llilum-sub034/compiler/tp"
)

type testMethod struct {
	u   *tp.Universe
	ts  *ir.TypeSystem
	i32 *tp.Type

	g   *ir.ControlFlowGraph
	bb1 *ir.BasicBlock
	bb2 *ir.BasicBlock
}

func newTestMethod(t testing.TB) *testMethod {
	t.Helper()

	m := &testMethod{}

	m.u = tp.NewUniverse()
	m.ts = ir.NewTypeSystem(m.u)
	m.i32 = m.u.Add(tp.NewScalar("int32", 4))

	prog := m.u.Add(tp.NewClass("Program", 0))
	main := prog.AddMethod(tp.NewMethod("Main", nil))

	m.g = ir.NewMethodGraph(m.ts, main)
	m.bb1 = m.g.NewBlock(ir.Normal)
	m.bb2 = m.g.NewBlock(ir.Normal)

	m.g.Entry.AddOperator(ir.NewBranch(m.bb1))
	m.bb1.AddOperator(ir.NewBranch(m.bb2))
	m.bb2.AddOperator(ir.NewBranch(m.g.Exit))
	m.g.Exit.AddOperator(ir.NewReturn())

	m.g.UpdateFlowInformation()

	return m
}

func testLayout() Layout {
	l := DefaultLayout()
	l.Flash.Base = 0x1000
	l.RAM.Base = 0x8000

	return l
}

func TestRegionAnnotationsSorted(t *testing.T) {
	c := NewCore(testLayout())
	r := c.NewRegion(Data, "data", nil)
	r.Grow(16)

	a8 := r.AddAnnotation(NewGenericAnnotation(r, 8, 1, "a8"))
	a0 := r.AddAnnotation(NewGenericAnnotation(r, 0, 2, "a0"))
	a4 := r.AddAnnotation(NewGenericAnnotation(r, 4, 3, "a4"))
	b4 := r.AddAnnotation(NewGenericAnnotation(r, 4, 4, "b4"))

	assert.Equal(t, []Annotation{a0, a4, b4, a8}, r.Annotations())
}

func TestRegionReadWrite(t *testing.T) {
	c := NewCore(testLayout())
	r := c.NewRegion(Data, "data", nil)

	off := r.Emit32(0x11223344)
	assert.Equal(t, 0, off)
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, r.Bytes())

	r.Write32(0, 0xdeadbeef)
	assert.Equal(t, uint32(0xdeadbeef), r.Read32(0))

	assert.Panics(t, func() { r.Read32(2) })
	assert.Panics(t, func() { r.Base() })
}

func TestPlacement(t *testing.T) {
	m := newTestMethod(t)

	c := NewCore(testLayout())
	c.RegisterGraph(m.g)

	entry := c.BlockRegion(m.g.Entry)
	entry.Emit32(0xe1a00000)

	k1 := c.CodeConstant(uint32(5))
	k2 := c.CodeConstant(uint32(5))
	assert.True(t, k1 == k2, "pool entries are shared")

	b1 := c.BlockRegion(m.bb1)
	b1.Emit32(0xe1a00000)
	b1.Emit32(0xe1a00000)

	c.FlushConstants()

	k3 := c.CodeConstant(uint32(5))
	assert.False(t, k1 == k3, "flushed pool is not reused")

	b2 := c.BlockRegion(m.bb2)
	b2.Emit32(0xe12fff1e)

	data := c.NewRegion(Data, "table", nil)
	data.WritePointerToBasicBlock(m.bb2)

	err := c.AssignAddresses()
	require.NoError(t, err)

	assert.Equal(t, uint32(0x1000), entry.Base())
	assert.Equal(t, uint32(0x1004), b1.Base())
	assert.Equal(t, uint32(0x100c), k1.Base())
	assert.Equal(t, uint32(0x1010), b2.Base())
	assert.Equal(t, uint32(0x1014), k3.Base())
	assert.Equal(t, uint32(0x1018), data.Base())

	assert.Equal(t, uint32(0x1004), c.Resolve(m.bb1))
	assert.Equal(t, uint32(0x1000), c.Resolve(m.g.Method))
	assert.Equal(t, uint32(0x1000), c.Resolve(m.g))

	failed := c.ApplyRelocation()
	assert.Empty(t, failed)
	assert.Equal(t, uint32(0x1010), data.Read32(0))

	img := c.Image()
	assert.Equal(t, uint32(0x1000), img.Base)
	assert.Len(t, img.Flash, 0x1c)

	s, ok := img.Lookup(0x1012)
	if assert.True(t, ok) {
		assert.Equal(t, b2.Name, s.Name)
	}

	t.Logf("dump\n%s", c.Dump(nil))
}

func TestPlacementOverflow(t *testing.T) {
	l := testLayout()
	l.Flash.Size = 8

	c := NewCore(l)

	r := c.NewRegion(Data, "big", nil)
	r.Grow(12)

	err := c.AssignAddresses()
	assert.ErrorContains(t, err, "does not fit")
}

func TestStaticFields(t *testing.T) {
	m := newTestMethod(t)

	cls := m.u.Add(tp.NewClass("Counter", 0))
	cls.AddField("a", m.i32, tp.FieldStatic)
	f := cls.AddField("b", m.i32, tp.FieldStatic).(*tp.StaticField)

	require.NoError(t, tp.LayoutType(cls))

	c := NewCore(testLayout())

	k := c.CodeConstant(f)
	c.FlushConstants()

	require.NoError(t, c.AssignAddresses())
	assert.Empty(t, c.ApplyRelocation())

	assert.Equal(t, uint32(0x8004), c.Resolve(f))
	assert.Equal(t, uint32(0x8004), k.Read32(0))

	assert.False(t, k.Annotations()[0].IsScalar())
}

func TestIsScalar(t *testing.T) {
	m := newTestMethod(t)

	c := NewCore(testLayout())
	r := c.NewRegion(Data, "data", nil)

	assert.False(t, r.WritePointerToBasicBlock(m.bb1).IsScalar())
	assert.False(t, r.WritePointer(r).IsScalar())
	assert.True(t, r.WritePointer(m.g.Method).IsScalar())
	assert.True(t, NewGenericAnnotation(r, 0, 42, "").IsScalar())
}

func TestExternalPointer(t *testing.T) {
	m := newTestMethod(t)

	c := NewCore(testLayout())
	c.RegisterGraph(m.g)

	c.BlockRegion(m.g.Entry).Emit32(0)

	r := c.NewRegion(Data, "data", nil)
	p := r.WriteExternalPointer(m.g.Method, 1)

	require.NoError(t, c.AssignAddresses())
	require.Empty(t, c.ApplyRelocation())

	assert.Equal(t, uint32(0x1001), r.Read32(0))
	assert.Equal(t, Resolved, p.State())

	cc := ir.NewCallClosure(m.ts)
	c.ApplyTransformation(cc)

	assert.Contains(t, cc.Methods, m.g.Method)
	assert.Equal(t, m.g.Method, p.Target())

	c.ApplyTransformation(ir.NewRemap(m.ts, func(x any) any { return x }))

	assert.Nil(t, p.Target())
}

func TestEncodingLevels(t *testing.T) {
	m := newTestMethod(t)

	c := NewCore(testLayout())

	br := m.bb1.FlowControl()

	assert.Equal(t, Skip, c.GetEncodingLevelForBranch(br, m.bb2, false))
	assert.Equal(t, ShortBranch, c.GetEncodingLevelForBranch(br, m.bb2, true))
	assert.Equal(t, ShortBranch, c.GetEncodingLevelForBranch(br, m.bb1, false), "self branch is never skipped")

	assert.True(t, c.IncreaseEncodingLevelForBranch(br, m.bb2, true))
	assert.Equal(t, NearRelativeLoad, c.GetEncodingLevelForBranch(br, m.bb2, true))
	assert.Equal(t, Skip, c.GetEncodingLevelForBranch(br, m.bb2, false), "tables are separate")

	assert.True(t, c.IncreaseEncodingLevelForBranch(br, m.bb2, true))
	assert.False(t, c.IncreaseEncodingLevelForBranch(br, m.bb2, true))
	assert.Equal(t, BranchMax, c.GetEncodingLevelForBranch(br, m.bb2, true))

	c.Reset()
	assert.Equal(t, BranchMax, c.GetEncodingLevelForBranch(br, m.bb2, true), "levels survive passes")

	op := ir.NewOperator(ir.OpMove, nil)

	assert.Equal(t, Immediate, c.GetEncodingLevelForConstant(op))
	assert.True(t, c.IncreaseEncodingLevelForConstant(op, NearLoad))
	assert.Equal(t, FarRelativeLoad8Bit, c.GetEncodingLevelForConstant(op))
	assert.Equal(t, 1, c.GetEncodingLevelForConstant(op).MovOpcodes())

	for n := 2; n <= 4; n++ {
		assert.True(t, c.IncreaseEncodingLevelForConstant(op, FarRelativeLoad8Bit))
		assert.Equal(t, n, c.GetEncodingLevelForConstant(op).MovOpcodes())
	}

	assert.False(t, c.IncreaseEncodingLevelForConstant(op, FarRelativeLoad8Bit))
	assert.Equal(t, ConstantMax, c.GetEncodingLevelForConstant(op))

	c.SetEncodingLevelForConstant(op, Immediate)
	assert.Equal(t, ConstantMax, c.GetEncodingLevelForConstant(op), "never goes down")
}

func TestAdjacency(t *testing.T) {
	m := newTestMethod(t)

	c := NewCore(testLayout())
	br := m.bb1.FlowControl()

	b1 := c.BlockRegion(m.bb1)
	b1.Emit32(0)
	adj := b1.AddAnnotation(NewAdjacencyRequirement(b1, br, m.bb2, false))

	c.CodeConstant(uint32(7))
	c.FlushConstants()

	c.BlockRegion(m.bb2).Emit32(0)

	require.NoError(t, c.AssignAddresses())

	failed := c.ApplyRelocation()
	require.Equal(t, []Annotation{adj}, failed)
	assert.Equal(t, Failed, adj.State())

	assert.True(t, adj.NotifyFailedRelocation())
	assert.Equal(t, ShortBranch, c.GetEncodingLevelForBranch(br, m.bb2, false))

	c.Reset()

	b1 = c.BlockRegion(m.bb1)
	b1.Emit32(0)
	adj = b1.AddAnnotation(NewAdjacencyRequirement(b1, br, m.bb2, false))
	c.BlockRegion(m.bb2).Emit32(0)

	require.NoError(t, c.AssignAddresses())
	assert.Empty(t, c.ApplyRelocation())
	assert.Equal(t, Resolved, adj.State())
}

type testCallContext struct {
	calls int
	ok    bool
}

func (x *testCallContext) UpdateRelocation(r *ExternMethodCallRelocation) bool {
	x.calls++

	if x.ok {
		r.Region().Write32(r.Offset(), 0xebfffffe)
	}

	return x.ok
}

func (x *testCallContext) String() string { return "native" }

func TestExternMethodCall(t *testing.T) {
	c := NewCore(testLayout())
	r := c.NewRegion(Code, "code", nil)
	off := r.Emit32(0)

	x := &testCallContext{}
	a := r.AddAnnotation(NewExternMethodCallRelocation(r, off, x, nil))

	require.NoError(t, c.AssignAddresses())

	assert.Equal(t, []Annotation{a}, c.ApplyRelocation())
	assert.Equal(t, Failed, a.State())
	assert.False(t, a.NotifyFailedRelocation())

	x.ok = true

	assert.Empty(t, c.ApplyRelocation())
	assert.Equal(t, uint32(0xebfffffe), r.Read32(off))
	assert.Equal(t, 2, x.calls)
}

func TestResolveUnknown(t *testing.T) {
	m := newTestMethod(t)
	c := NewCore(testLayout())

	assert.Panics(t, func() { c.Resolve(m.bb1) })
	assert.Panics(t, func() { c.Resolve(42) })
}

func TestParseLayout(t *testing.T) {
	l, err := ParseLayout([]byte(`
flash: {base: 0x08000000, size: 0x10000}
ram: {base: 0x20000000}
align: 16
branch_reach: 4096
externals:
  memcpy: 0x1fff0000
`))
	require.NoError(t, err)

	assert.Equal(t, uint32(0x08000000), l.Flash.Base)
	assert.Equal(t, uint32(0x10000), l.Flash.Size)
	assert.Equal(t, uint32(0x20000000), l.RAM.Base)
	assert.Equal(t, 16, l.Align)
	assert.Equal(t, 16, l.MaxPasses)
	assert.Equal(t, 4096, l.BranchReach)
	assert.Equal(t, uint32(0x1fff0000), l.Externals["memcpy"])

	_, err = ParseLayout([]byte(`align: 3`))
	assert.ErrorContains(t, err, "bad alignment")
}
