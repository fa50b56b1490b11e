package front

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NETMF/llilum-sub034/compiler/asm/arm"
	"github.com/NETMF/llilum-sub034/compiler/back"
	"github.com/NETMF/llilum-sub034/compiler/image"
	"github.com/NETMF/llilum-sub034/compiler/ir"
	"github.com/NETMF/llilum-sub034/compiler/tp"
)

const testProgram = `
types:
  - name: Point
    kind: value
    fields:
      - {name: x, type: int32}
      - {name: y, type: int32}
  - name: Program
    fields:
      - {name: counter, type: int32, static: true}
      - {name: origin, type: Point, static: true}
      - {name: pos, type: Point}
methods:
  - owner: Program
    name: Native
    external: true
  - owner: Program
    name: Main
    blocks:
      - name: loop
        ops:
          - {op: const, dst: r0, args: ["#1"]}
          - {op: load_static, dst: r1, field: Program.counter}
          - {op: add, dst: r1, args: [r1, r0]}
          - {op: store_static, args: [r1], field: Program.counter}
          - {op: call, method: "Program::Helper"}
          - {op: branch_if, cond: ne, args: [r1, "#10"], target: loop, else: done}
      - name: done
        ops:
          - {op: call, method: "Program::Native"}
  - owner: Program
    name: Helper
    blocks:
      - ops:
          - {op: move, dst: r2, args: ["&Program::Main"]}
          - {op: load_field, dst: r3, args: [r2], field: Point.y}
  - owner: Program
    name: Fail
    blocks:
      - ops:
          - {op: throw}
data:
  - name: vectors
    entries:
      - {word: 0x20001000}
      - {method: "Program::Main", delta: 1}
      - {method: "Program::Main", block: done}
      - {field: Program.counter}
      - {table: vectors}
`

func testLayout() image.Layout {
	l := image.DefaultLayout()
	l.Flash.Base = 0x1000
	l.Externals = map[string]uint32{
		"Native":         0x1fff_0000,
		arm.ThrowRoutine: 0x1fff_0100,
	}

	return l
}

func load(t *testing.T, src string) *Unit {
	t.Helper()

	p, err := Parse([]byte(src))
	require.NoError(t, err)

	u, err := Load(context.Background(), p)
	require.NoError(t, err)

	return u
}

func TestLoad(t *testing.T) {
	u := load(t, testProgram)

	pt := u.Universe.Lookup("Point")
	require.NotNil(t, pt)
	assert.Equal(t, 8, pt.Size)

	f, err := u.Field("Program.counter", true)
	require.NoError(t, err)
	assert.Equal(t, 0, f.Offset())

	_, err = u.Field("Program.counter", false)
	assert.Error(t, err)

	require.Len(t, u.Graphs, 3)

	main, err := u.Method("Program::Main")
	require.NoError(t, err)

	g := u.Graph(main)
	require.NotNil(t, g)

	assert.Same(t, g.Entry, u.Block(main, "loop"))
	assert.Same(t, g.Exit, u.Block(main, ExitBlock))

	done := u.Block(main, "done")
	require.NotNil(t, done)

	fc := done.FlowControl()
	require.NotNil(t, fc)
	assert.Equal(t, ir.OpBranch, fc.Op)
	assert.Equal(t, []*ir.BasicBlock{g.Exit}, fc.Targets)

	br := g.Entry.FlowControl()
	require.NotNil(t, br)
	assert.Equal(t, ir.OpBranchIf, br.Op)
	assert.Equal(t, ir.CondNE, br.Cond)
	assert.Equal(t, []*ir.BasicBlock{g.Entry, done}, br.Targets)

	native, err := u.Method("Program::Native")
	require.NoError(t, err)
	assert.True(t, native.External)
	assert.Nil(t, u.Graph(native))

	assert.Equal(t, ir.OpCallExternal, done.Operators[0].Op)

	helper, err := u.Method("Program::Helper")
	require.NoError(t, err)

	hg := u.Graph(helper)
	mv := hg.Entry.Operators[0]

	c, ok := mv.Args[0].(*ir.Constant)
	require.True(t, ok)
	assert.Same(t, main, c.Target)

	ld := hg.Entry.Operators[1]
	assert.Equal(t, ir.OpLoadField, ld.Op)
	assert.Equal(t, "y", ld.Field.Name())
	assert.Equal(t, 4, ld.Field.Offset())

	require.NotNil(t, u.Table("vectors"))
	assert.Equal(t, 5, u.Table("vectors").Len())
}

func TestOperands(t *testing.T) {
	u := load(t, testProgram)
	main, _ := u.Method("Program::Main")

	b := &graphBuilder{u: u, g: u.Graph(main), word: u.Universe.Lookup("int32")}

	for _, tc := range []struct {
		src   string
		class ir.RegisterClass
		num   int
		typ   string
	}{
		{"r0", ir.RegClassInteger | ir.RegClassAddress, 0, "int32"},
		{"r12", ir.RegClassInteger | ir.RegClassAddress, 12, "int32"},
		{"sp", ir.RegClassStackPointer, 13, "int32"},
		{"lr", ir.RegClassLinkRegister, 14, "int32"},
		{"s31", ir.RegClassSinglePrecision, 31, "float32"},
		{"d3", ir.RegClassDoublePrecision, 3, "float64"},
	} {
		x, err := b.operand(tc.src)
		require.NoError(t, err, tc.src)

		r, ok := x.(*ir.PhysicalRegister)
		require.True(t, ok, tc.src)

		assert.Equal(t, tc.class, r.Reg.Class, tc.src)
		assert.Equal(t, tc.num, r.Reg.Num, tc.src)
		assert.Equal(t, tc.typ, r.Type().Name, tc.src)
	}

	for _, tc := range []struct {
		src string
		v   int64
	}{
		{"#42", 42},
		{"0x10", 16},
		{"#-1", -1},
		{"0xffffffff", 0xffffffff},
	} {
		x, err := b.operand(tc.src)
		require.NoError(t, err, tc.src)

		c, ok := x.(*ir.Constant)
		require.True(t, ok, tc.src)
		assert.Equal(t, tc.v, c.Value, tc.src)
	}

	x, err := b.operand("&Program.counter")
	require.NoError(t, err)

	c, ok := x.(*ir.Constant)
	require.True(t, ok)
	assert.IsType(t, &tp.StaticField{}, c.Target)

	for _, src := range []string{"", "r13", "s32", "d16", "q0", "&Program::Nope", "&Program.nope", "#x"} {
		_, err := b.operand(src)
		assert.Error(t, err, src)
	}
}

func TestLoadErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  string
		err  string
	}{
		{"unknown_key", "typez: []", "decode program"},
		{"unknown_type", `
types:
  - name: A
    fields: [{name: x, type: B}]`, `unknown type "B"`},
		{"duplicate_type", `
types:
  - {name: int32, kind: scalar, size: 4}`, "duplicate"},
		{"bad_kind", `
types:
  - {name: A, kind: struct}`, "unknown kind"},
		{"no_blocks", `
types: [{name: A}]
methods: [{owner: A, name: M}]`, "no blocks"},
		{"external_body", `
types: [{name: A}]
methods: [{owner: A, name: M, external: true, blocks: [{ops: []}]}]`, "external method with a body"},
		{"unknown_op", `
types: [{name: A}]
methods: [{owner: A, name: M, blocks: [{ops: [{op: jump}]}]}]`, `unknown operator "jump"`},
		{"unknown_block", `
types: [{name: A}]
methods: [{owner: A, name: M, blocks: [{ops: [{op: branch, target: nowhere}]}]}]`, `unknown block "nowhere"`},
		{"unknown_cond", `
types: [{name: A}]
methods: [{owner: A, name: M, blocks: [{ops: [{op: branch_if, cond: always, args: [r0, r1], target: exit, else: exit}]}]}]`, "unknown condition"},
		{"arity", `
types: [{name: A}]
methods: [{owner: A, name: M, blocks: [{ops: [{op: add, dst: r0, args: [r1]}]}]}]`, "want 2 arguments"},
		{"duplicate_block", `
types: [{name: A}]
methods: [{owner: A, name: M, blocks: [{name: b, ops: []}, {name: b, ops: []}]}]`, "duplicate"},
		{"unknown_method", `
types: [{name: A}]
methods: [{owner: A, name: M, blocks: [{ops: [{op: call, method: "A::N"}]}]}]`, `unknown method "A::N"`},
		{"entry_kinds", `
types: [{name: A}]
methods: [{owner: A, name: M, blocks: [{ops: []}]}]
data: [{name: t, entries: [{word: 1, method: "A::M"}]}]`, "exactly one"},
		{"external_pointer", `
types: [{name: A}]
methods: [{owner: A, name: M, external: true}]
data: [{name: t, entries: [{method: "A::M"}]}]`, "pointer to external method"},
		{"recursive_value_type", `
types: [{name: S, kind: value, fields: [{name: x, type: S}]}]`, "recursive value type S"},
		{"unknown_table", `
data: [{name: t, entries: [{table: u}]}]`, `unknown table "u"`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, err := Parse([]byte(tc.src))
			if err == nil {
				_, err = Load(context.Background(), p)
			}

			assert.ErrorContains(t, err, tc.err)
		})
	}
}

func TestLink(t *testing.T) {
	u := load(t, testProgram)

	c := back.New()
	for _, tb := range u.Tables {
		c.Data = append(c.Data, tb)
	}

	core, err := c.CompileCore(context.Background(), arm.New(), u.Graphs, testLayout())
	require.NoError(t, err)

	img := core.Image()

	vectors := u.Table("vectors").ImageRegion()
	require.NotNil(t, vectors)

	word := func(addr uint32) uint32 {
		return binary.LittleEndian.Uint32(img.Flash[addr-img.Base:])
	}

	main, _ := u.Method("Program::Main")
	entry, ok := core.LookupBlock(u.Graph(main).Entry)
	require.True(t, ok)

	done, ok := core.LookupBlock(u.Block(main, "done"))
	require.True(t, ok)

	counter, err := u.Field("Program.counter", true)
	require.NoError(t, err)

	statics := core.StaticRegion(counter.Owner())

	base := vectors.Base()

	assert.Equal(t, uint32(0x2000_1000), word(base))
	assert.Equal(t, entry.Base()+1, word(base+4))
	assert.Equal(t, done.Base(), word(base+8))
	assert.Equal(t, statics.Address(counter.Offset()), word(base+12))
	assert.Equal(t, base, word(base+16))

	assert.Equal(t, uint32(0x1000), entry.Base())
	assert.Equal(t, testLayout().RAM.Base, statics.Base())

	sym, ok := img.Lookup(base)
	require.True(t, ok)
	assert.Equal(t, "vectors", sym.Name)
	assert.Equal(t, image.Data, sym.Kind)

	var natives int

	for _, s := range img.Symbols {
		if s.Kind == image.External {
			natives++
		}
	}

	assert.Equal(t, 2, natives)
}
