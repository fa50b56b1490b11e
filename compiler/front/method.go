package front

import (
	"context"
	"strconv"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/NETMF/llilum-sub034/compiler/ir"
	"github.com/NETMF/llilum-sub034/compiler/tp"
)

type (
	// graphBuilder turns a method description into a graph.
	graphBuilder struct {
		u *Unit
		g *ir.ControlFlowGraph

		word *tp.Type

		blocks map[string]*ir.BasicBlock
	}
)

var binaryOps = map[string]ir.Op{
	"add": ir.OpAdd,
	"sub": ir.OpSub,
	"mul": ir.OpMul,
	"and": ir.OpAnd,
	"or":  ir.OpOr,
	"xor": ir.OpXor,
	"shl": ir.OpShl,
	"shr": ir.OpShr,
}

var conds = map[string]ir.Cond{
	"eq": ir.CondEQ,
	"ne": ir.CondNE,
	"lt": ir.CondLT,
	"le": ir.CondLE,
	"gt": ir.CondGT,
	"ge": ir.CondGE,
}

// ExitBlock is the name the method exit block is referenced by.
const ExitBlock = "exit"

// buildGraph creates the method graph. The first block is the entry block.
// A block not ending with a control operator continues with the next one,
// the last one with the exit block which returns.
func (u *Unit) buildGraph(ctx context.Context, m *tp.Method, d MethodDesc) (err error) {
	g := ir.NewMethodGraph(u.TypeSystem, m)
	g.Exit.AddOperator(ir.NewReturn())

	b := &graphBuilder{
		u:      u,
		g:      g,
		word:   u.Universe.Lookup("int32"),
		blocks: map[string]*ir.BasicBlock{ExitBlock: g.Exit},
	}

	bbs := make([]*ir.BasicBlock, len(d.Blocks))

	for i, bd := range d.Blocks {
		if _, ok := b.blocks[bd.Name]; ok {
			return errors.New("block %q: duplicate", bd.Name)
		}

		bb := g.Entry
		if i != 0 {
			bb = g.NewBlock(ir.Normal)
		}

		if bd.Name != "" {
			b.blocks[bd.Name] = bb
		}

		bbs[i] = bb
	}

	for i, bd := range d.Blocks {
		bb := bbs[i]

		for j, od := range bd.Ops {
			op, err := b.operator(od)
			if err != nil {
				return errors.Wrap(err, "block %v op #%d (%v)", nameOr(bd.Name, i), j, od.Op)
			}

			bb.AddOperator(op)
		}

		if fc := bb.FlowControl(); fc == nil || !fc.Op.IsControl() {
			next := g.Exit
			if i+1 < len(bbs) {
				next = bbs[i+1]
			}

			bb.AddOperator(ir.NewBranch(next))
		}
	}

	g.UpdateFlowInformation()

	u.graphs[m] = g
	u.blocks[m] = b.blocks
	u.Graphs = append(u.Graphs, g)

	tlog.V("graph").Printw("method graph built", "method", m, "blocks", len(g.Blocks))

	return nil
}

func (b *graphBuilder) operator(d OpDesc) (op *ir.Operator, err error) {
	var dst []ir.Expression

	if d.Dst != "" {
		x, err := b.operand(d.Dst)
		if err != nil {
			return nil, errors.Wrap(err, "dst")
		}

		dst = []ir.Expression{x}
	}

	args := make([]ir.Expression, len(d.Args))

	for i, a := range d.Args {
		args[i], err = b.operand(a)
		if err != nil {
			return nil, errors.Wrap(err, "arg %d", i)
		}
	}

	if o, ok := binaryOps[d.Op]; ok {
		return b.check(ir.NewOperator(o, dst, args...), 1, 2)
	}

	switch d.Op {
	case "nop":
		return b.check(ir.NewOperator(ir.OpNop, nil), 0, 0)
	case "move", "const":
		return b.check(ir.NewOperator(ir.OpMove, dst, args...), 1, 1)
	case "load_field", "store_field", "load_static", "store_static":
		return b.fieldOperator(d, dst, args)
	case "call":
		m, err := b.u.Method(d.Method)
		if err != nil {
			return nil, err
		}

		return ir.NewCall(m, dst, args...), nil
	case "branch":
		t, err := b.block(d.Target)
		if err != nil {
			return nil, err
		}

		return ir.NewBranch(t), nil
	case "branch_if":
		c, ok := conds[d.Cond]
		if !ok {
			return nil, errors.New("unknown condition %q", d.Cond)
		}

		then, err := b.block(d.Target)
		if err != nil {
			return nil, err
		}

		els, err := b.block(d.Else)
		if err != nil {
			return nil, err
		}

		if len(args) != 2 {
			return nil, errors.New("want 2 arguments, got %d", len(args))
		}

		return ir.NewBranchIf(c, args[0], args[1], then, els), nil
	case "return":
		return ir.NewReturn(args...), nil
	case "throw":
		return ir.NewOperator(ir.OpThrow, nil, args...), nil
	default:
		return nil, errors.New("unknown operator %q", d.Op)
	}
}

func (b *graphBuilder) fieldOperator(d OpDesc, dst, args []ir.Expression) (*ir.Operator, error) {
	static := strings.HasSuffix(d.Op, "_static")

	f, err := b.u.Field(d.Field, static)
	if err != nil {
		return nil, err
	}

	var op *ir.Operator

	switch d.Op {
	case "load_field":
		op, err = b.check(ir.NewOperator(ir.OpLoadField, dst, args...), 1, 1)
	case "store_field":
		op, err = b.check(ir.NewOperator(ir.OpStoreField, dst, args...), 0, 2)
	case "load_static":
		op, err = b.check(ir.NewOperator(ir.OpLoadStatic, dst, args...), 1, 0)
	case "store_static":
		op, err = b.check(ir.NewOperator(ir.OpStoreStatic, dst, args...), 0, 1)
	}

	if err != nil {
		return nil, err
	}

	op.Field = f

	return op, nil
}

func (b *graphBuilder) check(op *ir.Operator, results, args int) (*ir.Operator, error) {
	if len(op.Results) != results {
		return nil, errors.New("want %d results, got %d", results, len(op.Results))
	}

	if len(op.Args) != args {
		return nil, errors.New("want %d arguments, got %d", args, len(op.Args))
	}

	return op, nil
}

func (b *graphBuilder) block(name string) (*ir.BasicBlock, error) {
	bb, ok := b.blocks[name]
	if !ok {
		return nil, errors.New("unknown block %q", name)
	}

	return bb, nil
}

// operand parses a register (r0-r12, sp, lr, pc, s0-s31, d0-d15),
// a constant (#42, 0x10) or an address (&Type::Method, &Type.field).
func (b *graphBuilder) operand(s string) (ir.Expression, error) {
	switch {
	case s == "":
		return nil, errors.New("empty operand")
	case s[0] == '&':
		return b.address(s[1:])
	case s[0] == '#':
		s = s[1:]
	}

	if r, ok := parseRegister(s); ok {
		t := b.word
		if r.Class&ir.RegClassDoublePrecision != 0 {
			t = b.u.Universe.Lookup("float64")
		} else if r.Class&ir.RegClassSinglePrecision != 0 {
			t = b.u.Universe.Lookup("float32")
		}

		return b.g.Register(r, t), nil
	}

	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		u, uerr := strconv.ParseUint(s, 0, 64)
		if uerr != nil {
			return nil, errors.New("bad operand %q", s)
		}

		v = int64(u)
	}

	return ir.NewConstant(b.word, v), nil
}

func (b *graphBuilder) address(ref string) (ir.Expression, error) {
	if strings.Contains(ref, "::") {
		m, err := b.u.Method(ref)
		if err != nil {
			return nil, err
		}

		return ir.NewAddressOf(b.word, m), nil
	}

	f, err := b.u.Field(ref, true)
	if err != nil {
		return nil, err
	}

	return ir.NewAddressOf(b.word, f), nil
}

func parseRegister(s string) (ir.Register, bool) {
	switch s {
	case "sp":
		return ir.Register{Name: s, Num: 13, Class: ir.RegClassStackPointer}, true
	case "lr":
		return ir.Register{Name: s, Num: 14, Class: ir.RegClassLinkRegister}, true
	case "pc":
		return ir.Register{Name: s, Num: 15, Class: ir.RegClassProgramCounter}, true
	}

	if len(s) < 2 {
		return ir.Register{}, false
	}

	n, err := strconv.Atoi(s[1:])
	if err != nil || n < 0 {
		return ir.Register{}, false
	}

	switch {
	case s[0] == 'r' && n <= 12:
		return ir.Register{Name: s, Num: n, Class: ir.RegClassInteger | ir.RegClassAddress}, true
	case s[0] == 's' && n <= 31:
		return ir.Register{Name: s, Num: n, Class: ir.RegClassSinglePrecision}, true
	case s[0] == 'd' && n <= 15:
		return ir.Register{Name: s, Num: n, Class: ir.RegClassDoublePrecision}, true
	}

	return ir.Register{}, false
}

func nameOr(name string, i int) string {
	if name != "" {
		return name
	}

	return "#" + strconv.Itoa(i)
}
