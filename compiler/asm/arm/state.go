package arm

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/NETMF/llilum-sub034/compiler/df"
	"github.com/NETMF/llilum-sub034/compiler/image"
	"github.com/NETMF/llilum-sub034/compiler/ir"
	"github.com/NETMF/llilum-sub034/compiler/set"
	"github.com/NETMF/llilum-sub034/compiler/tp"
)

type (
	// CompilationState emits one method into code regions, one region per block.
	CompilationState struct {
		core *image.Core
		g    *ir.ControlFlowGraph

		order []*ir.BasicBlock

		live *df.Liveness

		// current block
		bb   *ir.BasicBlock
		next *ir.BasicBlock
		reg  *image.Region

		// terminated is set once the block emitted an unconditional transfer.
		terminated bool
	}
)

// ThrowRoutine is the native routine OpThrow calls.
const ThrowRoutine = "__llilum_throw"

func NewCompilationState(c *image.Core, g *ir.ControlFlowGraph) *CompilationState {
	return &CompilationState{
		core: c,
		g:    g,
	}
}

func (s *CompilationState) GetOpcode(r *image.Region, off int) uint32 { return r.Read32(off) }

func (s *CompilationState) SetOpcode(r *image.Region, off int, w uint32) { r.Write32(off, w) }

// Order is the block emission order: entry first, exit last.
func (s *CompilationState) Order() []*ir.BasicBlock {
	if s.order != nil {
		return s.order
	}

	s.order = append(s.order, s.g.Entry)

	for _, bb := range s.g.Blocks {
		if bb != s.g.Entry && bb != s.g.Exit {
			s.order = append(s.order, bb)
		}
	}

	if s.g.Exit != nil && s.g.Exit != s.g.Entry {
		s.order = append(s.order, s.g.Exit)
	}

	return s.order
}

// Emit emits all blocks of the graph with the current encoding levels.
func (s *CompilationState) Emit(ctx context.Context) (err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "arm: emit", "method", s.g.Method, "pass", s.core.Pass())
	defer tr.Finish("err", &err)

	s.core.RegisterGraph(s.g)
	s.live = df.ComputeLiveness(s.g)

	order := s.Order()

	for i, bb := range order {
		s.next = nil
		if i+1 < len(order) {
			s.next = order[i+1]
		}

		err = s.emitBlock(ctx, bb)
		if err != nil {
			return errors.Wrap(err, "%v", bb)
		}
	}

	s.core.FlushConstants()

	if tr.If("dump_method") {
		var b []byte

		for _, bb := range order {
			r, _ := s.core.LookupBlock(bb)
			b = r.Dump(b)
		}

		tr.Printw("method code", "method", s.g.Method, "dump", b)
	}

	return nil
}

func (s *CompilationState) emitBlock(ctx context.Context, bb *ir.BasicBlock) (err error) {
	s.bb = bb
	s.reg = s.core.BlockRegion(bb)
	s.terminated = false

	prev := s.live.In[bb.Index].Copy()
	prev.Range(func(i int) bool {
		s.reg.AddAnnotation(image.NewTrackVariableLifetime(s.reg, 0, s.live.Vars[i], true))
		return true
	})

	after := s.live.LiveAfter(bb)

	for i, op := range bb.Operators {
		if s.terminated {
			return errors.New("%v: operator after block terminator", op)
		}

		err = s.emitOperator(op)
		if err != nil {
			return errors.Wrap(err, "%v", op)
		}

		s.trackLifetimes(prev, after[i])
		prev = after[i]
	}

	if s.terminated {
		s.core.FlushConstants()
	}

	tlog.V("emit").Printw("block emitted", "block", bb, "region", s.reg, "size", s.reg.Size(), "terminated", s.terminated)

	return nil
}

func (s *CompilationState) trackLifetimes(prev, cur set.Bitmap) {
	off := s.reg.Size()

	prev.Range(func(i int) bool {
		if !cur.IsSet(i) {
			s.reg.AddAnnotation(image.NewTrackVariableLifetime(s.reg, off, s.live.Vars[i], false))
		}

		return true
	})

	cur.Range(func(i int) bool {
		if !prev.IsSet(i) {
			s.reg.AddAnnotation(image.NewTrackVariableLifetime(s.reg, off, s.live.Vars[i], true))
		}

		return true
	})
}

func (s *CompilationState) emit(w uint32) int {
	return s.reg.Emit32(w)
}

func (s *CompilationState) emitOperator(op *ir.Operator) error {
	switch op.Op {
	case ir.OpNop:
		s.emit(NOP)
	case ir.OpMove:
		return s.emitMove(op)
	case ir.OpAdd, ir.OpSub, ir.OpAnd, ir.OpOr, ir.OpXor:
		return s.emitALU(op)
	case ir.OpMul:
		return s.emitMul(op)
	case ir.OpShl, ir.OpShr:
		return s.emitShift(op)
	case ir.OpLoadField, ir.OpStoreField:
		return s.emitField(op)
	case ir.OpLoadStatic, ir.OpStoreStatic:
		return s.emitStatic(op)
	case ir.OpCall:
		return s.emitCall(op)
	case ir.OpCallExternal:
		return s.emitExternalCall(op, op.Method.Name)
	case ir.OpBranch:
		s.emitJump(op, op.Targets[0], AL)
	case ir.OpBranchIf:
		return s.emitBranchIf(op)
	case ir.OpReturn:
		s.emit(BXLR)
		s.terminated = true
	case ir.OpThrow:
		err := s.emitExternalCall(op, ThrowRoutine)
		s.terminated = true

		return err
	default:
		return errors.New("unsupported operator %v", op.Op)
	}

	return nil
}

func (s *CompilationState) result(op *ir.Operator) (ir.Expression, error) {
	if len(op.Results) != 1 {
		return nil, errors.New("want 1 result, got %d", len(op.Results))
	}

	return op.Results[0], nil
}

func (s *CompilationState) args(op *ir.Operator, n int) error {
	if len(op.Args) != n {
		return errors.New("want %d arguments, got %d", n, len(op.Args))
	}

	return nil
}

// register returns the ARM integer register of x.
func register(x ir.Expression) (Reg, error) {
	r, ok := x.(*ir.PhysicalRegister)
	if !ok {
		return 0, errors.New("operand %v is not in a register", x)
	}

	if r.Reg.Class&(ir.RegClassSinglePrecision|ir.RegClassDoublePrecision) != 0 {
		return 0, errors.New("operand %v is not an integer register", x)
	}

	if r.Reg.Num < 0 || r.Reg.Num > int(PC) {
		return 0, errors.New("operand %v: bad register number %d", x, r.Reg.Num)
	}

	return Reg(r.Reg.Num), nil
}

func floatRegister(x ir.Expression) (Reg, bool, bool) {
	r, ok := x.(*ir.PhysicalRegister)
	if !ok {
		return 0, false, false
	}

	switch {
	case r.Reg.Class&ir.RegClassDoublePrecision != 0:
		return Reg(r.Reg.Num), true, true
	case r.Reg.Class&ir.RegClassSinglePrecision != 0:
		return Reg(r.Reg.Num), false, true
	}

	return 0, false, false
}

func (s *CompilationState) emitMove(op *ir.Operator) error {
	if err := s.args(op, 1); err != nil {
		return err
	}

	dst, err := s.result(op)
	if err != nil {
		return err
	}

	src := op.Args[0]

	if c, ok := src.(*ir.Constant); ok {
		if fr, double, ok := floatRegister(dst); ok {
			return s.loadFloatConstant(op, fr, double, c)
		}

		rd, err := register(dst)
		if err != nil {
			return err
		}

		return s.loadConstant(op, rd, c)
	}

	if sl, ok := dst.(*ir.StackLocation); ok {
		rs, err := register(src)
		if err != nil {
			return err
		}

		return s.stackTransfer(false, rs, sl)
	}

	rd, err := register(dst)
	if err != nil {
		return err
	}

	if sl, ok := src.(*ir.StackLocation); ok {
		return s.stackTransfer(true, rd, sl)
	}

	rm, err := register(src)
	if err != nil {
		return err
	}

	s.emit(MovReg(rd, rm))

	return nil
}

func (s *CompilationState) stackTransfer(load bool, rd Reg, sl *ir.StackLocation) error {
	off := sl.Slot * 4
	if off < 0 || off >= ldrLimit {
		return errors.New("stack slot %d out of range", sl.Slot)
	}

	s.emit(SingleDataTransfer{Cond: AL, Load: load, Up: true, Rn: SP, Rd: rd, Offset: uint32(off)}.Encode())

	return nil
}

var aluOps = map[ir.Op]uint32{
	ir.OpAdd: OpADD,
	ir.OpSub: OpSUB,
	ir.OpAnd: OpAND,
	ir.OpOr:  OpORR,
	ir.OpXor: OpEOR,
}

func (s *CompilationState) emitALU(op *ir.Operator) error {
	if err := s.args(op, 2); err != nil {
		return err
	}

	dst, err := s.result(op)
	if err != nil {
		return err
	}

	rd, err := register(dst)
	if err != nil {
		return err
	}

	rn, err := register(op.Args[0])
	if err != nil {
		return err
	}

	o := DataProcessing{Cond: AL, Op: aluOps[op.Op], Rn: rn, Rd: rd}

	err = s.operand2(op, &o, op.Args[1])
	if err != nil {
		return err
	}

	s.emit(o.Encode())

	return nil
}

// operand2 sets the second operand: an encodable immediate or a register.
// Other constants are loaded into the scratch register first.
func (s *CompilationState) operand2(op *ir.Operator, o *DataProcessing, x ir.Expression) error {
	c, ok := x.(*ir.Constant)
	if !ok {
		rm, err := register(x)
		if err != nil {
			return err
		}

		o.Rm = rm

		return nil
	}

	if v := uint32(c.Value); c.Target == nil && IsEncodableImmediate(v) {
		o.Immediate = true
		o.Imm = v

		return nil
	}

	o.Rm = Scratch

	return s.loadConstant(op, Scratch, c)
}

func (s *CompilationState) emitMul(op *ir.Operator) error {
	if err := s.args(op, 2); err != nil {
		return err
	}

	dst, err := s.result(op)
	if err != nil {
		return err
	}

	rd, err := register(dst)
	if err != nil {
		return err
	}

	rm, err := register(op.Args[0])
	if err != nil {
		return err
	}

	rs := Scratch

	if c, ok := op.Args[1].(*ir.Constant); ok {
		err = s.loadConstant(op, Scratch, c)
	} else {
		rs, err = register(op.Args[1])
	}

	if err != nil {
		return err
	}

	s.emit(Mul(AL, rd, rm, rs))

	return nil
}

func (s *CompilationState) emitShift(op *ir.Operator) error {
	if err := s.args(op, 2); err != nil {
		return err
	}

	dst, err := s.result(op)
	if err != nil {
		return err
	}

	rd, err := register(dst)
	if err != nil {
		return err
	}

	rm, err := register(op.Args[0])
	if err != nil {
		return err
	}

	o := DataProcessing{Cond: AL, Op: OpMOV, Rd: rd, Rm: rm, Shift: LSL}
	if op.Op == ir.OpShr {
		o.Shift = LSR
	}

	if c, ok := op.Args[1].(*ir.Constant); ok {
		if c.Value < 0 || c.Value > 31 {
			return errors.New("shift amount %d out of range", c.Value)
		}

		o.ShiftImm = uint32(c.Value)
	} else {
		o.ShiftReg = true

		o.Rs, err = register(op.Args[1])
		if err != nil {
			return err
		}
	}

	s.emit(o.Encode())

	return nil
}

func (s *CompilationState) emitField(op *ir.Operator) error {
	if op.Field == nil {
		return errors.New("no field")
	}

	off := op.Field.Offset()
	if off < 0 || off >= ldrLimit {
		return errors.New("field %v offset %d out of range", op.Field, off)
	}

	load := op.Op == ir.OpLoadField

	var rd Reg
	var err error

	if load {
		if err = s.args(op, 1); err != nil {
			return err
		}

		var dst ir.Expression

		dst, err = s.result(op)
		if err != nil {
			return err
		}

		rd, err = register(dst)
	} else {
		if err = s.args(op, 2); err != nil {
			return err
		}

		rd, err = register(op.Args[1])
	}

	if err != nil {
		return err
	}

	rn, err := register(op.Args[0])
	if err != nil {
		return err
	}

	s.emit(SingleDataTransfer{Cond: AL, Load: load, Up: true, Rn: rn, Rd: rd, Offset: uint32(off)}.Encode())

	return nil
}

func (s *CompilationState) emitStatic(op *ir.Operator) error {
	f, ok := op.Field.(*tp.StaticField)
	if !ok {
		return errors.New("field %v is not static", op.Field)
	}

	load := op.Op == ir.OpLoadStatic

	var rd Reg
	var err error

	if load {
		var dst ir.Expression

		dst, err = s.result(op)
		if err != nil {
			return err
		}

		rd, err = register(dst)
	} else {
		if err = s.args(op, 1); err != nil {
			return err
		}

		rd, err = register(op.Args[0])
	}

	if err != nil {
		return err
	}

	if rd == Scratch {
		return errors.New("static field access through the scratch register")
	}

	s.loadLiteral(op, Scratch, f)

	s.emit(SingleDataTransfer{Cond: AL, Load: load, Up: true, Rn: Scratch, Rd: rd}.Encode())

	return nil
}
