package arm

import (
	"tlog.app/go/errors"

	"github.com/NETMF/llilum-sub034/compiler/image"
	"github.com/NETMF/llilum-sub034/compiler/ir"
	"github.com/NETMF/llilum-sub034/compiler/tp"
)

// loadConstant puts c into rd. Values encodable as MOV or MVN immediates
// are emitted inline, others are loaded from the literal pool.
func (s *CompilationState) loadConstant(op *ir.Operator, rd Reg, c *ir.Constant) error {
	switch t := c.Target.(type) {
	case nil:
	case *tp.StaticField, *tp.Method:
		s.loadLiteral(op, rd, t)
		return nil
	default:
		return errors.New("cannot take address of %v", c.Target)
	}

	v := uint32(c.Value)

	switch {
	case IsEncodableImmediate(v):
		s.emit(MovImm(rd, v))
	case IsEncodableImmediate(^v):
		s.emit(DataProcessing{Cond: AL, Op: OpMVN, Rd: rd, Immediate: true, Imm: ^v}.Encode())
	default:
		s.loadLiteral(op, rd, v)
	}

	return nil
}

// loadLiteral loads a literal pool entry into rd with the encoding
// the constant level of op asks for.
func (s *CompilationState) loadLiteral(op *ir.Operator, rd Reg, v any) {
	lit := s.core.CodeConstant(v)

	n := s.core.GetEncodingLevelForConstant(op).MovOpcodes()

	if n == 0 {
		off := s.emit(SingleDataTransfer{Cond: AL, Load: true, Up: true, Rn: PC, Rd: rd}.Encode())
		s.reg.AddAnnotation(NewLDRRelocation(s, s.reg, off, lit, op))

		return
	}

	off := s.emitMovSequence(n, Scratch)
	s.reg.AddAnnotation(NewMOVRelocation(s, s.reg, off, lit, op, Scratch, n, PCOffset+4*n))

	s.emit(SingleDataTransfer{Cond: AL, Load: true, Up: true, Rn: PC, Rd: rd, Register: true, Rm: Scratch}.Encode())
}

func (s *CompilationState) loadFloatConstant(op *ir.Operator, fr Reg, double bool, c *ir.Constant) error {
	if c.Target != nil {
		return errors.New("address constant in a floating point register")
	}

	var v any = uint32(c.Value)
	if double {
		v = uint64(c.Value)
	}

	lit := s.core.CodeConstant(v)

	n := s.core.GetEncodingLevelForConstant(op).MovOpcodes()

	if n == 0 {
		off := s.emit(CoprocDataTransfer{Cond: AL, Load: true, Double: double, Up: true, Rn: PC, Vd: fr}.Encode())
		s.reg.AddAnnotation(NewFLDRelocation(s, s.reg, off, lit, op))

		return nil
	}

	off := s.emitMovSequence(n, Scratch)
	s.reg.AddAnnotation(NewMOVRelocation(s, s.reg, off, lit, op, Scratch, n, PCOffset+4*n))

	s.emit(DataProcessing{Cond: AL, Op: OpADD, Rn: Scratch, Rd: Scratch, Rm: PC}.Encode())
	s.emit(CoprocDataTransfer{Cond: AL, Load: true, Double: double, Up: true, Rn: Scratch, Vd: fr}.Encode())

	return nil
}

// emitMovSequence reserves n opcodes for a MOVRelocation.
func (s *CompilationState) emitMovSequence(n int, rd Reg) int {
	off := s.emit(MovImm(rd, 0))

	for i := 1; i < n; i++ {
		s.emit(DataProcessing{Cond: AL, Op: OpORR, Rn: rd, Rd: rd, Immediate: true}.Encode())
	}

	return off
}

// emitJump emits a branch to bb with the encoding the branch level of op asks for.
// An unconditional branch to the block emitted next is left out.
func (s *CompilationState) emitJump(op *ir.Operator, bb *ir.BasicBlock, cond Cond) {
	isCond := cond != AL

	l := s.core.GetEncodingLevelForBranch(op, bb, isCond)

	if l == image.Skip {
		if bb == s.next {
			s.reg.AddAnnotation(image.NewAdjacencyRequirement(s.reg, op, bb, isCond))
			return
		}

		l = image.ShortBranch
	}

	switch l {
	case image.ShortBranch:
		off := s.emit(Branch{Cond: cond}.Encode())
		s.reg.AddAnnotation(NewBranchRelocation(s, s.reg, off, bb, op, bb, isCond, l))
	case image.NearRelativeLoad:
		lit := s.core.CodeConstant(bb)

		off := s.emit(SingleDataTransfer{Cond: cond, Load: true, Up: true, Rn: PC, Rd: PC}.Encode())

		x := NewLDRRelocation(s, s.reg, off, lit, op)
		x.Branch, x.Block, x.Conditional = true, bb, isCond

		s.reg.AddAnnotation(x)
	default:
		lit := s.core.CodeConstant(bb)
		n := max(s.core.GetEncodingLevelForConstant(op).MovOpcodes(), 1)

		off := s.emitMovSequence(n, Scratch)
		s.reg.AddAnnotation(NewMOVRelocation(s, s.reg, off, lit, op, Scratch, n, PCOffset+4*n))

		s.emit(SingleDataTransfer{Cond: cond, Load: true, Up: true, Rn: PC, Rd: PC, Register: true, Rm: Scratch}.Encode())
	}

	if !isCond {
		s.terminated = true
	}
}

func (s *CompilationState) emitBranchIf(op *ir.Operator) error {
	if err := s.args(op, 2); err != nil {
		return err
	}

	if len(op.Targets) != 2 {
		return errors.New("want 2 targets, got %d", len(op.Targets))
	}

	rn, err := register(op.Args[0])
	if err != nil {
		return err
	}

	o := DataProcessing{Cond: AL, Op: OpCMP, Rn: rn}

	err = s.operand2(op, &o, op.Args[1])
	if err != nil {
		return err
	}

	s.emit(o.Encode())

	s.emitJump(op, op.Targets[0], CondFor(op.Cond))
	s.emitJump(op, op.Targets[1], AL)

	return nil
}

// emitCall calls a method compiled into the image.
func (s *CompilationState) emitCall(op *ir.Operator) error {
	if op.Method == nil {
		return errors.New("no method")
	}

	l := s.core.GetEncodingLevelForBranch(op, nil, false)
	if l == image.Skip {
		l = image.ShortBranch
	}

	switch l {
	case image.ShortBranch:
		off := s.emit(Branch{Cond: AL, Link: true}.Encode())
		s.reg.AddAnnotation(NewBranchRelocation(s, s.reg, off, op.Method, op, nil, false, l))
	case image.NearRelativeLoad:
		lit := s.core.CodeConstant(op.Method)

		s.emit(MovReg(LR, PC))
		off := s.emit(SingleDataTransfer{Cond: AL, Load: true, Up: true, Rn: PC, Rd: PC}.Encode())

		x := NewLDRRelocation(s, s.reg, off, lit, op)
		x.Branch = true

		s.reg.AddAnnotation(x)
	default:
		lit := s.core.CodeConstant(op.Method)
		n := max(s.core.GetEncodingLevelForConstant(op).MovOpcodes(), 1)

		off := s.emitMovSequence(n, Scratch)
		s.reg.AddAnnotation(NewMOVRelocation(s, s.reg, off, lit, op, Scratch, n, PCOffset+4*(n+1)))

		s.emit(MovReg(LR, PC))
		s.emit(SingleDataTransfer{Cond: AL, Load: true, Up: true, Rn: PC, Rd: PC, Register: true, Rm: Scratch}.Encode())
	}

	return nil
}

func (s *CompilationState) emitExternalCall(op *ir.Operator, name string) error {
	x, err := s.external(name)
	if err != nil {
		return err
	}

	off := s.emit(Branch{Cond: AL, Link: true}.Encode())
	s.reg.AddAnnotation(image.NewExternMethodCallRelocation(s.reg, off, x, op))

	return nil
}
