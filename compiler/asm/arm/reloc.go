package arm

import (
	"tlog.app/go/errors"

	"github.com/NETMF/llilum-sub034/compiler/image"
	"github.com/NETMF/llilum-sub034/compiler/ir"
)

type (
	// BranchRelocation patches the 24-bit word offset of B and BL.
	BranchRelocation struct {
		image.CodeRelocation

		cs *CompilationState

		Block       *ir.BasicBlock
		Conditional bool
		Level       image.BranchEncodingLevel
	}

	// LDRRelocation patches a PC-relative LDR loading a literal pool entry.
	LDRRelocation struct {
		image.CodeRelocation

		cs *CompilationState

		// Branch is set for literal pool branches, they escalate
		// the branch encoding of the operator instead of its constant one.
		Branch      bool
		Block       *ir.BasicBlock
		Conditional bool
	}

	// FLDRelocation patches a PC-relative VFP load.
	FLDRelocation struct {
		image.CodeRelocation

		cs *CompilationState
	}

	// MOVRelocation materializes a PC-relative offset in a register
	// with a sequence of MOV/ORR or MVN/BIC immediates.
	MOVRelocation struct {
		image.CodeRelocation

		cs *CompilationState

		Rd Reg

		// EncodingLength is the number of reserved opcodes, 1 to 4.
		EncodingLength int
	}
)

const (
	branchLimit = 1 << 25 // bytes, 24-bit signed word offset
	ldrLimit    = 1 << 12
	fldLimit    = 1 << 8 // words
)

func NewBranchRelocation(cs *CompilationState, r *image.Region, off int, target any, op *ir.Operator, bb *ir.BasicBlock, cond bool, l image.BranchEncodingLevel) *BranchRelocation {
	x := &BranchRelocation{cs: cs, Block: bb, Conditional: cond, Level: l}
	x.InitCode(r, off, 4, target, op, PCOffset)

	return x
}

func (x *BranchRelocation) opcode() Branch {
	w := x.cs.GetOpcode(x.Region(), x.Offset())
	if !IsBranch(w) {
		panic(errors.Wrap(ErrNotImplemented, "branch relocation at %v+%d: opcode %08x", x.Region(), x.Offset(), w))
	}

	return DecodeBranch(w)
}

// CanRelocateToAddress checks the branch range.
// The range is the same for conditional and unconditional branches.
func (x *BranchRelocation) CanRelocateToAddress(src, dst uint32) bool {
	d := x.Delta(src, dst)

	if d&3 != 0 {
		return false
	}

	lim := int64(branchLimit)
	if r := x.cs.core.Layout.BranchReach; r > 0 && int64(r) < lim {
		lim = int64(r)
	}

	return d >= -lim && d < lim
}

func (x *BranchRelocation) UpdateOpcode(src, dst uint32) {
	b := x.opcode()
	b.Offset = int32(x.Delta(src, dst))

	x.cs.SetOpcode(x.Region(), x.Offset(), b.Encode())
}

func (x *BranchRelocation) ApplyRelocation() bool { return x.Apply(x) }

func (x *BranchRelocation) NotifyFailedRelocation() bool {
	return x.EscalateBranch(x.Block, x.Conditional, x.Level)
}

func (x *BranchRelocation) String() string { return x.Describe("branch") }

func NewLDRRelocation(cs *CompilationState, r *image.Region, off int, lit *image.Region, op *ir.Operator) *LDRRelocation {
	x := &LDRRelocation{cs: cs}
	x.InitCode(r, off, 4, lit, op, PCOffset)

	return x
}

func (x *LDRRelocation) opcode() SingleDataTransfer {
	w := x.cs.GetOpcode(x.Region(), x.Offset())

	if !IsSingleDataTransfer(w) {
		panic(errors.Wrap(ErrNotImplemented, "ldr relocation at %v+%d: opcode %08x", x.Region(), x.Offset(), w))
	}

	o := DecodeSingleDataTransfer(w)
	if o.Rn != PC || o.Register {
		panic(errors.Wrap(ErrNotImplemented, "ldr relocation at %v+%d: addressing mode %08x", x.Region(), x.Offset(), w))
	}

	return o
}

func (x *LDRRelocation) CanRelocateToAddress(src, dst uint32) bool {
	d := x.Delta(src, dst)

	return d > -ldrLimit && d < ldrLimit
}

func (x *LDRRelocation) UpdateOpcode(src, dst uint32) {
	o := x.opcode()

	d := x.Delta(src, dst)

	o.Up = d >= 0
	if d < 0 {
		d = -d
	}

	o.Offset = uint32(d)

	x.cs.SetOpcode(x.Region(), x.Offset(), o.Encode())
}

func (x *LDRRelocation) ApplyRelocation() bool { return x.Apply(x) }

func (x *LDRRelocation) NotifyFailedRelocation() bool {
	if x.Branch {
		return x.EscalateBranch(x.Block, x.Conditional, image.NearRelativeLoad)
	}

	return x.EscalateConstant(image.NearLoad)
}

func (x *LDRRelocation) String() string { return x.Describe("ldr") }

func NewFLDRelocation(cs *CompilationState, r *image.Region, off int, lit *image.Region, op *ir.Operator) *FLDRelocation {
	x := &FLDRelocation{cs: cs}
	x.InitCode(r, off, 4, lit, op, PCOffset)

	return x
}

func (x *FLDRelocation) opcode() CoprocDataTransfer {
	w := x.cs.GetOpcode(x.Region(), x.Offset())

	if !IsCoprocDataTransfer(w) {
		panic(errors.Wrap(ErrNotImplemented, "fld relocation at %v+%d: opcode %08x", x.Region(), x.Offset(), w))
	}

	o := DecodeCoprocDataTransfer(w)
	if o.Rn != PC {
		panic(errors.Wrap(ErrNotImplemented, "fld relocation at %v+%d: addressing mode %08x", x.Region(), x.Offset(), w))
	}

	return o
}

// CanRelocateToAddress checks the word aligned offset fits the 8-bit field.
func (x *FLDRelocation) CanRelocateToAddress(src, dst uint32) bool {
	d := x.Delta(src, dst)

	if d&3 != 0 {
		return false
	}

	d /= 4

	return d > -fldLimit && d < fldLimit
}

func (x *FLDRelocation) UpdateOpcode(src, dst uint32) {
	o := x.opcode()

	d := x.Delta(src, dst) / 4

	o.Up = d >= 0
	if d < 0 {
		d = -d
	}

	o.Offset = uint32(d)

	x.cs.SetOpcode(x.Region(), x.Offset(), o.Encode())
}

func (x *FLDRelocation) ApplyRelocation() bool { return x.Apply(x) }

func (x *FLDRelocation) NotifyFailedRelocation() bool {
	return x.EscalateConstant(image.NearLoad)
}

func (x *FLDRelocation) String() string { return x.Describe("fld") }

// NewMOVRelocation reserves n opcodes at off. skew is the distance from
// the first opcode to the PC value the materialized offset is added to.
func NewMOVRelocation(cs *CompilationState, r *image.Region, off int, lit *image.Region, op *ir.Operator, rd Reg, n, skew int) *MOVRelocation {
	x := &MOVRelocation{cs: cs, Rd: rd, EncodingLength: n}
	x.InitCode(r, off, 4*n, lit, op, skew)

	return x
}

func (x *MOVRelocation) check() {
	for i := 0; i < x.EncodingLength; i++ {
		w := x.cs.GetOpcode(x.Region(), x.Offset()+4*i)

		if !IsDataProcessing(w) {
			panic(errors.Wrap(ErrNotImplemented, "mov relocation at %v+%d: opcode %08x", x.Region(), x.Offset()+4*i, w))
		}

		o := DecodeDataProcessing(w)
		if !o.Immediate || o.Rd != x.Rd {
			panic(errors.Wrap(ErrNotImplemented, "mov relocation at %v+%d: addressing mode %08x", x.Region(), x.Offset()+4*i, w))
		}
	}
}

// CanRelocateToAddress checks the offset, or its complement for negative ones,
// fits one byte per reserved opcode.
func (x *MOVRelocation) CanRelocateToAddress(src, dst uint32) bool {
	d := x.Delta(src, dst)
	if d < 0 {
		d = ^d
	}

	if x.EncodingLength >= 4 {
		return d < 1<<32
	}

	return d < 1<<(8*x.EncodingLength)
}

func (x *MOVRelocation) UpdateOpcode(src, dst uint32) {
	x.check()

	d := x.Delta(src, dst)

	first, rest := uint32(OpMOV), uint32(OpORR)
	v := uint32(d)

	if d < 0 {
		first, rest = OpMVN, OpBIC
		v = ^v
	}

	for i := 0; i < x.EncodingLength; i++ {
		o := DataProcessing{Cond: AL, Op: rest, Rn: x.Rd, Rd: x.Rd, Immediate: true, Imm: v & (0xff << (8 * i))}

		if i == 0 {
			o.Op = first
			o.Rn = 0
		}

		x.cs.SetOpcode(x.Region(), x.Offset()+4*i, o.Encode())
	}
}

func (x *MOVRelocation) ApplyRelocation() bool { return x.Apply(x) }

func (x *MOVRelocation) NotifyFailedRelocation() bool {
	return x.EscalateConstant(image.FarRelativeLoad8Bit)
}

func (x *MOVRelocation) String() string { return x.Describe("mov") }

// MovValue decodes the value a MOV/ORR or MVN/BIC sequence leaves in its register.
func MovValue(ws []uint32) (v uint32) {
	for i, w := range ws {
		o := DecodeDataProcessing(w)

		switch {
		case i == 0 && o.Op == OpMOV:
			v = o.Imm
		case i == 0 && o.Op == OpMVN:
			v = ^o.Imm
		case o.Op == OpORR:
			v |= o.Imm
		case o.Op == OpBIC:
			v &^= o.Imm
		}
	}

	return v
}
