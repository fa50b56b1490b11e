package arm

import (
	"math/bits"
	"strconv"

	"tlog.app/go/errors"

	"github.com/NETMF/llilum-sub034/compiler/asm"
	"github.com/NETMF/llilum-sub034/compiler/ir"
)

type (
	Reg  uint32
	Cond uint32

	// Branch is B and BL.
	Branch struct {
		Cond Cond
		Link bool

		// Offset is in bytes from the instruction address plus 8.
		Offset int32
	}

	// SingleDataTransfer is LDR and STR with an immediate or register offset.
	SingleDataTransfer struct {
		Cond Cond
		Load bool
		Byte bool
		Up   bool

		Rn Reg
		Rd Reg

		// Offset is the magnitude of an immediate offset.
		Offset uint32

		// Register offsets use Rm instead of Offset.
		Register bool
		Rm       Reg
	}

	// CoprocDataTransfer is the VFP FLDS/FLDD and FSTS/FSTD form.
	CoprocDataTransfer struct {
		Cond   Cond
		Load   bool
		Double bool
		Up     bool

		Rn Reg
		Vd Reg

		// Offset is the magnitude in words.
		Offset uint32
	}

	// DataProcessing is an ALU instruction with a rotated 8-bit immediate
	// or a shifted register operand.
	DataProcessing struct {
		Cond Cond
		Op   uint32
		S    bool

		Rn Reg
		Rd Reg

		Immediate bool
		Imm       uint32 // value, must be encodable
		Rm        Reg
		Shift     uint32 // LSL, LSR, ASR, ROR
		ShiftImm  uint32
		ShiftReg  bool
		Rs        Reg
	}
)

const (
	R0 Reg = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	SP
	LR
	PC

	Scratch = R12
)

const (
	EQ Cond = 0x0
	NE Cond = 0x1
	GE Cond = 0xa
	LT Cond = 0xb
	GT Cond = 0xc
	LE Cond = 0xd
	AL Cond = 0xe
)

const (
	OpAND = 0x0
	OpEOR = 0x1
	OpSUB = 0x2
	OpRSB = 0x3
	OpADD = 0x4
	OpCMP = 0xa
	OpORR = 0xc
	OpMOV = 0xd
	OpBIC = 0xe
	OpMVN = 0xf
)

const (
	LSL = iota
	LSR
	ASR
	ROR
)

const (
	NOP  = 0xe1a00000 // mov r0, r0
	BXLR = 0xe12fff1e
)

// PCOffset is the distance between an instruction and the PC value it reads.
const PCOffset = 8

var (
	fCond   = asm.F(28, 4)
	fRn     = asm.F(16, 4)
	fRd     = asm.F(12, 4)
	fRs     = asm.F(8, 4)
	fRm     = asm.F(0, 4)
	fOff24  = asm.F(0, 24)
	fImm12  = asm.F(0, 12)
	fImm8   = asm.F(0, 8)
	fRot    = asm.F(8, 4)
	fDPOp   = asm.F(21, 4)
	fShImm  = asm.F(7, 5)
	fShType = asm.F(5, 2)

	bLink  = asm.Flag(24)
	bImm   = asm.Flag(25)
	bPre   = asm.Flag(24)
	bUp    = asm.Flag(23)
	bByte  = asm.Flag(22)
	bD     = asm.Flag(22)
	bS     = asm.Flag(20)
	bLoad  = asm.Flag(20)
	bShReg = asm.Flag(4)
)

var ErrNotImplemented = errors.New("not implemented")

// CondFor maps IR comparison conditions to ARM condition codes.
func CondFor(c ir.Cond) Cond {
	switch c {
	case ir.CondEQ:
		return EQ
	case ir.CondNE:
		return NE
	case ir.CondLT:
		return LT
	case ir.CondLE:
		return LE
	case ir.CondGT:
		return GT
	case ir.CondGE:
		return GE
	default:
		return AL
	}
}

func IsBranch(w uint32) bool { return w&0x0e000000 == 0x0a000000 }

func DecodeBranch(w uint32) (b Branch) {
	b.Cond = Cond(fCond.Extract(w))
	b.Link = bLink.Get(w)
	b.Offset = fOff24.SignExtend(w) << 2

	return b
}

func (b Branch) Encode() uint32 {
	w := uint32(0x0a000000)

	w = fCond.Insert(w, uint32(b.Cond))
	w = bLink.Set(w, b.Link)
	w = fOff24.InsertSigned(w, b.Offset>>2)

	return w
}

func IsSingleDataTransfer(w uint32) bool {
	return w&0x0c000000 == 0x04000000 && !(bImm.Get(w) && bShReg.Get(w))
}

func DecodeSingleDataTransfer(w uint32) (x SingleDataTransfer) {
	x.Cond = Cond(fCond.Extract(w))
	x.Load = bLoad.Get(w)
	x.Byte = bByte.Get(w)
	x.Up = bUp.Get(w)
	x.Rn = Reg(fRn.Extract(w))
	x.Rd = Reg(fRd.Extract(w))
	x.Register = bImm.Get(w)

	if x.Register {
		x.Rm = Reg(fRm.Extract(w))
	} else {
		x.Offset = fImm12.Extract(w)
	}

	return x
}

// Encode builds a pre-indexed transfer without write back.
func (x SingleDataTransfer) Encode() uint32 {
	w := uint32(0x04000000)

	w = fCond.Insert(w, uint32(x.Cond))
	w = bPre.Set(w, true)
	w = bUp.Set(w, x.Up)
	w = bByte.Set(w, x.Byte)
	w = bLoad.Set(w, x.Load)
	w = fRn.Insert(w, uint32(x.Rn))
	w = fRd.Insert(w, uint32(x.Rd))
	w = bImm.Set(w, x.Register)

	if x.Register {
		w = fRm.Insert(w, uint32(x.Rm))
	} else {
		w = fImm12.Insert(w, x.Offset)
	}

	return w
}

func IsCoprocDataTransfer(w uint32) bool {
	return w&0x0e000e00 == 0x0c000a00
}

func DecodeCoprocDataTransfer(w uint32) (x CoprocDataTransfer) {
	x.Cond = Cond(fCond.Extract(w))
	x.Load = bLoad.Get(w)
	x.Up = bUp.Get(w)
	x.Rn = Reg(fRn.Extract(w))
	x.Double = w&0x100 != 0
	x.Offset = fImm8.Extract(w)

	vd := fRd.Extract(w)
	d := b2u(bD.Get(w))

	if x.Double {
		x.Vd = Reg(d<<4 | vd)
	} else {
		x.Vd = Reg(vd<<1 | d)
	}

	return x
}

func (x CoprocDataTransfer) Encode() uint32 {
	w := uint32(0x0d000a00)

	w = fCond.Insert(w, uint32(x.Cond))
	w = bUp.Set(w, x.Up)
	w = bLoad.Set(w, x.Load)
	w = fRn.Insert(w, uint32(x.Rn))
	w = fImm8.Insert(w, x.Offset)

	if x.Double {
		w |= 0x100
		w = fRd.Insert(w, uint32(x.Vd)&0xf)
		w = bD.Set(w, x.Vd&0x10 != 0)
	} else {
		w = fRd.Insert(w, uint32(x.Vd)>>1)
		w = bD.Set(w, x.Vd&1 != 0)
	}

	return w
}

func IsDataProcessing(w uint32) bool {
	return w&0x0c000000 == 0 && !(w&0x0e000090 == 0x00000090)
}

func DecodeDataProcessing(w uint32) (x DataProcessing) {
	x.Cond = Cond(fCond.Extract(w))
	x.Op = fDPOp.Extract(w)
	x.S = bS.Get(w)
	x.Rn = Reg(fRn.Extract(w))
	x.Rd = Reg(fRd.Extract(w))
	x.Immediate = bImm.Get(w)

	if x.Immediate {
		x.Imm = bits.RotateLeft32(fImm8.Extract(w), -2*int(fRot.Extract(w)))
		return x
	}

	x.Rm = Reg(fRm.Extract(w))
	x.Shift = fShType.Extract(w)
	x.ShiftReg = bShReg.Get(w)

	if x.ShiftReg {
		x.Rs = Reg(fRs.Extract(w))
	} else {
		x.ShiftImm = fShImm.Extract(w)
	}

	return x
}

// Encode panics if an immediate is not encodable, see EncodeImmediate.
func (x DataProcessing) Encode() uint32 {
	w := uint32(0)

	w = fCond.Insert(w, uint32(x.Cond))
	w = fDPOp.Insert(w, x.Op)
	w = bS.Set(w, x.S || x.Op == OpCMP)
	w = fRn.Insert(w, uint32(x.Rn))
	w = fRd.Insert(w, uint32(x.Rd))
	w = bImm.Set(w, x.Immediate)

	if x.Immediate {
		rot, imm, ok := EncodeImmediate(x.Imm)
		if !ok {
			panic(errors.New("immediate %#x is not encodable", x.Imm))
		}

		w = fRot.Insert(w, rot)
		w = fImm8.Insert(w, imm)

		return w
	}

	w = fRm.Insert(w, uint32(x.Rm))
	w = fShType.Insert(w, x.Shift)
	w = bShReg.Set(w, x.ShiftReg)

	if x.ShiftReg {
		w = fRs.Insert(w, uint32(x.Rs))
	} else {
		w = fShImm.Insert(w, x.ShiftImm)
	}

	return w
}

// EncodeImmediate finds the rotation for a data processing immediate.
// The value is imm rotated right by 2*rot.
func EncodeImmediate(v uint32) (rot, imm uint32, ok bool) {
	for r := 0; r < 16; r++ {
		x := bits.RotateLeft32(v, 2*r)

		if x <= 0xff {
			return uint32(r), x, true
		}
	}

	return 0, 0, false
}

func IsEncodableImmediate(v uint32) bool {
	_, _, ok := EncodeImmediate(v)
	return ok
}

func Mul(cond Cond, rd, rm, rs Reg) uint32 {
	w := uint32(0x00000090)

	w = fCond.Insert(w, uint32(cond))
	w = fRn.Insert(w, uint32(rd))
	w = fRs.Insert(w, uint32(rs))
	w = fRm.Insert(w, uint32(rm))

	return w
}

func MovImm(rd Reg, v uint32) uint32 {
	return DataProcessing{Cond: AL, Op: OpMOV, Rd: rd, Immediate: true, Imm: v}.Encode()
}

func MovReg(rd, rm Reg) uint32 {
	return DataProcessing{Cond: AL, Op: OpMOV, Rd: rd, Rm: rm}.Encode()
}

func b2u(v bool) uint32 {
	if v {
		return 1
	}

	return 0
}

func (r Reg) String() string {
	switch r {
	case SP:
		return "sp"
	case LR:
		return "lr"
	case PC:
		return "pc"
	default:
		return "r" + strconv.Itoa(int(r))
	}
}
