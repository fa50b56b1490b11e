package image

import (
	"fmt"

	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/NETMF/llilum-sub034/compiler/ir"
)

type (
	// CodeRelocation is the base of PC-relative instruction relocations.
	// Skew is the distance between the instruction address and the origin
	// its displacement field is relative to.
	CodeRelocation struct {
		AnnotationBase

		Op   *ir.Operator
		Skew int

		// constant is the constant level of Op the code was emitted with.
		constant ConstantAddressEncodingLevel
	}

	// Relocator is the architecture specific part of a code relocation.
	Relocator interface {
		CanRelocateToAddress(src, dst uint32) bool
		UpdateOpcode(src, dst uint32)
	}
)

func (r *CodeRelocation) InitCode(reg *Region, off, size int, target any, op *ir.Operator, skew int) {
	r.init(reg, off, size, target)

	r.Op = op
	r.Skew = skew
	r.constant = r.core().GetEncodingLevelForConstant(op)
}

func (r *CodeRelocation) InsertionAddress() uint32 { return r.region.Address(r.offset) }
func (r *CodeRelocation) TargetAddress() uint32    { return r.core().Resolve(r.target) }

// Delta is the displacement to encode.
func (r *CodeRelocation) Delta(src, dst uint32) int64 {
	return int64(dst) - int64(src) - int64(r.Skew)
}

// Apply runs x against the current addresses and updates the state.
func (r *CodeRelocation) Apply(x Relocator) bool {
	src := r.InsertionAddress()
	dst := r.TargetAddress()

	if !x.CanRelocateToAddress(src, dst) {
		r.state = Failed

		tlog.V("reloc").Printw("relocation out of range", "reloc", x, "src", src, "dst", dst, "delta", r.Delta(src, dst))

		return false
	}

	x.UpdateOpcode(src, dst)
	r.state = Resolved

	return true
}

// EscalateBranch raises the branch encoding of the operator above the emitted one.
func (r *CodeRelocation) EscalateBranch(bb *ir.BasicBlock, cond bool, emitted BranchEncodingLevel) (ok bool) {
	c := r.core()

	ok = true
	for ok && c.GetEncodingLevelForBranch(r.Op, bb, cond) <= emitted {
		ok = c.IncreaseEncodingLevelForBranch(r.Op, bb, cond)
	}

	tlog.V("escalate").Printw("escalate branch", "op", r.Op, "target", bb, "cond", cond, "ok", ok, "level", c.GetEncodingLevelForBranch(r.Op, bb, cond), "from", loc.Caller(1))

	return ok
}

// EscalateConstant raises the constant encoding of the operator to at least min.
// Relocations of one operator share its level, so it is raised once per emission.
func (r *CodeRelocation) EscalateConstant(min ConstantAddressEncodingLevel) bool {
	c := r.core()

	if c.GetEncodingLevelForConstant(r.Op) > r.constant {
		return true
	}

	ok := c.IncreaseEncodingLevelForConstant(r.Op, min)

	tlog.V("escalate").Printw("escalate constant", "op", r.Op, "ok", ok, "level", c.GetEncodingLevelForConstant(r.Op), "from", loc.Caller(1))

	return ok
}

func (r *CodeRelocation) ApplyTransformation(ctx ir.TransformationContext) {
	ctx.Push(r)
	defer ctx.Pop()

	r.target = ctx.Transform(r.target)
	r.Op = ir.Transform(ctx, r.Op)
}

func (r *CodeRelocation) Describe(kind string) string {
	return fmt.Sprintf("%s skew %d", r.describe(kind), r.Skew)
}
