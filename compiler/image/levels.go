package image

import (
	"tlog.app/go/tlog/tlwire"

	"github.com/NETMF/llilum-sub034/compiler/ir"
)

type (
	BranchEncodingLevel int

	ConstantAddressEncodingLevel int

	branchTables [2]map[*ir.Operator]BranchEncodingLevel
)

const (
	Skip BranchEncodingLevel = iota
	ShortBranch
	NearRelativeLoad
	FarRelativeLoad

	BranchMax = FarRelativeLoad
)

const (
	Immediate ConstantAddressEncodingLevel = iota
	SmallLoad
	NearLoad
	FarRelativeLoad8Bit
	FarRelativeLoad16Bit
	FarRelativeLoad24Bit
	FarRelativeLoad32Bit

	ConstantMax = FarRelativeLoad32Bit
)

func (t *branchTables) table(cond bool) map[*ir.Operator]BranchEncodingLevel {
	i := 0
	if cond {
		i = 1
	}

	if t[i] == nil {
		t[i] = map[*ir.Operator]BranchEncodingLevel{}
	}

	return t[i]
}

// GetEncodingLevelForBranch returns the encoding to use for the branch of op to bb.
// Conditional branches start at ShortBranch, unconditional ones are skipped if
// bb directly follows. A branch to its own block is never skipped.
func (c *Core) GetEncodingLevelForBranch(op *ir.Operator, bb *ir.BasicBlock, cond bool) BranchEncodingLevel {
	l, ok := c.branch.table(cond)[op]
	if !ok {
		l = Skip
		if cond {
			l = ShortBranch
		}
	}

	if l == Skip && op != nil && op.Block == bb {
		l = ShortBranch
	}

	return l
}

// IncreaseEncodingLevelForBranch moves the branch to the next wider encoding.
// It returns false if the encoding is already the widest one.
func (c *Core) IncreaseEncodingLevelForBranch(op *ir.Operator, bb *ir.BasicBlock, cond bool) bool {
	l := c.GetEncodingLevelForBranch(op, bb, cond)
	if l == BranchMax {
		return false
	}

	c.branch.table(cond)[op] = l + 1

	return true
}

func (c *Core) GetEncodingLevelForConstant(op *ir.Operator) ConstantAddressEncodingLevel {
	return c.constant[op]
}

// IncreaseEncodingLevelForConstant raises the level to at least min and
// then to the next one. It returns false if the level is already the widest.
func (c *Core) IncreaseEncodingLevelForConstant(op *ir.Operator, min ConstantAddressEncodingLevel) bool {
	l := c.constant[op]
	if l < min {
		l = min
	}

	if l == ConstantMax {
		if c.constant[op] == ConstantMax {
			return false
		}

		c.constant[op] = l

		return true
	}

	c.constant[op] = l + 1

	return true
}

// SetEncodingLevelForConstant forces the level, it never goes down.
func (c *Core) SetEncodingLevelForConstant(op *ir.Operator, l ConstantAddressEncodingLevel) {
	if l > c.constant[op] {
		c.constant[op] = l
	}
}

// MovOpcodes is the number of MOV-immediate instructions a far load uses.
// It is 0 below FarRelativeLoad8Bit.
func (l ConstantAddressEncodingLevel) MovOpcodes() int {
	if l < FarRelativeLoad8Bit {
		return 0
	}

	return int(l-FarRelativeLoad8Bit) + 1
}

func (l BranchEncodingLevel) String() string {
	switch l {
	case Skip:
		return "skip"
	case ShortBranch:
		return "short"
	case NearRelativeLoad:
		return "near_load"
	case FarRelativeLoad:
		return "far_load"
	default:
		return "unknown"
	}
}

func (l ConstantAddressEncodingLevel) String() string {
	switch l {
	case Immediate:
		return "immediate"
	case SmallLoad:
		return "small_load"
	case NearLoad:
		return "near_load"
	case FarRelativeLoad8Bit:
		return "far_load8"
	case FarRelativeLoad16Bit:
		return "far_load16"
	case FarRelativeLoad24Bit:
		return "far_load24"
	case FarRelativeLoad32Bit:
		return "far_load32"
	default:
		return "unknown"
	}
}

func (l BranchEncodingLevel) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(b, l.String())
}

func (l ConstantAddressEncodingLevel) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(b, l.String())
}
