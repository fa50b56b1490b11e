package ir

import (
	"math/bits"
	"strings"

	"tlog.app/go/tlog/tlwire"
)

// RegisterClass is a set of hardware register kinds an operand may live in.
type RegisterClass uint32

const RegClassNone RegisterClass = 0

const (
	RegClassInteger RegisterClass = 1 << iota
	RegClassAddress
	RegClassSinglePrecision
	RegClassDoublePrecision
	RegClassStatusRegister
	RegClassStackPointer
	RegClassLinkRegister
	RegClassProgramCounter
)

var regClassNames = []string{
	"integer",
	"address",
	"single",
	"double",
	"status",
	"sp",
	"lr",
	"pc",
}

func (c RegisterClass) Count() int { return bits.OnesCount32(uint32(c)) }

func (c RegisterClass) String() string {
	if c == RegClassNone {
		return "none"
	}

	var b strings.Builder

	for m := uint32(c); m != 0; {
		r := bits.TrailingZeros32(m)
		m &^= 1 << r

		if b.Len() != 0 {
			b.WriteByte('|')
		}

		if r < len(regClassNames) {
			b.WriteString(regClassNames[r])
		} else {
			b.WriteString("class")
		}
	}

	return b.String()
}

func (c RegisterClass) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendFormat(b, "%v", c.String())
}
