package image

import (
	"encoding/binary"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"

	"github.com/NETMF/llilum-sub034/compiler/ir"
	"github.com/NETMF/llilum-sub034/compiler/tp"
)

type (
	RegionKind int

	// Region is a contiguous run of image bytes placed at one base address
	// together with the annotations patching it.
	Region struct {
		core *Core

		Kind    RegionKind
		Name    string
		Context any
		Align   int

		payload []byte

		base     uint32
		assigned bool

		// seq orders regions of the same placement class.
		seq int

		// annotations are sorted by offset.
		annotations []Annotation
	}
)

const (
	Code RegionKind = iota
	Constant
	Data
	External
	StaticField
)

var order = binary.LittleEndian

func (r *Region) Core() *Core { return r.core }

func (r *Region) Size() int     { return len(r.payload) }
func (r *Region) Bytes() []byte { return r.payload }

func (r *Region) BaseAssigned() bool { return r.assigned }

// Base is the absolute address of the region.
// It panics if no address was assigned yet.
func (r *Region) Base() uint32 {
	if !r.assigned {
		panic(errors.New("region %v: base address is not assigned", r.Name))
	}

	return r.base
}

func (r *Region) Address(off int) uint32 { return r.Base() + uint32(off) }
func (r *Region) EndAddress() uint32     { return r.Base() + uint32(len(r.payload)) }

func (r *Region) assign(base uint32) {
	r.base = base
	r.assigned = true
}

// InvalidateBaseAddress forgets the placement of the region.
func (r *Region) InvalidateBaseAddress() {
	r.base = 0
	r.assigned = false
}

// Clear drops the contents and annotations.
func (r *Region) Clear() {
	r.payload = r.payload[:0]
	r.annotations = nil
	r.InvalidateBaseAddress()
}

func (r *Region) Annotations() []Annotation { return r.annotations }

// AddAnnotation inserts an annotation keeping the list sorted by offset.
// Annotations at the same offset keep insertion order.
func (r *Region) AddAnnotation(an Annotation) Annotation {
	off := an.Offset()

	i := len(r.annotations)
	for i > 0 && r.annotations[i-1].Offset() > off {
		i--
	}

	r.annotations = append(r.annotations, nil)
	copy(r.annotations[i+1:], r.annotations[i:])
	r.annotations[i] = an

	return an
}

// Grow appends n zero bytes and returns their offset.
func (r *Region) Grow(n int) int {
	off := len(r.payload)

	for i := 0; i < n; i++ {
		r.payload = append(r.payload, 0)
	}

	return off
}

func (r *Region) Emit32(v uint32) int {
	off := len(r.payload)
	r.payload = order.AppendUint32(r.payload, v)

	return off
}

func (r *Region) Emit64(v uint64) int {
	off := len(r.payload)
	r.payload = order.AppendUint64(r.payload, v)

	return off
}

func (r *Region) Read32(off int) uint32 {
	r.check(off, 4)

	return order.Uint32(r.payload[off:])
}

func (r *Region) Write32(off int, v uint32) {
	r.check(off, 4)

	order.PutUint32(r.payload[off:], v)
}

func (r *Region) check(off, size int) {
	if off < 0 || off+size > len(r.payload) {
		panic(errors.New("region %v: access %d+%d out of bounds %d", r.Name, off, size, len(r.payload)))
	}
}

// WritePointer appends a 4-byte slot filled with the address of target
// once addresses are assigned.
func (r *Region) WritePointer(target any) *DataRelocation {
	off := r.Emit32(0)

	a := &DataRelocation{}
	a.init(r, off, 4, target)

	r.AddAnnotation(a)

	return a
}

func (r *Region) WritePointerToBasicBlock(bb *ir.BasicBlock) *DataRelocation {
	return r.WritePointer(bb)
}

func (r *Region) WritePointerToField(f *tp.StaticField) *DataRelocation {
	r.core.StaticRegion(f.Owner())

	return r.WritePointer(f)
}

// WriteExternalPointer appends a slot holding the target address plus delta.
func (r *Region) WriteExternalPointer(target any, delta int) *ExternalPointerRelocation {
	off := r.Emit32(0)

	a := &ExternalPointerRelocation{Delta: delta}
	a.init(r, off, 4, target)

	r.AddAnnotation(a)

	return a
}

// ApplyRelocation applies all annotations and reports failed ones.
func (r *Region) ApplyRelocation(failed []Annotation) ([]Annotation, bool) {
	ok := true

	for _, an := range r.annotations {
		if an.ApplyRelocation() {
			continue
		}

		ok = false
		failed = append(failed, an)
	}

	return failed, ok
}

// Dump appends a listing of the region, one word per line.
// Code words are disassembled with the core disassembler if there is one.
func (r *Region) Dump(b []byte) []byte {
	b = hfmt.Appendf(b, "%-8v %v  size %d", r.Kind, r.Name, len(r.payload))
	if r.assigned {
		b = hfmt.Appendf(b, "  at %08x", r.base)
	}

	b = append(b, '\n')

	ai := 0

	for off := 0; off < len(r.payload); off += 4 {
		for ai < len(r.annotations) && r.annotations[ai].Offset() <= off {
			b = hfmt.Appendf(b, "\t\t; %v\n", r.annotations[ai])
			ai++
		}

		if off+4 > len(r.payload) {
			b = hfmt.Appendf(b, "\t%04x  % x\n", off, r.payload[off:])
			break
		}

		w := r.Read32(off)

		b = hfmt.Appendf(b, "\t%04x  %08x", off, w)

		if r.Kind == Code && r.core != nil && r.core.Disassemble != nil {
			b = hfmt.Appendf(b, "  %s", r.core.Disassemble(w))
		}

		b = append(b, '\n')
	}

	for ; ai < len(r.annotations); ai++ {
		b = hfmt.Appendf(b, "\t\t; %v\n", r.annotations[ai])
	}

	return b
}

func (r *Region) String() string {
	if r == nil {
		return "<nil>"
	}

	return r.Name
}

func (k RegionKind) String() string {
	switch k {
	case Code:
		return "code"
	case Constant:
		return "const"
	case Data:
		return "data"
	case External:
		return "extern"
	case StaticField:
		return "static"
	default:
		return "unknown"
	}
}

func (k RegionKind) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(b, k.String())
}

func (r *Region) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(b, r.String())
}
