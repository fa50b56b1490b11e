package arm

import (
	"tlog.app/go/errors"

	"github.com/NETMF/llilum-sub034/compiler/image"
)

type (
	// ExternalCall is a call to a native routine at a fixed address.
	// Calls branch to a stub in the image that jumps to the routine,
	// so BL reach does not depend on where the routine is.
	ExternalCall struct {
		Name    string
		Address uint32

		region *image.Region
	}

	externalKey string
)

// stub: ldr pc, [pc, #-4]; .word address
var stubLoad = SingleDataTransfer{Cond: AL, Load: true, Up: false, Rn: PC, Rd: PC, Offset: 4}.Encode()

func (s *CompilationState) external(name string) (*ExternalCall, error) {
	addr, ok := s.core.Layout.Externals[name]
	if !ok {
		return nil, errors.New("external routine %v: no address in layout", name)
	}

	r := s.core.KeyedRegion(externalKey(name), func() *image.Region {
		x := &ExternalCall{Name: name, Address: addr}

		r := s.core.NewRegion(image.External, name, x)
		x.region = r

		r.Emit32(stubLoad)
		off := r.Emit32(addr)

		r.AddAnnotation(image.NewGenericAnnotation(r, off, name, "native address"))

		return r
	})

	return r.Context.(*ExternalCall), nil
}

func (x *ExternalCall) ImageRegion() *image.Region { return x.region }

// UpdateRelocation points the BL at the stub.
func (x *ExternalCall) UpdateRelocation(r *image.ExternMethodCallRelocation) bool {
	src := r.Region().Address(r.Offset())
	dst := x.region.Base()

	d := int64(dst) - int64(src) - PCOffset
	if d&3 != 0 || d < -branchLimit || d >= branchLimit {
		return false
	}

	w := r.Region().Read32(r.Offset())
	if !IsBranch(w) {
		panic(errors.Wrap(ErrNotImplemented, "external call at %v+%d: opcode %08x", r.Region(), r.Offset(), w))
	}

	b := DecodeBranch(w)
	b.Offset = int32(d)

	r.Region().Write32(r.Offset(), b.Encode())

	return true
}

func (x *ExternalCall) String() string { return x.Name }
