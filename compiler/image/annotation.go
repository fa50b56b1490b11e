package image

import (
	"fmt"

	"tlog.app/go/tlog/tlwire"

	"github.com/NETMF/llilum-sub034/compiler/ir"
	"github.com/NETMF/llilum-sub034/compiler/tp"
)

type (
	State int

	// Annotation marks a location of a region that needs patching
	// or carries information about it.
	Annotation interface {
		Region() *Region
		Offset() int
		Size() int
		Target() any
		State() State

		// IsScalar is false for annotations describing image structure:
		// the ones targeting a basic block, a region or a field.
		IsScalar() bool

		// ApplyRelocation patches the region. It returns false if the target
		// cannot be reached with the current encoding.
		ApplyRelocation() bool

		// NotifyFailedRelocation escalates the encoding of the originating operator.
		// It returns false if there is nothing to escalate.
		NotifyFailedRelocation() bool

		ApplyTransformation(ctx ir.TransformationContext)

		String() string
	}

	AnnotationBase struct {
		region *Region
		offset int
		size   int
		target any
		state  State
	}

	// DataRelocation writes the absolute target address as a raw word.
	DataRelocation struct {
		AnnotationBase
	}

	// ExternalPointerRelocation writes the target address plus Delta.
	ExternalPointerRelocation struct {
		AnnotationBase

		Delta int
	}

	// ExternalCallContext is the protocol of calls to code outside of the image.
	ExternalCallContext interface {
		UpdateRelocation(r *ExternMethodCallRelocation) bool
		String() string
	}

	// ExternMethodCallRelocation delegates patching to its call context.
	ExternMethodCallRelocation struct {
		AnnotationBase

		Context ExternalCallContext
		Op      *ir.Operator
	}

	// GenericAnnotation records a target at an offset without patching anything.
	GenericAnnotation struct {
		AnnotationBase

		Note string
	}

	// TrackVariableLifetime records that Var becomes alive or dead at the offset.
	TrackVariableLifetime struct {
		AnnotationBase

		Alive bool
	}

	// AdjacencyRequirement requires Target block to start where the region ends.
	// It backs branches encoded as fall through.
	AdjacencyRequirement struct {
		AnnotationBase

		Op          *ir.Operator
		Conditional bool
	}
)

const (
	Pending State = iota
	Resolved
	Failed
)

func (a *AnnotationBase) init(r *Region, off, size int, target any) {
	a.region = r
	a.offset = off
	a.size = size
	a.target = target
	a.state = Pending
}

func (a *AnnotationBase) Region() *Region { return a.region }
func (a *AnnotationBase) Offset() int     { return a.offset }
func (a *AnnotationBase) Size() int       { return a.size }
func (a *AnnotationBase) Target() any     { return a.target }
func (a *AnnotationBase) State() State    { return a.state }

func (a *AnnotationBase) SetState(s State) { a.state = s }

func (a *AnnotationBase) IsScalar() bool {
	switch a.target.(type) {
	case *ir.BasicBlock, *Region, tp.Field:
		return false
	}

	return true
}

func (a *AnnotationBase) NotifyFailedRelocation() bool { return false }

func (a *AnnotationBase) ApplyTransformation(ctx ir.TransformationContext) {
	ctx.Push(a)
	defer ctx.Pop()

	a.target = ctx.Transform(a.target)
}

func (a *AnnotationBase) core() *Core { return a.region.core }

func (a *AnnotationBase) describe(kind string) string {
	return fmt.Sprintf("%s %v+%d:%d -> %v (%v)", kind, a.region, a.offset, a.size, a.target, a.state)
}

func NewDataRelocation(r *Region, off int, target any) *DataRelocation {
	a := &DataRelocation{}
	a.init(r, off, 4, target)

	return a
}

func (a *DataRelocation) ApplyRelocation() bool {
	a.region.Write32(a.offset, a.core().Resolve(a.target))
	a.state = Resolved

	return true
}

func (a *DataRelocation) String() string { return a.describe("data") }

func (a *ExternalPointerRelocation) ApplyRelocation() bool {
	v := a.core().Resolve(a.target) + uint32(a.Delta)

	a.region.Write32(a.offset, v)
	a.state = Resolved

	return true
}

// ApplyTransformation drops the target on generic transformations,
// the pointer does not survive them.
func (a *ExternalPointerRelocation) ApplyTransformation(ctx ir.TransformationContext) {
	if ctx.Initiator() != ir.InitiatorGeneric {
		a.AnnotationBase.ApplyTransformation(ctx)
		return
	}

	ctx.Push(a)
	defer ctx.Pop()

	a.target = nil
}

func (a *ExternalPointerRelocation) String() string {
	return fmt.Sprintf("%s%+d", a.describe("extptr"), a.Delta)
}

func NewExternMethodCallRelocation(r *Region, off int, ctx ExternalCallContext, op *ir.Operator) *ExternMethodCallRelocation {
	a := &ExternMethodCallRelocation{Context: ctx, Op: op}
	a.init(r, off, 4, ctx)

	return a
}

func (a *ExternMethodCallRelocation) ApplyRelocation() bool {
	ok := a.Context.UpdateRelocation(a)

	if ok {
		a.state = Resolved
	} else {
		a.state = Failed
	}

	return ok
}

func (a *ExternMethodCallRelocation) ApplyTransformation(ctx ir.TransformationContext) {
	ctx.Push(a)
	defer ctx.Pop()

	a.Op = ir.Transform(ctx, a.Op)
}

func (a *ExternMethodCallRelocation) String() string { return a.describe("extcall") }

func NewGenericAnnotation(r *Region, off int, target any, note string) *GenericAnnotation {
	a := &GenericAnnotation{Note: note}
	a.init(r, off, 0, target)

	return a
}

func (a *GenericAnnotation) ApplyRelocation() bool {
	a.state = Resolved
	return true
}

func (a *GenericAnnotation) String() string {
	return fmt.Sprintf("%s %s", a.describe("note"), a.Note)
}

func NewTrackVariableLifetime(r *Region, off int, v ir.Variable, alive bool) *TrackVariableLifetime {
	a := &TrackVariableLifetime{Alive: alive}
	a.init(r, off, 0, v)

	return a
}

func (a *TrackVariableLifetime) Var() ir.Variable {
	v, _ := a.target.(ir.Variable)
	return v
}

func (a *TrackVariableLifetime) ApplyRelocation() bool {
	a.state = Resolved
	return true
}

func (a *TrackVariableLifetime) String() string {
	if a.Alive {
		return a.describe("alive")
	}

	return a.describe("dead")
}

func NewAdjacencyRequirement(r *Region, op *ir.Operator, bb *ir.BasicBlock, cond bool) *AdjacencyRequirement {
	a := &AdjacencyRequirement{Op: op, Conditional: cond}
	a.init(r, r.Size(), 0, bb)

	return a
}

func (a *AdjacencyRequirement) ApplyRelocation() bool {
	if a.region.Address(a.offset) == a.core().Resolve(a.target) {
		a.state = Resolved
		return true
	}

	a.state = Failed

	return false
}

func (a *AdjacencyRequirement) NotifyFailedRelocation() bool {
	return a.core().IncreaseEncodingLevelForBranch(a.Op, a.target.(*ir.BasicBlock), a.Conditional)
}

func (a *AdjacencyRequirement) String() string { return a.describe("fallthrough") }

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendString(b, s.String())
}
