package image

import (
	"fmt"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/NETMF/llilum-sub034/compiler/ir"
	"github.com/NETMF/llilum-sub034/compiler/tp"
)

type (
	// Core builds the image: it owns regions and the encoding levels
	// every layout pass emits code with.
	// Regions are rebuilt on each pass, encoding levels survive passes.
	Core struct {
		Layout Layout

		// Disassemble is used by region dumps.
		Disassemble func(w uint32) string

		regions []*Region
		blocks  map[*ir.BasicBlock]*Region
		graphs  map[*tp.Method]*ir.ControlFlowGraph
		statics map[*tp.Type]*Region
		keyed   map[any]*Region

		// pool holds code constants not flushed yet.
		pool      []*Region
		poolIndex map[any]*Region

		seq  int
		pass int

		branch   branchTables
		constant map[*ir.Operator]ConstantAddressEncodingLevel
	}

	// CodeConstant is the context of a literal pool entry.
	CodeConstant struct {
		Value any
	}

	// Locatable is implemented by targets living in their own region.
	Locatable interface {
		ImageRegion() *Region
	}
)

func NewCore(l Layout) *Core {
	c := &Core{
		Layout:   l,
		constant: map[*ir.Operator]ConstantAddressEncodingLevel{},
	}

	c.clear()

	return c
}

// Reset drops everything emitted by the previous pass.
func (c *Core) Reset() {
	c.clear()
	c.pass++
}

func (c *Core) clear() {
	c.regions = nil
	c.blocks = map[*ir.BasicBlock]*Region{}
	c.graphs = map[*tp.Method]*ir.ControlFlowGraph{}
	c.statics = map[*tp.Type]*Region{}
	c.keyed = map[any]*Region{}
	c.pool = nil
	c.poolIndex = map[any]*Region{}
	c.seq = 0
}

func (c *Core) Pass() int           { return c.pass }
func (c *Core) Regions() []*Region { return c.regions }

func (c *Core) NewRegion(kind RegionKind, name string, ctx any) *Region {
	r := &Region{
		core:    c,
		Kind:    kind,
		Name:    name,
		Context: ctx,
		Align:   4,
	}

	if kind != Constant {
		r.seq = c.nextSeq()
	}

	c.regions = append(c.regions, r)

	return r
}

func (c *Core) nextSeq() int {
	c.seq++
	return c.seq
}

// RegisterGraph makes the method of g resolvable.
func (c *Core) RegisterGraph(g *ir.ControlFlowGraph) {
	c.graphs[g.Method] = g
}

// BlockRegion returns the code region of bb creating it on first use.
func (c *Core) BlockRegion(bb *ir.BasicBlock) *Region {
	if r, ok := c.blocks[bb]; ok {
		return r
	}

	r := c.NewRegion(Code, blockName(bb), bb)

	if bb.Kind == ir.Entry && c.Layout.Align > r.Align {
		r.Align = c.Layout.Align
	}

	c.blocks[bb] = r

	return r
}

func (c *Core) LookupBlock(bb *ir.BasicBlock) (*Region, bool) {
	r, ok := c.blocks[bb]
	return r, ok
}

// KeyedRegion returns the region created for key in this pass.
func (c *Core) KeyedRegion(key any, create func() *Region) *Region {
	if r, ok := c.keyed[key]; ok {
		return r
	}

	r := create()
	c.keyed[key] = r

	return r
}

// StaticRegion returns the static storage block of t.
func (c *Core) StaticRegion(t *tp.Type) *Region {
	if r, ok := c.statics[t]; ok {
		return r
	}

	r := c.NewRegion(StaticField, t.String()+".statics", t)
	r.Grow(tp.StaticSize(t))

	c.statics[t] = r

	return r
}

// CodeConstant returns a literal pool entry holding v.
// Entries of the same pool are shared.
// v is a uint32, a uint64 or a target to take the address of.
func (c *Core) CodeConstant(v any) *Region {
	if r, ok := c.poolIndex[v]; ok {
		return r
	}

	r := c.NewRegion(Constant, fmt.Sprintf("const%d", len(c.regions)), &CodeConstant{Value: v})

	switch v := v.(type) {
	case uint32:
		r.Emit32(v)
	case uint64:
		r.Align = 8
		r.Emit64(v)
	default:
		if f, ok := v.(*tp.StaticField); ok {
			c.StaticRegion(f.Owner())
		}

		r.WritePointer(v)
	}

	c.pool = append(c.pool, r)
	c.poolIndex[v] = r

	return r
}

// FlushConstants places pending literal pool entries right after
// the regions created so far.
func (c *Core) FlushConstants() {
	for _, r := range c.pool {
		r.seq = c.nextSeq()
	}

	c.pool = nil
	c.poolIndex = map[any]*Region{}
}

// Resolve returns the absolute address of a relocation target.
// Unresolvable targets are a code generation defect and panic.
func (c *Core) Resolve(target any) uint32 {
	switch t := target.(type) {
	case *Region:
		return t.Base()
	case *ir.BasicBlock:
		r, ok := c.blocks[t]
		if !ok {
			panic(errors.New("cannot resolve %v: block was not emitted", t))
		}

		return r.Base()
	case *ir.ControlFlowGraph:
		return c.Resolve(t.Entry)
	case *tp.Method:
		g, ok := c.graphs[t]
		if !ok {
			panic(errors.New("cannot resolve method %v: not compiled", t))
		}

		return c.Resolve(g.Entry)
	case *tp.StaticField:
		r, ok := c.statics[t.Owner()]
		if !ok {
			panic(errors.New("cannot resolve static field %v: storage was not allocated", t))
		}

		return r.Address(t.Offset())
	case *ir.Operator:
		return c.Resolve(t.Block)
	case Locatable:
		return t.ImageRegion().Base()
	}

	panic(errors.New("cannot resolve relocation target %T", target))
}

// ApplyRelocation applies annotations of all regions and returns failed ones.
func (c *Core) ApplyRelocation() (failed []Annotation) {
	for _, r := range c.regions {
		failed, _ = r.ApplyRelocation(failed)
	}

	return failed
}

// ApplyTransformation runs ctx over region contexts and annotations.
func (c *Core) ApplyTransformation(ctx ir.TransformationContext) {
	for _, r := range c.regions {
		ctx.Push(r)

		r.Context = ctx.Transform(r.Context)

		for _, an := range r.annotations {
			an.ApplyTransformation(ctx)
		}

		ctx.Pop()
	}
}

// Dump appends listings of all regions in address order.
func (c *Core) Dump(b []byte) []byte {
	b = hfmt.Appendf(b, "pass %d  regions %d\n", c.pass, len(c.regions))

	for _, r := range c.sorted() {
		b = r.Dump(b)
	}

	return b
}

func blockName(bb *ir.BasicBlock) string {
	if bb.Graph != nil && bb.Graph.Method != nil {
		return fmt.Sprintf("%v.%v", bb.Graph.Method, bb)
	}

	return bb.String()
}
