package back

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"
	"tlog.app/go/tlog/tlwire"

	"github.com/NETMF/llilum-sub034/compiler/image"
	"github.com/NETMF/llilum-sub034/compiler/ir"
)

type (
	// Arch emits machine code for method graphs into the image core.
	Arch interface {
		Name() string
		Setup(c *image.Core)
		EmitGraph(ctx context.Context, c *image.Core, g *ir.ControlFlowGraph) error
	}

	// DataEmitter adds non-code regions to the image. It is called on every pass.
	DataEmitter interface {
		EmitData(c *image.Core) error
	}

	Compiler struct {
		Data []DataEmitter
	}

	passStats struct {
		pass      int
		regions   int
		failed    int
		escalated int
	}
)

func New() *Compiler {
	return &Compiler{}
}

// CompileImage links graphs into a flash image.
func (c *Compiler) CompileImage(ctx context.Context, a Arch, gs []*ir.ControlFlowGraph, l image.Layout) (_ *image.Image, err error) {
	core, err := c.CompileCore(ctx, a, gs, l)
	if err != nil {
		return nil, err
	}

	return core.Image(), nil
}

// CompileCore runs emission and relocation until every annotation resolves.
// Failed relocations escalate the encoding of their operators and the whole
// image is emitted again. It fails if a pass escalates nothing or the layout
// pass limit is reached.
func (c *Compiler) CompileCore(ctx context.Context, a Arch, gs []*ir.ControlFlowGraph, l image.Layout) (core *image.Core, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "back: compile image", "arch", a.Name(), "methods", len(gs))
	defer tr.Finish("err", &err)

	defer func() {
		p := recover()
		if p == nil {
			return
		}

		e, ok := p.(error)
		if !ok {
			e = errors.New("%v", p)
		}

		tr.Printw("defect", "err", e)

		core, err = nil, errors.Wrap(e, "defect")
	}()

	err = validate(gs)
	if err != nil {
		return nil, err
	}

	if l.MaxPasses <= 0 {
		l.MaxPasses = image.DefaultMaxPasses
	}

	core = image.NewCore(l)
	a.Setup(core)

	for {
		if core.Pass() >= l.MaxPasses {
			return nil, errors.New("no fixed point after %d passes", core.Pass())
		}

		core.Reset()

		var st passStats

		st, err = c.pass(ctx, a, core, gs)
		if err != nil {
			return nil, errors.Wrap(err, "pass %d", core.Pass())
		}

		tr.V("pass").Printw("pass done", "stats", st)

		if st.failed == 0 {
			break
		}
	}

	if tr.If("dump_image") {
		tr.Printw("image", "passes", core.Pass(), "dump", core.Dump(nil))
	}

	if tr.If("dump_liveness") {
		tr.Printw("liveness", "dump", core.Liveness().Dump(nil))
	}

	return core, nil
}

func (c *Compiler) pass(ctx context.Context, a Arch, core *image.Core, gs []*ir.ControlFlowGraph) (st passStats, err error) {
	st.pass = core.Pass()

	for _, g := range gs {
		err = a.EmitGraph(ctx, core, g)
		if err != nil {
			return st, errors.Wrap(err, "method %v", g.Method)
		}
	}

	for _, d := range c.Data {
		err = d.EmitData(core)
		if err != nil {
			return st, errors.Wrap(err, "data")
		}
	}

	err = core.AssignAddresses()
	if err != nil {
		return st, errors.Wrap(err, "layout")
	}

	st.regions = len(core.Regions())

	failed := core.ApplyRelocation()
	st.failed = len(failed)

	for _, an := range failed {
		ok := an.NotifyFailedRelocation()
		if ok {
			st.escalated++
		}

		tlog.V("failed").Printw("relocation failed", "annotation", an, "escalated", ok)
	}

	if st.failed != 0 && st.escalated == 0 {
		return st, errors.New("relocation cannot be satisfied: %v", failed[0])
	}

	return st, nil
}

// validate checks every called method is compiled into the image or is external.
func validate(gs []*ir.ControlFlowGraph) error {
	compiled := map[any]struct{}{}

	for _, g := range gs {
		compiled[g.Method] = struct{}{}
	}

	for _, g := range gs {
		for _, op := range g.Operators() {
			if op.Op != ir.OpCall {
				continue
			}

			if op.Method == nil {
				return errors.New("method %v: call without target", g.Method)
			}

			if _, ok := compiled[op.Method]; !ok && !op.Method.External {
				return errors.New("method %v: call to %v which is not compiled", g.Method, op.Method)
			}
		}
	}

	return nil
}

func (s passStats) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 4)

	b = e.AppendKeyInt(b, "pass", s.pass)
	b = e.AppendKeyInt(b, "regions", s.regions)
	b = e.AppendKeyInt(b, "failed", s.failed)
	b = e.AppendKeyInt(b, "escalated", s.escalated)

	return b
}
