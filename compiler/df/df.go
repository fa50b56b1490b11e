package df

import (
	"tlog.app/go/tlog"

	"github.com/NETMF/llilum-sub034/compiler/ir"
	"github.com/NETMF/llilum-sub034/compiler/set"
)

type (
	// Liveness is the result of live variable analysis of a graph.
	Liveness struct {
		Graph *ir.ControlFlowGraph

		Vars  []ir.Variable
		index map[ir.Variable]int

		// In and Out are indexed by block index.
		In  []set.Bitmap
		Out []set.Bitmap

		use []set.Bitmap
		def []set.Bitmap
	}
)

// ComputeLiveness runs backward live variable analysis.
// Exception handlers are treated as successors of the blocks they protect.
func ComputeLiveness(g *ir.ControlFlowGraph) *Liveness {
	l := &Liveness{
		Graph: g,
		index: map[ir.Variable]int{},
		In:    make([]set.Bitmap, len(g.Blocks)),
		Out:   make([]set.Bitmap, len(g.Blocks)),
		use:   make([]set.Bitmap, len(g.Blocks)),
		def:   make([]set.Bitmap, len(g.Blocks)),
	}

	for _, bb := range g.Blocks {
		use, def := &l.use[bb.Index], &l.def[bb.Index]

		for _, op := range bb.Operators {
			for _, x := range op.Args {
				if i := l.Index(x); i >= 0 && !def.IsSet(i) {
					use.Set(i)
				}
			}

			for _, x := range op.Results {
				if i := l.Index(x); i >= 0 {
					def.Set(i)
				}
			}
		}
	}

	for iter := 1; ; iter++ {
		changed := false

		for j := len(g.Blocks) - 1; j >= 0; j-- {
			bb := g.Blocks[j]

			var out set.Bitmap

			for _, s := range l.successors(bb) {
				out.Or(l.In[s.Index])
			}

			in := out.Copy()
			in.AndNot(l.def[bb.Index])
			in.Or(l.use[bb.Index])

			if !in.Equal(l.In[bb.Index]) || !out.Equal(l.Out[bb.Index]) {
				changed = true
			}

			l.In[bb.Index] = in
			l.Out[bb.Index] = out
		}

		if !changed {
			tlog.V("liveness").Printw("liveness converged", "method", g.Method, "iterations", iter, "vars", len(l.Vars))
			break
		}
	}

	return l
}

func (l *Liveness) successors(bb *ir.BasicBlock) []*ir.BasicBlock {
	succ := bb.Successors()

	if len(bb.ProtectedBy) == 0 {
		return succ
	}

	return append(append([]*ir.BasicBlock{}, succ...), bb.ProtectedBy...)
}

// Index numbers the variable, it returns -1 for non-variable expressions.
func (l *Liveness) Index(x ir.Expression) int {
	v, ok := x.(ir.Variable)
	if !ok {
		return -1
	}

	if i, ok := l.index[v]; ok {
		return i
	}

	i := len(l.Vars)
	l.Vars = append(l.Vars, v)
	l.index[v] = i

	return i
}

// LiveAfter returns the alive set after each operator of bb.
func (l *Liveness) LiveAfter(bb *ir.BasicBlock) []set.Bitmap {
	res := make([]set.Bitmap, len(bb.Operators))

	cur := l.Out[bb.Index].Copy()

	for j := len(bb.Operators) - 1; j >= 0; j-- {
		op := bb.Operators[j]

		res[j] = cur.Copy()

		for _, x := range op.Results {
			if i := l.Index(x); i >= 0 {
				cur.Clear(i)
			}
		}

		for _, x := range op.Args {
			if i := l.Index(x); i >= 0 {
				cur.Set(i)
			}
		}
	}

	return res
}

func (l *Liveness) IsLiveIn(bb *ir.BasicBlock, v ir.Variable) bool {
	i, ok := l.index[v]
	return ok && l.In[bb.Index].IsSet(i)
}

func (l *Liveness) IsLiveOut(bb *ir.BasicBlock, v ir.Variable) bool {
	i, ok := l.index[v]
	return ok && l.Out[bb.Index].IsSet(i)
}
