package image

import (
	"sort"

	"github.com/nikandfor/hacked/hfmt"

	"github.com/NETMF/llilum-sub034/compiler/ir"
	"github.com/NETMF/llilum-sub034/compiler/set"
)

type (
	// LivenessTable answers whether a variable is alive at a code address.
	// It is a sorted list of points, each holding the set of alive variables
	// up to the next point.
	LivenessTable struct {
		vars  []ir.Variable
		index map[ir.Variable]int

		points []livePoint
	}

	livePoint struct {
		addr  uint32
		alive set.Bitmap
	}
)

// Liveness builds the table from TrackVariableLifetime annotations of code regions.
// Nothing is alive outside of code regions.
func (c *Core) Liveness() *LivenessTable {
	t := &LivenessTable{index: map[ir.Variable]int{}}

	for _, r := range c.sorted() {
		if r.Kind != Code || !r.assigned {
			continue
		}

		var cur set.Bitmap

		for _, an := range r.annotations {
			tr, ok := an.(*TrackVariableLifetime)
			if !ok {
				continue
			}

			v := tr.Var()
			if v == nil {
				continue
			}

			i := t.id(v)

			if tr.Alive {
				cur.Set(i)
			} else {
				cur.Clear(i)
			}

			t.add(r.Address(tr.Offset()), cur.Copy())
		}

		t.add(r.EndAddress(), set.Bitmap{})
	}

	return t
}

func (t *LivenessTable) id(v ir.Variable) int {
	if i, ok := t.index[v]; ok {
		return i
	}

	i := len(t.vars)
	t.vars = append(t.vars, v)
	t.index[v] = i

	return i
}

// add appends a point, replacing the last one if it is at the same address.
func (t *LivenessTable) add(addr uint32, alive set.Bitmap) {
	if l := len(t.points); l != 0 && t.points[l-1].addr == addr {
		t.points[l-1].alive = alive
		return
	}

	t.points = append(t.points, livePoint{addr: addr, alive: alive})
}

func (t *LivenessTable) IsAlive(v ir.Variable, pc uint32) bool {
	i, ok := t.index[v]
	if !ok {
		return false
	}

	p := sort.Search(len(t.points), func(j int) bool { return t.points[j].addr > pc })
	if p == 0 {
		return false
	}

	return t.points[p-1].alive.IsSet(i)
}

// Alive lists the variables alive at pc.
func (t *LivenessTable) Alive(pc uint32) (r []ir.Variable) {
	p := sort.Search(len(t.points), func(j int) bool { return t.points[j].addr > pc })
	if p == 0 {
		return nil
	}

	t.points[p-1].alive.Range(func(i int) bool {
		r = append(r, t.vars[i])
		return true
	})

	return r
}

func (t *LivenessTable) Len() int { return len(t.points) }

func (t *LivenessTable) Dump(b []byte) []byte {
	for _, p := range t.points {
		b = hfmt.Appendf(b, "%08x", p.addr)

		p.alive.Range(func(i int) bool {
			b = hfmt.Appendf(b, " %v", t.vars[i])
			return true
		})

		b = append(b, '\n')
	}

	return b
}
