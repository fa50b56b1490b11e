package ir

import (
	"github.com/NETMF/llilum-sub034/compiler/tp"
)

type (
	// TypeSystem is the per-compilation state shared by IR passes.
	// It owns the annotation intern table.
	TypeSystem struct {
		Universe *tp.Universe

		// CodeTransformation is set once code generation started,
		// ProhibitedUses passes only prune in this mode.
		CodeTransformation bool

		intern     map[any][]Annotation
		prohibited map[*tp.Method]struct{}
	}
)

func NewTypeSystem(u *tp.Universe) *TypeSystem {
	if u == nil {
		u = tp.NewUniverse()
	}

	return &TypeSystem{
		Universe:   u,
		intern:     map[any][]Annotation{},
		prohibited: map[*tp.Method]struct{}{},
	}
}

// Intern returns the canonical annotation equal to a.
// a itself becomes canonical if there is none yet.
func (ts *TypeSystem) Intern(a Annotation) Annotation {
	k := a.internKey()

	for _, x := range ts.intern[k] {
		if x.Equal(a) {
			return x
		}
	}

	ts.intern[k] = append(ts.intern[k], a)

	return a
}

// InternedCount is the number of distinct annotations interned so far.
func (ts *TypeSystem) InternedCount() (n int) {
	for _, l := range ts.intern {
		n += len(l)
	}

	return n
}

func (ts *TypeSystem) ProhibitMethod(m *tp.Method) {
	ts.prohibited[m] = struct{}{}
}

func (ts *TypeSystem) IsProhibited(m *tp.Method) bool {
	_, ok := ts.prohibited[m]
	return ok
}
