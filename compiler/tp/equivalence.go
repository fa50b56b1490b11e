package tp

type (
	// EquivalenceSet records pairs of types from independently loaded
	// type systems that are to be treated as the same type.
	EquivalenceSet struct {
		pairs map[[2]*Type]struct{}
	}
)

func NewEquivalenceSet() *EquivalenceSet {
	return &EquivalenceSet{pairs: map[[2]*Type]struct{}{}}
}

func (s *EquivalenceSet) Add(x, y *Type) {
	s.pairs[[2]*Type{x, y}] = struct{}{}
	s.pairs[[2]*Type{y, x}] = struct{}{}
}

// Equal is nil-safe: a nil set only matches identical or structurally
// instantiated-identical types.
func (s *EquivalenceSet) Equal(x, y *Type) bool {
	if x == y {
		return true
	}

	if x == nil || y == nil {
		return false
	}

	if s != nil {
		if _, ok := s.pairs[[2]*Type{x, y}]; ok {
			return true
		}
	}

	if x.Generic == nil || y.Generic == nil || len(x.Args) != len(y.Args) {
		return false
	}

	if !s.Equal(x.Generic, y.Generic) {
		return false
	}

	for i := range x.Args {
		if !s.Equal(x.Args[i], y.Args[i]) {
			return false
		}
	}

	return true
}
