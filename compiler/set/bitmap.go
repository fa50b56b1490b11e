package set

import (
	"math/bits"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/tlog/tlwire"
)

type (
	// Bitmap is a growable set of small non-negative ints.
	// The zero value is an empty set.
	Bitmap struct {
		b  []uint64
		b0 [1]uint64
	}
)

func NewBitmap(n int) *Bitmap {
	s := MakeBitmap(n)
	return &s
}

func MakeBitmap(n int) Bitmap {
	s := Bitmap{}
	s.b = s.b0[:]

	if n = (n + 63) / 64; n > len(s.b) {
		s.b = make([]uint64, n)
	}

	return s
}

func (s *Bitmap) Set(i int) {
	w, j := i/64, i%64

	s.grow(w)

	s.b[w] |= 1 << j
}

func (s *Bitmap) Clear(i int) {
	w, j := i/64, i%64

	if w >= len(s.b) {
		return
	}

	s.b[w] &^= 1 << j
}

func (s *Bitmap) IsSet(i int) bool {
	if s == nil || i < 0 {
		return false
	}

	w, j := i/64, i%64

	return w < len(s.b) && s.b[w]&(1<<j) != 0
}

func (s *Bitmap) Or(x Bitmap) {
	if len(x.b) != 0 {
		s.grow(len(x.b) - 1)
	}

	for i, x := range x.b {
		s.b[i] |= x
	}
}

func (s *Bitmap) AndNot(x Bitmap) {
	for i, x := range x.b {
		if i == len(s.b) {
			break
		}

		s.b[i] &^= x
	}
}

// Equal compares set contents, trailing zero words are ignored.
func (s *Bitmap) Equal(x Bitmap) bool {
	n := max(len(s.b), len(x.b))

	for i := 0; i < n; i++ {
		if word(s.b, i) != word(x.b, i) {
			return false
		}
	}

	return true
}

func (s *Bitmap) Copy() Bitmap {
	r := MakeBitmap(len(s.b) * 64)
	copy(r.b, s.b)

	return r
}

func (s *Bitmap) Size() (r int) {
	if s == nil {
		return 0
	}

	for _, c := range s.b {
		r += bits.OnesCount64(c)
	}

	return r
}

func (s *Bitmap) Reset() {
	for i := range s.b {
		s.b[i] = 0
	}
}

// Range calls f for set elements in ascending order until f returns false.
func (s *Bitmap) Range(f func(i int) bool) {
	for w, x := range s.b {
		for x != 0 {
			j := bits.TrailingZeros64(x)
			x &^= 1 << j

			if !f(w*64 + j) {
				return
			}
		}
	}
}

func (s *Bitmap) Slice() []int {
	r := make([]int, 0, s.Size())

	s.Range(func(i int) bool {
		r = append(r, i)
		return true
	})

	return r
}

func (s *Bitmap) First() int {
	for w, x := range s.b {
		if x != 0 {
			return w*64 + bits.TrailingZeros64(x)
		}
	}

	return -1
}

func (s *Bitmap) AppendText(b []byte) []byte {
	b = append(b, '{')

	s.Range(func(i int) bool {
		if b[len(b)-1] != '{' {
			b = append(b, ' ')
		}

		b = hfmt.Appendf(b, "%d", i)

		return true
	})

	return append(b, '}')
}

func (s Bitmap) String() string { return string(s.AppendText(nil)) }

func (s Bitmap) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	if s.b == nil {
		return e.AppendNil(b)
	}

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(i int) bool {
		b = e.AppendInt(b, i)
		return true
	})

	return e.AppendBreak(b)
}

func (s *Bitmap) grow(w int) {
	for w >= len(s.b) {
		s.b = append(s.b, 0)
	}
}

func word(b []uint64, i int) uint64 {
	if i < len(b) {
		return b[i]
	}

	return 0
}
