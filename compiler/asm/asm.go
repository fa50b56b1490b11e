package asm

import "tlog.app/go/errors"

type (
	// Field is a bit field of an opcode word.
	Field struct {
		Pos int
		Len int
	}

	// Flag is a single bit field.
	Flag int
)

func F(pos, l int) Field { return Field{Pos: pos, Len: l} }

func (f Field) Mask() uint32 {
	if f.Len >= 32 {
		return ^uint32(0)
	}

	return (1<<f.Len - 1) << f.Pos
}

func (f Field) Max() uint32 { return f.Mask() >> f.Pos }

func (f Field) Extract(w uint32) uint32 {
	return (w & f.Mask()) >> f.Pos
}

// Insert replaces the field in w with v. v must fit the field.
func (f Field) Insert(w, v uint32) uint32 {
	if v > f.Max() {
		panic(errors.New("value %#x does not fit %d bits", v, f.Len))
	}

	return w&^f.Mask() | v<<f.Pos
}

// SignExtend extracts the field as a two's complement number.
func (f Field) SignExtend(w uint32) int32 {
	v := f.Extract(w)
	s := 32 - f.Len

	return int32(v<<s) >> s
}

// InsertSigned inserts the low bits of a two's complement v.
func (f Field) InsertSigned(w uint32, v int32) uint32 {
	return w&^f.Mask() | uint32(v)<<f.Pos&f.Mask()
}

// FitsSigned reports whether v is representable by the field as signed.
func (f Field) FitsSigned(v int64) bool {
	lim := int64(1) << (f.Len - 1)

	return v >= -lim && v < lim
}

func (f Flag) Get(w uint32) bool { return w&(1<<f) != 0 }

func (f Flag) Set(w uint32, v bool) uint32 {
	if v {
		return w | 1<<f
	}

	return w &^ (1 << f)
}
