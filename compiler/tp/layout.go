package tp

import "tlog.app/go/errors"

// LayoutType assigns offsets to the instance fields of t sequentially,
// each aligned to its own storage size, and fills t.Size for
// non-scalar types. Static fields get offsets inside the owner's
// static storage block, see StaticSize.
func LayoutType(t *Type) error {
	if t.laidOut {
		return nil
	}

	if t.IsOpen() {
		return errors.New("cannot lay out open type %v", t)
	}

	if t.layingOut {
		return errors.New("recursive value type %v", t)
	}

	t.layingOut = true
	defer func() { t.layingOut = false }()

	off := 0

	for _, f := range t.Fields {
		size, err := fieldSize(f)
		if err != nil {
			return errors.Wrap(err, "field %v", f.name)
		}

		off = alignTo(off, size)
		f.SetOffset(off)
		off += size
	}

	if t.Kind != Scalar {
		t.Size = alignTo(off, PointerSize)
	}

	// static storage may hold t itself
	t.laidOut = true

	off = 0

	for _, f := range t.StaticFields {
		size, err := fieldSize(f)
		if err != nil {
			t.laidOut = false
			return errors.Wrap(err, "static field %v", f.name)
		}

		off = alignTo(off, size)
		f.SetOffset(off)
		off += size
	}

	return nil
}

// StaticSize is the size of the static storage block of t.
func StaticSize(t *Type) int {
	end := 0

	for _, f := range t.StaticFields {
		size, _ := fieldSize(f)

		if e := f.Offset() + size; e > end {
			end = e
		}
	}

	return alignTo(end, PointerSize)
}

func fieldSize(f Field) (int, error) {
	b := f.Base()

	if b.flags&FieldHasFixedSize != 0 {
		return b.fixedSize, nil
	}

	if b.typ == nil {
		return 0, errors.New("no field type")
	}

	if b.typ.Kind == ValueType {
		if err := LayoutType(b.typ); err != nil {
			return 0, err
		}
	}

	size := b.typ.StorageSize()
	if size <= 0 {
		return 0, errors.New("type %v has no size", b.typ)
	}

	return size, nil
}

func alignTo(v, a int) int {
	if a <= 1 {
		return v
	}

	if a > PointerSize {
		a = PointerSize
	}

	if rem := v % a; rem != 0 {
		return v + a - rem
	}

	return v
}
