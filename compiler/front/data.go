package front

import (
	"tlog.app/go/errors"

	"github.com/NETMF/llilum-sub034/compiler/image"
	"github.com/NETMF/llilum-sub034/compiler/ir"
	"github.com/NETMF/llilum-sub034/compiler/tp"
)

type (
	// TableDesc is a read-only data table placed into flash.
	TableDesc struct {
		Name    string      `yaml:"name"`
		Entries []EntryDesc `yaml:"entries"`
	}

	// EntryDesc is one 4-byte table slot. Exactly one of Word, Method,
	// Field or Table is set. Block narrows Method to one of its blocks.
	// Delta is added to the resolved address.
	EntryDesc struct {
		Word   *uint32 `yaml:"word"`
		Method string  `yaml:"method"`
		Block  string  `yaml:"block"`
		Field  string  `yaml:"field"`
		Table  string  `yaml:"table"`
		Delta  int     `yaml:"delta"`
	}

	// Table emits its region on every linker pass.
	Table struct {
		Name string

		entries []entry
		region  *image.Region
	}

	entry struct {
		word   uint32
		target any
		delta  int
	}
)

func (u *Unit) buildTable(t *Table, d TableDesc) error {
	for i, ed := range d.Entries {
		e, err := u.entry(ed)
		if err != nil {
			return errors.Wrap(err, "entry %d", i)
		}

		t.entries = append(t.entries, e)
	}

	return nil
}

func (u *Unit) entry(d EntryDesc) (e entry, err error) {
	n := 0

	for _, set := range []bool{d.Word != nil, d.Method != "", d.Field != "", d.Table != ""} {
		if set {
			n++
		}
	}

	if n != 1 {
		return e, errors.New("want exactly one of word, method, field, table")
	}

	if d.Block != "" && d.Method == "" {
		return e, errors.New("block without method")
	}

	e.delta = d.Delta

	switch {
	case d.Word != nil:
		if d.Delta != 0 {
			return e, errors.New("delta on a word")
		}

		e.word = *d.Word
	case d.Method != "":
		m, err := u.Method(d.Method)
		if err != nil {
			return e, err
		}

		if m.External {
			return e, errors.New("pointer to external method %v", m)
		}

		e.target = m

		if d.Block == "" {
			break
		}

		bb, ok := u.blocks[m][d.Block]
		if !ok {
			return e, errors.New("method %v: unknown block %q", m, d.Block)
		}

		e.target = bb
	case d.Field != "":
		f, err := u.Field(d.Field, true)
		if err != nil {
			return e, err
		}

		e.target = f.(*tp.StaticField)
	case d.Table != "":
		t, ok := u.tables[d.Table]
		if !ok {
			return e, errors.New("unknown table %q", d.Table)
		}

		e.target = t
	}

	return e, nil
}

// EmitData creates the table region and its relocations.
func (t *Table) EmitData(c *image.Core) error {
	r := c.NewRegion(image.Data, t.Name, t)
	t.region = r

	for _, e := range t.entries {
		switch x := e.target.(type) {
		case nil:
			r.Emit32(e.word)
		case *ir.BasicBlock:
			if e.delta != 0 {
				r.WriteExternalPointer(x, e.delta)
				break
			}

			r.WritePointerToBasicBlock(x)
		case *tp.StaticField:
			if e.delta != 0 {
				c.StaticRegion(x.Owner())
				r.WriteExternalPointer(x, e.delta)

				break
			}

			r.WritePointerToField(x)
		default:
			if e.delta != 0 {
				r.WriteExternalPointer(x, e.delta)
				break
			}

			r.WritePointer(x)
		}
	}

	return nil
}

func (t *Table) ImageRegion() *image.Region { return t.region }

func (t *Table) Len() int { return len(t.entries) }

func (t *Table) String() string { return t.Name }
