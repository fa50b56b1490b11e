package image

import (
	"os"

	"gopkg.in/yaml.v3"
	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

type (
	// Layout describes target memory and linking limits.
	Layout struct {
		Flash Memory `yaml:"flash"`
		RAM   Memory `yaml:"ram"`

		// Align is the alignment of method entry points.
		Align int `yaml:"align"`

		// MaxPasses bounds the relocation fixed point.
		MaxPasses int `yaml:"max_passes"`

		// BranchReach limits short PC-relative branches, in bytes.
		// Zero means the reach of the instruction encoding.
		BranchReach int `yaml:"branch_reach"`

		// Externals are addresses of native routines called from the image.
		Externals map[string]uint32 `yaml:"externals"`
	}

	Memory struct {
		Base uint32 `yaml:"base"`
		Size uint32 `yaml:"size"`
	}

	// Image is the result of linking.
	Image struct {
		Flash []byte
		Base  uint32

		Symbols  []Symbol
		Liveness *LivenessTable
	}

	Symbol struct {
		Name    string
		Kind    RegionKind
		Address uint32
		Size    int
	}

	placement struct {
		heap.Heap[*Region]
	}
)

// DefaultMaxPasses bounds the relocation fixed point when the layout does not.
const DefaultMaxPasses = 16

const (
	flash = iota
	ram
)

func DefaultLayout() Layout {
	return Layout{
		Flash:     Memory{Base: 0x0000_0000, Size: 1 << 20},
		RAM:       Memory{Base: 0x2000_0000, Size: 128 << 10},
		Align:     4,
		MaxPasses: DefaultMaxPasses,
	}
}

// ParseLayout reads a yaml layout over the defaults.
func ParseLayout(data []byte) (l Layout, err error) {
	l = DefaultLayout()

	err = yaml.Unmarshal(data, &l)
	if err != nil {
		return l, errors.Wrap(err, "parse layout")
	}

	if l.Align <= 0 || l.Align&(l.Align-1) != 0 {
		return l, errors.New("bad alignment: %d", l.Align)
	}

	if l.MaxPasses <= 0 {
		return l, errors.New("bad max_passes: %d", l.MaxPasses)
	}

	return l, nil
}

func LoadLayout(name string) (Layout, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return Layout{}, errors.Wrap(err, "read layout")
	}

	return ParseLayout(data)
}

func (k RegionKind) memory() int {
	if k == StaticField {
		return ram
	}

	return flash
}

// rank orders flash contents: code interleaved with its literal pools,
// then native call stubs, then data.
func (k RegionKind) rank() int {
	switch k {
	case Code, Constant:
		return 0
	case External:
		return 1
	default:
		return 2
	}
}

func placementLess(d []*Region, i, j int) bool {
	a, b := d[i], d[j]

	if a.Kind.memory() != b.Kind.memory() {
		return a.Kind.memory() < b.Kind.memory()
	}

	if a.Kind.rank() != b.Kind.rank() {
		return a.Kind.rank() < b.Kind.rank()
	}

	return a.seq < b.seq
}

func (c *Core) sorted() []*Region {
	q := placement{Heap: heap.Heap[*Region]{Less: placementLess}}

	for _, r := range c.regions {
		q.Push(r)
	}

	res := make([]*Region, 0, q.Len())

	for q.Len() != 0 {
		res = append(res, q.Pop())
	}

	return res
}

// AssignAddresses places all regions into the layout memories.
// Pending literal pool entries are flushed first.
func (c *Core) AssignAddresses() error {
	c.FlushConstants()

	mem := [...]Memory{flash: c.Layout.Flash, ram: c.Layout.RAM}
	next := [...]uint32{flash: mem[flash].Base, ram: mem[ram].Base}

	for _, r := range c.sorted() {
		m := r.Kind.memory()

		a := alignUp(next[m], r.Align)
		r.assign(a)

		next[m] = a + uint32(r.Size())

		tlog.V("layout").Printw("region placed", "region", r, "kind", r.Kind, "base", a, "size", r.Size())

		if mem[m].Size != 0 && next[m]-mem[m].Base > mem[m].Size {
			return errors.New("%v does not fit memory at %#x: %d > %d", r, mem[m].Base, next[m]-mem[m].Base, mem[m].Size)
		}
	}

	return nil
}

// Image collects placed flash regions into one byte image.
func (c *Core) Image() *Image {
	img := &Image{
		Base:     c.Layout.Flash.Base,
		Liveness: c.Liveness(),
	}

	for _, r := range c.sorted() {
		img.Symbols = append(img.Symbols, Symbol{
			Name:    r.Name,
			Kind:    r.Kind,
			Address: r.Base(),
			Size:    r.Size(),
		})

		if r.Kind.memory() != flash {
			continue
		}

		off := int(r.Base() - img.Base)

		for len(img.Flash) < off {
			img.Flash = append(img.Flash, 0xff)
		}

		img.Flash = append(img.Flash, r.payload...)
	}

	return img
}

// Lookup finds the symbol containing addr.
func (img *Image) Lookup(addr uint32) (Symbol, bool) {
	for _, s := range img.Symbols {
		if addr >= s.Address && addr < s.Address+uint32(s.Size) {
			return s, true
		}
	}

	return Symbol{}, false
}

func alignUp(v uint32, a int) uint32 {
	if a <= 1 {
		return v
	}

	m := uint32(a - 1)

	return (v + m) &^ m
}
