package front

import (
	"bytes"
	"context"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/NETMF/llilum-sub034/compiler/ir"
	"github.com/NETMF/llilum-sub034/compiler/tp"
)

type (
	// Program is a yaml program description: types with fields, methods
	// made of basic blocks with register allocated operators, and data tables.
	Program struct {
		Types   []TypeDesc   `yaml:"types"`
		Methods []MethodDesc `yaml:"methods"`
		Data    []TableDesc  `yaml:"data"`
	}

	TypeDesc struct {
		Name   string      `yaml:"name"`
		Kind   string      `yaml:"kind"` // class, value or scalar
		Size   int         `yaml:"size"` // scalars only
		Fields []FieldDesc `yaml:"fields"`
	}

	FieldDesc struct {
		Name   string `yaml:"name"`
		Type   string `yaml:"type"`
		Static bool   `yaml:"static"`
		Size   int    `yaml:"size"` // fixed storage size
	}

	MethodDesc struct {
		Owner    string      `yaml:"owner"`
		Name     string      `yaml:"name"`
		External bool        `yaml:"external"`
		Blocks   []BlockDesc `yaml:"blocks"`
	}

	BlockDesc struct {
		Name string   `yaml:"name"`
		Ops  []OpDesc `yaml:"ops"`
	}

	OpDesc struct {
		Op     string   `yaml:"op"`
		Dst    string   `yaml:"dst"`
		Args   []string `yaml:"args"`
		Cond   string   `yaml:"cond"`
		Target string   `yaml:"target"`
		Else   string   `yaml:"else"`
		Method string   `yaml:"method"`
		Field  string   `yaml:"field"`
	}

	// Unit is a loaded program.
	Unit struct {
		Universe   *tp.Universe
		TypeSystem *ir.TypeSystem

		Graphs []*ir.ControlFlowGraph
		Tables []*Table

		methods map[string]*tp.Method
		graphs  map[*tp.Method]*ir.ControlFlowGraph
		blocks  map[*tp.Method]map[string]*ir.BasicBlock
		tables  map[string]*Table
	}
)

var builtins = []struct {
	name string
	size int
}{
	{"int8", 1},
	{"uint8", 1},
	{"int16", 2},
	{"uint16", 2},
	{"int32", 4},
	{"uint32", 4},
	{"int64", 8},
	{"uint64", 8},
	{"float32", 4},
	{"float64", 8},
}

// Parse decodes a program description. Unknown keys are errors.
func Parse(data []byte) (*Program, error) {
	var p Program

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	err := dec.Decode(&p)
	if err != nil {
		return nil, errors.Wrap(err, "decode program")
	}

	return &p, nil
}

func LoadFile(ctx context.Context, name string) (*Unit, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(data), "name", name)

	p, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "%v", name)
	}

	return Load(ctx, p)
}

// Load builds types, method graphs and data tables of p.
func Load(ctx context.Context, p *Program) (u *Unit, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "front: load", "types", len(p.Types), "methods", len(p.Methods), "tables", len(p.Data))
	defer tr.Finish("err", &err)

	u = &Unit{
		Universe: tp.NewUniverse(),
		methods:  map[string]*tp.Method{},
		graphs:   map[*tp.Method]*ir.ControlFlowGraph{},
		blocks:   map[*tp.Method]map[string]*ir.BasicBlock{},
		tables:   map[string]*Table{},
	}

	u.TypeSystem = ir.NewTypeSystem(u.Universe)

	for _, b := range builtins {
		u.Universe.Add(tp.NewScalar(b.name, b.size))
	}

	err = u.loadTypes(p.Types)
	if err != nil {
		return nil, errors.Wrap(err, "types")
	}

	err = u.declareMethods(p.Methods)
	if err != nil {
		return nil, errors.Wrap(err, "methods")
	}

	for _, td := range p.Data {
		if _, ok := u.tables[td.Name]; ok || td.Name == "" {
			return nil, errors.New("table %q: duplicate or empty name", td.Name)
		}

		t := &Table{Name: td.Name}

		u.tables[td.Name] = t
		u.Tables = append(u.Tables, t)
	}

	for _, md := range p.Methods {
		if md.External {
			continue
		}

		m := u.methods[methodKey(md.Owner, md.Name)]

		err = u.buildGraph(ctx, m, md)
		if err != nil {
			return nil, errors.Wrap(err, "method %v", m)
		}
	}

	for i, td := range p.Data {
		err = u.buildTable(u.Tables[i], td)
		if err != nil {
			return nil, errors.Wrap(err, "table %v", td.Name)
		}
	}

	if tr.If("dump_program") {
		for _, g := range u.Graphs {
			for _, bb := range g.Blocks {
				for _, op := range bb.Operators {
					tr.Printw("op", "method", g.Method, "block", bb, "op", op.String())
				}
			}
		}
	}

	return u, nil
}

func (u *Unit) loadTypes(ds []TypeDesc) error {
	types := make([]*tp.Type, len(ds))

	for i, d := range ds {
		if d.Name == "" {
			return errors.New("type #%d: no name", i)
		}

		if u.Universe.Lookup(d.Name) != nil {
			return errors.New("type %v: duplicate", d.Name)
		}

		var t *tp.Type

		switch d.Kind {
		case "", "class":
			t = tp.NewClass(d.Name, 0)
		case "value":
			t = tp.NewValueType(d.Name, 0)
		case "scalar":
			if d.Size <= 0 {
				return errors.New("scalar %v: size required", d.Name)
			}

			t = tp.NewScalar(d.Name, d.Size)
		default:
			return errors.New("type %v: unknown kind %q", d.Name, d.Kind)
		}

		types[i] = u.Universe.Add(t)
	}

	for i, d := range ds {
		t := types[i]

		for _, fd := range d.Fields {
			ft, err := u.lookupType(fd.Type)
			if err != nil {
				return errors.Wrap(err, "field %v.%v", d.Name, fd.Name)
			}

			if t.LookupField(fd.Name, fd.Static) != nil {
				return errors.New("field %v.%v: duplicate", d.Name, fd.Name)
			}

			var fl tp.FieldFlags = tp.FieldPublic
			if fd.Static {
				fl |= tp.FieldStatic
			}

			f := t.AddField(fd.Name, ft, fl)

			if fd.Size != 0 {
				f.Base().SetFixedSize(fd.Size)
			}
		}
	}

	for _, t := range types {
		err := tp.LayoutType(t)
		if err != nil {
			return errors.Wrap(err, "layout %v", t)
		}

		tlog.V("layout").Printw("type laid out", "type", t, "size", t.Size, "static_size", tp.StaticSize(t))
	}

	return nil
}

func (u *Unit) lookupType(name string) (*tp.Type, error) {
	t := u.Universe.Lookup(name)
	if t == nil {
		return nil, errors.New("unknown type %q", name)
	}

	return t, nil
}

func (u *Unit) declareMethods(ds []MethodDesc) error {
	for _, d := range ds {
		owner, err := u.lookupType(d.Owner)
		if err != nil {
			return errors.Wrap(err, "method %v", d.Name)
		}

		key := methodKey(d.Owner, d.Name)

		if _, ok := u.methods[key]; ok || d.Name == "" {
			return errors.New("method %v: duplicate or empty name", key)
		}

		if d.External && len(d.Blocks) != 0 {
			return errors.New("method %v: external method with a body", key)
		}

		if !d.External && len(d.Blocks) == 0 {
			return errors.New("method %v: no blocks", key)
		}

		m := owner.AddMethod(tp.NewMethod(d.Name, nil))
		m.External = d.External

		u.methods[key] = m
	}

	return nil
}

// Method finds a method by its Type::Name reference.
func (u *Unit) Method(ref string) (*tp.Method, error) {
	owner, name, ok := strings.Cut(ref, "::")
	if !ok {
		return nil, errors.New("method reference %q: want Type::Name", ref)
	}

	m, ok := u.methods[methodKey(owner, name)]
	if !ok {
		return nil, errors.New("unknown method %q", ref)
	}

	return m, nil
}

// Field finds a field by its Type.name reference.
func (u *Unit) Field(ref string, static bool) (tp.Field, error) {
	i := strings.LastIndexByte(ref, '.')
	if i < 0 {
		return nil, errors.New("field reference %q: want Type.name", ref)
	}

	t, err := u.lookupType(ref[:i])
	if err != nil {
		return nil, err
	}

	f := t.LookupField(ref[i+1:], static)
	if f == nil {
		return nil, errors.New("unknown field %q (static %v)", ref, static)
	}

	return f, nil
}

// Graph returns the graph built for m, nil for external methods.
func (u *Unit) Graph(m *tp.Method) *ir.ControlFlowGraph { return u.graphs[m] }

// Block finds a named block of m. The exit block is named "exit".
func (u *Unit) Block(m *tp.Method, name string) *ir.BasicBlock { return u.blocks[m][name] }

func (u *Unit) Table(name string) *Table { return u.tables[name] }

func methodKey(owner, name string) string { return owner + "::" + name }
