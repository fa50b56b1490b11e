package tp

import (
	"tlog.app/go/errors"
)

type (
	// Universe owns canonical generic instantiations,
	// so instantiating twice with the same arguments yields the same object.
	Universe struct {
		types  []*Type
		byName map[string]*Type
		insts  map[*Type][]*Type
		minsts map[*Method][]*Method
	}

	// Instantiation substitutes generic parameters.
	// A nil *Instantiation is the identity.
	Instantiation struct {
		u *Universe

		TypeArgs   []*Type
		MethodArgs []*Type
	}
)

func NewUniverse() *Universe {
	return &Universe{
		byName: map[string]*Type{},
		insts:  map[*Type][]*Type{},
		minsts: map[*Method][]*Method{},
	}
}

func (u *Universe) Add(t *Type) *Type {
	if _, ok := u.byName[t.Name]; ok && t.Generic == nil {
		panic(errors.New("duplicate type %v", t.Name))
	}

	u.types = append(u.types, t)

	if t.Generic == nil {
		u.byName[t.Name] = t
	}

	return t
}

func (u *Universe) Lookup(name string) *Type { return u.byName[name] }

func (u *Universe) Types() []*Type { return u.types }

// Instantiate returns the canonical instantiation of def with args.
func (u *Universe) Instantiate(def *Type, args ...*Type) *Type {
	if def.Arity != len(args) {
		panic(errors.New("type %v expects %d arguments, got %d", def, def.Arity, len(args)))
	}

	if len(args) == 0 {
		return def
	}

	for _, x := range u.insts[def] {
		if sameTypes(x.Args, args) {
			return x
		}
	}

	t := &Type{
		Name:    def.Name,
		Kind:    def.Kind,
		Size:    def.Size,
		Generic: def,
		Args:    append([]*Type{}, args...),
	}

	u.insts[def] = append(u.insts[def], t)
	u.types = append(u.types, t)

	in := &Instantiation{u: u, TypeArgs: t.Args}

	for _, f := range def.Fields {
		nf := NewInstanceField(t, f.name, in.SubstituteType(f.typ))
		nf.flags = f.flags
		nf.fixedSize = f.fixedSize

		t.Fields = append(t.Fields, nf)
	}

	for _, f := range def.StaticFields {
		nf := NewStaticField(t, f.name, in.SubstituteType(f.typ))
		nf.flags = f.flags
		nf.fixedSize = f.fixedSize

		t.StaticFields = append(t.StaticFields, nf)
	}

	for _, m := range def.Methods {
		nm := &Method{
			Name:     m.Name,
			Owner:    t,
			Return:   in.SubstituteType(m.Return),
			Params:   in.SubstituteTypes(m.Params),
			Arity:    m.Arity,
			Declared: m,
			External: m.External,
		}

		t.Methods = append(t.Methods, nm)
	}

	return t
}

// InstantiateMethod returns the canonical method instantiation of m with args.
func (u *Universe) InstantiateMethod(m *Method, args ...*Type) *Method {
	if m.Generic != nil {
		m = m.Generic
	}

	if m.Arity != len(args) {
		panic(errors.New("method %v expects %d arguments, got %d", m, m.Arity, len(args)))
	}

	if len(args) == 0 {
		return m
	}

	for _, x := range u.minsts[m] {
		if sameTypes(x.Args, args) {
			return x
		}
	}

	in := &Instantiation{u: u, MethodArgs: args}

	if m.Owner != nil {
		in.TypeArgs = m.Owner.Args
	}

	x := &Method{
		Name:     m.Name,
		Owner:    m.Owner,
		Return:   in.SubstituteType(m.Return),
		Params:   in.SubstituteTypes(m.Params),
		Generic:  m,
		Args:     append([]*Type{}, args...),
		External: m.External,
	}

	u.minsts[m] = append(u.minsts[m], x)

	return x
}

func (u *Universe) NewInstantiation(typeArgs, methodArgs []*Type) *Instantiation {
	return &Instantiation{u: u, TypeArgs: typeArgs, MethodArgs: methodArgs}
}

func (in *Instantiation) SubstituteType(t *Type) *Type {
	if in == nil || t == nil {
		return t
	}

	switch t.Kind {
	case GenericParameter:
		if t.Index < len(in.TypeArgs) {
			return in.TypeArgs[t.Index]
		}

		return t
	case MethodGenericParameter:
		if t.Index < len(in.MethodArgs) {
			return in.MethodArgs[t.Index]
		}

		return t
	}

	if t.Generic == nil {
		return t
	}

	args := in.SubstituteTypes(t.Args)
	if sameTypes(args, t.Args) {
		return t
	}

	return in.u.Instantiate(t.Generic, args...)
}

func (in *Instantiation) SubstituteTypes(ts []*Type) []*Type {
	if in == nil || len(ts) == 0 {
		return ts
	}

	var r []*Type

	for i, t := range ts {
		x := in.SubstituteType(t)

		if r == nil && x != t {
			r = append(make([]*Type, 0, len(ts)), ts[:i]...)
		}

		if r != nil {
			r = append(r, x)
		}
	}

	if r == nil {
		return ts
	}

	return r
}

func (in *Instantiation) SubstituteField(f Field) Field {
	if in == nil || f == nil {
		return f
	}

	owner := in.SubstituteType(f.Owner())
	if owner == f.Owner() {
		return f
	}

	_, static := f.(*StaticField)

	x := owner.LookupField(f.Name(), static)
	if x == nil {
		panic(errors.New("field %v not found in %v", f, owner))
	}

	return x
}

func (in *Instantiation) SubstituteMethod(m *Method) *Method {
	if in == nil || m == nil {
		return m
	}

	owner := in.SubstituteType(m.Owner)
	args := in.SubstituteTypes(m.Args)

	if owner == m.Owner && sameTypes(args, m.Args) {
		return m
	}

	base := m
	if m.Generic != nil {
		base = m.Generic
	}

	if owner != m.Owner {
		decl := m.declared()
		base = nil

		for _, x := range owner.Methods {
			if x.declared() == decl {
				base = x
				break
			}
		}

		if base == nil {
			panic(errors.New("method %v not found in %v", m, owner))
		}
	}

	if len(args) == 0 {
		return base
	}

	return in.u.InstantiateMethod(base, args...)
}

// IsIdentity reports whether the instantiation substitutes nothing.
func (in *Instantiation) IsIdentity() bool {
	return in == nil || len(in.TypeArgs) == 0 && len(in.MethodArgs) == 0
}

func sameTypes(a, b []*Type) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
