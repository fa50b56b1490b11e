package tp

import (
	"fmt"
	"strings"

	"tlog.app/go/tlog/tlwire"
)

type (
	Kind int

	// Type is the metadata-level description of one type (TypeRepresentation).
	Type struct {
		Name string
		Kind Kind

		// Size is the storage size of a value of this type.
		// Class types are stored by reference, see StorageSize.
		Size int

		// Arity is the number of generic parameters of a type definition.
		Arity int
		// Index is the position of a generic parameter.
		Index int

		Generic *Type   // definition of an instantiated type
		Args    []*Type // type arguments of an instantiated type

		Fields       []*InstanceField
		StaticFields []*StaticField
		Methods      []*Method

		laidOut   bool
		layingOut bool
	}
)

const (
	Scalar Kind = iota
	Class
	ValueType
	GenericParameter
	MethodGenericParameter
)

const PointerSize = 4

func NewScalar(name string, size int) *Type {
	return &Type{Name: name, Kind: Scalar, Size: size, laidOut: true}
}

func NewClass(name string, arity int) *Type {
	return &Type{Name: name, Kind: Class, Arity: arity}
}

func NewValueType(name string, arity int) *Type {
	return &Type{Name: name, Kind: ValueType, Arity: arity}
}

func NewGenericParameter(name string, index int) *Type {
	return &Type{Name: name, Kind: GenericParameter, Index: index, Size: PointerSize}
}

func NewMethodGenericParameter(name string, index int) *Type {
	return &Type{Name: name, Kind: MethodGenericParameter, Index: index, Size: PointerSize}
}

func (t *Type) IsScalar() bool { return t != nil && t.Kind == Scalar }

// IsOpen reports whether t still references generic parameters.
func (t *Type) IsOpen() bool {
	if t == nil {
		return false
	}

	switch t.Kind {
	case GenericParameter, MethodGenericParameter:
		return true
	}

	if t.Generic == nil && t.Arity != 0 {
		return true
	}

	for _, a := range t.Args {
		if a.IsOpen() {
			return true
		}
	}

	return false
}

// StorageSize is the number of bytes a field of type t occupies.
func (t *Type) StorageSize() int {
	switch t.Kind {
	case Class, GenericParameter, MethodGenericParameter:
		return PointerSize
	}

	return t.Size
}

func (t *Type) AddField(name string, typ *Type, flags FieldFlags) Field {
	if flags&FieldStatic != 0 {
		f := NewStaticField(t, name, typ)
		f.flags = flags

		t.StaticFields = append(t.StaticFields, f)

		return f
	}

	f := NewInstanceField(t, name, typ)
	f.flags = flags

	t.Fields = append(t.Fields, f)

	return f
}

// LookupField finds the field declared on t by name.
func (t *Type) LookupField(name string, static bool) Field {
	if static {
		for _, f := range t.StaticFields {
			if f.name == name {
				return f
			}
		}

		return nil
	}

	for _, f := range t.Fields {
		if f.name == name {
			return f
		}
	}

	return nil
}

func (t *Type) AddMethod(m *Method) *Method {
	m.Owner = t
	t.Methods = append(t.Methods, m)

	return m
}

func (t *Type) LookupMethod(name string) *Method {
	for _, m := range t.Methods {
		if m.Name == name {
			return m
		}
	}

	return nil
}

func (t *Type) String() string {
	if t == nil {
		return "<nil>"
	}

	if len(t.Args) == 0 {
		return t.Name
	}

	var b strings.Builder

	b.WriteString(t.Name)
	b.WriteByte('<')

	for i, a := range t.Args {
		if i != 0 {
			b.WriteByte(',')
		}

		b.WriteString(a.String())
	}

	b.WriteByte('>')

	return b.String()
}

func (t *Type) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if t == nil {
		return e.AppendNil(b)
	}

	return e.AppendFormat(b, "%v", t.String())
}

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Class:
		return "class"
	case ValueType:
		return "valuetype"
	case GenericParameter:
		return "!T"
	case MethodGenericParameter:
		return "!!T"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}
