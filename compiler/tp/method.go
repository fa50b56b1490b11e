package tp

import (
	"strings"

	"tlog.app/go/tlog/tlwire"
)

type (
	// Method is the metadata-level description of one method (MethodRepresentation).
	Method struct {
		Name  string
		Owner *Type

		Params []*Type
		Return *Type

		// Arity is the number of method generic parameters.
		Arity int

		// Declared is the method on the generic type definition this one was
		// copied from when its owner got instantiated.
		Declared *Method

		// Generic and Args describe a method instantiation.
		Generic *Method
		Args    []*Type

		// External marks methods implemented outside of the image (native code).
		External bool
	}
)

func NewMethod(name string, ret *Type, params ...*Type) *Method {
	return &Method{
		Name:   name,
		Params: params,
		Return: ret,
	}
}

// declared returns the method on the open owner definition.
func (m *Method) declared() *Method {
	if m.Generic != nil {
		m = m.Generic
	}

	if m.Declared != nil {
		return m.Declared
	}

	return m
}

func (m *Method) IsOpen() bool {
	if m.Arity != 0 && m.Generic == nil {
		return true
	}

	if m.Owner.IsOpen() {
		return true
	}

	for _, a := range m.Args {
		if a.IsOpen() {
			return true
		}
	}

	return false
}

func (m *Method) String() string {
	if m == nil {
		return "<nil>"
	}

	var b strings.Builder

	if m.Owner != nil {
		b.WriteString(m.Owner.String())
		b.WriteString("::")
	}

	b.WriteString(m.Name)

	if len(m.Args) != 0 {
		b.WriteByte('<')

		for i, a := range m.Args {
			if i != 0 {
				b.WriteByte(',')
			}

			b.WriteString(a.String())
		}

		b.WriteByte('>')
	}

	return b.String()
}

func (m *Method) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if m == nil {
		return e.AppendNil(b)
	}

	return e.AppendFormat(b, "%v", m.String())
}
