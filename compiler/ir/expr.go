package ir

import (
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"

	"github.com/NETMF/llilum-sub034/compiler/tp"
)

type (
	// Expression is an IR value used as an operator result or argument.
	// Expressions are identified by reference.
	Expression interface {
		Type() *tp.Type
		Clone(c *CloningContext) Expression
		String() string
	}

	// Variable is an Expression that names storage.
	Variable interface {
		Expression

		Base() *VariableBase
	}

	VariableBase struct {
		typ   *tp.Type
		Name  string
		Index int

		Graph *ControlFlowGraph
	}

	TemporaryVariable struct {
		VariableBase
	}

	LocalVariable struct {
		VariableBase
	}

	ArgumentVariable struct {
		VariableBase
	}

	// PhysicalRegister is canonical per graph, see ControlFlowGraph.Register.
	PhysicalRegister struct {
		VariableBase

		Reg Register
	}

	// StackLocation is the stack slot a Source variable was spilled to.
	StackLocation struct {
		VariableBase

		Source Variable
		Slot   int
	}

	// Constant is an immediate value.
	// Target is set for address constants and is a tp.Field or *tp.Method.
	Constant struct {
		typ *tp.Type

		Value  int64
		Target any
	}

	Register struct {
		Name  string
		Num   int
		Class RegisterClass
	}
)

func NewConstant(t *tp.Type, v int64) *Constant {
	return &Constant{typ: t, Value: v}
}

// NewAddressOf is a constant holding the address of a static field or a method.
func NewAddressOf(t *tp.Type, target any) *Constant {
	switch target.(type) {
	case tp.Field, *tp.Method:
	default:
		panic(errors.New("unsupported address constant target: %T", target))
	}

	return &Constant{typ: t, Target: target}
}

func (v *VariableBase) Base() *VariableBase { return v }
func (v *VariableBase) Type() *tp.Type      { return v.typ }

func (v *TemporaryVariable) String() string { return fmt.Sprintf("$t%d", v.Index) }
func (v *LocalVariable) String() string     { return nameOr(v.Name, "$l", v.Index) }
func (v *ArgumentVariable) String() string  { return nameOr(v.Name, "$a", v.Index) }
func (v *PhysicalRegister) String() string  { return v.Reg.Name }
func (v *StackLocation) String() string     { return fmt.Sprintf("[sp+%d](%v)", v.Slot, v.Source) }

func (c *Constant) Type() *tp.Type { return c.typ }

func (c *Constant) String() string {
	switch t := c.Target.(type) {
	case nil:
		return fmt.Sprintf("$%d", c.Value)
	case tp.Field:
		return fmt.Sprintf("&%v", t.Name())
	case *tp.Method:
		return fmt.Sprintf("&%v", t)
	default:
		return fmt.Sprintf("&%v", t)
	}
}

func (v *TemporaryVariable) Clone(c *CloningContext) Expression {
	x := c.dst.NewTemporary(c.ConvertType(v.typ))
	c.RegisterExpression(v, x)

	return x
}

func (v *LocalVariable) Clone(c *CloningContext) Expression {
	if c.SameGraph() {
		c.RegisterExpression(v, v)
		return v
	}

	x := c.dst.NewLocal(c.ConvertType(v.typ), v.Name)
	c.RegisterExpression(v, x)

	return x
}

func (v *ArgumentVariable) Clone(c *CloningContext) Expression {
	if c.SameGraph() {
		c.RegisterExpression(v, v)
		return v
	}

	x := c.dst.NewArgument(c.ConvertType(v.typ), v.Name)
	c.RegisterExpression(v, x)

	return x
}

func (v *PhysicalRegister) Clone(c *CloningContext) Expression {
	x := c.dst.Register(v.Reg, c.ConvertType(v.typ))
	c.RegisterExpression(v, x)

	return x
}

func (v *StackLocation) Clone(c *CloningContext) Expression {
	x := &StackLocation{Slot: v.Slot}
	x.typ = c.ConvertType(v.typ)
	x.Index = v.Index
	x.Graph = c.dst

	c.RegisterExpression(v, x)

	if v.Source != nil {
		x.Source = c.CloneVariable(v.Source)
	}

	c.dst.Stack = append(c.dst.Stack, x)

	return x
}

func (v *Constant) Clone(c *CloningContext) Expression {
	x := &Constant{
		typ:   c.ConvertType(v.typ),
		Value: v.Value,
	}

	switch t := v.Target.(type) {
	case tp.Field:
		x.Target = c.ConvertField(t)
	case *tp.Method:
		x.Target = c.ConvertMethod(t)
	}

	c.RegisterExpression(v, x)

	return x
}

func (r Register) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	return e.AppendFormat(b, "%s", r.Name)
}

func nameOr(name, pref string, idx int) string {
	if name != "" {
		return name
	}

	return fmt.Sprintf("%s%d", pref, idx)
}
