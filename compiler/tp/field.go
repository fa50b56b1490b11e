package tp

import (
	"math"
	"reflect"

	"tlog.app/go/errors"
)

type (
	// FieldFlags mirrors the metadata field attributes, extended with
	// values produced by the compiler's own analyses.
	FieldFlags uint32

	// Field is implemented by *InstanceField and *StaticField.
	Field interface {
		Base() *FieldBase

		Owner() *Type
		Name() string
		Type() *Type
		Flags() FieldFlags

		ValidLayout() bool
		Offset() int
		SetOffset(int)

		String() string
	}

	FieldBase struct {
		owner *Type
		name  string
		typ   *Type
		flags FieldFlags

		// populated by constant detection
		fixedSize int

		// synthesized by type layout
		offset int
	}

	InstanceField struct {
		FieldBase

		static *StaticField
	}

	StaticField struct {
		FieldBase

		instance *InstanceField
	}
)

const (
	FieldAccessMask   FieldFlags = 0x00000007
	FieldPrivateScope FieldFlags = 0x00000000
	FieldPrivate      FieldFlags = 0x00000001
	FieldFamANDAssem  FieldFlags = 0x00000002
	FieldAssembly     FieldFlags = 0x00000003
	FieldFamily       FieldFlags = 0x00000004
	FieldFamORAssem   FieldFlags = 0x00000005
	FieldPublic       FieldFlags = 0x00000006

	FieldStatic        FieldFlags = 0x00000010
	FieldInitOnly      FieldFlags = 0x00000020
	FieldLiteral       FieldFlags = 0x00000040
	FieldNotSerialized FieldFlags = 0x00000080
	FieldSpecialName   FieldFlags = 0x00000200

	FieldPinvokeImpl FieldFlags = 0x00002000

	FieldReservedMask    FieldFlags = 0x00009500
	FieldRTSpecialName   FieldFlags = 0x00000400
	FieldHasFieldMarshal FieldFlags = 0x00001000
	FieldHasDefault      FieldFlags = 0x00008000
	FieldHasFieldRVA     FieldFlags = 0x00000100

	FieldIsVolatile          FieldFlags = 0x00010000
	FieldHasSingleAssignment FieldFlags = 0x00020000
	FieldNeverNull           FieldFlags = 0x00040000
	FieldHasFixedSize        FieldFlags = 0x00080000
)

const invalidOffset = math.MinInt32

func NewInstanceField(owner *Type, name string, typ *Type) *InstanceField {
	f := &InstanceField{}
	f.init(owner, name, typ)

	return f
}

func NewStaticField(owner *Type, name string, typ *Type) *StaticField {
	f := &StaticField{}
	f.init(owner, name, typ)
	f.flags |= FieldStatic

	return f
}

func (f *FieldBase) init(owner *Type, name string, typ *Type) {
	if owner == nil {
		panic(errors.New("cannot create a field without an owner"))
	}

	if name == "" {
		panic(errors.New("cannot create a field without a name"))
	}

	f.owner = owner
	f.name = name
	f.typ = typ
	f.offset = invalidOffset

	if owner.IsScalar() {
		f.offset = 0
	}
}

func (f *FieldBase) Base() *FieldBase { return f }

func (f *FieldBase) Owner() *Type      { return f.owner }
func (f *FieldBase) Name() string      { return f.name }
func (f *FieldBase) Type() *Type       { return f.typ }
func (f *FieldBase) Flags() FieldFlags { return f.flags }

func (f *FieldBase) SetFlags(fl FieldFlags) { f.flags = fl }

func (f *FieldBase) FixedSize() int { return f.fixedSize }

// SetFixedSize records the result of constant detection and marks the field.
func (f *FieldBase) SetFixedSize(size int) {
	f.fixedSize = size
	f.flags |= FieldHasFixedSize
}

func (f *FieldBase) IsOpen() bool { return f.typ.IsOpen() }

func (f *FieldBase) ValidLayout() bool { return f.offset >= 0 }

// Offset panics if the field has not been laid out yet.
func (f *FieldBase) Offset() int {
	if !f.ValidLayout() {
		panic(errors.New("cannot access offset of field %v before the field has been laid out", f))
	}

	return f.offset
}

func (f *FieldBase) SetOffset(off int) { f.offset = off }

func (f *FieldBase) String() string {
	return f.typ.String() + " " + f.owner.String() + "::" + f.name
}

// LinkAsImplementationOf makes f the instance view of static storage s.
func (f *InstanceField) LinkAsImplementationOf(s *StaticField) {
	f.static = s
	s.instance = f

	f.flags = s.flags &^ FieldStatic

	if s.flags&FieldHasFixedSize != 0 {
		f.fixedSize = s.fixedSize
	}
}

func (f *InstanceField) ImplementationOf() *StaticField { return f.static }

func (f *StaticField) ImplementedBy() *InstanceField { return f.instance }

// EqualsThroughEquivalence compares fields structurally.
// Types are matched through set, which may be nil.
func EqualsThroughEquivalence(a, b Field, set *EquivalenceSet) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if a.Name() != b.Name() {
		return false
	}

	if !set.Equal(a.Owner(), b.Owner()) || !set.Equal(a.Type(), b.Type()) {
		return false
	}

	if reflect.TypeOf(a) != reflect.TypeOf(b) {
		panic(errors.New("found two inconsistent fields: %v (%T) and %v (%T)", a, a, b, b))
	}

	return true
}
