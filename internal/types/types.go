// Package types implements the C type model (spec ss3 "Type"): tagged
// records for void/bool/char/.../struct/union with size, alignment, and
// signedness, plus struct/union layout and compatibility checks.
//
// Grounded on tinyrange-rtg/std/compiler/ir.go's TypeInfo/FieldInfo,
// generalized to the richer C type system (bitfields, unions, flexible
// arrays) per original_source/src/jcc.h's Type struct.
package types

// Kind enumerates the type kinds spec ss3 lists.
type Kind int

const (
	Void Kind = iota
	Bool
	Char
	Short
	Int
	Long
	LongLong
	Float
	Double
	Enum
	Pointer
	Array
	Function
	Struct
	Union
)

func (k Kind) String() string {
	names := [...]string{"void", "bool", "char", "short", "int", "long", "long long",
		"float", "double", "enum", "pointer", "array", "function", "struct", "union"}
	if int(k) < len(names) {
		return names[k]
	}
	return "?"
}

// Field describes one struct/union member (spec ss3: name, offset,
// bit-offset+width for bitfields, GEP index).
type Field struct {
	Name     string
	Type     *Type
	ByteOff  int64
	BitOff   int   // bit offset within the storage unit, 0 for non-bitfields
	BitWidth int   // 0 means "not a bitfield"
	GEPIndex int   // index into the struct's member list for getelementptr
	Anon     bool  // anonymous struct/union member (promotes its fields)
}

// Type is the immutable, arena-free (plain GC-owned, see DESIGN.md) tagged
// record describing a C type. Composite kinds reference child types.
type Type struct {
	Kind Kind

	Size  int64 // bytes; negative = incomplete
	Align int64

	Unsigned    bool
	Atomic      bool
	IsPacked    bool
	Variadic    bool // function
	FlexArray   bool // struct has trailing incomplete array member
	Qualifiers  Qualifier

	// Pointer / Array
	Base    *Type
	ArrayLen int64 // -1 if unknown ([] in a parameter, or incomplete)

	// Function
	Ret    *Type
	Params []*Type

	// Struct / Union
	Tag     string
	Members []*Field

	// Enum
	EnumUnderlying *Type

	// OriginTypeID distinguishes structurally-identical-but-separately
	// declared types (two `struct{int x;}` are not compatible) for the
	// "with origin-type chasing" rule in spec ss3.
	OriginTypeID int
}

// Qualifier bits for const/volatile/restrict, parsed but inert per
// SPEC_FULL.md's Supplement section (no codegen effect).
type Qualifier uint8

const (
	QualConst Qualifier = 1 << iota
	QualVolatile
	QualRestrict
)

var nextOriginID int

func newOrigin() int {
	nextOriginID++
	return nextOriginID
}

// Builtin primitive singletons. Each accessor (IntT, CharT, ...) returns
// the same cached *Type, since primitives are interchangeable by kind alone
// and have no per-declaration mutation (spec ss3: "Types are immutable
// once built; a declaration copies before mutating").
var (
	builtinVoid    = &Type{Kind: Void, Size: 0, Align: 1}
	builtinBool    = &Type{Kind: Bool, Size: 1, Align: 1, Unsigned: true}
	builtinChar    = &Type{Kind: Char, Size: 1, Align: 1}
	builtinUChar   = &Type{Kind: Char, Size: 1, Align: 1, Unsigned: true}
	builtinShort   = &Type{Kind: Short, Size: 2, Align: 2}
	builtinUShort  = &Type{Kind: Short, Size: 2, Align: 2, Unsigned: true}
	builtinInt     = &Type{Kind: Int, Size: 4, Align: 4}
	builtinUInt    = &Type{Kind: Int, Size: 4, Align: 4, Unsigned: true}
	builtinLong    = &Type{Kind: Long, Size: 8, Align: 8}
	builtinULong   = &Type{Kind: Long, Size: 8, Align: 8, Unsigned: true}
	builtinLLong   = &Type{Kind: LongLong, Size: 8, Align: 8}
	builtinULLong  = &Type{Kind: LongLong, Size: 8, Align: 8, Unsigned: true}
	builtinFloat   = &Type{Kind: Float, Size: 4, Align: 4}
	builtinDouble  = &Type{Kind: Double, Size: 8, Align: 8}
)

func Void_() *Type   { return builtinVoid }
func BoolT() *Type   { return builtinBool }
func CharT() *Type   { return builtinChar }
func UCharT() *Type  { return builtinUChar }
func ShortT() *Type  { return builtinShort }
func UShortT() *Type { return builtinUShort }
func IntT() *Type    { return builtinInt }
func UIntT() *Type   { return builtinUInt }
func LongT() *Type   { return builtinLong }
func ULongT() *Type  { return builtinULong }
func LLongT() *Type  { return builtinLLong }
func ULLongT() *Type { return builtinULLong }
func FloatT() *Type  { return builtinFloat }
func DoubleT() *Type { return builtinDouble }

// NewPointer builds a pointer-to-base type.
func NewPointer(base *Type) *Type {
	return &Type{Kind: Pointer, Size: 8, Align: 8, Base: base, OriginTypeID: newOrigin()}
}

// NewArray builds a len-element array of base. len < 0 means incomplete.
func NewArray(base *Type, length int64) *Type {
	size := int64(-1)
	if length >= 0 && base.Size >= 0 {
		size = base.Size * length
	}
	align := base.Align
	return &Type{Kind: Array, Size: size, Align: align, Base: base, ArrayLen: length, OriginTypeID: newOrigin()}
}

// NewFunction builds a function type.
func NewFunction(ret *Type, params []*Type, variadic bool) *Type {
	return &Type{Kind: Function, Size: -1, Align: 1, Ret: ret, Params: params, Variadic: variadic, OriginTypeID: newOrigin()}
}

// NewStruct allocates an incomplete struct/union shell; LayoutStruct fills
// in members, size, and alignment once the member list is known.
func NewStruct(tag string, isUnion bool) *Type {
	k := Struct
	if isUnion {
		k = Union
	}
	return &Type{Kind: k, Size: -1, Align: 1, Tag: tag, OriginTypeID: newOrigin()}
}

// NewEnum builds an enum type over the given underlying integer type
// (this subset always uses int per spec's conservative reading).
func NewEnum(tag string, underlying *Type) *Type {
	return &Type{Kind: Enum, Size: underlying.Size, Align: underlying.Align, Tag: tag, EnumUnderlying: underlying, OriginTypeID: newOrigin()}
}

// IsInteger reports whether t is one of the integer kinds (including
// bool/enum, which the usual-arithmetic-conversion rules treat as
// integers).
func (t *Type) IsInteger() bool {
	switch t.Kind {
	case Bool, Char, Short, Int, Long, LongLong, Enum:
		return true
	}
	return false
}

func (t *Type) IsFloating() bool { return t.Kind == Float || t.Kind == Double }
func (t *Type) IsArithmetic() bool { return t.IsInteger() || t.IsFloating() }
func (t *Type) IsPointer() bool    { return t.Kind == Pointer }
func (t *Type) IsAggregate() bool  { return t.Kind == Struct || t.Kind == Union || t.Kind == Array }
func (t *Type) IsScalar() bool     { return t.IsArithmetic() || t.IsPointer() }
func (t *Type) IsComplete() bool   { return t.Size >= 0 }

// Rank implements the integer conversion rank ordering spec ss4.C's
// "Integer promotion"/"usual arithmetic conversions" depend on.
func (t *Type) Rank() int {
	switch t.Kind {
	case Bool:
		return 0
	case Char:
		return 1
	case Short:
		return 2
	case Int, Enum:
		return 3
	case Long:
		return 4
	case LongLong:
		return 5
	}
	return -1
}

// Decay returns the pointer-decayed type of an array or function type used
// in an expression context (array-to-pointer / function-to-pointer decay).
func (t *Type) Decay() *Type {
	switch t.Kind {
	case Array:
		return NewPointer(t.Base)
	case Function:
		return NewPointer(t)
	}
	return t
}

// Unqualified strips qualifiers for compatibility purposes, returning t
// itself (qualifiers are tracked out-of-band on Type.Qualifiers and never
// change Kind/Size/Align, so this is a no-op placeholder kept for call
// sites that read more clearly with an explicit name).
func (t *Type) Unqualified() *Type { return t }

// Compatible implements spec ss3's compatibility rule: same kind, size,
// alignment, signedness, and recursively matching base/parameters, with
// origin-type chasing for struct/union/enum tags.
func Compatible(a, b *Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.Kind != b.Kind {
		// int and a same-ranked enum are compatible for our purposes;
		// otherwise kinds must match exactly.
		if a.Kind == Enum && b.Kind != Enum {
			return Compatible(a.EnumUnderlying, b)
		}
		if b.Kind == Enum && a.Kind != Enum {
			return Compatible(a, b.EnumUnderlying)
		}
		return false
	}
	switch a.Kind {
	case Void, Bool, Char, Short, Int, Long, LongLong, Float, Double:
		return a.Unsigned == b.Unsigned
	case Pointer:
		return Compatible(a.Base, b.Base)
	case Array:
		if a.ArrayLen >= 0 && b.ArrayLen >= 0 && a.ArrayLen != b.ArrayLen {
			return false
		}
		return Compatible(a.Base, b.Base)
	case Function:
		if !Compatible(a.Ret, b.Ret) {
			return false
		}
		if a.Variadic != b.Variadic || len(a.Params) != len(b.Params) {
			return false
		}
		for i := range a.Params {
			if !Compatible(a.Params[i], b.Params[i]) {
				return false
			}
		}
		return true
	case Struct, Union, Enum:
		// Two separately-declared aggregate/enum types are only
		// compatible if they are literally the same declaration
		// (origin-type chasing): structural equality is not enough in C.
		return a.OriginTypeID == b.OriginTypeID
	}
	return false
}

// FieldByName looks up a direct or (recursively, through anonymous
// members) promoted field by name, returning its accumulated byte offset.
func (t *Type) FieldByName(name string) (*Field, int64, bool) {
	for _, m := range t.Members {
		if m.Name == name {
			return m, m.ByteOff, true
		}
		if m.Anon && (m.Type.Kind == Struct || m.Type.Kind == Union) {
			if f, off, ok := m.Type.FieldByName(name); ok {
				return f, m.ByteOff + off, true
			}
		}
	}
	return nil, 0, false
}
