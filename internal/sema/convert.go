package sema

import "github.com/cjit-project/cjit/internal/types"

// integerPromote implements C's integer promotion: any integer type with
// rank below int promotes to int (or unsigned int if int cannot represent
// all its values), per spec ss4.C "Integer promotion".
func integerPromote(t *types.Type) *types.Type {
	if !t.IsInteger() {
		return t
	}
	if t.Rank() < types.IntT().Rank() {
		return types.IntT()
	}
	return t
}

// usualArithmeticConversions implements the pairwise type-unification rule
// applied to the operands of most binary arithmetic/relational operators
// (spec ss4.C "usual arithmetic conversions").
func usualArithmeticConversions(a, b *types.Type) *types.Type {
	if a.Kind == types.Double || b.Kind == types.Double {
		return types.DoubleT()
	}
	if a.Kind == types.Float || b.Kind == types.Float {
		return types.FloatT()
	}
	pa, pb := integerPromote(a), integerPromote(b)
	if pa.Rank() == pb.Rank() {
		if pa.Unsigned || pb.Unsigned {
			return unsignedVariant(pa)
		}
		return pa
	}
	hi, lo := pa, pb
	if pb.Rank() > pa.Rank() {
		hi, lo = pb, pa
	}
	if hi.Unsigned || (!hi.Unsigned && !lo.Unsigned) {
		return hi
	}
	// hi signed, lo unsigned, same rank handled above. hi can represent
	// every value of lo only when it is wider; otherwise (e.g. long long
	// vs unsigned long, both 8 bytes) the result is hi's unsigned variant.
	if hi.Size > lo.Size {
		return hi
	}
	return unsignedVariant(hi)
}

func unsignedVariant(t *types.Type) *types.Type {
	switch t.Kind {
	case types.Int:
		return types.UIntT()
	case types.Long:
		return types.ULongT()
	case types.LongLong:
		return types.ULLongT()
	case types.Short:
		return types.UShortT()
	case types.Char:
		return types.UCharT()
	}
	return t
}

// assignable reports whether a value of type src can be assigned to a
// destination of type dst without an explicit cast, per spec ss4.C
// "Assignment conversions" (arithmetic-to-arithmetic, pointer compatibility,
// NULL-constant-to-pointer, and any-pointer-to/from-void*).
func assignable(dst, src *types.Type) bool {
	if dst.IsArithmetic() && src.IsArithmetic() {
		return true
	}
	if dst.IsPointer() && src.IsPointer() {
		if dst.Base.Kind == types.Void || src.Base.Kind == types.Void {
			return true
		}
		return types.Compatible(dst.Base, src.Base)
	}
	if dst.IsPointer() && src.IsInteger() {
		return true // permissive: integer-to-pointer with a cast-free assignment is a warning in C, not modeled as an error here
	}
	return types.Compatible(dst, src)
}

// pointeeSize returns the scale factor for pointer arithmetic (spec ss4.C
// "Pointer arithmetic... scaled by the pointee's size"); array types decay
// first at the call site.
func pointeeSize(t *types.Type) int64 {
	if t.Base == nil || t.Base.Size < 0 {
		return 1
	}
	return t.Base.Size
}
