package ssa

import (
	"fmt"

	"github.com/cjit-project/cjit/internal/ast"
	"github.com/cjit-project/cjit/internal/types"
)

// buildExpr lowers an expression node to the value id holding its result
// plus the type that value was computed at (ordinarily n.Type, except for
// the sizeof/cast family per ast.Node's doc comment, mirrored by sema's
// exprValueType helper).
func (b *builder) buildExpr(n *ast.Node) (Value, *types.Type) {
	switch n.Kind {
	case ast.IntLit:
		return b.emit(&Inst{Op: OpConstInt, Type: n.Type, IntImm: n.IntVal}), n.Type
	case ast.FloatLit:
		return b.emit(&Inst{Op: OpConstFloat, Type: n.Type, FloatImm: n.FloatVal}), n.Type
	case ast.StringLit:
		name := b.stringPool().intern(n.StrVal, n.StrWidth)
		addr := b.emit(&Inst{Op: OpGlobalAddr, Type: n.Type, Sym: name})
		return addr, n.Type
	case ast.Ident:
		return b.buildIdentLoad(n)
	case ast.Binary:
		return b.buildBinary(n)
	case ast.Unary:
		return b.buildUnary(n)
	case ast.Assign:
		return b.buildAssign(n)
	case ast.Cond:
		return b.buildCondExpr(n)
	case ast.Call:
		return b.buildCall(n)
	case ast.Index:
		addr, elemTy := b.buildIndexAddr(n)
		return b.emit(&Inst{Op: OpLoad, Type: elemTy, Args: []Value{addr}}), elemTy
	case ast.Member:
		addr, fieldTy := b.buildMemberAddr(n)
		if fieldTy.IsAggregate() {
			return addr, fieldTy
		}
		return b.emit(&Inst{Op: OpLoad, Type: fieldTy, Args: []Value{addr}}), fieldTy
	case ast.PtrMember:
		addr, fieldTy := b.buildPtrMemberAddr(n)
		if fieldTy.IsAggregate() {
			return addr, fieldTy
		}
		return b.emit(&Inst{Op: OpLoad, Type: fieldTy, Args: []Value{addr}}), fieldTy
	case ast.Cast:
		return b.buildCast(n)
	case ast.SizeofType:
		return b.emit(&Inst{Op: OpConstInt, Type: types.ULongT(), IntImm: n.Type.Size}), types.ULongT()
	case ast.SizeofExpr:
		_, opTy := b.buildExpr(n.Operand)
		return b.emit(&Inst{Op: OpConstInt, Type: types.ULongT(), IntImm: opTy.Size}), types.ULongT()
	case ast.AlignofType:
		return b.emit(&Inst{Op: OpConstInt, Type: types.ULongT(), IntImm: n.Type.Align}), types.ULongT()
	case ast.Comma:
		b.buildExpr(n.LHS)
		return b.buildExpr(n.RHS)
	case ast.CompoundLit:
		slot := b.f.newStackSlot(n.Type, "")
		addr := b.emit(&Inst{Op: OpAlloca, Type: types.NewPointer(n.Type), IntImm: int64(slot)})
		b.buildAggregateInit(addr, n.Type, n)
		if n.Type.IsAggregate() {
			return addr, n.Type
		}
		return b.emit(&Inst{Op: OpLoad, Type: n.Type, Args: []Value{addr}}), n.Type
	}
	b.internalf("buildExpr: unhandled expression kind %v", n.Kind)
	return noValue, types.IntT()
}

func (b *builder) buildIdentLoad(n *ast.Node) (Value, *types.Type) {
	sym := n.Sym
	if sym.Kind == ast.SymFunc {
		return b.emit(&Inst{Op: OpGlobalAddr, Type: types.NewPointer(sym.Type), Sym: sym.Name}), sym.Type
	}
	if sym.IsLocal {
		slot := b.slotFor(sym)
		addr := b.emit(&Inst{Op: OpAlloca, Type: types.NewPointer(sym.Type), IntImm: int64(slot)})
		if sym.Type.IsAggregate() {
			return addr, sym.Type
		}
		return b.emit(&Inst{Op: OpLoad, Type: sym.Type, Args: []Value{addr}}), sym.Type
	}
	addr := b.emit(&Inst{Op: OpGlobalAddr, Type: types.NewPointer(sym.Type), Sym: sym.Name})
	if sym.Type.IsAggregate() {
		return addr, sym.Type
	}
	return b.emit(&Inst{Op: OpLoad, Type: sym.Type, Args: []Value{addr}}), sym.Type
}

// buildAddr computes the address of an lvalue expression, for &, the left
// side of an assignment, and aggregate member/index chains.
func (b *builder) buildAddr(n *ast.Node) (Value, *types.Type) {
	switch n.Kind {
	case ast.Ident:
		sym := n.Sym
		if sym.IsLocal {
			slot := b.slotFor(sym)
			return b.emit(&Inst{Op: OpAlloca, Type: types.NewPointer(sym.Type), IntImm: int64(slot)}), sym.Type
		}
		return b.emit(&Inst{Op: OpGlobalAddr, Type: types.NewPointer(sym.Type), Sym: sym.Name}), sym.Type
	case ast.Unary:
		if n.Op == "*" {
			v, t := b.buildExpr(n.Operand)
			return v, t
		}
	case ast.Index:
		return b.buildIndexAddr(n)
	case ast.Member:
		return b.buildMemberAddr(n)
	case ast.PtrMember:
		return b.buildPtrMemberAddr(n)
	case ast.CompoundLit:
		return b.buildExpr(n)
	}
	b.internalf("buildAddr: expression kind %v is not an lvalue (should have been caught during parsing)", n.Kind)
	return noValue, n.Type
}

func (b *builder) buildIndexAddr(n *ast.Node) (Value, *types.Type) {
	baseTy := baseValueType(n.Base)
	var baseAddr Value
	if baseTy.Kind == types.Array {
		baseAddr, _ = b.buildAddr(n.Base)
	} else {
		baseAddr, _ = b.buildExpr(n.Base)
	}
	idx, _ := b.buildExpr(n.Operand)
	elemTy := baseTy.Decay().Base
	addr := b.emit(&Inst{Op: OpGEPIndex, Type: types.NewPointer(elemTy), Args: []Value{baseAddr, idx}, IntImm: elemTy.Size})
	return addr, elemTy
}

func (b *builder) buildMemberAddr(n *ast.Node) (Value, *types.Type) {
	baseAddr, baseTy := b.buildAddr(n.Base)
	f, off, ok := baseTy.FieldByName(n.Field)
	if !ok {
		b.internalf("member %q not found on type %v (should have been caught during parsing)", n.Field, baseTy)
		return noValue, n.Type
	}
	addr := b.emit(&Inst{Op: OpGEPField, Type: types.NewPointer(f.Type), Args: []Value{baseAddr}, IntImm: off})
	return addr, f.Type
}

func (b *builder) buildPtrMemberAddr(n *ast.Node) (Value, *types.Type) {
	baseVal, baseTy := b.buildExpr(n.Base)
	pointee := baseTy
	if pointee.IsPointer() {
		pointee = pointee.Base
	}
	f, off, ok := pointee.FieldByName(n.Field)
	if !ok {
		b.internalf("member %q not found on type %v (should have been caught during parsing)", n.Field, pointee)
		return noValue, n.Type
	}
	addr := b.emit(&Inst{Op: OpGEPField, Type: types.NewPointer(f.Type), Args: []Value{baseVal}, IntImm: off})
	return addr, f.Type
}

func baseValueType(n *ast.Node) *types.Type {
	if n.Type == nil {
		return types.IntT()
	}
	return n.Type
}

func (b *builder) buildBinary(n *ast.Node) (Value, *types.Type) {
	lt := baseValueType(n.LHS).Decay()
	rt := baseValueType(n.RHS).Decay()

	if n.Op == "-" && lt.IsPointer() && rt.IsPointer() {
		return b.buildPointerDiff(n)
	}
	if (n.Op == "+" || n.Op == "-") && lt.IsPointer() {
		return b.buildPointerArith(n)
	}
	if n.Op == "+" && rt.IsPointer() {
		return b.buildPointerArith(&ast.Node{Kind: ast.Binary, Op: "+", LHS: n.RHS, RHS: n.LHS, Type: n.Type, Loc: n.Loc})
	}

	l, lty := b.buildExpr(n.LHS)
	r, rty := b.buildExpr(n.RHS)

	if n.Op == "&&" || n.Op == "||" {
		return b.buildShortCircuit(n, l, lty)
	}

	isFloat := lty.IsFloating() || rty.IsFloating()
	l = b.convertArith(l, lty, n.Type)
	r = b.convertArith(r, rty, n.Type)

	var op Op
	switch n.Op {
	case "+":
		op = pick(isFloat, OpFAdd, OpAdd)
	case "-":
		op = pick(isFloat, OpFSub, OpSub)
	case "*":
		op = pick(isFloat, OpFMul, OpMul)
	case "/":
		op = pick(isFloat, OpFDiv, OpDiv)
	case "%":
		op = OpMod
	case "&":
		op = OpAnd
	case "|":
		op = OpOr
	case "^":
		op = OpXor
	case "<<":
		op = OpShl
	case ">>":
		op = OpShr
	case "==":
		op = pick(isFloat, OpFEq, OpEq)
	case "!=":
		op = pick(isFloat, OpFNe, OpNe)
	case "<":
		op = pick(isFloat, OpFLt, OpLt)
	case "<=":
		op = pick(isFloat, OpFLe, OpLe)
	case ">":
		op = pick(isFloat, OpFGt, OpGt)
	case ">=":
		op = pick(isFloat, OpFGe, OpGe)
	default:
		b.internalf("buildBinary: unhandled operator %q", n.Op)
	}
	return b.emit(&Inst{Op: op, Type: n.Type, Args: []Value{l, r}}), n.Type
}

func pick(cond bool, a, bOp Op) Op {
	if cond {
		return a
	}
	return bOp
}

// buildShortCircuit lowers && and || with real control flow so the right
// operand is only evaluated when it can affect the result.
func (b *builder) buildShortCircuit(n *ast.Node, l Value, lty *types.Type) (Value, *types.Type) {
	lb := b.toBool(l, lty)
	rhsBlk := b.f.newBlock("logic.rhs")
	contBlk := b.f.newBlock("logic.cont")
	slot := b.f.newStackSlot(types.IntT(), "")
	addr := b.emit(&Inst{Op: OpAlloca, Type: types.NewPointer(types.IntT()), IntImm: int64(slot)})

	if n.Op == "&&" {
		shortBlk := b.f.newBlock("logic.false")
		b.terminate(&Inst{Op: OpBranch, Args: []Value{lb}, Target0: rhsBlk.ID, Target1: shortBlk.ID})
		b.switchTo(shortBlk)
		zero := b.emit(&Inst{Op: OpConstInt, Type: types.IntT()})
		b.emit(&Inst{Op: OpStore, Args: []Value{addr, zero}})
		b.terminate(&Inst{Op: OpJump, Target0: contBlk.ID})
	} else {
		shortBlk := b.f.newBlock("logic.true")
		b.terminate(&Inst{Op: OpBranch, Args: []Value{lb}, Target0: shortBlk.ID, Target1: rhsBlk.ID})
		b.switchTo(shortBlk)
		one := b.emit(&Inst{Op: OpConstInt, Type: types.IntT(), IntImm: 1})
		b.emit(&Inst{Op: OpStore, Args: []Value{addr, one}})
		b.terminate(&Inst{Op: OpJump, Target0: contBlk.ID})
	}

	b.switchTo(rhsBlk)
	r, rty := b.buildExpr(n.RHS)
	rb := b.toBool(r, rty)
	b.emit(&Inst{Op: OpStore, Args: []Value{addr, rb}})
	b.terminate(&Inst{Op: OpJump, Target0: contBlk.ID})

	b.switchTo(contBlk)
	return b.emit(&Inst{Op: OpLoad, Type: types.IntT(), Args: []Value{addr}}), types.IntT()
}

func (b *builder) buildPointerArith(n *ast.Node) (Value, *types.Type) {
	ptr, ptrTy := b.buildExpr(n.LHS)
	if ptrTy.Kind == types.Array {
		ptr, ptrTy = b.buildAddr(n.LHS)
		ptrTy = ptrTy.Decay()
	}
	idx, idxTy := b.buildExpr(n.RHS)
	if idxTy.IsFloating() {
		b.internalf("pointer arithmetic requires an integer offset")
	}
	if n.Op == "-" {
		neg := b.emit(&Inst{Op: OpNeg, Type: idxTy, Args: []Value{idx}})
		idx = neg
	}
	elemTy := ptrTy.Base
	return b.emit(&Inst{Op: OpGEPIndex, Type: ptrTy, Args: []Value{ptr, idx}, IntImm: elemTy.Size}), ptrTy
}

func (b *builder) buildPointerDiff(n *ast.Node) (Value, *types.Type) {
	l, lty := b.buildExpr(n.LHS)
	r, _ := b.buildExpr(n.RHS)
	diff := b.emit(&Inst{Op: OpSub, Type: types.LongT(), Args: []Value{l, r}})
	elemSize := lty.Base.Size
	if elemSize <= 1 {
		return diff, types.LongT()
	}
	sz := b.emit(&Inst{Op: OpConstInt, Type: types.LongT(), IntImm: elemSize})
	return b.emit(&Inst{Op: OpDiv, Type: types.LongT(), Args: []Value{diff, sz}}), types.LongT()
}

func (b *builder) buildUnary(n *ast.Node) (Value, *types.Type) {
	switch n.Op {
	case "&":
		return b.buildAddr(n.Operand)
	case "*":
		v, t := b.buildExpr(n.Operand)
		pointee := t
		if pointee.IsPointer() {
			pointee = pointee.Base
		}
		if pointee.IsAggregate() {
			return v, pointee
		}
		return b.emit(&Inst{Op: OpLoad, Type: pointee, Args: []Value{v}}), pointee
	case "+":
		return b.buildExpr(n.Operand)
	case "-":
		v, t := b.buildExpr(n.Operand)
		op := pick(t.IsFloating(), OpFNeg, OpNeg)
		return b.emit(&Inst{Op: op, Type: t, Args: []Value{v}}), t
	case "!":
		v, t := b.buildExpr(n.Operand)
		nb := b.toBool(v, t)
		one := b.emit(&Inst{Op: OpConstInt, Type: types.IntT(), IntImm: 1})
		return b.emit(&Inst{Op: OpXor, Type: types.IntT(), Args: []Value{nb, one}}), types.IntT()
	case "~":
		v, t := b.buildExpr(n.Operand)
		return b.emit(&Inst{Op: OpNot, Type: t, Args: []Value{v}}), t
	case "++", "--":
		return b.buildIncDec(n)
	}
	b.internalf("buildUnary: unhandled operator %q", n.Op)
	return noValue, n.Type
}

func (b *builder) buildIncDec(n *ast.Node) (Value, *types.Type) {
	addr, ty := b.buildAddr(n.Operand)
	old := b.emit(&Inst{Op: OpLoad, Type: ty, Args: []Value{addr}})
	var updated Value
	if ty.IsPointer() {
		step := int64(1)
		if n.Op == "--" {
			step = -1
		}
		idx := b.emit(&Inst{Op: OpConstInt, Type: types.LongT(), IntImm: step})
		updated = b.emit(&Inst{Op: OpGEPIndex, Type: ty, Args: []Value{old, idx}, IntImm: ty.Base.Size})
	} else if ty.IsFloating() {
		one := b.emit(&Inst{Op: OpConstFloat, Type: ty, FloatImm: 1})
		op := OpFAdd
		if n.Op == "--" {
			op = OpFSub
		}
		updated = b.emit(&Inst{Op: op, Type: ty, Args: []Value{old, one}})
	} else {
		one := b.emit(&Inst{Op: OpConstInt, Type: ty, IntImm: 1})
		op := OpAdd
		if n.Op == "--" {
			op = OpSub
		}
		updated = b.emit(&Inst{Op: op, Type: ty, Args: []Value{old, one}})
	}
	b.emit(&Inst{Op: OpStore, Args: []Value{addr, updated}})
	if n.Prefix {
		return updated, ty
	}
	return old, ty
}

func (b *builder) buildAssign(n *ast.Node) (Value, *types.Type) {
	addr, ty := b.buildAddr(n.LHS)
	if n.RHS.Kind == ast.CompoundLit || (ty.IsAggregate() && n.RHS.Kind != ast.Call) {
		if n.RHS.Kind == ast.CompoundLit {
			b.buildAggregateInit(addr, ty, n.RHS)
			return addr, ty
		}
	}
	v, vt := b.buildExpr(n.RHS)
	v = b.convertAssign(v, vt, ty)
	b.emit(&Inst{Op: OpStore, Args: []Value{addr, v}})
	return v, ty
}

func (b *builder) buildCondExpr(n *ast.Node) (Value, *types.Type) {
	cond, condTy := b.buildExpr(n.Cond_)
	cb := b.toBool(cond, condTy)
	thenBlk := b.f.newBlock("cond.then")
	elseBlk := b.f.newBlock("cond.else")
	contBlk := b.f.newBlock("cond.cont")
	b.terminate(&Inst{Op: OpBranch, Args: []Value{cb}, Target0: thenBlk.ID, Target1: elseBlk.ID})

	slot := b.f.newStackSlot(n.Type, "")

	b.switchTo(thenBlk)
	tv, tty := b.buildExpr(n.Then)
	tv = b.convertArith(tv, tty, n.Type)
	addr1 := b.emit(&Inst{Op: OpAlloca, Type: types.NewPointer(n.Type), IntImm: int64(slot)})
	b.emit(&Inst{Op: OpStore, Args: []Value{addr1, tv}})
	b.terminate(&Inst{Op: OpJump, Target0: contBlk.ID})

	b.switchTo(elseBlk)
	ev, ety := b.buildExpr(n.Else)
	ev = b.convertArith(ev, ety, n.Type)
	addr2 := b.emit(&Inst{Op: OpAlloca, Type: types.NewPointer(n.Type), IntImm: int64(slot)})
	b.emit(&Inst{Op: OpStore, Args: []Value{addr2, ev}})
	b.terminate(&Inst{Op: OpJump, Target0: contBlk.ID})

	b.switchTo(contBlk)
	addr3 := b.emit(&Inst{Op: OpAlloca, Type: types.NewPointer(n.Type), IntImm: int64(slot)})
	return b.emit(&Inst{Op: OpLoad, Type: n.Type, Args: []Value{addr3}}), n.Type
}

func (b *builder) buildCall(n *ast.Node) (Value, *types.Type) {
	var args []Value
	for _, a := range n.Args {
		v, _ := b.buildExpr(a)
		args = append(args, v)
	}
	if n.Callee.Kind == ast.Ident && n.Callee.Sym.Kind == ast.SymFunc {
		return b.emit(&Inst{Op: OpCall, Type: n.Type, Args: args, Sym: n.Callee.Name}), n.Type
	}
	fnPtr, fnTy := b.buildExpr(n.Callee)
	if fnTy.IsPointer() {
		fnTy = fnTy.Base
	}
	_ = fnTy
	allArgs := append([]Value{fnPtr}, args...)
	return b.emit(&Inst{Op: OpCall, Type: n.Type, Args: allArgs}), n.Type
}

// buildCast implements the scalar conversion rules spec ss4.C names:
// integer widen/narrow (sign- or zero-extend based on the source's
// signedness), int<->float, float<->double, and pointer<->pointer /
// pointer<->integer bitcast.
func (b *builder) buildCast(n *ast.Node) (Value, *types.Type) {
	v, srcTy := b.buildExpr(n.Operand)
	dstTy := n.Type
	return b.convertExplicit(v, srcTy, dstTy), dstTy
}

func (b *builder) convertExplicit(v Value, srcTy, dstTy *types.Type) Value {
	if dstTy.Kind == types.Void {
		return v
	}
	if srcTy.IsFloating() && dstTy.IsFloating() {
		if srcTy.Size == dstTy.Size {
			return v
		}
		if srcTy.Size < dstTy.Size {
			return b.emit(&Inst{Op: OpFExt, Type: dstTy, Args: []Value{v}})
		}
		return b.emit(&Inst{Op: OpFTrunc, Type: dstTy, Args: []Value{v}})
	}
	if srcTy.IsFloating() && dstTy.IsInteger() {
		return b.emit(&Inst{Op: OpF2I, Type: dstTy, Args: []Value{v}})
	}
	if srcTy.IsInteger() && dstTy.IsFloating() {
		return b.emit(&Inst{Op: OpI2F, Type: dstTy, Args: []Value{v}})
	}
	if srcTy.IsPointer() && dstTy.IsPointer() {
		return b.emit(&Inst{Op: OpBitcast, Type: dstTy, Args: []Value{v}})
	}
	if (srcTy.IsPointer() && dstTy.IsInteger()) || (srcTy.IsInteger() && dstTy.IsPointer()) {
		return b.emit(&Inst{Op: OpBitcast, Type: dstTy, Args: []Value{v}})
	}
	// integer-to-integer
	if srcTy.Size == dstTy.Size {
		return v
	}
	if srcTy.Size < dstTy.Size {
		op := OpZext
		if !srcTy.Unsigned {
			op = OpSext
		}
		return b.emit(&Inst{Op: op, Type: dstTy, Args: []Value{v}})
	}
	return b.emit(&Inst{Op: OpTrunc, Type: dstTy, Args: []Value{v}})
}

// convertArith applies an implicit arithmetic conversion (usual
// arithmetic conversions' target type, already resolved onto the
// expression node by sema) without re-deriving it.
func (b *builder) convertArith(v Value, srcTy, dstTy *types.Type) Value {
	if srcTy == dstTy || (srcTy != nil && dstTy != nil && srcTy.Kind == dstTy.Kind && srcTy.Size == dstTy.Size && srcTy.Unsigned == dstTy.Unsigned) {
		return v
	}
	return b.convertExplicit(v, srcTy, dstTy)
}

func (b *builder) convertAssign(v Value, srcTy, dstTy *types.Type) Value {
	if srcTy == dstTy {
		return v
	}
	if dstTy.IsPointer() && srcTy.Kind == types.Array {
		return v // arrays already decay to their base address when loaded as an lvalue
	}
	if dstTy.IsArithmetic() && srcTy.IsArithmetic() {
		return b.convertExplicit(v, srcTy, dstTy)
	}
	return v
}

// stringPool returns the string-literal interner BuildModule shares across
// every function's builder, so identical or distinct string literals
// across the translation unit each get exactly one synthesized global.
func (b *builder) stringPool() *stringPool {
	return b.strPool
}

type stringPool struct {
	globals []*Global
	counter int
}

func (sp *stringPool) intern(data []byte, width int) string {
	name := fmt.Sprintf(".L.str.%d", sp.counter)
	sp.counter++
	sp.globals = append(sp.globals, &Global{
		Name: name, IsStatic: true,
		Type: types.NewArray(stringElemType(width), int64(len(data))),
		Data: append([]byte(nil), data...),
	})
	return name
}

func stringElemType(width int) *types.Type {
	if width > 1 {
		return types.IntT()
	}
	return types.CharT()
}
