package mir

import (
	"fmt"

	"github.com/cjit-project/cjit/internal/ssa"
	"github.com/cjit-project/cjit/internal/types"
)

// numArgRegs is the Windows x64 convention's shared integer/SSE argument
// slot count (rcx/rdx/r8/r9 and xmm0-3, by position); internal/regalloc
// maps slot index to a real physical encoding.
const numArgRegs = 4

// Lower translates an ssa.Module into Machine IR, the x86-64-shaped,
// virtual-register form consumed by register allocation and encoding
// (spec ss4.E).
func Lower(mod *ssa.Module) *Module {
	out := &Module{}
	for _, g := range mod.Globals {
		out.Globals = append(out.Globals, Global{
			Name:     g.Name,
			IsStatic: g.IsStatic,
			Data:     g.Data,
			Relocs:   lowerRelocs(g.Relocs),
		})
	}
	for _, fn := range mod.Funcs {
		out.Funcs = append(out.Funcs, lowerFunc(fn))
	}
	return out
}

func lowerRelocs(rs []ssa.GlobalReloc) []Reloc {
	out := make([]Reloc, len(rs))
	for i, r := range rs {
		out[i] = Reloc{Offset: r.Offset, Target: r.Target, Addend: r.Addend}
	}
	return out
}

// funcLowering carries the per-function state threaded through lowering:
// the vreg each SSA value mapped to, the stack object each SSA stack slot
// mapped to, and the in-progress Func being built.
type funcLowering struct {
	f        *Func
	valReg   map[ssa.Value]VReg
	valType  map[ssa.Value]*types.Type // operand type of each value's defining instruction
	slotObj  map[int]int               // ssa stack-slot id -> mir.StackObject id
	curBlock *Block
}

func lowerFunc(fn *ssa.Func) *Func {
	f := &Func{
		Name:     fn.Name,
		IsStatic: fn.IsStatic,
		RetType:  fn.RetType,
	}
	fl := &funcLowering{f: f, valReg: make(map[ssa.Value]VReg), valType: make(map[ssa.Value]*types.Type), slotObj: make(map[int]int)}

	if fn.RetType != nil && fn.RetType.IsAggregate() && LargeStructABI(fn.RetType.Size) {
		f.RetByPointer = true
	}
	f.ParamSlots = classifyArgs(fn.ParamTypes)

	for _, slot := range fn.StackSlots {
		id := len(f.StackObjs)
		f.StackObjs = append(f.StackObjs, &StackObject{ID: id, Size: slotSize(slot.Type), Align: slot.Type.Align})
		fl.slotObj[slot.ID] = id
	}

	for range fn.Blocks {
		f.Blocks = append(f.Blocks, &Block{ID: len(f.Blocks)})
	}
	for i, b := range fn.Blocks {
		fl.curBlock = f.Blocks[i]
		fl.emit(&Inst{Op: Label, Dst: noReg, Dst2: noReg})
		for _, inst := range b.Insts {
			fl.lowerInst(inst)
		}
	}
	f.NumVRegs = len(fl.valReg)
	return f
}

func slotSize(t *types.Type) int64 {
	if t.Size < 0 {
		return 8
	}
	return t.Size
}

// classifyArgs assigns each parameter position a register or stack slot
// per the Windows x64 convention this subset targets: four total slots
// shared by position (not by class) between rcx/rdx/r8/r9 and xmm0-3,
// a mandatory 32-byte shadow space, and the large-aggregate-by-pointer
// rule (DESIGN.md Open Question decision 4).
func classifyArgs(params []*types.Type) []CallArgSlot {
	slots := make([]CallArgSlot, len(params))
	var stackOff int64
	for i, p := range params {
		byPtr := p.IsAggregate() && LargeStructABI(p.Size)
		class := ClassInt
		if p.IsFloating() && !byPtr {
			class = ClassSSE
		}
		if i < numArgRegs {
			slots[i] = CallArgSlot{Reg: i, Class: class, ByPointer: byPtr}
		} else {
			slots[i] = CallArgSlot{Reg: -1, Class: class, StackSlot: stackOff, ByPointer: byPtr}
			stackOff += 8
		}
	}
	return slots
}

func (fl *funcLowering) emit(i *Inst) {
	fl.curBlock.Insts = append(fl.curBlock.Insts, i)
}

func (fl *funcLowering) reg(v ssa.Value) VReg {
	if r, ok := fl.valReg[v]; ok {
		return r
	}
	r := fl.f.newVReg()
	fl.valReg[v] = r
	return r
}

func classOf(t *types.Type) RegClass {
	if t != nil && t.IsFloating() {
		return ClassSSE
	}
	return ClassInt
}

func widthOf(t *types.Type) Width {
	if t == nil {
		return 8
	}
	if t.Size <= 0 {
		return 8
	}
	return Width(t.Size)
}

// lowerInst lowers one SSA instruction into one or more Machine IR
// instructions, mapping its result value id (if any) to a fresh vreg.
func (fl *funcLowering) lowerInst(in *ssa.Inst) {
	if in.Type != nil {
		fl.valType[in.ID] = in.Type
	}
	switch in.Op {
	case ssa.OpConstInt:
		dst := fl.reg(in.ID)
		fl.emit(&Inst{Op: MovImm, Class: ClassInt, Width: widthOf(in.Type), Dst: dst, Imm: in.IntImm})

	case ssa.OpConstFloat:
		dst := fl.reg(in.ID)
		fl.emit(&Inst{Op: MovImm, Class: ClassSSE, Width: widthOf(in.Type), Dst: dst,
			FloatImm: in.FloatImm, IsFloat64: in.Type.Kind == types.Double})

	case ssa.OpAlloca:
		dst := fl.reg(in.ID)
		obj := fl.slotObj[int(in.IntImm)]
		fl.emit(&Inst{Op: LeaStack, Class: ClassInt, Width: 8, Dst: dst, Args: []VReg{noReg}, StackObj: obj})

	case ssa.OpLoad:
		dst := fl.reg(in.ID)
		base := fl.reg(in.Args[0])
		fl.emit(&Inst{Op: Load, Class: classOf(in.Type), Width: widthOf(in.Type), Dst: dst, Args: []VReg{base}, StackObj: -1})

	case ssa.OpStore:
		base := fl.reg(in.Args[0])
		val := fl.reg(in.Args[1])
		fl.emit(&Inst{Op: Store, Dst: noReg, Dst2: noReg, Args: []VReg{base, val}, StackObj: -1})

	case ssa.OpGlobalAddr:
		dst := fl.reg(in.ID)
		fl.emit(&Inst{Op: LoadGlobalAddr, Class: ClassInt, Width: 8, Dst: dst, Sym: in.Sym})

	case ssa.OpParam:
		dst := fl.reg(in.ID)
		slot := fl.f.ParamSlots[in.IntImm]
		if slot.Reg >= 0 {
			fl.emit(&Inst{Op: MovRR, Class: slot.Class, Width: widthOf(in.Type), Dst: dst, Args: []VReg{VReg(1000 + slot.Reg)}})
		} else {
			fl.emit(&Inst{Op: Load, Class: slot.Class, Width: widthOf(in.Type), Dst: dst, Args: []VReg{noReg}, Disp: slot.StackSlot, StackObj: -2})
		}

	case ssa.OpAdd, ssa.OpSub, ssa.OpMul, ssa.OpAnd, ssa.OpOr, ssa.OpXor, ssa.OpShl:
		fl.lowerIntBinary(in, intOp(in.Op))

	case ssa.OpShr:
		op := Shr
		if !in.Type.Unsigned {
			op = Sar
		}
		fl.lowerIntBinary(in, op)

	case ssa.OpDiv, ssa.OpMod:
		fl.lowerDivMod(in)

	case ssa.OpNeg:
		dst := fl.reg(in.ID)
		src := fl.reg(in.Args[0])
		fl.emit(&Inst{Op: Neg, Class: ClassInt, Width: widthOf(in.Type), Dst: dst, Args: []VReg{src}})

	case ssa.OpNot:
		dst := fl.reg(in.ID)
		src := fl.reg(in.Args[0])
		fl.emit(&Inst{Op: Not, Class: ClassInt, Width: widthOf(in.Type), Dst: dst, Args: []VReg{src}})

	case ssa.OpEq, ssa.OpNe, ssa.OpLt, ssa.OpLe, ssa.OpGt, ssa.OpGe:
		fl.lowerIntCompare(in)

	case ssa.OpFAdd:
		fl.lowerFloatBinary(in, FAdd)
	case ssa.OpFSub:
		fl.lowerFloatBinary(in, FSub)
	case ssa.OpFMul:
		fl.lowerFloatBinary(in, FMul)
	case ssa.OpFDiv:
		fl.lowerFloatBinary(in, FDiv)
	case ssa.OpFNeg:
		dst := fl.reg(in.ID)
		src := fl.reg(in.Args[0])
		fl.emit(&Inst{Op: FNeg, Class: ClassSSE, Width: widthOf(in.Type), Dst: dst, Args: []VReg{src}})

	case ssa.OpFEq, ssa.OpFNe, ssa.OpFLt, ssa.OpFLe, ssa.OpFGt, ssa.OpFGe:
		fl.lowerFloatCompare(in)

	case ssa.OpSext:
		fl.lowerConv(in, MovSX)
	case ssa.OpZext:
		fl.lowerConv(in, MovZX)
	case ssa.OpTrunc:
		fl.lowerConv(in, MovRR)
	case ssa.OpI2F, ssa.OpF2I, ssa.OpFExt, ssa.OpFTrunc:
		fl.lowerConv(in, Cvt)
	case ssa.OpBitcast:
		fl.lowerConv(in, Bitcast)

	case ssa.OpGEPField:
		dst := fl.reg(in.ID)
		base := fl.reg(in.Args[0])
		fl.emit(&Inst{Op: Add, Class: ClassInt, Width: 8, Dst: dst, Args: []VReg{base}, Imm: in.IntImm})

	case ssa.OpGEPIndex:
		dst := fl.reg(in.ID)
		base := fl.reg(in.Args[0])
		idx := fl.reg(in.Args[1])
		scaled := fl.f.newVReg()
		fl.emit(&Inst{Op: IMul, Class: ClassInt, Width: 8, Dst: scaled, Args: []VReg{idx}, Imm: in.IntImm})
		fl.emit(&Inst{Op: Add, Class: ClassInt, Width: 8, Dst: dst, Args: []VReg{base, scaled}})

	case ssa.OpCall:
		fl.lowerCall(in)

	case ssa.OpCallArg:
		// Purely a marker for the ABI classifier above CallArg sites;
		// nothing to emit, the argument value is already materialized.

	case ssa.OpJump:
		fl.emit(&Inst{Op: Jmp, Dst: noReg, Dst2: noReg, Target0: in.Target0})

	case ssa.OpBranch:
		cond := fl.reg(in.Args[0])
		zero := fl.f.newVReg()
		fl.emit(&Inst{Op: MovImm, Class: ClassInt, Width: 8, Dst: zero, Dst2: noReg, Imm: 0})
		fl.emit(&Inst{Op: Cmp, Dst: noReg, Dst2: noReg, Args: []VReg{cond, zero}})
		fl.emit(&Inst{Op: Jcc, Dst: noReg, Dst2: noReg, Cond: CondNE, Target0: in.Target0, Target1: in.Target1})

	case ssa.OpReturn:
		var args []VReg
		if len(in.Args) > 0 {
			args = []VReg{fl.reg(in.Args[0])}
		}
		fl.emit(&Inst{Op: Ret, Dst: noReg, Dst2: noReg, Args: args})

	case ssa.OpUnreachable:
		// No instruction needed; the block simply never falls through.

	default:
		panic(fmt.Sprintf("mir: unhandled ssa opcode %v", in.Op))
	}
}

func intOp(op ssa.Op) Op {
	switch op {
	case ssa.OpAdd:
		return Add
	case ssa.OpSub:
		return Sub
	case ssa.OpMul:
		return IMul
	case ssa.OpAnd:
		return And
	case ssa.OpOr:
		return Or
	case ssa.OpXor:
		return Xor
	case ssa.OpShl:
		return Shl
	}
	panic("mir: not a simple int binary op")
}

func (fl *funcLowering) lowerIntBinary(in *ssa.Inst, op Op) {
	dst := fl.reg(in.ID)
	l := fl.reg(in.Args[0])
	r := fl.reg(in.Args[1])
	fl.emit(&Inst{Op: op, Class: ClassInt, Width: widthOf(in.Type), Dst: dst, Args: []VReg{l, r}})
}

func (fl *funcLowering) lowerFloatBinary(in *ssa.Inst, op Op) {
	dst := fl.reg(in.ID)
	l := fl.reg(in.Args[0])
	r := fl.reg(in.Args[1])
	fl.emit(&Inst{Op: op, Class: ClassSSE, Width: widthOf(in.Type), Dst: dst, Args: []VReg{l, r}})
}

// lowerDivMod emits idiv/div; x86 produces quotient and remainder from a
// single instruction, so the quotient always goes to Dst and the
// remainder to Dst2. For OpDiv the SSA result is Dst and Dst2 is a fresh
// vreg nothing reads; for OpMod it is the other way round.
func (fl *funcLowering) lowerDivMod(in *ssa.Inst) {
	dst := fl.reg(in.ID)
	l := fl.reg(in.Args[0])
	r := fl.reg(in.Args[1])
	op := Div
	if !in.Type.Unsigned {
		op = IDiv
	}
	inst := &Inst{Op: op, Class: ClassInt, Width: widthOf(in.Type), Args: []VReg{l, r}}
	if in.Op == ssa.OpDiv {
		inst.Dst = dst
		inst.Dst2 = fl.f.newVReg()
	} else {
		inst.Dst = fl.f.newVReg()
		inst.Dst2 = dst
	}
	fl.emit(inst)
}

func (fl *funcLowering) lowerIntCompare(in *ssa.Inst) {
	dst := fl.reg(in.ID)
	l := fl.reg(in.Args[0])
	r := fl.reg(in.Args[1])
	unsigned := fl.operandUnsigned(in.Args[0])
	fl.emit(&Inst{Op: Cmp, Dst: noReg, Dst2: noReg, Args: []VReg{l, r}})
	fl.emit(&Inst{Op: SetCC, Class: ClassInt, Width: 1, Dst: dst, Dst2: noReg, Cond: condFor(in.Op, unsigned)})
}

// operandUnsigned looks up the recorded result type of the instruction
// that produced v, so a comparison can pick the signed/unsigned x86
// condition code variant. Usual arithmetic conversions (sema/convert.go)
// already guarantee both compare operands share a type, so consulting
// either one is sufficient.
func (fl *funcLowering) operandUnsigned(v ssa.Value) bool {
	if t, ok := fl.valType[v]; ok {
		return t.Unsigned
	}
	return false
}

func (fl *funcLowering) lowerFloatCompare(in *ssa.Inst) {
	dst := fl.reg(in.ID)
	l := fl.reg(in.Args[0])
	r := fl.reg(in.Args[1])
	fl.emit(&Inst{Op: UComi, Class: ClassSSE, Dst: noReg, Args: []VReg{l, r}})
	fl.emit(&Inst{Op: SetCC, Class: ClassInt, Width: 1, Dst: dst, Cond: condFor(floatToIntOpcode(in.Op), false)})
}

func floatToIntOpcode(op ssa.Op) ssa.Op {
	switch op {
	case ssa.OpFEq:
		return ssa.OpEq
	case ssa.OpFNe:
		return ssa.OpNe
	case ssa.OpFLt:
		return ssa.OpLt
	case ssa.OpFLe:
		return ssa.OpLe
	case ssa.OpFGt:
		return ssa.OpGt
	case ssa.OpFGe:
		return ssa.OpGe
	}
	return op
}

func condFor(op ssa.Op, unsigned bool) Cond {
	switch op {
	case ssa.OpEq:
		return CondE
	case ssa.OpNe:
		return CondNE
	case ssa.OpLt:
		if unsigned {
			return CondB
		}
		return CondL
	case ssa.OpLe:
		if unsigned {
			return CondBE
		}
		return CondLE
	case ssa.OpGt:
		if unsigned {
			return CondA
		}
		return CondG
	case ssa.OpGe:
		if unsigned {
			return CondAE
		}
		return CondGE
	}
	panic("mir: not a comparison opcode")
}

func (fl *funcLowering) lowerConv(in *ssa.Inst, op Op) {
	dst := fl.reg(in.ID)
	src := fl.reg(in.Args[0])
	class := classOf(in.Type)
	i := &Inst{Op: op, Class: class, Width: widthOf(in.Type), Dst: dst, Args: []VReg{src}}
	if op == Cvt {
		i.IsFloat64 = in.Type.Kind == types.Double
	}
	fl.emit(i)
}

// lowerCall emits a single Call/CallInd instruction whose Args are the
// vregs of the OpCall's own Args in call order (for an indirect call,
// Args[0] is the callee pointer); the SSA builder emits no OpCallArg
// markers. The encoder moves each argument into its ABI register or
// stack slot at the call site.
func (fl *funcLowering) lowerCall(in *ssa.Inst) {
	var dst VReg = noReg
	if in.Type != nil && in.Type.Kind != types.Void {
		dst = fl.reg(in.ID)
	}
	args := make([]VReg, len(in.Args))
	for i, a := range in.Args {
		args[i] = fl.reg(a)
	}
	op := Call
	sym := in.Sym
	if sym == "" {
		op = CallInd
	}
	fl.emit(&Inst{Op: op, Class: classOf(in.Type), Width: widthOf(in.Type), Dst: dst, Args: args, Sym: sym})
}
