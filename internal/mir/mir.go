// Package mir implements Machine IR lowering (component 4.E): SSA values
// become virtual registers, stack slots become byte-offset stack objects,
// and every SSA instruction becomes one or more machine-shaped
// instructions drawn from a small x86-64 opcode subset, ready for linear-
// scan register allocation (component 4.F) and encoding (component 4.G).
//
// Grounded on tinyrange-rtg/std/compiler/backend_x64.go's CodeGen: the
// same JumpFixup/CallFixup two-pass label-patching idea is generalized
// here one level earlier, as a block-to-block control-flow graph with
// explicit virtual-register operands rather than an implicit evaluation
// stack, per spec ss4.E.
package mir

import "github.com/cjit-project/cjit/internal/types"

// VReg identifies a virtual register, pre-allocation.
type VReg int

const noReg VReg = -1

// RegClass distinguishes the integer and SSE register files, since x86-64
// has two disjoint banks (spec ss4.F "two independent register files").
type RegClass int

const (
	ClassInt RegClass = iota
	ClassSSE
)

// Op enumerates the x86-64-shaped opcode subset Machine IR instructions
// are drawn from.
type Op int

const (
	MovImm Op = iota
	MovRR
	Load  // Dst = [Base + Disp]
	Store // [Base + Disp] = Src
	LoadGlobalAddr
	LeaStack // Dst = FrameBase + Disp (address of a stack object)

	Add
	Sub
	IMul
	IDiv // signed; quotient+remainder via two results (Dst, Dst2=remainder)
	Div  // unsigned
	Neg
	And
	Or
	Xor
	Not
	Shl
	Sar // arithmetic shift right (signed)
	Shr // logical shift right (unsigned)

	FAdd
	FSub
	FMul
	FDiv
	FNeg

	Cmp    // integer compare, sets flags; SetCC reads them
	UComi  // unordered float compare, sets flags
	SetCC  // Dst = condition code as 0/1

	MovSX // sign-extend
	MovZX // zero-extend
	Cvt   // int<->float / float<->double conversion family, Class and IsFloat64 select the specific variant
	Bitcast

	Push
	Pop

	Call     // direct, Sym names the callee
	CallInd  // indirect, Args[0] is the callee vreg
	Ret

	Jmp
	Jcc // conditional jump on a condition code, Cond selects which
	Label

	FrameSetup    // prologue marker: reserve FrameSize bytes, save callee-saved regs
	FrameTeardown // epilogue marker
)

// Cond is an x86 condition code, used by Jcc/SetCC.
type Cond int

const (
	CondE Cond = iota
	CondNE
	CondL
	CondLE
	CondG
	CondGE
	CondB  // unsigned <
	CondBE // unsigned <=
	CondA  // unsigned >
	CondAE // unsigned >=
)

// Width is an operand's size in bytes (1, 2, 4, or 8). SSE arithmetic
// takes its single/double precision from IsFloat64, not from Width.
type Width int

// Inst is one Machine IR instruction.
type Inst struct {
	Op    Op
	Class RegClass
	Width Width

	Dst  VReg
	Dst2 VReg // IDiv's remainder result
	Args []VReg

	Imm      int64
	FloatImm float64
	IsFloat64 bool

	Sym  string // global/function symbol (LoadGlobalAddr, Call)
	Cond Cond

	// Jmp/Jcc targets, block indices into Func.Blocks.
	Target0 int
	Target1 int

	// Load/Store/LeaStack addressing: Args[0] is the base register (or
	// noReg for a frame-relative access via StackObj), Disp is the byte
	// displacement, StackObj names a Func.StackObjs entry when the
	// address is frame-relative rather than register-relative.
	Disp     int64
	StackObj int // -1 if not a stack access, -2 for an incoming stack-passed parameter at Disp
}

// StackObject is one local's frame slot, offset assigned by the register
// allocator's frame-layout pass once spill slots are known (spec ss4.E
// "stack objects... offsets finalized after spill decisions").
type StackObject struct {
	ID     int
	Size   int64
	Align  int64
	Offset int64 // from rbp, negative; filled in after regalloc
}

// Block is a Machine IR basic block.
type Block struct {
	ID    int
	Insts []*Inst
}

// CallArgSlot describes how one call argument is passed, resolved during
// lowering from the Windows x64 calling convention (spec ss4.E): the first
// four integer/pointer args go in rcx/rdx/r8/r9, the first four float
// args in xmm0-3 (by argument position, not by class - an int in position
// 2 still costs a float slot), everything else on the stack above a
// mandatory 32-byte shadow space; any argument whose type is a struct
// larger than 8 bytes or not a power of two is passed by a hidden pointer
// to a caller-allocated temporary instead of by value (DESIGN.md Open
// Question decision 4, grounded on original_source/src/jir_gen.c).
type CallArgSlot struct {
	Reg       int // physical register number, or -1 if stack-passed
	Class     RegClass
	StackSlot int64 // byte offset above the shadow space, if Reg == -1
	ByPointer bool
}

// Func is one lowered function.
type Func struct {
	Name     string
	IsStatic bool

	NumVRegs    int
	StackObjs   []*StackObject
	FrameSize   int64 // not filled in; the encoder takes the frame size from regalloc.Result.FrameSize
	Blocks      []*Block
	ParamSlots  []CallArgSlot // this function's own parameters, by the same convention
	RetByPointer bool         // true if RetType needed a hidden first argument
	RetType     *types.Type
}

func (f *Func) newVReg() VReg {
	v := VReg(f.NumVRegs)
	f.NumVRegs++
	return v
}

// Module is Machine IR's output: one Func per SSA Func, plus every
// surviving global (data section content is unchanged from ssa.Global).
type Module struct {
	Funcs   []*Func
	Globals []Global
}

type Global struct {
	Name     string
	IsStatic bool
	Data     []byte
	Relocs   []Reloc
}

type Reloc struct {
	Offset int64
	Target string
	Addend int64
}

// LargeStructABI reports whether a struct/union argument or return value
// of the given size must be passed by hidden pointer under the Windows
// x64 convention this subset targets (DESIGN.md Open Question decision 4).
func LargeStructABI(size int64) bool {
	return size > 8 || !isPowerOfTwo(size)
}

func isPowerOfTwo(n int64) bool {
	return n > 0 && n&(n-1) == 0
}
