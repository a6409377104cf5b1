// Package ssa implements the SSA IR builder (component 4.D): a typed,
// basic-block-structured intermediate representation built directly from
// the semantic analyzer's AST. Every compiler-generated temporary is
// assigned exactly once at the instruction that produces it, so the form
// is in single-assignment shape without needing a phi-insertion algorithm
// (spec ss9): user-declared local variables instead live in stack slots
// addressed by Alloca/Load/Store, exactly like a C compiler's naive
// (unoptimized) IR lowering.
//
// Grounded on tinyrange-rtg/std/compiler/ir.go's Opcode/Inst stack-machine
// IR, generalized from an implicit-stack operand model to an explicit
// value-id (register) operand model, and from its OP_LABEL/OP_JMP flat
// instruction stream to an explicit basic-block graph.
package ssa

import "github.com/cjit-project/cjit/internal/types"

// Op enumerates every SSA instruction opcode.
type Op int

const (
	OpConstInt Op = iota
	OpConstFloat
	OpAlloca
	OpLoad
	OpStore
	OpGlobalAddr
	OpParam

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpNeg

	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpNot

	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFNeg
	OpFEq
	OpFNe
	OpFLt
	OpFLe
	OpFGt
	OpFGe

	OpSext   // sign-extend narrower integer to wider
	OpZext   // zero-extend narrower integer to wider
	OpTrunc  // truncate wider integer to narrower
	OpI2F    // int to float/double
	OpF2I    // float/double to int
	OpFExt   // float to double
	OpFTrunc // double to float
	OpBitcast

	OpGEPField // struct/union field address: Args[0] base ptr, Imm byte offset
	OpGEPIndex // array/pointer element address: Args[0] base ptr, Args[1] index, Imm elem size

	OpCall     // Args are arguments, Sym is callee name (direct) or Args[0] is callee ptr value (indirect, Sym=="")
	OpCallArg  // argument-position marker; the builder never emits it and MIR lowering emits nothing for it

	// Terminators (always the last instruction of a block)
	OpJump
	OpBranch // Args[0] cond, Target0 true-block, Target1 false-block
	OpReturn // Args[0] optional return value
	OpUnreachable
)

// Value is a reference to an instruction's single result, by id.
type Value int

const noValue Value = -1

// Inst is one SSA instruction: an opcode, a result type (nil if the
// instruction has no value, e.g. Store), operand value ids, and opcode-
// specific immediates.
type Inst struct {
	ID   Value
	Op   Op
	Type *types.Type

	Args []Value

	IntImm   int64
	FloatImm float64
	Sym      string // global name (GlobalAddr, direct Call)

	// Branch/Jump targets, block indices into Func.Blocks.
	Target0 int
	Target1 int
}

// Block is a basic block: a straight-line instruction list ending in
// exactly one terminator.
type Block struct {
	ID    int
	Name  string
	Insts []*Inst
}

func (b *Block) terminated() bool {
	if len(b.Insts) == 0 {
		return false
	}
	switch b.Insts[len(b.Insts)-1].Op {
	case OpJump, OpBranch, OpReturn, OpUnreachable:
		return true
	}
	return false
}

// StackSlot describes one alloca'd local (or spilled parameter), consumed
// by the MIR lowerer to assign frame offsets (component 4.E).
type StackSlot struct {
	ID    int
	Type  *types.Type
	Name  string // empty for compiler-synthesized slots
}

// Func is one compiled function: its signature, stack slots, and basic
// block graph.
type Func struct {
	Name       string
	ParamTypes []*types.Type
	RetType    *types.Type
	Variadic   bool
	IsStatic   bool

	Blocks     []*Block
	StackSlots []*StackSlot

	numValues int
}

func (f *Func) newValue() Value {
	v := Value(f.numValues)
	f.numValues++
	return v
}

func (f *Func) newBlock(name string) *Block {
	b := &Block{ID: len(f.Blocks), Name: name}
	f.Blocks = append(f.Blocks, b)
	return b
}

func (f *Func) newStackSlot(t *types.Type, name string) int {
	id := len(f.StackSlots)
	f.StackSlots = append(f.StackSlots, &StackSlot{ID: id, Type: t, Name: name})
	return id
}

// Global mirrors a sema.Object at IR level: a named, sized, optionally
// initialized storage location with byte image plus relocations.
type Global struct {
	Name     string
	Type     *types.Type
	IsStatic bool
	Data     []byte
	Relocs   []GlobalReloc
}

type GlobalReloc struct {
	Offset int64
	Target string
	Addend int64
}

// Module is the SSA builder's output: every live function and global the
// semantic analyzer's reachability pass kept (spec ss4.D "Output").
type Module struct {
	Funcs   []*Func
	Globals []*Global
}
