package regalloc

import (
	"testing"

	"github.com/cjit-project/cjit/internal/mir"
)

// straightLineFunc builds a function with n independently-live int
// vregs (defined in order, all used by one final instruction), forcing
// linear-scan to spill once n exceeds the integer pool's size.
func straightLineFunc(n int) *mir.Func {
	f := &mir.Func{Name: "f"}
	b := &mir.Block{ID: 0}

	vregs := make([]mir.VReg, n)
	for i := 0; i < n; i++ {
		v := mir.VReg(i)
		vregs[i] = v
		b.Insts = append(b.Insts, &mir.Inst{Op: mir.MovImm, Class: mir.ClassInt, Width: 8, Dst: v, Imm: int64(i)})
	}
	b.Insts = append(b.Insts, &mir.Inst{Op: mir.Ret, Args: vregs})
	f.Blocks = []*mir.Block{b}
	f.NumVRegs = n
	return f
}

func TestAllocateFitsWithinRegisterBudget(t *testing.T) {
	f := straightLineFunc(4)
	res := Allocate(f)
	for _, v := range []mir.VReg{0, 1, 2, 3} {
		a, ok := res.IntAssign[v]
		if !ok {
			t.Fatalf("vreg %d got no assignment", v)
		}
		if a.Reg < 0 {
			t.Fatalf("vreg %d unexpectedly spilled with only 4 live vregs", v)
		}
	}
}

func TestAllocateSpillsUnderPressure(t *testing.T) {
	f := straightLineFunc(len(intPool) + 4)
	res := Allocate(f)

	spilled := 0
	for _, a := range res.IntAssign {
		if a.Reg < 0 {
			spilled++
		}
	}
	if spilled == 0 {
		t.Fatalf("expected some vregs to spill with %d live vregs against a %d-register pool", len(intPool)+4, len(intPool))
	}
	if res.FrameSize <= 0 {
		t.Fatalf("expected a positive frame size once spill slots exist, got %d", res.FrameSize)
	}
	if res.FrameSize%16 != 0 {
		t.Fatalf("frame size %d is not 16-byte aligned", res.FrameSize)
	}
}

func TestAllocateAssignsDistinctRegisters(t *testing.T) {
	f := straightLineFunc(3)
	res := Allocate(f)

	seen := make(map[int]mir.VReg)
	for v, a := range res.IntAssign {
		if a.Reg < 0 {
			continue
		}
		if other, ok := seen[a.Reg]; ok {
			t.Fatalf("register %d assigned to both vreg %d and vreg %d", a.Reg, other, v)
		}
		seen[a.Reg] = v
	}
}

func TestCalleeSaved(t *testing.T) {
	for _, r := range []int{RBX, RSI, RDI, RBP, R12, R13, R14, R15} {
		if !CalleeSaved(r) {
			t.Fatalf("register %d should be callee-saved", r)
		}
	}
	for _, r := range []int{RAX, RCX, RDX, R8, R9, R10, R11} {
		if CalleeSaved(r) {
			t.Fatalf("register %d should not be callee-saved", r)
		}
	}
}
