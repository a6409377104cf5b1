package x64

import (
	"testing"

	"golang.org/x/arch/x86/x86asm"
)

// decode asserts src decodes as valid 64-bit x86 and returns the
// instruction, so every encoder test below is cross-checked against an
// independent decoder rather than just re-reading bytes this package
// itself produced.
func decode(t *testing.T, src []byte) x86asm.Inst {
	t.Helper()
	inst, err := x86asm.Decode(src, 64)
	if err != nil {
		t.Fatalf("x86asm.Decode(% x): %v", src, err)
	}
	if inst.Len != len(src) {
		t.Fatalf("x86asm.Decode(% x): consumed %d bytes, want %d", src, inst.Len, len(src))
	}
	return inst
}

func TestMovRRDecodesAsMov(t *testing.T) {
	a := NewAssembler()
	a.MovRR(RAX, RCX, 8)
	inst := decode(t, a.Bytes())
	if inst.Op != x86asm.MOV {
		t.Fatalf("got opcode %v, want MOV", inst.Op)
	}
}

func TestAddRRWithExtendedRegisterNeedsREX(t *testing.T) {
	a := NewAssembler()
	a.AddRR(R8, R9, 8)
	b := a.Bytes()
	if b[0]&0xf0 != 0x40 {
		t.Fatalf("expected a REX prefix byte, got % x", b)
	}
	inst := decode(t, b)
	if inst.Op != x86asm.ADD {
		t.Fatalf("got opcode %v, want ADD", inst.Op)
	}
}

func TestCmpRRRoundTrips(t *testing.T) {
	a := NewAssembler()
	a.CmpRR(RDX, RBX, 4)
	inst := decode(t, a.Bytes())
	if inst.Op != x86asm.CMP {
		t.Fatalf("got opcode %v, want CMP", inst.Op)
	}
}

func TestImulRRTwoOperandForm(t *testing.T) {
	a := NewAssembler()
	a.ImulRR(RAX, RCX, 8)
	inst := decode(t, a.Bytes())
	if inst.Op != x86asm.IMUL {
		t.Fatalf("got opcode %v, want IMUL", inst.Op)
	}
}

func TestPushPopRoundTrip(t *testing.T) {
	a := NewAssembler()
	a.PushR(RBX)
	a.PopR(R12)
	b := a.Bytes()

	push := decode(t, b[:1])
	if push.Op != x86asm.PUSH {
		t.Fatalf("got opcode %v, want PUSH", push.Op)
	}
	pop := decode(t, b[1:])
	if pop.Op != x86asm.POP {
		t.Fatalf("got opcode %v, want POP", pop.Op)
	}
}

func TestJccEmitsRel32FormAfterLink(t *testing.T) {
	a := NewAssembler()
	a.Jcc(CC_E, "target")
	a.Nop()
	a.DefineSymbol("target")
	if missing := a.Link(); len(missing) != 0 {
		t.Fatalf("unexpected unresolved symbols: %v", missing)
	}
	inst := decode(t, a.Bytes()[:6])
	if inst.Op != x86asm.JE {
		t.Fatalf("got opcode %v, want JE", inst.Op)
	}
}

func TestCallRelLinksToLocalSymbol(t *testing.T) {
	a := NewAssembler()
	a.DefineSymbol("f")
	a.Ret()
	a.CallRel("f")
	if missing := a.Link(); len(missing) != 0 {
		t.Fatalf("unexpected unresolved symbols: %v", missing)
	}
	inst := decode(t, a.Bytes()[1:6])
	if inst.Op != x86asm.CALL {
		t.Fatalf("got opcode %v, want CALL", inst.Op)
	}
}

func TestLinkReportsUnresolvedSymbol(t *testing.T) {
	a := NewAssembler()
	a.Jcc(CC_NE, "nowhere")
	missing := a.Link()
	if len(missing) != 1 || missing[0] != "nowhere" {
		t.Fatalf("got missing=%v, want [nowhere]", missing)
	}
}

func TestMovsdRRDecodesAsSSEMove(t *testing.T) {
	a := NewAssembler()
	a.MovsdRR(0, 1, true)
	inst := decode(t, a.Bytes())
	if inst.Op != x86asm.MOVSD_XMM {
		t.Fatalf("got opcode %v, want MOVSD_XMM", inst.Op)
	}
}

func TestCvtsi2sdDecodes(t *testing.T) {
	a := NewAssembler()
	a.Cvtsi2sd(0, RAX, true, true)
	inst := decode(t, a.Bytes())
	if inst.Op != x86asm.CVTSI2SD {
		t.Fatalf("got opcode %v, want CVTSI2SD", inst.Op)
	}
}
