// Package x64 implements x86-64 machine-code encoding and the in-process
// linking of Machine IR into a single flat byte buffer (component 4.G's
// encoder half): register-register and register-memory REX/ModRM/SIB
// instruction forms, a two-pass function-offset/jump/call fixup scheme,
// and final patching of every relocation once every symbol's address is
// known.
//
// Grounded on tinyrange-rtg/std/compiler/x64.go's mnemonic-level emitters
// (rexRR/modrmRR/loadMem/storeMem/emitMovRegImm64/pushR/popR and friends,
// reused near-verbatim since the instruction forms this subset needs are
// the same ones the teacher already encodes) and backend_x64.go's two-
// pass CodeGen (funcOffsets computed by a first compile pass, then
// JumpFixup/CallFixup-style deferred patches resolved once every
// function's start offset is known), generalized from the teacher's
// stack-machine operand model (everything through rax/r15 via
// push/pop) to Machine IR's explicit virtual-register operands, which
// internal/regalloc has already mapped onto physical registers before
// this package ever runs.
package x64

import "encoding/binary"

// Physical register encodings, matching internal/regalloc's numbering so
// an Assignment's Reg field can be used directly as a register index here.
const (
	RAX = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
)

// Cond codes for Jcc/SetCC, the second opcode byte of the two-byte 0F8x
// (Jcc rel32) / 0F9x (SetCC) encodings.
const (
	CC_E  = 0x4
	CC_NE = 0x5
	CC_L  = 0xC
	CC_GE = 0xD
	CC_LE = 0xE
	CC_G  = 0xF
	CC_B  = 0x2
	CC_AE = 0x3
	CC_BE = 0x6
	CC_A  = 0x7
)

// Assembler accumulates machine code into one flat buffer, tracking the
// byte offset of each emitted label and the fixups that must be patched
// once every offset is known - the generalized two-pass scheme
// backend_x64.go's CodeGen uses for JumpFixup/CallFixup, except every
// fixup here is keyed by its *target* name rather than split across ad
// hoc label/func maps, since this subset's symbol tables already live in
// one place.
type Assembler struct {
	code []byte

	// symOffsets maps every defined symbol (function or local jump
	// label, the latter name-mangled to "func$blockN") to its byte
	// offset within code.
	symOffsets map[string]int
	fixups     []fixup

	// dataFixupOffsets records every MovImm64 slot patched with a
	// buffer-relative data address, for internal/jit's post-mmap pass
	// that adds the runtime base to each (see Image.GlobalFixupOffsets).
	dataFixupOffsets []int

	// externalFixups records every MovImm64 slot reserved for a call
	// target the module never defines (spec ss6 "external symbols are
	// resolved by a caller-supplied lookup"), for internal/jit to patch
	// with whatever absolute address the host's resolver returns.
	externalFixups []ExternalFixup
}

// ExternalFixup names one call site awaiting a host-resolved address.
type ExternalFixup struct {
	Offset int
	Name   string
}

type fixupKind int

const (
	fixupRel32 fixupKind = iota // target addr - (patch addr + 4)
	fixupAbs64                  // absolute 8-byte pointer
)

type fixup struct {
	kind   fixupKind
	offset int // byte offset within code where the patch goes
	target string
	addend int64
}

func NewAssembler() *Assembler {
	return &Assembler{symOffsets: make(map[string]int)}
}

func (a *Assembler) Bytes() []byte { return a.code }
func (a *Assembler) Len() int      { return len(a.code) }

func (a *Assembler) emitByte(b byte)   { a.code = append(a.code, b) }
func (a *Assembler) emitBytes(bs ...byte) { a.code = append(a.code, bs...) }
func (a *Assembler) emitU32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	a.code = append(a.code, buf[:]...)
}
func (a *Assembler) emitU64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	a.code = append(a.code, buf[:]...)
}

// DefineSymbol records the current code offset as the given name's
// address, for later fixup resolution.
func (a *Assembler) DefineSymbol(name string) {
	a.symOffsets[name] = len(a.code)
}

// AddRel32Fixup records a deferred rel32 patch (jumps, calls) against a
// symbol not yet defined when the instruction was emitted; offset is the
// position of the rel32 field itself (immediately after the opcode).
func (a *Assembler) AddRel32Fixup(target string, addend int64) {
	a.fixups = append(a.fixups, fixup{kind: fixupRel32, offset: len(a.code), target: target, addend: addend})
	a.emitU32(0) // placeholder, patched by Link
}

// AddAbs64Fixup records a deferred absolute-address patch (used for
// global data pointers materialized via a 64-bit immediate move).
func (a *Assembler) AddAbs64Fixup(target string, addend int64) {
	a.fixups = append(a.fixups, fixup{kind: fixupAbs64, offset: len(a.code), target: target, addend: addend})
	a.emitU64(0)
}

// Link patches every fixup now that all symbols (including any the
// caller pre-seeded, e.g. runtime helpers or absolute data addresses via
// DefineSymbol) are known, and reports any target that never resolved.
func (a *Assembler) Link() []string {
	var missing []string
	for _, f := range a.fixups {
		addr, ok := a.symOffsets[f.target]
		if !ok {
			missing = append(missing, f.target)
			continue
		}
		switch f.kind {
		case fixupRel32:
			rel := int32(int64(addr) - int64(f.offset+4) + f.addend)
			binary.LittleEndian.PutUint32(a.code[f.offset:], uint32(rel))
		case fixupAbs64:
			binary.LittleEndian.PutUint64(a.code[f.offset:], uint64(int64(addr)+f.addend))
		}
	}
	return missing
}

func rexRR(r, rm int, w bool) byte {
	rex := byte(0x40)
	if w {
		rex |= 0x08
	}
	if r >= 8 {
		rex |= 0x04
	}
	if rm >= 8 {
		rex |= 0x01
	}
	return rex
}

func modrmRR(r, rm int) byte {
	return byte(0xc0 | ((r & 7) << 3) | (rm & 7))
}

// MovRR emits `mov dst, src` at the given width (4 or 8 bytes; narrower
// moves reuse the 32-bit form, which already zero-extends on x86-64).
func (a *Assembler) MovRR(dst, src int, w int) {
	if w == 8 {
		a.emitBytes(rexRR(src, dst, true), 0x89, modrmRR(src, dst))
	} else {
		if rex := rexRR(src, dst, false); rex != 0x40 {
			a.emitByte(rex)
		}
		a.emitBytes(0x89, modrmRR(src, dst))
	}
}

// MovImm64 emits `movabs dst, imm64`.
func (a *Assembler) MovImm64(dst int, val uint64) {
	rex := byte(0x48)
	if dst >= 8 {
		rex = 0x49
	}
	a.emitByte(rex)
	a.emitByte(byte(0xb8 + (dst & 7)))
	a.emitU64(val)
}

// MovImm32 emits `mov dst, imm32` (zero-extended, no REX.W needed).
func (a *Assembler) MovImm32(dst int, val uint32) {
	if dst >= 8 {
		a.emitByte(0x41)
	}
	a.emitByte(byte(0xb8 + (dst & 7)))
	a.emitU32(val)
}

func binOp(a *Assembler, opcode byte, dst, src int, w int) {
	if w == 8 {
		a.emitBytes(rexRR(src, dst, true), opcode, modrmRR(src, dst))
	} else {
		if rex := rexRR(src, dst, false); rex != 0x40 {
			a.emitByte(rex)
		}
		a.emitBytes(opcode, modrmRR(src, dst))
	}
}

func (a *Assembler) AddRR(dst, src, w int) { binOp(a, 0x01, dst, src, w) }
func (a *Assembler) SubRR(dst, src, w int) { binOp(a, 0x29, dst, src, w) }
func (a *Assembler) AndRR(dst, src, w int) { binOp(a, 0x21, dst, src, w) }
func (a *Assembler) OrRR(dst, src, w int)  { binOp(a, 0x09, dst, src, w) }
func (a *Assembler) XorRR(dst, src, w int) { binOp(a, 0x31, dst, src, w) }
func (a *Assembler) CmpRR(x, y, w int)     { binOp(a, 0x39, x, y, w) }

// ImulRR emits the two-byte-opcode `imul dst, src` form.
func (a *Assembler) ImulRR(dst, src, w int) {
	a.emitBytes(rexRR(dst, src, w == 8), 0x0f, 0xaf, modrmRR(dst, src))
}

// NegR emits `neg reg`.
func (a *Assembler) NegR(reg, w int) {
	rex := byte(0x48)
	if w != 8 {
		rex = 0x40
	}
	if reg >= 8 {
		rex |= 0x01
	}
	if rex != 0x40 {
		a.emitByte(rex)
	}
	a.emitBytes(0xf7, byte(0xd8|(reg&7)))
}

// NotR emits `not reg`.
func (a *Assembler) NotR(reg, w int) {
	rex := byte(0x48)
	if w != 8 {
		rex = 0x40
	}
	if reg >= 8 {
		rex |= 0x01
	}
	if rex != 0x40 {
		a.emitByte(rex)
	}
	a.emitBytes(0xf7, byte(0xd0|(reg&7)))
}

// Cqo emits `cqo` (sign-extend rax into rdx:rax, ahead of idiv).
func (a *Assembler) Cqo() { a.emitBytes(0x48, 0x99) }

// Cdq emits the 32-bit equivalent, `cdq`.
func (a *Assembler) Cdq() { a.emitByte(0x99) }

// IdivR / DivR emit `idiv reg` / `div reg`, operating on rdx:rax (or
// edx:eax), matching x64.go's idivR.
func (a *Assembler) IdivR(reg, w int) { a.divOp(reg, w, 0xf8) }
func (a *Assembler) DivR(reg, w int)  { a.divOp(reg, w, 0xf0) }

func (a *Assembler) divOp(reg, w int, modrmBase byte) {
	rex := byte(0x48)
	if w != 8 {
		rex = 0x40
	}
	if reg >= 8 {
		rex |= 0x01
	}
	if rex != 0x40 {
		a.emitByte(rex)
	}
	a.emitBytes(0xf7, modrmBase|byte(reg&7))
}

// ShlCl / SarCl / ShrCl emit shift-by-cl forms.
func (a *Assembler) ShlCl(reg, w int) { a.shiftCl(reg, w, 0xe0) }
func (a *Assembler) SarCl(reg, w int) { a.shiftCl(reg, w, 0xf8) }
func (a *Assembler) ShrCl(reg, w int) { a.shiftCl(reg, w, 0xe8) }

func (a *Assembler) shiftCl(reg, w int, modrmBase byte) {
	rex := byte(0x48)
	if w != 8 {
		rex = 0x40
	}
	if reg >= 8 {
		rex |= 0x01
	}
	if rex != 0x40 {
		a.emitByte(rex)
	}
	a.emitBytes(0xd3, modrmBase|byte(reg&7))
}

// PushR / PopR.
func (a *Assembler) PushR(reg int) {
	if reg >= 8 {
		a.emitBytes(0x41, byte(0x50+(reg&7)))
	} else {
		a.emitByte(byte(0x50 + reg))
	}
}
func (a *Assembler) PopR(reg int) {
	if reg >= 8 {
		a.emitBytes(0x41, byte(0x58+(reg&7)))
	} else {
		a.emitByte(byte(0x58 + reg))
	}
}

// LoadMem emits `mov dst, [base+off]`.
func (a *Assembler) LoadMem(dst, base int, off int32, w int) {
	memOp(a, 0x8b, dst, base, off, w)
}

// StoreMem emits `mov [base+off], src`.
func (a *Assembler) StoreMem(base int, off int32, src int, w int) {
	memOp(a, 0x89, src, base, off, w)
}

// LeaMem emits `lea dst, [base+off]`.
func (a *Assembler) LeaMem(dst, base int, off int32) {
	memOp(a, 0x8d, dst, base, off, 8)
}

// memOp is the shared [base+disp] encoder for Load/Store/Lea, handling
// disp8/disp32 selection and the RSP/RBP special-case ModRM forms the
// teacher's loadMem/storeMem also special-case.
func memOp(a *Assembler, opcode byte, reg, base int, off int32, w int) {
	rex := rexRR(reg, base, w == 8)
	if w == 8 || rex != 0x40 {
		a.emitByte(rex)
	}
	needsSIB := (base & 7) == RSP
	switch {
	case off == 0 && (base&7) != RBP:
		a.emitBytes(opcode, byte((reg&7)<<3|(base&7)))
		if needsSIB {
			a.emitByte(0x24)
		}
	case off >= -128 && off <= 127:
		a.emitBytes(opcode, byte(0x40|(reg&7)<<3|(base&7)))
		if needsSIB {
			a.emitByte(0x24)
		}
		a.emitByte(byte(off))
	default:
		a.emitBytes(opcode, byte(0x80|(reg&7)<<3|(base&7)))
		if needsSIB {
			a.emitByte(0x24)
		}
		a.emitU32(uint32(off))
	}
}

// LoadMemZX / LoadMemSX emit `movzx`/`movsx` sub-width loads (LoadMemSX
// uses `movsxd` for a 4-byte source).
func (a *Assembler) LoadMemZX(dst, base int, off int32, srcWidth int) {
	rex := rexRR(dst, base, true)
	a.emitByte(rex)
	op := byte(0xb6)
	if srcWidth == 2 {
		op = 0xb7
	}
	a.emitBytes(0x0f, op)
	emitModrmDisp(a, dst, base, off)
}

func (a *Assembler) LoadMemSX(dst, base int, off int32, srcWidth int) {
	rex := rexRR(dst, base, true)
	a.emitByte(rex)
	op := byte(0xbe)
	if srcWidth == 2 {
		op = 0xbf
	} else if srcWidth == 4 {
		op = 0x00 // unused: the 0x63 movsxd opcode is emitted below
	}
	if srcWidth == 4 {
		a.emitByte(0x63)
	} else {
		a.emitBytes(0x0f, op)
	}
	emitModrmDisp(a, dst, base, off)
}

func emitModrmDisp(a *Assembler, reg, base int, off int32) {
	switch {
	case off == 0 && (base&7) != RBP:
		a.emitByte(byte((reg&7)<<3 | (base & 7)))
		if (base & 7) == RSP {
			a.emitByte(0x24)
		}
	case off >= -128 && off <= 127:
		a.emitByte(byte(0x40 | (reg&7)<<3 | (base & 7)))
		if (base & 7) == RSP {
			a.emitByte(0x24)
		}
		a.emitByte(byte(off))
	default:
		a.emitByte(byte(0x80 | (reg&7)<<3 | (base & 7)))
		if (base & 7) == RSP {
			a.emitByte(0x24)
		}
		a.emitU32(uint32(off))
	}
}

// MovSXD emits `movsxd dst, src` (32->64 sign extend register form).
func (a *Assembler) MovSXD(dst, src int) {
	a.emitBytes(rexRR(dst, src, true), 0x63, modrmRR(dst, src))
}

// SetCC emits `setcc dst_lo8`.
func (a *Assembler) SetCC(dst int, cc byte) {
	if dst >= 8 {
		a.emitByte(0x41)
	}
	a.emitBytes(0x0f, byte(0x90|cc), byte(0xc0|(dst&7)))
}

// Jcc emits a near conditional jump with a fixup against target.
func (a *Assembler) Jcc(cc byte, target string) {
	a.emitBytes(0x0f, byte(0x80|cc))
	a.AddRel32Fixup(target, 0)
}

// Jmp emits a near unconditional jump with a fixup against target.
func (a *Assembler) Jmp(target string) {
	a.emitByte(0xe9)
	a.AddRel32Fixup(target, 0)
}

// CallRel emits a near direct call with a fixup against target.
func (a *Assembler) CallRel(target string) {
	a.emitByte(0xe8)
	a.AddRel32Fixup(target, 0)
}

// CallInd emits `call reg`.
func (a *Assembler) CallInd(reg int) {
	if reg >= 8 {
		a.emitByte(0x41)
	}
	a.emitBytes(0xff, byte(0xd0|(reg&7)))
}

// Ret emits `ret`.
func (a *Assembler) Ret() { a.emitByte(0xc3) }

// SSE scalar double/single-precision ops (movsd/addsd/subsd/mulsd/divsd
// and the _ss equivalents): two-byte mandatory prefix + 0F opcode, same
// ModRM/REX machinery as the integer forms.
func sseOp(a *Assembler, prefix, opcode byte, dst, src int) {
	a.emitByte(prefix)
	rex := rexRR(dst, src, false)
	if rex != 0x40 {
		a.emitByte(rex)
	}
	a.emitBytes(0x0f, opcode, modrmRR(dst, src))
}

func (a *Assembler) MovsdRR(dst, src int, f64 bool) {
	if f64 {
		sseOp(a, 0xf2, 0x10, dst, src)
	} else {
		sseOp(a, 0xf3, 0x10, dst, src)
	}
}

// MovsdLoad / MovsdStore move a scalar double/single between an XMM
// register and a [base+off] memory operand, the SSE analogue of
// LoadMem/StoreMem, used to spill and reload float vregs.
func (a *Assembler) MovsdLoad(dst, base int, off int32, f64 bool) {
	p := byte(0xf3)
	if f64 {
		p = 0xf2
	}
	a.emitByte(p)
	rex := rexRR(dst, base, false)
	if rex != 0x40 {
		a.emitByte(rex)
	}
	a.emitBytes(0x0f, 0x10)
	emitModrmDisp(a, dst, base, off)
}

func (a *Assembler) MovsdStore(base int, off int32, src int, f64 bool) {
	p := byte(0xf3)
	if f64 {
		p = 0xf2
	}
	a.emitByte(p)
	rex := rexRR(src, base, false)
	if rex != 0x40 {
		a.emitByte(rex)
	}
	a.emitBytes(0x0f, 0x11)
	emitModrmDisp(a, src, base, off)
}
func (a *Assembler) AddsdRR(dst, src int, f64 bool)  { sseBinOp(a, 0x58, dst, src, f64) }
func (a *Assembler) SubsdRR(dst, src int, f64 bool)  { sseBinOp(a, 0x5c, dst, src, f64) }
func (a *Assembler) MulsdRR(dst, src int, f64 bool)  { sseBinOp(a, 0x59, dst, src, f64) }
func (a *Assembler) DivsdRR(dst, src int, f64 bool)  { sseBinOp(a, 0x5e, dst, src, f64) }
func (a *Assembler) UcomisdRR(dst, src int, f64 bool) {
	if f64 {
		a.emitByte(0x66)
	}
	rex := rexRR(dst, src, false)
	if rex != 0x40 {
		a.emitByte(rex)
	}
	a.emitBytes(0x0f, 0x2e, modrmRR(dst, src))
}

func sseBinOp(a *Assembler, opcode byte, dst, src int, f64 bool) {
	if f64 {
		sseOp(a, 0xf2, opcode, dst, src)
	} else {
		sseOp(a, 0xf3, opcode, dst, src)
	}
}

// Cvtsi2sd / Cvttsd2si / Cvtsd2ss / Cvtss2sd implement the int<->float
// and float<->double conversion family MIR's Cvt opcode needs.
func (a *Assembler) Cvtsi2sd(dst, src int, f64, srcIs64 bool) {
	p := byte(0xf3)
	if f64 {
		p = 0xf2
	}
	a.emitByte(p)
	a.emitByte(rexRR(dst, src, srcIs64))
	a.emitBytes(0x0f, 0x2a, modrmRR(dst, src))
}

func (a *Assembler) Cvttsd2si(dst, src int, f64, dstIs64 bool) {
	p := byte(0xf3)
	if f64 {
		p = 0xf2
	}
	a.emitByte(p)
	a.emitByte(rexRR(dst, src, dstIs64))
	a.emitBytes(0x0f, 0x2c, modrmRR(dst, src))
}

func (a *Assembler) Cvtsd2ss(dst, src int) { sseOp(a, 0xf2, 0x5a, dst, src) }
func (a *Assembler) Cvtss2sd(dst, src int) { sseOp(a, 0xf3, 0x5a, dst, src) }

// MovqXR / MovqRX move a 64-bit general register into/out of an XMM
// register, for bitcasting between integer and float representations.
func (a *Assembler) MovqXR(dst, src int) {
	a.emitBytes(0x66, rexRR(dst, src, true), 0x0f, 0x6e, modrmRR(dst, src))
}
func (a *Assembler) MovqRX(dst, src int) {
	a.emitBytes(0x66, rexRR(src, dst, true), 0x0f, 0x7e, modrmRR(src, dst))
}

// Nop emits a single-byte nop, used to pad alignment if ever needed.
func (a *Assembler) Nop() { a.emitByte(0x90) }
