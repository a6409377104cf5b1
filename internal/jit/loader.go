// Package jit implements the in-memory loader (component 4.G's loader
// half): it maps a linked x64.Image into executable memory, patches the
// global-address relocations x64.EmitModule couldn't resolve before a
// runtime base address existed, and calls the program's main entry point
// directly as a Go function pointer, without ever touching disk.
//
// Grounded on original_source/src/main.c's JIT harness (VirtualAlloc
// with PAGE_READWRITE, memcpy the assembled buffer in, VirtualProtect to
// PAGE_EXECUTE_READWRITE, cast the label offset to a function pointer
// and call it, VirtualFree when done) translated to the POSIX mmap/
// mprotect/munmap equivalents via golang.org/x/sys/unix, the way a Go
// port of that lifecycle is written elsewhere in the example pack.
package jit

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/cjit-project/cjit/internal/x64"
)

// Program is a loaded, runnable in-memory image. Close must be called
// once the caller is done calling Run or the functions GetFunction
// returns, to unmap the executable pages.
type Program struct {
	mem      []byte
	entryOff int
	symbols  map[string]int
}

// Resolver looks up the absolute address of an external symbol (spec
// ss6's resolve_external), e.g. a libc function the module calls but
// never defines. It's consulted once per entry in img.ExternalCallFixups.
type Resolver func(name string) (uintptr, error)

// Load maps img into a fresh anonymous RW mapping, copies the linked
// buffer in, resolves every GlobalFixupOffsets slot against the
// mapping's real base address, patches every ExternalCallFixups slot
// with resolve's answer, then flips the mapping to RX. Splitting the
// mapping step from the protection flip (rather than mapping RWX
// directly) mirrors main.c's two-step VirtualAlloc+VirtualProtect
// sequence and additionally means the process is never observed holding
// a writable-and-executable page at the same time.
func Load(img *x64.Image, resolve Resolver) (*Program, error) {
	size := len(img.Buf)
	if size == 0 {
		return nil, fmt.Errorf("jit: empty image")
	}

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("jit: mmap: %w", err)
	}

	base := uintptr(unsafe.Pointer(&mem[0]))
	copy(mem, img.Buf)

	for _, off := range img.GlobalFixupOffsets {
		rel := binary.LittleEndian.Uint64(mem[off : off+8])
		binary.LittleEndian.PutUint64(mem[off:off+8], uint64(base)+rel)
	}

	for _, fx := range img.ExternalCallFixups {
		if resolve == nil {
			unix.Munmap(mem)
			return nil, fmt.Errorf("jit: external symbol %q needs a resolver but none was given", fx.Name)
		}
		addr, err := resolve(fx.Name)
		if err != nil {
			unix.Munmap(mem)
			return nil, fmt.Errorf("jit: resolving %q: %w", fx.Name, err)
		}
		binary.LittleEndian.PutUint64(mem[fx.Offset:fx.Offset+8], uint64(addr))
	}

	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("jit: mprotect: %w", err)
	}

	return &Program{mem: mem, entryOff: img.EntryOff, symbols: img.Symbols}, nil
}

// Close unmaps the executable pages. The Program must not be used again
// afterward, and addresses obtained from GetFunction must not be called
// after Close runs.
func (p *Program) Close() error {
	if p.mem == nil {
		return nil
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	return err
}

// entryFunc is the C ABI signature this subset's loader supports: a
// zero-argument function returning a 32-bit status code, matching
// original_source/src/main.c's `int32_t main(void)` JIT harness.
type entryFunc func() int32

// Run calls the loaded main function and returns its int32 result.
//
// This relies on Go's calling convention for a value obtained by casting
// a raw code pointer through unsafe/reflect matching the System V /
// Windows x64 convention closely enough for a zero-argument, integer-
// returning call - true for the Go runtime's internal ABI0 assembly
// trampolines but not guaranteed by the language spec, so Run is the one
// deliberately unsafe seam in this package; it exists because the whole
// point of this compiler is to execute freshly generated machine code,
// which cannot be expressed as a typed Go call without it.
func (p *Program) Run() int32 {
	// A Go func value points at a word holding the code address.
	codePtr := uintptr(unsafe.Pointer(&p.mem[p.entryOff]))
	fnVal := &codePtr
	fn := *(*entryFunc)(unsafe.Pointer(&fnVal))
	return fn()
}

// GetFunction returns the absolute address of a named function within
// the loaded image (spec ss6's get_function(name) -> fn_ptr). The
// caller is responsible for casting it to the right Go func type the
// same unsafe way Run does for main.
func (p *Program) GetFunction(name string) (uintptr, bool) {
	off, ok := p.symbols[name]
	if !ok {
		return 0, false
	}
	return uintptr(unsafe.Pointer(&p.mem[off])), true
}
