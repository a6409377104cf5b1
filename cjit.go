// Package cjit is the root facade spec section 6 describes: Compile
// turns C source bytes into an analyzed module, Emit lowers and encodes
// that module into linked machine code, and Finalize loads the result
// into executable memory and hands back the entry point. The three
// funcs mirror tinyrange-rtg's own top-level package, which exposes a
// single Compile/Run pair over its internal lexer/parser/codegen
// pipeline rather than making callers reach into internal/ directly.
package cjit

import (
	"fmt"

	"github.com/cjit-project/cjit/internal/arena"
	"github.com/cjit-project/cjit/internal/diag"
	"github.com/cjit-project/cjit/internal/jit"
	"github.com/cjit-project/cjit/internal/mir"
	"github.com/cjit-project/cjit/internal/sema"
	"github.com/cjit-project/cjit/internal/ssa"
	"github.com/cjit-project/cjit/internal/token"
	"github.com/cjit-project/cjit/internal/x64"
)

// Module is the fully analyzed program spec ss6's compile() returns:
// sema's declaration/type/initializer graph plus the SSA form built from
// it, ready for Emit.
type Module struct {
	Sema *sema.Module
	SSA  *ssa.Module
}

// Compile runs phases B through D (lex, parse+analyze, SSA build) over
// one translation unit. filename is used only for diagnostic locations.
func Compile(source []byte, filename string, logger diag.Logger) (mod *Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*diag.InternalError)
			if !ok {
				panic(r)
			}
			mod, err = nil, fmt.Errorf("cjit: %s: %w", filename, ie)
		}
	}()
	interner := arena.NewInterner()
	lexer := token.NewLexer(source, filename, interner)
	toks, err := lexer.Tokenize()
	if err != nil {
		return nil, fmt.Errorf("cjit: lex %s: %w", filename, err)
	}
	toks = token.ConcatenateStrings(toks)

	semaMod, err := sema.Parse(toks, filename, logger)
	if err != nil {
		return nil, fmt.Errorf("cjit: parse %s: %w", filename, err)
	}
	if logger.HadError() {
		return nil, fmt.Errorf("cjit: %s had errors, see diagnostics", filename)
	}

	ssaMod := ssa.BuildModule(semaMod, logger)
	return &Module{Sema: semaMod, SSA: ssaMod}, nil
}

// Emit runs phases E through G's encoder half (MIR lowering, register
// allocation, x86-64 encoding and linking) over a compiled module,
// producing the linked code+data image spec ss6's emit() returns.
// entryFunc names the function get_function will be asked for most
// commonly (typically "main"); EmitModule only uses it to resolve
// Image.EntryOff, every other function remains reachable through
// Image.SymbolOffset.
func Emit(mod *Module, entryFunc string) (*x64.Image, error) {
	mirMod := mir.Lower(mod.SSA)
	return x64.EmitModule(mirMod, entryFunc)
}

// Finalize runs phase G's loader half: mmap the image, patch global and
// external-symbol relocations (resolve answers every name in
// img.ExternalCallFixups, spec ss6's resolve_external), and flip the
// mapping executable. The returned Program's Run calls the function
// Emit resolved as entryFunc.
func Finalize(img *x64.Image, resolve jit.Resolver) (*jit.Program, error) {
	return jit.Load(img, resolve)
}
