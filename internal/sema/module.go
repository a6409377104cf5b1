// Package sema implements the parser and semantic analyzer (component
// 4.C): recursive-descent grammar with inline scope-aware type resolution,
// aggregate layout, initializer trees, a constant-expression evaluator,
// goto/label resolution, and dead-declaration elimination.
//
// Grounded on tinyrange-rtg/std/compiler/parser.go's Parser (token cursor,
// precedence-climbing expression parser, per-statement parse functions)
// and ir.go's Compiler (scope stack, resolveExprType, evalConstExprWithIota)
// and dce.go's mark-and-sweep reachability, generalized from a Go-subset
// grammar to the C grammar and type system spec.md ss4.C describes.
package sema

import (
	"fmt"

	"github.com/cjit-project/cjit/internal/ast"
	"github.com/cjit-project/cjit/internal/diag"
	"github.com/cjit-project/cjit/internal/token"
	"github.com/cjit-project/cjit/internal/types"
)

// Object is spec ss3's "Object": a named declaration.
type Object struct {
	Name       string
	Type       *types.Type
	Flags      ast.ObjectFlags
	Align      int64
	Body       *ast.Node // function body, nil for non-definitions
	InitData   []byte    // global initializer bytes
	Relocs     []Relocation
	CalledFuncs []string // reachability back-references (spec ss3 "reference list of called-function names")
}

// Relocation names a pending reference to another global discovered while
// flattening a global initializer (spec ss4.C "globals: evaluate to a flat
// byte image plus a linked list of relocations").
type Relocation struct {
	Offset int64
	Target string
	Addend int64
}

// Module is spec ss3's "SSA IR Module" precursor: the parser's output is
// "the ordered list of global objects" (spec ss4.C "Output").
type Module struct {
	Objects []*Object
	byName  map[string]*Object

	// Funcs holds every parsed function definition's AST in source
	// order, input to the SSA builder (component 4.D).
	Funcs []*ast.Node
}

func newModule() *Module {
	return &Module{byName: make(map[string]*Object)}
}

func (m *Module) lookup(name string) (*Object, bool) {
	o, ok := m.byName[name]
	return o, ok
}

func (m *Module) define(o *Object) {
	if existing, ok := m.byName[o.Name]; ok {
		// Upgrade a prior declaration/tentative-definition in place so
		// earlier references (by *Object pointer) see the final state.
		*existing = *o
		return
	}
	m.byName[o.Name] = o
	m.Objects = append(m.Objects, o)
}

// Parse runs the full parser + semantic analysis pipeline over a token
// stream, returning the populated Module or the first diagnostic error
// (spec ss4.C "Errors": each emits a source-located diagnostic and aborts
// parsing of the translation unit").
func Parse(toks []token.Token, filename string, logger diag.Logger) (mod *Module, err error) {
	p := newParser(toks, filename, logger)
	defer func() {
		if r := recover(); r != nil {
			if pe, ok := r.(parseError); ok {
				err = fmt.Errorf("%s: %s", pe.loc, pe.msg)
				return
			}
			panic(r)
		}
	}()
	p.parseTranslationUnit()
	p.mod.Funcs = p.funcNodes
	EliminateUnreachable(p.mod)
	return p.mod, nil
}
