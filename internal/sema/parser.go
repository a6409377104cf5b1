package sema

import (
	"fmt"

	"github.com/cjit-project/cjit/internal/ast"
	"github.com/cjit-project/cjit/internal/diag"
	"github.com/cjit-project/cjit/internal/token"
	"github.com/cjit-project/cjit/internal/types"
)

// parseError is the panic payload unwound to Parse's recover (spec ss4.C
// "aborts parsing of the translation unit", ss7 "no per-error recovery").
type parseError struct {
	loc token.Location
	msg string
}

// parser mirrors tinyrange-rtg/std/compiler/parser.go's Parser: a flat
// token cursor (peek/advance/at/match/expect) plus, generalized beyond the
// teacher, the scope stack and type-resolution state spec ss4.C needs.
type parser struct {
	toks []token.Token
	pos  int

	logger diag.Logger
	file   string

	scope *scope
	mod   *Module

	curFunc     *ast.Node
	curFuncType *types.Type
	labels      map[string]int // name -> label ID, per current function
	labelUses   []gotoUse
	nextLabel   int

	breakStack    []int
	continueStack []int

	strCounter int
	anonCounter int

	// pendingParamNames carries parameter names from the most recently
	// parsed function-type declarator suffix through to parseFunctionDef,
	// since types.Type itself has no room for per-parameter names.
	pendingParamNames []string

	// funcNodes accumulates every parsed function definition's AST in
	// source order, consumed by the SSA builder after Parse returns.
	funcNodes []*ast.Node
}

type gotoUse struct {
	node *ast.Node
	loc  token.Location
}

func newParser(toks []token.Token, file string, logger diag.Logger) *parser {
	p := &parser{toks: toks, file: file, logger: logger, mod: newModule()}
	p.scope = newScope(nil)
	p.declareBuiltinTypedefs()
	return p
}

func (p *parser) peek() token.Token { return p.toks[p.pos] }

func (p *parser) peekN(n int) token.Token {
	if p.pos+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+n]
}

func (p *parser) advance() token.Token {
	t := p.toks[p.pos]
	if p.pos < len(p.toks)-1 {
		p.pos++
	}
	return t
}

func (p *parser) atKind(k token.Kind) bool { return p.peek().Kind == k }

func (p *parser) atPunct(s string) bool {
	return p.peek().Kind == token.Punct && p.peek().Text == s
}

func (p *parser) atKeyword(s string) bool {
	return p.peek().Kind == token.Keyword && p.peek().Text == s
}

func (p *parser) matchPunct(s string) bool {
	if p.atPunct(s) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) matchKeyword(s string) bool {
	if p.atKeyword(s) {
		p.advance()
		return true
	}
	return false
}

func (p *parser) expectPunct(s string) token.Token {
	if !p.atPunct(s) {
		p.errorf("expected %q, got %s", s, p.peek())
	}
	return p.advance()
}

func (p *parser) expectIdent() token.Token {
	if !p.atKind(token.Ident) {
		p.errorf("expected identifier, got %s", p.peek())
	}
	return p.advance()
}

func (p *parser) errorf(format string, args ...any) {
	loc := p.peek().Loc
	msg := fmt.Sprintf(format, args...)
	p.logger.Errorf(loc, "%s", msg)
	panic(parseError{loc: loc, msg: msg})
}

func (p *parser) internalf(format string, args ...any) {
	// IR-build-era "should be caught by the parser" invariant violations
	// (spec ss7 kind 5) use Fatalf instead of the recoverable errorf.
	p.logger.Fatalf(format, args...)
}

// parseTranslationUnit is the C.# grammar entry point: a sequence of
// top-level declarations (spec ss4.C "Grammar").
func (p *parser) parseTranslationUnit() {
	for !p.atKind(token.EOF) {
		p.parseExternalDecl()
	}
}
