package sema

import (
	"github.com/cjit-project/cjit/internal/ast"
	"github.com/cjit-project/cjit/internal/token"
)

// parseStmt parses one statement (spec ss4.C grammar's "statement"
// production).
func (p *parser) parseStmt() *ast.Node {
	loc := p.peek().Loc
	switch {
	case p.atPunct("{"):
		return p.parseBlock()
	case p.matchKeyword("if"):
		return p.parseIf(loc)
	case p.matchKeyword("for"):
		return p.parseFor(loc)
	case p.matchKeyword("while"):
		return p.parseWhile(loc)
	case p.matchKeyword("do"):
		return p.parseDoWhile(loc)
	case p.matchKeyword("switch"):
		return p.parseSwitch(loc)
	case p.matchKeyword("case"):
		return p.parseCase(loc)
	case p.matchKeyword("default"):
		p.expectPunct(":")
		return &ast.Node{Kind: ast.Default, Loc: loc, Then: p.parseStmt()}
	case p.matchKeyword("break"):
		p.expectPunct(";")
		n := &ast.Node{Kind: ast.Break, Loc: loc}
		if len(p.breakStack) > 0 {
			n.BreakTarget = p.breakStack[len(p.breakStack)-1]
		}
		return n
	case p.matchKeyword("continue"):
		p.expectPunct(";")
		n := &ast.Node{Kind: ast.Continue, Loc: loc}
		if len(p.continueStack) > 0 {
			n.ContinueTarget = p.continueStack[len(p.continueStack)-1]
		}
		return n
	case p.matchKeyword("goto"):
		name := p.expectIdent().Text
		p.expectPunct(";")
		n := &ast.Node{Kind: ast.Goto, Loc: loc, Label: name}
		p.labelUses = append(p.labelUses, gotoUse{node: n, loc: loc})
		return n
	case p.matchKeyword("return"):
		var val *ast.Node
		if !p.atPunct(";") {
			val = p.parseExpr()
		}
		p.expectPunct(";")
		return &ast.Node{Kind: ast.Return, Loc: loc, Operand: val}
	case p.matchPunct(";"):
		return &ast.Node{Kind: ast.Empty, Loc: loc}
	case p.matchKeyword("asm"), p.matchKeyword("__asm__"):
		return p.parseAsmStmt(loc)
	case p.atKind2IdentColon():
		name := p.advance().Text
		p.advance() // ':'
		n := &ast.Node{Kind: ast.Labeled, Loc: loc, Label: name, LabelID: p.allocLabel(name)}
		n.Then = p.parseStmt()
		p.labels[name] = n.LabelID
		return n
	default:
		if p.isTypeName() {
			decls := p.parseLocalDeclaration()
			return &ast.Node{Kind: ast.DeclStmt, Loc: loc, Decls: decls}
		}
		e := p.parseExpr()
		p.expectPunct(";")
		return &ast.Node{Kind: ast.ExprStmt, Loc: loc, Operand: e}
	}
}

func (p *parser) allocLabel(name string) int {
	id := p.nextLabel
	p.nextLabel++
	return id
}

// atKind2IdentColon reports whether the cursor is at "ident :" (a label),
// distinguished from a ternary or a typename by simple two-token lookahead.
func (p *parser) atKind2IdentColon() bool {
	return p.atKind(token.Ident) && p.peekN(1).Kind == token.Punct && p.peekN(1).Text == ":"
}

func (p *parser) parseBlock() *ast.Node {
	loc := p.peek().Loc
	p.expectPunct("{")
	p.pushScope()
	var stmts []*ast.Node
	for !p.atPunct("}") {
		stmts = append(stmts, p.parseStmt())
	}
	p.expectPunct("}")
	p.popScope()
	return &ast.Node{Kind: ast.Block, Loc: loc, Stmts: stmts}
}

func (p *parser) parseIf(loc token.Location) *ast.Node {
	p.expectPunct("(")
	cond := p.parseExpr()
	p.expectPunct(")")
	then := p.parseStmt()
	var els *ast.Node
	if p.matchKeyword("else") {
		els = p.parseStmt()
	}
	return &ast.Node{Kind: ast.If, Loc: loc, Cond_: cond, Then: then, Else: els}
}

func (p *parser) parseWhile(loc token.Location) *ast.Node {
	p.expectPunct("(")
	cond := p.parseExpr()
	p.expectPunct(")")
	id := p.allocLabel("")
	p.breakStack = append(p.breakStack, id)
	p.continueStack = append(p.continueStack, id)
	body := p.parseStmt()
	p.breakStack = p.breakStack[:len(p.breakStack)-1]
	p.continueStack = p.continueStack[:len(p.continueStack)-1]
	return &ast.Node{Kind: ast.While, Loc: loc, Cond_: cond, Body: body, LabelID: id}
}

func (p *parser) parseDoWhile(loc token.Location) *ast.Node {
	id := p.allocLabel("")
	p.breakStack = append(p.breakStack, id)
	p.continueStack = append(p.continueStack, id)
	body := p.parseStmt()
	p.breakStack = p.breakStack[:len(p.breakStack)-1]
	p.continueStack = p.continueStack[:len(p.continueStack)-1]
	p.matchKeyword("while")
	p.expectPunct("(")
	cond := p.parseExpr()
	p.expectPunct(")")
	p.expectPunct(";")
	return &ast.Node{Kind: ast.DoWhile, Loc: loc, Cond_: cond, Body: body, LabelID: id}
}

func (p *parser) parseFor(loc token.Location) *ast.Node {
	p.expectPunct("(")
	p.pushScope()
	var init *ast.Node
	if !p.atPunct(";") {
		if p.isTypeName() {
			decls := p.parseLocalDeclaration()
			init = &ast.Node{Kind: ast.DeclStmt, Decls: decls}
		} else {
			e := p.parseExpr()
			p.expectPunct(";")
			init = &ast.Node{Kind: ast.ExprStmt, Operand: e}
		}
	} else {
		p.advance()
	}
	var cond *ast.Node
	if !p.atPunct(";") {
		cond = p.parseExpr()
	}
	p.expectPunct(";")
	var post *ast.Node
	if !p.atPunct(")") {
		post = p.parseExpr()
	}
	p.expectPunct(")")
	id := p.allocLabel("")
	p.breakStack = append(p.breakStack, id)
	p.continueStack = append(p.continueStack, id)
	body := p.parseStmt()
	p.breakStack = p.breakStack[:len(p.breakStack)-1]
	p.continueStack = p.continueStack[:len(p.continueStack)-1]
	p.popScope()
	return &ast.Node{Kind: ast.For, Loc: loc, Init: init, Cond_: cond, Post: post, Body: body, LabelID: id}
}

// parseSwitch parses the controlling expression and body, then collects
// every case/default label reachable without descending into a nested
// switch, matching the "switch lowers to an equality-test chain over the
// collected labels" design (SPEC_FULL.md regen of spec ss4.D; no jump
// table is built).
func (p *parser) parseSwitch(loc token.Location) *ast.Node {
	p.expectPunct("(")
	tag := p.parseExpr()
	p.expectPunct(")")
	id := p.allocLabel("")
	p.breakStack = append(p.breakStack, id)
	body := p.parseStmt()
	p.breakStack = p.breakStack[:len(p.breakStack)-1]
	var cases []*ast.Node
	collectCases(body, &cases)
	return &ast.Node{Kind: ast.Switch, Loc: loc, Tag: tag, Then: body, Cases: cases, LabelID: id}
}

func collectCases(n *ast.Node, out *[]*ast.Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case ast.Switch:
		return // a nested switch owns its own case/default labels
	case ast.Case, ast.Default:
		*out = append(*out, n)
		collectCases(n.Then, out)
		return
	case ast.Block:
		for _, s := range n.Stmts {
			collectCases(s, out)
		}
	case ast.If:
		collectCases(n.Then, out)
		collectCases(n.Else, out)
	case ast.Labeled:
		collectCases(n.Then, out)
	case ast.For, ast.While, ast.DoWhile:
		collectCases(n.Body, out)
	}
}

func (p *parser) parseCase(loc token.Location) *ast.Node {
	lo := p.constIntExpr()
	hi := lo
	isRange := false
	if p.matchPunct("...") {
		hi = p.constIntExpr()
		isRange = true
	}
	p.expectPunct(":")
	return &ast.Node{Kind: ast.Case, Loc: loc, CaseLo: lo, CaseHi: hi, IsRange: isRange, Then: p.parseStmt()}
}

// parseAsmStmt treats an asm statement as an opaque blob: the string
// literal operand is kept verbatim in AsmText, and the SSA builder emits
// no code for it, so an asm statement has no effect on the generated
// machine code.
func (p *parser) parseAsmStmt(loc token.Location) *ast.Node {
	for p.matchKeyword("volatile") {
	}
	p.expectPunct("(")
	text := ""
	if p.atKind(token.StringLit) {
		text = string(p.advance().StrVal)
	}
	for !p.atPunct(")") {
		p.advance()
	}
	p.expectPunct(")")
	p.expectPunct(";")
	return &ast.Node{Kind: ast.Asm, Loc: loc, AsmText: text}
}
