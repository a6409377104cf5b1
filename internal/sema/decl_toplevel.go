package sema

import (
	"github.com/cjit-project/cjit/internal/ast"
	"github.com/cjit-project/cjit/internal/token"
	"github.com/cjit-project/cjit/internal/types"
)

// parseExternalDecl parses one top-level construct: a typedef, a
// struct/union/enum-only declaration, or a sequence of declarators that
// are each either a global variable or (when followed by "{") a function
// definition (spec ss4.C "Output: ... the ordered list of global
// objects").
func (p *parser) parseExternalDecl() {
	if p.matchKeyword("_Static_assert") {
		p.expectPunct("(")
		cond := p.constIntExpr()
		if p.matchPunct(",") {
			p.expectKind(token.StringLit)
		}
		p.expectPunct(")")
		p.expectPunct(";")
		if cond == 0 {
			p.errorf("static assertion failed")
		}
		return
	}
	if p.atPunct(";") {
		p.advance()
		return
	}
	base, sc := p.parseDeclSpecifiers()

	if sc.IsTypedef {
		first := true
		for first || p.matchPunct(",") {
			first = false
			name, ty := p.parseDeclarator(base)
			p.declareIdent(name, &ast.Symbol{Kind: ast.SymTypedef, Name: name, Type: ty})
		}
		p.expectPunct(";")
		return
	}

	if p.atPunct(";") {
		// struct/union/enum-only declaration: the tag was already
		// registered by parseDeclSpecifiers.
		p.advance()
		return
	}

	name, ty := p.parseDeclarator(base)

	if ty.Kind == types.Function && p.atPunct("{") {
		p.parseFunctionDef(name, ty, sc)
		return
	}

	p.defineGlobal(name, ty, sc)
	for p.matchPunct(",") {
		n2, t2 := p.parseDeclarator(base)
		p.defineGlobal(n2, t2, sc)
	}
	p.expectPunct(";")
}

func (p *parser) expectKind(k token.Kind) token.Token {
	if !p.atKind(k) {
		p.errorf("expected %s, got %s", k, p.peek())
	}
	return p.advance()
}

// defineGlobal handles one top-level (non-function) declarator: a plain
// declaration, a tentative definition (no initializer, possibly repeated),
// or a defining declaration with an initializer (spec ss4.C, and DESIGN.md
// Open Question decision 3: a later incompatible declaration for the same
// name is a hard redefinition error, not silently accepted).
func (p *parser) defineGlobal(name string, ty *types.Type, sc ast.StorageClass) {
	flags := ast.ObjectFlags(0)
	if sc.IsStatic {
		flags |= ast.FlagStatic
	}
	if sc.IsTLS {
		flags |= ast.FlagThreadLocal
	}

	if existing, ok := p.mod.lookup(name); ok {
		if !types.Compatible(existing.Type, ty) {
			p.errorf("redefinition of %q with an incompatible type", name)
		}
	}

	sym := &ast.Symbol{Kind: ast.SymVar, Name: name, Type: ty, Flags: flags}
	p.declareIdent(name, sym)

	obj := &Object{Name: name, Type: ty, Flags: flags}
	if p.matchPunct("=") {
		obj.Flags |= ast.FlagDefinition
		var init *ast.Node
		if p.atPunct("{") {
			init = &ast.Node{Kind: ast.CompoundLit, Type: ty, Args: p.parseInitializerList(ty)}
		} else {
			init = p.parseAssignExpr()
		}
		obj.InitData, obj.Relocs = p.flattenGlobalInit(ty, init)
	} else if sc.IsExtern {
		// declaration only, no storage reserved here
		return
	} else {
		obj.Flags |= ast.FlagTentative
		obj.InitData = make([]byte, ty.Size)
	}
	p.mod.define(obj)
}

// parseFunctionDef parses a function body and records the resulting
// Object, including goto/label resolution for this function (spec ss4.C
// "goto/label resolution: unresolved labels are a parse error"). No
// __func__ local is declared: parsePrimary turns each use of __func__,
// __FUNCTION__ or __PRETTY_FUNCTION__ into a string literal holding the
// function's name.
func (p *parser) parseFunctionDef(name string, ty *types.Type, sc ast.StorageClass) {
	flags := ast.FlagFunction | ast.FlagDefinition
	if sc.IsStatic {
		flags |= ast.FlagStatic
	}
	if sc.IsInline {
		flags |= ast.FlagInline
	}

	sym := &ast.Symbol{Kind: ast.SymFunc, Name: name, Type: ty, Flags: flags}
	p.declareIdent(name, sym)

	fnNode := &ast.Node{Kind: ast.FuncDecl, Name: name, Type: ty, IsDef: true}
	prevFunc, prevFuncType := p.curFunc, p.curFuncType
	prevLabels, prevUses, prevNextLabel := p.labels, p.labelUses, p.nextLabel
	p.curFunc, p.curFuncType = fnNode, ty
	p.labels = make(map[string]int)
	p.labelUses = nil

	p.pushScope()
	for i, paramTy := range ty.Params {
		pname := ""
		if i < len(p.pendingParamNames) {
			pname = p.pendingParamNames[i]
		}
		psym := &ast.Symbol{Kind: ast.SymVar, Name: pname, Type: paramTy, IsLocal: true, IsParam: true, ParamIdx: i}
		if pname != "" {
			p.declareIdent(pname, psym)
		}
		fnNode.Params = append(fnNode.Params, &ast.Node{Kind: ast.Ident, Name: pname, Sym: psym, Type: paramTy})
	}
	fnNode.ParamNames = append([]string(nil), p.pendingParamNames...)
	p.pendingParamNames = nil

	fnNode.FuncBody = p.parseBlock()
	p.popScope()

	for _, use := range p.labelUses {
		if _, ok := p.labels[use.node.Label]; !ok {
			p.logger.Errorf(use.loc, "use of undeclared label %q", use.node.Label)
			panic(parseError{loc: use.loc, msg: "unresolved goto"})
		}
		use.node.LabelID = p.labels[use.node.Label]
	}

	p.curFunc, p.curFuncType = prevFunc, prevFuncType
	p.labels, p.labelUses, p.nextLabel = prevLabels, prevUses, prevNextLabel

	obj := &Object{Name: name, Type: ty, Flags: flags, Body: fnNode.FuncBody}
	obj.CalledFuncs = collectCalledFuncs(fnNode.FuncBody)
	p.mod.define(obj)
	p.funcNodes = append(p.funcNodes, fnNode)
}

// collectCalledFuncs walks a function body collecting the names of every
// directly-called global function, the reachability edge DCE's mark phase
// follows (spec ss3 Object "reference list of called-function names").
func collectCalledFuncs(n *ast.Node) []string {
	var out []string
	var walk func(*ast.Node)
	seen := make(map[string]bool)
	walk = func(n *ast.Node) {
		if n == nil {
			return
		}
		if n.Kind == ast.Call && n.Callee != nil && n.Callee.Kind == ast.Ident {
			if !seen[n.Callee.Name] {
				seen[n.Callee.Name] = true
				out = append(out, n.Callee.Name)
			}
		}
		for _, child := range []*ast.Node{n.LHS, n.RHS, n.Third, n.Operand, n.Callee, n.Base,
			n.Cond_, n.Then, n.Else, n.Init, n.Post, n.Body, n.Tag, n.InitExpr} {
			walk(child)
		}
		for _, c := range n.Stmts {
			walk(c)
		}
		for _, c := range n.Args {
			walk(c)
		}
		for _, c := range n.Cases {
			walk(c)
		}
		for _, c := range n.Decls {
			walk(c)
		}
	}
	walk(n)
	return out
}

// parseLocalDeclaration parses a block-scope declaration (spec ss4.C
// local-variable handling), returning one ast.Node per declarator (each
// Kind==VarDecl, or TypedefDecl for a local typedef).
func (p *parser) parseLocalDeclaration() []*ast.Node {
	base, sc := p.parseDeclSpecifiers()
	var decls []*ast.Node
	if sc.IsTypedef {
		first := true
		for first || p.matchPunct(",") {
			first = false
			name, ty := p.parseDeclarator(base)
			p.declareIdent(name, &ast.Symbol{Kind: ast.SymTypedef, Name: name, Type: ty})
			decls = append(decls, &ast.Node{Kind: ast.TypedefDecl, Name: name, Type: ty})
		}
		p.expectPunct(";")
		return decls
	}
	if p.atPunct(";") {
		p.advance()
		return decls
	}
	first := true
	for first || p.matchPunct(",") {
		first = false
		name, ty := p.parseDeclarator(base)
		if _, exists := p.lookupIdentLocal(name); exists {
			p.errorf("redefinition of local variable %q", name)
		}
		sym := &ast.Symbol{Kind: ast.SymVar, Name: name, Type: ty, IsLocal: true}
		p.declareIdent(name, sym)
		decl := &ast.Node{Kind: ast.VarDecl, Name: name, Type: ty, Sym: sym, Storage: sc}
		if p.matchPunct("=") {
			if p.atPunct("{") {
				decl.InitExpr = &ast.Node{Kind: ast.CompoundLit, Type: ty, Args: p.parseInitializerList(ty)}
			} else {
				decl.InitExpr = p.parseAssignExpr()
			}
		}
		decls = append(decls, decl)
	}
	p.expectPunct(";")
	return decls
}
