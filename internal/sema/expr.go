package sema

import (
	"github.com/cjit-project/cjit/internal/ast"
	"github.com/cjit-project/cjit/internal/token"
	"github.com/cjit-project/cjit/internal/types"
)

// exprValueType returns the type a parent expression should use when this
// node appears as an operand: ordinarily just n.Type, except for the
// sizeof/_Alignof kinds (SizeofType, SizeofExpr, AlignofType), whose
// value is always unsigned long whatever n.Type holds.
func exprValueType(n *ast.Node) *types.Type {
	switch n.Kind {
	case ast.SizeofType, ast.SizeofExpr, ast.AlignofType:
		return types.ULongT()
	}
	return n.Type
}

// parseExpr parses the comma operator (lowest precedence), spec ss4.C
// grammar's top-level "expression".
func (p *parser) parseExpr() *ast.Node {
	n := p.parseAssignExpr()
	for p.matchPunct(",") {
		rhs := p.parseAssignExpr()
		n = &ast.Node{Kind: ast.Comma, Loc: n.Loc, LHS: n, RHS: rhs, Type: exprValueType(rhs)}
	}
	return n
}

var compoundAssignOps = map[string]string{
	"+=": "+", "-=": "-", "*=": "*", "/=": "/", "%=": "%",
	"&=": "&", "|=": "|", "^=": "^", "<<=": "<<", ">>=": ">>",
}

// parseAssignExpr handles "=" and the compound-assignment operators, which
// are right-associative and bind just above the comma operator.
func (p *parser) parseAssignExpr() *ast.Node {
	lhs := p.parseCondExpr()
	op := p.peek()
	if op.Kind != token.Punct {
		return lhs
	}
	if op.Text == "=" {
		p.advance()
		rhs := p.parseAssignExpr()
		if !assignable(lhs.Type, exprValueType(rhs)) {
			p.errorf("cannot assign a value of incompatible type")
		}
		return &ast.Node{Kind: ast.Assign, Loc: lhs.Loc, Op: "=", LHS: lhs, RHS: rhs, Type: lhs.Type}
	}
	if base, ok := compoundAssignOps[op.Text]; ok {
		p.advance()
		rhsExpr := p.parseAssignExpr()
		// Compound assignment desugars to "lhs = lhs OP rhs" at parse time
		// (spec subset has no requirement to evaluate lhs's address only
		// once when it is a side-effecting subexpression like a[i++]).
		combined := p.buildBinary(base, lhs, rhsExpr)
		return &ast.Node{Kind: ast.Assign, Loc: lhs.Loc, Op: "=", LHS: lhs, RHS: combined, Type: lhs.Type}
	}
	return lhs
}

func (p *parser) parseCondExpr() *ast.Node {
	cond := p.parseLogOr()
	if !p.matchPunct("?") {
		return cond
	}
	then := p.parseExpr()
	p.expectPunct(":")
	els := p.parseCondExpr()
	resultTy := then.Type
	if then.Type != nil && els.Type != nil && then.Type.IsArithmetic() && els.Type.IsArithmetic() {
		resultTy = usualArithmeticConversions(then.Type, els.Type)
	} else if els.Type != nil {
		resultTy = els.Type
	}
	return &ast.Node{Kind: ast.Cond, Loc: cond.Loc, Cond_: cond, Then: then, Else: els, Type: resultTy}
}

type binLevel struct {
	ops  []string
	next func(*parser) *ast.Node
}

func (p *parser) parseLogOr() *ast.Node  { return p.parseLeftAssoc([]string{"||"}, (*parser).parseLogAnd) }
func (p *parser) parseLogAnd() *ast.Node { return p.parseLeftAssoc([]string{"&&"}, (*parser).parseBitOr) }
func (p *parser) parseBitOr() *ast.Node  { return p.parseLeftAssoc([]string{"|"}, (*parser).parseBitXor) }
func (p *parser) parseBitXor() *ast.Node { return p.parseLeftAssoc([]string{"^"}, (*parser).parseBitAnd) }
func (p *parser) parseBitAnd() *ast.Node { return p.parseLeftAssoc([]string{"&"}, (*parser).parseEquality) }
func (p *parser) parseEquality() *ast.Node {
	return p.parseLeftAssoc([]string{"==", "!="}, (*parser).parseRelational)
}
func (p *parser) parseRelational() *ast.Node {
	return p.parseLeftAssoc([]string{"<", "<=", ">", ">="}, (*parser).parseShift)
}
func (p *parser) parseShift() *ast.Node {
	return p.parseLeftAssoc([]string{"<<", ">>"}, (*parser).parseAdditive)
}
func (p *parser) parseAdditive() *ast.Node {
	return p.parseLeftAssoc([]string{"+", "-"}, (*parser).parseMul)
}
func (p *parser) parseMul() *ast.Node {
	return p.parseLeftAssoc([]string{"*", "/", "%"}, (*parser).parseCast)
}

func (p *parser) parseLeftAssoc(ops []string, next func(*parser) *ast.Node) *ast.Node {
	n := next(p)
	for {
		matched := false
		for _, op := range ops {
			if p.atPunct(op) {
				p.advance()
				rhs := next(p)
				n = p.buildBinary(op, n, rhs)
				matched = true
				break
			}
		}
		if !matched {
			return n
		}
	}
}

// buildBinary resolves the result type of a binary operator application
// per spec ss4.C: comparisons/logical ops yield int, pointer +/- integer
// scales by the pointee size, pointer-pointer subtraction yields long, and
// everything else goes through the usual arithmetic conversions.
func (p *parser) buildBinary(op string, l, r *ast.Node) *ast.Node {
	lt, rt := exprValueType(l), exprValueType(r)
	var resultTy *types.Type
	switch op {
	case "==", "!=", "<", "<=", ">", ">=", "&&", "||":
		resultTy = types.IntT()
	case "+":
		switch {
		case lt.IsPointer() || lt.Kind == types.Array:
			resultTy = lt.Decay()
		case rt.IsPointer() || rt.Kind == types.Array:
			resultTy = rt.Decay()
			l, r = r, l
			lt, rt = rt, lt
		default:
			resultTy = usualArithmeticConversions(lt, rt)
		}
	case "-":
		switch {
		case (lt.IsPointer() || lt.Kind == types.Array) && (rt.IsPointer() || rt.Kind == types.Array):
			resultTy = types.LongT()
		case lt.IsPointer() || lt.Kind == types.Array:
			resultTy = lt.Decay()
		default:
			resultTy = usualArithmeticConversions(lt, rt)
		}
	default:
		resultTy = usualArithmeticConversions(lt, rt)
	}
	return &ast.Node{Kind: ast.Binary, Loc: l.Loc, Op: op, LHS: l, RHS: r, Type: resultTy}
}

// parseCast parses "(" type-name ")" cast-expression | unary-expression,
// disambiguated by lookahead (spec ss4.C "Disambiguation").
func (p *parser) parseCast() *ast.Node {
	if p.atPunct("(") && p.startsTypeNameAt(p.pos+1) {
		loc := p.peek().Loc
		p.advance()
		ty := p.parseTypename()
		p.expectPunct(")")
		if p.atPunct("{") {
			return p.parseCompoundLiteral(ty, loc)
		}
		operand := p.parseCast()
		return &ast.Node{Kind: ast.Cast, Loc: loc, Operand: operand, Type: ty}
	}
	return p.parseUnary()
}

// startsTypeNameAt reports whether the token at index i begins a
// type-name, used to tell a cast/compound-literal "(" apart from a plain
// parenthesized expression.
func (p *parser) startsTypeNameAt(i int) bool {
	saved := p.pos
	p.pos = i
	r := p.isTypeName()
	p.pos = saved
	return r
}

var unaryOps = map[string]bool{"&": true, "*": true, "+": true, "-": true, "!": true, "~": true}

func (p *parser) parseUnary() *ast.Node {
	loc := p.peek().Loc
	if p.matchPunct("++") {
		operand := p.parseUnary()
		return &ast.Node{Kind: ast.Unary, Loc: loc, Op: "++", Prefix: true, Operand: operand, Type: operand.Type}
	}
	if p.matchPunct("--") {
		operand := p.parseUnary()
		return &ast.Node{Kind: ast.Unary, Loc: loc, Op: "--", Prefix: true, Operand: operand, Type: operand.Type}
	}
	if p.peek().Kind == token.Punct && unaryOps[p.peek().Text] {
		op := p.advance().Text
		operand := p.parseCast()
		var ty *types.Type
		switch op {
		case "&":
			ty = types.NewPointer(exprValueType(operand))
		case "*":
			base := exprValueType(operand).Decay()
			if !base.IsPointer() {
				p.errorf("indirection requires a pointer operand")
			}
			ty = base.Base
		default:
			ty = integerPromote(exprValueType(operand))
			if exprValueType(operand).IsFloating() {
				ty = exprValueType(operand)
			}
		}
		return &ast.Node{Kind: ast.Unary, Loc: loc, Op: op, Operand: operand, Type: ty}
	}
	if p.matchKeyword("sizeof") {
		return p.parseSizeof(loc)
	}
	if p.matchKeyword("_Alignof") {
		p.expectPunct("(")
		ty := p.parseTypename()
		p.expectPunct(")")
		return &ast.Node{Kind: ast.AlignofType, Loc: loc, Type: ty}
	}
	return p.parsePostfix()
}

func (p *parser) parseSizeof(loc token.Location) *ast.Node {
	if p.atPunct("(") && p.startsTypeNameAt(p.pos+1) {
		p.advance()
		ty := p.parseTypename()
		p.expectPunct(")")
		return &ast.Node{Kind: ast.SizeofType, Loc: loc, Type: ty}
	}
	operand := p.parseUnary()
	return &ast.Node{Kind: ast.SizeofExpr, Loc: loc, Operand: operand}
}

func (p *parser) parsePostfix() *ast.Node {
	n := p.parsePrimary()
	for {
		loc := p.peek().Loc
		switch {
		case p.matchPunct("["):
			idx := p.parseExpr()
			p.expectPunct("]")
			base := exprValueType(n).Decay()
			n = &ast.Node{Kind: ast.Index, Loc: loc, Base: n, Operand: idx, Type: base.Base}
		case p.matchPunct("("):
			var args []*ast.Node
			for !p.atPunct(")") {
				args = append(args, p.parseAssignExpr())
				if !p.matchPunct(",") {
					break
				}
			}
			p.expectPunct(")")
			ft := exprValueType(n)
			if ft.IsPointer() {
				ft = ft.Base
			}
			retTy := types.IntT()
			if ft.Kind == types.Function {
				retTy = ft.Ret
			}
			n = &ast.Node{Kind: ast.Call, Loc: loc, Callee: n, Args: args, Type: retTy}
		case p.matchPunct("."):
			field := p.expectIdent().Text
			f, _, ok := exprValueType(n).FieldByName(field)
			var ty *types.Type
			if ok {
				ty = f.Type
			}
			n = &ast.Node{Kind: ast.Member, Loc: loc, Base: n, Field: field, Type: ty}
		case p.matchPunct("->"):
			field := p.expectIdent().Text
			base := exprValueType(n)
			if base.IsPointer() {
				base = base.Base
			}
			f, _, ok := base.FieldByName(field)
			var ty *types.Type
			if ok {
				ty = f.Type
			}
			n = &ast.Node{Kind: ast.PtrMember, Loc: loc, Base: n, Field: field, Type: ty}
		case p.matchPunct("++"):
			n = &ast.Node{Kind: ast.Unary, Loc: loc, Op: "++", Prefix: false, Operand: n, Type: exprValueType(n)}
		case p.matchPunct("--"):
			n = &ast.Node{Kind: ast.Unary, Loc: loc, Op: "--", Prefix: false, Operand: n, Type: exprValueType(n)}
		default:
			return n
		}
	}
}

func (p *parser) parsePrimary() *ast.Node {
	tok := p.peek()
	switch tok.Kind {
	case token.IntLit:
		p.advance()
		ty := intLitType(tok)
		return &ast.Node{Kind: ast.IntLit, Loc: tok.Loc, IntVal: int64(tok.IntVal), Type: ty}
	case token.FloatLit:
		p.advance()
		ty := types.DoubleT()
		if tok.IsFloat32 {
			ty = types.FloatT()
		}
		return &ast.Node{Kind: ast.FloatLit, Loc: tok.Loc, FloatVal: tok.FloatVal, Type: ty}
	case token.StringLit:
		p.advance()
		elemTy := types.CharT()
		if tok.StrWidth > 1 {
			elemTy = types.IntT()
		}
		ty := types.NewArray(elemTy, int64(len(tok.StrVal))/int64(max1(tok.StrWidth))+1)
		return &ast.Node{Kind: ast.StringLit, Loc: tok.Loc, StrVal: tok.StrVal, StrWidth: tok.StrWidth, Type: ty}
	case token.CharLit:
		p.advance()
		return &ast.Node{Kind: ast.IntLit, Loc: tok.Loc, IntVal: int64(tok.IntVal), Type: types.IntT()}
	}
	if p.atKeyword("__func__") || p.atKeyword("__FUNCTION__") {
		p.advance()
		name := p.currentFuncName()
		ty := types.NewArray(types.CharT(), int64(len(name))+1)
		return &ast.Node{Kind: ast.StringLit, Loc: tok.Loc, StrVal: []byte(name), StrWidth: 1, Type: ty}
	}
	if p.atKeyword("__PRETTY_FUNCTION__") {
		p.advance()
		name := p.currentFuncName()
		ty := types.NewArray(types.CharT(), int64(len(name))+1)
		return &ast.Node{Kind: ast.StringLit, Loc: tok.Loc, StrVal: []byte(name), StrWidth: 1, Type: ty}
	}
	if p.matchKeyword("_Generic") {
		return p.parseGeneric(tok.Loc)
	}
	if p.atKind(token.Ident) {
		name := p.advance().Text
		sym, ok := p.lookupIdent(name)
		if !ok {
			p.errorf("undeclared identifier %q", name)
		}
		return &ast.Node{Kind: ast.Ident, Loc: tok.Loc, Name: name, Sym: sym, Type: sym.Type}
	}
	if p.matchPunct("(") {
		n := p.parseExpr()
		p.expectPunct(")")
		return n
	}
	p.errorf("expected an expression, got %s", tok)
	return nil
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

func (p *parser) currentFuncName() string {
	if p.curFunc != nil {
		return p.curFunc.Name
	}
	return ""
}

// intLitType picks the smallest of int/long/long long (signed, unless an
// unsigned suffix or overflow of the signed range forces unsigned) that
// can represent the literal's value, per spec ss4.B "refined to the
// smallest type the value and any suffix require".
func intLitType(tok token.Token) *types.Type {
	v := tok.IntVal
	switch tok.IntSuffix {
	case token.SuffixU:
		if v <= 0xffffffff {
			return types.UIntT()
		}
		return types.ULongT()
	case token.SuffixL:
		if v <= 0x7fffffffffffffff {
			return types.LongT()
		}
		return types.ULongT()
	case token.SuffixUL:
		return types.ULongT()
	case token.SuffixLL:
		if v <= 0x7fffffffffffffff {
			return types.LLongT()
		}
		return types.ULLongT()
	case token.SuffixULL:
		return types.ULLongT()
	}
	if v <= 0x7fffffff {
		return types.IntT()
	}
	if (tok.IsHex || tok.IsOctal) && v <= 0xffffffff {
		return types.UIntT()
	}
	if v <= 0x7fffffffffffffff {
		return types.LongT()
	}
	return types.ULongT()
}

// parseGeneric implements _Generic per the Open Question 1 decision: the
// first matching association wins, falling back to "default" (DESIGN.md
// "Open Question decisions", item 1).
func (p *parser) parseGeneric(loc token.Location) *ast.Node {
	p.expectPunct("(")
	ctrl := p.parseAssignExpr()
	ctrlTy := exprValueType(ctrl)
	p.expectPunct(",")
	var chosen *ast.Node
	var defaultExpr *ast.Node
	for {
		if p.matchKeyword("default") {
			p.expectPunct(":")
			e := p.parseAssignExpr()
			if defaultExpr == nil {
				defaultExpr = e
			}
		} else {
			ty := p.parseTypename()
			p.expectPunct(":")
			e := p.parseAssignExpr()
			if chosen == nil && types.Compatible(ty, ctrlTy) {
				chosen = e
			}
		}
		if !p.matchPunct(",") {
			break
		}
	}
	p.expectPunct(")")
	if chosen != nil {
		return chosen
	}
	if defaultExpr != nil {
		return defaultExpr
	}
	p.errorf("_Generic: no matching association and no default")
	return nil
}

// parseCompoundLiteral parses "(" type-name ")" "{" initializer-list "}"
// (spec's Supplement: compound literals), reusing the aggregate
// initializer parser from init.go.
func (p *parser) parseCompoundLiteral(ty *types.Type, loc token.Location) *ast.Node {
	items := p.parseInitializerList(ty)
	return &ast.Node{Kind: ast.CompoundLit, Loc: loc, Args: items, Type: ty}
}
