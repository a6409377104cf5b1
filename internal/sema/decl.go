package sema

import (
	"github.com/cjit-project/cjit/internal/ast"
	"github.com/cjit-project/cjit/internal/token"
	"github.com/cjit-project/cjit/internal/types"
)

// typeSpecMask bits accumulate type-specifier keywords so that
// "unsigned long long int" / "signed short" are recognized by fixed
// arithmetic over bit positions, per spec ss4.C.
type typeSpecMask int

const (
	specVoid typeSpecMask = 1 << iota
	specBool
	specChar
	specShort
	specInt
	specLong1
	specLong2
	specFloat
	specDouble
	specSigned
	specUnsigned
)

func (p *parser) declareBuiltinTypedefs() {
	// Placeholder hook: builtin types are resolved by keyword, not by a
	// typedef table entry, matching the C grammar's reserved-word status
	// for int/char/etc. This function exists so future intrinsic
	// typedefs (e.g. a synthesized __builtin_va_list) have a single
	// insertion point.
}

// parseDeclSpecifiers consumes storage-class keywords, type-specifier
// keywords (accumulated into a mask), struct/union/enum/typedef-name type
// specifiers, and _Alignas/__attribute__ qualifiers, returning the base
// type and the attribute struct (spec ss4.C "Storage-class / attribute
// handling").
func (p *parser) parseDeclSpecifiers() (*types.Type, ast.StorageClass) {
	var sc ast.StorageClass
	var mask typeSpecMask
	var namedType *types.Type
	var qual types.Qualifier
	packed := false
	var alignOverride int64

	for {
		switch {
		case p.matchKeyword("typedef"):
			sc.IsTypedef = true
		case p.matchKeyword("static"):
			sc.IsStatic = true
		case p.matchKeyword("extern"):
			sc.IsExtern = true
		case p.matchKeyword("inline"):
			sc.IsInline = true
		case p.matchKeyword("_Thread_local"):
			sc.IsTLS = true
		case p.matchKeyword("auto"), p.matchKeyword("register"):
			// storage-class, no semantic effect in this subset
		case p.matchKeyword("const"):
			qual |= types.QualConst
		case p.matchKeyword("volatile"):
			qual |= types.QualVolatile
		case p.matchKeyword("restrict"):
			qual |= types.QualRestrict
		case p.matchKeyword("_Noreturn"):
			// parsed, inert (spec SPEC_FULL.md Supplement)
		case p.matchKeyword("_Alignas"):
			p.expectPunct("(")
			if p.isTypeName() {
				t := p.parseTypename()
				alignOverride = t.Align
			} else {
				alignOverride = p.constIntExpr()
			}
			p.expectPunct(")")
		case p.atKeyword("__attribute__") || p.atKeyword("asm") || p.atKeyword("__asm__"):
			goto done // attributes/asm after specifiers handled by caller
		case p.matchKeyword("void"):
			mask |= specVoid
		case p.matchKeyword("_Bool"):
			mask |= specBool
		case p.matchKeyword("char"):
			mask |= specChar
		case p.matchKeyword("short"):
			mask |= specShort
		case p.matchKeyword("int"):
			mask |= specInt
		case p.matchKeyword("long"):
			if mask&specLong1 != 0 {
				mask |= specLong2
			} else {
				mask |= specLong1
			}
		case p.matchKeyword("float"):
			mask |= specFloat
		case p.matchKeyword("double"):
			mask |= specDouble
		case p.matchKeyword("signed"):
			mask |= specSigned
		case p.matchKeyword("unsigned"):
			mask |= specUnsigned
		case p.matchKeyword("struct"):
			namedType = p.parseStructOrUnion(false)
		case p.matchKeyword("union"):
			namedType = p.parseStructOrUnion(true)
		case p.matchKeyword("enum"):
			namedType = p.parseEnum()
		case p.matchKeyword("_Atomic"):
			if namedType != nil {
				cp := *namedType
				cp.Atomic = true
				namedType = &cp
			}
		case mask == 0 && namedType == nil && p.atKind(token.Ident) && p.isTypedefName(p.peek().Text):
			sym, _ := p.lookupIdent(p.peek().Text)
			namedType = sym.Type
			p.advance()
		default:
			goto done
		}
		_ = p.tryParsePackedAttribute(&packed, &alignOverride)
	}
done:
	p.tryParsePackedAttribute(&packed, &alignOverride)

	var base *types.Type
	switch {
	case namedType != nil:
		base = namedType
	case mask&specVoid != 0:
		base = types.Void_()
	case mask&specBool != 0:
		base = types.BoolT()
	case mask&specChar != 0:
		if mask&specUnsigned != 0 {
			base = types.UCharT()
		} else {
			base = types.CharT()
		}
	case mask&specFloat != 0:
		base = types.FloatT()
	case mask&specDouble != 0:
		base = types.DoubleT()
	case mask&specShort != 0:
		if mask&specUnsigned != 0 {
			base = types.UShortT()
		} else {
			base = types.ShortT()
		}
	case mask&specLong2 != 0:
		if mask&specUnsigned != 0 {
			base = types.ULLongT()
		} else {
			base = types.LLongT()
		}
	case mask&specLong1 != 0:
		if mask&specUnsigned != 0 {
			base = types.ULongT()
		} else {
			base = types.LongT()
		}
	case mask&specUnsigned != 0:
		base = types.UIntT()
	default:
		// bare "int", "signed", or nothing parsed at all (caller checks isTypeName first)
		base = types.IntT()
	}
	if packed {
		cp := *base
		cp.IsPacked = true
		base = &cp
	}
	if alignOverride > 0 {
		cp := *base
		cp.Align = alignOverride
		base = &cp
	}
	base.Qualifiers |= qual
	return base, sc
}

// tryParsePackedAttribute recognizes __attribute__((packed)) and
// __attribute__((aligned(N))), plus the inert ((noreturn))/((unused))
// SPEC_FULL.md's Supplement section names.
func (p *parser) tryParsePackedAttribute(packed *bool, align *int64) bool {
	if !p.atKeyword("__attribute__") {
		return false
	}
	p.advance()
	p.expectPunct("(")
	p.expectPunct("(")
	for !p.atPunct(")") {
		if p.atKind(token.Ident) || p.atKind(token.Keyword) {
			name := p.advance().Text
			switch name {
			case "packed":
				*packed = true
			case "aligned":
				if p.matchPunct("(") {
					*align = p.constIntExpr()
					p.expectPunct(")")
				}
			case "noreturn", "unused", "const", "pure":
				// inert
			}
		}
		if !p.matchPunct(",") {
			break
		}
	}
	p.expectPunct(")")
	p.expectPunct(")")
	return true
}

func (p *parser) isTypedefName(name string) bool {
	sym, ok := p.lookupIdent(name)
	return ok && sym.Kind == ast.SymTypedef
}

// isTypeName reports whether the current token begins a type-name (used
// to disambiguate "(" cast-or-paren-expr "," sizeof-type-or-expr, etc.).
func (p *parser) isTypeName() bool {
	if p.atKind(token.Keyword) {
		switch p.peek().Text {
		case "void", "_Bool", "char", "short", "int", "long", "float", "double",
			"signed", "unsigned", "struct", "union", "enum", "const", "volatile",
			"restrict", "typedef", "static", "extern", "_Atomic", "_Alignas",
			"inline", "_Thread_local", "_Noreturn", "auto", "register":
			return true
		}
	}
	if p.atKind(token.Ident) && p.isTypedefName(p.peek().Text) {
		return true
	}
	return false
}

// parseDeclarator implements chibicc's double-parse trick for
// parenthesized declarators: ty is mutated in place once the real base
// type is known, and the grouped inner declarator is re-parsed against it.
func (p *parser) parseDeclarator(base *types.Type) (string, *types.Type) {
	ty := base
	for p.matchPunct("*") {
		ty = types.NewPointer(ty)
		for p.matchKeyword("const") || p.matchKeyword("volatile") || p.matchKeyword("restrict") {
		}
	}
	if p.matchPunct("(") {
		start := p.pos
		dummy := &types.Type{}
		p.parseDeclarator(dummy)
		p.expectPunct(")")
		outerTy := p.parseTypeSuffix(ty)
		*dummy = *outerTy
		saved := p.pos
		p.pos = start
		name, _ := p.parseDeclarator(dummy)
		p.pos = saved
		return name, dummy
	}
	name := ""
	if p.atKind(token.Ident) {
		name = p.advance().Text
	}
	ty = p.parseTypeSuffix(ty)
	return name, ty
}

// parseAbstractDeclarator is parseDeclarator without requiring (or
// allowing) a name, used for typenames (casts, sizeof(T), parameter types
// with no parameter name).
func (p *parser) parseAbstractDeclarator(base *types.Type) *types.Type {
	_, ty := p.parseDeclarator(base)
	return ty
}

// parseTypeSuffix handles the array-dimension and function-parameter-list
// suffixes that attach to a direct-declarator (spec ss4.C grammar).
func (p *parser) parseTypeSuffix(base *types.Type) *types.Type {
	if p.matchPunct("[") {
		length := int64(-1)
		if !p.atPunct("]") {
			length = p.constIntExpr()
		}
		p.expectPunct("]")
		inner := p.parseTypeSuffix(base)
		return types.NewArray(inner, length)
	}
	if p.matchPunct("(") {
		var params []*types.Type
		var paramNames []string
		variadic := false
		if p.atPunct(")") {
			// () means "unspecified parameters" in this subset; treated as ().
		} else {
			for {
				if p.matchPunct("...") {
					variadic = true
					break
				}
				pt, _ := p.parseDeclSpecifiers()
				var pname string
				pname, pt = p.parseDeclarator(pt)
				if pt.Kind == types.Array {
					pt = types.NewPointer(pt.Base)
				}
				if pt.Kind == types.Function {
					pt = types.NewPointer(pt)
				}
				params = append(params, pt)
				paramNames = append(paramNames, pname)
				if !p.matchPunct(",") {
					break
				}
			}
		}
		p.expectPunct(")")
		p.pendingParamNames = paramNames
		return types.NewFunction(base, params, variadic)
	}
	return base
}

// parseTypename parses a standalone type-name (used by sizeof/casts):
// declaration-specifiers followed by an optional abstract declarator.
func (p *parser) parseTypename() *types.Type {
	base, _ := p.parseDeclSpecifiers()
	return p.parseAbstractDeclarator(base)
}

func (p *parser) parseStructOrUnion(isUnion bool) *types.Type {
	name := ""
	if p.atKind(token.Ident) {
		name = p.advance().Text
	}
	if !p.atPunct("{") {
		// reference to a (possibly forward-declared) tag
		if name == "" {
			p.errorf("expected struct/union tag or body")
		}
		if sym, ok := p.lookupTag(name); ok {
			return sym.Type
		}
		t := types.NewStruct(name, isUnion)
		p.declareTag(name, &ast.Symbol{Kind: ast.SymTag, Name: name, Type: t})
		return t
	}
	var t *types.Type
	if name != "" {
		if sym, ok := p.lookupTagLocal(name); ok {
			t = sym.Type
		}
	}
	if t == nil {
		t = types.NewStruct(name, isUnion)
		if name != "" {
			p.declareTag(name, &ast.Symbol{Kind: ast.SymTag, Name: name, Type: t})
		}
	}
	p.expectPunct("{")
	var specs []types.MemberSpec
	packed := false
	var alignOverride int64
	for !p.atPunct("}") {
		base, _ := p.parseDeclSpecifiers()
		first := true
		for first || p.matchPunct(",") {
			first = false
			if p.atPunct(";") {
				// anonymous struct/union member with no declarator
				specs = append(specs, types.MemberSpec{Type: base, BitWidth: -1, Anon: true})
				break
			}
			memberName, mty := p.parseDeclarator(base)
			bitWidth := -1
			if p.matchPunct(":") {
				bitWidth = int(p.constIntExpr())
			}
			specs = append(specs, types.MemberSpec{Name: memberName, Type: mty, BitWidth: bitWidth})
		}
		p.expectPunct(";")
	}
	p.expectPunct("}")
	p.tryParsePackedAttribute(&packed, &alignOverride)
	if isUnion {
		types.LayoutUnion(t, specs, packed, alignOverride)
	} else {
		types.LayoutStruct(t, specs, packed, alignOverride)
	}
	return t
}

func (p *parser) parseEnum() *types.Type {
	name := ""
	if p.atKind(token.Ident) {
		name = p.advance().Text
	}
	if !p.atPunct("{") {
		if sym, ok := p.lookupTag(name); ok {
			return sym.Type
		}
		t := types.NewEnum(name, types.IntT())
		p.declareTag(name, &ast.Symbol{Kind: ast.SymTag, Name: name, Type: t})
		return t
	}
	t := types.NewEnum(name, types.IntT())
	if name != "" {
		p.declareTag(name, &ast.Symbol{Kind: ast.SymTag, Name: name, Type: t})
	}
	p.expectPunct("{")
	var iota int64
	for !p.atPunct("}") {
		cname := p.expectIdent().Text
		if p.matchPunct("=") {
			iota = p.constIntExpr()
		}
		p.declareIdent(cname, &ast.Symbol{Kind: ast.SymEnumConst, Name: cname, Type: t, ConstValue: iota})
		iota++
		if !p.matchPunct(",") {
			break
		}
	}
	p.expectPunct("}")
	return t
}
