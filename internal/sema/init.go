package sema

import (
	"math"

	"github.com/cjit-project/cjit/internal/ast"
	"github.com/cjit-project/cjit/internal/types"
)

// parseInitializerList parses the brace-delimited initializer-list that
// follows a declarator or a compound-literal type-name (spec ss4.C
// "Initializers"): designators ".field=" and "[k]=" (and the Supplement's
// "[a...b]=" range form), excess initializers ignored, missing tail
// members zero-filled downstream by the IR builder.
func (p *parser) parseInitializerList(ty *types.Type) []*ast.Node {
	p.expectPunct("{")
	var items []*ast.Node
	for !p.atPunct("}") {
		items = append(items, p.parseDesignatedInitializer(ty))
		if !p.matchPunct(",") {
			break
		}
	}
	p.expectPunct("}")
	return items
}

func (p *parser) parseDesignatedInitializer(ty *types.Type) *ast.Node {
	loc := p.peek().Loc
	designator := ""
	index := -1
	hi := int64(-1)
	for {
		if p.matchPunct(".") {
			designator = p.expectIdent().Text
			continue
		}
		if p.matchPunct("[") {
			index = int(p.constIntExpr())
			hi = int64(index)
			if p.matchPunct("...") {
				hi = p.constIntExpr()
			}
			p.expectPunct("]")
			continue
		}
		break
	}
	if designator != "" || index >= 0 {
		p.expectPunct("=")
	}
	elemTy := elementTypeFor(ty, designator, index)
	var value *ast.Node
	if p.atPunct("{") && elemTy != nil && elemTy.IsAggregate() {
		items := p.parseInitializerList(elemTy)
		value = &ast.Node{Kind: ast.CompoundLit, Loc: loc, Args: items, Type: elemTy}
	} else if p.atPunct("{") {
		items := p.parseInitializerList(elemTy)
		value = &ast.Node{Kind: ast.CompoundLit, Loc: loc, Args: items, Type: elemTy}
	} else {
		value = p.parseAssignExpr()
	}
	value.Designator = designator
	value.DesignatorIndex = index
	value.DesignatorHi = hi
	return value
}

// elementTypeFor returns the static type an initializer element at the
// given designator/index resolves to, used only to decide whether a
// nested "{...}" should be parsed as an aggregate initializer.
func elementTypeFor(ty *types.Type, designator string, index int) *types.Type {
	if ty == nil {
		return nil
	}
	if designator != "" {
		if f, _, ok := ty.FieldByName(designator); ok {
			return f.Type
		}
		return nil
	}
	switch ty.Kind {
	case types.Array:
		return ty.Base
	case types.Struct, types.Union:
		if index >= 0 && index < len(ty.Members) {
			return ty.Members[index].Type
		}
		if len(ty.Members) > 0 {
			return ty.Members[0].Type
		}
	}
	return ty
}

// flattenGlobalInit walks a parsed initializer tree for a global variable
// and produces a flat little-endian byte image plus a relocation list for
// any address-constant element (spec ss4.C "globals: evaluate to a flat
// byte image plus a linked list of relocations").
func (p *parser) flattenGlobalInit(ty *types.Type, init *ast.Node) ([]byte, []Relocation) {
	buf := make([]byte, ty.Size)
	var relocs []Relocation
	p.flattenInto(buf, 0, ty, init, &relocs)
	return buf, relocs
}

func (p *parser) flattenInto(buf []byte, base int64, ty *types.Type, init *ast.Node, relocs *[]Relocation) {
	if init == nil {
		return
	}
	if init.Kind == ast.CompoundLit || (ty.IsAggregate() && init.Kind != ast.StringLit) {
		p.flattenAggregate(buf, base, ty, init.Args, relocs)
		return
	}
	if ty.Kind == types.Array && init.Kind == ast.StringLit {
		copy(buf[base:], init.StrVal)
		return
	}
	v := p.evalConst(init)
	if v.Sym != "" {
		*relocs = append(*relocs, Relocation{Offset: base, Target: v.Sym, Addend: v.Addend})
		return
	}
	writeScalar(buf[base:], ty, v)
}

func (p *parser) flattenAggregate(buf []byte, base int64, ty *types.Type, items []*ast.Node, relocs *[]Relocation) {
	pos := 0
	for _, item := range items {
		var elemOff int64
		var elemTy *types.Type
		switch ty.Kind {
		case types.Array:
			idx := pos
			if item.DesignatorIndex >= 0 {
				idx = item.DesignatorIndex
			}
			elemTy = ty.Base
			elemOff = int64(idx) * elemTy.Size
			pos = idx + 1
			if item.DesignatorHi > int64(idx) {
				// Range designator: replicate into every covered slot.
				for k := int64(idx) + 1; k <= item.DesignatorHi; k++ {
					p.flattenInto(buf, base+k*elemTy.Size, elemTy, item, relocs)
				}
				pos = int(item.DesignatorHi) + 1
			}
		case types.Struct:
			idx := pos
			if item.Designator != "" {
				if f, off, ok := ty.FieldByName(item.Designator); ok {
					elemTy = f.Type
					elemOff = off
					pos = f.GEPIndex + 1
					p.flattenInto(buf, base+elemOff, elemTy, item, relocs)
					continue
				}
			}
			if idx >= len(ty.Members) {
				continue
			}
			f := ty.Members[idx]
			elemTy = f.Type
			elemOff = f.ByteOff
			pos = idx + 1
		case types.Union:
			f := ty.Members[0]
			if item.Designator != "" {
				if ff, _, ok := ty.FieldByName(item.Designator); ok {
					f = ff
				}
			}
			elemTy = f.Type
			elemOff = 0
			pos = 1
		default:
			elemTy = ty
			elemOff = 0
		}
		p.flattenInto(buf, base+elemOff, elemTy, item, relocs)
	}
}

func writeScalar(buf []byte, ty *types.Type, v constValue) {
	if ty.IsFloating() {
		f := v.F
		if !v.IsFloat {
			f = float64(v.I)
		}
		if ty.Kind == types.Float {
			putFloat32(buf, float32(f))
		} else {
			putFloat64(buf, f)
		}
		return
	}
	i := v.I
	if v.IsFloat {
		i = int64(v.F)
	}
	putIntLE(buf, i, int(ty.Size))
}

func putIntLE(buf []byte, v int64, n int) {
	for i := 0; i < n && i < len(buf); i++ {
		buf[i] = byte(v >> (8 * uint(i)))
	}
}

func putFloat32(buf []byte, f float32) {
	putIntLE(buf, int64(math.Float32bits(f)), 4)
}

func putFloat64(buf []byte, f float64) {
	putIntLE(buf, int64(math.Float64bits(f)), 8)
}
