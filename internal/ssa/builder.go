package ssa

import (
	"fmt"

	"github.com/cjit-project/cjit/internal/ast"
	"github.com/cjit-project/cjit/internal/diag"
	"github.com/cjit-project/cjit/internal/sema"
	"github.com/cjit-project/cjit/internal/types"
)

// BuildModule lowers a semantically-analyzed sema.Module into the SSA IR
// (spec ss4.D "Input: the parser's Module. Output: one Func per live
// function definition, one Global per live non-function Object").
func BuildModule(mod *sema.Module, logger diag.Logger) *Module {
	out := &Module{}
	for _, o := range mod.Objects {
		if o.Flags&ast.FlagFunction != 0 {
			continue
		}
		out.Globals = append(out.Globals, &Global{
			Name: o.Name, Type: o.Type, IsStatic: o.Flags&ast.FlagStatic != 0,
			Data: o.InitData, Relocs: convertRelocs(o.Relocs),
		})
	}
	sp := &stringPool{}
	for _, fnNode := range mod.Funcs {
		b := &builder{logger: logger, strPool: sp}
		out.Funcs = append(out.Funcs, b.buildFunc(fnNode))
	}
	out.Globals = append(out.Globals, sp.globals...)
	return out
}

func convertRelocs(rs []sema.Relocation) []GlobalReloc {
	out := make([]GlobalReloc, len(rs))
	for i, r := range rs {
		out[i] = GlobalReloc{Offset: r.Offset, Target: r.Target, Addend: r.Addend}
	}
	return out
}

// builder holds the per-function lowering state.
type builder struct {
	logger diag.Logger
	f      *Func
	cur    *Block

	locals map[*ast.Symbol]int // local variable symbol -> stack slot id

	breakTargets    []*Block
	continueTargets []*Block

	labelBlocks map[int]*Block
	gotoFixups  []gotoFixup

	strPool *stringPool
}

type gotoFixup struct {
	block   *Block
	labelID int
}

func (b *builder) internalf(format string, args ...any) {
	b.logger.Fatalf(format, args...)
}

func (b *builder) emit(i *Inst) Value {
	i.ID = b.f.newValue()
	b.cur.Insts = append(b.cur.Insts, i)
	return i.ID
}

func (b *builder) terminate(i *Inst) {
	if b.cur.terminated() {
		return
	}
	b.cur.Insts = append(b.cur.Insts, i)
}

func (b *builder) switchTo(blk *Block) { b.cur = blk }

func (b *builder) buildFunc(fn *ast.Node) *Func {
	b.f = &Func{Name: fn.Name, RetType: fn.Type.Ret, Variadic: fn.Type.Variadic}
	b.locals = make(map[*ast.Symbol]int)
	b.labelBlocks = make(map[int]*Block)
	b.gotoFixups = nil

	entry := b.f.newBlock("entry")
	b.cur = entry

	for i, p := range fn.Params {
		b.f.ParamTypes = append(b.f.ParamTypes, p.Type)
		slot := b.f.newStackSlot(p.Type, p.Name)
		pv := b.emit(&Inst{Op: OpParam, Type: p.Type, IntImm: int64(i)})
		addr := b.emit(&Inst{Op: OpAlloca, Type: types.NewPointer(p.Type), IntImm: int64(slot)})
		b.emit(&Inst{Op: OpStore, Args: []Value{addr, pv}})
		if p.Sym != nil {
			b.locals[p.Sym] = slot
		}
	}

	b.buildStmt(fn.FuncBody)

	if !b.cur.terminated() {
		if fn.Type.Ret.Kind == types.Void {
			b.terminate(&Inst{Op: OpReturn})
		} else {
			zero := b.emit(&Inst{Op: OpConstInt, Type: fn.Type.Ret})
			b.terminate(&Inst{Op: OpReturn, Args: []Value{zero}})
		}
	}

	for _, fx := range b.gotoFixups {
		target, ok := b.labelBlocks[fx.labelID]
		if !ok {
			b.internalf("goto target label %d never bound a block (should have been caught during parsing)", fx.labelID)
			continue
		}
		last := fx.block.Insts[len(fx.block.Insts)-1]
		last.Target0 = target.ID
	}

	return b.f
}

func (b *builder) slotFor(sym *ast.Symbol) int {
	if slot, ok := b.locals[sym]; ok {
		return slot
	}
	slot := b.f.newStackSlot(sym.Type, sym.Name)
	b.locals[sym] = slot
	return slot
}

// --- statements ---

func (b *builder) buildStmt(n *ast.Node) {
	if n == nil {
		return
	}
	switch n.Kind {
	case ast.Block:
		for _, s := range n.Stmts {
			b.buildStmt(s)
		}
	case ast.ExprStmt:
		b.buildExpr(n.Operand)
	case ast.DeclStmt:
		for _, d := range n.Decls {
			b.buildLocalDecl(d)
		}
	case ast.If:
		b.buildIf(n)
	case ast.While:
		b.buildWhile(n)
	case ast.DoWhile:
		b.buildDoWhile(n)
	case ast.For:
		b.buildFor(n)
	case ast.Switch:
		b.buildSwitch(n)
	case ast.Case, ast.Default:
		b.buildCaseLabel(n)
	case ast.Labeled:
		blk := b.f.newBlock(fmt.Sprintf("L%d", n.LabelID))
		b.terminate(&Inst{Op: OpJump, Target0: blk.ID})
		b.switchTo(blk)
		b.labelBlocks[n.LabelID] = blk
		b.buildStmt(n.Then)
	case ast.Goto:
		fx := gotoFixup{block: b.cur, labelID: n.LabelID}
		b.terminate(&Inst{Op: OpJump})
		b.gotoFixups = append(b.gotoFixups, fx)
		dead := b.f.newBlock("")
		b.switchTo(dead)
	case ast.Break:
		if len(b.breakTargets) == 0 {
			b.internalf("break outside a breakable construct (should have been caught during parsing)")
			return
		}
		target := b.breakTargets[len(b.breakTargets)-1]
		b.terminate(&Inst{Op: OpJump, Target0: target.ID})
		b.switchTo(b.f.newBlock(""))
	case ast.Continue:
		if len(b.continueTargets) == 0 {
			b.internalf("continue outside a loop (should have been caught during parsing)")
			return
		}
		target := b.continueTargets[len(b.continueTargets)-1]
		b.terminate(&Inst{Op: OpJump, Target0: target.ID})
		b.switchTo(b.f.newBlock(""))
	case ast.Return:
		if n.Operand != nil {
			v, _ := b.buildExpr(n.Operand)
			b.terminate(&Inst{Op: OpReturn, Args: []Value{v}})
		} else {
			b.terminate(&Inst{Op: OpReturn})
		}
		b.switchTo(b.f.newBlock(""))
	case ast.Asm:
		// Inline asm is parsed but inert at codegen time (SPEC_FULL.md
		// Supplement: no instruction-selection support for raw asm text).
	case ast.Empty, ast.TypedefDecl:
		// no-op
	default:
		b.internalf("buildStmt: unhandled statement kind %v", n.Kind)
	}
}

func (b *builder) buildLocalDecl(d *ast.Node) {
	if d.Kind == ast.TypedefDecl {
		return
	}
	slot := b.slotFor(d.Sym)
	if d.InitExpr == nil {
		return
	}
	addr := b.emit(&Inst{Op: OpAlloca, Type: types.NewPointer(d.Sym.Type), IntImm: int64(slot)})
	if d.InitExpr.Kind == ast.CompoundLit {
		b.buildAggregateInit(addr, d.Sym.Type, d.InitExpr)
		return
	}
	v, vt := b.buildExpr(d.InitExpr)
	v = b.convertAssign(v, vt, d.Sym.Type)
	b.emit(&Inst{Op: OpStore, Args: []Value{addr, v}})
}

// buildAggregateInit lowers a brace initializer into a sequence of
// per-element GEP+Store instructions (spec ss4.D generalizes the parser's
// initializer tree directly into straight-line stores, since every element
// offset is already known after sema's layout pass).
func (b *builder) buildAggregateInit(base Value, ty *types.Type, lit *ast.Node) {
	pos := 0
	for _, item := range lit.Args {
		var elemTy *types.Type
		var off int64
		switch ty.Kind {
		case types.Array:
			idx := pos
			if item.DesignatorIndex >= 0 {
				idx = item.DesignatorIndex
			}
			elemTy = ty.Base
			off = int64(idx) * elemTy.Size
			pos = idx + 1
		case types.Struct, types.Union:
			idx := pos
			if item.Designator != "" {
				if f, fo, ok := ty.FieldByName(item.Designator); ok {
					elemTy = f.Type
					off = fo
					pos = f.GEPIndex + 1
					b.storeInitElement(base, off, elemTy, item)
					continue
				}
			}
			if idx >= len(ty.Members) {
				continue
			}
			f := ty.Members[idx]
			elemTy = f.Type
			off = f.ByteOff
			pos = idx + 1
		default:
			elemTy = ty
			off = 0
		}
		b.storeInitElement(base, off, elemTy, item)
	}
}

func (b *builder) storeInitElement(base Value, off int64, elemTy *types.Type, item *ast.Node) {
	addr := base
	if off != 0 {
		addr = b.emit(&Inst{Op: OpGEPField, Type: types.NewPointer(elemTy), Args: []Value{base}, IntImm: off})
	} else {
		addr = b.emit(&Inst{Op: OpGEPField, Type: types.NewPointer(elemTy), Args: []Value{base}, IntImm: 0})
	}
	if item.Kind == ast.CompoundLit {
		b.buildAggregateInit(addr, elemTy, item)
		return
	}
	v, vt := b.buildExpr(item)
	v = b.convertAssign(v, vt, elemTy)
	b.emit(&Inst{Op: OpStore, Args: []Value{addr, v}})
}

func (b *builder) buildIf(n *ast.Node) {
	cond, condTy := b.buildExpr(n.Cond_)
	cond = b.toBool(cond, condTy)
	thenBlk := b.f.newBlock("if.then")
	elseBlk := b.f.newBlock("if.else")
	contBlk := b.f.newBlock("if.cont")
	b.terminate(&Inst{Op: OpBranch, Args: []Value{cond}, Target0: thenBlk.ID, Target1: elseBlk.ID})

	b.switchTo(thenBlk)
	b.buildStmt(n.Then)
	b.terminate(&Inst{Op: OpJump, Target0: contBlk.ID})

	b.switchTo(elseBlk)
	if n.Else != nil {
		b.buildStmt(n.Else)
	}
	b.terminate(&Inst{Op: OpJump, Target0: contBlk.ID})

	b.switchTo(contBlk)
}

func (b *builder) buildWhile(n *ast.Node) {
	headBlk := b.f.newBlock("while.head")
	bodyBlk := b.f.newBlock("while.body")
	contBlk := b.f.newBlock("while.cont")
	b.terminate(&Inst{Op: OpJump, Target0: headBlk.ID})

	b.switchTo(headBlk)
	cond, condTy := b.buildExpr(n.Cond_)
	cond = b.toBool(cond, condTy)
	b.terminate(&Inst{Op: OpBranch, Args: []Value{cond}, Target0: bodyBlk.ID, Target1: contBlk.ID})

	b.breakTargets = append(b.breakTargets, contBlk)
	b.continueTargets = append(b.continueTargets, headBlk)
	b.switchTo(bodyBlk)
	b.buildStmt(n.Body)
	b.terminate(&Inst{Op: OpJump, Target0: headBlk.ID})
	b.breakTargets = b.breakTargets[:len(b.breakTargets)-1]
	b.continueTargets = b.continueTargets[:len(b.continueTargets)-1]

	b.switchTo(contBlk)
}

func (b *builder) buildDoWhile(n *ast.Node) {
	bodyBlk := b.f.newBlock("do.body")
	condBlk := b.f.newBlock("do.cond")
	contBlk := b.f.newBlock("do.cont")
	b.terminate(&Inst{Op: OpJump, Target0: bodyBlk.ID})

	b.breakTargets = append(b.breakTargets, contBlk)
	b.continueTargets = append(b.continueTargets, condBlk)
	b.switchTo(bodyBlk)
	b.buildStmt(n.Body)
	b.terminate(&Inst{Op: OpJump, Target0: condBlk.ID})
	b.breakTargets = b.breakTargets[:len(b.breakTargets)-1]
	b.continueTargets = b.continueTargets[:len(b.continueTargets)-1]

	b.switchTo(condBlk)
	cond, condTy := b.buildExpr(n.Cond_)
	cond = b.toBool(cond, condTy)
	b.terminate(&Inst{Op: OpBranch, Args: []Value{cond}, Target0: bodyBlk.ID, Target1: contBlk.ID})

	b.switchTo(contBlk)
}

func (b *builder) buildFor(n *ast.Node) {
	if n.Init != nil {
		b.buildStmt(n.Init)
	}
	headBlk := b.f.newBlock("for.head")
	bodyBlk := b.f.newBlock("for.body")
	postBlk := b.f.newBlock("for.post")
	contBlk := b.f.newBlock("for.cont")
	b.terminate(&Inst{Op: OpJump, Target0: headBlk.ID})

	b.switchTo(headBlk)
	if n.Cond_ != nil {
		cond, condTy := b.buildExpr(n.Cond_)
		cond = b.toBool(cond, condTy)
		b.terminate(&Inst{Op: OpBranch, Args: []Value{cond}, Target0: bodyBlk.ID, Target1: contBlk.ID})
	} else {
		b.terminate(&Inst{Op: OpJump, Target0: bodyBlk.ID})
	}

	b.breakTargets = append(b.breakTargets, contBlk)
	b.continueTargets = append(b.continueTargets, postBlk)
	b.switchTo(bodyBlk)
	b.buildStmt(n.Body)
	b.terminate(&Inst{Op: OpJump, Target0: postBlk.ID})
	b.breakTargets = b.breakTargets[:len(b.breakTargets)-1]
	b.continueTargets = b.continueTargets[:len(b.continueTargets)-1]

	b.switchTo(postBlk)
	if n.Post != nil {
		b.buildExpr(n.Post)
	}
	b.terminate(&Inst{Op: OpJump, Target0: headBlk.ID})

	b.switchTo(contBlk)
}

// buildSwitch lowers to the equality-test chain the parser's collected
// Cases list describes (spec ss4.D regen: no jump table), falling through
// to default (or past the switch if none) when no case matches.
func (b *builder) buildSwitch(n *ast.Node) {
	tag, tagTy := b.buildExpr(n.Tag)
	contBlk := b.f.newBlock("switch.cont")
	b.breakTargets = append(b.breakTargets, contBlk)

	var defaultNode *ast.Node
	caseBlocks := make(map[*ast.Node]*Block)
	testBlk := b.cur
	for _, c := range n.Cases {
		if c.Kind == ast.Default {
			defaultNode = c
			continue
		}
		body := b.f.newBlock("case.body")
		caseBlocks[c] = body
		b.switchTo(testBlk)
		lo := b.emit(&Inst{Op: OpConstInt, Type: tagTy, IntImm: c.CaseLo})
		eq := b.emit(&Inst{Op: OpEq, Type: types.IntT(), Args: []Value{tag, lo}})
		matched := eq
		if c.IsRange {
			hi := b.emit(&Inst{Op: OpConstInt, Type: tagTy, IntImm: c.CaseHi})
			geLo := b.emit(&Inst{Op: OpGe, Type: types.IntT(), Args: []Value{tag, lo}})
			leHi := b.emit(&Inst{Op: OpLe, Type: types.IntT(), Args: []Value{tag, hi}})
			matched = b.emit(&Inst{Op: OpAnd, Type: types.IntT(), Args: []Value{geLo, leHi}})
		}
		nextTest := b.f.newBlock("switch.test")
		b.terminate(&Inst{Op: OpBranch, Args: []Value{matched}, Target0: body.ID, Target1: nextTest.ID})
		testBlk = nextTest
	}
	b.switchTo(testBlk)
	if defaultNode != nil {
		defBody := b.f.newBlock("default.body")
		caseBlocks[defaultNode] = defBody
		b.terminate(&Inst{Op: OpJump, Target0: defBody.ID})
	} else {
		b.terminate(&Inst{Op: OpJump, Target0: contBlk.ID})
	}

	// Emit each case's statement stream, wired so falling off the end of
	// one case body flows into the next case's body (C fallthrough
	// semantics), in the order the labels appeared.
	order := n.Cases
	for i, c := range order {
		blk, ok := caseBlocks[c]
		if !ok {
			continue
		}
		b.switchTo(blk)
		b.buildStmt(c.Then)
		var next *Block
		for j := i + 1; j < len(order); j++ {
			if nb, ok2 := caseBlocks[order[j]]; ok2 {
				next = nb
				break
			}
		}
		if next != nil {
			b.terminate(&Inst{Op: OpJump, Target0: next.ID})
		} else {
			b.terminate(&Inst{Op: OpJump, Target0: contBlk.ID})
		}
	}

	b.breakTargets = b.breakTargets[:len(b.breakTargets)-1]
	b.switchTo(contBlk)
}

// buildCaseLabel handles a bare case/default reached outside buildSwitch's
// direct dispatch (e.g. nested inside an if inside the switch body);
// buildSwitch already emitted this node's statement stream from
// caseBlocks, so by the time control-flow construction reaches here via
// buildStmt's normal recursive walk the label itself carries no
// instructions of its own beyond its child statement, which buildStmt's
// generic Then-walk already covers for the non-switch-owned case.
func (b *builder) buildCaseLabel(n *ast.Node) {
	b.buildStmt(n.Then)
}

func (b *builder) toBool(v Value, t *types.Type) Value {
	if t.IsFloating() {
		zero := b.emit(&Inst{Op: OpConstFloat, Type: t})
		return b.emit(&Inst{Op: OpFNe, Type: types.IntT(), Args: []Value{v, zero}})
	}
	zero := b.emit(&Inst{Op: OpConstInt, Type: t})
	return b.emit(&Inst{Op: OpNe, Type: types.IntT(), Args: []Value{v, zero}})
}
