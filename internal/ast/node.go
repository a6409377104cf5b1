// Package ast defines the typed AST node set (spec ss3 "AST"): a
// discriminated union over expression and statement kinds, implemented Go
// idiomatically as one Kind enum plus a single Node struct carrying every
// field any kind might need (spec ss9: "shared header... factored into a
// struct embedded as the first field of each variant" collapses here to a
// flat struct, since Go has no tagged-union syntax and per-kind struct
// types would need an interface with a type switch at every use site
// anyway — tinyrange-rtg's own Node type takes exactly this shape).
package ast

import (
	"github.com/cjit-project/cjit/internal/token"
	"github.com/cjit-project/cjit/internal/types"
)

// Kind enumerates every expression and statement node kind.
type Kind int

const (
	// Expressions
	IntLit Kind = iota
	FloatLit
	StringLit
	Ident
	Binary
	Unary
	Assign
	Cond // ternary
	Call
	Index
	Member    // a.b
	PtrMember // a->b
	Cast
	SizeofExpr
	SizeofType
	AlignofType
	Comma
	CompoundLit
	Generic

	// Statements
	ExprStmt
	DeclStmt
	Block
	If
	For
	While
	DoWhile
	Switch
	Case
	Default
	Labeled
	Goto
	Break
	Continue
	Return
	Asm

	// Top level
	FuncDecl
	VarDecl
	TypedefDecl
	Empty
)

// Node is the AST's single discriminated-union type. Not every field is
// valid for every Kind; see the per-kind comments below.
type Node struct {
	Kind Kind
	Loc  token.Location
	Type *types.Type // filled by sema; every expression node has one after semantic analysis (spec testable property #2)

	// Literal payload (IntLit/FloatLit/StringLit)
	IntVal   int64
	FloatVal float64
	StrVal   []byte
	StrWidth int

	// Ident
	Name string
	Sym  *Symbol

	// Binary/Assign: Op is the punctuator text ("+", "==", "=", "+=", ...)
	Op    string
	LHS   *Node
	RHS   *Node
	Third *Node // Cond's else-branch

	// Unary: Op is "&", "*", "-", "!", "~", "++", "--" (Prefix distinguishes ++/-- direction)
	Operand *Node
	Prefix  bool

	// Call
	Callee *Node
	Args   []*Node

	// Member/PtrMember
	Base  *Node
	Field string

	// Cast/SizeofType/AlignofType/CompoundLit: target type comes from Type
	TypeNode *Node // used only while parsing a type-name before it's resolved to *types.Type

	// Block
	Stmts []*Node

	// If/While/DoWhile
	Cond_ *Node
	Then  *Node
	Else  *Node

	// For
	Init *Node
	Post *Node
	Body *Node

	// Switch/Case
	Tag     *Node
	Cases   []*Node
	CaseLo  int64
	CaseHi  int64
	IsRange bool

	// Labeled/Goto
	Label   string
	LabelID int

	// DeclStmt/VarDecl/FuncDecl/TypedefDecl
	Decls []*Node

	// FuncDecl
	Params     []*Node
	ParamNames []string
	FuncBody   *Node
	IsDef      bool

	// VarDecl
	InitExpr *Node
	Storage  StorageClass

	// Initializer tree (VarDecl.InitExpr when the declared type is an
	// aggregate): either a scalar Node, or Kind==CompoundLit with
	// Args holding the (possibly designator-reset) element list.
	Designator      string // ".field" or "" for positional
	DesignatorIndex int    // [k] index, or -1
	DesignatorHi    int64  // for [a...b]=, -1 if not a range

	// Asm
	AsmText string

	// ContinueTarget/BreakTarget are set by sema's statement parser to the
	// LabelID of the innermost enclosing loop (continue) or loop/switch
	// (break) before IR building ever sees them.
	BreakTarget    int
	ContinueTarget int
}

// StorageClass mirrors spec ss4.C's declaration-specifier attribute struct.
type StorageClass struct {
	IsTypedef bool
	IsStatic  bool
	IsExtern  bool
	IsInline  bool
	IsTLS     bool
	Align     int64 // explicit _Alignas, 0 if none
}

// SymKind distinguishes what a Symbol names.
type SymKind int

const (
	SymVar SymKind = iota
	SymFunc
	SymTypedef
	SymEnumConst
	SymTag // struct/union/enum tag
)

// Symbol is a scope-stack entry (spec ss4.C "Scope stack").
type Symbol struct {
	Kind       SymKind
	Name       string
	Type       *types.Type
	Node       *Node // declaring Node, for functions/vars
	ConstValue int64 // for SymEnumConst
	Flags      ObjectFlags

	// Local variable / parameter slot info, filled by sema and consumed
	// by the SSA builder.
	IsLocal  bool
	IsParam  bool
	ParamIdx int
}

// ObjectFlags mirrors spec ss3 "Object" flags.
type ObjectFlags uint16

const (
	FlagLocal ObjectFlags = 1 << iota
	FlagFunction
	FlagDefinition
	FlagStatic
	FlagTentative
	FlagThreadLocal
	FlagInline
	FlagLive
	FlagReachableRoot
)
