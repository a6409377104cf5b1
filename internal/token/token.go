// Package token implements the lexer (component 4.B): byte stream to token
// list, numeric/string/char literal refinement, adjacent string-literal
// concatenation.
package token

import "fmt"

// Kind identifies a token's lexical category.
type Kind int

const (
	EOF Kind = iota
	Ident
	Keyword
	IntLit
	FloatLit
	StringLit
	CharLit
	Punct
)

func (k Kind) String() string {
	switch k {
	case EOF:
		return "EOF"
	case Ident:
		return "identifier"
	case Keyword:
		return "keyword"
	case IntLit:
		return "integer literal"
	case FloatLit:
		return "floating literal"
	case StringLit:
		return "string literal"
	case CharLit:
		return "character literal"
	case Punct:
		return "punctuator"
	}
	return "?"
}

// Location is the (filename, line) pair attached to every token and
// diagnostic (spec ss3 "Source location").
type Location struct {
	File string
	Line int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// IntSuffix classifies which of U/L/LL suffixes an integer literal had;
// used to pick the smallest representable type per spec ss4.B.
type IntSuffix int

const (
	SuffixNone IntSuffix = iota
	SuffixU
	SuffixL
	SuffixUL
	SuffixLL
	SuffixULL
)

// Token is the lexer's output unit: kind, location, interned text, flags,
// and for literal tokens a decoded value plus the suffix/base flags sema
// uses to pick its type; the token itself carries no resolved type.
type Token struct {
	Kind Kind
	Loc  Location
	Text string // interned via arena.Interner by the caller

	AtLineStart bool
	HasSpace    bool

	// Literal payload, populated by RefineNumber / scanString / scanChar.
	IntVal    uint64
	IntSuffix IntSuffix
	IsHex     bool
	IsOctal   bool
	FloatVal  float64
	IsFloat32 bool // 'f'/'F' suffix
	StrVal    []byte
	StrWidth  int // 1 (char/u8), 2 (u), 4 (U/L)
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q)@%s", t.Kind, t.Text, t.Loc)
}

// keywords is the fixed table of ~45 C keywords this subset recognizes,
// looked up through a Go map keyed by the identifier text.
var keywords = map[string]bool{
	"auto": true, "break": true, "case": true, "char": true,
	"const": true, "continue": true, "default": true, "do": true,
	"double": true, "else": true, "enum": true, "extern": true,
	"float": true, "for": true, "goto": true, "if": true,
	"inline": true, "int": true, "long": true, "register": true,
	"restrict": true, "return": true, "short": true, "signed": true,
	"sizeof": true, "static": true, "struct": true, "switch": true,
	"typedef": true, "union": true, "unsigned": true, "void": true,
	"volatile": true, "while": true,
	"_Alignas": true, "_Alignof": true, "_Atomic": true, "_Bool": true,
	"_Generic": true, "_Noreturn": true, "_Static_assert": true,
	"_Thread_local": true, "__func__": true, "__FUNCTION__": true,
	"__PRETTY_FUNCTION__": true, "asm": true, "__asm__": true,
	"__attribute__": true,
}

// IsKeyword reports whether text (already identifier-shaped) is a keyword.
func IsKeyword(text string) bool {
	return keywords[text]
}

// punctuators is sorted longest-first so Lexer.scanOperator can do a
// longest-match scan (spec ss4.B).
var punctuators = []string{
	"<<=", ">>=", "...",
	"->", "++", "--", "<<", ">>", "<=", ">=", "==", "!=",
	"&&", "||", "*=", "/=", "%=", "+=", "-=", "&=", "^=", "|=",
	"##",
	"{", "}", "(", ")", "[", "]", ".", "&", "*", "+", "-", "~",
	"!", "/", "%", "<", ">", "^", "|", "?", ":", ";", "=", ",", "#",
}
