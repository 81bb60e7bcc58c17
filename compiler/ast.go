package compiler

import "github.com/chazu/bobbin/pkg/bytecode"

// ---------------------------------------------------------------------------
// AST: Abstract Syntax Tree for dialogue scripts
// ---------------------------------------------------------------------------

// NodeID uniquely identifies an AST node within one parse. The resolver
// keys its binding table on it so later stages never mutate the tree.
type NodeID int

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// Stmt is the interface for statement nodes. A script is a flat sequence
// of statements; only choice bodies nest.
type Stmt interface {
	Node
	stmt() // marker method
}

// Script is the root node: the statements of one dialogue file.
type Script struct {
	SpanVal    Span
	Statements []Stmt
}

func (n *Script) Span() Span { return n.SpanVal }
func (n *Script) node()      {}

// ---------------------------------------------------------------------------
// Declarations and assignment
// ---------------------------------------------------------------------------

// SaveDecl declares a persistent variable with a default value:
// save name = literal.
type SaveDecl struct {
	ID      NodeID
	SpanVal Span
	Name    string
	Value   bytecode.Value
}

func (n *SaveDecl) Span() Span { return n.SpanVal }
func (n *SaveDecl) node()      {}
func (n *SaveDecl) stmt()      {}

// TempDecl declares a session-scoped variable: temp name = literal.
type TempDecl struct {
	ID      NodeID
	SpanVal Span
	Name    string
	Value   bytecode.Value
}

func (n *TempDecl) Span() Span { return n.SpanVal }
func (n *TempDecl) node()      {}
func (n *TempDecl) stmt()      {}

// ExternDecl declares a host-provided read-only variable: extern name.
type ExternDecl struct {
	ID      NodeID
	SpanVal Span
	Name    string
}

func (n *ExternDecl) Span() Span { return n.SpanVal }
func (n *ExternDecl) node()      {}
func (n *ExternDecl) stmt()      {}

// SetStmt assigns a new value to a save or temp variable:
// set name = literal.
type SetStmt struct {
	ID      NodeID
	SpanVal Span
	Name    string
	Value   bytecode.Value
}

func (n *SetStmt) Span() Span { return n.SpanVal }
func (n *SetStmt) node()      {}
func (n *SetStmt) stmt()      {}

// ---------------------------------------------------------------------------
// Dialogue text
// ---------------------------------------------------------------------------

// TextPart is one piece of a dialogue line: a literal segment or a
// variable interpolation.
type TextPart interface {
	Node
	textPart() // marker method
}

// TextSegment is a literal run of text ({{ and }} already collapsed).
type TextSegment struct {
	SpanVal Span
	Text    string
}

func (n *TextSegment) Span() Span { return n.SpanVal }
func (n *TextSegment) node()      {}
func (n *TextSegment) textPart()  {}

// VarRef is a {name} interpolation inside dialogue text.
type VarRef struct {
	ID      NodeID
	SpanVal Span
	Name    string
}

func (n *VarRef) Span() Span { return n.SpanVal }
func (n *VarRef) node()      {}
func (n *VarRef) textPart()  {}

// TextLine is one line of dialogue presented to the player.
type TextLine struct {
	SpanVal Span
	Parts   []TextPart
}

func (n *TextLine) Span() Span { return n.SpanVal }
func (n *TextLine) node()      {}
func (n *TextLine) stmt()      {}

// ---------------------------------------------------------------------------
// Choices
// ---------------------------------------------------------------------------

// Choice is one option of a choice set: its display text and the
// statements run when the player picks it.
type Choice struct {
	SpanVal Span
	Text    *TextLine
	Body    []Stmt
}

func (n *Choice) Span() Span { return n.SpanVal }
func (n *Choice) node()      {}

// ChoiceSet is a maximal run of consecutive choices presented together.
type ChoiceSet struct {
	ID      NodeID
	SpanVal Span
	Choices []*Choice
}

func (n *ChoiceSet) Span() Span { return n.SpanVal }
func (n *ChoiceSet) node()      {}
func (n *ChoiceSet) stmt()      {}
