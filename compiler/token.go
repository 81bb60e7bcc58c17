package compiler

import "fmt"

// ---------------------------------------------------------------------------
// Token types for the dialogue lexer
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	// Special tokens
	TokenEOF TokenType = iota
	TokenError

	// Structure - synthesized from line breaks and leading spaces
	TokenNewline
	TokenIndent
	TokenDedent

	// Line-prefix keywords
	TokenSave   // save name = literal
	TokenTemp   // temp name = literal
	TokenExtern // extern name
	TokenSet    // set name = literal
	TokenChoice // "- " marker

	// Bindings
	TokenIdentifier
	TokenEquals

	// Literals
	TokenString // "hello"
	TokenInt    // 42, -7
	TokenFloat  // 3.14, -0.5
	TokenTrue
	TokenFalse

	// Dialogue text
	TokenText       // text content between interpolations
	TokenOpenBrace  // { opening an interpolation
	TokenCloseBrace // } closing an interpolation
)

var tokenNames = map[TokenType]string{
	TokenEOF:        "EOF",
	TokenError:      "ERROR",
	TokenNewline:    "NEWLINE",
	TokenIndent:     "INDENT",
	TokenDedent:     "DEDENT",
	TokenSave:       "save",
	TokenTemp:       "temp",
	TokenExtern:     "extern",
	TokenSet:        "set",
	TokenChoice:     "CHOICE",
	TokenIdentifier: "IDENTIFIER",
	TokenEquals:     "=",
	TokenString:     "STRING",
	TokenInt:        "INT",
	TokenFloat:      "FLOAT",
	TokenTrue:       "true",
	TokenFalse:      "false",
	TokenText:       "TEXT",
	TokenOpenBrace:  "{",
	TokenCloseBrace: "}",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Token(%d)", int(t))
}

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Token represents a lexical token. For TokenText and TokenString the
// Literal carries the processed text (escapes already applied).
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return "EOF"
	}
	if t.Type == TokenError {
		return fmt.Sprintf("ERROR(%s)", t.Literal)
	}
	if len(t.Literal) > 20 {
		return fmt.Sprintf("%s(%q...)", t.Type, t.Literal[:20])
	}
	return fmt.Sprintf("%s(%q)", t.Type, t.Literal)
}
