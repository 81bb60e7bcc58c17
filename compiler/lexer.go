package compiler

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Lexer: tokenizer for the dialogue grammar
// ---------------------------------------------------------------------------
//
// The grammar is line-oriented and indentation-sensitive. The lexer counts
// leading spaces against an indent stack and synthesizes INDENT/DEDENT
// tokens, classifies each line by its fixed prefix (save/temp/extern/set/
// "- "), and splits dialogue text into literal segments and {name}
// interpolation spans. It is single-pass and non-restartable; the first
// lexical error is sticky.

// lineMode tracks how the remainder of the current line is tokenized.
type lineMode int

const (
	modeStart   lineMode = iota // at line start, prefix not yet classified
	modeBinding                 // after save/temp/extern/set: identifier = literal
	modeText                    // dialogue text with interpolation spans
)

// Lexer tokenizes dialogue source code.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      rune // current character
	line    int  // current line (1-based)
	col     int  // current column (1-based)

	indentStack    []int
	pendingDedents int
	atLineStart    bool

	mode       lineMode
	inBrace    bool // inside a {name} interpolation span
	braceIdent bool // the span's identifier has been read

	err *Error // first lexical error; sticky
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input:       input,
		line:        1,
		col:         1,
		indentStack: []int{0},
		atLineStart: true,
	}
	l.readChar()
	return l
}

// Err returns the first lexical error, if any.
func (l *Lexer) Err() *Error {
	return l.err
}

// readChar reads the next character, tracking line and column.
func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.col = 1
	} else if l.ch != 0 {
		l.col++
	}
	if l.readPos >= len(l.input) {
		l.ch = 0
		l.pos = l.readPos
		return
	}
	r, size := utf8.DecodeRuneInString(l.input[l.readPos:])
	l.ch = r
	l.pos = l.readPos
	l.readPos += size
}

// peekChar returns the next character without consuming it.
func (l *Lexer) peekChar() rune {
	if l.readPos >= len(l.input) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.input[l.readPos:])
	return r
}

// position returns the current position.
func (l *Lexer) position() Position {
	return Position{Offset: l.pos, Line: l.line, Column: l.col}
}

// isAtNewline reports whether the current character starts a line break.
func (l *Lexer) isAtNewline() bool {
	return l.ch == '\n' || l.ch == '\r'
}

// consumeNewline consumes \n or \r\n.
func (l *Lexer) consumeNewline() {
	if l.ch == '\r' {
		l.readChar()
		if l.ch == '\n' {
			l.readChar()
		}
		return
	}
	l.readChar()
}

// failAt records a sticky lexical error.
func (l *Lexer) failAt(kind ErrorKind, pos Position, format string, args ...interface{}) Token {
	if l.err == nil {
		l.err = errorAt(kind, pos, format, args...)
	}
	return Token{Type: TokenError, Literal: l.err.Message, Pos: l.err.Pos}
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	for {
		if l.err != nil {
			return Token{Type: TokenError, Literal: l.err.Message, Pos: l.err.Pos}
		}

		// Drain dedents queued by a previous line start.
		if l.pendingDedents > 0 {
			l.pendingDedents--
			return Token{Type: TokenDedent, Pos: l.position()}
		}

		if l.atLineStart {
			if tok, ok := l.handleLineStart(); ok {
				return tok
			}
			if l.err != nil {
				continue // surfaces as TokenError above
			}
		}

		// End of input: close any open blocks, then EOF.
		if l.ch == 0 {
			if len(l.indentStack) > 1 {
				l.indentStack = l.indentStack[:len(l.indentStack)-1]
				return Token{Type: TokenDedent, Pos: l.position()}
			}
			return Token{Type: TokenEOF, Pos: l.position()}
		}

		// Classify the line by its fixed prefix.
		if l.mode == modeStart {
			if tok, ok := l.classifyPrefix(); ok {
				return tok
			}
		}

		if l.isAtNewline() {
			pos := l.position()
			if l.inBrace {
				return l.failAt(ErrInterpolationSyntax, pos, "unterminated interpolation before end of line")
			}
			l.consumeNewline()
			l.atLineStart = true
			l.mode = modeStart
			return Token{Type: TokenNewline, Pos: pos}
		}

		switch l.mode {
		case modeBinding:
			return l.bindingToken()
		default:
			return l.textToken()
		}
	}
}

// handleLineStart skips blank lines, counts leading spaces, and updates the
// indent stack. Returns a token when an INDENT or DEDENT must be emitted.
func (l *Lexer) handleLineStart() (Token, bool) {
	var spaces int
	for {
		spaces = 0
		for l.ch == ' ' {
			l.readChar()
			spaces++
		}
		if l.ch == '\t' {
			l.failAt(ErrIndentation, l.position(), "tab in indentation on line %d, use spaces", l.line)
			return Token{}, false
		}
		if l.isAtNewline() {
			l.consumeNewline()
			continue
		}
		break
	}

	l.atLineStart = false
	l.mode = modeStart

	if l.ch == 0 {
		return Token{}, false // EOF path emits closing dedents
	}

	current := l.indentStack[len(l.indentStack)-1]
	switch {
	case spaces > current:
		l.indentStack = append(l.indentStack, spaces)
		return Token{Type: TokenIndent, Pos: l.position()}, true

	case spaces < current:
		popped := 0
		for len(l.indentStack) > 0 && l.indentStack[len(l.indentStack)-1] > spaces {
			l.indentStack = l.indentStack[:len(l.indentStack)-1]
			popped++
		}
		if len(l.indentStack) == 0 || l.indentStack[len(l.indentStack)-1] != spaces {
			l.failAt(ErrIndentation, l.position(), "inconsistent indentation on line %d", l.line)
			return Token{}, false
		}
		l.pendingDedents = popped - 1
		return Token{Type: TokenDedent, Pos: l.position()}, true

	default:
		return Token{}, false
	}
}

// linePrefixes are tried in order; the first match classifies the line.
var linePrefixes = []struct {
	text string
	typ  TokenType
	mode lineMode
}{
	{"save ", TokenSave, modeBinding},
	{"temp ", TokenTemp, modeBinding},
	{"extern ", TokenExtern, modeBinding},
	{"set ", TokenSet, modeBinding},
	{"- ", TokenChoice, modeText},
}

// classifyPrefix checks the fixed line prefixes. Lines matching none are
// plain dialogue text.
func (l *Lexer) classifyPrefix() (Token, bool) {
	rest := l.input[l.pos:]
	for _, p := range linePrefixes {
		if strings.HasPrefix(rest, p.text) {
			pos := l.position()
			for range p.text {
				l.readChar()
			}
			l.mode = p.mode
			return Token{Type: p.typ, Literal: strings.TrimSpace(p.text), Pos: pos}, true
		}
	}
	l.mode = modeText
	return Token{}, false
}

// ---------------------------------------------------------------------------
// Binding mode: identifier = literal
// ---------------------------------------------------------------------------

// bindingToken lexes the remainder of a declaration or assignment line.
func (l *Lexer) bindingToken() Token {
	for l.ch == ' ' {
		l.readChar()
	}
	if l.isAtNewline() || l.ch == 0 {
		// Let the main loop emit NEWLINE/EOF; the parser reports the
		// missing pieces.
		return l.NextToken()
	}

	pos := l.position()

	switch {
	case l.ch == '=':
		l.readChar()
		return Token{Type: TokenEquals, Literal: "=", Pos: pos}

	case l.ch == '"':
		return l.readString(pos)

	case isDigit(l.ch), l.ch == '-' && isDigit(l.peekChar()):
		return l.readNumber(pos)

	case isLetter(l.ch) || l.ch == '_':
		start := l.pos
		for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
			l.readChar()
		}
		literal := l.input[start:l.pos]
		switch literal {
		case "true":
			return Token{Type: TokenTrue, Literal: literal, Pos: pos}
		case "false":
			return Token{Type: TokenFalse, Literal: literal, Pos: pos}
		}
		return Token{Type: TokenIdentifier, Literal: literal, Pos: pos}

	default:
		return l.failAt(ErrParse, pos, "unexpected character %q in declaration", l.ch)
	}
}

// readString reads a double-quoted string literal with backslash escapes.
func (l *Lexer) readString(pos Position) Token {
	l.readChar() // consume opening "

	var sb strings.Builder
	for l.ch != 0 && !l.isAtNewline() {
		if l.ch == '"' {
			l.readChar() // consume closing "
			return Token{Type: TokenString, Literal: sb.String(), Pos: pos}
		}
		if l.ch == '\\' {
			l.readChar()
			switch l.ch {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			case 0:
				sb.WriteByte('\\')
				continue
			default:
				sb.WriteByte('\\')
				sb.WriteRune(l.ch)
			}
			l.readChar()
			continue
		}
		sb.WriteRune(l.ch)
		l.readChar()
	}

	return l.failAt(ErrParse, pos, "unterminated string")
}

// readNumber reads an integer or float literal.
func (l *Lexer) readNumber(pos Position) Token {
	start := l.pos
	if l.ch == '-' {
		l.readChar()
	}
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar() // consume .
		for isDigit(l.ch) {
			l.readChar()
		}
		return Token{Type: TokenFloat, Literal: l.input[start:l.pos], Pos: pos}
	}
	return Token{Type: TokenInt, Literal: l.input[start:l.pos], Pos: pos}
}

// ---------------------------------------------------------------------------
// Text mode: dialogue content with interpolation spans
// ---------------------------------------------------------------------------

// textToken lexes dialogue text. Literal segments accumulate into one
// TokenText ({{ and }} collapse to literal braces); a single { opens an
// interpolation span lexed as OpenBrace, Identifier, CloseBrace.
func (l *Lexer) textToken() Token {
	pos := l.position()

	if l.inBrace {
		if !l.braceIdent {
			if isLetter(l.ch) || l.ch == '_' {
				start := l.pos
				for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
					l.readChar()
				}
				l.braceIdent = true
				return Token{Type: TokenIdentifier, Literal: l.input[start:l.pos], Pos: pos}
			}
			return l.failAt(ErrInterpolationSyntax, pos, "expected variable name after '{'")
		}
		if l.ch == '}' {
			l.readChar()
			l.inBrace = false
			l.braceIdent = false
			return Token{Type: TokenCloseBrace, Literal: "}", Pos: pos}
		}
		return l.failAt(ErrInterpolationSyntax, pos, "expected '}' after variable name")
	}

	var sb strings.Builder
	for l.ch != 0 && !l.isAtNewline() {
		switch l.ch {
		case '{':
			if l.peekChar() == '{' {
				l.readChar()
				l.readChar()
				sb.WriteByte('{')
				continue
			}
			if sb.Len() > 0 {
				return Token{Type: TokenText, Literal: sb.String(), Pos: pos}
			}
			l.readChar()
			l.inBrace = true
			return Token{Type: TokenOpenBrace, Literal: "{", Pos: pos}
		case '}':
			if l.peekChar() == '}' {
				l.readChar()
				l.readChar()
				sb.WriteByte('}')
				continue
			}
			return l.failAt(ErrInterpolationSyntax, l.position(), "unmatched '}' in text, use '}}' for a literal brace")
		default:
			sb.WriteRune(l.ch)
			l.readChar()
		}
	}

	return Token{Type: TokenText, Literal: sb.String(), Pos: pos}
}

// Helper functions

func isLetter(r rune) bool {
	return unicode.IsLetter(r)
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// Tokenize returns all tokens from the input.
func Tokenize(input string) []Token {
	l := NewLexer(input)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF || tok.Type == TokenError {
			break
		}
	}
	return tokens
}
