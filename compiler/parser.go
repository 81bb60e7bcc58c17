package compiler

import (
	"strconv"

	"github.com/chazu/bobbin/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Parser: recursive descent parser for the dialogue grammar
// ---------------------------------------------------------------------------
//
// The grammar is line-oriented: every statement occupies one line, and the
// only nesting is a choice body introduced by INDENT after a "- " line.
// Parsing is fail-fast; the first error aborts and no AST is produced.

// Parser parses dialogue source code into an AST.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	nextID    NodeID
	err       *Error
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{
		lexer: NewLexer(input),
	}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a complete script.
func Parse(input string) (*Script, error) {
	p := NewParser(input)
	script := p.ParseScript()
	if p.err != nil {
		return nil, p.err
	}
	return script, nil
}

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	p.peekToken = p.lexer.NextToken()
}

// curTokenIs checks if the current token is of the given type.
func (p *Parser) curTokenIs(t TokenType) bool {
	return p.curToken.Type == t
}

// allocID hands out the next node identifier.
func (p *Parser) allocID() NodeID {
	id := p.nextID
	p.nextID++
	return id
}

// failf records the first parse error; all parse methods bail once set.
func (p *Parser) failf(kind ErrorKind, format string, args ...interface{}) {
	if p.err != nil {
		return
	}
	if p.curTokenIs(TokenError) {
		// Surface the lexer's own error instead of a generic parse
		// failure at the error token.
		p.err = p.lexer.Err()
		return
	}
	p.err = errorAt(kind, p.curToken.Pos, format, args...)
}

// expect consumes the current token if it matches, else fails.
func (p *Parser) expect(t TokenType) Token {
	tok := p.curToken
	if !p.curTokenIs(t) {
		p.failf(ErrParse, "expected %s, got %s", t, p.curToken.Type)
		return tok
	}
	p.nextToken()
	return tok
}

// endOfLine consumes the statement terminator. EOF is accepted so a script
// need not end with a line break.
func (p *Parser) endOfLine() {
	if p.curTokenIs(TokenEOF) {
		return
	}
	p.expect(TokenNewline)
}

// ---------------------------------------------------------------------------
// Top-level parsing
// ---------------------------------------------------------------------------

// ParseScript parses the whole input. On error the returned script is nil
// and Err reports the failure.
func (p *Parser) ParseScript() *Script {
	start := p.curToken.Pos
	stmts := p.parseStatements(false)
	if p.err == nil && !p.curTokenIs(TokenEOF) {
		p.failf(ErrParse, "unexpected %s at top level", p.curToken.Type)
	}
	if p.err != nil {
		return nil
	}
	return &Script{
		SpanVal:    Span{Start: start, End: p.curToken.Pos},
		Statements: stmts,
	}
}

// Err returns the parse error, if any.
func (p *Parser) Err() *Error {
	return p.err
}

// parseStatements parses a statement sequence. Nested sequences end at
// DEDENT, the top level at EOF.
func (p *Parser) parseStatements(nested bool) []Stmt {
	var stmts []Stmt
	for p.err == nil {
		switch p.curToken.Type {
		case TokenNewline:
			p.nextToken()
		case TokenEOF:
			return stmts
		case TokenDedent:
			if nested {
				p.nextToken()
				return stmts
			}
			p.failf(ErrParse, "unexpected dedent")
		case TokenError:
			p.err = p.lexer.Err()
		default:
			stmt := p.parseStatement()
			if stmt != nil {
				stmts = append(stmts, stmt)
			}
		}
	}
	return stmts
}

// parseStatement dispatches on the line's classifying token.
func (p *Parser) parseStatement() Stmt {
	switch p.curToken.Type {
	case TokenSave:
		return p.parseSaveDecl()
	case TokenTemp:
		return p.parseTempDecl()
	case TokenExtern:
		return p.parseExternDecl()
	case TokenSet:
		return p.parseSetStmt()
	case TokenChoice:
		return p.parseChoiceSet()
	case TokenText, TokenOpenBrace:
		return p.parseTextLine()
	case TokenIndent:
		p.failf(ErrIndentation, "unexpected indentation, only choice bodies may be indented")
		return nil
	default:
		p.failf(ErrParse, "unexpected %s at start of line", p.curToken.Type)
		return nil
	}
}

// ---------------------------------------------------------------------------
// Declarations and assignment
// ---------------------------------------------------------------------------

func (p *Parser) parseSaveDecl() Stmt {
	start := p.expect(TokenSave).Pos
	name := p.expect(TokenIdentifier).Literal
	p.expect(TokenEquals)
	value := p.parseLiteral()
	end := p.curToken.Pos
	p.endOfLine()
	if p.err != nil {
		return nil
	}
	return &SaveDecl{
		ID:      p.allocID(),
		SpanVal: Span{Start: start, End: end},
		Name:    name,
		Value:   value,
	}
}

func (p *Parser) parseTempDecl() Stmt {
	start := p.expect(TokenTemp).Pos
	name := p.expect(TokenIdentifier).Literal
	p.expect(TokenEquals)
	value := p.parseLiteral()
	end := p.curToken.Pos
	p.endOfLine()
	if p.err != nil {
		return nil
	}
	return &TempDecl{
		ID:      p.allocID(),
		SpanVal: Span{Start: start, End: end},
		Name:    name,
		Value:   value,
	}
}

func (p *Parser) parseExternDecl() Stmt {
	start := p.expect(TokenExtern).Pos
	name := p.expect(TokenIdentifier).Literal
	end := p.curToken.Pos
	p.endOfLine()
	if p.err != nil {
		return nil
	}
	return &ExternDecl{
		ID:      p.allocID(),
		SpanVal: Span{Start: start, End: end},
		Name:    name,
	}
}

func (p *Parser) parseSetStmt() Stmt {
	start := p.expect(TokenSet).Pos
	name := p.expect(TokenIdentifier).Literal
	p.expect(TokenEquals)
	value := p.parseLiteral()
	end := p.curToken.Pos
	p.endOfLine()
	if p.err != nil {
		return nil
	}
	return &SetStmt{
		ID:      p.allocID(),
		SpanVal: Span{Start: start, End: end},
		Name:    name,
		Value:   value,
	}
}

// parseLiteral parses the right-hand side of a declaration or assignment.
// Only literals are allowed; the grammar has no expressions.
func (p *Parser) parseLiteral() bytecode.Value {
	tok := p.curToken
	switch tok.Type {
	case TokenString:
		p.nextToken()
		return bytecode.StringValue(tok.Literal)

	case TokenInt:
		n, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			p.failf(ErrParse, "invalid integer literal %q", tok.Literal)
			return bytecode.Value{}
		}
		p.nextToken()
		return bytecode.IntValue(n)

	case TokenFloat:
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.failf(ErrParse, "invalid float literal %q", tok.Literal)
			return bytecode.Value{}
		}
		p.nextToken()
		return bytecode.FloatValue(f)

	case TokenTrue:
		p.nextToken()
		return bytecode.BoolValue(true)

	case TokenFalse:
		p.nextToken()
		return bytecode.BoolValue(false)

	default:
		p.failf(ErrParse, "expected a literal value, got %s", tok.Type)
		return bytecode.Value{}
	}
}

// ---------------------------------------------------------------------------
// Dialogue text
// ---------------------------------------------------------------------------

// parseTextLine parses one dialogue line up to its terminator.
func (p *Parser) parseTextLine() *TextLine {
	start := p.curToken.Pos
	var parts []TextPart

	for p.err == nil {
		switch p.curToken.Type {
		case TokenText:
			parts = append(parts, &TextSegment{
				SpanVal: Span{Start: p.curToken.Pos, End: p.peekToken.Pos},
				Text:    p.curToken.Literal,
			})
			p.nextToken()

		case TokenOpenBrace:
			bracePos := p.curToken.Pos
			p.nextToken()
			name := p.expect(TokenIdentifier).Literal
			p.expect(TokenCloseBrace)
			if p.err != nil {
				return nil
			}
			parts = append(parts, &VarRef{
				ID:      p.allocID(),
				SpanVal: Span{Start: bracePos, End: p.curToken.Pos},
				Name:    name,
			})

		case TokenNewline, TokenEOF:
			end := p.curToken.Pos
			p.endOfLine()
			if p.err != nil {
				return nil
			}
			return &TextLine{
				SpanVal: Span{Start: start, End: end},
				Parts:   parts,
			}

		case TokenError:
			p.err = p.lexer.Err()

		default:
			p.failf(ErrParse, "unexpected %s in dialogue text", p.curToken.Type)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Choices
// ---------------------------------------------------------------------------

// parseChoiceSet parses a maximal run of consecutive "- " lines, each with
// an optional indented body, into one choice set.
func (p *Parser) parseChoiceSet() Stmt {
	start := p.curToken.Pos
	set := &ChoiceSet{ID: p.allocID()}

	for p.err == nil && p.curTokenIs(TokenChoice) {
		choiceStart := p.expect(TokenChoice).Pos
		text := p.parseTextLine()
		if p.err != nil {
			return nil
		}

		choice := &Choice{
			SpanVal: Span{Start: choiceStart, End: text.Span().End},
			Text:    text,
		}

		// Blank lines between a choice and its body are insignificant.
		for p.curTokenIs(TokenNewline) {
			p.nextToken()
		}
		if p.curTokenIs(TokenIndent) {
			p.nextToken()
			choice.Body = p.parseStatements(true)
			if p.err != nil {
				return nil
			}
			if n := len(choice.Body); n > 0 {
				choice.SpanVal.End = choice.Body[n-1].Span().End
			}
		}

		set.Choices = append(set.Choices, choice)

		for p.curTokenIs(TokenNewline) {
			p.nextToken()
		}
	}
	if p.err != nil {
		return nil
	}

	set.SpanVal = Span{Start: start, End: p.curToken.Pos}
	if n := len(set.Choices); n > 0 {
		set.SpanVal.End = set.Choices[n-1].Span().End
	}
	return set
}
