package derived

import "fmt"

// TokenType represents the type of token in an expression
type TokenType int

const (
	TokenIdentifier TokenType = iota // people_in, Entrance_2
	TokenNumber                      // 12, 0.5, .5

	TokenPlus     // +
	TokenMinus    // -
	TokenMultiply // *
	TokenDivide   // /

	TokenLeftParen  // (
	TokenRightParen // )

	TokenEOF
	TokenIllegal
)

func (t TokenType) String() string {
	switch t {
	case TokenIdentifier:
		return "identifier"
	case TokenNumber:
		return "number"
	case TokenPlus:
		return "'+'"
	case TokenMinus:
		return "'-'"
	case TokenMultiply:
		return "'*'"
	case TokenDivide:
		return "'/'"
	case TokenLeftParen:
		return "'('"
	case TokenRightParen:
		return "')'"
	case TokenEOF:
		return "end of expression"
	default:
		return "illegal token"
	}
}

// Token is a single lexical token with its byte offset.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
}

func (t Token) String() string {
	if t.Type == TokenEOF {
		return t.Type.String()
	}
	return fmt.Sprintf("%q at %d", t.Literal, t.Pos)
}

// Lexer tokenizes derived-metric expressions. Whitespace is ignored.
type Lexer struct {
	input   string
	pos     int  // current position
	readPos int  // next read position
	ch      byte // current character
}

// NewLexer creates a new lexer for the given input
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

// NextToken returns the next token from the input
func (l *Lexer) NextToken() Token {
	l.skipWhitespace()
	tok := Token{Pos: l.pos, Literal: string(l.ch)}

	switch l.ch {
	case '(':
		tok.Type = TokenLeftParen
	case ')':
		tok.Type = TokenRightParen
	case '+':
		tok.Type = TokenPlus
	case '-':
		tok.Type = TokenMinus
	case '*':
		tok.Type = TokenMultiply
	case '/':
		tok.Type = TokenDivide
	case 0:
		return Token{Type: TokenEOF, Pos: l.pos}
	default:
		switch {
		case isLetter(l.ch):
			tok.Type = TokenIdentifier
			tok.Literal = l.readIdentifier()
			return tok
		case isDigit(l.ch) || (l.ch == '.' && isDigit(l.peekChar())):
			tok.Type = TokenNumber
			tok.Literal = l.readNumber()
			return tok
		default:
			tok.Type = TokenIllegal
		}
	}

	l.readChar()
	return tok
}

func (l *Lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

func (l *Lexer) readIdentifier() string {
	pos := l.pos
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[pos:l.pos]
}

// readNumber reads [0-9]+ or [0-9]*\.[0-9]+
func (l *Lexer) readNumber() string {
	pos := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[pos:l.pos]
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}
