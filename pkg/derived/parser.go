package derived

import (
	"fmt"
	"strconv"
)

// Parser parses derived-metric expressions using recursive descent:
//
//	sum     := product (('+' | '-') product)*
//	product := atom (('*' | '/') atom)*
//	atom    := '(' sum ')' | identifier | number
//
// Both levels are left-associative, so 8-2-1 is (8-2)-1.
type Parser struct {
	lexer   *Lexer
	current Token
}

// NewParser creates a new parser for the given input
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.nextToken()
	return p
}

// Parse parses a complete expression. Errors wrap ErrSyntax.
func Parse(input string) (Expr, error) {
	return NewParser(input).Parse()
}

// Parse parses the input and returns an expression or error
func (p *Parser) Parse() (Expr, error) {
	expr, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	if p.current.Type != TokenEOF {
		return nil, p.errorf("unexpected %s after expression", p.current)
	}
	return expr, nil
}

func (p *Parser) nextToken() {
	p.current = p.lexer.NextToken()
}

func (p *Parser) parseSum() (Expr, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}

	for p.current.Type == TokenPlus || p.current.Type == TokenMinus {
		op := p.current.Type
		p.nextToken()
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op, Right: right}
	}
	return left, nil
}

func (p *Parser) parseProduct() (Expr, error) {
	left, err := p.parseAtom()
	if err != nil {
		return nil, err
	}

	for p.current.Type == TokenMultiply || p.current.Type == TokenDivide {
		op := p.current.Type
		p.nextToken()
		right, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Left: left, Op: op, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAtom() (Expr, error) {
	switch p.current.Type {
	case TokenNumber:
		val, err := strconv.ParseFloat(p.current.Literal, 64)
		if err != nil {
			return nil, p.errorf("invalid number %s", p.current)
		}
		p.nextToken()
		return &NumberLiteral{Value: val}, nil

	case TokenIdentifier:
		name := p.current.Literal
		p.nextToken()
		return &Identifier{Name: name}, nil

	case TokenLeftParen:
		p.nextToken() // consume '('
		inner, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		if p.current.Type != TokenRightParen {
			return nil, p.errorf("expected ')' but found %s", p.current)
		}
		p.nextToken() // consume ')'
		return &ParenExpr{Expr: inner}, nil

	default:
		return nil, p.errorf("unexpected %s", p.current)
	}
}

func (p *Parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrSyntax}, args...)...)
}
