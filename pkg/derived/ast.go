package derived

import (
	"sort"
	"strconv"
)

// Expr is a node of a parsed expression.
type Expr interface {
	String() string
	expr()
}

// NumberLiteral is a numeric constant.
type NumberLiteral struct {
	Value float64
}

// Identifier references a metric by name.
type Identifier struct {
	Name string
}

// BinaryExpr is Left Op Right with Op one of + - * /.
type BinaryExpr struct {
	Left  Expr
	Op    TokenType
	Right Expr
}

// ParenExpr keeps explicit grouping for String.
type ParenExpr struct {
	Expr Expr
}

func (*NumberLiteral) expr() {}
func (*Identifier) expr()    {}
func (*BinaryExpr) expr()    {}
func (*ParenExpr) expr()     {}

func (n *NumberLiteral) String() string { return strconv.FormatFloat(n.Value, 'f', -1, 64) }
func (i *Identifier) String() string    { return i.Name }
func (p *ParenExpr) String() string     { return "(" + p.Expr.String() + ")" }

func (b *BinaryExpr) String() string {
	op := map[TokenType]string{TokenPlus: "+", TokenMinus: "-", TokenMultiply: "*", TokenDivide: "/"}[b.Op]
	return b.Left.String() + " " + op + " " + b.Right.String()
}

// Identifiers returns the distinct metric names referenced by e, sorted.
func Identifiers(e Expr) []string {
	seen := map[string]struct{}{}
	var walk func(Expr)
	walk = func(e Expr) {
		switch n := e.(type) {
		case *Identifier:
			seen[n.Name] = struct{}{}
		case *BinaryExpr:
			walk(n.Left)
			walk(n.Right)
		case *ParenExpr:
			walk(n.Expr)
		}
	}
	walk(e)

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
