package derived

import (
	"errors"
	"slices"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"A", "A"},
		{"  A+B ", "A + B"},
		{"8-2-1", "8 - 2 - 1"},
		{"a+b*c", "a + b * c"},
		{"(a+b)*c", "(a + b) * c"},
		{"((x))", "((x))"},
		{".5", "0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			e, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.input, err)
			}
			if got := e.String(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestParse_LeftAssociative(t *testing.T) {
	e, err := Parse("8-2-1")
	if err != nil {
		t.Fatal(err)
	}
	outer, ok := e.(*BinaryExpr)
	if !ok {
		t.Fatalf("expected BinaryExpr, got %T", e)
	}
	if _, ok := outer.Left.(*BinaryExpr); !ok {
		t.Errorf("expected left operand to be a BinaryExpr, got %T", outer.Left)
	}
	if n, ok := outer.Right.(*NumberLiteral); !ok || n.Value != 1 {
		t.Errorf("expected right operand 1, got %v", outer.Right)
	}
}

func TestParse_Precedence(t *testing.T) {
	e, err := Parse("a+b*c")
	if err != nil {
		t.Fatal(err)
	}
	bin := e.(*BinaryExpr)
	if bin.Op != TokenPlus {
		t.Fatalf("expected '+' at the root, got %s", bin.Op)
	}
	if r, ok := bin.Right.(*BinaryExpr); !ok || r.Op != TokenMultiply {
		t.Errorf("expected b*c on the right, got %v", bin.Right)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []string{
		"",
		"A +",
		"(A + B",
		"A B",
		"A + * B",
		"a % b",
		")",
		"-A",
	}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			if err == nil {
				t.Fatalf("expected error for %q", input)
			}
			if !errors.Is(err, ErrSyntax) {
				t.Errorf("expected ErrSyntax, got %v", err)
			}
		})
	}
}

func TestIdentifiers(t *testing.T) {
	e, err := Parse("(in + out) / in * 2")
	if err != nil {
		t.Fatal(err)
	}
	got := Identifiers(e)
	if !slices.Equal(got, []string{"in", "out"}) {
		t.Errorf("expected [in out], got %v", got)
	}
}
