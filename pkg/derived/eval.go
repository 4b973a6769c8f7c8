// Package derived evaluates small arithmetic expressions over the metrics
// of a response, producing new per-entity series.
//
// An expression such as "(in + out) / 2" is evaluated per entity and per
// timestamp. Zero is an ordinary value; a missing operand makes that slot
// missing. Division follows IEEE-754, so x/0 yields ±Inf or NaN, which the
// timeline package serializes as null.
package derived

import (
	"errors"
	"fmt"
	"sort"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/timeline"
)

var (
	ErrSyntax            = errors.New("syntax error")
	ErrUnknownIdentifier = errors.New("unknown identifier")
	ErrReservedName      = errors.New("reserved metric name")
)

// reservedNames cannot be used as derived metric names; clients treat them
// specially.
var reservedNames = map[string]struct{}{
	"None":    {},
	"Density": {},
}

// CheckName rejects reserved metric names.
func CheckName(name string) error {
	if name == "" {
		return errors.New("derived metric name is empty")
	}
	if _, ok := reservedNames[name]; ok {
		return fmt.Errorf("%w: %q", ErrReservedName, name)
	}
	return nil
}

// Evaluate computes expr over series, whose slots have axisLen entries.
//
// A constant expression is evaluated once and broadcast to every entity of
// every metric. Otherwise only entities present in all referenced metrics
// are computed; the rest are omitted.
func Evaluate(expr Expr, series timeline.MetricSeries, axisLen int) (timeline.EntitySeries, error) {
	ids := Identifiers(expr)
	out := timeline.EntitySeries{}

	if len(ids) == 0 {
		v, _ := eval(expr, nil)
		for _, byEntity := range series {
			for entity := range byEntity {
				if _, done := out[entity]; done {
					continue
				}
				s := make(timeline.Series, axisLen)
				for i := range s {
					s[i] = timeline.Float(v)
				}
				out[entity] = s
			}
		}
		return out, nil
	}

	for _, id := range ids {
		if _, ok := series[id]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownIdentifier, id)
		}
	}

	operands := make(map[string]*float64, len(ids))
	for entity := range series[ids[0]] {
		if !inAll(entity, series, ids) {
			continue
		}
		s := make(timeline.Series, axisLen)
		for i := range s {
			for _, id := range ids {
				operands[id] = at(series[id][entity], i)
			}
			if v, ok := eval(expr, operands); ok {
				s[i] = timeline.Float(v)
			}
		}
		out[entity] = s
	}
	return out, nil
}

func inAll(entity string, series timeline.MetricSeries, ids []string) bool {
	for _, id := range ids {
		if _, ok := series[id][entity]; !ok {
			return false
		}
	}
	return true
}

func at(s timeline.Series, i int) *float64 {
	if i < len(s) {
		return s[i]
	}
	return nil
}

// eval walks the tree. ok is false when an operand is missing.
func eval(e Expr, operands map[string]*float64) (v float64, ok bool) {
	switch n := e.(type) {
	case *NumberLiteral:
		return n.Value, true
	case *Identifier:
		p := operands[n.Name]
		if p == nil {
			return 0, false
		}
		return *p, true
	case *ParenExpr:
		return eval(n.Expr, operands)
	case *BinaryExpr:
		l, ok := eval(n.Left, operands)
		if !ok {
			return 0, false
		}
		r, ok := eval(n.Right, operands)
		if !ok {
			return 0, false
		}
		switch n.Op {
		case TokenPlus:
			return l + r, true
		case TokenMinus:
			return l - r, true
		case TokenMultiply:
			return l * r, true
		case TokenDivide:
			return l / r, true
		}
	}
	return 0, false
}

// Definition is a named, parsed expression.
type Definition struct {
	Name   string
	Source string
	Expr   Expr
}

// Eval evaluates the definition over f.
func (d Definition) Eval(f timeline.Frame) (timeline.EntitySeries, error) {
	return Evaluate(d.Expr, f.Values, f.Len())
}

// Compile parses a name -> expression map into definitions sorted by name.
// All invalid definitions are reported together.
func Compile(defs map[string]string) ([]Definition, error) {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Definition, 0, len(names))
	var errs []error
	for _, name := range names {
		if err := CheckName(name); err != nil {
			errs = append(errs, err)
			continue
		}
		expr, err := Parse(defs[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("derived metric %q: %w", name, err))
			continue
		}
		out = append(out, Definition{Name: name, Source: defs[name], Expr: expr})
	}
	return out, errors.Join(errs...)
}

// Apply parses expr and adds its result to f as metric name.
func Apply(f *timeline.Frame, name, expr string) error {
	if err := CheckName(name); err != nil {
		return err
	}
	parsed, err := Parse(expr)
	if err != nil {
		return err
	}
	return ApplyDefinition(f, Definition{Name: name, Source: expr, Expr: parsed})
}

// ApplyDefinition adds d's result to f. The frame switches to the nested
// metric layout so the new metric is visible to clients.
func ApplyDefinition(f *timeline.Frame, d Definition) error {
	if err := CheckName(d.Name); err != nil {
		return err
	}
	res, err := d.Eval(*f)
	if err != nil {
		return err
	}
	if f.Values == nil {
		f.Values = timeline.MetricSeries{}
	}
	f.Values[d.Name] = res
	f.Flat = false
	return nil
}

// ApplyAll applies defs in order. A failing definition is skipped and
// reported; the others, and the frame's own metrics, are kept. Later
// definitions may reference earlier ones.
func ApplyAll(f *timeline.Frame, defs []Definition) error {
	var errs []error
	for _, d := range defs {
		if err := ApplyDefinition(f, d); err != nil {
			errs = append(errs, fmt.Errorf("derived metric %q: %w", d.Name, err))
		}
	}
	return errors.Join(errs...)
}
