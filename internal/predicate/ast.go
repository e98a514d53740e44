package predicate

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// domain classifies an atom so the parser can reject nonsensical
// comparisons (a time literal against price, a plain number against
// time) the way spec.md 4.1 requires.
type domain int

const (
	domainNumber domain = iota // decimal/integer literal, compatible with price
	domainTime                 // the time variable or an HH:MM literal
)

// Env is the variable environment a predicate is evaluated against.
type Env struct {
	Price decimal.Decimal
	Time  int // minutes since local midnight
}

// Node is any boolean-valued predicate AST node.
type Node interface {
	Eval(env Env) bool
	format() string
}

// Logical is a binary AND/OR node. OR binds looser than AND, enforced
// by the grammar in parser.go, not by this struct.
type Logical struct {
	Op  string // "AND" or "OR"
	LHS Node
	RHS Node
}

func (n *Logical) Eval(env Env) bool {
	if n.Op == "AND" {
		return n.LHS.Eval(env) && n.RHS.Eval(env)
	}
	return n.LHS.Eval(env) || n.RHS.Eval(env)
}

func (n *Logical) format() string {
	return fmt.Sprintf("%s %s %s", n.LHS.format(), n.Op, n.RHS.format())
}

// Comparison is a leaf boolean node comparing two atoms.
type Comparison struct {
	LHS atom
	Op  string // "<", "<=", ">", ">=", "=="
	RHS atom
}

func (n *Comparison) Eval(env Env) bool {
	l := n.LHS.value(env)
	r := n.RHS.value(env)
	switch n.Op {
	case "<":
		return l.LessThan(r)
	case "<=":
		return l.LessThanOrEqual(r)
	case ">":
		return l.GreaterThan(r)
	case ">=":
		return l.GreaterThanOrEqual(r)
	case "==":
		return l.Equal(r)
	default:
		// unreachable: the parser only ever produces the five operators above.
		return false
	}
}

func (n *Comparison) format() string {
	return fmt.Sprintf("%s %s %s", n.LHS.format(), n.Op, n.RHS.format())
}

// Grouped wraps a parenthesized sub-expression so Format() can round-trip
// the original parenthesization.
type Grouped struct {
	Inner Node
}

func (n *Grouped) Eval(env Env) bool { return n.Inner.Eval(env) }
func (n *Grouped) format() string    { return "(" + n.Inner.format() + ")" }

// atom is a comparison operand: the price/time variable or a literal.
type atom struct {
	kind      atomKind
	domain    domain
	numberVal decimal.Decimal
	timeVal   int
}

type atomKind int

const (
	atomVarPrice atomKind = iota
	atomVarTime
	atomLiteralNumber
	atomLiteralTime
)

func (a atom) value(env Env) decimal.Decimal {
	switch a.kind {
	case atomVarPrice:
		return env.Price
	case atomVarTime:
		return decimal.NewFromInt(int64(env.Time))
	case atomLiteralTime:
		return decimal.NewFromInt(int64(a.timeVal))
	default:
		return a.numberVal
	}
}

func (a atom) format() string {
	switch a.kind {
	case atomVarPrice:
		return "price"
	case atomVarTime:
		return "time"
	case atomLiteralTime:
		return fmt.Sprintf("%02d:%02d", a.timeVal/60, a.timeVal%60)
	default:
		return a.numberVal.String()
	}
}

// Format renders node back to DSL source text. Used by round-trip tests.
func Format(n Node) string {
	if n == nil {
		return ""
	}
	return n.format()
}

// SeedHint walks a predicate looking for a "price <op> <literal>"
// comparison and returns that literal as a plausible seed price for the
// instrument, per spec.md 9's "derive from entry-predicate literals"
// option. It returns the first one found in a left-to-right walk.
func SeedHint(p *Predicate) (decimal.Decimal, bool) {
	if p == nil {
		return decimal.Zero, false
	}
	return seedHint(p.root)
}

func seedHint(n Node) (decimal.Decimal, bool) {
	switch v := n.(type) {
	case *Comparison:
		if v.LHS.kind == atomVarPrice && v.RHS.kind == atomLiteralNumber {
			return v.RHS.numberVal, true
		}
		if v.RHS.kind == atomVarPrice && v.LHS.kind == atomLiteralNumber {
			return v.LHS.numberVal, true
		}
		return decimal.Zero, false
	case *Logical:
		if d, ok := seedHint(v.LHS); ok {
			return d, ok
		}
		return seedHint(v.RHS)
	case *Grouped:
		return seedHint(v.Inner)
	default:
		return decimal.Zero, false
	}
}
