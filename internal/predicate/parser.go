// Package predicate implements the entry/exit condition DSL of spec.md
// 4.1: a tiny, deterministic recursive-descent grammar over the
// variables price (decimal) and time (minutes since midnight). It
// replaces original_source/condition_eval.py's use of Python's eval()
// with a parser that cannot execute arbitrary code.
package predicate

import (
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"
	"tradesim/internal/apperr"
)

// Predicate is a parsed, ready-to-evaluate condition.
type Predicate struct {
	root   Node
	source string
}

// Eval evaluates the predicate against env. Cannot fail: by the time a
// Predicate exists, type-checking has already happened at Parse time.
func (p *Predicate) Eval(env Env) bool {
	return p.root.Eval(env)
}

// String returns the DSL source the predicate was parsed from.
func (p *Predicate) String() string { return p.source }

// Parse parses source into a Predicate, or returns an *apperr.ParseError
// describing the first syntax or type error encountered.
func Parse(source string) (*Predicate, error) {
	p := &parser{lex: newLexer(source)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	node, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.tok.kind != tokEOF {
		return nil, &apperr.ParseError{Position: p.tok.pos, Reason: "unexpected trailing input '" + p.tok.text + "'"}
	}
	return &Predicate{root: node, source: source}, nil
}

type parser struct {
	lex *lexer
	tok token
}

func (p *parser) advance() error {
	tok, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = tok
	return nil
}

// parseExpr := or_expr
func (p *parser) parseExpr() (Node, error) {
	return p.parseOr()
}

// or_expr := and_expr ( "OR" and_expr )*
func (p *parser) parseOr() (Node, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		lhs = &Logical{Op: "OR", LHS: lhs, RHS: rhs}
	}
	return lhs, nil
}

// and_expr := cmp_expr ( "AND" cmp_expr )*
func (p *parser) parseAnd() (Node, error) {
	lhs, err := p.parseCmpOrGroup()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		rhs, err := p.parseCmpOrGroup()
		if err != nil {
			return nil, err
		}
		lhs = &Logical{Op: "AND", LHS: lhs, RHS: rhs}
	}
	return lhs, nil
}

// cmp_expr := atom cmp_op atom | "(" expr ")"
func (p *parser) parseCmpOrGroup() (Node, error) {
	if p.tok.kind == tokLParen {
		if err := p.advance(); err != nil {
			return nil, err
		}
		inner, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, &apperr.ParseError{Position: p.tok.pos, Reason: "expected ')'"}
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &Grouped{Inner: inner}, nil
	}

	lhs, err := p.parseAtom()
	if err != nil {
		return nil, err
	}

	if p.tok.kind != tokOp {
		return nil, &apperr.ParseError{Position: p.tok.pos, Reason: "expected a comparison operator"}
	}
	op := p.tok.text
	opPos := p.tok.pos
	if err := p.advance(); err != nil {
		return nil, err
	}

	rhs, err := p.parseAtom()
	if err != nil {
		return nil, err
	}

	if lhs.domain != rhs.domain {
		return nil, &apperr.ParseError{Position: opPos, Reason: "cannot compare a time value with a price/number value"}
	}
	if op == "==" && lhs.domain == domainNumber {
		slog.Warn("predicate uses exact equality on price; prefer <= or >=", "predicate_fragment", lhs.format()+" == "+rhs.format())
	}

	return &Comparison{LHS: lhs, Op: op, RHS: rhs}, nil
}

// atom := identifier | number | time_literal
func (p *parser) parseAtom() (atom, error) {
	tok := p.tok
	switch tok.kind {
	case tokIdent:
		if err := p.advance(); err != nil {
			return atom{}, err
		}
		if tok.text == "price" {
			return atom{kind: atomVarPrice, domain: domainNumber}, nil
		}
		return atom{kind: atomVarTime, domain: domainTime}, nil
	case tokNumber:
		val, err := decimal.NewFromString(tok.text)
		if err != nil {
			return atom{}, &apperr.ParseError{Position: tok.pos, Reason: "invalid number literal '" + tok.text + "'"}
		}
		if err := p.advance(); err != nil {
			return atom{}, err
		}
		return atom{kind: atomLiteralNumber, domain: domainNumber, numberVal: val}, nil
	case tokTime:
		minutes, err := parseTimeLiteral(tok.text)
		if err != nil {
			return atom{}, err
		}
		if err := p.advance(); err != nil {
			return atom{}, err
		}
		return atom{kind: atomLiteralTime, domain: domainTime, timeVal: minutes}, nil
	default:
		return atom{}, &apperr.ParseError{Position: tok.pos, Reason: "expected price, time, a number, or an HH:MM literal"}
	}
}

func parseTimeLiteral(text string) (int, error) {
	colon := -1
	for i, r := range text {
		if r == ':' {
			colon = i
			break
		}
	}
	if colon < 0 {
		return 0, &apperr.ParseError{Reason: "malformed time literal '" + text + "'"}
	}
	h, err := strconv.Atoi(text[:colon])
	if err != nil {
		return 0, &apperr.ParseError{Reason: "malformed time literal hour in '" + text + "'"}
	}
	m, err := strconv.Atoi(text[colon+1:])
	if err != nil {
		return 0, &apperr.ParseError{Reason: "malformed time literal minute in '" + text + "'"}
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, &apperr.ParseError{Reason: "time literal '" + text + "' out of range"}
	}
	return h*60 + m, nil
}
