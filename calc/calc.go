// Copyright 2026 The Papermill Authors
// SPDX-License-Identifier: Apache-2.0

// Package calc evaluates arithmetic expressions for deterministic
// extraction math: unit conversions, section properties, averaging
// repeated measurements. The grammar is numbers, named variables,
// + - * / %, ** for exponentiation, unary sign, and parentheses.
// Nothing else parses, so an expression copied from an untrusted
// source cannot do anything but arithmetic.
package calc

import (
	"fmt"
	"go/scanner"
	"go/token"
	"math"
	"strconv"
	"strings"
)

// Binding powers. Exponentiation is right-associative and binds
// tighter than unary sign, so -2**2 is -(2**2).
const (
	bindAdd   = 10
	bindMul   = 20
	bindUnary = 30
	bindPow   = 40
)

type tokenItem struct {
	tok token.Token
	lit string
}

// text names the token in error messages; operator tokens scan with an
// empty literal.
func (t tokenItem) text() string {
	if t.lit != "" {
		return t.lit
	}
	return t.tok.String()
}

// powToken marks a merged "**" pair. ILLEGAL is never produced
// otherwise because scan errors abort first.
const powToken = token.ILLEGAL

// Eval evaluates expression with the given variable bindings.
func Eval(expression string, variables map[string]float64) (float64, error) {
	items, err := tokenize(expression)
	if err != nil {
		return 0, err
	}
	parser := &exprParser{items: items, variables: variables}
	value, err := parser.parse(0)
	if err != nil {
		return 0, err
	}
	if parser.peek().tok != token.EOF {
		return 0, fmt.Errorf("unexpected %q after expression", parser.peek().text())
	}
	return value, nil
}

// ParseVars parses repeated key=value assignments from the command
// line.
func ParseVars(assignments []string) (map[string]float64, error) {
	variables := map[string]float64{}
	for _, raw := range assignments {
		name, value, found := strings.Cut(raw, "=")
		if !found {
			return nil, fmt.Errorf("invalid variable %q, expected key=value", raw)
		}
		name = strings.TrimSpace(name)
		if !token.IsIdentifier(name) {
			return nil, fmt.Errorf("invalid variable name %q", name)
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("variable %q value must be numeric", name)
		}
		variables[name] = parsed
	}
	return variables, nil
}

// Round rounds value to the given number of decimal digits.
func Round(value float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(value*scale) / scale
}

// tokenize scans the expression with the Go token scanner and merges
// adjacent "*" pairs into the exponentiation token.
func tokenize(expression string) ([]tokenItem, error) {
	src := []byte(strings.TrimSpace(expression))
	fset := token.NewFileSet()
	file := fset.AddFile("", fset.Base(), len(src))

	var scanErr error
	var s scanner.Scanner
	s.Init(file, src, func(pos token.Position, msg string) {
		if scanErr == nil {
			scanErr = fmt.Errorf("invalid expression syntax at offset %d: %s", pos.Offset, msg)
		}
	}, scanner.ScanComments)

	var items []tokenItem
	prevPos := token.Pos(0)
	for {
		pos, tok, lit := s.Scan()
		if scanErr != nil {
			return nil, scanErr
		}
		// "//" and "/*" scan as comments, which would silently swallow
		// the rest of the expression. Reject them loudly instead.
		if tok == token.COMMENT {
			return nil, fmt.Errorf("unsupported %q in expression", lit[:2])
		}
		// The scanner inserts semicolons at line ends; they carry no
		// meaning in an expression.
		if tok == token.SEMICOLON {
			continue
		}
		if tok == token.MUL && len(items) > 0 &&
			items[len(items)-1].tok == token.MUL && pos == prevPos+1 {
			items[len(items)-1] = tokenItem{tok: powToken, lit: "**"}
			prevPos = pos
			continue
		}
		items = append(items, tokenItem{tok: tok, lit: lit})
		prevPos = pos
		if tok == token.EOF {
			return items, nil
		}
	}
}

// exprParser is a precedence-climbing parser that evaluates as it
// goes.
type exprParser struct {
	items     []tokenItem
	pos       int
	variables map[string]float64
}

func (p *exprParser) peek() tokenItem {
	if p.pos >= len(p.items) {
		return tokenItem{tok: token.EOF}
	}
	return p.items[p.pos]
}

func (p *exprParser) next() tokenItem {
	item := p.peek()
	p.pos++
	return item
}

func (p *exprParser) parse(minBind int) (float64, error) {
	left, err := p.parsePrefix()
	if err != nil {
		return 0, err
	}

	for {
		bind, ok := infixBind(p.peek().tok)
		if !ok || bind < minBind {
			return left, nil
		}
		op := p.next().tok

		// Right associativity: the right operand of ** may absorb
		// another ** at the same level.
		rightBind := bind + 1
		if op == powToken {
			rightBind = bind
		}
		right, err := p.parse(rightBind)
		if err != nil {
			return 0, err
		}
		left, err = apply(op, left, right)
		if err != nil {
			return 0, err
		}
	}
}

func (p *exprParser) parsePrefix() (float64, error) {
	switch item := p.next(); item.tok {
	case token.INT, token.FLOAT:
		value, err := strconv.ParseFloat(item.lit, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q", item.lit)
		}
		return value, nil
	case token.IDENT:
		value, ok := p.variables[item.lit]
		if !ok {
			return 0, fmt.Errorf("unknown variable %q", item.lit)
		}
		return value, nil
	case token.ADD:
		return p.parse(bindUnary)
	case token.SUB:
		value, err := p.parse(bindUnary)
		return -value, err
	case token.LPAREN:
		value, err := p.parse(0)
		if err != nil {
			return 0, err
		}
		if closing := p.next(); closing.tok != token.RPAREN {
			return 0, fmt.Errorf("expected closing parenthesis, got %q", closing.text())
		}
		return value, nil
	case token.EOF:
		return 0, fmt.Errorf("unexpected end of expression")
	default:
		return 0, fmt.Errorf("unsupported token %q", item.text())
	}
}

func infixBind(tok token.Token) (int, bool) {
	switch tok {
	case token.ADD, token.SUB:
		return bindAdd, true
	case token.MUL, token.QUO, token.REM:
		return bindMul, true
	case powToken:
		return bindPow, true
	default:
		return 0, false
	}
}

func apply(op token.Token, left, right float64) (float64, error) {
	switch op {
	case token.ADD:
		return left + right, nil
	case token.SUB:
		return left - right, nil
	case token.MUL:
		return left * right, nil
	case token.QUO:
		if right == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return left / right, nil
	case token.REM:
		if right == 0 {
			return 0, fmt.Errorf("modulo by zero")
		}
		return math.Mod(left, right), nil
	case powToken:
		return math.Pow(left, right), nil
	default:
		return 0, fmt.Errorf("unsupported operator %v", op)
	}
}
