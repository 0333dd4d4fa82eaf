// Copyright 2023-2024 The Tern Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package parse

import (
	"fmt"
	"strconv"

	"github.com/terndb/tern/tdb"
)

// parser is a recursive-descent parser over the lexer's token stream. It
// returns errors as values; parsing never panics for control flow.
type parser struct {
	lx  *lexer
	tok Token
}

// Parse turns a predicate string into an AST plus its trailing descriptor
// clauses. Failures surface as SyntaxError.
func Parse(input string) (QueryNode, []DescriptorNode, error) {
	p := &parser{lx: newLexer(input)}
	p.advance()
	root, err := p.parseOr()
	if err != nil {
		return nil, nil, err
	}
	descriptors, err := p.parseDescriptors()
	if err != nil {
		return nil, nil, err
	}
	if p.tok.Type != EOFToken {
		return nil, nil, p.syntaxError("unexpected trailing input %q", p.tok.Val)
	}
	return root, descriptors, nil
}

func (p *parser) advance() { p.tok = p.lx.next() }

func (p *parser) syntaxError(format string, args ...interface{}) error {
	return tdb.ErrSyntax.New(fmt.Sprintf(format, args...))
}

func (p *parser) expect(t TokenType, what string) (Token, error) {
	if p.tok.Type != t {
		return Token{}, p.syntaxError("expected %s, found %q", what, p.tok.Val)
	}
	tok := p.tok
	p.advance()
	return tok, nil
}

func (p *parser) parseOr() (QueryNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []QueryNode{left}
	for p.tok.Type == KeywordToken && p.tok.Val == "OR" {
		p.advance()
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &OrNode{Children: children}, nil
}

// startsAtom reports whether the lookahead can begin an atom; juxtaposed
// atoms conjoin implicitly.
func (p *parser) startsAtom() bool {
	switch p.tok.Type {
	case LeftParenToken, IdentifierToken, AtToken, ArgToken,
		IntToken, FloatToken, StringToken, Base64Token, LeftBraceToken:
		return true
	case KeywordToken:
		switch p.tok.Val {
		case "NOT", "TRUEPREDICATE", "FALSEPREDICATE",
			"ANY", "ALL", "NONE", "SOME", "SUBQUERY",
			"NULL", "NIL", "TRUE", "FALSE":
			return true
		}
	}
	return false
}

func (p *parser) parseAnd() (QueryNode, error) {
	left, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	children := []QueryNode{left}
	for {
		if p.tok.Type == KeywordToken && p.tok.Val == "AND" {
			p.advance()
		} else if !p.startsAtom() {
			break
		}
		next, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		children = append(children, next)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &AndNode{Children: children}, nil
}

func (p *parser) parseAtom() (QueryNode, error) {
	switch {
	case p.tok.Type == KeywordToken && p.tok.Val == "NOT":
		p.advance()
		child, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		return &NotNode{Child: child}, nil
	case p.tok.Type == LeftParenToken:
		p.advance()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(RightParenToken, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	case p.tok.Type == KeywordToken && p.tok.Val == "TRUEPREDICATE":
		p.advance()
		return &TrueNode{}, nil
	case p.tok.Type == KeywordToken && p.tok.Val == "FALSEPREDICATE":
		p.advance()
		return &FalseNode{}, nil
	}
	return p.parseComparison()
}

var keywordOps = map[string]bool{
	"BEGINSWITH": true, "ENDSWITH": true, "CONTAINS": true,
	"LIKE": true, "IN": true, "TEXT": true,
}

func (p *parser) parseComparison() (QueryNode, error) {
	quant := ""
	if p.tok.Type == KeywordToken {
		switch p.tok.Val {
		case "ANY", "SOME":
			quant = "ANY"
			p.advance()
		case "ALL":
			quant = "ALL"
			p.advance()
		case "NONE":
			quant = "NONE"
			p.advance()
		}
	}
	left, err := p.parseValue()
	if err != nil {
		return nil, err
	}

	var op string
	switch {
	case p.tok.Type == OpToken:
		op = p.tok.Val
		p.advance()
	case p.tok.Type == KeywordToken && keywordOps[p.tok.Val]:
		op = p.tok.Val
		p.advance()
	default:
		return nil, p.syntaxError("expected a comparison operator, found %q", p.tok.Val)
	}

	ci, err := p.parseCaseModifier()
	if err != nil {
		return nil, err
	}

	right, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	return &CompareNode{Op: op, Left: left, Right: right, CaseInsensitive: ci, Quantifier: quant}, nil
}

// parseCaseModifier accepts the optional [c] following an operator.
func (p *parser) parseCaseModifier() (bool, error) {
	if p.tok.Type != LeftBracketToken {
		return false, nil
	}
	p.advance()
	tok, err := p.expect(IdentifierToken, "case modifier")
	if err != nil {
		return false, err
	}
	if tok.Val != "c" {
		return false, p.syntaxError("unknown modifier [%s]", tok.Val)
	}
	if _, err := p.expect(RightBracketToken, "]"); err != nil {
		return false, err
	}
	return true, nil
}

func (p *parser) parseValue() (ValueNode, error) {
	switch p.tok.Type {
	case IntToken:
		n := &ConstantNode{Kind: ConstInt, Text: p.tok.Val}
		p.advance()
		return n, nil
	case FloatToken:
		n := &ConstantNode{Kind: ConstFloat, Text: p.tok.Val}
		p.advance()
		return n, nil
	case StringToken:
		n := &ConstantNode{Kind: ConstString, Text: p.tok.Val}
		p.advance()
		return n, nil
	case Base64Token:
		n := &ConstantNode{Kind: ConstBase64, Text: p.tok.Val}
		p.advance()
		return n, nil
	case ArgToken:
		num, err := strconv.Atoi(p.tok.Val)
		if err != nil {
			return nil, p.syntaxError("bad argument number $%s", p.tok.Val)
		}
		p.advance()
		return &ConstantNode{Kind: ConstArg, Arg: num}, nil
	case LeftBraceToken:
		return p.parseList()
	case KeywordToken:
		switch p.tok.Val {
		case "NULL", "NIL":
			p.advance()
			return &ConstantNode{Kind: ConstNull}, nil
		case "TRUE":
			p.advance()
			return &ConstantNode{Kind: ConstTrue}, nil
		case "FALSE":
			p.advance()
			return &ConstantNode{Kind: ConstFalse}, nil
		case "SUBQUERY":
			return p.parseSubquery()
		}
		return nil, p.syntaxError("unexpected keyword %q", p.tok.Val)
	case IdentifierToken, AtToken:
		return p.parsePath()
	}
	return nil, p.syntaxError("expected a value, found %q", p.tok.Val)
}

func (p *parser) parseList() (ValueNode, error) {
	if _, err := p.expect(LeftBraceToken, "{"); err != nil {
		return nil, err
	}
	var elems []ValueNode
	if p.tok.Type != RightBraceToken {
		for {
			elem, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			elems = append(elems, elem)
			if p.tok.Type != CommaToken {
				break
			}
			p.advance()
		}
	}
	if _, err := p.expect(RightBraceToken, "}"); err != nil {
		return nil, err
	}
	return &ListNode{Elems: elems}, nil
}

var postOps = map[string]bool{
	"size": true, "count": true, "type": true, "keys": true, "values": true,
}

var aggrOps = map[string]bool{
	"min": true, "max": true, "sum": true, "avg": true,
}

func (p *parser) parsePath() (ValueNode, error) {
	path := &PathNode{}
	for {
		switch p.tok.Type {
		case IdentifierToken:
			path.Elems = append(path.Elems, PathElem{Kind: PathProperty, Name: p.tok.Val})
			p.advance()
		case AtToken:
			word := p.tok.Val
			switch {
			case word == "links":
				p.advance()
				if _, err := p.expect(DotToken, "."); err != nil {
					return nil, err
				}
				tbl, err := p.expect(IdentifierToken, "backlink table name")
				if err != nil {
					return nil, err
				}
				if _, err := p.expect(DotToken, "."); err != nil {
					return nil, err
				}
				col, err := p.expect(IdentifierToken, "backlink column name")
				if err != nil {
					return nil, err
				}
				path.Elems = append(path.Elems, PathElem{
					Kind:           PathBacklink,
					BacklinkTable:  tbl.Val,
					BacklinkColumn: col.Val,
				})
			case postOps[word]:
				path.PostOp = word
				p.advance()
				return path, nil
			case aggrOps[word]:
				path.Aggr = word
				p.advance()
				return path, nil
			default:
				return nil, p.syntaxError("unknown @-operation @%s", word)
			}
		default:
			return nil, p.syntaxError("expected a property name, found %q", p.tok.Val)
		}

		// Optional subscripts after an element.
		for p.tok.Type == LeftBracketToken {
			p.advance()
			switch p.tok.Type {
			case IntToken:
				idx, err := strconv.Atoi(p.tok.Val)
				if err != nil {
					return nil, p.syntaxError("bad list index %q", p.tok.Val)
				}
				p.advance()
				path.Elems = append(path.Elems, PathElem{Kind: PathIndex, Index: idx})
			case StringToken:
				path.Elems = append(path.Elems, PathElem{Kind: PathDictKey, Name: p.tok.Val})
				p.advance()
			case KeywordToken:
				if p.tok.Val != "ALL" {
					return nil, p.syntaxError("unexpected %q in subscript", p.tok.Val)
				}
				p.advance()
				path.Elems = append(path.Elems, PathElem{Kind: PathDictAll})
			default:
				return nil, p.syntaxError("unexpected %q in subscript", p.tok.Val)
			}
			if _, err := p.expect(RightBracketToken, "]"); err != nil {
				return nil, err
			}
		}

		if p.tok.Type != DotToken {
			return path, nil
		}
		p.advance()
	}
}

func (p *parser) parseSubquery() (ValueNode, error) {
	p.advance() // SUBQUERY
	if _, err := p.expect(LeftParenToken, "("); err != nil {
		return nil, err
	}
	pathValue, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	path, ok := pathValue.(*PathNode)
	if !ok {
		return nil, p.syntaxError("SUBQUERY needs a collection key path")
	}
	if _, err := p.expect(CommaToken, ","); err != nil {
		return nil, err
	}
	varTok, err := p.expect(IdentifierToken, "subquery variable")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(CommaToken, ","); err != nil {
		return nil, err
	}
	inner, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(RightParenToken, ")"); err != nil {
		return nil, err
	}
	node := &SubqueryNode{Path: path, Var: varTok.Val, Inner: inner}
	// The only supported projection of a subquery is its count.
	if p.tok.Type != DotToken {
		return nil, p.syntaxError("SUBQUERY must be followed by .@count")
	}
	p.advance()
	if p.tok.Type != AtToken || p.tok.Val != "count" {
		return nil, p.syntaxError("SUBQUERY must be followed by .@count")
	}
	p.advance()
	return node, nil
}

func (p *parser) parseDescriptors() ([]DescriptorNode, error) {
	var out []DescriptorNode
	for p.tok.Type == KeywordToken {
		switch p.tok.Val {
		case "SORT":
			p.advance()
			d, err := p.parseSortClause()
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		case "DISTINCT":
			p.advance()
			d, err := p.parseDistinctClause()
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		case "LIMIT":
			p.advance()
			if _, err := p.expect(LeftParenToken, "("); err != nil {
				return nil, err
			}
			numTok, err := p.expect(IntToken, "limit count")
			if err != nil {
				return nil, err
			}
			n, err := strconv.Atoi(numTok.Val)
			if err != nil || n < 0 {
				return nil, p.syntaxError("bad limit %q", numTok.Val)
			}
			if _, err := p.expect(RightParenToken, ")"); err != nil {
				return nil, err
			}
			out = append(out, DescriptorNode{Kind: DescLimit, Limit: n})
		default:
			return out, nil
		}
	}
	return out, nil
}

func (p *parser) parseDottedName() ([]string, error) {
	tok, err := p.expect(IdentifierToken, "property name")
	if err != nil {
		return nil, err
	}
	parts := []string{tok.Val}
	for p.tok.Type == DotToken {
		p.advance()
		tok, err := p.expect(IdentifierToken, "property name")
		if err != nil {
			return nil, err
		}
		parts = append(parts, tok.Val)
	}
	return parts, nil
}

func (p *parser) parseSortClause() (DescriptorNode, error) {
	d := DescriptorNode{Kind: DescSort}
	if _, err := p.expect(LeftParenToken, "("); err != nil {
		return d, err
	}
	for {
		parts, err := p.parseDottedName()
		if err != nil {
			return d, err
		}
		ascending := true
		if p.tok.Type == KeywordToken {
			switch p.tok.Val {
			case "ASC", "ASCENDING":
				p.advance()
			case "DESC", "DESCENDING":
				ascending = false
				p.advance()
			}
		}
		d.Paths = append(d.Paths, parts)
		d.Ascending = append(d.Ascending, ascending)
		if p.tok.Type != CommaToken {
			break
		}
		p.advance()
	}
	if _, err := p.expect(RightParenToken, ")"); err != nil {
		return d, err
	}
	return d, nil
}

func (p *parser) parseDistinctClause() (DescriptorNode, error) {
	d := DescriptorNode{Kind: DescDistinct}
	if _, err := p.expect(LeftParenToken, "("); err != nil {
		return d, err
	}
	for {
		parts, err := p.parseDottedName()
		if err != nil {
			return d, err
		}
		d.Paths = append(d.Paths, parts)
		if p.tok.Type != CommaToken {
			break
		}
		p.advance()
	}
	if _, err := p.expect(RightParenToken, ")"); err != nil {
		return d, err
	}
	return d, nil
}
