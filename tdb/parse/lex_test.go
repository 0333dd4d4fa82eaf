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
	"testing"

	"github.com/stretchr/testify/assert"
)

type lexCase struct {
	input    string
	expected string
	typ      TokenType
}

func testLex(t *testing.T, cases []lexCase) {
	t.Helper()
	for _, c := range cases {
		tok := newLexer(c.input).next()
		assert.Equal(t, c.typ, tok.Type, "input %q", c.input)
		assert.Equal(t, c.expected, tok.Val, "input %q", c.input)
	}
}

func TestLexNumber(t *testing.T) {
	testLex(t, []lexCase{
		{"12", "12", IntToken},
		{"-7", "-7", IntToken},
		{"12.45", "12.45", FloatToken},
		{"1e9", "1e9", FloatToken},
		{"12.45.", "12.45", ErrorToken},
		{"1dkejrw", "1", ErrorToken},
	})
}

func TestLexIdentifier(t *testing.T) {
	testLex(t, []lexCase{
		{"name == 5", "name", IdentifierToken},
		{"p.name", "p", IdentifierToken},
		{"AND next", "AND", KeywordToken},
		{"beginswith x", "BEGINSWITH", KeywordToken},
		{"sort(a)", "SORT", KeywordToken},
	})
}

func TestLexOp(t *testing.T) {
	testLex(t, []lexCase{
		{"== 5", "==", OpToken},
		{"= 5", "==", OpToken},
		{">= foo", ">=", OpToken},
		{"!= foo", "!=", OpToken},
		{"***", "*", ErrorToken},
	})
}

func TestLexQuote(t *testing.T) {
	testLex(t, []lexCase{
		{`"foo bar" `, "foo bar", StringToken},
		{`'single' `, "single", StringToken},
		{`"escaped \" quote"`, `escaped " quote`, StringToken},
		{`"nul \0 byte"`, "nul \x00 byte", StringToken},
		{`"unterminated`, "unterminated", ErrorToken},
	})
}

func TestLexBase64(t *testing.T) {
	testLex(t, []lexCase{
		{`B64"aGVsbG8="`, "aGVsbG8=", Base64Token},
	})
}

func TestLexArgumentAndAt(t *testing.T) {
	testLex(t, []lexCase{
		{"$0", "0", ArgToken},
		{"$12 ==", "12", ArgToken},
		{"$x.age", "$x", IdentifierToken},
		{"@size", "size", AtToken},
		{"@links.people.friend", "links", AtToken},
	})
}

func TestLexLine(t *testing.T) {
	expected := []Token{
		{KeywordToken, "ANY"},
		{IdentifierToken, "friends"},
		{DotToken, "."},
		{IdentifierToken, "name"},
		{OpToken, "=="},
		{LeftBracketToken, "["},
		{IdentifierToken, "c"},
		{RightBracketToken, "]"},
		{StringToken, "Alice"},
		{KeywordToken, "AND"},
		{IdentifierToken, "age"},
		{OpToken, ">="},
		{IntToken, "21"},
		{KeywordToken, "SORT"},
		{LeftParenToken, "("},
		{IdentifierToken, "age"},
		{KeywordToken, "DESC"},
		{RightParenToken, ")"},
		{EOFToken, ""},
	}
	lx := newLexer(`ANY friends.name ==[c] "Alice" AND age >= 21 SORT(age DESC)`)
	for _, want := range expected {
		tok := lx.next()
		assert.Equal(t, want.Type, tok.Type)
		assert.Equal(t, want.Val, tok.Val)
	}
}
