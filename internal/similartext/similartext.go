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

// Package similartext suggests close matches for misspelled table and
// column names in error messages.
package similartext

import (
	"fmt"
	"reflect"
	"strings"
)

// maxDistanceIgnored is the smallest Levenshtein distance at which a name is
// considered unrelated, proportional to the searched word.
func maxDistanceIgnored(word string) int {
	return len(word)/2 + 1
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// Find returns a " maybe you mean" message with the names closest to the
// searched word, or the empty string when nothing is close enough.
func Find(names []string, word string) string {
	if word == "" || len(names) == 0 {
		return ""
	}
	best := -1
	var matches []string
	for _, name := range names {
		d := levenshtein(strings.ToLower(name), strings.ToLower(word))
		switch {
		case best < 0 || d < best:
			best = d
			matches = []string{name}
		case d == best:
			matches = append(matches, name)
		}
	}
	if best > maxDistanceIgnored(word)-1 {
		return ""
	}
	return fmt.Sprintf(", maybe you mean %s?", strings.Join(matches, " or "))
}

// FindFromMap is like Find over the string keys of a map.
func FindFromMap(names interface{}, word string) string {
	v := reflect.ValueOf(names)
	if !v.IsValid() || v.Kind() != reflect.Map {
		return ""
	}
	var keys []string
	for _, k := range v.MapKeys() {
		if k.Kind() == reflect.String {
			keys = append(keys, k.String())
		}
	}
	return Find(keys, word)
}
