package toon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitTopLevel(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected []string
	}{
		{name: "plain fields", in: "1,2,3", expected: []string{"1", "2", "3"}},
		{name: "single field", in: "hello", expected: []string{"hello"}},
		{name: "empty input is one empty field", in: "", expected: []string{""}},
		{name: "trailing comma yields empty field", in: "1,2,", expected: []string{"1", "2", ""}},
		{name: "comma inside double quotes", in: `"a,b",c`, expected: []string{`"a,b"`, "c"}},
		{name: "comma inside single quotes", in: "'a,b',c", expected: []string{"'a,b'", "c"}},
		{name: "comma inside braces", in: "{x: 1, y: 2},7", expected: []string{"{x: 1, y: 2}", "7"}},
		{name: "comma inside brackets", in: "[1,2],[3,4]", expected: []string{"[1,2]", "[3,4]"}},
		{name: "nested containers", in: "{a: [1,2], b: {c: 3}},x", expected: []string{"{a: [1,2], b: {c: 3}}", "x"}},
		{name: "unbalanced quote swallows the rest", in: `"a,b`, expected: []string{`"a,b`}},
		{name: "parentheses are not grouping", in: "f(1,2),3", expected: []string{"f(1", "2)", "3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitTopLevel(tt.in))
		})
	}
}

func TestSplitTopLevelStrict(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected []string
	}{
		{name: "parentheses group", in: "f(1,2),3", expected: []string{"f(1,2)", "3"}},
		{name: "plain fields unchanged", in: "1,2,3", expected: []string{"1", "2", "3"}},
		{name: "quotes still group", in: `"a,b",c`, expected: []string{`"a,b"`, "c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitTopLevelStrict(tt.in))
		})
	}
}

// A mapping-valued cell must survive as a single field so a tabular row
// like `{x: 1, y: [1,2]},7` keeps its declared column count.
func TestSplitKeepsEmbeddedContainerWhole(t *testing.T) {
	fields := SplitTopLevel("{x: 1, y: [1,2]},7")
	assert.Equal(t, []string{"{x: 1, y: [1,2]}", "7"}, fields)
}
