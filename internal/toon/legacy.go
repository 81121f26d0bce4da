package toon

import (
	"fmt"
	"strings"

	"github.com/tokenfusion/tokenfusion/internal/models"
)

// EncodeIndented renders the legacy indented TOON dialect: `key: value`
// with a space after the colon, `[i]:` entries for sequence elements,
// two-space indentation per nesting level, and capitalized None/True/False
// literals. It predates the compact dialect and is kept as a deliberately
// distinct second encoder rather than reconciled with it.
func EncodeIndented(v models.Value) string {
	return encodeIndented(v, 0)
}

func encodeIndented(v models.Value, depth int) string {
	indent := strings.Repeat("  ", depth)
	switch v.Kind {
	case models.KindMapping:
		var lines []string
		for _, m := range v.Members {
			if m.Value.IsContainer() {
				lines = append(lines, indent+m.Key+":")
				lines = append(lines, encodeIndented(m.Value, depth+1))
			} else {
				lines = append(lines, indent+m.Key+": "+legacyScalar(m.Value))
			}
		}
		return strings.Join(lines, "\n")
	case models.KindSequence:
		var lines []string
		for i, item := range v.Seq {
			if item.IsContainer() {
				lines = append(lines, fmt.Sprintf("%s[%d]:", indent, i))
				lines = append(lines, encodeIndented(item, depth+1))
			} else {
				lines = append(lines, fmt.Sprintf("%s[%d]: %s", indent, i, legacyScalar(item)))
			}
		}
		return strings.Join(lines, "\n")
	default:
		return indent + legacyScalar(v)
	}
}

// legacyScalar keeps the capitalized literal spellings of the original
// flat converter.
func legacyScalar(v models.Value) string {
	switch v.Kind {
	case models.KindNull:
		return "None"
	case models.KindBool:
		if v.Bool {
			return "True"
		}
		return "False"
	case models.KindInt, models.KindFloat:
		return v.NumberText()
	case models.KindString:
		return v.Str
	}
	return v.CompactText()
}
