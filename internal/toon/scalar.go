package toon

import (
	"strconv"
	"strings"

	"github.com/tokenfusion/tokenfusion/internal/models"
)

// FormatScalar renders a non-container value in the compact dialect:
// lowercase null/true/false, canonical number text, strings verbatim with
// no quoting layer. Containers render as their single-line compact text.
func FormatScalar(v models.Value) string {
	switch v.Kind {
	case models.KindNull:
		return "null"
	case models.KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case models.KindInt, models.KindFloat:
		return v.NumberText()
	case models.KindString:
		return v.Str
	}
	return v.CompactText()
}

// ParseScalar turns one TOON field back into a value. Precedence: numeric,
// then boolean, then null, then string fallback. An empty field is null; a
// field of only whitespace is the empty string.
func ParseScalar(s string) models.Value {
	if s == "" {
		return models.Null()
	}
	s = strings.TrimSpace(s)

	if strings.Contains(s, ".") {
		cleaned := strings.NewReplacer(".", "", "-", "").Replace(s)
		if isDigits(cleaned) {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return models.FloatValue(f)
			}
		}
	} else if isDigits(strings.ReplaceAll(s, "-", "")) {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return models.IntValue(n)
		} else if f, err := strconv.ParseFloat(s, 64); err == nil {
			// Out of int64 range, keep the magnitude.
			return models.FloatValue(f)
		}
	}

	switch strings.ToLower(s) {
	case "true":
		return models.BoolValue(true)
	case "false":
		return models.BoolValue(false)
	case "none", "null":
		return models.Null()
	}
	return models.StringValue(s)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
