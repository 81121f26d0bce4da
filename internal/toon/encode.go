package toon

import (
	"fmt"
	"strings"

	"github.com/tokenfusion/tokenfusion/internal/models"
)

// Encode renders a value as compact TOON text. A non-empty sequence of
// mappings sharing one non-empty key set becomes the tabular dialect;
// everything else flattens into path-notation lines. Empty containers
// produce no lines and therefore encode to the empty string.
func Encode(v models.Value) string {
	if !v.IsContainer() {
		return FormatScalar(v)
	}
	if isUniformMappingSequence(v) {
		return encodeTabular(v)
	}
	return encodePaths(v)
}

// isUniformMappingSequence reports whether v qualifies for the tabular
// dialect: a non-empty sequence of mappings whose key sets are all equal
// (order-insensitive) and non-empty.
func isUniformMappingSequence(v models.Value) bool {
	if v.Kind != models.KindSequence || len(v.Seq) == 0 {
		return false
	}
	first := v.Seq[0]
	if first.Kind != models.KindMapping || len(first.Members) == 0 {
		return false
	}
	keySet := make(map[string]struct{}, len(first.Members))
	for _, m := range first.Members {
		keySet[m.Key] = struct{}{}
	}
	for _, item := range v.Seq[1:] {
		if item.Kind != models.KindMapping || len(item.Members) != len(keySet) {
			return false
		}
		for _, m := range item.Members {
			if _, ok := keySet[m.Key]; !ok {
				return false
			}
		}
	}
	return true
}

func encodeTabular(v models.Value) string {
	keys := v.Seq[0].Keys()
	var b strings.Builder
	fmt.Fprintf(&b, "[%d]{%s}:", len(v.Seq), strings.Join(keys, ","))
	for _, item := range v.Seq {
		fields := make([]string, len(keys))
		for i, key := range keys {
			cell, _ := item.Get(key)
			fields[i] = formatCell(cell)
		}
		b.WriteString("\n  ")
		b.WriteString(strings.Join(fields, ","))
	}
	return b.String()
}

// formatCell renders one tabular field. Container values collapse to their
// single-line compact text so they survive the top-level comma split.
func formatCell(v models.Value) string {
	if v.IsContainer() {
		return v.CompactText()
	}
	return FormatScalar(v)
}

func encodePaths(v models.Value) string {
	var lines []string
	flatten(v, "", &lines)
	return strings.Join(lines, "\n")
}

// flatten appends one path:value line per scalar leaf. Mapping members
// extend the path with .key (bare key at the root); sequence elements
// extend it with [index].
func flatten(v models.Value, prefix string, lines *[]string) {
	switch v.Kind {
	case models.KindMapping:
		for _, m := range v.Members {
			path := m.Key
			if prefix != "" {
				path = prefix + "." + m.Key
			}
			flatten(m.Value, path, lines)
		}
	case models.KindSequence:
		for i, item := range v.Seq {
			flatten(item, fmt.Sprintf("%s[%d]", prefix, i), lines)
		}
	default:
		if prefix == "" {
			*lines = append(*lines, FormatScalar(v))
		} else {
			*lines = append(*lines, prefix+":"+FormatScalar(v))
		}
	}
}
