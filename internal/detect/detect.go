// Package detect guesses the format of pasted text. The heuristics are
// cheap line-level checks, not full parses, so the answer is advisory:
// callers surface a warning on a mismatch and still try the declared
// format if decoding under the detected one fails.
package detect

import (
	"encoding/json"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tokenfusion/tokenfusion/internal/formats"
)

// Detect inspects text and returns the most likely format. Checks run in
// priority order (json, toon, csv, yaml) because the signatures overlap:
// a TOON tabular header contains commas like CSV, and most CSV parses as
// a YAML scalar. Blank input and unmatched input return formats.Unknown.
func Detect(text string) formats.Format {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return formats.Unknown
	}

	if json.Valid([]byte(trimmed)) {
		return formats.JSON
	}
	if looksLikeTOON(trimmed) {
		return formats.TOON
	}
	if looksLikeCSV(trimmed) {
		return formats.CSV
	}
	if looksLikeYAML(trimmed) {
		return formats.YAML
	}
	return formats.Unknown
}

// looksLikeTOON recognizes both dialects: the tabular header
// "[N]{cols}:" and the path notation "a.b:value" (colon with no space
// after it). A leading "-" means a YAML list item, never TOON.
func looksLikeTOON(content string) bool {
	lines := strings.Split(content, "\n")
	first := strings.TrimSpace(lines[0])

	if strings.HasPrefix(first, "[") && strings.Contains(first, "]{") && strings.HasSuffix(first, ":") {
		return true
	}

	if !strings.Contains(first, ":") || strings.HasPrefix(first, "-") {
		return false
	}

	// Path notation carries dots or index brackets.
	if strings.Contains(first, ".") || strings.Contains(first, "[") {
		return true
	}

	// Compact key:value has no space after the colon. YAML would have one,
	// and a YAML block would indent or bullet its second line.
	_, rest, _ := strings.Cut(first, ":")
	if strings.HasPrefix(rest, " ") {
		return false
	}
	if len(lines) > 1 {
		second := lines[1]
		if strings.HasPrefix(second, "  ") || strings.HasPrefix(strings.TrimSpace(second), "-") {
			return false
		}
	}
	return true
}

// looksLikeCSV wants at least two non-blank lines whose comma counts
// agree with the header's. A single line of prose with commas is not
// enough evidence.
func looksLikeCSV(content string) bool {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return false
	}

	commas := strings.Count(lines[0], ",")
	if commas == 0 {
		return false
	}

	probe := lines[1:]
	if len(probe) > 2 {
		probe = probe[:2]
	}
	for _, line := range probe {
		if strings.Count(line, ",") == commas {
			return true
		}
	}
	return false
}

// looksLikeYAML runs last, so it only needs to separate YAML from plain
// text: the input must parse AND show a YAML surface cue (document
// marker, list bullet, "key: value" with a space, or an indented block).
func looksLikeYAML(content string) bool {
	var probe any
	if err := yaml.Unmarshal([]byte(content), &probe); err != nil {
		return false
	}

	lines := strings.Split(content, "\n")
	first := lines[0]

	if strings.HasPrefix(first, "---") || strings.HasPrefix(first, "-") {
		return true
	}

	if _, rest, found := strings.Cut(first, ":"); found && strings.HasPrefix(rest, " ") {
		// "key: value" on the first line, with more lines following, is
		// YAML whether or not the rest of the block indents. A lone
		// "key: value" line stays unknown.
		if len(lines) > 1 {
			return true
		}
	}

	if len(lines) > 1 {
		second := lines[1]
		if strings.HasPrefix(second, "  ") || strings.HasPrefix(second, "\t") {
			// An indented second line under a TOON tabular header is
			// TOON's business, not ours.
			if !strings.HasPrefix(first, "[") || !strings.Contains(first, "]{") {
				return true
			}
		}
	}
	return false
}
