package toon

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tokenfusion/tokenfusion/internal/errors"
	"github.com/tokenfusion/tokenfusion/internal/models"
)

// Decode parses TOON text in either dialect into a value. Blank lines are
// ignored; an all-blank document decodes to an empty mapping.
func Decode(text string) (models.Value, error) {
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return models.MappingValue(), nil
	}

	first := strings.TrimSpace(lines[0])
	if strings.HasPrefix(first, "[") && strings.Contains(first, "]{") && strings.HasSuffix(first, ":") {
		return decodeTabular(first, lines[1:])
	}
	return decodePaths(lines)
}

// decodeTabular parses the header-plus-rows dialect. The header's element
// count is advisory; the actual row count wins.
func decodeTabular(header string, rows []string) (models.Value, error) {
	countEnd := strings.Index(header, "]")
	countText := header[1:countEnd]
	if _, err := strconv.Atoi(countText); err != nil {
		return models.Value{}, errors.NewDecodeError(
			fmt.Sprintf("malformed TOON header %q: element count %q is not an integer", header, countText), nil)
	}

	keysStart := strings.Index(header, "{") + 1
	keysEnd := strings.Index(header, "}")
	if keysEnd < keysStart {
		return models.Value{}, errors.NewDecodeError(
			fmt.Sprintf("malformed TOON header %q: missing closing brace", header), nil)
	}
	rawKeys := SplitTopLevel(header[keysStart:keysEnd])
	keys := make([]string, len(rawKeys))
	for i, k := range rawKeys {
		keys[i] = strings.TrimSpace(k)
	}

	result := models.Value{Kind: models.KindSequence, Seq: make([]models.Value, 0, len(rows))}
	for i, line := range rows {
		row := strings.TrimSpace(line)
		// The grammar allows one optional trailing comma per row.
		row = strings.TrimSuffix(row, ",")
		fields := SplitTopLevel(row)
		if len(fields) != len(keys) {
			fields = SplitTopLevelStrict(row)
		}
		if len(fields) != len(keys) {
			return models.Value{}, errors.NewDecodeError(
				fmt.Sprintf("row %d has %d columns but the header declares %d", i+1, len(fields), len(keys)), nil)
		}
		obj := models.MappingValue()
		for j, key := range keys {
			obj.Set(key, ParseScalar(strings.TrimSpace(fields[j])))
		}
		result.Seq = append(result.Seq, obj)
	}
	return result, nil
}

// decodePaths rebuilds a value from path:value lines. The root is a
// mapping unless the first path segment is an index, in which case it is
// a growing sequence.
func decodePaths(lines []string) (models.Value, error) {
	if len(lines) == 1 && !strings.Contains(lines[0], ":") {
		return ParseScalar(lines[0]), nil
	}

	rootMap := models.MappingValue()
	rootSeq := models.SequenceValue()
	isArrayRoot := false

	for n, line := range lines {
		if !strings.Contains(line, ":") {
			// A bare scalar line stands for the whole document.
			return ParseScalar(line), nil
		}
		rawPath, valueText, _ := strings.Cut(line, ":")
		path := strings.TrimSpace(rawPath)
		value := ParseScalar(valueText)

		if strings.HasPrefix(path, "[") {
			if !isArrayRoot && len(rootMap.Members) > 0 {
				return models.Value{}, errors.NewDecodeError(
					fmt.Sprintf("line %d: indexed path %q cannot follow keyed paths at the root", n+1, path), nil)
			}
			isArrayRoot = true

			closeIdx := strings.Index(path, "]")
			if closeIdx < 0 {
				return models.Value{}, errors.NewDecodeError(
					fmt.Sprintf("line %d: unterminated index in path %q", n+1, path), nil)
			}
			idx, err := strconv.Atoi(path[1:closeIdx])
			if err != nil || idx < 0 {
				return models.Value{}, errors.NewDecodeError(
					fmt.Sprintf("line %d: invalid sequence index in path %q", n+1, path), nil)
			}
			remaining := path[closeIdx+1:]

			for len(rootSeq.Seq) <= idx {
				if remaining != "" {
					rootSeq.Seq = append(rootSeq.Seq, placeholderForPath(remaining))
				} else {
					rootSeq.Seq = append(rootSeq.Seq, models.Null())
				}
			}
			if remaining == "" {
				rootSeq.Seq[idx] = value
			} else if err := setNested(&rootSeq.Seq[idx], remaining, value, n+1); err != nil {
				return models.Value{}, err
			}
			continue
		}

		if isArrayRoot {
			return models.Value{}, errors.NewDecodeError(
				fmt.Sprintf("line %d: keyed path %q cannot follow indexed paths at the root", n+1, path), nil)
		}
		if err := setNested(&rootMap, path, value, n+1); err != nil {
			return models.Value{}, err
		}
	}

	if isArrayRoot {
		return rootSeq, nil
	}
	return rootMap, nil
}

// pathPart is one parsed segment of a TOON path: a mapping key or a
// sequence index.
type pathPart struct {
	key   string
	index int
	isIdx bool
}

func parsePath(path string, lineNo int) ([]pathPart, error) {
	var parts []pathPart
	i := 0
	for i < len(path) {
		switch {
		case path[i] == '[':
			end := strings.Index(path[i:], "]")
			if end < 0 {
				return nil, errors.NewDecodeError(
					fmt.Sprintf("line %d: unterminated index in path %q", lineNo, path), nil)
			}
			idxText := path[i+1 : i+end]
			idx, err := strconv.Atoi(idxText)
			if err != nil || idx < 0 {
				return nil, errors.NewDecodeError(
					fmt.Sprintf("line %d: invalid sequence index %q in path %q", lineNo, idxText, path), nil)
			}
			parts = append(parts, pathPart{index: idx, isIdx: true})
			i += end + 1
		case path[i] == '.':
			i++
		default:
			end := i
			for end < len(path) && path[end] != '.' && path[end] != '[' {
				end++
			}
			if key := path[i:end]; key != "" {
				parts = append(parts, pathPart{key: key})
			}
			i = end
		}
	}
	return parts, nil
}

// setNested walks root along path, creating intermediate containers on
// demand, and assigns value at the leaf. Sequences auto-extend with
// placeholders shaped for the following segment (nulls at the leaf).
func setNested(root *models.Value, path string, value models.Value, lineNo int) error {
	parts, err := parsePath(path, lineNo)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return errors.NewDecodeError(fmt.Sprintf("line %d: missing path before the colon", lineNo), nil)
	}

	current := root
	for i := 0; i < len(parts)-1; i++ {
		part := parts[i]
		next := parts[i+1]
		if part.isIdx {
			if err := wantSequence(current, path, lineNo); err != nil {
				return err
			}
			for len(current.Seq) <= part.index {
				current.Seq = append(current.Seq, placeholderForPart(next))
			}
			current = &current.Seq[part.index]
		} else {
			if err := wantMapping(current, path, lineNo); err != nil {
				return err
			}
			child := memberRef(current, part.key)
			if child == nil {
				current.Members = append(current.Members, models.Member{Key: part.key, Value: placeholderForPart(next)})
				child = &current.Members[len(current.Members)-1].Value
			}
			current = child
		}
	}

	last := parts[len(parts)-1]
	if last.isIdx {
		if err := wantSequence(current, path, lineNo); err != nil {
			return err
		}
		for len(current.Seq) <= last.index {
			current.Seq = append(current.Seq, models.Null())
		}
		current.Seq[last.index] = value
		return nil
	}
	if err := wantMapping(current, path, lineNo); err != nil {
		return err
	}
	current.Set(last.key, value)
	return nil
}

// wantSequence coerces an untouched placeholder to a sequence and rejects
// everything else that is not already one.
func wantSequence(v *models.Value, path string, lineNo int) error {
	if v.Kind == models.KindSequence {
		return nil
	}
	if v.Kind == models.KindMapping && len(v.Members) == 0 {
		*v = models.SequenceValue()
		return nil
	}
	return errors.NewDecodeError(
		fmt.Sprintf("line %d: path %q indexes into a %s", lineNo, path, v.Kind), nil)
}

// wantMapping is the mapping counterpart of wantSequence.
func wantMapping(v *models.Value, path string, lineNo int) error {
	if v.Kind == models.KindMapping {
		return nil
	}
	if v.Kind == models.KindSequence && len(v.Seq) == 0 {
		*v = models.MappingValue()
		return nil
	}
	return errors.NewDecodeError(
		fmt.Sprintf("line %d: path %q descends into a %s", lineNo, path, v.Kind), nil)
}

func memberRef(m *models.Value, key string) *models.Value {
	for i := range m.Members {
		if m.Members[i].Key == key {
			return &m.Members[i].Value
		}
	}
	return nil
}

func placeholderForPath(remaining string) models.Value {
	if strings.HasPrefix(remaining, "[") {
		return models.SequenceValue()
	}
	return models.MappingValue()
}

func placeholderForPart(next pathPart) models.Value {
	if next.isIdx {
		return models.SequenceValue()
	}
	return models.MappingValue()
}
