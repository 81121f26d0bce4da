package formats

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/tokenfusion/tokenfusion/internal/errors"
	"github.com/tokenfusion/tokenfusion/internal/models"
)

// csvCodec maps between CSV tables and the value model. The shape of the
// value picks the table layout: a sequence of mappings becomes header plus
// one row each, a single mapping becomes header plus one row, and
// everything else goes under a single "value" column.
type csvCodec struct{}

func (csvCodec) Encode(v models.Value) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)

	switch {
	case v.Kind == models.KindSequence && allMappings(v):
		header := v.Seq[0].Keys()
		if err := w.Write(header); err != nil {
			return "", errors.NewConversionError("failed to write CSV header", err)
		}
		allowed := make(map[string]struct{}, len(header))
		for _, key := range header {
			allowed[key] = struct{}{}
		}
		for i, item := range v.Seq {
			for _, m := range item.Members {
				if _, ok := allowed[m.Key]; !ok {
					return "", errors.NewConversionError(
						fmt.Sprintf("row %d has key %q which is not in the header", i+1, m.Key), nil)
				}
			}
			row := make([]string, len(header))
			for j, key := range header {
				if cell, ok := item.Get(key); ok {
					row[j] = formatCSVCell(cell)
				}
			}
			if err := w.Write(row); err != nil {
				return "", errors.NewConversionError("failed to write CSV row", err)
			}
		}

	case v.Kind == models.KindSequence:
		if err := w.Write([]string{"value"}); err != nil {
			return "", errors.NewConversionError("failed to write CSV header", err)
		}
		for _, item := range v.Seq {
			if err := w.Write([]string{formatCSVCell(item)}); err != nil {
				return "", errors.NewConversionError("failed to write CSV row", err)
			}
		}

	case v.Kind == models.KindMapping:
		if len(v.Members) == 0 {
			return "", nil
		}
		row := make([]string, len(v.Members))
		for i, m := range v.Members {
			row[i] = formatCSVCell(m.Value)
		}
		if err := w.Write(v.Keys()); err != nil {
			return "", errors.NewConversionError("failed to write CSV header", err)
		}
		if err := w.Write(row); err != nil {
			return "", errors.NewConversionError("failed to write CSV row", err)
		}

	default:
		if err := w.Write([]string{"value"}); err != nil {
			return "", errors.NewConversionError("failed to write CSV header", err)
		}
		if err := w.Write([]string{formatCSVCell(v)}); err != nil {
			return "", errors.NewConversionError("failed to write CSV row", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return "", errors.NewConversionError("failed to write CSV", err)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func allMappings(v models.Value) bool {
	if len(v.Seq) == 0 {
		return false
	}
	for _, item := range v.Seq {
		if item.Kind != models.KindMapping {
			return false
		}
	}
	return true
}

// formatCSVCell uses the compact scalar texture so cells survive a round
// trip: null is an empty cell, booleans are lowercase, containers collapse
// to single-line JSON (and come back as strings).
func formatCSVCell(v models.Value) string {
	switch v.Kind {
	case models.KindNull:
		return ""
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

func (csvCodec) Decode(text string) (models.Value, error) {
	if strings.TrimSpace(text) == "" {
		return models.MappingValue(), nil
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return models.Value{}, errors.NewDecodeError(fmt.Sprintf("invalid CSV: %v", err), err)
	}
	if len(records) == 0 {
		return models.MappingValue(), nil
	}

	header := records[0]
	rows := records[1:]
	if len(rows) == 0 {
		return models.MappingValue(), nil
	}

	objects := make([]models.Value, 0, len(rows))
	for _, row := range rows {
		obj := models.MappingValue()
		for i, key := range header {
			if i < len(row) {
				obj.Set(key, parseCSVCell(row[i]))
			} else {
				// Short rows leave their remaining columns null.
				obj.Set(key, models.Null())
			}
		}
		objects = append(objects, obj)
	}

	if len(objects) == 1 {
		return objects[0], nil
	}
	return models.SequenceValue(objects...), nil
}

// parseCSVCell types a cell: empty is null, numbers split on the decimal
// point, booleans are case-insensitive, anything else stays text. Floats
// accept exponents here because the decimal point already marked the cell
// numeric.
func parseCSVCell(value string) models.Value {
	if value == "" {
		return models.Null()
	}
	trimmed := strings.TrimSpace(value)
	if strings.Contains(value, ".") {
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
			return models.FloatValue(f)
		}
	} else if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return models.IntValue(n)
	}
	switch strings.ToLower(value) {
	case "true":
		return models.BoolValue(true)
	case "false":
		return models.BoolValue(false)
	}
	return models.StringValue(value)
}
