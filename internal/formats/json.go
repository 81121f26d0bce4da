package formats

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	stderrors "errors"

	"github.com/tokenfusion/tokenfusion/internal/errors"
	"github.com/tokenfusion/tokenfusion/internal/models"
)

// jsonCodec reads and writes JSON through the token stream rather than
// map[string]interface{} so mapping order survives a round trip.
type jsonCodec struct{}

func (jsonCodec) Decode(text string) (models.Value, error) {
	if strings.TrimSpace(text) == "" {
		return models.Value{}, errors.NewValidationError("input is empty or contains only whitespace", errors.ErrEmptyInput)
	}

	decoder := json.NewDecoder(strings.NewReader(text))
	decoder.UseNumber()

	value, err := readJSONValue(decoder)
	if err != nil {
		return models.Value{}, mapJSONError(err)
	}

	// Anything left beyond trailing whitespace means a second document.
	if tok, err := decoder.Token(); err != io.EOF {
		if err != nil {
			return models.Value{}, mapJSONError(err)
		}
		return models.Value{}, errors.NewDecodeError(
			fmt.Sprintf("unexpected %v after the first JSON value", tok), nil)
	}
	return value, nil
}

func readJSONValue(decoder *json.Decoder) (models.Value, error) {
	tok, err := decoder.Token()
	if err != nil {
		return models.Value{}, err
	}
	return jsonValueFromToken(decoder, tok)
}

func jsonValueFromToken(decoder *json.Decoder, tok json.Token) (models.Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		if t == '{' {
			return readJSONMapping(decoder)
		}
		return readJSONSequence(decoder)
	case string:
		return models.StringValue(t), nil
	case json.Number:
		return jsonNumberValue(t), nil
	case bool:
		return models.BoolValue(t), nil
	case nil:
		return models.Null(), nil
	}
	return models.Value{}, fmt.Errorf("unsupported JSON token %v", tok)
}

func readJSONMapping(decoder *json.Decoder) (models.Value, error) {
	obj := models.MappingValue()
	for decoder.More() {
		keyTok, err := decoder.Token()
		if err != nil {
			return models.Value{}, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return models.Value{}, fmt.Errorf("object key %v is not a string", keyTok)
		}
		value, err := readJSONValue(decoder)
		if err != nil {
			return models.Value{}, err
		}
		// A duplicate key keeps its first position but the last value.
		obj.Set(key, value)
	}
	if _, err := decoder.Token(); err != nil { // consume '}'
		return models.Value{}, err
	}
	return obj, nil
}

func readJSONSequence(decoder *json.Decoder) (models.Value, error) {
	seq := models.SequenceValue()
	for decoder.More() {
		value, err := readJSONValue(decoder)
		if err != nil {
			return models.Value{}, err
		}
		seq.Seq = append(seq.Seq, value)
	}
	if _, err := decoder.Token(); err != nil { // consume ']'
		return models.Value{}, err
	}
	return seq, nil
}

// jsonNumberValue keeps integer literals as ints and everything else,
// including out-of-range integers, as floats.
func jsonNumberValue(n json.Number) models.Value {
	text := n.String()
	if !strings.ContainsAny(text, ".eE") {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return models.IntValue(i)
		}
	}
	f, err := n.Float64()
	if err != nil {
		return models.StringValue(text)
	}
	return models.FloatValue(f)
}

func mapJSONError(err error) error {
	if stderrors.Is(err, io.EOF) || stderrors.Is(err, io.ErrUnexpectedEOF) {
		return errors.NewDecodeError("unexpected end of JSON input", err)
	}
	var syntaxErr *json.SyntaxError
	if stderrors.As(err, &syntaxErr) {
		return errors.NewDecodeError(
			fmt.Sprintf("JSON syntax error at offset %d: %s", syntaxErr.Offset, syntaxErr.Error()), err)
	}
	return errors.NewDecodeError("failed to decode JSON", err)
}

func (jsonCodec) Encode(v models.Value) (string, error) {
	var b strings.Builder
	if err := writeJSONValue(&b, v, 0); err != nil {
		return "", err
	}
	return b.String(), nil
}

// writeJSONValue pretty-prints with two-space indentation and mapping
// members in insertion order. Non-ASCII text passes through unescaped.
func writeJSONValue(b *strings.Builder, v models.Value, depth int) error {
	switch v.Kind {
	case models.KindNull:
		b.WriteString("null")
	case models.KindBool:
		if v.Bool {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case models.KindInt:
		b.WriteString(strconv.FormatInt(v.Int, 10))
	case models.KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return errors.NewConversionError(
				fmt.Sprintf("cannot represent %s as JSON", models.FloatText(v.Float)), nil)
		}
		b.WriteString(models.FloatText(v.Float))
	case models.KindString:
		models.WriteQuoted(b, v.Str)
	case models.KindSequence:
		if len(v.Seq) == 0 {
			b.WriteString("[]")
			return nil
		}
		b.WriteString("[\n")
		inner := strings.Repeat("  ", depth+1)
		for i, item := range v.Seq {
			if i > 0 {
				b.WriteString(",\n")
			}
			b.WriteString(inner)
			if err := writeJSONValue(b, item, depth+1); err != nil {
				return err
			}
		}
		b.WriteString("\n")
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString("]")
	case models.KindMapping:
		if len(v.Members) == 0 {
			b.WriteString("{}")
			return nil
		}
		b.WriteString("{\n")
		inner := strings.Repeat("  ", depth+1)
		for i, m := range v.Members {
			if i > 0 {
				b.WriteString(",\n")
			}
			b.WriteString(inner)
			models.WriteQuoted(b, m.Key)
			b.WriteString(": ")
			if err := writeJSONValue(b, m.Value, depth+1); err != nil {
				return err
			}
		}
		b.WriteString("\n")
		b.WriteString(strings.Repeat("  ", depth))
		b.WriteString("}")
	}
	return nil
}
