package formats

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tokenfusion/tokenfusion/internal/errors"
	"github.com/tokenfusion/tokenfusion/internal/models"
)

// yamlCodec round-trips YAML through yaml.Node trees instead of plain maps
// so mapping order is preserved in both directions.
type yamlCodec struct{}

func (yamlCodec) Decode(text string) (models.Value, error) {
	if strings.TrimSpace(text) == "" {
		return models.MappingValue(), nil
	}

	decoder := yaml.NewDecoder(strings.NewReader(text))
	var doc yaml.Node
	if err := decoder.Decode(&doc); err != nil {
		if err == io.EOF {
			// Comment-only input parses to nothing.
			return models.MappingValue(), nil
		}
		return models.Value{}, errors.NewDecodeError(fmt.Sprintf("invalid YAML: %v", err), err)
	}

	var extra yaml.Node
	switch err := decoder.Decode(&extra); err {
	case io.EOF:
	case nil:
		return models.Value{}, errors.NewDecodeError("expected a single YAML document, found more than one", nil)
	default:
		return models.Value{}, errors.NewDecodeError(fmt.Sprintf("invalid YAML: %v", err), err)
	}

	walker := &yamlWalker{visiting: make(map[*yaml.Node]bool)}
	value, err := walker.value(&doc)
	if err != nil {
		return models.Value{}, err
	}
	// A bare null document stands for an absent one.
	if value.Kind == models.KindNull {
		return models.MappingValue(), nil
	}
	return value, nil
}

// yamlWalker converts node trees to values. The visiting set breaks alias
// cycles, which yaml.v3 happily represents.
type yamlWalker struct {
	visiting map[*yaml.Node]bool
}

func (w *yamlWalker) value(n *yaml.Node) (models.Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return models.MappingValue(), nil
		}
		return w.value(n.Content[0])

	case yaml.AliasNode:
		if w.visiting[n.Alias] {
			return models.Value{}, errors.NewDecodeError(
				fmt.Sprintf("YAML alias %q refers to itself", n.Value), nil)
		}
		return w.value(n.Alias)

	case yaml.MappingNode:
		w.visiting[n] = true
		defer delete(w.visiting, n)
		obj := models.MappingValue()
		for i := 0; i+1 < len(n.Content); i += 2 {
			keyNode, valNode := n.Content[i], n.Content[i+1]
			if keyNode.Tag == "!!merge" {
				if err := w.merge(&obj, valNode); err != nil {
					return models.Value{}, err
				}
				continue
			}
			if keyNode.Kind != yaml.ScalarNode {
				return models.Value{}, errors.NewDecodeError(
					fmt.Sprintf("line %d: mapping keys must be scalars", keyNode.Line), nil)
			}
			value, err := w.value(valNode)
			if err != nil {
				return models.Value{}, err
			}
			obj.Set(keyNode.Value, value)
		}
		return obj, nil

	case yaml.SequenceNode:
		w.visiting[n] = true
		defer delete(w.visiting, n)
		seq := models.SequenceValue()
		for _, item := range n.Content {
			value, err := w.value(item)
			if err != nil {
				return models.Value{}, err
			}
			seq.Seq = append(seq.Seq, value)
		}
		return seq, nil

	case yaml.ScalarNode:
		return yamlScalar(n), nil
	}
	return models.Value{}, errors.NewDecodeError("unsupported YAML node", nil)
}

// merge folds `<<: *anchor` entries into obj. Keys already present win,
// matching the YAML merge-key convention.
func (w *yamlWalker) merge(obj *models.Value, n *yaml.Node) error {
	if n.Kind == yaml.SequenceNode {
		for _, item := range n.Content {
			if err := w.merge(obj, item); err != nil {
				return err
			}
		}
		return nil
	}
	value, err := w.value(n)
	if err != nil {
		return err
	}
	if value.Kind != models.KindMapping {
		return errors.NewDecodeError(
			fmt.Sprintf("line %d: merge value must be a mapping", n.Line), nil)
	}
	for _, m := range value.Members {
		if _, ok := obj.Get(m.Key); !ok {
			obj.Members = append(obj.Members, m)
		}
	}
	return nil
}

func yamlScalar(n *yaml.Node) models.Value {
	switch n.Tag {
	case "!!null":
		return models.Null()
	case "!!bool":
		return models.BoolValue(strings.EqualFold(n.Value, "true"))
	case "!!int":
		if i, err := strconv.ParseInt(n.Value, 10, 64); err == nil {
			return models.IntValue(i)
		}
		// Base prefixes like 0x1f and 0o17, then huge literals.
		if i, err := strconv.ParseInt(n.Value, 0, 64); err == nil {
			return models.IntValue(i)
		}
		if f, err := strconv.ParseFloat(n.Value, 64); err == nil {
			return models.FloatValue(f)
		}
		return models.StringValue(n.Value)
	case "!!float":
		switch strings.ToLower(n.Value) {
		case ".nan":
			return models.FloatValue(math.NaN())
		case ".inf", "+.inf":
			return models.FloatValue(math.Inf(1))
		case "-.inf":
			return models.FloatValue(math.Inf(-1))
		}
		if f, err := strconv.ParseFloat(n.Value, 64); err == nil {
			return models.FloatValue(f)
		}
		return models.StringValue(n.Value)
	default:
		// Strings, timestamps, and custom tags all stay text.
		return models.StringValue(n.Value)
	}
}

func (yamlCodec) Encode(v models.Value) (string, error) {
	node, err := yamlNodeFrom(v)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	encoder := yaml.NewEncoder(&b)
	encoder.SetIndent(2)
	if err := encoder.Encode(node); err != nil {
		encoder.Close()
		return "", errors.NewConversionError("failed to encode YAML", err)
	}
	if err := encoder.Close(); err != nil {
		return "", errors.NewConversionError("failed to encode YAML", err)
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func yamlNodeFrom(v models.Value) (*yaml.Node, error) {
	switch v.Kind {
	case models.KindNull:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	case models.KindBool:
		value := "false"
		if v.Bool {
			value = "true"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: value}, nil
	case models.KindInt:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(v.Int, 10)}, nil
	case models.KindFloat:
		value := models.FloatText(v.Float)
		switch {
		case math.IsNaN(v.Float):
			value = ".nan"
		case math.IsInf(v.Float, 1):
			value = ".inf"
		case math.IsInf(v.Float, -1):
			value = "-.inf"
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: value}, nil
	case models.KindString:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.Str}, nil
	case models.KindSequence:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v.Seq {
			child, err := yamlNodeFrom(item)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, child)
		}
		return node, nil
	case models.KindMapping:
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, m := range v.Members {
			child, err := yamlNodeFrom(m.Value)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: m.Key},
				child)
		}
		return node, nil
	}
	return nil, errors.NewConversionError(fmt.Sprintf("cannot encode kind %s as YAML", v.Kind), nil)
}
