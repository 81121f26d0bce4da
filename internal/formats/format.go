package formats

import (
	"fmt"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/tokenfusion/tokenfusion/internal/errors"
	"github.com/tokenfusion/tokenfusion/internal/models"
)

// Format identifies one of the supported interchange formats.
type Format string

const (
	JSON Format = "json"
	TOON Format = "toon"
	CSV  Format = "csv"
	YAML Format = "yaml"

	// Unknown is the detector's answer when no heuristic matches. It is
	// never accepted by Parse and has no codec.
	Unknown Format = "unknown"
)

// All returns every supported format in canonical order. The order is
// load-bearing: token recommendation ties resolve to the earliest entry.
func All() []Format {
	return []Format{JSON, TOON, CSV, YAML}
}

// Label returns the display spelling used in warnings and table output.
func (f Format) Label() string {
	return strings.ToUpper(string(f))
}

func (f Format) String() string {
	return string(f)
}

// Parse normalizes a user-supplied format name. Unknown names produce a
// validation error, with a fuzzy-matched suggestion when one is close.
func Parse(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case JSON:
		return JSON, nil
	case TOON:
		return TOON, nil
	case CSV:
		return CSV, nil
	case YAML:
		return YAML, nil
	}

	msg := fmt.Sprintf("invalid format: %s. Must be json, toon, csv, or yaml", name)
	names := make([]string, 0, 4)
	for _, f := range All() {
		names = append(names, string(f))
	}
	if matches := fuzzy.Find(strings.ToLower(name), names); len(matches) > 0 {
		msg = fmt.Sprintf("%s (did you mean %q?)", msg, matches[0].Str)
	}
	return "", errors.NewValidationError(msg, nil)
}

// Codec converts between one format's text and the common value model.
type Codec interface {
	Decode(text string) (models.Value, error)
	Encode(v models.Value) (string, error)
}

// CodecFor returns the codec for a format. It panics on an unknown format
// because every Format produced by Parse has one.
func CodecFor(f Format) Codec {
	switch f {
	case JSON:
		return jsonCodec{}
	case TOON:
		return toonCodec{}
	case CSV:
		return csvCodec{}
	case YAML:
		return yamlCodec{}
	}
	panic(fmt.Sprintf("no codec registered for format %q", f))
}
