// Package convert runs the conversion pipeline: detect the input format,
// decode to the common value model, encode into every supported format.
package convert

import (
	"fmt"
	"strings"

	"github.com/tokenfusion/tokenfusion/internal/detect"
	"github.com/tokenfusion/tokenfusion/internal/errors"
	"github.com/tokenfusion/tokenfusion/internal/formats"
	"github.com/tokenfusion/tokenfusion/internal/models"
)

// Stage names a step of the pipeline. A Result records the terminal stage,
// StageDone or StageFailed; the error type tells a failed decode from a
// failed encode.
type Stage string

const (
	StageIdle      Stage = "idle"
	StageDetecting Stage = "detecting"
	StageDecoding  Stage = "decoding"
	StageEncoding  Stage = "encoding"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
)

// Warning records a disagreement between the declared format and what the
// detector saw. It rides along with failures too, so an error response can
// still hint at the likely fix.
type Warning struct {
	DetectedFormat formats.Format `json:"detected_format"`
	ExpectedFormat formats.Format `json:"expected_format"`
	Message        string         `json:"message"`
}

func newWarning(detected, expected formats.Format) *Warning {
	return &Warning{
		DetectedFormat: detected,
		ExpectedFormat: expected,
		Message: fmt.Sprintf("Detected %s format. Did you mean to paste this in the %s box?",
			detected.Label(), detected.Label()),
	}
}

// Result is a completed fan-out. Texts holds the rendering in every format,
// including a re-encode of the source format (normalized, not echoed).
//
// On failure All still returns a Result when the pipeline got past
// validation, carrying the warning and terminal stage so callers can
// surface both alongside the error.
type Result struct {
	Texts    map[formats.Format]string
	Value    models.Value
	Detected formats.Format
	Warning  *Warning
	Stage    Stage
}

// All converts content into every supported format. from names the format
// the caller believes the content is in. When the detector disagrees the
// Result carries a Warning, and decoding tries the detected format first
// with the declared one as fallback. There are no partial results: any
// encode failure fails the whole conversion.
func All(content string, from formats.Format) (*Result, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.NewValidationError("no content provided", errors.ErrEmptyInput)
	}
	if !supported(from) {
		return nil, errors.NewValidationError(
			fmt.Sprintf("invalid format: %s. Must be json, toon, csv, or yaml", from), nil)
	}

	res := &Result{Stage: StageDetecting}
	res.Detected = detect.Detect(content)
	if res.Detected != from && res.Detected != formats.Unknown {
		res.Warning = newWarning(res.Detected, from)
	}

	res.Stage = StageDecoding
	value, err := decode(content, from, res.Warning)
	if err != nil {
		res.Stage = StageFailed
		return res, err
	}
	res.Value = value

	res.Stage = StageEncoding
	texts := make(map[formats.Format]string, len(formats.All()))
	for _, f := range formats.All() {
		text, err := formats.CodecFor(f).Encode(value)
		if err != nil {
			res.Stage = StageFailed
			return res, err
		}
		texts[f] = text
	}

	res.Texts = texts
	res.Stage = StageDone
	return res, nil
}

// To converts content into a single target format over the same pipeline
// as All. The warning is returned even when conversion fails.
func To(content string, from, to formats.Format) (string, *Warning, error) {
	if !supported(to) {
		return "", nil, errors.NewValidationError(
			fmt.Sprintf("invalid format: %s. Must be json, toon, csv, or yaml", to), nil)
	}

	res, err := All(content, from)
	if err != nil {
		var warning *Warning
		if res != nil {
			warning = res.Warning
		}
		return "", warning, err
	}
	return res.Texts[to], res.Warning, nil
}

// decode picks the parse order. A mismatch warning means the detector is
// probably right, so its format goes first and the declared format is the
// fallback. When both fail the error reports the detected attempt: that is
// the parse the content most likely intended.
func decode(content string, declared formats.Format, warning *Warning) (models.Value, error) {
	if warning == nil {
		return formats.CodecFor(declared).Decode(content)
	}

	value, detErr := formats.CodecFor(warning.DetectedFormat).Decode(content)
	if detErr == nil {
		return value, nil
	}
	if value, declErr := formats.CodecFor(declared).Decode(content); declErr == nil {
		return value, nil
	}
	return models.Value{}, errors.NewDecodeError("could not convert content", detErr)
}

func supported(f formats.Format) bool {
	for _, s := range formats.All() {
		if f == s {
			return true
		}
	}
	return false
}
