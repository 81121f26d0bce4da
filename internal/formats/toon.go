package formats

import (
	"github.com/tokenfusion/tokenfusion/internal/models"
	"github.com/tokenfusion/tokenfusion/internal/toon"
)

// toonCodec adapts the TOON package to the Codec interface. Encoding
// cannot fail: every value has a compact rendering.
type toonCodec struct{}

func (toonCodec) Decode(text string) (models.Value, error) {
	return toon.Decode(text)
}

func (toonCodec) Encode(v models.Value) (string, error) {
	return toon.Encode(v), nil
}
