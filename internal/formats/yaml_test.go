package formats

import (
	stderrors "errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokenfusion/tokenfusion/internal/errors"
	"github.com/tokenfusion/tokenfusion/internal/models"
)

func TestYAMLDecodePreservesMemberOrder(t *testing.T) {
	got, err := yamlCodec{}.Decode("zebra: 1\napple: 2\nmango: 3")
	require.NoError(t, err)
	assert.Equal(t, []string{"zebra", "apple", "mango"}, got.Keys())
}

func TestYAMLDecodeScalarTyping(t *testing.T) {
	got, err := yamlCodec{}.Decode(`
count: 30
ratio: 30.0
hexish: 0x1f
flag: true
off: false
gone: null
tilde: ~
text: hello
numText: "30"
date: 2024-01-15
`)
	require.NoError(t, err)

	count, _ := got.Get("count")
	assert.Equal(t, models.KindInt, count.Kind)
	assert.Equal(t, int64(30), count.Int)

	ratio, _ := got.Get("ratio")
	assert.Equal(t, models.KindFloat, ratio.Kind)
	assert.Equal(t, 30.0, ratio.Float)

	hexish, _ := got.Get("hexish")
	assert.Equal(t, models.KindInt, hexish.Kind)
	assert.Equal(t, int64(31), hexish.Int)

	flag, _ := got.Get("flag")
	assert.True(t, flag.Bool)

	off, _ := got.Get("off")
	assert.Equal(t, models.KindBool, off.Kind)
	assert.False(t, off.Bool)

	gone, _ := got.Get("gone")
	assert.Equal(t, models.KindNull, gone.Kind)

	tilde, _ := got.Get("tilde")
	assert.Equal(t, models.KindNull, tilde.Kind)

	text, _ := got.Get("text")
	assert.Equal(t, models.StringValue("hello"), text)

	numText, _ := got.Get("numText")
	assert.Equal(t, models.KindString, numText.Kind, "quoting pins the scalar as text")

	date, _ := got.Get("date")
	assert.Equal(t, models.KindString, date.Kind, "timestamps stay text in the value model")
	assert.Equal(t, "2024-01-15", date.Str)
}

func TestYAMLDecodeNonFiniteFloats(t *testing.T) {
	got, err := yamlCodec{}.Decode("a: .nan\nb: .inf\nc: -.inf")
	require.NoError(t, err)

	a, _ := got.Get("a")
	assert.True(t, math.IsNaN(a.Float))
	b, _ := got.Get("b")
	assert.True(t, math.IsInf(b.Float, 1))
	c, _ := got.Get("c")
	assert.True(t, math.IsInf(c.Float, -1))
}

func TestYAMLDecodeNestedBlocks(t *testing.T) {
	got, err := yamlCodec{}.Decode(`
server:
  host: localhost
  ports:
    - 8080
    - 8081
`)
	require.NoError(t, err)

	server, ok := got.Get("server")
	require.True(t, ok)
	host, _ := server.Get("host")
	assert.Equal(t, "localhost", host.Str)

	ports, _ := server.Get("ports")
	require.Equal(t, models.KindSequence, ports.Kind)
	require.Len(t, ports.Seq, 2)
	assert.Equal(t, int64(8080), ports.Seq[0].Int)
}

func TestYAMLDecodeAnchorsAndAliases(t *testing.T) {
	got, err := yamlCodec{}.Decode(`
base: &b
  x: 1
copy: *b
`)
	require.NoError(t, err)

	base, _ := got.Get("base")
	copied, _ := got.Get("copy")
	assert.True(t, base.Equal(copied))
}

func TestYAMLDecodeMergeKeys(t *testing.T) {
	got, err := yamlCodec{}.Decode(`
defaults: &d
  region: us-east-1
  retries: 3
prod:
  <<: *d
  retries: 5
`)
	require.NoError(t, err)

	prod, _ := got.Get("prod")
	region, _ := prod.Get("region")
	assert.Equal(t, "us-east-1", region.Str)
	retries, _ := prod.Get("retries")
	assert.Equal(t, int64(5), retries.Int, "explicit keys beat merged ones")
}

func TestYAMLDecodeDuplicateKeyLastWins(t *testing.T) {
	got, err := yamlCodec{}.Decode("a: 1\nb: 2\na: 3")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, got.Keys())
	a, _ := got.Get("a")
	assert.Equal(t, int64(3), a.Int)
}

func TestYAMLDecodeRejectsMultipleDocuments(t *testing.T) {
	_, err := yamlCodec{}.Decode("a: 1\n---\nb: 2")
	require.Error(t, err)

	var appErr *errors.AppError
	require.True(t, stderrors.As(err, &appErr))
	assert.Equal(t, errors.ErrorTypeDecode, appErr.Type)
	assert.Contains(t, err.Error(), "single YAML document")
}

func TestYAMLDecodeEmptyish(t *testing.T) {
	for _, input := range []string{"", "   ", "# only a comment", "---"} {
		got, err := yamlCodec{}.Decode(input)
		require.NoError(t, err, "input %q", input)
		assert.Equal(t, models.KindMapping, got.Kind, "input %q", input)
		assert.Empty(t, got.Members, "input %q", input)
	}
}

func TestYAMLDecodeInvalidSyntax(t *testing.T) {
	_, err := yamlCodec{}.Decode("a: [unclosed")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid YAML")
}

func TestYAMLEncodeMapping(t *testing.T) {
	v := models.MappingValue(
		models.Member{Key: "name", Value: models.StringValue("Ada")},
		models.Member{Key: "age", Value: models.IntValue(36)},
	)

	got, err := yamlCodec{}.Encode(v)
	require.NoError(t, err)
	assert.Equal(t, "name: Ada\nage: 36", got)
}

func TestYAMLEncodeSequenceOfScalars(t *testing.T) {
	got, err := yamlCodec{}.Encode(models.SequenceValue(
		models.IntValue(1), models.IntValue(2),
	))
	require.NoError(t, err)
	assert.Equal(t, "- 1\n- 2", got)
}

func TestYAMLEncodeWholeFloatKeepsPoint(t *testing.T) {
	got, err := yamlCodec{}.Encode(models.MappingValue(
		models.Member{Key: "f", Value: models.FloatValue(30)},
	))
	require.NoError(t, err)
	assert.Equal(t, "f: 30.0", got)
}

func TestYAMLEncodeQuotesNumericLookingStrings(t *testing.T) {
	got, err := yamlCodec{}.Encode(models.MappingValue(
		models.Member{Key: "s", Value: models.StringValue("30")},
	))
	require.NoError(t, err)
	assert.Equal(t, `s: "30"`, got)
}

func TestYAMLEncodeNonFiniteFloats(t *testing.T) {
	got, err := yamlCodec{}.Encode(models.MappingValue(
		models.Member{Key: "a", Value: models.FloatValue(math.NaN())},
		models.Member{Key: "b", Value: models.FloatValue(math.Inf(1))},
		models.Member{Key: "c", Value: models.FloatValue(math.Inf(-1))},
	))
	require.NoError(t, err)
	assert.Equal(t, "a: .nan\nb: .inf\nc: -.inf", got)
}

func TestYAMLRoundTrip(t *testing.T) {
	v := models.MappingValue(
		models.Member{Key: "name", Value: models.StringValue("Grace")},
		models.Member{Key: "score", Value: models.FloatValue(9.5)},
		models.Member{Key: "langs", Value: models.SequenceValue(
			models.StringValue("cobol"),
			models.StringValue("fortran"),
		)},
		models.Member{Key: "meta", Value: models.MappingValue(
			models.Member{Key: "active", Value: models.BoolValue(false)},
			models.Member{Key: "note", Value: models.Null()},
		)},
	)

	encoded, err := yamlCodec{}.Encode(v)
	require.NoError(t, err)

	back, err := yamlCodec{}.Decode(encoded)
	require.NoError(t, err)
	assert.True(t, v.Equal(back), "round trip changed the value:\n%s", encoded)

	again, err := yamlCodec{}.Encode(back)
	require.NoError(t, err)
	assert.Equal(t, encoded, again)
}
