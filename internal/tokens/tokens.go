// Package tokens estimates tiktoken token costs for rendered output and
// recommends the cheapest format to paste into an LLM context window.
package tokens

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/tokenfusion/tokenfusion/internal/errors"
	"github.com/tokenfusion/tokenfusion/internal/formats"
)

const (
	// DefaultModel selects the tokenizer table. gpt-4 maps to cl100k_base,
	// which sizes well enough for other modern models too.
	DefaultModel = "gpt-4"

	// DefaultMaxInputTokens is the budget cap applied when none is
	// configured.
	DefaultMaxInputTokens = 180000

	fallbackEncoding = "cl100k_base"
)

// Estimator counts tokens with a lazily-initialized tiktoken encoding.
// Initialization happens once, on first count, so construction is free and
// offline use degrades to an approximation instead of failing. Safe for
// concurrent use.
type Estimator struct {
	model string

	once   sync.Once
	enc    *tiktoken.Tiktoken
	encErr error
}

// NewEstimator returns an estimator for the given model name. An empty
// name selects DefaultModel.
func NewEstimator(model string) *Estimator {
	if model == "" {
		model = DefaultModel
	}
	return &Estimator{model: model}
}

// Model reports the model name the estimator was built with.
func (e *Estimator) Model() string {
	return e.model
}

func (e *Estimator) encoding() (*tiktoken.Tiktoken, error) {
	e.once.Do(func() {
		e.enc, e.encErr = tiktoken.EncodingForModel(e.model)
		if e.encErr != nil {
			e.enc, e.encErr = tiktoken.GetEncoding(fallbackEncoding)
		}
	})
	return e.enc, e.encErr
}

// Count returns the token count for text. Empty text is 0 without touching
// the tokenizer. When no tokenizer table is available (unknown model and a
// failed fallback load) the count degrades to ceil(len/3), a rough
// chars-per-token ratio; counts are advisory, so degrading beats erroring.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	enc, err := e.encoding()
	if err != nil {
		return fallbackCount(text)
	}
	return len(enc.Encode(text, []string{"all"}, nil))
}

func fallbackCount(text string) int {
	return (len(text) + 2) / 3
}

// CountAll counts each format's rendering.
func (e *Estimator) CountAll(texts map[formats.Format]string) map[formats.Format]int {
	counts := make(map[formats.Format]int, len(texts))
	for f, text := range texts {
		counts[f] = e.Count(text)
	}
	return counts
}

// CheckBudget estimates text and rejects it when the estimate exceeds max
// tokens. max <= 0 disables the check. The estimate is returned either way
// so callers can report it.
func (e *Estimator) CheckBudget(text string, max int) (int, error) {
	estimated := e.Count(text)
	if max <= 0 || estimated <= max {
		return estimated, nil
	}
	msg := fmt.Sprintf(
		"input exceeds the maximum token limit\n"+
			"  estimated tokens: %d\n"+
			"  maximum allowed:  %d\n"+
			"  over by:          %d tokens\n\n"+
			"consider:\n"+
			"  - converting to TOON format (more token efficient)\n"+
			"  - reducing the input size\n"+
			"  - using a smaller subset of the data",
		estimated, max, estimated-max)
	return estimated, errors.NewValidationError(msg, errors.ErrOverBudget)
}

// Recommendation names the cheapest format and the evidence behind the
// choice. Field names match the HTTP envelope.
type Recommendation struct {
	Recommended string             `json:"recommended,omitempty"`
	MinTokens   int                `json:"min_tokens"`
	AllCounts   map[string]int     `json:"all_counts"`
	Savings     map[string]float64 `json:"savings,omitempty"`
}

// Recommend picks the format with the fewest tokens. Zero counts mean a
// blank rendering and are skipped. Ties resolve to the earliest format in
// canonical order, so equal counts recommend json over toon. When nothing
// has a positive count the recommendation is empty with min_tokens 0.
//
// Savings reports, per non-json format, the percent saved versus the json
// rendering (one decimal, negative when the format costs more). It is
// omitted when there is no positive json baseline to compare against.
func Recommend(counts map[formats.Format]int) Recommendation {
	rec := Recommendation{AllCounts: make(map[string]int, len(counts))}
	for f, n := range counts {
		rec.AllCounts[string(f)] = n
	}

	for _, f := range orderedKeys(counts) {
		n := counts[f]
		if n <= 0 {
			continue
		}
		if rec.Recommended == "" || n < rec.MinTokens {
			rec.Recommended = string(f)
			rec.MinTokens = n
		}
	}

	if base := counts[formats.JSON]; base > 0 {
		rec.Savings = make(map[string]float64, len(counts)-1)
		for f, n := range counts {
			if f == formats.JSON || n <= 0 {
				continue
			}
			saved := float64(base-n) / float64(base) * 100
			rec.Savings[string(f)] = math.Round(saved*10) / 10
		}
	}
	return rec
}

// orderedKeys lists the count keys with the canonical formats first and any
// foreign keys after, sorted, so tie-breaking stays deterministic.
func orderedKeys(counts map[formats.Format]int) []formats.Format {
	keys := make([]formats.Format, 0, len(counts))
	seen := make(map[formats.Format]bool, len(counts))
	for _, f := range formats.All() {
		if _, ok := counts[f]; ok {
			keys = append(keys, f)
			seen[f] = true
		}
	}
	rest := make([]formats.Format, 0, len(counts))
	for f := range counts {
		if !seen[f] {
			rest = append(rest, f)
		}
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
	return append(keys, rest...)
}
