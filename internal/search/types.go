// Package search answers nearest-neighbor queries over a built index and
// decides whether the results are confident enough to be used as context.
package search

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Defaults for retrieval.
const (
	// DefaultThreshold is the confidence gate applied to the top-1 score.
	DefaultThreshold = 0.725

	// DefaultContextBudget caps the context block in characters.
	DefaultContextBudget = 6000

	// DefaultK is the number of neighbors requested when k <= 0.
	DefaultK = 8

	// MaxK bounds k for a single query.
	MaxK = 100
)

// NoInformation is printed when no hit passes the confidence gate.
const NoInformation = "No information exists that matches the request."

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// Hit is one retrieved chunk.
type Hit struct {
	Rank  int     `json:"rank"`
	Score float32 `json:"score"`
	ID    uint64  `json:"id"`
	Path  string  `json:"path"`
	Start int     `json:"start"`
	End   int     `json:"end"`
	Lang  string  `json:"lang"`

	// Preview is the stored preview of the chunk.
	Preview string `json:"preview"`

	// Text is the full chunk text when the file still holds it, otherwise
	// the preview.
	Text string `json:"-"`

	// Stale is set when the file changed since it was indexed.
	Stale bool `json:"stale,omitempty"`
}

// Result is the outcome of a query.
type Result struct {
	Query string `json:"query"`
	K     int    `json:"k"`

	// Confident reports whether the top hit passed the threshold.
	Confident bool `json:"confident"`

	// Confidence is the top-1 score, 0 when nothing was found.
	Confidence float32 `json:"confidence"`
	Threshold  float64 `json:"threshold"`

	// Hits are empty unless Confident.
	Hits []Hit `json:"hits"`

	// Context is the budgeted context block, empty unless Confident.
	Context string `json:"context,omitempty"`

	// Summary is "<confidence>% confidence, <n> items" when Confident.
	Summary string `json:"summary,omitempty"`

	// Items is the number of hits that made it into Context.
	Items int `json:"items"`

	// Truncated is set when the context budget cut the block short.
	Truncated bool `json:"truncated,omitempty"`

	Model      string        `json:"model"`
	DurationMs int64         `json:"duration_ms"`
	Duration   time.Duration `json:"-"`
}

// Percent returns the confidence as a whole percentage in [0,100].
func (r *Result) Percent() int {
	return percent(r.Confidence)
}

func percent(score float32) int {
	p := int(math.Round(float64(score) * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Summary formats the one-line summary of a confident result.
func Summary(confidence float32, items int) string {
	return fmt.Sprintf("%d%% confidence, %d items", percent(confidence), items)
}

// Passes reports whether a top-1 score clears threshold.
func Passes(top float32, threshold float64) bool {
	return float64(top) >= threshold
}
