package search

import (
	"fmt"
	"time"

	"github.com/abelbrown/lookalike/internal/api"
)

// TopKOptions are the result counts offered to the user.
var TopKOptions = []int{5, 10, 20, 30, 40, 50}

// DefaultTopK matches the backend's default.
const DefaultTopK = 5

// DisplayResult is a search match with a display-only confidence score.
type DisplayResult struct {
	api.SearchResult
	Similarity float64
}

// Similarity maps a raw distance d >= 0 to 1/(1+d), which lies in (0,1] and
// strictly decreases as d grows. Negative distances are treated as 0.
func Similarity(d float64) float64 {
	if d < 0 {
		d = 0
	}
	return 1 / (1 + d)
}

// Transform attaches a similarity to every result. Order is preserved
// exactly as received; results are never re-ranked.
func Transform(results []api.SearchResult) []DisplayResult {
	out := make([]DisplayResult, len(results))
	for i, r := range results {
		out[i] = DisplayResult{SearchResult: r, Similarity: Similarity(r.Score)}
	}
	return out
}

// FormatElapsed renders d in seconds with two decimals, e.g. "0.42".
func FormatElapsed(d time.Duration) string {
	return fmt.Sprintf("%.2f", d.Seconds())
}

// Percent renders a similarity as a whole percentage, e.g. "87%".
func Percent(similarity float64) string {
	return fmt.Sprintf("%.0f%%", similarity*100)
}
