// Package tokencount provides the single token-counting helper shared by
// every threshold in the channel and memory pipelines (threshold_a/b,
// digest_max_tokens, reflection/promotion/compaction thresholds, the
// context token budget). Grounded on teradata-labs-loom's use of
// pkoukk/tiktoken-go rather than a length/4 heuristic, since the spec's
// thresholds are meant to track real model token counts.
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once sync.Once
	enc  *tiktoken.Tiktoken
)

// cl100k_base is the encoding used by the Claude-family-adjacent token
// estimates this system needs; it is close enough across providers for
// threshold-gating purposes, which is all these counts are used for.
func encoder() *tiktoken.Tiktoken {
	once.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Falls back to a conservative estimate rather than panicking
			// at startup over a missing encoding file.
			e = nil
		}
		enc = e
	})
	return enc
}

// Count returns the token count of s. Falls back to a chars/4 estimate if
// the tiktoken encoding could not be loaded (e.g. offline without its
// bundled vocabulary), which keeps every threshold comparison directional
// even when degraded.
func Count(s string) int {
	if e := encoder(); e != nil {
		return len(e.Encode(s, nil, nil))
	}
	return (len(s) + 3) / 4
}

// CountAll sums Count over multiple strings.
func CountAll(parts ...string) int {
	total := 0
	for _, p := range parts {
		total += Count(p)
	}
	return total
}
