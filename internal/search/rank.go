package search

import (
	"sort"
	"time"
)

// Weights are the per-field term-frequency multipliers. Content carries
// roughly double the weight of thinking text, mirroring the two-tier
// treatment used for highlighting.
type Weights struct {
	Content  float64
	Thinking float64
}

// DefaultWeights weight content matches at twice thinking matches.
func DefaultWeights() Weights {
	return Weights{Content: 2.0, Thinking: 1.0}
}

// Score computes the relevance of one candidate document as a weighted sum
// of per-field term frequencies.
func (w Weights) Score(m *DocMatch) float64 {
	return w.Content*float64(m.ContentHits) + w.Thinking*float64(m.ThinkingHits)
}

// ranked pairs a scored candidate with the message metadata needed for
// ordering and result assembly.
type ranked struct {
	match     *DocMatch
	score     float64
	createdAt time.Time
}

// sortRanked orders candidates by score descending, then creation time
// descending (newest first), then document id ascending. The id tiebreak
// makes the ordering total, so repeated searches over an unchanged index
// return identical orderings.
func sortRanked(rs []ranked) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].score != rs[j].score {
			return rs[i].score > rs[j].score
		}
		if !rs[i].createdAt.Equal(rs[j].createdAt) {
			return rs[i].createdAt.After(rs[j].createdAt)
		}
		return rs[i].match.DocID < rs[j].match.DocID
	})
}
