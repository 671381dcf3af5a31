package scoring

import (
	"math"
	"sort"

	"github.com/talentsift/screener/internal/domain"
)

// Tier labels by combined-score threshold.
const (
	TierTop      = "Top Tier"
	TierStrong   = "Strong"
	TierPossible = "Possible"
	TierWeak     = "Weak"
	TierPending  = "Pending"
)

// Combine computes round((algo+ai)/2). Returns nil when the AI score is
// missing so that partial results stay distinguishable from complete ones.
func Combine(algoScore int, aiScore *int) *int {
	if aiScore == nil {
		return nil
	}
	c := int(math.Round(float64(algoScore+*aiScore) / 2))
	return &c
}

// TierFor maps a combined score to its tier label. A nil score is Pending.
func TierFor(combined *int) string {
	if combined == nil {
		return TierPending
	}
	switch {
	case *combined >= 80:
		return TierTop
	case *combined >= 60:
		return TierStrong
	case *combined >= 40:
		return TierPossible
	default:
		return TierWeak
	}
}

// Rank sorts items descending by combined score with the original CSV ordinal
// as tie-break. Items without a combined score sort after scored items, also
// ordered by ordinal. The sort is stable with respect to input only through
// ordinals, so the outcome never depends on completion order of concurrent
// work.
func Rank(items []domain.RankedItem) []domain.RankedItem {
	out := make([]domain.RankedItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Score.CombinedScore, out[j].Score.CombinedScore
		switch {
		case a != nil && b != nil:
			if *a != *b {
				return *a > *b
			}
		case a == nil && b != nil:
			return false
		case a != nil && b == nil:
			return true
		}
		return out[i].Candidate.Ordinal < out[j].Candidate.Ordinal
	})
	return out
}
