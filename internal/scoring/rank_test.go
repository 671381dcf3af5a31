package scoring_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/internal/scoring"
)

func intp(v int) *int { return &v }

func item(ordinal int, combined *int) domain.RankedItem {
	return domain.RankedItem{
		Candidate: domain.CandidateRecord{ID: string(rune('a' + ordinal)), Ordinal: ordinal},
		Score:     domain.ScoreResult{CombinedScore: combined},
	}
}

func TestCombine_Average(t *testing.T) {
	t.Parallel()
	// 80/60 and 60/80 land on the same combined score.
	assert.Equal(t, 70, *scoring.Combine(80, intp(60)))
	assert.Equal(t, 70, *scoring.Combine(60, intp(80)))
	// round half up: (75+80)/2 = 77.5 -> 78
	assert.Equal(t, 78, *scoring.Combine(75, intp(80)))
}

func TestCombine_NilAIScore(t *testing.T) {
	t.Parallel()
	assert.Nil(t, scoring.Combine(55, nil))
}

func TestTierFor_Thresholds(t *testing.T) {
	t.Parallel()
	assert.Equal(t, scoring.TierTop, scoring.TierFor(intp(80)))
	assert.Equal(t, scoring.TierStrong, scoring.TierFor(intp(60)))
	assert.Equal(t, scoring.TierStrong, scoring.TierFor(intp(79)))
	assert.Equal(t, scoring.TierPossible, scoring.TierFor(intp(40)))
	assert.Equal(t, scoring.TierWeak, scoring.TierFor(intp(39)))
	assert.Equal(t, scoring.TierPending, scoring.TierFor(nil))
}

func TestRank_DescendingWithOrdinalTieBreak(t *testing.T) {
	t.Parallel()
	items := []domain.RankedItem{
		item(0, intp(50)),
		item(1, intp(90)),
		item(2, intp(50)),
		item(3, intp(70)),
	}
	ranked := scoring.Rank(items)
	require.Len(t, ranked, 4)
	assert.Equal(t, 1, ranked[0].Candidate.Ordinal)
	assert.Equal(t, 3, ranked[1].Candidate.Ordinal)
	// Tie on 50: earlier CSV row wins.
	assert.Equal(t, 0, ranked[2].Candidate.Ordinal)
	assert.Equal(t, 2, ranked[3].Candidate.Ordinal)
}

func TestRank_NilScoresSortLast(t *testing.T) {
	t.Parallel()
	items := []domain.RankedItem{
		item(0, nil),
		item(1, intp(10)),
		item(2, nil),
	}
	ranked := scoring.Rank(items)
	assert.Equal(t, 1, ranked[0].Candidate.Ordinal)
	assert.Equal(t, 0, ranked[1].Candidate.Ordinal)
	assert.Equal(t, 2, ranked[2].Candidate.Ordinal)
}

func TestRank_IndependentOfInputOrder(t *testing.T) {
	t.Parallel()
	a := []domain.RankedItem{item(0, intp(30)), item(1, intp(80)), item(2, intp(55))}
	b := []domain.RankedItem{item(2, intp(55)), item(0, intp(30)), item(1, intp(80))}
	ra, rb := scoring.Rank(a), scoring.Rank(b)
	require.Len(t, rb, len(ra))
	for i := range ra {
		assert.Equal(t, ra[i].Candidate.Ordinal, rb[i].Candidate.Ordinal)
	}
}

func TestRank_DoesNotMutateInput(t *testing.T) {
	t.Parallel()
	items := []domain.RankedItem{item(0, intp(10)), item(1, intp(90))}
	_ = scoring.Rank(items)
	assert.Equal(t, 0, items[0].Candidate.Ordinal)
}
