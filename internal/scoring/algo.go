package scoring

import (
	"math"
	"strings"

	"github.com/talentsift/screener/internal/domain"
)

// AlgoScore computes the deterministic 0-100 rule score for an extracted
// profile. Evaluation order: boolean signal weights, capped per-year
// experience contribution, skill keyword rules, then a flat penalty per red
// flag. The result is clamped to [0, 100]; it can never go negative.
func AlgoScore(ex domain.ExtractionResult, w Weights) int {
	score := 0

	if ex.SoldToFinance {
		score += w.Signals.SoldToFinance
	}
	if ex.IsFounder {
		score += w.Signals.IsFounder
	}

	exp := int(math.Round(ex.YearsExperience * w.Experience.PerYear))
	if w.Experience.Cap > 0 && exp > w.Experience.Cap {
		exp = w.Experience.Cap
	}
	if exp > 0 {
		score += exp
	}

	skills := strings.ToLower(strings.Join(ex.Skills, " "))
	for _, r := range w.SkillRules {
		for _, needle := range r.Any {
			if strings.Contains(skills, strings.ToLower(needle)) {
				score += r.Weight
				break
			}
		}
	}

	score -= w.RedFlagPenalty * len(ex.RedFlags)

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
