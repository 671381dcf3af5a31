package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/pkg/textx"
)

// AIScoreSchemaVersion participates in the cache key for AI score responses.
const AIScoreSchemaVersion = "v1"

const aiScoreSystemPrompt = `You are an experienced recruiter judging a candidate against job criteria. You are given the candidate's extracted profile as JSON.

Respond with JSON matching exactly this structure:
{
  "ai_score": score from 0 to 100 for fit against the criteria (number),
  "reasoning": "short paragraph explaining the score (string)",
  "pros": ["strength", ...] (list of strings),
  "cons": ["concern", ...] (list of strings),
  "interview_questions": ["question to probe in an interview", ...] (list of strings)
}

CRITICAL: Respond with ONLY valid JSON. No explanations or markdown.`

// AIScore is the qualitative judgement returned by the second LLM call.
// Output is schema-conformant but not byte-stable across runs.
type AIScore struct {
	Score              int
	Reasoning          string
	Pros               []string
	Cons               []string
	InterviewQuestions []string
}

// AIScoreService produces the qualitative 0-100 score for an extracted
// profile. Retry, cache, and failure-isolation policy match the extraction
// stage.
type AIScoreService struct {
	AI          domain.AIClient
	Cache       domain.ExtractionCache
	MaxAttempts int
	MaxTokens   int
}

// NewAIScoreService constructs an AIScoreService.
func NewAIScoreService(ai domain.AIClient, cache domain.ExtractionCache, maxAttempts, maxTokens int) *AIScoreService {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &AIScoreService{AI: ai, Cache: cache, MaxAttempts: maxAttempts, MaxTokens: maxTokens}
}

// Score judges the extracted profile against the job criteria.
func (s *AIScoreService) Score(ctx domain.Context, ex domain.ExtractionResult, criteria string) (AIScore, error) {
	profile, err := json.Marshal(ex)
	if err != nil {
		return AIScore{}, fmt.Errorf("op=aiscore.marshal: %w", err)
	}
	key := CacheKey("aiscore", string(profile), criteria, AIScoreSchemaVersion)
	if s.Cache != nil {
		if raw, ok, cerr := s.Cache.Get(ctx, key); cerr == nil && ok {
			if sc, verr := parseAIScore(raw); verr == nil {
				return sc, nil
			}
		}
	}

	user := fmt.Sprintf("Job criteria:\n%s\n\nCandidate profile:\n%s", criteria, profile)

	var lastErr error
	for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
		raw, err := s.AI.ChatJSON(ctx, aiScoreSystemPrompt, user, s.MaxTokens)
		if err != nil {
			return AIScore{}, fmt.Errorf("op=aiscore.chat: %w", err)
		}
		sc, verr := parseAIScore(raw)
		if verr == nil {
			if s.Cache != nil {
				if cerr := s.Cache.Set(ctx, key, textx.ExtractJSON(raw)); cerr != nil {
					slog.Warn("ai score cache write failed", slog.Any("error", cerr))
				}
			}
			return sc, nil
		}
		lastErr = verr
		slog.Warn("ai score response failed schema validation",
			slog.Int("attempt", attempt),
			slog.Any("error", verr))
	}
	return AIScore{}, fmt.Errorf("%w: ai score after %d attempts: %v", domain.ErrSchemaInvalid, s.MaxAttempts, lastErr)
}

func parseAIScore(raw string) (AIScore, error) {
	cleaned := textx.ExtractJSON(raw)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return AIScore{}, fmt.Errorf("%w: not a JSON object: %v", domain.ErrSchemaInvalid, err)
	}
	var (
		sc    AIScore
		score float64
	)
	if err := requireField(fields, "ai_score", &score); err != nil {
		return AIScore{}, err
	}
	if score < 0 || score > 100 {
		return AIScore{}, fmt.Errorf("%w: ai_score out of range", domain.ErrSchemaInvalid)
	}
	sc.Score = int(math.Round(score))
	if err := requireField(fields, "reasoning", &sc.Reasoning); err != nil {
		return AIScore{}, err
	}
	if err := requireField(fields, "pros", &sc.Pros); err != nil {
		return AIScore{}, err
	}
	if err := requireField(fields, "cons", &sc.Cons); err != nil {
		return AIScore{}, err
	}
	if err := requireField(fields, "interview_questions", &sc.InterviewQuestions); err != nil {
		return AIScore{}, err
	}
	return sc, nil
}
