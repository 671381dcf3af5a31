package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/talentsift/screener/internal/adapter/ai/tokencount"
	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/pkg/textx"
)

// ExtractionSchemaVersion participates in the cache key so that schema changes
// invalidate previously cached responses.
const ExtractionSchemaVersion = "v1"

const extractionSystemPrompt = `You are an expert resume analyst. Extract structured information from the candidate's resume text.

Respond with JSON matching exactly this structure:
{
  "bio_summary": "two sentence professional summary (string)",
  "skills": ["skill", ...] (list of strings),
  "industries": ["industry", ...] (list of strings),
  "years_experience": number of years of professional experience (number),
  "sold_to_finance": whether the candidate has sold into finance buyers (boolean),
  "is_founder": whether the candidate founded a company (boolean),
  "red_flags": ["risk signal such as job hopping or an employment gap", ...] (list of strings)
}

CRITICAL: Respond with ONLY valid JSON. No explanations or markdown.`

// ExtractionService populates the fixed extraction schema from resume text via
// the LLM, validating responses strictly and caching them per candidate.
type ExtractionService struct {
	AI          domain.AIClient
	Cache       domain.ExtractionCache
	Counter     *tokencount.Counter
	Model       string
	MaxAttempts int
	MaxTokens   int
	TokenBudget int
}

// NewExtractionService constructs an ExtractionService.
func NewExtractionService(ai domain.AIClient, cache domain.ExtractionCache, model string, maxAttempts, maxTokens, tokenBudget int) *ExtractionService {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &ExtractionService{
		AI:          ai,
		Cache:       cache,
		Counter:     tokencount.NewCounter(),
		Model:       model,
		MaxAttempts: maxAttempts,
		MaxTokens:   maxTokens,
		TokenBudget: tokenBudget,
	}
}

// Extract returns the structured profile for resumeText. Repeated calls with
// identical input text hit the cache and never reach the provider. Schema
// violations are retried up to MaxAttempts; on exhaustion the error wraps
// domain.ErrSchemaInvalid and the caller marks the candidate
// extraction_failed.
func (s *ExtractionService) Extract(ctx domain.Context, resumeText, jobContext string) (domain.ExtractionResult, error) {
	if textx.IsBlank(resumeText) {
		return domain.ExtractionResult{}, fmt.Errorf("%w: empty resume text", domain.ErrInvalidArgument)
	}
	key := CacheKey("extract", resumeText, ExtractionSchemaVersion)
	if s.Cache != nil {
		if raw, ok, err := s.Cache.Get(ctx, key); err == nil && ok {
			if ex, verr := parseExtraction(raw); verr == nil {
				slog.Debug("extraction cache hit", slog.String("key", key[:12]))
				return ex, nil
			}
			// A cached value that no longer validates is treated as a miss.
		}
	}

	user := fmt.Sprintf("Job context:\n%s\n\nResume:\n%s", jobContext,
		s.Counter.Truncate(resumeText, s.Model, s.TokenBudget))

	var lastErr error
	for attempt := 1; attempt <= s.MaxAttempts; attempt++ {
		raw, err := s.AI.ChatJSON(ctx, extractionSystemPrompt, user, s.MaxTokens)
		if err != nil {
			// Transient provider errors already went through the client's
			// backoff; whatever reaches here is terminal for this attempt.
			return domain.ExtractionResult{}, fmt.Errorf("op=extract.chat: %w", err)
		}
		ex, verr := parseExtraction(raw)
		if verr == nil {
			if s.Cache != nil {
				if cerr := s.Cache.Set(ctx, key, textx.ExtractJSON(raw)); cerr != nil {
					slog.Warn("extraction cache write failed", slog.Any("error", cerr))
				}
			}
			return ex, nil
		}
		lastErr = verr
		slog.Warn("extraction response failed schema validation",
			slog.Int("attempt", attempt),
			slog.Any("error", verr))
	}
	return domain.ExtractionResult{}, fmt.Errorf("%w: extraction after %d attempts: %v", domain.ErrSchemaInvalid, s.MaxAttempts, lastErr)
}

// parseExtraction validates the raw LLM response against the declared schema,
// producing a typed failure rather than a zero-filled result.
func parseExtraction(raw string) (domain.ExtractionResult, error) {
	cleaned := textx.ExtractJSON(raw)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return domain.ExtractionResult{}, fmt.Errorf("%w: not a JSON object: %v", domain.ErrSchemaInvalid, err)
	}
	var ex domain.ExtractionResult
	if err := requireField(fields, "bio_summary", &ex.BioSummary); err != nil {
		return domain.ExtractionResult{}, err
	}
	if err := requireField(fields, "skills", &ex.Skills); err != nil {
		return domain.ExtractionResult{}, err
	}
	if err := requireField(fields, "industries", &ex.Industries); err != nil {
		return domain.ExtractionResult{}, err
	}
	if err := requireField(fields, "years_experience", &ex.YearsExperience); err != nil {
		return domain.ExtractionResult{}, err
	}
	if err := requireField(fields, "sold_to_finance", &ex.SoldToFinance); err != nil {
		return domain.ExtractionResult{}, err
	}
	if err := requireField(fields, "is_founder", &ex.IsFounder); err != nil {
		return domain.ExtractionResult{}, err
	}
	if err := requireField(fields, "red_flags", &ex.RedFlags); err != nil {
		return domain.ExtractionResult{}, err
	}
	if ex.YearsExperience < 0 || ex.YearsExperience > 80 {
		return domain.ExtractionResult{}, fmt.Errorf("%w: years_experience out of range", domain.ErrSchemaInvalid)
	}
	return ex, nil
}

func requireField(fields map[string]json.RawMessage, name string, dst any) error {
	raw, ok := fields[name]
	if !ok {
		return fmt.Errorf("%w: missing field %q", domain.ErrSchemaInvalid, name)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: field %q: %v", domain.ErrSchemaInvalid, name, err)
	}
	return nil
}

// CacheKey derives the stable content hash used to key cached LLM responses.
func CacheKey(kind string, parts ...string) string {
	h := sha256.New()
	h.Write([]byte(kind))
	for _, p := range parts {
		h.Write([]byte{0})
		h.Write([]byte(p))
	}
	return kind + ":" + hex.EncodeToString(h.Sum(nil))
}
