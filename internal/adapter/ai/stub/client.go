// Package stub provides a fast, deterministic AI client for local use when no
// provider key is configured, and for tests.
package stub

import (
	"encoding/json"
	"strings"

	"github.com/talentsift/screener/internal/domain"
)

// Client answers extraction and scoring prompts with fixed, schema-conformant
// JSON. Output is deterministic for identical input.
type Client struct{}

// New constructs a stub Client.
func New() *Client { return &Client{} }

// ChatJSON returns a compact JSON string matching the schema named in the
// system prompt.
func (c *Client) ChatJSON(_ domain.Context, systemPrompt, userPrompt string, _ int) (string, error) {
	if strings.Contains(systemPrompt, "ai_score") {
		payload := map[string]any{
			"ai_score":            72,
			"reasoning":           "Solid relevant experience with some gaps against the stated criteria.",
			"pros":                []string{"Relevant industry background", "Consistent tenure"},
			"cons":                []string{"Limited enterprise exposure"},
			"interview_questions": []string{"Walk me through your largest closed deal."},
		}
		b, _ := json.Marshal(payload)
		return string(b), nil
	}
	payload := map[string]any{
		"bio_summary":      "Experienced professional with a sales background.",
		"skills":           []string{"saas", "pipeline management"},
		"industries":       []string{"software"},
		"years_experience": 6,
		"sold_to_finance":  strings.Contains(strings.ToLower(userPrompt), "finance"),
		"is_founder":       strings.Contains(strings.ToLower(userPrompt), "founder"),
		"red_flags":        []string{},
	}
	b, _ := json.Marshal(payload)
	return string(b), nil
}
