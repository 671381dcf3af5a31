package stub_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentsift/screener/internal/adapter/ai/stub"
)

func TestStub_ExtractionShape(t *testing.T) {
	t.Parallel()
	c := stub.New()
	out, err := c.ChatJSON(context.Background(), "extract resume fields", "worked as a founder in finance", 512)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Contains(t, m, "bio_summary")
	assert.Contains(t, m, "years_experience")
	assert.Equal(t, true, m["sold_to_finance"])
	assert.Equal(t, true, m["is_founder"])
}

func TestStub_ScoreShape(t *testing.T) {
	t.Parallel()
	c := stub.New()
	out, err := c.ChatJSON(context.Background(), `respond with {"ai_score": ...}`, "profile", 512)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	assert.Equal(t, float64(72), m["ai_score"])
	assert.Contains(t, m, "interview_questions")
}

func TestStub_Deterministic(t *testing.T) {
	t.Parallel()
	c := stub.New()
	a, err := c.ChatJSON(context.Background(), "extract", "same input", 512)
	require.NoError(t, err)
	b, err := c.ChatJSON(context.Background(), "extract", "same input", 512)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
