package usecase_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/internal/scoring"
	"github.com/talentsift/screener/internal/usecase"
)

func newPipeline(t *testing.T, ai domain.AIClient, runs *fakeRunRepo, cands *fakeCandidateRepo, scores *fakeScoreRepo) *usecase.Pipeline {
	t.Helper()
	cache := newFakeCache()
	ex := usecase.NewExtractionService(ai, cache, "openai/gpt-4o-mini", 2, 1024, 6000)
	sc := usecase.NewAIScoreService(ai, cache, 2, 1024)
	return usecase.NewPipeline(runs, cands, scores, ex, sc, scoring.DefaultWeights(), 2, 2)
}

func seedRun(t *testing.T, runs *fakeRunRepo, cands *fakeCandidateRepo, n int) string {
	t.Helper()
	id, err := runs.Create(context.Background(), domain.Run{
		Status:         domain.RunQueued,
		JobDescription: "Senior AE, enterprise SaaS",
		Total:          n,
	})
	require.NoError(t, err)
	recs := make([]domain.CandidateRecord, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, domain.CandidateRecord{
			RunID:      id,
			Ordinal:    i,
			Name:       fmt.Sprintf("Candidate %d", i),
			ResumeText: fmt.Sprintf("resume text %d", i),
			Status:     domain.CandidatePending,
		})
	}
	require.NoError(t, cands.CreateBatch(context.Background(), recs))
	return id
}

func TestPipeline_Run_AllScored(t *testing.T) {
	t.Parallel()
	runs, cands, scores := newFakeRunRepo(), newFakeCandidateRepo(), newFakeScoreRepo()
	p := newPipeline(t, &fakeAI{}, runs, cands, scores)
	id := seedRun(t, runs, cands, 5)

	require.NoError(t, p.Run(context.Background(), id))

	run, err := runs.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 5, run.ExtractedCount)
	assert.Equal(t, 5, run.ScoredCount)
	assert.Zero(t, run.FailedCount)

	stored, err := scores.ListByRun(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, stored, 5)
	for _, s := range stored {
		assert.True(t, s.Complete())
		assert.NotNil(t, s.CombinedScore)
		assert.NotEqual(t, scoring.TierPending, s.Tier)
	}
}

func TestPipeline_Run_ExtractionFailureIsolated(t *testing.T) {
	t.Parallel()
	runs, cands, scores := newFakeRunRepo(), newFakeCandidateRepo(), newFakeScoreRepo()
	// Candidate with "resume text 1" never produces valid extraction JSON.
	ai := &fakeAI{respond: func(_ int, sys, user string) (string, error) {
		if !strings.Contains(sys, "ai_score") && strings.Contains(user, "resume text 1") {
			return "garbage", nil
		}
		return defaultResponse(sys), nil
	}}
	p := newPipeline(t, ai, runs, cands, scores)
	id := seedRun(t, runs, cands, 3)

	require.NoError(t, p.Run(context.Background(), id))

	run, _ := runs.Get(context.Background(), id)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 2, run.ExtractedCount)
	assert.Equal(t, 2, run.ScoredCount)
	assert.Equal(t, 1, run.FailedCount)

	// The failed candidate carries no score row at all.
	stored, _ := scores.ListByRun(context.Background(), id)
	assert.Len(t, stored, 2)

	list, _ := cands.ListByRun(context.Background(), id)
	var failedStatus domain.CandidateStatus
	for _, c := range list {
		if c.Ordinal == 1 {
			failedStatus = c.Status
		}
	}
	assert.Equal(t, domain.CandidateExtractionFailed, failedStatus)
}

func TestPipeline_Run_AIScoreFailureKeepsAlgoScore(t *testing.T) {
	t.Parallel()
	runs, cands, scores := newFakeRunRepo(), newFakeCandidateRepo(), newFakeScoreRepo()
	ai := &fakeAI{respond: func(_ int, sys, _ string) (string, error) {
		if strings.Contains(sys, "ai_score") {
			return "not json", nil
		}
		return defaultResponse(sys), nil
	}}
	p := newPipeline(t, ai, runs, cands, scores)
	id := seedRun(t, runs, cands, 2)

	require.NoError(t, p.Run(context.Background(), id))

	run, _ := runs.Get(context.Background(), id)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, 2, run.ExtractedCount)
	assert.Zero(t, run.ScoredCount)
	assert.Equal(t, 2, run.FailedCount)

	stored, _ := scores.ListByRun(context.Background(), id)
	require.Len(t, stored, 2)
	for _, s := range stored {
		assert.False(t, s.Complete())
		assert.Nil(t, s.AIScore)
		assert.Nil(t, s.CombinedScore)
		assert.Positive(t, s.AlgoScore)
		assert.Equal(t, scoring.TierPending, s.Tier)
	}

	list, _ := cands.ListByRun(context.Background(), id)
	for _, c := range list {
		assert.Equal(t, domain.CandidateScoreIncomplete, c.Status)
	}
}

func TestPipeline_Run_CanceledBeforeStart(t *testing.T) {
	t.Parallel()
	runs, cands, scores := newFakeRunRepo(), newFakeCandidateRepo(), newFakeScoreRepo()
	ai := &fakeAI{}
	p := newPipeline(t, ai, runs, cands, scores)
	id := seedRun(t, runs, cands, 2)
	require.NoError(t, runs.UpdateStatus(context.Background(), id, domain.RunCanceled, nil))

	require.NoError(t, p.Run(context.Background(), id))
	run, _ := runs.Get(context.Background(), id)
	assert.Equal(t, domain.RunCanceled, run.Status)
	assert.Zero(t, ai.callCount())
}

func TestPipeline_Run_CancellationStopsNewBatches(t *testing.T) {
	t.Parallel()
	runs, cands, scores := newFakeRunRepo(), newFakeCandidateRepo(), newFakeScoreRepo()
	var id string
	// Cancel the run from inside the first batch; the second batch must not
	// be dispatched.
	ai := &fakeAI{}
	ai.respond = func(_ int, sys, user string) (string, error) {
		_ = runs.UpdateStatus(context.Background(), id, domain.RunCanceled, nil)
		return defaultResponse(sys), nil
	}
	p := newPipeline(t, ai, runs, cands, scores)
	id = seedRun(t, runs, cands, 4)

	require.NoError(t, p.Run(context.Background(), id))

	run, _ := runs.Get(context.Background(), id)
	assert.Equal(t, domain.RunCanceled, run.Status)
	// First batch of 2 candidates = at most 4 LLM calls; second batch none.
	assert.LessOrEqual(t, ai.callCount(), 4)

	// Work dispatched before the signal was flushed.
	stored, _ := scores.ListByRun(context.Background(), id)
	assert.Len(t, stored, 2)
}

func TestPipeline_Run_NotFound(t *testing.T) {
	t.Parallel()
	p := newPipeline(t, &fakeAI{}, newFakeRunRepo(), newFakeCandidateRepo(), newFakeScoreRepo())
	err := p.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestPipeline_Run_RankingIndependentOfCompletionOrder(t *testing.T) {
	t.Parallel()
	runs, cands, scores := newFakeRunRepo(), newFakeCandidateRepo(), newFakeScoreRepo()
	p := newPipeline(t, &fakeAI{}, runs, cands, scores)
	id := seedRun(t, runs, cands, 6)
	require.NoError(t, p.Run(context.Background(), id))

	results := usecase.NewResultService(runs, cands, scores, 0)
	first, err := results.Ranked(context.Background(), id)
	require.NoError(t, err)
	second, err := results.Ranked(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, first["results"], second["results"])
}
