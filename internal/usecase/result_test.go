package usecase_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/internal/scoring"
	"github.com/talentsift/screener/internal/usecase"
)

func seedScoredRun(t *testing.T, runs *fakeRunRepo, cands *fakeCandidateRepo, scores *fakeScoreRepo) string {
	t.Helper()
	ctx := context.Background()
	id, err := runs.Create(ctx, domain.Run{
		Status:         domain.RunCompleted,
		JobDescription: "jd",
		Total:          3,
		ExtractedCount: 2,
		ScoredCount:    2,
		FailedCount:    1,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)

	recs := []domain.CandidateRecord{
		{ID: "c0", RunID: id, Ordinal: 0, Name: "Ada", Email: "ada@example.com", Status: domain.CandidateScored,
			Columns: map[string]string{"name": "Ada", "notes": "vip"}},
		{ID: "c1", RunID: id, Ordinal: 1, Name: "Grace", Status: domain.CandidateScored,
			Columns: map[string]string{"name": "Grace", "notes": ""}},
		{ID: "c2", RunID: id, Ordinal: 2, Name: "Linus", Status: domain.CandidateExtractionFailed,
			Columns: map[string]string{"name": "Linus", "notes": ""}},
	}
	require.NoError(t, cands.CreateBatch(ctx, recs))

	ai0, c0 := 90, 85
	ai1, c1 := 40, 45
	require.NoError(t, scores.UpsertBatch(ctx, []domain.ScoreResult{
		{RunID: id, CandidateID: "c0", AlgoScore: 80, AIScore: &ai0, CombinedScore: &c0, Tier: scoring.TierTop, Reasoning: "strong"},
		{RunID: id, CandidateID: "c1", AlgoScore: 50, AIScore: &ai1, CombinedScore: &c1, Tier: scoring.TierPossible, Reasoning: "ok"},
	}))
	return id
}

func TestStatus_Snapshot(t *testing.T) {
	t.Parallel()
	runs, cands, scores := newFakeRunRepo(), newFakeCandidateRepo(), newFakeScoreRepo()
	id := seedScoredRun(t, runs, cands, scores)
	svc := usecase.NewResultService(runs, cands, scores, time.Minute)

	code, body, etag, err := svc.Status(context.Background(), id, "")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, code)
	assert.NotEmpty(t, etag)
	assert.Equal(t, "completed_with_1_failures", body["status"])
	assert.Equal(t, "done", body["phase"])
	assert.Equal(t, 3, body["total"])
	assert.InDelta(t, 100.0, body["progress_percent"], 0.01)
}

func TestStatus_ETagNotModified(t *testing.T) {
	t.Parallel()
	runs, cands, scores := newFakeRunRepo(), newFakeCandidateRepo(), newFakeScoreRepo()
	id := seedScoredRun(t, runs, cands, scores)
	svc := usecase.NewResultService(runs, cands, scores, time.Minute)

	_, _, etag, err := svc.Status(context.Background(), id, "")
	require.NoError(t, err)
	code, body, _, err := svc.Status(context.Background(), id, etag)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotModified, code)
	assert.Nil(t, body)
}

func TestStatus_NotFound(t *testing.T) {
	t.Parallel()
	svc := usecase.NewResultService(newFakeRunRepo(), newFakeCandidateRepo(), newFakeScoreRepo(), time.Minute)
	_, _, _, err := svc.Status(context.Background(), "missing", "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStatus_StaleQueuedRunFails(t *testing.T) {
	t.Parallel()
	runs := newFakeRunRepo()
	id, err := runs.Create(context.Background(), domain.Run{
		Status:    domain.RunQueued,
		Total:     1,
		CreatedAt: time.Now().UTC().Add(-time.Hour),
		UpdatedAt: time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)
	svc := usecase.NewResultService(runs, newFakeCandidateRepo(), newFakeScoreRepo(), time.Minute)

	_, body, _, err := svc.Status(context.Background(), id, "")
	require.NoError(t, err)
	assert.Equal(t, "failed", body["status"])
	require.Contains(t, body, "error")

	run, _ := runs.Get(context.Background(), id)
	assert.Equal(t, domain.RunFailed, run.Status)
}

func TestRanked_OrderAndShape(t *testing.T) {
	t.Parallel()
	runs, cands, scores := newFakeRunRepo(), newFakeCandidateRepo(), newFakeScoreRepo()
	id := seedScoredRun(t, runs, cands, scores)
	svc := usecase.NewResultService(runs, cands, scores, time.Minute)

	body, err := svc.Ranked(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, false, body["partial"])
	assert.Equal(t, 1, body["excluded_count"])

	results, ok := body["results"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0]["rank"])
	assert.Equal(t, "c0", results[0]["candidate_id"])
	assert.Equal(t, scoring.TierTop, results[0]["tier"])
	assert.Equal(t, true, results[0]["complete"])
	assert.Equal(t, 2, results[1]["rank"])
	assert.Equal(t, "c1", results[1]["candidate_id"])
}

func TestRanked_PartialWhileProcessing(t *testing.T) {
	t.Parallel()
	runs, cands, scores := newFakeRunRepo(), newFakeCandidateRepo(), newFakeScoreRepo()
	id := seedScoredRun(t, runs, cands, scores)
	require.NoError(t, runs.UpdateStatus(context.Background(), id, domain.RunProcessing, nil))
	svc := usecase.NewResultService(runs, cands, scores, time.Minute)

	body, err := svc.Ranked(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, true, body["partial"])
}

func TestCandidate_Profile(t *testing.T) {
	t.Parallel()
	runs, cands, scores := newFakeRunRepo(), newFakeCandidateRepo(), newFakeScoreRepo()
	id := seedScoredRun(t, runs, cands, scores)
	svc := usecase.NewResultService(runs, cands, scores, time.Minute)

	body, err := svc.Candidate(context.Background(), id, "c0")
	require.NoError(t, err)
	assert.Equal(t, "Ada", body["name"])
	cols, ok := body["columns"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "vip", cols["notes"])
	require.Contains(t, body, "score")
}

func TestCandidate_WrongRun(t *testing.T) {
	t.Parallel()
	runs, cands, scores := newFakeRunRepo(), newFakeCandidateRepo(), newFakeScoreRepo()
	_ = seedScoredRun(t, runs, cands, scores)
	svc := usecase.NewResultService(runs, cands, scores, time.Minute)

	_, err := svc.Candidate(context.Background(), "other-run", "c0")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestExportCSV_RoundTripsOriginalColumns(t *testing.T) {
	t.Parallel()
	runs, cands, scores := newFakeRunRepo(), newFakeCandidateRepo(), newFakeScoreRepo()
	id := seedScoredRun(t, runs, cands, scores)
	svc := usecase.NewResultService(runs, cands, scores, time.Minute)

	var buf bytes.Buffer
	require.NoError(t, svc.ExportCSV(context.Background(), id, &buf))
	exported := buf.Bytes()

	rows, err := csv.NewReader(bytes.NewReader(exported)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3) // header + 2 ranked candidates

	header := rows[0]
	assert.Equal(t, []string{"name", "notes", "rank", "algo_score", "ai_score", "combined_score", "tier"}, header)
	assert.Equal(t, []string{"Ada", "vip", "1", "80", "90", "85", scoring.TierTop}, rows[1])
	assert.Equal(t, []string{"Grace", "", "2", "50", "40", "45", scoring.TierPossible}, rows[2])

	// Re-ingesting the export keeps every original column value unchanged.
	recs, skipped, err := usecase.ParseCandidatesCSV(bytes.NewReader(exported))
	require.NoError(t, err)
	assert.Equal(t, 0, skipped)
	require.Len(t, recs, 2)
	assert.Equal(t, "Ada", recs[0].Columns["name"])
	assert.Equal(t, "vip", recs[0].Columns["notes"])
	assert.Equal(t, "Grace", recs[1].Columns["name"])
	assert.Equal(t, "", recs[1].Columns["notes"])
}

func TestExportCSV_UnknownRun(t *testing.T) {
	t.Parallel()
	svc := usecase.NewResultService(newFakeRunRepo(), newFakeCandidateRepo(), newFakeScoreRepo(), time.Minute)

	var buf bytes.Buffer
	err := svc.ExportCSV(context.Background(), "no-such-run", &buf)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, buf.Len())
}
