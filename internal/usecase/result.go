package usecase

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/internal/scoring"
)

// ResultService provides read access to run status, ranked results, candidate
// profiles, and CSV export. It assembles API response envelopes including
// ETag logic and error mapping.
type ResultService struct {
	Runs       domain.RunRepository
	Candidates domain.CandidateRepository
	Scores     domain.ScoreRepository
	// StaleAfter bounds how long a queued/processing run may sit before the
	// status endpoint surfaces it as failed.
	StaleAfter time.Duration
}

// NewResultService constructs a ResultService with the given repositories.
func NewResultService(r domain.RunRepository, c domain.CandidateRepository, s domain.ScoreRepository, staleAfter time.Duration) ResultService {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return ResultService{Runs: r, Candidates: c, Scores: s, StaleAfter: staleAfter}
}

// Status returns the HTTP status code, ProcessingStatus snapshot, and ETag
// for the run. It implements conditional responses (304 Not Modified) based
// on If-None-Match.
func (s ResultService) Status(ctx domain.Context, id, ifNoneMatch string) (int, map[string]any, string, error) {
	run, err := s.Runs.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return http.StatusNotFound, nil, "", fmt.Errorf("%w: run not found", domain.ErrNotFound)
		}
		return http.StatusInternalServerError, nil, "", err
	}

	// Stale policy: a run stuck in queued/processing past the deadline is
	// surfaced as failed rather than polling forever.
	now := time.Now().UTC()
	if (run.Status == domain.RunQueued && now.Sub(run.CreatedAt) > s.StaleAfter) ||
		(run.Status == domain.RunProcessing && now.Sub(run.UpdatedAt) > s.StaleAfter) {
		msg := "timeout: run exceeded processing deadline"
		_ = s.Runs.UpdateStatus(ctx, id, domain.RunFailed, &msg)
		run.Status = domain.RunFailed
		run.Error = msg
	}

	snap := statusSnapshot(run)
	m := map[string]any{
		"run_id":           snap.RunID,
		"status":           snap.Status,
		"phase":            snap.Phase,
		"total":            snap.Total,
		"skipped_rows":     snap.SkippedRows,
		"extracted_count":  snap.ExtractedCount,
		"scored_count":     snap.ScoredCount,
		"failed_count":     snap.FailedCount,
		"progress_percent": snap.ProgressPercent,
	}
	if run.Status == domain.RunFailed && run.Error != "" {
		m["error"] = map[string]any{"message": run.Error}
	}
	etag := makeETag(m)
	if etag == ifNoneMatch {
		return http.StatusNotModified, nil, etag, nil
	}
	return http.StatusOK, m, etag, nil
}

// statusSnapshot derives the pollable snapshot from the run row. Counters are
// monotonic: extracted and scored never exceed total, scored never exceeds
// extracted.
func statusSnapshot(run domain.Run) domain.ProcessingStatus {
	phase := "ingested"
	switch run.Status {
	case domain.RunProcessing:
		if run.ScoredCount > 0 {
			phase = "scoring"
		} else {
			phase = "extracting"
		}
	case domain.RunCompleted:
		phase = "done"
	case domain.RunFailed:
		phase = "failed"
	case domain.RunCanceled:
		phase = "canceled"
	}
	progress := 0.0
	if run.Total > 0 {
		progress = float64(run.ScoredCount+run.FailedCount) / float64(run.Total) * 100
	}
	status := string(run.Status)
	if run.Status == domain.RunCompleted && run.FailedCount > 0 {
		status = fmt.Sprintf("completed_with_%d_failures", run.FailedCount)
	}
	return domain.ProcessingStatus{
		RunID:           run.ID,
		Status:          status,
		Phase:           phase,
		Total:           run.Total,
		SkippedRows:     run.SkippedRows,
		ExtractedCount:  run.ExtractedCount,
		ScoredCount:     run.ScoredCount,
		FailedCount:     run.FailedCount,
		ProgressPercent: progress,
	}
}

// Ranked returns the run's ranked list, partial or complete. Candidates whose
// extraction failed carry no score and are excluded from the ranking but
// reported in excluded_count.
func (s ResultService) Ranked(ctx domain.Context, id string) (map[string]any, error) {
	run, err := s.Runs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	items, excluded, err := s.rankedItems(ctx, id)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(items))
	for rank, it := range items {
		e := map[string]any{
			"rank":         rank + 1,
			"candidate_id": it.Candidate.ID,
			"ordinal":      it.Candidate.Ordinal,
			"name":         it.Candidate.Name,
			"email":        it.Candidate.Email,
			"algo_score":   it.Score.AlgoScore,
			"ai_score":     it.Score.AIScore,
			// nil while pending or permanently unavailable; never defaulted
			"combined_score": it.Score.CombinedScore,
			"tier":           it.Score.Tier,
			"reasoning":      it.Score.Reasoning,
			"pros":           it.Score.Pros,
			"cons":           it.Score.Cons,
			"complete":       it.Score.Complete(),
		}
		out = append(out, e)
	}
	return map[string]any{
		"run_id":         id,
		"status":         string(run.Status),
		"partial":        run.Status == domain.RunQueued || run.Status == domain.RunProcessing,
		"excluded_count": excluded,
		"results":        out,
	}, nil
}

// Candidate returns the full stored profile for one candidate of a run.
func (s ResultService) Candidate(ctx domain.Context, runID, candidateID string) (map[string]any, error) {
	c, err := s.Candidates.Get(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if c.RunID != runID {
		return nil, fmt.Errorf("%w: candidate not in run", domain.ErrNotFound)
	}
	m := map[string]any{
		"candidate_id": c.ID,
		"run_id":       c.RunID,
		"ordinal":      c.Ordinal,
		"name":         c.Name,
		"email":        c.Email,
		"status":       string(c.Status),
		"columns":      c.Columns,
	}
	if c.Extraction != nil {
		m["extraction"] = c.Extraction
	}
	scores, err := s.Scores.ListByRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	for _, sc := range scores {
		if sc.CandidateID == c.ID {
			m["score"] = map[string]any{
				"algo_score":          sc.AlgoScore,
				"ai_score":            sc.AIScore,
				"combined_score":      sc.CombinedScore,
				"tier":                sc.Tier,
				"reasoning":           sc.Reasoning,
				"pros":                sc.Pros,
				"cons":                sc.Cons,
				"interview_questions": sc.InterviewQuestions,
			}
			break
		}
	}
	return m, nil
}

// ExportCSV writes the ranked list as a flat table. Every original CSV column
// is preserved verbatim so a re-ingest round-trips the input values; score
// columns are appended after the originals.
func (s ResultService) ExportCSV(ctx domain.Context, id string, w io.Writer) error {
	if _, err := s.Runs.Get(ctx, id); err != nil {
		return err
	}
	items, _, err := s.rankedItems(ctx, id)
	if err != nil {
		return err
	}

	// Stable column order: sorted original columns, then score columns.
	colSet := map[string]struct{}{}
	for _, it := range items {
		for k := range it.Candidate.Columns {
			colSet[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(colSet))
	for k := range colSet {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	cw := csv.NewWriter(w)
	header := append(append([]string{}, cols...), "rank", "algo_score", "ai_score", "combined_score", "tier")
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("op=export.header: %w", err)
	}
	for rank, it := range items {
		row := make([]string, 0, len(header))
		for _, c := range cols {
			row = append(row, it.Candidate.Columns[c])
		}
		row = append(row, strconv.Itoa(rank+1), strconv.Itoa(it.Score.AlgoScore),
			intPtrString(it.Score.AIScore), intPtrString(it.Score.CombinedScore), it.Score.Tier)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("op=export.row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// rankedItems joins candidates with their scores and ranks them. The returned
// excluded count covers candidates without any score (extraction failed or
// not yet processed).
func (s ResultService) rankedItems(ctx domain.Context, runID string) ([]domain.RankedItem, int, error) {
	cands, err := s.Candidates.ListByRun(ctx, runID)
	if err != nil {
		return nil, 0, err
	}
	scores, err := s.Scores.ListByRun(ctx, runID)
	if err != nil {
		return nil, 0, err
	}
	byCandidate := make(map[string]domain.ScoreResult, len(scores))
	for _, sc := range scores {
		byCandidate[sc.CandidateID] = sc
	}
	items := make([]domain.RankedItem, 0, len(cands))
	excluded := 0
	for _, c := range cands {
		sc, ok := byCandidate[c.ID]
		if !ok {
			excluded++
			continue
		}
		items = append(items, domain.RankedItem{Candidate: c, Score: sc})
	}
	return scoring.Rank(items), excluded, nil
}

func intPtrString(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func makeETag(v any) string {
	b, _ := json.Marshal(v)
	s := sha256.Sum256(b)
	return hex.EncodeToString(s[:])
}
