package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/talentsift/screener/internal/adapter/observability"
	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/internal/scoring"
)

// Pipeline executes a scoring run: extraction, algorithmic scoring, and AI
// scoring per candidate, in bounded-size batches with a bounded worker pool.
//
// Concurrency model: candidates within a batch run concurrently, the two LLM
// stages for one candidate run sequentially, and the algorithmic scorer runs
// inline after extraction. Progress counters are the only state shared across
// workers and are advanced with atomic increments. All persistence happens on
// the pipeline goroutine after each batch, so repositories never see
// concurrent writers for a run.
type Pipeline struct {
	Runs       domain.RunRepository
	Candidates domain.CandidateRepository
	Scores     domain.ScoreRepository
	Extractor  *ExtractionService
	AIScorer   *AIScoreService
	Weights    scoring.Weights
	BatchSize  int
	Workers    int
}

// NewPipeline constructs a Pipeline, clamping the worker count to the batch
// size so concurrent outbound LLM calls stay bounded.
func NewPipeline(runs domain.RunRepository, cands domain.CandidateRepository, scores domain.ScoreRepository, ex *ExtractionService, ai *AIScoreService, w scoring.Weights, batchSize, workers int) *Pipeline {
	if batchSize <= 0 {
		batchSize = 5
	}
	if workers <= 0 || workers > batchSize {
		workers = batchSize
	}
	return &Pipeline{
		Runs:       runs,
		Candidates: cands,
		Scores:     scores,
		Extractor:  ex,
		AIScorer:   ai,
		Weights:    w,
		BatchSize:  batchSize,
		Workers:    workers,
	}
}

// outcome is the result of processing one candidate, carried from a worker to
// the aggregating writer.
type outcome struct {
	candidateID string
	status      domain.CandidateStatus
	extraction  *domain.ExtractionResult
	score       *domain.ScoreResult
}

// Run processes every candidate of the run. A failed candidate never aborts
// the batch; the run completes with its failed count unless a run-level error
// (persistence) occurs. Cancellation stops dispatch of new batches while
// in-flight candidates finish.
func (p *Pipeline) Run(ctx context.Context, runID string) error {
	tracer := otel.Tracer("pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()

	run, err := p.Runs.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("op=pipeline.get_run: %w", err)
	}
	if run.Status == domain.RunCanceled {
		slog.Info("run canceled before start", slog.String("run_id", runID))
		return nil
	}
	if err := p.Runs.UpdateStatus(ctx, runID, domain.RunProcessing, nil); err != nil {
		return fmt.Errorf("op=pipeline.mark_processing: %w", err)
	}

	cands, err := p.Candidates.ListByRun(ctx, runID)
	if err != nil {
		_ = p.Runs.UpdateStatus(ctx, runID, domain.RunFailed, strPtr("candidate load failed"))
		return fmt.Errorf("op=pipeline.list_candidates: %w", err)
	}

	var extracted, scored, failed atomic.Int64
	canceled := false

	for start := 0; start < len(cands); start += p.BatchSize {
		if ctx.Err() != nil {
			canceled = true
			break
		}
		// Cancellation signal arrives through the run row; checked before
		// each new batch is dispatched, never mid-batch.
		if cur, gerr := p.Runs.Get(ctx, runID); gerr == nil && cur.Status == domain.RunCanceled {
			canceled = true
			break
		}

		end := start + p.BatchSize
		if end > len(cands) {
			end = len(cands)
		}
		batch := cands[start:end]
		outcomes := make([]outcome, len(batch))

		var wg sync.WaitGroup
		sem := make(chan struct{}, p.Workers)
		for i := range batch {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				outcomes[i] = p.processCandidate(ctx, run, batch[i], &extracted, &scored, &failed)
			}(i)
		}
		wg.Wait()

		if err := p.persistBatch(ctx, runID, outcomes, int(extracted.Load()), int(scored.Load()), int(failed.Load())); err != nil {
			_ = p.Runs.UpdateStatus(ctx, runID, domain.RunFailed, strPtr("result persist failed"))
			return fmt.Errorf("op=pipeline.persist: %w", err)
		}
	}

	if canceled {
		slog.Info("run canceled; dispatched work flushed",
			slog.String("run_id", runID),
			slog.Int64("scored", scored.Load()))
		return nil
	}
	if err := p.Runs.UpdateStatus(ctx, runID, domain.RunCompleted, nil); err != nil {
		return fmt.Errorf("op=pipeline.mark_completed: %w", err)
	}
	observability.CompleteRun()
	slog.Info("run completed",
		slog.String("run_id", runID),
		slog.Int("total", run.Total),
		slog.Int64("scored", scored.Load()),
		slog.Int64("failed", failed.Load()))
	return nil
}

// processCandidate runs extraction, the inline algorithmic scorer, and the AI
// scorer for one candidate. Failures are isolated: the returned outcome marks
// the candidate and the batch continues.
func (p *Pipeline) processCandidate(ctx context.Context, run domain.Run, c domain.CandidateRecord, extracted, scored, failed *atomic.Int64) outcome {
	ex, err := p.Extractor.Extract(ctx, c.ResumeText, run.JobDescription)
	if err != nil {
		failed.Add(1)
		observability.FailCandidate("extraction")
		slog.Warn("extraction failed; candidate excluded from scoring",
			slog.String("run_id", run.ID),
			slog.String("candidate_id", c.ID),
			slog.Any("error", err))
		return outcome{candidateID: c.ID, status: domain.CandidateExtractionFailed}
	}
	extracted.Add(1)

	algo := scoring.AlgoScore(ex, p.Weights)

	sc := domain.ScoreResult{
		RunID:       run.ID,
		CandidateID: c.ID,
		AlgoScore:   algo,
		CreatedAt:   time.Now().UTC(),
	}

	ai, err := p.AIScorer.Score(ctx, ex, run.JobDescription)
	if err != nil {
		// Algo score survives; combined stays nil so partial results remain
		// distinguishable from complete ones.
		failed.Add(1)
		observability.FailCandidate("ai_score")
		sc.Tier = scoring.TierFor(nil)
		slog.Warn("ai scoring failed; candidate kept with algo score only",
			slog.String("run_id", run.ID),
			slog.String("candidate_id", c.ID),
			slog.Any("error", err))
		return outcome{candidateID: c.ID, status: domain.CandidateScoreIncomplete, extraction: &ex, score: &sc}
	}

	aiScore := ai.Score
	sc.AIScore = &aiScore
	sc.CombinedScore = scoring.Combine(algo, &aiScore)
	sc.Tier = scoring.TierFor(sc.CombinedScore)
	sc.Reasoning = ai.Reasoning
	sc.Pros = ai.Pros
	sc.Cons = ai.Cons
	sc.InterviewQuestions = ai.InterviewQuestions

	scored.Add(1)
	observability.ScoreCandidate(*sc.CombinedScore)
	return outcome{candidateID: c.ID, status: domain.CandidateScored, extraction: &ex, score: &sc}
}

// persistBatch writes a batch's candidate updates, scores, and progress
// counters from the single aggregating writer. A write failure is retried
// once, then escalated to a run-level error.
func (p *Pipeline) persistBatch(ctx context.Context, runID string, outcomes []outcome, extracted, scored, failed int) error {
	write := func() error {
		scoresToWrite := make([]domain.ScoreResult, 0, len(outcomes))
		for _, o := range outcomes {
			if err := p.Candidates.UpdateExtraction(ctx, o.candidateID, o.status, o.extraction); err != nil {
				return err
			}
			if o.score != nil {
				scoresToWrite = append(scoresToWrite, *o.score)
			}
		}
		if len(scoresToWrite) > 0 {
			if err := p.Scores.UpsertBatch(ctx, scoresToWrite); err != nil {
				return err
			}
		}
		return p.Runs.UpdateProgress(ctx, runID, extracted, scored, failed)
	}
	if err := write(); err != nil {
		slog.Warn("batch persist failed, retrying once", slog.String("run_id", runID), slog.Any("error", err))
		if err := write(); err != nil {
			return err
		}
	}
	return nil
}

func strPtr(s string) *string { return &s }
