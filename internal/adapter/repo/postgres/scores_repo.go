package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/talentsift/screener/internal/domain"
)

// ScoreRepo persists and loads candidate scores from PostgreSQL.
type ScoreRepo struct{ Pool PgxPool }

// NewScoreRepo constructs a ScoreRepo with the given pool.
func NewScoreRepo(p PgxPool) *ScoreRepo { return &ScoreRepo{Pool: p} }

// UpsertBatch inserts or updates scores by (run_id, candidate_id) in one
// transaction. Re-writing the same score is a no-op overwrite.
func (r *ScoreRepo) UpsertBatch(ctx domain.Context, scores []domain.ScoreResult) error {
	tracer := otel.Tracer("repo.scores")
	ctx, span := tracer.Start(ctx, "scores.UpsertBatch")
	defer span.End()
	if len(scores) == 0 {
		return nil
	}
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=score.upsert_batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `INSERT INTO scores (run_id, candidate_id, algo_score, ai_score, combined_score, tier, reasoning, pros, cons, interview_questions, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (run_id, candidate_id)
	DO UPDATE SET algo_score=EXCLUDED.algo_score, ai_score=EXCLUDED.ai_score, combined_score=EXCLUDED.combined_score, tier=EXCLUDED.tier, reasoning=EXCLUDED.reasoning, pros=EXCLUDED.pros, cons=EXCLUDED.cons, interview_questions=EXCLUDED.interview_questions`
	now := time.Now().UTC()
	for _, s := range scores {
		pros, err := json.Marshal(s.Pros)
		if err != nil {
			return fmt.Errorf("op=score.upsert_batch: %w", err)
		}
		cons, err := json.Marshal(s.Cons)
		if err != nil {
			return fmt.Errorf("op=score.upsert_batch: %w", err)
		}
		qs, err := json.Marshal(s.InterviewQuestions)
		if err != nil {
			return fmt.Errorf("op=score.upsert_batch: %w", err)
		}
		if _, err := tx.Exec(ctx, q, s.RunID, s.CandidateID, s.AlgoScore, s.AIScore, s.CombinedScore, s.Tier, s.Reasoning, pros, cons, qs, now); err != nil {
			return fmt.Errorf("op=score.upsert_batch: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=score.upsert_batch: %w", err)
	}
	return nil
}

// ListByRun loads all scores of a run.
func (r *ScoreRepo) ListByRun(ctx domain.Context, runID string) ([]domain.ScoreResult, error) {
	tracer := otel.Tracer("repo.scores")
	ctx, span := tracer.Start(ctx, "scores.ListByRun")
	defer span.End()
	q := `SELECT run_id, candidate_id, algo_score, ai_score, combined_score, tier, reasoning, pros, cons, interview_questions, created_at FROM scores WHERE run_id=$1`
	rows, err := r.Pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("op=score.list: %w", err)
	}
	defer rows.Close()
	var out []domain.ScoreResult
	for rows.Next() {
		var s domain.ScoreResult
		var pros, cons, qs []byte
		if err := rows.Scan(&s.RunID, &s.CandidateID, &s.AlgoScore, &s.AIScore, &s.CombinedScore, &s.Tier, &s.Reasoning, &pros, &cons, &qs, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=score.list: %w", err)
		}
		if err := unmarshalStrings(pros, &s.Pros); err != nil {
			return nil, fmt.Errorf("op=score.list: %w", err)
		}
		if err := unmarshalStrings(cons, &s.Cons); err != nil {
			return nil, fmt.Errorf("op=score.list: %w", err)
		}
		if err := unmarshalStrings(qs, &s.InterviewQuestions); err != nil {
			return nil, fmt.Errorf("op=score.list: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=score.list: %w", err)
	}
	return out, nil
}

func unmarshalStrings(b []byte, dst *[]string) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}
