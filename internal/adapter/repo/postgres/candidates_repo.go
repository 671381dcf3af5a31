package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/talentsift/screener/internal/domain"
)

// CandidateRepo persists and loads ingested candidates from PostgreSQL. The
// original CSV cells and the extracted profile are stored as JSONB.
type CandidateRepo struct{ Pool PgxPool }

// NewCandidateRepo constructs a CandidateRepo with the given pool.
func NewCandidateRepo(p PgxPool) *CandidateRepo { return &CandidateRepo{Pool: p} }

// CreateBatch inserts candidates in a single transaction so a run never ends
// up with a partial candidate set.
func (r *CandidateRepo) CreateBatch(ctx domain.Context, cs []domain.CandidateRecord) error {
	tracer := otel.Tracer("repo.candidates")
	ctx, span := tracer.Start(ctx, "candidates.CreateBatch")
	defer span.End()
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=candidate.create_batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `INSERT INTO candidates (id, run_id, ordinal, name, email, resume_text, columns, status, extraction, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	now := time.Now().UTC()
	for i := range cs {
		c := &cs[i]
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		cols, err := json.Marshal(c.Columns)
		if err != nil {
			return fmt.Errorf("op=candidate.create_batch: %w", err)
		}
		if _, err := tx.Exec(ctx, q, c.ID, c.RunID, c.Ordinal, c.Name, c.Email, c.ResumeText, cols, c.Status, nil, now); err != nil {
			return fmt.Errorf("op=candidate.create_batch: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=candidate.create_batch: %w", err)
	}
	return nil
}

const candidateColumns = `id, run_id, ordinal, name, email, resume_text, columns, status, extraction, created_at`

// Get loads a candidate by id.
func (r *CandidateRepo) Get(ctx domain.Context, id string) (domain.CandidateRecord, error) {
	tracer := otel.Tracer("repo.candidates")
	ctx, span := tracer.Start(ctx, "candidates.Get")
	defer span.End()
	q := `SELECT ` + candidateColumns + ` FROM candidates WHERE id=$1`
	c, err := scanCandidate(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.CandidateRecord{}, fmt.Errorf("op=candidate.get: %w", domain.ErrNotFound)
		}
		return domain.CandidateRecord{}, fmt.Errorf("op=candidate.get: %w", err)
	}
	return c, nil
}

// ListByRun loads all candidates of a run ordered by CSV position.
func (r *CandidateRepo) ListByRun(ctx domain.Context, runID string) ([]domain.CandidateRecord, error) {
	tracer := otel.Tracer("repo.candidates")
	ctx, span := tracer.Start(ctx, "candidates.ListByRun")
	defer span.End()
	q := `SELECT ` + candidateColumns + ` FROM candidates WHERE run_id=$1 ORDER BY ordinal`
	rows, err := r.Pool.Query(ctx, q, runID)
	if err != nil {
		return nil, fmt.Errorf("op=candidate.list: %w", err)
	}
	defer rows.Close()
	var out []domain.CandidateRecord
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("op=candidate.list: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=candidate.list: %w", err)
	}
	return out, nil
}

// UpdateExtraction records a candidate's pipeline outcome and, when present,
// its extracted profile.
func (r *CandidateRepo) UpdateExtraction(ctx domain.Context, id string, status domain.CandidateStatus, ex *domain.ExtractionResult) error {
	tracer := otel.Tracer("repo.candidates")
	ctx, span := tracer.Start(ctx, "candidates.UpdateExtraction")
	defer span.End()
	var exJSON any
	if ex != nil {
		b, err := json.Marshal(ex)
		if err != nil {
			return fmt.Errorf("op=candidate.update_extraction: %w", err)
		}
		exJSON = b
	}
	q := `UPDATE candidates SET status=$2, extraction=$3 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, status, exJSON)
	if err != nil {
		return fmt.Errorf("op=candidate.update_extraction: %w", err)
	}
	return nil
}

func scanCandidate(row pgx.Row) (domain.CandidateRecord, error) {
	var c domain.CandidateRecord
	var cols, ex []byte
	if err := row.Scan(&c.ID, &c.RunID, &c.Ordinal, &c.Name, &c.Email, &c.ResumeText, &cols, &c.Status, &ex, &c.CreatedAt); err != nil {
		return domain.CandidateRecord{}, err
	}
	if len(cols) > 0 {
		if err := json.Unmarshal(cols, &c.Columns); err != nil {
			return domain.CandidateRecord{}, err
		}
	}
	if len(ex) > 0 {
		var e domain.ExtractionResult
		if err := json.Unmarshal(ex, &e); err != nil {
			return domain.CandidateRecord{}, err
		}
		c.Extraction = &e
	}
	return c, nil
}
