// Package postgres provides PostgreSQL repository adapters.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"

	"github.com/talentsift/screener/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// RunRepo persists and loads scoring runs from PostgreSQL.
type RunRepo struct{ Pool PgxPool }

// NewRunRepo constructs a RunRepo with the given pool.
func NewRunRepo(p PgxPool) *RunRepo { return &RunRepo{Pool: p} }

const runColumns = `id, status, job_description, total, skipped_rows, extracted_count, scored_count, failed_count, COALESCE(error,''), idempotency_key, created_at, updated_at`

// uniqueViolation is the PostgreSQL error code for unique constraint failures.
const uniqueViolation = "23505"

// Create inserts a new run and returns its id (generates one if empty).
// A duplicate idempotency key surfaces as ErrConflict so callers can return
// the existing run instead.
func (r *RunRepo) Create(ctx domain.Context, run domain.Run) (string, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.Create")
	defer span.End()
	id := run.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO runs (id, status, job_description, total, skipped_rows, extracted_count, scored_count, failed_count, error, idempotency_key, created_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := r.Pool.Exec(ctx, q, id, run.Status, run.JobDescription, run.Total, run.SkippedRows,
		run.ExtractedCount, run.ScoredCount, run.FailedCount, run.Error, run.IdemKey, now, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return "", fmt.Errorf("op=run.create: %w", domain.ErrConflict)
		}
		return "", fmt.Errorf("op=run.create: %w", err)
	}
	return id, nil
}

// Get loads a run by id.
func (r *RunRepo) Get(ctx domain.Context, id string) (domain.Run, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.Get")
	defer span.End()
	q := `SELECT ` + runColumns + ` FROM runs WHERE id=$1`
	return r.scanRun(r.Pool.QueryRow(ctx, q, id), "run.get")
}

// FindByIdempotencyKey loads a run by idempotency key.
func (r *RunRepo) FindByIdempotencyKey(ctx domain.Context, key string) (domain.Run, error) {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.FindByIdempotencyKey")
	defer span.End()
	q := `SELECT ` + runColumns + ` FROM runs WHERE idempotency_key=$1 LIMIT 1`
	return r.scanRun(r.Pool.QueryRow(ctx, q, key), "run.find_idem")
}

func (r *RunRepo) scanRun(row pgx.Row, op string) (domain.Run, error) {
	var run domain.Run
	var idem *string
	if err := row.Scan(&run.ID, &run.Status, &run.JobDescription, &run.Total, &run.SkippedRows,
		&run.ExtractedCount, &run.ScoredCount, &run.FailedCount, &run.Error, &idem,
		&run.CreatedAt, &run.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Run{}, fmt.Errorf("op=%s: %w", op, domain.ErrNotFound)
		}
		return domain.Run{}, fmt.Errorf("op=%s: %w", op, err)
	}
	run.IdemKey = idem
	return run, nil
}

// UpdateStatus updates a run's status and optional error message.
func (r *RunRepo) UpdateStatus(ctx domain.Context, id string, status domain.RunStatus, errMsg *string) error {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.UpdateStatus")
	defer span.End()
	errVal := ""
	if errMsg != nil {
		errVal = *errMsg
	}
	q := `UPDATE runs SET status=$2, error=$3, updated_at=$4 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, status, errVal, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=run.update_status: %w", err)
	}
	return nil
}

// UpdateProgress persists the run's progress counters.
func (r *RunRepo) UpdateProgress(ctx domain.Context, id string, extracted, scored, failed int) error {
	tracer := otel.Tracer("repo.runs")
	ctx, span := tracer.Start(ctx, "runs.UpdateProgress")
	defer span.End()
	q := `UPDATE runs SET extracted_count=$2, scored_count=$3, failed_count=$4, updated_at=$5 WHERE id=$1`
	_, err := r.Pool.Exec(ctx, q, id, extracted, scored, failed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=run.update_progress: %w", err)
	}
	return nil
}
