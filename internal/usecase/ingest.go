// Package usecase contains application business logic services.
package usecase

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/pkg/textx"
)

// resumeColumns are the well-known header names probed, in order, for the
// candidate's free-text resume.
var resumeColumns = []string{"resume", "resume_text", "bio", "about", "summary"}

// ParseCandidatesCSV parses an uploaded candidate CSV into records with a
// stable zero-based ordinal per row. Rows that are empty or have the wrong
// field count are skipped and counted, never silently dropped. Original cell
// values are preserved verbatim in Columns.
func ParseCandidatesCSV(r io.Reader) ([]domain.CandidateRecord, int, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = false

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("%w: csv header: %v", domain.ErrInvalidArgument, err)
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.TrimSpace(h)
	}

	var (
		records []domain.CandidateRecord
		skipped int
		ordinal int
	)
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) && errors.Is(pe.Err, csv.ErrFieldCount) {
				skipped++
				continue
			}
			return nil, 0, fmt.Errorf("%w: csv row: %v", domain.ErrInvalidArgument, err)
		}
		if isEmptyRow(row) {
			skipped++
			continue
		}
		m := make(map[string]string, len(cols))
		for i, c := range cols {
			if i < len(row) {
				m[c] = row[i]
			}
		}
		rec := domain.CandidateRecord{
			Ordinal:    ordinal,
			Name:       lookup(m, "name", "full_name"),
			Email:      lookup(m, "email"),
			ResumeText: textx.SanitizeText(lookup(m, resumeColumns...)),
			Columns:    m,
			Status:     domain.CandidatePending,
			CreatedAt:  time.Now().UTC(),
		}
		records = append(records, rec)
		ordinal++
	}
	return records, skipped, nil
}

func isEmptyRow(row []string) bool {
	for _, c := range row {
		if !textx.IsBlank(c) {
			return false
		}
	}
	return true
}

// lookup returns the first non-blank value among the named columns,
// case-insensitively.
func lookup(m map[string]string, names ...string) string {
	for _, n := range names {
		for k, v := range m {
			if strings.EqualFold(strings.TrimSpace(k), n) && !textx.IsBlank(v) {
				return v
			}
		}
	}
	return ""
}

// RunService creates scoring runs from parsed candidates and dispatches them
// to the background worker.
type RunService struct {
	Runs       domain.RunRepository
	Candidates domain.CandidateRepository
	Queue      domain.Queue
}

// NewRunService constructs a RunService with its dependencies.
func NewRunService(r domain.RunRepository, c domain.CandidateRepository, q domain.Queue) RunService {
	return RunService{Runs: r, Candidates: c, Queue: q}
}

// Create persists a run with its candidates and enqueues the scoring task.
// If idemKey matches an existing run, that run's id is returned and nothing
// new is created.
func (s RunService) Create(ctx domain.Context, recs []domain.CandidateRecord, skipped int, jobDesc, idemKey string) (string, error) {
	if len(recs) == 0 {
		return "", fmt.Errorf("%w: no candidate rows", domain.ErrInvalidArgument)
	}
	if textx.IsBlank(jobDesc) {
		return "", fmt.Errorf("%w: job_description required", domain.ErrInvalidArgument)
	}
	if idemKey != "" {
		if r, err := s.Runs.FindByIdempotencyKey(ctx, idemKey); err == nil && r.ID != "" {
			return r.ID, nil
		}
	}
	run := domain.Run{
		Status:         domain.RunQueued,
		JobDescription: jobDesc,
		Total:          len(recs),
		SkippedRows:    skipped,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	if idemKey != "" {
		run.IdemKey = &idemKey
	}
	runID, err := s.Runs.Create(ctx, run)
	if err != nil {
		// A concurrent request with the same key can win the insert between
		// the lookup above and here; the unique index turns that into a
		// conflict, so resolve it to the winner's run.
		if idemKey != "" && errors.Is(err, domain.ErrConflict) {
			if r, ferr := s.Runs.FindByIdempotencyKey(ctx, idemKey); ferr == nil && r.ID != "" {
				return r.ID, nil
			}
		}
		return "", err
	}
	for i := range recs {
		recs[i].RunID = runID
	}
	if err := s.Candidates.CreateBatch(ctx, recs); err != nil {
		_ = s.Runs.UpdateStatus(ctx, runID, domain.RunFailed, ptr("candidate persist failed"))
		return "", err
	}
	if _, err := s.Queue.EnqueueRun(ctx, domain.RunTaskPayload{RunID: runID}); err != nil {
		_ = s.Runs.UpdateStatus(ctx, runID, domain.RunFailed, ptr("enqueue failed"))
		return "", err
	}
	return runID, nil
}

// Cancel requests cancellation of a queued or processing run. Batches already
// dispatched are allowed to finish; no new batches start after the signal.
func (s RunService) Cancel(ctx domain.Context, id string) error {
	run, err := s.Runs.Get(ctx, id)
	if err != nil {
		return err
	}
	if run.Status != domain.RunQueued && run.Status != domain.RunProcessing {
		return fmt.Errorf("%w: run is %s", domain.ErrConflict, run.Status)
	}
	return s.Runs.UpdateStatus(ctx, id, domain.RunCanceled, nil)
}

func ptr(s string) *string { return &s }
