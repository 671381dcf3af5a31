// Package domain holds the core entities, error taxonomy, and ports of the
// candidate scoring service. It stays free of transport and storage concerns.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrInternal          = errors.New("internal error")
)

// RunStatus enumerates the lifecycle of a scoring run.
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunProcessing RunStatus = "processing"
	RunCompleted  RunStatus = "completed"
	RunCanceled   RunStatus = "canceled"
	RunFailed     RunStatus = "failed"
)

// Run is one scoring run over an uploaded candidate CSV.
// Counters are monotonic within a run: extracted and scored never exceed
// total, and scored never exceeds extracted.
type Run struct {
	ID             string
	Status         RunStatus
	JobDescription string
	Total          int
	SkippedRows    int
	ExtractedCount int
	ScoredCount    int
	FailedCount    int
	Error          string
	IdemKey        *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CandidateStatus enumerates per-candidate pipeline outcomes.
type CandidateStatus string

const (
	CandidatePending          CandidateStatus = "pending"
	CandidateExtracted        CandidateStatus = "extracted"
	CandidateScored           CandidateStatus = "scored"
	CandidateExtractionFailed CandidateStatus = "extraction_failed"
	// CandidateScoreIncomplete means extraction and the algorithmic score
	// succeeded but the AI score could not be obtained after retries.
	CandidateScoreIncomplete CandidateStatus = "score_incomplete"
)

// CandidateRecord is one ingested CSV row. Columns preserves the original CSV
// cells verbatim; identity fields are filled from well-known columns only when
// present. Ordinal is the zero-based row position used for tie-breaking.
type CandidateRecord struct {
	ID         string
	RunID      string
	Ordinal    int
	Name       string
	Email      string
	ResumeText string
	Columns    map[string]string
	Status     CandidateStatus
	Extraction *ExtractionResult
	CreatedAt  time.Time
}

// ExtractionResult is the structured profile extracted from a candidate's
// resume text. Every field must conform to its declared type; a response that
// does not is rejected rather than zero-filled.
type ExtractionResult struct {
	BioSummary      string   `json:"bio_summary"`
	Skills          []string `json:"skills"`
	Industries      []string `json:"industries"`
	YearsExperience float64  `json:"years_experience"`
	SoldToFinance   bool     `json:"sold_to_finance"`
	IsFounder       bool     `json:"is_founder"`
	RedFlags        []string `json:"red_flags"`
}

// ScoreResult holds both scores for a candidate. AIScore and CombinedScore
// are nil while the AI score is pending or permanently unavailable; callers
// must not substitute defaults.
type ScoreResult struct {
	RunID              string
	CandidateID        string
	AlgoScore          int
	AIScore            *int
	CombinedScore      *int
	Tier               string
	Reasoning          string
	Pros               []string
	Cons               []string
	InterviewQuestions []string
	CreatedAt          time.Time
}

// Complete reports whether both scores are present.
func (s ScoreResult) Complete() bool { return s.AIScore != nil && s.CombinedScore != nil }

// RankedItem pairs a candidate with its score for ranked output.
type RankedItem struct {
	Candidate CandidateRecord
	Score     ScoreResult
}

// ProcessingStatus is the pollable snapshot of a run in flight.
type ProcessingStatus struct {
	RunID           string  `json:"run_id"`
	Status          string  `json:"status"`
	Phase           string  `json:"phase"`
	Total           int     `json:"total"`
	SkippedRows     int     `json:"skipped_rows"`
	ExtractedCount  int     `json:"extracted_count"`
	ScoredCount     int     `json:"scored_count"`
	FailedCount     int     `json:"failed_count"`
	ProgressPercent float64 `json:"progress_percent"`
}

// Repositories (ports)

// RunRepository persists runs and their monotonic progress counters.
type RunRepository interface {
	Create(ctx Context, r Run) (string, error)
	Get(ctx Context, id string) (Run, error)
	UpdateStatus(ctx Context, id string, status RunStatus, errMsg *string) error
	// UpdateProgress persists counter values; callers guarantee monotonicity.
	UpdateProgress(ctx Context, id string, extracted, scored, failed int) error
	FindByIdempotencyKey(ctx Context, key string) (Run, error)
}

// CandidateRepository persists ingested candidates and their extractions.
type CandidateRepository interface {
	CreateBatch(ctx Context, cs []CandidateRecord) error
	Get(ctx Context, id string) (CandidateRecord, error)
	ListByRun(ctx Context, runID string) ([]CandidateRecord, error)
	UpdateExtraction(ctx Context, id string, status CandidateStatus, ex *ExtractionResult) error
}

// ScoreRepository persists score results. Upserts are idempotent per
// (run_id, candidate_id); re-writing the same result does not duplicate.
type ScoreRepository interface {
	UpsertBatch(ctx Context, scores []ScoreResult) error
	ListByRun(ctx Context, runID string) ([]ScoreResult, error)
}

// Queue (port)

// RunTaskPayload is the queue message dispatching a run to a worker.
type RunTaskPayload struct {
	RunID string `json:"run_id"`
}

// Queue enqueues scoring runs for background processing.
type Queue interface {
	EnqueueRun(ctx Context, payload RunTaskPayload) (string, error)
}

// AIClient (port)

// AIClient is the LLM gateway. ChatJSON returns a JSON document intended to
// match the schema described in the system prompt; schema conformance is
// validated by the caller.
type AIClient interface {
	ChatJSON(ctx Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// ExtractionCache caches raw LLM responses keyed by a content hash so that
// re-running a pipeline over unchanged input skips the provider call.
type ExtractionCache interface {
	Get(ctx Context, key string) (string, bool, error)
	Set(ctx Context, key, value string) error
}

// Context aliases context.Context so adapters and usecases share one signature.
type Context = context.Context
