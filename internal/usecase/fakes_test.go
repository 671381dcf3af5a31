package usecase_test

import (
	"fmt"
	"strings"
	"sync"

	"github.com/talentsift/screener/internal/domain"
)

// In-memory fakes shared by the usecase tests. All of them are safe for
// concurrent use because the pipeline runs candidates in parallel.

type fakeRunRepo struct {
	mu   sync.Mutex
	runs map[string]domain.Run
	seq  int

	failCreate   bool
	failProgress bool
	// missIdemLookupOnce makes the next FindByIdempotencyKey miss even when a
	// matching run exists, modelling a concurrent insert between lookup and
	// create.
	missIdemLookupOnce bool
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{runs: map[string]domain.Run{}}
}

func (r *fakeRunRepo) Create(_ domain.Context, run domain.Run) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate {
		return "", fmt.Errorf("create failed")
	}
	// Unique index on idempotency_key, as in the SQL schema.
	if run.IdemKey != nil {
		for _, existing := range r.runs {
			if existing.IdemKey != nil && *existing.IdemKey == *run.IdemKey {
				return "", fmt.Errorf("op=run.create: %w", domain.ErrConflict)
			}
		}
	}
	if run.ID == "" {
		r.seq++
		run.ID = fmt.Sprintf("run-%d", r.seq)
	}
	r.runs[run.ID] = run
	return run.ID, nil
}

func (r *fakeRunRepo) Get(_ domain.Context, id string) (domain.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return domain.Run{}, fmt.Errorf("op=run.get: %w", domain.ErrNotFound)
	}
	return run, nil
}

func (r *fakeRunRepo) UpdateStatus(_ domain.Context, id string, status domain.RunStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return fmt.Errorf("op=run.update_status: %w", domain.ErrNotFound)
	}
	run.Status = status
	if errMsg != nil {
		run.Error = *errMsg
	}
	r.runs[id] = run
	return nil
}

func (r *fakeRunRepo) UpdateProgress(_ domain.Context, id string, extracted, scored, failed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failProgress {
		return fmt.Errorf("progress write failed")
	}
	run, ok := r.runs[id]
	if !ok {
		return fmt.Errorf("op=run.update_progress: %w", domain.ErrNotFound)
	}
	run.ExtractedCount = extracted
	run.ScoredCount = scored
	run.FailedCount = failed
	r.runs[id] = run
	return nil
}

func (r *fakeRunRepo) FindByIdempotencyKey(_ domain.Context, key string) (domain.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.missIdemLookupOnce {
		r.missIdemLookupOnce = false
		return domain.Run{}, fmt.Errorf("op=run.find_idem: %w", domain.ErrNotFound)
	}
	for _, run := range r.runs {
		if run.IdemKey != nil && *run.IdemKey == key {
			return run, nil
		}
	}
	return domain.Run{}, fmt.Errorf("op=run.find_idem: %w", domain.ErrNotFound)
}

type fakeCandidateRepo struct {
	mu         sync.Mutex
	candidates map[string]domain.CandidateRecord
	seq        int

	failCreate bool
}

func newFakeCandidateRepo() *fakeCandidateRepo {
	return &fakeCandidateRepo{candidates: map[string]domain.CandidateRecord{}}
}

func (r *fakeCandidateRepo) CreateBatch(_ domain.Context, cs []domain.CandidateRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate {
		return fmt.Errorf("create batch failed")
	}
	for i := range cs {
		if cs[i].ID == "" {
			r.seq++
			cs[i].ID = fmt.Sprintf("cand-%d", r.seq)
		}
		r.candidates[cs[i].ID] = cs[i]
	}
	return nil
}

func (r *fakeCandidateRepo) Get(_ domain.Context, id string) (domain.CandidateRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.candidates[id]
	if !ok {
		return domain.CandidateRecord{}, fmt.Errorf("op=candidate.get: %w", domain.ErrNotFound)
	}
	return c, nil
}

func (r *fakeCandidateRepo) ListByRun(_ domain.Context, runID string) ([]domain.CandidateRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.CandidateRecord
	for _, c := range r.candidates {
		if c.RunID == runID {
			out = append(out, c)
		}
	}
	// Stable order by ordinal, matching the SQL repo.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Ordinal < out[i].Ordinal {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (r *fakeCandidateRepo) UpdateExtraction(_ domain.Context, id string, status domain.CandidateStatus, ex *domain.ExtractionResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.candidates[id]
	if !ok {
		return fmt.Errorf("op=candidate.update_extraction: %w", domain.ErrNotFound)
	}
	c.Status = status
	c.Extraction = ex
	r.candidates[id] = c
	return nil
}

type fakeScoreRepo struct {
	mu     sync.Mutex
	scores map[string]domain.ScoreResult // keyed run_id/candidate_id
}

func newFakeScoreRepo() *fakeScoreRepo {
	return &fakeScoreRepo{scores: map[string]domain.ScoreResult{}}
}

func (r *fakeScoreRepo) UpsertBatch(_ domain.Context, scores []domain.ScoreResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range scores {
		r.scores[s.RunID+"/"+s.CandidateID] = s
	}
	return nil
}

func (r *fakeScoreRepo) ListByRun(_ domain.Context, runID string) ([]domain.ScoreResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ScoreResult
	for _, s := range r.scores {
		if s.RunID == runID {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeQueue struct {
	mu       sync.Mutex
	enqueued []string
	fail     bool
}

func (q *fakeQueue) EnqueueRun(_ domain.Context, payload domain.RunTaskPayload) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail {
		return "", fmt.Errorf("queue down")
	}
	q.enqueued = append(q.enqueued, payload.RunID)
	return payload.RunID, nil
}

// fakeAI scripts ChatJSON responses. respond decides the reply per call; the
// default returns schema-valid JSON for both prompt kinds.
type fakeAI struct {
	mu      sync.Mutex
	calls   int
	respond func(call int, systemPrompt, userPrompt string) (string, error)
}

func (a *fakeAI) ChatJSON(_ domain.Context, systemPrompt, userPrompt string, _ int) (string, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.mu.Unlock()
	if a.respond != nil {
		return a.respond(call, systemPrompt, userPrompt)
	}
	return defaultResponse(systemPrompt), nil
}

func (a *fakeAI) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func defaultResponse(systemPrompt string) string {
	if strings.Contains(systemPrompt, "ai_score") {
		return `{"ai_score": 60, "reasoning": "ok", "pros": ["a"], "cons": ["b"], "interview_questions": ["q"]}`
	}
	return `{"bio_summary":"s","skills":["saas"],"industries":["software"],"years_experience":5,"sold_to_finance":true,"is_founder":false,"red_flags":[]}`
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeCache() *fakeCache { return &fakeCache{data: map[string]string{}} }

func (c *fakeCache) Get(_ domain.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Set(_ domain.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}
