package httpserver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/talentsift/screener/internal/config"
	"github.com/talentsift/screener/internal/domain"
	"github.com/talentsift/screener/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Runs       usecase.RunService
	Results    usecase.ResultService
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
	KafkaCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, runs usecase.RunService, results usecase.ResultService, dbCheck, redisCheck, kafkaCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Runs: runs, Results: results, DBCheck: dbCheck, RedisCheck: redisCheck, KafkaCheck: kafkaCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type createRunForm struct {
	JobDescription string `validate:"required,min=10,max=20000"`
}

// allowedCSVMIME accepts CSVs and the text types sniffers commonly report for
// them. Parameters such as charset are tolerated.
func allowedCSVMIME(m string) bool {
	m = strings.ToLower(m)
	return strings.HasPrefix(m, "text/csv") ||
		strings.HasPrefix(m, "application/csv") ||
		strings.HasPrefix(m, "text/plain") ||
		strings.HasPrefix(m, "text/tab-separated-values")
}

// CreateRunHandler ingests a candidate CSV plus a job description and starts
// a scoring run.
func (s *Server) CreateRunHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
			return
		}
		maxBytes := s.Cfg.MaxUploadMB * 1024 * 1024
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
					Code:    "INVALID_ARGUMENT",
					Message: "payload too large",
					Details: map[string]any{"max_mb": s.Cfg.MaxUploadMB},
				}})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: file required", domain.ErrInvalidArgument), map[string]string{"field": "file"})
			return
		}
		defer func() { _ = file.Close() }()

		if ext := strings.ToLower(filepath.Ext(header.Filename)); ext != ".csv" {
			writeError(w, r, fmt.Errorf("%w: only .csv uploads are accepted", domain.ErrInvalidArgument), map[string]string{"filename": header.Filename})
			return
		}
		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: read upload: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		if mt := mimetype.Detect(data); !allowedCSVMIME(mt.String()) {
			writeJSON(w, http.StatusUnsupportedMediaType, errorEnvelope{Error: apiError{
				Code:    "INVALID_ARGUMENT",
				Message: "unsupported media type",
				Details: map[string]any{"detected": mt.String()},
			}})
			return
		}

		form := createRunForm{JobDescription: strings.TrimSpace(r.FormValue("job_description"))}
		if err := getValidator().Struct(form); err != nil {
			writeError(w, r, fmt.Errorf("%w: job_description must be 10-20000 characters", domain.ErrInvalidArgument), map[string]string{"field": "job_description"})
			return
		}

		recs, skipped, err := usecase.ParseCandidatesCSV(bytes.NewReader(data))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}

		idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		runID, err := s.Runs.Create(r.Context(), recs, skipped, form.JobDescription, idemKey)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		LoggerFrom(r).Info("run created",
			"run_id", runID, "candidates", len(recs), "skipped_rows", skipped)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"run_id":       runID,
			"total":        len(recs),
			"skipped_rows": skipped,
		})
	}
}

// StatusHandler returns the pollable run snapshot with ETag support.
func (s *Server) StatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		code, body, etag, err := s.Results.Status(r.Context(), id, r.Header.Get("If-None-Match"))
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if etag != "" {
			w.Header().Set("ETag", etag)
		}
		if code == http.StatusNotModified {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		writeJSON(w, code, body)
	}
}

// ResultsHandler returns the ranked candidate list, partial or complete.
func (s *Server) ResultsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		body, err := s.Results.Ranked(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// ExportCSVHandler streams the ranked list as CSV.
func (s *Server) ExportCSVHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var buf bytes.Buffer
		if err := s.Results.ExportCSV(r.Context(), id, &buf); err != nil {
			writeError(w, r, err, nil)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "results-"+id+".csv"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	}
}

// CandidateHandler returns one candidate's full stored profile.
func (s *Server) CandidateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "id")
		candidateID := chi.URLParam(r, "cid")
		body, err := s.Results.Candidate(r.Context(), runID, candidateID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// CancelHandler requests cancellation of a queued or processing run.
func (s *Server) CancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := s.Runs.Cancel(r.Context(), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"run_id": id, "status": string(domain.RunCanceled)})
	}
}

// HealthzHandler reports process liveness.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler probes the backing services and reports readiness.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type probe struct {
		name  string
		check func(ctx context.Context) error
	}
	return func(w http.ResponseWriter, r *http.Request) {
		probes := []probe{
			{"db", s.DBCheck},
			{"redis", s.RedisCheck},
			{"kafka", s.KafkaCheck},
		}
		status := map[string]string{}
		ready := true
		for _, p := range probes {
			if p.check == nil {
				status[p.name] = "skipped"
				continue
			}
			if err := p.check(r.Context()); err != nil {
				status[p.name] = err.Error()
				ready = false
				continue
			}
			status[p.name] = "ok"
		}
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]any{"ready": ready, "checks": status})
	}
}
