package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/model"
	"github.com/sells-group/leadgen-cli/internal/queue"
	"github.com/sells-group/leadgen-cli/internal/store"
)

const maxBodyBytes = 1 << 20

// SubmitRequest is the body of POST /api/v1/jobs. Source defaults to
// "urls" when SourceURLs is set and "web_search" otherwise. Start
// defaults to true.
type SubmitRequest struct {
	Source     model.JobSource `json:"source" validate:"omitempty,oneof=urls web_search file_upload api"`
	Keyword    string          `json:"keyword" validate:"max=200"`
	Location   string          `json:"location" validate:"max=200"`
	SourceURLs []string        `json:"source_urls" validate:"max=500,dive,url"`
	FileURI    string          `json:"file_uri" validate:"max=2048"`
	UserID     string          `json:"user_id" validate:"max=128"`
	Start      *bool           `json:"start"`
}

// ProgressResponse is the body of GET /api/v1/jobs/{id}/progress.
type ProgressResponse struct {
	ID               string          `json:"id"`
	Status           model.JobStatus `json:"status"`
	Progress         int             `json:"progress"`
	TotalRecords     int             `json:"total_records"`
	ProcessedRecords int             `json:"processed_records"`
	FailedRecords    int             `json:"failed_records"`
	CancelRequested  bool            `json:"cancel_requested"`
	Error            string          `json:"error,omitempty"`
}

func (req *SubmitRequest) normalize() {
	req.Keyword = strings.TrimSpace(req.Keyword)
	req.Location = strings.TrimSpace(req.Location)
	req.FileURI = strings.TrimSpace(req.FileURI)
	if req.Source == "" {
		if len(req.SourceURLs) > 0 {
			req.Source = model.SourceURLs
		} else {
			req.Source = model.SourceWebSearch
		}
	}
}

// check enforces the per-source required fields.
func (req *SubmitRequest) check() error {
	switch req.Source {
	case model.SourceURLs:
		if len(req.SourceURLs) == 0 {
			return errors.New("source_urls is required")
		}
	case model.SourceWebSearch, model.SourceAPI:
		if req.Keyword == "" {
			return errors.New("keyword is required")
		}
	case model.SourceFileUpload:
		if req.FileURI == "" {
			return errors.New("file_uri is required")
		}
	}
	return nil
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.normalize()
	if err := s.validate.Struct(&req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	if err := req.check(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job := &model.Job{
		UserID:     req.UserID,
		Source:     req.Source,
		Keyword:    req.Keyword,
		Location:   req.Location,
		SourceURLs: req.SourceURLs,
		FileURI:    req.FileURI,
	}
	if err := s.store.CreateJob(r.Context(), job); err != nil {
		s.fail(w, err)
		return
	}
	s.log.Info("api: job submitted", zap.String("job_id", job.ID), zap.String("source", string(job.Source)))

	if req.Start != nil && !*req.Start {
		writeJSON(w, http.StatusCreated, job)
		return
	}
	if err := s.enqueue(r, job); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// enqueue queues a pending job and records the hand-off.
func (s *Server) enqueue(r *http.Request, job *model.Job) error {
	if err := s.queue.Enqueue(r.Context(), queue.Task{JobID: job.ID}); err != nil {
		return eris.Wrapf(err, "api: enqueue job %s", job.ID)
	}
	if err := s.store.MarkEnqueued(r.Context(), job.ID); err != nil {
		s.log.Warn("api: mark enqueued", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}
	now := time.Now().UTC()
	job.EnqueuedAt = &now
	return nil
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.JobFilter{
		Status: model.JobStatus(q.Get("status")),
		UserID: q.Get("user_id"),
		Limit:  intParam(q.Get("limit")),
		Offset: intParam(q.Get("offset")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.CreatedAfter = since
	}

	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		s.fail(w, err)
		return
	}
	if jobs == nil {
		jobs = []model.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) startJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if job.Status != model.JobStatusPending {
		writeError(w, http.StatusConflict, "job is "+string(job.Status))
		return
	}
	if err := s.enqueue(r, job); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.RequestCancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.log.Info("api: cancel requested", zap.String("job_id", job.ID), zap.String("status", string(job.Status)))
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.RetryJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.enqueue(r, job); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteJob(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) jobProgress(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ProgressResponse{
		ID:               job.ID,
		Status:           job.Status,
		Progress:         job.Progress,
		TotalRecords:     job.TotalRecords,
		ProcessedRecords: job.ProcessedRecords,
		FailedRecords:    job.FailedRecords,
		CancelRequested:  job.CancelRequested,
		Error:            job.Error,
	})
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}

	q := r.URL.Query()
	includeDups, _ := strconv.ParseBool(q.Get("include_duplicates"))
	records, err := s.store.ListRecords(r.Context(), id, model.RecordFilter{
		IncludeDuplicates: includeDups,
		Limit:             intParam(q.Get("limit")),
		Offset:            intParam(q.Get("offset")),
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	if records == nil {
		records = []model.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		writeError(w, http.StatusNotImplemented, "stats unavailable")
		return
	}
	hours := intParam(r.URL.Query().Get("hours"))
	snap, err := s.collector.Collect(r.Context(), hours)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// fail maps store errors to HTTP statuses. Internal details are logged,
// not returned.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case eris.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "job is not in a state that allows this action")
	default:
		s.log.Error("api: request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "oneof":
		return field + " must be one of " + fe.Param()
	case "url":
		return "source_urls must contain valid URLs"
	case "max":
		return field + " is too long"
	default:
		return field + " is invalid"
	}
}

func intParam(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
