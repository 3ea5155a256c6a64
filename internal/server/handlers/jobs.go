package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/3leaps/warden/internal/errors"
	"github.com/3leaps/warden/pkg/agentstore"
	"github.com/3leaps/warden/pkg/supervisor"
)

// JobsAPI exposes the supervisor lifecycle over HTTP.
type JobsAPI struct {
	sup *supervisor.Supervisor
}

func NewJobsAPI(sup *supervisor.Supervisor) *JobsAPI {
	return &JobsAPI{sup: sup}
}

// Routes returns the /v1 route tree.
func (a *JobsAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/jobs", a.spawn)
	r.Get("/jobs/{jobID}", a.getJob)
	r.Get("/parents/{parentID}/jobs", a.listJobs)
	r.Get("/parents/{parentID}/results", a.getResults)
	r.Get("/recover", a.recoverUnreported)
	r.Post("/reports", a.markReported)
	r.Post("/cleanup", a.cleanup)
	return r
}

// JobView is the JSON projection of one job.
type JobView struct {
	ID             string     `json:"id"`
	ParentID       string     `json:"parent_id"`
	Model          string     `json:"model"`
	Status         string     `json:"status"`
	TimeoutSeconds int        `json:"timeout_seconds"`
	PID            int        `json:"pid,omitempty"`
	Output         string     `json:"output,omitempty"`
	Error          string     `json:"error,omitempty"`
	ExitCode       *int       `json:"exit_code,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func viewOf(job agentstore.Job) JobView {
	return JobView{
		ID:             job.ID,
		ParentID:       job.ParentID,
		Model:          job.Model,
		Status:         string(job.Status),
		TimeoutSeconds: job.TimeoutSeconds,
		PID:            job.PID,
		Output:         job.Output,
		Error:          job.Error,
		ExitCode:       job.ExitCode,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
	}
}

func viewsOf(jobs []agentstore.Job) []JobView {
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, viewOf(job))
	}
	return views
}

type spawnRequest struct {
	ParentID       string `json:"parent_id"`
	Prompt         string `json:"prompt"`
	Model          string `json:"model,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type spawnResponse struct {
	JobID string `json:"job_id"`
}

func (a *JobsAPI) spawn(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.Write(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON body: "+err.Error())
		return
	}

	jobID, err := a.sup.Spawn(r.Context(), req.ParentID, req.Prompt, req.Model, req.TimeoutSeconds)
	switch {
	case errors.Is(err, agentstore.ErrCapReached):
		apperrors.Write(w, r, http.StatusTooManyRequests, "CAP_REACHED", err.Error())
		return
	case err != nil && jobID == "":
		apperrors.Write(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	case err != nil:
		// Admitted but never got running; the job record carries the failure.
		apperrors.WriteDetails(w, r, http.StatusInternalServerError,
			"SPAWN_FAILED", err.Error(), map[string]any{"job_id": jobID})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(spawnResponse{JobID: jobID})
}

func (a *JobsAPI) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.sup.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if errors.Is(err, agentstore.ErrNotFound) {
		apperrors.Write(w, r, http.StatusNotFound, "NOT_FOUND", "job not found")
		return
	}
	if err != nil {
		apperrors.Write(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(viewOf(*job))
}

func (a *JobsAPI) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.sup.Poll(r.Context(), chi.URLParam(r, "parentID"))
	if err != nil {
		apperrors.Write(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(viewsOf(jobs))
}

func (a *JobsAPI) getResults(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.sup.GetResults(r.Context(), chi.URLParam(r, "parentID"))
	if err != nil {
		apperrors.Write(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(viewsOf(jobs))
}

func (a *JobsAPI) recoverUnreported(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.sup.Recover(r.Context())
	if err != nil {
		apperrors.Write(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(viewsOf(jobs))
}

type reportRequest struct {
	JobIDs []string `json:"job_ids"`
}

func (a *JobsAPI) markReported(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.Write(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON body: "+err.Error())
		return
	}

	if err := a.sup.MarkReported(r.Context(), req.JobIDs); err != nil {
		apperrors.Write(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type cleanupRequest struct {
	MaxAge string `json:"max_age"`
}

func (a *JobsAPI) cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.Write(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid JSON body: "+err.Error())
		return
	}

	maxAge, err := time.ParseDuration(req.MaxAge)
	if err != nil {
		apperrors.Write(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid max_age: "+err.Error())
		return
	}

	res, err := a.sup.Cleanup(r.Context(), maxAge)
	if err != nil {
		apperrors.Write(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(res)
}
