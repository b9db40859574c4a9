package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/shopmind/internal/api/response"
	"github.com/kiranshivaraju/shopmind/pkg/models"
)

// JobService is satisfied by *job.Manager.
type JobService interface {
	StartJob(ctx context.Context, jobType models.JobType) (models.JobProgress, error)
	GetJobProgress(ctx context.Context) (models.JobProgress, error)
	ProcessNextBatch(ctx context.Context) (models.JobProgress, error)
	CancelJob(ctx context.Context) (models.JobProgress, error)
	AcknowledgeCompletion(ctx context.Context) (models.JobProgress, error)
	ResumeStaleJob(ctx context.Context) (models.JobProgress, bool, error)
	ResetJobState(ctx context.Context) (models.JobProgress, error)
}

type Jobs struct {
	svc JobService
}

func NewJobs(svc JobService) *Jobs {
	return &Jobs{svc: svc}
}

type startJobRequest struct {
	Type models.JobType `json:"type" validate:"required,oneof=all products customers"`
}

// Start handles POST /jobs.
func (h *Jobs) Start(w http.ResponseWriter, r *http.Request) {
	var req startJobRequest
	if err := decodeBody(r, &req); err != nil {
		response.FromError(w, r, err)
		return
	}
	p, err := h.svc.StartJob(r.Context(), req.Type)
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.Created(w, p)
}

// Progress handles GET /jobs/current.
func (h *Jobs) Progress(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.svc.GetJobProgress)
}

// Batch handles POST /jobs/current/batch.
func (h *Jobs) Batch(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.svc.ProcessNextBatch)
}

// Cancel handles POST /jobs/current/cancel.
func (h *Jobs) Cancel(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.svc.CancelJob)
}

// Acknowledge handles POST /jobs/current/acknowledge.
func (h *Jobs) Acknowledge(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.svc.AcknowledgeCompletion)
}

// Reset handles DELETE /jobs/current.
func (h *Jobs) Reset(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.svc.ResetJobState)
}

// Resume handles POST /jobs/current/resume.
func (h *Jobs) Resume(w http.ResponseWriter, r *http.Request) {
	p, resumed, err := h.svc.ResumeStaleJob(r.Context())
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	msg := "no stale job to resume"
	if resumed {
		msg = "stale job resumed"
	}
	response.Message(w, msg, p)
}

func (h *Jobs) respond(w http.ResponseWriter, r *http.Request, op func(context.Context) (models.JobProgress, error)) {
	p, err := op(r.Context())
	if err != nil {
		response.FromError(w, r, err)
		return
	}
	response.JSON(w, p)
}
