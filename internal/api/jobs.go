package api

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/streamvault/backend/internal/cache"
	"github.com/streamvault/backend/internal/db"
	apperrors "github.com/streamvault/backend/internal/errors"
	"github.com/streamvault/backend/internal/extractor"
	"github.com/streamvault/backend/internal/logger"
	"github.com/streamvault/backend/internal/queue"
	"github.com/streamvault/backend/internal/storage"
	"github.com/streamvault/backend/internal/validators"
)

// JobHandlers serves the job lifecycle endpoints. Storage, snapshot cache,
// and history are optional; their endpoints degrade when unconfigured.
type JobHandlers struct {
	scheduler *queue.Scheduler
	storage   *storage.Client
	snapshots *cache.Cache
	history   *db.JobRepository
	log       *logger.Logger
}

// NewJobHandlers creates job lifecycle handlers.
func NewJobHandlers(scheduler *queue.Scheduler, store *storage.Client, snapshots *cache.Cache, history *db.JobRepository, log *logger.Logger) *JobHandlers {
	if log == nil {
		log = logger.Default().WithComponent("api")
	}
	return &JobHandlers{
		scheduler: scheduler,
		storage:   store,
		snapshots: snapshots,
		history:   history,
		log:       log,
	}
}

// JobOptions is the submitter-facing subset of download options.
type JobOptions struct {
	Format         string            `json:"format,omitempty"`
	OutputTemplate string            `json:"output_template,omitempty"`
	Quality        string            `json:"quality,omitempty"`
	AudioFormat    string            `json:"audio_format,omitempty"`
	MergeFormat    string            `json:"merge_format,omitempty"`
	PlaylistItems  string            `json:"playlist_items,omitempty"`
	RateLimit      string            `json:"rate_limit,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

func (o JobOptions) toExtractor() extractor.Options {
	return extractor.Options{
		Format:         o.Format,
		OutputTemplate: o.OutputTemplate,
		Quality:        o.Quality,
		AudioFormat:    o.AudioFormat,
		MergeFormat:    o.MergeFormat,
		PlaylistItems:  o.PlaylistItems,
		RateLimit:      o.RateLimit,
		Extra:          o.Extra,
	}
}

// SubmitJobRequest is the request body for job submission
type SubmitJobRequest struct {
	URL      string     `json:"url"`
	Kind     string     `json:"kind"`
	Priority int        `json:"priority"`
	Options  JobOptions `json:"options"`
}

// SubmitJobResponse is the response for a submitted job
type SubmitJobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// SubmitJob handles POST /api/v1/jobs
func (h *JobHandlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("invalid JSON body"))
		return
	}

	kind := queue.Kind(req.Kind)
	if req.Kind == "" {
		kind = queue.KindVideo
	}
	if !kind.Valid() {
		apperrors.WriteError(w, requestID, apperrors.UnsupportedKind(req.Kind))
		return
	}

	result := validators.ValidateSubmission(req.URL, kind)
	if !result.Valid {
		apperrors.WriteError(w, requestID, apperrors.ValidationError(result.Error))
		return
	}

	job := &queue.Job{
		Kind:     kind,
		URL:      result.URL,
		Options:  req.Options.toExtractor(),
		Priority: req.Priority,
	}

	jobID, err := h.scheduler.Submit(job)
	if err != nil {
		apperrors.WriteError(w, requestID, err)
		return
	}

	h.log.Info(r.Context(), "job submitted", map[string]interface{}{
		"job_id":   jobID,
		"kind":     string(kind),
		"priority": req.Priority,
	})

	apperrors.WriteJSON(w, requestID, http.StatusAccepted, SubmitJobResponse{
		JobID:  jobID,
		Status: string(queue.StatusPending),
	})
}

// GetJob handles GET /api/v1/jobs/{job_id}. Lookup order: live scheduler
// state, then the snapshot cache, then durable history. A restart empties
// the scheduler but not the other two.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	jobID := r.PathValue("job_id")
	if jobID == "" {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("job_id is required"))
		return
	}

	if state, err := h.scheduler.Status(jobID); err == nil {
		apperrors.WriteJSON(w, requestID, http.StatusOK, state)
		return
	}

	if h.snapshots != nil {
		if snap, ok := h.snapshots.GetSnapshot(r.Context(), jobID); ok {
			apperrors.WriteJSON(w, requestID, http.StatusOK, snap)
			return
		}
	}

	if h.history != nil {
		if rec, err := h.history.GetByID(r.Context(), jobID); err == nil {
			apperrors.WriteJSON(w, requestID, http.StatusOK, historyResponse(rec))
			return
		}
	}

	apperrors.WriteError(w, requestID, apperrors.JobNotFound())
}

// CancelJob handles DELETE /api/v1/jobs/{job_id}
func (h *JobHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	jobID := r.PathValue("job_id")
	if jobID == "" {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("job_id is required"))
		return
	}

	if h.scheduler.Cancel(jobID) {
		apperrors.WriteJSON(w, requestID, http.StatusAccepted, map[string]interface{}{
			"job_id":    jobID,
			"cancelled": true,
		})
		return
	}

	if _, err := h.scheduler.Status(jobID); err != nil {
		apperrors.WriteError(w, requestID, apperrors.JobNotFound())
		return
	}
	apperrors.WriteError(w, requestID, apperrors.BadRequest("job already in a terminal state"))
}

// ListJobs handles GET /api/v1/jobs
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	apperrors.WriteJSON(w, requestID, http.StatusOK, map[string]interface{}{
		"jobs":    h.scheduler.List(),
		"summary": h.scheduler.Snapshot(),
	})
}

// QueueStatus handles GET /api/v1/queue
func (h *JobHandlers) QueueStatus(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())
	apperrors.WriteJSON(w, requestID, http.StatusOK, h.scheduler.Snapshot())
}

// ArtifactResponse is the presigned artifact link response
type ArtifactResponse struct {
	JobID     string `json:"job_id"`
	Key       string `json:"key"`
	URL       string `json:"url"`
	ExpiresIn int    `json:"expires_in"`
}

// GetArtifact handles GET /api/v1/jobs/{job_id}/artifact
func (h *JobHandlers) GetArtifact(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	if h.storage == nil {
		apperrors.WriteError(w, requestID, apperrors.StorageError("object storage is not configured"))
		return
	}

	jobID := r.PathValue("job_id")
	result := ""

	if state, err := h.scheduler.Status(jobID); err == nil {
		if state.Status != queue.StatusCompleted {
			apperrors.WriteError(w, requestID, apperrors.BadRequest("job has no artifact"))
			return
		}
		result = state.Result
	} else if h.history != nil {
		rec, herr := h.history.GetByID(r.Context(), jobID)
		if herr != nil {
			apperrors.WriteError(w, requestID, apperrors.JobNotFound())
			return
		}
		if rec.Status != string(queue.StatusCompleted) || !rec.Result.Valid {
			apperrors.WriteError(w, requestID, apperrors.BadRequest("job has no artifact"))
			return
		}
		result = rec.Result.String
	} else {
		apperrors.WriteError(w, requestID, apperrors.JobNotFound())
		return
	}

	expiry := 15 * time.Minute
	if raw := r.URL.Query().Get("expiry"); raw != "" {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 && secs <= 86400 {
			expiry = time.Duration(secs) * time.Second
		}
	}

	key := h.storage.ArtifactKey(jobID, filepath.Base(result))
	exists, err := h.storage.ArtifactExists(r.Context(), key)
	if err != nil {
		apperrors.WriteError(w, requestID, err)
		return
	}
	if !exists {
		apperrors.WriteError(w, requestID, apperrors.NotFound("artifact"))
		return
	}

	url, err := h.storage.PresignDownload(r.Context(), key, expiry)
	if err != nil {
		apperrors.WriteError(w, requestID, err)
		return
	}

	apperrors.WriteJSON(w, requestID, http.StatusOK, ArtifactResponse{
		JobID:     jobID,
		Key:       key,
		URL:       url,
		ExpiresIn: int(expiry.Seconds()),
	})
}

// HistoryRecord is the API view of a persisted job.
type HistoryRecord struct {
	JobID       string     `json:"job_id"`
	Kind        string     `json:"kind"`
	URL         string     `json:"url"`
	Priority    int        `json:"priority"`
	Status      string     `json:"status"`
	Result      string     `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
	SubmittedAt time.Time  `json:"submitted_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func historyResponse(rec *db.JobRecord) HistoryRecord {
	return HistoryRecord{
		JobID:       rec.ID,
		Kind:        rec.Kind,
		URL:         rec.URL,
		Priority:    rec.Priority,
		Status:      rec.Status,
		Result:      rec.Result.String,
		Error:       rec.Error.String,
		ErrorCode:   rec.ErrorCode.String,
		SubmittedAt: rec.SubmittedAt,
		StartedAt:   rec.StartedAt,
		CompletedAt: rec.CompletedAt,
	}
}

// GetHistory handles GET /api/v1/history
func (h *JobHandlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	if h.history == nil {
		apperrors.WriteError(w, requestID, apperrors.DatabaseError("job history is not configured"))
		return
	}

	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	records, total, err := h.history.List(r.Context(), query.Get("status"), limit, offset)
	if err != nil {
		apperrors.WriteError(w, requestID, apperrors.DatabaseError("failed to list job history").WithCause(err))
		return
	}

	out := make([]HistoryRecord, 0, len(records))
	for i := range records {
		out = append(out, historyResponse(&records[i]))
	}

	apperrors.WriteJSON(w, requestID, http.StatusOK, map[string]interface{}{
		"jobs":  out,
		"total": total,
	})
}
