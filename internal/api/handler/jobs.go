// Package handler implements the HTTP handlers for the video analysis API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	mw "github.com/haakonsb/carcounter/internal/api/middleware"
	"github.com/haakonsb/carcounter/internal/api/response"
	"github.com/haakonsb/carcounter/internal/auth"
	"github.com/haakonsb/carcounter/internal/jobs"
	"github.com/haakonsb/carcounter/internal/store"
	"github.com/haakonsb/carcounter/pkg/models"
)

const defaultMaxUploadBytes = 512 << 20

// Service is the job coordination surface the handlers talk to,
// satisfied by the jobs coordinator.
type Service interface {
	Submit(ctx context.Context, identity auth.Identity, filename, contentType string, data []byte) (*jobs.Submission, error)
	SubmitFromStore(ctx context.Context, identity auth.Identity, key string) (*jobs.Submission, error)
	PresignUpload(ctx context.Context, identity auth.Identity, filename, contentType string) (key, url string, err error)
	GetResult(ctx context.Context, identity auth.Identity, jobID uuid.UUID) (*jobs.View, error)
	ListImages(ctx context.Context, identity auth.Identity, jobID uuid.UUID) ([]string, error)
	StreamURL(ctx context.Context, identity auth.Identity, jobID uuid.UUID) (string, error)
	List(ctx context.Context, identity auth.Identity, filter store.JobFilter) ([]*models.Job, error)
}

// Jobs bundles the job endpoints.
type Jobs struct {
	service        Service
	maxUploadBytes int64
}

// NewJobs creates the job handlers. maxUploadBytes <= 0 selects the default.
func NewJobs(service Service, maxUploadBytes int64) *Jobs {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Jobs{service: service, maxUploadBytes: maxUploadBytes}
}

// Analyze accepts a multipart video upload and dispatches analysis.
// POST /api/v1/videos/analyze
func (h *Jobs) Analyze(w http.ResponseWriter, r *http.Request) {
	identity, ok := mw.GetIdentity(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing identity", nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"Expected multipart form with a video file", nil)
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		response.Error(w, http.StatusBadRequest, "MISSING_VIDEO",
			"Form field 'video' is required", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			"Failed to read uploaded file", nil)
		return
	}

	sub, err := h.service.Submit(r.Context(), identity, header.Filename,
		header.Header.Get("Content-Type"), data)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Accepted(w, sub)
}

// AnalyzeFromStore dispatches analysis on a video staged via presigned upload.
// POST /api/v1/videos/analyze-from-store
func (h *Jobs) AnalyzeFromStore(w http.ResponseWriter, r *http.Request) {
	identity, ok := mw.GetIdentity(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing identity", nil)
		return
	}

	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	if req.Key == "" {
		response.Error(w, http.StatusBadRequest, "MISSING_KEY", "Field 'key' is required", nil)
		return
	}

	sub, err := h.service.SubmitFromStore(r.Context(), identity, req.Key)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.Accepted(w, sub)
}

// PresignUpload issues a direct-upload URL for a subsequent analyze-from-store.
// POST /api/v1/videos/presign-upload
func (h *Jobs) PresignUpload(w http.ResponseWriter, r *http.Request) {
	identity, ok := mw.GetIdentity(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing identity", nil)
		return
	}

	var req struct {
		Filename    string `json:"filename"`
		ContentType string `json:"contentType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}

	key, url, err := h.service.PresignUpload(r.Context(), identity, req.Filename, req.ContentType)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.JSON(w, map[string]string{"key": key, "uploadUrl": url})
}

// Get returns the job view.
// GET /api/v1/videos/{jobID}
func (h *Jobs) Get(w http.ResponseWriter, r *http.Request) {
	identity, jobID, ok := h.identityAndJobID(w, r)
	if !ok {
		return
	}

	view, err := h.service.GetResult(r.Context(), identity, jobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response.JSON(w, view)
}

// Images returns signed URLs for the job's frame snapshots.
// GET /api/v1/videos/{jobID}/images
func (h *Jobs) Images(w http.ResponseWriter, r *http.Request) {
	identity, jobID, ok := h.identityAndJobID(w, r)
	if !ok {
		return
	}

	images, err := h.service.ListImages(r.Context(), identity, jobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if images == nil {
		images = []string{}
	}

	response.JSON(w, map[string]any{"jobId": jobID.String(), "images": images})
}

// Stream redirects to a signed URL for the analyzed video.
// GET /api/v1/videos/{jobID}/stream
func (h *Jobs) Stream(w http.ResponseWriter, r *http.Request) {
	identity, jobID, ok := h.identityAndJobID(w, r)
	if !ok {
		return
	}

	url, err := h.service.StreamURL(r.Context(), identity, jobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	http.Redirect(w, r, url, http.StatusFound)
}

// List returns the caller's jobs, most recent first. Admins see all owners
// and may filter by owner.
// GET /api/v1/videos
func (h *Jobs) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := mw.GetIdentity(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing identity", nil)
		return
	}

	filter, errs := parseListFilter(r)
	if len(errs) > 0 {
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid query parameters", errs)
		return
	}

	listed, err := h.service.List(r.Context(), identity, filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	views := make([]map[string]any, len(listed))
	for i, job := range listed {
		views[i] = map[string]any{
			"jobId":     job.ID.String(),
			"owner":     job.Owner,
			"filename":  job.Filename,
			"status":    job.Status,
			"count":     job.Count,
			"createdAt": job.CreatedAt,
			"updatedAt": job.UpdatedAt,
		}
	}

	response.Collection(w, views, response.ListMeta{
		Limit:  filter.Limit,
		Offset: filter.Offset,
		Count:  len(views),
	})
}

func (h *Jobs) identityAndJobID(w http.ResponseWriter, r *http.Request) (auth.Identity, uuid.UUID, bool) {
	identity, ok := mw.GetIdentity(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing identity", nil)
		return auth.Identity{}, uuid.Nil, false
	}

	jobID, err := uuid.Parse(r.PathValue("jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID", "Invalid job ID format", nil)
		return auth.Identity{}, uuid.Nil, false
	}
	return identity, jobID, true
}

func parseListFilter(r *http.Request) (store.JobFilter, map[string][]string) {
	q := r.URL.Query()
	errs := make(map[string][]string)

	filter := store.JobFilter{
		Owner:  q.Get("owner"),
		Status: q.Get("status"),
	}

	switch filter.Status {
	case "", models.JobStatusRunning, models.JobStatusDone, models.JobStatusError:
	default:
		errs["status"] = append(errs["status"], "must be one of: running, done, error")
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs["limit"] = append(errs["limit"], "must be a non-negative integer")
		} else {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs["offset"] = append(errs["offset"], "must be a non-negative integer")
		} else {
			filter.Offset = n
		}
	}
	if v := q.Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			errs["from"] = append(errs["from"], "must be an RFC 3339 timestamp")
		} else {
			filter.CreatedFrom = ts
		}
	}
	if v := q.Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			errs["to"] = append(errs["to"], "must be an RFC 3339 timestamp")
		} else {
			filter.CreatedTo = ts
		}
	}

	if len(errs) == 0 {
		return filter, nil
	}
	return filter, errs
}

// writeServiceError maps coordinator errors onto the response contract.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
	case errors.Is(err, auth.ErrForbidden):
		response.Error(w, http.StatusForbidden, "FORBIDDEN", "You do not own this job", nil)
	case errors.Is(err, jobs.ErrForbiddenKey):
		response.Error(w, http.StatusForbidden, "FORBIDDEN_KEY",
			"Key is outside your upload namespace", nil)
	case errors.Is(err, jobs.ErrNotDone):
		response.Error(w, http.StatusConflict, "JOB_NOT_DONE", "Job has not finished yet", nil)
	case errors.Is(err, jobs.ErrGone):
		response.Error(w, http.StatusGone, "VIDEO_GONE", "Video is no longer available", nil)
	default:
		slog.Error("handler error", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
