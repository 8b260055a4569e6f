package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	mw "github.com/kiranshivaraju/threadpost/internal/api/middleware"
	"github.com/kiranshivaraju/threadpost/internal/api/response"
	"github.com/kiranshivaraju/threadpost/internal/cache"
	"github.com/kiranshivaraju/threadpost/internal/jobs"
	"github.com/kiranshivaraju/threadpost/internal/publisher"
	"github.com/kiranshivaraju/threadpost/internal/thread"
	"github.com/kiranshivaraju/threadpost/pkg/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200

	idempotencyHeader  = "Idempotency-Key"
	maxIdempotencyKey  = 255
	idempotencyPending = "pending"
)

// ThreadService defines the job operations the thread handlers depend on.
type ThreadService interface {
	Submit(ctx context.Context, req models.ThreadRequest) (string, error)
	Wait(ctx context.Context, id string) (models.ThreadJob, error)
	Get(id string) (models.ThreadJob, error)
	List() []models.JobSummary
	Cancel(id string) (models.ThreadJob, error)
}

// PostThreadResult is the response body of a completed synchronous post.
type PostThreadResult struct {
	Success     bool      `json:"success"`
	ThreadID    string    `json:"thread_id"`
	TweetIDs    []string  `json:"tweet_ids"`
	TweetCount  int       `json:"tweet_count"`
	CompletedAt time.Time `json:"completed_at"`
}

// NewPostThreadHandler returns an http.HandlerFunc for POST /post-thread.
// The thread runs as a registry job and the handler waits for it to finish.
func NewPostThreadHandler(svc ThreadService, maxDelay time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		req, err := decodeThreadRequest(r, maxDelay)
		if err != nil {
			writeDecodeError(w, err)
			return
		}

		id, err := svc.Submit(r.Context(), req)
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		job, err := svc.Wait(r.Context(), id)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// The job keeps running; the client can poll GET /thread/{id}.
				slog.Warn("client left before thread finished", "thread_id", id, "error", err)
				return
			}
			slog.Error("waiting for thread failed", "thread_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Thread result is unavailable", map[string]any{"thread_id": id})
			return
		}

		switch job.State {
		case models.JobStateCompleted:
			ids := job.PostIDs()
			completedAt := job.UpdatedAt
			if job.FinishedAt != nil {
				completedAt = *job.FinishedAt
			}
			response.JSON(w, PostThreadResult{
				Success:     true,
				ThreadID:    job.ThreadID,
				TweetIDs:    ids,
				TweetCount:  len(ids),
				CompletedAt: completedAt,
			})
		case models.JobStateCancelled:
			response.Error(w, http.StatusConflict, "CANCELLED", "Thread was cancelled", failureDetails(job))
		default:
			message := "Publishing failed"
			if job.Error != nil {
				message = job.Error.Message
			}
			response.Error(w, http.StatusBadGateway, "PUBLISH_FAILED", message, failureDetails(job))
		}
	}
}

// NewScheduleThreadHandler returns an http.HandlerFunc for
// POST /schedule-thread. When c is non-nil, an Idempotency-Key header makes
// a repeated request return the original thread_id.
func NewScheduleThreadHandler(svc ThreadService, c cache.Cache, maxDelay, idempotencyTTL time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		req, err := decodeThreadRequest(r, maxDelay)
		if err != nil {
			writeDecodeError(w, err)
			return
		}

		idemKey := r.Header.Get(idempotencyHeader)
		if len(idemKey) > maxIdempotencyKey {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"Idempotency-Key must be at most 255 characters", nil)
			return
		}

		var cacheKey string
		if c != nil && idemKey != "" {
			cacheKey = cache.IdempotencyKey(mw.Caller(r), idemKey)
			claimed, err := c.SetNX(r.Context(), cacheKey, idempotencyPending, idempotencyTTL)
			switch {
			case err != nil:
				slog.Warn("idempotency check failed", "error", err)
				cacheKey = ""
			case !claimed:
				replayIdempotent(w, r, c, cacheKey)
				return
			}
		}

		id, err := svc.Submit(r.Context(), req)
		if err != nil {
			if cacheKey != "" {
				if derr := c.Delete(context.WithoutCancel(r.Context()), cacheKey); derr != nil {
					slog.Warn("releasing idempotency key failed", "error", derr)
				}
			}
			writeSubmitError(w, err)
			return
		}

		if cacheKey != "" {
			if err := c.Set(context.WithoutCancel(r.Context()), cacheKey, id, idempotencyTTL); err != nil {
				slog.Warn("storing idempotency key failed", "thread_id", id, "error", err)
			}
		}

		response.Accepted(w, map[string]string{
			"thread_id":  id,
			"state":      string(models.JobStatePending),
			"status_url": "/thread/" + id,
		})
	}
}

func replayIdempotent(w http.ResponseWriter, r *http.Request, c cache.Cache, key string) {
	id, ok, err := c.Get(r.Context(), key)
	if err != nil {
		slog.Error("reading idempotency key failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read idempotency key", nil)
		return
	}
	if !ok || id == idempotencyPending {
		response.Error(w, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS",
			"A request with this Idempotency-Key is still being processed", nil)
		return
	}
	response.JSON(w, map[string]any{"thread_id": id, "replayed": true})
}

// NewGetThreadHandler returns an http.HandlerFunc for GET /thread/{id}.
func NewGetThreadHandler(svc ThreadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, job)
	}
}

// NewListThreadsHandler returns an http.HandlerFunc for GET /threads.
// Supports ?state=, ?page= and ?limit= (default 50, max 200).
func NewListThreadsHandler(svc ThreadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		page, err := queryInt(q.Get("page"), 1)
		if err != nil || page < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "page must be a positive integer", nil)
			return
		}
		limit, err := queryInt(q.Get("limit"), defaultListLimit)
		if err != nil || limit < 1 {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
			return
		}
		if limit > maxListLimit {
			limit = maxListLimit
		}

		state := models.JobState(q.Get("state"))
		if state != "" && !validState(state) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"state must be one of pending, running, completed, failed, cancelled", nil)
			return
		}

		all := svc.List()
		filtered := make([]models.JobSummary, 0, len(all))
		for _, s := range all {
			if state == "" || s.State == state {
				filtered = append(filtered, s)
			}
		}

		total := len(filtered)
		start := (page - 1) * limit
		if start > total {
			start = total
		}
		end := start + limit
		if end > total {
			end = total
		}

		response.Collection(w, filtered[start:end], response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: end < total,
		})
	}
}

// NewCancelThreadHandler returns an http.HandlerFunc for DELETE /thread/{id}.
func NewCancelThreadHandler(svc ThreadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := svc.Cancel(chi.URLParam(r, "id"))
		if errors.Is(err, jobs.ErrAlreadyTerminal) {
			response.Error(w, http.StatusConflict, "ALREADY_TERMINAL", "Thread has already finished",
				map[string]any{"thread_id": job.ThreadID, "state": job.State})
			return
		}
		if err != nil {
			writeJobError(w, err)
			return
		}
		response.JSON(w, map[string]any{
			"thread_id":        job.ThreadID,
			"state":            job.State,
			"cancel_requested": job.CancelRequested,
		})
	}
}

// failureDetails names the failed index and what was already published.
func failureDetails(job models.ThreadJob) map[string]any {
	ids := job.PostIDs()
	details := map[string]any{
		"thread_id":       job.ThreadID,
		"published_count": len(ids),
		"tweet_ids":       ids,
	}
	if job.Error != nil {
		details["cause"] = job.Error.Message
		if job.Error.FailedAtIndex != nil {
			details["failed_at_index"] = *job.Error.FailedAtIndex
		}
		if job.Error.StatusCode != 0 {
			details["status_code"] = job.Error.StatusCode
		}
	}
	return details
}

func writeDecodeError(w http.ResponseWriter, err error) {
	var fe *fieldError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &fe):
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", fe.Error(),
			map[string]string{"field": fe.Field})
	case errors.As(err, &tooLarge):
		response.Error(w, http.StatusRequestEntityTooLarge, "INVALID_REQUEST", "Request body too large", nil)
	default:
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
	}
}

// writeSubmitError maps errors raised before a job exists.
func writeSubmitError(w http.ResponseWriter, err error) {
	var ve *thread.ValidationError
	switch {
	case errors.As(err, &ve):
		response.Error(w, http.StatusBadRequest, validationCode(ve), ve.Error(), validationDetails(ve))
	case errors.Is(err, publisher.ErrNotConfigured):
		response.Error(w, http.StatusServiceUnavailable, "NOT_CONFIGURED", err.Error(), nil)
	case errors.Is(err, jobs.ErrShuttingDown):
		response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Server is shutting down", nil)
	default:
		slog.Error("submitting thread failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to submit thread", nil)
	}
}

func writeJobError(w http.ResponseWriter, err error) {
	if errors.Is(err, jobs.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Thread not found", nil)
		return
	}
	slog.Error("thread lookup failed", "error", err)
	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read thread", nil)
}

func validationCode(ve *thread.ValidationError) string {
	switch {
	case errors.Is(ve, thread.ErrEmptyThread):
		return "EMPTY_THREAD"
	case errors.Is(ve, thread.ErrTooManyPosts):
		return "TOO_MANY_POSTS"
	case errors.Is(ve, thread.ErrBlankPost):
		return "BLANK_POST"
	case errors.Is(ve, thread.ErrPostTooLong):
		return "POST_TOO_LONG"
	default:
		return "INVALID_REQUEST"
	}
}

func validationDetails(ve *thread.ValidationError) any {
	switch {
	case errors.Is(ve, thread.ErrTooManyPosts):
		return map[string]int{"limit": ve.Limit, "actual": ve.Actual}
	case errors.Is(ve, thread.ErrBlankPost):
		return map[string]int{"index": ve.Index}
	case errors.Is(ve, thread.ErrPostTooLong):
		return map[string]int{"index": ve.Index, "length": ve.Length, "limit": ve.Limit}
	default:
		return nil
	}
}

func validState(s models.JobState) bool {
	switch s {
	case models.JobStatePending, models.JobStateRunning, models.JobStateCompleted,
		models.JobStateFailed, models.JobStateCancelled:
		return true
	}
	return false
}

func queryInt(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
