package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/threadpost/internal/api/handler"
	"github.com/kiranshivaraju/threadpost/internal/jobs"
	"github.com/kiranshivaraju/threadpost/pkg/models"
)

// stubThreadService submits every request as "thread_stub" and returns
// waitErr from Wait.
type stubThreadService struct {
	waitErr error
}

func (s *stubThreadService) Submit(context.Context, models.ThreadRequest) (string, error) {
	return "thread_stub", nil
}

func (s *stubThreadService) Wait(context.Context, string) (models.ThreadJob, error) {
	return models.ThreadJob{}, s.waitErr
}

func (s *stubThreadService) Get(string) (models.ThreadJob, error) {
	return models.ThreadJob{}, jobs.ErrNotFound
}

func (s *stubThreadService) List() []models.JobSummary { return nil }

func (s *stubThreadService) Cancel(string) (models.ThreadJob, error) {
	return models.ThreadJob{}, jobs.ErrNotFound
}

func TestPostThread_JobGoneBeforeWaitReturns500(t *testing.T) {
	h := handler.NewPostThreadHandler(&stubThreadService{waitErr: jobs.ErrNotFound}, time.Second)

	req := httptest.NewRequest(http.MethodPost, "/post-thread", strings.NewReader(`{"texts":["a"]}`))
	rec := httptest.NewRecorder()
	h(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL_ERROR", errorCode(body))
	assert.Equal(t, "thread_stub", errorDetails(body)["thread_id"])
}

func TestPostThread_ClientGoneWritesNothing(t *testing.T) {
	h := handler.NewPostThreadHandler(&stubThreadService{waitErr: context.Canceled}, time.Second)

	req := httptest.NewRequest(http.MethodPost, "/post-thread", strings.NewReader(`{"texts":["a"]}`))
	rec := httptest.NewRecorder()
	h(rec, req)

	assert.Empty(t, rec.Body.String())
}
