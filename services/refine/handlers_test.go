// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package refine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianRefine/services/refine/apply"
	"github.com/AleutianAI/AleutianRefine/services/refine/evidence"
	"github.com/AleutianAI/AleutianRefine/services/refine/plan"
	"github.com/AleutianAI/AleutianRefine/services/refine/workspace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(svc *Service, limiter *ClientLimiter) *gin.Engine {
	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(svc), limiter)
	return router
}

func do(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandlers_Health(t *testing.T) {
	router := setupTestRouter(newFixture(t).svc, nil)

	w := do(t, router, http.MethodGet, "/v1/refine/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
}

func TestHandlers_RequestIDIsEchoed(t *testing.T) {
	router := setupTestRouter(newFixture(t).svc, nil)
	req := httptest.NewRequest(http.MethodGet, "/v1/refine/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestHandlers_Projects(t *testing.T) {
	router := setupTestRouter(newFixture(t, "calc").svc, nil)
	w := do(t, router, http.MethodGet, "/v1/refine/projects", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp ProjectsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"calc"}, resp.Projects)
}

func TestHandlers_Workflow(t *testing.T) {
	router := setupTestRouter(newFixture(t, "calc").svc, nil)
	base := "/v1/refine/projects/calc"

	w := do(t, router, http.MethodPost, base+"/assess", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var a evidence.Assessment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &a))
	assert.Equal(t, "calc", a.ProjectID)

	w = do(t, router, http.MethodGet, base+"/assessment", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, base+"/clusters?limit=3", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodPost, base+"/plan", PlanRequest{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var p plan.Plan
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	require.NotEmpty(t, p.Transforms)

	w = do(t, router, http.MethodGet, base+"/plan", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodPost, base+"/impact", ImpactRequest{TransformIDs: []string{p.Transforms[0].ID}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, http.MethodPost, base+"/apply", ApplyRequest{TransformIDs: []string{p.Transforms[0].ID}, DryRun: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res apply.ApplyResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.DryRun)
	require.Len(t, res.Results, 1)
	require.NotEmpty(t, res.Results[0].Changes)
	assert.Contains(t, res.Results[0].Changes[0].Diff, "@@")

	w = do(t, router, http.MethodPost, base+"/apply", ApplyRequest{TransformIDs: []string{p.Transforms[0].ID}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotEmpty(t, res.BackupID)

	w = do(t, router, http.MethodPost, base+"/rollback", RollbackRequest{BackupID: res.BackupID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, router, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, router, http.MethodGet, base+"/assessment", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlers_ErrorResponses(t *testing.T) {
	router := setupTestRouter(newFixture(t, "calc").svc, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"not assessed", http.MethodGet, "/v1/refine/projects/calc/assessment", nil, http.StatusNotFound, "ASSESSMENT_NOT_FOUND"},
		{"no plan", http.MethodGet, "/v1/refine/projects/calc/plan", nil, http.StatusNotFound, "PLAN_NOT_FOUND"},
		{"unknown project", http.MethodPost, "/v1/refine/projects/nope/assess", nil, http.StatusNotFound, "PROJECT_NOT_FOUND"},
		{"invalid id", http.MethodGet, "/v1/refine/projects/-bad/assessment", nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad limit", http.MethodGet, "/v1/refine/projects/calc/clusters?limit=x", nil, http.StatusBadRequest, "INVALID_REQUEST"},
		{"rollback without id", http.MethodPost, "/v1/refine/projects/calc/rollback", map[string]string{}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"rollback not uuid", http.MethodPost, "/v1/refine/projects/calc/rollback", RollbackRequest{BackupID: "x"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"test scope read as a flag", http.MethodPost, "/v1/refine/projects/calc/apply", ApplyRequest{TestScope: "-toolexec=/usr/bin/touch marker"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"test scope with spaces", http.MethodPost, "/v1/refine/projects/calc/apply", ApplyRequest{TestScope: "TestA -exec=sh"}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown backup", http.MethodPost, "/v1/refine/projects/calc/rollback", RollbackRequest{BackupID: "7f3c1a52-6a7e-4d3b-9a55-0f9e8f1d2c3b"}, http.StatusNotFound, "BACKUP_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, router, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decodeError(t, w).Code)
		})
	}
}

func TestHandlers_MalformedBody(t *testing.T) {
	router := setupTestRouter(newFixture(t, "calc").svc, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/refine/projects/calc/plan", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_MutatingEndpointsAreRateLimited(t *testing.T) {
	router := setupTestRouter(newFixture(t, "calc").svc, NewClientLimiter(0.001, 1))

	w := do(t, router, http.MethodPost, "/v1/refine/projects/calc/apply", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, http.MethodPost, "/v1/refine/projects/calc/rollback", RollbackRequest{BackupID: "7f3c1a52-6a7e-4d3b-9a55-0f9e8f1d2c3b"})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", decodeError(t, w).Code)

	// Reads are not limited.
	w = do(t, router, http.MethodGet, "/v1/refine/projects/calc/plan", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClientLimiter_PerClient(t *testing.T) {
	l := NewClientLimiter(0.001, 2)
	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("x: %w", ErrInvalidInput), http.StatusBadRequest, "INVALID_REQUEST"},
		{workspace.ErrInvalidProjectID, http.StatusBadRequest, "INVALID_REQUEST"},
		{ErrProjectNotFound, http.StatusNotFound, "PROJECT_NOT_FOUND"},
		{ErrApplyInProgress, http.StatusConflict, "APPLY_IN_PROGRESS"},
		{apply.ErrDirtyWorktree, http.StatusConflict, "DIRTY_WORKTREE"},
		{workspace.ErrTooManyFiles, http.StatusRequestEntityTooLarge, "PROJECT_TOO_LARGE"},
		{fmt.Errorf("backup: %w", ErrBackupFailed), http.StatusInternalServerError, "BACKUP_FAILED"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tt := range tests {
		status, code := errorStatus(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
		assert.Equal(t, tt.code, code, tt.err.Error())
	}
}
