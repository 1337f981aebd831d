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
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianRefine/services/refine/apply"
	"github.com/AleutianAI/AleutianRefine/services/refine/telemetry"
	"github.com/AleutianAI/AleutianRefine/services/refine/workspace"
)

// Handlers serves the refine HTTP API.
type Handlers struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandlers creates handlers for svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc, logger: slog.Default().With("component", "refine.Handlers")}
}

// HandleHealth handles GET /v1/refine/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

// HandleProjects handles GET /v1/refine/projects.
func (h *Handlers) HandleProjects(c *gin.Context) {
	ids, err := h.svc.Projects()
	if err != nil {
		h.fail(c, "HandleProjects", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	c.JSON(http.StatusOK, ProjectsResponse{Projects: ids})
}

// HandleAssess handles POST /v1/refine/projects/:id/assess.
//
// Response:
//
//	200 OK: evidence.Assessment
//	400 Bad Request: invalid project id
//	404 Not Found: no such project
func (h *Handlers) HandleAssess(c *gin.Context) {
	a, err := h.svc.Assess(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "HandleAssess", err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// HandleAssessment handles GET /v1/refine/projects/:id/assessment.
func (h *Handlers) HandleAssessment(c *gin.Context) {
	a, err := h.svc.Assessment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "HandleAssessment", err)
		return
	}
	c.JSON(http.StatusOK, a)
}

// HandleClusters handles GET /v1/refine/projects/:id/clusters?limit=N.
func (h *Handlers) HandleClusters(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.badRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	rep, err := h.svc.Clusters(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.fail(c, "HandleClusters", err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// HandlePlan handles POST /v1/refine/projects/:id/plan.
//
// Request Body:
//
//	PlanRequest (optional)
//
// Response:
//
//	200 OK: plan.Plan
//	400 Bad Request: invalid options
//	404 Not Found: project not assessed
func (h *Handlers) HandlePlan(c *gin.Context) {
	var req PlanRequest
	if !h.bindOptional(c, &req) {
		return
	}
	opts := req.options(h.svc.PlanDefaults())
	p, err := h.svc.Plan(c.Request.Context(), c.Param("id"), &opts)
	if err != nil {
		h.fail(c, "HandlePlan", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// HandleLastPlan handles GET /v1/refine/projects/:id/plan.
func (h *Handlers) HandleLastPlan(c *gin.Context) {
	p, err := h.svc.LastPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, "HandleLastPlan", err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// HandleImpact handles POST /v1/refine/projects/:id/impact.
func (h *Handlers) HandleImpact(c *gin.Context) {
	var req ImpactRequest
	if !h.bindOptional(c, &req) {
		return
	}
	rep, err := h.svc.Impact(c.Request.Context(), c.Param("id"), req.TransformIDs)
	if err != nil {
		h.fail(c, "HandleImpact", err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

// HandleApply handles POST /v1/refine/projects/:id/apply.
//
// Response:
//
//	200 OK: apply.ApplyResult, including blocked and failed applies
//	404 Not Found: no plan for the project
//	409 Conflict: apply in progress or dirty worktree
//	500 Internal Server Error: backup could not be created
func (h *Handlers) HandleApply(c *gin.Context) {
	var req ApplyRequest
	if !h.bindOptional(c, &req) {
		return
	}
	res, err := h.svc.Apply(c.Request.Context(), c.Param("id"), ApplyOptions{
		TransformIDs:      req.TransformIDs,
		DryRun:            req.DryRun,
		RollbackOnFailure: req.RollbackOnFailure,
		RunTests:          req.RunTests,
		TestScope:         req.TestScope,
	})
	if err != nil {
		h.fail(c, "HandleApply", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleRollback handles POST /v1/refine/projects/:id/rollback.
func (h *Handlers) HandleRollback(c *gin.Context) {
	var req RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "backup_id must be a backup uuid")
		return
	}
	res, err := h.svc.Rollback(c.Request.Context(), c.Param("id"), req.BackupID)
	if err != nil {
		h.fail(c, "HandleRollback", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandleDeleteProject handles DELETE /v1/refine/projects/:id.
func (h *Handlers) HandleDeleteProject(c *gin.Context) {
	if err := h.svc.DeleteProject(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, "HandleDeleteProject", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// bindOptional decodes a JSON body when one was sent.
func (h *Handlers) bindOptional(c *gin.Context, dst any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(c, "invalid request body")
		return false
	}
	return true
}

func (h *Handlers) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: "INVALID_REQUEST"})
}

// fail maps err to a status and code and writes the error response.
func (h *Handlers) fail(c *gin.Context, handler string, err error) {
	status, code := errorStatus(err)
	logger := telemetry.LoggerWithTrace(c.Request.Context(), h.logger).With(
		slog.String("request_id", c.GetString(requestIDKey)),
		slog.String("handler", handler),
		slog.String("project_id", c.Param("id")),
	)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", slog.String("error", err.Error()))
	} else {
		logger.Warn("request rejected", slog.String("code", code), slog.String("error", err.Error()))
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Code: code})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrInvalidInput), errors.Is(err, workspace.ErrInvalidProjectID):
		return http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, ErrProjectNotFound):
		return http.StatusNotFound, "PROJECT_NOT_FOUND"
	case errors.Is(err, ErrAssessmentNotFound):
		return http.StatusNotFound, "ASSESSMENT_NOT_FOUND"
	case errors.Is(err, ErrPlanNotFound):
		return http.StatusNotFound, "PLAN_NOT_FOUND"
	case errors.Is(err, ErrBackupNotFound):
		return http.StatusNotFound, "BACKUP_NOT_FOUND"
	case errors.Is(err, ErrApplyInProgress):
		return http.StatusConflict, "APPLY_IN_PROGRESS"
	case errors.Is(err, apply.ErrDirtyWorktree):
		return http.StatusConflict, "DIRTY_WORKTREE"
	case errors.Is(err, workspace.ErrTooManyFiles):
		return http.StatusRequestEntityTooLarge, "PROJECT_TOO_LARGE"
	case errors.Is(err, ErrBackupFailed):
		return http.StatusInternalServerError, "BACKUP_FAILED"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT"
	case errors.Is(err, context.Canceled):
		return 499, "CANCELLED"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}
