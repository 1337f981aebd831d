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
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const requestIDKey = "request_id"

// maxLimitedClients bounds the per-client limiter table.
const maxLimitedClients = 1024

// RegisterRoutes registers the /refine endpoints on rg.
//
// Endpoints:
//
//	GET    /refine/health
//	GET    /refine/projects
//	POST   /refine/projects/:id/assess
//	GET    /refine/projects/:id/assessment
//	GET    /refine/projects/:id/clusters
//	POST   /refine/projects/:id/plan
//	GET    /refine/projects/:id/plan
//	POST   /refine/projects/:id/impact
//	POST   /refine/projects/:id/apply     (rate limited)
//	POST   /refine/projects/:id/rollback  (rate limited)
//	DELETE /refine/projects/:id
//
// limiter may be nil to leave mutating endpoints unlimited.
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers, limiter *ClientLimiter) {
	refine := rg.Group("/refine")
	refine.Use(RequestID())
	{
		refine.GET("/health", handlers.HandleHealth)
		refine.GET("/projects", handlers.HandleProjects)

		project := refine.Group("/projects/:id")
		{
			project.POST("/assess", handlers.HandleAssess)
			project.GET("/assessment", handlers.HandleAssessment)
			project.GET("/clusters", handlers.HandleClusters)
			project.POST("/plan", handlers.HandlePlan)
			project.GET("/plan", handlers.HandleLastPlan)
			project.POST("/impact", handlers.HandleImpact)
			project.DELETE("", handlers.HandleDeleteProject)

			mutating := project.Group("")
			if limiter != nil {
				mutating.Use(limiter.Middleware())
			}
			mutating.POST("/apply", handlers.HandleApply)
			mutating.POST("/rollback", handlers.HandleRollback)
		}
	}
}

// RequestID propagates X-Request-ID, minting one when absent.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// ClientLimiter is a token bucket per client IP.
type ClientLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	clients *lru.Cache[string, *rate.Limiter]
}

// NewClientLimiter allows each client perSecond requests with the given
// burst. The least recently seen clients are forgotten first.
func NewClientLimiter(perSecond float64, burst int) *ClientLimiter {
	if burst < 1 {
		burst = 1
	}
	clients, _ := lru.New[string, *rate.Limiter](maxLimitedClients)
	return &ClientLimiter{limit: rate.Limit(perSecond), burst: burst, clients: clients}
}

// Allow reports whether client may make a request now.
func (l *ClientLimiter) Allow(client string) bool {
	l.mu.Lock()
	lim, ok := l.clients.Get(client)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.clients.Add(client, lim)
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Middleware rejects requests over the limit with 429.
func (l *ClientLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "too many mutating requests",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}
