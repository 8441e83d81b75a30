package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AnvinX1/qkd-LAB/internal/journal"
	"github.com/AnvinX1/qkd-LAB/pkg/models"
)

const maxReadyWait = 2 * time.Minute

func (s *Server) newGinEngine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	{
		api.GET("/version", s.handleAPIVersion)
		api.GET("/status", s.handleAPIStatus)
		api.GET("/ready", s.handleAPIReady)
		api.GET("/events", s.handleAPIEvents)
	}

	return r
}

// handleHealth reports the host supervisor's own liveness, not the
// backend's. The backend's state is under /api/status.
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleAPIVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": s.version,
		"commit":  s.commit,
	})
}

func (s *Server) handleAPIStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"backend": s.supervisor.Status()})
}

// handleAPIReady reports backend readiness. With ?wait=<duration> it
// blocks until the backend is ready or the wait elapses, so the UI can
// long-poll instead of spinning.
func (s *Server) handleAPIReady(c *gin.Context) {
	if raw := strings.TrimSpace(c.Query("wait")); raw != "" {
		wait, err := time.ParseDuration(raw)
		if err != nil || wait < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wait duration"})
			return
		}
		if wait > maxReadyWait {
			wait = maxReadyWait
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), wait)
		defer cancel()
		s.supervisor.WaitReady(ctx)
	}

	c.JSON(http.StatusOK, gin.H{"ready": s.supervisor.Ready()})
}

func (s *Server) handleAPIEvents(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "journal not enabled"})
		return
	}

	filter := journal.ListFilter{
		RunID: strings.TrimSpace(c.Query("run_id")),
	}

	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = v
	}

	kinds, err := parseKindQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter.Kinds = kinds

	events, err := s.journal.List(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if events == nil {
		events = []*models.BackendEvent{}
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

func parseKindQuery(c *gin.Context) ([]models.EventKind, error) {
	raw := c.QueryArray("kind")
	if len(raw) == 0 {
		// Also accept a comma-separated list.
		if v := strings.TrimSpace(c.Query("kind")); v != "" {
			raw = strings.Split(v, ",")
		}
	}

	var kinds []models.EventKind
	for _, part := range raw {
		k := models.EventKind(strings.TrimSpace(part))
		if k == "" {
			continue
		}
		if !models.ValidEventKind(k) {
			return nil, &apiError{msg: "invalid event kind"}
		}
		kinds = append(kinds, k)
	}

	return kinds, nil
}

type apiError struct{ msg string }

func (e *apiError) Error() string { return e.msg }
