// Package httpapi exposes the orchestrator's HTTP control plane (spec.md
// §6): job submission/cancellation/retry, robot registration/heartbeat, and
// schedule CRUD, grounded on the teacher's internal/handlers + gin router
// pattern.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/rpa-orchestrator/internal/domain"
	"github.com/yungbote/rpa-orchestrator/internal/engine"
	"github.com/yungbote/rpa-orchestrator/internal/logger"
	"github.com/yungbote/rpa-orchestrator/internal/rpaerrors"
)

// Handlers groups the gin handler methods bound to one Engine.
type Handlers struct {
	eng *engine.Engine
	log *logger.Logger
}

// NewHandlers constructs Handlers bound to eng.
func NewHandlers(eng *engine.Engine, log *logger.Logger) *Handlers {
	return &Handlers{eng: eng, log: log.With("component", "httpapi")}
}

// HealthCheck reports process liveness, matching the teacher's bare
// /healthcheck route.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type submitJobRequest struct {
	WorkflowID     string                 `json:"workflow_id" binding:"required"`
	WorkflowName   string                 `json:"workflow_name"`
	Workflow       map[string]interface{} `json:"workflow"`
	RobotID        string                 `json:"robot_id"`
	Priority       string                 `json:"priority"`
	Params         map[string]interface{} `json:"params"`
	CheckDuplicate bool                   `json:"check_duplicate"`
}

// SubmitJob handles POST /api/jobs.
func (h *Handlers) SubmitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var workflowJSON []byte
	if req.Workflow != nil {
		workflowJSON, _ = json.Marshal(req.Workflow)
	}
	job, err := h.eng.SubmitJob(engine.SubmitJobInput{
		WorkflowID:     req.WorkflowID,
		WorkflowName:   req.WorkflowName,
		WorkflowJSON:   workflowJSON,
		RobotID:        req.RobotID,
		Priority:       domain.ParsePriority(req.Priority),
		Params:         req.Params,
		CheckDuplicate: req.CheckDuplicate,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, jobResponse(job))
}

// GetJob handles GET /api/jobs/:id.
func (h *Handlers) GetJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	job, ok := h.eng.Queue.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, jobResponse(job))
}

type cancelJobRequest struct {
	Reason string `json:"reason"`
}

// CancelJob handles POST /api/jobs/:id/cancel.
func (h *Handlers) CancelJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	var req cancelJobRequest
	_ = c.ShouldBindJSON(&req)
	if err := h.eng.CancelJob(id, req.Reason); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

// RetryJob handles POST /api/jobs/:id/retry.
func (h *Handlers) RetryJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}
	job, err := h.eng.RetryJob(id)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusAccepted, jobResponse(job))
}

// QueueStats handles GET /api/queue/stats.
func (h *Handlers) QueueStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.eng.GetQueueStats())
}

type registerRobotRequest struct {
	ID                string              `json:"id" binding:"required"`
	Name              string              `json:"name"`
	Environment       string              `json:"environment"`
	Tags              []string            `json:"tags"`
	Capabilities      domain.Capabilities `json:"capabilities"`
	MaxConcurrentJobs int                 `json:"max_concurrent_jobs"`
}

// RegisterRobot handles POST /api/robots.
func (h *Handlers) RegisterRobot(c *gin.Context) {
	var req registerRobotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, err := h.eng.RegisterRobot(engine.RegisterRobotInput{
		ID:                req.ID,
		Name:              req.Name,
		Environment:       req.Environment,
		Tags:              toTagSet(req.Tags),
		Capabilities:      req.Capabilities,
		MaxConcurrentJobs: req.MaxConcurrentJobs,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

// GetRobot handles GET /api/robots/:id.
func (h *Handlers) GetRobot(c *gin.Context) {
	r, ok := h.eng.GetRobot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "robot not found"})
		return
	}
	c.JSON(http.StatusOK, r)
}

type robotStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// UpdateRobotStatus handles PATCH /api/robots/:id/status.
func (h *Handlers) UpdateRobotStatus(c *gin.Context) {
	var req robotStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.eng.UpdateRobotStatus(c.Param("id"), domain.RobotStatus(req.Status)); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// RobotHeartbeat handles POST /api/robots/:id/heartbeat.
func (h *Handlers) RobotHeartbeat(c *gin.Context) {
	if err := h.eng.RobotHeartbeat(c.Param("id"), -1); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type createScheduleRequest struct {
	Name           string `json:"name" binding:"required"`
	WorkflowID     string `json:"workflow_id" binding:"required"`
	Frequency      string `json:"frequency" binding:"required"`
	CronExpression string `json:"cron_expression"`
	Timezone       string `json:"timezone"`
	Priority       string `json:"priority"`
	Enabled        bool   `json:"enabled"`
}

// CreateSchedule handles POST /api/schedules.
func (h *Handlers) CreateSchedule(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sched, err := h.eng.CreateSchedule(engine.CreateScheduleInput{
		Name:           req.Name,
		WorkflowID:     req.WorkflowID,
		Frequency:      domain.ScheduleFrequency(req.Frequency),
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		Priority:       domain.ParsePriority(req.Priority),
		Enabled:        req.Enabled,
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, sched)
}

type toggleScheduleRequest struct {
	Enabled bool `json:"enabled"`
}

// ToggleSchedule handles PATCH /api/schedules/:id.
func (h *Handlers) ToggleSchedule(c *gin.Context) {
	var req toggleScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.eng.ToggleSchedule(c.Param("id"), req.Enabled); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}

// DeleteSchedule handles DELETE /api/schedules/:id.
func (h *Handlers) DeleteSchedule(c *gin.Context) {
	if err := h.eng.DeleteSchedule(c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// UpcomingSchedules handles GET /api/schedules/upcoming.
func (h *Handlers) UpcomingSchedules(c *gin.Context) {
	c.JSON(http.StatusOK, h.eng.UpcomingSchedules(20))
}

func jobResponse(job *domain.Job) gin.H {
	return gin.H{
		"id":            job.ID,
		"workflow_id":   job.WorkflowID,
		"workflow_name": job.WorkflowName,
		"status":        job.Status,
		"priority":      job.Priority.String(),
		"robot_id":      job.RobotID,
		"progress":      job.Progress,
		"current_node":  job.CurrentNode,
		"created_at":    job.CreatedAt,
	}
}

func toTagSet(tags []string) map[string]bool {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]bool, len(tags))
	for _, t := range tags {
		out[t] = true
	}
	return out
}

func writeErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, rpaerrors.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, rpaerrors.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, rpaerrors.ErrInvalidTransition), errors.Is(err, rpaerrors.ErrConfiguration):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
