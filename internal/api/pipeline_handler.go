package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ajharbinger/dilution-monitor/internal/models"
	"github.com/ajharbinger/dilution-monitor/internal/services"
)

// PipelineHandler handles pipeline management operations
type PipelineHandler struct {
	pipeline    PipelineController
	defaultMode models.RunMode
}

// NewPipelineHandler creates a new pipeline handler. Requests without a mode use defaultMode.
func NewPipelineHandler(pipeline PipelineController, defaultMode models.RunMode) *PipelineHandler {
	if defaultMode == "" {
		defaultMode = models.ModeFull
	}
	return &PipelineHandler{pipeline: pipeline, defaultMode: defaultMode}
}

// RunRequest is the optional body of the run and start endpoints
type RunRequest struct {
	Mode         string `json:"mode"`
	Resume       bool   `json:"resume"`
	MaxCompanies int    `json:"max_companies" binding:"gte=0"`
	Reclassify   bool   `json:"reclassify"`
}

func (h *PipelineHandler) bindOptions(c *gin.Context) (services.RunOptions, bool) {
	var req RunRequest
	if c.Request.Body != nil && c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, "Invalid request body: "+err.Error())
			return services.RunOptions{}, false
		}
	}

	mode := h.defaultMode
	if req.Mode != "" {
		parsed, err := models.ParseRunMode(req.Mode)
		if err != nil {
			badRequest(c, err.Error())
			return services.RunOptions{}, false
		}
		mode = parsed
	}

	return services.RunOptions{
		Mode:         mode,
		Resume:       req.Resume,
		MaxCompanies: req.MaxCompanies,
		Reclassify:   req.Reclassify,
	}, true
}

// RunPipeline starts one run in the background and returns its ID.
// Answers 409 while another run holds the lock.
func (h *PipelineHandler) RunPipeline(c *gin.Context) {
	opts, ok := h.bindOptions(c)
	if !ok {
		return
	}

	runID, err := h.pipeline.Trigger(c.Request.Context(), opts)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":   "Pipeline run started",
		"run_id":    runID,
		"options":   opts,
		"timestamp": time.Now(),
	})
}

// StartPipeline starts the interval scheduler
func (h *PipelineHandler) StartPipeline(c *gin.Context) {
	opts, ok := h.bindOptions(c)
	if !ok {
		return
	}

	if err := h.pipeline.Start(opts); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Pipeline scheduler started",
		"options":   opts,
		"timestamp": time.Now(),
	})
}

// StopPipeline stops the interval scheduler
func (h *PipelineHandler) StopPipeline(c *gin.Context) {
	if err := h.pipeline.Stop(); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Pipeline scheduler stopped",
		"timestamp": time.Now(),
	})
}

// GetPipelineStatus returns the scheduler state with current and last run stats
func (h *PipelineHandler) GetPipelineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pipeline_status": h.pipeline.Status(),
		"timestamp":       time.Now(),
	})
}
