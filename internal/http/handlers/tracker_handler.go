package handlers

import (
	"context"
	"net/http"

	"github.com/applyloop/agent/internal/actorctx"
	"github.com/applyloop/agent/internal/domain/application"
	"github.com/applyloop/agent/internal/tracker"
	"github.com/gin-gonic/gin"
)

// RetryEngine is the subset of engine.Engine the retry endpoint depends on.
type RetryEngine interface {
	Retry(ctx context.Context, userID, jobID string) error
}

type TrackerHandler struct {
	tracker tracker.Tracker
	engine  RetryEngine
}

func NewTrackerHandler(t tracker.Tracker, e RetryEngine) *TrackerHandler {
	return &TrackerHandler{tracker: t, engine: e}
}

type applicationsResponse struct {
	Summary      applicationsSummary   `json:"summary"`
	Applications []application.Record `json:"applications"`
}

type applicationsSummary struct {
	Total     int `json:"total"`
	Submitted int `json:"submitted"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Queued    int `json:"queued"`
}

func (h *TrackerHandler) List(ctx *gin.Context) {
	userID := ctx.Param("user_id")

	var statusFilter *application.Status
	if raw := ctx.Query("status"); raw != "" {
		s := application.Status(raw)
		if !s.IsValid() {
			RespondBadRequest(ctx, "invalid status filter", nil)
			return
		}
		statusFilter = &s
	}

	records, err := h.tracker.List(ctx.Request.Context(), userID, statusFilter)
	if err != nil {
		RespondInternal(ctx, "failed to list applications")
		return
	}

	summary := applicationsSummary{}
	for _, r := range records {
		summary.Total++
		switch r.Status {
		case application.StatusSubmitted:
			summary.Submitted++
		case application.StatusFailed:
			summary.Failed++
		case application.StatusSkipped:
			summary.Skipped++
		case application.StatusQueued:
			summary.Queued++
		}
	}

	ctx.JSON(http.StatusOK, applicationsResponse{Summary: summary, Applications: records})
}

func (h *TrackerHandler) Retry(ctx *gin.Context) {
	userID := ctx.Param("user_id")
	jobID := ctx.Param("job_id")

	retryCtx := actorctx.WithUserID(context.Background(), userID)
	go h.engine.Retry(retryCtx, userID, jobID)

	ctx.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (h *TrackerHandler) Clear(ctx *gin.Context) {
	userID := ctx.Param("user_id")
	if err := h.tracker.Clear(ctx.Request.Context(), userID); err != nil {
		RespondInternal(ctx, "failed to clear applications")
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"cleared": true})
}
