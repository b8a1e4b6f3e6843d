package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/applyloop/agent/internal/domain/policy"
	"github.com/applyloop/agent/internal/domain/posting"
	"github.com/applyloop/agent/internal/domain/profile"
	"github.com/applyloop/agent/internal/domain/run"
	"github.com/gin-gonic/gin"
)

// WorkflowEngine is the subset of engine.Engine the HTTP surface depends on.
type WorkflowEngine interface {
	Start(ctx context.Context, userID string, prof profile.Profile, pol policy.Policy, filters posting.ListFilters) error
	Stop(userID string) error
	Status(userID string) (run.Run, bool)
	Subscribe(userID string, sinceSeq uint64) (<-chan run.Event, func())
}

type WorkflowHandler struct {
	engine WorkflowEngine
}

func NewWorkflowHandler(engine WorkflowEngine) *WorkflowHandler {
	return &WorkflowHandler{engine: engine}
}

type startRequest struct {
	UserID  string             `json:"user_id" binding:"required"`
	Profile profile.Profile    `json:"profile" binding:"required"`
	Policy  policy.Policy      `json:"policy" binding:"required"`
	Filters posting.ListFilters `json:"filters"`
}

func (h *WorkflowHandler) Start(ctx *gin.Context) {
	var req startRequest
	if !BindJSON(ctx, &req) {
		return
	}

	err := h.engine.Start(ctx.Request.Context(), req.UserID, req.Profile, req.Policy, req.Filters)
	switch {
	case err == nil:
		ctx.JSON(http.StatusAccepted, gin.H{"accepted": true})
	case errors.Is(err, run.ErrAlreadyRunning):
		RespondConflict(ctx, "already_running", "a workflow is already running for this user")
	default:
		RespondInternal(ctx, "failed to start workflow")
	}
}

func (h *WorkflowHandler) Kill(ctx *gin.Context) {
	userID := ctx.Param("user_id")
	err := h.engine.Stop(userID)
	switch {
	case err == nil:
		ctx.JSON(http.StatusOK, gin.H{"stopped": true})
	case errors.Is(err, run.ErrNotRunning):
		RespondNotFound(ctx, "no workflow running for this user")
	default:
		RespondInternal(ctx, "failed to stop workflow")
	}
}

func (h *WorkflowHandler) Status(ctx *gin.Context) {
	userID := ctx.Param("user_id")
	snapshot, ok := h.engine.Status(userID)
	if !ok {
		RespondNotFound(ctx, "no run found for this user")
		return
	}
	ctx.JSON(http.StatusOK, snapshot)
}

// Stream serves the run event log as SSE, replaying the bus's ring buffer
// before switching to live events, same framing the teacher never had but
// the teacher's gin.Context flush discipline (WriteHeader then manual
// Flush per chunk) carries over directly.
func (h *WorkflowHandler) Stream(ctx *gin.Context) {
	userID := ctx.Param("user_id")

	flusher, ok := ctx.Writer.(http.Flusher)
	if !ok {
		RespondInternal(ctx, "streaming unsupported")
		return
	}

	ch, unsubscribe := h.engine.Subscribe(userID, 0)
	defer unsubscribe()

	ctx.Header("Content-Type", "text/event-stream")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Header("Connection", "keep-alive")
	ctx.Writer.WriteHeader(http.StatusOK)
	flusher.Flush()

	reqCtx := ctx.Request.Context()
	for {
		select {
		case evt, open := <-ch:
			if !open {
				return
			}
			if err := writeSSE(ctx.Writer, evt); err != nil {
				return
			}
			flusher.Flush()
		case <-reqCtx.Done():
			return
		}
	}
}

func writeSSE(w io.Writer, evt run.Event) error {
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Type, b)
	return err
}
