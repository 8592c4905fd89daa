package controllers

import (
	"net/http"
	"strings"

	"github.com/osvaldoandrade/personaq/internal/services"
	"github.com/osvaldoandrade/personaq/pkg/domain"

	"github.com/gin-gonic/gin"
)

type runStatusController struct{ svc services.RunTracker }

func NewRunStatusController(svc services.RunTracker) *runStatusController {
	return &runStatusController{svc}
}

func (h *runStatusController) Get(c *gin.Context) {
	st, ok := h.svc.Status(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *runStatusController) List(c *gin.Context) {
	status := domain.RunStatus(strings.TrimSpace(c.Query("status")))
	switch status {
	case "", domain.RunInProgress, domain.RunCompleted, domain.RunFailed, domain.RunPartialFailure:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": h.svc.List(status)})
}

// Acknowledge drops the run's in-memory status; persisted results stay.
func (h *runStatusController) Acknowledge(c *gin.Context) {
	if !h.svc.Acknowledge(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

type reconcileReq struct {
	TotalTasks int `json:"totalTasks,omitempty"`
}

func (h *runStatusController) Reconcile(c *gin.Context) {
	var req reconcileReq
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	st, err := h.svc.Reconcile(c.Request.Context(), c.Param("id"), req.TotalTasks)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
