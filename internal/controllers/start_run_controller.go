package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/personaq/internal/middleware"
	"github.com/osvaldoandrade/personaq/internal/services"

	"github.com/gin-gonic/gin"
)

type startRunController struct{ svc services.OrchestratorService }

func NewStartRunController(svc services.OrchestratorService) *startRunController {
	return &startRunController{svc}
}

type startRunReq struct {
	TaskIndices []int  `json:"taskIndices,omitempty"`
	RunID       string `json:"runId,omitempty"`
	ReportID    string `json:"reportId,omitempty"`
	Webhook     string `json:"webhook,omitempty"`
}

func (h *startRunController) Handle(c *gin.Context) {
	var req startRunReq
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	st, err := h.svc.StartRun(c.Request.Context(), services.StartRunRequest{
		ScenarioID:  c.Param("id"),
		TaskIndices: req.TaskIndices,
		RunID:       req.RunID,
		ReportID:    req.ReportID,
		Webhook:     req.Webhook,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	middleware.GetLogger(c).Info("run accepted", "run_id", st.RunID, "scenario_id", st.ScenarioID, "subject", middleware.Subject(c))
	c.JSON(http.StatusAccepted, st)
}
