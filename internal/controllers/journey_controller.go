package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/personaq/internal/services"

	"github.com/gin-gonic/gin"
)

type journeyController struct {
	svc  services.JourneyService
	kind scopeKind
}

func NewRunJourneyController(svc services.JourneyService) *journeyController {
	return &journeyController{svc: svc, kind: byRun}
}

func NewReportJourneyController(svc services.JourneyService) *journeyController {
	return &journeyController{svc: svc, kind: byReport}
}

func (h *journeyController) Results(c *gin.Context) {
	out, err := h.svc.ListResults(c.Request.Context(), scopeFrom(c, h.kind))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": out, "count": len(out)})
}

func (h *journeyController) Graph(c *gin.Context) {
	g, err := h.svc.GetGraph(c.Request.Context(), scopeFrom(c, h.kind))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

func (h *journeyController) Metrics(c *gin.Context) {
	m, err := h.svc.GetMetricsSummary(c.Request.Context(), scopeFrom(c, h.kind))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}
