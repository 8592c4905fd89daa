package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/personaq/internal/services"
	"github.com/osvaldoandrade/personaq/pkg/domain"

	"github.com/gin-gonic/gin"
)

type saveScenarioController struct{ svc services.ScenarioService }

func NewSaveScenarioController(svc services.ScenarioService) *saveScenarioController {
	return &saveScenarioController{svc}
}

func (h *saveScenarioController) Handle(c *gin.Context) {
	var sc domain.Scenario
	if err := c.ShouldBindJSON(&sc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	out, err := h.svc.SaveScenario(c.Request.Context(), &sc)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
