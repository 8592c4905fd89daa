package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/personaq/internal/services"

	"github.com/gin-gonic/gin"
)

type getScenarioController struct{ svc services.ScenarioService }

func NewGetScenarioController(svc services.ScenarioService) *getScenarioController {
	return &getScenarioController{svc}
}

func (h *getScenarioController) Handle(c *gin.Context) {
	sc, err := h.svc.GetScenario(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sc)
}
