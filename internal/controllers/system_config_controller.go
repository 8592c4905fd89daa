package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/personaq/internal/services"
	"github.com/osvaldoandrade/personaq/pkg/domain"

	"github.com/gin-gonic/gin"
)

type systemConfigController struct{ svc services.ScenarioService }

func NewSystemConfigController(svc services.ScenarioService) *systemConfigController {
	return &systemConfigController{svc}
}

func (h *systemConfigController) Put(c *gin.Context) {
	var cfg domain.SystemConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	out, err := h.svc.SaveSystemConfig(c.Request.Context(), &cfg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *systemConfigController) Get(c *gin.Context) {
	out, err := h.svc.GetSystemConfig(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
