package controllers

import (
	"net/http"

	"github.com/osvaldoandrade/personaq/internal/services"

	"github.com/gin-gonic/gin"
)

type getResultController struct{ svc services.JourneyService }

func NewGetResultController(svc services.JourneyService) *getResultController {
	return &getResultController{svc}
}

func (h *getResultController) Handle(c *gin.Context) {
	res, err := h.svc.GetResult(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
