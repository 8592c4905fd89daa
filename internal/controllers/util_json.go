package controllers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/osvaldoandrade/personaq/internal/middleware"
	"github.com/osvaldoandrade/personaq/internal/repository"
	"github.com/osvaldoandrade/personaq/internal/services"
	"github.com/osvaldoandrade/personaq/pkg/domain"

	"github.com/gin-gonic/gin"
)

// bindOptionalJSON decodes the body into dst; an empty body is not an error.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		status := http.StatusBadRequest
		if verr.NotFound {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, repository.ErrRunNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
	case errors.Is(err, repository.ErrRunExists):
		c.JSON(http.StatusConflict, gin.H{"error": "run already exists"})
	case errors.Is(err, repository.ErrRunTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "run already finished"})
	default:
		middleware.GetLogger(c).Error("request failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type scopeKind int

const (
	byRun scopeKind = iota
	byReport
)

func scopeFrom(c *gin.Context, kind scopeKind) services.Scope {
	s := services.Scope{}
	if kind == byRun {
		s.RunID = c.Param("id")
	} else {
		s.ReportID = c.Param("id")
	}
	if p := strings.TrimSpace(c.Query("persona")); p != "" {
		s.Persona = domain.ParsePersona(p)
	}
	return s
}
