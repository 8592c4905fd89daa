package app

import (
	"context"
	"net/http"
	"time"

	"github.com/osvaldoandrade/personaq/internal/controllers"
	"github.com/osvaldoandrade/personaq/internal/middleware"
	"github.com/osvaldoandrade/personaq/pkg/auth"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	app.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	app.Engine.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := app.Persistence.Health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := app.Engine.Group("/v1/personaq", middleware.AuthMiddleware(app.Validator, app.Config))
	read := v1.Group("", middleware.RequireScope(auth.ScopeRead))
	write := v1.Group("", middleware.RequireScope(auth.ScopeWrite))
	run := v1.Group("", middleware.RequireScope(auth.ScopeRun))
	{
		sysCfg := controllers.NewSystemConfigController(app.Scenarios)
		write.POST("/scenarios", controllers.NewSaveScenarioController(app.Scenarios).Handle)
		read.GET("/scenarios/:id", controllers.NewGetScenarioController(app.Scenarios).Handle)
		write.PUT("/system-config", sysCfg.Put)
		read.GET("/system-config", sysCfg.Get)

		run.POST("/scenarios/:id/runs", middleware.RateLimitStartRun(app.RateLimiter, app.Config), controllers.NewStartRunController(app.Orchestrator).Handle)

		runs := controllers.NewRunStatusController(app.Tracker)
		read.GET("/runs", runs.List)
		read.GET("/runs/:id", runs.Get)
		run.DELETE("/runs/:id", runs.Acknowledge)
		run.POST("/runs/:id/reconcile", runs.Reconcile)

		byRun := controllers.NewRunJourneyController(app.Journey)
		read.GET("/runs/:id/results", byRun.Results)
		read.GET("/runs/:id/graph", byRun.Graph)
		read.GET("/runs/:id/metrics", byRun.Metrics)

		byReport := controllers.NewReportJourneyController(app.Journey)
		read.GET("/reports/:id/results", byReport.Results)
		read.GET("/reports/:id/graph", byReport.Graph)
		read.GET("/reports/:id/metrics", byReport.Metrics)

		read.GET("/results/:id", controllers.NewGetResultController(app.Journey).Handle)
	}
}
