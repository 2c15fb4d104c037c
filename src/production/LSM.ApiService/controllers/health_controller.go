package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.ApiService/health"
	logger "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Logger"
)

// HealthController handles health and metrics requests
type HealthController struct {
	checker  *health.HealthChecker
	gatherer prometheus.Gatherer
	logger   *logger.Logger
}

// NewHealthController creates a new health controller
func NewHealthController(checker *health.HealthChecker, gatherer prometheus.Gatherer, logger *logger.Logger) *HealthController {
	return &HealthController{
		checker:  checker,
		gatherer: gatherer,
		logger:   logger,
	}
}

// RegisterRoutes registers the health routes with Gin
func (c *HealthController) RegisterRoutes(router *gin.Engine) {
	router.GET("/health/live", c.HealthLive)
	router.GET("/health/ready", c.HealthReady)
	if c.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})))
	}
}

func (c *HealthController) HealthLive(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func (c *HealthController) HealthReady(ctx *gin.Context) {
	status, ready := c.checker.GetHealthStatus(ctx.Request.Context())
	if !ready {
		c.logger.Warn("Readiness check failed")
		ctx.JSON(http.StatusServiceUnavailable, status)
		return
	}
	ctx.JSON(http.StatusOK, status)
}
