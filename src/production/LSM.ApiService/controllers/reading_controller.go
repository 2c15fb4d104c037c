package controllers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.ApiService/middleware"
	lsmerrors "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Errors"
	logger "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Logger"
	lsmmodels "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Models"
	interfaces "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Repository/Interfaces"
)

const maxBodyBytes = 1 << 20

// Ingester stores and publishes one decoded payload
type Ingester interface {
	Ingest(ctx context.Context, raw map[string]interface{}) (lsmmodels.Reading, error)
}

// ReadingController handles ingestion and window queries
type ReadingController struct {
	ingester    Ingester
	readingRepo interfaces.ReadingRepository
	logger      *logger.Logger
}

// NewReadingController creates a new reading controller
func NewReadingController(ingester Ingester, readingRepo interfaces.ReadingRepository, logger *logger.Logger) *ReadingController {
	return &ReadingController{
		ingester:    ingester,
		readingRepo: readingRepo,
		logger:      logger,
	}
}

// RegisterRoutes registers the reading routes with Gin
func (c *ReadingController) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/data", c.PostData)
		api.GET("/latest", c.GetLatest)
		api.GET("/history", c.GetHistory)
	}
}

func (c *ReadingController) PostData(ctx *gin.Context) {
	log := middleware.GetLoggerFromGinContext(ctx, c.logger)

	dec := json.NewDecoder(http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxBodyBytes))
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil || raw == nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "request body must be a JSON object"})
		return
	}

	reading, err := c.ingester.Ingest(ctx.Request.Context(), raw)
	switch {
	case err == nil:
		ctx.JSON(http.StatusCreated, gin.H{
			"message": "Data saved successfully!",
			"reading": reading,
		})
	case lsmerrors.IsValidation(err):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.ErrorWithError(err, "Error saving data")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save data"})
	}
}

// GetLatest returns the newest reading in the window, or null when the window is empty
func (c *ReadingController) GetLatest(ctx *gin.Context) {
	reading, err := c.readingRepo.Latest(ctx.Request.Context())
	if lsmerrors.IsNotFound(err) {
		ctx.JSON(http.StatusOK, nil)
		return
	}
	if err != nil {
		middleware.GetLoggerFromGinContext(ctx, c.logger).ErrorWithError(err, "Error fetching latest data")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch latest data"})
		return
	}

	ctx.JSON(http.StatusOK, reading)
}

// GetHistory returns every reading in the window, oldest first
func (c *ReadingController) GetHistory(ctx *gin.Context) {
	readings, err := c.readingRepo.WindowAll(ctx.Request.Context())
	if err != nil {
		middleware.GetLoggerFromGinContext(ctx, c.logger).ErrorWithError(err, "Error fetching historical data")
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch historical data"})
		return
	}
	if readings == nil {
		readings = []lsmmodels.Reading{}
	}

	ctx.JSON(http.StatusOK, readings)
}
