package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.ApiService/controllers"
	"gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.ApiService/middleware"
	container "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Container"
)

func main() {
	// Initialize dependency injection container
	ctr, err := container.NewApiContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	config := ctr.GetConfig()
	logger.Logger.Info().
		Str("backend", config.Database.Backend).
		Dur("window", config.Retention.Window).
		Msg("Starting API Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the store within the connect timeout
	initCtx, initCancel := context.WithTimeout(ctx, config.Database.ConnectTimeout+5*time.Second)
	readingRepo, err := ctr.GetReadingRepository(initCtx)
	initCancel()
	if err != nil {
		logger.FatalWithError(err, "Failed to initialize reading store")
	}

	ingestionService, err := ctr.GetIngestionService(ctx)
	if err != nil {
		logger.FatalWithError(err, "Failed to initialize ingestion")
	}
	healthChecker, err := ctr.GetHealthChecker(ctx)
	if err != nil {
		logger.FatalWithError(err, "Failed to initialize health checker")
	}

	sweeper, err := ctr.GetSweeper(ctx)
	if err != nil {
		logger.FatalWithError(err, "Failed to initialize retention sweeper")
	}
	if err := sweeper.Start(ctx); err != nil {
		logger.FatalWithError(err, "Failed to start retention sweeper")
	}

	// Initialize Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())

	// Configure CORS from config
	corsConfig := cors.Config{
		AllowOrigins:     config.CORS.AllowedOrigins,
		AllowMethods:     config.CORS.AllowedMethods,
		AllowHeaders:     config.CORS.AllowedHeaders,
		ExposeHeaders:    config.CORS.ExposedHeaders,
		AllowCredentials: config.CORS.AllowCredentials,
		MaxAge:           time.Duration(config.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	// Create controllers and register routes
	readingController := controllers.NewReadingController(ingestionService, readingRepo, logger)
	liveController := controllers.NewLiveController(ctr.GetHub(), controllers.LiveOptions{
		PingInterval: config.Hub.PingInterval,
		WriteTimeout: config.Hub.WriteTimeout,
	}, logger)
	healthController := controllers.NewHealthController(healthChecker, ctr.GetRegistry(), logger)

	readingController.RegisterRoutes(router)
	liveController.RegisterRoutes(router)
	healthController.RegisterRoutes(router)

	// Dashboard assets
	if info, err := os.Stat(config.Server.StaticDir); err == nil && info.IsDir() {
		router.NoRoute(gin.WrapH(http.FileServer(http.Dir(config.Server.StaticDir))))
		logger.Logger.Info().Str("dir", config.Server.StaticDir).Msg("Serving static files")
	}

	port := config.Server.Port

	// Create HTTP server with timeouts
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	// Start HTTP server in a goroutine
	go func() {
		logger.Info("HTTP server starting on port " + port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalWithError(err, "Failed to start HTTP server")
		}
	}()

	logger.Info("API service running... press Ctrl+C to stop")

	// Wait for shutdown signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutting down...")
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Server forced to shutdown")
	}
}
