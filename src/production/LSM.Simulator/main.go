package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	container "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Container"
	"gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Simulator/generator"
)

func main() {
	ctr, err := container.NewSimulatorContainer()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize container: %v", err))
	}

	logger := ctr.GetLogger()
	config := ctr.GetConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Logger.Info().
		Str("api", config.Client.APIServiceURL).
		Dur("interval", config.Interval).
		Msg("Sensor simulator started")

	generator.New(uint64(time.Now().UnixNano())).Run(ctx, ctr.GetAPIClient(), config.Interval, logger)

	logger.Info("Sensor simulator stopped")
}
