// Package generator produces plausible landslide station readings for local testing.
package generator

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	logger "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Logger"
	lsmmodels "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Models"
)

// Thresholds above which a reading is reported as alarming
type Thresholds struct {
	RainStatus   float64
	SoilMoisture float64
	TiltDegrees  float64
}

var DefaultThresholds = Thresholds{
	RainStatus:   95,
	SoilMoisture: 80,
	TiltDegrees:  50,
}

// Poster delivers one payload to the API Service
type Poster interface {
	PostReading(ctx context.Context, payload map[string]interface{}) error
}

// Generator creates random sensor payloads
type Generator struct {
	rng        *rand.Rand
	thresholds Thresholds
	// probability of a vibration event per reading
	vibrationRate float64
}

func New(seed uint64) *Generator {
	return &Generator{
		rng:           rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		thresholds:    DefaultThresholds,
		vibrationRate: 0.05,
	}
}

func (g *Generator) between(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

// Next returns one payload carrying every field of the current schema
func (g *Generator) Next() map[string]interface{} {
	vibration := 0.0
	if g.rng.Float64() < g.vibrationRate {
		vibration = 1
	}

	// gravity mostly on z with a random lean
	tilt := g.between(0, 90) * math.Pi / 180
	heading := g.between(0, 2*math.Pi)

	return map[string]interface{}{
		lsmmodels.FieldTemperature:  round(g.between(5, 35), 1),
		lsmmodels.FieldHumidity:     round(g.between(20, 100), 1),
		lsmmodels.FieldSoilMoisture: round(g.between(0, 100), 1),
		lsmmodels.FieldRainStatus:   round(g.between(0, 100), 1),
		lsmmodels.FieldVibration:    vibration,
		lsmmodels.FieldAccelX:       round(math.Sin(tilt)*math.Cos(heading), 3),
		lsmmodels.FieldAccelY:       round(math.Sin(tilt)*math.Sin(heading), 3),
		lsmmodels.FieldAccelZ:       round(math.Cos(tilt), 3),
		lsmmodels.FieldGyroX:        round(g.between(-5, 5), 2),
		lsmmodels.FieldGyroY:        round(g.between(-5, 5), 2),
		lsmmodels.FieldGyroZ:        round(g.between(-5, 5), 2),
	}
}

// Alarms lists the thresholds a payload exceeds
func (g *Generator) Alarms(payload map[string]interface{}) []string {
	var alarms []string
	if v, _ := payload[lsmmodels.FieldRainStatus].(float64); v > g.thresholds.RainStatus {
		alarms = append(alarms, lsmmodels.FieldRainStatus)
	}
	if v, _ := payload[lsmmodels.FieldSoilMoisture].(float64); v > g.thresholds.SoilMoisture {
		alarms = append(alarms, lsmmodels.FieldSoilMoisture)
	}
	if v, _ := payload[lsmmodels.FieldVibration].(float64); v == 1 {
		alarms = append(alarms, lsmmodels.FieldVibration)
	}
	if TiltDegrees(payload) > g.thresholds.TiltDegrees {
		alarms = append(alarms, "tilt")
	}
	return alarms
}

// TiltDegrees is the angle between the measured acceleration and the vertical axis
func TiltDegrees(payload map[string]interface{}) float64 {
	x, _ := payload[lsmmodels.FieldAccelX].(float64)
	y, _ := payload[lsmmodels.FieldAccelY].(float64)
	z, _ := payload[lsmmodels.FieldAccelZ].(float64)
	norm := math.Sqrt(x*x + y*y + z*z)
	if norm == 0 {
		return 0
	}
	return math.Acos(math.Max(-1, math.Min(1, z/norm))) * 180 / math.Pi
}

// Run posts a generated payload every interval until ctx is done. Failed posts are
// logged and the loop continues.
func (g *Generator) Run(ctx context.Context, poster Poster, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sendOnce(ctx, poster, log)
		}
	}
}

func (g *Generator) sendOnce(ctx context.Context, poster Poster, log *logger.Logger) {
	payload := g.Next()
	if alarms := g.Alarms(payload); len(alarms) > 0 {
		log.Logger.Warn().Strs("exceeded", alarms).Msg("A sensor reading has exceeded its threshold, continuing transmission")
	}

	if err := poster.PostReading(ctx, payload); err != nil {
		log.ErrorWithError(err, "Failed to send data")
		return
	}
	log.Logger.Info().Fields(payload).Msg("Sent new sensor data")
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
