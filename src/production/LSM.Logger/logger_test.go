package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	config "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Config"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&config.LoggingConfig{Level: "debug", Format: "json"}, &buf)

	l.WithComponent("sweeper").WithError(errors.New("boom")).Info("sweep failed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "sweeper", entry["component"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "sweep failed", entry["message"])
}

func TestNewWithWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	l.Info("hidden")
	assert.Zero(t, buf.Len())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestNewWithWriter_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&config.LoggingConfig{Level: "chatty", Format: "json"}, &buf)

	l.Debug("hidden")
	l.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestScopedLoggers(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	l.WithService("api").WithSubscriber("sub-1").WithRequestID("req-9").Warn("queue full")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "api", entry["service"])
	assert.Equal(t, "sub-1", entry["subscriber"])
	assert.Equal(t, "req-9", entry["request_id"])
	assert.Equal(t, "warn", entry["level"])
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().WithComponent("x").ErrorWithError(errors.New("ignored"), "discarded")
	})
}
