package lsmmodels

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lsmerrors "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Errors"
)

func TestSchema_CurrentFields(t *testing.T) {
	assert.Equal(t, 3, SchemaVersion())
	assert.Equal(t, []string{
		"temperature", "humidity", "soil_moisture", "rain_status",
		"accel_x", "accel_y", "accel_z",
		"gyro_x", "gyro_y", "gyro_z",
		"vibration",
	}, FieldNames())
}

func TestDecodeFields_PartialPayload(t *testing.T) {
	fields, err := DecodeFields(map[string]interface{}{
		"temperature": 25.0,
		"humidity":    json.Number("60"),
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"temperature": 25, "humidity": 60}, fields)
}

func TestDecodeFields_DropsUnknownAndNull(t *testing.T) {
	fields, err := DecodeFields(map[string]interface{}{
		"foo":         1,
		"temperature": nil,
		"vibration":   true,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"vibration": 1}, fields)
}

func TestDecodeFields_LegacyAliases(t *testing.T) {
	fields, err := DecodeFields(map[string]interface{}{
		"soilMoisture":  42.5,
		"raindrop":      "1",
		"accelX":        -0.25,
		"gyroZ":         3,
		"soil_moisture": 40.0,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{
		"soil_moisture": 40, // canonical key wins
		"rain_status":   1,
		"accel_x":       -0.25,
		"gyro_z":        3,
	}, fields)
}

func TestDecodeFields_NonNumeric(t *testing.T) {
	_, err := DecodeFields(map[string]interface{}{"humidity": "wet"})
	require.Error(t, err)
	assert.True(t, lsmerrors.IsValidation(err))
	assert.Contains(t, err.Error(), "humidity")

	_, err = DecodeFields(map[string]interface{}{"humidity": map[string]interface{}{"v": 1}})
	assert.True(t, lsmerrors.IsValidation(err))
}

func TestReading_JSONShape(t *testing.T) {
	ts := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	r := Reading{
		ID:            "abc",
		Timestamp:     ts,
		SchemaVersion: 3,
		Fields:        map[string]float64{"temperature": 25, "humidity": 60},
	}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "abc", doc["id"])
	assert.Equal(t, "2026-10-18T12:00:00Z", doc["timestamp"])
	assert.Equal(t, 25.0, doc["temperature"])
	assert.Equal(t, 60.0, doc["humidity"])
	for _, name := range []string{"soil_moisture", "rain_status", "vibration", "accel_x", "gyro_z"} {
		v, present := doc[name]
		assert.True(t, present, name)
		assert.Nil(t, v, name)
	}

	var back Reading
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r.ID, back.ID)
	assert.True(t, r.Timestamp.Equal(back.Timestamp))
	assert.Equal(t, r.Fields, back.Fields)
	assert.Equal(t, 3, back.SchemaVersion)
}

func TestReading_Clone(t *testing.T) {
	r := NewReading(map[string]float64{"temperature": 1})
	c := r.Clone()
	c.Fields["temperature"] = 2

	v, ok := r.Value("temperature")
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	_, ok = r.Value("humidity")
	assert.False(t, ok)
}
